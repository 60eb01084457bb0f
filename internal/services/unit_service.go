package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

var (
	// ErrSpawnFailed 创建计算单元失败（cycles 已消耗，单元可能部分创建）
	ErrSpawnFailed = errors.New("spawn unit failed")
	// ErrInstallFailed 程序镜像安装失败（单元保留现场，人工排查）
	ErrInstallFailed = errors.New("install program failed")
)

// UnitService 计算单元托管服务客户端：
// 用 cycles 授予创建隔离的计算单元并安装固定的程序镜像。
type UnitService struct {
	client  *http.Client
	baseURL string
	// controller 新单元的控制账户（本服务自身）
	controller string
}

// NewUnitService 从配置构造（units.url / units.controller）
func NewUnitService() (*UnitService, error) {
	baseURL := viper.GetString("units.url")
	if baseURL == "" {
		return nil, errors.New("units.url is empty in config")
	}
	controller := viper.GetString("units.controller")
	if controller == "" {
		return nil, errors.New("units.controller is empty in config")
	}
	return NewUnitServiceWith(baseURL, controller), nil
}

// NewUnitServiceWith 直接指定地址构造（测试用）
func NewUnitServiceWith(baseURL, controller string) *UnitService {
	return &UnitService{
		// 安装镜像可能较慢，超时放宽
		client:     &http.Client{Timeout: 120 * time.Second},
		baseURL:    baseURL,
		controller: controller,
	}
}

type spawnRequest struct {
	Cycles     uint64 `json:"cycles"`
	Controller string `json:"controller"`
}

type spawnResponse struct {
	UnitID string `json:"unit_id"`
	Error  string `json:"error"`
}

// Spawn 用 cycles 创建新计算单元，返回单元 id。
// 携带幂等键，托管服务重复收到同一请求时不会重复扣 cycles。
func (s *UnitService) Spawn(ctx context.Context, cycles uint64) (string, error) {
	body, err := json.Marshal(spawnRequest{Cycles: cycles, Controller: s.controller})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/spawn", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	httpResp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	defer httpResp.Body.Close()

	var resp spawnResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrSpawnFailed, err)
	}
	if httpResp.StatusCode != http.StatusOK || resp.UnitID == "" {
		return "", fmt.Errorf("%w: %s", ErrSpawnFailed, resp.Error)
	}
	return resp.UnitID, nil
}

type installRequest struct {
	UnitID string `json:"unit_id"`
	Owner  string `json:"owner"` // 付款账户，作为程序的初始化参数
}

// Install 往单元里安装固定的程序镜像（镜像由托管服务持有，这里只传初始化参数）
func (s *UnitService) Install(ctx context.Context, unitID, owner string) error {
	body, err := json.Marshal(installRequest{UnitID: unitID, Owner: owner})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/install", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		var resp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(httpResp.Body).Decode(&resp)
		return fmt.Errorf("%w: %s", ErrInstallFailed, resp.Error)
	}
	return nil
}

// SelfCycleBalance 查询本服务自身当前的 cycles 余额
func (s *UnitService) SelfCycleBalance(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/cycles", nil)
	if err != nil {
		return 0, err
	}
	httpResp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrGatewayUnreachable, httpResp.StatusCode)
	}
	var resp struct {
		Cycles uint64 `json:"cycles"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return 0, err
	}
	return resp.Cycles, nil
}
