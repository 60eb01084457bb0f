package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrAlreadyProcessed 该区块索引已被处理过（铸造服务自身保证幂等）
	ErrAlreadyProcessed = errors.New("block index already processed")
	// ErrInvalidTransfer 转账不是发给铸造服务的有效充值
	ErrInvalidTransfer = errors.New("invalid transfer for minting")
)

// MintService 外部铸造服务客户端：
// 通知它某个区块索引是转给它的充值，换取 cycles 授予。
type MintService struct {
	client  *http.Client
	baseURL string
	// collectionAccount 铸造服务在账本上的收款账户（转出目标）
	collectionAccount string
}

// NewMintService 从配置构造铸造服务客户端（mint.url / mint.account）
func NewMintService() (*MintService, error) {
	baseURL := viper.GetString("mint.url")
	if baseURL == "" {
		return nil, errors.New("mint.url is empty in config")
	}
	account := viper.GetString("mint.account")
	if account == "" {
		return nil, errors.New("mint.account is empty in config")
	}
	return NewMintServiceWith(baseURL, account), nil
}

// NewMintServiceWith 直接指定地址构造（测试用）
func NewMintServiceWith(baseURL, collectionAccount string) *MintService {
	return &MintService{
		client:            &http.Client{Timeout: 30 * time.Second},
		baseURL:           baseURL,
		collectionAccount: collectionAccount,
	}
}

// CollectionAccount 返回铸造服务的收款账户
func (s *MintService) CollectionAccount() string {
	return s.collectionAccount
}

type notifyTopUpRequest struct {
	BlockIndex uint64 `json:"block_index"`
}

type notifyTopUpResponse struct {
	Cycles uint64 `json:"cycles"`
	Error  string `json:"error"` // "already_processed" / "invalid_transfer" / 其他
}

// NotifyTopUp 通知铸造服务 blockIndex 是发给它的转账，返回铸造的 cycles 数量。
// 协调器不会自动重试这里的失败：账本侧资金已经转出，
// 失败必须连同 mint 区块索引一起落库，留待人工恢复。
func (s *MintService) NotifyTopUp(ctx context.Context, blockIndex uint64) (uint64, error) {
	body, err := json.Marshal(notifyTopUpRequest{BlockIndex: blockIndex})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/notify_top_up", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer httpResp.Body.Close()

	var resp notifyTopUpResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", ErrGatewayUnreachable, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		switch resp.Error {
		case "already_processed":
			return 0, ErrAlreadyProcessed
		case "invalid_transfer":
			return 0, ErrInvalidTransfer
		default:
			return 0, fmt.Errorf("mint rejected: %s", resp.Error)
		}
	}
	return resp.Cycles, nil
}
