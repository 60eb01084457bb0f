package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// 账本与铸造服务约定的常量，来自链上网络的固定值，不要改动
const (
	// MemoTopUpUnit 自充值转账的 memo（"TPUP"）
	MemoTopUpUnit uint64 = 1347768404
	// MemoCreateUnit 开通计算单元转账的 memo（"CREA"）
	MemoCreateUnit uint64 = 1095062083
	// DefaultLedgerFee 账本转账手续费（e8s）
	DefaultLedgerFee uint64 = 10000
)

var (
	ErrNoBlock        = errors.New("no block")
	ErrNoOperation    = errors.New("no operation")
	ErrWrongOperation = errors.New("not a transfer")
	ErrWrongSender    = errors.New("transaction not from the given account")
	ErrWrongRecipient = errors.New("transaction not to the receiving account")
	// ErrLedgerRejected 账本拒绝转出（余额不足、参数错误等）
	ErrLedgerRejected = errors.New("ledger rejected transfer")
	// ErrGatewayUnreachable 网关网络不可达
	ErrGatewayUnreachable = errors.New("gateway unreachable")
)

// isValidationErr 判断是否为账本给出的确定否定结论。
// 传输类故障（网关不可达等）不在其列，那些只说明这次没问成
func isValidationErr(err error) bool {
	return errors.Is(err, ErrNoBlock) ||
		errors.Is(err, ErrNoOperation) ||
		errors.Is(err, ErrWrongOperation) ||
		errors.Is(err, ErrWrongSender) ||
		errors.Is(err, ErrWrongRecipient)
}

// LedgerService 外部支付账本客户端：
// 校验入账转账、代表本服务发起转出、查询账本余额。
type LedgerService struct {
	client           *http.Client
	baseURL          string
	receivingAccount string // 本服务的收款账户
}

// NewLedgerService 从配置构造账本客户端（ledger.url / ledger.account）
func NewLedgerService() (*LedgerService, error) {
	baseURL := viper.GetString("ledger.url")
	if baseURL == "" {
		return nil, errors.New("ledger.url is empty in config")
	}
	account := viper.GetString("ledger.account")
	if account == "" {
		return nil, errors.New("ledger.account is empty in config")
	}
	return NewLedgerServiceWith(baseURL, account), nil
}

// NewLedgerServiceWith 直接指定地址构造（测试用）
func NewLedgerServiceWith(baseURL, receivingAccount string) *LedgerService {
	return &LedgerService{
		client:           &http.Client{Timeout: 30 * time.Second},
		baseURL:          baseURL,
		receivingAccount: receivingAccount,
	}
}

// ReceivingAccount 返回本服务在账本上的收款账户
func (s *LedgerService) ReceivingAccount() string {
	return s.receivingAccount
}

type getBlocksArgs struct {
	Start  uint64 `json:"start"`
	Length uint64 `json:"length"`
}

type blockOperation struct {
	Type   string `json:"type"` // "transfer" / "mint" / "burn"
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	Fee    uint64 `json:"fee"`
}

type ledgerBlock struct {
	Transaction struct {
		Operation *blockOperation `json:"operation"`
	} `json:"transaction"`
}

type queryBlocksResponse struct {
	FirstBlockIndex uint64        `json:"first_block_index"`
	Blocks          []ledgerBlock `json:"blocks"`
	ArchivedBlocks  []struct {
		Start       uint64 `json:"start"`
		Length      uint64 `json:"length"`
		CallbackURL string `json:"callback_url"`
	} `json:"archived_blocks"`
}

// ValidateTransaction 校验 blockIndex 处的入账转账：
// 必须是 account 转给本服务收款账户的 transfer 操作。
// 返回转账金额（e8s，不含手续费）。
func (s *LedgerService) ValidateTransaction(ctx context.Context, account string, blockIndex uint64) (uint64, error) {
	block, err := s.getBlock(ctx, blockIndex)
	if err != nil {
		return 0, err
	}
	op := block.Transaction.Operation
	if op == nil {
		return 0, ErrNoOperation
	}
	if op.Type != "transfer" {
		return 0, ErrWrongOperation
	}
	if op.From != account {
		return 0, ErrWrongSender
	}
	if op.To != s.receivingAccount {
		return 0, ErrWrongRecipient
	}
	return op.Amount, nil
}

// getBlock 先查活跃窗口；索引落在归档区间时按回调地址重查归档节点
func (s *LedgerService) getBlock(ctx context.Context, blockIndex uint64) (*ledgerBlock, error) {
	args := getBlocksArgs{Start: blockIndex, Length: 1}
	var resp queryBlocksResponse
	if err := s.postJSON(ctx, s.baseURL+"/query_blocks", args, &resp); err != nil {
		return nil, err
	}
	if len(resp.Blocks) >= 1 && resp.FirstBlockIndex == blockIndex {
		return &resp.Blocks[0], nil
	}

	// 活跃窗口没有命中，检查归档区间
	for _, archived := range resp.ArchivedBlocks {
		if archived.Start <= blockIndex && blockIndex-archived.Start < archived.Length {
			var archResp queryBlocksResponse
			if err := s.postJSON(ctx, archived.CallbackURL, args, &archResp); err != nil {
				return nil, err
			}
			if len(archResp.Blocks) >= 1 {
				return &archResp.Blocks[0], nil
			}
			break
		}
	}
	return nil, ErrNoBlock
}

type transferRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	Fee    uint64 `json:"fee"`
	Memo   uint64 `json:"memo"`
}

type transferResponse struct {
	BlockIndex uint64 `json:"block_index"`
	Error      string `json:"error"`
}

// TransferOut 从本服务账户发起转出，返回产生的区块索引
func (s *LedgerService) TransferOut(ctx context.Context, destination string, amount, fee, memo uint64) (uint64, error) {
	req := transferRequest{To: destination, Amount: amount, Fee: fee, Memo: memo}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transfer", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer httpResp.Body.Close()

	var resp transferResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", ErrGatewayUnreachable, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s", ErrLedgerRejected, resp.Error)
	}
	return resp.BlockIndex, nil
}

// AccountBalance 查询账本上的权威余额（account 为空时查本服务自身账户）
func (s *LedgerService) AccountBalance(ctx context.Context, account string) (uint64, error) {
	if account == "" {
		account = s.receivingAccount
	}
	u := s.baseURL + "/account_balance?account=" + url.QueryEscape(account)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrGatewayUnreachable, httpResp.StatusCode)
	}
	var resp struct {
		E8s uint64 `json:"e8s"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return 0, err
	}
	return resp.E8s, nil
}

// postJSON 发送 JSON 请求并解析响应，网络失败统一归为 ErrGatewayUnreachable
func (s *LedgerService) postJSON(ctx context.Context, u string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrGatewayUnreachable, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
