package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Catalyze-Software/multisig-index/internal/db"
	"github.com/Catalyze-Software/multisig-index/internal/models"
	"github.com/Catalyze-Software/multisig-index/utils"
)

var (
	// ErrInsufficientAmount 累计余额不足最低开通费用（余额保留，可补款后重试）
	ErrInsufficientAmount = errors.New("insufficient amount")
	// ErrTransferToMintFailed 向铸造服务转账失败（资金未离开本服务，可重试）
	ErrTransferToMintFailed = errors.New("transfer to mint failed")
	// ErrMintGrantFailed 铸造失败（资金已转出，需人工恢复）
	ErrMintGrantFailed = errors.New("mint grant failed")
	// ErrProvisionFailed 创建或安装计算单元失败（cycles 已消耗）
	ErrProvisionFailed = errors.New("provision failed")
)

// LedgerGateway 支付账本客户端接口（生产实现为 LedgerService）
type LedgerGateway interface {
	ValidateTransaction(ctx context.Context, account string, blockIndex uint64) (uint64, error)
	TransferOut(ctx context.Context, destination string, amount, fee, memo uint64) (uint64, error)
	AccountBalance(ctx context.Context, account string) (uint64, error)
}

// MintGateway 铸造服务客户端接口（生产实现为 MintService）
type MintGateway interface {
	NotifyTopUp(ctx context.Context, blockIndex uint64) (uint64, error)
	CollectionAccount() string
}

// UnitGateway 计算单元托管服务客户端接口（生产实现为 UnitService）
type UnitGateway interface {
	Spawn(ctx context.Context, cycles uint64) (string, error)
	Install(ctx context.Context, unitID, owner string) error
	SelfCycleBalance(ctx context.Context) (uint64, error)
}

// ProvisionConfig saga 的费用参数
type ProvisionConfig struct {
	MinimumCost uint64 // 开通一个计算单元的最低费用（e8s）
	PlatformFee uint64 // 平台抽成（e8s）
	LedgerFee   uint64 // 账本转账手续费（e8s）
	FeeAccount  string // 平台抽成的收款账户
	SelfAccount string // 本服务自身账户（cycles 余额记账用）
}

// NewProvisionConfig 从配置读取费用参数。
// 最低费用必须大于手续费与抽成之和，否则拆分金额无法成立，启动即报错
func NewProvisionConfig() (ProvisionConfig, error) {
	fee := viper.GetUint64("ledger.fee")
	if fee == 0 {
		fee = DefaultLedgerFee
	}
	cfg := ProvisionConfig{
		MinimumCost: viper.GetUint64("provision.minimum_cost"),
		PlatformFee: viper.GetUint64("provision.platform_fee"),
		LedgerFee:   fee,
		FeeAccount:  viper.GetString("provision.fee_account"),
		SelfAccount: viper.GetString("units.controller"),
	}
	if cfg.MinimumCost <= cfg.LedgerFee+cfg.PlatformFee {
		return ProvisionConfig{}, fmt.Errorf(
			"provision.minimum_cost %d 必须大于 ledger.fee %d 与 provision.platform_fee %d 之和",
			cfg.MinimumCost, cfg.LedgerFee, cfg.PlatformFee)
	}
	return cfg, nil
}

// ProvisionService 开通协调器：串起校验→转账→铸造→创建→安装整条流程，
// 每一步的边界都落库，失败状态可单独诊断、按策略恢复。
type ProvisionService struct {
	store  db.Store
	ledger LedgerGateway
	mint   MintGateway
	units  UnitGateway
	cfg    ProvisionConfig
	log    *utils.Logger
}

func NewProvisionService(store db.Store, ledger LedgerGateway, mint MintGateway, units UnitGateway, cfg ProvisionConfig) *ProvisionService {
	return &ProvisionService{
		store:  store,
		ledger: ledger,
		mint:   mint,
		units:  units,
		cfg:    cfg,
		log:    utils.DefaultLogger,
	}
}

// Provision 用 blockIndex 处的入账支付开通一个新计算单元。
// 返回新单元 id。失败时记录对应终态并返回可判别的错误。
func (s *ProvisionService) Provision(ctx context.Context, caller string, blockIndex uint64, groupID string) (string, error) {
	// 领取：原子插入 pending 行（或回置可重试终态），
	// 任何外部调用之前完成，杜绝同一区块索引的并发双花
	rec, err := s.store.ClaimTransaction(blockIndex, caller)
	if err != nil {
		if errors.Is(err, db.ErrAlreadyClaimed) {
			return "", ErrAlreadyProcessed
		}
		return "", err
	}

	// 校验入账转账
	amount, err := s.validateAndCredit(ctx, rec, caller, blockIndex)
	if err != nil {
		return "", err
	}

	// 累计余额达到最低开通费用才继续；不足时余额保留，等待补款重试
	balance, err := s.store.GetBalance(caller, models.CurrencyICP)
	if err != nil {
		return "", err
	}
	if balance < s.cfg.MinimumCost {
		rec.Status = models.StatusInsufficientAmount
		rec.ErrorMessage = fmt.Sprintf("accumulated balance %d e8s below minimum cost %d e8s", balance, s.cfg.MinimumCost)
		if err := s.store.SaveTransaction(rec); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %s", ErrInsufficientAmount, rec.ErrorMessage)
	}

	// 拆分金额
	provisionAmount := s.cfg.MinimumCost - s.cfg.LedgerFee - s.cfg.PlatformFee

	// 向铸造服务的收款账户转出
	mintBlock, err := s.ledger.TransferOut(ctx, s.mint.CollectionAccount(), provisionAmount, s.cfg.LedgerFee, MemoCreateUnit)
	if err != nil {
		rec.Status = models.StatusTransferToMintFailed
		rec.ErrorMessage = err.Error()
		if saveErr := s.store.SaveTransaction(rec); saveErr != nil {
			return "", saveErr
		}
		return "", fmt.Errorf("%w: %v", ErrTransferToMintFailed, err)
	}

	// 转账成功后扣减全部已校验金额（多付部分不结转，政策待产品确认）
	rec.MintBlockIndex = &mintBlock
	if err := s.store.DebitAndRecord(rec, caller, models.CurrencyICP, amount); err != nil {
		// 资金已转出，账目问题只记录不中断
		s.log.Error("扣减本地余额失败 block=%d: %v", blockIndex, err)
	}

	// 通知铸造，换取 cycles；失败不自动重试（资金已离开本服务账户）
	cycles, err := s.mint.NotifyTopUp(ctx, mintBlock)
	if err != nil {
		rec.Status = models.StatusMintGrantFailed
		rec.ErrorMessage = fmt.Sprintf("mint block %d: %v", mintBlock, err)
		if saveErr := s.store.SaveTransaction(rec); saveErr != nil {
			return "", saveErr
		}
		return "", fmt.Errorf("%w: %v", ErrMintGrantFailed, err)
	}

	// 铸造成功即记 success，再尝试创建并安装计算单元
	rec.GrantedCycles = &cycles
	rec.Status = models.StatusSuccess
	rec.ErrorMessage = ""
	if err := s.store.SaveTransaction(rec); err != nil {
		return "", err
	}

	unitID, err := s.units.Spawn(ctx, cycles)
	if err != nil {
		return "", s.failProvision(rec, fmt.Sprintf("spawn: %v", err))
	}
	if err := s.units.Install(ctx, unitID, caller); err != nil {
		// 单元保留现场，人工排查；错误信息带上单元 id
		return "", s.failProvision(rec, fmt.Sprintf("install unit %s: %v", unitID, err))
	}

	unit := &models.ProvisionedUnit{
		UnitID:          unitID,
		GroupIdentifier: groupID,
		CreatedBy:       caller,
		SchemaVersion:   models.SchemaVersionCurrent,
	}
	if err := s.store.InsertUnit(unit); err != nil {
		return "", s.failProvision(rec, fmt.Sprintf("register unit %s: %v", unitID, err))
	}

	// 平台抽成转账，尽力而为：失败只记日志，不影响已落库的 success
	go s.settlePlatformFee(blockIndex)

	return unitID, nil
}

// TopUpSelf 自充值：用入账支付给本服务自身换 cycles，
// 不走创建/安装，也不设最低金额门槛和平台抽成。
func (s *ProvisionService) TopUpSelf(ctx context.Context, caller string, blockIndex uint64) (uint64, error) {
	rec, err := s.store.ClaimTransaction(blockIndex, caller)
	if err != nil {
		if errors.Is(err, db.ErrAlreadyClaimed) {
			return 0, ErrAlreadyProcessed
		}
		return 0, err
	}

	amount, err := s.validateAndCredit(ctx, rec, caller, blockIndex)
	if err != nil {
		return 0, err
	}

	// 全额转给铸造服务（手续费由本服务账本余额承担）
	mintBlock, err := s.ledger.TransferOut(ctx, s.mint.CollectionAccount(), amount, s.cfg.LedgerFee, MemoTopUpUnit)
	if err != nil {
		rec.Status = models.StatusTransferToMintFailed
		rec.ErrorMessage = err.Error()
		if saveErr := s.store.SaveTransaction(rec); saveErr != nil {
			return 0, saveErr
		}
		return 0, fmt.Errorf("%w: %v", ErrTransferToMintFailed, err)
	}

	rec.MintBlockIndex = &mintBlock
	if err := s.store.DebitAndRecord(rec, caller, models.CurrencyICP, amount); err != nil {
		s.log.Error("扣减本地余额失败 block=%d: %v", blockIndex, err)
	}

	cycles, err := s.mint.NotifyTopUp(ctx, mintBlock)
	if err != nil {
		rec.Status = models.StatusMintGrantFailed
		rec.ErrorMessage = fmt.Sprintf("mint block %d: %v", mintBlock, err)
		if saveErr := s.store.SaveTransaction(rec); saveErr != nil {
			return 0, saveErr
		}
		return 0, fmt.Errorf("%w: %v", ErrMintGrantFailed, err)
	}

	rec.GrantedCycles = &cycles
	rec.Status = models.StatusSuccess
	rec.ErrorMessage = ""
	if err := s.store.SaveTransaction(rec); err != nil {
		return 0, err
	}

	// 记一笔本服务自身的 cycles 余额，网关不可达时查询接口可降级使用
	if err := s.store.CreditBalance(s.cfg.SelfAccount, models.CurrencyCycles, cycles); err != nil {
		s.log.Warn("记录 cycles 余额失败: %v", err)
	}

	return cycles, nil
}

// validateAndCredit 校验入账并把金额记入付款账户的暂存余额。
// 纯探测失败（首次领取且从未入账）不留审计记录；
// 重试已有记录时，只有账本给出确定否定结论才落终态
// source_validation_failed，传输类故障回滚到领取前的可重试状态。
// 同一区块索引的金额只入账一次：重试路径上不再重复加余额。
func (s *ProvisionService) validateAndCredit(ctx context.Context, rec *models.TransactionRecord, caller string, blockIndex uint64) (uint64, error) {
	amount, err := s.ledger.ValidateTransaction(ctx, caller, blockIndex)
	if err != nil {
		if rec.SourceAmount == nil {
			if relErr := s.store.ReleaseClaim(blockIndex); relErr != nil {
				s.log.Warn("撤销领取失败 block=%d: %v", blockIndex, relErr)
			}
			return 0, err
		}
		if !isValidationErr(err) {
			// 网关没问成不是校验结论，不能把已入账的记录写死；
			// 恢复原可重试状态，等故障过去再重试
			if models.IsRetryableStatus(rec.PriorStatus) {
				rec.Status = rec.PriorStatus
				rec.ErrorMessage = err.Error()
				if saveErr := s.store.SaveTransaction(rec); saveErr != nil {
					return 0, saveErr
				}
			}
			return 0, err
		}
		rec.Status = models.StatusSourceValidationFailed
		rec.ErrorMessage = err.Error()
		if saveErr := s.store.SaveTransaction(rec); saveErr != nil {
			return 0, saveErr
		}
		return 0, err
	}

	if rec.SourceAmount == nil {
		rec.SourceAmount = &amount
		if err := s.store.CreditAndRecord(rec, caller, models.CurrencyICP, amount); err != nil {
			return 0, err
		}
		return amount, nil
	}
	// 重试：沿用首次校验入账的金额
	return *rec.SourceAmount, nil
}

// failProvision 记录 provision_failed 终态（cycles 已消耗，不自动清理）
func (s *ProvisionService) failProvision(rec *models.TransactionRecord, msg string) error {
	rec.Status = models.StatusProvisionFailed
	rec.ErrorMessage = msg
	if err := s.store.SaveTransaction(rec); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrProvisionFailed, msg)
}

// settlePlatformFee 平台抽成结算。独立于 saga 结果，失败只记日志。
func (s *ProvisionService) settlePlatformFee(blockIndex uint64) {
	if s.cfg.PlatformFee == 0 || s.cfg.FeeAccount == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if _, err := s.ledger.TransferOut(ctx, s.cfg.FeeAccount, s.cfg.PlatformFee, s.cfg.LedgerFee, 0); err != nil {
		s.log.Warn("平台抽成转账失败 block=%d: %v", blockIndex, err)
		return
	}
	s.log.Info("平台抽成已结算 block=%d amount=%d", blockIndex, s.cfg.PlatformFee)
}

// CycleBalance 本服务自身 cycles 余额：优先问托管服务，
// 网关不可达时退回本地累计值
func (s *ProvisionService) CycleBalance(ctx context.Context) (uint64, error) {
	cycles, err := s.units.SelfCycleBalance(ctx)
	if err == nil {
		return cycles, nil
	}
	s.log.Warn("查询托管服务 cycles 余额失败，使用本地累计值: %v", err)
	return s.store.GetBalance(s.cfg.SelfAccount, models.CurrencyCycles)
}
