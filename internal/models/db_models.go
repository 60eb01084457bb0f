package models

import "gorm.io/gorm"

// 余额表使用的币种
const (
	CurrencyICP    = "icp"    // 账本支付币种（e8s）
	CurrencyCycles = "cycles" // 铸造得到的计算资源
)

// 当前记录编码版本，解码历史数据时据此区分
const SchemaVersionCurrent = 1

// TransactionRecord 每次支付凭证提交对应一条记录（审计日志，只增不删）
type TransactionRecord struct {
	gorm.Model
	SourceBlockIndex uint64  `gorm:"uniqueIndex"` // 入账区块索引（幂等键）
	MintBlockIndex   *uint64 // 转给铸造服务产生的区块索引（人工恢复用）
	SourceAmount     *uint64 // 校验通过的入账金额（e8s，不含手续费）
	GrantedCycles    *uint64 // 铸造服务返回的 cycles 数量
	Initiator        string  `gorm:"size:64;index"` // 发起支付的账户
	Status           string  `gorm:"size:32;default:'pending';index"`
	ErrorMessage     string  `gorm:"size:512"`
	SchemaVersion    uint8   `gorm:"default:1"`

	// PriorStatus 重试领取时回置 pending 前的状态。只在内存里传递，
	// 不落库：瞬时故障要回滚时协调器据此恢复原状态
	PriorStatus string `gorm:"-" json:"-"`
}

// BalanceEntry 账户本地暂存余额（与账本上的权威余额无关），
// 用于跨多次提交累计不足额的支付
type BalanceEntry struct {
	gorm.Model
	Account       string `gorm:"size:64;uniqueIndex:idx_account_currency"`
	Currency      string `gorm:"size:16;uniqueIndex:idx_account_currency"` // "icp" 或 "cycles"
	Amount        uint64
	SchemaVersion uint8 `gorm:"default:1"`
}

// ProvisionedUnit 成功开通的计算单元（每次成功的 saga 写入一条，此后不再修改）
type ProvisionedUnit struct {
	gorm.Model
	UnitID          string `gorm:"uniqueIndex;size:64"`
	GroupIdentifier string `gorm:"index;size:100"` // 不唯一，同组允许多个单元
	CreatedBy       string `gorm:"size:64"`        // 支付发起账户
	SchemaVersion   uint8  `gorm:"default:1"`
}
