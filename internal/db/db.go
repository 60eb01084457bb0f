package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Catalyze-Software/multisig-index/internal/models"
)

var (
	// ErrAlreadyClaimed 同一区块索引已存在不可重试的记录（或有 saga 正在进行）
	ErrAlreadyClaimed = errors.New("block index already claimed")
	// ErrInsufficientBalance 扣减金额超过账户暂存余额
	ErrInsufficientBalance = errors.New("insufficient local balance")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
)

// Store 三张持久表的访问接口。协调器只依赖这个接口，
// 便于用替身实现做测试（生产环境用 GormStore）。
type Store interface {
	// ClaimTransaction 原子领取一个区块索引：
	// 不存在则插入一条 pending 记录；存在、状态可重试且发起账户
	// 与首次一致则回置为 pending（PriorStatus 带出回置前的状态）；
	// 其余情况返回 ErrAlreadyClaimed。必须在任何外部调用之前执行。
	ClaimTransaction(blockIndex uint64, initiator string) (*models.TransactionRecord, error)
	// ReleaseClaim 撤销一次从未入账的领取（纯校验失败的探测请求，
	// 不留审计记录以免垃圾索引污染日志）。只删除尚无入账金额的 pending 行。
	ReleaseClaim(blockIndex uint64) error
	// SaveTransaction 更新交易记录（状态推进）
	SaveTransaction(rec *models.TransactionRecord) error
	// CreditAndRecord 在同一事务内给账户加余额并写入交易记录
	CreditAndRecord(rec *models.TransactionRecord, account, currency string, amount uint64) error
	// DebitAndRecord 在同一事务内扣余额并写入交易记录；余额不足返回 ErrInsufficientBalance
	DebitAndRecord(rec *models.TransactionRecord, account, currency string, amount uint64) error
	// CreditBalance 单独加余额（cycles 自充值入账用）
	CreditBalance(account, currency string, amount uint64) error

	GetTransaction(blockIndex uint64) (*models.TransactionRecord, error)
	ListTransactions(status string) ([]models.TransactionRecord, error)
	GetBalance(account, currency string) (uint64, error)

	InsertUnit(unit *models.ProvisionedUnit) error
	GetUnitByGroup(groupID string) (*models.ProvisionedUnit, error)
	ListUnits() ([]models.ProvisionedUnit, error)

	// MaxSourceBlockIndex 已见过的最大入账区块索引（统计接口用）
	MaxSourceBlockIndex() (uint64, error)
	CountTransactions() (int64, error)
}

// GormStore MySQL 持久化实现
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(conn *gorm.DB) *GormStore {
	return &GormStore{db: conn}
}

// AutoMigrate 建表 / 更新表结构
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.TransactionRecord{},
		&models.BalanceEntry{},
		&models.ProvisionedUnit{},
	)
}

func (s *GormStore) ClaimTransaction(blockIndex uint64, initiator string) (*models.TransactionRecord, error) {
	var rec models.TransactionRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("source_block_index = ?", blockIndex).First(&rec).Error
		if err == nil {
			if !models.IsRetryableStatus(rec.Status) {
				return ErrAlreadyClaimed
			}
			// 只允许原发起账户重试自己的记录，
			// 第三方拿别人的区块索引领取不能动到这条记录
			if rec.Initiator != initiator {
				return ErrAlreadyClaimed
			}
			// 可重试终态回置为 pending，保留已有的金额字段；
			// 原状态留在内存里，瞬时故障时协调器据此回滚
			rec.PriorStatus = rec.Status
			rec.Status = models.StatusPending
			rec.ErrorMessage = ""
			return tx.Save(&rec).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		rec = models.TransactionRecord{
			SourceBlockIndex: blockIndex,
			Initiator:        initiator,
			Status:           models.StatusPending,
			SchemaVersion:    models.SchemaVersionCurrent,
		}
		if err := tx.Create(&rec).Error; err != nil {
			// 唯一索引冲突说明并发提交了同一区块索引
			if isDuplicateKeyErr(err) {
				return ErrAlreadyClaimed
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) ReleaseClaim(blockIndex uint64) error {
	return s.db.
		Where("source_block_index = ? AND status = ? AND source_amount IS NULL",
			blockIndex, models.StatusPending).
		Delete(&models.TransactionRecord{}).Error
}

func (s *GormStore) SaveTransaction(rec *models.TransactionRecord) error {
	return s.db.Save(rec).Error
}

func (s *GormStore) CreditAndRecord(rec *models.TransactionRecord, account, currency string, amount uint64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := adjustBalance(tx, account, currency, amount, false); err != nil {
			return err
		}
		return tx.Save(rec).Error
	})
}

func (s *GormStore) DebitAndRecord(rec *models.TransactionRecord, account, currency string, amount uint64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := adjustBalance(tx, account, currency, amount, true); err != nil {
			return err
		}
		return tx.Save(rec).Error
	})
}

func (s *GormStore) CreditBalance(account, currency string, amount uint64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return adjustBalance(tx, account, currency, amount, false)
	})
}

// adjustBalance 在事务内增减余额，扣减不得使余额为负
func adjustBalance(tx *gorm.DB, account, currency string, amount uint64, debit bool) error {
	var entry models.BalanceEntry
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account = ? AND currency = ?", account, currency).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if debit {
			return ErrInsufficientBalance
		}
		entry = models.BalanceEntry{
			Account:       account,
			Currency:      currency,
			Amount:        amount,
			SchemaVersion: models.SchemaVersionCurrent,
		}
		return tx.Create(&entry).Error
	}
	if err != nil {
		return err
	}
	if debit {
		if entry.Amount < amount {
			return ErrInsufficientBalance
		}
		entry.Amount -= amount
	} else {
		entry.Amount += amount
	}
	return tx.Save(&entry).Error
}

func (s *GormStore) GetTransaction(blockIndex uint64) (*models.TransactionRecord, error) {
	var rec models.TransactionRecord
	err := s.db.Where("source_block_index = ?", blockIndex).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) ListTransactions(status string) ([]models.TransactionRecord, error) {
	var recs []models.TransactionRecord
	q := s.db.Order("source_block_index ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	return recs, q.Find(&recs).Error
}

func (s *GormStore) GetBalance(account, currency string) (uint64, error) {
	var entry models.BalanceEntry
	err := s.db.Where("account = ? AND currency = ?", account, currency).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return entry.Amount, nil
}

func (s *GormStore) InsertUnit(unit *models.ProvisionedUnit) error {
	return s.db.Create(unit).Error
}

// GetUnitByGroup 按组查询，只返回第一条（同组允许多个单元）
func (s *GormStore) GetUnitByGroup(groupID string) (*models.ProvisionedUnit, error) {
	var unit models.ProvisionedUnit
	err := s.db.Where("group_identifier = ?", groupID).
		Order("id ASC").First(&unit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

func (s *GormStore) ListUnits() ([]models.ProvisionedUnit, error) {
	var units []models.ProvisionedUnit
	return units, s.db.Order("id ASC").Find(&units).Error
}

func (s *GormStore) MaxSourceBlockIndex() (uint64, error) {
	var max uint64
	err := s.db.Model(&models.TransactionRecord{}).
		Select("COALESCE(MAX(source_block_index), 0)").Scan(&max).Error
	return max, err
}

func (s *GormStore) CountTransactions() (int64, error) {
	var count int64
	err := s.db.Model(&models.TransactionRecord{}).Count(&count).Error
	return count, err
}

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// MySQL 1062
	return strings.Contains(err.Error(), "Duplicate entry")
}
