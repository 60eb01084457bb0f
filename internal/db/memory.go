package db

import (
	"sort"
	"sync"

	"github.com/Catalyze-Software/multisig-index/internal/models"
)

// MemoryStore Store 的内存实现，协调器测试和本地联调用。
// 所有操作在同一把锁下执行，领取语义与 GormStore 等价。
type MemoryStore struct {
	mu       sync.Mutex
	txs      map[uint64]*models.TransactionRecord
	balances map[string]uint64 // key: account + "/" + currency
	units    []models.ProvisionedUnit
	nextID   uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:      make(map[uint64]*models.TransactionRecord),
		balances: make(map[string]uint64),
		nextID:   1,
	}
}

func balanceKey(account, currency string) string {
	return account + "/" + currency
}

func (s *MemoryStore) ClaimTransaction(blockIndex uint64, initiator string) (*models.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.txs[blockIndex]; ok {
		if !models.IsRetryableStatus(rec.Status) {
			return nil, ErrAlreadyClaimed
		}
		if rec.Initiator != initiator {
			return nil, ErrAlreadyClaimed
		}
		prior := rec.Status
		rec.Status = models.StatusPending
		rec.ErrorMessage = ""
		cp := *rec
		cp.PriorStatus = prior
		return &cp, nil
	}
	rec := &models.TransactionRecord{
		SourceBlockIndex: blockIndex,
		Initiator:        initiator,
		Status:           models.StatusPending,
		SchemaVersion:    models.SchemaVersionCurrent,
	}
	rec.ID = s.nextID
	s.nextID++
	s.txs[blockIndex] = rec
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ReleaseClaim(blockIndex uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.txs[blockIndex]
	if ok && rec.Status == models.StatusPending && rec.SourceAmount == nil {
		delete(s.txs, blockIndex)
	}
	return nil
}

func (s *MemoryStore) SaveTransaction(rec *models.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.PriorStatus = "" // gorm:"-" 字段不落库，这里保持一致
	s.txs[rec.SourceBlockIndex] = &cp
	return nil
}

func (s *MemoryStore) CreditAndRecord(rec *models.TransactionRecord, account, currency string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey(account, currency)] += amount
	cp := *rec
	cp.PriorStatus = ""
	s.txs[rec.SourceBlockIndex] = &cp
	return nil
}

func (s *MemoryStore) DebitAndRecord(rec *models.TransactionRecord, account, currency string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := balanceKey(account, currency)
	if s.balances[key] < amount {
		return ErrInsufficientBalance
	}
	s.balances[key] -= amount
	cp := *rec
	cp.PriorStatus = ""
	s.txs[rec.SourceBlockIndex] = &cp
	return nil
}

func (s *MemoryStore) CreditBalance(account, currency string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey(account, currency)] += amount
	return nil
}

func (s *MemoryStore) GetTransaction(blockIndex uint64) (*models.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.txs[blockIndex]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListTransactions(status string) ([]models.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []models.TransactionRecord
	for _, rec := range s.txs {
		if status == "" || rec.Status == status {
			recs = append(recs, *rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].SourceBlockIndex < recs[j].SourceBlockIndex
	})
	return recs, nil
}

func (s *MemoryStore) GetBalance(account, currency string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[balanceKey(account, currency)], nil
}

func (s *MemoryStore) InsertUnit(unit *models.ProvisionedUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unit.ID = s.nextID
	s.nextID++
	s.units = append(s.units, *unit)
	return nil
}

func (s *MemoryStore) GetUnitByGroup(groupID string) (*models.ProvisionedUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.units {
		if s.units[i].GroupIdentifier == groupID {
			cp := s.units[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListUnits() ([]models.ProvisionedUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	units := make([]models.ProvisionedUnit, len(s.units))
	copy(units, s.units)
	return units, nil
}

func (s *MemoryStore) MaxSourceBlockIndex() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max uint64
	for idx := range s.txs {
		if idx > max {
			max = idx
		}
	}
	return max, nil
}

func (s *MemoryStore) CountTransactions() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.txs)), nil
}
