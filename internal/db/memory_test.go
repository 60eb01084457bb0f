package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Catalyze-Software/multisig-index/internal/models"
)

func TestClaimTransactionFresh(t *testing.T) {
	store := NewMemoryStore()

	rec, err := store.ClaimTransaction(100, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, uint64(100), rec.SourceBlockIndex)
	assert.Equal(t, "alice", rec.Initiator)
	assert.Nil(t, rec.SourceAmount)
}

func TestClaimTransactionWhilePending(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.ClaimTransaction(100, "alice")
	require.NoError(t, err)

	// 同一索引有 saga 在进行中，不可重复领取
	_, err = store.ClaimTransaction(100, "bob")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestClaimTransactionTerminalStatuses(t *testing.T) {
	store := NewMemoryStore()
	amount := uint64(500)

	for _, tc := range []struct {
		block     uint64
		status    string
		reclaimOK bool
	}{
		{101, models.StatusSuccess, false},
		{102, models.StatusSourceValidationFailed, false},
		{103, models.StatusMintGrantFailed, false},
		{104, models.StatusProvisionFailed, false},
		{105, models.StatusTransferToMintFailed, true},
		{106, models.StatusInsufficientAmount, true},
	} {
		rec, err := store.ClaimTransaction(tc.block, "alice")
		require.NoError(t, err)
		rec.Status = tc.status
		rec.SourceAmount = &amount
		require.NoError(t, store.SaveTransaction(rec))

		again, err := store.ClaimTransaction(tc.block, "alice")
		if !tc.reclaimOK {
			assert.ErrorIs(t, err, ErrAlreadyClaimed, "status %s", tc.status)
			continue
		}
		require.NoError(t, err, "status %s", tc.status)
		assert.Equal(t, models.StatusPending, again.Status)
		assert.Equal(t, tc.status, again.PriorStatus)
		// 回置后保留首次入账的金额
		require.NotNil(t, again.SourceAmount)
		assert.Equal(t, amount, *again.SourceAmount)
	}
}

// 可重试记录只有原发起账户能重新领取，第三方动不了别人的记录
func TestClaimTransactionReclaimRequiresSameInitiator(t *testing.T) {
	store := NewMemoryStore()
	amount := uint64(500)

	rec, err := store.ClaimTransaction(100, "alice")
	require.NoError(t, err)
	rec.Status = models.StatusTransferToMintFailed
	rec.SourceAmount = &amount
	require.NoError(t, store.SaveTransaction(rec))

	_, err = store.ClaimTransaction(100, "mallory")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	// 记录原封不动，alice 自己仍可重试
	kept, err := store.GetTransaction(100)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTransferToMintFailed, kept.Status)

	again, err := store.ClaimTransaction(100, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, again.Status)
	assert.Equal(t, models.StatusTransferToMintFailed, again.PriorStatus)
}

func TestReleaseClaimOnlyFreshPending(t *testing.T) {
	store := NewMemoryStore()

	// 纯探测：未入账的 pending 行可以撤销，不留审计记录
	_, err := store.ClaimTransaction(100, "alice")
	require.NoError(t, err)
	require.NoError(t, store.ReleaseClaim(100))
	_, err = store.GetTransaction(100)
	assert.ErrorIs(t, err, ErrNotFound)

	// 已入账的记录不可撤销
	rec, err := store.ClaimTransaction(101, "alice")
	require.NoError(t, err)
	amount := uint64(500)
	rec.SourceAmount = &amount
	require.NoError(t, store.CreditAndRecord(rec, "alice", models.CurrencyICP, amount))
	require.NoError(t, store.ReleaseClaim(101))
	kept, err := store.GetTransaction(101)
	require.NoError(t, err)
	assert.Equal(t, amount, *kept.SourceAmount)
}

func TestBalanceCreditDebit(t *testing.T) {
	store := NewMemoryStore()
	rec, err := store.ClaimTransaction(100, "alice")
	require.NoError(t, err)

	require.NoError(t, store.CreditAndRecord(rec, "alice", models.CurrencyICP, 700))
	bal, err := store.GetBalance("alice", models.CurrencyICP)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), bal)

	// 超出余额的扣减被拒绝（不允许凭空产生借方）
	err = store.DebitAndRecord(rec, "alice", models.CurrencyICP, 800)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	require.NoError(t, store.DebitAndRecord(rec, "alice", models.CurrencyICP, 700))
	bal, err = store.GetBalance("alice", models.CurrencyICP)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bal)

	// 币种互不影响
	require.NoError(t, store.CreditBalance("alice", models.CurrencyCycles, 42))
	bal, err = store.GetBalance("alice", models.CurrencyICP)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bal)
}

func TestUnitsByGroupFirstMatch(t *testing.T) {
	store := NewMemoryStore()

	require.NoError(t, store.InsertUnit(&models.ProvisionedUnit{UnitID: "unit-1", GroupIdentifier: "grp", CreatedBy: "alice"}))
	require.NoError(t, store.InsertUnit(&models.ProvisionedUnit{UnitID: "unit-2", GroupIdentifier: "grp", CreatedBy: "alice"}))

	unit, err := store.GetUnitByGroup("grp")
	require.NoError(t, err)
	assert.Equal(t, "unit-1", unit.UnitID)

	_, err = store.GetUnitByGroup("other")
	assert.ErrorIs(t, err, ErrNotFound)

	units, err := store.ListUnits()
	require.NoError(t, err)
	assert.Len(t, units, 2)
}

func TestListTransactionsOrderedAndFiltered(t *testing.T) {
	store := NewMemoryStore()
	for _, block := range []uint64{300, 100, 200} {
		rec, err := store.ClaimTransaction(block, "alice")
		require.NoError(t, err)
		if block == 200 {
			rec.Status = models.StatusSuccess
			require.NoError(t, store.SaveTransaction(rec))
		}
	}

	all, err := store.ListTransactions("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(100), all[0].SourceBlockIndex)
	assert.Equal(t, uint64(300), all[2].SourceBlockIndex)

	succeeded, err := store.ListTransactions(models.StatusSuccess)
	require.NoError(t, err)
	require.Len(t, succeeded, 1)
	assert.Equal(t, uint64(200), succeeded[0].SourceBlockIndex)

	max, err := store.MaxSourceBlockIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(300), max)

	count, err := store.CountTransactions()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
