package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const receiving = "service-account"

// newLedgerServer 起一个假账本：blocks 按索引提供活跃窗口区块，
// archived 的索引通过归档回调地址提供
func newLedgerServer(t *testing.T, blocks map[uint64]ledgerBlock, archived map[uint64]ledgerBlock) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/query_blocks", func(w http.ResponseWriter, r *http.Request) {
		var args getBlocksArgs
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))

		var resp queryBlocksResponse
		if block, ok := blocks[args.Start]; ok {
			resp.FirstBlockIndex = args.Start
			resp.Blocks = []ledgerBlock{block}
		} else if _, ok := archived[args.Start]; ok {
			resp.ArchivedBlocks = []struct {
				Start       uint64 `json:"start"`
				Length      uint64 `json:"length"`
				CallbackURL string `json:"callback_url"`
			}{{Start: args.Start, Length: 1, CallbackURL: srv.URL + "/archive"}}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	mux.HandleFunc("/archive", func(w http.ResponseWriter, r *http.Request) {
		var args getBlocksArgs
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		var resp queryBlocksResponse
		if block, ok := archived[args.Start]; ok {
			resp.Blocks = []ledgerBlock{block}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func transferBlock(from, to string, amount uint64) ledgerBlock {
	var block ledgerBlock
	block.Transaction.Operation = &blockOperation{
		Type: "transfer", From: from, To: to, Amount: amount, Fee: 10_000,
	}
	return block
}

func TestValidateTransaction(t *testing.T) {
	noOp := ledgerBlock{}
	mintOp := ledgerBlock{}
	mintOp.Transaction.Operation = &blockOperation{Type: "mint", To: receiving, Amount: 5}

	srv := newLedgerServer(t, map[uint64]ledgerBlock{
		10: transferBlock("alice", receiving, 1_000_000),
		11: noOp,
		12: mintOp,
		13: transferBlock("mallory", receiving, 1_000_000),
		14: transferBlock("alice", "someone-else", 1_000_000),
	}, nil)
	svc := NewLedgerServiceWith(srv.URL, receiving)
	ctx := context.Background()

	amount, err := svc.ValidateTransaction(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), amount)

	// 重复校验结果一致（账本不变时读是幂等的）
	again, err := svc.ValidateTransaction(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, amount, again)

	_, err = svc.ValidateTransaction(ctx, "alice", 11)
	assert.ErrorIs(t, err, ErrNoOperation)
	_, err = svc.ValidateTransaction(ctx, "alice", 12)
	assert.ErrorIs(t, err, ErrWrongOperation)
	_, err = svc.ValidateTransaction(ctx, "alice", 13)
	assert.ErrorIs(t, err, ErrWrongSender)
	_, err = svc.ValidateTransaction(ctx, "alice", 14)
	assert.ErrorIs(t, err, ErrWrongRecipient)
	_, err = svc.ValidateTransaction(ctx, "alice", 999)
	assert.ErrorIs(t, err, ErrNoBlock)
}

func TestValidateTransactionArchivedBlock(t *testing.T) {
	// 活跃窗口为空，索引 5 落在归档区间，需要按回调地址重查
	srv := newLedgerServer(t, nil, map[uint64]ledgerBlock{
		5: transferBlock("alice", receiving, 777),
	})
	svc := NewLedgerServiceWith(srv.URL, receiving)

	amount, err := svc.ValidateTransaction(context.Background(), "alice", 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(777), amount)
}

func TestTransferOut(t *testing.T) {
	mux := http.NewServeMux()
	var gotReq transferRequest
	reject := false
	mux.HandleFunc("/transfer", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		if reject {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(transferResponse{Error: "insufficient funds"})
			return
		}
		_ = json.NewEncoder(w).Encode(transferResponse{BlockIndex: 42})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc := NewLedgerServiceWith(srv.URL, receiving)
	blockIndex, err := svc.TransferOut(context.Background(), "mint-collection", 940_000, 10_000, MemoCreateUnit)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), blockIndex)
	assert.Equal(t, transferRequest{To: "mint-collection", Amount: 940_000, Fee: 10_000, Memo: MemoCreateUnit}, gotReq)

	reject = true
	_, err = svc.TransferOut(context.Background(), "mint-collection", 940_000, 10_000, MemoCreateUnit)
	assert.ErrorIs(t, err, ErrLedgerRejected)

	// 节点挂掉归为网关不可达
	srv.Close()
	_, err = svc.TransferOut(context.Background(), "mint-collection", 940_000, 10_000, MemoCreateUnit)
	assert.ErrorIs(t, err, ErrGatewayUnreachable)
}

func TestAccountBalance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/account_balance", func(w http.ResponseWriter, r *http.Request) {
		account := r.URL.Query().Get("account")
		balance := uint64(100)
		if account == receiving {
			balance = 500
		}
		_ = json.NewEncoder(w).Encode(map[string]uint64{"e8s": balance})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc := NewLedgerServiceWith(srv.URL, receiving)
	balance, err := svc.AccountBalance(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), balance)

	// account 为空时查本服务自身账户
	balance, err = svc.AccountBalance(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), balance)
}
