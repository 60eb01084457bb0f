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

func TestUnitServiceSpawnInstall(t *testing.T) {
	var gotSpawn spawnRequest
	var gotInstall installRequest
	failSpawn := false

	mux := http.NewServeMux()
	mux.HandleFunc("/spawn", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotSpawn))
		// 幂等键必须带上，托管服务靠它去重
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		if failSpawn {
			w.WriteHeader(http.StatusInsufficientStorage)
			_ = json.NewEncoder(w).Encode(spawnResponse{Error: "out of capacity"})
			return
		}
		_ = json.NewEncoder(w).Encode(spawnResponse{UnitID: "unit-7f3a"})
	})
	mux.HandleFunc("/install", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotInstall))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/cycles", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]uint64{"cycles": 314})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc := NewUnitServiceWith(srv.URL, "self")
	ctx := context.Background()

	unitID, err := svc.Spawn(ctx, 7_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, "unit-7f3a", unitID)
	assert.Equal(t, spawnRequest{Cycles: 7_000_000_000, Controller: "self"}, gotSpawn)

	require.NoError(t, svc.Install(ctx, unitID, "alice"))
	assert.Equal(t, installRequest{UnitID: unitID, Owner: "alice"}, gotInstall)

	cycles, err := svc.SelfCycleBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(314), cycles)

	failSpawn = true
	_, err = svc.Spawn(ctx, 1)
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.Contains(t, err.Error(), "out of capacity")
}
