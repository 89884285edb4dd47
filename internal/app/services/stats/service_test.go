package stats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/linktum-network/matrix-service/pkg/logger"
	"github.com/linktum-network/matrix-service/pkg/testutil"
)

// mapStore is an in-memory Store for tests.
type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (m *mapStore) Set(_ context.Context, key string, v interface{}, _ time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *mapStore) Get(_ context.Context, key string, v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return errors.New("miss")
	}
	return json.Unmarshal(data, v)
}

func newStatsService(t *testing.T, store Store) (*Service, *testutil.FakeGateway) {
	t.Helper()
	gw := testutil.NewFakeGateway()
	log := logger.NewDefault("stats-test")
	log.SetOutput(io.Discard)
	return New(gw, store, log), gw
}

func TestRefreshCapturesContractFigures(t *testing.T) {
	svc, gw := newStatsService(t, nil)
	gw.Total = 1234
	gw.Turnover = big.NewInt(5_000_000)

	if _, ok := svc.Current(); ok {
		t.Fatal("snapshot available before first refresh")
	}
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	snap, ok := svc.Current()
	if !ok {
		t.Fatal("no snapshot after refresh")
	}
	if snap.TotalUsers != 1234 {
		t.Fatalf("total users = %d, want 1234", snap.TotalUsers)
	}
	if snap.TotalTurnover != "5000000" {
		t.Fatalf("turnover = %s, want 5000000", snap.TotalTurnover)
	}
	if !snap.ContractActive || snap.TokenSymbol != "LINKTUM" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRefreshPersistsToStore(t *testing.T) {
	store := newMapStore()
	svc, gw := newStatsService(t, store)
	gw.Total = 7

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	var persisted Snapshot
	if err := store.Get(context.Background(), snapshotKey, &persisted); err != nil {
		t.Fatalf("stored snapshot: %v", err)
	}
	if persisted.TotalUsers != 7 {
		t.Fatalf("persisted users = %d, want 7", persisted.TotalUsers)
	}
}

func TestStoredSnapshotServesAsFallback(t *testing.T) {
	store := newMapStore()
	seed := Snapshot{TotalUsers: 99, TotalTurnover: "1", TokenSymbol: "LINKTUM", ObservedAt: time.Now().UTC()}
	if err := store.Set(context.Background(), snapshotKey, seed, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc, _ := newStatsService(t, store)
	svc.loadStored(context.Background())

	snap, ok := svc.Current()
	if !ok || snap.TotalUsers != 99 {
		t.Fatalf("fallback snapshot = %+v ok=%v, want seeded figures", snap, ok)
	}
}
