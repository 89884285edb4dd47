// Package memory is an in-memory TransactionStore for tests and local
// development. It is safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/linktum-network/matrix-service/internal/app/domain/txflow"
	"github.com/linktum-network/matrix-service/internal/app/storage"
)

// Store holds transaction records in a map.
type Store struct {
	mu  sync.RWMutex
	txs map[string]txflow.Transaction
}

var _ storage.TransactionStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{txs: make(map[string]txflow.Transaction)}
}

func (s *Store) CreateTransaction(_ context.Context, tx txflow.Transaction) (txflow.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	s.txs[tx.ID] = tx
	return tx, nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx txflow.Transaction) (txflow.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.txs[tx.ID]
	if !ok {
		return txflow.Transaction{}, storage.ErrNotFound
	}
	tx.CreatedAt = existing.CreatedAt
	tx.UpdatedAt = time.Now().UTC()
	s.txs[tx.ID] = tx
	return tx, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (txflow.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[id]
	if !ok {
		return txflow.Transaction{}, storage.ErrNotFound
	}
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, account common.Address, limit int) ([]txflow.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []txflow.Transaction
	for _, tx := range s.txs {
		if tx.Account == account {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListUnresolved(_ context.Context) ([]txflow.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []txflow.Transaction
	for _, tx := range s.txs {
		switch tx.State {
		case txflow.StateApproving, txflow.StateExecuting, txflow.StateConfirming:
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
