// Package storage defines persistence interfaces for the orchestrator's
// transaction audit trail.
package storage

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/linktum-network/matrix-service/internal/app/domain/txflow"
)

// ErrNotFound is returned when a transaction id is unknown.
var ErrNotFound = errors.New("transaction not found")

// TransactionStore persists orchestrated transaction records through their
// lifecycle. Records are append-then-update: created once in Drafting and
// updated on every state change until terminal.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx txflow.Transaction) (txflow.Transaction, error)
	UpdateTransaction(ctx context.Context, tx txflow.Transaction) (txflow.Transaction, error)
	GetTransaction(ctx context.Context, id string) (txflow.Transaction, error)
	ListTransactions(ctx context.Context, account common.Address, limit int) ([]txflow.Transaction, error)
	// ListUnresolved returns transactions that were submitted but never
	// reached a terminal state, e.g. across a restart.
	ListUnresolved(ctx context.Context) ([]txflow.Transaction, error)
}
