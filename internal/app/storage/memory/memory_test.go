package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/linktum-network/matrix-service/internal/app/domain/txflow"
	"github.com/linktum-network/matrix-service/internal/app/storage"
)

var account = common.HexToAddress("0x00000000000000000000000000000000000000A1")

func draft(level int) txflow.Transaction {
	return txflow.Transaction{
		Kind:    txflow.KindLevelPurchase,
		Account: account,
		Program: 1,
		Level:   level,
		Cost:    big.NewInt(100),
		State:   txflow.StateDrafting,
	}
}

func TestCreateAssignsIDAndTimestamps(t *testing.T) {
	s := New()
	tx, err := s.CreateTransaction(context.Background(), draft(1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.ID == "" {
		t.Fatal("no id assigned")
	}
	if tx.CreatedAt.IsZero() || !tx.CreatedAt.Equal(tx.UpdatedAt) {
		t.Fatalf("timestamps = %v / %v", tx.CreatedAt, tx.UpdatedAt)
	}
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	s := New()
	ctx := context.Background()

	tx, _ := s.CreateTransaction(ctx, draft(1))
	created := tx.CreatedAt

	time.Sleep(time.Millisecond)
	tx.State = txflow.StateConfirming
	tx.CreatedAt = time.Time{} // callers must not be able to clobber it
	updated, err := s.UpdateTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.CreatedAt.Equal(created) {
		t.Fatalf("created at changed: %v -> %v", created, updated.CreatedAt)
	}
	if !updated.UpdatedAt.After(created) {
		t.Fatal("updated at not advanced")
	}

	got, _ := s.GetTransaction(ctx, tx.ID)
	if got.State != txflow.StateConfirming {
		t.Fatalf("state = %s", got.State)
	}
}

func TestNotFound(t *testing.T) {
	s := New()
	if _, err := s.GetTransaction(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing: %v", err)
	}
	if _, err := s.UpdateTransaction(context.Background(), txflow.Transaction{ID: "missing"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}
}

func TestListFiltersAndLimits(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := s.CreateTransaction(ctx, draft(i)); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		time.Sleep(time.Millisecond)
	}
	other := draft(1)
	other.Account = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	if _, err := s.CreateTransaction(ctx, other); err != nil {
		t.Fatalf("create other: %v", err)
	}

	txs, err := s.ListTransactions(ctx, account, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("listed %d, want 3", len(txs))
	}
	// Newest first.
	if txs[0].Level != 3 || txs[2].Level != 1 {
		t.Fatalf("order = %d, %d, %d", txs[0].Level, txs[1].Level, txs[2].Level)
	}

	txs, _ = s.ListTransactions(ctx, account, 2)
	if len(txs) != 2 {
		t.Fatalf("limited list = %d, want 2", len(txs))
	}
}

func TestListUnresolved(t *testing.T) {
	s := New()
	ctx := context.Background()

	states := []txflow.State{
		txflow.StateDrafting, txflow.StateApproving, txflow.StateExecuting,
		txflow.StateConfirming, txflow.StateSucceeded, txflow.StateFailed,
	}
	for i, st := range states {
		tx := draft(i + 1)
		tx.State = st
		if _, err := s.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	unresolved, err := s.ListUnresolved(ctx)
	if err != nil {
		t.Fatalf("list unresolved: %v", err)
	}
	if len(unresolved) != 3 {
		t.Fatalf("unresolved = %d, want 3", len(unresolved))
	}
	for _, tx := range unresolved {
		switch tx.State {
		case txflow.StateApproving, txflow.StateExecuting, txflow.StateConfirming:
		default:
			t.Fatalf("unexpected state %s in unresolved list", tx.State)
		}
	}
}
