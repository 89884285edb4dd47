package orchestrator

import (
	"context"
	"errors"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/linktum-network/matrix-service/internal/app/domain/matrix"
	"github.com/linktum-network/matrix-service/internal/app/domain/txflow"
	"github.com/linktum-network/matrix-service/internal/app/storage/memory"
	"github.com/linktum-network/matrix-service/pkg/logger"
	"github.com/linktum-network/matrix-service/pkg/testutil"
)

var (
	referrer = common.HexToAddress("0x00000000000000000000000000000000000000B2")
	tokens   = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func amount(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), tokens)
}

func newService(t *testing.T) (*Service, *testutil.FakeGateway, *memory.Store) {
	t.Helper()
	gw := testutil.NewFakeGateway()
	store := memory.New()
	log := logger.NewDefault("orchestrator-test")
	log.SetOutput(io.Discard)
	return New(gw, store, log), gw, store
}

func TestRegistrationWithApproval(t *testing.T) {
	svc, gw, _ := newService(t)
	ctx := context.Background()

	gw.Registered[referrer] = true
	gw.Balances[gw.Signer] = amount(100)

	tx, err := svc.DraftRegistration(ctx, referrer)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	// Registration costs twice the level-1 price of 5 tokens.
	if tx.Cost.Cmp(amount(10)) != 0 {
		t.Fatalf("registration cost = %s, want 10 tokens", tx.Cost)
	}

	tx, err = svc.Run(ctx, tx.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if tx.State != txflow.StateSucceeded {
		t.Fatalf("state = %s, want %s (reason %s, detail %q)", tx.State, txflow.StateSucceeded, tx.Reason, tx.Detail)
	}
	if tx.ApproveTxHash == "" || tx.ExecuteTxHash == "" {
		t.Fatalf("missing tx hashes: approve=%q execute=%q", tx.ApproveTxHash, tx.ExecuteTxHash)
	}

	if len(gw.Approvals) != 1 || gw.Approvals[0].Cmp(amount(10)) != 0 {
		t.Fatalf("approvals = %v, want exactly one for 10 tokens", gw.Approvals)
	}
	if len(gw.Registrations) != 1 || gw.Registrations[0] != referrer {
		t.Fatalf("registrations = %v, want one for %s", gw.Registrations, referrer.Hex())
	}
	if !gw.Registered[gw.Signer] {
		t.Fatal("signer not registered after confirmed run")
	}
}

func TestPurchaseSkipsApprovalWhenAllowanceCovers(t *testing.T) {
	svc, gw, _ := newService(t)
	ctx := context.Background()

	gw.Registered[gw.Signer] = true
	gw.SetActiveLevels(gw.Signer, matrix.ProgramX4, 1)
	gw.Balances[gw.Signer] = amount(100)
	gw.Allowances[gw.Signer] = amount(100)

	tx, err := svc.DraftLevelPurchase(ctx, matrix.ProgramX4, 2)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	tx, err = svc.Prepare(ctx, tx.ID)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if tx.State != txflow.StateAwaitingExecute {
		t.Fatalf("state = %s, want %s", tx.State, txflow.StateAwaitingExecute)
	}

	tx, err = svc.Execute(ctx, tx.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if tx.State != txflow.StateSucceeded {
		t.Fatalf("state = %s, want %s", tx.State, txflow.StateSucceeded)
	}
	if len(gw.Approvals) != 0 {
		t.Fatalf("unexpected approval writes: %v", gw.Approvals)
	}
	if len(gw.Purchases) != 1 || gw.Purchases[0] != [2]int{1, 2} {
		t.Fatalf("purchases = %v, want [[1 2]]", gw.Purchases)
	}
}

func TestPurchaseGating(t *testing.T) {
	cases := []struct {
		name    string
		level   int
		active  int
		balance *big.Int
		reason  txflow.Reason
	}{
		{"already active", 2, 2, amount(1000), txflow.ReasonAlreadyActive},
		{"previous level inactive", 4, 2, amount(1000), txflow.ReasonPreviousLevelInactive},
		{"insufficient balance", 3, 2, amount(1), txflow.ReasonInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, gw, _ := newService(t)
			ctx := context.Background()

			gw.Registered[gw.Signer] = true
			gw.SetActiveLevels(gw.Signer, matrix.ProgramXXX, tc.active)
			gw.Balances[gw.Signer] = tc.balance

			tx, err := svc.DraftLevelPurchase(ctx, matrix.ProgramXXX, tc.level)
			if err != nil {
				t.Fatalf("draft: %v", err)
			}
			tx, err = svc.Prepare(ctx, tx.ID)
			if err == nil {
				t.Fatal("prepare succeeded, want gating failure")
			}
			if tx.State != txflow.StateFailed {
				t.Fatalf("state = %s, want %s", tx.State, txflow.StateFailed)
			}
			if tx.Reason != tc.reason {
				t.Fatalf("reason = %s, want %s", tx.Reason, tc.reason)
			}
			if len(gw.Purchases) != 0 || len(gw.Approvals) != 0 {
				t.Fatal("gating failure must not submit any write")
			}
		})
	}
}

func TestBalanceEqualToCostPasses(t *testing.T) {
	svc, gw, _ := newService(t)
	ctx := context.Background()

	gw.Registered[gw.Signer] = true
	gw.SetActiveLevels(gw.Signer, matrix.ProgramX4, 1)
	gw.Balances[gw.Signer] = amount(10) // exactly the level-2 cost
	gw.Allowances[gw.Signer] = amount(10)

	tx, err := svc.DraftLevelPurchase(ctx, matrix.ProgramX4, 2)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if tx, err = svc.Run(ctx, tx.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if tx.State != txflow.StateSucceeded {
		t.Fatalf("state = %s, want %s", tx.State, txflow.StateSucceeded)
	}
}

func TestRegistrationPreflightFailures(t *testing.T) {
	t.Run("already registered", func(t *testing.T) {
		svc, gw, _ := newService(t)
		ctx := context.Background()
		gw.Registered[gw.Signer] = true
		gw.Registered[referrer] = true
		gw.Balances[gw.Signer] = amount(100)

		tx, _ := svc.DraftRegistration(ctx, referrer)
		tx, err := svc.Prepare(ctx, tx.ID)
		if err == nil || tx.Reason != txflow.ReasonAlreadyRegistered {
			t.Fatalf("reason = %s (err %v), want %s", tx.Reason, err, txflow.ReasonAlreadyRegistered)
		}
	})

	t.Run("unregistered referrer", func(t *testing.T) {
		svc, gw, _ := newService(t)
		ctx := context.Background()
		gw.Balances[gw.Signer] = amount(100)

		tx, _ := svc.DraftRegistration(ctx, referrer)
		tx, err := svc.Prepare(ctx, tx.ID)
		if err == nil || tx.Reason != txflow.ReasonInvalidReferrer {
			t.Fatalf("reason = %s (err %v), want %s", tx.Reason, err, txflow.ReasonInvalidReferrer)
		}
	})

	t.Run("zero referrer rejected before drafting", func(t *testing.T) {
		svc, _, store := newService(t)
		_, err := svc.DraftRegistration(context.Background(), common.Address{})
		if txflow.ReasonOf(err) != txflow.ReasonInvalidReferrer {
			t.Fatalf("err = %v, want invalid referrer", err)
		}
		if txs, _ := store.ListTransactions(context.Background(), common.Address{}, 0); len(txs) != 0 {
			t.Fatal("no record should be persisted for a rejected draft")
		}
	})

	t.Run("paused contract", func(t *testing.T) {
		svc, gw, _ := newService(t)
		ctx := context.Background()
		gw.Registered[referrer] = true
		gw.Balances[gw.Signer] = amount(100)
		gw.IsActive = false

		tx, _ := svc.DraftRegistration(ctx, referrer)
		tx, err := svc.Prepare(ctx, tx.ID)
		if err == nil || tx.Reason != txflow.ReasonContractPaused {
			t.Fatalf("reason = %s (err %v), want %s", tx.Reason, err, txflow.ReasonContractPaused)
		}
	})
}

func TestWalletNotConnected(t *testing.T) {
	svc, gw, _ := newService(t)
	gw.HasSigner = false

	_, err := svc.DraftRegistration(context.Background(), referrer)
	if txflow.ReasonOf(err) != txflow.ReasonWalletNotConnected {
		t.Fatalf("err = %v, want wallet not connected", err)
	}
	_, err = svc.DraftLevelPurchase(context.Background(), matrix.ProgramX4, 2)
	if txflow.ReasonOf(err) != txflow.ReasonWalletNotConnected {
		t.Fatalf("err = %v, want wallet not connected", err)
	}
}

func TestDuplicateInFlightRejectedLocally(t *testing.T) {
	svc, gw, store := newService(t)
	ctx := context.Background()

	gw.Registered[gw.Signer] = true
	gw.SetActiveLevels(gw.Signer, matrix.ProgramX4, 1)
	gw.Balances[gw.Signer] = amount(1000)
	gw.Allowances[gw.Signer] = amount(1000)
	gw.HoldWrites = true

	first, err := svc.DraftLevelPurchase(ctx, matrix.ProgramX4, 2)
	if err != nil {
		t.Fatalf("draft first: %v", err)
	}
	if _, err = svc.Prepare(ctx, first.ID); err != nil {
		t.Fatalf("prepare first: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Execute(ctx, first.ID)
		done <- err
	}()
	waitForState(t, store, first.ID, txflow.StateConfirming)

	second, err := svc.DraftLevelPurchase(ctx, matrix.ProgramX4, 2)
	if err != nil {
		t.Fatalf("draft second: %v", err)
	}
	if _, err = svc.Prepare(ctx, second.ID); err != nil {
		t.Fatalf("prepare second: %v", err)
	}
	second, err = svc.Execute(ctx, second.ID)
	if !errors.Is(err, txflow.ErrDuplicateInFlight) {
		t.Fatalf("err = %v, want ErrDuplicateInFlight", err)
	}
	if second.State != txflow.StateFailed || second.Reason != txflow.ReasonDuplicateInFlight {
		t.Fatalf("second = %s/%s, want failed/duplicate_in_flight", second.State, second.Reason)
	}
	if len(gw.Purchases) != 1 {
		t.Fatalf("purchases = %v, the duplicate must never reach the ledger", gw.Purchases)
	}

	close(gw.Pending[0].Release)
	if err := <-done; err != nil {
		t.Fatalf("first execute: %v", err)
	}

	// The slot is free again once the first resolves.
	gw.HoldWrites = false
	third, err := svc.DraftLevelPurchase(ctx, matrix.ProgramX4, 3)
	if err != nil {
		t.Fatalf("draft third: %v", err)
	}
	if third, err = svc.Run(ctx, third.ID); err != nil {
		t.Fatalf("run third: %v", err)
	}
	if third.State != txflow.StateSucceeded {
		t.Fatalf("third state = %s, want succeeded", third.State)
	}
}

func TestConfirmationFailureClassified(t *testing.T) {
	svc, gw, _ := newService(t)
	ctx := context.Background()

	gw.Registered[gw.Signer] = true
	gw.SetActiveLevels(gw.Signer, matrix.ProgramX4, 1)
	gw.Balances[gw.Signer] = amount(1000)
	gw.Allowances[gw.Signer] = amount(1000)
	gw.ConfirmErr = errors.New("execution reverted: level already active")

	tx, _ := svc.DraftLevelPurchase(ctx, matrix.ProgramX4, 2)
	tx, err := svc.Run(ctx, tx.ID)
	if err == nil {
		t.Fatal("run succeeded, want confirmation failure")
	}
	if tx.State != txflow.StateFailed || tx.Reason != txflow.ReasonAlreadyActive {
		t.Fatalf("got %s/%s, want failed/already_active", tx.State, tx.Reason)
	}
	if tx.Detail == "" {
		t.Fatal("raw error text must be preserved in the detail")
	}
}

func TestSubmitFailureClassified(t *testing.T) {
	svc, gw, _ := newService(t)
	ctx := context.Background()

	gw.Registered[gw.Signer] = true
	gw.SetActiveLevels(gw.Signer, matrix.ProgramX4, 1)
	gw.Balances[gw.Signer] = amount(1000)
	gw.Allowances[gw.Signer] = amount(1000)
	gw.WriteErr = errors.New("user rejected transaction")

	tx, _ := svc.DraftLevelPurchase(ctx, matrix.ProgramX4, 2)
	tx, err := svc.Run(ctx, tx.ID)
	if err == nil {
		t.Fatal("run succeeded, want submit failure")
	}
	if tx.Reason != txflow.ReasonUserRejected {
		t.Fatalf("reason = %s, want user_rejected", tx.Reason)
	}
}

func TestCancel(t *testing.T) {
	svc, gw, _ := newService(t)
	ctx := context.Background()

	gw.Registered[gw.Signer] = true
	gw.SetActiveLevels(gw.Signer, matrix.ProgramX4, 1)
	gw.Balances[gw.Signer] = amount(1000)

	tx, _ := svc.DraftLevelPurchase(ctx, matrix.ProgramX4, 2)
	tx, err := svc.Cancel(ctx, tx.ID)
	if err != nil {
		t.Fatalf("cancel drafted: %v", err)
	}
	if tx.State != txflow.StateFailed || tx.Detail != "canceled by caller" {
		t.Fatalf("got %s %q, want failed canceled record", tx.State, tx.Detail)
	}

	done, _ := svc.DraftLevelPurchase(ctx, matrix.ProgramX4, 2)
	gw.Allowances[gw.Signer] = amount(1000)
	if done, err = svc.Run(ctx, done.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := svc.Cancel(ctx, done.ID); err == nil {
		t.Fatal("canceling a terminal transaction must fail")
	}
}

func TestReconcileFailsStaleTransactions(t *testing.T) {
	svc, _, store := newService(t)
	ctx := context.Background()

	stale, err := store.CreateTransaction(ctx, txflow.Transaction{
		Kind:    txflow.KindLevelPurchase,
		Account: common.HexToAddress("0x00000000000000000000000000000000000000A1"),
		Program: 1,
		Level:   3,
		Cost:    amount(20),
		State:   txflow.StateConfirming,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := svc.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	got, err := store.GetTransaction(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != txflow.StateFailed || got.Reason != txflow.ReasonConfirmationFailed {
		t.Fatalf("got %s/%s, want failed/confirmation_failed", got.State, got.Reason)
	}
}

func waitForState(t *testing.T, store *memory.Store, id string, want txflow.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tx, err := store.GetTransaction(context.Background(), id)
		if err == nil && tx.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("transaction %s never reached %s", id, want)
}
