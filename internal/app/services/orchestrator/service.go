// Package orchestrator sequences spend-bearing contract operations through
// the draft → approve → execute → confirm lifecycle, guaranteeing at most
// one in-flight execute per operation slot and at most one allowance write
// and one execute write per transaction instance.
package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/linktum-network/matrix-service/internal/app/domain/matrix"
	"github.com/linktum-network/matrix-service/internal/app/domain/token"
	"github.com/linktum-network/matrix-service/internal/app/domain/txflow"
	"github.com/linktum-network/matrix-service/internal/app/metrics"
	"github.com/linktum-network/matrix-service/internal/app/storage"
	"github.com/linktum-network/matrix-service/internal/chain"
	"github.com/linktum-network/matrix-service/pkg/logger"
)

// registrationPrograms is the multiplier applied to the level-1 cost at
// registration: the contract activates level 1 in both programs.
const registrationPrograms = 2

// Service drives pending transactions. One Service instance serves one
// signing identity (the gateway's signer).
type Service struct {
	gateway chain.Gateway
	store   storage.TransactionStore
	log     *logger.Logger

	mu       sync.Mutex
	inflight map[string]string // operation key -> transaction id
}

// New constructs an orchestrator.
func New(gateway chain.Gateway, store storage.TransactionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("orchestrator")
	}
	return &Service{
		gateway:  gateway,
		store:    store,
		log:      log,
		inflight: make(map[string]string),
	}
}

// account returns the signing identity or a wallet-not-connected error.
func (s *Service) account() (common.Address, error) {
	addr, ok := s.gateway.SignerAddress()
	if !ok {
		return common.Address{}, txflow.NewFlowError(txflow.ReasonWalletNotConnected, nil)
	}
	return addr, nil
}

// DraftRegistration creates a registration transaction in Drafting. The
// cost is fixed here from a fresh read: level-1 cost times the two programs
// the contract activates on registration.
func (s *Service) DraftRegistration(ctx context.Context, referrer common.Address) (txflow.Transaction, error) {
	account, err := s.account()
	if err != nil {
		return txflow.Transaction{}, err
	}
	if referrer == (common.Address{}) {
		return txflow.Transaction{}, txflow.NewFlowError(txflow.ReasonInvalidReferrer, nil)
	}

	costs, err := s.gateway.LevelCosts(ctx, matrix.ProgramX4)
	if err != nil {
		return txflow.Transaction{}, txflow.NewFlowError(txflow.ReasonNetworkError, err)
	}
	if len(costs) == 0 {
		return txflow.Transaction{}, txflow.NewFlowError(txflow.ReasonNetworkError, fmt.Errorf("contract returned no level costs"))
	}
	cost := new(big.Int).Mul(costs[0], big.NewInt(registrationPrograms))

	tx := txflow.Transaction{
		Kind:     txflow.KindRegistration,
		Account:  account,
		Referrer: referrer,
		Cost:     cost,
		State:    txflow.StateDrafting,
	}
	return s.store.CreateTransaction(ctx, tx)
}

// DraftLevelPurchase creates a level purchase transaction in Drafting.
func (s *Service) DraftLevelPurchase(ctx context.Context, program matrix.Program, level int) (txflow.Transaction, error) {
	account, err := s.account()
	if err != nil {
		return txflow.Transaction{}, err
	}
	if !program.Valid() {
		return txflow.Transaction{}, fmt.Errorf("unknown program %d", uint8(program))
	}
	if err := matrix.ValidateLevel(level); err != nil {
		return txflow.Transaction{}, err
	}

	cost, err := s.gateway.LevelCost(ctx, program, level)
	if err != nil {
		return txflow.Transaction{}, txflow.NewFlowError(txflow.ReasonNetworkError, err)
	}

	tx := txflow.Transaction{
		Kind:    txflow.KindLevelPurchase,
		Account: account,
		Program: uint8(program),
		Level:   level,
		Cost:    new(big.Int).Set(cost),
		State:   txflow.StateDrafting,
	}
	return s.store.CreateTransaction(ctx, tx)
}

// Prepare runs the local gating checks for a drafted transaction and moves
// it to the appropriate decision state: AwaitingApprovalDecision when the
// current allowance is below the cost, AwaitingExecuteDecision otherwise.
// Gating violations fail the transaction synchronously before any write.
func (s *Service) Prepare(ctx context.Context, id string) (txflow.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return txflow.Transaction{}, err
	}
	if tx.State != txflow.StateDrafting {
		return tx, fmt.Errorf("transaction %s is %s, expected %s", id, tx.State, txflow.StateDrafting)
	}

	if err := s.preflight(ctx, tx); err != nil {
		return s.fail(ctx, tx, err)
	}

	// Allowance is re-read here, never trusted from an earlier observation:
	// concurrent approvals or spends may have changed it.
	allowance, err := s.gateway.TokenAllowance(ctx, tx.Account)
	if err != nil {
		return s.fail(ctx, tx, txflow.NewFlowError(txflow.ReasonNetworkError, err))
	}
	if token.GTE(allowance, tx.Cost) {
		tx.State = txflow.StateAwaitingExecute
	} else {
		tx.State = txflow.StateAwaitingApproval
	}
	return s.store.UpdateTransaction(ctx, tx)
}

// preflight performs the synchronous, read-only gating checks.
func (s *Service) preflight(ctx context.Context, tx txflow.Transaction) error {
	active, err := s.gateway.ContractActive(ctx)
	if err != nil {
		return txflow.NewFlowError(txflow.ReasonNetworkError, err)
	}
	if !active {
		return txflow.NewFlowError(txflow.ReasonContractPaused, nil)
	}

	switch tx.Kind {
	case txflow.KindRegistration:
		return s.preflightRegistration(ctx, tx)
	case txflow.KindLevelPurchase:
		return s.preflightPurchase(ctx, tx)
	default:
		return fmt.Errorf("unexpected transaction kind %q", tx.Kind)
	}
}

func (s *Service) preflightRegistration(ctx context.Context, tx txflow.Transaction) error {
	registered, err := s.gateway.IsRegistered(ctx, tx.Account)
	if err != nil {
		return txflow.NewFlowError(txflow.ReasonNetworkError, err)
	}
	if registered {
		return txflow.NewFlowError(txflow.ReasonAlreadyRegistered, nil)
	}

	refRegistered, err := s.gateway.IsRegistered(ctx, tx.Referrer)
	if err != nil {
		return txflow.NewFlowError(txflow.ReasonNetworkError, err)
	}
	if !refRegistered {
		return txflow.NewFlowError(txflow.ReasonInvalidReferrer, fmt.Errorf("referrer %s not registered", tx.Referrer.Hex()))
	}

	balance, err := s.gateway.TokenBalance(ctx, tx.Account)
	if err != nil {
		return txflow.NewFlowError(txflow.ReasonNetworkError, err)
	}
	if !token.GTE(balance, tx.Cost) {
		return txflow.NewFlowError(txflow.ReasonInsufficientBalance, nil)
	}
	return nil
}

func (s *Service) preflightPurchase(ctx context.Context, tx txflow.Transaction) error {
	program := matrix.Program(tx.Program)

	levels, err := s.gateway.ActiveLevels(ctx, tx.Account, program)
	if err != nil {
		return txflow.NewFlowError(txflow.ReasonNetworkError, err)
	}
	balance, err := s.gateway.TokenBalance(ctx, tx.Account)
	if err != nil {
		return txflow.NewFlowError(txflow.ReasonNetworkError, err)
	}

	decision := matrix.CheckPurchasable(levels, tx.Level, balance, tx.Cost)
	if decision.Allowed {
		return nil
	}
	switch decision.Reason {
	case matrix.BlockAlreadyActive:
		return txflow.NewFlowError(txflow.ReasonAlreadyActive, nil)
	case matrix.BlockPreviousLevelInactive:
		return txflow.NewFlowError(txflow.ReasonPreviousLevelInactive, nil)
	default:
		return txflow.NewFlowError(txflow.ReasonInsufficientBalance, nil)
	}
}

// Approve submits the allowance write for exactly the transaction's cost
// and waits for its confirmation. Only then does the transaction reach
// AwaitingExecuteDecision.
func (s *Service) Approve(ctx context.Context, id string) (txflow.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return txflow.Transaction{}, err
	}
	if tx.State != txflow.StateAwaitingApproval {
		return tx, fmt.Errorf("transaction %s is %s, expected %s", id, tx.State, txflow.StateAwaitingApproval)
	}

	tx.State = txflow.StateApproving
	if tx, err = s.store.UpdateTransaction(ctx, tx); err != nil {
		return txflow.Transaction{}, err
	}

	// The approval is bounded to the exact cost, never unlimited.
	pending, err := s.gateway.Approve(ctx, tx.Cost)
	if err != nil {
		return s.fail(ctx, tx, txflow.NewFlowError(txflow.Classify(err), err))
	}
	tx.ApproveTxHash = pending.Hash().Hex()
	if tx, err = s.store.UpdateTransaction(ctx, tx); err != nil {
		return txflow.Transaction{}, err
	}

	if err := pending.Await(ctx); err != nil {
		return s.fail(ctx, tx, txflow.NewFlowError(txflow.Classify(err), err))
	}

	tx.State = txflow.StateAwaitingExecute
	return s.store.UpdateTransaction(ctx, tx)
}

// Execute submits the drafted operation's single write and drives it
// through Confirming to a terminal state. A second execute for the same
// operation key while one is outstanding is rejected locally with
// DuplicateInFlight and never reaches the ledger.
func (s *Service) Execute(ctx context.Context, id string) (txflow.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return txflow.Transaction{}, err
	}
	if tx.State != txflow.StateAwaitingExecute {
		return tx, fmt.Errorf("transaction %s is %s, expected %s", id, tx.State, txflow.StateAwaitingExecute)
	}

	key := tx.Key()
	s.mu.Lock()
	if holder, taken := s.inflight[key]; taken && holder != tx.ID {
		s.mu.Unlock()
		failed, _ := s.fail(ctx, tx, txflow.ErrDuplicateInFlight)
		return failed, txflow.ErrDuplicateInFlight
	}
	s.inflight[key] = tx.ID
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.inflight[key] == tx.ID {
			delete(s.inflight, key)
		}
		s.mu.Unlock()
	}()

	tx.State = txflow.StateExecuting
	if tx, err = s.store.UpdateTransaction(ctx, tx); err != nil {
		return txflow.Transaction{}, err
	}

	var pending chain.PendingWrite
	switch tx.Kind {
	case txflow.KindRegistration:
		pending, err = s.gateway.Register(ctx, tx.Referrer)
	case txflow.KindLevelPurchase:
		pending, err = s.gateway.BuyLevel(ctx, matrix.Program(tx.Program), tx.Level)
	default:
		err = fmt.Errorf("unexpected transaction kind %q", tx.Kind)
	}
	if err != nil {
		return s.fail(ctx, tx, txflow.NewFlowError(txflow.Classify(err), err))
	}

	tx.ExecuteTxHash = pending.Hash().Hex()
	tx.State = txflow.StateConfirming
	if tx, err = s.store.UpdateTransaction(ctx, tx); err != nil {
		return txflow.Transaction{}, err
	}

	// No orchestrator-imposed timeout: still-confirming is a valid state
	// for as long as the caller's context lives.
	if err := pending.Await(ctx); err != nil {
		return s.fail(ctx, tx, txflow.NewFlowError(txflow.Classify(err), err))
	}

	tx.State = txflow.StateSucceeded
	tx, err = s.store.UpdateTransaction(ctx, tx)
	if err != nil {
		return txflow.Transaction{}, err
	}
	s.observeTerminal(tx)
	s.log.WithField("tx_id", tx.ID).
		WithField("kind", string(tx.Kind)).
		WithField("execute_tx", tx.ExecuteTxHash).
		Info("transaction succeeded")
	return tx, nil
}

// Run drives a drafted transaction through the whole lifecycle, approving
// when the allowance requires it.
func (s *Service) Run(ctx context.Context, id string) (txflow.Transaction, error) {
	tx, err := s.Prepare(ctx, id)
	if err != nil {
		return tx, err
	}
	if tx.State == txflow.StateAwaitingApproval {
		if tx, err = s.Approve(ctx, id); err != nil {
			return tx, err
		}
	}
	return s.Execute(ctx, id)
}

// Cancel abandons a transaction that has not submitted anything yet. Once a
// write is in flight the operation must reach a terminal state on its own.
func (s *Service) Cancel(ctx context.Context, id string) (txflow.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return txflow.Transaction{}, err
	}
	if !tx.Cancelable() {
		return tx, fmt.Errorf("transaction %s cannot be canceled in state %s", id, tx.State)
	}
	tx.State = txflow.StateFailed
	tx.Reason = txflow.ReasonNone
	tx.Detail = "canceled by caller"
	tx, err = s.store.UpdateTransaction(ctx, tx)
	if err != nil {
		return txflow.Transaction{}, err
	}
	s.observeTerminal(tx)
	return tx, nil
}

// Get returns the current record for a transaction.
func (s *Service) Get(ctx context.Context, id string) (txflow.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// List returns the account's recent transactions, newest first.
func (s *Service) List(ctx context.Context, account common.Address, limit int) ([]txflow.Transaction, error) {
	return s.store.ListTransactions(ctx, account, limit)
}

// Reconcile marks transactions left mid-flight by a previous process run as
// failed. Their pending handles are gone; the contract state they may or
// may not have changed is re-read by the views, so failing the record is
// safe.
func (s *Service) Reconcile(ctx context.Context) error {
	stale, err := s.store.ListUnresolved(ctx)
	if err != nil {
		return err
	}
	for _, tx := range stale {
		tx.State = txflow.StateFailed
		tx.Reason = txflow.ReasonConfirmationFailed
		tx.Detail = "unresolved at service restart"
		if _, err := s.store.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		s.log.WithField("tx_id", tx.ID).Warn("failed stale in-flight transaction")
	}
	return nil
}

// fail moves a transaction to Failed with its classified reason, releases
// nothing (the Execute defer owns the in-flight key) and returns both the
// terminal record and the original error.
func (s *Service) fail(ctx context.Context, tx txflow.Transaction, cause error) (txflow.Transaction, error) {
	tx.State = txflow.StateFailed
	tx.Reason = txflow.ReasonOf(cause)
	if cause != nil {
		tx.Detail = cause.Error()
	}

	updated, err := s.store.UpdateTransaction(ctx, tx)
	if err != nil {
		s.log.WithError(err).Error("persisting failed transaction")
		updated = tx
	}
	s.observeTerminal(updated)
	s.log.WithField("tx_id", tx.ID).
		WithField("reason", string(updated.Reason)).
		WithError(cause).
		Warn("transaction failed")
	return updated, cause
}

func (s *Service) observeTerminal(tx txflow.Transaction) {
	metrics.TxSubmitted.WithLabelValues(string(tx.Kind), string(tx.State)).Inc()
	if !tx.CreatedAt.IsZero() {
		metrics.TxDuration.WithLabelValues(string(tx.Kind)).Observe(time.Since(tx.CreatedAt).Seconds())
	}
}
