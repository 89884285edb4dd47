// Package txflow models one orchestrated, spend-bearing contract operation:
// its lifecycle states, the in-flight key used for duplicate suppression and
// the classified failure taxonomy.
package txflow

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies what the transaction does once executed.
type Kind string

const (
	KindRegistration  Kind = "registration"
	KindLevelPurchase Kind = "level_purchase"
	KindApproval      Kind = "approval"
)

// State is the orchestrator lifecycle position of a transaction.
type State string

const (
	StateDrafting         State = "drafting"
	StateAwaitingApproval State = "awaiting_approval_decision"
	StateApproving        State = "approving"
	StateAwaitingExecute  State = "awaiting_execute_decision"
	StateExecuting        State = "executing"
	StateConfirming       State = "confirming"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
)

// Terminal reports whether the state is final. A terminal transaction is
// never reused; retries create a fresh one.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Transaction is one orchestrated write operation from draft to terminal
// state. Every state change is persisted for audit.
type Transaction struct {
	ID      string
	Kind    Kind
	Account common.Address

	// LevelPurchase parameters. Program is zero for registrations.
	Program uint8
	Level   int

	// Registration parameter.
	Referrer common.Address

	// Cost is the scaled token amount this operation spends, fixed at
	// draft time from a fresh cost read.
	Cost *big.Int

	State State

	// ApproveTxHash and ExecuteTxHash are set once the respective writes
	// have been submitted.
	ApproveTxHash string
	ExecuteTxHash string

	// Reason classifies a failure for display; Detail keeps the raw
	// underlying error text for logs only.
	Reason Reason
	Detail string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key identifies the operation slot for duplicate suppression: one execute
// may be in flight per key at a time.
func (t Transaction) Key() string {
	if t.Kind == KindRegistration {
		return string(KindRegistration)
	}
	return fmt.Sprintf("%s/%d/%d", t.Kind, t.Program, t.Level)
}

// Cancelable reports whether abandoning the transaction has no side effects.
// Once a write has been submitted the operation must reach a terminal state.
func (t Transaction) Cancelable() bool {
	switch t.State {
	case StateDrafting, StateAwaitingApproval, StateAwaitingExecute:
		return true
	}
	return false
}
