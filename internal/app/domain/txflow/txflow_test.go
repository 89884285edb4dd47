package txflow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestKeyCollapsesRegistrations(t *testing.T) {
	a := Transaction{Kind: KindRegistration, Referrer: common.HexToAddress("0x01")}
	b := Transaction{Kind: KindRegistration, Referrer: common.HexToAddress("0x02")}
	if a.Key() != b.Key() {
		t.Fatal("registrations with different referrers must share one slot")
	}
}

func TestKeySeparatesPurchaseSlots(t *testing.T) {
	base := Transaction{Kind: KindLevelPurchase, Program: 1, Level: 3}
	otherLevel := Transaction{Kind: KindLevelPurchase, Program: 1, Level: 4}
	otherProgram := Transaction{Kind: KindLevelPurchase, Program: 2, Level: 3}
	same := Transaction{Kind: KindLevelPurchase, Program: 1, Level: 3, ID: "different-id"}

	if base.Key() == otherLevel.Key() || base.Key() == otherProgram.Key() {
		t.Fatal("distinct operations must use distinct slots")
	}
	if base.Key() != same.Key() {
		t.Fatal("identical operations must share a slot regardless of id")
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := map[State]bool{
		StateSucceeded: true,
		StateFailed:    true,
	}
	for _, s := range []State{
		StateDrafting, StateAwaitingApproval, StateApproving,
		StateAwaitingExecute, StateExecuting, StateConfirming,
		StateSucceeded, StateFailed,
	} {
		if s.Terminal() != terminal[s] {
			t.Errorf("%s.Terminal() = %v", s, s.Terminal())
		}
	}
}

func TestCancelable(t *testing.T) {
	cancelable := map[State]bool{
		StateDrafting:         true,
		StateAwaitingApproval: true,
		StateAwaitingExecute:  true,
	}
	for _, s := range []State{
		StateDrafting, StateAwaitingApproval, StateApproving,
		StateAwaitingExecute, StateExecuting, StateConfirming,
		StateSucceeded, StateFailed,
	} {
		tx := Transaction{State: s}
		if tx.Cancelable() != cancelable[s] {
			t.Errorf("Cancelable in %s = %v", s, tx.Cancelable())
		}
	}
}

func TestFlowErrorUnwrap(t *testing.T) {
	cause := errors.New("rpc timeout")
	err := NewFlowError(ReasonNetworkError, cause)

	if !errors.Is(err, cause) {
		t.Fatal("cause lost in wrapping")
	}
	if ReasonOf(err) != ReasonNetworkError {
		t.Fatalf("ReasonOf = %s", ReasonOf(err))
	}
	// Reasons survive further wrapping.
	wrapped := fmt.Errorf("running transaction: %w", err)
	if ReasonOf(wrapped) != ReasonNetworkError {
		t.Fatalf("ReasonOf(wrapped) = %s", ReasonOf(wrapped))
	}
}

func TestReasonOfDefaults(t *testing.T) {
	if ReasonOf(nil) != ReasonNone {
		t.Fatal("nil error must map to no reason")
	}
	if ReasonOf(errors.New("anything")) != ReasonNetworkError {
		t.Fatal("unclassified errors must map to network error")
	}
}

func TestClassifyLedgerErrors(t *testing.T) {
	cases := []struct {
		msg  string
		want Reason
	}{
		{"execution reverted: Already registered", ReasonAlreadyRegistered},
		{"execution reverted: Level already active", ReasonAlreadyActive},
		{"execution reverted: Previous level not active", ReasonPreviousLevelInactive},
		{"insufficient funds for gas * price + value", ReasonInsufficientBalance},
		{"execution reverted: ERC20: transfer amount exceeds allowance", ReasonInsufficientAllowance},
		{"execution reverted: Referrer not found", ReasonInvalidReferrer},
		{"execution reverted: Contract is paused", ReasonContractPaused},
		{"MetaMask Tx Signature: User denied transaction signature", ReasonUserRejected},
		{"transaction 0xabc reverted", ReasonConfirmationFailed},
		{"connection refused", ReasonNetworkError},
	}
	for _, tc := range cases {
		if got := Classify(errors.New(tc.msg)); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
	if Classify(nil) != ReasonNone {
		t.Error("Classify(nil) must be empty")
	}
}

func TestClassifyKeepsExistingFlowError(t *testing.T) {
	err := NewFlowError(ReasonDuplicateInFlight, errors.New("reverted"))
	if got := Classify(err); got != ReasonDuplicateInFlight {
		t.Fatalf("Classify = %s, want the wrapped reason", got)
	}
}

func TestEveryReasonHasMessage(t *testing.T) {
	reasons := []Reason{
		ReasonWalletNotConnected, ReasonInvalidReferrer, ReasonAlreadyRegistered,
		ReasonAlreadyActive, ReasonPreviousLevelInactive, ReasonInsufficientBalance,
		ReasonInsufficientAllowance, ReasonUserRejected, ReasonDuplicateInFlight,
		ReasonConfirmationFailed, ReasonNetworkError, ReasonContractPaused,
	}
	for _, r := range reasons {
		if r.Message() == "" || r.Message() == "Transaction failed" {
			t.Errorf("reason %s has no specific message", r)
		}
	}
}
