package txflow

import (
	"errors"
	"fmt"
	"strings"
)

// Reason classifies a gating violation or transaction failure with a single
// string suitable for direct display.
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonWalletNotConnected    Reason = "wallet_not_connected"
	ReasonInvalidReferrer       Reason = "invalid_referrer"
	ReasonAlreadyRegistered     Reason = "already_registered"
	ReasonAlreadyActive         Reason = "already_active"
	ReasonPreviousLevelInactive Reason = "previous_level_inactive"
	ReasonInsufficientBalance   Reason = "insufficient_balance"
	ReasonInsufficientAllowance Reason = "insufficient_allowance"
	ReasonUserRejected          Reason = "user_rejected"
	ReasonDuplicateInFlight     Reason = "duplicate_in_flight"
	ReasonConfirmationFailed    Reason = "confirmation_failed"
	ReasonNetworkError          Reason = "network_error"
	ReasonContractPaused        Reason = "contract_paused"
)

// Message returns the user-facing text for a reason.
func (r Reason) Message() string {
	switch r {
	case ReasonWalletNotConnected:
		return "Wallet not connected"
	case ReasonInvalidReferrer:
		return "Invalid referrer address"
	case ReasonAlreadyRegistered:
		return "User already registered"
	case ReasonAlreadyActive:
		return "Level already purchased"
	case ReasonPreviousLevelInactive:
		return "Previous level must be purchased first"
	case ReasonInsufficientBalance:
		return "Insufficient token balance"
	case ReasonInsufficientAllowance:
		return "Token allowance too low - approval required"
	case ReasonUserRejected:
		return "Transaction rejected by user"
	case ReasonDuplicateInFlight:
		return "An identical transaction is already in flight"
	case ReasonConfirmationFailed:
		return "Transaction failed to confirm"
	case ReasonNetworkError:
		return "Network error while talking to the ledger"
	case ReasonContractPaused:
		return "Contract is currently paused"
	default:
		return "Transaction failed"
	}
}

// FlowError couples a classified reason with the underlying cause. The
// reason is what users see; the cause is preserved verbatim for diagnostics.
type FlowError struct {
	Reason Reason
	Err    error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason.Message(), e.Err)
	}
	return e.Reason.Message()
}

func (e *FlowError) Unwrap() error { return e.Err }

// NewFlowError wraps err with a classified reason.
func NewFlowError(reason Reason, err error) *FlowError {
	return &FlowError{Reason: reason, Err: err}
}

// ErrDuplicateInFlight rejects a second execute for a key that already has
// one outstanding. It is raised locally and never reaches the ledger.
var ErrDuplicateInFlight = &FlowError{Reason: ReasonDuplicateInFlight}

// ReasonOf extracts the classified reason from an error chain, defaulting to
// a network error for unclassified failures.
func ReasonOf(err error) Reason {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	if err != nil {
		return ReasonNetworkError
	}
	return ReasonNone
}

// Classify maps raw ledger error text onto a reason. Contract reverts come
// back as free-form strings, so matching is necessarily by substring.
func Classify(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Reason
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"):
		return ReasonUserRejected
	case strings.Contains(msg, "already registered"):
		return ReasonAlreadyRegistered
	case strings.Contains(msg, "level already active"):
		return ReasonAlreadyActive
	case strings.Contains(msg, "previous level not active"):
		return ReasonPreviousLevelInactive
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "insufficient balance"):
		return ReasonInsufficientBalance
	case strings.Contains(msg, "transfer amount exceeds allowance"), strings.Contains(msg, "token transfer failed"):
		return ReasonInsufficientAllowance
	case strings.Contains(msg, "referrer not found"):
		return ReasonInvalidReferrer
	case strings.Contains(msg, "contract is paused"), strings.Contains(msg, "not active"):
		return ReasonContractPaused
	case strings.Contains(msg, "reverted"), strings.Contains(msg, "receipt status"):
		return ReasonConfirmationFailed
	default:
		return ReasonNetworkError
	}
}
