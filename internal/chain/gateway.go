// Package chain provides the ledger gateway: typed reads and writes against
// the LinkTum matrix and token contracts over an EVM JSON-RPC endpoint.
package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/linktum-network/matrix-service/internal/app/domain/matrix"
)

// UserInfo is the contract's per-user record.
type UserInfo struct {
	ID               uint64
	Referrer         common.Address
	RegistrationTime time.Time
	PartnersCount    uint64
}

// MatrixInfo is the contract's per-(user, program, level) matrix header.
type MatrixInfo struct {
	CurrentReferrer common.Address
	Blocked         bool
	ReinvestCount   uint64
}

// PendingWrite is the handle for a submitted write. Await blocks until the
// transaction is mined and returns an error when it reverted; there is no
// gateway-imposed timeout beyond the caller's context.
type PendingWrite interface {
	Hash() common.Hash
	Await(ctx context.Context) error
}

// Gateway is the ledger interface the services consume. All reads return
// current contract state and are side-effect free; writes return a pending
// handle resolved asynchronously.
type Gateway interface {
	// Reads, matrix contract.
	IsRegistered(ctx context.Context, addr common.Address) (bool, error)
	UserInfo(ctx context.Context, addr common.Address) (UserInfo, error)
	LevelCost(ctx context.Context, program matrix.Program, level int) (*big.Int, error)
	LevelCosts(ctx context.Context, program matrix.Program) ([]*big.Int, error)
	IsLevelActive(ctx context.Context, addr common.Address, program matrix.Program, level int) (bool, error)
	ActiveLevels(ctx context.Context, addr common.Address, program matrix.Program) (matrix.LevelSet, error)
	MatrixInfo(ctx context.Context, addr common.Address, program matrix.Program, level int) (MatrixInfo, error)
	MatrixReferrals(ctx context.Context, addr common.Address, program matrix.Program, level int) ([][]common.Address, error)
	ProgramEarnings(ctx context.Context, addr common.Address, program matrix.Program) (*big.Int, error)
	DirectReferrals(ctx context.Context, addr common.Address) ([]common.Address, error)
	TotalUsers(ctx context.Context) (uint64, error)
	TotalTurnover(ctx context.Context) (*big.Int, error)
	ContractActive(ctx context.Context) (bool, error)
	Owner(ctx context.Context) (common.Address, error)

	// Reads, token contract.
	TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	// TokenAllowance reads the owner's allowance toward the matrix
	// contract, the only spender this client deals with.
	TokenAllowance(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenSymbol(ctx context.Context) (string, error)

	// Writes. Each submits exactly one transaction.
	Approve(ctx context.Context, amount *big.Int) (PendingWrite, error)
	Register(ctx context.Context, referrer common.Address) (PendingWrite, error)
	BuyLevel(ctx context.Context, program matrix.Program, level int) (PendingWrite, error)

	// Administrative writes, owner-gated contract-side.
	PauseContract(ctx context.Context) (PendingWrite, error)
	ActivateContract(ctx context.Context) (PendingWrite, error)
	UpdateLevelCost(ctx context.Context, level int, cost *big.Int) (PendingWrite, error)
	EmergencyWithdraw(ctx context.Context, amount *big.Int) (PendingWrite, error)

	// SignerAddress returns the connected signing identity, or ok=false
	// when the gateway is read-only (no wallet).
	SignerAddress() (common.Address, bool)
}
