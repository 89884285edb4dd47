package matrix

import (
	"math/big"

	"github.com/linktum-network/matrix-service/internal/app/domain/token"
)

// BlockReason explains why a level purchase is not allowed.
type BlockReason string

const (
	BlockNone                  BlockReason = ""
	BlockAlreadyActive         BlockReason = "already_active"
	BlockPreviousLevelInactive BlockReason = "previous_level_inactive"
	BlockInsufficientBalance   BlockReason = "insufficient_balance"
)

// LevelSet records which levels are active for one (user, program). Index 0
// is unused; levels are 1-based.
type LevelSet [MaxLevel + 1]bool

// Active reports whether the given level is active. Out-of-range levels are
// inactive.
func (ls LevelSet) Active(level int) bool {
	if level < 1 || level > MaxLevel {
		return false
	}
	return ls[level]
}

// Count returns the number of active levels.
func (ls LevelSet) Count() int {
	n := 0
	for level := 1; level <= MaxLevel; level++ {
		if ls[level] {
			n++
		}
	}
	return n
}

// Decision is the outcome of a purchasability check.
type Decision struct {
	Allowed bool
	Reason  BlockReason
}

// CheckPurchasable decides whether a level can be bought given the user's
// active levels for that program, their token balance and the level cost.
// Checks run in a fixed order callers rely on for messaging: already-active
// first, then the prerequisite level, then balance. The balance boundary is
// inclusive: balance == cost is allowed.
func CheckPurchasable(levels LevelSet, level int, balance, cost *big.Int) Decision {
	if levels.Active(level) {
		return Decision{Reason: BlockAlreadyActive}
	}
	if level > 1 && !levels.Active(level-1) {
		return Decision{Reason: BlockPreviousLevelInactive}
	}
	if !token.GTE(balance, cost) {
		return Decision{Reason: BlockInsufficientBalance}
	}
	return Decision{Allowed: true}
}
