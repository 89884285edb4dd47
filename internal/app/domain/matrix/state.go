package matrix

import "github.com/ethereum/go-ethereum/common"

// State is the derived occupancy of one (user, program, level) matrix. It is
// recomputed from contract reads on every query; slot occupancy can change
// between reads, so it is never cached as authoritative.
type State struct {
	Program Program
	Level   int
	// Tiers holds the occupant addresses per tier, index-aligned with the
	// program's TierLayout. The contract fills positions contiguously, but
	// occupancy is reported as read rather than assumed.
	Tiers [][]common.Address
	// ReinvestCount is the number of completed cycles. It only grows; the
	// reinvestment itself is a contract-side effect observed here, never
	// triggered.
	ReinvestCount uint64
	Blocked       bool
}

// NewState builds a derived state from raw per-tier referral lists.
func NewState(p Program, level int, tiers [][]common.Address, reinvestCount uint64, blocked bool) State {
	return State{
		Program:       p,
		Level:         level,
		Tiers:         tiers,
		ReinvestCount: reinvestCount,
		Blocked:       blocked,
	}
}

// FilledPositions counts occupied slots across all tiers.
func (s State) FilledPositions() int {
	filled := 0
	for _, tier := range s.Tiers {
		for _, occupant := range tier {
			if occupant != (common.Address{}) {
				filled++
			}
		}
	}
	return filled
}

// IsComplete reports whether every position in the cycle is occupied. A
// complete matrix means the contract will reinvest and begin a new cycle.
func (s State) IsComplete() bool {
	total := TotalPositions(s.Program)
	return total > 0 && s.FilledPositions() == total
}
