// Package team holds the derived records produced by a team aggregation
// pass. They are owned by the call that produced them and never cached.
package team

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Member is one direct referral with its ledger-sourced sub-statistics.
type Member struct {
	Address  common.Address
	UserID   uint64
	JoinedAt time.Time

	// PartnersCount is the member's own direct referral count, used for
	// the total network figure.
	PartnersCount uint64

	// Active level counts per program.
	X4Levels  int
	XXXLevels int

	// TotalEarned sums both programs' earnings, scaled.
	TotalEarned *big.Int
}

// Active reports whether the member counts toward the active-member stat. A
// member is active when they hold at least one level in either program.
func (m Member) Active() bool {
	return m.X4Levels > 0 || m.XXXLevels > 0
}

// Stats is the fold of all successfully resolved members.
type Stats struct {
	DirectReferrals    int
	TotalNetwork       int
	ActiveMembers      int
	ThisMonthReferrals int

	TotalTeamEarnings    *big.Int
	AvgEarningsPerMember *big.Int
}

// Report is the output of one aggregation pass: the resolved members plus
// their fold. FailedLookups counts addresses whose sub-queries failed and
// were excluded from the fold.
type Report struct {
	Members       []Member
	Stats         Stats
	FailedLookups int
	GeneratedAt   time.Time
}
