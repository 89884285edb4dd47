package team

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/linktum-network/matrix-service/internal/app/domain/matrix"
	"github.com/linktum-network/matrix-service/internal/chain"
	"github.com/linktum-network/matrix-service/pkg/logger"
	"github.com/linktum-network/matrix-service/pkg/testutil"
)

var root = common.HexToAddress("0x00000000000000000000000000000000000000C1")

func tokens(n int64) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), unit)
}

func memberAddr(i int) common.Address {
	return common.HexToAddress(fmt.Sprintf("0x%040x", 0xD000+i))
}

func newAggregator(t *testing.T) (*Aggregator, *testutil.FakeGateway) {
	t.Helper()
	gw := testutil.NewFakeGateway()
	log := logger.NewDefault("team-test")
	log.SetOutput(io.Discard)
	return New(gw, log), gw
}

// seedTeam registers n members under root with ids 1..n, one active x4
// level each and 10 tokens earned apiece.
func seedTeam(gw *testutil.FakeGateway, n int) {
	now := time.Now()
	for i := 1; i <= n; i++ {
		addr := memberAddr(i)
		gw.Directs[root] = append(gw.Directs[root], addr)
		gw.Users[addr] = chain.UserInfo{
			ID:               uint64(i),
			Referrer:         root,
			RegistrationTime: now.Add(-time.Duration(i) * 24 * time.Hour),
		}
		gw.SetActiveLevels(addr, matrix.ProgramX4, 1)
		gw.SetEarnings(addr, matrix.ProgramX4, tokens(10))
	}
}

func TestAggregateEmptyTeam(t *testing.T) {
	agg, _ := newAggregator(t)

	report, err := agg.Aggregate(context.Background(), root)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(report.Members) != 0 || report.Stats.DirectReferrals != 0 {
		t.Fatalf("empty team produced %+v", report)
	}
	if report.Stats.AvgEarningsPerMember.Sign() != 0 {
		t.Fatalf("average over zero members = %s, want 0", report.Stats.AvgEarningsPerMember)
	}
}

func TestAggregateFoldsMembers(t *testing.T) {
	agg, gw := newAggregator(t)
	seedTeam(gw, 4)

	// Member 2 earns extra in the second program; member 3 is inactive and
	// joined outside the 30-day window.
	gw.SetEarnings(memberAddr(2), matrix.ProgramXXX, tokens(30))
	addr3 := memberAddr(3)
	gw.Active[fmt.Sprintf("%s/%d/%d", addr3.Hex(), matrix.ProgramX4, 1)] = false
	info := gw.Users[addr3]
	info.RegistrationTime = time.Now().Add(-45 * 24 * time.Hour)
	gw.Users[addr3] = info

	report, err := agg.Aggregate(context.Background(), root)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if got := report.Stats.DirectReferrals; got != 4 {
		t.Fatalf("direct referrals = %d, want 4", got)
	}
	if got := report.Stats.ActiveMembers; got != 3 {
		t.Fatalf("active members = %d, want 3", got)
	}
	if got := report.Stats.ThisMonthReferrals; got != 3 {
		t.Fatalf("this-month referrals = %d, want 3", got)
	}
	if got := report.Stats.TotalTeamEarnings; got.Cmp(tokens(70)) != 0 {
		t.Fatalf("total earnings = %s, want 70 tokens", got)
	}
	if got := report.Stats.AvgEarningsPerMember; got.Cmp(tokens(17)) != 0 {
		// 70 / 4 truncates to 17.
		t.Fatalf("average earnings = %s, want 17 tokens", got)
	}
	if len(report.Members) != 4 {
		t.Fatalf("members = %d, want 4", len(report.Members))
	}
	for i, m := range report.Members {
		if m.UserID != uint64(i+1) {
			t.Fatalf("member %d has id %d, want referral order", i, m.UserID)
		}
	}
}

func TestAggregateBoundsConcurrency(t *testing.T) {
	agg, gw := newAggregator(t)
	seedTeam(gw, 12)
	gw.ReadDelay = 10 * time.Millisecond

	if _, err := agg.Aggregate(context.Background(), root); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	// Each member runs its sub-queries sequentially, so concurrent reads
	// never exceed one per member of a batch.
	if gw.MaxInFlight > DefaultBatchSize {
		t.Fatalf("max in-flight reads = %d, want <= %d", gw.MaxInFlight, DefaultBatchSize)
	}
	if gw.MaxInFlight < 2 {
		t.Fatalf("max in-flight reads = %d, batch members should overlap", gw.MaxInFlight)
	}
}

func TestAggregateIsolatesFailures(t *testing.T) {
	agg, gw := newAggregator(t)
	seedTeam(gw, 7)
	gw.FailAddrs[memberAddr(3)] = true
	gw.FailAddrs[memberAddr(6)] = true

	report, err := agg.Aggregate(context.Background(), root)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if report.FailedLookups != 2 {
		t.Fatalf("failed lookups = %d, want 2", report.FailedLookups)
	}
	if len(report.Members) != 5 {
		t.Fatalf("members = %d, want 5 survivors", len(report.Members))
	}
	// The direct count still reflects the whole referral list.
	if report.Stats.DirectReferrals != 7 {
		t.Fatalf("direct referrals = %d, want 7", report.Stats.DirectReferrals)
	}
	// Earnings fold over survivors only.
	if report.Stats.TotalTeamEarnings.Cmp(tokens(50)) != 0 {
		t.Fatalf("total earnings = %s, want 50 tokens", report.Stats.TotalTeamEarnings)
	}
	if report.Stats.AvgEarningsPerMember.Cmp(tokens(10)) != 0 {
		t.Fatalf("average earnings = %s, want 10 tokens", report.Stats.AvgEarningsPerMember)
	}
}

func TestAggregateCancellation(t *testing.T) {
	agg, gw := newAggregator(t)
	seedTeam(gw, 10)
	gw.ReadDelay = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	if _, err := agg.Aggregate(ctx, root); err == nil {
		t.Fatal("aggregate ignored context cancellation")
	}
}
