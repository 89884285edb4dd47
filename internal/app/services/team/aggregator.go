// Package team aggregates a user's direct referral network into per-member
// records and folded statistics. Aggregation is read-only and recomputed on
// every call; nothing here is cached.
package team

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/linktum-network/matrix-service/internal/app/domain/matrix"
	domain "github.com/linktum-network/matrix-service/internal/app/domain/team"
	"github.com/linktum-network/matrix-service/internal/app/metrics"
	"github.com/linktum-network/matrix-service/internal/chain"
	"github.com/linktum-network/matrix-service/pkg/logger"
)

// DefaultBatchSize bounds how many member lookups run concurrently. Batches
// run sequentially so a large team never floods the RPC endpoint.
const DefaultBatchSize = 5

// recentWindow is the lookback for the this-month referral count.
const recentWindow = 30 * 24 * time.Hour

// Aggregator resolves team reports against the ledger.
type Aggregator struct {
	gateway   chain.Gateway
	log       *logger.Logger
	batchSize int
	now       func() time.Time
}

// New constructs an aggregator with the default batch size.
func New(gateway chain.Gateway, log *logger.Logger) *Aggregator {
	if log == nil {
		log = logger.NewDefault("team")
	}
	return &Aggregator{
		gateway:   gateway,
		log:       log,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
}

// Aggregate builds the team report for an account. A failing member lookup
// is logged, counted and excluded; it never fails the report.
func (a *Aggregator) Aggregate(ctx context.Context, account common.Address) (domain.Report, error) {
	started := a.now()
	defer func() {
		metrics.AggregationDuration.Observe(time.Since(started).Seconds())
	}()

	referrals, err := a.gateway.DirectReferrals(ctx, account)
	if err != nil {
		return domain.Report{}, err
	}

	members := make([]domain.Member, 0, len(referrals))
	failed := 0
	for start := 0; start < len(referrals); start += a.batchSize {
		end := start + a.batchSize
		if end > len(referrals) {
			end = len(referrals)
		}
		batch, batchFailed := a.resolveBatch(ctx, referrals[start:end])
		members = append(members, batch...)
		failed += batchFailed
		if err := ctx.Err(); err != nil {
			return domain.Report{}, err
		}
	}

	// Resolution order within a batch is nondeterministic; present members
	// in their referral order.
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })

	return domain.Report{
		Members:       members,
		Stats:         a.fold(members, len(referrals)),
		FailedLookups: failed,
		GeneratedAt:   started.UTC(),
	}, nil
}

// resolveBatch fetches one batch of members concurrently and returns the
// ones that resolved plus the count of failures.
func (a *Aggregator) resolveBatch(ctx context.Context, addrs []common.Address) ([]domain.Member, int) {
	results := make([]*domain.Member, len(addrs))

	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func(i int, addr common.Address) {
			defer wg.Done()
			member, err := a.resolveMember(ctx, addr)
			if err != nil {
				metrics.AggregationFailures.Inc()
				a.log.WithField("member", addr.Hex()).WithError(err).Warn("member lookup failed, excluding from report")
				return
			}
			results[i] = &member
		}(i, addr)
	}
	wg.Wait()

	members := make([]domain.Member, 0, len(addrs))
	failed := 0
	for _, m := range results {
		if m == nil {
			failed++
			continue
		}
		members = append(members, *m)
	}
	return members, failed
}

// resolveMember runs the per-address sub-queries. Any failing sub-query
// discards the whole member; partial records are worse than missing ones.
func (a *Aggregator) resolveMember(ctx context.Context, addr common.Address) (domain.Member, error) {
	info, err := a.gateway.UserInfo(ctx, addr)
	if err != nil {
		return domain.Member{}, err
	}

	x4, err := a.gateway.ActiveLevels(ctx, addr, matrix.ProgramX4)
	if err != nil {
		return domain.Member{}, err
	}
	xxx, err := a.gateway.ActiveLevels(ctx, addr, matrix.ProgramXXX)
	if err != nil {
		return domain.Member{}, err
	}

	earned := new(big.Int)
	for _, program := range []matrix.Program{matrix.ProgramX4, matrix.ProgramXXX} {
		amount, err := a.gateway.ProgramEarnings(ctx, addr, program)
		if err != nil {
			return domain.Member{}, err
		}
		earned.Add(earned, amount)
	}

	return domain.Member{
		Address:       addr,
		UserID:        info.ID,
		JoinedAt:      info.RegistrationTime,
		PartnersCount: info.PartnersCount,
		X4Levels:      x4.Count(),
		XXXLevels:     xxx.Count(),
		TotalEarned:   earned,
	}, nil
}

// fold computes the statistics over the resolved members. directCount is
// the full referral count including failed lookups; the earnings figures
// cover resolved members only.
func (a *Aggregator) fold(members []domain.Member, directCount int) domain.Stats {
	stats := domain.Stats{
		DirectReferrals:      directCount,
		TotalNetwork:         directCount,
		TotalTeamEarnings:    new(big.Int),
		AvgEarningsPerMember: new(big.Int),
	}

	cutoff := a.now().Add(-recentWindow)
	for _, m := range members {
		if m.Active() {
			stats.ActiveMembers++
		}
		if m.JoinedAt.After(cutoff) {
			stats.ThisMonthReferrals++
		}
		if m.TotalEarned != nil {
			stats.TotalTeamEarnings.Add(stats.TotalTeamEarnings, m.TotalEarned)
		}
		stats.TotalNetwork += int(m.PartnersCount)
	}

	if len(members) > 0 {
		stats.AvgEarningsPerMember.Div(stats.TotalTeamEarnings, big.NewInt(int64(len(members))))
	}
	return stats
}
