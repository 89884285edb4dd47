// Package testutil provides a scriptable in-memory ledger gateway for
// service tests.
package testutil

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/linktum-network/matrix-service/internal/app/domain/matrix"
	"github.com/linktum-network/matrix-service/internal/chain"
)

func key3(addr common.Address, program matrix.Program, level int) string {
	return fmt.Sprintf("%s/%d/%d", addr.Hex(), program, level)
}

func key2(addr common.Address, program matrix.Program) string {
	return fmt.Sprintf("%s/%d", addr.Hex(), program)
}

// FakePending is a pending write whose resolution the test controls. With a
// nil Release channel it resolves immediately.
type FakePending struct {
	TxHash  common.Hash
	Err     error
	Release chan struct{}
	applied func()
}

func (p *FakePending) Hash() common.Hash { return p.TxHash }

func (p *FakePending) Await(ctx context.Context) error {
	if p.Release != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Release:
		}
	}
	if p.Err != nil {
		return p.Err
	}
	if p.applied != nil {
		p.applied()
	}
	return nil
}

// FakeGateway implements chain.Gateway over in-memory maps. All fields are
// safe to mutate before use; the gateway locks internally afterwards.
type FakeGateway struct {
	mu sync.Mutex

	Signer    common.Address
	HasSigner bool

	Registered map[common.Address]bool
	Users      map[common.Address]chain.UserInfo
	Costs      []*big.Int
	Active     map[string]bool
	Matrices   map[string]chain.MatrixInfo
	Referrals  map[string][][]common.Address
	Earnings   map[string]*big.Int
	Directs    map[common.Address][]common.Address
	Balances   map[common.Address]*big.Int
	Allowances map[common.Address]*big.Int

	Total    uint64
	Turnover *big.Int
	IsActive bool
	Admin    common.Address
	Symbol   string

	// FailAddrs makes every per-address read for those addresses fail.
	FailAddrs map[common.Address]bool
	// ReadDelay stalls per-address reads, for concurrency assertions.
	ReadDelay time.Duration

	// WriteErr fails the next submit; ConfirmErr fails its confirmation.
	WriteErr   error
	ConfirmErr error
	// HoldWrites makes pending writes block until released by the test.
	HoldWrites bool

	// Captured writes.
	Approvals     []*big.Int
	Registrations []common.Address
	Purchases     [][2]int
	AdminCalls    []string

	// Pending writes handed out, in order.
	Pending []*FakePending

	// Read concurrency tracking.
	inFlight    int
	MaxInFlight int
	ReadCount   int
}

var _ chain.Gateway = (*FakeGateway)(nil)

// NewFakeGateway returns a gateway with a connected signer and sensible
// defaults: active contract, 12 level costs of (5, 10, 20, ...) tokens.
func NewFakeGateway() *FakeGateway {
	costs := make([]*big.Int, matrix.MaxLevel)
	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	cost := new(big.Int).Mul(big.NewInt(5), base)
	for i := range costs {
		costs[i] = new(big.Int).Set(cost)
		cost = new(big.Int).Mul(cost, big.NewInt(2))
	}

	return &FakeGateway{
		Signer:     common.HexToAddress("0x00000000000000000000000000000000000000A1"),
		HasSigner:  true,
		Registered: make(map[common.Address]bool),
		Users:      make(map[common.Address]chain.UserInfo),
		Costs:      costs,
		Active:     make(map[string]bool),
		Matrices:   make(map[string]chain.MatrixInfo),
		Referrals:  make(map[string][][]common.Address),
		Earnings:   make(map[string]*big.Int),
		Directs:    make(map[common.Address][]common.Address),
		Balances:   make(map[common.Address]*big.Int),
		Allowances: make(map[common.Address]*big.Int),
		FailAddrs:  make(map[common.Address]bool),
		Turnover:   new(big.Int),
		IsActive:   true,
		Symbol:     "LINKTUM",
	}
}

// SetEarnings sets the (addr, program) earnings figure.
func (g *FakeGateway) SetEarnings(addr common.Address, program matrix.Program, amount *big.Int) {
	g.Earnings[key2(addr, program)] = new(big.Int).Set(amount)
}

// SetActiveLevels marks levels 1..n active for (addr, program).
func (g *FakeGateway) SetActiveLevels(addr common.Address, program matrix.Program, n int) {
	for level := 1; level <= n; level++ {
		g.Active[key3(addr, program, level)] = true
	}
}

// perAddr guards a per-address read: tracks concurrency, applies the delay
// and injected failure.
func (g *FakeGateway) perAddr(ctx context.Context, addr common.Address) error {
	g.mu.Lock()
	g.ReadCount++
	g.inFlight++
	if g.inFlight > g.MaxInFlight {
		g.MaxInFlight = g.inFlight
	}
	delay := g.ReadDelay
	fail := g.FailAddrs[addr]
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if fail {
		return fmt.Errorf("injected failure for %s", addr.Hex())
	}
	return nil
}

func (g *FakeGateway) IsRegistered(ctx context.Context, addr common.Address) (bool, error) {
	if err := g.perAddr(ctx, addr); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Registered[addr], nil
}

func (g *FakeGateway) UserInfo(ctx context.Context, addr common.Address) (chain.UserInfo, error) {
	if err := g.perAddr(ctx, addr); err != nil {
		return chain.UserInfo{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Users[addr], nil
}

func (g *FakeGateway) LevelCosts(_ context.Context, _ matrix.Program) ([]*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Costs, nil
}

func (g *FakeGateway) LevelCost(ctx context.Context, program matrix.Program, level int) (*big.Int, error) {
	if err := matrix.ValidateLevel(level); err != nil {
		return nil, err
	}
	costs, err := g.LevelCosts(ctx, program)
	if err != nil {
		return nil, err
	}
	return costs[level-1], nil
}

func (g *FakeGateway) IsLevelActive(ctx context.Context, addr common.Address, program matrix.Program, level int) (bool, error) {
	if err := g.perAddr(ctx, addr); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Active[key3(addr, program, level)], nil
}

func (g *FakeGateway) ActiveLevels(ctx context.Context, addr common.Address, program matrix.Program) (matrix.LevelSet, error) {
	if err := g.perAddr(ctx, addr); err != nil {
		return matrix.LevelSet{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var set matrix.LevelSet
	for level := 1; level <= matrix.MaxLevel; level++ {
		set[level] = g.Active[key3(addr, program, level)]
	}
	return set, nil
}

func (g *FakeGateway) MatrixInfo(ctx context.Context, addr common.Address, program matrix.Program, level int) (chain.MatrixInfo, error) {
	if err := g.perAddr(ctx, addr); err != nil {
		return chain.MatrixInfo{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Matrices[key3(addr, program, level)], nil
}

func (g *FakeGateway) MatrixReferrals(ctx context.Context, addr common.Address, program matrix.Program, level int) ([][]common.Address, error) {
	if err := g.perAddr(ctx, addr); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if tiers, ok := g.Referrals[key3(addr, program, level)]; ok {
		return tiers, nil
	}
	layout, err := matrix.TierLayout(program)
	if err != nil {
		return nil, err
	}
	return make([][]common.Address, len(layout)), nil
}

func (g *FakeGateway) ProgramEarnings(ctx context.Context, addr common.Address, program matrix.Program) (*big.Int, error) {
	if err := g.perAddr(ctx, addr); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.Earnings[key2(addr, program)]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (g *FakeGateway) DirectReferrals(_ context.Context, addr common.Address) ([]common.Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Directs[addr], nil
}

func (g *FakeGateway) TotalUsers(_ context.Context) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Total, nil
}

func (g *FakeGateway) TotalTurnover(_ context.Context) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return new(big.Int).Set(g.Turnover), nil
}

func (g *FakeGateway) ContractActive(_ context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.IsActive, nil
}

func (g *FakeGateway) Owner(_ context.Context) (common.Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Admin, nil
}

func (g *FakeGateway) TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if err := g.perAddr(ctx, addr); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.Balances[addr]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (g *FakeGateway) TokenAllowance(_ context.Context, owner common.Address) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.Allowances[owner]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (g *FakeGateway) TokenSymbol(_ context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Symbol, nil
}

func (g *FakeGateway) newPending(applied func()) *FakePending {
	p := &FakePending{
		TxHash:  common.BytesToHash(big.NewInt(int64(len(g.Pending) + 1)).Bytes()),
		Err:     g.ConfirmErr,
		applied: applied,
	}
	if g.HoldWrites {
		p.Release = make(chan struct{})
	}
	g.Pending = append(g.Pending, p)
	return p
}

func (g *FakeGateway) Approve(_ context.Context, amount *big.Int) (chain.PendingWrite, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.WriteErr != nil {
		return nil, g.WriteErr
	}
	g.Approvals = append(g.Approvals, new(big.Int).Set(amount))
	owner := g.Signer
	granted := new(big.Int).Set(amount)
	return g.newPending(func() {
		g.mu.Lock()
		g.Allowances[owner] = granted
		g.mu.Unlock()
	}), nil
}

func (g *FakeGateway) Register(_ context.Context, referrer common.Address) (chain.PendingWrite, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.WriteErr != nil {
		return nil, g.WriteErr
	}
	g.Registrations = append(g.Registrations, referrer)
	account := g.Signer
	return g.newPending(func() {
		g.mu.Lock()
		g.Registered[account] = true
		g.mu.Unlock()
	}), nil
}

func (g *FakeGateway) BuyLevel(_ context.Context, program matrix.Program, level int) (chain.PendingWrite, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.WriteErr != nil {
		return nil, g.WriteErr
	}
	g.Purchases = append(g.Purchases, [2]int{int(program), level})
	account := g.Signer
	return g.newPending(func() {
		g.mu.Lock()
		g.Active[key3(account, program, level)] = true
		g.mu.Unlock()
	}), nil
}

func (g *FakeGateway) adminWrite(name string) (chain.PendingWrite, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.WriteErr != nil {
		return nil, g.WriteErr
	}
	g.AdminCalls = append(g.AdminCalls, name)
	return g.newPending(nil), nil
}

func (g *FakeGateway) PauseContract(context.Context) (chain.PendingWrite, error) {
	return g.adminWrite("pause")
}

func (g *FakeGateway) ActivateContract(context.Context) (chain.PendingWrite, error) {
	return g.adminWrite("activate")
}

func (g *FakeGateway) UpdateLevelCost(_ context.Context, level int, cost *big.Int) (chain.PendingWrite, error) {
	return g.adminWrite(fmt.Sprintf("update_level_cost/%d/%s", level, cost))
}

func (g *FakeGateway) EmergencyWithdraw(_ context.Context, amount *big.Int) (chain.PendingWrite, error) {
	return g.adminWrite(fmt.Sprintf("emergency_withdraw/%s", amount))
}

func (g *FakeGateway) SignerAddress() (common.Address, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Signer, g.HasSigner
}
