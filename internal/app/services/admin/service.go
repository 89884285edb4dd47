// Package admin exposes the owner-gated contract operations. Ownership is
// re-read from the contract on every call; the contract enforces it anyway,
// but failing locally gives a clean error instead of a revert.
package admin

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/linktum-network/matrix-service/internal/app/domain/matrix"
	"github.com/linktum-network/matrix-service/internal/chain"
	"github.com/linktum-network/matrix-service/pkg/logger"
)

// ErrNotOwner rejects administrative calls from a non-owner signer.
var ErrNotOwner = errors.New("admin: signer is not the contract owner")

// Service wraps the administrative contract writes.
type Service struct {
	gateway chain.Gateway
	log     *logger.Logger
}

// New constructs the admin service.
func New(gateway chain.Gateway, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("admin")
	}
	return &Service{gateway: gateway, log: log}
}

// requireOwner checks the connected signer against a fresh owner read.
func (s *Service) requireOwner(ctx context.Context) (common.Address, error) {
	signer, ok := s.gateway.SignerAddress()
	if !ok {
		return common.Address{}, errors.New("admin: no signing identity connected")
	}
	owner, err := s.gateway.Owner(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("reading contract owner: %w", err)
	}
	if signer != owner {
		return common.Address{}, ErrNotOwner
	}
	return signer, nil
}

// IsOwner reports whether the connected signer owns the contract.
func (s *Service) IsOwner(ctx context.Context) (bool, error) {
	_, err := s.requireOwner(ctx)
	if errors.Is(err, ErrNotOwner) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// submit runs an owner-gated write through to confirmation.
func (s *Service) submit(ctx context.Context, action string, write func(context.Context) (chain.PendingWrite, error)) (string, error) {
	signer, err := s.requireOwner(ctx)
	if err != nil {
		return "", err
	}

	pending, err := write(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", action, err)
	}
	hash := pending.Hash().Hex()
	s.log.WithField("action", action).
		WithField("signer", signer.Hex()).
		WithField("tx", hash).
		Info("administrative write submitted")

	if err := pending.Await(ctx); err != nil {
		return hash, fmt.Errorf("%s confirmation: %w", action, err)
	}
	return hash, nil
}

// Pause halts user-facing contract operations.
func (s *Service) Pause(ctx context.Context) (string, error) {
	return s.submit(ctx, "pause", s.gateway.PauseContract)
}

// Activate resumes user-facing contract operations.
func (s *Service) Activate(ctx context.Context) (string, error) {
	return s.submit(ctx, "activate", s.gateway.ActivateContract)
}

// SetLevelCost updates the price of one level. The cost is scaled.
func (s *Service) SetLevelCost(ctx context.Context, level int, cost *big.Int) (string, error) {
	if err := matrix.ValidateLevel(level); err != nil {
		return "", err
	}
	if cost == nil || cost.Sign() <= 0 {
		return "", fmt.Errorf("level cost must be positive, got %v", cost)
	}
	return s.submit(ctx, "set_level_cost", func(ctx context.Context) (chain.PendingWrite, error) {
		return s.gateway.UpdateLevelCost(ctx, level, cost)
	})
}

// Withdraw drains the given scaled amount to the owner.
func (s *Service) Withdraw(ctx context.Context, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("withdraw amount must be positive, got %v", amount)
	}
	return s.submit(ctx, "emergency_withdraw", func(ctx context.Context) (chain.PendingWrite, error) {
		return s.gateway.EmergencyWithdraw(ctx, amount)
	})
}
