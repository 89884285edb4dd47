package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// pendingWrite polls for the receipt of a submitted transaction. A missing
// receipt is transient and retried until the caller's context expires; the
// gateway imposes no timeout of its own.
type pendingWrite struct {
	client *Client
	hash   common.Hash
}

var _ PendingWrite = (*pendingWrite)(nil)

func (p *pendingWrite) Hash() common.Hash { return p.hash }

func (p *pendingWrite) Await(ctx context.Context) error {
	interval := p.client.cfg.ConfirmInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			receipt, err := p.client.eth.TransactionReceipt(ctx, p.hash)
			if err != nil {
				if errors.Is(err, ethereum.NotFound) {
					continue
				}
				return fmt.Errorf("fetch receipt %s: %w", p.hash.Hex(), err)
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted (receipt status %d)", p.hash.Hex(), receipt.Status)
			}
			return nil
		}
	}
}
