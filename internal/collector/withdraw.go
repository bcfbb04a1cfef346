package collector

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"token-collector/internal/interfaces"
	"token-collector/internal/models"
)

// Withdraw pulls the full balance of asset from every address in addresses to
// caller, who must be a master address. Addresses are visited once, in order;
// zero balances are skipped. The batch is all-or-nothing: every allowance is
// checked before the first pull, and on an AtomicLedger the pulls themselves
// are applied atomically. An empty list collects zero.
func (c *Collector) Withdraw(ctx context.Context, caller, asset common.Address, addresses []common.Address) (*models.Withdrawal, error) {
	c.ops.Lock()
	defer c.ops.Unlock()

	const op = "withdraw"
	started := time.Now()

	if err := c.requireMaster(caller); err != nil {
		return nil, c.reject(op, caller, err)
	}

	receipt := &models.Withdrawal{
		Asset:     asset,
		Recipient: caller,
		Total:     new(big.Int),
		Pulls:     []models.Pull{},
		Timestamp: c.now().UTC(),
	}

	if len(addresses) == 0 {
		c.logger.Debug().
			Str("asset", asset.Hex()).
			Msg("Withdrawal with no addresses, nothing to collect")
		c.metrics.Operation(op)
		return receipt, nil
	}

	plan, skipped, err := c.planWithdrawal(ctx, asset, addresses)
	if err != nil {
		return nil, c.reject(op, caller, err)
	}
	receipt.Skipped = skipped

	if err := c.applyWithdrawal(ctx, asset, caller, plan); err != nil {
		var partial *PartialWithdrawalError
		if errors.As(err, &partial) {
			c.settle(ctx, receipt, partial.Pulled, models.WithdrawalPartial)
			c.metrics.Withdrawal(asset.Hex(), len(addresses), len(partial.Pulled), time.Since(started))
		}
		return nil, c.reject(op, caller, err)
	}

	c.settle(ctx, receipt, plan, models.WithdrawalCompleted)

	c.metrics.Operation(op)
	c.metrics.Withdrawal(asset.Hex(), len(addresses), len(plan), time.Since(started))
	c.logger.Info().
		Str("asset", asset.Hex()).
		Str("recipient", caller.Hex()).
		Int("addresses", len(addresses)).
		Int("pulled", len(plan)).
		Int("skipped", skipped).
		Str("total", receipt.Total.String()).
		Msg("Withdrawal completed")

	return receipt, nil
}

// settle fills receipt with the pulls that moved funds, then records and
// announces it. A failed record is logged only: the funds already moved.
func (c *Collector) settle(ctx context.Context, receipt *models.Withdrawal, pulled []models.Pull, kind models.EventKind) {
	for _, p := range pulled {
		receipt.Total.Add(receipt.Total, p.Amount)
	}
	receipt.Pulls = pulled

	if len(pulled) == 0 {
		return
	}

	if err := c.persist(func(s interfaces.Store) error {
		return s.RecordWithdrawal(ctx, receipt)
	}); err != nil {
		c.logger.Error().
			Err(err).
			Str("asset", receipt.Asset.Hex()).
			Str("kind", kind.String()).
			Msg("Failed to record withdrawal")
	}
	c.emit(kind, receipt.Recipient, receipt.Recipient, receipt.Asset, new(big.Int).Set(receipt.Total))
}

// planWithdrawal reads every balance and allowance before anything moves.
// Repeated addresses and zero balances are counted as skipped.
func (c *Collector) planWithdrawal(ctx context.Context, asset common.Address, addresses []common.Address) ([]models.Pull, int, error) {
	plan := make([]models.Pull, 0, len(addresses))
	seen := make(map[common.Address]struct{}, len(addresses))
	skipped := 0

	for _, addr := range addresses {
		if _, dup := seen[addr]; dup || addr == (common.Address{}) {
			skipped++
			continue
		}
		seen[addr] = struct{}{}

		balance, err := c.ledger.BalanceOf(ctx, asset, addr)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read balance of %s: %w", addr.Hex(), err)
		}
		if balance == nil || balance.Sign() == 0 {
			skipped++
			continue
		}

		allowance, err := c.ledger.Allowance(ctx, asset, addr, c.self)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read allowance of %s: %w", addr.Hex(), err)
		}
		if !covers(allowance, balance) {
			return nil, 0, fmt.Errorf("%w: %s approved %s of balance %s",
				ErrInsufficientAuthorization, addr.Hex(), amountString(allowance), balance.String())
		}

		plan = append(plan, models.Pull{From: addr, Amount: new(big.Int).Set(balance)})
	}

	return plan, skipped, nil
}

func (c *Collector) applyWithdrawal(ctx context.Context, asset, recipient common.Address, plan []models.Pull) error {
	if len(plan) == 0 {
		return nil
	}

	if atomic, ok := c.ledger.(interfaces.AtomicLedger); ok {
		return atomic.Atomically(ctx, func(l interfaces.AssetLedger) error {
			for _, p := range plan {
				if err := l.TransferFrom(ctx, asset, c.self, p.From, recipient, p.Amount); err != nil {
					return fmt.Errorf("failed to pull from %s: %w", p.From.Hex(), err)
				}
			}
			return nil
		})
	}

	for i, p := range plan {
		if err := c.ledger.TransferFrom(ctx, asset, c.self, p.From, recipient, p.Amount); err != nil {
			if i == 0 {
				return fmt.Errorf("failed to pull from %s: %w", p.From.Hex(), err)
			}
			return &PartialWithdrawalError{
				Asset:  asset,
				Pulled: plan[:i],
				Failed: p.From,
				Err:    err,
			}
		}
	}

	return nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
