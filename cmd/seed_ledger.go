package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"token-collector/internal/config"
	"token-collector/internal/ledger/memory"
	"token-collector/internal/logger"
)

// seedLedger preloads the in-memory ledger with the configured balances and
// the approvals holders grant the collector at spender.
func seedLedger(l *memory.Ledger, spender common.Address, seeds []config.LedgerSeed) error {
	for _, seed := range seeds {
		if err := l.Mint(seed.Asset, seed.Holder, seed.Balance); err != nil {
			return fmt.Errorf("failed to mint %s to %s: %w", seed.Asset.Hex(), seed.Holder.Hex(), err)
		}
		if seed.Allowance != nil {
			if err := l.Approve(seed.Asset, seed.Holder, spender, seed.Allowance); err != nil {
				return fmt.Errorf("failed to approve %s for %s: %w", seed.Asset.Hex(), seed.Holder.Hex(), err)
			}
		}
	}

	if len(seeds) > 0 {
		logger.GetLogger().Info().
			Int("holdings", len(seeds)).
			Str("spender", spender.Hex()).
			Msg("Seeded in-memory ledger")
	}
	return nil
}
