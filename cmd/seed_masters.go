package main

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"token-collector/internal/collector"
	"token-collector/internal/logger"
)

// seedMasterAddresses adds the configured master addresses on behalf of the
// owner. Addresses that are already masters are left alone.
func seedMasterAddresses(ctx context.Context, c *collector.Collector, masters []common.Address) {
	owner := c.Owner()

	for _, addr := range masters {
		err := c.AddMasterAddress(ctx, owner, addr)
		switch {
		case err == nil:
			logger.GetLogger().Info().
				Str("master", addr.Hex()).
				Msg("Seeded master address")
		case errors.Is(err, collector.ErrAlreadyMaster):
			continue
		default:
			logger.GetLogger().Error().
				Err(err).
				Str("master", addr.Hex()).
				Msg("Error adding master address")
		}
	}
}
