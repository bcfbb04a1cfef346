package collector

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// checkAuthorization confirms user approved the collector for at least the threshold
func (c *Collector) checkAuthorization(ctx context.Context, asset, user common.Address) error {
	allowance, err := c.ledger.Allowance(ctx, asset, user, c.self)
	if err != nil {
		return fmt.Errorf("failed to read allowance of %s: %w", user.Hex(), err)
	}
	if !covers(allowance, c.threshold) {
		return ErrNoAuthorizationGranted
	}
	return nil
}

// covers reports whether have >= want, treating nil as zero
func covers(have, want *big.Int) bool {
	if have == nil {
		return want.Sign() <= 0
	}
	return have.Cmp(want) >= 0
}
