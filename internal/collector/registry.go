package collector

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"token-collector/internal/interfaces"
	"token-collector/internal/models"
)

// userRegistry keeps registered users per asset in registration order.
// Entries are never removed.
type userRegistry struct {
	users map[common.Address][]common.Address
	index map[common.Address]map[common.Address]struct{}
}

func newUserRegistry() *userRegistry {
	return &userRegistry{
		users: make(map[common.Address][]common.Address),
		index: make(map[common.Address]map[common.Address]struct{}),
	}
}

func (r *userRegistry) contains(asset, user common.Address) bool {
	_, ok := r.index[asset][user]
	return ok
}

// add appends user and reports false when it was already present
func (r *userRegistry) add(asset, user common.Address) bool {
	if r.contains(asset, user) {
		return false
	}
	if r.index[asset] == nil {
		r.index[asset] = make(map[common.Address]struct{})
	}
	r.index[asset][user] = struct{}{}
	r.users[asset] = append(r.users[asset], user)
	return true
}

func (r *userRegistry) list(asset common.Address) []common.Address {
	users := r.users[asset]
	out := make([]common.Address, len(users))
	copy(out, users)
	return out
}

func (r *userRegistry) count(asset common.Address) int {
	return len(r.users[asset])
}

func (r *userRegistry) assets() []common.Address {
	out := make([]common.Address, 0, len(r.users))
	for asset := range r.users {
		out = append(out, asset)
	}
	sortAddresses(out)
	return out
}

// RegisterUser registers caller for asset. The caller must have approved the
// collector for at least the authorization threshold.
func (c *Collector) RegisterUser(ctx context.Context, caller, asset common.Address) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	const op = "register_user"

	if asset == (common.Address{}) || caller == (common.Address{}) {
		return c.reject(op, caller, ErrInvalidAddress)
	}
	if err := c.checkAuthorization(ctx, asset, caller); err != nil {
		return c.reject(op, caller, err)
	}
	if c.registry.contains(asset, caller) {
		return c.reject(op, caller, ErrAlreadyRegistered)
	}

	err := c.persist(func(s interfaces.Store) error {
		return s.AddUser(ctx, asset, caller)
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.registry.add(asset, caller)
	c.mu.Unlock()

	c.metrics.Operation(op)
	c.metrics.Registration(asset.Hex())
	c.logger.Info().
		Str("asset", asset.Hex()).
		Str("user", caller.Hex()).
		Int("userCount", c.registry.count(asset)).
		Msg("User registered")
	c.emit(models.UserRegistered, caller, caller, asset, nil)

	return nil
}

// UsersByAsset returns the users registered for asset in registration order
func (c *Collector) UsersByAsset(asset common.Address) []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.list(asset)
}

func (c *Collector) UserCountByAsset(asset common.Address) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.count(asset)
}

// IsRegistered reports whether user is registered for asset
func (c *Collector) IsRegistered(asset, user common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.contains(asset, user)
}

// AddressesEligibleForCollection returns the list to hand to Withdraw.
// Currently the full registry for asset; never nil.
func (c *Collector) AddressesEligibleForCollection(asset common.Address) []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.list(asset)
}

// Assets returns every asset with at least one registered user
func (c *Collector) Assets() []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry.assets()
}
