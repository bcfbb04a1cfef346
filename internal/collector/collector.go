// Package collector implements the role-gated pull-payment collector: an owner
// and a set of master addresses, a per-asset registry of users who approved
// the collector as spender, and a batch withdrawal that sweeps their balances.
//
// Mutating calls are serialized by one mutex, so a caller observes either the
// whole effect of a call or none of it. Role and registry state sits behind a
// separate RWMutex that is only held while memory is read or changed; queries
// never wait on ledger or store I/O of a running withdrawal or registration.
package collector

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"token-collector/internal/interfaces"
	"token-collector/internal/logger"
	"token-collector/internal/metrics"
	"token-collector/internal/models"
)

type Collector struct {
	// ops serializes mutating calls
	ops sync.Mutex
	// mu guards roles and registry. Writers also hold ops.
	mu sync.RWMutex

	// self is the spender address users approve
	self      common.Address
	ledger    interfaces.AssetLedger
	roles     *roleStore
	registry  *userRegistry
	threshold *big.Int

	store   interfaces.Store
	emitter interfaces.EventEmitter
	logger  *zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a collector owned by owner that pulls funds as spender self
func New(self, owner common.Address, ledger interfaces.AssetLedger, opts ...Option) (*Collector, error) {
	if ledger == nil {
		return nil, errors.New("asset ledger is required")
	}
	if self == (common.Address{}) {
		return nil, fmt.Errorf("collector address: %w", ErrInvalidAddress)
	}
	if owner == (common.Address{}) {
		return nil, ErrInvalidOwner
	}

	c := &Collector{
		self:      self,
		ledger:    ledger,
		roles:     newRoleStore(owner),
		registry:  newUserRegistry(),
		threshold: new(big.Int).Set(DefaultAuthorizationThreshold),
		logger:    logger.Component("collector"),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Open restores a collector from its store. When the store holds no state yet,
// defaultOwner becomes the owner and is persisted.
func Open(ctx context.Context, self, defaultOwner common.Address, ledger interfaces.AssetLedger, opts ...Option) (*Collector, error) {
	c, err := New(self, defaultOwner, ledger, opts...)
	if err != nil {
		return nil, err
	}
	if c.store == nil {
		return c, nil
	}

	state, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load collector state: %w", err)
	}

	if state.Empty() {
		if err := c.store.SaveOwner(ctx, defaultOwner); err != nil {
			return nil, fmt.Errorf("failed to persist initial owner: %w", err)
		}
		c.logger.Info().
			Str("owner", defaultOwner.Hex()).
			Msg("Initialized collector state")
		return c, nil
	}

	c.restore(state)
	c.logger.Info().
		Str("owner", state.Owner.Hex()).
		Int("masters", len(state.Masters)).
		Int("assets", len(state.Users)).
		Msg("Restored collector state")

	return c, nil
}

func (c *Collector) restore(state *models.State) {
	c.roles = newRoleStore(state.Owner)
	for _, m := range state.Masters {
		c.roles.addMaster(m)
	}
	c.registry = newUserRegistry()
	for asset, users := range state.Users {
		for _, u := range users {
			c.registry.add(asset, u)
		}
	}
}

// Address returns the spender address users must approve
func (c *Collector) Address() common.Address {
	return c.self
}

// AuthorizationThreshold returns the minimum allowance required to register
func (c *Collector) AuthorizationThreshold() *big.Int {
	return new(big.Int).Set(c.threshold)
}

// persist runs fn against the store, if any
func (c *Collector) persist(fn func(interfaces.Store) error) error {
	if c.store == nil {
		return nil
	}
	if err := fn(c.store); err != nil {
		return fmt.Errorf("failed to persist collector state: %w", err)
	}
	return nil
}

func (c *Collector) emit(kind models.EventKind, actor, subject, asset common.Address, amount *big.Int) {
	if c.emitter == nil {
		return
	}

	event := models.CollectorEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Actor:     actor,
		Subject:   subject,
		Asset:     asset,
		Amount:    amount,
		Timestamp: c.now().UTC(),
	}

	if err := c.emitter.EmitEvent(event); err != nil {
		c.logger.Error().
			Err(err).
			Str("kind", kind.String()).
			Str("eventID", event.ID).
			Msg("Error emitting collector event")
	}
}

// reject logs and counts a refused call, returning err unchanged
func (c *Collector) reject(op string, caller common.Address, err error) error {
	c.metrics.Rejection(op, reason(err))
	c.logger.Warn().
		Err(err).
		Str("operation", op).
		Str("caller", caller.Hex()).
		Msg("Collector call rejected")
	return err
}
