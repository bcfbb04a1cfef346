package collector

import (
	"bytes"
	"context"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"token-collector/internal/interfaces"
	"token-collector/internal/models"
)

type roleStore struct {
	owner   common.Address
	masters map[common.Address]struct{}
}

func newRoleStore(owner common.Address) *roleStore {
	return &roleStore{
		owner:   owner,
		masters: make(map[common.Address]struct{}),
	}
}

func (r *roleStore) isOwner(addr common.Address) bool {
	return addr == r.owner
}

func (r *roleStore) isMaster(addr common.Address) bool {
	_, ok := r.masters[addr]
	return ok
}

func (r *roleStore) addMaster(addr common.Address) {
	r.masters[addr] = struct{}{}
}

func (r *roleStore) removeMaster(addr common.Address) {
	delete(r.masters, addr)
}

func (r *roleStore) masterList() []common.Address {
	out := make([]common.Address, 0, len(r.masters))
	for addr := range r.masters {
		out = append(out, addr)
	}
	sortAddresses(out)
	return out
}

func sortAddresses(list []common.Address) {
	slices.SortFunc(list, func(a, b common.Address) int {
		return bytes.Compare(a[:], b[:])
	})
}

func (c *Collector) Owner() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roles.owner
}

func (c *Collector) IsMasterAddress(addr common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roles.isMaster(addr)
}

// MasterAddresses returns the master set in byte order
func (c *Collector) MasterAddresses() []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roles.masterList()
}

func (c *Collector) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	const op = "transfer_ownership"

	if err := c.requireOwner(caller); err != nil {
		return c.reject(op, caller, err)
	}
	if newOwner == (common.Address{}) {
		return c.reject(op, caller, ErrInvalidOwner)
	}

	err := c.persist(func(s interfaces.Store) error {
		return s.SaveOwner(ctx, newOwner)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	previous := c.roles.owner
	c.roles.owner = newOwner
	c.mu.Unlock()

	c.metrics.Operation(op)
	c.logger.Info().
		Str("previousOwner", previous.Hex()).
		Str("newOwner", newOwner.Hex()).
		Msg("Ownership transferred")
	c.emit(models.OwnershipTransferred, previous, newOwner, common.Address{}, nil)

	return nil
}

func (c *Collector) AddMasterAddress(ctx context.Context, caller, addr common.Address) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	const op = "add_master"

	if err := c.requireOwner(caller); err != nil {
		return c.reject(op, caller, err)
	}
	if addr == (common.Address{}) {
		return c.reject(op, caller, ErrInvalidAddress)
	}
	if c.roles.isMaster(addr) {
		return c.reject(op, caller, ErrAlreadyMaster)
	}

	err := c.persist(func(s interfaces.Store) error {
		return s.AddMaster(ctx, addr)
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.roles.addMaster(addr)
	c.mu.Unlock()

	c.metrics.Operation(op)
	c.logger.Info().Str("master", addr.Hex()).Msg("Master address added")
	c.emit(models.MasterAdded, caller, addr, common.Address{}, nil)

	return nil
}

func (c *Collector) RemoveMasterAddress(ctx context.Context, caller, addr common.Address) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	const op = "remove_master"

	if err := c.requireOwner(caller); err != nil {
		return c.reject(op, caller, err)
	}
	if !c.roles.isMaster(addr) {
		return c.reject(op, caller, ErrNotMaster)
	}

	err := c.persist(func(s interfaces.Store) error {
		return s.RemoveMaster(ctx, addr)
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.roles.removeMaster(addr)
	c.mu.Unlock()

	c.metrics.Operation(op)
	c.logger.Info().Str("master", addr.Hex()).Msg("Master address removed")
	c.emit(models.MasterRemoved, caller, addr, common.Address{}, nil)

	return nil
}
