package collector

import (
	"github.com/ethereum/go-ethereum/common"
)

// requireOwner and requireMaster run first in every mutating call.
// Callers must hold c.ops.

func (c *Collector) requireOwner(caller common.Address) error {
	if !c.roles.isOwner(caller) {
		return &AccessError{Caller: caller, Err: ErrNotOwner}
	}
	return nil
}

func (c *Collector) requireMaster(caller common.Address) error {
	if !c.roles.isMaster(caller) {
		return &AccessError{Caller: caller, Err: ErrNotMaster}
	}
	return nil
}
