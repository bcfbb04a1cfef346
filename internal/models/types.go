package models

import (
	"github.com/ethereum/go-ethereum/common"
)

// State is the persisted collector state
type State struct {
	Owner   common.Address
	Masters []common.Address
	// Users holds registered users per asset in registration order
	Users map[common.Address][]common.Address
}

// Empty reports whether nothing has been persisted yet
func (s *State) Empty() bool {
	return s == nil || s.Owner == (common.Address{})
}
