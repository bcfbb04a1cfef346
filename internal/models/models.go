package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind identifies a collector state change
type EventKind string

const (
	OwnershipTransferred EventKind = "ownership_transferred"
	MasterAdded          EventKind = "master_added"
	MasterRemoved        EventKind = "master_removed"
	UserRegistered       EventKind = "user_registered"
	WithdrawalCompleted  EventKind = "withdrawal"
	WithdrawalPartial    EventKind = "withdrawal_partial"
)

func (k EventKind) String() string {
	return string(k)
}

// CollectorEvent represents a committed collector state change
type CollectorEvent struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	Actor     common.Address `json:"actor"`
	Subject   common.Address `json:"subject"`
	Asset     common.Address `json:"asset,omitempty"`
	Amount    *big.Int       `json:"amount,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Key returns the partition key used when publishing the event
func (e CollectorEvent) Key() string {
	if e.Asset != (common.Address{}) {
		return e.Asset.Hex()
	}
	return e.Subject.Hex()
}

// Pull is a single amount moved from a user during a withdrawal
type Pull struct {
	From   common.Address `json:"from"`
	Amount *big.Int       `json:"amount"`
}

// Withdrawal is the receipt of one batch withdrawal
type Withdrawal struct {
	Asset     common.Address `json:"asset"`
	Recipient common.Address `json:"recipient"`
	Total     *big.Int       `json:"total"`
	Pulls     []Pull         `json:"pulls"`
	Skipped   int            `json:"skipped"`
	Timestamp time.Time      `json:"timestamp"`
}
