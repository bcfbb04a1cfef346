package interfaces

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"token-collector/internal/models"
)

// EventEmitter defines the interface for emitting collector events
type EventEmitter interface {
	EmitEvent(event models.CollectorEvent) error
}

// AssetLedger is the balance and allowance source for fungible assets.
// Calls must be synchronous and strongly consistent at call time.
type AssetLedger interface {
	BalanceOf(ctx context.Context, asset, holder common.Address) (*big.Int, error)
	Allowance(ctx context.Context, asset, holder, spender common.Address) (*big.Int, error)
	// TransferFrom moves amount from `from` to `to` using the allowance granted to spender
	TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount *big.Int) error
}

// AtomicLedger is an AssetLedger that can apply a group of calls all-or-nothing.
// If fn returns an error none of the transfers made through the passed ledger are kept.
type AtomicLedger interface {
	AssetLedger
	Atomically(ctx context.Context, fn func(AssetLedger) error) error
}

// Store persists collector state
type Store interface {
	Load(ctx context.Context) (*models.State, error)
	SaveOwner(ctx context.Context, owner common.Address) error
	AddMaster(ctx context.Context, addr common.Address) error
	RemoveMaster(ctx context.Context, addr common.Address) error
	AddUser(ctx context.Context, asset, user common.Address) error
	RecordWithdrawal(ctx context.Context, w *models.Withdrawal) error
}

// HeadReporter reports the latest block the ledger backend has seen
type HeadReporter interface {
	Name() string
	BlockHead(ctx context.Context) (uint64, error)
}
