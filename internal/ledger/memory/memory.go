// Package memory is an in-process ERC20 style ledger for several assets.
// It backs development runs without a chain and the collector tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"token-collector/internal/interfaces"
)

var (
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("amount must not be negative")
	ErrZeroAddress           = errors.New("zero address")
)

var (
	_ interfaces.AtomicLedger = (*Ledger)(nil)
	_ interfaces.AssetLedger  = (*view)(nil)
)

type Ledger struct {
	mu    sync.Mutex
	state *state
}

func NewLedger() *Ledger {
	return &Ledger{state: newState()}
}

func (l *Ledger) BalanceOf(_ context.Context, asset, holder common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.balanceOf(asset, holder), nil
}

func (l *Ledger) Allowance(_ context.Context, asset, holder, spender common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.allowance(asset, holder, spender), nil
}

func (l *Ledger) TransferFrom(_ context.Context, asset, spender, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.transferFrom(asset, spender, from, to, amount)
}

// Mint credits amount of asset to holder
func (l *Ledger) Mint(asset, holder common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if holder == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.state.credit(asset, holder, amount)
	return nil
}

// Approve sets the allowance holder grants spender, replacing any previous value
func (l *Ledger) Approve(asset, holder, spender common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if holder == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.state.setAllowance(asset, holder, spender, amount)
	return nil
}

// ApproveUnlimited grants spender a MaxUint256 allowance that is never spent down
func (l *Ledger) ApproveUnlimited(asset, holder, spender common.Address) error {
	return l.Approve(asset, holder, spender, math.MaxBig256)
}

// Transfer moves amount directly between holders
func (l *Ledger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.transfer(asset, from, to, amount)
}

// Atomically runs fn against a copy of the ledger and keeps the copy only if
// fn succeeds. The ledger is locked for the whole call.
func (l *Ledger) Atomically(ctx context.Context, fn func(interfaces.AssetLedger) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	scratch := l.state.clone()
	if err := fn(&view{state: scratch}); err != nil {
		return err
	}
	l.state = scratch
	return nil
}

// view exposes a state that is already guarded by the owning Ledger's lock
type view struct {
	state *state
}

func (v *view) BalanceOf(_ context.Context, asset, holder common.Address) (*big.Int, error) {
	return v.state.balanceOf(asset, holder), nil
}

func (v *view) Allowance(_ context.Context, asset, holder, spender common.Address) (*big.Int, error) {
	return v.state.allowance(asset, holder, spender), nil
}

func (v *view) TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return v.state.transferFrom(asset, spender, from, to, amount)
}

type allowanceKey struct {
	holder  common.Address
	spender common.Address
}

type book struct {
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

func newBook() *book {
	return &book{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

type state struct {
	books map[common.Address]*book
}

func newState() *state {
	return &state{books: make(map[common.Address]*book)}
}

func (s *state) book(asset common.Address) *book {
	b, ok := s.books[asset]
	if !ok {
		b = newBook()
		s.books[asset] = b
	}
	return b
}

func (s *state) clone() *state {
	out := newState()
	for asset, b := range s.books {
		nb := newBook()
		for k, v := range b.balances {
			nb.balances[k] = new(big.Int).Set(v)
		}
		for k, v := range b.allowances {
			nb.allowances[k] = new(big.Int).Set(v)
		}
		out.books[asset] = nb
	}
	return out
}

func (s *state) balanceOf(asset, holder common.Address) *big.Int {
	if b, ok := s.books[asset]; ok {
		if v, ok := b.balances[holder]; ok {
			return new(big.Int).Set(v)
		}
	}
	return new(big.Int)
}

func (s *state) allowance(asset, holder, spender common.Address) *big.Int {
	if b, ok := s.books[asset]; ok {
		if v, ok := b.allowances[allowanceKey{holder, spender}]; ok {
			return new(big.Int).Set(v)
		}
	}
	return new(big.Int)
}

func (s *state) setAllowance(asset, holder, spender common.Address, amount *big.Int) {
	s.book(asset).allowances[allowanceKey{holder, spender}] = new(big.Int).Set(amount)
}

func (s *state) credit(asset, holder common.Address, amount *big.Int) {
	b := s.book(asset)
	current, ok := b.balances[holder]
	if !ok {
		current = new(big.Int)
	}
	b.balances[holder] = new(big.Int).Add(current, amount)
}

func (s *state) transfer(asset, from, to common.Address, amount *big.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	balance := s.balanceOf(asset, from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), balance, amount)
	}

	b := s.book(asset)
	b.balances[from] = balance.Sub(balance, amount)
	s.credit(asset, to, amount)
	return nil
}

func (s *state) transferFrom(asset, spender, from, to common.Address, amount *big.Int) error {
	allowance := s.allowance(asset, from, spender)
	if amount == nil || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s approved %s for %s", ErrInsufficientAllowance, from.Hex(), allowance, spender.Hex())
	}

	if err := s.transfer(asset, from, to, amount); err != nil {
		return err
	}

	// unlimited approvals are not spent down
	if allowance.Cmp(math.MaxBig256) != 0 {
		s.setAllowance(asset, from, spender, allowance.Sub(allowance, amount))
	}
	return nil
}
