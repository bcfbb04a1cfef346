package collector

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"token-collector/internal/interfaces"
	"token-collector/internal/ledger/memory"
	"token-collector/internal/models"
)

var (
	collectorAddr = common.HexToAddress("0x00000000000000000000000000000000c011ec70")
	token         = common.HexToAddress("0x000000000000000000000000000000000070ce01")
	otherToken    = common.HexToAddress("0x000000000000000000000000000000000070ce02")
)

func account(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i)))
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// recordingEmitter captures emitted events
type recordingEmitter struct {
	mu     sync.Mutex
	events []models.CollectorEvent
	err    error
}

func (r *recordingEmitter) EmitEvent(event models.CollectorEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingEmitter) Kinds() []models.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recordingEmitter) Last() models.CollectorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	c       *Collector
	ledger  *memory.Ledger
	emitter *recordingEmitter
	owner   common.Address
	master  common.Address
	master2 common.Address
	users   []common.Address
}

// newFixture mints 1000 tokens to twenty users and deploys a collector
func newFixture(t testing.TB, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		ledger:  memory.NewLedger(),
		emitter: &recordingEmitter{},
		owner:   account(0),
		master:  account(1),
		master2: account(2),
	}

	for i := 0; i < 20; i++ {
		u := account(10 + i)
		f.users = append(f.users, u)
		require.NoError(t, f.ledger.Mint(token, u, ether(1000)))
		require.NoError(t, f.ledger.Mint(otherToken, u, ether(5)))
	}

	c, err := New(collectorAddr, f.owner, f.ledger, append([]Option{WithEmitter(f.emitter)}, opts...)...)
	require.NoError(t, err)
	f.c = c

	return f
}

func (f *fixture) addMasters(t testing.TB) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.c.AddMasterAddress(ctx, f.owner, f.master))
	require.NoError(t, f.c.AddMasterAddress(ctx, f.owner, f.master2))
}

// massApprove approves and registers the first n users for token
func (f *fixture) massApprove(t testing.TB, n int) []common.Address {
	t.Helper()
	ctx := context.Background()
	for _, u := range f.users[:n] {
		require.NoError(t, f.ledger.ApproveUnlimited(token, u, collectorAddr))
		require.NoError(t, f.c.RegisterUser(ctx, u, token))
	}
	return f.users[:n]
}

func (f *fixture) balance(t testing.TB, asset, holder common.Address) *big.Int {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), asset, holder)
	require.NoError(t, err)
	return b
}

// countingLedger counts calls made to an underlying ledger
type countingLedger struct {
	interfaces.AssetLedger
	mu        sync.Mutex
	balances  int
	allowance int
	pulls     int
}

func (c *countingLedger) BalanceOf(ctx context.Context, asset, holder common.Address) (*big.Int, error) {
	c.mu.Lock()
	c.balances++
	c.mu.Unlock()
	return c.AssetLedger.BalanceOf(ctx, asset, holder)
}

func (c *countingLedger) Allowance(ctx context.Context, asset, holder, spender common.Address) (*big.Int, error) {
	c.mu.Lock()
	c.allowance++
	c.mu.Unlock()
	return c.AssetLedger.Allowance(ctx, asset, holder, spender)
}

func (c *countingLedger) TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount *big.Int) error {
	c.mu.Lock()
	c.pulls++
	c.mu.Unlock()
	return c.AssetLedger.TransferFrom(ctx, asset, spender, from, to, amount)
}

func (c *countingLedger) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances + c.allowance + c.pulls
}

var errPullFailed = errors.New("pull failed")

// failingPulls fails the failOn-th TransferFrom (1-based)
type failingPulls struct {
	interfaces.AssetLedger
	failOn int
	seen   int
}

func (f *failingPulls) TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount *big.Int) error {
	f.seen++
	if f.seen == f.failOn {
		return errPullFailed
	}
	return f.AssetLedger.TransferFrom(ctx, asset, spender, from, to, amount)
}

// blockingPulls holds every TransferFrom until release is closed, the way a
// pull waits for its transaction to be mined
type blockingPulls struct {
	interfaces.AssetLedger
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingPulls(l interfaces.AssetLedger) *blockingPulls {
	return &blockingPulls{
		AssetLedger: l,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (b *blockingPulls) TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount *big.Int) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.AssetLedger.TransferFrom(ctx, asset, spender, from, to, amount)
}

// atomicFailing is an AtomicLedger whose atomic scope fails on the failOn-th pull
type atomicFailing struct {
	*memory.Ledger
	failOn int
}

func (a *atomicFailing) Atomically(ctx context.Context, fn func(interfaces.AssetLedger) error) error {
	return a.Ledger.Atomically(ctx, func(l interfaces.AssetLedger) error {
		return fn(&failingPulls{AssetLedger: l, failOn: a.failOn})
	})
}

// erroringLedger fails every read
type erroringLedger struct {
	interfaces.AssetLedger
	err error
}

func (e *erroringLedger) BalanceOf(context.Context, common.Address, common.Address) (*big.Int, error) {
	return nil, e.err
}

func (e *erroringLedger) Allowance(context.Context, common.Address, common.Address, common.Address) (*big.Int, error) {
	return nil, e.err
}

// mockStore records persisted calls and can be told to fail
type mockStore struct {
	mu          sync.Mutex
	state       *models.State
	err         error
	recordErr   error
	owners      []common.Address
	masters     []common.Address
	removed     []common.Address
	users       map[common.Address][]common.Address
	withdrawals []*models.Withdrawal
}

func newMockStore() *mockStore {
	return &mockStore{users: make(map[common.Address][]common.Address)}
}

func (m *mockStore) Load(context.Context) (*models.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.state == nil {
		return &models.State{}, nil
	}
	return m.state, nil
}

func (m *mockStore) SaveOwner(_ context.Context, owner common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.owners = append(m.owners, owner)
	return nil
}

func (m *mockStore) AddMaster(_ context.Context, addr common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.masters = append(m.masters, addr)
	return nil
}

func (m *mockStore) RemoveMaster(_ context.Context, addr common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.removed = append(m.removed, addr)
	return nil
}

func (m *mockStore) AddUser(_ context.Context, asset, user common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.users[asset] = append(m.users[asset], user)
	return nil
}

func (m *mockStore) RecordWithdrawal(_ context.Context, w *models.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.withdrawals = append(m.withdrawals, w)
	return nil
}

func (m *mockStore) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
