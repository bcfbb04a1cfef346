package collector

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"token-collector/internal/models"
)

func TestWithdrawRequiresMaster(t *testing.T) {
	f := newFixture(t)
	f.addMasters(t)
	users := f.massApprove(t, 3)
	ctx := context.Background()

	for _, caller := range []common.Address{f.owner, users[0], collectorAddr} {
		_, err := f.c.Withdraw(ctx, caller, token, users)
		require.ErrorIs(t, err, ErrNotMaster)
	}

	for _, u := range users {
		require.Equal(t, ether(1000), f.balance(t, token, u))
	}
	require.Zero(t, f.balance(t, token, f.owner).Sign())
}

func TestWithdrawEmptyList(t *testing.T) {
	f := newFixture(t)
	f.addMasters(t)
	ctx := context.Background()

	for _, list := range [][]common.Address{nil, {}} {
		receipt, err := f.c.Withdraw(ctx, f.master, token, list)
		require.NoError(t, err)
		require.Zero(t, receipt.Total.Sign())
		require.NotNil(t, receipt.Pulls)
		require.Empty(t, receipt.Pulls)
		require.Equal(t, f.master, receipt.Recipient)
	}

	require.NotContains(t, f.emitter.Kinds(), models.WithdrawalCompleted)
}

func TestWithdrawSweepsEligibleAddresses(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return now }))
	f.addMasters(t)
	users := f.massApprove(t, 3)
	ctx := context.Background()

	receipt, err := f.c.Withdraw(ctx, f.master, token, f.c.AddressesEligibleForCollection(token))
	require.NoError(t, err)

	require.Equal(t, ether(3000), receipt.Total)
	require.Equal(t, token, receipt.Asset)
	require.Equal(t, f.master, receipt.Recipient)
	require.Equal(t, now, receipt.Timestamp)
	require.Zero(t, receipt.Skipped)
	require.Len(t, receipt.Pulls, 3)
	for i, p := range receipt.Pulls {
		require.Equal(t, users[i], p.From)
		require.Equal(t, ether(1000), p.Amount)
	}

	require.Equal(t, ether(3000), f.balance(t, token, f.master))
	for _, u := range users {
		require.Zero(t, f.balance(t, token, u).Sign())
		// other assets untouched
		require.Equal(t, ether(5), f.balance(t, otherToken, u))
	}

	event := f.emitter.Last()
	require.Equal(t, models.WithdrawalCompleted, event.Kind)
	require.Equal(t, f.master, event.Actor)
	require.Equal(t, token, event.Asset)
	require.Equal(t, ether(3000), event.Amount)

	// nothing left to collect, the second sweep is a no-op
	again, err := f.c.Withdraw(ctx, f.master2, token, f.c.AddressesEligibleForCollection(token))
	require.NoError(t, err)
	require.Zero(t, again.Total.Sign())
	require.Equal(t, 3, again.Skipped)
	require.Zero(t, f.balance(t, token, f.master2).Sign())
	require.Equal(t, models.WithdrawalCompleted, f.emitter.Last().Kind)
	require.Len(t, f.emitter.Kinds(), 2+3+1)
}

func TestWithdrawSkipsDuplicatesZeroAndEmptyBalances(t *testing.T) {
	f := newFixture(t)
	f.addMasters(t)
	users := f.massApprove(t, 3)
	ctx := context.Background()

	require.NoError(t, f.ledger.Transfer(token, users[1], f.owner, ether(1000)))

	list := []common.Address{users[0], users[0], common.Address{}, users[1], users[2], users[2]}
	receipt, err := f.c.Withdraw(ctx, f.master, token, list)
	require.NoError(t, err)

	require.Equal(t, ether(2000), receipt.Total)
	require.Equal(t, 4, receipt.Skipped)
	require.Len(t, receipt.Pulls, 2)
	require.Equal(t, users[0], receipt.Pulls[0].From)
	require.Equal(t, users[2], receipt.Pulls[1].From)
}

func TestWithdrawInsufficientAuthorizationMovesNothing(t *testing.T) {
	f := newFixture(t)
	f.addMasters(t)
	users := f.massApprove(t, 3)
	ctx := context.Background()

	// the last user revokes most of the approval after registering
	require.NoError(t, f.ledger.Approve(token, users[2], collectorAddr, ether(1)))

	receipt, err := f.c.Withdraw(ctx, f.master, token, users)
	require.ErrorIs(t, err, ErrInsufficientAuthorization)
	require.Nil(t, receipt)

	for _, u := range users {
		require.Equal(t, ether(1000), f.balance(t, token, u))
	}
	require.Zero(t, f.balance(t, token, f.master).Sign())
	require.NotContains(t, f.emitter.Kinds(), models.WithdrawalCompleted)
}

func TestWithdrawAtomicRollback(t *testing.T) {
	f := newFixture(t)
	ledger := &atomicFailing{Ledger: f.ledger, failOn: 3}
	c, err := New(collectorAddr, f.owner, ledger)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.AddMasterAddress(ctx, f.owner, f.master))
	users := f.users[:4]
	for _, u := range users {
		require.NoError(t, f.ledger.ApproveUnlimited(token, u, collectorAddr))
		require.NoError(t, c.RegisterUser(ctx, u, token))
	}

	_, err = c.Withdraw(ctx, f.master, token, users)
	require.ErrorIs(t, err, errPullFailed)
	var partial *PartialWithdrawalError
	require.False(t, errors.As(err, &partial))

	for _, u := range users {
		require.Equal(t, ether(1000), f.balance(t, token, u))
	}
	require.Zero(t, f.balance(t, token, f.master).Sign())
}

func TestWithdrawNonAtomicLedger(t *testing.T) {
	tests := []struct {
		name        string
		failOn      int
		wantPartial bool
		wantPulled  int
	}{
		{name: "first pull fails", failOn: 1},
		{name: "third pull fails", failOn: 3, wantPartial: true, wantPulled: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ledger := &failingPulls{AssetLedger: f.ledger, failOn: tt.failOn}
			store := newMockStore()
			emitter := &recordingEmitter{}
			c, err := New(collectorAddr, f.owner, ledger, WithStore(store), WithEmitter(emitter))
			require.NoError(t, err)
			ctx := context.Background()

			require.NoError(t, c.AddMasterAddress(ctx, f.owner, f.master))
			users := f.users[:4]
			for _, u := range users {
				require.NoError(t, f.ledger.ApproveUnlimited(token, u, collectorAddr))
			}

			_, err = c.Withdraw(ctx, f.master, token, users)
			require.ErrorIs(t, err, errPullFailed)

			var partial *PartialWithdrawalError
			require.Equal(t, tt.wantPartial, errors.As(err, &partial))
			if !tt.wantPartial {
				require.Zero(t, f.balance(t, token, f.master).Sign())
				require.Empty(t, store.withdrawals)
				require.NotContains(t, emitter.Kinds(), models.WithdrawalPartial)
				return
			}

			require.Len(t, partial.Pulled, tt.wantPulled)
			require.Equal(t, users[tt.failOn-1], partial.Failed)
			require.Equal(t, token, partial.Asset)
			moved := ether(int64(1000 * tt.wantPulled))
			require.Equal(t, moved, f.balance(t, token, f.master))

			// the pulls that moved funds are still recorded and announced
			require.Len(t, store.withdrawals, 1)
			recorded := store.withdrawals[0]
			require.Equal(t, partial.Pulled, recorded.Pulls)
			require.Equal(t, moved, recorded.Total)
			require.Equal(t, f.master, recorded.Recipient)

			event := emitter.Last()
			require.Equal(t, models.WithdrawalPartial, event.Kind)
			require.Equal(t, moved, event.Amount)
			require.NotContains(t, emitter.Kinds(), models.WithdrawalCompleted)
		})
	}
}

func TestQueriesDoNotWaitForPendingPulls(t *testing.T) {
	f := newFixture(t)
	ledger := newBlockingPulls(f.ledger)
	c, err := New(collectorAddr, f.owner, ledger)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.AddMasterAddress(ctx, f.owner, f.master))
	users := f.users[:2]
	for _, u := range users {
		require.NoError(t, f.ledger.ApproveUnlimited(token, u, collectorAddr))
		require.NoError(t, c.RegisterUser(ctx, u, token))
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Withdraw(ctx, f.master, token, users)
		done <- err
	}()
	<-ledger.entered

	var (
		registered []common.Address
		assets     []common.Address
		isMaster   bool
	)
	queried := make(chan struct{})
	go func() {
		defer close(queried)
		registered = c.UsersByAsset(token)
		assets = c.Assets()
		isMaster = c.IsMasterAddress(f.master)
	}()

	select {
	case <-queried:
	case <-time.After(5 * time.Second):
		t.Fatal("queries blocked behind a pending withdrawal")
	}
	require.Equal(t, users, registered)
	require.Equal(t, []common.Address{token}, assets)
	require.True(t, isMaster)

	close(ledger.release)
	require.NoError(t, <-done)
	require.Equal(t, ether(2000), f.balance(t, token, f.master))
}

func TestWithdrawLedgerReadError(t *testing.T) {
	boom := errors.New("rpc unavailable")
	c, err := New(collectorAddr, account(0), &erroringLedger{err: boom})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.AddMasterAddress(ctx, account(0), account(1)))

	_, err = c.Withdraw(ctx, account(1), token, []common.Address{account(10)})
	require.ErrorIs(t, err, boom)
}

func TestWithdrawLedgerCallsAreLinear(t *testing.T) {
	for _, n := range []int{1, 5, 20} {
		t.Run(fmt.Sprintf("%d users", n), func(t *testing.T) {
			f := newFixture(t)
			counting := &countingLedger{AssetLedger: f.ledger}
			c, err := New(collectorAddr, f.owner, counting)
			require.NoError(t, err)
			ctx := context.Background()
			require.NoError(t, c.AddMasterAddress(ctx, f.owner, f.master))

			users := f.users[:n]
			for _, u := range users {
				require.NoError(t, f.ledger.ApproveUnlimited(token, u, collectorAddr))
			}

			receipt, err := c.Withdraw(ctx, f.master, token, users)
			require.NoError(t, err)
			require.Len(t, receipt.Pulls, n)
			// one balance read, one allowance read and one pull per address
			require.Equal(t, 3*n, counting.total())
		})
	}
}

func TestWithdrawRecordFailureIsNotReturned(t *testing.T) {
	store := newMockStore()
	store.recordErr = errors.New("database is down")
	f := newFixture(t, WithStore(store))
	f.addMasters(t)
	users := f.massApprove(t, 2)

	receipt, err := f.c.Withdraw(context.Background(), f.master, token, users)
	require.NoError(t, err)
	require.Equal(t, ether(2000), receipt.Total)
	require.Empty(t, store.withdrawals)
}

func TestWithdrawIsRecorded(t *testing.T) {
	store := newMockStore()
	f := newFixture(t, WithStore(store))
	f.addMasters(t)
	users := f.massApprove(t, 2)
	ctx := context.Background()

	_, err := f.c.Withdraw(ctx, f.master, token, users)
	require.NoError(t, err)
	require.Len(t, store.withdrawals, 1)
	require.Equal(t, ether(2000), store.withdrawals[0].Total)

	// an empty sweep is not recorded
	_, err = f.c.Withdraw(ctx, f.master, token, users)
	require.NoError(t, err)
	require.Len(t, store.withdrawals, 1)
}

func BenchmarkWithdraw(b *testing.B) {
	for _, n := range []int{1, 2, 4, 8, 17} {
		b.Run(fmt.Sprintf("%d users", n), func(b *testing.B) {
			ctx := context.Background()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				f := newFixture(b)
				f.addMasters(b)
				users := f.massApprove(b, n)
				b.StartTimer()

				receipt, err := f.c.Withdraw(ctx, f.master, token, users)
				if err != nil {
					b.Fatal(err)
				}
				if receipt.Total.Cmp(new(big.Int).Mul(big.NewInt(int64(n)), ether(1000))) != 0 {
					b.Fatalf("unexpected total %s", receipt.Total)
				}
			}
		})
	}
}
