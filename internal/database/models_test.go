package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"math/big"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"token-collector/internal/config"
	"token-collector/internal/models"
)

var (
	ownerAddr  = common.HexToAddress("0x0000000000000000000000000000000000001000")
	masterAddr = common.HexToAddress("0x0000000000000000000000000000000000001001")
	tokenAddr  = common.HexToAddress("0x00000000000000000000000000000000000070ce")
	userA      = common.HexToAddress("0x0000000000000000000000000000000000001010")
	userB      = common.HexToAddress("0x0000000000000000000000000000000000001011")
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewStore(db), mock
}

func TestLoadEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT address FROM collector_owner WHERE id = 1")).
		WillReturnRows(sqlmock.NewRows([]string{"address"}))

	state, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, state.Empty())
}

func TestLoadState(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT address FROM collector_owner WHERE id = 1")).
		WillReturnRows(sqlmock.NewRows([]string{"address"}).AddRow(ownerAddr.Hex()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT address FROM master_addresses ORDER BY address")).
		WillReturnRows(sqlmock.NewRows([]string{"address"}).AddRow(masterAddr.Hex()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT asset, user_address FROM asset_users ORDER BY id")).
		WillReturnRows(sqlmock.NewRows([]string{"asset", "user_address"}).
			AddRow(tokenAddr.Hex(), userB.Hex()).
			AddRow(tokenAddr.Hex(), userA.Hex()))

	state, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, ownerAddr, state.Owner)
	require.Equal(t, []common.Address{masterAddr}, state.Masters)
	require.Equal(t, []common.Address{userB, userA}, state.Users[tokenAddr])
}

func TestLoadOwnerError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT address FROM collector_owner")).WillReturnError(boom)

	_, err := store.Load(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestMutations(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		query  string
		args   []driver.Value
		invoke func(s *Store) error
	}{
		{
			name:   "save owner",
			query:  "INSERT INTO collector_owner (id, address) VALUES (1, $1)",
			args:   []driver.Value{ownerAddr.Hex()},
			invoke: func(s *Store) error { return s.SaveOwner(ctx, ownerAddr) },
		},
		{
			name:   "add master",
			query:  "INSERT INTO master_addresses (address) VALUES ($1)",
			args:   []driver.Value{masterAddr.Hex()},
			invoke: func(s *Store) error { return s.AddMaster(ctx, masterAddr) },
		},
		{
			name:   "remove master",
			query:  "DELETE FROM master_addresses WHERE address = $1",
			args:   []driver.Value{masterAddr.Hex()},
			invoke: func(s *Store) error { return s.RemoveMaster(ctx, masterAddr) },
		},
		{
			name:   "add user",
			query:  "INSERT INTO asset_users (asset, user_address) VALUES ($1, $2)",
			args:   []driver.Value{tokenAddr.Hex(), userA.Hex()},
			invoke: func(s *Store) error { return s.AddUser(ctx, tokenAddr, userA) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectExec(regexp.QuoteMeta(tt.query)).
				WithArgs(tt.args...).
				WillReturnResult(sqlmock.NewResult(1, 1))

			require.NoError(t, tt.invoke(store))
		})
	}
}

func TestAddUserDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	violation := errors.New(`pq: duplicate key value violates unique constraint "asset_users_asset_user_address_key"`)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO asset_users")).WillReturnError(violation)

	require.ErrorIs(t, store.AddUser(context.Background(), tokenAddr, userA), violation)
}

func TestRecordWithdrawal(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	w := &models.Withdrawal{
		Asset:     tokenAddr,
		Recipient: masterAddr,
		Total:     big.NewInt(30),
		Pulls: []models.Pull{
			{From: userA, Amount: big.NewInt(10)},
			{From: userB, Amount: big.NewInt(20)},
		},
		Skipped:   1,
		Timestamp: now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO withdrawals")).
		WithArgs(tokenAddr.Hex(), masterAddr.Hex(), "30", 1, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO withdrawal_pulls")).
		WithArgs(int64(7), 0, userA.Hex(), "10").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO withdrawal_pulls")).
		WithArgs(int64(7), 1, userB.Hex(), "20").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, store.RecordWithdrawal(context.Background(), w))
}

func TestRecordWithdrawalRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("insert failed")

	w := &models.Withdrawal{
		Asset:     tokenAddr,
		Recipient: masterAddr,
		Total:     big.NewInt(10),
		Pulls:     []models.Pull{{From: userA, Amount: big.NewInt(10)}},
		Timestamp: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO withdrawals")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO withdrawal_pulls")).WillReturnError(boom)
	mock.ExpectRollback()

	err := store.RecordWithdrawal(context.Background(), w)
	require.ErrorIs(t, err, boom)
}

func TestConnString(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "collector",
		Password: "secret",
		DBName:   "collector",
		SSLMode:  "disable",
	}

	require.Equal(t,
		"host=db port=5432 user=collector password=secret dbname=collector sslmode=disable",
		ConnString(cfg))
}
