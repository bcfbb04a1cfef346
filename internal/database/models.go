package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"token-collector/internal/interfaces"
	"token-collector/internal/models"
)

var _ interfaces.Store = (*Store)(nil)

// Store persists collector state in Postgres
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load reads the owner, master set and per-asset registrations.
// An empty State is returned when no owner has been stored yet.
func (s *Store) Load(ctx context.Context) (*models.State, error) {
	state := &models.State{
		Users: make(map[common.Address][]common.Address),
	}

	var owner string
	err := s.db.QueryRowContext(ctx, `
		SELECT address FROM collector_owner WHERE id = 1
	`).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load owner: %w", err)
	}
	state.Owner = common.HexToAddress(owner)

	masters, err := s.db.QueryContext(ctx, `
		SELECT address FROM master_addresses ORDER BY address
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load master addresses: %w", err)
	}
	defer masters.Close()

	for masters.Next() {
		var addr string
		if err := masters.Scan(&addr); err != nil {
			return nil, err
		}
		state.Masters = append(state.Masters, common.HexToAddress(addr))
	}
	if err := masters.Err(); err != nil {
		return nil, err
	}

	users, err := s.db.QueryContext(ctx, `
		SELECT asset, user_address FROM asset_users ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset users: %w", err)
	}
	defer users.Close()

	for users.Next() {
		var asset, user string
		if err := users.Scan(&asset, &user); err != nil {
			return nil, err
		}
		a := common.HexToAddress(asset)
		state.Users[a] = append(state.Users[a], common.HexToAddress(user))
	}

	return state, users.Err()
}

// SaveOwner replaces the stored owner
func (s *Store) SaveOwner(ctx context.Context, owner common.Address) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collector_owner (id, address) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET address = EXCLUDED.address, updated_at = NOW()
	`, owner.Hex())
	return err
}

func (s *Store) AddMaster(ctx context.Context, addr common.Address) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO master_addresses (address) VALUES ($1)
	`, addr.Hex())
	return err
}

func (s *Store) RemoveMaster(ctx context.Context, addr common.Address) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM master_addresses WHERE address = $1
	`, addr.Hex())
	return err
}

func (s *Store) AddUser(ctx context.Context, asset, user common.Address) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO asset_users (asset, user_address) VALUES ($1, $2)
	`, asset.Hex(), user.Hex())
	return err
}

// RecordWithdrawal stores a withdrawal receipt and its pulls in one transaction
func (s *Store) RecordWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO withdrawals (asset, recipient, total, skipped, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, w.Asset.Hex(), w.Recipient.Hex(), w.Total.String(), w.Skipped, w.Timestamp).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}

	for i, p := range w.Pulls {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO withdrawal_pulls (withdrawal_id, position, from_address, amount)
			VALUES ($1, $2, $3, $4)
		`, id, i, p.From.Hex(), p.Amount.String())
		if err != nil {
			return fmt.Errorf("failed to insert pull %d: %w", i, err)
		}
	}

	return tx.Commit()
}
