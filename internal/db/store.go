package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"nft-exchange/internal/model"
)

type Store struct{ DB *sql.DB }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}

// ── Users ────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, email, hash string, role model.Role) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (id, email, password_hash, role) VALUES ($1,$2,$3,$4)
		 RETURNING id, email, password_hash, role, created_at`, uuid.New().String(), email, hash, role,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at FROM users WHERE email=$1`, email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at FROM users WHERE id=$1`, id,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, email, role, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// ── Accounts ─────────────────────────────────────────

// EnsureAccount creates the (holder, currency) row if it is missing.
func (s *Store) EnsureAccount(ctx context.Context, holder, currency string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO accounts (holder, currency) VALUES ($1,$2)
		 ON CONFLICT (holder, currency) DO NOTHING`, holder, currency)
	return err
}

func (s *Store) GetAccount(ctx context.Context, holder, currency string) (*model.Account, error) {
	a := &model.Account{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT holder, currency, balance FROM accounts WHERE holder=$1 AND currency=$2`, holder, currency,
	).Scan(&a.Holder, &a.Currency, &a.Balance)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *Store) ListAccounts(ctx context.Context, holder string) ([]model.Account, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT holder, currency, balance FROM accounts WHERE holder=$1 ORDER BY currency`, holder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.Holder, &a.Currency, &a.Balance); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Deposit credits an account outside any transfer, for funding test and
// operator accounts.
func (s *Store) Deposit(ctx context.Context, holder, currency string, amount int64) (*model.Account, error) {
	a := &model.Account{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO accounts (holder, currency, balance) VALUES ($1,$2,$3)
		 ON CONFLICT (holder, currency) DO UPDATE SET balance = accounts.balance + $3
		 RETURNING holder, currency, balance`, holder, currency, amount,
	).Scan(&a.Holder, &a.Currency, &a.Balance)
	return a, err
}

func AccountForUpdate(tx *sql.Tx, holder, currency string) (int64, error) {
	var balance int64
	err := tx.QueryRow(
		`SELECT balance FROM accounts WHERE holder=$1 AND currency=$2 FOR UPDATE`, holder, currency,
	).Scan(&balance)
	return balance, err
}

func AccountAdd(tx *sql.Tx, holder, currency string, delta int64) error {
	_, err := tx.Exec(
		`INSERT INTO accounts (holder, currency, balance) VALUES ($1,$2,$3)
		 ON CONFLICT (holder, currency) DO UPDATE SET balance = accounts.balance + $3`,
		holder, currency, delta,
	)
	return err
}

// ── Assets ───────────────────────────────────────────

func (s *Store) MintAsset(ctx context.Context, collection string, tokenID uint64, owner string) (*model.Asset, error) {
	a := &model.Asset{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO assets (collection, token_id, owner) VALUES ($1,$2,$3)
		 RETURNING collection, token_id, owner, minted_at`, collection, tokenID, owner,
	).Scan(&a.Collection, &a.TokenID, &a.Owner, &a.MintedAt)
	return a, err
}

func (s *Store) GetAsset(ctx context.Context, collection string, tokenID uint64) (*model.Asset, error) {
	a := &model.Asset{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT collection, token_id, owner, minted_at FROM assets WHERE collection=$1 AND token_id=$2`,
		collection, tokenID,
	).Scan(&a.Collection, &a.TokenID, &a.Owner, &a.MintedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *Store) ListAssets(ctx context.Context, collection, owner string) ([]model.Asset, error) {
	q := `SELECT collection, token_id, owner, minted_at FROM assets WHERE collection=$1`
	args := []any{collection}
	if owner != "" {
		q += ` AND owner=$2`
		args = append(args, owner)
	}
	q += ` ORDER BY token_id`
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Asset
	for rows.Next() {
		var a model.Asset
		if err := rows.Scan(&a.Collection, &a.TokenID, &a.Owner, &a.MintedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func AssetOwnerForUpdate(tx *sql.Tx, collection string, tokenID uint64) (string, error) {
	var owner string
	err := tx.QueryRow(
		`SELECT owner FROM assets WHERE collection=$1 AND token_id=$2 FOR UPDATE`, collection, tokenID,
	).Scan(&owner)
	return owner, err
}

func SetAssetOwner(tx *sql.Tx, collection string, tokenID uint64, owner string) error {
	_, err := tx.Exec(
		`UPDATE assets SET owner=$1 WHERE collection=$2 AND token_id=$3`, owner, collection, tokenID)
	return err
}

// ── Markets ──────────────────────────────────────────

// SaveMarket persists market configuration so it survives restarts. The
// in-memory ledger stays authoritative while the process runs.
func (s *Store) SaveMarket(ctx context.Context, m *model.Market) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO markets (collection, name, creator, operator_fee_bps, creator_fee_bps, reflection_fee_bps, active)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (collection) DO UPDATE SET
			name=$2, creator=$3, operator_fee_bps=$4, creator_fee_bps=$5, reflection_fee_bps=$6, active=$7`,
		m.Collection, m.Name, m.Creator, m.OperatorFeeBps, m.CreatorFeeBps, m.ReflectionFeeBps, m.Active,
	)
	return err
}

func (s *Store) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT collection, name, creator, operator_fee_bps, creator_fee_bps, reflection_fee_bps, active, created_at
		 FROM markets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Market
	for rows.Next() {
		var m model.Market
		if err := rows.Scan(&m.Collection, &m.Name, &m.Creator, &m.OperatorFeeBps, &m.CreatorFeeBps, &m.ReflectionFeeBps, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ── Event Log ────────────────────────────────────────

func (s *Store) AppendEvent(ctx context.Context, collection *string, evType string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO event_log (collection, type, payload_json) VALUES ($1,$2,$3)`,
		collection, evType, b,
	)
	return err
}

func (s *Store) ListEvents(ctx context.Context, collection *string, limit int) ([]model.EventLog, error) {
	q := `SELECT id, collection, type, payload_json, created_at FROM event_log`
	var args []any
	if collection != nil {
		q += ` WHERE collection=$1`
		args = append(args, *collection)
	}
	q += ` ORDER BY created_at DESC LIMIT ` + fmt.Sprintf("%d", limit)
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.EventLog
	for rows.Next() {
		var e model.EventLog
		var raw []byte
		if err := rows.Scan(&e.ID, &e.Collection, &e.Type, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(raw, &e.PayloadJSON)
		out = append(out, e)
	}
	return out, nil
}
