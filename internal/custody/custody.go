package custody

import (
	"context"
	"database/sql"
	"fmt"

	"nft-exchange/internal/db"
	"nft-exchange/internal/model"
)

// Custodian is the custodial bank and asset book. Every transfer runs in one
// database transaction with the touched rows locked, so balances never go
// negative and an asset always has exactly one holder.
type Custodian struct {
	store *db.Store
	admin string
}

func New(store *db.Store, admin string) *Custodian {
	return &Custodian{store: store, admin: admin}
}

// ── Ledger collaborators ─────────────────────────────

func (c *Custodian) OwnerOf(ctx context.Context, collection string, tokenID uint64) (string, error) {
	a, err := c.store.GetAsset(ctx, collection, tokenID)
	if err != nil {
		return "", err
	}
	if a == nil {
		return "", fmt.Errorf("asset %s/%d: %w", collection, tokenID, model.ErrNotFound)
	}
	return a.Owner, nil
}

func (c *Custodian) TransferAsset(ctx context.Context, collection string, tokenID uint64, from, to string) error {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	owner, err := db.AssetOwnerForUpdate(tx, collection, tokenID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("asset %s/%d: %w", collection, tokenID, model.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("asset %s/%d held by %s, not %s: %w", collection, tokenID, owner, from, model.ErrInvalidState)
	}
	if err := db.SetAssetOwner(tx, collection, tokenID, to); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *Custodian) Transfer(ctx context.Context, currency, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer %d %s: %w", amount, currency, model.ErrInvariantViolation)
	}
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	balance, err := db.AccountForUpdate(tx, from, currency)
	if err == sql.ErrNoRows {
		return fmt.Errorf("account %s/%s: %w", from, currency, model.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("account %s/%s has %d, need %d: %w", from, currency, balance, amount, model.ErrInvalidState)
	}
	if err := db.AccountAdd(tx, from, currency, -amount); err != nil {
		return err
	}
	if err := db.AccountAdd(tx, to, currency, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// ── Administration ───────────────────────────────────

// Mint issues a new token directly to an owner. Administrator only.
func (c *Custodian) Mint(ctx context.Context, caller, collection string, tokenID uint64, owner string) (*model.Asset, error) {
	if caller != c.admin {
		return nil, fmt.Errorf("mint: %w", model.ErrUnauthorized)
	}
	a, err := c.store.MintAsset(ctx, collection, tokenID, owner)
	if err != nil {
		return nil, fmt.Errorf("mint %s/%d: %w", collection, tokenID, err)
	}
	return a, nil
}

// Deposit credits a holder's account from outside the system.
// Administrator only.
func (c *Custodian) Deposit(ctx context.Context, caller, holder, currency string, amount int64) (*model.Account, error) {
	if caller != c.admin {
		return nil, fmt.Errorf("deposit: %w", model.ErrUnauthorized)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("deposit %d %s: %w", amount, currency, model.ErrInvariantViolation)
	}
	return c.store.Deposit(ctx, holder, currency, amount)
}
