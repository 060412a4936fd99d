// Package registry redistributes the marketplace's reflection fee pool
// pro-rata to registered holders of one collection. It uses an accumulating
// reward-per-token index so a claim costs O(1) regardless of how many holders
// are registered or how many settlements happened since the last claim.
package registry

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"nft-exchange/internal/ledger"
	"nft-exchange/internal/model"
)

// Scale is the fixed-point factor applied to the reward index. Index values
// are index units; a claim is the index delta divided back down by Scale,
// truncating toward zero.
const Scale = 1_000_000_000_000

var scale = big.NewInt(Scale)

// Marketplace is the slice of the ledger the registry consumes: the currency
// allow-list and the sole-collector drain of the reflection pool.
type Marketplace interface {
	AcceptsCurrency(currency string) bool
	GetReflectionFeesBalance(currency string) int64
	WithdrawReflectionFees(ctx context.Context, caller, currency string) (int64, error)
}

type record struct {
	currency string
	feeDebt  *big.Int // index snapshot at last settlement
}

// Registry tracks registrations for a single collection. All operations are
// atomic under one mutex; feeDebt snapshots commit only after the payout they
// account for has succeeded.
type Registry struct {
	mu sync.Mutex

	marketplace Marketplace
	oracle      ledger.OwnershipOracle
	bank        ledger.CurrencyTransfer
	account     string // identity holding drained pool funds in the bank
	collection  string

	records map[uint64]*record
	index   map[string]*big.Int // currency -> cumulative reward per token, scaled
	total   map[string]int64    // currency -> registered token count
}

type Config struct {
	Marketplace Marketplace
	Oracle      ledger.OwnershipOracle
	Bank        ledger.CurrencyTransfer
	Account     string
	Collection  string
}

func New(cfg Config) *Registry {
	return &Registry{
		marketplace: cfg.Marketplace,
		oracle:      cfg.Oracle,
		bank:        cfg.Bank,
		account:     cfg.Account,
		collection:  cfg.Collection,
		records:     make(map[uint64]*record),
		index:       make(map[string]*big.Int),
		total:       make(map[string]int64),
	}
}

func (r *Registry) Collection() string { return r.collection }

// ── Operations ───────────────────────────────────────

// Register enrolls a token under a currency. The pool is settled before the
// registered count grows, so existing holders keep everything accrued against
// the old population.
func (r *Registry) Register(ctx context.Context, caller string, tokenID uint64, currency string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOwner(ctx, caller, tokenID); err != nil {
		return fmt.Errorf("register %d: %w", tokenID, err)
	}
	if _, ok := r.records[tokenID]; ok {
		return fmt.Errorf("register %d: %w", tokenID, model.ErrAlreadyExists)
	}
	if !r.marketplace.AcceptsCurrency(currency) {
		return fmt.Errorf("register %d: currency %s not accepted: %w", tokenID, currency, model.ErrInvalidState)
	}

	if err := r.settle(ctx, currency); err != nil {
		return fmt.Errorf("register %d: %w", tokenID, err)
	}
	r.records[tokenID] = &record{
		currency: currency,
		feeDebt:  new(big.Int).Set(r.indexFor(currency)),
	}
	r.total[currency]++
	return nil
}

// CollectFees pays out the pending claim for each token in the batch. Every
// token must be registered and owned by the caller or the whole call fails
// before any settlement or payout. All touched currencies settle before the
// first payout; payouts then commit one currency at a time in lexical order,
// and a payout failure returns the currencies already paid alongside the
// error so the caller can tell what committed.
func (r *Registry) CollectFees(ctx context.Context, caller string, tokenIDs []uint64) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(tokenIDs) == 0 {
		return nil, fmt.Errorf("collect fees: empty batch: %w", model.ErrInvariantViolation)
	}
	seen := make(map[uint64]bool, len(tokenIDs))
	byCurrency := make(map[string][]*record)
	for _, id := range tokenIDs {
		if seen[id] {
			return nil, fmt.Errorf("collect fees: duplicate token %d: %w", id, model.ErrInvariantViolation)
		}
		seen[id] = true
		if err := r.checkOwner(ctx, caller, id); err != nil {
			return nil, fmt.Errorf("collect fees %d: %w", id, err)
		}
		rec, ok := r.records[id]
		if !ok {
			return nil, fmt.Errorf("collect fees %d: not registered: %w", id, model.ErrNotFound)
		}
		byCurrency[rec.currency] = append(byCurrency[rec.currency], rec)
	}

	currencies := make([]string, 0, len(byCurrency))
	for currency := range byCurrency {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)
	for _, currency := range currencies {
		if err := r.settle(ctx, currency); err != nil {
			return nil, fmt.Errorf("collect fees: %w", err)
		}
	}

	paid := make(map[string]int64)
	for _, currency := range currencies {
		idx := r.indexFor(currency)
		var sum int64
		for _, rec := range byCurrency[currency] {
			sum += claimOf(idx, rec.feeDebt)
		}
		if sum > 0 {
			if err := r.bank.Transfer(ctx, currency, r.account, caller, sum); err != nil {
				return paid, fmt.Errorf("collect fees: payout %s: %v: %w", currency, err, model.ErrTransferFailed)
			}
		}
		// Snapshot debts only once this currency's payout is through.
		for _, rec := range byCurrency[currency] {
			rec.feeDebt = new(big.Int).Set(idx)
		}
		paid[currency] = sum
	}
	return paid, nil
}

// SwitchCurrency pays the token's claim under its old currency and re-registers
// it under the new one following the same settle-before-increment rule as
// Register. Both currencies settle before the payout and before any record or
// count moves, so a failed drain or payout leaves the registration untouched
// and the claim still collectable.
func (r *Registry) SwitchCurrency(ctx context.Context, caller string, tokenID uint64, newCurrency string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[tokenID]
	if !ok {
		return 0, fmt.Errorf("switch currency %d: not registered: %w", tokenID, model.ErrNotFound)
	}
	if err := r.checkOwner(ctx, caller, tokenID); err != nil {
		return 0, fmt.Errorf("switch currency %d: %w", tokenID, err)
	}
	if !r.marketplace.AcceptsCurrency(newCurrency) {
		return 0, fmt.Errorf("switch currency %d: currency %s not accepted: %w", tokenID, newCurrency, model.ErrInvalidState)
	}

	old := rec.currency
	if err := r.settle(ctx, old); err != nil {
		return 0, fmt.Errorf("switch currency %d: %w", tokenID, err)
	}
	if err := r.settle(ctx, newCurrency); err != nil {
		return 0, fmt.Errorf("switch currency %d: %w", tokenID, err)
	}

	claim := claimOf(r.indexFor(old), rec.feeDebt)
	if claim > 0 {
		if err := r.bank.Transfer(ctx, old, r.account, caller, claim); err != nil {
			return 0, fmt.Errorf("switch currency %d: payout: %v: %w", tokenID, err, model.ErrTransferFailed)
		}
	}

	rec.currency = newCurrency
	rec.feeDebt = new(big.Int).Set(r.indexFor(newCurrency))
	r.total[old]--
	r.total[newCurrency]++
	return claim, nil
}

// ── Queries ──────────────────────────────────────────

func (r *Registry) Registration(tokenID uint64) model.Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[tokenID]
	if !ok {
		return model.Registration{TokenID: tokenID}
	}
	return model.Registration{TokenID: tokenID, Registered: true, Currency: rec.currency}
}

func (r *Registry) Index(currency string) *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return new(big.Int).Set(r.indexFor(currency))
}

func (r *Registry) TotalRegistered(currency string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total[currency]
}

// PendingFees reports the claim a token would receive if its currency were
// settled right now, without mutating anything.
func (r *Registry) PendingFees(tokenID uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[tokenID]
	if !ok {
		return 0, fmt.Errorf("pending fees %d: not registered: %w", tokenID, model.ErrNotFound)
	}
	idx := new(big.Int).Set(r.indexFor(rec.currency))
	if total := r.total[rec.currency]; total > 0 {
		if pending := r.marketplace.GetReflectionFeesBalance(rec.currency); pending > 0 {
			delta := new(big.Int).Mul(big.NewInt(pending), scale)
			idx.Add(idx, delta.Quo(delta, big.NewInt(total)))
		}
	}
	return claimOf(idx, rec.feeDebt), nil
}

// ── Internals ────────────────────────────────────────

func (r *Registry) checkOwner(ctx context.Context, caller string, tokenID uint64) error {
	owner, err := r.oracle.OwnerOf(ctx, r.collection, tokenID)
	if err != nil {
		return fmt.Errorf("owner lookup: %w", model.ErrNotFound)
	}
	if owner != caller {
		return model.ErrUnauthorized
	}
	return nil
}

// settle drains the marketplace pool into the index. With no registered
// holders the pool is left in the ledger; draining it would strand value the
// index could never account for.
func (r *Registry) settle(ctx context.Context, currency string) error {
	total := r.total[currency]
	if total == 0 {
		return nil
	}
	if r.marketplace.GetReflectionFeesBalance(currency) == 0 {
		return nil
	}
	drained, err := r.marketplace.WithdrawReflectionFees(ctx, r.account, currency)
	if err != nil {
		return fmt.Errorf("settle %s: %w", currency, err)
	}
	idx := r.indexFor(currency)
	delta := new(big.Int).Mul(big.NewInt(drained), scale)
	idx.Add(idx, delta.Quo(delta, big.NewInt(total)))
	return nil
}

func (r *Registry) indexFor(currency string) *big.Int {
	idx, ok := r.index[currency]
	if !ok {
		idx = new(big.Int)
		r.index[currency] = idx
	}
	return idx
}

func claimOf(index, debt *big.Int) int64 {
	d := new(big.Int).Sub(index, debt)
	return d.Quo(d, scale).Int64()
}
