package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nft-exchange/internal/model"
)

// ── Collaborators ────────────────────────────────────

// OwnershipOracle answers who currently owns an asset. Used to authorize
// custody-taking operations.
type OwnershipOracle interface {
	OwnerOf(ctx context.Context, collection string, tokenID uint64) (string, error)
}

// AssetTransfer moves custody of a single asset between holders.
type AssetTransfer interface {
	TransferAsset(ctx context.Context, collection string, tokenID uint64, from, to string) error
}

// CurrencyTransfer moves currency between accounts. The custodial bank holds
// every account, so both pull and push directions use one explicit-from call.
type CurrencyTransfer interface {
	Transfer(ctx context.Context, currency, from, to string, amount int64) error
}

// ── Ledger ───────────────────────────────────────────

type assetKey struct {
	collection string
	tokenID    uint64
}

type balanceKey struct {
	holder   string
	currency string
}

// Ledger owns market configuration, auctions, sell orders, the withdrawable
// balance ledger, and the operator/reflection fee pools. Every exported
// operation runs under one mutex and either completes fully or leaves state
// untouched: all checks precede any mutation, inbound transfers precede
// mutation, and outbound transfers precede the commit of whatever they pay out.
type Ledger struct {
	mu sync.Mutex

	admin     string
	collector string
	account   string // escrow identity inside the bank and asset book

	oracle OwnershipOracle
	assets AssetTransfer
	bank   CurrencyTransfer
	now    func() time.Time

	markets        map[string]*model.Market
	auctions       map[assetKey]*model.Auction
	sellOrders     map[assetKey]*model.SellOrder
	balances       map[balanceKey]int64
	fees           map[string]int64    // operator pool, per currency
	reflectionFees map[string]int64    // reflection pool, per currency
	nftOwners      map[assetKey]string // escrowed assets owed to a holder
	currencies     map[string]bool     // accepted currencies
}

type Config struct {
	Admin        string
	Account      string // escrow identity, e.g. model.ExchangeAccount
	BaseCurrency string // accepted from the start
	Oracle       OwnershipOracle
	Assets       AssetTransfer
	Bank         CurrencyTransfer
	Now          func() time.Time
}

func New(cfg Config) *Ledger {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	l := &Ledger{
		admin:          cfg.Admin,
		account:        cfg.Account,
		oracle:         cfg.Oracle,
		assets:         cfg.Assets,
		bank:           cfg.Bank,
		now:            now,
		markets:        make(map[string]*model.Market),
		auctions:       make(map[assetKey]*model.Auction),
		sellOrders:     make(map[assetKey]*model.SellOrder),
		balances:       make(map[balanceKey]int64),
		fees:           make(map[string]int64),
		reflectionFees: make(map[string]int64),
		nftOwners:      make(map[assetKey]string),
		currencies:     make(map[string]bool),
	}
	if cfg.BaseCurrency != "" {
		l.currencies[cfg.BaseCurrency] = true
	}
	return l
}

// ── Administration ───────────────────────────────────

func (l *Ledger) CreateMarket(ctx context.Context, caller, collection, name, creator string, operatorBps, creatorBps, reflectionBps int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.admin {
		return fmt.Errorf("create market: %w", model.ErrUnauthorized)
	}
	if collection == "" {
		return fmt.Errorf("create market: empty collection: %w", model.ErrInvariantViolation)
	}
	if _, ok := l.markets[collection]; ok {
		return fmt.Errorf("create market %s: %w", collection, model.ErrAlreadyExists)
	}
	if err := checkRates(operatorBps, creatorBps, reflectionBps); err != nil {
		return fmt.Errorf("create market %s: %w", collection, err)
	}

	l.markets[collection] = &model.Market{
		Collection:       collection,
		Name:             name,
		Creator:          creator,
		OperatorFeeBps:   operatorBps,
		CreatorFeeBps:    creatorBps,
		ReflectionFeeBps: reflectionBps,
		Active:           true,
		CreatedAt:        l.now(),
	}
	return nil
}

func (l *Ledger) SetMarketFee(ctx context.Context, caller, collection string, operatorBps, creatorBps, reflectionBps int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.admin {
		return fmt.Errorf("set market fee: %w", model.ErrUnauthorized)
	}
	m, ok := l.markets[collection]
	if !ok {
		return fmt.Errorf("set market fee %s: %w", collection, model.ErrNotFound)
	}
	if err := checkRates(operatorBps, creatorBps, reflectionBps); err != nil {
		return fmt.Errorf("set market fee %s: %w", collection, err)
	}
	m.OperatorFeeBps = operatorBps
	m.CreatorFeeBps = creatorBps
	m.ReflectionFeeBps = reflectionBps
	return nil
}

func (l *Ledger) SetMarketState(ctx context.Context, caller, collection string, active bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.admin {
		return fmt.Errorf("set market state: %w", model.ErrUnauthorized)
	}
	m, ok := l.markets[collection]
	if !ok {
		return fmt.Errorf("set market state %s: %w", collection, model.ErrNotFound)
	}
	m.Active = active
	return nil
}

func (l *Ledger) AddCurrency(ctx context.Context, caller, currency string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.admin {
		return fmt.Errorf("add currency: %w", model.ErrUnauthorized)
	}
	if currency == "" {
		return fmt.Errorf("add currency: empty code: %w", model.ErrInvariantViolation)
	}
	l.currencies[currency] = true
	return nil
}

// SetReflectionFeesCollector assigns the sole identity allowed to drain the
// reflection pool. Reassignable by the administrator.
func (l *Ledger) SetReflectionFeesCollector(ctx context.Context, caller, collector string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.admin {
		return fmt.Errorf("set collector: %w", model.ErrUnauthorized)
	}
	l.collector = collector
	return nil
}

func checkRates(operatorBps, creatorBps, reflectionBps int) error {
	if operatorBps < 0 || creatorBps < 0 || reflectionBps < 0 {
		return fmt.Errorf("negative fee rate: %w", model.ErrInvariantViolation)
	}
	if operatorBps+creatorBps+reflectionBps > model.MaxTotalFeeBps {
		return fmt.Errorf("total fee rate above %d bps: %w", model.MaxTotalFeeBps, model.ErrInvariantViolation)
	}
	return nil
}

// ── Auctions ─────────────────────────────────────────

func (l *Ledger) CreateAuction(ctx context.Context, caller, collection string, tokenID uint64, currency string, startingBid int64, duration time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.markets[collection]
	if !ok {
		return fmt.Errorf("create auction %s/%d: market: %w", collection, tokenID, model.ErrNotFound)
	}
	if !m.Active {
		return fmt.Errorf("create auction %s/%d: market inactive: %w", collection, tokenID, model.ErrInvalidState)
	}
	if !l.currencies[currency] {
		return fmt.Errorf("create auction %s/%d: currency %s not accepted: %w", collection, tokenID, currency, model.ErrInvalidState)
	}
	if startingBid < 0 || duration <= 0 {
		return fmt.Errorf("create auction %s/%d: %w", collection, tokenID, model.ErrInvariantViolation)
	}
	key := assetKey{collection, tokenID}
	if _, ok := l.auctions[key]; ok {
		return fmt.Errorf("create auction %s/%d: %w", collection, tokenID, model.ErrAlreadyExists)
	}
	owner, err := l.oracle.OwnerOf(ctx, collection, tokenID)
	if err != nil {
		return fmt.Errorf("create auction %s/%d: owner lookup: %w", collection, tokenID, model.ErrNotFound)
	}
	if owner != caller {
		return fmt.Errorf("create auction %s/%d: caller is not owner: %w", collection, tokenID, model.ErrUnauthorized)
	}

	// Take custody before recording anything.
	if err := l.assets.TransferAsset(ctx, collection, tokenID, caller, l.account); err != nil {
		return fmt.Errorf("create auction %s/%d: custody: %v: %w", collection, tokenID, err, model.ErrTransferFailed)
	}

	now := l.now()
	l.auctions[key] = &model.Auction{
		Collection: collection,
		TokenID:    tokenID,
		Seller:     caller,
		Currency:   currency,
		HighestBid: startingBid,
		EndsAt:     now.Add(duration),
		CreatedAt:  now,
	}
	return nil
}

func (l *Ledger) Bid(ctx context.Context, caller, collection string, tokenID uint64, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := assetKey{collection, tokenID}
	a, ok := l.auctions[key]
	if !ok {
		return fmt.Errorf("bid %s/%d: auction: %w", collection, tokenID, model.ErrNotFound)
	}
	if !l.now().Before(a.EndsAt) {
		return fmt.Errorf("bid %s/%d: auction ended: %w", collection, tokenID, model.ErrInvalidState)
	}
	if caller == a.Seller {
		return fmt.Errorf("bid %s/%d: seller cannot bid: %w", collection, tokenID, model.ErrInvalidState)
	}
	if amount <= a.HighestBid {
		return fmt.Errorf("bid %s/%d: %d not above %d: %w", collection, tokenID, amount, a.HighestBid, model.ErrInvariantViolation)
	}

	if err := l.bank.Transfer(ctx, a.Currency, caller, l.account, amount); err != nil {
		return fmt.Errorf("bid %s/%d: %v: %w", collection, tokenID, err, model.ErrTransferFailed)
	}

	// Refund the displaced bidder by credit, never by push, so a bad
	// recipient cannot block the auction.
	if a.HighestBidder != "" {
		l.balances[balanceKey{a.HighestBidder, a.Currency}] += a.HighestBid
	}
	a.HighestBid = amount
	a.HighestBidder = caller
	return nil
}

// EndAuction settles an auction past its deadline. With a winner it splits the
// highest bid per the market rates and records an escrow entry the winner
// claims through WithdrawNft; with no bidder the seller gets the entry. Any
// caller may end an expired auction.
func (l *Ledger) EndAuction(ctx context.Context, collection string, tokenID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := assetKey{collection, tokenID}
	a, ok := l.auctions[key]
	if !ok {
		return fmt.Errorf("end auction %s/%d: %w", collection, tokenID, model.ErrNotFound)
	}
	if l.now().Before(a.EndsAt) {
		return fmt.Errorf("end auction %s/%d: not ended yet: %w", collection, tokenID, model.ErrInvalidState)
	}

	if a.HighestBidder != "" {
		m := l.markets[collection]
		split := model.SplitFee(a.HighestBid, m.OperatorFeeBps, m.CreatorFeeBps, m.ReflectionFeeBps)
		l.balances[balanceKey{a.Seller, a.Currency}] += split.Seller
		if split.Creator > 0 {
			l.balances[balanceKey{m.Creator, a.Currency}] += split.Creator
		}
		l.fees[a.Currency] += split.Operator
		l.reflectionFees[a.Currency] += split.Reflection
		l.nftOwners[key] = a.HighestBidder
	} else {
		l.nftOwners[key] = a.Seller
	}
	delete(l.auctions, key)
	return nil
}

// ── Direct Sales ─────────────────────────────────────

func (l *Ledger) Sell(ctx context.Context, caller, collection string, tokenID uint64, currency string, price int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.markets[collection]
	if !ok {
		return fmt.Errorf("sell %s/%d: market: %w", collection, tokenID, model.ErrNotFound)
	}
	if !m.Active {
		return fmt.Errorf("sell %s/%d: market inactive: %w", collection, tokenID, model.ErrInvalidState)
	}
	if !l.currencies[currency] {
		return fmt.Errorf("sell %s/%d: currency %s not accepted: %w", collection, tokenID, currency, model.ErrInvalidState)
	}
	if price <= 0 {
		return fmt.Errorf("sell %s/%d: price must be positive: %w", collection, tokenID, model.ErrInvariantViolation)
	}
	key := assetKey{collection, tokenID}
	if _, ok := l.sellOrders[key]; ok {
		return fmt.Errorf("sell %s/%d: %w", collection, tokenID, model.ErrAlreadyExists)
	}
	owner, err := l.oracle.OwnerOf(ctx, collection, tokenID)
	if err != nil {
		return fmt.Errorf("sell %s/%d: owner lookup: %w", collection, tokenID, model.ErrNotFound)
	}
	if owner != caller {
		return fmt.Errorf("sell %s/%d: caller is not owner: %w", collection, tokenID, model.ErrUnauthorized)
	}

	if err := l.assets.TransferAsset(ctx, collection, tokenID, caller, l.account); err != nil {
		return fmt.Errorf("sell %s/%d: custody: %v: %w", collection, tokenID, err, model.ErrTransferFailed)
	}

	l.sellOrders[key] = &model.SellOrder{
		Collection: collection,
		TokenID:    tokenID,
		Seller:     caller,
		Currency:   currency,
		Price:      price,
		CreatedAt:  l.now(),
	}
	return nil
}

func (l *Ledger) CancelSell(ctx context.Context, caller, collection string, tokenID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := assetKey{collection, tokenID}
	o, ok := l.sellOrders[key]
	if !ok {
		return fmt.Errorf("cancel sell %s/%d: %w", collection, tokenID, model.ErrNotFound)
	}
	if o.Seller != caller {
		return fmt.Errorf("cancel sell %s/%d: %w", collection, tokenID, model.ErrUnauthorized)
	}

	if err := l.assets.TransferAsset(ctx, collection, tokenID, l.account, o.Seller); err != nil {
		return fmt.Errorf("cancel sell %s/%d: %v: %w", collection, tokenID, err, model.ErrTransferFailed)
	}
	delete(l.sellOrders, key)
	return nil
}

func (l *Ledger) Buy(ctx context.Context, caller, collection string, tokenID uint64, currency string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.markets[collection]
	if !ok {
		return fmt.Errorf("buy %s/%d: market: %w", collection, tokenID, model.ErrNotFound)
	}
	if !m.Active {
		return fmt.Errorf("buy %s/%d: market inactive: %w", collection, tokenID, model.ErrInvalidState)
	}
	key := assetKey{collection, tokenID}
	o, ok := l.sellOrders[key]
	if !ok {
		return fmt.Errorf("buy %s/%d: order: %w", collection, tokenID, model.ErrNotFound)
	}
	if currency != o.Currency || amount != o.Price {
		return fmt.Errorf("buy %s/%d: currency/amount does not match order: %w", collection, tokenID, model.ErrInvalidState)
	}

	if err := l.bank.Transfer(ctx, o.Currency, caller, l.account, o.Price); err != nil {
		return fmt.Errorf("buy %s/%d: payment: %v: %w", collection, tokenID, err, model.ErrTransferFailed)
	}
	if err := l.assets.TransferAsset(ctx, collection, tokenID, l.account, caller); err != nil {
		// Compensate the pull so the caller is whole before aborting.
		_ = l.bank.Transfer(ctx, o.Currency, l.account, caller, o.Price)
		return fmt.Errorf("buy %s/%d: asset: %v: %w", collection, tokenID, err, model.ErrTransferFailed)
	}

	split := model.SplitFee(o.Price, m.OperatorFeeBps, m.CreatorFeeBps, m.ReflectionFeeBps)
	l.balances[balanceKey{o.Seller, o.Currency}] += split.Seller
	if split.Creator > 0 {
		l.balances[balanceKey{m.Creator, o.Currency}] += split.Creator
	}
	l.fees[o.Currency] += split.Operator
	l.reflectionFees[o.Currency] += split.Reflection
	delete(l.sellOrders, key)
	return nil
}

// ── Withdrawals ──────────────────────────────────────

func (l *Ledger) Withdraw(ctx context.Context, caller, currency string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey{caller, currency}
	amount := l.balances[key]
	if amount == 0 {
		return 0, fmt.Errorf("withdraw %s: no balance: %w", currency, model.ErrNotFound)
	}
	if err := l.bank.Transfer(ctx, currency, l.account, caller, amount); err != nil {
		return 0, fmt.Errorf("withdraw %s: %v: %w", currency, err, model.ErrTransferFailed)
	}
	delete(l.balances, key)
	return amount, nil
}

func (l *Ledger) WithdrawNft(ctx context.Context, caller, collection string, tokenID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := assetKey{collection, tokenID}
	owner, ok := l.nftOwners[key]
	if !ok {
		return fmt.Errorf("withdraw nft %s/%d: %w", collection, tokenID, model.ErrNotFound)
	}
	if owner != caller {
		return fmt.Errorf("withdraw nft %s/%d: %w", collection, tokenID, model.ErrUnauthorized)
	}
	if err := l.assets.TransferAsset(ctx, collection, tokenID, l.account, caller); err != nil {
		return fmt.Errorf("withdraw nft %s/%d: %v: %w", collection, tokenID, err, model.ErrTransferFailed)
	}
	delete(l.nftOwners, key)
	return nil
}

func (l *Ledger) WithdrawDevFees(ctx context.Context, caller, currency string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.admin {
		return 0, fmt.Errorf("withdraw dev fees: %w", model.ErrUnauthorized)
	}
	amount := l.fees[currency]
	if amount == 0 {
		return 0, fmt.Errorf("withdraw dev fees %s: empty pool: %w", currency, model.ErrNotFound)
	}
	if err := l.bank.Transfer(ctx, currency, l.account, caller, amount); err != nil {
		return 0, fmt.Errorf("withdraw dev fees %s: %v: %w", currency, err, model.ErrTransferFailed)
	}
	delete(l.fees, currency)
	return amount, nil
}

// WithdrawReflectionFees drains the reflection pool to the registered
// collector and reports the drained amount.
func (l *Ledger) WithdrawReflectionFees(ctx context.Context, caller, currency string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.collector == "" || caller != l.collector {
		return 0, fmt.Errorf("withdraw reflection fees: %w", model.ErrUnauthorized)
	}
	amount := l.reflectionFees[currency]
	if amount == 0 {
		return 0, fmt.Errorf("withdraw reflection fees %s: empty pool: %w", currency, model.ErrNotFound)
	}
	if err := l.bank.Transfer(ctx, currency, l.account, l.collector, amount); err != nil {
		return 0, fmt.Errorf("withdraw reflection fees %s: %v: %w", currency, err, model.ErrTransferFailed)
	}
	delete(l.reflectionFees, currency)
	return amount, nil
}

// ── Queries ──────────────────────────────────────────

func (l *Ledger) GetMarket(collection string) (model.Market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.markets[collection]
	if !ok {
		return model.Market{}, fmt.Errorf("market %s: %w", collection, model.ErrNotFound)
	}
	return *m, nil
}

func (l *Ledger) ListMarkets() []model.Market {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Market, 0, len(l.markets))
	for _, m := range l.markets {
		out = append(out, *m)
	}
	return out
}

func (l *Ledger) GetAuction(collection string, tokenID uint64) (model.Auction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.auctions[assetKey{collection, tokenID}]
	if !ok {
		return model.Auction{}, fmt.Errorf("auction %s/%d: %w", collection, tokenID, model.ErrNotFound)
	}
	return *a, nil
}

func (l *Ledger) GetSellOrder(collection string, tokenID uint64) (model.SellOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.sellOrders[assetKey{collection, tokenID}]
	if !ok {
		return model.SellOrder{}, fmt.Errorf("sell order %s/%d: %w", collection, tokenID, model.ErrNotFound)
	}
	return *o, nil
}

func (l *Ledger) GetHighestBid(collection string, tokenID uint64) (model.HighestBid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.auctions[assetKey{collection, tokenID}]
	if !ok {
		return model.HighestBid{}, fmt.Errorf("auction %s/%d: %w", collection, tokenID, model.ErrNotFound)
	}
	return model.HighestBid{Bidder: a.HighestBidder, Amount: a.HighestBid}, nil
}

func (l *Ledger) GetBalance(holder, currency string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{holder, currency}]
}

func (l *Ledger) GetFeesBalance(currency string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fees[currency]
}

func (l *Ledger) GetReflectionFeesBalance(currency string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reflectionFees[currency]
}

func (l *Ledger) GetNftOwner(collection string, tokenID uint64) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nftOwners[assetKey{collection, tokenID}]
}

func (l *Ledger) AcceptsCurrency(currency string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currencies[currency]
}

func (l *Ledger) ReflectionFeesCollector() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.collector
}
