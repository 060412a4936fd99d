package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"nft-exchange/internal/model"
)

// ── Fakes ────────────────────────────────────────────

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeAssets struct {
	owners map[string]string // "collection/id" -> owner
	fail   bool
}

func assetID(collection string, tokenID uint64) string {
	return fmt.Sprintf("%s/%d", collection, tokenID)
}

func (f *fakeAssets) OwnerOf(_ context.Context, collection string, tokenID uint64) (string, error) {
	owner, ok := f.owners[assetID(collection, tokenID)]
	if !ok {
		return "", errors.New("no such asset")
	}
	return owner, nil
}

func (f *fakeAssets) TransferAsset(_ context.Context, collection string, tokenID uint64, from, to string) error {
	if f.fail {
		return errors.New("asset transfer rejected")
	}
	id := assetID(collection, tokenID)
	if f.owners[id] != from {
		return errors.New("not the holder")
	}
	f.owners[id] = to
	return nil
}

type fakeBank struct {
	balances map[string]int64 // "holder:currency" -> amount
	fail     bool
}

func acct(holder, currency string) string { return holder + ":" + currency }

func (f *fakeBank) Transfer(_ context.Context, currency, from, to string, amount int64) error {
	if f.fail {
		return errors.New("bank rejected")
	}
	if f.balances[acct(from, currency)] < amount {
		return errors.New("insufficient funds")
	}
	f.balances[acct(from, currency)] -= amount
	f.balances[acct(to, currency)] += amount
	return nil
}

// ── Harness ──────────────────────────────────────────

const (
	admin      = "admin"
	seller     = "alice"
	bidder     = "bob"
	outbidder  = "carol"
	creator    = "creator"
	collection = "critters"
	one        = "ONE" // base currency
	usd        = "USD"
)

type fixture struct {
	ledger *Ledger
	assets *fakeAssets
	bank   *fakeBank
	clock  *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	assets := &fakeAssets{owners: map[string]string{
		assetID(collection, 1): seller,
		assetID(collection, 2): seller,
	}}
	bank := &fakeBank{balances: map[string]int64{
		acct(bidder, one):    1_000_000,
		acct(outbidder, one): 1_000_000,
		acct(bidder, usd):    1_000_000,
	}}
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(Config{
		Admin:        admin,
		Account:      model.ExchangeAccount,
		BaseCurrency: one,
		Oracle:       assets,
		Assets:       assets,
		Bank:         bank,
		Now:          clock.now,
	})
	// Scenario rates: operator 3%, creator 10%, reflection 10%.
	if err := l.CreateMarket(context.Background(), admin, collection, "Critters", creator, 300, 1000, 1000); err != nil {
		t.Fatalf("create market: %v", err)
	}
	return &fixture{ledger: l, assets: assets, bank: bank, clock: clock}
}

func (f *fixture) startAuction(t *testing.T, tokenID uint64, startingBid int64) {
	t.Helper()
	err := f.ledger.CreateAuction(context.Background(), seller, collection, tokenID, one, startingBid, time.Hour)
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}
}

// ── Markets ──────────────────────────────────────────

func TestCreateMarket(t *testing.T) {
	f := newFixture(t)
	m, err := f.ledger.GetMarket(collection)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if !m.Active || m.Name != "Critters" || m.Creator != creator {
		t.Fatalf("unexpected market %+v", m)
	}
	if m.OperatorFeeBps != 300 || m.CreatorFeeBps != 1000 || m.ReflectionFeeBps != 1000 {
		t.Fatalf("unexpected rates %+v", m)
	}
}

func TestCreateMarketFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"duplicate", func() error {
			return f.ledger.CreateMarket(ctx, admin, collection, "x", creator, 0, 0, 0)
		}, model.ErrAlreadyExists},
		{"not admin", func() error {
			return f.ledger.CreateMarket(ctx, bidder, "other", "x", creator, 0, 0, 0)
		}, model.ErrUnauthorized},
		{"empty collection", func() error {
			return f.ledger.CreateMarket(ctx, admin, "", "x", creator, 0, 0, 0)
		}, model.ErrInvariantViolation},
		{"rates above max", func() error {
			return f.ledger.CreateMarket(ctx, admin, "other", "x", creator, 2000, 2000, 2000)
		}, model.ErrInvariantViolation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSetMarketFeeAndState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ledger.SetMarketFee(ctx, admin, collection, 800, 500, 300); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	m, _ := f.ledger.GetMarket(collection)
	if m.OperatorFeeBps != 800 || m.CreatorFeeBps != 500 || m.ReflectionFeeBps != 300 {
		t.Fatalf("rates not updated: %+v", m)
	}

	if err := f.ledger.SetMarketState(ctx, admin, collection, false); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if m, _ = f.ledger.GetMarket(collection); m.Active {
		t.Fatal("market should be inactive")
	}

	if err := f.ledger.SetMarketFee(ctx, admin, "missing", 1, 2, 3); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing market: got %v", err)
	}
	if err := f.ledger.SetMarketState(ctx, bidder, collection, true); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("not admin: got %v", err)
	}
}

// ── Auctions ─────────────────────────────────────────

func TestCreateAuctionTakesCustody(t *testing.T) {
	f := newFixture(t)
	f.startAuction(t, 1, 100)

	a, err := f.ledger.GetAuction(collection, 1)
	if err != nil {
		t.Fatalf("get auction: %v", err)
	}
	if a.Seller != seller || a.Currency != one || a.HighestBid != 100 || a.HighestBidder != "" {
		t.Fatalf("unexpected auction %+v", a)
	}
	if got := a.EndsAt.Sub(f.clock.t); got != time.Hour {
		t.Fatalf("ends in %v, want 1h", got)
	}
	if f.assets.owners[assetID(collection, 1)] != model.ExchangeAccount {
		t.Fatal("asset not escrowed")
	}
}

func TestCreateAuctionFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ledger.CreateAuction(ctx, seller, "missing", 1, one, 100, time.Hour); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing market: got %v", err)
	}
	if err := f.ledger.CreateAuction(ctx, seller, collection, 1, "XYZ", 100, time.Hour); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("bad currency: got %v", err)
	}
	if err := f.ledger.CreateAuction(ctx, bidder, collection, 1, one, 100, time.Hour); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("not owner: got %v", err)
	}

	f.startAuction(t, 1, 100)
	if err := f.ledger.CreateAuction(ctx, seller, collection, 1, one, 100, time.Hour); !errors.Is(err, model.ErrAlreadyExists) {
		t.Fatalf("duplicate auction: got %v", err)
	}

	if err := f.ledger.SetMarketState(ctx, admin, collection, false); err != nil {
		t.Fatal(err)
	}
	if err := f.ledger.CreateAuction(ctx, seller, collection, 2, one, 100, time.Hour); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("inactive market: got %v", err)
	}
}

func TestCreateAuctionTransferFailureLeavesNothing(t *testing.T) {
	f := newFixture(t)
	f.assets.fail = true
	err := f.ledger.CreateAuction(context.Background(), seller, collection, 1, one, 100, time.Hour)
	if !errors.Is(err, model.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	if _, err := f.ledger.GetAuction(collection, 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatal("auction must not be recorded after a failed custody transfer")
	}
}

func TestBidUpdatesHighestAndRefundsByCredit(t *testing.T) {
	f := newFixture(t)
	f.startAuction(t, 1, 100)
	ctx := context.Background()

	if err := f.ledger.Bid(ctx, bidder, collection, 1, 200); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	hb, _ := f.ledger.GetHighestBid(collection, 1)
	if hb.Bidder != bidder || hb.Amount != 200 {
		t.Fatalf("unexpected highest bid %+v", hb)
	}
	// The starting bid had no bidder, so nothing is refunded yet.
	if got := f.ledger.GetBalance(bidder, one); got != 0 {
		t.Fatalf("bidder balance = %d, want 0", got)
	}

	if err := f.ledger.Bid(ctx, outbidder, collection, 1, 300); err != nil {
		t.Fatalf("second bid: %v", err)
	}
	hb, _ = f.ledger.GetHighestBid(collection, 1)
	if hb.Bidder != outbidder || hb.Amount != 300 {
		t.Fatalf("unexpected highest bid %+v", hb)
	}
	if got := f.ledger.GetBalance(bidder, one); got != 200 {
		t.Fatalf("displaced bidder credit = %d, want 200", got)
	}
	// Funds are held by the exchange, not pushed back.
	if got := f.bank.balances[acct(model.ExchangeAccount, one)]; got != 500 {
		t.Fatalf("escrowed funds = %d, want 500", got)
	}
}

func TestBidFailures(t *testing.T) {
	f := newFixture(t)
	f.startAuction(t, 1, 100)
	ctx := context.Background()

	if err := f.ledger.Bid(ctx, bidder, collection, 2, 200); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("no auction: got %v", err)
	}
	if err := f.ledger.Bid(ctx, seller, collection, 1, 200); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("seller bid: got %v", err)
	}
	if err := f.ledger.Bid(ctx, bidder, collection, 1, 100); !errors.Is(err, model.ErrInvariantViolation) {
		t.Fatalf("bid not above highest: got %v", err)
	}

	f.bank.fail = true
	if err := f.ledger.Bid(ctx, bidder, collection, 1, 200); !errors.Is(err, model.ErrTransferFailed) {
		t.Fatalf("bank failure: got %v", err)
	}
	f.bank.fail = false
	hb, _ := f.ledger.GetHighestBid(collection, 1)
	if hb.Bidder != "" || hb.Amount != 100 {
		t.Fatalf("state mutated by failed bid: %+v", hb)
	}

	f.clock.advance(2 * time.Hour)
	if err := f.ledger.Bid(ctx, bidder, collection, 1, 200); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("ended auction: got %v", err)
	}
}

func TestBidMonotonicAcrossSequence(t *testing.T) {
	f := newFixture(t)
	f.startAuction(t, 1, 100)
	ctx := context.Background()

	last := int64(100)
	bidders := []string{bidder, outbidder, bidder, outbidder}
	for i, who := range bidders {
		amount := last + int64(50+i)
		if err := f.ledger.Bid(ctx, who, collection, 1, amount); err != nil {
			t.Fatalf("bid %d: %v", i, err)
		}
		hb, _ := f.ledger.GetHighestBid(collection, 1)
		if hb.Amount <= last {
			t.Fatalf("highest bid not strictly increasing: %d after %d", hb.Amount, last)
		}
		if hb.Bidder != who {
			t.Fatalf("highest bidder = %s, want %s", hb.Bidder, who)
		}
		last = amount
	}
	// Each displaced bid came back as a credit: everything the exchange
	// holds beyond the final bid is refund credits.
	credits := f.ledger.GetBalance(bidder, one) + f.ledger.GetBalance(outbidder, one)
	escrow := f.bank.balances[acct(model.ExchangeAccount, one)]
	if escrow != credits+last {
		t.Fatalf("escrow %d != credits %d + highest %d", escrow, credits, last)
	}
}

func TestEndAuctionSplitsFees(t *testing.T) {
	f := newFixture(t)
	f.startAuction(t, 1, 10)
	ctx := context.Background()

	// 1.00 in base units of 100; operator 3%, creator 10%, reflection 10%.
	if err := f.ledger.Bid(ctx, bidder, collection, 1, 100); err != nil {
		t.Fatal(err)
	}
	f.clock.advance(2 * time.Hour)
	if err := f.ledger.EndAuction(ctx, collection, 1); err != nil {
		t.Fatalf("end auction: %v", err)
	}

	if got := f.ledger.GetBalance(seller, one); got != 77 {
		t.Fatalf("seller credit = %d, want 77", got)
	}
	if got := f.ledger.GetBalance(creator, one); got != 10 {
		t.Fatalf("creator credit = %d, want 10", got)
	}
	if got := f.ledger.GetFeesBalance(one); got != 3 {
		t.Fatalf("operator pool = %d, want 3", got)
	}
	if got := f.ledger.GetReflectionFeesBalance(one); got != 10 {
		t.Fatalf("reflection pool = %d, want 10", got)
	}
	if got := f.ledger.GetNftOwner(collection, 1); got != bidder {
		t.Fatalf("escrow owner = %q, want winner", got)
	}
	if _, err := f.ledger.GetAuction(collection, 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatal("auction should be cleared")
	}
}

func TestEndAuctionValuePartitionIsExact(t *testing.T) {
	f := newFixture(t)
	f.startAuction(t, 1, 10)
	ctx := context.Background()

	// A gross amount that truncates every fee term.
	const gross = 997
	if err := f.ledger.Bid(ctx, bidder, collection, 1, gross); err != nil {
		t.Fatal(err)
	}
	f.clock.advance(2 * time.Hour)
	if err := f.ledger.EndAuction(ctx, collection, 1); err != nil {
		t.Fatal(err)
	}

	total := f.ledger.GetBalance(seller, one) +
		f.ledger.GetBalance(creator, one) +
		f.ledger.GetFeesBalance(one) +
		f.ledger.GetReflectionFeesBalance(one)
	if total != gross {
		t.Fatalf("partition sums to %d, want %d", total, gross)
	}
}

func TestEndAuctionNoBidderReturnsToSeller(t *testing.T) {
	f := newFixture(t)
	f.startAuction(t, 1, 100)
	f.clock.advance(2 * time.Hour)

	if err := f.ledger.EndAuction(context.Background(), collection, 1); err != nil {
		t.Fatal(err)
	}
	if got := f.ledger.GetNftOwner(collection, 1); got != seller {
		t.Fatalf("escrow owner = %q, want seller", got)
	}
	if got := f.ledger.GetFeesBalance(one); got != 0 {
		t.Fatal("no fees without a sale")
	}
}

func TestEndAuctionFailures(t *testing.T) {
	f := newFixture(t)
	f.startAuction(t, 1, 100)
	ctx := context.Background()

	if err := f.ledger.EndAuction(ctx, collection, 1); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("too soon: got %v", err)
	}
	if err := f.ledger.EndAuction(ctx, collection, 2); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing auction: got %v", err)
	}
}

// ── Direct sales ─────────────────────────────────────

func TestSellAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ledger.Sell(ctx, seller, collection, 1, one, 500); err != nil {
		t.Fatalf("sell: %v", err)
	}
	o, err := f.ledger.GetSellOrder(collection, 1)
	if err != nil {
		t.Fatal(err)
	}
	if o.Seller != seller || o.Price != 500 || o.Currency != one {
		t.Fatalf("unexpected order %+v", o)
	}
	if f.assets.owners[assetID(collection, 1)] != model.ExchangeAccount {
		t.Fatal("asset not escrowed")
	}

	if err := f.ledger.CancelSell(ctx, bidder, collection, 1); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("not seller: got %v", err)
	}
	if err := f.ledger.CancelSell(ctx, seller, collection, 1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if f.assets.owners[assetID(collection, 1)] != seller {
		t.Fatal("asset not returned on cancel")
	}
	if _, err := f.ledger.GetSellOrder(collection, 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatal("order should be cleared")
	}
}

func TestBuySplitsAndDelivers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ledger.Sell(ctx, seller, collection, 1, one, 500); err != nil {
		t.Fatal(err)
	}
	if err := f.ledger.Buy(ctx, bidder, collection, 1, one, 500); err != nil {
		t.Fatalf("buy: %v", err)
	}

	if f.assets.owners[assetID(collection, 1)] != bidder {
		t.Fatal("asset not delivered to buyer")
	}
	if got := f.ledger.GetBalance(seller, one); got != 385 { // 500 - 15 - 50 - 50
		t.Fatalf("seller credit = %d, want 385", got)
	}
	if got := f.ledger.GetBalance(creator, one); got != 50 {
		t.Fatalf("creator credit = %d, want 50", got)
	}
	if got := f.ledger.GetFeesBalance(one); got != 15 {
		t.Fatalf("operator pool = %d, want 15", got)
	}
	if got := f.ledger.GetReflectionFeesBalance(one); got != 50 {
		t.Fatalf("reflection pool = %d, want 50", got)
	}
	if _, err := f.ledger.GetSellOrder(collection, 1); !errors.Is(err, model.ErrNotFound) {
		t.Fatal("order should be cleared")
	}
}

func TestBuyFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ledger.Sell(ctx, seller, collection, 1, one, 500); err != nil {
		t.Fatal(err)
	}

	if err := f.ledger.Buy(ctx, bidder, collection, 2, one, 500); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing order: got %v", err)
	}
	if err := f.ledger.Buy(ctx, bidder, collection, 1, usd, 500); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("wrong currency: got %v", err)
	}
	if err := f.ledger.Buy(ctx, bidder, collection, 1, one, 400); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("wrong amount: got %v", err)
	}

	if err := f.ledger.SetMarketState(ctx, admin, collection, false); err != nil {
		t.Fatal(err)
	}
	if err := f.ledger.Buy(ctx, bidder, collection, 1, one, 500); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("inactive market: got %v", err)
	}
}

func TestBuyAssetFailureRefundsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ledger.Sell(ctx, seller, collection, 1, one, 500); err != nil {
		t.Fatal(err)
	}

	before := f.bank.balances[acct(bidder, one)]
	// Break custody after listing so only the delivery leg fails.
	f.assets.fail = true
	if err := f.ledger.Buy(ctx, bidder, collection, 1, one, 500); !errors.Is(err, model.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	if got := f.bank.balances[acct(bidder, one)]; got != before {
		t.Fatalf("buyer not made whole: %d, want %d", got, before)
	}
	if got := f.ledger.GetBalance(seller, one); got != 0 {
		t.Fatal("no credit may survive an aborted buy")
	}
	if _, err := f.ledger.GetSellOrder(collection, 1); err != nil {
		t.Fatal("order must survive an aborted buy")
	}
}

// ── Withdrawals ──────────────────────────────────────

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	f.startAuction(t, 1, 100)
	ctx := context.Background()

	if err := f.ledger.Bid(ctx, bidder, collection, 1, 200); err != nil {
		t.Fatal(err)
	}
	if err := f.ledger.Bid(ctx, outbidder, collection, 1, 300); err != nil {
		t.Fatal(err)
	}

	before := f.bank.balances[acct(bidder, one)]
	amount, err := f.ledger.Withdraw(ctx, bidder, one)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount != 200 {
		t.Fatalf("withdrew %d, want 200", amount)
	}
	if got := f.bank.balances[acct(bidder, one)]; got != before+200 {
		t.Fatalf("bank balance = %d, want %d", got, before+200)
	}
	if got := f.ledger.GetBalance(bidder, one); got != 0 {
		t.Fatal("ledger balance must be zeroed")
	}

	if _, err := f.ledger.Withdraw(ctx, bidder, one); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("zero balance: got %v", err)
	}
}

func TestWithdrawTransferFailureKeepsBalance(t *testing.T) {
	f := newFixture(t)
	f.startAuction(t, 1, 100)
	ctx := context.Background()
	if err := f.ledger.Bid(ctx, bidder, collection, 1, 200); err != nil {
		t.Fatal(err)
	}
	if err := f.ledger.Bid(ctx, outbidder, collection, 1, 300); err != nil {
		t.Fatal(err)
	}

	f.bank.fail = true
	if _, err := f.ledger.Withdraw(ctx, bidder, one); !errors.Is(err, model.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	if got := f.ledger.GetBalance(bidder, one); got != 200 {
		t.Fatalf("balance = %d after failed withdraw, want 200", got)
	}
}

func TestWithdrawNft(t *testing.T) {
	f := newFixture(t)
	f.startAuction(t, 1, 10)
	ctx := context.Background()
	if err := f.ledger.Bid(ctx, bidder, collection, 1, 100); err != nil {
		t.Fatal(err)
	}
	f.clock.advance(2 * time.Hour)
	if err := f.ledger.EndAuction(ctx, collection, 1); err != nil {
		t.Fatal(err)
	}

	if err := f.ledger.WithdrawNft(ctx, outbidder, collection, 1); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("wrong claimant: got %v", err)
	}
	if err := f.ledger.WithdrawNft(ctx, bidder, collection, 2); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("no escrow record: got %v", err)
	}
	if err := f.ledger.WithdrawNft(ctx, bidder, collection, 1); err != nil {
		t.Fatalf("withdraw nft: %v", err)
	}
	if f.assets.owners[assetID(collection, 1)] != bidder {
		t.Fatal("asset not delivered")
	}
	if got := f.ledger.GetNftOwner(collection, 1); got != "" {
		t.Fatal("escrow record must be cleared")
	}
}

func TestWithdrawDevFees(t *testing.T) {
	f := newFixture(t)
	f.startAuction(t, 1, 10)
	ctx := context.Background()
	if err := f.ledger.Bid(ctx, bidder, collection, 1, 100); err != nil {
		t.Fatal(err)
	}
	f.clock.advance(2 * time.Hour)
	if err := f.ledger.EndAuction(ctx, collection, 1); err != nil {
		t.Fatal(err)
	}

	if _, err := f.ledger.WithdrawDevFees(ctx, bidder, one); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("not admin: got %v", err)
	}
	amount, err := f.ledger.WithdrawDevFees(ctx, admin, one)
	if err != nil {
		t.Fatalf("withdraw dev fees: %v", err)
	}
	if amount != 3 {
		t.Fatalf("drained %d, want 3", amount)
	}
	if got := f.ledger.GetFeesBalance(one); got != 0 {
		t.Fatal("operator pool must be zeroed")
	}
	if _, err := f.ledger.WithdrawDevFees(ctx, admin, one); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("empty pool: got %v", err)
	}
}

func TestWithdrawReflectionFeesCollectorOnly(t *testing.T) {
	f := newFixture(t)
	f.startAuction(t, 1, 10)
	ctx := context.Background()
	if err := f.ledger.Bid(ctx, bidder, collection, 1, 100); err != nil {
		t.Fatal(err)
	}
	f.clock.advance(2 * time.Hour)
	if err := f.ledger.EndAuction(ctx, collection, 1); err != nil {
		t.Fatal(err)
	}

	// No collector assigned yet: nobody may drain, not even the admin.
	if _, err := f.ledger.WithdrawReflectionFees(ctx, admin, one); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("no collector: got %v", err)
	}

	if err := f.ledger.SetReflectionFeesCollector(ctx, admin, model.RegistryAccount); err != nil {
		t.Fatal(err)
	}
	if got := f.ledger.ReflectionFeesCollector(); got != model.RegistryAccount {
		t.Fatalf("collector = %q", got)
	}
	amount, err := f.ledger.WithdrawReflectionFees(ctx, model.RegistryAccount, one)
	if err != nil {
		t.Fatalf("withdraw reflection fees: %v", err)
	}
	if amount != 10 {
		t.Fatalf("drained %d, want 10", amount)
	}
	if got := f.bank.balances[acct(model.RegistryAccount, one)]; got != 10 {
		t.Fatalf("collector bank balance = %d, want 10", got)
	}
	if got := f.ledger.GetReflectionFeesBalance(one); got != 0 {
		t.Fatal("reflection pool must be zeroed")
	}
}

func TestAddCurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if f.ledger.AcceptsCurrency(usd) {
		t.Fatal("USD should not be accepted yet")
	}
	if err := f.ledger.AddCurrency(ctx, bidder, usd); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("not admin: got %v", err)
	}
	if err := f.ledger.AddCurrency(ctx, admin, usd); err != nil {
		t.Fatal(err)
	}
	if !f.ledger.AcceptsCurrency(usd) || !f.ledger.AcceptsCurrency(one) {
		t.Fatal("accepted currencies wrong")
	}

	if err := f.ledger.CreateAuction(ctx, seller, collection, 1, usd, 50, time.Hour); err != nil {
		t.Fatalf("auction in USD: %v", err)
	}
	if err := f.ledger.Bid(ctx, bidder, collection, 1, 80); err != nil {
		t.Fatalf("bid in USD: %v", err)
	}
	if got := f.bank.balances[acct(model.ExchangeAccount, usd)]; got != 80 {
		t.Fatalf("USD escrow = %d, want 80", got)
	}
}
