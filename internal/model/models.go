package model

import "time"

// ── Enums ────────────────────────────────────────────

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// MaxTotalFeeBps caps the combined operator + creator + reflection rate.
const MaxTotalFeeBps = 3000

// System account identities inside the custodial bank.
const (
	ExchangeAccount = "exchange"
	RegistryAccount = "registry"
)

// ── Domain Objects ───────────────────────────────────

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Market is the per-collection configuration: who gets the royalty and
// how a gross sale amount is split.
type Market struct {
	Collection       string    `json:"collection"`
	Name             string    `json:"name"`
	Creator          string    `json:"creator"`
	OperatorFeeBps   int       `json:"operator_fee_bps"`
	CreatorFeeBps    int       `json:"creator_fee_bps"`
	ReflectionFeeBps int       `json:"reflection_fee_bps"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

type Auction struct {
	Collection    string    `json:"collection"`
	TokenID       uint64    `json:"token_id"`
	Seller        string    `json:"seller"`
	Currency      string    `json:"currency"`
	HighestBid    int64     `json:"highest_bid"`
	HighestBidder string    `json:"highest_bidder"` // empty until the first bid
	EndsAt        time.Time `json:"ends_at"`
	CreatedAt     time.Time `json:"created_at"`
}

type SellOrder struct {
	Collection string    `json:"collection"`
	TokenID    uint64    `json:"token_id"`
	Seller     string    `json:"seller"`
	Currency   string    `json:"currency"`
	Price      int64     `json:"price"`
	CreatedAt  time.Time `json:"created_at"`
}

type HighestBid struct {
	Bidder string `json:"bidder"`
	Amount int64  `json:"amount"`
}

// Registration is the registry's view of one token.
type Registration struct {
	TokenID    uint64 `json:"token_id"`
	Registered bool   `json:"registered"`
	Currency   string `json:"currency"`
}

// Account is one custodial balance, keyed by holder and currency.
type Account struct {
	Holder   string `json:"holder"`
	Currency string `json:"currency"`
	Balance  int64  `json:"balance"`
}

// Asset is one custodial token and its current holder.
type Asset struct {
	Collection string    `json:"collection"`
	TokenID    uint64    `json:"token_id"`
	Owner      string    `json:"owner"`
	MintedAt   time.Time `json:"minted_at"`
}

type EventLog struct {
	ID          int64     `json:"id"`
	Collection  *string   `json:"collection,omitempty"`
	Type        string    `json:"type"`
	PayloadJSON any       `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// ── API Types ────────────────────────────────────────

type CreateMarketReq struct {
	Collection       string `json:"collection"`
	Name             string `json:"name"`
	Creator          string `json:"creator"`
	OperatorFeeBps   int    `json:"operator_fee_bps"`
	CreatorFeeBps    int    `json:"creator_fee_bps"`
	ReflectionFeeBps int    `json:"reflection_fee_bps"`
}

type CreateAuctionReq struct {
	Currency    string `json:"currency"`
	StartingBid int64  `json:"starting_bid"`
	DurationSec int64  `json:"duration_sec"`
}

type BidReq struct {
	Amount int64 `json:"amount"`
}

type SellReq struct {
	Currency string `json:"currency"`
	Price    int64  `json:"price"`
}

type BuyReq struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

type RegisterTokenReq struct {
	TokenID  uint64 `json:"token_id"`
	Currency string `json:"currency"`
}

type CollectFeesReq struct {
	TokenIDs []uint64 `json:"token_ids"`
}

type SwitchCurrencyReq struct {
	TokenID  uint64 `json:"token_id"`
	Currency string `json:"currency"`
}

// ── Fee Split ────────────────────────────────────────

// FeeSplit is a full partition of a gross sale amount. Each fee term is
// truncated toward zero and the seller takes the remainder, so
// Operator+Creator+Reflection+Seller always equals the gross amount.
type FeeSplit struct {
	Operator   int64 `json:"operator"`
	Creator    int64 `json:"creator"`
	Reflection int64 `json:"reflection"`
	Seller     int64 `json:"seller"`
}

func SplitFee(amount int64, operatorBps, creatorBps, reflectionBps int) FeeSplit {
	op := amount * int64(operatorBps) / 10000
	cr := amount * int64(creatorBps) / 10000
	rf := amount * int64(reflectionBps) / 10000
	return FeeSplit{
		Operator:   op,
		Creator:    cr,
		Reflection: rf,
		Seller:     amount - op - cr - rf,
	}
}
