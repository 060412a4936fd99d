package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"nft-exchange/internal/custody"
	"nft-exchange/internal/db"
	"nft-exchange/internal/ledger"
	"nft-exchange/internal/model"
	"nft-exchange/internal/registry"
	"nft-exchange/internal/ws"
)

type Server struct {
	store     *db.Store
	ledger    *ledger.Ledger
	registry  *registry.Registry
	custodian *custody.Custodian
	hub       *ws.Hub
	secret    []byte
}

func NewServer(store *db.Store, l *ledger.Ledger, reg *registry.Registry, cust *custody.Custodian, hub *ws.Hub, secret string) *Server {
	return &Server{store: store, ledger: l, registry: reg, custodian: cust, hub: hub, secret: []byte(secret)}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	// Health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})

	// Auth (public)
	r.Post("/api/register", s.register)
	r.Post("/api/login", s.login)

	// WebSocket
	r.Get("/ws", s.hub.HandleWS)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Markets
		r.Get("/api/markets", s.listMarkets)
		r.Get("/api/markets/{collection}", s.getMarket)
		r.Get("/api/currencies/{currency}", s.acceptsCurrency)

		// Auctions
		r.Post("/api/markets/{collection}/tokens/{tokenID}/auction", s.createAuction)
		r.Get("/api/markets/{collection}/tokens/{tokenID}/auction", s.getAuction)
		r.Post("/api/markets/{collection}/tokens/{tokenID}/bids", s.bid)
		r.Post("/api/markets/{collection}/tokens/{tokenID}/end", s.endAuction)

		// Direct sales
		r.Post("/api/markets/{collection}/tokens/{tokenID}/order", s.sell)
		r.Get("/api/markets/{collection}/tokens/{tokenID}/order", s.getSellOrder)
		r.Delete("/api/markets/{collection}/tokens/{tokenID}/order", s.cancelSell)
		r.Post("/api/markets/{collection}/tokens/{tokenID}/buy", s.buy)

		// Escrow claims and asset lookups
		r.Post("/api/markets/{collection}/tokens/{tokenID}/claim", s.withdrawNft)
		r.Get("/api/markets/{collection}/tokens/{tokenID}/claim", s.getClaimant)
		r.Get("/api/markets/{collection}/tokens/{tokenID}", s.getAsset)
		r.Get("/api/markets/{collection}/assets", s.listAssets)

		// Balances
		r.Get("/api/accounts", s.listAccounts)
		r.Get("/api/credits/{currency}", s.getCredit)
		r.Post("/api/withdraw/{currency}", s.withdraw)

		// Reflection registry
		r.Post("/api/registry/tokens", s.registerToken)
		r.Get("/api/registry/tokens/{tokenID}", s.getRegistration)
		r.Get("/api/registry/index/{currency}", s.getIndex)
		r.Post("/api/registry/collect", s.collectFees)
		r.Post("/api/registry/switch", s.switchCurrency)

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Post("/api/admin/markets", s.createMarket)
			r.Put("/api/admin/markets/{collection}/fees", s.setMarketFee)
			r.Put("/api/admin/markets/{collection}/state", s.setMarketState)
			r.Post("/api/admin/currencies", s.addCurrency)
			r.Get("/api/admin/fees/{currency}", s.getFeePools)
			r.Post("/api/admin/fees/{currency}/withdraw", s.withdrawDevFees)
			r.Post("/api/admin/mint", s.mint)
			r.Post("/api/admin/deposit", s.adminDeposit)
			r.Get("/api/admin/users", s.listUsers)
			r.Get("/api/admin/events", s.listEvents)
			r.Get("/api/admin/metrics", s.metrics)
		})
	})

	return r
}

// ── Auth ─────────────────────────────────────────────

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Email == "" || len(req.Password) < 6 {
		jsonErr(w, 400, "email and password (min 6 chars) required")
		return
	}

	existing, _ := s.store.GetUserByEmail(r.Context(), req.Email)
	if existing != nil {
		jsonErr(w, 409, "email already registered")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonErr(w, 500, "hash failed")
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Email, string(hash), model.RoleUser)
	if err != nil {
		jsonErr(w, 500, "create user failed: "+err.Error())
		return
	}

	token := s.makeToken(user.ID, user.Role)
	json200(w, map[string]any{"user": user, "token": token})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || user == nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}

	token := s.makeToken(user.ID, user.Role)
	json200(w, map[string]any{"user": user, "token": token})
}

func (s *Server) makeToken(userID string, role model.Role) string {
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": string(role),
		"exp":  time.Now().Add(72 * time.Hour).Unix(),
	}
	t, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return t
}

// ── Middleware ────────────────────────────────────────

type ctxKey string

const (
	ctxUserID ctxKey = "userID"
	ctxRole   ctxKey = "role"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			jsonErr(w, 401, "missing token")
			return
		}
		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return s.secret, nil
		})
		if err != nil || !token.Valid {
			jsonErr(w, 401, "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			jsonErr(w, 401, "invalid claims")
			return
		}
		userID, _ := claims["sub"].(string)
		role, _ := claims["role"].(string)
		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		ctx = context.WithValue(ctx, ctxRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(ctxRole).(string)
		if role != string(model.RoleAdmin) {
			jsonErr(w, 403, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Markets ──────────────────────────────────────────

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.ledger.ListMarkets()
	if markets == nil {
		markets = []model.Market{}
	}
	json200(w, markets)
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.ledger.GetMarket(chi.URLParam(r, "collection"))
	if err != nil {
		jsonDomainErr(w, err)
		return
	}
	json200(w, m)
}

func (s *Server) acceptsCurrency(w http.ResponseWriter, r *http.Request) {
	currency := chi.URLParam(r, "currency")
	json200(w, map[string]any{"currency": currency, "accepted": s.ledger.AcceptsCurrency(currency)})
}

// ── Auctions ─────────────────────────────────────────

func (s *Server) createAuction(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, uid, ok := s.assetParams(w, r)
	if !ok {
		return
	}
	var req model.CreateAuctionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.DurationSec <= 0 {
		jsonErr(w, 400, "duration_sec must be > 0")
		return
	}
	err := s.ledger.CreateAuction(r.Context(), uid, collection, tokenID, req.Currency, req.StartingBid, time.Duration(req.DurationSec)*time.Second)
	if err != nil {
		jsonDomainErr(w, err)
		return
	}
	a, _ := s.ledger.GetAuction(collection, tokenID)
	s.publish(r.Context(), ws.Event{Type: "auction_created", Collection: collection, TokenID: tokenID, Data: a})
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(a)
}

func (s *Server) getAuction(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, _, ok := s.assetParams(w, r)
	if !ok {
		return
	}
	a, err := s.ledger.GetAuction(collection, tokenID)
	if err != nil {
		jsonDomainErr(w, err)
		return
	}
	json200(w, a)
}

func (s *Server) bid(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, uid, ok := s.assetParams(w, r)
	if !ok {
		return
	}
	var req model.BidReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if err := s.ledger.Bid(r.Context(), uid, collection, tokenID, req.Amount); err != nil {
		jsonDomainErr(w, err)
		return
	}
	hb, _ := s.ledger.GetHighestBid(collection, tokenID)
	s.publish(r.Context(), ws.Event{Type: "bid", Collection: collection, TokenID: tokenID, Data: hb})
	json200(w, hb)
}

func (s *Server) endAuction(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, _, ok := s.assetParams(w, r)
	if !ok {
		return
	}
	if err := s.ledger.EndAuction(r.Context(), collection, tokenID); err != nil {
		jsonDomainErr(w, err)
		return
	}
	owner := s.ledger.GetNftOwner(collection, tokenID)
	s.publish(r.Context(), ws.Event{Type: "auction_ended", Collection: collection, TokenID: tokenID, Data: map[string]any{"claimant": owner}})
	json200(w, map[string]any{"status": "ended", "claimant": owner})
}

// ── Direct Sales ─────────────────────────────────────

func (s *Server) sell(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, uid, ok := s.assetParams(w, r)
	if !ok {
		return
	}
	var req model.SellReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if err := s.ledger.Sell(r.Context(), uid, collection, tokenID, req.Currency, req.Price); err != nil {
		jsonDomainErr(w, err)
		return
	}
	o, _ := s.ledger.GetSellOrder(collection, tokenID)
	s.publish(r.Context(), ws.Event{Type: "listed", Collection: collection, TokenID: tokenID, Data: o})
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(o)
}

func (s *Server) getSellOrder(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, _, ok := s.assetParams(w, r)
	if !ok {
		return
	}
	o, err := s.ledger.GetSellOrder(collection, tokenID)
	if err != nil {
		jsonDomainErr(w, err)
		return
	}
	json200(w, o)
}

func (s *Server) cancelSell(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, uid, ok := s.assetParams(w, r)
	if !ok {
		return
	}
	if err := s.ledger.CancelSell(r.Context(), uid, collection, tokenID); err != nil {
		jsonDomainErr(w, err)
		return
	}
	s.publish(r.Context(), ws.Event{Type: "delisted", Collection: collection, TokenID: tokenID})
	json200(w, map[string]string{"status": "canceled"})
}

func (s *Server) buy(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, uid, ok := s.assetParams(w, r)
	if !ok {
		return
	}
	var req model.BuyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if err := s.ledger.Buy(r.Context(), uid, collection, tokenID, req.Currency, req.Amount); err != nil {
		jsonDomainErr(w, err)
		return
	}
	s.publish(r.Context(), ws.Event{Type: "sale", Collection: collection, TokenID: tokenID, Data: map[string]any{
		"buyer": uid, "currency": req.Currency, "amount": req.Amount,
	}})
	json200(w, map[string]string{"status": "sold"})
}

// ── Escrow and Assets ────────────────────────────────

func (s *Server) withdrawNft(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, uid, ok := s.assetParams(w, r)
	if !ok {
		return
	}
	if err := s.ledger.WithdrawNft(r.Context(), uid, collection, tokenID); err != nil {
		jsonDomainErr(w, err)
		return
	}
	s.publish(r.Context(), ws.Event{Type: "nft_claimed", Collection: collection, TokenID: tokenID, Data: map[string]any{"owner": uid}})
	json200(w, map[string]string{"status": "claimed"})
}

func (s *Server) getClaimant(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, _, ok := s.assetParams(w, r)
	if !ok {
		return
	}
	claimant := s.ledger.GetNftOwner(collection, tokenID)
	if claimant == "" {
		jsonErr(w, 404, "nothing in escrow for this token")
		return
	}
	json200(w, map[string]any{"token_id": tokenID, "claimant": claimant})
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, _, ok := s.assetParams(w, r)
	if !ok {
		return
	}
	a, err := s.store.GetAsset(r.Context(), collection, tokenID)
	if err != nil || a == nil {
		jsonErr(w, 404, "asset not found")
		return
	}
	json200(w, a)
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	assets, err := s.store.ListAssets(r.Context(), collection, r.URL.Query().Get("owner"))
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if assets == nil {
		assets = []model.Asset{}
	}
	json200(w, assets)
}

// ── Balances ─────────────────────────────────────────

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	accounts, err := s.store.ListAccounts(r.Context(), uid)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	json200(w, accounts)
}

func (s *Server) getCredit(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	currency := chi.URLParam(r, "currency")
	json200(w, map[string]any{"currency": currency, "balance": s.ledger.GetBalance(uid, currency)})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	currency := chi.URLParam(r, "currency")
	amount, err := s.ledger.Withdraw(r.Context(), uid, currency)
	if err != nil {
		jsonDomainErr(w, err)
		return
	}
	json200(w, map[string]any{"currency": currency, "amount": amount})
}

// ── Reflection Registry ──────────────────────────────

func (s *Server) registerToken(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	var req model.RegisterTokenReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if err := s.registry.Register(r.Context(), uid, req.TokenID, req.Currency); err != nil {
		jsonDomainErr(w, err)
		return
	}
	reg := s.registry.Registration(req.TokenID)
	s.publish(r.Context(), ws.Event{Type: "registered", Collection: s.registry.Collection(), TokenID: req.TokenID, Data: reg})
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(reg)
}

func (s *Server) getRegistration(w http.ResponseWriter, r *http.Request) {
	tokenID, err := strconv.ParseUint(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil {
		jsonErr(w, 400, "invalid token id")
		return
	}
	reg := s.registry.Registration(tokenID)
	pending := int64(0)
	if reg.Registered {
		pending, _ = s.registry.PendingFees(tokenID)
	}
	json200(w, map[string]any{"registration": reg, "pending_fees": pending})
}

func (s *Server) getIndex(w http.ResponseWriter, r *http.Request) {
	currency := chi.URLParam(r, "currency")
	json200(w, map[string]any{
		"currency":         currency,
		"index":            s.registry.Index(currency).String(),
		"total_registered": s.registry.TotalRegistered(currency),
	})
}

func (s *Server) collectFees(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	var req model.CollectFeesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	paid, err := s.registry.CollectFees(r.Context(), uid, req.TokenIDs)
	if err != nil {
		// A payout failure partway through a multi-currency batch leaves the
		// earlier currencies paid; report them with the error.
		if len(paid) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(domainStatus(err))
			json.NewEncoder(w).Encode(map[string]any{"error": err.Error(), "paid": paid})
			return
		}
		jsonDomainErr(w, err)
		return
	}
	s.publish(r.Context(), ws.Event{Type: "fees_collected", Collection: s.registry.Collection(), Data: map[string]any{"holder": uid, "paid": paid}})
	json200(w, map[string]any{"paid": paid})
}

func (s *Server) switchCurrency(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	var req model.SwitchCurrencyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	claim, err := s.registry.SwitchCurrency(r.Context(), uid, req.TokenID, req.Currency)
	if err != nil {
		jsonDomainErr(w, err)
		return
	}
	s.publish(r.Context(), ws.Event{Type: "currency_switched", Collection: s.registry.Collection(), TokenID: req.TokenID, Data: map[string]any{
		"currency": req.Currency, "claim": claim,
	}})
	json200(w, map[string]any{"claim": claim})
}

// ── Admin ────────────────────────────────────────────

func (s *Server) createMarket(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	var req model.CreateMarketReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Collection == "" || req.Name == "" {
		jsonErr(w, 400, "collection and name required")
		return
	}
	err := s.ledger.CreateMarket(r.Context(), uid, req.Collection, req.Name, req.Creator,
		req.OperatorFeeBps, req.CreatorFeeBps, req.ReflectionFeeBps)
	if err != nil {
		jsonDomainErr(w, err)
		return
	}
	m, _ := s.ledger.GetMarket(req.Collection)
	if err := s.store.SaveMarket(r.Context(), &m); err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	s.publish(r.Context(), ws.Event{Type: "market_created", Collection: req.Collection, Data: m})
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(m)
}

func (s *Server) setMarketFee(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	collection := chi.URLParam(r, "collection")
	var req struct {
		OperatorFeeBps   int `json:"operator_fee_bps"`
		CreatorFeeBps    int `json:"creator_fee_bps"`
		ReflectionFeeBps int `json:"reflection_fee_bps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if err := s.ledger.SetMarketFee(r.Context(), uid, collection, req.OperatorFeeBps, req.CreatorFeeBps, req.ReflectionFeeBps); err != nil {
		jsonDomainErr(w, err)
		return
	}
	m, _ := s.ledger.GetMarket(collection)
	if err := s.store.SaveMarket(r.Context(), &m); err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	s.publish(r.Context(), ws.Event{Type: "fees_updated", Collection: collection, Data: m})
	json200(w, m)
}

func (s *Server) setMarketState(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	collection := chi.URLParam(r, "collection")
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if err := s.ledger.SetMarketState(r.Context(), uid, collection, req.Active); err != nil {
		jsonDomainErr(w, err)
		return
	}
	m, _ := s.ledger.GetMarket(collection)
	if err := s.store.SaveMarket(r.Context(), &m); err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	s.publish(r.Context(), ws.Event{Type: "market_state", Collection: collection, Data: m})
	json200(w, m)
}

func (s *Server) addCurrency(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	var req struct {
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if err := s.ledger.AddCurrency(r.Context(), uid, req.Currency); err != nil {
		jsonDomainErr(w, err)
		return
	}
	json200(w, map[string]string{"status": "added", "currency": req.Currency})
}

func (s *Server) getFeePools(w http.ResponseWriter, r *http.Request) {
	currency := chi.URLParam(r, "currency")
	json200(w, map[string]any{
		"currency":        currency,
		"operator_pool":   s.ledger.GetFeesBalance(currency),
		"reflection_pool": s.ledger.GetReflectionFeesBalance(currency),
		"collector":       s.ledger.ReflectionFeesCollector(),
	})
}

func (s *Server) withdrawDevFees(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	currency := chi.URLParam(r, "currency")
	amount, err := s.ledger.WithdrawDevFees(r.Context(), uid, currency)
	if err != nil {
		jsonDomainErr(w, err)
		return
	}
	json200(w, map[string]any{"currency": currency, "amount": amount})
}

func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	var req struct {
		Collection string `json:"collection"`
		TokenID    uint64 `json:"token_id"`
		Owner      string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Collection == "" || req.Owner == "" {
		jsonErr(w, 400, "collection and owner required")
		return
	}
	a, err := s.custodian.Mint(r.Context(), uid, req.Collection, req.TokenID, req.Owner)
	if err != nil {
		jsonDomainErr(w, err)
		return
	}
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(a)
}

func (s *Server) adminDeposit(w http.ResponseWriter, r *http.Request) {
	uid := r.Context().Value(ctxUserID).(string)
	var req struct {
		Holder   string `json:"holder"`
		Currency string `json:"currency"`
		Amount   int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Holder == "" || req.Currency == "" {
		jsonErr(w, 400, "holder and currency required")
		return
	}
	a, err := s.custodian.Deposit(r.Context(), uid, req.Holder, req.Currency, req.Amount)
	if err != nil {
		jsonDomainErr(w, err)
		return
	}
	json200(w, a)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if users == nil {
		users = []model.User{}
	}
	json200(w, users)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit := 100
	if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 500 {
		limit = n
	}
	collection := r.URL.Query().Get("collection")
	var cp *string
	if collection != "" {
		cp = &collection
	}
	events, err := s.store.ListEvents(r.Context(), cp, limit)
	if err != nil {
		jsonErr(w, 500, err.Error())
		return
	}
	if events == nil {
		events = []model.EventLog{}
	}
	json200(w, events)
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	markets := s.ledger.ListMarkets()
	users, _ := s.store.ListUsers(ctx)

	activeMarkets := 0
	for _, m := range markets {
		if m.Active {
			activeMarkets++
		}
	}

	json200(w, map[string]any{
		"total_markets":    len(markets),
		"active_markets":   activeMarkets,
		"total_users":      len(users),
		"registered_count": s.registry.TotalRegistered(r.URL.Query().Get("currency")),
	})
}

// ── Helpers ──────────────────────────────────────────

func (s *Server) assetParams(w http.ResponseWriter, r *http.Request) (string, uint64, string, bool) {
	collection := chi.URLParam(r, "collection")
	tokenID, err := strconv.ParseUint(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil {
		jsonErr(w, 400, "invalid token id")
		return "", 0, "", false
	}
	uid, _ := r.Context().Value(ctxUserID).(string)
	return collection, tokenID, uid, true
}

// publish records the event and fans it out to subscribers.
func (s *Server) publish(ctx context.Context, ev ws.Event) {
	_ = s.store.AppendEvent(ctx, &ev.Collection, ev.Type, ev.Data)
	s.hub.Publish(ev)
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func jsonDomainErr(w http.ResponseWriter, err error) {
	jsonErr(w, domainStatus(err), err.Error())
}

func domainStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return 404
	case errors.Is(err, model.ErrAlreadyExists):
		return 409
	case errors.Is(err, model.ErrUnauthorized):
		return 403
	case errors.Is(err, model.ErrInvalidState),
		errors.Is(err, model.ErrInvariantViolation),
		errors.Is(err, model.ErrTransferFailed):
		return 400
	default:
		return 500
	}
}
