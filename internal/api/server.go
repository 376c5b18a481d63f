// Package api is the HTTP command surface. The presentation layer (a Discord
// bot frontend or dsxctl) is trusted and passes the acting member in the
// X-DSX-User header; the engine returns data and business outcomes only.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/0oeaaeo/discord-stocks-bot/internal/fund"
	"github.com/0oeaaeo/discord-stocks-bot/internal/ledger"
	"github.com/0oeaaeo/discord-stocks-bot/internal/observ"
	"github.com/0oeaaeo/discord-stocks-bot/internal/trading"
)

const userHeader = "X-DSX-User"

type Server struct {
	store   *ledger.Store
	engine  *trading.Engine
	funds   *fund.Manager
	desk    *trading.OptOutDesk
	metrics *observ.Metrics
	log     *slog.Logger
}

func NewServer(store *ledger.Store, engine *trading.Engine, funds *fund.Manager, desk *trading.OptOutDesk, metrics *observ.Metrics, logger *slog.Logger) *Server {
	return &Server{
		store:   store,
		engine:  engine,
		funds:   funds,
		desk:    desk,
		metrics: metrics,
		log:     logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Post("/trades/buy", s.handleBuy)
			r.Post("/trades/sell", s.handleSell)
			r.Post("/shorts", s.handleOpenShort)
			r.Post("/shorts/cover", s.handleCoverShort)
			r.Get("/shorts", s.handleListShorts)
			r.Post("/orders", s.handlePlaceOrder)
			r.Get("/orders", s.handleListOrders)
			r.Delete("/orders/{id}", s.handleCancelOrder)
			r.Post("/daily", s.handleDaily)
			r.Get("/portfolio", s.handlePortfolio)
			r.Get("/balance", s.handleBalance)
			r.Get("/networth", s.handleNetWorth)
			r.Get("/mystats", s.handleMyStats)
			r.Get("/achievements", s.handleAchievements)
			r.Post("/funds", s.handleCreateFund)
			r.Post("/funds/{name}/deposit", s.handleFundDeposit)
			r.Post("/optout/request", s.handleOptOutRequest)
			r.Post("/optout/confirm", s.handleOptOutConfirm)
		})

		r.Get("/ticker/{id}", s.handleTicker)
		r.Get("/shareholders/{id}", s.handleShareholders)
		r.Get("/funds/{name}", s.handleFundInfo)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/trending", s.handleTrending)
		r.Get("/losers", s.handleLosers)
		r.Get("/volume", s.handleVolume)
		r.Get("/news", s.handleNews)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/events", s.handleForceEvent)
			r.Post("/splits/{id}", s.handleForceSplit)
		})
	})
	return r
}

type ctxKey int

const userKey ctxKey = 0

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(userHeader), 10, 64)
		if err != nil || id <= 0 {
			writeJSON(w, http.StatusBadRequest, errResp("missing or invalid "+userHeader+" header"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, id)))
	})
}

func actingUser(r *http.Request) int64 {
	id, _ := r.Context().Value(userKey).(int64)
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Pool().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errResp("database unreachable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errResp(reason string) map[string]any {
	return map[string]any{"ok": false, "reason": reason}
}

func okResp(data any) map[string]any {
	return map[string]any{"ok": true, "data": data}
}

// businessReasons maps rule violations to API reasons. Anything else is an
// infrastructure fault.
var businessReasons = []struct {
	err    error
	reason string
}{
	{ledger.ErrInsufficientFunds, "insufficient funds"},
	{ledger.ErrInsufficientShares, "insufficient shares"},
	{ledger.ErrOwnershipLimit, "ownership limit reached"},
	{ledger.ErrSharesLocked, "shares are still locked"},
	{ledger.ErrSelfTrade, "cannot trade your own stock"},
	{ledger.ErrOptedOut, "this member has left the market"},
	{ledger.ErrInvalidQuantity, "quantity must be positive"},
	{ledger.ErrAlreadyClaimed, "daily bonus already claimed"},
	{ledger.ErrFundNameTaken, "fund name already taken"},
	{ledger.ErrFundNotFound, "fund not found"},
	{ledger.ErrNotFundMember, "not a member of this fund"},
	{ledger.ErrNotFound, "not found"},
	{ledger.ErrTxConflict, "market is busy, try again"},
	{trading.ErrNoPendingOptOut, "no pending opt-out request"},
	{trading.ErrOptOutTokenWrong, "confirmation token does not match"},
	{trading.ErrOptOutExpired, "confirmation window expired"},
}

// respondErr writes business failures as ok=false and everything else as a
// logged 500 with no detail leaked.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	for _, b := range businessReasons {
		if errors.Is(err, b.err) {
			writeJSON(w, http.StatusOK, errResp(b.reason))
			return
		}
	}
	s.log.Error("request failed",
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	writeJSON(w, http.StatusInternalServerError, errResp("internal error"))
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16)).Decode(v)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}
