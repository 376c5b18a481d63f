package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/0oeaaeo/discord-stocks-bot/internal/ledger"
)

type tradeRequest struct {
	SecurityID int64 `json:"security_id"`
	Shares     int64 `json:"shares"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp("bad request body"))
		return
	}
	receipt, err := s.engine.Buy(r.Context(), actingUser(r), req.SecurityID, req.Shares)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.metrics.TradesTotal.WithLabelValues(string(ledger.KindBuy)).Inc()
	writeJSON(w, http.StatusOK, okResp(receipt))
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp("bad request body"))
		return
	}
	receipt, err := s.engine.Sell(r.Context(), actingUser(r), req.SecurityID, req.Shares)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.metrics.TradesTotal.WithLabelValues(string(ledger.KindSell)).Inc()
	writeJSON(w, http.StatusOK, okResp(receipt))
}

func (s *Server) handleOpenShort(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp("bad request body"))
		return
	}
	terms, err := s.engine.OpenShort(r.Context(), actingUser(r), req.SecurityID, req.Shares)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.metrics.TradesTotal.WithLabelValues(string(ledger.KindShort)).Inc()
	writeJSON(w, http.StatusOK, okResp(terms))
}

func (s *Server) handleCoverShort(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp("bad request body"))
		return
	}
	receipt, err := s.engine.CoverShort(r.Context(), actingUser(r), req.SecurityID, req.Shares)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.metrics.TradesTotal.WithLabelValues(string(ledger.KindShortCover)).Inc()
	writeJSON(w, http.StatusOK, okResp(receipt))
}

func (s *Server) handleListShorts(w http.ResponseWriter, r *http.Request) {
	views, err := s.store.ShortsOf(r.Context(), actingUser(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	type shortOut struct {
		ledger.ShortView
		UnrealizedPL int64 `json:"unrealized_pl"`
	}
	out := make([]shortOut, 0, len(views))
	for _, v := range views {
		out = append(out, shortOut{ShortView: v, UnrealizedPL: v.UnrealizedPL()})
	}
	writeJSON(w, http.StatusOK, okResp(out))
}

type orderRequest struct {
	SecurityID  int64  `json:"security_id"`
	Shares      int64  `json:"shares"`
	TargetPrice int64  `json:"target_price"`
	Direction   string `json:"direction"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp("bad request body"))
		return
	}
	dir := ledger.OrderDirection(req.Direction)
	if dir != ledger.BuyLow && dir != ledger.SellHigh {
		writeJSON(w, http.StatusBadRequest, errResp("direction must be buy_low or sell_high"))
		return
	}
	id, err := s.engine.PlaceLimitOrder(r.Context(), actingUser(r),
		req.SecurityID, req.Shares, req.TargetPrice, dir)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(map[string]any{"order_id": id}))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.LimitOrdersOf(r.Context(), actingUser(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(orders))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errResp("bad order id"))
		return
	}
	if err := s.store.DeleteLimitOrder(r.Context(), id, actingUser(r)); err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(map[string]any{"cancelled": id}))
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.engine.ClaimDaily(r.Context(), actingUser(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(receipt))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Portfolio(r.Context(), actingUser(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(entries))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.store.GetWallet(r.Context(), actingUser(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(wallet))
}

func (s *Server) handleNetWorth(w http.ResponseWriter, r *http.Request) {
	worth, err := s.store.NetWorth(r.Context(), actingUser(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(map[string]any{"net_worth_cents": worth}))
}

func (s *Server) handleMyStats(w http.ResponseWriter, r *http.Request) {
	userID := actingUser(r)
	wallet, err := s.store.GetWallet(r.Context(), userID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	sec, err := s.store.GetSecurity(r.Context(), userID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	activity, err := s.store.ActivityWindow(r.Context(), userID, 7)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	worth, err := s.store.NetWorth(r.Context(), userID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(map[string]any{
		"wallet":          wallet,
		"security":        sec,
		"activity_7d":     activity,
		"net_worth_cents": worth,
	}))
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Achievements(r.Context(), actingUser(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(list))
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errResp("bad security id"))
		return
	}
	sec, err := s.store.GetSecurity(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	user, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	history, err := s.store.PriceHistory(r.Context(), id, 48)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(map[string]any{
		"user":     user,
		"security": sec,
		"history":  history,
	}))
}

func (s *Server) handleShareholders(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errResp("bad security id"))
		return
	}
	holders, err := s.store.Shareholders(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(holders))
}

type fundRequest struct {
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
}

func (s *Server) handleCreateFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp("bad request body"))
		return
	}
	f, err := s.funds.Create(r.Context(), actingUser(r), strings.TrimSpace(req.Name))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(f))
}

func (s *Server) handleFundDeposit(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp("bad request body"))
		return
	}
	f, err := s.funds.ByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	f, err = s.funds.Deposit(r.Context(), f.ID, actingUser(r), req.AmountCents)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(f))
}

func (s *Server) handleFundInfo(w http.ResponseWriter, r *http.Request) {
	f, err := s.funds.ByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	members, err := s.funds.Members(r.Context(), f.ID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(map[string]any{
		"fund":    f,
		"members": members,
	}))
}

func (s *Server) handleOptOutRequest(w http.ResponseWriter, r *http.Request) {
	token, expires := s.desk.Request(actingUser(r))
	writeJSON(w, http.StatusOK, okResp(map[string]any{
		"token":   token,
		"expires": expires,
		"warning": "Opting out is permanent. Your stock will decay and eventually be delisted.",
	}))
}

func (s *Server) handleOptOutConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp("bad request body"))
		return
	}
	if err := s.desk.Confirm(r.Context(), actingUser(r), req.Token); err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(map[string]any{"opted_out": true}))
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Leaderboard(r.Context(), 10)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(entries))
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Trending(r.Context(), 10)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(entries))
}

func (s *Server) handleLosers(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Losers(r.Context(), 10)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(entries))
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.TopVolume(r.Context(), 10)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(entries))
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	stories, err := s.store.RecentNews(r.Context(), 20)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResp(stories))
}

func (s *Server) handleForceEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp("bad request body"))
		return
	}
	var magnitude float64
	switch req.Type {
	case "crash":
		magnitude = 0.80
	case "boom":
		magnitude = 1.20
	default:
		writeJSON(w, http.StatusBadRequest, errResp("type must be crash or boom"))
		return
	}
	err := s.store.ApplyMarketEvent(r.Context(), req.Type, magnitude,
		"Manually triggered market "+req.Type, 0)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.metrics.EventsRolled.WithLabelValues(req.Type).Inc()
	writeJSON(w, http.StatusOK, okResp(map[string]any{"applied": req.Type}))
}

func (s *Server) handleForceSplit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errResp("bad security id"))
		return
	}
	rep, err := s.store.ApplySplit(r.Context(), id, 2)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.metrics.SplitsTotal.Inc()
	writeJSON(w, http.StatusOK, okResp(rep))
}
