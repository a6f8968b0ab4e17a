package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/susu3304/warikanbot/internal/ledger"
)

const (
	defaultExpenseLimit = 50
	maxExpenseLimit     = 500
)

type guildResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner bool   `json:"owner"`
}

type balanceResponse struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Balance string `json:"balance"`
}

type transferResponse struct {
	From     string `json:"from"`
	FromName string `json:"from_name"`
	To       string `json:"to"`
	ToName   string `json:"to_name"`
	Amount   string `json:"amount"`
}

type expenseResponse struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Amount       string   `json:"amount"`
	PayerID      string   `json:"payer_id"`
	PayerName    string   `json:"payer_name"`
	Participants []string `json:"participants"`
	CreatedAt    string   `json:"created_at"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.ledger.Ping(r.Context()); err != nil {
		a.log.Warn("health check failed", zap.Error(err))
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUserGuilds lists the caller's guilds that have a ledger.
func (a *API) handleUserGuilds(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	guilds, err := a.discord.UserGuilds(r.Context(), claims.AccessToken)
	if err != nil {
		a.log.Warn("failed to fetch user guilds", zap.String("user_id", claims.UserID), zap.Error(err))
		http.Error(w, "failed to fetch guilds", http.StatusBadGateway)
		return
	}

	groups, err := a.ledger.Groups(r.Context())
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	known := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		known[g.ID] = struct{}{}
	}

	result := make([]guildResponse, 0, len(guilds))
	for _, g := range guilds {
		if _, ok := known[g.ID]; !ok {
			continue
		}
		owner := g.Owner != nil && *g.Owner
		result = append(result, guildResponse{ID: g.ID, Name: g.Name, Owner: owner})
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleBalances(w http.ResponseWriter, r *http.Request) {
	guildID, ok := a.authorizeGuild(w, r)
	if !ok {
		return
	}

	members, err := a.ledger.Members(r.Context(), guildID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	balances, err := a.ledger.Balances(r.Context(), guildID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}

	result := make([]balanceResponse, 0, len(members))
	for _, m := range members {
		result = append(result, balanceResponse{
			UserID:  m.UserID,
			Name:    m.Name,
			Balance: balances[m.UserID].StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSettlement(w http.ResponseWriter, r *http.Request) {
	guildID, ok := a.authorizeGuild(w, r)
	if !ok {
		return
	}

	transfers, err := a.ledger.PlanSettlement(r.Context(), guildID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	names, err := a.memberNames(r.Context(), guildID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}

	result := make([]transferResponse, 0, len(transfers))
	for _, t := range transfers {
		result = append(result, transferResponse{
			From:     t.From,
			FromName: names.get(t.From),
			To:       t.To,
			ToName:   names.get(t.To),
			Amount:   t.Amount.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	guildID, ok := a.authorizeGuild(w, r)
	if !ok {
		return
	}

	limit := defaultExpenseLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxExpenseLimit)
	}

	expenses, err := a.ledger.History(r.Context(), guildID, limit)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	names, err := a.memberNames(r.Context(), guildID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}

	result := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		result = append(result, expenseResponse{
			ID:           e.ID,
			Name:         e.Name,
			Amount:       e.Amount.String(),
			PayerID:      e.PayerID,
			PayerName:    names.get(e.PayerID),
			Participants: e.Participants,
			CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	guildID, ok := a.authorizeGuild(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid expense id", http.StatusBadRequest)
		return
	}

	if err := a.ledger.DeleteExpense(r.Context(), guildID, id); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	claims := claimsFrom(r.Context())
	a.log.Info("expense deleted via API",
		zap.String("guild_id", guildID),
		zap.Int64("expense_id", id),
		zap.String("user_id", claims.UserID),
	)
	w.WriteHeader(http.StatusNoContent)
}

// authorizeGuild checks that the caller belongs to the guild in the path.
func (a *API) authorizeGuild(w http.ResponseWriter, r *http.Request) (string, bool) {
	guildID := mux.Vars(r)["guild_id"]
	claims := claimsFrom(r.Context())

	hasAccess, err := a.userHasGuildAccess(r.Context(), claims.AccessToken, guildID)
	if err != nil {
		a.log.Warn("guild access check failed", zap.String("guild_id", guildID), zap.Error(err))
		http.Error(w, "failed to verify guild access", http.StatusBadGateway)
		return "", false
	}
	if !hasAccess {
		http.Error(w, "access denied", http.StatusForbidden)
		return "", false
	}
	return guildID, true
}

func (a *API) userHasGuildAccess(ctx context.Context, accessToken, guildID string) (bool, error) {
	guilds, err := a.discord.UserGuilds(ctx, accessToken)
	if err != nil {
		return false, err
	}
	for _, g := range guilds {
		if g.ID == guildID {
			return true, nil
		}
	}
	return false, nil
}

func (a *API) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrInvalidExpense):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		a.log.Error("ledger request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type memberNames map[string]string

func (n memberNames) get(userID string) string {
	if name, ok := n[userID]; ok && name != "" {
		return name
	}
	return "Unknown"
}

func (a *API) memberNames(ctx context.Context, guildID string) (memberNames, error) {
	members, err := a.ledger.Members(ctx, guildID)
	if err != nil {
		return nil, err
	}
	names := make(memberNames, len(members))
	for _, m := range members {
		names[m.UserID] = m.Name
	}
	return names, nil
}
