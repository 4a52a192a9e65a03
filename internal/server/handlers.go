// Package server — handlers.go содержит JSON-обработчики всех маршрутов
// и единое отображение ошибок предметной области на HTTP-коды.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"focusbank.ru/gating-engine/internal/common"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Ошибка кодирования ответа")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError отображает ошибки предметной области на HTTP-коды.
// Отказы-политики (недостаточный баланс на unlock, отказ платежа) сюда
// не попадают: сервисы возвращают их как Result{Success: false}.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, common.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrTransientConflict):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, common.ErrCollaboratorUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.WithError(err).Error("Внутренняя ошибка обработчика")
		writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return false
	}
	return true
}

// --- Леджер ---

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.ledger.Provision(r.Context(), userID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "provisioned"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	rec, err := s.ledger.Record(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         rec.UserID,
		"tokens":          rec.Tokens,
		"formatted":       common.FormatBalance(rec.Tokens),
		"locked_apps":     rec.LockedApps,
		"unlock_sessions": rec.UnlockSessions,
		"mmf_preference":  rec.MMFPreference,
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.ledger.History(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "transactions": entries})
}

// --- Награды ---

type creditWindowRequest struct {
	WindowStart     int64  `json:"window_start"`
	WindowEnd       int64  `json:"window_end"`
	MinutesOverride *int64 `json:"minutes_override,omitempty"`
}

func (s *Server) handleCreditWindow(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req creditWindowRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.rewards.CreditWindow(r.Context(), userID, req.WindowStart, req.WindowEnd, req.MinutesOverride)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Разблокировки и enforced-набор ---

type unlockRequest struct {
	Package     string `json:"package"`
	DisplayName string `json:"display_name"`
}

func (s *Server) handleSpendUnlock(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req unlockRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.unlocks.SpendUnlock(r.Context(), userID, req.Package, req.DisplayName, r.Header.Get("X-Request-ID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.unlocks.Reconcile(r.Context(), userID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "reconciled"})
}

func (s *Server) handleLockedPackages(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	pkgs, err := s.unlocks.LockedPackages(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if pkgs == nil {
		pkgs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "packages": pkgs})
}

type lockRequest struct {
	Packages []string `json:"packages"`
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req lockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Packages) == 0 {
		writeError(w, http.StatusBadRequest, "пустой список пакетов")
		return
	}

	if err := s.unlocks.LockMany(r.Context(), userID, req.Packages); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "locked"})
}

func (s *Server) handleUnlockPermanently(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	pkg := chi.URLParam(r, "package")

	if err := s.unlocks.UnlockPermanently(r.Context(), userID, pkg); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "package": pkg, "status": "ungoverned"})
}

// Вебхук requestUnlock. Пользователь приходит в теле, а не в пути,
// семантика идентична handleSpendUnlock.
type enforcementUnlockRequest struct {
	UserID      string `json:"user_id"`
	Package     string `json:"package"`
	DisplayName string `json:"display_name"`
	RequestID   string `json:"request_id"`
}

func (s *Server) handleEnforcementUnlock(w http.ResponseWriter, r *http.Request) {
	var req enforcementUnlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "не задан user_id")
		return
	}

	res, err := s.unlocks.SpendUnlock(r.Context(), req.UserID, req.Package, req.DisplayName, req.RequestID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Инвестиции ---

type investRequest struct {
	FundID           string  `json:"fund_id"`
	FundName         string  `json:"fund_name"`
	Amount           int64   `json:"amount"`
	UnitPrice        float64 `json:"unit_price"`
	PaymentReference string  `json:"payment_reference"`
}

func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req investRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.invest.Invest(r.Context(), userID, req.FundID, req.FundName, req.Amount, req.UnitPrice, req.PaymentReference, r.Header.Get("X-Request-ID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	positions, err := s.invest.Positions(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "positions": positions})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	writeJSON(w, http.StatusOK, s.invest.GetSummary(r.Context(), userID))
}

type withdrawRequest struct {
	Amount          int64  `json:"amount"`
	PayoutReference string `json:"payout_reference"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req withdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.invest.Withdraw(r.Context(), userID, req.Amount, req.PayoutReference, r.Header.Get("X-Request-ID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type purchaseRequest struct {
	Amount      int64  `json:"amount"`
	Destination string `json:"destination"`
}

func (s *Server) handleBuyTokens(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req purchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.invest.BuyTokens(r.Context(), userID, req.Amount, req.Destination, r.Header.Get("X-Request-ID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
