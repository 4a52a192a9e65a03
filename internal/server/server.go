// Package server — HTTP-поверхность движка: REST API для леджера, наград,
// разблокировок и инвестиций, плюс вебхук enforcement-коллаборатора.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"focusbank.ru/gating-engine/internal/config"
	"focusbank.ru/gating-engine/internal/features/invest"
	"focusbank.ru/gating-engine/internal/features/ledger"
	"focusbank.ru/gating-engine/internal/features/rewards"
	"focusbank.ru/gating-engine/internal/features/unlocks"
	"focusbank.ru/gating-engine/internal/server/middleware"
)

// Server связывает маршруты с сервисами предметной области.
type Server struct {
	cfg     *config.Config
	ledger  *ledger.Service
	rewards *rewards.Service
	unlocks *unlocks.Service
	invest  *invest.Service
	limiter *middleware.RateLimiter
}

// New создаёт сервер поверх собранных сервисов.
func New(cfg *config.Config, ledgerSvc *ledger.Service, rewardsSvc *rewards.Service, unlocksSvc *unlocks.Service, investSvc *invest.Service) *Server {
	return &Server{
		cfg:     cfg,
		ledger:  ledgerSvc,
		rewards: rewardsSvc,
		unlocks: unlocksSvc,
		invest:  investSvc,
		limiter: middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
	}
}

// Close освобождает фоновые ресурсы сервера.
func (s *Server) Close() {
	s.limiter.Close()
}

// Router собирает все маршруты API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(s.cfg.HTTPRequestTimeout))

	// Служебные маршруты без авторизации
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.APIKeyHash))

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Use(s.rateLimitByUser)

			r.Post("/provision", s.handleProvision)
			r.Get("/balance", s.handleBalance)
			r.Get("/transactions", s.handleTransactions)

			r.Post("/rewards/credit", s.handleCreditWindow)

			r.Post("/unlocks", s.handleSpendUnlock)
			r.Post("/reconcile", s.handleReconcile)
			r.Get("/locks", s.handleLockedPackages)
			r.Post("/locks", s.handleLock)
			r.Delete("/locks/{package}", s.handleUnlockPermanently)

			r.Post("/investments", s.handleInvest)
			r.Get("/investments", s.handlePositions)
			r.Get("/investments/summary", s.handleSummary)
			r.Post("/withdrawals", s.handleWithdraw)
			r.Post("/purchases", s.handleBuyTokens)
		})

		// Вебхук requestUnlock: enforcement-коллаборатор запрашивает
		// разблокировку от имени пользователя, семантика та же, что у
		// POST /users/{userID}/unlocks.
		r.Post("/webhooks/enforcement/unlock", s.handleEnforcementUnlock)
	})

	return r
}

// rateLimitByUser ограничивает частоту запросов по идентификатору
// пользователя из пути.
func (s *Server) rateLimitByUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID != "" && !s.limiter.Allow(userID) {
			writeError(w, http.StatusTooManyRequests, "слишком много запросов, попробуйте позже")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
