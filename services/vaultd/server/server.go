package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	nativecommon "yieldvault/native/common"
	"yieldvault/native/vault"
	"yieldvault/services/vaultd/journal"
	vaultmw "yieldvault/services/vaultd/middleware"
)

// EventSource serves recently journaled vault events.
type EventSource interface {
	Recent(ctx context.Context, eventType string, limit int) ([]journal.Entry, error)
}

// AssetLedger is the simulated asset the vault settles in.
type AssetLedger interface {
	Address() common.Address
	BalanceOf(owner common.Address) *uint256.Int
	Allowance(owner, spender common.Address) *uint256.Int
	Approve(owner, spender common.Address, amount *uint256.Int) error
}

// StrategyRegistry resolves strategy implementations the daemon knows how
// to drive.
type StrategyRegistry func(addr common.Address) (vault.Strategy, bool)

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine     *vault.Engine
	Asset      AssetLedger
	Auth       *vaultmw.Authenticator
	Limiter    *vaultmw.RateLimiter
	Quota      *nativecommon.QuotaTracker
	Pauses     *nativecommon.Pauses
	Events     EventSource
	Strategies StrategyRegistry
	Logger     *slog.Logger
	Now        func() time.Time
}

// Server exposes the vault over JSON HTTP.
type Server struct {
	engine     *vault.Engine
	asset      AssetLedger
	auth       *vaultmw.Authenticator
	limiter    *vaultmw.RateLimiter
	quota      *nativecommon.QuotaTracker
	pauses     *nativecommon.Pauses
	events     EventSource
	strategies StrategyRegistry
	logger     *slog.Logger
	now        func() time.Time

	router http.Handler
}

func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("server: authenticator required")
	}
	srv := &Server{
		engine:     cfg.Engine,
		asset:      cfg.Asset,
		auth:       cfg.Auth,
		limiter:    cfg.Limiter,
		quota:      cfg.Quota,
		pauses:     cfg.Pauses,
		events:     cfg.Events,
		strategies: cfg.Strategies,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.now == nil {
		srv.now = time.Now
	}
	srv.router = otelhttp.NewHandler(srv.buildRouter(), "vaultd")
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.With(s.route("vault", 0)...).Get("/vault", s.handleVault)
		api.With(s.route("events", 0)...).Get("/events", s.handleEvents)
		api.With(s.route("strategy", 0)...).Get("/strategies/{addr}", s.handleStrategy)
		api.With(s.route("account", 0)...).Get("/accounts/{addr}", s.handleAccount)
		api.With(s.route("approve", 0)...).Post("/asset/approve", s.handleApprove)

		api.With(s.route("deposit", 0)...).Post("/deposit", s.handleDeposit)
		api.With(s.route("mint", 0)...).Post("/mint", s.handleMint)
		api.With(s.route("withdraw", 0)...).Post("/withdraw", s.handleWithdraw)
		api.With(s.route("redeem", 0)...).Post("/redeem", s.handleRedeem)

		api.With(s.route("debt", vault.RoleDebtManager)...).Post("/debt", s.handleUpdateDebt)
		api.With(s.route("report", vault.RoleReportingManager)...).Post("/report", s.handleReport)
		api.With(s.route("add_strategy", vault.RoleAddStrategyManager)...).Post("/strategies", s.handleAddStrategy)
		api.With(s.route("revoke_strategy", vault.RoleRevokeStrategyManager)...).Post("/strategies/{addr}/revoke", s.handleRevokeStrategy)
		api.With(s.route("max_debt", vault.RoleMaxDebtManager)...).Post("/strategies/{addr}/max-debt", s.handleMaxDebt)
		api.With(s.route("shutdown", vault.RoleEmergencyManager)...).Post("/shutdown", s.handleShutdown)
		api.With(s.route("pause", vault.RoleEmergencyManager)...).Post("/pause", s.handlePause)
	})
	return r
}

// route stacks metrics, throttling and authentication for one endpoint.
func (s *Server) route(name string, required vault.Role) []func(http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{vaultmw.Observe(name)}
	if s.limiter != nil {
		chain = append(chain, s.limiter.Middleware(name))
	}
	return append(chain, s.auth.Middleware(required))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.TotalAssets(); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "event journal disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	entries, err := s.events.Recent(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		s.logger.Error("vaultd: load events", "error", err)
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("vaultd: encode response", "error", err)
	}
}

// writeError maps vault failures onto HTTP status codes by category.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("vaultd: request failed", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, errorResponse{
		Error:    err.Error(),
		Category: vault.CategoryOf(err).String(),
	})
}

type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaAssetsExceeded),
		errors.Is(err, nativecommon.ErrQuotaCounterOverflow):
		return http.StatusTooManyRequests
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	switch vault.CategoryOf(err) {
	case vault.CategoryLimit, vault.CategoryIntegrity:
		return http.StatusUnprocessableEntity
	case vault.CategoryState:
		return http.StatusConflict
	case vault.CategoryInsufficiency:
		return http.StatusBadRequest
	case vault.CategoryAccess:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
