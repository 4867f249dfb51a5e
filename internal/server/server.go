package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Anyawb/lendrisk/internal/access"
	"github.com/Anyawb/lendrisk/internal/engine"
	"github.com/Anyawb/lendrisk/internal/event"
	"github.com/Anyawb/lendrisk/internal/ledger"
	"github.com/Anyawb/lendrisk/internal/observability"
	"github.com/Anyawb/lendrisk/internal/oracle"
	"github.com/Anyawb/lendrisk/internal/query"
	"github.com/Anyawb/lendrisk/internal/resolver"
	"github.com/Anyawb/lendrisk/internal/risk"
)

// Deps holds every service the HTTP handlers reach into.
type Deps struct {
	Controller *access.Controller
	Resolver   *resolver.Resolver
	Directory  *ledger.Directory
	Assessor   *risk.Assessor
	Engine     *engine.Engine
	Oracle     *oracle.Policy
	OracleCfg  oracle.Config
	Query      *query.Service

	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	Log     zerolog.Logger

	// Events carries administrative notifications (keeper rotations) to the
	// persistence worker. Sends are non-blocking; nil disables them.
	Events chan<- event.Event
}

// Server wraps the HTTP API. Callers identify themselves via the
// X-Caller-Account header; the handlers pass that identity down and the
// services enforce the role checks.
type Server struct {
	httpServer *http.Server
	addr       string
	log        zerolog.Logger
}

// New builds the router and the server around it.
func New(addr string, deps *Deps) *Server {
	h := &handler{deps: deps}

	router := mux.NewRouter()
	router.Use(recoveryMiddleware(deps.Log))
	router.Use(loggingMiddleware(deps.Log, deps.Metrics))

	if deps.Health != nil {
		router.HandleFunc("/healthz", deps.Health.LivenessHandler).Methods(http.MethodGet)
		router.HandleFunc("/readyz", deps.Health.ReadinessHandler).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	// Liquidations
	api.HandleFunc("/liquidations", h.liquidate).Methods(http.MethodPost)
	api.HandleFunc("/liquidations/batch", h.batchLiquidate).Methods(http.MethodPost)

	// Risk reads
	api.HandleFunc("/accounts/{account}/health", h.healthFactor).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/risk", h.riskScore).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/liquidatable", h.liquidatable).Methods(http.MethodGet)
	api.HandleFunc("/accounts/health/batch", h.batchHealthFactor).Methods(http.MethodPost)
	api.HandleFunc("/accounts/risk/batch", h.batchRiskScore).Methods(http.MethodPost)

	// Oracle
	api.HandleFunc("/oracle/{asset}/health", h.feedHealth).Methods(http.MethodGet)
	api.HandleFunc("/oracle/{asset}/value", h.valueOf).Methods(http.MethodGet)

	// Module cache admin
	api.HandleFunc("/modules/{key}", h.moduleEntry).Methods(http.MethodGet)
	api.HandleFunc("/modules/{key}", h.setModule).Methods(http.MethodPut)
	api.HandleFunc("/modules/{key}", h.removeModule).Methods(http.MethodDelete)
	api.HandleFunc("/modules", h.batchSetModules).Methods(http.MethodPost)

	// Roles
	api.HandleFunc("/roles/grant", h.grantRole).Methods(http.MethodPost)
	api.HandleFunc("/roles/revoke", h.revokeRole).Methods(http.MethodPost)
	api.HandleFunc("/roles/renounce", h.renounceRole).Methods(http.MethodPost)
	api.HandleFunc("/roles/{role}/members", h.roleMembers).Methods(http.MethodGet)
	api.HandleFunc("/keeper", h.setKeeper).Methods(http.MethodPut)

	// Parameters
	api.HandleFunc("/params/bonus-rate", h.setBonusRate).Methods(http.MethodPut)
	api.HandleFunc("/params/threshold", h.setThreshold).Methods(http.MethodPut)
	api.HandleFunc("/params/resolver-max-age", h.setResolverMaxAge).Methods(http.MethodPut)
	api.HandleFunc("/params", h.params).Methods(http.MethodGet)

	// History reads
	if deps.Query != nil {
		api.HandleFunc("/history/liquidations", h.recentLiquidations).Methods(http.MethodGet)
		api.HandleFunc("/history/accounts/{account}/liquidations", h.accountLiquidations).Methods(http.MethodGet)
		api.HandleFunc("/history/diagnostics", h.recentDiagnostics).Methods(http.MethodGet)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr: addr,
		log:  deps.Log,
	}
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
