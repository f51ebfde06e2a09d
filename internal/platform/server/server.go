package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riskwise/console/internal/audit"
	"github.com/riskwise/console/internal/auth"
	"github.com/riskwise/console/internal/dashboard"
	"github.com/riskwise/console/internal/live"
	"github.com/riskwise/console/internal/platform/middleware"
	"github.com/riskwise/console/internal/rbac"
	"github.com/riskwise/console/internal/session"
)

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	Pool               *pgxpool.Pool         // nil unless a database is configured
	Redis              redis.UniversalClient // nil unless redis is configured
	Sessions           auth.Sessions
	Cookies            *auth.CookieCodec
	AuthHandler        *auth.Handler
	DashboardHandler   *dashboard.Handler
	LiveHandler        *live.Handler
	AuditHandler       *audit.Handler
	RBACAuditLogger    rbac.AuditLogger
	Logger             *slog.Logger
	CORSAllowedOrigins []string
}

type Server struct {
	httpServer *http.Server
	appMux     *http.ServeMux
	pool       *pgxpool.Pool
	redis      redis.UniversalClient
	handler    http.Handler
}

func New(addr string, deps Dependencies) *Server {
	// Console routes: every request is bound to a browser context first.
	appMux := http.NewServeMux()
	var appHandler http.Handler = appMux
	if deps.Sessions != nil && deps.Cookies != nil {
		appHandler = auth.Hydrate(deps.Sessions, deps.Cookies)(appHandler)
	}

	// Top-level mux: probes + hydrated catch-all
	topMux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// no WriteTimeout: /live connections are long-lived
			IdleTimeout: 60 * time.Second,
		},
		appMux: appMux,
		pool:   deps.Pool,
		redis:  deps.Redis,
	}

	topMux.HandleFunc("GET /healthz", s.handleHealth)
	topMux.HandleFunc("GET /readyz", s.handleReadiness)

	var rbacOpts []rbac.MiddlewareOption
	if deps.RBACAuditLogger != nil {
		rbacOpts = append(rbacOpts, rbac.WithAuditLogger(deps.RBACAuditLogger))
	}

	if deps.AuthHandler != nil {
		deps.AuthHandler.RegisterRoutes(appMux)
	}
	if deps.DashboardHandler != nil {
		deps.DashboardHandler.RegisterRoutes(appMux, rbacOpts...)
	}
	if deps.LiveHandler != nil {
		deps.LiveHandler.RegisterRoutes(appMux)
	}
	if deps.AuditHandler != nil {
		appMux.Handle("GET /api/audit/events",
			rbac.Require(rbac.Requirement{Role: session.RoleAuditor}, rbacOpts...)(
				http.HandlerFunc(deps.AuditHandler.HandleListEvents),
			),
		)
	}

	topMux.Handle("/", appHandler)

	// Wrap top-level mux with observability middleware
	var handler http.Handler = topMux
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// AppMux returns the mux for context-bound console routes.
func (s *Server) AppMux() *http.ServeMux {
	return s.appMux
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness pings every configured store. A console running on the
// in-memory session store has nothing to wait for.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database ping failed",
			})
			return
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "redis ping failed",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
