package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/riskwise/console/internal/assistant"
	"github.com/riskwise/console/internal/audit"
	"github.com/riskwise/console/internal/auth"
	"github.com/riskwise/console/internal/backend"
	"github.com/riskwise/console/internal/dashboard"
	"github.com/riskwise/console/internal/live"
	"github.com/riskwise/console/internal/platform/cache"
	"github.com/riskwise/console/internal/platform/config"
	"github.com/riskwise/console/internal/platform/database"
	"github.com/riskwise/console/internal/platform/middleware"
	"github.com/riskwise/console/internal/platform/server"
	"github.com/riskwise/console/internal/platform/telemetry"
	"github.com/riskwise/console/internal/rbac"
	"github.com/riskwise/console/internal/session"
	"golang.org/x/sync/errgroup"
)

const sessionPurgeInterval = 15 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("riskwise console starting",
		"port", cfg.Server.Port,
		"backend", cfg.Backend.BaseURL,
		"session_driver", cfg.Session.Driver,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Database (optional unless sessions live there)
	var pool *database.Pool
	if cfg.Database.URL != "" {
		slog.Info("connecting to database")
		p, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			if cfg.Session.Driver == session.DriverPostgres {
				return fmt.Errorf("connecting to database: %w", err)
			}
			slog.Warn("database connection failed, starting without DB", "error", err)
		} else {
			pool = p
			defer pool.Close()

			migrationsURL := fmt.Sprintf("file://%s", cfg.Database.MigrationsPath)
			if err := database.RunMigrations(cfg.Database.URL, migrationsURL); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			slog.Info("migrations complete")
		}
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		c, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			if cfg.Session.Driver == session.DriverRedis {
				return fmt.Errorf("connecting to redis: %w", err)
			}
			slog.Warn("redis connection failed, starting without redis", "error", err)
		} else {
			rdb = c
			defer func() { _ = rdb.Close() }()
		}
	}

	store, err := buildSessionStore(cfg.Session, pool, rdb)
	if err != nil {
		return err
	}

	// Audit
	var auditLogger audit.Logger = audit.NopLogger{}
	var auditHandler *audit.Handler
	if pool != nil {
		auditStore := audit.NewStore()
		auditLogger = audit.NewAsyncLogger(pool, auditStore, audit.LoggerConfig{
			BufferSize:    cfg.Audit.BufferSize,
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: time.Duration(cfg.Audit.FlushInterval) * time.Millisecond,
		})
		defer auditLogger.Close()
		auditHandler = audit.NewHandler(pool, auditStore)
		slog.Info("audit logger started")
	} else {
		auditHandler = audit.NewHandler(nil, nil)
	}

	// Backend client and session service. The client reads the token from
	// the service and reports rejections back to it.
	client := backend.New(cfg.Backend.BaseURL, backend.WithTimeout(cfg.Backend.Timeout()))
	sessions := session.NewService(store, client,
		session.WithAuditLogger(sessionAudit{l: auditLogger}),
	)
	client.Bind(sessions, sessions)

	cookies, err := buildCookieCodec(cfg.Session)
	if err != nil {
		return err
	}

	catalogue := dashboard.NewCatalogue(client, dashboard.CatalogueConfig{
		MetricsPoll:      time.Duration(cfg.Live.MetricsPollSecs) * time.Second,
		HealthPoll:       time.Duration(cfg.Live.HealthPollSecs) * time.Second,
		DisplayFallbacks: cfg.Display.Fallbacks,
	})
	dashboardHandler := dashboard.NewHandler(client, catalogue,
		assistant.New(assistant.DefaultRules()),
		dashboard.WithAuditLogger(dashboardAudit{l: auditLogger}),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, server.Dependencies{
		Pool:               pool,
		Redis:              redisOrNil(rdb),
		Sessions:           sessions,
		Cookies:            cookies,
		AuthHandler:        auth.NewHandler(cookies),
		DashboardHandler:   dashboardHandler,
		LiveHandler:        live.NewHandler(catalogue, sessions, cfg.CORS.AllowedOrigins),
		AuditHandler:       auditHandler,
		RBACAuditLogger:    rbacAudit{l: auditLogger},
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	if purger, ok := store.(*session.PGStore); ok {
		g.Go(func() error {
			purgeExpiredSessions(gctx, purger, sessionPurgeInterval)
			return nil
		})
	}

	slog.Info("server ready", "addr", addr)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildSessionStore selects the Session Store backend named by cfg.Driver.
func buildSessionStore(cfg config.SessionConfig, pool *database.Pool, rdb *redis.Client) (session.Store, error) {
	switch cfg.Driver {
	case "", session.DriverMemory:
		return session.NewMemoryStore(), nil
	case session.DriverPostgres:
		if pool == nil {
			return nil, errors.New("session driver postgres requires database.url")
		}
		return session.NewPGStore(pool, cfg.TTL()), nil
	case session.DriverRedis:
		if rdb == nil {
			return nil, errors.New("session driver redis requires redis.url")
		}
		return session.NewRedisStore(rdb, cfg.TTL()), nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", cfg.Driver)
	}
}

func buildCookieCodec(cfg config.SessionConfig) (*auth.CookieCodec, error) {
	if cfg.SigningKey == "" {
		slog.Warn("session.signing_key is empty; using a random key, browser contexts will not survive a restart")
	}
	codec, err := auth.NewCookieCodec(cfg.CookieName, []byte(cfg.SigningKey), cfg.CookieSecure, cfg.TTL())
	if err != nil {
		return nil, fmt.Errorf("building session cookie codec: %w", err)
	}
	return codec, nil
}

// redisOrNil keeps a nil *redis.Client from becoming a non-nil interface.
func redisOrNil(c *redis.Client) redis.UniversalClient {
	if c == nil {
		return nil
	}
	return c
}

func purgeExpiredSessions(ctx context.Context, store *session.PGStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				slog.Warn("purging expired sessions failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("purged expired sessions", "count", n)
			}
		}
	}
}

// withRequestID copies the request id of ctx into the event metadata. meta
// itself is never modified.
func withRequestID(ctx context.Context, meta map[string]any) map[string]any {
	id := middleware.GetRequestID(ctx)
	if id == "" {
		return meta
	}
	out := make(map[string]any, len(meta)+1)
	maps.Copy(out, meta)
	out[audit.MetadataRequestID] = id
	return out
}

// sessionAudit bridges audit.Logger to session.AuditLogger.
type sessionAudit struct {
	l audit.Logger
}

func (a sessionAudit) Log(ctx context.Context, e session.AuditEvent) {
	a.l.Log(ctx, audit.Event{
		ContextID: e.ContextID,
		UserID:    e.UserID,
		Email:     e.Email,
		Action:    e.Action,
		Metadata:  withRequestID(ctx, e.Metadata),
	})
}

// rbacAudit bridges audit.Logger to rbac.AuditLogger.
type rbacAudit struct {
	l audit.Logger
}

func (a rbacAudit) Log(ctx context.Context, e rbac.AuditEvent) {
	a.l.Log(ctx, audit.Event{
		ContextID: e.ContextID,
		UserID:    e.UserID,
		Email:     e.Email,
		Action:    e.Action,
		Metadata:  withRequestID(ctx, e.Metadata),
	})
}

// dashboardAudit bridges audit.Logger to dashboard.AuditLogger.
type dashboardAudit struct {
	l audit.Logger
}

func (a dashboardAudit) Log(ctx context.Context, e dashboard.AuditEvent) {
	a.l.Log(ctx, audit.Event{
		ContextID: e.ContextID,
		UserID:    e.UserID,
		Email:     e.Email,
		Action:    e.Action,
		Metadata:  withRequestID(ctx, e.Metadata),
	})
}
