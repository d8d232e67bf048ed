package main

import (
	"context"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/example/lms-platform/internal/platform/auth"
	"github.com/example/lms-platform/internal/platform/config"
	"github.com/example/lms-platform/internal/platform/db"
	"github.com/example/lms-platform/internal/platform/events"
	"github.com/example/lms-platform/internal/platform/httpserver"
	"github.com/example/lms-platform/internal/platform/logging"
	"github.com/example/lms-platform/internal/platform/natsconn"
	"github.com/example/lms-platform/internal/platform/run"
	svcconfig "github.com/example/lms-platform/services/progress/internal/config"
	"github.com/example/lms-platform/services/progress/internal/handlers"
	"github.com/example/lms-platform/services/progress/internal/store"
	"github.com/example/lms-platform/services/progress/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	svcCfg := svcconfig.Load()

	repo, pool, closePool := initRepository(log)
	if closePool != nil {
		defer closePool()
	}

	verifier := auth.JWTVerifier{Secret: []byte(svcCfg.JWTSecret)}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{Logger: log})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		// NATS is best-effort: heartbeat consumer and event publisher
		// degrade to no-ops when unavailable.
		pub := events.New(nil, log)
		nc, err := natsconn.Connect(natsconn.Options{URL: svcCfg.NATSURL})
		if err != nil {
			log.Warn("nats connect, running without events", zap.Error(err))
		} else {
			defer nc.Close()
			if js, jsErr := nc.JetStream(); jsErr == nil {
				if err := events.EnsureStream(js); err != nil {
					log.Warn("ensure learning stream", zap.Error(err))
				}
				pub = events.New(js, log)
			}
			if pool != nil {
				worker.StartHeartbeatConsumer(ctx, nc, pool, log)
			}
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(verifier))
			r.Put("/v1/progress/{item_id}", handlers.SaveProgress(repo, pub, log))
			r.Get("/v1/progress", handlers.BulkProgress(repo, log))
			r.Get("/v1/progress/recent", handlers.Recent(repo, log))

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Get("/v1/admin/users/{user_id}/progress/recent", handlers.AdminRecent(repo, log))
			})
		})

		srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initRepository selects the progress backend. In production (APP_ENV=production)
// it requires a working Postgres connection and terminates the process otherwise.
func initRepository(log *zap.Logger) (store.ProgressRepository, *pgxpool.Pool, func()) {
	isProd := strings.EqualFold(strings.TrimSpace(os.Getenv("APP_ENV")), "production")

	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		if isProd {
			log.Error("DATABASE_URL is required in production")
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("DATABASE_URL not set, using in-memory progress store (development only)")
		return store.NewInMemoryProgressRepository(), nil, nil
	}

	pool, err := db.Open(context.Background())
	if err != nil {
		log.Error("db open", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	return store.NewPostgresProgressRepository(pool), pool, pool.Close
}
