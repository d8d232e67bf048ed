package main

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/lms-platform/internal/platform/auth"
	"github.com/example/lms-platform/internal/platform/config"
	"github.com/example/lms-platform/internal/platform/events"
	"github.com/example/lms-platform/internal/platform/httpserver"
	"github.com/example/lms-platform/internal/platform/logging"
	"github.com/example/lms-platform/internal/platform/natsconn"
	"github.com/example/lms-platform/internal/platform/run"
	"github.com/example/lms-platform/internal/platform/signing"
	"github.com/example/lms-platform/services/playback/internal/cache"
	svcconfig "github.com/example/lms-platform/services/playback/internal/config"
	"github.com/example/lms-platform/services/playback/internal/handlers"
	"github.com/example/lms-platform/services/playback/internal/mediasource"
	"github.com/example/lms-platform/services/playback/internal/quiz"
	"github.com/example/lms-platform/services/playback/internal/session"
)

// durationCacheTTL bounds staleness of cached media durations; uploads are
// immutable so this is generous.
const durationCacheTTL = 12 * time.Hour

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

	durations, err := cache.New(svcCfg.RedisDSN, durationCacheTTL)
	if err != nil {
		log.Warn("redis unavailable, using in-process duration cache", zap.Error(err))
		durations = cache.NewMemoryCache(durationCacheTTL)
	}

	media := mediasource.New(svcCfg.ContentBaseURL, durations,
		signing.New(svcCfg.MediaSignSecret), log)

	verifier := auth.JWTVerifier{Secret: []byte(svcCfg.JWTSecret)}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{Logger: log})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		// Completion events are best-effort: a missing broker must never
		// block playback.
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
		}

		sessions := session.NewManager(session.ManagerConfig{
			ProgressBaseURL: svcCfg.ProgressBaseURL,
			Resolver:        media,
			Quiz:            quiz.StaticGenerator{},
			Engine:          quiz.Engine{PassThreshold: svcCfg.QuizPassThreshold},
			Publisher:       pub,
			Log:             log,
		})
		sessions.StartJanitor(ctx)

		h := &handlers.Handler{Sessions: sessions, Media: media, Events: pub, Log: log}
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(verifier))
			h.Routes(r)
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
