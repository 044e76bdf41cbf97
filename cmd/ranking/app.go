package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kombinu/kombinu-ranking/config"
	"github.com/kombinu/kombinu-ranking/internal/application/command"
	"github.com/kombinu/kombinu-ranking/internal/application/engine"
	"github.com/kombinu/kombinu-ranking/internal/application/eventhandler"
	"github.com/kombinu/kombinu-ranking/internal/application/query"
	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/internal/infrastructure/external/rankingapi"
	"github.com/kombinu/kombinu-ranking/internal/infrastructure/messaging"
	"github.com/kombinu/kombinu-ranking/internal/infrastructure/metrics"
	"github.com/kombinu/kombinu-ranking/internal/infrastructure/persistence/memory"
	"github.com/kombinu/kombinu-ranking/internal/infrastructure/persistence/postgres"
	"github.com/kombinu/kombinu-ranking/internal/infrastructure/persistence/redis"
	"github.com/kombinu/kombinu-ranking/internal/infrastructure/persistence/sqlite"
	"github.com/kombinu/kombinu-ranking/internal/infrastructure/scheduler"
	"github.com/kombinu/kombinu-ranking/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/kombinu/kombinu-ranking/internal/interface/http"
	"github.com/kombinu/kombinu-ranking/internal/interface/http/handlers"
	"github.com/kombinu/kombinu-ranking/pkg/circuitbreaker"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
	"github.com/kombinu/kombinu-ranking/pkg/timeutil"
)

// application holds every wired component and the closers that release
// them, in reverse order of acquisition.
type application struct {
	engine    *engine.Engine
	server    *httpapi.Server
	consumer  *messaging.Consumer
	scheduler *scheduler.Scheduler

	closers []func()
}

func (a *application) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build wires the service. On error everything acquired so far is released.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (app *application, err error) {
	app = &application{}
	defer func() {
		if err != nil {
			app.close()
			app = nil
		}
	}()

	clock := timeutil.System
	limits := ranking.WindowLimits{
		WeeklySpan:  cfg.Ranking.WeeklySpan,
		WeeklyCap:   cfg.Ranking.WeeklyCap,
		MonthlySpan: cfg.Ranking.MonthlySpan,
		MonthlyCap:  cfg.Ranking.MonthlyCap,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 1. METRICS
	// ─────────────────────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	onBreakerChange := func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			slog.String("breaker", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REMOTE SOURCE
	// ─────────────────────────────────────────────────────────────────────────
	// Left as a nil interface when no remote is configured.
	var remote ranking.RemoteSource

	switch cfg.Remote.Kind {
	case config.RemotePostgres:
		log.Info("connecting to database...")
		conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		app.onClose(func() {
			log.Info("closing database connection...")
			conn.Close()
		})

		repo := postgres.NewStandingsRepository(conn, circuitbreaker.DatabaseBreaker(onBreakerChange))
		health.AddCheck("postgres", handlers.NewPingCheck(conn))
		health.AddCheck("postgres_breaker", handlers.NewBreakerCheck(repo))
		remote = repo

	case config.RemoteHTTP:
		clientCfg := rankingapi.DefaultClientConfig(cfg.Remote.BaseURL)
		clientCfg.APIKey = cfg.Remote.APIKey
		clientCfg.Timeout = cfg.Remote.RequestTimeout
		clientCfg.PerPage = cfg.Remote.PerPage
		clientCfg.RequestsPerSecond = cfg.Remote.RequestsPerSecond
		clientCfg.Burst = cfg.Remote.Burst
		clientCfg.Logger = log

		client := rankingapi.NewClient(clientCfg)
		health.AddCheck("remote_breaker", handlers.NewBreakerCheck(client))
		remote = client

	default:
		log.Info("no remote source configured, running on the cache only")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. CACHE
	// ─────────────────────────────────────────────────────────────────────────
	var cache ranking.Cache

	switch cfg.Cache.Backend {
	case config.CacheRedis:
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.KeyPrefix = cfg.Redis.KeyPrefix
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		var rc *redis.Cache
		if cfg.Redis.URL != "" {
			rc, err = redis.NewCacheFromURL(cfg.Redis.URL, redisCfg)
		} else {
			rc, err = redis.NewCache(redisCfg)
		}
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		app.onClose(func() { _ = rc.Close() })

		health.AddCheck("redis", handlers.NewPingCheck(rc))
		cache = redis.NewRankingCache(rc)

	case config.CacheSQLite:
		db, err := sqlite.Open(ctx, cfg.Cache.SQLitePath, log)
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		app.onClose(func() { _ = db.Close() })

		health.AddCheck("sqlite", db.PingContext)
		cache = sqlite.NewCache(db)

	default:
		cache = memory.NewCache()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	store := engine.NewStore(remote, cache,
		engine.WithStoreClock(clock),
		engine.WithStoreLogger(log),
		engine.WithStoreMetrics(recorder),
		engine.WithRemoteTimeout(cfg.Remote.Timeout),
		engine.WithStoreLimits(limits),
	)
	app.engine = engine.New(store,
		engine.WithClock(clock),
		engine.WithLogger(log),
		engine.WithMetrics(recorder),
		engine.WithLimits(limits),
	)
	app.engine.Subscribe(recorder.GaugeObserver())

	// ─────────────────────────────────────────────────────────────────────────
	// 6. NATS
	// ─────────────────────────────────────────────────────────────────────────
	// Left as a nil interface when NATS is disabled.
	var publisher eventhandler.Publisher
	var redeliverer *messaging.Publisher

	if cfg.NATS.Enabled {
		natsCfg := messaging.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Name = cfg.App.Name
		natsCfg.QueueGroup = cfg.NATS.QueueGroup

		conn, err := messaging.Connect(natsCfg, log)
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		app.onClose(func() {
			log.Info("draining nats connection...")
			if err := conn.Drain(); err != nil {
				conn.Close()
			}
		})
		health.AddCheck("nats", handlers.NewConnCheck(conn))

		redeliverer = messaging.NewPublisher(conn, log,
			messaging.WithDeadLetterCapacity(cfg.NATS.DeadLetterCapacity),
		)
		publisher = redeliverer
		app.consumer = messaging.NewConsumer(conn, natsCfg.QueueGroup, app.engine, log)
	}

	detector := eventhandler.NewOnRankingChanged(publisher, eventhandler.RankChangedConfig{
		Subject:           cfg.NATS.RankingChangedSubject,
		MinPositionChange: cfg.Ranking.MinPositionChange,
		TopNMilestones:    cfg.Ranking.TopNMilestones,
		Cooldown:          cfg.Ranking.ChangeCooldown,
	}, clock, log)
	app.engine.Subscribe(detector)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled && (remote != nil || redeliverer != nil) {
		sched := scheduler.New(
			scheduler.WithClock(clock),
			scheduler.WithTick(cfg.Scheduler.Tick),
			scheduler.WithRunOnStart(cfg.Scheduler.RunOnStart),
			scheduler.WithMetrics(recorder),
			scheduler.WithLogger(log),
			scheduler.OnJobError(func(r scheduler.JobResult) {
				log.Error("scheduled job failed",
					slog.String("job", r.JobName),
					logger.Latency(r.Duration),
					logger.Err(r.Error),
				)
			}),
		)

		if remote != nil {
			schedule, err := scheduler.ParseSchedule(cfg.Scheduler.RefreshSchedule)
			if err != nil {
				return nil, fmt.Errorf("refresh schedule: %w", err)
			}
			job := jobs.NewRefreshStandingsJob(app.engine, cfg.Scheduler.JobTimeout, log)
			if err := sched.Register(job, schedule); err != nil {
				return nil, fmt.Errorf("register %s: %w", job.Name(), err)
			}
		}
		if redeliverer != nil {
			schedule, err := scheduler.ParseSchedule(cfg.Scheduler.RedeliverSchedule)
			if err != nil {
				return nil, fmt.Errorf("redeliver schedule: %w", err)
			}
			job := jobs.NewRedeliverEventsJob(redeliverer, log)
			if err := sched.Register(job, schedule); err != nil {
				return nil, fmt.Errorf("register %s: %w", job.Name(), err)
			}
		}
		app.scheduler = sched
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.ShutdownTimeout = cfg.App.ShutdownTimeout
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.APIKeys = cfg.HTTP.APIKeys
	httpCfg.EnableMetrics = cfg.HTTP.MetricsEnabled

	app.server = httpapi.NewServer(httpCfg, httpapi.Dependencies{
		SubmitHandler:      command.NewSubmitQuizResultHandler(app.engine, log),
		LeaderboardHandler: query.NewGetLeaderboardHandler(app.engine),
		StandingHandler:    query.NewGetUserStandingHandler(app.engine),
		Admin:              app.engine,
		HealthChecker:      health,
		Metrics:            recorder,
		Gatherer:           registry,
		Logger:             log,
	})

	return app, nil
}
