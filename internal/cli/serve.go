package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alarmapp "videomonitoring/internal/alarms/application"
	alarmhttp "videomonitoring/internal/alarms/interfaces/http"
	audithttp "videomonitoring/internal/audit/interfaces/http"
	billingapp "videomonitoring/internal/billing/application"
	billinghttp "videomonitoring/internal/billing/interfaces/http"
	claimsapp "videomonitoring/internal/claims/application"
	claimshttp "videomonitoring/internal/claims/interfaces/http"
	"videomonitoring/internal/config"
	"videomonitoring/internal/eventing"
	"videomonitoring/internal/eventing/amqpsink"
	"videomonitoring/internal/eventing/webhooksink"
	"videomonitoring/internal/notify"
	"videomonitoring/internal/notify/redisrelay"
	"videomonitoring/internal/observability/metrics"
	"videomonitoring/internal/server"
	"videomonitoring/internal/store"
	"videomonitoring/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, push stream, trigger dispatcher, reset scheduler and claim sweeper.",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		return serve(ctx, cfg, log)
	},
}

func retryPolicy(cfg config.Config) store.RetryPolicy {
	return store.RetryPolicy{
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		MaxElapsedTime:  cfg.Retry.MaxElapsedTime,
	}
}

func newSink(cfg config.TriggersConfig, log *zap.Logger) (eventing.Sink, func(), error) {
	var (
		sinks   []eventing.Sink
		closers []func()
	)
	if cfg.AMQPURL != "" {
		sink, err := amqpsink.New(amqpsink.Config{URL: cfg.AMQPURL, Exchange: cfg.Exchange, RoutingKey: cfg.RoutingKey}, log)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, sink)
		closers = append(closers, func() { _ = sink.Close() })
	}
	if cfg.WebhookURL != "" {
		tpl, err := webhooksink.NewTemplate(cfg.WebhookTemplate)
		if err != nil {
			return nil, nil, err
		}
		sink, err := webhooksink.New(cfg.WebhookURL, webhooksink.WithTemplate(tpl), webhooksink.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, sink)
	}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	switch len(sinks) {
	case 0:
		log.Info("no trigger sink configured, triggers are logged only")
		return eventing.NewLoggingSink(log), closeAll, nil
	case 1:
		return sinks[0], closeAll, nil
	default:
		return eventing.NewMultiSink(sinks...), closeAll, nil
	}
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (AUTH_JWT_SECRET) is required")
	}

	db, err := openDB(ctx, cfg.Database)
	if err != nil {
		log.Error("open database", zap.Error(err))
		return err
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		applied, err := postgres.Migrate(ctx, db)
		if err != nil {
			log.Error("migrate", zap.Error(err))
			return err
		}
		log.Info("migrations applied", zap.Strings("versions", applied))
	}

	metrics.Init(db, log)

	pg, err := postgres.New(db, log)
	if err != nil {
		return err
	}
	st := store.WithRetry(pg, retryPolicy(cfg), log)

	origin := uuid.NewString()
	hubOpts := []notify.HubOption{
		notify.WithSessionBuffer(cfg.Notify.SessionBuffer),
		notify.WithInboxSize(cfg.Notify.HubQueue),
		notify.WithReorderWait(cfg.Notify.ReorderWait),
		notify.WithOrigin(origin),
		notify.WithLogger(log),
	}
	var relay *redisrelay.Relay
	if cfg.Notify.Redis.Addr != "" {
		relay, err = redisrelay.New(redisrelay.Config{
			Addr:     cfg.Notify.Redis.Addr,
			Password: cfg.Notify.Redis.Password,
			DB:       cfg.Notify.Redis.DB,
			Channel:  cfg.Notify.Redis.Channel,
			Origin:   origin,
			Queue:    cfg.Notify.HubQueue,
		}, log)
		if err != nil {
			return err
		}
		defer relay.Close()
		if err := relay.Ping(ctx); err != nil {
			log.Error("redis relay unreachable", zap.String("addr", cfg.Notify.Redis.Addr), zap.Error(err))
			return err
		}
		hubOpts = append(hubOpts, notify.WithForwarder(relay))
	}
	hub := notify.NewHub(hubOpts...)

	sink, closeSink, err := newSink(cfg.Triggers, log)
	if err != nil {
		return err
	}
	defer closeSink()
	dispatcher, err := eventing.NewDispatcher(pg.Outbox(), sink,
		eventing.WithBatchSize(cfg.Triggers.BatchSize),
		eventing.WithMaxAttempts(cfg.Triggers.MaxAttempts),
		eventing.WithOwner(origin),
		eventing.WithLogger(log))
	if err != nil {
		return err
	}

	billingSvc, err := billingapp.NewService(st,
		billingapp.WithPublisher(hub),
		billingapp.WithLogger(log),
		billingapp.WithLocation(cfg.Location()),
		billingapp.WithTriggerKick(dispatcher.Kick))
	if err != nil {
		return err
	}
	claimSvc, err := claimsapp.NewService(st,
		claimsapp.WithPublisher(hub),
		claimsapp.WithLogger(log),
		claimsapp.WithTTL(cfg.Claims.TTL))
	if err != nil {
		return err
	}
	alarmSvc, err := alarmapp.NewService(st, alarmapp.WithPublisher(hub), alarmapp.WithLogger(log))
	if err != nil {
		return err
	}

	billingHandler, err := billinghttp.NewHandler(billingSvc)
	if err != nil {
		return err
	}
	claimsHandler, err := claimshttp.NewHandler(claimSvc)
	if err != nil {
		return err
	}
	alarmHandler, err := alarmhttp.NewHandler(alarmSvc)
	if err != nil {
		return err
	}
	auditHandler, err := audithttp.NewHandler(store.AuditReader(st))
	if err != nil {
		return err
	}

	router := server.NewRouter(server.Options{
		Logger:         log,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		IngestSecret:   []byte(cfg.Auth.IngestSecret),
		IngestMaxSkew:  cfg.Auth.IngestMaxSkew,
		Ingest:         billingHandler,
		API:            []server.Registrar{billingHandler, claimsHandler, alarmHandler, auditHandler},
		Stream:         notify.NewStreamHandler(hub, cfg.Notify.Keepalive, log),
		Health:         db.PingContext,
	})
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx, hub) })
	}
	g.Go(func() error {
		dispatcher.Run(gctx, cfg.Triggers.DispatchInterval)
		return nil
	})
	g.Go(func() error {
		billingapp.NewScheduler(billingSvc, cfg.Billing.ResetDailyAt, cfg.Location(), log).Start(gctx)
		return nil
	})
	g.Go(func() error {
		claimSvc.RunSweeper(gctx, cfg.Claims.SweepInterval)
		return nil
	})
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
