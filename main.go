package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"home-manager/internal/audit"
	"home-manager/internal/auth"
	componentsapp "home-manager/internal/components/application"
	components "home-manager/internal/components/domain"
	componentsmemory "home-manager/internal/components/infrastructure/memory"
	componentsrepo "home-manager/internal/components/infrastructure/postgres"
	componentshttp "home-manager/internal/components/interfaces/http"
	"home-manager/internal/config"
	devicesapp "home-manager/internal/devices/application"
	devices "home-manager/internal/devices/domain"
	devicesmemory "home-manager/internal/devices/infrastructure/memory"
	devicesrepo "home-manager/internal/devices/infrastructure/postgres"
	deviceshttp "home-manager/internal/devices/interfaces/http"
	"home-manager/internal/expiry"
	expiryhttp "home-manager/internal/expiry/interfaces/http"
	feedapp "home-manager/internal/feed/application"
	feed "home-manager/internal/feed/domain"
	feedmemory "home-manager/internal/feed/infrastructure/memory"
	feedrepo "home-manager/internal/feed/infrastructure/postgres"
	feedhttp "home-manager/internal/feed/interfaces/http"
	ingestion "home-manager/internal/ingestion/application"
	ingesthttp "home-manager/internal/ingestion/interfaces/http"
	ingestnats "home-manager/internal/ingestion/interfaces/nats"
	"home-manager/internal/observability/metrics"
	reports "home-manager/internal/reports/domain"
	"home-manager/internal/sequencer"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	base, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = base.Sync() }()
	logger := base.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalw("home-manager stopped", "err", err)
	}
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	if cfg.Development {
		logConfig = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logConfig.Level = zap.NewAtomicLevelAt(level)
	logConfig.DisableStacktrace = !cfg.Development
	return logConfig.Build()
}

type stores struct {
	feed       feed.Store
	components components.Store
	devices    devices.Store
	audit      audit.Logger
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (stores, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Infow("DATABASE_URL not set, using in-memory stores")
		metrics.Init(nil, logger)
		return stores{
			feed:       feedmemory.NewStore(),
			components: componentsmemory.NewStore(),
			devices:    devicesmemory.NewStore(),
			audit:      audit.NewMemoryLog(),
		}, func() {}, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return stores{}, nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return stores{}, nil, fmt.Errorf("db ping: %w", err)
	}
	metrics.Init(db, logger)
	auditRepo, err := audit.NewRepository(db)
	if err != nil {
		_ = db.Close()
		return stores{}, nil, err
	}
	return stores{
		feed:       feedrepo.NewStore(db),
		components: componentsrepo.NewStore(db),
		devices:    devicesrepo.NewDeviceRepository(db),
		audit:      auditRepo,
	}, func() { _ = db.Close() }, nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) error {
	st, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	seq := sequencer.New()
	broker := feedhttp.NewSSEBroker()

	publisher, err := feedapp.NewPublisher(st.feed, feedapp.WithObserver(broker), feedapp.WithLogger(logger.Named("feed")))
	if err != nil {
		return err
	}
	reconciler, err := componentsapp.NewReconciler(st.components, componentsapp.WithLogger(logger.Named("components")))
	if err != nil {
		return err
	}
	directory, err := devicesapp.NewDirectory(st.devices, devicesapp.WithLogger(logger.Named("devices")))
	if err != nil {
		return err
	}
	scheduler, err := expiry.NewScheduler(cfg.ExpiryDuration, reconciler, seq,
		expiry.WithLogger(logger.Named("expiry")),
		expiry.WithApplyTimeout(cfg.StepTimeout),
		expiry.WithRetryBackoff(cfg.Retry.InitialInterval, cfg.Retry.MaxInterval),
	)
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	dispatcher, err := ingestion.NewDispatcher(publisher, reconciler, directory, scheduler, seq,
		ingestion.WithStepTimeout(cfg.StepTimeout),
		ingestion.WithRetryPolicy(ingestion.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		}),
		ingestion.WithLogger(logger.Named("ingestion")),
	)
	if err != nil {
		return err
	}

	serviceOpts := []ingestion.ServiceOption{ingestion.WithServiceLogger(logger.Named("ingestion"))}
	var js jetstream.JetStream
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("home-manager"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warnw("nats disconnected", "err", err)
			}),
			nats.ReconnectHandler(func(conn *nats.Conn) {
				logger.Infow("nats reconnected", "url", conn.ConnectedUrl())
			}),
		)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		js, err = jetstream.New(nc)
		if err != nil {
			return fmt.Errorf("jetstream: %w", err)
		}
		rejections, err := ingestnats.NewRejectionPublisher(js, cfg.NATS.RejectPrefix)
		if err != nil {
			return err
		}
		serviceOpts = append(serviceOpts, ingestion.WithRejectionSink(rejections))
	}

	validator := reports.NewValidator(
		reports.WithMaxCodeLength(cfg.MaxCodeLength),
		reports.WithMaxFutureSkew(cfg.MaxFutureSkew),
	)
	service, err := ingestion.NewService(validator, dispatcher, serviceOpts...)
	if err != nil {
		return err
	}

	restored, err := scheduler.Restore(ctx, reconciler, directory)
	if err != nil {
		return fmt.Errorf("restore expiry timers: %w", err)
	}
	logger.Infow("expiry scheduler ready", "restored", restored, "duration", cfg.ExpiryDuration)

	handler, err := newHTTPHandler(cfg, logger, service, publisher, broker, reconciler, directory, scheduler, st.audit)
	if err != nil {
		return err
	}
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	var consumer *ingestnats.Consumer
	if js != nil {
		stream, err := js.Stream(ctx, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats stream %s: %w", cfg.NATS.Stream, err)
		}
		if _, err := stream.Info(ctx); err != nil {
			return fmt.Errorf("nats stream info: %w", err)
		}
		router := ingestnats.NewRouter()
		if err := router.Handle(cfg.NATS.Subject, ingestnats.StateHandler(service)); err != nil {
			return err
		}
		consumer, err = ingestnats.NewConsumer(ctx, js, ingestnats.ConsumerConfig{
			Stream:     cfg.NATS.Stream,
			Durable:    cfg.NATS.Consumer,
			Subject:    cfg.NATS.Subject,
			MaxDeliver: cfg.NATS.MaxDeliver,
		}, router, logger.Named("nats"))
		if err != nil {
			return err
		}
	} else {
		logger.Infow("NATS_URL not set, subscriber disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infow("http listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}

	err = g.Wait()
	seq.Wait()
	return err
}

func newHTTPHandler(
	cfg config.Config,
	logger *zap.SugaredLogger,
	service *ingestion.Service,
	publisher *feedapp.Publisher,
	broker *feedhttp.SSEBroker,
	reconciler *componentsapp.Reconciler,
	directory *devicesapp.Directory,
	scheduler *expiry.Scheduler,
	auditLogger audit.Logger,
) (http.Handler, error) {
	ingestHandler, err := ingesthttp.NewIngestHandler(service, logger.Named("http"))
	if err != nil {
		return nil, err
	}
	feedHandler, err := feedhttp.NewHandler(publisher)
	if err != nil {
		return nil, err
	}
	exportHandler, err := feedhttp.NewExportHandler(publisher)
	if err != nil {
		return nil, err
	}
	componentHandler, err := componentshttp.NewHandler(reconciler, auditLogger)
	if err != nil {
		return nil, err
	}
	deviceHandler, err := deviceshttp.NewHandler(directory)
	if err != nil {
		return nil, err
	}
	expiryHandler, err := expiryhttp.NewHandler(scheduler)
	if err != nil {
		return nil, err
	}

	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestHMACSecret), cfg.IngestMaxSkew)
	mux := http.NewServeMux()
	mux.Handle("/ingest/devices/", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/feed", feedHandler)
	mux.Handle("/api/v1/feed/stream", feedhttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/feed/export.xlsx", exportHandler)
	mux.Handle("/api/v1/feed/export.pdf", exportHandler)
	mux.Handle("/api/v1/components", componentHandler)
	mux.Handle("/api/v1/devices", deviceHandler)
	mux.Handle("/api/v1/devices/", deviceHandler)
	mux.Handle("/api/v1/expiry", expiryHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var root http.Handler = mux
	if cfg.JWTSecret != "" {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
		root = auth.NewMiddleware([]byte(cfg.JWTSecret), policy, auth.WithLogger(logger.Named("auth"))).Wrap(mux)
	} else {
		logger.Warnw("AUTH_JWT_SECRET not set, read API is unauthenticated")
	}
	return loggingMiddleware(root, logger.Named("http")), nil
}

func loggingMiddleware(next http.Handler, logger *zap.SugaredLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Debugw("http request", "method", r.Method, "path", r.URL.Path, "status", resp.status, "duration", time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE stream working behind the logging wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
