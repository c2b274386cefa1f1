// Package server wires the MedVault server together: storage backends, the
// ledger ingestor, the HTTP API and the gRPC health endpoint, and runs them
// until a signal or a fatal error stops the process.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/dbx"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/server/access"
	"github.com/dmitrijs2005/medvault/internal/server/audit"
	"github.com/dmitrijs2005/medvault/internal/server/auth"
	"github.com/dmitrijs2005/medvault/internal/server/cache"
	"github.com/dmitrijs2005/medvault/internal/server/config"
	"github.com/dmitrijs2005/medvault/internal/server/httpapi"
	"github.com/dmitrijs2005/medvault/internal/server/ingest"
	"github.com/dmitrijs2005/medvault/internal/server/ledger"
	"github.com/dmitrijs2005/medvault/internal/server/ledger/ethrpc"
	"github.com/dmitrijs2005/medvault/internal/server/ledger/kafkafeed"
	"github.com/dmitrijs2005/medvault/internal/server/metrics"
	"github.com/dmitrijs2005/medvault/internal/server/mirror"
	"github.com/dmitrijs2005/medvault/internal/server/notify"
	"github.com/dmitrijs2005/medvault/internal/server/records"
	"github.com/dmitrijs2005/medvault/internal/server/repositories/repomanager"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/medvault/internal/server/grpc"
)

const (
	dbPingTimeout   = 5 * time.Second
	notificationTTL = 7 * 24 * time.Hour
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	redis    *redis.Client
	ingestor *ingest.Ingestor
	http     *httpapi.Server
	health   *gs.HealthServer
	closers  []func() error
}

// NewApp connects to every backend, runs migrations and warms the
// capability mirror. Partially opened resources are released on error.
func NewApp(ctx context.Context, c *config.Config) (_ *App, err error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger := logging.NewJSON(os.Stdout, c.LogLevel)
	app := &App{config: c, logger: logger}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	mx := metrics.New()

	app.db, err = dbx.OpenPostgres(ctx, c.DatabaseDSN, dbPingTimeout)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.closers = append(app.closers, app.db.Close)

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, app.db); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	kv, err := app.openCache(ctx)
	if err != nil {
		return nil, err
	}

	key, err := cryptox.ParseRecordKey(c.RecordKey, []byte(c.RecordKeySalt))
	if err != nil {
		return nil, err
	}

	s3c, err := records.NewS3Client(ctx, records.S3Options{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 init error: %w", err)
	}
	blobs := records.NewS3BlobStore(s3c, c.S3Bucket)
	store := records.NewStore(blobs, kv, key, records.Options{
		FetchTimeout:  c.BlobTimeout,
		MaxUploadSize: c.MaxUploadSize,
		Metrics:       mx,
	}, logger.With("module", "records"))

	authn := auth.NewAuthenticator(kv, []byte(c.JWTSecret), c.SessionTTL, logger.With("module", "auth"))

	m := mirror.New(mirror.NewPostgresStore(app.db, rm), logger.With("module", "mirror"))
	if err := m.Load(ctx); err != nil {
		return nil, fmt.Errorf("mirror warm-up: %w", err)
	}
	engine := access.NewEngine(m, mx, logger.With("module", "access")).WithUploads(store)

	var (
		auditStore audit.Store
		publisher  notify.Publisher
	)
	if app.redis != nil {
		auditStore = audit.NewRedisStore(app.redis)
		publisher = notify.NewRedisPublisher(app.redis, notificationTTL)
	} else {
		auditStore = audit.NewMemoryStore()
		publisher = notify.NewMemoryPublisher()
	}
	auditLog := audit.NewLogger(auditStore, c.CacheTimeout, mx, logger.With("module", "audit"))
	notifier := notify.NewNotifier(publisher, logger.With("module", "notify"))

	src, err := app.ledgerSource(logger)
	if err != nil {
		return nil, err
	}
	app.ingestor = ingest.New(src, m, auditLog, notifier, rm.Checkpoints(app.db), ingest.Options{
		Name:       c.LedgerSource,
		StartBlock: c.LedgerStartBlock,
		Metrics:    mx,
	}, logger.With("module", "ingest"))

	checks := map[string]httpapi.Check{
		"database": app.db.PingContext,
		"cache":    kv.Ping,
		"blobs":    blobs.Check,
		"ledger":   app.ledgerCheck,
	}
	h := httpapi.NewHandlers(authn, store, engine, auditLog, httpapi.Options{
		MaxUploadSize: c.MaxUploadSize,
		AuthRateLimit: c.AuthRateLimit,
		AuthRateBurst: c.AuthRateBurst,
		Checks:        checks,
		Status:        func() any { return app.ingestor.Status() },
	}, mx, logger.With("module", "http"))

	app.http = httpapi.NewServer(c.HTTPAddr, h.Router(), c.ShutdownTimeout, logger)

	if c.HealthGRPCAddr != "" {
		app.health = gs.NewHealthServer(c.HealthGRPCAddr, logger, func(ctx context.Context) bool {
			ok, _ := h.Ready(ctx)
			return ok
		}, 0)
	}

	return app, nil
}

// openCache connects to Redis, or falls back to an in-process cache when no
// address is configured. Either way the cache is released by close.
func (app *App) openCache(ctx context.Context) (cache.Cache, error) {
	c := app.config
	if c.RedisAddr == "" {
		app.logger.Warn(ctx, "no redis configured, using in-process cache")
		mc := cache.NewMemoryCache()
		app.closers = append(app.closers, func() error {
			mc.Close()
			return nil
		})
		return mc, nil
	}

	var err error
	app.redis, err = cache.NewRedis(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("redis init error: %w", err)
	}
	app.closers = append(app.closers, app.redis.Close)
	return cache.NewRedisCache(app.redis, c.CacheTimeout), nil
}

func (app *App) ledgerSource(logger logging.Logger) (ledger.Source, error) {
	c := app.config
	switch c.LedgerSource {
	case config.LedgerSourceKafka:
		return kafkafeed.New(kafkafeed.Config{
			Brokers: c.KafkaBrokers,
			Topic:   c.KafkaTopic,
			GroupID: c.KafkaGroupID,
		}, logger.With("module", "kafkafeed"))
	case config.LedgerSourceRPC:
		return ethrpc.New(ethrpc.Options{
			URL:               c.LedgerRPCURL,
			Contract:          c.LedgerContract,
			EmergencyContract: c.LedgerEmergencyContract,
			Confirmations:     c.LedgerConfirmations,
			PollInterval:      c.LedgerPollInterval,
		}, logger.With("module", "ethrpc")), nil
	default:
		return nil, fmt.Errorf("unknown ledger source %q", c.LedgerSource)
	}
}

func (app *App) ledgerCheck(context.Context) error {
	if !app.ingestor.Status().Connected {
		return errors.New("ledger not connected")
	}
	return nil
}

func (app *App) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Warn(context.Background(), "close failed", "error", err)
		}
	}
	app.closers = nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until ctx is canceled, a signal arrives or a component fails,
// then stops the rest and releases resources.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.close()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.ingestor.Run(gctx)
	})
	g.Go(func() error {
		return app.http.Run(gctx)
	})
	if app.health != nil {
		g.Go(func() error {
			return app.health.Run(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		app.logger.Error(ctx, "app stopped", "error", err)
	} else {
		app.logger.Info(ctx, "app stopped")
	}
	return err
}
