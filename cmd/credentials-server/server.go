package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	credentials "github.com/goliatone/go-credentials"
	"github.com/goliatone/go-credentials/adapters/gojob"
	"github.com/goliatone/go-credentials/adapters/gologger"
	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/httpapi"
	"github.com/goliatone/go-credentials/migrations"
	sqlstore "github.com/goliatone/go-credentials/store/sql"
	jobsql "github.com/goliatone/go-job/queue/adapters/postgres"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, cfg serverConfig, provider glog.LoggerProvider) error {
	logger := glog.Ensure(provider.GetLogger("credentials-server"))

	client, sqlDB, err := openPersistence(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close database", "error", closeErr)
		}
	}()

	enqueuer, dequeuer, err := buildRefreshQueue(ctx, cfg, sqlDB)
	if err != nil {
		return err
	}
	svc, err := buildService(cfg, client, enqueuer, provider)
	if err != nil {
		return err
	}
	if err := svc.ValidateClients(); err != nil {
		if !cfg.AllowPartialKinds {
			return fmt.Errorf("validate oauth clients: %w", err)
		}
		logger.Warn("some service kinds have no oauth client and cannot be linked", "error", err)
	}

	handler, err := httpapi.NewServer(svc, httpapi.Config{LoggerProvider: provider})
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("credentials server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		worker := gojob.NewRefreshWorker(dequeuer, svc, gojob.RefreshWorkerConfig{
			Hook: gologger.NewJobLoggingHook("credentials.refresh", provider, nil),
		})
		return worker.Run(groupCtx)
	})
	group.Go(func() error {
		runSweeps(groupCtx, svc, cfg.SweepInterval)
		return nil
	})
	return group.Wait()
}

// openPersistence returns the bun client together with its *sql.DB, which
// the refresh queue shares.
func openPersistence(ctx context.Context, cfg serverConfig) (*persistence.Client, *sql.DB, error) {
	target := cfg.database()
	sqlDB, err := sql.Open(target.Driver, target.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s database: %w", target.Driver, err)
	}

	pcfg := persistenceConfig{debug: cfg.DatabaseDebug, driver: target.Driver, server: target.DSN}
	var client *persistence.Client
	switch target.Dialect {
	case migrations.DialectPostgres:
		client, err = persistence.New(pcfg, sqlDB, pgdialect.New())
	default:
		sqlDB.SetMaxOpenConns(1)
		client, err = persistence.New(pcfg, sqlDB, sqlitedialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("new persistence client: %w", err)
	}

	err = migrations.Apply(ctx, target.Dialect, func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	}, func(ctx context.Context) error {
		return client.Migrate(ctx)
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("migrate %s schema: %w", target.Dialect, err)
	}
	return client, sqlDB, nil
}

// buildRefreshQueue backs refresh jobs with go-job's SQL queue tables in the
// credentials database, or with an in-process queue when configured.
func buildRefreshQueue(ctx context.Context, cfg serverConfig, sqlDB *sql.DB) (core.JobEnqueuer, core.JobDequeuer, error) {
	if cfg.JobQueue == jobQueueMemory {
		queue := core.NewMemoryJobQueue()
		return queue, queue, nil
	}

	target := cfg.database()
	opts := []jobsql.Option{
		jobsql.WithTableName("credential_refresh_jobs"),
		jobsql.WithDLQTableName("credential_refresh_jobs_dlq"),
		jobsql.WithStatusTableName("credential_refresh_jobs_status"),
		jobsql.WithVisibilityTimeout(cfg.RefreshVisibilityTimeout),
	}
	if target.Dialect == migrations.DialectPostgres {
		opts = append(opts, jobsql.WithDialect(jobsql.DialectPostgres), jobsql.WithUseSkipLocked(true))
	} else {
		opts = append(opts, jobsql.WithDialect(jobsql.DialectSQLite))
	}
	storage := jobsql.NewStorage(sqlDB, opts...)
	if err := storage.Migrate(ctx); err != nil {
		return nil, nil, fmt.Errorf("migrate refresh queue: %w", err)
	}

	adapter := jobsql.NewAdapter(storage)
	policy := gojob.RetryPolicy{
		MaxAttempts:     cfg.RefreshMaxAttempts,
		MaxDelay:        cfg.RefreshMaxDelay,
		DeadLetterOnMax: true,
	}
	return gojob.NewEnqueuerAdapter(adapter), gojob.NewDequeuerAdapter(adapter, policy), nil
}

func buildService(cfg serverConfig, client *persistence.Client, enqueuer core.JobEnqueuer, provider glog.LoggerProvider) (*credentials.Service, error) {
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = cfg.CacheTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("new workspace cache: %w", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithWorkspaceCache(cacheService))
	if err != nil {
		return nil, fmt.Errorf("build stores: %w", err)
	}
	secrets, err := credentials.NewSecretProvider(cfg.SecretKey, cfg.PreviousSecretKeys...)
	if err != nil {
		return nil, fmt.Errorf("build secret provider: %w", err)
	}

	svc, err := credentials.NewService(credentials.DefaultConfig(),
		credentials.WithProcessEnvironment(),
		credentials.WithRepositoryFactory(factory),
		credentials.WithSecretProvider(secrets),
		credentials.WithJobEnqueuer(enqueuer),
		credentials.WithLoggerProvider(provider),
	)
	if err != nil {
		return nil, fmt.Errorf("new credential service: %w", err)
	}
	return svc, nil
}

// runSweeps enqueues refresh jobs on every tick until ctx is done.
func runSweeps(ctx context.Context, svc *credentials.Service, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = svc.SweepExpiring(ctx)
		}
	}
}
