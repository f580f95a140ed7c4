// Package app wires the MediaKeeper engine together and runs it: it builds
// the catalog, the remote store, the job orchestrator and the services on
// top of them, indexes the library once, serves metrics, sweeps expired jobs
// and hands stdin to the operator console until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/mediakeeper/internal/catalog"
	"github.com/dmitrijs2005/mediakeeper/internal/cli"
	"github.com/dmitrijs2005/mediakeeper/internal/config"
	"github.com/dmitrijs2005/mediakeeper/internal/jobs"
	"github.com/dmitrijs2005/mediakeeper/internal/library"
	"github.com/dmitrijs2005/mediakeeper/internal/logging"
	"github.com/dmitrijs2005/mediakeeper/internal/media"
	"github.com/dmitrijs2005/mediakeeper/internal/metrics"
	"github.com/dmitrijs2005/mediakeeper/internal/pool"
	"github.com/dmitrijs2005/mediakeeper/internal/reconcile"
	"github.com/dmitrijs2005/mediakeeper/internal/remote"
	jobsrepo "github.com/dmitrijs2005/mediakeeper/internal/repositories/jobs"
	"github.com/dmitrijs2005/mediakeeper/internal/snapshot"
)

const shutdownTimeout = 30 * time.Second

// newObjectStore is a test seam for the remote backend.
var newObjectStore = func(ctx context.Context, c *config.Config) (remote.ObjectStore, error) {
	switch c.RemoteBackend {
	case config.BackendMemory:
		return remote.NewMemoryStore(), nil
	default:
		return remote.NewS3Store(ctx, remote.S3Config{
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			BaseEndpoint: c.S3BaseEndpoint,
		})
	}
}

type App struct {
	config   *config.Config
	logger   logging.Logger
	registry *prometheus.Registry
	catalog  *catalog.Store
	orch     *jobs.Orchestrator
	indexer  *library.Indexer
	console  *cli.Console
	in       io.Reader
}

// NewApp builds the engine from c. Logs go to logOut and console output to
// out; console commands are read from in.
func NewApp(ctx context.Context, c *config.Config, in io.Reader, out, logOut io.Writer) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(c.LogFormat, c.LogLevel, logOut)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	pools := pool.NewPools(c.RemotePoolSize, c.FSPoolSize, c.CatalogPoolSize, m)

	cat, err := catalog.Open(ctx, c.DatabasePath, pools.Catalog, logger)
	if err != nil {
		return nil, fmt.Errorf("catalog init error: %w", err)
	}

	a, engine, err := build(ctx, c, cat, pools, m, logger)
	if err != nil {
		_ = cat.Close()
		return nil, err
	}
	a.registry = registry
	a.in = in
	a.console = cli.NewConsole(engine, out)
	return a, nil
}

func build(ctx context.Context, c *config.Config, cat *catalog.Store, pools *pool.Pools, m *metrics.Metrics, logger logging.Logger) (*App, cli.Engine, error) {
	store, err := newObjectStore(ctx, c)
	if err != nil {
		return nil, cli.Engine{}, fmt.Errorf("remote store init error: %w", err)
	}
	objects := remote.NewGuarded(store, pools.Remote, remote.RetryPolicy{
		Timeout: c.RemoteCallTimeout,
		Retries: c.RemoteRetries,
		Backoff: c.RemoteRetryBackoff,
	}, m, logger)

	orch, err := jobs.New(ctx, jobsrepo.NewSQLiteRepository(cat.DB()), jobs.Config{
		TransferJobs: c.TransferJobs,
		MutationJobs: c.MutationJobs,
	}, logger, m)
	if err != nil {
		return nil, cli.Engine{}, fmt.Errorf("job orchestrator init error: %w", err)
	}

	publisher, _ := os.Hostname()
	rec := reconcile.New(cat, snapshot.NewTransport(objects, c.SnapshotKey), objects, orch, reconcile.Options{
		RemotePrefix:          c.RemotePrefix,
		AutoPublish:           c.AutoPublish,
		LegacyListingFallback: c.LegacyListingFallback,
		Publisher:             publisher,
	}, logger, m)

	lib, err := library.Open(c.LibraryDir, pools.FS, logger)
	if err != nil {
		_ = orch.Shutdown(ctx)
		return nil, cli.Engine{}, err
	}
	ix := library.NewIndexer(lib, cat, logger)

	a := &App{config: c, logger: logger, catalog: cat, orch: orch, indexer: ix}
	engine := cli.Engine{
		Catalog:      cat,
		Indexer:      ix,
		Reconcile:    rec,
		Media:        media.NewService(lib, ix, cat, objects, rec, orch, c.RemotePrefix, logger),
		Jobs:         orch,
		JobRetention: c.JobRetention,
	}
	return a, engine, nil
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

func (app *App) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	return mux
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:              app.config.MetricsAddr,
		Handler:           app.metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	app.logger.Info(ctx, "metrics server starting", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "metrics server failed", "error", err)
		cancelFunc()
	}
}

// Run blocks until the console exits, a termination signal arrives or ctx
// ends, then shuts the engine down.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	if indexed, err := app.indexer.BootstrapOnce(ctx); err != nil {
		app.logger.Error(ctx, "library indexing failed", "error", err)
	} else if indexed {
		app.logger.Info(ctx, "library indexed for the first time")
	}

	var wg sync.WaitGroup

	if app.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startMetricsServer(ctx, cancelFunc)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.orch.RunCleanup(ctx, app.config.CleanupInterval, app.config.JobRetention)
	}()

	// The console is not waited for: it may be blocked reading stdin.
	go func() {
		app.console.Run(ctx, app.in)
		cancelFunc()
	}()

	<-ctx.Done()
	app.logger.Info(context.Background(), "Shutting down...")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := app.orch.Shutdown(sctx)
	if err != nil {
		app.logger.Warn(sctx, "jobs did not stop in time", "error", err)
	}
	wg.Wait()

	return errors.Join(err, app.catalog.Close())
}
