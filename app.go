package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"gorm.io/gorm"

	"github.com/jdziat/geo-ingest/pkg/accounting"
	"github.com/jdziat/geo-ingest/pkg/api"
	"github.com/jdziat/geo-ingest/pkg/config"
	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/geoserver"
	"github.com/jdziat/geo-ingest/pkg/logging"
	"github.com/jdziat/geo-ingest/pkg/postgis"
	"github.com/jdziat/geo-ingest/pkg/query"
	"github.com/jdziat/geo-ingest/pkg/queue"
	"github.com/jdziat/geo-ingest/pkg/recorder"
	"github.com/jdziat/geo-ingest/pkg/schedule"
	"github.com/jdziat/geo-ingest/pkg/security"
	"github.com/jdziat/geo-ingest/pkg/session"
	"github.com/jdziat/geo-ingest/pkg/storage"
	"github.com/jdziat/geo-ingest/pkg/worker"
)

// ShutdownTimeout bounds how long Run waits for open HTTP requests.
const ShutdownTimeout = 30 * time.Second

// App is the application context. It owns every backend client and is
// built once by New.
type App struct {
	cfg    *config.Config
	logger logrus.FieldLogger

	queueDB   *gorm.DB
	ownsDB    []*gorm.DB
	store     *storage.GormStorage
	queue     *queue.Queue
	worker    *worker.Worker
	query     *query.Service
	tables    Tables
	publisher Publisher
	scheduler *schedule.Runner
	server    *api.Server
	closers   []io.Closer
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger instead of building one from the config.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *App) {
		a.logger = l
	}
}

// WithQueueDB uses db as the queue store instead of opening QueueDSN.
func WithQueueDB(db *gorm.DB) Option {
	return func(a *App) {
		a.queueDB = db
	}
}

// WithTables replaces the PostGIS loader.
func WithTables(t Tables) Option {
	return func(a *App) {
		a.tables = t
	}
}

// WithPublisher replaces the GeoServer client.
func WithPublisher(p Publisher) Option {
	return func(a *App) {
		a.publisher = p
	}
}

// New assembles the application from cfg. Backends are connected lazily
// by their drivers; New fails only on configuration and migration errors.
func New(cfg *config.Config, opts ...Option) (app *App, err error) {
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.logger == nil {
		l, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		if err != nil {
			return nil, err
		}
		a.logger = l
	}
	gcfg := &gorm.Config{Logger: logging.NewGormLogger(a.logger)}

	if a.queueDB == nil {
		db, err := storage.Open(cfg.QueueDriver, cfg.QueueDSN, gcfg,
			storage.MaxOpenConns(cfg.DBMaxOpenConns),
			storage.MaxIdleConns(cfg.DBMaxIdleConns),
		)
		if err != nil {
			return nil, err
		}
		a.queueDB = db
		a.ownsDB = append(a.ownsDB, db)
	}
	a.store = storage.NewGormStorage(a.queueDB)
	ctx := context.Background()
	if err := a.store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate queue store: %w", err)
	}

	sink, err := a.accountingSink(ctx)
	if err != nil {
		return nil, err
	}

	rec := recorder.New(a.store, recorder.WithSink(sink), recorder.WithLogger(a.logger))
	alloc := session.NewAllocator(a.store, session.WithLogger(a.logger))
	a.queue = queue.New(alloc, rec, queue.WithLogger(a.logger))
	a.worker = a.queue.NewWorker(worker.MaxPending(security.ClampPending(cfg.WorkerMaxPending)))
	a.query = query.New(a.store)

	checks := []api.HealthCheck{{Reason: "queue store unreachable", Check: a.store.Ping}}

	if a.tables == nil {
		pg, err := postgis.Open(cfg.PostGIS, gcfg,
			storage.MaxOpenConns(cfg.DBMaxOpenConns),
			storage.MaxIdleConns(cfg.DBMaxIdleConns),
		)
		if err != nil {
			return nil, err
		}
		a.ownsDB = append(a.ownsDB, pg)
		a.tables = postgis.NewLoader(pg,
			postgis.WithDefaultSchema(cfg.DefaultSchema),
			postgis.WithChunkSize(cfg.ChunkSize),
			postgis.WithLogger(a.logger),
		)
	}
	if p, ok := a.tables.(core.Pinger); ok {
		checks = append(checks, api.HealthCheck{Reason: "cannot connect to PostGIS backend", Check: p.Ping})
	}

	if a.publisher == nil && cfg.PublishEnabled() {
		gs, err := geoserver.New(cfg.GeoServer, geoserver.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		a.publisher = gs
	}
	if p, ok := a.publisher.(core.Pinger); ok {
		checks = append(checks, api.HealthCheck{Reason: "cannot connect to GeoServer backend", Check: p.Ping})
	}

	if a.scheduler, err = a.newScheduler(); err != nil {
		return nil, err
	}

	serverOpts := []api.Option{
		api.WithStats(a.store),
		api.WithHealthChecks(checks...),
		api.WithTempDir(cfg.TempDir),
		api.WithInputDir(cfg.InputDir),
		api.WithDefaultSchema(cfg.DefaultSchema),
		api.WithCORS(cfg.CORS...),
		api.WithLogger(a.logger),
	}
	if a.publisher != nil {
		serverOpts = append(serverOpts, api.WithPublisher(a.publisher))
	}
	a.server = api.New(a.queue, a.query, a.tables, serverOpts...)
	return a, nil
}

// accountingSink opens the configured accounting destinations.
func (a *App) accountingSink(ctx context.Context) (accounting.Sink, error) {
	var sinks accounting.Multi
	if a.cfg.AccountingLog != "" {
		ls, err := accounting.OpenLogSink(a.cfg.AccountingLog)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ls)
		sinks = append(sinks, ls)
	}
	if a.cfg.AccountingDB {
		gs := accounting.NewGormSink(a.queueDB)
		if err := gs.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate accounting table: %w", err)
		}
		sinks = append(sinks, gs)
	}
	return sinks, nil
}

// newScheduler registers the stale ticket report.
func (a *App) newScheduler() (*schedule.Runner, error) {
	r := schedule.NewRunner(a.logger, time.Second)
	if a.cfg.StaleTicketSchedule == "" {
		return r, nil
	}
	sched, err := schedule.Parse(a.cfg.StaleTicketSchedule)
	if err != nil {
		return nil, fmt.Errorf("STALE_TICKET_SCHEDULE: %w", err)
	}
	reporter := &query.StaleReporter{
		Store:  a.store,
		Age:    a.cfg.StaleTicketAge,
		Logger: a.logger,
	}
	r.Add(&schedule.Task{Name: "stale-tickets", Schedule: sched, Run: reporter.Run})
	return r, nil
}

// Queue returns the prompt/deferred dispatcher.
func (a *App) Queue() *queue.Queue {
	return a.queue
}

// Worker returns the deferred job worker.
func (a *App) Worker() *worker.Worker {
	return a.worker
}

// Store returns the queue store.
func (a *App) Store() *storage.GormStorage {
	return a.store
}

// Handler returns the HTTP handler. Cleartext HTTP/2 is accepted
// alongside HTTP/1.1.
func (a *App) Handler() http.Handler {
	return h2c.NewHandler(a.server.Handler(), &http2.Server{})
}

// Run serves HTTP on the configured address and runs the worker and the
// scheduler until ctx is cancelled. On shutdown the server stops first,
// then the worker finishes its current job, then the scheduler stops.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a.serve(ctx, srv, srv.ListenAndServe)
}

func (a *App) serve(ctx context.Context, srv *http.Server, listen func() error) error {
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = a.worker.Start(workerCtx)
	}()

	schedCtx, stopSched := context.WithCancel(context.Background())
	defer stopSched()
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = a.scheduler.Start(schedCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", srv.Addr).Info("listening")
		serveErr <- listen()
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = fmt.Errorf("http shutdown: %w", serr)
	}

	stopWorker()
	<-workerDone
	stopSched()
	<-schedDone
	a.logger.Info("stopped")
	return err
}

// Close releases the databases and accounting files opened by New.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	for _, db := range a.ownsDB {
		if sqlDB, err := db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	a.ownsDB = nil
	return errors.Join(errs...)
}
