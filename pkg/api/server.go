// Package api exposes the ingest service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/logging"
	"github.com/jdziat/geo-ingest/pkg/query"
	"github.com/jdziat/geo-ingest/pkg/queue"
	"github.com/jdziat/geo-ingest/pkg/storage"
)

// Dispatcher runs tracked operations inline or through the worker.
type Dispatcher interface {
	Prompt(ctx context.Context, kind core.RequestKind, key string, op core.Operation) (*core.Session, *core.Completion, error)
	Defer(ctx context.Context, kind core.RequestKind, key string, op core.Operation, opts ...queue.JobOption) (*core.Session, error)
}

// Querier answers the read-only ticket routes.
type Querier interface {
	Status(ctx context.Context, ticket string) (*query.Status, error)
	Result(ctx context.Context, ticket string) (map[string]any, error)
	TicketByKey(ctx context.Context, key string) (*query.TicketRef, error)
}

// StatsReader reports ticket counts per request kind.
type StatsReader interface {
	Stats(ctx context.Context) ([]*storage.KindStats, error)
}

// Tables is the spatial database as seen by the handlers.
type Tables interface {
	core.Ingester
	core.TableChecker
	core.TableDropper
}

// Publisher is the map server as seen by the handlers.
type Publisher interface {
	core.Publisher
	core.Unpublisher
}

// HealthCheck is one check of GET /_health. Reason is reported when
// Check fails.
type HealthCheck struct {
	Reason string
	Check  func(ctx context.Context) error
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	dispatch  Dispatcher
	query     Querier
	tables    Tables
	publisher Publisher
	stats     StatsReader
	checks    []HealthCheck

	tempDir       string
	inputDir      string
	defaultSchema string
	cors          []string
	healthTimeout time.Duration

	validate *validator.Validate
	logger   logrus.FieldLogger
}

// Option configures a Server.
type Option func(*Server)

// WithPublisher enables the publish routes.
func WithPublisher(p Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// WithStats enables GET /stats.
func WithStats(r StatsReader) Option {
	return func(s *Server) {
		s.stats = r
	}
}

// WithHealthChecks appends checks to GET /_health, run in order.
func WithHealthChecks(checks ...HealthCheck) Option {
	return func(s *Server) {
		s.checks = append(s.checks, checks...)
	}
}

// WithTempDir sets the directory uploads are stored under.
func WithTempDir(dir string) Option {
	return func(s *Server) {
		if dir != "" {
			s.tempDir = dir
		}
	}
}

// WithInputDir sets the directory resource paths are resolved against.
// Without it only uploads are accepted.
func WithInputDir(dir string) Option {
	return func(s *Server) {
		s.inputDir = dir
	}
}

// WithDefaultSchema sets the schema used when a request names none.
func WithDefaultSchema(schema string) Option {
	return func(s *Server) {
		if schema != "" {
			s.defaultSchema = schema
		}
	}
}

// WithCORS allows cross-origin requests from origins. "*" allows any.
func WithCORS(origins ...string) Option {
	return func(s *Server) {
		s.cors = origins
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server.
func New(dispatch Dispatcher, q Querier, tables Tables, opts ...Option) *Server {
	s := &Server{
		dispatch:      dispatch,
		query:         q,
		tables:        tables,
		tempDir:       defaultTempDir(),
		defaultSchema: "public",
		healthTimeout: 5 * time.Second,
		validate:      newValidator(),
		logger:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine serving every route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), CorrelationID(), logging.Middleware(s.logger))
	if len(s.cors) > 0 {
		r.Use(cors.New(s.corsConfig()))
	}

	r.POST("/ingest", s.handleIngest)
	r.DELETE("/ingest", s.handleDrop)
	r.POST("/publish", s.handlePublish)
	r.DELETE("/publish", s.handleUnpublish)

	r.GET("/status/", s.handleMissingTicket)
	r.GET("/status/:ticket", s.handleStatus)
	r.GET("/result/", s.handleMissingTicket)
	r.GET("/result/:ticket", s.handleResult)
	r.GET("/ticket_by_key/:key", s.handleTicketByKey)

	r.GET("/_health", s.handleHealth)
	if s.stats != nil {
		r.GET("/stats", s.handleStats)
	}
	return r
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.Router()
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	for _, o := range s.cors {
		if o == "*" {
			cfg.AllowAllOrigins = true
			break
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = s.cors
	}
	cfg.AddAllowMethods(http.MethodDelete)
	cfg.AddAllowHeaders(IdempotencyHeader, CorrelationHeader)
	cfg.AddExposeHeaders(CorrelationHeader)
	return cfg
}
