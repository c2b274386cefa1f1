// Package httpapi is the JSON HTTP surface of the server.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/server/access"
	"github.com/dmitrijs2005/medvault/internal/server/audit"
	"github.com/dmitrijs2005/medvault/internal/server/auth"
	"github.com/dmitrijs2005/medvault/internal/server/metrics"
	"github.com/dmitrijs2005/medvault/internal/server/models"
	"github.com/dmitrijs2005/medvault/internal/server/records"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Authenticator interface {
	IssueNonce(ctx context.Context, address string) (string, error)
	Verify(ctx context.Context, address, signature, nonce string) (auth.Session, error)
	ParseSession(token string) (string, error)
}

type RecordStore interface {
	Put(ctx context.Context, owner string, data []byte, fileName string, preEncrypted bool) (records.Stored, error)
	Get(ctx context.Context, cid string) (records.Object, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, req access.Request) (models.Grant, error)
}

type AuditLog interface {
	Record(ctx context.Context, e audit.Entry)
	Query(ctx context.Context, patient string, limit int) ([]audit.Entry, error)
}

// Check reports whether a dependency is ready to serve.
type Check func(ctx context.Context) error

type Options struct {
	MaxUploadSize int
	AuthRateLimit float64
	AuthRateBurst int
	// Checks run by /readyz, by name.
	Checks map[string]Check
	// Status, when set, is included in the /readyz body.
	Status func() any
}

type Handlers struct {
	auth    Authenticator
	records RecordStore
	access  Authorizer
	audit   AuditLog
	opts    Options
	limiter *ipLimiter
	metrics *metrics.Metrics
	logger  logging.Logger
}

func NewHandlers(a Authenticator, rs RecordStore, az Authorizer, al AuditLog, opts Options, mx *metrics.Metrics, logger logging.Logger) *Handlers {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 10 << 20
	}
	return &Handlers{
		auth:    a,
		records: rs,
		access:  az,
		audit:   al,
		opts:    opts,
		limiter: newIPLimiter(opts.AuthRateLimit, opts.AuthRateBurst),
		metrics: mx,
		logger:  logger,
	}
}

// Router wires every route.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(h.observe)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Handle("/metrics", h.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Post("/auth/nonce", h.issueNonce)
		r.Post("/auth/verify", h.verify)
	})

	r.Post("/records", h.uploadRecord)
	r.Get("/records/{cid}", h.getRecord)
	r.Get("/audit/{patientAddress}", h.auditLog)

	return r
}

// Server runs the router until its context ends.
type Server struct {
	address         string
	handler         http.Handler
	shutdownTimeout time.Duration
	logger          logging.Logger
}

func NewServer(address string, h http.Handler, shutdownTimeout time.Duration, l logging.Logger) *Server {
	return &Server{
		address:         address,
		handler:         h,
		shutdownTimeout: shutdownTimeout,
		logger:          l.With("module", "http_server"),
	}
}

func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.logger.Error(ctx, "HTTP shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
