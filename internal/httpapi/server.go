// Package httpapi exposes a metadata.Store over HTTP.
//
// The server keeps no state of its own: every request is translated into
// store calls, and store errors are mapped onto status codes
// (not found -> 404, already exists -> 409, malformed input -> 400).
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metastore/internal/logging"
	"metastore/internal/metadata"
)

var logger = logging.For("httpapi")

const defaultMaxBodyBytes = 1 << 20

// StaticMount is a handler serving files under one or more path prefixes.
type StaticMount interface {
	http.Handler
	Routes() []string
}

type Options struct {
	Registry        *prometheus.Registry
	MaxBodyBytes    int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Static          StaticMount
}

type Option func(*Options)

// WithRegistry registers the HTTP metrics on reg and serves it on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *Options) {
		o.Registry = reg
	}
}

// WithMaxBodyBytes caps request bodies on write endpoints.
func WithMaxBodyBytes(n int64) Option {
	return func(o *Options) {
		o.MaxBodyBytes = n
	}
}

func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(o *Options) {
		o.ReadTimeout = read
		o.WriteTimeout = write
		o.ShutdownTimeout = shutdown
	}
}

// WithStatic serves m on each of its routes.
func WithStatic(m StaticMount) Option {
	return func(o *Options) {
		o.Static = m
	}
}

type Server struct {
	store   *metadata.Store
	opts    Options
	handler http.Handler
}

func New(st *metadata.Store, opts ...Option) *Server {
	o := Options{
		MaxBodyBytes:    defaultMaxBodyBytes,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}
	s := &Server{store: st, opts: o}
	s.handler = s.newHTTPHandler()
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) newHTTPHandler() http.Handler {
	m := newMetrics(s.opts.Registry)

	// Keys may contain "/" (the ui route table does), so route on the
	// escaped path and unescape the variables in the handlers.
	r := mux.NewRouter().UseEncodedPath()
	r.Use(requestLogger, m.instrument)

	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	r.HandleFunc("/metadata", s.listIDs).Methods(http.MethodGet)
	r.HandleFunc("/metadata/{id}", s.getID).Methods(http.MethodGet)
	r.HandleFunc("/metadata/{id}", s.createID).Methods(http.MethodPost)
	r.HandleFunc("/metadata/{id}", s.deleteID).Methods(http.MethodDelete)
	r.HandleFunc("/metadata/{id}/{key}", s.getValue).Methods(http.MethodGet)
	r.HandleFunc("/metadata/{id}/{key}", s.createKey).Methods(http.MethodPost)
	r.HandleFunc("/metadata/{id}/{key}", s.upsert).Methods(http.MethodPut)
	r.HandleFunc("/metadata/{id}/{key}", s.deleteKey).Methods(http.MethodDelete)

	r.HandleFunc("/snapshot", s.serialize).Methods(http.MethodGet)
	r.HandleFunc("/snapshot", s.load).Methods(http.MethodPut)

	if s.opts.Static != nil {
		for _, route := range s.opts.Static.Routes() {
			r.PathPrefix(route + "/").Handler(s.opts.Static).Methods(http.MethodGet, http.MethodHead)
		}
	}
	return r
}

// Run listens on addr and serves until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", ln.Addr().String())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}
