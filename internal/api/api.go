// Package api provides the HTTP server for SurveyPipe.
//
// It exposes health and statistics endpoints and, when the Twilio transport is in use,
// the inbound webhook.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/store"
)

// Server timeouts.
const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
)

// Opts holds configuration for the API server.
type Opts struct {
	Addr           string
	TwilioWebhook  http.HandlerFunc
	ActiveSessions func() int
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioWebhook mounts h on POST /webhook/twilio.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// WithActiveSessions reports the number of in-flight sessions in /stats.
func WithActiveSessions(f func() int) Option {
	return func(o *Opts) { o.ActiveSessions = f }
}

// Server serves the SurveyPipe HTTP endpoints.
type Server struct {
	st             store.Store
	addr           string
	twilioWebhook  http.HandlerFunc
	activeSessions func() int
	startedAt      time.Time
	mux            *http.ServeMux
}

// NewServer creates a Server reading statistics from st.
func NewServer(st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: ":8080"}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		st:             st,
		addr:           cfg.Addr,
		twilioWebhook:  cfg.TwilioWebhook,
		activeSessions: cfg.ActiveSessions,
		startedAt:      time.Now(),
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.healthHandler)
	s.mux.HandleFunc("/stats", s.statsHandler)
	s.mux.HandleFunc("/receipts", s.receiptsHandler)
	if s.twilioWebhook != nil {
		s.mux.HandleFunc("/webhook/twilio", s.twilioHandler)
	}
}

// Handler returns the server's request multiplexer.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
		return fmt.Errorf("failed to shut down api server: %w", err)
	}
	slog.Info("API server stopped")
	return nil
}
