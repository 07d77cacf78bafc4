// Package web serves the ops surface: health, Prometheus metrics and a
// server-sent event stream of dispatch activity.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"designer-dispatch/internal/events"
)

const keepaliveInterval = 15 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Addr       string
	Token      string // empty disables auth
	AuthLimit  int
	AuthWindow time.Duration
	Events     *events.Broker
	Logger     *slog.Logger
}

type Server struct {
	pinger  Pinger
	addr    string
	token   string
	limiter *authLimiter
	events  *events.Broker
	logger  *slog.Logger
}

func NewServer(pinger Pinger, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pinger:  pinger,
		addr:    opts.Addr,
		token:   opts.Token,
		limiter: newAuthLimiter(opts.AuthLimit, opts.AuthWindow, DefaultAuthMaxEntries),
		events:  opts.Events,
		logger:  logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/healthz", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Ops server shutdown error", "error", err)
		}
	}()

	s.logger.Info("Ops server listening", "addr", s.addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pinger.Ping(r.Context()); err != nil {
		s.logger.Warn("Health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("events not configured"))
		return
	}
	filter, err := parseEventFilter(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, cancel, backlog := s.events.Subscribe()
	defer cancel()
	for _, event := range backlog {
		if !filter.Matches(event) {
			continue
		}
		if err := writeEvent(w, event); err != nil {
			return
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-ch:
			if !filter.Matches(event) {
				continue
			}
			if err := writeEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
	return err
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authorize(w, r) {
			next.ServeHTTP(w, r)
		}
	})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.token == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		if tokenMatches(strings.TrimSpace(header[len("bearer "):]), s.token) {
			return true
		}
	}

	host := remoteHost(r.RemoteAddr)
	limited := !s.limiter.allow(host, time.Now())
	s.logger.Warn("Unauthorized request",
		"path", r.URL.Path,
		"method", r.Method,
		"remote_host", host,
		"rate_limited", limited,
	)
	if limited {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	} else {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("unauthorized"))
	}
	return false
}

// tokenMatches compares in constant time for equal-length inputs.
func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
