// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/rigchat/internal/reply"
	"github.com/jeranaias/rigchat/internal/util"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:3000"

	// MaxRequestBodySize is the default cap on request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// DefaultMinDelay and DefaultMaxDelay bound the simulated reply latency.
	DefaultMinDelay = 500 * time.Millisecond
	DefaultMaxDelay = 1500 * time.Millisecond

	// Version is the server version.
	Version = "1.0.0"

	// HealthMessage is returned by GET /api/health.
	HealthMessage = "Server is running"

	// ErrMsgInternal is the client-facing text for unexpected failures.
	ErrMsgInternal = "服务器内部错误"

	// ErrMsgInvalidBody is returned for bodies that are not valid JSON.
	ErrMsgInvalidBody = "请求格式无效"

	// isoMillis matches JavaScript's Date.toISOString.
	isoMillis = "2006-01-02T15:04:05.000Z"
)

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks request counters.
type ServerStats struct {
	TotalRequests int64
	Replies       int64
	Rejected      int64
	Cancelled     int64
	StartTime     time.Time
}

func (s *ServerStats) snapshot() ServerStats {
	return ServerStats{
		TotalRequests: atomic.LoadInt64(&s.TotalRequests),
		Replies:       atomic.LoadInt64(&s.Replies),
		Rejected:      atomic.LoadInt64(&s.Rejected),
		Cancelled:     atomic.LoadInt64(&s.Cancelled),
		StartTime:     s.StartTime,
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP reply service.
type Server struct {
	addr   string
	router *http.ServeMux
	server *http.Server
	logger *log.Logger

	generator *reply.Generator
	maxBody   int64
	cors      *CORSConfig
	limiter   *RateLimiter
	stats     *ServerStats

	mu       sync.RWMutex
	closed   bool
	minDelay time.Duration
	maxDelay time.Duration
	rng      *rand.Rand
	rngMu    sync.Mutex
}

// NewServer creates a Server listening on addr.
// If addr is empty, DefaultAddr is used.
func NewServer(addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		addr:      addr,
		router:    http.NewServeMux(),
		logger:    log.Default(),
		generator: reply.NewGenerator(),
		maxBody:   MaxRequestBodySize,
		cors:      DefaultCORSConfig(),
		stats:     &ServerStats{StartTime: time.Now()},
		minDelay:  DefaultMinDelay,
		maxDelay:  DefaultMaxDelay,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5851f42d4c957f2d)),
	}

	s.setupRoutes()
	return s
}

// WithGenerator sets the reply generator.
func (s *Server) WithGenerator(g *reply.Generator) *Server {
	if g != nil {
		s.generator = g
	}
	return s
}

// WithDelay sets the simulated latency range.
func (s *Server) WithDelay(lo, hi time.Duration) *Server {
	s.SetDelay(lo, hi)
	return s
}

// WithMaxBodyBytes sets the request body cap.
func (s *Server) WithMaxBodyBytes(n int64) *Server {
	if n > 0 {
		s.maxBody = n
	}
	return s
}

// WithCORS sets the CORS configuration.
func (s *Server) WithCORS(cfg *CORSConfig) *Server {
	if cfg != nil {
		s.cors = cfg
	}
	return s
}

// WithRateLimiter enables per-IP rate limiting. A nil limiter disables it.
func (s *Server) WithRateLimiter(rl *RateLimiter) *Server {
	s.limiter = rl
	return s
}

// WithLogger sets the logger for request and lifecycle events.
func (s *Server) WithLogger(l *log.Logger) *Server {
	if l != nil {
		s.logger = l
	}
	return s
}

// SetDelay updates the latency range. Safe to call while serving; hi is
// raised to lo when smaller.
func (s *Server) SetDelay(lo, hi time.Duration) {
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	s.mu.Lock()
	s.minDelay, s.maxDelay = lo, hi
	s.mu.Unlock()
}

// Delay returns the current latency range.
func (s *Server) Delay() (time.Duration, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minDelay, s.maxDelay
}

// CORS returns the live CORS configuration.
func (s *Server) CORS() *CORSConfig {
	return s.cors
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Stats returns a snapshot of the request counters.
func (s *Server) Stats() ServerStats {
	return s.stats.snapshot()
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST "+reply.ChatPath, s.handleChat)
	s.router.HandleFunc("GET "+reply.HealthPath, s.handleHealth)
	s.router.HandleFunc("GET "+reply.HistoryPath, s.handleHistory)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		CORSMiddleware(s.cors),
	}
	if s.limiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter, s.logger))
	}
	return Chain(middlewares...)(s.router)
}

// ============================================================================
// HANDLERS
// ============================================================================

// handleChat handles POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&s.stats.TotalRequests, 1)
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var req reply.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		atomic.AddInt64(&s.stats.Rejected, 1)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.maxBody))
			return
		}
		s.logger.Printf("CHAT_BAD_REQUEST | ip=%s error=%v", GetClientIP(r), err)
		writeError(w, http.StatusBadRequest, ErrMsgInvalidBody)
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		atomic.AddInt64(&s.stats.Rejected, 1)
		writeError(w, http.StatusBadRequest, reply.ErrEmptyMessage.Error())
		return
	}

	start := time.Now()
	if err := s.wait(r.Context()); err != nil {
		atomic.AddInt64(&s.stats.Cancelled, 1)
		s.logger.Printf("CHAT_CANCELLED | ip=%s after=%dms", GetClientIP(r), time.Since(start).Milliseconds())
		return
	}

	text := s.generator.Generate(req.Message)
	atomic.AddInt64(&s.stats.Replies, 1)
	s.logger.Printf("CHAT_REPLY | query=%s latency=%dms", util.TruncateRunes(req.Message, 50), time.Since(start).Milliseconds())

	writeJSON(w, http.StatusOK, reply.ChatResponse{
		Success: true,
		Data: &reply.ChatData{
			Message:     text,
			Timestamp:   time.Now().UTC().Format(isoMillis),
			UserMessage: req.Message,
		},
	})
}

// wait sleeps for a random duration in the latency range or until ctx ends.
func (s *Server) wait(ctx context.Context) error {
	d := s.pickDelay()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Server) pickDelay() time.Duration {
	lo, hi := s.Delay()
	if hi <= lo {
		return lo
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return lo + time.Duration(s.rng.Int64N(int64(hi-lo)+1))
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, reply.HealthResponse{
		Success:   true,
		Message:   HealthMessage,
		Timestamp: time.Now().UTC().Format(isoMillis),
	})
}

// handleHistory handles GET /api/chat/history. History lives client-side, so
// the endpoint always reports an empty list.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, reply.HistoryResponse{
		Success: true,
		Data:    reply.HistoryData{Messages: []reply.ChatData{}, Total: 0},
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Printf("SERVER_START | addr=%s version=%s", ln.Addr(), Version)
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server. A Serve call that has not
// started yet returns immediately once Shutdown was called.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()

	visitors := 0
	if s.limiter != nil {
		visitors = s.limiter.Visitors()
		s.limiter.Stop()
	}
	if srv == nil {
		return nil
	}

	st := s.stats.snapshot()
	s.logger.Printf("SERVER_SHUTDOWN | requests=%d replies=%d rejected=%d cancelled=%d visitors=%d uptime=%s",
		st.TotalRequests, st.Replies, st.Rejected, st.Cancelled, visitors, time.Since(st.StartTime).Round(time.Second))
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a {success:false,error} response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, reply.ChatResponse{Success: false, Error: message})
}
