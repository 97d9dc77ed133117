// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/reply"
)

func newTestServer() *Server {
	return NewServer("").
		WithDelay(0, 0).
		WithLogger(log.New(io.Discard, "", 0)).
		WithGenerator(reply.NewGenerator().WithSeed(1))
}

func postChat(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, reply.ChatResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, reply.ChatPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp reply.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	return rec, resp
}

// ============================================================================
// CHAT ENDPOINT
// ============================================================================

func TestChat_Success(t *testing.T) {
	s := newTestServer()
	rec, resp := postChat(t, s.Handler(), `{"message":"hello"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	require.Equal(t, reply.DefaultRules[0].Text, resp.Data.Message)
	require.Equal(t, "hello", resp.Data.UserMessage)

	ts, err := time.Parse(time.RFC3339, resp.Data.Timestamp)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), ts, time.Minute)
	require.True(t, strings.HasSuffix(resp.Data.Timestamp, "Z"))
}

func TestChat_Rejections(t *testing.T) {
	testCases := []struct {
		name string
		body string
		want string
	}{
		{"empty message", `{"message":""}`, reply.ErrEmptyMessage.Error()},
		{"whitespace message", `{"message":"  \n\t "}`, reply.ErrEmptyMessage.Error()},
		{"missing field", `{}`, reply.ErrEmptyMessage.Error()},
		{"invalid json", `{"message":`, ErrMsgInvalidBody},
		{"wrong type", `{"message":42}`, ErrMsgInvalidBody},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer()
			rec, resp := postChat(t, s.Handler(), tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.False(t, resp.Success)
			require.Equal(t, tc.want, resp.Error)
			require.Nil(t, resp.Data)
		})
	}
}

func TestChat_BodyTooLarge(t *testing.T) {
	s := newTestServer().WithMaxBodyBytes(64)
	body := `{"message":"` + strings.Repeat("a", 200) + `"}`

	rec, resp := postChat(t, s.Handler(), body)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.False(t, resp.Success)
	require.Equal(t, int64(1), s.Stats().Rejected)
}

func TestChat_MethodNotAllowed(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, reply.ChatPath, nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestChat_DelayRespectsCancellation(t *testing.T) {
	s := newTestServer().WithDelay(time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, reply.ChatPath, strings.NewReader(`{"message":"hi"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.Handler().ServeHTTP(rec, req)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return after cancellation")
	}
	require.Equal(t, int64(1), s.Stats().Cancelled)
	require.Zero(t, s.Stats().Replies)
}

func TestChat_DelayWithinRange(t *testing.T) {
	s := newTestServer().WithDelay(20*time.Millisecond, 40*time.Millisecond)
	for i := 0; i < 20; i++ {
		d := s.pickDelay()
		require.GreaterOrEqual(t, d, 20*time.Millisecond)
		require.LessOrEqual(t, d, 40*time.Millisecond)
	}

	start := time.Now()
	rec, _ := postChat(t, s.Handler(), `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSetDelay_Clamps(t *testing.T) {
	s := newTestServer()
	s.SetDelay(-time.Second, -2*time.Second)
	lo, hi := s.Delay()
	require.Zero(t, lo)
	require.Zero(t, hi)

	s.SetDelay(time.Second, time.Millisecond)
	lo, hi = s.Delay()
	require.Equal(t, time.Second, lo)
	require.Equal(t, time.Second, hi)
}

// ============================================================================
// HEALTH AND HISTORY
// ============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, reply.HealthPath, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp reply.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, HealthMessage, resp.Message)
	require.NotEmpty(t, resp.Timestamp)
}

func TestHistory(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, reply.HistoryPath, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true,"data":{"messages":[],"total":0}}`, rec.Body.String())
}

// ============================================================================
// MIDDLEWARE
// ============================================================================

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(log.New(io.Discard, "", 0))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"success":false,"error":"`+ErrMsgInternal+`"}`, rec.Body.String())
}

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer().WithCORS(NewCORSConfig([]string{"http://localhost:5173"}))

	req := httptest.NewRequest(http.MethodOptions, reply.ChatPath, nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORS_Origins(t *testing.T) {
	cfg := NewCORSConfig([]string{"http://app.local", "*.example.com"})
	require.Equal(t, "http://app.local", cfg.allowOrigin("http://app.local"))
	require.Equal(t, "https://chat.example.com", cfg.allowOrigin("https://chat.example.com"))
	require.Empty(t, cfg.allowOrigin("http://evil.test"))
	require.Empty(t, cfg.allowOrigin(""))

	cfg.SetOrigins([]string{"*"})
	require.Equal(t, "*", cfg.allowOrigin("http://evil.test"))
	require.Equal(t, []string{"*"}, cfg.Origins())
}

func TestCORS_DisallowedOriginGetsNoHeader(t *testing.T) {
	s := newTestServer().WithCORS(NewCORSConfig([]string{"http://app.local"}))

	req := httptest.NewRequest(http.MethodGet, reply.HealthPath, nil)
	req.Header.Set("Origin", "http://evil.test")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Stop()
	var logs bytes.Buffer
	s := newTestServer().WithRateLimiter(rl).WithLogger(log.New(&logs, "", 0))
	h := s.Handler()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, reply.HealthPath, nil))
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{200, 200, 429}, codes)
	require.Contains(t, logs.String(), "RATE_LIMIT_EXCEEDED | ip=192.0.2.1")

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, reply.HealthPath, nil)
	req.RemoteAddr = "198.51.100.7:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, rl.Visitors())
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(60, 5)
	defer rl.Stop()
	rl.Allow("192.0.2.1")
	require.Equal(t, 1, rl.Visitors())

	rl.sweep(time.Now().Add(time.Hour))
	require.Zero(t, rl.Visitors())
	require.Equal(t, 5, rl.Remaining("192.0.2.1"))
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, reply.HealthPath, nil))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer().WithLogger(log.New(&buf, "", 0))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, reply.HealthPath, nil))

	require.Contains(t, buf.String(), "| GET /api/health | 200 |")
}

func TestGetClientIP(t *testing.T) {
	testCases := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct", "203.0.113.5:1234", "", "", "203.0.113.5"},
		{"untrusted peer ignores xff", "203.0.113.5:1234", "1.2.3.4", "", "203.0.113.5"},
		{"trusted peer uses xff", "127.0.0.1:1234", "1.2.3.4, 10.0.0.1", "", "1.2.3.4"},
		{"trusted peer bad xff uses xri", "10.1.1.1:80", "garbage", "5.6.7.8", "5.6.7.8"},
		{"no port", "198.51.100.1", "", "", "198.51.100.1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				req.Header.Set("X-Real-IP", tc.xri)
			}
			require.Equal(t, tc.want, GetClientIP(req))
		})
	}
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func TestServeAndShutdown(t *testing.T) {
	s := newTestServer()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ln) }()

	client := reply.NewClient("http://" + ln.Addr().String())
	require.Eventually(t, func() bool {
		_, err := client.Health(context.Background())
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	out, err := client.Reply(context.Background(), "谢谢")
	require.NoError(t, err)
	require.Equal(t, "不客气！很高兴能够帮助您。还有其他问题吗？", out)

	_, err = client.Reply(context.Background(), "   ")
	require.True(t, reply.IsServiceError(err))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-errc)
}

func TestShutdownBeforeServe(t *testing.T) {
	s := newTestServer()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(context.Background()))

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ln) }()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve kept running after Shutdown")
	}

	_, err = net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	require.Error(t, err)
}
