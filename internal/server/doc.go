// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP reply service.
//
// # Endpoints
//
//   - POST /api/chat          - keyword-matched reply after simulated latency
//   - GET  /api/health        - health check
//   - GET  /api/chat/history  - history stub (always empty)
//
// Every response body is JSON with a "success" flag. Failures carry an
// "error" string: 400 for an empty message or malformed body, 413 when the
// body exceeds the configured cap, 429 when the per-IP rate limit is hit and
// 500 for recovered panics.
//
// # Middleware
//
//   - Panic recovery with stack trace logging
//   - Security headers
//   - Request logging with timing information
//   - CORS with preflight handling
//   - Per-IP token bucket rate limiting (golang.org/x/time/rate)
//
// # Usage
//
//	srv := server.NewServer("127.0.0.1:3000").
//		WithDelay(500*time.Millisecond, 1500*time.Millisecond)
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
