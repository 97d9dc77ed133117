// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reply produces assistant replies and talks to the reply endpoint.
//
// # Key Types
//
//   - Replier: the text-in/text-out contract consumed by the session controller
//   - Generator: keyword table with a randomized generic fallback
//   - Client: HTTP client for POST /api/chat
//   - Local: Replier backed directly by a Generator (no network)
//
// # Errors
//
// Client distinguishes an application-level failure (*ServiceError, the
// endpoint answered success:false) from a transport failure (ErrUnreachable).
// Neither is retried.
package reply
