// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the benchmark service.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	RequestID ──► reuse or mint X-Request-ID, echo it on the response
//	   │
//	   ▼
//	AccessLog ──► one structured slog line per request
//	   │
//	   ▼
//	Handler (retrieves the id via GetRequestID)
package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation id in both directions.
const RequestIDHeader = "X-Request-ID"

// requestIDKey is the Gin context key for the request id.
const requestIDKey = "bench_request_id"

// maxRequestIDLen bounds client-supplied ids before they reach the logs.
const maxRequestIDLen = 128

// =============================================================================
// Context Helpers
// =============================================================================

// GetRequestID returns the id assigned by RequestID, or "" when the
// middleware did not run.
//
// # Thread Safety
//
// Safe to call concurrently (Gin context is request-scoped).
func GetRequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// =============================================================================
// Middleware
// =============================================================================

// RequestID creates a Gin middleware that tags every request with an id.
//
// # Description
//
// A well-formed X-Request-ID from the client is reused so callers can
// correlate their own logs; otherwise a UUID is minted. The id is stored
// in the context and echoed in the response header.
//
// # Limitations
//
//   - Client ids longer than 128 bytes or containing control characters
//     are replaced
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AccessLog creates a Gin middleware that logs each request.
//
// # Description
//
// Logs method, route, status, latency and request id after the handler
// returns. 5xx responses log at Error, 4xx at Warn, everything else at
// Info. Paths listed in quiet log at Debug, for probe and scrape traffic.
//
// # Inputs
//
//   - logger: Destination. nil uses slog.Default().
//   - quiet: Exact request paths demoted to Debug (e.g. "/health").
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AccessLog(logger *slog.Logger, quiet ...string) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	quietPaths := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		quietPaths[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		if _, ok := quietPaths[c.Request.URL.Path]; ok && level == slog.LevelInfo {
			level = slog.LevelDebug
		}

		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"request_id", GetRequestID(c),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		logger.Log(c.Request.Context(), level, "HTTP request", attrs...)
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
