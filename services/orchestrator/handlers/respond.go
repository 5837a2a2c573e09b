// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the execution, benchmark and metrics services
// over HTTP.
//
// Handlers are constructors returning gin.HandlerFunc closures over their
// dependencies. Every error response has the shape {"error": "..."}; the
// status is derived from the error chain:
//
//	ErrValidation        -> 400
//	ErrNotFound          -> 404
//	ErrTaskNameConflict  -> 409
//	ErrNothingToCompute  -> 404
//	ErrShuttingDown      -> 503
//	anything else        -> 500 (message withheld, logged)
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/services"
)

// respondError maps err onto a status code and writes the error body.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		slog.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(),
			"request_id", middleware.GetRequestID(c), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, datatypes.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, datatypes.ErrNotFound), errors.Is(err, datatypes.ErrNothingToCompute):
		return http.StatusNotFound
	case errors.Is(err, datatypes.ErrTaskNameConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// bindJSON decodes the body into dst and answers 400 on malformed JSON.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return false
	}
	return true
}

// frameworkParam parses a path parameter as a framework id, answering 400
// when it is unknown.
func frameworkParam(c *gin.Context, name string) (datatypes.FrameworkID, bool) {
	fw, err := datatypes.ParseFrameworkID(c.Param(name))
	if err != nil {
		respondError(c, err)
		return "", false
	}
	return fw, true
}

// intQuery reads an optional integer query parameter.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		respondError(c, datatypes.NewValidationError(name, "must be an integer"))
		return 0, false
	}
	return v, true
}

// floatQuery reads an optional float query parameter.
func floatQuery(c *gin.Context, name string, def float64) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		respondError(c, datatypes.NewValidationError(name, "must be a number"))
		return 0, false
	}
	return v, true
}
