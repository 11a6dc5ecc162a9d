// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package experiments

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/CanaryCommerce/CanaryOSS/pkg/validation"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/assignment"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/attribution"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/belief"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
)

// ServiceVersion is the experiment engine service version.
const ServiceVersion = "0.1.0"

// Handlers contains the HTTP handlers for the experiment engine.
type Handlers struct {
	engine *Engine
}

// NewHandlers creates handlers for the given engine.
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// getOrCreateRequestID returns the inbound request ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// respondError maps engine errors onto the HTTP taxonomy.
func respondError(c *gin.Context, logger *slog.Logger, requestID string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case IsInvalidState(err):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, belief.ErrInvalidPriorEstimate),
		errors.Is(err, attribution.ErrUnknownVariant):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Debug("request rejected", "status", status, "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), RequestID: requestID})
}

func badRequest(c *gin.Context, requestID string, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), RequestID: requestID})
}

// experimentID extracts and validates the :id path parameter.
func experimentID(c *gin.Context, requestID string) (string, bool) {
	id := c.Param("id")
	if err := validation.ValidateID("experiment", id); err != nil {
		badRequest(c, requestID, err)
		return "", false
	}
	return id, true
}

// HandleActivate handles POST /v1/experiments/:id/activate.
//
// Request Body:
//
//	ActivateRequest
//
// Response:
//
//	200 OK: The activated ExperimentRecord
//	400 Bad Request: Validation error or out-of-range prior estimate
//	409 Conflict: Experiment exists and is not in draft
func (h *Handlers) HandleActivate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleActivate")

	id, ok := experimentID(c, requestID)
	if !ok {
		return
	}
	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, requestID, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		badRequest(c, requestID, err)
		return
	}

	rec, err := h.engine.Activate(c.Request.Context(), ActivateParams{
		ExperimentID:           id,
		ProductID:              req.ProductID,
		BaselineConversionRate: req.BaselineConversionRate,
		AvgOrderValue:          req.AvgOrderValue,
		RiskMode:               storage.RiskMode(req.RiskMode),
		SafetyBudget:           req.SafetyBudget,
		ConfidenceThreshold:    req.ConfidenceThreshold,
		MinSampleSize:          req.MinSampleSize,
	})
	if err != nil {
		respondError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleAssign handles POST /v1/experiments/:id/assign.
//
// Description:
//
//	Fail-safe by contract: an unknown or inactive experiment, or a
//	session in the held-out traffic fraction, yields a 200 response
//	carrying the control arm with assigned=false, so the caller never
//	blocks the page on assignment problems.
func (h *Handlers) HandleAssign(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAssign")

	id, ok := experimentID(c, requestID)
	if !ok {
		return
	}
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, requestID, err)
		return
	}
	if err := validation.ValidateID("session", req.SessionID); err != nil {
		badRequest(c, requestID, err)
		return
	}

	a, err := h.engine.Assign(c.Request.Context(), req.SessionID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || IsInvalidState(err) ||
			errors.Is(err, assignment.ErrSessionNotExposed) {
			c.JSON(http.StatusOK, AssignResponse{
				ExperimentID: id,
				Variant:      storage.VariantControl,
				Assigned:     false,
				Reason:       err.Error(),
			})
			return
		}
		respondError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, AssignResponse{
		ExperimentID: id,
		Variant:      a.Variant,
		Assigned:     true,
	})
}

// HandleRecordImpression handles POST /v1/experiments/:id/impressions.
func (h *Handlers) HandleRecordImpression(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRecordImpression")

	id, ok := experimentID(c, requestID)
	if !ok {
		return
	}
	var req ImpressionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, requestID, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		badRequest(c, requestID, err)
		return
	}

	err := h.engine.RecordImpressions(c.Request.Context(), attribution.Impression{
		ExperimentID: id,
		SessionID:    req.SessionID,
		Variant:      storage.Variant(req.Variant),
	})
	if err != nil {
		respondError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, RecordedResponse{Recorded: 1})
}

// HandleRecordImpressionsBatch handles POST /v1/experiments/:id/impressions/batch.
//
// The whole batch updates counters first; allocation recomputes once.
func (h *Handlers) HandleRecordImpressionsBatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRecordImpressionsBatch")

	id, ok := experimentID(c, requestID)
	if !ok {
		return
	}
	var req ImpressionsBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, requestID, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		badRequest(c, requestID, err)
		return
	}

	impressions := make([]attribution.Impression, 0, len(req.Impressions))
	for _, item := range req.Impressions {
		impressions = append(impressions, attribution.Impression{
			ExperimentID: id,
			SessionID:    item.SessionID,
			Variant:      storage.Variant(item.Variant),
		})
	}
	if err := h.engine.RecordImpressions(c.Request.Context(), impressions...); err != nil {
		respondError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, RecordedResponse{Recorded: len(impressions)})
}

// HandleRecordConversion handles POST /v1/experiments/:id/conversions.
func (h *Handlers) HandleRecordConversion(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRecordConversion")

	id, ok := experimentID(c, requestID)
	if !ok {
		return
	}
	var req ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, requestID, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		badRequest(c, requestID, err)
		return
	}

	err := h.engine.RecordConversions(c.Request.Context(), attribution.Conversion{
		ExperimentID: id,
		SessionID:    req.SessionID,
		Variant:      storage.Variant(req.Variant),
		Revenue:      req.Revenue,
		DedupKey:     req.DedupKey,
	})
	if err != nil {
		respondError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, RecordedResponse{Recorded: 1})
}

// HandleRecordConversionsBatch handles POST /v1/experiments/:id/conversions/batch.
func (h *Handlers) HandleRecordConversionsBatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRecordConversionsBatch")

	id, ok := experimentID(c, requestID)
	if !ok {
		return
	}
	var req ConversionsBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, requestID, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		badRequest(c, requestID, err)
		return
	}

	conversions := make([]attribution.Conversion, 0, len(req.Conversions))
	for _, item := range req.Conversions {
		conversions = append(conversions, attribution.Conversion{
			ExperimentID: id,
			SessionID:    item.SessionID,
			Variant:      storage.Variant(item.Variant),
			Revenue:      item.Revenue,
			DedupKey:     item.DedupKey,
		})
	}
	if err := h.engine.RecordConversions(c.Request.Context(), conversions...); err != nil {
		respondError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, RecordedResponse{Recorded: len(conversions)})
}

// HandleAttributeOrder handles POST /v1/orders.
//
// Attributes an observed order to every experiment the session holds an
// unexpired assignment for.
func (h *Handlers) HandleAttributeOrder(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAttributeOrder")

	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, requestID, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		badRequest(c, requestID, err)
		return
	}
	if err := validation.ValidateID("session", req.SessionID); err != nil {
		badRequest(c, requestID, err)
		return
	}

	results, err := h.engine.AttributeOrder(c.Request.Context(), req.SessionID, req.Revenue, req.DedupKey)
	if err != nil {
		respondError(c, logger, requestID, err)
		return
	}
	if results == nil {
		results = []attribution.Attribution{}
	}
	c.JSON(http.StatusOK, gin.H{"attributions": results})
}

// HandleRecompute handles POST /v1/experiments/:id/recompute.
func (h *Handlers) HandleRecompute(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRecompute")

	id, ok := experimentID(c, requestID)
	if !ok {
		return
	}
	result, err := h.engine.RecomputeAllocation(c.Request.Context(), id)
	if err != nil {
		respondError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleEvaluateDecision handles POST /v1/experiments/:id/decision.
func (h *Handlers) HandleEvaluateDecision(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEvaluateDecision")

	id, ok := experimentID(c, requestID)
	if !ok {
		return
	}
	result, err := h.engine.EvaluateDecision(c.Request.Context(), id)
	if err != nil {
		respondError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleGetExperiment handles GET /v1/experiments/:id.
func (h *Handlers) HandleGetExperiment(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetExperiment")

	id, ok := experimentID(c, requestID)
	if !ok {
		return
	}
	view, err := h.engine.GetExperiment(c.Request.Context(), id)
	if err != nil {
		respondError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// HandleListExperiments handles GET /v1/experiments.
func (h *Handlers) HandleListExperiments(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListExperiments")

	recs, err := h.engine.ListExperiments(c.Request.Context())
	if err != nil {
		respondError(c, logger, requestID, err)
		return
	}
	if recs == nil {
		recs = []*storage.ExperimentRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"experiments": recs})
}

// HandleEvents handles GET /v1/experiments/:id/events.
func (h *Handlers) HandleEvents(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEvents")

	id, ok := experimentID(c, requestID)
	if !ok {
		return
	}
	events, err := h.engine.Events(c.Request.Context(), id)
	if err != nil {
		respondError(c, logger, requestID, err)
		return
	}
	if events == nil {
		events = []*storage.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// HandleReconcile handles GET /v1/experiments/:id/reconcile.
func (h *Handlers) HandleReconcile(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleReconcile")

	id, ok := experimentID(c, requestID)
	if !ok {
		return
	}
	report, err := h.engine.Reconcile(c.Request.Context(), id)
	if err != nil {
		respondError(c, logger, requestID, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleHealth handles GET /v1/experiments/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "experiments",
		"version": ServiceVersion,
	})
}

// HandleReady handles GET /v1/experiments/ready.
//
// Ready means the store answers queries, not just that the process is up.
func (h *Handlers) HandleReady(c *gin.Context) {
	if _, err := h.engine.ListExperiments(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
