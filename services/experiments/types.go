// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package experiments

import (
	"github.com/go-playground/validator/v10"

	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
)

// validate checks request structs beyond what JSON binding covers.
var validate = validator.New()

// -----------------------------------------------------------------------------
// Requests
// -----------------------------------------------------------------------------

// ActivateRequest seeds and starts an experiment.
type ActivateRequest struct {
	ProductID string `json:"product_id" validate:"required"`

	// BaselineConversionRate is the merchant's estimated conversion rate.
	BaselineConversionRate float64 `json:"baseline_conversion_rate" validate:"required,gt=0,lt=1"`

	// AvgOrderValue is the estimated average order value, typically the
	// product's current price.
	AvgOrderValue float64 `json:"avg_order_value" validate:"required,gt=0"`

	RiskMode     string  `json:"risk_mode" validate:"omitempty,oneof=cautious aggressive"`
	SafetyBudget float64 `json:"safety_budget" validate:"required,gt=0"`

	// ConfidenceThreshold and MinSampleSize default when omitted.
	ConfidenceThreshold float64 `json:"confidence_threshold" validate:"omitempty,gt=0.5,lt=1"`
	MinSampleSize       int64   `json:"min_sample_size" validate:"omitempty,gt=0"`
}

// AssignRequest asks for the session's arm.
type AssignRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

// ImpressionRequest records one exposure.
type ImpressionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Variant   string `json:"variant" validate:"required,oneof=control variant"`
}

// ImpressionsBatchRequest records many exposures in one call.
type ImpressionsBatchRequest struct {
	Impressions []ImpressionRequest `json:"impressions" validate:"required,min=1,max=10000,dive"`
}

// ConversionRequest records one conversion with observed revenue.
type ConversionRequest struct {
	SessionID string  `json:"session_id" validate:"required"`
	Variant   string  `json:"variant" validate:"required,oneof=control variant"`
	Revenue   float64 `json:"revenue" validate:"gte=0"`

	// DedupKey, when present, makes the conversion at-most-once.
	DedupKey string `json:"dedup_key"`
}

// ConversionsBatchRequest records many conversions in one call.
type ConversionsBatchRequest struct {
	Conversions []ConversionRequest `json:"conversions" validate:"required,min=1,max=10000,dive"`
}

// OrderRequest attributes an order to every experiment the session saw.
type OrderRequest struct {
	SessionID string  `json:"session_id" validate:"required"`
	Revenue   float64 `json:"revenue" validate:"gte=0"`
	DedupKey  string  `json:"dedup_key"`
}

// -----------------------------------------------------------------------------
// Responses
// -----------------------------------------------------------------------------

// AssignResponse is the arm a session should see.
//
// Assigned is false when the experiment is missing or not active; the
// caller shows control and does nothing else.
type AssignResponse struct {
	ExperimentID string          `json:"experiment_id"`
	Variant      storage.Variant `json:"variant"`
	Assigned     bool            `json:"assigned"`
	Reason       string          `json:"reason,omitempty"`
}

// RecordedResponse acknowledges an ingestion call.
type RecordedResponse struct {
	Recorded int `json:"recorded"`
}

// ErrorResponse is the error body for all endpoints.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
