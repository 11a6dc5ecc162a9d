// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package experiments

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all experiment engine routes with the router.
//
// Description:
//
//	Registers all /v1/experiments/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Lifecycle Endpoints:
//
//	POST /v1/experiments/:id/activate - Seed belief state and start
//	POST /v1/experiments/:id/recompute - Recompute allocation from evidence
//	POST /v1/experiments/:id/decision - Evaluate promotion/abort
//
// Traffic Endpoints:
//
//	POST /v1/experiments/:id/assign - Sticky session-to-arm assignment
//	POST /v1/experiments/:id/impressions - Record one impression
//	POST /v1/experiments/:id/impressions/batch - Record many impressions
//	POST /v1/experiments/:id/conversions - Record one conversion
//	POST /v1/experiments/:id/conversions/batch - Record many conversions
//	POST /v1/orders - Attribute an order across a session's experiments
//
// Read Endpoints:
//
//	GET /v1/experiments - List experiments
//	GET /v1/experiments/:id - Record with live posterior summaries
//	GET /v1/experiments/:id/events - Append-only audit trail
//	GET /v1/experiments/:id/reconcile - Counter vs event-log drift check
//
// Health Endpoints:
//
//	GET /v1/experiments/health - Service health
//	GET /v1/experiments/ready - Store readiness
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	experiments := rg.Group("/experiments")
	{
		experiments.GET("", handlers.HandleListExperiments)
		experiments.GET("/health", handlers.HandleHealth)
		experiments.GET("/ready", handlers.HandleReady)
		experiments.GET("/:id", handlers.HandleGetExperiment)
		experiments.GET("/:id/events", handlers.HandleEvents)
		experiments.GET("/:id/reconcile", handlers.HandleReconcile)

		experiments.POST("/:id/activate", handlers.HandleActivate)
		experiments.POST("/:id/assign", handlers.HandleAssign)
		experiments.POST("/:id/impressions", handlers.HandleRecordImpression)
		experiments.POST("/:id/impressions/batch", handlers.HandleRecordImpressionsBatch)
		experiments.POST("/:id/conversions", handlers.HandleRecordConversion)
		experiments.POST("/:id/conversions/batch", handlers.HandleRecordConversionsBatch)
		experiments.POST("/:id/recompute", handlers.HandleRecompute)
		experiments.POST("/:id/decision", handlers.HandleEvaluateDecision)
	}

	rg.POST("/orders", handlers.HandleAttributeOrder)
}
