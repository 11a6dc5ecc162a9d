// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package experiments is the adaptive experiment allocation engine.
//
// The engine runs two-arm product experiments: it keeps a Bayesian belief
// about each arm's revenue per visitor, hands out sticky per-session arm
// assignments weighted by the current traffic split, recomputes the split as
// evidence accumulates, and promotes a winner or aborts when the safety
// budget runs out. It holds no background threads; every recompute happens
// on the request path that triggered it.
package experiments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/CanaryCommerce/CanaryOSS/pkg/validation"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/allocation"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/assignment"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/attribution"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/belief"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
)

var tracer = otel.Tracer("canary.experiments")

// loggerWithTrace returns a logger with trace context attached.
func loggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// errNoMutation aborts a store update without writing. Used to keep
// terminal records byte-identical on speculative evaluations.
var errNoMutation = errors.New("no mutation")

// Defaults applied by Activate when the caller leaves a field zero.
const (
	DefaultConfidenceThreshold = 0.95
	DefaultMinSampleSize       = 1000
)

// -----------------------------------------------------------------------------
// Deployment Hook
// -----------------------------------------------------------------------------

// DeploymentHook is the external side effect fired on terminal transitions.
//
// The engine only emits decisions; applying the winning variant to the
// storefront (or rolling a change back after an abort) belongs to the
// caller. Hook failures are logged, never propagated: the recorded decision
// is the source of truth.
type DeploymentHook interface {
	// Apply is invoked once when a winner is promoted.
	Apply(ctx context.Context, experimentID string, winner storage.Variant) error

	// Rollback is invoked once when an experiment aborts on budget.
	Rollback(ctx context.Context, experimentID string) error
}

// NopHook is the default no-op deployment hook.
type NopHook struct{}

func (NopHook) Apply(context.Context, string, storage.Variant) error { return nil }
func (NopHook) Rollback(context.Context, string) error               { return nil }

// LoggingHook logs terminal transitions instead of deploying anything.
type LoggingHook struct {
	Logger *slog.Logger
}

func (h LoggingHook) Apply(_ context.Context, experimentID string, winner storage.Variant) error {
	h.Logger.Info("deployment hook: apply winner",
		slog.String("experiment_id", experimentID),
		slog.String("winner", string(winner)))
	return nil
}

func (h LoggingHook) Rollback(_ context.Context, experimentID string) error {
	h.Logger.Info("deployment hook: rollback",
		slog.String("experiment_id", experimentID))
	return nil
}

// -----------------------------------------------------------------------------
// Engine
// -----------------------------------------------------------------------------

// Engine orchestrates the belief model, allocation policy, decision rule,
// assignment service and attribution pipeline over one store.
//
// Thread Safety: Safe for concurrent use. Counter updates and state
// transitions run inside store transactions; concurrent recomputes of the
// same experiment are collapsed through singleflight.
type Engine struct {
	store    storage.Store
	assigner *assignment.Assigner
	pipeline *attribution.Pipeline
	hook     DeploymentHook
	logger   *slog.Logger
	now      func() time.Time

	samples   int
	recompute singleflight.Group
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHook sets the deployment hook fired on promotion and abort.
func WithHook(hook DeploymentHook) EngineOption {
	return func(e *Engine) {
		if hook != nil {
			e.hook = hook
		}
	}
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
			e.pipeline = attribution.New(e.store, attribution.WithClock(now))
			e.assigner = assignment.New(e.store.Experiments(), e.store.Assignments(),
				assignment.WithClock(now))
		}
	}
}

// WithSampleCount overrides the Monte-Carlo sample count per recompute.
func WithSampleCount(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.samples = n
		}
	}
}

// NewEngine creates an engine over the given store.
func NewEngine(store storage.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		assigner: assignment.New(store.Experiments(), store.Assignments()),
		pipeline: attribution.New(store),
		hook:     NopHook{},
		logger:   slog.Default(),
		now:      time.Now,
		samples:  belief.DefaultSampleCount,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// -----------------------------------------------------------------------------
// Activation
// -----------------------------------------------------------------------------

// ActivateParams seed a new experiment.
type ActivateParams struct {
	ExperimentID string
	ProductID    string

	// BaselineConversionRate and AvgOrderValue are the merchant's prior
	// estimates, typically the product's historical rate and current price.
	BaselineConversionRate float64
	AvgOrderValue          float64

	RiskMode     storage.RiskMode
	SafetyBudget float64

	// ConfidenceThreshold and MinSampleSize default when zero.
	ConfidenceThreshold float64
	MinSampleSize       int64
}

// Activate seeds belief state and the cautious-start split, moving the
// experiment to active.
//
// Description:
//
//	A record that does not exist yet is created directly in the active
//	state. A pre-created draft record is transitioned in place. Any other
//	existing state is an InvalidState error: activation is one-way.
//
// Outputs:
//   - *storage.ExperimentRecord: The activated record.
//   - error: ErrInvalidState for non-draft records,
//     belief.ErrInvalidPriorEstimate for out-of-range estimates.
func (e *Engine) Activate(ctx context.Context, p ActivateParams) (*storage.ExperimentRecord, error) {
	ctx, span := tracer.Start(ctx, "experiments.Activate")
	defer span.End()
	span.SetAttributes(attribute.String("experiment_id", p.ExperimentID))

	prior, err := belief.NewPrior(p.BaselineConversionRate, p.AvgOrderValue)
	if err != nil {
		return nil, err
	}
	if p.SafetyBudget <= 0 {
		return nil, fmt.Errorf("%w: safety budget %v must be positive",
			belief.ErrInvalidPriorEstimate, p.SafetyBudget)
	}
	mode := p.RiskMode
	if mode == "" {
		mode = storage.RiskCautious
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown risk mode %q", ErrInvalidState, p.RiskMode)
	}
	threshold := p.ConfidenceThreshold
	if threshold == 0 {
		threshold = DefaultConfidenceThreshold
	}
	if err := validation.ValidateOpenFraction("confidence threshold", threshold); err != nil {
		return nil, fmt.Errorf("%w: %v", belief.ErrInvalidPriorEstimate, err)
	}
	minSample := p.MinSampleSize
	if minSample == 0 {
		minSample = DefaultMinSampleSize
	}

	now := e.now().UTC()
	rec := &storage.ExperimentRecord{
		ID:                  p.ExperimentID,
		ProductID:           p.ProductID,
		Status:              storage.StatusActive,
		Allocation:          allocation.StartSplit(mode),
		Belief:              prior,
		RiskMode:            mode,
		SafetyBudget:        p.SafetyBudget,
		ConfidenceThreshold: threshold,
		MinSampleSize:       minSample,
		ActivatedAt:         now,
		UpdatedAt:           now,
	}

	err = e.store.Experiments().Create(ctx, rec)
	if errors.Is(err, storage.ErrAlreadyExists) {
		// Pre-created record: only a draft may be activated.
		rec, err = e.store.Experiments().Update(ctx, p.ExperimentID, func(r *storage.ExperimentRecord) error {
			if r.Status != storage.StatusDraft {
				return fmt.Errorf("%w: experiment %s is %s, expected draft",
					ErrInvalidState, p.ExperimentID, r.Status)
			}
			r.Status = storage.StatusActive
			r.Allocation = allocation.StartSplit(mode)
			r.Belief = prior
			r.RiskMode = mode
			r.SafetyBudget = p.SafetyBudget
			r.ConfidenceThreshold = threshold
			r.MinSampleSize = minSample
			r.ActivatedAt = now
			r.UpdatedAt = now
			return nil
		})
	}
	if err != nil {
		return nil, err
	}

	allocationGauge.WithLabelValues(rec.ID, "control").Set(rec.Allocation.Control)
	allocationGauge.WithLabelValues(rec.ID, "variant").Set(rec.Allocation.Variant)
	loggerWithTrace(ctx, e.logger).Info("experiment activated",
		slog.String("experiment_id", rec.ID),
		slog.String("risk_mode", string(rec.RiskMode)),
		slog.Float64("control_allocation", rec.Allocation.Control),
		slog.Float64("variant_allocation", rec.Allocation.Variant))
	return rec, nil
}

// -----------------------------------------------------------------------------
// Assignment
// -----------------------------------------------------------------------------

// Assign returns the session's sticky arm for the experiment. Held-out
// sessions surface assignment.ErrSessionNotExposed; callers show control.
func (e *Engine) Assign(ctx context.Context, sessionID, experimentID string) (*storage.SessionAssignment, error) {
	ctx, span := tracer.Start(ctx, "experiments.Assign")
	defer span.End()

	a, existing, err := e.assigner.Assign(ctx, sessionID, experimentID)
	if errors.Is(err, assignment.ErrSessionNotExposed) {
		assignmentsTotal.WithLabelValues(string(storage.VariantControl), "held_out").Inc()
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	sticky := "new"
	if existing {
		sticky = "hit"
	}
	assignmentsTotal.WithLabelValues(string(a.Variant), sticky).Inc()
	return a, nil
}

// -----------------------------------------------------------------------------
// Event Ingestion
// -----------------------------------------------------------------------------

// RecordImpressions records a batch of impressions and recomputes the
// allocation of every touched experiment once.
func (e *Engine) RecordImpressions(ctx context.Context, impressions ...attribution.Impression) error {
	ctx, span := tracer.Start(ctx, "experiments.RecordImpressions")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(impressions)))

	touched, err := e.pipeline.RecordImpressions(ctx, impressions...)
	for _, imp := range impressions {
		impressionsTotal.WithLabelValues(imp.ExperimentID, string(imp.Variant)).Inc()
	}
	if err != nil {
		return err
	}
	return e.recomputeAll(ctx, touched)
}

// RecordConversions records a batch of conversions and recomputes the
// allocation of every touched experiment once.
func (e *Engine) RecordConversions(ctx context.Context, conversions ...attribution.Conversion) error {
	ctx, span := tracer.Start(ctx, "experiments.RecordConversions")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(conversions)))

	touched, err := e.pipeline.RecordConversions(ctx, conversions...)
	if err != nil {
		return err
	}
	for _, conv := range conversions {
		conversionsTotal.WithLabelValues(conv.ExperimentID, string(conv.Variant)).Inc()
		revenueTotal.WithLabelValues(conv.ExperimentID, string(conv.Variant)).Add(conv.Revenue)
	}
	return e.recomputeAll(ctx, touched)
}

// AttributeOrder attributes an order-level conversion to every experiment
// the session was assigned into, then recomputes each touched experiment.
func (e *Engine) AttributeOrder(ctx context.Context, sessionID string, revenue float64, dedupKey string) ([]attribution.Attribution, error) {
	ctx, span := tracer.Start(ctx, "experiments.AttributeOrder")
	defer span.End()

	results, err := e.pipeline.AttributeSession(ctx, sessionID, revenue, dedupKey)
	if err != nil {
		return results, err
	}
	touched := make([]string, 0, len(results))
	for _, r := range results {
		conversionsTotal.WithLabelValues(r.ExperimentID, string(r.Variant)).Inc()
		revenueTotal.WithLabelValues(r.ExperimentID, string(r.Variant)).Add(r.Revenue)
		touched = append(touched, r.ExperimentID)
	}
	return results, e.recomputeAll(ctx, touched)
}

func (e *Engine) recomputeAll(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := e.RecomputeAllocation(ctx, id); err != nil {
			return fmt.Errorf("recompute %s: %w", id, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Recompute
// -----------------------------------------------------------------------------

// RecomputeResult is the outcome of one allocation recompute.
type RecomputeResult struct {
	ExperimentID           string        `json:"experiment_id"`
	Allocation             storage.Split `json:"allocation"`
	ProbabilityVariantWins float64       `json:"probability_variant_wins"`
	ControlRPV             float64       `json:"control_rpv"`
	VariantRPV             float64       `json:"variant_rpv"`
	ExpectedLoss           float64       `json:"expected_loss"`
	ShouldStop             bool          `json:"should_stop"`
	Reasoning              string        `json:"reasoning"`
}

// RecomputeAllocation runs belief model and allocation policy and persists
// the resulting split.
//
// Description:
//
//	The posterior comparison runs inside the record's update transaction,
//	so it always sees a counter snapshot at least as fresh as the event
//	that triggered it. Concurrent recomputes of the same experiment
//	collapse into one through singleflight. Terminal experiments are
//	left untouched and report their frozen state. Promotion and abort are
//	NOT checked here; that is EvaluateDecision's job.
func (e *Engine) RecomputeAllocation(ctx context.Context, experimentID string) (*RecomputeResult, error) {
	v, err, _ := e.recompute.Do(experimentID, func() (any, error) {
		return e.recomputeOnce(ctx, experimentID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RecomputeResult), nil
}

func (e *Engine) recomputeOnce(ctx context.Context, experimentID string) (*RecomputeResult, error) {
	ctx, span := tracer.Start(ctx, "experiments.RecomputeAllocation")
	defer span.End()
	span.SetAttributes(attribute.String("experiment_id", experimentID))
	start := e.now()

	var out *RecomputeResult
	_, err := e.store.Experiments().Update(ctx, experimentID, func(r *storage.ExperimentRecord) error {
		if r.Status.Terminal() {
			out = &RecomputeResult{
				ExperimentID:           r.ID,
				Allocation:             r.Allocation,
				ProbabilityVariantWins: r.ProbabilityVariantWins,
				ExpectedLoss:           r.ExpectedLoss,
				Reasoning:              fmt.Sprintf("experiment is %s; allocation frozen", r.Status),
			}
			return errNoMutation
		}

		cmp, policy := e.evaluatePolicy(r)
		r.Allocation = policy.Allocation
		r.ProbabilityVariantWins = cmp.ProbabilityVariantWins
		r.ExpectedLoss = policy.ExpectedLoss
		r.UpdatedAt = e.now().UTC()
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
		}

		out = &RecomputeResult{
			ExperimentID:           r.ID,
			Allocation:             policy.Allocation,
			ProbabilityVariantWins: cmp.ProbabilityVariantWins,
			ControlRPV:             cmp.ControlRPV,
			VariantRPV:             cmp.VariantRPV,
			ExpectedLoss:           policy.ExpectedLoss,
			ShouldStop:             policy.ShouldStop,
			Reasoning:              policy.Reasoning,
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNoMutation) {
		recomputeLatency.WithLabelValues("error").Observe(e.now().Sub(start).Seconds())
		return nil, err
	}

	recomputeLatency.WithLabelValues("ok").Observe(e.now().Sub(start).Seconds())
	allocationGauge.WithLabelValues(experimentID, "control").Set(out.Allocation.Control)
	allocationGauge.WithLabelValues(experimentID, "variant").Set(out.Allocation.Variant)
	winProbabilityGauge.WithLabelValues(experimentID).Set(out.ProbabilityVariantWins)
	expectedLossGauge.WithLabelValues(experimentID).Set(out.ExpectedLoss)

	loggerWithTrace(ctx, e.logger).Debug("allocation recomputed",
		slog.String("experiment_id", experimentID),
		slog.Float64("probability_variant_wins", out.ProbabilityVariantWins),
		slog.Float64("control_allocation", out.Allocation.Control),
		slog.Float64("variant_allocation", out.Allocation.Variant),
		slog.Bool("should_stop", out.ShouldStop))
	return out, nil
}

// evaluatePolicy runs the pure belief + policy pipeline on a record
// snapshot. Must be called with the snapshot the caller intends to persist
// against.
func (e *Engine) evaluatePolicy(r *storage.ExperimentRecord) (belief.Comparison, allocation.PolicyResult) {
	cmp := belief.Compare(
		r.Belief.PosteriorFor(r.Control.Observations()),
		r.Belief.PosteriorFor(r.Variant.Observations()),
		belief.CompareOptions{Samples: e.samples},
	)
	policy := allocation.Evaluate(allocation.PolicyInput{
		Comparison:         cmp,
		RiskMode:           r.RiskMode,
		SafetyBudget:       r.SafetyBudget,
		ControlImpressions: r.Control.Impressions,
		VariantImpressions: r.Variant.Impressions,
	})
	return cmp, policy
}

// -----------------------------------------------------------------------------
// Decision
// -----------------------------------------------------------------------------

// DecisionResult is the outcome of one decision-rule evaluation.
type DecisionResult struct {
	ExperimentID string          `json:"experiment_id"`
	Promoted     bool            `json:"promoted"`
	Stopped      bool            `json:"stopped"`
	Winner       storage.Variant `json:"winner,omitempty"`
	Status       storage.Status  `json:"status"`
	Allocation   storage.Split   `json:"allocation"`
	Reasoning    string          `json:"reasoning"`
}

// EvaluateDecision runs the decision rule and applies any transition.
//
// Description:
//
//	Recomputes the posterior comparison and policy on the fresh counter
//	snapshot inside the update transaction, then evaluates promotion and
//	abort. A promotion routes 100% of traffic to the winner and completes
//	the experiment; an abort cancels it with the allocation frozen. On
//	either transition the deployment hook fires after the state is
//	durably recorded. Evaluating a terminal experiment is a no-op that
//	echoes the recorded outcome.
func (e *Engine) EvaluateDecision(ctx context.Context, experimentID string) (*DecisionResult, error) {
	ctx, span := tracer.Start(ctx, "experiments.EvaluateDecision")
	defer span.End()
	span.SetAttributes(attribute.String("experiment_id", experimentID))

	var out *DecisionResult
	_, err := e.store.Experiments().Update(ctx, experimentID, func(r *storage.ExperimentRecord) error {
		if r.Status.Terminal() {
			out = &DecisionResult{
				ExperimentID: r.ID,
				Promoted:     r.Status == storage.StatusCompleted,
				Stopped:      r.Status == storage.StatusCancelled,
				Winner:       r.Winner,
				Status:       r.Status,
				Allocation:   r.Allocation,
				Reasoning:    fmt.Sprintf("experiment already %s; no further transitions", r.Status),
			}
			return errNoMutation
		}

		cmp, policy := e.evaluatePolicy(r)
		d := allocation.Decide(allocation.DecisionInput{
			Status:                 r.Status,
			Allocation:             policy.Allocation,
			ProbabilityVariantWins: cmp.ProbabilityVariantWins,
			ConfidenceThreshold:    r.ConfidenceThreshold,
			TotalImpressions:       r.TotalImpressions(),
			MinSampleSize:          r.MinSampleSize,
			ShouldStop:             policy.ShouldStop,
		})

		now := e.now().UTC()
		r.PromotionCheckCount++
		r.ProbabilityVariantWins = cmp.ProbabilityVariantWins
		r.ExpectedLoss = policy.ExpectedLoss
		r.Status = d.Status
		r.Allocation = d.Allocation
		r.Winner = d.Winner
		r.UpdatedAt = now
		if d.Status.Terminal() {
			r.EndedAt = now
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
		}

		out = &DecisionResult{
			ExperimentID: r.ID,
			Promoted:     d.Promoted,
			Stopped:      d.Stopped,
			Winner:       d.Winner,
			Status:       d.Status,
			Allocation:   d.Allocation,
			Reasoning:    d.Reasoning,
		}
		return nil
	})

	switch {
	case errors.Is(err, errNoMutation):
		decisionsTotal.WithLabelValues("terminal").Inc()
		return out, nil
	case err != nil:
		return nil, err
	}

	logger := loggerWithTrace(ctx, e.logger)
	switch {
	case out.Promoted:
		decisionsTotal.WithLabelValues("promoted").Inc()
		logger.Info("experiment promoted",
			slog.String("experiment_id", experimentID),
			slog.String("winner", string(out.Winner)),
			slog.String("reasoning", out.Reasoning))
		if hookErr := e.hook.Apply(ctx, experimentID, out.Winner); hookErr != nil {
			logger.Error("deployment hook apply failed",
				slog.String("experiment_id", experimentID),
				slog.String("error", hookErr.Error()))
		}
	case out.Stopped:
		decisionsTotal.WithLabelValues("stopped").Inc()
		logger.Warn("experiment aborted on safety budget",
			slog.String("experiment_id", experimentID),
			slog.String("reasoning", out.Reasoning))
		if hookErr := e.hook.Rollback(ctx, experimentID); hookErr != nil {
			logger.Error("deployment hook rollback failed",
				slog.String("experiment_id", experimentID),
				slog.String("error", hookErr.Error()))
		}
	default:
		decisionsTotal.WithLabelValues("none").Inc()
	}

	allocationGauge.WithLabelValues(experimentID, "control").Set(out.Allocation.Control)
	allocationGauge.WithLabelValues(experimentID, "variant").Set(out.Allocation.Variant)
	return out, nil
}

// -----------------------------------------------------------------------------
// Read Surface
// -----------------------------------------------------------------------------

// ArmSummary is one arm's live posterior summary.
type ArmSummary struct {
	Impressions        int64   `json:"impressions"`
	Conversions        int64   `json:"conversions"`
	Revenue            float64 `json:"revenue"`
	MeanConversionRate float64 `json:"mean_conversion_rate"`
	RPV                float64 `json:"rpv"`
}

// ExperimentView is an experiment record with derived posterior summaries.
type ExperimentView struct {
	Record  *storage.ExperimentRecord `json:"record"`
	Control ArmSummary                `json:"control"`
	Variant ArmSummary                `json:"variant"`
}

// GetExperiment returns the record with live posterior summaries.
func (e *Engine) GetExperiment(ctx context.Context, experimentID string) (*ExperimentView, error) {
	rec, err := e.store.Experiments().Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	summarize := func(c storage.ArmCounters) ArmSummary {
		post := rec.Belief.PosteriorFor(c.Observations())
		return ArmSummary{
			Impressions:        c.Impressions,
			Conversions:        c.Conversions,
			Revenue:            c.Revenue,
			MeanConversionRate: post.MeanConversionRate(),
			RPV:                post.ReportedRPV(),
		}
	}
	return &ExperimentView{
		Record:  rec,
		Control: summarize(rec.Control),
		Variant: summarize(rec.Variant),
	}, nil
}

// ListExperiments returns all experiment records, newest first.
func (e *Engine) ListExperiments(ctx context.Context) ([]*storage.ExperimentRecord, error) {
	return e.store.Experiments().List(ctx)
}

// Events returns an experiment's audit trail in append order.
func (e *Engine) Events(ctx context.Context, experimentID string) ([]*storage.Event, error) {
	if _, err := e.store.Experiments().Get(ctx, experimentID); err != nil {
		return nil, err
	}
	return e.store.Events().ByExperiment(ctx, experimentID)
}

// Reconcile compares an experiment's counters against its event log.
func (e *Engine) Reconcile(ctx context.Context, experimentID string) (*attribution.ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "experiments.Reconcile")
	defer span.End()
	return e.pipeline.Reconcile(ctx, experimentID)
}
