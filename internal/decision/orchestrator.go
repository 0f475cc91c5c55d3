// Package decision runs scoring attempts end to end and serves the
// review and read side built on top of them.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/oracle"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kestrel-decision")

// PolicyResolver resolves the policy decision for an applicant.
type PolicyResolver interface {
	Resolve(ctx context.Context, app *domain.Applicant) (rules.Resolution, error)
}

// ScoreSource produces an external score. Failures are returned, never panicked.
type ScoreSource interface {
	Score(ctx context.Context, app *domain.Applicant) (domain.ScoreResult, error)
}

// Deps are the collaborators of an Orchestrator. Cache, Bus, Oracle and
// Metrics are optional.
type Deps struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Policies PolicyResolver
	Oracle   ScoreSource
	Fallback *scoring.FallbackScorer
	Metrics  *metrics.Metrics
}

// Orchestrator runs one scoring attempt: intake, policy resolution, scoring,
// persistence and enrichment. Apart from invalid input and storage failures
// the caller always receives a decision.
type Orchestrator struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	policies PolicyResolver
	oracle   ScoreSource
	fallback *scoring.FallbackScorer
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(d Deps) *Orchestrator {
	fallback := d.Fallback
	if fallback == nil {
		fallback = scoring.NewFallbackScorer(domain.DefaultConfig().Fallback)
	}
	return &Orchestrator{
		repo:     d.Repo,
		cache:    d.Cache,
		bus:      d.Bus,
		policies: d.Policies,
		oracle:   d.Oracle,
		fallback: fallback,
		metrics:  d.Metrics,
		now:      time.Now,
	}
}

// Score runs a full attempt for app. Once started, an attempt is not
// abandoned when ctx is cancelled.
func (o *Orchestrator) Score(ctx context.Context, app *domain.Applicant) (*domain.DecisionView, error) {
	start := o.now()

	if err := app.Validate(); err != nil {
		o.metrics.IncrementScoring("invalid")
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "decision.Score")
	defer span.End()

	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = o.now().UTC()
	}
	app.Score = nil
	span.SetAttributes(attribute.String("applicant.id", app.ID))

	if err := o.repo.SaveApplicant(ctx, app); err != nil {
		return nil, o.persistenceFailure(span, app, "save applicant", err)
	}

	outcome := "scored"
	score, dec, err := o.evaluate(ctx, app)
	if err != nil {
		slog.Error("scoring attempt failed, recording fallback decision",
			"applicant_id", app.ID,
			"error", err,
		)
		outcome = "recovered"
		score = o.fallback.Score(app)
		dec = recoveryDecision()
		o.metrics.IncrementFallback("recovery")
	}

	dec.ID = uuid.New().String()
	dec.ApplicantID = app.ID
	dec.FinalDecision = domain.FinalDecisionPending
	dec.CreatedAt = o.now().UTC()

	if err := o.repo.SaveOutcome(ctx, app.ID, &score, dec); err != nil {
		return nil, o.persistenceFailure(span, app, "save outcome", err)
	}
	o.evict(ctx, app.CacheKey())
	app.Score = &score

	view, err := Enrich(app, &score, dec)
	if err != nil {
		return nil, err
	}

	o.publish(ctx, view)
	o.metrics.IncrementScoring(outcome)
	o.metrics.ObserveScore(score.Score, string(score.Bucket), o.now().Sub(start))

	span.SetAttributes(
		attribute.String("decision", string(dec.Decision)),
		attribute.String("provenance", string(score.Provenance)),
	)
	slog.Info("applicant scored",
		"applicant_id", app.ID,
		"decision_id", dec.ID,
		"decision", dec.Decision,
		"priority", dec.Priority,
		"score", score.Score,
		"risk_level", score.Bucket,
		"provenance", score.Provenance,
		"duration_ms", o.now().Sub(start).Milliseconds(),
	)
	return view, nil
}

// evaluate resolves policies and then scores. Any error or panic here sends
// the attempt down the recovery path.
func (o *Orchestrator) evaluate(ctx context.Context, app *domain.Applicant) (score domain.ScoreResult, dec *domain.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during scoring: %v", r)
		}
	}()

	if o.policies == nil {
		return score, nil, errors.New("no policy resolver configured")
	}
	res, err := o.policies.Resolve(ctx, app)
	if err != nil {
		return score, nil, fmt.Errorf("resolve policies: %w", err)
	}
	if res.AppliedPolicy != "" {
		o.metrics.IncrementPolicyMatch(res.AppliedPolicy, string(res.Decision))
	}

	dec = &domain.Decision{
		Decision:      res.Decision,
		Reason:        res.Reason,
		AppliedPolicy: res.AppliedPolicy,
		Priority:      res.Priority,
	}
	return o.score(ctx, app), dec, nil
}

// score asks the oracle and falls back to the local scorer on any failure.
func (o *Orchestrator) score(ctx context.Context, app *domain.Applicant) domain.ScoreResult {
	if o.oracle == nil {
		o.metrics.IncrementFallback("disabled")
		return o.fallback.Score(app)
	}

	res, err := o.callOracle(ctx, app)
	if err == nil {
		o.metrics.IncrementOracle("success")
		return res
	}

	reason := "error"
	var oerr *oracle.Error
	if errors.As(err, &oerr) {
		reason = oerr.Kind.String()
	}
	o.metrics.IncrementOracle(reason)
	o.metrics.IncrementFallback(reason)

	slog.Info("oracle unavailable, using fallback score",
		"applicant_id", app.ID,
		"reason", reason,
		"error", err,
	)
	return o.fallback.Score(app)
}

func (o *Orchestrator) callOracle(ctx context.Context, app *domain.Applicant) (res domain.ScoreResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("oracle panic: %v", r)
		}
	}()
	return o.oracle.Score(ctx, app)
}

func recoveryDecision() *domain.Decision {
	return &domain.Decision{
		Decision:      domain.ActionManualReview,
		Reason:        domain.FallbackReason,
		AppliedPolicy: domain.SystemFallbackPolicy,
		Priority:      domain.PriorityMedium,
	}
}

func (o *Orchestrator) persistenceFailure(span trace.Span, app *domain.Applicant, op string, err error) error {
	o.metrics.IncrementScoring("persistence_error")
	slog.Error("failed to persist scoring attempt",
		"applicant_id", app.ID,
		"op", op,
		"error", err,
	)
	wrapped := fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
	span.RecordError(wrapped)
	span.SetStatus(codes.Error, op)
	return wrapped
}

// evict drops the cached lookup for a company before the attempt returns.
func (o *Orchestrator) evict(ctx context.Context, key string) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Delete(ctx, key); err != nil {
		slog.Warn("failed to evict cached lookup", "key", key, "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, view *domain.DecisionView) {
	if o.bus == nil {
		return
	}

	event := domain.DecisionEvent{
		ApplicantID:      view.ApplicantID,
		DecisionID:       view.DecisionID,
		CompanyName:      view.CompanyName,
		TaxID:            view.TaxID,
		Decision:         view.Decision,
		ProcessingStatus: view.ProcessingStatus,
		Priority:         view.Priority,
		FinalDecision:    view.FinalDecision,
		RiskLevel:        view.RiskLevel,
		Provenance:       view.Provenance,
		Timestamp:        o.now().UnixMilli(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to encode decision event", "error", err)
		return
	}

	topics := []string{domain.TopicDecisionRecorded}
	if view.ProcessingStatus == domain.StatusEscalated {
		topics = append(topics, domain.TopicDecisionEscalated)
	}
	for _, topic := range topics {
		if err := o.bus.Publish(ctx, topic, payload); err != nil {
			slog.Warn("failed to publish decision event",
				"topic", topic,
				"applicant_id", view.ApplicantID,
				"error", err,
			)
		}
	}
}
