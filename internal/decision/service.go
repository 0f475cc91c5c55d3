package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service is the API-facing facade over the orchestrator and the stores.
type Service struct {
	orch    *Orchestrator
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	viewTTL time.Duration
	now     func() time.Time
}

// NewService creates a service. cache and bus may be nil.
func NewService(orch *Orchestrator, repo domain.Repository, cache domain.Cache, bus domain.EventBus, viewTTL time.Duration) *Service {
	return &Service{
		orch:    orch,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		viewTTL: viewTTL,
		now:     time.Now,
	}
}

// Score runs one scoring attempt.
func (s *Service) Score(ctx context.Context, app *domain.Applicant) (*domain.DecisionView, error) {
	return s.orch.Score(ctx, app)
}

// ResolveReview records a reviewer's final decision. A decision can be
// resolved once; later attempts return ErrAlreadyResolved.
func (s *Service) ResolveReview(ctx context.Context, decisionID, finalDecision, notes, resolvedBy string) (*domain.Decision, error) {
	finalDecision = strings.TrimSpace(finalDecision)
	if finalDecision == "" {
		return nil, fmt.Errorf("%w: finalDecision is required", domain.ErrInvalidInput)
	}
	if strings.EqualFold(finalDecision, domain.FinalDecisionPending) {
		return nil, fmt.Errorf("%w: finalDecision cannot be %s", domain.ErrInvalidInput, domain.FinalDecisionPending)
	}

	d, err := s.repo.ResolveDecision(ctx, decisionID, domain.Resolution{
		FinalDecision: finalDecision,
		ManagerNotes:  notes,
		ResolvedBy:    resolvedBy,
		ResolvedAt:    s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	app, err := s.repo.GetApplicant(ctx, d.ApplicantID)
	if err != nil {
		slog.Warn("resolved decision has no applicant", "decision_id", d.ID, "error", err)
	} else if s.cache != nil {
		if err := s.cache.Delete(ctx, app.CacheKey()); err != nil {
			slog.Warn("failed to evict cached lookup", "key", app.CacheKey(), "error", err)
		}
	}

	s.publishResolved(ctx, d, app)
	slog.Info("review resolved",
		"decision_id", d.ID,
		"applicant_id", d.ApplicantID,
		"final_decision", d.FinalDecision,
		"resolved_by", d.ResolvedBy,
	)
	return d, nil
}

// View returns the decision view of a stored attempt.
func (s *Service) View(ctx context.Context, applicantID string) (*domain.DecisionView, error) {
	app, err := s.repo.GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, app)
}

func (s *Service) view(ctx context.Context, app *domain.Applicant) (*domain.DecisionView, error) {
	if app.Score == nil {
		return nil, fmt.Errorf("%w: applicant %s has no score", domain.ErrNotFound, app.ID)
	}

	d, err := s.repo.GetDecisionByApplicant(ctx, app.ID)
	if errors.Is(err, domain.ErrNotFound) {
		d = nil
	} else if err != nil {
		return nil, err
	}
	return Enrich(app, app.Score, d)
}

// Lookup returns the latest attempt for a company and tax id, read through the cache.
func (s *Service) Lookup(ctx context.Context, companyName, taxID string) (*domain.DecisionView, error) {
	if strings.TrimSpace(companyName) == "" || strings.TrimSpace(taxID) == "" {
		return nil, fmt.Errorf("%w: companyName and inn are required", domain.ErrInvalidInput)
	}
	key := domain.LookupKey(companyName, taxID)

	if s.cache != nil {
		cached, err := s.cache.GetView(ctx, key)
		if err != nil {
			slog.Warn("cache read failed", "key", key, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	app, err := s.repo.FindLatestApplicant(ctx, companyName, taxID)
	if err != nil {
		return nil, err
	}
	view, err := s.view(ctx, app)
	if err != nil {
		return nil, err
	}

	if s.cache == nil {
		return view, nil
	}
	if err := s.cache.SetView(ctx, key, view, s.viewTTL); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
		return view, nil
	}

	// A newer attempt may have been stored and evicted between the read and
	// the fill; never leave the older view cached behind it.
	latest, err := s.repo.FindLatestApplicant(ctx, companyName, taxID)
	if err != nil || latest.ID == app.ID {
		return view, nil
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		slog.Warn("cache delete failed", "key", key, "error", err)
	}
	return s.view(ctx, latest)
}

// List returns a page of scored applicants, newest first.
func (s *Service) List(ctx context.Context, filter domain.ApplicantFilter) ([]*domain.DecisionView, error) {
	if filter.Bucket != "" && !filter.Bucket.Valid() {
		return nil, fmt.Errorf("%w: unknown risk level %q", domain.ErrInvalidInput, filter.Bucket)
	}

	apps, err := s.repo.ListApplicants(ctx, filter)
	if err != nil {
		return nil, err
	}

	views := make([]*domain.DecisionView, 0, len(apps))
	for _, app := range apps {
		if app.Score == nil {
			continue
		}
		v, err := s.view(ctx, app)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Pending returns decisions awaiting review, optionally for one priority.
func (s *Service) Pending(ctx context.Context, priority string) ([]*domain.Decision, error) {
	return s.repo.ListPendingDecisions(ctx, strings.TrimSpace(priority))
}

// Stats summarizes stored attempts.
func (s *Service) Stats(ctx context.Context) (*domain.ScoreStats, error) {
	return s.repo.Stats(ctx)
}

// Recalculate scores a stored applicant again as a new attempt.
// The original attempt is left untouched.
func (s *Service) Recalculate(ctx context.Context, applicantID string) (*domain.DecisionView, error) {
	app, err := s.repo.GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	return s.orch.Score(ctx, app.Clone())
}

func (s *Service) publishResolved(ctx context.Context, d *domain.Decision, app *domain.Applicant) {
	if s.bus == nil {
		return
	}

	event := domain.DecisionEvent{
		ApplicantID:      d.ApplicantID,
		DecisionID:       d.ID,
		Decision:         d.Decision,
		ProcessingStatus: StatusFor(d.Decision),
		Priority:         d.Priority,
		FinalDecision:    d.FinalDecision,
		Timestamp:        s.now().UnixMilli(),
	}
	if app != nil {
		event.CompanyName = app.CompanyName
		event.TaxID = app.TaxID
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.TopicReviewResolved, payload); err != nil {
		slog.Warn("failed to publish review event", "decision_id", d.ID, "error", err)
	}
}
