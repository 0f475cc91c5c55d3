package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrDeadlineExceeded marks batch items that were never started because
// the batch deadline passed first.
var ErrDeadlineExceeded = errors.New("batch deadline exceeded")

// Scorer runs one scoring attempt.
type Scorer interface {
	Score(ctx context.Context, app *domain.Applicant) (*domain.DecisionView, error)
}

// Coordinator fans a batch out over a bounded pool of scoring attempts.
type Coordinator struct {
	scorer   Scorer
	workers  int
	deadline time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewCoordinator creates a batch coordinator. A zero deadline means none.
func NewCoordinator(scorer Scorer, cfg domain.BatchConfig, m *metrics.Metrics) *Coordinator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Coordinator{
		scorer:   scorer,
		workers:  workers,
		deadline: cfg.Deadline,
		metrics:  m,
		now:      time.Now,
	}
}

type itemOutcome struct {
	view *domain.DecisionView
	err  error
}

// ProcessBatch scores every applicant and waits for all of them. A failing
// item never aborts the batch; it becomes one failure entry. Successes and
// failures keep the input order.
func (c *Coordinator) ProcessBatch(ctx context.Context, apps []*domain.Applicant) *domain.BatchReport {
	start := c.now()
	report := &domain.BatchReport{
		BatchID:   uuid.New().String(),
		Total:     len(apps),
		Successes: []domain.DecisionView{},
		Failures:  []domain.BatchFailure{},
		StartedAt: start.UTC(),
	}

	dispatch := ctx
	if c.deadline > 0 {
		var cancel context.CancelFunc
		dispatch, cancel = context.WithTimeout(ctx, c.deadline)
		defer cancel()
	}

	outcomes := make([]itemOutcome, len(apps))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, app := range apps {
		g.Go(func() error {
			if err := dispatch.Err(); err != nil {
				outcomes[i].err = fmt.Errorf("%w: %w", ErrDeadlineExceeded, err)
				return nil
			}
			if app == nil {
				outcomes[i].err = fmt.Errorf("%w: applicant is required", domain.ErrInvalidInput)
				return nil
			}
			// Started attempts run to completion.
			view, err := c.scorer.Score(ctx, app)
			outcomes[i] = itemOutcome{view: view, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, out := range outcomes {
		if out.err != nil {
			report.Failures = append(report.Failures, failureFor(i, apps[i], out.err))
			continue
		}
		report.Successes = append(report.Successes, *out.view)
	}

	report.Status = domain.BatchCompleted
	report.CompletedAt = c.now().UTC()
	report.DurationMs = report.CompletedAt.Sub(report.StartedAt).Milliseconds()

	c.metrics.ObserveBatch(report.Total, len(report.Failures))
	slog.Info("batch processed",
		"batch_id", report.BatchID,
		"total", report.Total,
		"successes", len(report.Successes),
		"failures", len(report.Failures),
		"duration_ms", report.DurationMs,
	)
	return report
}

func failureFor(index int, app *domain.Applicant, err error) domain.BatchFailure {
	f := domain.BatchFailure{Index: index, Error: err.Error()}
	if app != nil {
		f.CompanyName = app.CompanyName
		f.TaxID = app.TaxID
	}
	return f
}
