// Package worker provides batch fan-out and async intake processing.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultAttemptTimeout = 30 * time.Second

// Worker consumes submitted applications from the event bus and scores them.
type Worker struct {
	bus     domain.EventBus
	scorer  Scorer
	timeout time.Duration

	mu  sync.Mutex
	sub domain.Subscription

	inflight  sync.WaitGroup
	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates an async worker. It does nothing until Start.
func NewWorker(bus domain.EventBus, scorer Scorer) *Worker {
	return &Worker{bus: bus, scorer: scorer, timeout: defaultAttemptTimeout}
}

// Start subscribes to domain.TopicApplicationSubmitted. Calling it twice is
// an error.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sub != nil {
		return fmt.Errorf("worker already started")
	}
	sub, err := w.bus.Subscribe(context.Background(), domain.TopicApplicationSubmitted, w.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicApplicationSubmitted, err)
	}
	w.sub = sub

	slog.Info("worker started", "topic", domain.TopicApplicationSubmitted)
	return nil
}

// Submit assigns an id to app when it has none and publishes it for async
// scoring. Invalid applicants are rejected before anything is published.
func Submit(ctx context.Context, bus domain.EventBus, app *domain.Applicant) (string, error) {
	if err := app.Validate(); err != nil {
		return "", err
	}
	if app.ID == "" {
		app.ID = uuid.NewString()
	}

	payload, err := json.Marshal(app)
	if err != nil {
		return "", fmt.Errorf("failed to marshal applicant: %w", err)
	}
	if err := bus.Publish(ctx, domain.TopicApplicationSubmitted, payload); err != nil {
		return "", err
	}
	return app.ID, nil
}

// handle scores one message. The attempt outlives the subscription so that
// Stop lets it finish.
func (w *Worker) handle(ctx context.Context, msg *domain.Message) error {
	w.inflight.Add(1)
	defer w.inflight.Done()

	var app domain.Applicant
	if err := json.Unmarshal(msg.Payload, &app); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse applicant message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	start := time.Now()
	view, err := w.scorer.Score(ctx, &app)
	if err != nil {
		w.failed.Add(1)
		slog.Error("async scoring failed",
			"message_id", msg.ID,
			"applicant_id", app.ID,
			"error", err,
		)
		return err
	}

	w.processed.Add(1)
	slog.Info("async applicant scored",
		"applicant_id", view.ApplicantID,
		"decision_id", view.DecisionID,
		"status", view.ProcessingStatus,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and waits for in-flight attempts.
func (w *Worker) Stop() error {
	w.mu.Lock()
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.inflight.Wait()

	slog.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats is a snapshot of the worker.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Stats{
		Topics:    []string{},
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
	}
	if w.sub != nil {
		s.SubscriptionCount = 1
		s.Topics = append(s.Topics, w.sub.Topic())
	}
	return s
}
