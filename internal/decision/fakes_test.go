package decision

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// memRepo is an in-memory domain.Repository for orchestrator tests.
type memRepo struct {
	mu         sync.Mutex
	applicants map[string]*domain.Applicant
	order      []string
	decisions  map[string]*domain.Decision
	policies   map[string]*domain.RiskPolicy

	failApplicant error
	failOutcome   error
}

func newMemRepo() *memRepo {
	return &memRepo{
		applicants: make(map[string]*domain.Applicant),
		decisions:  make(map[string]*domain.Decision),
		policies:   make(map[string]*domain.RiskPolicy),
	}
}

func (r *memRepo) SaveApplicant(_ context.Context, app *domain.Applicant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failApplicant != nil {
		return r.failApplicant
	}
	c := *app
	r.applicants[app.ID] = &c
	r.order = append(r.order, app.ID)
	return nil
}

func (r *memRepo) GetApplicant(_ context.Context, id string) (*domain.Applicant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.applicants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *app
	return &c, nil
}

func (r *memRepo) FindLatestApplicant(_ context.Context, companyName, taxID string) (*domain.Applicant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		app := r.applicants[r.order[i]]
		if app.CompanyName == companyName && app.TaxID == taxID && app.Score != nil {
			c := *app
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) ListApplicants(_ context.Context, f domain.ApplicantFilter) ([]*domain.Applicant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Applicant
	for i := len(r.order) - 1; i >= 0; i-- {
		app := r.applicants[r.order[i]]
		if app.Score == nil || (f.Bucket != "" && app.Score.Bucket != f.Bucket) {
			continue
		}
		c := *app
		out = append(out, &c)
	}
	return out, nil
}

func (r *memRepo) SaveOutcome(_ context.Context, applicantID string, score *domain.ScoreResult, d *domain.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOutcome != nil {
		return r.failOutcome
	}
	app, ok := r.applicants[applicantID]
	if !ok {
		return domain.ErrNotFound
	}
	sc := *score
	app.Score = &sc
	dc := *d
	r.decisions[d.ID] = &dc
	return nil
}

func (r *memRepo) GetDecision(_ context.Context, id string) (*domain.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.decisions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (r *memRepo) GetDecisionByApplicant(_ context.Context, applicantID string) (*domain.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.decisions {
		if d.ApplicantID == applicantID {
			c := *d
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) ListPendingDecisions(_ context.Context, priority string) ([]*domain.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Decision
	for _, d := range r.decisions {
		if d.Pending() && (priority == "" || d.Priority == priority) {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) ResolveDecision(_ context.Context, id string, res domain.Resolution) (*domain.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.decisions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !d.Pending() {
		return nil, domain.ErrAlreadyResolved
	}
	at := res.ResolvedAt
	d.FinalDecision = res.FinalDecision
	d.ManagerNotes = res.ManagerNotes
	d.ResolvedBy = res.ResolvedBy
	d.ResolvedAt = &at
	c := *d
	return &c, nil
}

func (r *memRepo) SavePolicy(_ context.Context, p *domain.RiskPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.ID] = p
	return nil
}

func (r *memRepo) GetPolicy(_ context.Context, id string) (*domain.RiskPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (r *memRepo) ListPolicies(_ context.Context, _ domain.PolicyFilter) ([]*domain.RiskPolicy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.RiskPolicy
	for _, p := range r.policies {
		out = append(out, p)
	}
	return out, nil
}

func (r *memRepo) SetPolicyActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Active = active
	return nil
}

func (r *memRepo) DeletePolicy(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.policies, id)
	return nil
}

func (r *memRepo) Stats(_ context.Context) (*domain.ScoreStats, error) {
	return &domain.ScoreStats{Total: int64(len(r.applicants))}, nil
}

func (r *memRepo) Ping(context.Context) error { return nil }
func (r *memRepo) Close() error               { return nil }

func (r *memRepo) decisionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.decisions)
}

// mapCache is a minimal domain.Cache that records deletions.
type mapCache struct {
	mu      sync.Mutex
	views   map[string]*domain.DecisionView
	deleted []string
}

func newMapCache() *mapCache {
	return &mapCache{views: make(map[string]*domain.DecisionView)}
}

func (c *mapCache) Get(context.Context, string) ([]byte, error)              { return nil, nil }
func (c *mapCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (c *mapCache) IncrementCounter(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}
func (c *mapCache) Cleanup(context.Context) (int, error) { return 0, nil }
func (c *mapCache) Ping(context.Context) error           { return nil }
func (c *mapCache) Close() error                         { return nil }

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, key)
	c.deleted = append(c.deleted, key)
	return nil
}

func (c *mapCache) GetView(_ context.Context, key string) (*domain.DecisionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.views[key], nil
}

func (c *mapCache) SetView(_ context.Context, key string, v *domain.DecisionView, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[key] = v
	return nil
}

// recordingBus captures published topics.
type recordingBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *recordingBus) Publish(_ context.Context, topic string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) Ping(context.Context) error { return nil }
func (b *recordingBus) Close() error               { return nil }

func (b *recordingBus) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.topics...)
}

// stubResolver returns a fixed resolution, error or panic.
type stubResolver struct {
	res   rules.Resolution
	err   error
	panic bool
	calls *[]string
}

func (s stubResolver) Resolve(context.Context, *domain.Applicant) (rules.Resolution, error) {
	if s.calls != nil {
		*s.calls = append(*s.calls, "policies")
	}
	if s.panic {
		panic("resolver exploded")
	}
	return s.res, s.err
}

// stubOracle returns a fixed score, error or panic.
type stubOracle struct {
	res   domain.ScoreResult
	err   error
	panic bool
	calls *[]string
}

func (s stubOracle) Score(context.Context, *domain.Applicant) (domain.ScoreResult, error) {
	if s.calls != nil {
		*s.calls = append(*s.calls, "oracle")
	}
	if s.panic {
		panic("oracle exploded")
	}
	return s.res, s.err
}
