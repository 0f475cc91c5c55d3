// Package oracle is the HTTP client for the external scoring service.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	scorePath    = "/api/v1/score"
	maxBodyBytes = 1 << 20
	maxRawScore  = 1000
)

var (
	scoreKeys  = []string{"score", "Score", "final_score"}
	signalKeys = []string{"decision", "Decision", "risk_level", "status"}
)

var tracer = otel.Tracer("kestrel-oracle")

// Client calls the scoring oracle. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	retry   RetryPolicy
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryPolicy replaces the policy derived from the config.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// NewClient creates an oracle client from config.
func NewClient(cfg domain.OracleConfig, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    newHTTPClient(cfg),
		retry:   DefaultRetryPolicy(cfg),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newHTTPClient(cfg domain.OracleConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.ResponseHeaderTimeout = cfg.ReadTimeout
	transport.MaxIdleConnsPerHost = 32

	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
		Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
	}
}

type scoreRequest struct {
	CompanyName      string  `json:"companyName"`
	INN              string  `json:"inn"`
	BusinessType     string  `json:"businessType"`
	YearsInBusiness  int     `json:"yearsInBusiness"`
	AnnualRevenue    float64 `json:"annualRevenue"`
	EmployeeCount    int     `json:"employeeCount"`
	RequestedAmount  float64 `json:"requestedAmount"`
	HasExistingLoans *bool   `json:"hasExistingLoans"`
	Industry         *string `json:"industry"`
	CreditHistory    *int    `json:"creditHistory"`
}

func newScoreRequest(app *domain.Applicant) scoreRequest {
	return scoreRequest{
		CompanyName:      app.CompanyName,
		INN:              app.TaxID,
		BusinessType:     app.BusinessType,
		YearsInBusiness:  app.YearsInBusiness,
		AnnualRevenue:    app.AnnualRevenue,
		EmployeeCount:    app.EmployeeCount,
		RequestedAmount:  app.RequestedAmount,
		HasExistingLoans: app.HasExistingLoans,
		Industry:         app.Industry,
		CreditHistory:    app.CreditHistory,
	}
}

// Score asks the oracle for a score. Transport failures are retried per the
// RetryPolicy; any other failure returns immediately. Every failure is an *Error.
func (c *Client) Score(ctx context.Context, app *domain.Applicant) (domain.ScoreResult, error) {
	if app == nil {
		return domain.ScoreResult{}, &Error{Kind: KindPayloadInvalid, Err: errors.New("applicant is required")}
	}

	ctx, span := tracer.Start(ctx, "oracle.Score")
	defer span.End()

	body, err := json.Marshal(newScoreRequest(app))
	if err != nil {
		return domain.ScoreResult{}, c.fail(span, &Error{Kind: KindPayloadInvalid, Err: fmt.Errorf("encode request: %w", err)})
	}

	maxAttempts := c.retry.attempts()
	b := c.retry.backOff()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.do(ctx, body)
		if err == nil {
			span.SetAttributes(attribute.Int("oracle.attempts", attempt))
			res, perr := c.parse(resp, attempt)
			if perr != nil {
				return domain.ScoreResult{}, c.fail(span, perr)
			}
			return res, nil
		}

		lastErr = err
		slog.Warn("oracle call failed",
			"applicant_id", app.ID,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err,
		)

		if attempt == maxAttempts || !c.retry.retryable(err) {
			return domain.ScoreResult{}, c.fail(span, &Error{Kind: KindUnavailable, Attempts: attempt, Err: err})
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return domain.ScoreResult{}, c.fail(span, &Error{Kind: KindUnavailable, Attempts: attempt, Err: err})
		}
		if serr := sleep(ctx, delay); serr != nil {
			return domain.ScoreResult{}, c.fail(span, &Error{Kind: KindUnavailable, Attempts: attempt, Err: serr})
		}
	}

	return domain.ScoreResult{}, c.fail(span, &Error{Kind: KindUnavailable, Attempts: maxAttempts, Err: lastErr})
}

func (c *Client) do(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+scorePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.http.Do(req)
}

func (c *Client) parse(resp *http.Response, attempt int) (domain.ScoreResult, *Error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return domain.ScoreResult{}, &Error{
			Kind:       KindUnavailable,
			Attempts:   attempt,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.ScoreResult{}, &Error{Kind: KindUnavailable, Attempts: attempt, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return domain.ScoreResult{}, &Error{Kind: KindUnavailable, Attempts: attempt, StatusCode: resp.StatusCode, Err: errors.New("empty response body")}
	}

	score, signal, err := decodePayload(raw)
	if err != nil {
		return domain.ScoreResult{}, &Error{Kind: KindPayloadInvalid, Attempts: attempt, StatusCode: resp.StatusCode, Err: err}
	}

	return domain.ScoreResult{
		Score:      float64(score) / maxRawScore,
		Bucket:     scoring.BucketForSignal(signal),
		Provenance: domain.ProvenanceOracle,
		Signal:     signal,
		ComputedAt: c.now().UTC(),
	}, nil
}

// decodePayload extracts the raw score and signal. The first alias present
// with a non-null value decides; a mistyped value is not skipped in favour
// of a later alias.
func decodePayload(raw []byte) (int64, string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return 0, "", fmt.Errorf("decode response: %w", err)
	}

	scoreVal, scoreKey := firstPresent(payload, scoreKeys)
	if scoreKey == "" {
		return 0, "", errors.New("response has no score")
	}
	score, err := integralScore(scoreVal)
	if err != nil {
		return 0, "", fmt.Errorf("field %s: %w", scoreKey, err)
	}

	signalVal, signalKey := firstPresent(payload, signalKeys)
	if signalKey == "" {
		return 0, "", errors.New("response has no decision")
	}
	signal, ok := signalVal.(string)
	if !ok {
		return 0, "", fmt.Errorf("field %s: expected string", signalKey)
	}

	return score, signal, nil
}

func firstPresent(payload map[string]any, keys []string) (any, string) {
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			return v, k
		}
	}
	return nil, ""
}

func integralScore(v any) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("expected number, got %T", v)
	}

	score, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("expected integer, got %s", n)
		}
		score = int64(f)
	}
	if score < 0 || score > maxRawScore {
		return 0, fmt.Errorf("score %d outside 0..%d", score, maxRawScore)
	}
	return score, nil
}

func (c *Client) fail(span trace.Span, e *Error) *Error {
	span.SetAttributes(
		attribute.String("oracle.failure", e.Kind.String()),
		attribute.Int("oracle.attempts", e.Attempts),
	)
	span.RecordError(e)
	span.SetStatus(codes.Error, e.Kind.String())
	return e
}
