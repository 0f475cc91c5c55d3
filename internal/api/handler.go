package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// ApplicantRequest is the request body for scoring endpoints.
type ApplicantRequest struct {
	CompanyName      string  `json:"companyName"`
	TaxID            string  `json:"inn"`
	BusinessType     string  `json:"businessType,omitempty"`
	YearsInBusiness  int     `json:"yearsInBusiness"`
	AnnualRevenue    float64 `json:"annualRevenue"`
	EmployeeCount    int     `json:"employeeCount"`
	RequestedAmount  float64 `json:"requestedAmount"`
	HasExistingLoans *bool   `json:"hasExistingLoans,omitempty"`
	Industry         *string `json:"industry,omitempty"`
	CreditHistory    *int    `json:"creditHistory,omitempty"`
}

// Applicant converts the request into a fresh applicant record.
func (req ApplicantRequest) Applicant() *domain.Applicant {
	return &domain.Applicant{
		CompanyName:      strings.TrimSpace(req.CompanyName),
		TaxID:            strings.TrimSpace(req.TaxID),
		BusinessType:     req.BusinessType,
		YearsInBusiness:  req.YearsInBusiness,
		AnnualRevenue:    req.AnnualRevenue,
		EmployeeCount:    req.EmployeeCount,
		RequestedAmount:  req.RequestedAmount,
		HasExistingLoans: req.HasExistingLoans,
		Industry:         req.Industry,
		CreditHistory:    req.CreditHistory,
	}
}

// BatchRequest is the request body for POST /scores/batch.
type BatchRequest struct {
	Applicants []ApplicantRequest `json:"applicants"`
}

// ResolveRequest is the request body for PUT /decisions/{id}.
type ResolveRequest struct {
	FinalDecision string `json:"finalDecision"`
	ManagerNotes  string `json:"managerNotes,omitempty"`
	ResolvedBy    string `json:"resolvedBy,omitempty"`
}

// Score handles POST /scores.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	var req ApplicantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON request body")
		return
	}

	view, err := h.service.Score(r.Context(), req.Applicant())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ScoreBatch handles POST /scores/batch.
func (h *Handler) ScoreBatch(w http.ResponseWriter, r *http.Request) {
	if h.batch == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "batch scoring not available", Code: "UNAVAILABLE"})
		return
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON request body")
		return
	}
	if len(req.Applicants) == 0 {
		writeBadRequest(w, "applicants must not be empty")
		return
	}
	if h.maxBatch > 0 && len(req.Applicants) > h.maxBatch {
		writeBadRequest(w, fmt.Sprintf("batch exceeds %d applicants", h.maxBatch))
		return
	}

	apps := make([]*domain.Applicant, len(req.Applicants))
	for i, a := range req.Applicants {
		apps[i] = a.Applicant()
	}

	writeJSON(w, http.StatusOK, h.batch.ProcessBatch(r.Context(), apps))
}

// ScoreAsync handles POST /scores/async.
func (h *Handler) ScoreAsync(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "event bus not available", Code: "UNAVAILABLE"})
		return
	}

	var req ApplicantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON request body")
		return
	}

	id, err := worker.Submit(r.Context(), h.bus, req.Applicant())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"applicantId": id,
		"status":      "SUBMITTED",
	})
}

// ListScores handles GET /scores.
func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	filter := domain.ApplicantFilter{
		Bucket: domain.RiskBucket(strings.ToUpper(strings.TrimSpace(q.Get("bucket")))),
		Limit:  limit,
		Offset: offset,
	}
	views, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scores": views,
		"count":  len(views),
	})
}

// LookupScore handles GET /scores/lookup.
func (h *Handler) LookupScore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view, err := h.service.Lookup(r.Context(), q.Get("companyName"), q.Get("inn"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ScoreStats handles GET /scores/stats.
func (h *Handler) ScoreStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetScore handles GET /scores/{id}.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.View(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Recalculate handles POST /scores/{id}/recalculate.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Recalculate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PendingDecisions handles GET /decisions/pending.
func (h *Handler) PendingDecisions(w http.ResponseWriter, r *http.Request) {
	priority := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("priority")))
	decisions, err := h.service.Pending(r.Context(), priority)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if decisions == nil {
		decisions = []*domain.Decision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// ResolveDecision handles PUT /decisions/{id}.
func (h *Handler) ResolveDecision(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON request body")
		return
	}

	d, err := h.service.ResolveReview(r.Context(), chi.URLParam(r, "id"), req.FinalDecision, req.ManagerNotes, req.ResolvedBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func intParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
