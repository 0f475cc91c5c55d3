package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// PolicyStatusRequest is the request body for PATCH /policies/{id}/status.
type PolicyStatusRequest struct {
	Active *bool `json:"active"`
}

// ListPolicies handles GET /policies.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.PolicyFilter{
		Type:       domain.PolicyType(strings.ToUpper(strings.TrimSpace(q.Get("type")))),
		ActiveOnly: q.Get("all") != "true",
	}

	policies, err := h.repo.ListPolicies(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if policies == nil {
		policies = []*domain.RiskPolicy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"policies": policies,
		"count":    len(policies),
		"loaded":   h.engine.PoliciesCount(),
	})
}

// GetPolicy handles GET /policies/{id}.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.GetPolicy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreatePolicy handles POST /policies.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	// Policies are active unless the body says otherwise.
	p := domain.RiskPolicy{Active: true}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "invalid JSON request body")
		return
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Time{}

	if err := h.engine.ValidatePolicy(&p); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.repo.SavePolicy(r.Context(), &p); err != nil {
		writeError(w, r, err)
		return
	}

	h.reload(r)
	slog.Info("policy created", "policy_id", p.ID, "policy", p.Name, "action", p.Action)
	writeJSON(w, http.StatusCreated, &p)
}

// UpdatePolicy handles PUT /policies/{id}.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	existing, err := h.repo.GetPolicy(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// An omitted active flag keeps the stored one.
	p := domain.RiskPolicy{Active: existing.Active}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "invalid JSON request body")
		return
	}
	p.ID = id
	p.CreatedAt = existing.CreatedAt

	if err := h.engine.ValidatePolicy(&p); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.repo.SavePolicy(ctx, &p); err != nil {
		writeError(w, r, err)
		return
	}

	h.reload(r)
	slog.Info("policy updated", "policy_id", p.ID, "policy", p.Name)
	writeJSON(w, http.StatusOK, &p)
}

// SetPolicyStatus handles PATCH /policies/{id}/status.
func (h *Handler) SetPolicyStatus(w http.ResponseWriter, r *http.Request) {
	var req PolicyStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		writeBadRequest(w, "body must be {\"active\": true|false}")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.repo.SetPolicyActive(r.Context(), id, *req.Active); err != nil {
		writeError(w, r, err)
		return
	}

	h.reload(r)
	slog.Info("policy status changed", "policy_id", id, "active", *req.Active)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"active": *req.Active,
	})
}

// DeletePolicy handles DELETE /policies/{id}.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.DeletePolicy(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	h.reload(r)
	slog.Info("policy deleted", "policy_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadPolicies handles POST /policies/reload.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.Sync(r.Context(), h.repo)
	if err != nil {
		writeError(w, r, fmt.Errorf("reload policies: %w", err))
		return
	}

	slog.Info("policies reloaded", "count", rep.Loaded, "skipped", len(rep.Skipped))
	body := map[string]any{
		"message": "policies reloaded successfully",
		"count":   rep.Loaded,
	}
	if len(rep.Skipped) > 0 {
		body["skipped"] = rep.Skipped
	}
	writeJSON(w, http.StatusOK, body)
}

// reload refreshes the engine after a stored mutation. The mutation has
// already been committed, so a failure here is logged and the previous
// set keeps serving until the next reload.
func (h *Handler) reload(r *http.Request) {
	rep, err := h.engine.Sync(r.Context(), h.repo)
	if err != nil {
		slog.Error("failed to reload policies after change", "error", err)
		return
	}
	slog.Debug("policies auto-reloaded", "count", rep.Loaded, "skipped", rep.Skipped)
}
