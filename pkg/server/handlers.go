package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jskelly/gomend/pkg/approval"
	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
	"github.com/jskelly/gomend/pkg/engine"
)

type handlers struct {
	engine  *engine.Engine
	gateway *approval.Gateway
	logger  *slog.Logger
}

// recordView is the wire representation of a healing record. The chosen
// strategy is rendered through its kind-tagged envelope so clients can
// round-trip it.
type recordView struct {
	ID               string                   `json:"id"`
	TenantID         string                   `json:"tenant_id"`
	TestID           string                   `json:"test_id"`
	StepIndex        int                      `json:"step_index"`
	State            string                   `json:"state"`
	RiskTier         string                   `json:"risk_tier"`
	OldLocator       string                   `json:"old_locator"`
	NewLocator       string                   `json:"new_locator,omitempty"`
	Strategy         json.RawMessage          `json:"strategy,omitempty"`
	Score            *healing.ConfidenceScore `json:"score,omitempty"`
	Approver         string                   `json:"approver,omitempty"`
	ValidationReason string                   `json:"validation_reason,omitempty"`
	Superseded       bool                     `json:"superseded,omitempty"`
	RollbackDeadline *time.Time               `json:"rollback_deadline,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

func viewRecord(r *healing.HealingRecord) recordView {
	v := recordView{
		ID:               r.ID.String(),
		TenantID:         r.TenantID.String(),
		TestID:           r.TestID.String(),
		StepIndex:        r.StepIndex,
		State:            r.State.String(),
		RiskTier:         string(r.RiskTier),
		OldLocator:       r.OldLocator,
		NewLocator:       r.NewLocator(),
		Score:            r.Score,
		Approver:         r.Approver,
		ValidationReason: r.ValidationReason,
		Superseded:       r.Superseded,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if !r.RollbackDeadline.IsZero() {
		d := r.RollbackDeadline
		v.RollbackDeadline = &d
	}
	if r.Candidate != nil && r.Candidate.Strategy != nil {
		if raw, err := healing.MarshalStrategy(r.Candidate.Strategy); err == nil {
			v.Strategy = raw
		}
	}
	return v
}

func (h *handlers) submitFailure(w http.ResponseWriter, r *http.Request) {
	var report engine.FailureReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if r.URL.Query().Get("wait") == "1" {
		rec, err := h.engine.SubmitAndWait(r.Context(), report)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewRecord(rec))
		return
	}

	id, err := h.engine.Submit(r.Context(), report)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"record_id": id.String()})
}

func (h *handlers) listPending(w http.ResponseWriter, r *http.Request) {
	tenant := types.TenantID(r.URL.Query().Get("tenant"))
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.gateway.Pending(r.Context(), approval.PendingFilter{
		Tenant: tenant,
		Tier:   healing.RiskTier(r.URL.Query().Get("tier")),
		Limit:  limit,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	type pendingView struct {
		recordView
		ReturnedForReview bool `json:"returned_for_review"`
	}
	out := make([]pendingView, 0, len(items))
	for _, item := range items {
		out = append(out, pendingView{
			recordView:        viewRecord(item.Record),
			ReturnedForReview: item.ReturnedForReview,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": out})
}

func (h *handlers) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Get(r.Context(), types.RecordID(r.PathValue("id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRecord(rec))
}

func (h *handlers) decide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decision healing.Decision `json:"decision"`
		Actor    string           `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := h.gateway.Decide(r.Context(), types.RecordID(r.PathValue("id")), req.Decision, req.Actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRecord(rec))
}

func (h *handlers) rollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor string `json:"actor"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	rec, err := h.engine.Rollback(r.Context(), types.RecordID(r.PathValue("id")), req.Actor)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRecord(rec))
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	rec, err := h.engine.Cancel(r.Context(), types.RecordID(r.PathValue("id")), req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRecord(rec))
}

func (h *handlers) queryAudit(w http.ResponseWriter, r *http.Request) {
	tenant := types.TenantID(r.URL.Query().Get("tenant"))
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant query parameter is required")
		return
	}

	filter := healing.RecordFilter{
		Tenant: tenant,
		Test:   types.TestID(r.URL.Query().Get("test")),
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "until must be RFC 3339")
			return
		}
		filter.Until = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}

	entries, err := h.engine.Audit(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (h *handlers) recordAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.AuditForRecord(r.Context(), types.RecordID(r.PathValue("id")))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDomainError maps domain errors to HTTP statuses: missing records
// are 404, duplicate decisions and illegal transitions are 409, an expired
// rollback window is 410, validation failures are 422.
func (h *handlers) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, healing.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, healing.ErrDuplicateDecision), errors.Is(err, healing.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, healing.ErrRollbackWindowExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, healing.ErrValidationFailure):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
