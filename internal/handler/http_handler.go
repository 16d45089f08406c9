package handler

import (
	"encoding/json"
	"net/http"

	"github.com/veyra-ai/be-cost-approvals/internal/errors"
	"github.com/veyra-ai/be-cost-approvals/internal/hierarchy"
	"github.com/veyra-ai/be-cost-approvals/internal/logger"
	"github.com/veyra-ai/be-cost-approvals/internal/service"
)

// HTTPHandler exposes the workflow engine over JSON. The actor's identity and
// role arrive in X-User-ID / X-User-Role headers, set by the platform gateway
// after authentication.
type HTTPHandler struct {
	engine *service.WorkflowEngine
	log    *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(engine *service.WorkflowEngine, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{engine: engine, log: log}
}

// SubmitCostTable handles cost-table submission requests.
func (h *HTTPHandler) SubmitCostTable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SupplierID     string `json:"supplier_id"`
		Category       string `json:"category"`
		Currency       string `json:"currency"`
		EffectiveDate  string `json:"effective_date"`
		MonetaryImpact int64  `json:"monetary_impact_cents"`
		LineItemCount  int    `json:"line_item_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.engine.Submit(r.Context(), &service.SubmitRequest{
		SupplierID:     req.SupplierID,
		Category:       req.Category,
		Currency:       req.Currency,
		EffectiveDate:  req.EffectiveDate,
		MonetaryImpact: req.MonetaryImpact,
		LineItemCount:  req.LineItemCount,
		SubmittedBy:    r.Header.Get("X-User-ID"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, rec)
}

// Decide handles approve/reject requests.
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RequestID string  `json:"request_id"`
		Decision  string  `json:"decision"`
		Comment   *string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.engine.Decide(r.Context(), &service.DecideRequest{
		RequestID: req.RequestID,
		ActorID:   r.Header.Get("X-User-ID"),
		ActorRole: hierarchy.Role(r.Header.Get("X-User-Role")),
		Decision:  req.Decision,
		Comment:   req.Comment,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"record_status": result.RecordStatus,
		"complete":      result.Complete,
		"next_request":  result.NextRequest,
	})
}

// Resubmit handles resubmission of a rejected cost table.
func (h *HTTPHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RecordID       string `json:"record_id"`
		Category       string `json:"category"`
		Currency       string `json:"currency"`
		EffectiveDate  string `json:"effective_date"`
		MonetaryImpact int64  `json:"monetary_impact_cents"`
		LineItemCount  int    `json:"line_item_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.engine.Resubmit(r.Context(), req.RecordID, &service.ResubmitRequest{
		Category:       req.Category,
		Currency:       req.Currency,
		EffectiveDate:  req.EffectiveDate,
		MonetaryImpact: req.MonetaryImpact,
		LineItemCount:  req.LineItemCount,
		ResubmittedBy:  r.Header.Get("X-User-ID"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

// Delegate hands a pending request to another reviewer.
func (h *HTTPHandler) Delegate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RequestID  string `json:"request_id"`
		DelegateTo string `json:"delegate_to"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.engine.Delegate(r.Context(), &service.DelegateRequest{
		RequestID:  req.RequestID,
		ActorID:    r.Header.Get("X-User-ID"),
		ActorRole:  hierarchy.Role(r.Header.Get("X-User-Role")),
		DelegateTo: req.DelegateTo,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "delegated"})
}

// ListPending returns the pending requests the caller's role may act on.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requests, err := h.engine.ListPending(r.Context(), hierarchy.Role(r.Header.Get("X-User-Role")))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"total":    len(requests),
	})
}

// ListOverdue returns pending requests past their due date.
func (h *HTTPHandler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requests, err := h.engine.ListOverdue(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"total":    len(requests),
	})
}

// History returns a record's audit trail, oldest first.
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recordID := r.URL.Query().Get("record_id")
	if recordID == "" {
		http.Error(w, "Record ID is required", http.StatusBadRequest)
		return
	}

	entries, err := h.engine.History(r.Context(), recordID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// GetWorkflow returns a record together with its full approval chain.
func (h *HTTPHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recordID := r.URL.Query().Get("record_id")
	if recordID == "" {
		http.Error(w, "Record ID is required", http.StatusBadRequest)
		return
	}

	wf, err := h.engine.GetWorkflow(r.Context(), recordID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, wf)
}

// ── Response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response body")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := errors.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}
