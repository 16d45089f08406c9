package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/veyra-ai/be-cost-approvals/internal/config"
	"github.com/veyra-ai/be-cost-approvals/internal/errors"
	"github.com/veyra-ai/be-cost-approvals/internal/hierarchy"
	"github.com/veyra-ai/be-cost-approvals/internal/logger"
	"github.com/veyra-ai/be-cost-approvals/internal/metrics"
	"github.com/veyra-ai/be-cost-approvals/internal/repository"
)

// SystemActor is the audit identity for scheduler-forced transitions.
const SystemActor = "system"

// Decision values accepted by Decide.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// Notification event types.
const (
	EventSubmitted        = "cost_table_submitted"
	EventApprovalRequired = "approval_required"
	EventApproved         = "cost_table_approved"
	EventRejected         = "cost_table_rejected"
	EventEscalated        = "approval_escalated"
	EventExpired          = "cost_table_expired"
	EventReminder         = "approval_reminder"
)

// WorkflowEngine drives cost-table records through the approval state
// machine: routing on monetary impact, sequential tier advancement,
// compare-and-swap resolution of approval requests.
type WorkflowEngine struct {
	records  RecordStore
	requests RequestStore
	audit    AuditStore
	policies *config.PolicyStore
	identity IdentityClientInterface
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time
}

// NewWorkflowEngine creates a new WorkflowEngine.
func NewWorkflowEngine(
	records RecordStore,
	requests RequestStore,
	audit AuditStore,
	policies *config.PolicyStore,
	identity IdentityClientInterface,
	notifier Notifier,
	log *logger.Logger,
) *WorkflowEngine {
	return &WorkflowEngine{
		records:  records,
		requests: requests,
		audit:    audit,
		policies: policies,
		identity: identity,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// ── Submit ────────────────────────────────────────────────────────────────────

// SubmitRequest is the structured cost-table payload produced by ingestion.
type SubmitRequest struct {
	SupplierID     string
	Category       string
	Currency       string
	EffectiveDate  string // YYYY-MM-DD
	MonetaryImpact int64  // cents
	LineItemCount  int
	SubmittedBy    string
}

// Submit creates a record in `submitted`, routes it to the lowest tier whose
// limit covers the amount and opens the first pending approval request.
func (e *WorkflowEngine) Submit(ctx context.Context, req *SubmitRequest) (*repository.CostTableRecord, error) {
	if req.MonetaryImpact < 0 {
		return nil, errors.InvalidInput("monetary_impact", "monetary impact cannot be negative")
	}
	if req.SupplierID == "" {
		return nil, errors.InvalidInput("supplier_id", "supplier id is required")
	}
	if req.LineItemCount < 1 {
		return nil, errors.InvalidInput("line_item_count", "cost table must have at least 1 line item")
	}
	if _, err := time.Parse("2006-01-02", req.EffectiveDate); err != nil {
		return nil, errors.InvalidInput("effective_date", "invalid date format, expected YYYY-MM-DD")
	}

	policy := e.policies.Current()
	hier := policy.Hierarchy()
	role := hier.RequiredRoleForAmount(req.MonetaryImpact)
	now := e.now()

	rec := &repository.CostTableRecord{
		ID:             uuid.NewString(),
		SupplierID:     req.SupplierID,
		Category:       req.Category,
		Currency:       req.Currency,
		EffectiveDate:  req.EffectiveDate,
		MonetaryImpact: req.MonetaryImpact,
		LineItemCount:  req.LineItemCount,
		Version:        1,
		Status:         repository.RecordStatusSubmitted,
		SubmittedBy:    req.SubmittedBy,
		SubmittedAt:    now,
		Deadline:       now.Add(policy.RecordDeadline()),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	approval := e.newPendingRequest(policy, rec, role, now)

	entry := e.auditEntry(rec.ID, &approval.ID, req.SubmittedBy, "supplier", "submitted", now)
	entry.StatusAfter = statusPtr(repository.RecordStatusSubmitted)
	entry.Metadata = map[string]interface{}{
		"initial_role": string(role),
		"amount_cents": req.MonetaryImpact,
		"version":      1,
	}

	if err := e.records.CreateSubmission(ctx, rec, approval, []*repository.AuditEntry{entry}); err != nil {
		return nil, err
	}

	metrics.SubmissionsTotal.WithLabelValues(string(role)).Inc()
	e.log.Info().
		Str("record_id", rec.ID).
		Str("supplier_id", rec.SupplierID).
		Int64("amount_cents", rec.MonetaryImpact).
		Str("initial_role", string(role)).
		Msg("Cost table submitted")

	e.notifyRole(ctx, EventApprovalRequired, rec, req.SubmittedBy, role, map[string]interface{}{
		"due_at": approval.DueAt,
	})
	e.notifyRole(ctx, EventSubmitted, rec, req.SubmittedBy, hierarchy.RoleCategoryBuyer, nil)

	return rec, nil
}

// ── Decide ────────────────────────────────────────────────────────────────────

// DecideRequest carries one reviewer decision. Identity and role come from
// the platform identity provider on every call.
type DecideRequest struct {
	RequestID string
	ActorID   string
	ActorRole hierarchy.Role
	Decision  string // approve | reject
	Comment   *string
}

// DecisionResult reports the transition a decision caused.
type DecisionResult struct {
	Request      *repository.ApprovalRequest
	RecordStatus repository.RecordStatus
	NextRequest  *repository.ApprovalRequest
	Complete     bool // record reached a terminal state
}

// Decide resolves a pending approval request. The read-validate-commit cycle
// uses compare-and-swap on the request's version: of two racing callers
// exactly one applies, the other surfaces AlreadyResolved or
// ConcurrentModification and nothing is retried here.
func (e *WorkflowEngine) Decide(ctx context.Context, req *DecideRequest) (*DecisionResult, error) {
	if req.Decision != DecisionApprove && req.Decision != DecisionReject {
		return nil, errors.InvalidInput("decision", "decision must be approve or reject")
	}

	approval, err := e.requests.GetRequest(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if approval.Status != repository.RequestStatusPending {
		return nil, errors.Newf(errors.ErrCodeAlreadyResolved,
			"approval request is already %s", approval.Status)
	}

	rec, err := e.records.GetRecord(ctx, approval.RecordID)
	if err != nil {
		return nil, err
	}

	policy := e.policies.Current()
	hier := policy.Hierarchy()

	if err := e.assertCanAct(hier, approval, req.ActorID, req.ActorRole, rec.MonetaryImpact); err != nil {
		return nil, err
	}

	now := e.now()
	transition := &repository.ResolveTransition{
		RequestID:       approval.ID,
		ExpectedVersion: approval.Version,
		DecidedBy:       &req.ActorID,
		Comment:         req.Comment,
		DecidedAt:       now,
		RecordID:        rec.ID,
	}

	result := &DecisionResult{Request: approval}

	switch req.Decision {
	case DecisionReject:
		if req.Comment == nil || *req.Comment == "" {
			return nil, errors.InvalidInput("comment", "rejection reason is required")
		}
		transition.NewStatus = repository.RequestStatusRejected
		transition.RecordStatus = repository.RecordStatusRejected
		transition.RejectionReason = req.Comment

		entry := e.auditEntry(rec.ID, &approval.ID, req.ActorID, string(req.ActorRole), "rejected", now)
		entry.StatusBefore = statusPtr(rec.Status)
		entry.StatusAfter = statusPtr(repository.RecordStatusRejected)
		entry.Comment = req.Comment
		transition.Audit = []*repository.AuditEntry{entry}

		result.Complete = true

	case DecisionApprove:
		transition.NewStatus = repository.RequestStatusApproved

		covered, err := hier.Covers(req.ActorRole, rec.MonetaryImpact)
		if err != nil {
			return nil, err
		}

		entry := e.auditEntry(rec.ID, &approval.ID, req.ActorID, string(req.ActorRole), "approved", now)
		entry.StatusBefore = statusPtr(rec.Status)
		entry.Comment = req.Comment

		if hier.IsTopApprovalTier(approval.RequiredRole) || covered {
			// Fully authorized: the chain terminates here.
			transition.RecordStatus = repository.RecordStatusApproved
			result.Complete = true
		} else {
			next, _ := hier.Next(approval.RequiredRole)
			nextReq := e.newPendingRequest(policy, rec, next, now)
			transition.NextRequest = nextReq
			transition.RecordStatus = repository.StageStatusFor(next)
			entry.Metadata = map[string]interface{}{"next_role": string(next)}
			result.NextRequest = nextReq
		}

		entry.StatusAfter = statusPtr(transition.RecordStatus)
		transition.Audit = []*repository.AuditEntry{entry}
	}

	if err := e.requests.Resolve(ctx, transition); err != nil {
		return nil, e.refineResolveError(ctx, err, approval.ID)
	}

	result.RecordStatus = transition.RecordStatus
	metrics.DecisionsTotal.WithLabelValues(req.Decision, string(transition.RecordStatus)).Inc()

	e.log.Info().
		Str("record_id", rec.ID).
		Str("request_id", approval.ID).
		Str("actor_id", req.ActorID).
		Str("actor_role", string(req.ActorRole)).
		Str("decision", req.Decision).
		Str("record_status", string(transition.RecordStatus)).
		Msg("Approval decision applied")

	e.notifyDecision(ctx, rec, req, result)
	return result, nil
}

// assertCanAct enforces the role-hierarchy authorization rule. The recorded
// delegate may act with the rank requirement waived, but the amount must
// still be within the delegate's own limit; any failure fails closed.
func (e *WorkflowEngine) assertCanAct(
	hier *hierarchy.Hierarchy,
	approval *repository.ApprovalRequest,
	actorID string,
	actorRole hierarchy.Role,
	amount int64,
) error {
	ok, err := hier.CanAuthorize(actorRole, approval.RequiredRole, amount)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if approval.DelegatedTo != nil && *approval.DelegatedTo == actorID {
		covered, err := hier.Covers(actorRole, amount)
		if err != nil {
			return err
		}
		if covered {
			return nil
		}
	}
	return errors.Unauthorized("actor is not authorized to decide this approval request")
}

// refineResolveError re-reads a request after a lost compare-and-swap to tell
// the caller which benign race occurred.
func (e *WorkflowEngine) refineResolveError(ctx context.Context, resolveErr error, requestID string) error {
	if !errors.Is(resolveErr, errors.ErrCodeConcurrentModification) {
		return resolveErr
	}
	current, err := e.requests.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if current.Status != repository.RequestStatusPending {
		return errors.Newf(errors.ErrCodeAlreadyResolved,
			"approval request is already %s", current.Status)
	}
	return resolveErr
}

// ── Resubmit ──────────────────────────────────────────────────────────────────

// ResubmitRequest is the replacement payload for a rejected record.
type ResubmitRequest struct {
	Category       string
	Currency       string
	EffectiveDate  string
	MonetaryImpact int64
	LineItemCount  int
	ResubmittedBy  string
}

// Resubmit re-enters a rejected record into review: version bump, routing
// recomputed from the new amount, fresh deadline. Prior requests stay as
// history.
func (e *WorkflowEngine) Resubmit(ctx context.Context, recordID string, req *ResubmitRequest) (*repository.CostTableRecord, error) {
	if req.MonetaryImpact < 0 {
		return nil, errors.InvalidInput("monetary_impact", "monetary impact cannot be negative")
	}
	if req.LineItemCount < 1 {
		return nil, errors.InvalidInput("line_item_count", "cost table must have at least 1 line item")
	}
	if _, err := time.Parse("2006-01-02", req.EffectiveDate); err != nil {
		return nil, errors.InvalidInput("effective_date", "invalid date format, expected YYYY-MM-DD")
	}

	rec, err := e.records.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != repository.RecordStatusRejected {
		return nil, errors.Newf(errors.ErrCodeInvalidState,
			"only rejected records can be resubmitted (status: %s)", rec.Status)
	}

	policy := e.policies.Current()
	hier := policy.Hierarchy()
	role := hier.RequiredRoleForAmount(req.MonetaryImpact)
	now := e.now()

	rec.Category = req.Category
	rec.Currency = req.Currency
	rec.EffectiveDate = req.EffectiveDate
	rec.MonetaryImpact = req.MonetaryImpact
	rec.LineItemCount = req.LineItemCount
	rec.Version++
	rec.Status = repository.RecordStatusSubmitted
	rec.Deadline = now.Add(policy.RecordDeadline())
	rec.RejectionReason = nil
	rec.UpdatedAt = now

	approval := e.newPendingRequest(policy, rec, role, now)

	entry := e.auditEntry(rec.ID, &approval.ID, req.ResubmittedBy, "supplier", "resubmitted", now)
	entry.StatusBefore = statusPtr(repository.RecordStatusRejected)
	entry.StatusAfter = statusPtr(repository.RecordStatusSubmitted)
	entry.Metadata = map[string]interface{}{
		"version":      rec.Version,
		"initial_role": string(role),
		"amount_cents": req.MonetaryImpact,
	}

	if err := e.records.Resubmit(ctx, rec, approval, []*repository.AuditEntry{entry}); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("record_id", rec.ID).
		Int("version", rec.Version).
		Str("initial_role", string(role)).
		Msg("Cost table resubmitted")

	e.notifyRole(ctx, EventApprovalRequired, rec, req.ResubmittedBy, role, map[string]interface{}{
		"due_at":  approval.DueAt,
		"version": rec.Version,
	})

	return rec, nil
}

// ── Delegate ──────────────────────────────────────────────────────────────────

// DelegateRequest hands a pending request to another reviewer identity.
type DelegateRequest struct {
	RequestID  string
	ActorID    string
	ActorRole  hierarchy.Role
	DelegateTo string
	Reason     string
}

// Delegate records a delegation on a pending request. The request stays
// pending at its tier; the delegate becomes a permitted actor.
func (e *WorkflowEngine) Delegate(ctx context.Context, req *DelegateRequest) error {
	if req.DelegateTo == "" {
		return errors.InvalidInput("delegate_to", "delegate identity is required")
	}
	if req.Reason == "" {
		return errors.InvalidInput("reason", "delegation reason is required")
	}

	approval, err := e.requests.GetRequest(ctx, req.RequestID)
	if err != nil {
		return err
	}
	if approval.Status != repository.RequestStatusPending {
		return errors.Newf(errors.ErrCodeAlreadyResolved,
			"approval request is already %s", approval.Status)
	}

	rec, err := e.records.GetRecord(ctx, approval.RecordID)
	if err != nil {
		return err
	}

	hier := e.policies.Current().Hierarchy()
	if err := e.assertCanAct(hier, approval, req.ActorID, req.ActorRole, rec.MonetaryImpact); err != nil {
		return err
	}

	now := e.now()
	entry := e.auditEntry(rec.ID, &approval.ID, req.ActorID, string(req.ActorRole), "delegated", now)
	entry.Metadata = map[string]interface{}{
		"delegated_to": req.DelegateTo,
		"reason":       req.Reason,
	}

	if err := e.requests.Delegate(ctx, approval.ID, approval.Version, req.DelegateTo, req.Reason, now, entry); err != nil {
		return e.refineResolveError(ctx, err, approval.ID)
	}

	e.log.Info().
		Str("record_id", rec.ID).
		Str("request_id", approval.ID).
		Str("delegated_to", req.DelegateTo).
		Msg("Approval request delegated")

	return nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// ListPending returns pending requests the given role may act on:
// rank(actor) >= rank(required). The hierarchy filter runs in Go because
// ranks are configuration, not database state.
func (e *WorkflowEngine) ListPending(ctx context.Context, actorRole hierarchy.Role) ([]*repository.ApprovalRequest, error) {
	hier := e.policies.Current().Hierarchy()
	actorRank, err := hier.Rank(actorRole)
	if err != nil {
		return nil, err
	}

	pending, err := e.requests.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	actionable := make([]*repository.ApprovalRequest, 0, len(pending))
	for _, req := range pending {
		requiredRank, err := hier.Rank(req.RequiredRole)
		if err != nil {
			// A request at a role no longer in the hierarchy stays invisible
			// rather than actionable; fail closed.
			continue
		}
		if actorRank >= requiredRank {
			actionable = append(actionable, req)
		}
	}
	return actionable, nil
}

// ListOverdue returns pending requests past their due date.
func (e *WorkflowEngine) ListOverdue(ctx context.Context) ([]*repository.ApprovalRequest, error) {
	return e.requests.ListOverdue(ctx, e.now())
}

// History returns the record's audit trail, oldest first.
func (e *WorkflowEngine) History(ctx context.Context, recordID string) ([]*repository.AuditEntry, error) {
	if _, err := e.records.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return e.audit.History(ctx, recordID)
}

// Workflow is a record together with every approval request ever created
// for it, oldest first.
type Workflow struct {
	Record   *repository.CostTableRecord
	Requests []*repository.ApprovalRequest
}

// GetWorkflow returns the full review chain for a record.
func (e *WorkflowEngine) GetWorkflow(ctx context.Context, recordID string) (*Workflow, error) {
	rec, err := e.records.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	reqs, err := e.requests.ListByRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return &Workflow{Record: rec, Requests: reqs}, nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func (e *WorkflowEngine) newPendingRequest(
	policy *config.Policy,
	rec *repository.CostTableRecord,
	role hierarchy.Role,
	now time.Time,
) *repository.ApprovalRequest {
	return &repository.ApprovalRequest{
		ID:            uuid.NewString(),
		RecordID:      rec.ID,
		RecordVersion: rec.Version,
		RequiredRole:  role,
		Status:        repository.RequestStatusPending,
		Version:       1,
		CreatedAt:     now,
		DueAt:         now.Add(policy.TimeoutFor(role)),
	}
}

func (e *WorkflowEngine) auditEntry(recordID string, requestID *string, actorID, actorRole, action string, at time.Time) *repository.AuditEntry {
	return &repository.AuditEntry{
		ID:          uuid.NewString(),
		RecordID:    recordID,
		RequestID:   requestID,
		ActorID:     actorID,
		ActorRole:   actorRole,
		Action:      action,
		PerformedAt: at,
	}
}

func (e *WorkflowEngine) notifyDecision(ctx context.Context, rec *repository.CostTableRecord, req *DecideRequest, result *DecisionResult) {
	switch {
	case result.RecordStatus == repository.RecordStatusApproved:
		e.notifyUser(ctx, EventApproved, rec, req.ActorID, rec.SubmittedBy, nil)
	case result.RecordStatus == repository.RecordStatusRejected:
		e.notifyUser(ctx, EventRejected, rec, req.ActorID, rec.SubmittedBy, map[string]interface{}{
			"reason": derefOrEmpty(req.Comment),
		})
	case result.NextRequest != nil:
		e.notifyRole(ctx, EventApprovalRequired, rec, req.ActorID, result.NextRequest.RequiredRole, map[string]interface{}{
			"due_at": result.NextRequest.DueAt,
		})
	}
}

// notifyRole publishes an event to every user holding a role. Failures are
// logged, never propagated.
func (e *WorkflowEngine) notifyRole(ctx context.Context, eventType string, rec *repository.CostTableRecord, actorID string, role hierarchy.Role, payload map[string]interface{}) {
	if e.notifier == nil {
		return
	}
	recipients, err := e.identity.GetUsersWithRole(ctx, string(role))
	if err != nil {
		e.log.Warn().Err(err).Str("role", string(role)).Msg("Could not resolve notification recipients")
		return
	}
	e.notifier.PublishApprovalEvent(ctx, eventType, rec.ID, actorID, recipients, payload)
}

func (e *WorkflowEngine) notifyUser(ctx context.Context, eventType string, rec *repository.CostTableRecord, actorID, recipient string, payload map[string]interface{}) {
	if e.notifier == nil || recipient == "" {
		return
	}
	e.notifier.PublishApprovalEvent(ctx, eventType, rec.ID, actorID, []string{recipient}, payload)
}

func statusPtr(s repository.RecordStatus) *string {
	v := string(s)
	return &v
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
