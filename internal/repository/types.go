package repository

import (
	"time"

	"github.com/veyra-ai/be-cost-approvals/internal/hierarchy"
)

// ── Domain types for the cost-table approval workflow ────────────────────────

// RecordStatus is the review state of a cost table.
type RecordStatus string

const (
	RecordStatusSubmitted        RecordStatus = "submitted"
	RecordStatusUnderReview      RecordStatus = "under_review"
	RecordStatusPricingAnalysis  RecordStatus = "pricing_analysis"
	RecordStatusCommercialReview RecordStatus = "commercial_review"
	RecordStatusDirectorReview   RecordStatus = "director_review"
	RecordStatusVPReview         RecordStatus = "vp_review"
	RecordStatusApproved         RecordStatus = "approved"
	RecordStatusRejected         RecordStatus = "rejected"
	RecordStatusExpired          RecordStatus = "expired"
)

// IsTerminal reports whether no further transitions are permitted.
func (s RecordStatus) IsTerminal() bool {
	return s == RecordStatusApproved || s == RecordStatusRejected || s == RecordStatusExpired
}

// stageStatus maps the tier a record is waiting on to its review status.
var stageStatus = map[hierarchy.Role]RecordStatus{
	hierarchy.RoleCategoryBuyer:      RecordStatusUnderReview,
	hierarchy.RolePricingAnalyst:     RecordStatusPricingAnalysis,
	hierarchy.RoleCommercialManager:  RecordStatusCommercialReview,
	hierarchy.RoleCommercialDirector: RecordStatusDirectorReview,
	hierarchy.RolePricingDirector:    RecordStatusDirectorReview,
	hierarchy.RoleVPCommercial:       RecordStatusVPReview,
}

// StageStatusFor returns the record status while a request is pending at the
// given tier. The record status tracks whichever tier is currently awaiting
// review, so it moves on every advancement and escalation; only approved,
// rejected and expired end the chain.
func StageStatusFor(role hierarchy.Role) RecordStatus {
	if s, ok := stageStatus[role]; ok {
		return s
	}
	return RecordStatusUnderReview
}

// RequestStatus is the state of a single approval request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
	RequestStatusExpired  RequestStatus = "expired"
)

// CostTableRecord is a submitted supplier cost table under review.
// Only the workflow engine mutates status and version.
type CostTableRecord struct {
	ID              string
	SupplierID      string
	Category        string
	Currency        string
	EffectiveDate   string // YYYY-MM-DD
	MonetaryImpact  int64  // cents
	LineItemCount   int
	Version         int // starts at 1, incremented on resubmission
	Status          RecordStatus
	SubmittedBy     string
	SubmittedAt     time.Time
	Deadline        time.Time // overall review deadline
	RejectionReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ApprovalRequest is one decision point for a record at a specific tier.
// At most one request per record is pending at any instant. Version backs the
// compare-and-swap on every mutation; resolved requests are kept as history.
type ApprovalRequest struct {
	ID            string
	RecordID      string
	RecordVersion int // record version this request belongs to
	RequiredRole  hierarchy.Role
	Status        RequestStatus
	Version       int

	DecidedBy *string
	DecidedAt *time.Time
	Comment   *string

	DelegatedTo      *string
	DelegatedAt      *time.Time
	DelegationReason *string

	CreatedAt  time.Time
	DueAt      time.Time
	RemindedAt *time.Time
}

// Overdue reports whether the request is pending past its due date.
func (r *ApprovalRequest) Overdue(now time.Time) bool {
	return r.Status == RequestStatusPending && now.After(r.DueAt)
}

// NeedsReminder reports whether a reminder should fire: within lead of the
// due date, not yet reminded for this window.
func (r *ApprovalRequest) NeedsReminder(now time.Time, lead time.Duration) bool {
	if r.Status != RequestStatusPending {
		return false
	}
	reminderAt := r.DueAt.Add(-lead)
	if now.Before(reminderAt) {
		return false
	}
	return r.RemindedAt == nil || r.RemindedAt.Before(reminderAt)
}

// AuditEntry is one immutable line in a record's audit trail.
type AuditEntry struct {
	ID           string
	Seq          int64 // insertion order, breaks performed_at ties
	RecordID     string
	RequestID    *string
	ActorID      string // "system" for scheduler transitions
	ActorRole    string
	Action       string // submitted | approved | rejected | resubmitted | delegated | escalated | expired | reminded
	StatusBefore *string
	StatusAfter  *string
	Comment      *string
	Metadata     map[string]interface{}
	PerformedAt  time.Time
}
