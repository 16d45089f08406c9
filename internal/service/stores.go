package service

import (
	"context"
	"time"

	"github.com/veyra-ai/be-cost-approvals/internal/repository"
)

// RecordStore persists cost-table records. Implemented by
// repository.CostTableRepository.
type RecordStore interface {
	// CreateSubmission writes a record, its first pending request and the
	// audit entries atomically.
	CreateSubmission(ctx context.Context, rec *repository.CostTableRecord, req *repository.ApprovalRequest, audit []*repository.AuditEntry) error
	// GetRecord returns a record by id.
	GetRecord(ctx context.Context, id string) (*repository.CostTableRecord, error)
	// Resubmit re-enters a rejected record into review atomically, guarded
	// on the record still being rejected.
	Resubmit(ctx context.Context, rec *repository.CostTableRecord, req *repository.ApprovalRequest, audit []*repository.AuditEntry) error
}

// RequestStore persists approval requests. Every mutation is compare-and-swap
// on (status, version). Implemented by repository.ApprovalRequestRepository.
type RequestStore interface {
	GetRequest(ctx context.Context, id string) (*repository.ApprovalRequest, error)
	// Resolve commits a whole transition atomically; a lost race surfaces
	// as ErrCodeConcurrentModification with nothing applied.
	Resolve(ctx context.Context, t *repository.ResolveTransition) error
	Delegate(ctx context.Context, id string, expectedVersion int, delegatedTo, reason string, at time.Time, audit *repository.AuditEntry) error
	ListPending(ctx context.Context) ([]*repository.ApprovalRequest, error)
	ListByRecord(ctx context.Context, recordID string) ([]*repository.ApprovalRequest, error)
	ListOverdue(ctx context.Context, now time.Time) ([]*repository.ApprovalRequest, error)
	ListNeedingReminder(ctx context.Context, now time.Time, lead time.Duration) ([]*repository.ApprovalRequest, error)
	MarkReminded(ctx context.Context, id string, at time.Time) error
}

// AuditStore reads and appends the per-record audit trail. Implemented by
// repository.AuditRepository.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *repository.AuditEntry) error
	History(ctx context.Context, recordID string) ([]*repository.AuditEntry, error)
}

// IdentityClientInterface resolves reviewer identities from the platform
// identity service. Used only to address notifications; authorization itself
// is role-based and carried on each call.
type IdentityClientInterface interface {
	// GetUsersWithRole returns user IDs holding the given role.
	GetUsersWithRole(ctx context.Context, role string) ([]string, error)
}

// Notifier publishes workflow events for the notification service.
// Implementations must be non-fatal: a failed publish never interrupts an
// approval operation.
type Notifier interface {
	PublishApprovalEvent(ctx context.Context, eventType, recordID, actorID string, recipients []string, payload map[string]interface{})
}
