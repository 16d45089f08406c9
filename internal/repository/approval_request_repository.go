package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/veyra-ai/be-cost-approvals/internal/database"
	"github.com/veyra-ai/be-cost-approvals/internal/errors"
)

// ResolveTransition is one atomic resolution of a pending approval request:
// the request's terminal status, the record's new status, the next request in
// the chain (when review advances or escalates) and the audit entries. The
// whole transition commits or none of it does.
type ResolveTransition struct {
	RequestID       string
	ExpectedVersion int
	NewStatus       RequestStatus
	DecidedBy       *string // nil for scheduler transitions
	Comment         *string
	DecidedAt       time.Time

	RecordID        string
	RecordStatus    RecordStatus
	RejectionReason *string

	NextRequest *ApprovalRequest
	Audit       []*AuditEntry
}

// ApprovalRequestRepository persists approval requests. Every mutation is
// compare-and-swap on (status, version): a losing concurrent writer gets
// ErrCodeConcurrentModification and the transaction rolls back.
type ApprovalRequestRepository struct {
	db *database.DB
}

// NewApprovalRequestRepository creates a new ApprovalRequestRepository.
func NewApprovalRequestRepository(db *database.DB) *ApprovalRequestRepository {
	return &ApprovalRequestRepository{db: db}
}

// GetRequest retrieves a request by its primary key.
func (r *ApprovalRequestRepository) GetRequest(ctx context.Context, id string) (*ApprovalRequest, error) {
	query := selectRequest + ` WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to get approval request")
	}
	return req, nil
}

// Resolve commits a ResolveTransition. The caller re-reads on
// ErrCodeConcurrentModification to distinguish an already-resolved request
// from a lost version race.
func (r *ApprovalRequestRepository) Resolve(ctx context.Context, t *ResolveTransition) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		casQuery := `
			UPDATE approval_requests
			SET status     = $2::request_status,
			    version    = version + 1,
			    decided_by = $3,
			    decided_at = $4,
			    comment    = COALESCE($5, comment)
			WHERE id = $1
			  AND status = 'pending'
			  AND version = $6
			RETURNING id
		`

		var returnedID string
		err := tx.QueryRow(ctx, casQuery,
			t.RequestID,
			t.NewStatus,
			t.DecidedBy,
			t.DecidedAt,
			t.Comment,
			t.ExpectedVersion,
		).Scan(&returnedID)
		if err == pgx.ErrNoRows {
			return errors.New(errors.ErrCodeConcurrentModification,
				"approval request was resolved or modified concurrently")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeStorage, "failed to resolve approval request")
		}

		recQuery := `
			UPDATE cost_table_records
			SET status           = $2::record_status,
			    rejection_reason = COALESCE($3, rejection_reason),
			    updated_at       = $4
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, recQuery, t.RecordID, t.RecordStatus, t.RejectionReason, t.DecidedAt); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorage, "failed to update cost table record")
		}

		if t.NextRequest != nil {
			if err := insertRequestTx(ctx, tx, t.NextRequest); err != nil {
				return err
			}
		}
		return insertAuditTx(ctx, tx, t.Audit...)
	})
}

// Delegate records a delegation on a pending request. The request stays
// pending; the delegate becomes an additional permitted actor.
func (r *ApprovalRequestRepository) Delegate(
	ctx context.Context,
	id string,
	expectedVersion int,
	delegatedTo, reason string,
	at time.Time,
	audit *AuditEntry,
) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE approval_requests
			SET delegated_to      = $2,
			    delegated_at      = $3,
			    delegation_reason = $4,
			    version           = version + 1
			WHERE id = $1
			  AND status = 'pending'
			  AND version = $5
			RETURNING id
		`

		var returnedID string
		err := tx.QueryRow(ctx, query, id, delegatedTo, at, reason, expectedVersion).Scan(&returnedID)
		if err == pgx.ErrNoRows {
			return errors.New(errors.ErrCodeConcurrentModification,
				"approval request was resolved or modified concurrently")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeStorage, "failed to delegate approval request")
		}
		return insertAuditTx(ctx, tx, audit)
	})
}

// ListPending returns all pending requests ordered by due date.
// Hierarchy filtering happens in the service; ranks are configuration, not
// database state.
func (r *ApprovalRequestRepository) ListPending(ctx context.Context) ([]*ApprovalRequest, error) {
	query := selectRequest + `
		WHERE status = 'pending'
		ORDER BY due_at ASC, created_at ASC
	`
	return r.queryRequests(ctx, query)
}

// ListByRecord returns every request ever created for a record, oldest first.
func (r *ApprovalRequestRepository) ListByRecord(ctx context.Context, recordID string) ([]*ApprovalRequest, error) {
	query := selectRequest + `
		WHERE record_id = $1
		ORDER BY created_at ASC
	`
	return r.queryRequests(ctx, query, recordID)
}

// ListOverdue returns pending requests whose due date has elapsed.
func (r *ApprovalRequestRepository) ListOverdue(ctx context.Context, now time.Time) ([]*ApprovalRequest, error) {
	query := selectRequest + `
		WHERE status = 'pending'
		  AND due_at < $1
		ORDER BY due_at ASC
	`
	return r.queryRequests(ctx, query, now)
}

// ListNeedingReminder returns pending requests inside the reminder window
// that have not been reminded for it yet.
func (r *ApprovalRequestRepository) ListNeedingReminder(ctx context.Context, now time.Time, lead time.Duration) ([]*ApprovalRequest, error) {
	query := selectRequest + `
		WHERE status = 'pending'
		  AND due_at - $2::interval <= $1
		  AND (reminded_at IS NULL OR reminded_at < due_at - $2::interval)
		ORDER BY due_at ASC
	`
	return r.queryRequests(ctx, query, now, lead)
}

// MarkReminded latches the reminder timestamp on a request.
func (r *ApprovalRequestRepository) MarkReminded(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE approval_requests
		SET reminded_at = $2
		WHERE id = $1
		  AND status = 'pending'
	`
	_, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "failed to mark request reminded")
	}
	return nil
}

func (r *ApprovalRequestRepository) queryRequests(ctx context.Context, query string, args ...any) ([]*ApprovalRequest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to list approval requests")
	}
	defer rows.Close()

	var reqs []*ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to scan approval request")
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// ── SQL fragments and scan helpers ────────────────────────────────────────────

const selectRequest = `
	SELECT id, record_id, record_version, required_role, status, version,
	       decided_by, decided_at, comment,
	       delegated_to, delegated_at, delegation_reason,
	       created_at, due_at, reminded_at
	FROM approval_requests
`

func insertRequestTx(ctx context.Context, tx pgx.Tx, req *ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests
		    (id, record_id, record_version, required_role, status, version,
		     created_at, due_at)
		VALUES ($1, $2, $3, $4, $5::request_status, $6, $7, $8)
	`

	_, err := tx.Exec(ctx, query,
		req.ID,
		req.RecordID,
		req.RecordVersion,
		req.RequiredRole,
		req.Status,
		req.Version,
		req.CreatedAt,
		req.DueAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "failed to create approval request")
	}
	return nil
}

type requestScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row requestScanner) (*ApprovalRequest, error) {
	req := &ApprovalRequest{}
	err := row.Scan(
		&req.ID,
		&req.RecordID,
		&req.RecordVersion,
		&req.RequiredRole,
		&req.Status,
		&req.Version,
		&req.DecidedBy,
		&req.DecidedAt,
		&req.Comment,
		&req.DelegatedTo,
		&req.DelegatedAt,
		&req.DelegationReason,
		&req.CreatedAt,
		&req.DueAt,
		&req.RemindedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}
