package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/veyra-ai/be-cost-approvals/internal/database"
	"github.com/veyra-ai/be-cost-approvals/internal/errors"
)

// CostTableRepository persists cost-table records. Submission and
// resubmission write the record, its first approval request and the audit
// entries in a single transaction so no partial state is ever observable.
type CostTableRepository struct {
	db *database.DB
}

// NewCostTableRepository creates a new CostTableRepository.
func NewCostTableRepository(db *database.DB) *CostTableRepository {
	return &CostTableRepository{db: db}
}

// CreateSubmission inserts a freshly submitted record together with its
// initial pending approval request and audit trail entries.
func (r *CostTableRepository) CreateSubmission(
	ctx context.Context,
	rec *CostTableRecord,
	req *ApprovalRequest,
	audit []*AuditEntry,
) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO cost_table_records
			    (id, supplier_id, category, currency, effective_date,
			     monetary_impact, line_item_count, version, status,
			     submitted_by, submitted_at, deadline, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5,
			        $6, $7, $8, $9::record_status,
			        $10, $11, $12, $13, $13)
		`

		_, err := tx.Exec(ctx, query,
			rec.ID,
			rec.SupplierID,
			rec.Category,
			rec.Currency,
			rec.EffectiveDate,
			rec.MonetaryImpact,
			rec.LineItemCount,
			rec.Version,
			rec.Status,
			rec.SubmittedBy,
			rec.SubmittedAt,
			rec.Deadline,
			rec.CreatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeStorage, "failed to create cost table record")
		}

		if err := insertRequestTx(ctx, tx, req); err != nil {
			return err
		}
		return insertAuditTx(ctx, tx, audit...)
	})
}

// GetRecord retrieves a record by its primary key.
func (r *CostTableRepository) GetRecord(ctx context.Context, id string) (*CostTableRecord, error) {
	query := `
		SELECT id, supplier_id, category, currency, effective_date,
		       monetary_impact, line_item_count, version, status,
		       submitted_by, submitted_at, deadline, rejection_reason,
		       created_at, updated_at
		FROM cost_table_records
		WHERE id = $1
	`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("cost_table_record", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to get cost table record")
	}
	return rec, nil
}

// Resubmit replaces a rejected record's payload and re-enters the review
// chain: version bump, fresh routing request, audit entries. The update is
// guarded on status = 'rejected' so a concurrent transition loses cleanly.
func (r *CostTableRepository) Resubmit(
	ctx context.Context,
	rec *CostTableRecord,
	req *ApprovalRequest,
	audit []*AuditEntry,
) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE cost_table_records
			SET category         = $2,
			    currency         = $3,
			    effective_date   = $4,
			    monetary_impact  = $5,
			    line_item_count  = $6,
			    version          = $7,
			    status           = $8::record_status,
			    deadline         = $9,
			    rejection_reason = NULL,
			    updated_at       = $10
			WHERE id = $1
			  AND status = 'rejected'
			RETURNING id
		`

		var returnedID string
		err := tx.QueryRow(ctx, query,
			rec.ID,
			rec.Category,
			rec.Currency,
			rec.EffectiveDate,
			rec.MonetaryImpact,
			rec.LineItemCount,
			rec.Version,
			rec.Status,
			rec.Deadline,
			rec.UpdatedAt,
		).Scan(&returnedID)
		if err == pgx.ErrNoRows {
			return errors.New(errors.ErrCodeConcurrentModification,
				"record is no longer in rejected status")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeStorage, "failed to resubmit cost table record")
		}

		if err := insertRequestTx(ctx, tx, req); err != nil {
			return err
		}
		return insertAuditTx(ctx, tx, audit...)
	})
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type recordScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row recordScanner) (*CostTableRecord, error) {
	rec := &CostTableRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.SupplierID,
		&rec.Category,
		&rec.Currency,
		&rec.EffectiveDate,
		&rec.MonetaryImpact,
		&rec.LineItemCount,
		&rec.Version,
		&rec.Status,
		&rec.SubmittedBy,
		&rec.SubmittedAt,
		&rec.Deadline,
		&rec.RejectionReason,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
