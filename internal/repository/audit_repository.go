package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/veyra-ai/be-cost-approvals/internal/database"
	"github.com/veyra-ai/be-cost-approvals/internal/errors"
)

// AuditRepository appends and reads the immutable per-record audit trail.
// The table carries a delete-prevention trigger; append is the only mutation.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AppendAudit inserts one audit entry outside any workflow transaction.
// Transition audit writes go through the transition repositories instead so
// they commit atomically with the state change.
func (r *AuditRepository) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (id, record_id, request_id, actor_id, actor_role,
		     action, status_before, status_after, comment, metadata, performed_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9, $10, $11)
		RETURNING seq
	`

	err := r.db.QueryRow(ctx, query,
		entry.ID,
		entry.RecordID,
		entry.RequestID,
		entry.ActorID,
		entry.ActorRole,
		entry.Action,
		entry.StatusBefore,
		entry.StatusAfter,
		entry.Comment,
		metadataJSON,
		entry.PerformedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "failed to append audit entry")
	}
	return nil
}

// History returns the full audit trail for a record, oldest first.
// Timestamp ties break on insertion order.
func (r *AuditRepository) History(ctx context.Context, recordID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, seq, record_id, request_id, actor_id, actor_role,
		       action, status_before, status_after, comment, metadata, performed_at
		FROM approval_audit_log
		WHERE record_id = $1
		ORDER BY performed_at ASC, seq ASC
	`

	rows, err := r.db.Query(ctx, query, recordID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to get audit trail")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// insertAuditTx writes audit entries inside an open workflow transaction.
func insertAuditTx(ctx context.Context, tx pgx.Tx, entries ...*AuditEntry) error {
	query := `
		INSERT INTO approval_audit_log
		    (id, record_id, request_id, actor_id, actor_role,
		     action, status_before, status_after, comment, metadata, performed_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9, $10, $11)
	`

	for _, entry := range entries {
		var metadataJSON []byte
		if entry.Metadata != nil {
			var err error
			metadataJSON, err = json.Marshal(entry.Metadata)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
			}
		}

		_, err := tx.Exec(ctx, query,
			entry.ID,
			entry.RecordID,
			entry.RequestID,
			entry.ActorID,
			entry.ActorRole,
			entry.Action,
			entry.StatusBefore,
			entry.StatusAfter,
			entry.Comment,
			metadataJSON,
			entry.PerformedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeStorage, "failed to append audit entry")
		}
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type auditScanner interface {
	Scan(dest ...any) error
}

func scanAuditEntry(sc auditScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.Seq,
		&entry.RecordID,
		&entry.RequestID,
		&entry.ActorID,
		&entry.ActorRole,
		&entry.Action,
		&entry.StatusBefore,
		&entry.StatusAfter,
		&entry.Comment,
		&metadataJSON,
		&entry.PerformedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}
