package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/veyra-ai/be-cost-approvals/internal/config"
	"github.com/veyra-ai/be-cost-approvals/internal/errors"
	"github.com/veyra-ai/be-cost-approvals/internal/logger"
	"github.com/veyra-ai/be-cost-approvals/internal/metrics"
	"github.com/veyra-ai/be-cost-approvals/internal/repository"
)

// EscalationScheduler periodically sweeps pending approval requests whose due
// date has elapsed and forces their transition: escalate one tier forward when
// auto-escalation is on, expire the record when it is off or the chain is
// already at the top tier. It also publishes deadline reminders.
//
// Each overdue request is handled independently through the same
// compare-and-swap rule as reviewer decisions, so a sweep racing a concurrent
// Decide loses cleanly and moves on. The sweep is cancellable between
// requests, never mid-transition.
type EscalationScheduler struct {
	records  RecordStore
	requests RequestStore
	audit    AuditStore
	policies *config.PolicyStore
	identity IdentityClientInterface
	notifier Notifier
	log      *logger.Logger
	interval time.Duration
	now      func() time.Time
}

// NewEscalationScheduler creates a new EscalationScheduler.
func NewEscalationScheduler(
	records RecordStore,
	requests RequestStore,
	audit AuditStore,
	policies *config.PolicyStore,
	identity IdentityClientInterface,
	notifier Notifier,
	log *logger.Logger,
	interval time.Duration,
) *EscalationScheduler {
	return &EscalationScheduler{
		records:  records,
		requests: requests,
		audit:    audit,
		policies: policies,
		identity: identity,
		notifier: notifier,
		log:      log,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *EscalationScheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("Escalation scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Escalation scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("Escalation sweep failed")
			}
		}
	}
}

// Sweep processes all overdue requests and reminder candidates once.
// Running a sweep twice over the same state is a no-op: expired requests are
// no longer pending and reminders are latched.
func (s *EscalationScheduler) Sweep(ctx context.Context) error {
	started := s.now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(started).Seconds())
	}()

	policy := s.policies.Current()

	overdue, err := s.requests.ListOverdue(ctx, s.now())
	if err != nil {
		return err
	}
	for _, req := range overdue {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.handleOverdue(ctx, policy, req)
	}

	candidates, err := s.requests.ListNeedingReminder(ctx, s.now(), policy.ReminderLead())
	if err != nil {
		return err
	}
	for _, req := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.remind(ctx, req)
	}

	return nil
}

// handleOverdue expires one overdue request and either escalates the chain
// one tier forward or terminates the record.
func (s *EscalationScheduler) handleOverdue(ctx context.Context, policy *config.Policy, req *repository.ApprovalRequest) {
	rec, err := s.records.GetRecord(ctx, req.RecordID)
	if err != nil {
		s.log.Error().Err(err).Str("request_id", req.ID).Msg("Could not load record for overdue request")
		return
	}

	hier := policy.Hierarchy()
	now := s.now()

	transition := &repository.ResolveTransition{
		RequestID:       req.ID,
		ExpectedVersion: req.Version,
		NewStatus:       repository.RequestStatusExpired,
		DecidedAt:       now,
		RecordID:        rec.ID,
	}

	entry := &repository.AuditEntry{
		ID:          uuid.NewString(),
		RecordID:    rec.ID,
		RequestID:   &req.ID,
		ActorID:     SystemActor,
		ActorRole:   SystemActor,
		PerformedAt: now,
	}
	entry.StatusBefore = statusPtr(rec.Status)

	escalate := policy.AutoEscalation() && !hier.IsTopApprovalTier(req.RequiredRole)
	var nextReq *repository.ApprovalRequest
	if escalate {
		next, _ := hier.Next(req.RequiredRole)
		nextReq = &repository.ApprovalRequest{
			ID:            uuid.NewString(),
			RecordID:      rec.ID,
			RecordVersion: rec.Version,
			RequiredRole:  next,
			Status:        repository.RequestStatusPending,
			Version:       1,
			CreatedAt:     now,
			DueAt:         now.Add(policy.TimeoutFor(next)),
		}
		transition.NextRequest = nextReq
		transition.RecordStatus = repository.StageStatusFor(next)
		entry.Action = "escalated"
		entry.Metadata = map[string]interface{}{
			"from_role": string(req.RequiredRole),
			"to_role":   string(next),
		}
	} else {
		// Top of the chain, or escalation disabled: the record terminates.
		transition.RecordStatus = repository.RecordStatusExpired
		entry.Action = "expired"
		entry.Metadata = map[string]interface{}{
			"role": string(req.RequiredRole),
		}
	}
	entry.StatusAfter = statusPtr(transition.RecordStatus)
	transition.Audit = []*repository.AuditEntry{entry}

	if err := s.requests.Resolve(ctx, transition); err != nil {
		// A reviewer decided first, or a previous sweep already handled it.
		if errors.Is(err, errors.ErrCodeConcurrentModification) || errors.Is(err, errors.ErrCodeAlreadyResolved) {
			s.log.Debug().Str("request_id", req.ID).Msg("Overdue request resolved concurrently; skipping")
			return
		}
		s.log.Error().Err(err).Str("request_id", req.ID).Msg("Failed to expire overdue request")
		return
	}

	if escalate {
		metrics.EscalationsTotal.Inc()
		s.log.Info().
			Str("record_id", rec.ID).
			Str("request_id", req.ID).
			Str("from_role", string(req.RequiredRole)).
			Str("to_role", string(nextReq.RequiredRole)).
			Msg("Overdue approval request escalated")
		s.notifyRole(ctx, EventEscalated, rec, nextReq)
	} else {
		metrics.ExpirationsTotal.Inc()
		s.log.Info().
			Str("record_id", rec.ID).
			Str("request_id", req.ID).
			Str("role", string(req.RequiredRole)).
			Msg("Cost table expired")
		s.notifyUser(ctx, EventExpired, rec)
	}
}

// remind publishes a deadline reminder for one request, then latches it so
// the next sweep does not repeat it. The latch comes last: a failure anywhere
// before it leaves the request eligible for the next sweep, and a failed
// latch merely repeats the reminder inside the same window.
func (s *EscalationScheduler) remind(ctx context.Context, req *repository.ApprovalRequest) {
	now := s.now()
	rec, err := s.records.GetRecord(ctx, req.RecordID)
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", req.ID).Msg("Could not load record for reminder")
		return
	}

	// Reminder audit is informational; a failed write must not block sweeps.
	entry := &repository.AuditEntry{
		ID:          uuid.NewString(),
		RecordID:    rec.ID,
		RequestID:   &req.ID,
		ActorID:     SystemActor,
		ActorRole:   SystemActor,
		Action:      "reminded",
		Metadata:    map[string]interface{}{"role": string(req.RequiredRole), "due_at": req.DueAt},
		PerformedAt: now,
	}
	if err := s.audit.AppendAudit(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("record_id", rec.ID).Msg("Failed to write reminder audit entry")
	}

	metrics.RemindersTotal.Inc()
	s.notifyRole(ctx, EventReminder, rec, req)

	if err := s.requests.MarkReminded(ctx, req.ID, now); err != nil {
		s.log.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to latch reminder")
	}
}

func (s *EscalationScheduler) notifyRole(ctx context.Context, eventType string, rec *repository.CostTableRecord, req *repository.ApprovalRequest) {
	if s.notifier == nil {
		return
	}
	recipients, err := s.identity.GetUsersWithRole(ctx, string(req.RequiredRole))
	if err != nil {
		s.log.Warn().Err(err).Str("role", string(req.RequiredRole)).Msg("Could not resolve notification recipients")
		return
	}
	s.notifier.PublishApprovalEvent(ctx, eventType, rec.ID, SystemActor, recipients, map[string]interface{}{
		"due_at": req.DueAt,
		"role":   string(req.RequiredRole),
	})
}

func (s *EscalationScheduler) notifyUser(ctx context.Context, eventType string, rec *repository.CostTableRecord) {
	if s.notifier == nil || rec.SubmittedBy == "" {
		return
	}
	s.notifier.PublishApprovalEvent(ctx, eventType, rec.ID, SystemActor, []string{rec.SubmittedBy}, nil)
}
