package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/veyra-ai/be-cost-approvals/internal/hierarchy"
)

func TestRecordStatusIsTerminal(t *testing.T) {
	terminal := []RecordStatus{RecordStatusApproved, RecordStatusRejected, RecordStatusExpired}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s", s)
	}

	open := []RecordStatus{
		RecordStatusSubmitted,
		RecordStatusUnderReview,
		RecordStatusPricingAnalysis,
		RecordStatusCommercialReview,
		RecordStatusDirectorReview,
		RecordStatusVPReview,
	}
	for _, s := range open {
		assert.False(t, s.IsTerminal(), "%s", s)
	}
}

func TestStageStatusFor(t *testing.T) {
	assert.Equal(t, RecordStatusUnderReview, StageStatusFor(hierarchy.RoleCategoryBuyer))
	assert.Equal(t, RecordStatusPricingAnalysis, StageStatusFor(hierarchy.RolePricingAnalyst))
	assert.Equal(t, RecordStatusCommercialReview, StageStatusFor(hierarchy.RoleCommercialManager))
	assert.Equal(t, RecordStatusDirectorReview, StageStatusFor(hierarchy.RoleCommercialDirector))
	assert.Equal(t, RecordStatusDirectorReview, StageStatusFor(hierarchy.RolePricingDirector))
	assert.Equal(t, RecordStatusVPReview, StageStatusFor(hierarchy.RoleVPCommercial))

	assert.Equal(t, RecordStatusUnderReview, StageStatusFor(hierarchy.RoleAdmin),
		"roles outside the routing chain fall back to under_review")
}

func TestApprovalRequestOverdue(t *testing.T) {
	due := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	req := &ApprovalRequest{Status: RequestStatusPending, DueAt: due}

	assert.False(t, req.Overdue(due.Add(-time.Minute)))
	assert.False(t, req.Overdue(due), "due instant itself is not overdue")
	assert.True(t, req.Overdue(due.Add(time.Minute)))

	req.Status = RequestStatusApproved
	assert.False(t, req.Overdue(due.Add(time.Hour)), "resolved requests are never overdue")
}

func TestApprovalRequestNeedsReminder(t *testing.T) {
	due := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	lead := 24 * time.Hour
	windowStart := due.Add(-lead)

	req := &ApprovalRequest{Status: RequestStatusPending, DueAt: due}

	assert.False(t, req.NeedsReminder(windowStart.Add(-time.Minute), lead))
	assert.True(t, req.NeedsReminder(windowStart, lead))
	assert.True(t, req.NeedsReminder(due.Add(time.Hour), lead))

	inWindow := windowStart.Add(time.Hour)
	req.RemindedAt = &inWindow
	assert.False(t, req.NeedsReminder(windowStart.Add(2*time.Hour), lead), "latched for this window")

	stale := windowStart.Add(-48 * time.Hour)
	req.RemindedAt = &stale
	assert.True(t, req.NeedsReminder(windowStart.Add(time.Hour), lead),
		"a reminder from an earlier window does not suppress this one")

	req.Status = RequestStatusExpired
	assert.False(t, req.NeedsReminder(due, lead))
}
