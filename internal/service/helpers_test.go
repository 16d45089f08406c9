package service

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veyra-ai/be-cost-approvals/internal/config"
	"github.com/veyra-ai/be-cost-approvals/internal/errors"
	"github.com/veyra-ai/be-cost-approvals/internal/logger"
	"github.com/veyra-ai/be-cost-approvals/internal/repository"
)

// testPolicy mirrors the production policy shape with the limits used by the
// routing scenarios throughout these tests (cents omitted for readability).
const testPolicy = `
role_limits:
  category_buyer: 50000
  pricing_analyst: 100000
  commercial_manager: 250000
  commercial_director: 500000
  pricing_director: 1000000
  vp_commercial: 5000000
approval_timeout: 72h
role_timeouts:
  category_buyer: 48h
  vp_commercial: 168h
auto_escalation: true
record_deadline: 720h
reminder_lead: 24h
`

const testPolicyNoEscalation = `
role_limits:
  category_buyer: 50000
  pricing_analyst: 100000
  commercial_manager: 250000
  commercial_director: 500000
  pricing_director: 1000000
  vp_commercial: 5000000
approval_timeout: 72h
auto_escalation: false
`

func newPolicyStore(t *testing.T, yaml string) *config.PolicyStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow_policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	store, err := config.NewPolicyStore(path)
	require.NoError(t, err)
	return store
}

// ── In-memory store fake ──────────────────────────────────────────────────────

// memStore implements RecordStore, RequestStore and AuditStore with the same
// compare-and-swap semantics as the postgres repositories.
type memStore struct {
	mu       sync.Mutex
	records  map[string]*repository.CostTableRecord
	requests map[string]*repository.ApprovalRequest
	audit    []*repository.AuditEntry
	seq      int64
}

func newMemStore() *memStore {
	return &memStore{
		records:  make(map[string]*repository.CostTableRecord),
		requests: make(map[string]*repository.ApprovalRequest),
	}
}

func (m *memStore) CreateSubmission(ctx context.Context, rec *repository.CostTableRecord, req *repository.ApprovalRequest, audit []*repository.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = cloneRecord(rec)
	m.requests[req.ID] = cloneRequest(req)
	m.appendAuditLocked(audit...)
	return nil
}

func (m *memStore) GetRecord(ctx context.Context, id string) (*repository.CostTableRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, errors.NotFound("cost_table_record", id)
	}
	return cloneRecord(rec), nil
}

func (m *memStore) Resubmit(ctx context.Context, rec *repository.CostTableRecord, req *repository.ApprovalRequest, audit []*repository.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[rec.ID]
	if !ok {
		return errors.NotFound("cost_table_record", rec.ID)
	}
	if current.Status != repository.RecordStatusRejected {
		return errors.New(errors.ErrCodeConcurrentModification, "record is no longer in rejected status")
	}
	m.records[rec.ID] = cloneRecord(rec)
	m.requests[req.ID] = cloneRequest(req)
	m.appendAuditLocked(audit...)
	return nil
}

func (m *memStore) GetRequest(ctx context.Context, id string) (*repository.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, errors.NotFound("approval_request", id)
	}
	return cloneRequest(req), nil
}

func (m *memStore) Resolve(ctx context.Context, t *repository.ResolveTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[t.RequestID]
	if !ok || req.Status != repository.RequestStatusPending || req.Version != t.ExpectedVersion {
		return errors.New(errors.ErrCodeConcurrentModification,
			"approval request was resolved or modified concurrently")
	}

	req.Status = t.NewStatus
	req.Version++
	req.DecidedBy = t.DecidedBy
	decidedAt := t.DecidedAt
	req.DecidedAt = &decidedAt
	if t.Comment != nil {
		req.Comment = t.Comment
	}

	rec := m.records[t.RecordID]
	rec.Status = t.RecordStatus
	if t.RejectionReason != nil {
		rec.RejectionReason = t.RejectionReason
	}
	rec.UpdatedAt = t.DecidedAt

	if t.NextRequest != nil {
		m.requests[t.NextRequest.ID] = cloneRequest(t.NextRequest)
	}
	m.appendAuditLocked(t.Audit...)
	return nil
}

func (m *memStore) Delegate(ctx context.Context, id string, expectedVersion int, delegatedTo, reason string, at time.Time, audit *repository.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok || req.Status != repository.RequestStatusPending || req.Version != expectedVersion {
		return errors.New(errors.ErrCodeConcurrentModification,
			"approval request was resolved or modified concurrently")
	}

	req.DelegatedTo = &delegatedTo
	delegatedAt := at
	req.DelegatedAt = &delegatedAt
	req.DelegationReason = &reason
	req.Version++
	m.appendAuditLocked(audit)
	return nil
}

func (m *memStore) ListPending(ctx context.Context) ([]*repository.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.ApprovalRequest
	for _, req := range m.requests {
		if req.Status == repository.RequestStatusPending {
			out = append(out, cloneRequest(req))
		}
	}
	sortRequests(out)
	return out, nil
}

func (m *memStore) ListByRecord(ctx context.Context, recordID string) ([]*repository.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.ApprovalRequest
	for _, req := range m.requests {
		if req.RecordID == recordID {
			out = append(out, cloneRequest(req))
		}
	}
	sortRequests(out)
	return out, nil
}

func (m *memStore) ListOverdue(ctx context.Context, now time.Time) ([]*repository.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.ApprovalRequest
	for _, req := range m.requests {
		if req.Overdue(now) {
			out = append(out, cloneRequest(req))
		}
	}
	sortRequests(out)
	return out, nil
}

func (m *memStore) ListNeedingReminder(ctx context.Context, now time.Time, lead time.Duration) ([]*repository.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.ApprovalRequest
	for _, req := range m.requests {
		if req.NeedsReminder(now, lead) {
			out = append(out, cloneRequest(req))
		}
	}
	sortRequests(out)
	return out, nil
}

func (m *memStore) MarkReminded(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req, ok := m.requests[id]; ok && req.Status == repository.RequestStatusPending {
		remindedAt := at
		req.RemindedAt = &remindedAt
	}
	return nil
}

func (m *memStore) AppendAudit(ctx context.Context, entry *repository.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAuditLocked(entry)
	return nil
}

func (m *memStore) History(ctx context.Context, recordID string) ([]*repository.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.AuditEntry
	for _, entry := range m.audit {
		if entry.RecordID == recordID {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PerformedAt.Equal(out[j].PerformedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].PerformedAt.Before(out[j].PerformedAt)
	})
	return out, nil
}

func (m *memStore) appendAuditLocked(entries ...*repository.AuditEntry) {
	for _, entry := range entries {
		m.seq++
		clone := *entry
		clone.Seq = m.seq
		m.audit = append(m.audit, &clone)
	}
}

// pendingFor returns every pending request for a record, for invariant checks.
func (m *memStore) pendingFor(recordID string) []*repository.ApprovalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.ApprovalRequest
	for _, req := range m.requests {
		if req.RecordID == recordID && req.Status == repository.RequestStatusPending {
			out = append(out, cloneRequest(req))
		}
	}
	return out
}

func cloneRecord(rec *repository.CostTableRecord) *repository.CostTableRecord {
	clone := *rec
	return &clone
}

func cloneRequest(req *repository.ApprovalRequest) *repository.ApprovalRequest {
	clone := *req
	return &clone
}

func sortRequests(reqs []*repository.ApprovalRequest) {
	sort.SliceStable(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}

// ── Collaborator fakes ────────────────────────────────────────────────────────

type fakeIdentity struct {
	users map[string][]string
}

func (f *fakeIdentity) GetUsersWithRole(ctx context.Context, role string) ([]string, error) {
	return f.users[role], nil
}

type publishedEvent struct {
	EventType  string
	RecordID   string
	ActorID    string
	Recipients []string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakeNotifier) PublishApprovalEvent(ctx context.Context, eventType, recordID, actorID string, recipients []string, payload map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{
		EventType:  eventType,
		RecordID:   recordID,
		ActorID:    actorID,
		Recipients: recipients,
	})
}

func (f *fakeNotifier) byType(eventType string) []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedEvent
	for _, e := range f.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ── Fixture ───────────────────────────────────────────────────────────────────

type fixture struct {
	engine    *WorkflowEngine
	scheduler *EscalationScheduler
	store     *memStore
	notifier  *fakeNotifier
	clock     *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, policyYAML string) *fixture {
	t.Helper()

	store := newMemStore()
	notifier := &fakeNotifier{}
	identity := &fakeIdentity{users: map[string][]string{
		"category_buyer":  {"buyer-1"},
		"pricing_analyst": {"analyst-1"},
	}}
	policies := newPolicyStore(t, policyYAML)
	log := logger.New(logger.Config{Level: "error", ServiceName: "test"})
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}

	engine := NewWorkflowEngine(store, store, store, policies, identity, notifier, log)
	engine.now = clock.Now

	scheduler := NewEscalationScheduler(store, store, store, policies, identity, notifier, log, time.Hour)
	scheduler.now = clock.Now

	return &fixture{
		engine:    engine,
		scheduler: scheduler,
		store:     store,
		notifier:  notifier,
		clock:     clock,
	}
}

func submitRecord(t *testing.T, f *fixture, amount int64) (*repository.CostTableRecord, *repository.ApprovalRequest) {
	t.Helper()
	req := newSubmitRequest(amount)
	rec, err := f.engine.Submit(context.Background(), req)
	require.NoError(t, err)

	pending := f.store.pendingFor(rec.ID)
	require.Len(t, pending, 1)
	return rec, pending[0]
}

// newSubmitRequest builds a canonical submission payload.
func newSubmitRequest(amount int64) *SubmitRequest {
	return &SubmitRequest{
		SupplierID:     "supplier-42",
		Category:       "beverages",
		Currency:       "BRL",
		EffectiveDate:  "2026-04-01",
		MonetaryImpact: amount,
		LineItemCount:  12,
		SubmittedBy:    "supplier-user-1",
	}
}
