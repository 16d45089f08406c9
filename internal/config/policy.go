package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/veyra-ai/be-cost-approvals/internal/errors"
	"github.com/veyra-ai/be-cost-approvals/internal/hierarchy"
	"github.com/veyra-ai/be-cost-approvals/internal/logger"
)

// duration decodes Go duration strings ("72h", "30m") from YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// policyFile is the on-disk YAML shape of the workflow policy.
type policyFile struct {
	// RoleLimits maps role name to authorization ceiling in cents.
	RoleLimits map[string]int64 `yaml:"role_limits"`
	// ApprovalTimeout is the default time a request may stay pending.
	ApprovalTimeout duration `yaml:"approval_timeout"`
	// RoleTimeouts overrides ApprovalTimeout per role.
	RoleTimeouts map[string]duration `yaml:"role_timeouts"`
	// AutoEscalation advances overdue requests to the next tier instead of
	// expiring the record.
	AutoEscalation *bool `yaml:"auto_escalation"`
	// RecordDeadline bounds the whole review chain from submission.
	RecordDeadline duration `yaml:"record_deadline"`
	// ReminderLead is how long before due-at a reminder fires.
	ReminderLead duration `yaml:"reminder_lead"`
}

// Policy is one validated, immutable snapshot of the workflow policy.
// Callers always read a whole snapshot so a reload can never mix old limits
// with new timeouts.
type Policy struct {
	hier           *hierarchy.Hierarchy
	defaultTimeout time.Duration
	roleTimeouts   map[hierarchy.Role]time.Duration
	autoEscalation bool
	recordDeadline time.Duration
	reminderLead   time.Duration
}

// Hierarchy returns the validated role hierarchy.
func (p *Policy) Hierarchy() *hierarchy.Hierarchy { return p.hier }

// AutoEscalation reports whether overdue requests escalate forward.
func (p *Policy) AutoEscalation() bool { return p.autoEscalation }

// RecordDeadline is the overall review deadline from submission.
func (p *Policy) RecordDeadline() time.Duration { return p.recordDeadline }

// ReminderLead is the pre-deadline reminder window.
func (p *Policy) ReminderLead() time.Duration { return p.reminderLead }

// TimeoutFor returns the pending-request timeout for a role.
func (p *Policy) TimeoutFor(role hierarchy.Role) time.Duration {
	if d, ok := p.roleTimeouts[role]; ok {
		return d
	}
	return p.defaultTimeout
}

// LoadPolicy reads and validates the workflow policy file. A broken hierarchy
// (missing role, non-monotone limits) fails here, never per request.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfiguration, "failed to read workflow policy")
	}
	return parsePolicy(data)
}

func parsePolicy(data []byte) (*Policy, error) {
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfiguration, "failed to parse workflow policy")
	}

	limits := make(map[hierarchy.Role]int64, len(pf.RoleLimits))
	for name, limit := range pf.RoleLimits {
		limits[hierarchy.Role(name)] = limit
	}

	hier, err := hierarchy.New(limits)
	if err != nil {
		return nil, err
	}

	p := &Policy{
		hier:           hier,
		defaultTimeout: time.Duration(pf.ApprovalTimeout),
		roleTimeouts:   make(map[hierarchy.Role]time.Duration, len(pf.RoleTimeouts)),
		autoEscalation: true,
		recordDeadline: time.Duration(pf.RecordDeadline),
		reminderLead:   time.Duration(pf.ReminderLead),
	}
	if p.defaultTimeout <= 0 {
		p.defaultTimeout = 72 * time.Hour
	}
	if p.recordDeadline <= 0 {
		p.recordDeadline = 30 * 24 * time.Hour
	}
	if p.reminderLead <= 0 {
		p.reminderLead = 24 * time.Hour
	}
	if pf.AutoEscalation != nil {
		p.autoEscalation = *pf.AutoEscalation
	}
	for name, d := range pf.RoleTimeouts {
		role := hierarchy.Role(name)
		if !hier.IsKnown(role) {
			return nil, errors.Newf(errors.ErrCodeConfiguration,
				"timeout configured for unknown role %q", name)
		}
		if d <= 0 {
			return nil, errors.Newf(errors.ErrCodeConfiguration,
				"timeout for role %q must be positive", name)
		}
		p.roleTimeouts[role] = time.Duration(d)
	}

	return p, nil
}

// PolicyStore publishes the current policy snapshot and swaps it atomically
// on reload.
type PolicyStore struct {
	current atomic.Pointer[Policy]
	path    string
}

// NewPolicyStore loads the initial policy from path.
func NewPolicyStore(path string) (*PolicyStore, error) {
	p, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	s := &PolicyStore{path: path}
	s.current.Store(p)
	return s, nil
}

// Current returns the active policy snapshot.
func (s *PolicyStore) Current() *Policy {
	return s.current.Load()
}

// Reload re-reads the policy file and swaps it in when valid.
// An invalid file leaves the active policy untouched.
func (s *PolicyStore) Reload() error {
	p, err := LoadPolicy(s.path)
	if err != nil {
		return err
	}
	s.current.Store(p)
	return nil
}

// Watch reloads the policy whenever the file changes, until ctx is done.
// Editors replace files via rename, so the parent directory is watched and
// events are filtered to the policy file itself.
func (s *PolicyStore) Watch(ctx context.Context, log *logger.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfiguration, "failed to create policy watcher")
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return errors.Wrap(err, errors.ErrCodeConfiguration, "failed to watch policy directory")
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if err := s.Reload(); err != nil {
					log.Error().Err(err).Str("path", s.path).Msg("Workflow policy reload rejected; keeping previous policy")
					continue
				}
				log.Info().Str("path", s.path).Msg("Workflow policy reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Policy watcher error")
			}
		}
	}()

	return nil
}
