package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/authz"
)

// Record is an append-only trace of a security-relevant event. Records are
// never updated or deleted through the application.
type Record struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id,omitempty"`
	PrincipalID string           `json:"principal_id,omitempty"`
	Action      string           `json:"action"`
	Resource    string           `json:"resource,omitempty"`
	ResourceID  string           `json:"resource_id,omitempty"`
	Allowed     bool             `json:"allowed"`
	Reason      authz.DenyReason `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"created_at"` // UTC
}

// non-authorization events recorded alongside decisions
const (
	ActionLogin         = "login"
	ActionLoginFailed   = "login_failed"
	ActionLogout        = "logout"
	ActionSessionReused = "session_reused_after_revoke"
)

type Repository interface {
	AppendAuditRecord(ctx context.Context, rec Record) error
}

type (
	// Recorder writes audit records off the request path. Recording never
	// blocks and never fails a request: on persistent store failure the
	// record is written to the fallback logger instead of being dropped
	// silently.
	Recorder struct {
		repo    Repository
		logger  core.Logger
		nowFunc func() time.Time // mockable

		recC chan Record
		done chan struct{}
	}

	Option func(*Recorder)
)

const (
	bufferSize   = 256
	maxAttempts  = 3
	retryBackoff = 100 * time.Millisecond
)

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.nowFunc = now }
}

func NewRecorder(repo Repository, logger core.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		repo:    repo,
		logger:  logger,
		nowFunc: time.Now,
		recC:    make(chan Record, bufferSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Record enqueues rec for persistence. It never blocks: when the buffer is
// full the record goes straight to the fallback logger.
func (r *Recorder) Record(rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.nowFunc().UTC()
	}
	select {
	case r.recC <- rec:
	default:
		r.fallback(rec, "audit buffer full")
	}
}

// Decision records the outcome of an authorization check.
func (r *Recorder) Decision(principal, tenantID string, action authz.Action, res authz.Resource, resID string, d authz.Decision) {
	r.Record(Record{
		TenantID:    tenantID,
		PrincipalID: principal,
		Action:      string(action),
		Resource:    string(res),
		ResourceID:  resID,
		Allowed:     d.Allowed,
		Reason:      d.Reason,
	})
}

// Close stops the worker after draining buffered records.
func (r *Recorder) Close() {
	close(r.recC)
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.recC {
		r.persist(rec)
	}
}

func (r *Recorder) persist(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = r.repo.AppendAuditRecord(ctx, rec); err == nil {
			return
		}
		time.Sleep(retryBackoff << attempt)
	}
	r.fallback(rec, "audit store unavailable", "error", err)
}

func (r *Recorder) fallback(rec Record, msg string, args ...interface{}) {
	args = append(args,
		"audit_id", rec.ID,
		"tenant_id", rec.TenantID,
		"principal_id", rec.PrincipalID,
		"action", rec.Action,
		"resource", rec.Resource,
		"resource_id", rec.ResourceID,
		"allowed", rec.Allowed,
		"reason", rec.Reason,
	)
	r.logger.Error(msg, args...)
}
