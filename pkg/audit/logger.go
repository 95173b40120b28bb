package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/sirupsen/logrus"
)

// Sink persists audit events. Implementations may fail; callers on the
// authorization path go through an Emitter, which never propagates failures.
type Sink interface {
	// Log persists a single event
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes and releases the sink
	Close() error
}

// NopSink discards every event
type NopSink struct{}

func (NopSink) Log(ctx context.Context, event *AuditEvent) error { return nil }
func (NopSink) Close() error                                     { return nil }

// FailureHook observes audit write failures (e.g. to count them)
type FailureHook func(event *AuditEvent, err error)

// Emitter is the fire-and-forget front of a Sink. Emit never returns an
// error: write failures are logged to the process log and dropped.
// A nil *Emitter is valid and discards everything.
type Emitter struct {
	sink      Sink
	log       *logrus.Logger
	async     bool
	onFailure FailureHook
	now       func() time.Time
	wg        sync.WaitGroup
}

// EmitterOption configures an Emitter
type EmitterOption func(*Emitter)

// WithProcessLogger sets the local logger used when the sink fails
func WithProcessLogger(log *logrus.Logger) EmitterOption {
	return func(e *Emitter) {
		if log != nil {
			e.log = log
		}
	}
}

// WithAsync makes Emit return before the sink write completes
func WithAsync(async bool) EmitterOption {
	return func(e *Emitter) {
		e.async = async
	}
}

// WithFailureHook registers a hook run after every failed write
func WithFailureHook(hook FailureHook) EmitterOption {
	return func(e *Emitter) {
		e.onFailure = hook
	}
}

// NewEmitter wraps sink. A nil sink discards events.
func NewEmitter(sink Sink, opts ...EmitterOption) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	e := &Emitter{
		sink: sink,
		log:  logrus.New(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit hands event to the sink. The event must not be modified afterwards.
func (e *Emitter) Emit(ctx context.Context, event *AuditEvent) {
	if e == nil || event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	if event.RiskLevel == "" {
		event.RiskLevel = RiskLow
	}

	if !e.async {
		e.write(ctx, event)
		return
	}

	// the request may finish before the write does
	detached := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.write(detached, event)
	}()
}

func (e *Emitter) write(ctx context.Context, event *AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(logrus.Fields{
				"event_type": event.EventType,
				"panic":      r,
			}).Error("audit sink panicked")
		}
	}()

	if err := e.sink.Log(ctx, event); err != nil {
		e.log.WithFields(logrus.Fields{
			"event_type":      event.EventType,
			"risk_level":      event.RiskLevel,
			"user_id":         event.UserID,
			"organization_id": event.OrganizationID,
			"resource_type":   event.ResourceType,
			"resource_id":     event.ResourceID,
			"action":          event.Action,
		}).WithError(err).Error("failed to write audit event")

		if e.onFailure != nil {
			e.onFailure(event, err)
		}
	}
}

// Flush waits for pending asynchronous writes
func (e *Emitter) Flush() {
	if e == nil {
		return
	}
	e.wg.Wait()
}

// Close flushes pending writes and closes the sink
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	e.Flush()
	return e.sink.Close()
}

// For binds an audit Context to the request in ctx. When user is nil the
// user stored in ctx (if any) is used.
func (e *Emitter) For(ctx context.Context, user *auth.UserDescriptor) *Context {
	if user == nil {
		user = auth.UserFromContext(ctx)
	}
	info, _ := RequestInfoFromContext(ctx)
	return &Context{
		emitter: e,
		ctx:     ctx,
		user:    user,
		request: info,
	}
}

// Context is an audit emitter bound to one request: the acting user (which
// may be nil) plus request metadata.
type Context struct {
	emitter *Emitter
	ctx     context.Context
	user    *auth.UserDescriptor
	request RequestInfo
	orgID   *int64
}

// WithOrganization returns a copy attributing events to orgID instead of
// the acting user's organization
func (c *Context) WithOrganization(orgID int64) *Context {
	cp := *c
	cp.orgID = &orgID
	return &cp
}

// User returns the bound user, or nil
func (c *Context) User() *auth.UserDescriptor {
	return c.user
}

// LogAccess records a read of a resource
func (c *Context) LogAccess(resourceType, resourceID, action string, details map[string]interface{}) {
	c.Log(&AuditEvent{
		EventType:    EventDataAccess,
		RiskLevel:    RiskLow,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Action:       action,
		Details:      details,
	})
}

// LogModification records a write with before/after values. Deletions are
// recorded as data.deletion at medium risk.
func (c *Context) LogModification(resourceType, resourceID, action string, oldValues, newValues map[string]interface{}) {
	event := &AuditEvent{
		EventType:    EventDataModification,
		RiskLevel:    RiskLow,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Action:       action,
	}
	if strings.HasPrefix(action, "delete") {
		event.EventType = EventDataDeletion
		event.RiskLevel = RiskMedium
	}
	if oldValues != nil || newValues != nil {
		event.Changes = &ChangeDetails{Before: oldValues, After: newValues}
	}
	c.Log(event)
}

// LogSecurityEvent records a security-relevant event at the given severity
func (c *Context) LogSecurityEvent(eventType EventType, severity RiskLevel, description string, details map[string]interface{}) {
	c.Log(&AuditEvent{
		EventType:   eventType,
		RiskLevel:   severity,
		Description: description,
		Details:     details,
	})
}

// Log fills in actor and request fields left empty on event and emits it
func (c *Context) Log(event *AuditEvent) {
	if c == nil || c.emitter == nil {
		return
	}

	if c.user != nil {
		if event.UserID == nil {
			id := c.user.ID
			event.UserID = &id
		}
		if event.Username == "" {
			event.Username = c.user.Username
		}
	}

	if event.OrganizationID == nil {
		switch {
		case c.orgID != nil:
			id := *c.orgID
			event.OrganizationID = &id
		case c.user != nil:
			id := c.user.OrganizationID
			event.OrganizationID = &id
		}
	}

	if event.IPAddress == "" {
		event.IPAddress = c.request.IPAddress
	}
	if event.UserAgent == "" {
		event.UserAgent = c.request.UserAgent
	}
	if event.Endpoint == "" {
		event.Endpoint = c.request.Endpoint
	}
	if event.Method == "" {
		event.Method = c.request.Method
	}
	if event.RequestID == "" {
		event.RequestID = c.request.RequestID
	}

	c.emitter.Emit(c.ctx, event)
}
