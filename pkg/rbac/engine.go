package rbac

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/observability"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

var tracer = otel.Tracer("github.com/platinummonkey/fleetauthz/pkg/rbac")

// Engine answers "may this user perform this action in this context". It is
// stateless apart from the matrix and safe for concurrent use.
type Engine struct {
	matrix    *Matrix
	guard     IsolationGuard
	evaluator *Evaluator
	emitter   *audit.Emitter
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithAuditEmitter sets the emitter used for decision and violation events
func WithAuditEmitter(e *audit.Emitter) EngineOption {
	return func(en *Engine) {
		en.emitter = e
	}
}

// WithLogger sets the process logger
func WithLogger(l *observability.Logger) EngineOption {
	return func(en *Engine) {
		if l != nil {
			en.logger = l
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(en *Engine) {
		en.metrics = m
	}
}

// NewEngine creates an engine over matrix, consulting guard for
// organization isolation
func NewEngine(matrix *Matrix, guard IsolationGuard, opts ...EngineOption) *Engine {
	e := &Engine{
		matrix: matrix,
		guard:  guard,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.evaluator = NewEvaluator(guard, e.emitter)
	return e
}

// Matrix returns the engine's rule matrix
func (e *Engine) Matrix() *Matrix {
	return e.matrix
}

// CheckAccess decides whether user may perform action. Every decision is
// audited and counted; a denial is a Decision, never an error.
func (e *Engine) CheckAccess(ctx context.Context, user *auth.UserDescriptor, action Action, rc RequestContext) Decision {
	ctx, span := tracer.Start(ctx, "rbac.check_access", trace.WithAttributes(
		attribute.String("action", string(action)),
	))
	defer span.End()

	d := e.decide(ctx, user, action, rc)

	span.SetAttributes(
		attribute.Bool("decision.allowed", d.Allowed),
		attribute.String("decision.code", string(d.Code)),
	)
	e.metrics.ObserveDecision(string(action), string(d.Code))
	e.record(ctx, user, action, rc, d)
	return d
}

func (e *Engine) decide(ctx context.Context, user *auth.UserDescriptor, action Action, rc RequestContext) Decision {
	if user == nil {
		return deny(CodeUnauthenticated, "no authenticated user")
	}

	rule, err := e.matrix.Lookup(user.Role, action)
	if err != nil {
		e.logger.WithFields(map[string]interface{}{
			"reason_code": string(CodeMissingRule),
			"role":        string(user.Role),
			"action":      string(action),
			"user_id":     user.ID,
		}).Warn("no access rule for role and action")
		e.metrics.ObserveMissingRule(string(user.Role), string(action))
		return deny(CodeMissingRule, "no rule grants %s to role %s", action, user.Role)
	}
	if !rule.Allowed {
		return deny(CodeRuleDenied, "role %s may not %s", user.Role, action)
	}

	// BossAqua is checked ahead of conditions so no rule can grant it
	if rc.TargetOrganizationID != nil {
		if d, ok := e.checkTargetOrganization(ctx, user, action, *rc.TargetOrganizationID); !ok {
			return d
		}
	}

	if rule.Conditions == nil {
		return allow(rule.Description)
	}
	return e.evaluator.Evaluate(ctx, user, action, rule.Conditions, rc)
}

func (e *Engine) checkTargetOrganization(ctx context.Context, user *auth.UserDescriptor, action Action, orgID int64) (Decision, bool) {
	isBossAqua, err := e.guard.IsBossAquaOrganization(ctx, orgID)
	if err != nil {
		if !errors.Is(err, orgs.ErrOrganizationNotFound) {
			e.logger.WithError(err).WithField("organization_id", orgID).Error("organization lookup failed during access check")
		}
		return deny(CodeOrganizationNotFound, "organization %d could not be verified", orgID), false
	}
	if isBossAqua && !e.guard.ValidateBossAquaAccess(ctx, user, string(action)) {
		return deny(CodeOrganizationForbidden, "organization %d is restricted to super_admin", orgID), false
	}
	return Decision{}, true
}

func (e *Engine) record(ctx context.Context, user *auth.UserDescriptor, action Action, rc RequestContext, d Decision) {
	details := map[string]interface{}{
		"code":   string(d.Code),
		"reason": d.Reason,
	}
	if rc.TargetOrganizationID != nil {
		details["target_organization_id"] = *rc.TargetOrganizationID
	}
	if rc.TargetUserID != nil {
		details["target_user_id"] = *rc.TargetUserID
	}

	event := &audit.AuditEvent{
		EventType:   audit.EventPermissionGranted,
		RiskLevel:   audit.RiskLow,
		Action:      string(action),
		Description: d.Reason,
		Details:     details,
	}
	if !d.Allowed {
		event.EventType = audit.EventPermissionDenied
		event.RiskLevel = audit.RiskMedium
	}
	e.emitter.For(ctx, user).Log(event)
}

// AllowedActions returns the actions user may perform under some context
func (e *Engine) AllowedActions(user *auth.UserDescriptor) []Action {
	if user == nil {
		return nil
	}
	return e.matrix.AllowedActions(user.Role)
}

// Summary groups the user's allowed actions by category
func (e *Engine) Summary(user *auth.UserDescriptor) ActionSummary {
	if user == nil {
		return ActionSummary{}
	}
	return e.matrix.Summary(user.Role)
}
