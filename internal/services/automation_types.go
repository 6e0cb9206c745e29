package services

import (
	"errors"
	"fmt"

	"complyhub/internal/models"
)

// Error taxonomy for automation. Executors wrap one of these so the engine can
// classify failures in logs and metrics.
var (
	// ErrConfiguration: a rule or action config is structurally invalid.
	ErrConfiguration = errors.New("automation: invalid configuration")
	// ErrDependencyUnavailable: store, notification channel or mail broker failed or timed out.
	ErrDependencyUnavailable = errors.New("automation: dependency unavailable")
	// ErrTenantScopeViolation: a resolved record does not belong to the context tenant.
	ErrTenantScopeViolation = errors.New("automation: tenant scope violation")
)

func configErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func dependencyError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDependencyUnavailable, op, err)
}

// ActionError describes a single failed action inside a rule firing.
type ActionError struct {
	RuleID string
	Index  int
	Kind   models.ActionKind
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("rule %s action #%d (%s): %v", e.RuleID, e.Index, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// errorClass names the taxonomy bucket of err for logs and metrics.
func errorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTenantScopeViolation):
		return "tenant_scope_violation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrDependencyUnavailable):
		return "dependency_unavailable"
	default:
		return "unknown"
	}
}

// AutomationContext is the ephemeral event payload passed from a trigger
// source through evaluation to every action of a rule.
type AutomationContext struct {
	TenantID    string                 `json:"tenant_id"`
	ActorUserID string                 `json:"actor_user_id,omitempty"`
	ActorEmail  string                 `json:"actor_email,omitempty"`
	Resource    map[string]interface{} `json:"resource,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ResourceID returns resource["id"] as a string, or "".
func (c AutomationContext) ResourceID() string {
	if c.Resource == nil {
		return ""
	}
	switch v := c.Resource["id"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// ActionResult is the outcome of one action attempt.
type ActionResult struct {
	Index int               `json:"index"`
	Kind  models.ActionKind `json:"kind"`
	Error string            `json:"error,omitempty"`
}

// RuleFiring summarises one rule evaluated for a trigger.
type RuleFiring struct {
	RuleID   string         `json:"rule_id"`
	RuleName string         `json:"rule_name"`
	Matched  bool           `json:"matched"`
	Actions  []ActionResult `json:"actions,omitempty"`
	Audited  bool           `json:"audited"`
}

// Failed counts failed actions.
func (f RuleFiring) Failed() int {
	n := 0
	for _, a := range f.Actions {
		if a.Error != "" {
			n++
		}
	}
	return n
}

// TriggerReport is returned by ExecuteTrigger for callers that want to
// inspect what happened; trigger sources are free to ignore it.
type TriggerReport struct {
	TenantID string             `json:"tenant_id"`
	Trigger  models.TriggerKind `json:"trigger"`
	Rules    []RuleFiring       `json:"rules"`
	Error    string             `json:"error,omitempty"`
}

// Fired counts rules whose conditions matched.
func (r TriggerReport) Fired() int {
	n := 0
	for _, f := range r.Rules {
		if f.Matched {
			n++
		}
	}
	return n
}
