package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"complyhub/internal/metrics"
	"complyhub/internal/models"
	"complyhub/internal/store"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrMissingTenant is reported when a context arrives without a tenant id.
var ErrMissingTenant = errors.New("automation: context has no tenant id")

// TriggerExecutor is the single entry point used by every trigger source.
type TriggerExecutor interface {
	ExecuteTrigger(ctx context.Context, trigger models.TriggerKind, actx AutomationContext) TriggerReport
}

// RuleEngine loads tenant rules, evaluates their conditions and drives the
// action executors in declared order. It never mutates rules.
type RuleEngine struct {
	rules         store.RuleStore
	audit         AuditSink
	executors     map[models.ActionKind]ActionExecutor
	logger        *logrus.Logger
	tracer        trace.Tracer
	actionTimeout time.Duration
	now           func() time.Time

	cacheTTL time.Duration
	cacheMu  sync.Mutex
	cache    map[string]cachedRules
}

type cachedRules struct {
	rules    []models.AutomationRule
	loadedAt time.Time
}

type EngineOption func(*RuleEngine)

// WithActionTimeout bounds every single action execution.
func WithActionTimeout(d time.Duration) EngineOption {
	return func(e *RuleEngine) {
		if d > 0 {
			e.actionTimeout = d
		}
	}
}

// WithRuleCacheTTL enables a per-tenant rule cache. Zero disables caching.
func WithRuleCacheTTL(d time.Duration) EngineOption {
	return func(e *RuleEngine) { e.cacheTTL = d }
}

func WithExecutors(executors ...ActionExecutor) EngineOption {
	return func(e *RuleEngine) {
		for _, ex := range executors {
			e.executors[ex.Kind()] = ex
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *RuleEngine) { e.now = now }
}

// NewRuleEngine 创建规则引擎
func NewRuleEngine(rules store.RuleStore, audit AuditSink, logger *logrus.Logger, opts ...EngineOption) *RuleEngine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &RuleEngine{
		rules:         rules,
		audit:         audit,
		executors:     make(map[models.ActionKind]ActionExecutor),
		logger:        logger,
		tracer:        otel.Tracer("complyhub.automation"),
		actionTimeout: 10 * time.Second,
		now:           time.Now,
		cache:         make(map[string]cachedRules),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterExecutor installs or replaces the executor for its kind.
func (e *RuleEngine) RegisterExecutor(ex ActionExecutor) {
	e.executors[ex.Kind()] = ex
}

// LoadRules returns the enabled rules of a tenant in evaluation order.
func (e *RuleEngine) LoadRules(ctx context.Context, tenantID string) ([]models.AutomationRule, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	if e.cacheTTL > 0 {
		e.cacheMu.Lock()
		entry, ok := e.cache[tenantID]
		e.cacheMu.Unlock()
		if ok && e.now().Sub(entry.loadedAt) < e.cacheTTL {
			return append([]models.AutomationRule(nil), entry.rules...), nil
		}
	}

	rules, err := e.rules.ListEnabledRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load rules for tenant %s: %w", tenantID, err)
	}
	// the store filters already; keep the engine honest regardless of adapter
	out := rules[:0]
	for _, r := range rules {
		if r.Enabled && r.TenantID == tenantID {
			out = append(out, r)
		}
	}

	if e.cacheTTL > 0 {
		e.cacheMu.Lock()
		e.cache[tenantID] = cachedRules{rules: append([]models.AutomationRule(nil), out...), loadedAt: e.now()}
		e.cacheMu.Unlock()
	}
	return out, nil
}

// InvalidateRules drops the cached rules of a tenant; "" drops everything.
func (e *RuleEngine) InvalidateRules(tenantID string) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if tenantID == "" {
		e.cache = make(map[string]cachedRules)
		return
	}
	delete(e.cache, tenantID)
}

// ExecuteTrigger runs every enabled rule of the context tenant whose trigger
// equals trigger. Failures are logged and reported, never returned.
func (e *RuleEngine) ExecuteTrigger(ctx context.Context, trigger models.TriggerKind, actx AutomationContext) TriggerReport {
	report := TriggerReport{TenantID: actx.TenantID, Trigger: trigger}
	ctx, span := e.tracer.Start(ctx, "automation.execute_trigger")
	defer span.End()
	span.SetAttributes(
		attribute.String("automation.tenant_id", actx.TenantID),
		attribute.String("automation.trigger", string(trigger)),
	)
	metrics.IncTriggerReceived(string(trigger))

	log := e.logger.WithFields(logrus.Fields{"tenant_id": actx.TenantID, "trigger": trigger})
	if actx.TenantID == "" {
		report.Error = ErrMissingTenant.Error()
		span.SetStatus(codes.Error, report.Error)
		log.Warn("automation: trigger rejected without tenant")
		return report
	}
	if !trigger.Valid() {
		report.Error = configErrorf("unknown trigger %q", trigger).Error()
		log.Warn("automation: unknown trigger")
		return report
	}

	rules, err := e.LoadRules(ctx, actx.TenantID)
	if err != nil {
		span.RecordError(err)
		report.Error = dependencyError("load rules", err).Error()
		log.Errorf("automation: %v", err)
		return report
	}

	for _, rule := range rules {
		if rule.Trigger != trigger {
			continue
		}
		report.Rules = append(report.Rules, e.fireRule(ctx, rule, trigger, actx))
	}
	span.SetAttributes(attribute.Int("automation.rules_fired", report.Fired()))
	return report
}

func (e *RuleEngine) fireRule(ctx context.Context, rule models.AutomationRule, trigger models.TriggerKind, actx AutomationContext) RuleFiring {
	firing := RuleFiring{RuleID: rule.ID, RuleName: rule.Name}
	if !EvaluateConditions(rule.Conditions, actx) {
		return firing
	}
	firing.Matched = true
	metrics.IncRuleFiring(string(trigger))

	ctx, span := e.tracer.Start(ctx, "automation.rule")
	defer span.End()
	span.SetAttributes(
		attribute.String("automation.rule_id", rule.ID),
		attribute.Int("automation.actions", len(rule.Actions)),
	)
	log := e.logger.WithFields(logrus.Fields{
		"tenant_id": actx.TenantID,
		"trigger":   trigger,
		"rule_id":   rule.ID,
		"rule_name": rule.Name,
	})

	for i, spec := range rule.Actions {
		res := ActionResult{Index: i, Kind: spec.Kind}
		if err := e.runAction(ctx, spec, actx); err != nil {
			aerr := &ActionError{RuleID: rule.ID, Index: i, Kind: spec.Kind, Err: err}
			res.Error = aerr.Error()
			class := errorClass(err)
			metrics.IncActionFailure(class)
			span.RecordError(aerr)
			if class == "tenant_scope_violation" {
				e.reportScopeViolation(ctx, log, rule, actx, aerr)
			} else {
				log.WithFields(logrus.Fields{"action": spec.Kind, "index": i, "class": class}).
					Warnf("automation: action failed: %v", err)
			}
		}
		firing.Actions = append(firing.Actions, res)
	}

	if len(rule.Actions) == 0 || e.audit == nil {
		return firing
	}
	rec := &models.AutomationAuditLog{
		TenantID:      actx.TenantID,
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		Trigger:       trigger,
		ActionsCount:  len(rule.Actions),
		FailedActions: firing.Failed(),
		ResourceID:    actx.ResourceID(),
		FiredAt:       e.now().UTC(),
	}
	if err := e.audit.RecordFiring(ctx, rec); err != nil {
		log.Errorf("automation: audit write failed: %v", err)
	} else {
		firing.Audited = true
	}
	return firing
}

// runAction executes one action under the action timeout; panics are contained.
func (e *RuleEngine) runAction(ctx context.Context, spec models.ActionSpec, actx AutomationContext) (err error) {
	ex, ok := e.executors[spec.Kind]
	if !ok {
		return configErrorf("unsupported action kind %q", spec.Kind)
	}
	actCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", spec.Kind, r)
		}
	}()

	err = ex.Execute(actCtx, spec.Config, actx)
	if err != nil && errorClass(err) == "unknown" && errors.Is(actCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s timed out after %s: %v", ErrDependencyUnavailable, spec.Kind, e.actionTimeout, err)
	}
	return err
}

func (e *RuleEngine) reportScopeViolation(ctx context.Context, log *logrus.Entry, rule models.AutomationRule, actx AutomationContext, aerr *ActionError) {
	log.WithFields(logrus.Fields{"action": aerr.Kind, "index": aerr.Index, "security": true}).
		Errorf("automation: tenant scope violation, action refused: %v", aerr.Err)
	if e.audit == nil {
		return
	}
	err := e.audit.LogActivity(ctx, ActivityEntry{
		TenantID:      actx.TenantID,
		ActorKind:     ActorSystem,
		ActorIdentity: "automation",
		EventKind:     "automation.tenant_scope_violation",
		EntityKind:    "automation_rule",
		EntityID:      rule.ID,
		Metadata: map[string]interface{}{
			"action":      string(aerr.Kind),
			"index":       aerr.Index,
			"resource_id": actx.ResourceID(),
			"error":       aerr.Err.Error(),
		},
	})
	if err != nil {
		log.Warnf("automation: activity write failed: %v", err)
	}
}
