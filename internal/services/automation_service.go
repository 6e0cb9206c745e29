package services

import (
	"context"
	"fmt"
	"time"

	"complyhub/internal/models"
	"complyhub/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AutomationRuleRequest 创建/更新规则的请求
type AutomationRuleRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Description string                 `json:"description"`
	Trigger     models.TriggerKind     `json:"trigger" binding:"required"`
	Conditions  map[string]interface{} `json:"conditions"`
	Actions     models.ActionList      `json:"actions"`
	Enabled     *bool                  `json:"enabled"`
	Position    *int                   `json:"position"`
}

func (r *AutomationRuleRequest) validate() error {
	if r == nil {
		return configErrorf("request required")
	}
	if r.Name == "" {
		return configErrorf("name required")
	}
	if !r.Trigger.Valid() {
		return configErrorf("unsupported trigger: %s", r.Trigger)
	}
	return validateActions(r.Actions)
}

// AutomationService manages tenant rules. Every write invalidates the
// engine's cached rules for the tenant.
type AutomationService struct {
	store  store.Store
	engine *RuleEngine
	logger *logrus.Logger
	now    func() time.Time
}

func NewAutomationService(st store.Store, engine *RuleEngine, logger *logrus.Logger) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationService{store: st, engine: engine, logger: logger, now: time.Now}
}

func (s *AutomationService) invalidate(tenantID string) {
	if s.engine != nil {
		s.engine.InvalidateRules(tenantID)
	}
}

// ListRules 返回租户全部规则（含禁用）
func (s *AutomationService) ListRules(ctx context.Context, tenantID string) ([]models.AutomationRule, error) {
	return s.store.ListRules(ctx, tenantID)
}

func (s *AutomationService) GetRule(ctx context.Context, tenantID, id string) (*models.AutomationRule, error) {
	return s.store.GetRule(ctx, tenantID, id)
}

// PreviewRules returns the enabled rules that would be evaluated for trigger.
func (s *AutomationService) PreviewRules(ctx context.Context, tenantID string, trigger models.TriggerKind) ([]models.AutomationRule, error) {
	if trigger != "" && !trigger.Valid() {
		return nil, configErrorf("unsupported trigger: %s", trigger)
	}
	rules, err := s.engine.LoadRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if trigger == "" {
		return rules, nil
	}
	out := make([]models.AutomationRule, 0, len(rules))
	for _, r := range rules {
		if r.Trigger == trigger {
			out = append(out, r)
		}
	}
	return out, nil
}

// CreateRule 新建规则
func (s *AutomationService) CreateRule(ctx context.Context, tenantID, actorID string, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	position := 0
	if req.Position != nil {
		position = *req.Position
	}
	now := s.now().UTC()
	rule := &models.AutomationRule{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Trigger:     req.Trigger,
		Conditions:  copyMap(req.Conditions),
		Actions:     req.Actions,
		Enabled:     enabled,
		Position:    position,
		CreatedBy:   actorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rule.Actions == nil {
		rule.Actions = models.ActionList{}
	}
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, err
	}
	s.invalidate(tenantID)
	s.audit(ctx, tenantID, actorID, "automation.rule_created", rule.ID, map[string]interface{}{"name": rule.Name, "trigger": string(rule.Trigger)})
	return rule, nil
}

// UpdateRule 全量更新规则
func (s *AutomationService) UpdateRule(ctx context.Context, tenantID, actorID, id string, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	rule, err := s.store.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	rule.Name = req.Name
	rule.Description = req.Description
	rule.Trigger = req.Trigger
	rule.Conditions = copyMap(req.Conditions)
	rule.Actions = req.Actions
	if rule.Actions == nil {
		rule.Actions = models.ActionList{}
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.Position != nil {
		rule.Position = *req.Position
	}
	rule.UpdatedAt = s.now().UTC()
	if err := s.store.SaveRule(ctx, rule); err != nil {
		return nil, err
	}
	s.invalidate(tenantID)
	s.audit(ctx, tenantID, actorID, "automation.rule_updated", rule.ID, map[string]interface{}{"enabled": rule.Enabled})
	return rule, nil
}

// SetEnabled toggles a rule.
func (s *AutomationService) SetEnabled(ctx context.Context, tenantID, actorID, id string, enabled bool) (*models.AutomationRule, error) {
	rule, err := s.store.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	rule.Enabled = enabled
	rule.UpdatedAt = s.now().UTC()
	if err := s.store.SaveRule(ctx, rule); err != nil {
		return nil, err
	}
	s.invalidate(tenantID)
	s.audit(ctx, tenantID, actorID, "automation.rule_updated", rule.ID, map[string]interface{}{"enabled": enabled})
	return rule, nil
}

// DeleteRule 删除规则
func (s *AutomationService) DeleteRule(ctx context.Context, tenantID, actorID, id string) error {
	if err := s.store.DeleteRule(ctx, tenantID, id); err != nil {
		return err
	}
	s.invalidate(tenantID)
	s.audit(ctx, tenantID, actorID, "automation.rule_deleted", id, nil)
	return nil
}

// InstallTemplates seeds rules from the catalogue. Keys already installed
// for the tenant are skipped; no keys means the whole catalogue.
func (s *AutomationService) InstallTemplates(ctx context.Context, tenantID, actorID string, keys ...string) ([]models.AutomationRule, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	var templates []RuleTemplate
	if len(keys) == 0 {
		templates = ListTemplates()
	} else {
		for _, k := range keys {
			t, ok := GetTemplate(k)
			if !ok {
				return nil, configErrorf("unknown template %q", k)
			}
			templates = append(templates, t)
		}
	}

	var installed []models.AutomationRule
	for i, t := range templates {
		if err := t.Validate(); err != nil {
			return installed, err
		}
		exists, err := s.store.HasTemplateRule(ctx, tenantID, t.Key)
		if err != nil {
			return installed, err
		}
		if exists {
			continue
		}
		rule := t.ToRule(tenantID, actorID, i)
		rule.ID = uuid.NewString()
		now := s.now().UTC()
		rule.CreatedAt, rule.UpdatedAt = now, now
		if err := s.store.CreateRule(ctx, rule); err != nil {
			return installed, fmt.Errorf("install template %s: %w", t.Key, err)
		}
		installed = append(installed, *rule)
	}
	if len(installed) > 0 {
		s.invalidate(tenantID)
		s.logger.WithField("tenant_id", tenantID).Infof("installed %d automation templates", len(installed))
	}
	return installed, nil
}

// ListAuditLogs 返回规则触发审计记录
func (s *AutomationService) ListAuditLogs(ctx context.Context, tenantID string, limit int) ([]models.AutomationAuditLog, error) {
	return s.store.ListAuditLogs(ctx, tenantID, limit)
}

func (s *AutomationService) audit(ctx context.Context, tenantID, actorID, event, ruleID string, meta map[string]interface{}) {
	err := s.store.AppendActivity(ctx, &models.ActivityLog{
		TenantID:      tenantID,
		ActorKind:     ActorUser,
		ActorIdentity: actorID,
		EventKind:     event,
		EntityKind:    "automation_rule",
		EntityID:      ruleID,
		Metadata:      meta,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		s.logger.Warnf("automation: activity write failed: %v", err)
	}
}
