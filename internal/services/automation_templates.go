package services

import (
	"fmt"

	"complyhub/internal/models"
)

// TemplateCatalogVersion changes whenever a shipped template changes shape.
const TemplateCatalogVersion = "2024.1"

// RuleTemplate is a rule without identity or tenant.
type RuleTemplate struct {
	Key         string                 `json:"key"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Trigger     models.TriggerKind     `json:"trigger"`
	Conditions  map[string]interface{} `json:"conditions"`
	Actions     models.ActionList      `json:"actions"`
}

var ruleTemplates = []RuleTemplate{
	{
		Key:         "welcome_new_member",
		Name:        "Welcome New Member",
		Description: "Greets a new team member and gives them an onboarding task.",
		Trigger:     models.TriggerMemberAdded,
		Actions: models.ActionList{
			{Kind: models.ActionSendNotification, Config: map[string]interface{}{
				"title":   "Welcome to the team",
				"message": "Your account is ready. Start with the onboarding checklist.",
				"type":    "success",
			}},
			{Kind: models.ActionCreateTask, Config: map[string]interface{}{
				"title":       "Complete onboarding checklist",
				"description": "Review policies and acknowledge the compliance handbook.",
				"priority":    "medium",
				"dueInDays":   7,
			}},
		},
	},
	{
		Key:         "certificate_expiring_soon",
		Name:        "Certificate Expiring Soon",
		Description: "Reminds the owner of a certificate that expires within 30 days.",
		Trigger:     models.TriggerCertificateExpiring,
		Actions: models.ActionList{
			{Kind: models.ActionSendNotification, Config: map[string]interface{}{
				"title":     "Certificate expiring",
				"message":   "One of your certificates expires soon. Plan the renewal.",
				"type":      "warning",
				"actionUrl": "/certificates",
			}},
			{Kind: models.ActionCreateTask, Config: map[string]interface{}{
				"title":    "Renew Certificate",
				"priority": "high",
			}},
		},
	},
	{
		Key:         "overdue_task_escalation",
		Name:        "Overdue Task Escalation",
		Description: "Escalates tasks that are three or more days overdue to owners and admins.",
		Trigger:     models.TriggerTaskOverdue,
		Conditions:  map[string]interface{}{"daysOverdue": 3},
		Actions: models.ActionList{
			{Kind: models.ActionEscalate, Config: map[string]interface{}{
				"title":     "Overdue task",
				"message":   "A compliance task is more than three days overdue.",
				"actionUrl": "/tasks",
			}},
		},
	},
	{
		Key:         "task_completion_celebration",
		Name:        "Task Completion Celebration",
		Description: "Thanks the member who completed a task.",
		Trigger:     models.TriggerTaskCompleted,
		Actions: models.ActionList{
			{Kind: models.ActionSendNotification, Config: map[string]interface{}{
				"title":   "Task completed",
				"message": "Nice work, the task is done.",
				"type":    "success",
			}},
		},
	},
}

// ListTemplates returns a copy of the catalogue.
func ListTemplates() []RuleTemplate {
	out := make([]RuleTemplate, len(ruleTemplates))
	copy(out, ruleTemplates)
	return out
}

// GetTemplate looks a template up by key.
func GetTemplate(key string) (RuleTemplate, bool) {
	for _, t := range ruleTemplates {
		if t.Key == key {
			return t, true
		}
	}
	return RuleTemplate{}, false
}

// Validate checks a template is structurally a rule.
func (t RuleTemplate) Validate() error {
	if t.Key == "" || t.Name == "" {
		return configErrorf("template needs key and name")
	}
	if !t.Trigger.Valid() {
		return configErrorf("template %s: unknown trigger %q", t.Key, t.Trigger)
	}
	return validateActions(t.Actions)
}

// ToRule instantiates the template for a tenant. Maps are deep-copied so
// tenants never share config.
func (t RuleTemplate) ToRule(tenantID, createdBy string, position int) *models.AutomationRule {
	actions := make(models.ActionList, 0, len(t.Actions))
	for _, a := range t.Actions {
		actions = append(actions, models.ActionSpec{Kind: a.Kind, Config: copyMap(a.Config)})
	}
	return &models.AutomationRule{
		TenantID:    tenantID,
		Name:        t.Name,
		Description: t.Description,
		Trigger:     t.Trigger,
		Conditions:  copyMap(t.Conditions),
		Actions:     actions,
		Enabled:     true,
		TemplateKey: t.Key,
		Position:    position,
		CreatedBy:   createdBy,
	}
}

func validateActions(actions models.ActionList) error {
	for i, a := range actions {
		if !a.Kind.Valid() {
			return configErrorf("action #%d: unknown kind %q", i, a.Kind)
		}
	}
	return nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			v = copyMap(nested)
		}
		out[k] = v
	}
	return out
}

func (t RuleTemplate) String() string {
	return fmt.Sprintf("%s (%s, %d actions)", t.Key, t.Trigger, len(t.Actions))
}
