package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// TriggerKind 触发器类型
type TriggerKind string

const (
	TriggerMemberAdded         TriggerKind = "member_added"
	TriggerTaskCreated         TriggerKind = "task_created"
	TriggerTaskCompleted       TriggerKind = "task_completed"
	TriggerCertificateExpiring TriggerKind = "certificate_expiring"
	TriggerCertificateExpired  TriggerKind = "certificate_expired"
	TriggerTaskOverdue         TriggerKind = "task_overdue"
	TriggerSchedule            TriggerKind = "schedule"
)

// AllTriggerKinds is the closed set of triggers a rule may declare.
var AllTriggerKinds = []TriggerKind{
	TriggerMemberAdded,
	TriggerTaskCreated,
	TriggerTaskCompleted,
	TriggerCertificateExpiring,
	TriggerCertificateExpired,
	TriggerTaskOverdue,
	TriggerSchedule,
}

func (t TriggerKind) Valid() bool {
	for _, k := range AllTriggerKinds {
		if k == t {
			return true
		}
	}
	return false
}

// ActionKind 动作类型
type ActionKind string

const (
	ActionSendNotification ActionKind = "send_notification"
	ActionAssignTask       ActionKind = "assign_task"
	ActionSendEmail        ActionKind = "send_email"
	ActionUpdateStatus     ActionKind = "update_status"
	ActionCreateTask       ActionKind = "create_task"
	ActionEscalate         ActionKind = "escalate"
)

var AllActionKinds = []ActionKind{
	ActionSendNotification,
	ActionAssignTask,
	ActionSendEmail,
	ActionUpdateStatus,
	ActionCreateTask,
	ActionEscalate,
}

func (a ActionKind) Valid() bool {
	for _, k := range AllActionKinds {
		if k == a {
			return true
		}
	}
	return false
}

// ActionSpec is one ordered step of a rule.
type ActionSpec struct {
	Kind   ActionKind             `json:"kind"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// ActionList keeps declared order when persisted as a JSON column.
type ActionList []ActionSpec

func (l ActionList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *ActionList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported action list column type %T", value)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, l)
}

// AutomationRule 租户配置的自动化规则
type AutomationRule struct {
	ID          string            `gorm:"primaryKey;size:36" json:"id"`
	TenantID    string            `gorm:"size:36;not null;index:idx_rule_tenant_trigger" json:"tenant_id"`
	Name        string            `gorm:"not null" json:"name"`
	Description string            `gorm:"type:text" json:"description"`
	Trigger     TriggerKind       `gorm:"column:trigger_kind;size:32;not null;index:idx_rule_tenant_trigger" json:"trigger"`
	Conditions  datatypes.JSONMap `gorm:"type:jsonb" json:"conditions"`
	Actions     ActionList        `gorm:"type:text" json:"actions"`
	Enabled     bool              `gorm:"not null;index" json:"enabled"`
	// TemplateKey links rules installed from the catalogue.
	TemplateKey string    `gorm:"size:64;index" json:"template_key,omitempty"`
	Position    int       `gorm:"not null;default:0" json:"position"`
	CreatedBy   string    `gorm:"size:36" json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AutomationAuditLog 规则触发审计记录（仅追加）
type AutomationAuditLog struct {
	ID            string      `gorm:"primaryKey;size:36" json:"id"`
	TenantID      string      `gorm:"size:36;not null;index" json:"tenant_id"`
	RuleID        string      `gorm:"size:36;not null;index" json:"rule_id"`
	RuleName      string      `json:"rule_name"`
	Trigger       TriggerKind `gorm:"column:trigger_kind;size:32;not null" json:"trigger"`
	ActionsCount  int         `gorm:"not null" json:"actions_count"`
	FailedActions int         `gorm:"not null;default:0" json:"failed_actions"`
	ResourceID    string      `gorm:"size:64" json:"resource_id,omitempty"`
	FiredAt       time.Time   `gorm:"index" json:"fired_at"`
}
