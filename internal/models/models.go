package models

import (
	"time"

	"gorm.io/datatypes"
)

// Member roles inside an organization (tenant).
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Task statuses.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
)

// OrganizationMember 组织成员（租户内角色）
type OrganizationMember struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID  string    `gorm:"size:36;not null;index:idx_member_tenant_user,unique" json:"tenant_id"`
	UserID    string    `gorm:"size:36;not null;index:idx_member_tenant_user,unique" json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `gorm:"not null;default:'member';index" json:"role"` // owner, admin, member
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task 合规任务
type Task struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	TenantID    string     `gorm:"size:36;not null;index" json:"tenant_id"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	AssignedTo  string     `gorm:"size:36;index" json:"assigned_to"`
	CreatedBy   string     `gorm:"size:36" json:"created_by"`
	Status      string     `gorm:"not null;default:'pending';index" json:"status"` // pending, in_progress, completed
	Priority    string     `gorm:"not null;default:'medium'" json:"priority"`       // low, medium, high, urgent
	DueDate     *time.Time `gorm:"index" json:"due_date"`
	CompletedAt *time.Time `json:"completed_at"`
	// Source records what created the task, e.g. "automation:<rule id>".
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Certificate 员工证书（培训/资质），带到期时间
type Certificate struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID  string    `gorm:"size:36;not null;index" json:"tenant_id"`
	OwnerID   string    `gorm:"size:36;not null;index" json:"owner_id"`
	Name      string    `gorm:"not null" json:"name"`
	Issuer    string    `json:"issuer"`
	Status    string    `gorm:"not null;default:'valid'" json:"status"` // valid, renewal_pending, expired
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notification 站内通知
type Notification struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	TenantID  string     `gorm:"size:36;not null;index" json:"tenant_id"`
	UserID    string     `gorm:"size:36;not null;index" json:"user_id"`
	Title     string     `gorm:"not null" json:"title"`
	Message   string     `gorm:"type:text" json:"message"`
	Type      string     `gorm:"not null;default:'info'" json:"type"` // info, warning, success, error
	ActionURL string     `json:"action_url,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ActivityLog is the tenant-visible, append-only activity trail.
type ActivityLog struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	TenantID      string            `gorm:"size:36;not null;index" json:"tenant_id"`
	ActorKind     string            `gorm:"not null" json:"actor_kind"` // user, system
	ActorIdentity string            `json:"actor_identity"`
	EventKind     string            `gorm:"not null;index" json:"event_kind"`
	EntityKind    string            `json:"entity_kind"`
	EntityID      string            `gorm:"size:64" json:"entity_id"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt     time.Time         `gorm:"index" json:"created_at"`
}

// ScanCursor 记录每个租户每种扫描最近一次执行情况
type ScanCursor struct {
	TenantID      string    `gorm:"primaryKey;size:36" json:"tenant_id"`
	ScanKind      string    `gorm:"primaryKey;size:32" json:"scan_kind"`
	LastScannedAt time.Time `json:"last_scanned_at"`
	LastMatched   int       `json:"last_matched"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FireWatermark remembers when a (rule trigger, resource) pair last fired from a scan.
type FireWatermark struct {
	Key       string    `gorm:"column:watermark_key;primaryKey;size:191" json:"key"`
	FiredAt   time.Time `json:"fired_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}
