package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobTypeConcept = "concept"
	JobTypeSketch  = "sketch"
	JobTypeARPack  = "ar_pack"
)

const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// JobRun is the generic async work envelope wrapping every generation
// step, for retry and audit purposes.
type JobRun struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkspaceID uuid.UUID  `gorm:"type:uuid;not null;index" json:"workspace_id"`
	SessionID   *uuid.UUID `gorm:"type:uuid;index" json:"session_id,omitempty"`

	JobType string `gorm:"column:job_type;not null;index" json:"job_type"`
	Status  string `gorm:"column:status;not null;default:'queued';index" json:"status"`

	RetryCount int `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	MaxRetries int `gorm:"column:max_retries;not null;default:3" json:"max_retries"`

	Payload datatypes.JSON `gorm:"column:payload" json:"payload"`
	Result  datatypes.JSON `gorm:"column:result" json:"result"`
	Error   string         `gorm:"column:error" json:"error,omitempty"`

	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	LockedAt    *time.Time `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_run" }
