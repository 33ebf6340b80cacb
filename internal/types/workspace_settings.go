package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Feature flag keys understood by the compiler.
const (
	FlagLiveProviders = "live_providers"
)

type WorkspaceSettings struct {
	ID          uuid.UUID         `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkspaceID uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex" json:"workspace_id"`
	Flags       datatypes.JSONMap `gorm:"column:flags" json:"flags"`
	CreatedAt   time.Time         `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:now()" json:"updated_at"`
}

func (WorkspaceSettings) TableName() string { return "workspace_settings" }

// FlagBool reads a boolean flag, false when absent or mistyped.
func (w *WorkspaceSettings) FlagBool(key string) bool {
	if w == nil || w.Flags == nil {
		return false
	}
	v, ok := w.Flags[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
