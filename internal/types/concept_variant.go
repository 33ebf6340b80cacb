package types

import (
	"time"

	"github.com/google/uuid"
)

// ConceptVariant is one of N outputs of a single generation run.
// At most one variant per session carries Chosen=true.
type ConceptVariant struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID  `gorm:"type:uuid;not null;index" json:"session_id"`
	JobID     *uuid.UUID `gorm:"type:uuid;index" json:"job_id,omitempty"`

	StyleKey string `gorm:"column:style_key;not null" json:"style_key"`
	Prompt   string `gorm:"column:prompt" json:"prompt"`
	Provider string `gorm:"column:provider;not null" json:"provider"`

	ImageKey string `gorm:"column:image_key;not null" json:"image_key"`
	ImageURL string `gorm:"column:image_url" json:"image_url"`

	StyleAlignment float64 `gorm:"column:style_alignment;not null;default:0" json:"style_alignment"`
	Clarity        float64 `gorm:"column:clarity;not null;default:0" json:"clarity"`
	Uniqueness     float64 `gorm:"column:uniqueness;not null;default:0" json:"uniqueness"`
	ARFitness      float64 `gorm:"column:ar_fitness;not null;default:0" json:"ar_fitness"`

	Passed bool `gorm:"column:passed;not null;default:false" json:"passed"`
	Chosen bool `gorm:"column:chosen;not null;default:false" json:"chosen"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ConceptVariant) TableName() string { return "concept_variant" }
