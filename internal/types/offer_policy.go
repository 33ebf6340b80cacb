package types

import (
	"time"

	"github.com/google/uuid"
)

// OfferPolicy is per-workspace configuration for the offer gate.
// Read-only from the compiler's perspective; studio tooling mutates it
// through the workspace configuration actions.
type OfferPolicy struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"workspace_id"`

	SingleReadinessThreshold      float64 `gorm:"column:single_readiness_threshold;not null;default:0.7" json:"single_readiness_threshold"`
	SleeveReadinessThreshold      float64 `gorm:"column:sleeve_readiness_threshold;not null;default:0.75" json:"sleeve_readiness_threshold"`
	PreviewRequestThreshold       float64 `gorm:"column:preview_request_threshold;not null;default:0.5" json:"preview_request_threshold"`
	SleevePreviewRequestThreshold float64 `gorm:"column:sleeve_preview_request_threshold;not null;default:0.55" json:"sleeve_preview_request_threshold"`

	CooldownMinutes     int `gorm:"column:cooldown_minutes;not null;default:45" json:"cooldown_minutes"`
	MinReferencesSingle int `gorm:"column:min_references_single;not null;default:2" json:"min_references_single"`
	MinReferencesSleeve int `gorm:"column:min_references_sleeve;not null;default:5" json:"min_references_sleeve"`
	MaxOffersPerSession int `gorm:"column:max_offers_per_session;not null;default:3" json:"max_offers_per_session"`
	VariantsPerBatch    int `gorm:"column:variants_per_batch;not null;default:6" json:"variants_per_batch"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (OfferPolicy) TableName() string { return "offer_policy" }
