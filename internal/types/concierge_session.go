package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StageDiscovery       = "discovery"
	StageBriefBuilding   = "brief_building"
	StageDesignAlignment = "design_alignment"
	StagePreviewReady    = "preview_ready"
	StageScheduling      = "scheduling"
	StageDeposit         = "deposit"
	StageConfirmed       = "confirmed"
)

// StageRank orders the linear stage progression. Unknown stages rank -1.
func StageRank(stage string) int {
	switch stage {
	case StageDiscovery:
		return 0
	case StageBriefBuilding:
		return 1
	case StageDesignAlignment:
		return 2
	case StagePreviewReady:
		return 3
	case StageScheduling:
		return 4
	case StageDeposit:
		return 5
	case StageConfirmed:
		return 6
	default:
		return -1
	}
}

type ConciergeSession struct {
	ID             uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkspaceID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"workspace_id"`
	ConversationID string     `gorm:"column:conversation_id;not null;index" json:"conversation_id"`
	ArtistID       *uuid.UUID `gorm:"type:uuid" json:"artist_id,omitempty"`

	Stage          string                          `gorm:"column:stage;not null;default:'discovery'" json:"stage"`
	Brief          datatypes.JSONType[DesignBrief] `gorm:"column:brief" json:"brief"`
	IntentFlags    datatypes.JSONType[IntentFlags] `gorm:"column:intent_flags" json:"intent_flags"`
	ReadinessScore float64                         `gorm:"column:readiness_score;not null;default:0" json:"readiness_score"`

	SketchOfferDeclinedCount int        `gorm:"column:sketch_offer_declined_count;not null;default:0" json:"sketch_offer_declined_count"`
	SketchOfferCooldownUntil *time.Time `gorm:"column:sketch_offer_cooldown_until" json:"sketch_offer_cooldown_until,omitempty"`
	MaxOffersReached         bool       `gorm:"column:max_offers_reached;not null;default:false" json:"max_offers_reached"`

	MessageCount int `gorm:"column:message_count;not null;default:0" json:"message_count"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ConciergeSession) TableName() string { return "concierge_session" }

type ConciergeMessage struct {
	ID        uuid.UUID                       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID                       `gorm:"type:uuid;not null;index" json:"session_id"`
	Role      string                          `gorm:"column:role;not null;default:'client'" json:"role"`
	Content   string                          `gorm:"column:content" json:"content"`
	Intent    datatypes.JSONType[IntentFlags] `gorm:"column:intent" json:"intent"`
	CreatedAt time.Time                       `gorm:"not null;default:now()" json:"created_at"`
}

func (ConciergeMessage) TableName() string { return "concierge_message" }
