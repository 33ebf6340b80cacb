package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// FinalSketch derives from exactly one chosen variant.
type FinalSketch struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	VariantID uuid.UUID `gorm:"type:uuid;not null;index" json:"variant_id"`

	LineArtKey string `gorm:"column:line_art_key;not null" json:"line_art_key"`
	OverlayKey string `gorm:"column:overlay_key;not null" json:"overlay_key"`
	VectorKey  string `gorm:"column:vector_key" json:"vector_key,omitempty"`

	AnchorPoints      datatypes.JSON `gorm:"column:anchor_points" json:"anchor_points"`
	DefaultOpacity    float64        `gorm:"column:default_opacity;not null;default:0.8" json:"default_opacity"`
	RecommendedSizeCm float64        `gorm:"column:recommended_size_cm" json:"recommended_size_cm"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (FinalSketch) TableName() string { return "final_sketch" }

// ARPack derives from exactly one FinalSketch and feeds the live
// try-on overlay.
type ARPack struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	SketchID  uuid.UUID `gorm:"type:uuid;not null;index" json:"sketch_id"`

	OverlayKey   string         `gorm:"column:overlay_key;not null" json:"overlay_key"`
	Anchors      datatypes.JSON `gorm:"column:anchors" json:"anchors"`
	ShaderParams datatypes.JSON `gorm:"column:shader_params" json:"shader_params"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (ARPack) TableName() string { return "ar_pack" }
