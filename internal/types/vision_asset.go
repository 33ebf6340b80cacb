package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AssetTypeReferenceImage = "reference_image"
	AssetTypePlacementPhoto = "placement_photo"
)

const (
	AssetStatusUploaded = "uploaded"
	AssetStatusAccepted = "accepted"
	AssetStatusRejected = "rejected"
)

// VisionAsset is one uploaded image. Immutable once quality-checked,
// except for the later extraction record hanging off it.
type VisionAsset struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`

	AssetType  string `gorm:"column:asset_type;not null" json:"asset_type"`
	StorageKey string `gorm:"column:storage_key;not null" json:"storage_key"`
	FileURL    string `gorm:"column:file_url" json:"file_url"`
	MimeType   string `gorm:"column:mime_type" json:"mime_type"`
	SizeBytes  int64  `gorm:"column:size_bytes" json:"size_bytes"`

	Status        string         `gorm:"column:status;not null;default:'uploaded'" json:"status"`
	QualityScore  float64        `gorm:"column:quality_score;not null;default:0" json:"quality_score"`
	QualityIssues datatypes.JSON `gorm:"column:quality_issues" json:"quality_issues,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (VisionAsset) TableName() string { return "vision_asset" }

const (
	ExtractionStatusDone   = "done"
	ExtractionStatusFailed = "failed"
)

// VisionExtraction exists zero-or-one per reference-image asset.
// Absence means extraction has not run or was not applicable.
type VisionExtraction struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	AssetID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"asset_id"`

	Status      string  `gorm:"column:status;not null" json:"status"`
	BodyPart    string  `gorm:"column:body_part" json:"body_part"`
	Quality     float64 `gorm:"column:quality;not null;default:0" json:"quality"`
	CutoutKey   string  `gorm:"column:cutout_key" json:"cutout_key,omitempty"`
	MaskKey     string  `gorm:"column:mask_key" json:"mask_key,omitempty"`
	UnwarpedKey string  `gorm:"column:unwarped_key" json:"unwarped_key,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (VisionExtraction) TableName() string { return "vision_extraction" }
