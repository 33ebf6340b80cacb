package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/repos"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

// AttachmentInput is one uploaded image as received on a conversational
// turn. Data arrives base64-encoded over the wire; encoding/json decodes
// it into raw bytes.
type AttachmentInput struct {
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	AssetType string `json:"asset_type"`
	Data      []byte `json:"data"`
}

type VisionService interface {
	// IngestAsset persists the upload, quality-checks it and, for
	// reference images, attempts tattoo-region extraction. It returns the
	// accepted asset and the brief mutation to apply (reference counter or
	// placement-photo flag), which the caller merges exactly once.
	IngestAsset(ctx context.Context, tx *gorm.DB, session *types.ConciergeSession, in AttachmentInput) (*types.VisionAsset, error)
}

type visionService struct {
	db        *gorm.DB
	log       *logger.Logger
	assetRepo repos.VisionAssetRepo
	media     MediaStore
	providers *ProviderSelector
}

func NewVisionService(db *gorm.DB, baseLog *logger.Logger, assetRepo repos.VisionAssetRepo, media MediaStore, providers *ProviderSelector) VisionService {
	return &visionService{
		db:        db,
		log:       baseLog.With("service", "VisionService"),
		assetRepo: assetRepo,
		media:     media,
		providers: providers,
	}
}

func (s *visionService) IngestAsset(ctx context.Context, tx *gorm.DB, session *types.ConciergeSession, in AttachmentInput) (*types.VisionAsset, error) {
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if in.AssetType != types.AssetTypeReferenceImage && in.AssetType != types.AssetTypePlacementPhoto {
		return nil, fmt.Errorf("unknown asset_type %q", in.AssetType)
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("empty attachment data")
	}

	key := fmt.Sprintf("sessions/%s/uploads/%d_%s", session.ID, time.Now().UnixNano(), safeFilename(in.Filename))
	if err := s.media.Put(ctx, key, bytes.NewReader(in.Data)); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	asset := &types.VisionAsset{
		ID:         uuid.New(),
		SessionID:  session.ID,
		AssetType:  in.AssetType,
		StorageKey: key,
		FileURL:    s.media.PublicURL(key),
		MimeType:   in.MimeType,
		SizeBytes:  int64(len(in.Data)),
		Status:     types.AssetStatusUploaded,
	}
	if _, err := s.assetRepo.Create(ctx, tx, asset); err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}

	provider := s.providers.Vision(ctx, session.WorkspaceID)
	quality, err := provider.CheckQuality(ctx, in.Data, in.MimeType)
	if err != nil {
		s.log.Warn("Quality check failed; rejecting asset", "asset_id", asset.ID, "error", err)
		_ = s.assetRepo.UpdateFields(ctx, tx, asset.ID, map[string]interface{}{
			"status": types.AssetStatusRejected,
		})
		return nil, fmt.Errorf("quality check: %w", err)
	}

	issuesJSON, _ := json.Marshal(quality.Issues)
	updates := map[string]interface{}{
		"status":         types.AssetStatusAccepted,
		"quality_score":  quality.Score,
		"quality_issues": datatypes.JSON(issuesJSON),
	}
	if err := s.assetRepo.UpdateFields(ctx, tx, asset.ID, updates); err != nil {
		return nil, fmt.Errorf("accept asset: %w", err)
	}
	asset.Status = types.AssetStatusAccepted
	asset.QualityScore = quality.Score
	asset.QualityIssues = datatypes.JSON(issuesJSON)

	// Extraction is best-effort: failures leave the record absent or
	// marked failed, never fail the asset.
	if in.AssetType == types.AssetTypeReferenceImage {
		s.runExtraction(ctx, tx, session, asset, provider, in.Data)
	}

	return asset, nil
}

func (s *visionService) runExtraction(ctx context.Context, tx *gorm.DB, session *types.ConciergeSession, asset *types.VisionAsset, provider VisionProvider, img []byte) {
	res, err := provider.ExtractTattooRegion(ctx, img)
	if err != nil {
		s.log.Warn("Tattoo-region extraction failed", "asset_id", asset.ID, "error", err)
		_, _ = s.assetRepo.CreateExtraction(ctx, tx, &types.VisionExtraction{
			AssetID: asset.ID,
			Status:  types.ExtractionStatusFailed,
		})
		return
	}

	ext := &types.VisionExtraction{
		AssetID:  asset.ID,
		Status:   types.ExtractionStatusDone,
		BodyPart: res.BodyPart,
		Quality:  res.Quality,
	}
	base := fmt.Sprintf("sessions/%s/extractions/%s", session.ID, asset.ID)
	for _, artifact := range []struct {
		suffix string
		data   []byte
		dest   *string
	}{
		{"cutout.png", res.Cutout, &ext.CutoutKey},
		{"mask.png", res.Mask, &ext.MaskKey},
		{"unwarped.png", res.Unwarped, &ext.UnwarpedKey},
	} {
		if len(artifact.data) == 0 {
			continue
		}
		key := base + "/" + artifact.suffix
		if err := s.media.Put(ctx, key, bytes.NewReader(artifact.data)); err != nil {
			s.log.Warn("Failed to store extraction artifact", "asset_id", asset.ID, "artifact", artifact.suffix, "error", err)
			continue
		}
		*artifact.dest = key
	}
	if _, err := s.assetRepo.CreateExtraction(ctx, tx, ext); err != nil {
		s.log.Warn("Failed to persist extraction record", "asset_id", asset.ID, "error", err)
	}
}

func safeFilename(name string) string {
	if name == "" {
		return "upload.png"
	}
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
