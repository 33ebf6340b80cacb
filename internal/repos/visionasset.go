package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

type VisionAssetRepo interface {
	Create(ctx context.Context, tx *gorm.DB, asset *types.VisionAsset) (*types.VisionAsset, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.VisionAsset, error)
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.VisionAsset, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	CreateExtraction(ctx context.Context, tx *gorm.DB, ext *types.VisionExtraction) (*types.VisionExtraction, error)
	GetExtractionByAsset(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) (*types.VisionExtraction, error)
}

type visionAssetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVisionAssetRepo(db *gorm.DB, baseLog *logger.Logger) VisionAssetRepo {
	return &visionAssetRepo{
		db:  db,
		log: baseLog.With("repo", "VisionAssetRepo"),
	}
}

func (r *visionAssetRepo) Create(ctx context.Context, tx *gorm.DB, asset *types.VisionAsset) (*types.VisionAsset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(asset).Error; err != nil {
		return nil, err
	}
	return asset, nil
}

func (r *visionAssetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.VisionAsset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var asset types.VisionAsset
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&asset).Error
	if err != nil {
		return nil, err
	}
	if asset.ID == uuid.Nil {
		return nil, nil
	}
	return &asset, nil
}

func (r *visionAssetRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.VisionAsset, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.VisionAsset
	if sessionID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *visionAssetRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.VisionAsset{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *visionAssetRepo) CreateExtraction(ctx context.Context, tx *gorm.DB, ext *types.VisionExtraction) (*types.VisionExtraction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ext.ID == uuid.Nil {
		ext.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(ext).Error; err != nil {
		return nil, err
	}
	return ext, nil
}

func (r *visionAssetRepo) GetExtractionByAsset(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) (*types.VisionExtraction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if assetID == uuid.Nil {
		return nil, nil
	}
	var ext types.VisionExtraction
	err := transaction.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Limit(1).
		Find(&ext).Error
	if err != nil {
		return nil, err
	}
	if ext.ID == uuid.Nil {
		return nil, nil
	}
	return &ext, nil
}
