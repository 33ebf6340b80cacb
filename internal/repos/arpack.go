package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

type ARPackRepo interface {
	Create(ctx context.Context, tx *gorm.DB, pack *types.ARPack) (*types.ARPack, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ARPack, error)
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ARPack, error)
}

type arPackRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewARPackRepo(db *gorm.DB, baseLog *logger.Logger) ARPackRepo {
	return &arPackRepo{
		db:  db,
		log: baseLog.With("repo", "ARPackRepo"),
	}
}

func (r *arPackRepo) Create(ctx context.Context, tx *gorm.DB, pack *types.ARPack) (*types.ARPack, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if pack.ID == uuid.Nil {
		pack.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(pack).Error; err != nil {
		return nil, err
	}
	return pack, nil
}

func (r *arPackRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ARPack, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var pack types.ARPack
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&pack).Error
	if err != nil {
		return nil, err
	}
	if pack.ID == uuid.Nil {
		return nil, nil
	}
	return &pack, nil
}

func (r *arPackRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ARPack, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ARPack
	if sessionID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
