package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

type FinalSketchRepo interface {
	Create(ctx context.Context, tx *gorm.DB, sketch *types.FinalSketch) (*types.FinalSketch, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.FinalSketch, error)
}

type finalSketchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFinalSketchRepo(db *gorm.DB, baseLog *logger.Logger) FinalSketchRepo {
	return &finalSketchRepo{
		db:  db,
		log: baseLog.With("repo", "FinalSketchRepo"),
	}
}

func (r *finalSketchRepo) Create(ctx context.Context, tx *gorm.DB, sketch *types.FinalSketch) (*types.FinalSketch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sketch.ID == uuid.Nil {
		sketch.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(sketch).Error; err != nil {
		return nil, err
	}
	return sketch, nil
}

func (r *finalSketchRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.FinalSketch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var sketch types.FinalSketch
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&sketch).Error
	if err != nil {
		return nil, err
	}
	if sketch.ID == uuid.Nil {
		return nil, nil
	}
	return &sketch, nil
}
