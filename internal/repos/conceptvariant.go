package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

type ConceptVariantRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, variants []*types.ConceptVariant) ([]*types.ConceptVariant, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ConceptVariant, error)
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ConceptVariant, error)
	// ChooseExactlyOne clears chosen on every variant of the session and
	// sets it on the given variant, inside one transaction.
	ChooseExactlyOne(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, variantID uuid.UUID) error
}

type conceptVariantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConceptVariantRepo(db *gorm.DB, baseLog *logger.Logger) ConceptVariantRepo {
	return &conceptVariantRepo{
		db:  db,
		log: baseLog.With("repo", "ConceptVariantRepo"),
	}
}

func (r *conceptVariantRepo) CreateBatch(ctx context.Context, tx *gorm.DB, variants []*types.ConceptVariant) ([]*types.ConceptVariant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(variants) == 0 {
		return []*types.ConceptVariant{}, nil
	}
	for _, v := range variants {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
	}
	if err := transaction.WithContext(ctx).Create(&variants).Error; err != nil {
		return nil, err
	}
	return variants, nil
}

func (r *conceptVariantRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ConceptVariant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var variant types.ConceptVariant
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&variant).Error
	if err != nil {
		return nil, err
	}
	if variant.ID == uuid.Nil {
		return nil, nil
	}
	return &variant, nil
}

func (r *conceptVariantRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ConceptVariant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ConceptVariant
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

func (r *conceptVariantRepo) ChooseExactlyOne(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, variantID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Model(&types.ConceptVariant{}).
			Where("session_id = ? AND chosen = ?", sessionID, true).
			Updates(map[string]interface{}{"chosen": false, "updated_at": now}).Error; err != nil {
			return err
		}
		return txx.Model(&types.ConceptVariant{}).
			Where("id = ? AND session_id = ?", variantID, sessionID).
			Updates(map[string]interface{}{"chosen": true, "updated_at": now}).Error
	})
}
