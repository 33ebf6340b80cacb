package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

type OfferPolicyRepo interface {
	GetByWorkspace(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID) (*types.OfferPolicy, error)
	Create(ctx context.Context, tx *gorm.DB, policy *types.OfferPolicy) (*types.OfferPolicy, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, updates map[string]interface{}) error
}

type offerPolicyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOfferPolicyRepo(db *gorm.DB, baseLog *logger.Logger) OfferPolicyRepo {
	return &offerPolicyRepo{
		db:  db,
		log: baseLog.With("repo", "OfferPolicyRepo"),
	}
}

func (r *offerPolicyRepo) GetByWorkspace(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID) (*types.OfferPolicy, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if workspaceID == uuid.Nil {
		return nil, nil
	}
	var policy types.OfferPolicy
	err := transaction.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Limit(1).
		Find(&policy).Error
	if err != nil {
		return nil, err
	}
	if policy.ID == uuid.Nil {
		return nil, nil
	}
	return &policy, nil
}

func (r *offerPolicyRepo) Create(ctx context.Context, tx *gorm.DB, policy *types.OfferPolicy) (*types.OfferPolicy, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if policy.ID == uuid.Nil {
		policy.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(policy).Error; err != nil {
		return nil, err
	}
	return policy, nil
}

func (r *offerPolicyRepo) UpdateFields(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if workspaceID == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.OfferPolicy{}).
		Where("workspace_id = ?", workspaceID).
		Updates(updates).Error
}
