package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

type ConciergeMessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, msg *types.ConciergeMessage) (*types.ConciergeMessage, error)
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ConciergeMessage, error)
}

type conciergeMessageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConciergeMessageRepo(db *gorm.DB, baseLog *logger.Logger) ConciergeMessageRepo {
	return &conciergeMessageRepo{
		db:  db,
		log: baseLog.With("repo", "ConciergeMessageRepo"),
	}
}

func (r *conciergeMessageRepo) Create(ctx context.Context, tx *gorm.DB, msg *types.ConciergeMessage) (*types.ConciergeMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *conciergeMessageRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ConciergeMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ConciergeMessage
	if sessionID == uuid.Nil {
		return out, nil
	}
	q := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
