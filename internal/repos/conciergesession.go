package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

type ConciergeSessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, session *types.ConciergeSession) (*types.ConciergeSession, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ConciergeSession, error)
	GetByConversation(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, conversationID string) (*types.ConciergeSession, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type conciergeSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConciergeSessionRepo(db *gorm.DB, baseLog *logger.Logger) ConciergeSessionRepo {
	return &conciergeSessionRepo{
		db:  db,
		log: baseLog.With("repo", "ConciergeSessionRepo"),
	}
}

func (r *conciergeSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.ConciergeSession) (*types.ConciergeSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (r *conciergeSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ConciergeSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var session types.ConciergeSession
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == uuid.Nil {
		return nil, nil
	}
	return &session, nil
}

func (r *conciergeSessionRepo) GetByConversation(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, conversationID string) (*types.ConciergeSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if workspaceID == uuid.Nil || conversationID == "" {
		return nil, nil
	}
	var session types.ConciergeSession
	err := transaction.WithContext(ctx).
		Where("workspace_id = ? AND conversation_id = ?", workspaceID, conversationID).
		Order("created_at DESC").
		Limit(1).
		Find(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == uuid.Nil {
		return nil, nil
	}
	return &session, nil
}

func (r *conciergeSessionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.ConciergeSession{}).
		Where("id = ?", id).
		Updates(updates).Error
}
