package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

type WorkspaceSettingsRepo interface {
	GetByWorkspace(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID) (*types.WorkspaceSettings, error)
	Create(ctx context.Context, tx *gorm.DB, settings *types.WorkspaceSettings) (*types.WorkspaceSettings, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, updates map[string]interface{}) error
}

type workspaceSettingsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkspaceSettingsRepo(db *gorm.DB, baseLog *logger.Logger) WorkspaceSettingsRepo {
	return &workspaceSettingsRepo{
		db:  db,
		log: baseLog.With("repo", "WorkspaceSettingsRepo"),
	}
}

func (r *workspaceSettingsRepo) GetByWorkspace(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID) (*types.WorkspaceSettings, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if workspaceID == uuid.Nil {
		return nil, nil
	}
	var settings types.WorkspaceSettings
	err := transaction.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Limit(1).
		Find(&settings).Error
	if err != nil {
		return nil, err
	}
	if settings.ID == uuid.Nil {
		return nil, nil
	}
	return &settings, nil
}

func (r *workspaceSettingsRepo) Create(ctx context.Context, tx *gorm.DB, settings *types.WorkspaceSettings) (*types.WorkspaceSettings, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if settings.ID == uuid.Nil {
		settings.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

func (r *workspaceSettingsRepo) UpdateFields(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.WorkspaceSettings{}).
		Where("workspace_id = ?", workspaceID).
		Updates(updates).Error
}
