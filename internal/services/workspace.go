package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gopkg.in/yaml.v3"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/repos"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

// PolicyDefaults seed a workspace's OfferPolicy the first time it is
// touched. They can be overridden studio-wide with a YAML file pointed
// to by OFFER_POLICY_DEFAULTS_PATH.
type PolicyDefaults struct {
	SingleReadinessThreshold      float64 `yaml:"single_readiness_threshold"`
	SleeveReadinessThreshold      float64 `yaml:"sleeve_readiness_threshold"`
	PreviewRequestThreshold       float64 `yaml:"preview_request_threshold"`
	SleevePreviewRequestThreshold float64 `yaml:"sleeve_preview_request_threshold"`
	CooldownMinutes               int     `yaml:"cooldown_minutes"`
	MinReferencesSingle           int     `yaml:"min_references_single"`
	MinReferencesSleeve           int     `yaml:"min_references_sleeve"`
	MaxOffersPerSession           int     `yaml:"max_offers_per_session"`
	VariantsPerBatch              int     `yaml:"variants_per_batch"`
}

func builtinPolicyDefaults() PolicyDefaults {
	return PolicyDefaults{
		SingleReadinessThreshold:      0.70,
		SleeveReadinessThreshold:      0.75,
		PreviewRequestThreshold:       0.50,
		SleevePreviewRequestThreshold: 0.55,
		CooldownMinutes:               45,
		MinReferencesSingle:           2,
		MinReferencesSleeve:           5,
		MaxOffersPerSession:           3,
		VariantsPerBatch:              6,
	}
}

func LoadPolicyDefaults(log *logger.Logger) PolicyDefaults {
	defaults := builtinPolicyDefaults()
	path := strings.TrimSpace(os.Getenv("OFFER_POLICY_DEFAULTS_PATH"))
	if path == "" {
		return defaults
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Could not read offer policy defaults file; using builtins", "path", path, "error", err)
		return defaults
	}
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		log.Warn("Could not parse offer policy defaults file; using builtins", "path", path, "error", err)
		return builtinPolicyDefaults()
	}
	return defaults
}

// OfferPolicyPatch updates a subset of policy fields; nil means keep.
type OfferPolicyPatch struct {
	SingleReadinessThreshold      *float64 `json:"single_readiness_threshold,omitempty"`
	SleeveReadinessThreshold      *float64 `json:"sleeve_readiness_threshold,omitempty"`
	PreviewRequestThreshold       *float64 `json:"preview_request_threshold,omitempty"`
	SleevePreviewRequestThreshold *float64 `json:"sleeve_preview_request_threshold,omitempty"`
	CooldownMinutes               *int     `json:"cooldown_minutes,omitempty"`
	MinReferencesSingle           *int     `json:"min_references_single,omitempty"`
	MinReferencesSleeve           *int     `json:"min_references_sleeve,omitempty"`
	MaxOffersPerSession           *int     `json:"max_offers_per_session,omitempty"`
	VariantsPerBatch              *int     `json:"variants_per_batch,omitempty"`
}

type WorkspaceService interface {
	EnsureDefaults(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID) (*types.OfferPolicy, *types.WorkspaceSettings, error)
	GetOfferPolicy(ctx context.Context, workspaceID uuid.UUID) (*types.OfferPolicy, error)
	UpdateOfferPolicy(ctx context.Context, workspaceID uuid.UUID, patch OfferPolicyPatch) (*types.OfferPolicy, error)
	GetFeatureFlags(ctx context.Context, workspaceID uuid.UUID) (map[string]interface{}, error)
	SetFeatureFlag(ctx context.Context, workspaceID uuid.UUID, key string, value bool) (map[string]interface{}, error)
	LiveProvidersEnabled(ctx context.Context, workspaceID uuid.UUID) bool
}

type workspaceService struct {
	db           *gorm.DB
	log          *logger.Logger
	policyRepo   repos.OfferPolicyRepo
	settingsRepo repos.WorkspaceSettingsRepo
	defaults     PolicyDefaults
}

func NewWorkspaceService(db *gorm.DB, baseLog *logger.Logger, policyRepo repos.OfferPolicyRepo, settingsRepo repos.WorkspaceSettingsRepo, defaults PolicyDefaults) WorkspaceService {
	return &workspaceService{
		db:           db,
		log:          baseLog.With("service", "WorkspaceService"),
		policyRepo:   policyRepo,
		settingsRepo: settingsRepo,
		defaults:     defaults,
	}
}

func (s *workspaceService) EnsureDefaults(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID) (*types.OfferPolicy, *types.WorkspaceSettings, error) {
	if workspaceID == uuid.Nil {
		return nil, nil, fmt.Errorf("missing workspace_id")
	}
	policy, err := s.policyRepo.GetByWorkspace(ctx, tx, workspaceID)
	if err != nil {
		return nil, nil, err
	}
	if policy == nil {
		d := s.defaults
		policy = &types.OfferPolicy{
			WorkspaceID:                   workspaceID,
			SingleReadinessThreshold:      d.SingleReadinessThreshold,
			SleeveReadinessThreshold:      d.SleeveReadinessThreshold,
			PreviewRequestThreshold:       d.PreviewRequestThreshold,
			SleevePreviewRequestThreshold: d.SleevePreviewRequestThreshold,
			CooldownMinutes:               d.CooldownMinutes,
			MinReferencesSingle:           d.MinReferencesSingle,
			MinReferencesSleeve:           d.MinReferencesSleeve,
			MaxOffersPerSession:           d.MaxOffersPerSession,
			VariantsPerBatch:              d.VariantsPerBatch,
		}
		if policy, err = s.policyRepo.Create(ctx, tx, policy); err != nil {
			return nil, nil, fmt.Errorf("create offer policy: %w", err)
		}
		s.log.Info("Initialized default offer policy", "workspace_id", workspaceID)
	}

	settings, err := s.settingsRepo.GetByWorkspace(ctx, tx, workspaceID)
	if err != nil {
		return nil, nil, err
	}
	if settings == nil {
		settings = &types.WorkspaceSettings{
			WorkspaceID: workspaceID,
			Flags:       map[string]interface{}{types.FlagLiveProviders: false},
		}
		if settings, err = s.settingsRepo.Create(ctx, tx, settings); err != nil {
			return nil, nil, fmt.Errorf("create workspace settings: %w", err)
		}
	}
	return policy, settings, nil
}

func (s *workspaceService) GetOfferPolicy(ctx context.Context, workspaceID uuid.UUID) (*types.OfferPolicy, error) {
	policy, _, err := s.EnsureDefaults(ctx, nil, workspaceID)
	return policy, err
}

func (s *workspaceService) UpdateOfferPolicy(ctx context.Context, workspaceID uuid.UUID, patch OfferPolicyPatch) (*types.OfferPolicy, error) {
	if _, _, err := s.EnsureDefaults(ctx, nil, workspaceID); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if patch.SingleReadinessThreshold != nil {
		updates["single_readiness_threshold"] = *patch.SingleReadinessThreshold
	}
	if patch.SleeveReadinessThreshold != nil {
		updates["sleeve_readiness_threshold"] = *patch.SleeveReadinessThreshold
	}
	if patch.PreviewRequestThreshold != nil {
		updates["preview_request_threshold"] = *patch.PreviewRequestThreshold
	}
	if patch.SleevePreviewRequestThreshold != nil {
		updates["sleeve_preview_request_threshold"] = *patch.SleevePreviewRequestThreshold
	}
	if patch.CooldownMinutes != nil {
		updates["cooldown_minutes"] = *patch.CooldownMinutes
	}
	if patch.MinReferencesSingle != nil {
		updates["min_references_single"] = *patch.MinReferencesSingle
	}
	if patch.MinReferencesSleeve != nil {
		updates["min_references_sleeve"] = *patch.MinReferencesSleeve
	}
	if patch.MaxOffersPerSession != nil {
		updates["max_offers_per_session"] = *patch.MaxOffersPerSession
	}
	if patch.VariantsPerBatch != nil {
		updates["variants_per_batch"] = *patch.VariantsPerBatch
	}
	if len(updates) > 0 {
		if err := s.policyRepo.UpdateFields(ctx, nil, workspaceID, updates); err != nil {
			return nil, err
		}
	}
	return s.policyRepo.GetByWorkspace(ctx, nil, workspaceID)
}

func (s *workspaceService) GetFeatureFlags(ctx context.Context, workspaceID uuid.UUID) (map[string]interface{}, error) {
	_, settings, err := s.EnsureDefaults(ctx, nil, workspaceID)
	if err != nil {
		return nil, err
	}
	return settings.Flags, nil
}

func (s *workspaceService) SetFeatureFlag(ctx context.Context, workspaceID uuid.UUID, key string, value bool) (map[string]interface{}, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("missing flag key")
	}
	_, settings, err := s.EnsureDefaults(ctx, nil, workspaceID)
	if err != nil {
		return nil, err
	}
	flags := settings.Flags
	if flags == nil {
		flags = map[string]interface{}{}
	}
	flags[key] = value
	if err := s.settingsRepo.UpdateFields(ctx, nil, workspaceID, map[string]interface{}{"flags": flags}); err != nil {
		return nil, err
	}
	return flags, nil
}

func (s *workspaceService) LiveProvidersEnabled(ctx context.Context, workspaceID uuid.UUID) bool {
	settings, err := s.settingsRepo.GetByWorkspace(ctx, nil, workspaceID)
	if err != nil {
		s.log.Warn("Could not load workspace settings; assuming mock providers", "workspace_id", workspaceID, "error", err)
		return false
	}
	return settings.FlagBool(types.FlagLiveProviders)
}

// ProviderSelector resolves the provider pair for a workspace once per
// call site, instead of scattering mock-vs-live branches.
type ProviderSelector struct {
	log        *logger.Logger
	workspaces WorkspaceService

	mockVision VisionProvider
	liveVision VisionProvider

	mockConcept ConceptProvider
	liveConcept ConceptProvider
}

func NewProviderSelector(log *logger.Logger, workspaces WorkspaceService, mockVision, liveVision VisionProvider, mockConcept, liveConcept ConceptProvider) *ProviderSelector {
	return &ProviderSelector{
		log:         log.With("service", "ProviderSelector"),
		workspaces:  workspaces,
		mockVision:  mockVision,
		liveVision:  liveVision,
		mockConcept: mockConcept,
		liveConcept: liveConcept,
	}
}

func (p *ProviderSelector) Vision(ctx context.Context, workspaceID uuid.UUID) VisionProvider {
	if p.liveVision != nil && p.workspaces.LiveProvidersEnabled(ctx, workspaceID) {
		return p.liveVision
	}
	return p.mockVision
}

// Concept returns the preferred provider plus the deterministic
// fallback the orchestrator retreats to when the live path fails.
func (p *ProviderSelector) Concept(ctx context.Context, workspaceID uuid.UUID) (preferred ConceptProvider, fallback ConceptProvider) {
	if p.liveConcept != nil && p.workspaces.LiveProvidersEnabled(ctx, workspaceID) {
		return p.liveConcept, p.mockConcept
	}
	return p.mockConcept, p.mockConcept
}
