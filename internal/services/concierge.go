package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/repos"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

// BriefPatch is a field-level merge for update_brief. Nil keeps the
// current value; set pointers overwrite. The vision-derived counters
// (references_count, placement_photo_present) are deliberately absent:
// only accepted assets may move them.
type BriefPatch struct {
	Placement      *string   `json:"placement,omitempty"`
	SizeCategory   *string   `json:"size_category,omitempty"`
	SizeCm         *float64  `json:"size_cm,omitempty"`
	StyleTags      *[]string `json:"style_tags,omitempty"`
	ColorMode      *string   `json:"color_mode,omitempty"`
	ConceptSummary *string   `json:"concept_summary,omitempty"`

	IsSleeve          *bool     `json:"is_sleeve,omitempty"`
	SleeveType        *string   `json:"sleeve_type,omitempty"`
	SleeveTheme       *string   `json:"sleeve_theme,omitempty"`
	HeroElements      *[]string `json:"hero_elements,omitempty"`
	SecondaryElements *[]string `json:"secondary_elements,omitempty"`
	FillerElements    *[]string `json:"filler_elements,omitempty"`

	TimelineHint *string `json:"timeline_hint,omitempty"`
	BudgetHint   *string `json:"budget_hint,omitempty"`
}

// ProcessMessageInput is one conversational turn: text plus any image
// attachments uploaded with it.
type ProcessMessageInput struct {
	SessionID   uuid.UUID         `json:"session_id"`
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	Attachments []AttachmentInput `json:"attachments,omitempty"`
}

type ProcessMessageResult struct {
	Session         *types.ConciergeSession `json:"session"`
	Intent          types.IntentFlags       `json:"intent"`
	Readiness       float64                 `json:"readiness"`
	Actions         []ActionCard            `json:"actions"`
	VisionProcessed int                     `json:"vision_processed"`
}

type ConciergeService interface {
	CreateSession(ctx context.Context, workspaceID uuid.UUID, conversationID string, artistID *uuid.UUID) (*types.ConciergeSession, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*types.ConciergeSession, error)
	UpdateBrief(ctx context.Context, sessionID uuid.UUID, patch BriefPatch) (*types.ConciergeSession, error)
	ProcessMessage(ctx context.Context, in ProcessMessageInput) (*ProcessMessageResult, error)
	GetActions(ctx context.Context, sessionID uuid.UUID) ([]ActionCard, error)
	CanOfferSketch(ctx context.Context, sessionID uuid.UUID) (*OfferVerdict, error)
	DeclineSketchOffer(ctx context.Context, sessionID uuid.UUID) (*types.ConciergeSession, error)
	AdvanceStage(ctx context.Context, sessionID uuid.UUID, completedAction string) (*types.ConciergeSession, error)
	ResetSession(ctx context.Context, sessionID uuid.UUID) (*types.ConciergeSession, error)
}

type conciergeService struct {
	db          *gorm.DB
	log         *logger.Logger
	sessionRepo repos.ConciergeSessionRepo
	messageRepo repos.ConciergeMessageRepo
	workspaces  WorkspaceService
	vision      VisionService
	intents     IntentClassifier
	notify      StudioNotifier
	locks       *SessionLocks
}

func NewConciergeService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessionRepo repos.ConciergeSessionRepo,
	messageRepo repos.ConciergeMessageRepo,
	workspaces WorkspaceService,
	vision VisionService,
	intents IntentClassifier,
	notify StudioNotifier,
	locks *SessionLocks,
) ConciergeService {
	return &conciergeService{
		db:          db,
		log:         baseLog.With("service", "ConciergeService"),
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		workspaces:  workspaces,
		vision:      vision,
		intents:     intents,
		notify:      notify,
		locks:       locks,
	}
}

// CreateSession is idempotent per (workspace, conversation): a second
// call returns the existing session.
func (s *conciergeService) CreateSession(ctx context.Context, workspaceID uuid.UUID, conversationID string, artistID *uuid.UUID) (*types.ConciergeSession, error) {
	if workspaceID == uuid.Nil {
		return nil, fmt.Errorf("missing workspace_id")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, fmt.Errorf("missing conversation_id")
	}

	if _, _, err := s.workspaces.EnsureDefaults(ctx, nil, workspaceID); err != nil {
		return nil, err
	}

	existing, err := s.sessionRepo.GetByConversation(ctx, nil, workspaceID, conversationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	session := &types.ConciergeSession{
		ID:             uuid.New(),
		WorkspaceID:    workspaceID,
		ConversationID: conversationID,
		ArtistID:       artistID,
		Stage:          types.StageDiscovery,
		Brief:          datatypes.NewJSONType(types.DesignBrief{}),
		IntentFlags:    datatypes.NewJSONType(types.IntentFlags{}),
	}
	if _, err := s.sessionRepo.Create(ctx, nil, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("Concierge session created", "session_id", session.ID, "workspace_id", workspaceID)
	return session, nil
}

func (s *conciergeService) GetSession(ctx context.Context, sessionID uuid.UUID) (*types.ConciergeSession, error) {
	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *conciergeService) UpdateBrief(ctx context.Context, sessionID uuid.UUID, patch BriefPatch) (*types.ConciergeSession, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	brief := session.Brief.Data()
	applyBriefPatch(&brief, patch)

	readiness := ReadinessScore(brief)
	if err := s.sessionRepo.UpdateFields(ctx, nil, session.ID, map[string]interface{}{
		"brief":           datatypes.NewJSONType(brief),
		"readiness_score": readiness,
	}); err != nil {
		return nil, err
	}
	session.Brief = datatypes.NewJSONType(brief)
	session.ReadinessScore = readiness
	return session, nil
}

func applyBriefPatch(brief *types.DesignBrief, patch BriefPatch) {
	if patch.Placement != nil {
		brief.Placement = *patch.Placement
	}
	if patch.SizeCategory != nil {
		brief.SizeCategory = *patch.SizeCategory
	}
	if patch.SizeCm != nil {
		brief.SizeCm = *patch.SizeCm
	}
	if patch.StyleTags != nil {
		brief.StyleTags = *patch.StyleTags
	}
	if patch.ColorMode != nil {
		brief.ColorMode = *patch.ColorMode
	}
	if patch.ConceptSummary != nil {
		brief.ConceptSummary = *patch.ConceptSummary
	}
	if patch.IsSleeve != nil {
		brief.IsSleeve = *patch.IsSleeve
	}
	if patch.SleeveType != nil {
		brief.SleeveType = *patch.SleeveType
	}
	if patch.SleeveTheme != nil {
		brief.SleeveTheme = *patch.SleeveTheme
	}
	if patch.HeroElements != nil {
		brief.HeroElements = *patch.HeroElements
	}
	if patch.SecondaryElements != nil {
		brief.SecondaryElements = *patch.SecondaryElements
	}
	if patch.FillerElements != nil {
		brief.FillerElements = *patch.FillerElements
	}
	if patch.TimelineHint != nil {
		brief.TimelineHint = *patch.TimelineHint
	}
	if patch.BudgetHint != nil {
		brief.BudgetHint = *patch.BudgetHint
	}
}

func (s *conciergeService) ProcessMessage(ctx context.Context, in ProcessMessageInput) (*ProcessMessageResult, error) {
	if in.SessionID == uuid.Nil {
		return nil, fmt.Errorf("missing session_id")
	}
	unlock := s.locks.Lock(in.SessionID)
	defer unlock()

	session, err := s.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	policy, _, err := s.workspaces.EnsureDefaults(ctx, nil, session.WorkspaceID)
	if err != nil {
		return nil, err
	}

	turnIntent := s.intents.Classify(in.Content)
	merged := session.IntentFlags.Data().Merge(turnIntent)

	brief := session.Brief.Data()
	processed := 0
	for _, att := range in.Attachments {
		asset, ingestErr := s.vision.IngestAsset(ctx, nil, session, att)
		if ingestErr != nil {
			s.log.Warn("Attachment rejected", "session_id", session.ID, "filename", att.Filename, "error", ingestErr)
			continue
		}
		// Counters move here and nowhere else, once per accepted asset.
		switch asset.AssetType {
		case types.AssetTypeReferenceImage:
			brief.ReferencesCount++
		case types.AssetTypePlacementPhoto:
			brief.PlacementPhotoPresent = true
		}
		processed++
	}

	readiness := ReadinessScore(brief)

	role := strings.TrimSpace(in.Role)
	if role == "" {
		role = "client"
	}
	msg := &types.ConciergeMessage{
		ID:        uuid.New(),
		SessionID: session.ID,
		Role:      role,
		Content:   in.Content,
		Intent:    datatypes.NewJSONType(turnIntent),
	}
	if _, err := s.messageRepo.Create(ctx, nil, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	nextStage, err := NextStage(session.Stage, TransitionMessageProcessed)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"brief":           datatypes.NewJSONType(brief),
		"intent_flags":    datatypes.NewJSONType(merged),
		"readiness_score": readiness,
		"message_count":   session.MessageCount + 1,
	}
	if nextStage != session.Stage {
		updates["stage"] = nextStage
	}
	if err := s.sessionRepo.UpdateFields(ctx, nil, session.ID, updates); err != nil {
		return nil, err
	}
	if nextStage != session.Stage && s.notify != nil {
		s.notify.StageChanged(session.ID, session.Stage, nextStage)
	}

	session.Brief = datatypes.NewJSONType(brief)
	session.IntentFlags = datatypes.NewJSONType(merged)
	session.ReadinessScore = readiness
	session.MessageCount++
	session.Stage = nextStage

	verdict := EvaluateOffer(time.Now(), OfferGateInput{
		Stage:            session.Stage,
		ReadinessScore:   readiness,
		Intent:           merged,
		CooldownUntil:    session.SketchOfferCooldownUntil,
		MaxOffersReached: session.MaxOffersReached,
		Brief:            brief,
	}, *policy)

	return &ProcessMessageResult{
		Session:         session,
		Intent:          merged,
		Readiness:       readiness,
		Actions:         BuildActionCards(brief, verdict, *policy),
		VisionProcessed: processed,
	}, nil
}

func (s *conciergeService) GetActions(ctx context.Context, sessionID uuid.UUID) ([]ActionCard, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	policy, _, err := s.workspaces.EnsureDefaults(ctx, nil, session.WorkspaceID)
	if err != nil {
		return nil, err
	}
	brief := session.Brief.Data()
	verdict := EvaluateOffer(time.Now(), OfferGateInput{
		Stage:            session.Stage,
		ReadinessScore:   session.ReadinessScore,
		Intent:           session.IntentFlags.Data(),
		CooldownUntil:    session.SketchOfferCooldownUntil,
		MaxOffersReached: session.MaxOffersReached,
		Brief:            brief,
	}, *policy)
	return BuildActionCards(brief, verdict, *policy), nil
}

func (s *conciergeService) CanOfferSketch(ctx context.Context, sessionID uuid.UUID) (*OfferVerdict, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	policy, _, err := s.workspaces.EnsureDefaults(ctx, nil, session.WorkspaceID)
	if err != nil {
		return nil, err
	}
	verdict := EvaluateOffer(time.Now(), OfferGateInput{
		Stage:            session.Stage,
		ReadinessScore:   session.ReadinessScore,
		Intent:           session.IntentFlags.Data(),
		CooldownUntil:    session.SketchOfferCooldownUntil,
		MaxOffersReached: session.MaxOffersReached,
		Brief:            session.Brief.Data(),
	}, *policy)
	return &verdict, nil
}

// DeclineSketchOffer records a decline, starts the cooldown and, at the
// cap, latches max_offers_reached for the rest of the session.
func (s *conciergeService) DeclineSketchOffer(ctx context.Context, sessionID uuid.UUID) (*types.ConciergeSession, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	policy, _, err := s.workspaces.EnsureDefaults(ctx, nil, session.WorkspaceID)
	if err != nil {
		return nil, err
	}

	declined := session.SketchOfferDeclinedCount + 1
	cooldownUntil := time.Now().Add(time.Duration(policy.CooldownMinutes) * time.Minute)
	maxReached := session.MaxOffersReached || declined >= policy.MaxOffersPerSession

	if err := s.sessionRepo.UpdateFields(ctx, nil, session.ID, map[string]interface{}{
		"sketch_offer_declined_count": declined,
		"sketch_offer_cooldown_until": cooldownUntil,
		"max_offers_reached":          maxReached,
	}); err != nil {
		return nil, err
	}
	session.SketchOfferDeclinedCount = declined
	session.SketchOfferCooldownUntil = &cooldownUntil
	session.MaxOffersReached = maxReached
	s.log.Info("Sketch offer declined",
		"session_id", session.ID,
		"declined_count", declined,
		"max_offers_reached", maxReached,
	)
	return session, nil
}

// AdvanceStage drives the booking-side transitions that come from
// outside the message loop (booking, deposit).
func (s *conciergeService) AdvanceStage(ctx context.Context, sessionID uuid.UUID, completedAction string) (*types.ConciergeSession, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	next, err := NextStage(session.Stage, completedAction)
	if err != nil {
		return nil, err
	}
	if next != session.Stage {
		if err := s.sessionRepo.UpdateFields(ctx, nil, session.ID, map[string]interface{}{"stage": next}); err != nil {
			return nil, err
		}
		if s.notify != nil {
			s.notify.StageChanged(session.ID, session.Stage, next)
		}
		session.Stage = next
	}
	return session, nil
}

// ResetSession starts the conversation over: empty brief, cleared
// flags, stage back to discovery. Message history and assets stay for
// the record.
func (s *conciergeService) ResetSession(ctx context.Context, sessionID uuid.UUID) (*types.ConciergeSession, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.sessionRepo.UpdateFields(ctx, nil, session.ID, map[string]interface{}{
		"stage":                       types.StageDiscovery,
		"brief":                       datatypes.NewJSONType(types.DesignBrief{}),
		"intent_flags":                datatypes.NewJSONType(types.IntentFlags{}),
		"readiness_score":             0.0,
		"sketch_offer_declined_count": 0,
		"sketch_offer_cooldown_until": nil,
		"max_offers_reached":          false,
	}); err != nil {
		return nil, err
	}
	s.log.Info("Concierge session reset", "session_id", session.ID)
	return s.GetSession(ctx, sessionID)
}
