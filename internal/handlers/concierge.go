package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/requestdata"
	"github.com/inkflowhq/inkflow-backend/internal/services"
)

// ConciergeHandler serves the single dispatch endpoint. Every operation
// arrives as {"action": "...", ...params} and is routed here.
type ConciergeHandler struct {
	log        *logger.Logger
	concierge  services.ConciergeService
	concepts   services.ConceptService
	sketches   services.SketchService
	jobs       services.JobService
	workspaces services.WorkspaceService
}

func NewConciergeHandler(
	log *logger.Logger,
	concierge services.ConciergeService,
	concepts services.ConceptService,
	sketches services.SketchService,
	jobs services.JobService,
	workspaces services.WorkspaceService,
) *ConciergeHandler {
	return &ConciergeHandler{
		log:        log.With("handler", "ConciergeHandler"),
		concierge:  concierge,
		concepts:   concepts,
		sketches:   sketches,
		jobs:       jobs,
		workspaces: workspaces,
	}
}

func (h *ConciergeHandler) Dispatch(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation_error", err)
		return
	}
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		RespondError(c, http.StatusBadRequest, "validation_error", fmt.Errorf("malformed request body: %w", err))
		return
	}
	if envelope.Action == "" {
		RespondError(c, http.StatusBadRequest, "validation_error", fmt.Errorf("missing action"))
		return
	}

	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.WorkspaceID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing workspace context"))
		return
	}

	switch envelope.Action {
	case "create_session":
		h.createSession(c, rd, raw)
	case "get_session":
		h.getSession(c, raw)
	case "reset_session":
		h.resetSession(c, raw)
	case "update_brief":
		h.updateBrief(c, raw)
	case "process_message":
		h.processMessage(c, raw)
	case "get_actions":
		h.getActions(c, raw)
	case "can_offer_sketch":
		h.canOfferSketch(c, raw)
	case "generate_concept":
		h.generateConcept(c, raw)
	case "finalize_sketch":
		h.finalizeSketch(c, raw)
	case "build_ar_pack":
		h.buildARPack(c, raw)
	case "decline_sketch_offer":
		h.declineSketchOffer(c, raw)
	case "advance_stage":
		h.advanceStage(c, raw)
	case "set_feature_flag":
		h.setFeatureFlag(c, rd, raw)
	case "get_feature_flags":
		h.getFeatureFlags(c, rd)
	case "update_offer_policy":
		h.updateOfferPolicy(c, rd, raw)
	case "get_offer_policy":
		h.getOfferPolicy(c, rd)
	case "get_job_errors":
		h.getJobErrors(c, raw)
	case "retry_job":
		h.retryJob(c, raw)
	default:
		RespondError(c, http.StatusBadRequest, "unknown_action", fmt.Errorf("unknown action %q", envelope.Action))
	}
}

type sessionIDParams struct {
	SessionID uuid.UUID `json:"session_id"`
}

func bindParams(c *gin.Context, raw []byte, out any) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		RespondError(c, http.StatusBadRequest, "validation_error", fmt.Errorf("malformed params: %w", err))
		return false
	}
	return true
}

func bindSessionID(c *gin.Context, raw []byte) (uuid.UUID, bool) {
	var p sessionIDParams
	if !bindParams(c, raw, &p) {
		return uuid.Nil, false
	}
	if p.SessionID == uuid.Nil {
		RespondError(c, http.StatusBadRequest, "validation_error", fmt.Errorf("missing session_id"))
		return uuid.Nil, false
	}
	return p.SessionID, true
}

func (h *ConciergeHandler) createSession(c *gin.Context, rd *requestdata.RequestData, raw []byte) {
	var p struct {
		ConversationID string     `json:"conversation_id"`
		ArtistID       *uuid.UUID `json:"artist_id,omitempty"`
	}
	if !bindParams(c, raw, &p) {
		return
	}
	if p.ConversationID == "" {
		RespondError(c, http.StatusBadRequest, "validation_error", fmt.Errorf("missing conversation_id"))
		return
	}
	session, err := h.concierge.CreateSession(c.Request.Context(), rd.WorkspaceID, p.ConversationID, p.ArtistID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

func (h *ConciergeHandler) getSession(c *gin.Context, raw []byte) {
	sessionID, ok := bindSessionID(c, raw)
	if !ok {
		return
	}
	session, err := h.concierge.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

func (h *ConciergeHandler) resetSession(c *gin.Context, raw []byte) {
	sessionID, ok := bindSessionID(c, raw)
	if !ok {
		return
	}
	session, err := h.concierge.ResetSession(c.Request.Context(), sessionID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

func (h *ConciergeHandler) updateBrief(c *gin.Context, raw []byte) {
	var p struct {
		SessionID uuid.UUID           `json:"session_id"`
		Brief     services.BriefPatch `json:"brief"`
	}
	if !bindParams(c, raw, &p) {
		return
	}
	if p.SessionID == uuid.Nil {
		RespondError(c, http.StatusBadRequest, "validation_error", fmt.Errorf("missing session_id"))
		return
	}
	session, err := h.concierge.UpdateBrief(c.Request.Context(), p.SessionID, p.Brief)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": session, "readiness": session.ReadinessScore})
}

func (h *ConciergeHandler) processMessage(c *gin.Context, raw []byte) {
	var p services.ProcessMessageInput
	if !bindParams(c, raw, &p) {
		return
	}
	if p.SessionID == uuid.Nil {
		RespondError(c, http.StatusBadRequest, "validation_error", fmt.Errorf("missing session_id"))
		return
	}
	result, err := h.concierge.ProcessMessage(c.Request.Context(), p)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, result)
}

func (h *ConciergeHandler) getActions(c *gin.Context, raw []byte) {
	sessionID, ok := bindSessionID(c, raw)
	if !ok {
		return
	}
	cards, err := h.concierge.GetActions(c.Request.Context(), sessionID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"actions": cards})
}

func (h *ConciergeHandler) canOfferSketch(c *gin.Context, raw []byte) {
	sessionID, ok := bindSessionID(c, raw)
	if !ok {
		return
	}
	verdict, err := h.concierge.CanOfferSketch(c.Request.Context(), sessionID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, verdict)
}

func (h *ConciergeHandler) generateConcept(c *gin.Context, raw []byte) {
	sessionID, ok := bindSessionID(c, raw)
	if !ok {
		return
	}
	job, variants, err := h.concepts.GenerateConcepts(c.Request.Context(), sessionID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job, "variants": variants})
}

func (h *ConciergeHandler) finalizeSketch(c *gin.Context, raw []byte) {
	var p struct {
		SessionID uuid.UUID `json:"session_id"`
		VariantID uuid.UUID `json:"variant_id"`
	}
	if !bindParams(c, raw, &p) {
		return
	}
	if p.SessionID == uuid.Nil || p.VariantID == uuid.Nil {
		RespondError(c, http.StatusBadRequest, "validation_error", fmt.Errorf("missing session_id or variant_id"))
		return
	}
	sketch, err := h.sketches.FinalizeSketch(c.Request.Context(), p.SessionID, p.VariantID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"sketch": sketch})
}

func (h *ConciergeHandler) buildARPack(c *gin.Context, raw []byte) {
	var p struct {
		SessionID uuid.UUID `json:"session_id"`
		SketchID  uuid.UUID `json:"sketch_id"`
	}
	if !bindParams(c, raw, &p) {
		return
	}
	if p.SessionID == uuid.Nil || p.SketchID == uuid.Nil {
		RespondError(c, http.StatusBadRequest, "validation_error", fmt.Errorf("missing session_id or sketch_id"))
		return
	}
	pack, err := h.sketches.BuildARPack(c.Request.Context(), p.SessionID, p.SketchID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"ar_pack": pack})
}

func (h *ConciergeHandler) declineSketchOffer(c *gin.Context, raw []byte) {
	sessionID, ok := bindSessionID(c, raw)
	if !ok {
		return
	}
	session, err := h.concierge.DeclineSketchOffer(c.Request.Context(), sessionID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

func (h *ConciergeHandler) advanceStage(c *gin.Context, raw []byte) {
	var p struct {
		SessionID       uuid.UUID `json:"session_id"`
		CompletedAction string    `json:"completed_action"`
	}
	if !bindParams(c, raw, &p) {
		return
	}
	if p.SessionID == uuid.Nil || p.CompletedAction == "" {
		RespondError(c, http.StatusBadRequest, "validation_error", fmt.Errorf("missing session_id or completed_action"))
		return
	}
	session, err := h.concierge.AdvanceStage(c.Request.Context(), p.SessionID, p.CompletedAction)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

func (h *ConciergeHandler) setFeatureFlag(c *gin.Context, rd *requestdata.RequestData, raw []byte) {
	var p struct {
		Key   string `json:"key"`
		Value bool   `json:"value"`
	}
	if !bindParams(c, raw, &p) {
		return
	}
	if p.Key == "" {
		RespondError(c, http.StatusBadRequest, "validation_error", fmt.Errorf("missing key"))
		return
	}
	flags, err := h.workspaces.SetFeatureFlag(c.Request.Context(), rd.WorkspaceID, p.Key, p.Value)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"flags": flags})
}

func (h *ConciergeHandler) getFeatureFlags(c *gin.Context, rd *requestdata.RequestData) {
	flags, err := h.workspaces.GetFeatureFlags(c.Request.Context(), rd.WorkspaceID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"flags": flags})
}

func (h *ConciergeHandler) updateOfferPolicy(c *gin.Context, rd *requestdata.RequestData, raw []byte) {
	var p struct {
		Policy services.OfferPolicyPatch `json:"policy"`
	}
	if !bindParams(c, raw, &p) {
		return
	}
	policy, err := h.workspaces.UpdateOfferPolicy(c.Request.Context(), rd.WorkspaceID, p.Policy)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"policy": policy})
}

func (h *ConciergeHandler) getOfferPolicy(c *gin.Context, rd *requestdata.RequestData) {
	policy, err := h.workspaces.GetOfferPolicy(c.Request.Context(), rd.WorkspaceID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"policy": policy})
}

func (h *ConciergeHandler) getJobErrors(c *gin.Context, raw []byte) {
	var p struct {
		SessionID uuid.UUID `json:"session_id"`
		Limit     int       `json:"limit,omitempty"`
	}
	if !bindParams(c, raw, &p) {
		return
	}
	if p.SessionID == uuid.Nil {
		RespondError(c, http.StatusBadRequest, "validation_error", fmt.Errorf("missing session_id"))
		return
	}
	jobs, err := h.jobs.GetJobErrors(c.Request.Context(), p.SessionID, p.Limit)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs})
}

func (h *ConciergeHandler) retryJob(c *gin.Context, raw []byte) {
	var p struct {
		JobID uuid.UUID `json:"job_id"`
	}
	if !bindParams(c, raw, &p) {
		return
	}
	if p.JobID == uuid.Nil {
		RespondError(c, http.StatusBadRequest, "validation_error", fmt.Errorf("missing job_id"))
		return
	}
	job, err := h.jobs.RetryJob(c.Request.Context(), p.JobID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}
