package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/inkflowhq/inkflow-backend/internal/types"
)

func TestCreateSession_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first, err := env.concierge.CreateSession(ctx, env.workspaceID, "conv-1", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if first.Stage != types.StageDiscovery {
		t.Fatalf("new sessions start in discovery, got %s", first.Stage)
	}
	second, err := env.concierge.CreateSession(ctx, env.workspaceID, "conv-1", nil)
	if err != nil {
		t.Fatalf("second CreateSession: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("same conversation should return the same session: %s vs %s", second.ID, first.ID)
	}

	other, err := env.concierge.CreateSession(ctx, env.workspaceID, "conv-2", nil)
	if err != nil {
		t.Fatalf("CreateSession conv-2: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("different conversations must get different sessions")
	}
}

func TestProcessMessage_AdvancesStageAndKeepsIntentSticky(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session, _ := env.concierge.CreateSession(ctx, env.workspaceID, "conv-1", nil)

	res, err := env.concierge.ProcessMessage(ctx, ProcessMessageInput{
		SessionID: session.ID,
		Content:   "can i see a preview of the design?",
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if res.Session.Stage != types.StageBriefBuilding {
		t.Fatalf("first message should move discovery to brief_building, got %s", res.Session.Stage)
	}
	if !res.Intent.PreviewRequest {
		t.Fatalf("preview intent not detected")
	}

	res2, err := env.concierge.ProcessMessage(ctx, ProcessMessageInput{
		SessionID: session.ID,
		Content:   "it should be a small fox on my wrist",
	})
	if err != nil {
		t.Fatalf("second ProcessMessage: %v", err)
	}
	if !res2.Intent.PreviewRequest {
		t.Fatalf("intent flags must stay set once raised")
	}
	if res2.Session.Stage != types.StageBriefBuilding {
		t.Fatalf("later messages must not move the stage, got %s", res2.Session.Stage)
	}
	if res2.Session.MessageCount != 2 {
		t.Fatalf("expected message_count 2, got %d", res2.Session.MessageCount)
	}

	msgs, err := env.messageRepo.ListBySession(ctx, nil, session.ID, 10)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(msgs))
	}
}

func TestProcessMessage_AttachmentsDriveBriefCounters(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session, _ := env.concierge.CreateSession(ctx, env.workspaceID, "conv-1", nil)

	res, err := env.concierge.ProcessMessage(ctx, ProcessMessageInput{
		SessionID: session.ID,
		Content:   "here are my references and my arm",
		Attachments: []AttachmentInput{
			{Filename: "ref1.png", MimeType: "image/png", AssetType: types.AssetTypeReferenceImage, Data: testPNG(t, 1)},
			{Filename: "ref2.png", MimeType: "image/png", AssetType: types.AssetTypeReferenceImage, Data: testPNG(t, 2)},
			{Filename: "arm.png", MimeType: "image/png", AssetType: types.AssetTypePlacementPhoto, Data: testPNG(t, 3)},
		},
	})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if res.VisionProcessed != 3 {
		t.Fatalf("expected 3 processed attachments, got %d", res.VisionProcessed)
	}
	brief := res.Session.Brief.Data()
	if brief.ReferencesCount != 2 {
		t.Fatalf("expected 2 references, got %d", brief.ReferencesCount)
	}
	if !brief.PlacementPhotoPresent {
		t.Fatalf("placement photo flag should be set")
	}

	// Counters must survive the round trip.
	reloaded, err := env.concierge.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if reloaded.Brief.Data().ReferencesCount != 2 || !reloaded.Brief.Data().PlacementPhotoPresent {
		t.Fatalf("persisted brief lost counters: %+v", reloaded.Brief.Data())
	}

	assets, err := env.assetRepo.ListBySession(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("ListBySession assets: %v", err)
	}
	if len(assets) != 3 {
		t.Fatalf("expected 3 stored assets, got %d", len(assets))
	}
	for _, a := range assets {
		if a.Status != types.AssetStatusAccepted {
			t.Fatalf("asset %s should be accepted, got %s", a.ID, a.Status)
		}
		data, err := env.media.Get(ctx, a.StorageKey)
		if err != nil || len(data) == 0 {
			t.Fatalf("uploaded bytes missing for %s: %v", a.StorageKey, err)
		}
	}
}

func TestProcessMessage_RejectedAttachmentDoesNotCount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session, _ := env.concierge.CreateSession(ctx, env.workspaceID, "conv-1", nil)

	res, err := env.concierge.ProcessMessage(ctx, ProcessMessageInput{
		SessionID: session.ID,
		Content:   "this one is broken",
		Attachments: []AttachmentInput{
			{Filename: "empty.png", MimeType: "image/png", AssetType: types.AssetTypeReferenceImage, Data: nil},
			{Filename: "bad_type.png", MimeType: "image/png", AssetType: "selfie", Data: testPNG(t, 4)},
		},
	})
	if err != nil {
		t.Fatalf("ProcessMessage should not fail on rejected attachments: %v", err)
	}
	if res.VisionProcessed != 0 {
		t.Fatalf("rejected attachments must not count, got %d", res.VisionProcessed)
	}
	if res.Session.Brief.Data().ReferencesCount != 0 {
		t.Fatalf("references counter moved on a rejected upload")
	}
}

func TestUpdateBrief_RecomputesReadiness(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session, _ := env.concierge.CreateSession(ctx, env.workspaceID, "conv-1", nil)

	placement := "forearm"
	size := "medium"
	styles := []string{"fine_line"}
	summary := "a heron standing in water"
	updated, err := env.concierge.UpdateBrief(ctx, session.ID, BriefPatch{
		Placement:      &placement,
		SizeCategory:   &size,
		StyleTags:      &styles,
		ConceptSummary: &summary,
	})
	if err != nil {
		t.Fatalf("UpdateBrief: %v", err)
	}
	if got := updated.ReadinessScore; got < 0.699 || got > 0.701 {
		t.Fatalf("expected readiness 0.70, got %.4f", got)
	}

	reloaded, _ := env.concierge.GetSession(ctx, session.ID)
	if reloaded.ReadinessScore != updated.ReadinessScore {
		t.Fatalf("readiness not persisted: %.4f vs %.4f", reloaded.ReadinessScore, updated.ReadinessScore)
	}
}

func TestDeclineSketchOffer_CooldownAndCap(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session, _ := env.concierge.CreateSession(ctx, env.workspaceID, "conv-1", nil)

	declined, err := env.concierge.DeclineSketchOffer(ctx, session.ID)
	if err != nil {
		t.Fatalf("DeclineSketchOffer: %v", err)
	}
	if declined.SketchOfferDeclinedCount != 1 || declined.MaxOffersReached {
		t.Fatalf("unexpected state after first decline: %+v", declined)
	}
	if declined.SketchOfferCooldownUntil == nil || !declined.SketchOfferCooldownUntil.After(time.Now()) {
		t.Fatalf("cooldown should be in the future")
	}

	verdict, err := env.concierge.CanOfferSketch(ctx, session.ID)
	if err != nil {
		t.Fatalf("CanOfferSketch: %v", err)
	}
	if verdict.CanOffer || verdict.Reason != "cooldown active" {
		t.Fatalf("expected cooldown refusal, got %+v", verdict)
	}

	for i := 0; i < 2; i++ {
		if declined, err = env.concierge.DeclineSketchOffer(ctx, session.ID); err != nil {
			t.Fatalf("decline %d: %v", i+2, err)
		}
	}
	if declined.SketchOfferDeclinedCount != 3 || !declined.MaxOffersReached {
		t.Fatalf("third decline should latch the cap: %+v", declined)
	}
}

func TestAdvanceStage_BookingFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session, _ := env.concierge.CreateSession(ctx, env.workspaceID, "conv-1", nil)

	if err := env.sessionRepo.UpdateFields(ctx, nil, session.ID, map[string]interface{}{
		"stage": types.StagePreviewReady,
	}); err != nil {
		t.Fatalf("seed stage: %v", err)
	}

	steps := []struct {
		action string
		want   string
	}{
		{TransitionBookingRequested, types.StageScheduling},
		{TransitionDepositRequested, types.StageDeposit},
		{TransitionDepositPaid, types.StageConfirmed},
	}
	for _, step := range steps {
		got, err := env.concierge.AdvanceStage(ctx, session.ID, step.action)
		if err != nil {
			t.Fatalf("AdvanceStage(%s): %v", step.action, err)
		}
		if got.Stage != step.want {
			t.Fatalf("AdvanceStage(%s) = %s, want %s", step.action, got.Stage, step.want)
		}
	}

	if _, err := env.concierge.AdvanceStage(ctx, session.ID, TransitionBookingRequested); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition after confirmation, got %v", err)
	}
}

func TestResetSession_ClearsStateKeepsHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session, _ := env.concierge.CreateSession(ctx, env.workspaceID, "conv-1", nil)

	if _, err := env.concierge.ProcessMessage(ctx, ProcessMessageInput{
		SessionID: session.ID,
		Content:   "show me a sketch, not sure about placement",
		Attachments: []AttachmentInput{
			{Filename: "ref.png", MimeType: "image/png", AssetType: types.AssetTypeReferenceImage, Data: testPNG(t, 7)},
		},
	}); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if _, err := env.concierge.DeclineSketchOffer(ctx, session.ID); err != nil {
		t.Fatalf("DeclineSketchOffer: %v", err)
	}

	reset, err := env.concierge.ResetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ResetSession: %v", err)
	}
	if reset.Stage != types.StageDiscovery || reset.ReadinessScore != 0 {
		t.Fatalf("reset should return to discovery with zero readiness: %+v", reset)
	}
	brief := reset.Brief.Data()
	if brief.ReferencesCount != 0 || brief.PlacementPhotoPresent || brief.ConceptSummary != "" || len(brief.StyleTags) != 0 {
		t.Fatalf("brief should be empty after reset: %+v", brief)
	}
	if reset.IntentFlags.Data() != (types.IntentFlags{}) {
		t.Fatalf("intent flags should be cleared")
	}
	if reset.SketchOfferDeclinedCount != 0 || reset.SketchOfferCooldownUntil != nil || reset.MaxOffersReached {
		t.Fatalf("decline state should be cleared: %+v", reset)
	}

	msgs, _ := env.messageRepo.ListBySession(ctx, nil, session.ID, 10)
	if len(msgs) != 1 {
		t.Fatalf("message history should survive a reset, got %d", len(msgs))
	}
	assets, _ := env.assetRepo.ListBySession(ctx, nil, session.ID)
	if len(assets) != 1 {
		t.Fatalf("assets should survive a reset, got %d", len(assets))
	}
}

func TestGetSession_Unknown(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.concierge.GetSession(context.Background(), uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
