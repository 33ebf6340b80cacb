package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/inkflowhq/inkflow-backend/internal/types"
)

func TestFinalizeSketch_DerivesArtifacts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session := readySession(t, env, "conv-1")

	_, variants, err := env.concepts.GenerateConcepts(ctx, session.ID)
	if err != nil {
		t.Fatalf("GenerateConcepts: %v", err)
	}

	sketch, err := env.sketches.FinalizeSketch(ctx, session.ID, variants[0].ID)
	if err != nil {
		t.Fatalf("FinalizeSketch: %v", err)
	}
	if sketch.VariantID != variants[0].ID || sketch.SessionID != session.ID {
		t.Fatalf("sketch bound to wrong records: %+v", sketch)
	}
	if sketch.DefaultOpacity != 0.8 {
		t.Fatalf("expected default opacity 0.8, got %.2f", sketch.DefaultOpacity)
	}
	if sketch.RecommendedSizeCm != 12 {
		t.Fatalf("medium briefs recommend 12cm, got %.1f", sketch.RecommendedSizeCm)
	}

	for _, key := range []string{sketch.LineArtKey, sketch.OverlayKey, sketch.VectorKey} {
		data, err := env.media.Get(ctx, key)
		if err != nil || len(data) == 0 {
			t.Fatalf("artifact %s missing: %v", key, err)
		}
	}
	svg, _ := env.media.Get(ctx, sketch.VectorKey)
	if !bytes.Contains(svg, []byte("<svg")) || !bytes.Contains(svg, []byte("base64")) {
		t.Fatalf("vector artifact should embed the overlay png")
	}
	if !strings.Contains(string(sketch.AnchorPoints), "center") {
		t.Fatalf("anchor points missing: %s", sketch.AnchorPoints)
	}

	reloaded, _ := env.concierge.GetSession(ctx, session.ID)
	if reloaded.Stage != types.StagePreviewReady {
		t.Fatalf("finalize should advance to preview_ready, got %s", reloaded.Stage)
	}
}

func TestFinalizeSketch_ChoosesExactlyOneVariant(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session := readySession(t, env, "conv-1")

	_, variants, err := env.concepts.GenerateConcepts(ctx, session.ID)
	if err != nil {
		t.Fatalf("GenerateConcepts: %v", err)
	}

	if _, err := env.sketches.FinalizeSketch(ctx, session.ID, variants[0].ID); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	if _, err := env.sketches.FinalizeSketch(ctx, session.ID, variants[1].ID); err != nil {
		t.Fatalf("second finalize: %v", err)
	}

	listed, err := env.variantRepo.ListBySession(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	chosen := 0
	for _, v := range listed {
		if v.Chosen {
			chosen++
			if v.ID != variants[1].ID {
				t.Fatalf("latest choice should win, got %s", v.ID)
			}
		}
	}
	if chosen != 1 {
		t.Fatalf("exactly one variant may be chosen, got %d", chosen)
	}
}

func TestFinalizeSketch_RejectsForeignVariant(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session := readySession(t, env, "conv-1")
	other := readySession(t, env, "conv-2")

	_, otherVariants, err := env.concepts.GenerateConcepts(ctx, other.ID)
	if err != nil {
		t.Fatalf("GenerateConcepts: %v", err)
	}

	if _, err := env.sketches.FinalizeSketch(ctx, session.ID, otherVariants[0].ID); !errors.Is(err, ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound for a foreign variant, got %v", err)
	}
	if _, err := env.sketches.FinalizeSketch(ctx, session.ID, uuid.New()); !errors.Is(err, ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound for an unknown variant, got %v", err)
	}
}

func TestBuildARPack_RequiresPlacementPhoto(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session := readySession(t, env, "conv-1")

	_, variants, err := env.concepts.GenerateConcepts(ctx, session.ID)
	if err != nil {
		t.Fatalf("GenerateConcepts: %v", err)
	}
	sketch, err := env.sketches.FinalizeSketch(ctx, session.ID, variants[0].ID)
	if err != nil {
		t.Fatalf("FinalizeSketch: %v", err)
	}

	if _, err := env.sketches.BuildARPack(ctx, session.ID, sketch.ID); !errors.Is(err, ErrPlacementPhotoRequired) {
		t.Fatalf("expected ErrPlacementPhotoRequired, got %v", err)
	}

	var packs int64
	if err := env.db.WithContext(ctx).Model(&types.ARPack{}).Where("session_id = ?", session.ID).Count(&packs).Error; err != nil {
		t.Fatalf("count packs: %v", err)
	}
	if packs != 0 {
		t.Fatalf("refused AR build must not persist a pack, found %d", packs)
	}
}

func TestBuildARPack_CompositesOverlay(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session := readySession(t, env, "conv-1")

	// The placement photo arrives through the message loop so the brief
	// flag and the stored asset stay in sync.
	if _, err := env.concierge.ProcessMessage(ctx, ProcessMessageInput{
		SessionID: session.ID,
		Content:   "here is my arm",
		Attachments: []AttachmentInput{
			{Filename: "arm.png", MimeType: "image/png", AssetType: types.AssetTypePlacementPhoto, Data: testPNG(t, 9)},
		},
	}); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	_, variants, err := env.concepts.GenerateConcepts(ctx, session.ID)
	if err != nil {
		t.Fatalf("GenerateConcepts: %v", err)
	}
	sketch, err := env.sketches.FinalizeSketch(ctx, session.ID, variants[0].ID)
	if err != nil {
		t.Fatalf("FinalizeSketch: %v", err)
	}

	pack, err := env.sketches.BuildARPack(ctx, session.ID, sketch.ID)
	if err != nil {
		t.Fatalf("BuildARPack: %v", err)
	}
	if pack.SketchID != sketch.ID || pack.SessionID != session.ID {
		t.Fatalf("pack bound to wrong records: %+v", pack)
	}
	composite, err := env.media.Get(ctx, pack.OverlayKey)
	if err != nil || len(composite) == 0 {
		t.Fatalf("composite missing: %v", err)
	}
	if !strings.Contains(string(pack.ShaderParams), "multiply") {
		t.Fatalf("shader params missing blend mode: %s", pack.ShaderParams)
	}
	if string(pack.Anchors) != string(sketch.AnchorPoints) {
		t.Fatalf("pack anchors should mirror the sketch anchors")
	}
}

func TestBuildARPack_UnknownSketch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session := readySession(t, env, "conv-1")

	if _, err := env.concierge.ProcessMessage(ctx, ProcessMessageInput{
		SessionID: session.ID,
		Content:   "placement photo attached",
		Attachments: []AttachmentInput{
			{Filename: "arm.png", MimeType: "image/png", AssetType: types.AssetTypePlacementPhoto, Data: testPNG(t, 11)},
		},
	}); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	if _, err := env.sketches.BuildARPack(ctx, session.ID, uuid.New()); !errors.Is(err, ErrSketchNotFound) {
		t.Fatalf("expected ErrSketchNotFound, got %v", err)
	}
}

func TestGetSketch_Unknown(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.sketches.GetSketch(context.Background(), uuid.New()); !errors.Is(err, ErrSketchNotFound) {
		t.Fatalf("expected ErrSketchNotFound, got %v", err)
	}
}
