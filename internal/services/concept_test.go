package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/inkflowhq/inkflow-backend/internal/types"
)

// readySession creates a session already past the alignment gate.
func readySession(t *testing.T, env *testEnv, conv string) *types.ConciergeSession {
	t.Helper()
	ctx := context.Background()
	session, err := env.concierge.CreateSession(ctx, env.workspaceID, conv, nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	brief := types.DesignBrief{
		Placement:       "forearm",
		SizeCategory:    "medium",
		StyleTags:       []string{"fine_line"},
		ConceptSummary:  "heron in flight over waves",
		ReferencesCount: 3,
	}
	if err := env.sessionRepo.UpdateFields(ctx, nil, session.ID, map[string]interface{}{
		"stage":           types.StageDesignAlignment,
		"brief":           datatypes.NewJSONType(brief),
		"readiness_score": ReadinessScore(brief),
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	session, err = env.concierge.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	return session
}

func TestGenerateConcepts_RefusedBeforeGate(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session, _ := env.concierge.CreateSession(ctx, env.workspaceID, "conv-1", nil)

	_, _, err := env.concepts.GenerateConcepts(ctx, session.ID)
	if !errors.Is(err, ErrOfferRefused) {
		t.Fatalf("expected ErrOfferRefused, got %v", err)
	}
	variants, listErr := env.concepts.ListVariants(ctx, session.ID)
	if listErr != nil {
		t.Fatalf("ListVariants: %v", listErr)
	}
	if len(variants) != 0 {
		t.Fatalf("refused generation must not leave variants, got %d", len(variants))
	}
}

func TestGenerateConcepts_RendersFullBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session := readySession(t, env, "conv-1")

	job, variants, err := env.concepts.GenerateConcepts(ctx, session.ID)
	if err != nil {
		t.Fatalf("GenerateConcepts: %v", err)
	}
	if job == nil || job.Status != types.JobStatusDone {
		t.Fatalf("expected a done job, got %+v", job)
	}
	if len(variants) != 6 {
		t.Fatalf("expected 6 variants, got %d", len(variants))
	}

	seenStyles := map[string]bool{}
	for i, v := range variants {
		if v.SessionID != session.ID {
			t.Fatalf("variant %d bound to wrong session", i)
		}
		if v.Provider != "deterministic" {
			t.Fatalf("variant %d provider %q", i, v.Provider)
		}
		if v.StyleKey != ConceptStyles[i%len(ConceptStyles)] {
			t.Fatalf("variant %d style %q, want %q", i, v.StyleKey, ConceptStyles[i%len(ConceptStyles)])
		}
		seenStyles[v.StyleKey] = true
		for _, score := range []float64{v.StyleAlignment, v.Clarity, v.Uniqueness, v.ARFitness} {
			if score < 0.55 || score > 0.99 {
				t.Fatalf("variant %d score %.2f out of range", i, score)
			}
		}
		data, err := env.media.Get(ctx, v.ImageKey)
		if err != nil || len(data) == 0 {
			t.Fatalf("variant %d image missing: %v", i, err)
		}
		if !strings.Contains(v.Prompt, "heron in flight") {
			t.Fatalf("variant %d prompt lost the summary: %q", i, v.Prompt)
		}
	}
	if len(seenStyles) != len(ConceptStyles) {
		t.Fatalf("a 6-variant batch should cover every style, got %v", seenStyles)
	}

	listed, err := env.concepts.ListVariants(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListVariants: %v", err)
	}
	if len(listed) != 6 {
		t.Fatalf("expected 6 persisted variants, got %d", len(listed))
	}
	for i, v := range listed {
		if v.JobID == nil || *v.JobID != job.ID {
			t.Fatalf("persisted variant %d not linked to job %s: %v", i, job.ID, v.JobID)
		}
	}
}

func TestGenerateConcepts_MovesStageToAlignment(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	session, _ := env.concierge.CreateSession(ctx, env.workspaceID, "conv-1", nil)

	// Readiness over the preview threshold with preview intent raised.
	brief := types.DesignBrief{
		Placement:       "ankle",
		ConceptSummary:  "tiny crescent moon",
		ReferencesCount: 2,
	}
	if err := env.sessionRepo.UpdateFields(ctx, nil, session.ID, map[string]interface{}{
		"stage":           types.StageBriefBuilding,
		"brief":           datatypes.NewJSONType(brief),
		"intent_flags":    datatypes.NewJSONType(types.IntentFlags{PreviewRequest: true}),
		"readiness_score": ReadinessScore(brief),
	}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if _, _, err := env.concepts.GenerateConcepts(ctx, session.ID); err != nil {
		t.Fatalf("GenerateConcepts: %v", err)
	}
	reloaded, _ := env.concierge.GetSession(ctx, session.ID)
	if reloaded.Stage != types.StageDesignAlignment {
		t.Fatalf("generation should advance to design_alignment, got %s", reloaded.Stage)
	}
}

type failingConceptProvider struct{}

func (failingConceptProvider) Name() string { return "flaky_live" }
func (failingConceptProvider) GenerateConcept(ctx context.Context, prompt, styleKey string) (*ConceptImage, error) {
	return nil, fmt.Errorf("upstream image api unavailable")
}

func TestGenerateConcepts_FallsBackPerVariant(t *testing.T) {
	env := newTestEnv(t, failingConceptProvider{})
	ctx := context.Background()

	if _, err := env.workspaces.SetFeatureFlag(ctx, env.workspaceID, types.FlagLiveProviders, true); err != nil {
		t.Fatalf("enable live providers: %v", err)
	}
	session := readySession(t, env, "conv-1")

	job, variants, err := env.concepts.GenerateConcepts(ctx, session.ID)
	if err != nil {
		t.Fatalf("GenerateConcepts should degrade, not fail: %v", err)
	}
	if job.Status != types.JobStatusDone {
		t.Fatalf("job should complete on fallback, got %s", job.Status)
	}
	if len(variants) != 6 {
		t.Fatalf("fallback batch must still be full, got %d", len(variants))
	}
	for _, v := range variants {
		if v.Provider != "deterministic" {
			t.Fatalf("fallback variants should come from the deterministic renderer, got %q", v.Provider)
		}
	}
}

// lowScoreConceptProvider renders without error, but its output never
// clears the pass bar on every scoring axis.
type lowScoreConceptProvider struct{ payload []byte }

func (p lowScoreConceptProvider) Name() string { return "flat_live" }
func (p lowScoreConceptProvider) GenerateConcept(ctx context.Context, prompt, styleKey string) (*ConceptImage, error) {
	return &ConceptImage{Bytes: p.payload, MimeType: "image/png"}, nil
}

func failingScorePayload(t *testing.T) []byte {
	t.Helper()
	for n := 0; n < 10000; n++ {
		b := []byte(fmt.Sprintf("flat-render-%d", n))
		var v types.ConceptVariant
		scoreVariant(&v, b)
		if !v.Passed {
			return b
		}
	}
	t.Fatalf("no failing payload found")
	return nil
}

func TestGenerateConcepts_FallsBackWhenNothingPasses(t *testing.T) {
	env := newTestEnv(t, lowScoreConceptProvider{payload: failingScorePayload(t)})
	ctx := context.Background()

	if _, err := env.workspaces.SetFeatureFlag(ctx, env.workspaceID, types.FlagLiveProviders, true); err != nil {
		t.Fatalf("enable live providers: %v", err)
	}
	session := readySession(t, env, "conv-1")

	job, variants, err := env.concepts.GenerateConcepts(ctx, session.ID)
	if err != nil {
		t.Fatalf("GenerateConcepts should degrade, not fail: %v", err)
	}
	if job.Status != types.JobStatusDone {
		t.Fatalf("job should complete on fallback, got %s", job.Status)
	}
	if len(variants) != 6 {
		t.Fatalf("fallback batch must still be full, got %d", len(variants))
	}
	for i, v := range variants {
		if v.Provider != "deterministic" {
			t.Fatalf("variant %d: a live batch with zero passing variants must be re-rendered deterministically, got %q", i, v.Provider)
		}
	}

	listed, err := env.concepts.ListVariants(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListVariants: %v", err)
	}
	for i, v := range listed {
		if v.Provider != "deterministic" {
			t.Fatalf("persisted variant %d kept the unusable live render: %q", i, v.Provider)
		}
	}
}

func TestListVariants_UnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.concepts.ListVariants(context.Background(), uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestBuildConceptPrompt(t *testing.T) {
	if got := BuildConceptPrompt(types.DesignBrief{}); got != "custom tattoo design" {
		t.Fatalf("empty brief should fall back to the default prompt, got %q", got)
	}
	brief := types.DesignBrief{
		ConceptSummary: "phoenix rising",
		IsSleeve:       true,
		SleeveTheme:    "rebirth",
		HeroElements:   []string{"phoenix"},
		StyleTags:      []string{"blackwork"},
		Placement:      "upper arm",
		ColorMode:      "blackwork",
	}
	got := BuildConceptPrompt(brief)
	for _, want := range []string{"phoenix rising", "sleeve theme: rebirth", "hero elements: phoenix", "styles: blackwork", "placement: upper arm", "color: blackwork"} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q: %q", want, got)
		}
	}
}
