package services

import (
	"testing"

	"github.com/inkflowhq/inkflow-backend/internal/types"
)

func TestBuildActionCards_AllEnabledWhenReady(t *testing.T) {
	brief := types.DesignBrief{ReferencesCount: 3, PlacementPhotoPresent: true}
	cards := BuildActionCards(brief, OfferVerdict{CanOffer: true, Reason: "ready"}, gatePolicy())
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards when references suffice, got %d", len(cards))
	}
	if cards[0].ActionKey != ActionKeyGenerateConcept || !cards[0].Enabled {
		t.Fatalf("generate card should lead and be enabled: %+v", cards[0])
	}
	if cards[1].ActionKey != ActionKeyARTryOn || !cards[1].Enabled {
		t.Fatalf("ar card should be enabled with a placement photo: %+v", cards[1])
	}
}

func TestBuildActionCards_DisabledCardsCarryReasons(t *testing.T) {
	brief := types.DesignBrief{ReferencesCount: 0}
	verdict := OfferVerdict{CanOffer: false, Reason: "readiness 0.20 below threshold 0.70"}
	cards := BuildActionCards(brief, verdict, gatePolicy())
	if len(cards) != 3 {
		t.Fatalf("expected 3 cards, got %d", len(cards))
	}
	if cards[0].Enabled || cards[0].Reason != verdict.Reason {
		t.Fatalf("generate card should be disabled with the gate reason: %+v", cards[0])
	}
	if cards[1].Enabled || cards[1].Reason != "upload a placement photo to enable AR try-on" {
		t.Fatalf("ar card should name the missing photo: %+v", cards[1])
	}
	if !cards[2].Enabled || cards[2].ActionKey != ActionKeyAddReferences {
		t.Fatalf("add-references card should be enabled: %+v", cards[2])
	}
	if cards[2].Reason != "2 more reference images needed" {
		t.Fatalf("unexpected collect reason %q", cards[2].Reason)
	}
}

func TestBuildActionCards_ARBlockedByGateWhenPhotoPresent(t *testing.T) {
	brief := types.DesignBrief{ReferencesCount: 5, PlacementPhotoPresent: true}
	verdict := OfferVerdict{CanOffer: false, Reason: "cooldown active"}
	cards := BuildActionCards(brief, verdict, gatePolicy())
	if cards[1].Enabled || cards[1].Reason != "cooldown active" {
		t.Fatalf("ar card should inherit the gate reason: %+v", cards[1])
	}
}

func TestBuildActionCards_SleeveReferenceMinimum(t *testing.T) {
	brief := types.DesignBrief{IsSleeve: true, ReferencesCount: 3}
	cards := BuildActionCards(brief, OfferVerdict{CanOffer: true, Reason: "ready"}, gatePolicy())
	last := cards[len(cards)-1]
	if last.ActionKey != ActionKeyAddReferences {
		t.Fatalf("sleeve under minimum should get a collect card")
	}
	if last.Reason != "2 more reference images needed" {
		t.Fatalf("unexpected collect reason %q", last.Reason)
	}
}
