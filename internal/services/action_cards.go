package services

import (
	"fmt"

	"github.com/inkflowhq/inkflow-backend/internal/types"
)

const (
	ActionKeyGenerateConcept = "generate_concept"
	ActionKeyARTryOn         = "ar_tryon"
	ActionKeyAddReferences   = "add_references"
)

// ActionCard is a user-facing affordance. Disabled cards always carry a
// specific reason; the dispatch layer re-checks the same conditions
// server-side so a stale card cannot force an action through.
type ActionCard struct {
	Type      string `json:"type"`
	Label     string `json:"label"`
	ActionKey string `json:"action_key"`
	Enabled   bool   `json:"enabled"`
	Reason    string `json:"reason,omitempty"`
}

// BuildActionCards turns the gate verdict and brief state into the
// ordered affordance list for one session.
func BuildActionCards(brief types.DesignBrief, verdict OfferVerdict, policy types.OfferPolicy) []ActionCard {
	cards := make([]ActionCard, 0, 3)

	concept := ActionCard{
		Type:      "generate",
		Label:     "Generate concept",
		ActionKey: ActionKeyGenerateConcept,
		Enabled:   verdict.CanOffer,
	}
	if !verdict.CanOffer {
		concept.Reason = verdict.Reason
	}
	cards = append(cards, concept)

	ar := ActionCard{
		Type:      "preview",
		Label:     "AR try-on",
		ActionKey: ActionKeyARTryOn,
	}
	switch {
	case !brief.PlacementPhotoPresent:
		ar.Reason = "upload a placement photo to enable AR try-on"
	case !verdict.CanOffer:
		ar.Reason = verdict.Reason
	default:
		ar.Enabled = true
	}
	cards = append(cards, ar)

	minRefs := policy.MinReferencesSingle
	if brief.IsSleeve {
		minRefs = policy.MinReferencesSleeve
	}
	if brief.ReferencesCount < minRefs {
		cards = append(cards, ActionCard{
			Type:      "collect",
			Label:     "Add references",
			ActionKey: ActionKeyAddReferences,
			Enabled:   true,
			Reason:    fmt.Sprintf("%d more reference images needed", minRefs-brief.ReferencesCount),
		})
	}

	return cards
}
