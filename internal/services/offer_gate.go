package services

import (
	"fmt"
	"time"

	"github.com/inkflowhq/inkflow-backend/internal/types"
)

// OfferVerdict is the gate's decision. Reason is always non-empty on
// refusal; Missing is populated when readiness is the limiting factor.
type OfferVerdict struct {
	CanOffer bool     `json:"can_offer"`
	Reason   string   `json:"reason"`
	Missing  []string `json:"missing,omitempty"`
}

// OfferGateInput is everything the gate is allowed to look at. The
// evaluation is pure with respect to this input.
type OfferGateInput struct {
	Stage            string
	ReadinessScore   float64
	Intent           types.IntentFlags
	CooldownUntil    *time.Time
	MaxOffersReached bool
	Brief            types.DesignBrief
}

// EvaluateOffer decides whether generation may be offered right now.
// Rule order: cooldown, offer cap, threshold selection, readiness gap.
func EvaluateOffer(now time.Time, in OfferGateInput, policy types.OfferPolicy) OfferVerdict {
	if in.CooldownUntil != nil && now.Before(*in.CooldownUntil) {
		return OfferVerdict{CanOffer: false, Reason: "cooldown active"}
	}
	if in.MaxOffersReached {
		return OfferVerdict{CanOffer: false, Reason: "offer cap reached"}
	}

	var threshold float64
	switch {
	case types.StageRank(in.Stage) >= types.StageRank(types.StageDesignAlignment):
		if in.Brief.IsSleeve {
			threshold = policy.SleeveReadinessThreshold
		} else {
			threshold = policy.SingleReadinessThreshold
		}
	case in.Intent.PreviewRequest || in.Intent.Doubt:
		if in.Brief.IsSleeve {
			threshold = policy.SleevePreviewRequestThreshold
		} else {
			threshold = policy.PreviewRequestThreshold
		}
	default:
		return OfferVerdict{CanOffer: false, Reason: "conversation not ready for an offer"}
	}

	if in.ReadinessScore < threshold {
		return OfferVerdict{
			CanOffer: false,
			Reason:   fmt.Sprintf("readiness %.2f below threshold %.2f", in.ReadinessScore, threshold),
			Missing:  briefGaps(in.Brief, policy),
		}
	}
	return OfferVerdict{CanOffer: true, Reason: "ready"}
}

// briefGaps lists what the client still needs to provide, in a fixed
// order per project type.
func briefGaps(brief types.DesignBrief, policy types.OfferPolicy) []string {
	var missing []string
	if brief.IsSleeve {
		if brief.SleeveType == "" {
			missing = append(missing, "sleeve type not chosen")
		}
		if brief.ReferencesCount < policy.MinReferencesSleeve {
			missing = append(missing, fmt.Sprintf("add %d more reference images", policy.MinReferencesSleeve-brief.ReferencesCount))
		}
		if !brief.PlacementPhotoPresent {
			missing = append(missing, "placement photo missing")
		}
		if len(brief.HeroElements) == 0 {
			missing = append(missing, "no hero element yet")
		}
		return missing
	}
	if brief.ReferencesCount < policy.MinReferencesSingle {
		missing = append(missing, fmt.Sprintf("add %d more reference images", policy.MinReferencesSingle-brief.ReferencesCount))
	}
	if brief.Placement == "" {
		missing = append(missing, "placement missing")
	}
	if brief.ConceptSummary == "" {
		missing = append(missing, "concept summary missing")
	}
	return missing
}
