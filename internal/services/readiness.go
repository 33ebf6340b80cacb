package services

import (
	"math"

	"github.com/inkflowhq/inkflow-backend/internal/types"
)

// ReadinessScore computes the [0,1] completeness of a brief. Pure and
// deterministic; the session recomputes it synchronously on every brief
// mutation, never from a stale cache.
func ReadinessScore(brief types.DesignBrief) float64 {
	if brief.IsSleeve {
		return sleeveReadiness(brief)
	}
	return singlePieceReadiness(brief)
}

func singlePieceReadiness(brief types.DesignBrief) float64 {
	score := 0.0
	if brief.Placement != "" {
		score += 0.20
	}
	if brief.SizeCategory != "" || brief.SizeCm > 0 {
		score += 0.15
	}
	if len(brief.StyleTags) > 0 {
		score += 0.15
	}
	if brief.ConceptSummary != "" {
		score += 0.20
	}
	// References saturate at 3.
	score += math.Min(float64(brief.ReferencesCount)*0.10, 0.30)
	return clamp01(score)
}

func sleeveReadiness(brief types.DesignBrief) float64 {
	score := 0.0
	if brief.SleeveType != "" {
		score += 0.10
	}
	if brief.SleeveTheme != "" {
		score += 0.10
	}
	if brief.Placement != "" {
		score += 0.05
	}
	if brief.PlacementPhotoPresent {
		score += 0.15
	}
	if len(brief.HeroElements) > 0 {
		score += 0.10
	}
	if len(brief.SecondaryElements) > 0 {
		score += 0.10
	}
	if len(brief.FillerElements) > 0 {
		score += 0.10
	}
	// Sleeves need more references; saturate at 8.
	score += math.Min(float64(brief.ReferencesCount)*0.0375, 0.30)
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
