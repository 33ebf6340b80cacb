package types

// DesignBrief is the structured extraction of client intent for one
// tattoo project. It lives inside a ConciergeSession and is mutated
// incrementally; nothing replaces it wholesale.
//
// ReferencesCount and PlacementPhotoPresent are derived exclusively
// from accepted vision assets. Text parsing must never touch them.
type DesignBrief struct {
	Placement      string   `json:"placement,omitempty"`
	SizeCategory   string   `json:"size_category,omitempty"`
	SizeCm         float64  `json:"size_cm,omitempty"`
	StyleTags      []string `json:"style_tags,omitempty"`
	ColorMode      string   `json:"color_mode,omitempty"`
	ConceptSummary string   `json:"concept_summary,omitempty"`

	IsSleeve          bool     `json:"is_sleeve,omitempty"`
	SleeveType        string   `json:"sleeve_type,omitempty"`
	SleeveTheme       string   `json:"sleeve_theme,omitempty"`
	HeroElements      []string `json:"hero_elements,omitempty"`
	SecondaryElements []string `json:"secondary_elements,omitempty"`
	FillerElements    []string `json:"filler_elements,omitempty"`

	ReferencesCount       int  `json:"references_count"`
	PlacementPhotoPresent bool `json:"placement_photo_present"`

	TimelineHint string `json:"timeline_hint,omitempty"`
	BudgetHint   string `json:"budget_hint,omitempty"`
}

// IntentFlags are sticky per session: once a flag goes true it stays
// true for the life of the session.
type IntentFlags struct {
	PreviewRequest bool `json:"preview_request"`
	Doubt          bool `json:"doubt"`
	Urgency        bool `json:"urgency"`
	Comparison     bool `json:"comparison"`
}

// Merge ORs the other flags in and returns the result.
func (f IntentFlags) Merge(other IntentFlags) IntentFlags {
	return IntentFlags{
		PreviewRequest: f.PreviewRequest || other.PreviewRequest,
		Doubt:          f.Doubt || other.Doubt,
		Urgency:        f.Urgency || other.Urgency,
		Comparison:     f.Comparison || other.Comparison,
	}
}
