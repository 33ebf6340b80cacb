package services

import (
	"strings"

	"github.com/inkflowhq/inkflow-backend/internal/types"
)

// IntentClassifier turns one free-text message into the four intent
// flags. Implementations may over-trigger: false positives only lower
// the offer threshold, they never unlock anything by themselves.
type IntentClassifier interface {
	Classify(text string) types.IntentFlags
}

// keywordIntentClassifier matches lower-cased substrings in English and
// Spanish. A statistical classifier can replace it without touching the
// state machine.
type keywordIntentClassifier struct {
	preview    []string
	doubt      []string
	urgency    []string
	comparison []string
}

func NewKeywordIntentClassifier() IntentClassifier {
	return &keywordIntentClassifier{
		preview: []string{
			"show me", "can i see", "preview", "sketch", "mockup", "mock-up",
			"what would it look", "how would it look", "draft", "concept art",
			"muestrame", "muéstrame", "puedo ver", "boceto", "borrador",
			"como se veria", "cómo se vería", "una prueba",
		},
		doubt: []string{
			"not sure", "unsure", "i doubt", "hesitant", "maybe", "thinking about",
			"on the fence", "second thoughts", "can't decide", "cant decide",
			"no estoy segur", "dudo", "duda", "quizas", "quizás", "tal vez",
			"no me decido", "lo estoy pensando",
		},
		urgency: []string{
			"asap", "urgent", "soon as possible", "this week", "tomorrow",
			"right away", "how fast", "quickly",
			"urgente", "lo antes posible", "cuanto antes", "esta semana",
			"manana", "mañana", "rapido", "rápido",
		},
		comparison: []string{
			"other studio", "another studio", "other artist", "another artist",
			"cheaper", "price elsewhere", "compare", "quote from",
			"otro estudio", "otro artista", "mas barato", "más barato",
			"comparar", "otro presupuesto",
		},
	}
}

func (c *keywordIntentClassifier) Classify(text string) types.IntentFlags {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return types.IntentFlags{}
	}
	return types.IntentFlags{
		PreviewRequest: containsAny(s, c.preview),
		Doubt:          containsAny(s, c.doubt),
		Urgency:        containsAny(s, c.urgency),
		Comparison:     containsAny(s, c.comparison),
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
