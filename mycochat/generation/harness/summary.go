package harness

import (
	"fmt"
	"math"
	"strings"

	"github.com/ellenlodin/Mushroom-Chatbot/mycochat"
	ports "github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/ports"
)

// SummarizeGuess renders the fixed identification summary shown for image-only turns.
func SummarizeGuess(g ports.SpeciesGuess) string {
	var b strings.Builder
	fmt.Fprintf(&b, "• Suggested species: %s (genus %s)\n", g.CommonName, g.Genus)
	fmt.Fprintf(&b, "• Color: %s\n", g.Color)
	fmt.Fprintf(&b, "• Visible traits: %s\n", strings.Join(g.VisibleTraits, ", "))
	fmt.Fprintf(&b, "• Model confidence: %d%%\n", percent(g.Confidence))
	b.WriteString(mycochat.SummaryDisclaimer)
	return b.String()
}

// ContextNote is the synthetic turn injected ahead of generation when an image
// arrives together with a question.
func ContextNote(g ports.SpeciesGuess) string {
	edible := "no"
	if g.Edible {
		edible = "yes"
	}
	return fmt.Sprintf(
		"[Image identification]\nSpecies: %s\nGenus: %s\nColor: %s\nVisible traits: %s\n"+
			"Model confidence: %d%%\nModel edibility flag (unverified, never advice): %s",
		g.CommonName, g.Genus, g.Color, strings.Join(g.VisibleTraits, ", "),
		percent(g.Confidence), edible,
	)
}

func percent(confidence float64) int {
	return int(math.Round(confidence * 100))
}
