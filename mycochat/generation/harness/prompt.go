package harness

import (
	"strings"

	ports "github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/ports"
)

// PromptBuilder assembles model-ready inputs from the system instruction and the
// conversation log.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

// Build normalises text fragments and returns a Provider PromptInput. Turns are
// expected to be a private copy; they are modified in place.
func (b *PromptBuilder) Build(system string, turns []ports.Turn, meta map[string]string) ports.PromptInput {
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }

	for i := range turns {
		for j := range turns[i].Fragments {
			if turns[i].Fragments[j].Kind == ports.FragmentText {
				turns[i].Fragments[j].Text = norm(turns[i].Fragments[j].Text)
			}
		}
	}

	return ports.PromptInput{
		System: norm(system),
		Turns:  turns,
		Meta:   meta,
	}
}
