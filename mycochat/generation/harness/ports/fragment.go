package harnessports

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FragmentKind discriminates the payload carried by a Fragment.
type FragmentKind string

const (
	FragmentText  FragmentKind = "text"
	FragmentMedia FragmentKind = "media"
)

// Fragment is the atomic unit of a turn: either text or a media payload.
type Fragment struct {
	Kind        FragmentKind `json:"kind"`
	Text        string       `json:"text,omitempty"`
	Data        []byte       `json:"-"`
	ContentType string       `json:"content_type,omitempty"`
	Name        string       `json:"name,omitempty"`
	CapturedAt  time.Time    `json:"captured_at,omitzero"` // EXIF capture time, zero when unknown
}

// TextFragment wraps s as a text fragment.
func TextFragment(s string) Fragment {
	return Fragment{Kind: FragmentText, Text: s}
}

// MediaFragment wraps raw bytes with their content type.
func MediaFragment(data []byte, contentType string) Fragment {
	return Fragment{Kind: FragmentMedia, Data: data, ContentType: contentType}
}

// IsMedia reports whether the fragment carries a media payload.
func (f Fragment) IsMedia() bool { return f.Kind == FragmentMedia }

// Turn is one participant's ordered fragments from a single pipeline pass.
// Turns are append-only; their order is replayed verbatim to the provider.
type Turn struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Fragments  []Fragment `json:"fragments"`
	CreatedAt  time.Time  `json:"created_at"`
	Synthetic  bool       `json:"synthetic,omitempty"`  // injected identification summary
	Incomplete bool       `json:"incomplete,omitempty"` // partial reply kept after the consumer stopped
}

// Text concatenates the text fragments of the turn.
func (t Turn) Text() string {
	var out string
	for _, f := range t.Fragments {
		if f.Kind != FragmentText {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += f.Text
	}
	return out
}

// Media returns the media fragments of the turn in order.
func (t Turn) Media() []Fragment {
	var out []Fragment
	for _, f := range t.Fragments {
		if f.IsMedia() {
			out = append(out, f)
		}
	}
	return out
}

// SpeciesGuess is the structured identification returned by the vision model.
type SpeciesGuess struct {
	CommonName    string   `json:"common_name"`
	Genus         string   `json:"genus"`
	Confidence    float64  `json:"confidence"`
	VisibleTraits []string `json:"visible_traits"`
	Color         string   `json:"color"`
	Edible        bool     `json:"edible"`
}
