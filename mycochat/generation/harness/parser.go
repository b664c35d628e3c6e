package harness

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	codeFence     = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// OutputParser handles extracting structured data from model responses.
type OutputParser struct{}

// NewOutputParser creates a parser.
func NewOutputParser() *OutputParser {
	return &OutputParser{}
}

// ParseJSONOutput pulls the outermost JSON object out of a model reply. Markdown
// code fences and surrounding prose are dropped.
func (p *OutputParser) ParseJSONOutput(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON found in response")
	}
	candidate := text[start : end+1]

	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}
	cleaned := p.fixJSON(candidate)
	if !json.Valid([]byte(cleaned)) {
		return nil, fmt.Errorf("invalid JSON in response")
	}
	return json.RawMessage(cleaned), nil
}

// fixJSON repairs trailing commas before closing braces/brackets.
func (p *OutputParser) fixJSON(s string) string {
	return trailingComma.ReplaceAllString(s, "$1")
}
