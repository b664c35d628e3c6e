package harness

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// RiskCategory tags a user message that should not reach the model as-is.
type RiskCategory string

const (
	RiskNone      RiskCategory = ""
	RiskColor     RiskCategory = "color"
	RiskEdibility RiskCategory = "edibility"
	RiskMedical   RiskCategory = "medical"
)

// RiskRule binds a category to the patterns that trigger it.
type RiskRule struct {
	Category RiskCategory
	Patterns []string
}

// Policy decides what happens to a classified turn.
type Policy struct {
	Intercept bool   // answer with Message instead of calling the model
	Message   string // fixed safety reply
}

// DefaultRiskRules returns the built-in rules in priority order.
func DefaultRiskRules() []RiskRule {
	return []RiskRule{
		{Category: RiskColor, Patterns: []string{
			`(what\s+color\s+is\s+the\s+mushroom)`,
			`(mushroom'?s\s+color)`,
			`(vilken\s+färg\s+har\s+svampen)`,
		}},
		{Category: RiskEdibility, Patterns: []string{
			`\b(is\s+it\s+edible|kan\s+man\s+äta|eat\s+this)\b`,
			`\b(poisonous|giftig|toxic)\b`,
		}},
		{Category: RiskMedical, Patterns: []string{
			`\b(symptom|symtom|treatment|behandling|cure)\b`,
			`\b(medicin|medicine|sjukdom)\b`,
		}},
	}
}

// DefaultPolicies intercepts every built-in category with its safety reply.
func DefaultPolicies() map[RiskCategory]Policy {
	return map[RiskCategory]Policy{
		RiskColor: {Intercept: true, Message: "⚠️ Jag kan inte direkt säga vilken färg svampen har – ljus, ålder och miljö påverkar.\n" +
			"📌 Beskriv istället själv (hatt, skivor/rör, fot, lukt osv.). Kom ihåg: ät aldrig en svamp baserat på en chatt."},
		RiskEdibility: {Intercept: true, Message: "⚠️ Säkerhetsvarning: Frågor om ätlighet/giftighet kan vara farliga.\n" +
			"Jag kan gärna beskriva synliga drag och riskfaktorer, men **du ska aldrig äta en svamp baserat på en chatt**.\n" +
			"Kontakta alltid lokala experter eller litteratur."},
		RiskMedical: {Intercept: true, Message: "⚠️ Jag kan inte ge medicinska råd om svampförgiftning.\n" +
			"Rådfråga alltid sjukvård. Mitt fokus är endast på mykologiska kännetecken."},
	}
}

type compiledRule struct {
	category RiskCategory
	patterns []*regexp.Regexp
}

// RiskClassifier maps free text to the first matching risk category.
// It holds no mutable state and is safe for concurrent use.
type RiskClassifier struct {
	rules    []compiledRule
	policies map[RiskCategory]Policy
}

// NewRiskClassifier compiles rules in the given order. A nil policies map means
// no category is intercepted.
func NewRiskClassifier(rules []RiskRule, policies map[RiskCategory]Policy) (*RiskClassifier, error) {
	c := &RiskClassifier{policies: make(map[RiskCategory]Policy, len(policies))}
	for cat, p := range policies {
		c.policies[cat] = p
	}
	for _, r := range rules {
		if r.Category == RiskNone {
			return nil, fmt.Errorf("risk rule with empty category")
		}
		cr := compiledRule{category: r.Category}
		for _, p := range r.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("compile pattern for %s: %w", r.Category, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		c.rules = append(c.rules, cr)
	}
	return c, nil
}

// Classify returns the first category whose patterns match text, or RiskNone.
func (c *RiskClassifier) Classify(text string) RiskCategory {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		for _, re := range r.patterns {
			if re.MatchString(lower) {
				return r.category
			}
		}
	}
	return RiskNone
}

// Policy returns the handling for category; ok is false for pass-through.
func (c *RiskClassifier) Policy(category RiskCategory) (Policy, bool) {
	if category == RiskNone {
		return Policy{}, false
	}
	p, ok := c.policies[category]
	if !ok || !p.Intercept {
		return Policy{}, false
	}
	return p, true
}

// JSONValidator handles JSON schema validation.
type JSONValidator struct{}

// NewJSONValidator creates a new JSON validator.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{}
}

// Validate checks if JSON data conforms to a schema.
func (v *JSONValidator) Validate(data json.RawMessage, schema []byte) error {
	if len(schema) == 0 {
		return nil
	}
	if !json.Valid(data) {
		return fmt.Errorf("data is not valid JSON")
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
