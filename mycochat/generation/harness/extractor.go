package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/ellenlodin/Mushroom-Chatbot/mycochat"
	ports "github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/ports"
)

// ErrExtraction marks a failed structured identification. The pipeline treats it
// as "no guess" and carries on.
var ErrExtraction = errors.New("species extraction failed")

// SpeciesGuessSchemaName is the schema name sent with structured requests.
const SpeciesGuessSchemaName = "species_guess"

// SpeciesGuessSchema is the JSON schema the vision model must satisfy.
func SpeciesGuessSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"common_name": map[string]any{"type": "string"},
			"genus":       map[string]any{"type": "string"},
			"confidence":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"visible_traits": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"color":  map[string]any{"type": "string"},
			"edible": map[string]any{"type": "boolean"},
		},
		"required":             []string{"common_name", "genus", "confidence", "visible_traits", "color", "edible"},
		"additionalProperties": false,
	}
}

// Extractor asks the vision model for a SpeciesGuess. One provider call per image,
// no retry.
type Extractor struct {
	provider    ports.Provider
	limiter     ports.RateLimiter
	tracer      ports.Tracer
	metrics     ports.Metrics
	logger      zerolog.Logger
	parser      *OutputParser
	validator   *JSONValidator
	model       string
	temperature float32
	schema      map[string]any
	schemaJSON  []byte
}

// NewExtractor wires an extractor for the given vision model.
func NewExtractor(deps Deps, model string, temperature float32) *Extractor {
	deps = deps.withDefaults()
	schema := SpeciesGuessSchema()
	raw, _ := json.Marshal(schema)
	return &Extractor{
		provider:    deps.Provider,
		limiter:     deps.Limiter,
		tracer:      deps.Tracer,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With().Str("component", "extractor").Logger(),
		parser:      NewOutputParser(),
		validator:   NewJSONValidator(),
		model:       model,
		temperature: temperature,
		schema:      schema,
		schemaJSON:  raw,
	}
}

// Extract identifies the mushroom in image. Every failure wraps ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, image ports.Fragment) (guess ports.SpeciesGuess, err error) {
	ctx, finish := e.tracer.StartSpan(ctx, "extract", map[string]any{
		"model":        e.model,
		"content_type": image.ContentType,
		"bytes":        len(image.Data),
	})
	defer func() {
		finish(err)
		e.metrics.ExtractionFinished(err == nil)
	}()

	if !image.IsMedia() {
		return ports.SpeciesGuess{}, fmt.Errorf("%w: fragment is not media", ErrExtraction)
	}

	release, err := e.limiter.Acquire(ctx, e.model)
	if err != nil {
		return ports.SpeciesGuess{}, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	defer release()

	in := ports.PromptInput{
		Turns: []ports.Turn{{
			Role: ports.RoleUser,
			Fragments: []ports.Fragment{
				ports.TextFragment(mycochat.ExtractionInstruction),
				image,
			},
		}},
		Meta: map[string]string{"purpose": SpeciesGuessSchemaName},
	}
	var resp ports.Completion
	var pc panics.Catcher
	pc.Try(func() {
		resp, err = e.provider.Complete(ctx, in, ports.Options{
			Model:          e.model,
			Temperature:    e.temperature,
			ResponseSchema: e.schema,
			SchemaName:     SpeciesGuessSchemaName,
		})
	})
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err != nil {
		e.logger.Warn().Err(err).Msg("vision call failed")
		return ports.SpeciesGuess{}, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	guess, err = e.decode(resp.Text)
	if err != nil {
		e.logger.Warn().Err(err).Str("raw", resp.Text).Msg("unusable identification")
		return ports.SpeciesGuess{}, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	e.tracer.Event(ctx, "species_guess", map[string]any{
		"common_name": guess.CommonName,
		"confidence":  guess.Confidence,
	})
	return guess, nil
}

func (e *Extractor) decode(text string) (ports.SpeciesGuess, error) {
	data, err := e.parser.ParseJSONOutput(text)
	if err != nil {
		return ports.SpeciesGuess{}, err
	}
	if err := e.validator.Validate(data, e.schemaJSON); err != nil {
		return ports.SpeciesGuess{}, err
	}
	var g ports.SpeciesGuess
	if err := json.Unmarshal(data, &g); err != nil {
		return ports.SpeciesGuess{}, fmt.Errorf("decode species guess: %w", err)
	}
	return g, nil
}
