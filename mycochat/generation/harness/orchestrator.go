package harness

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"github.com/ellenlodin/Mushroom-Chatbot/mycochat"
	ports "github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/ports"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/memory"
)

// Stream outcomes reported to metrics.
const (
	StreamCompleted = "completed"
	StreamFailed    = "failed"
	StreamCancelled = "cancelled"
)

var errEmptyReply = errors.New("provider returned an empty reply")

// OrchestratorConfig controls the generation call.
type OrchestratorConfig struct {
	Model            string
	Temperature      float32
	MaxNewTokens     int
	ContextWindow    int  // turns replayed, 0 = all
	FinalizeOnCancel bool // append partial replies as incomplete turns when the consumer stops
}

// Orchestrator drives the streaming text model over a session and accumulates
// its reply.
type Orchestrator struct {
	provider     ports.Provider
	limiter      ports.RateLimiter
	tracer       ports.Tracer
	metrics      ports.Metrics
	logger       zerolog.Logger
	builder      *PromptBuilder
	instructions *InstructionSource
	cfg          OrchestratorConfig
}

// NewOrchestrator creates a new orchestrator with dependencies.
func NewOrchestrator(deps Deps, instructions *InstructionSource, cfg OrchestratorConfig) *Orchestrator {
	deps = deps.withDefaults()
	if instructions == nil {
		instructions = NewStaticInstruction(mycochat.DefaultSystemPrompt)
	}
	return &Orchestrator{
		provider:     deps.Provider,
		limiter:      deps.Limiter,
		tracer:       deps.Tracer,
		metrics:      deps.Metrics,
		logger:       deps.Logger.With().Str("component", "orchestrator").Logger(),
		builder:      NewPromptBuilder(),
		instructions: instructions,
		cfg:          cfg,
	}
}

// Generate streams a reply to the session's current context. Each element is the
// full reply so far. The caller must hold the session's turn lock for the whole
// iteration. The sequence runs once; later iterations yield nothing.
//
// On provider failure the fixed StreamErrorMessage is yielded and recorded in
// place of the partial reply. If the consumer stops early the provider call is
// cancelled and, with FinalizeOnCancel, the partial reply is kept as an
// incomplete turn.
func (o *Orchestrator) Generate(ctx context.Context, s *memory.Session) iter.Seq[string] {
	return once(func(yield func(string) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var streamErr error
		ctx, finish := o.tracer.StartSpan(ctx, "generate", map[string]any{
			"session_id": s.ID(),
			"model":      o.cfg.Model,
		})
		defer func() { finish(streamErr) }()

		var buf strings.Builder

		fail := func(err error) {
			streamErr = err
			o.logger.Error().Err(err).Str("session_id", s.ID()).Int("discarded", buf.Len()).Msg("generation failed")
			o.appendReply(s, mycochat.StreamErrorMessage, false)
			o.metrics.StreamFinished(StreamFailed)
			yield(mycochat.StreamErrorMessage)
		}

		stopped := func() {
			cancel()
			if o.cfg.FinalizeOnCancel && buf.Len() > 0 {
				o.appendReply(s, buf.String(), true)
			}
			o.tracer.Event(ctx, "stream_cancelled", map[string]any{"partial_bytes": buf.Len()})
			o.metrics.StreamFinished(StreamCancelled)
		}

		release, err := o.limiter.Acquire(ctx, o.cfg.Model)
		if err != nil {
			fail(fmt.Errorf("acquire permit: %w", err))
			return
		}
		defer release()

		ch, err := o.openStream(ctx, s)
		if err != nil {
			fail(err)
			return
		}
		defer func() {
			// Let the provider goroutine observe cancellation and exit.
			go func() {
				for range ch {
				}
			}()
		}()

		for chunk := range ch {
			if chunk.Err != nil {
				if ctx.Err() != nil {
					stopped()
					return
				}
				fail(chunk.Err)
				return
			}
			if chunk.DeltaText != "" {
				buf.WriteString(chunk.DeltaText)
				if !yield(buf.String()) {
					stopped()
					return
				}
			}
			if chunk.Done {
				break
			}
		}

		if ctx.Err() != nil {
			stopped()
			return
		}
		if buf.Len() == 0 {
			fail(errEmptyReply)
			return
		}
		o.appendReply(s, buf.String(), false)
		o.metrics.StreamFinished(StreamCompleted)
	})
}

// openStream starts the provider call, converting a provider panic into an error.
func (o *Orchestrator) openStream(ctx context.Context, s *memory.Session) (ch <-chan ports.CompletionChunk, err error) {
	in := o.builder.Build(o.instructions.Instruction(), s.Window(o.cfg.ContextWindow), map[string]string{
		"session_id": s.ID(),
	})
	opts := ports.Options{
		Model:        o.cfg.Model,
		Temperature:  o.cfg.Temperature,
		MaxNewTokens: o.cfg.MaxNewTokens,
	}

	var pc panics.Catcher
	pc.Try(func() { ch, err = o.provider.Stream(ctx, in, opts) })
	if r := pc.Recovered(); r != nil {
		return nil, fmt.Errorf("provider stream panicked: %w", r.AsError())
	}
	if err != nil {
		return nil, fmt.Errorf("provider stream failed: %w", err)
	}
	if ch == nil {
		return nil, fmt.Errorf("provider returned no stream")
	}
	return ch, nil
}

func (o *Orchestrator) appendReply(s *memory.Session, text string, incomplete bool) {
	err := s.Append(ports.Turn{
		Role:       ports.RoleAssistant,
		Fragments:  []ports.Fragment{ports.TextFragment(text)},
		Incomplete: incomplete,
	})
	if err != nil {
		o.logger.Error().Err(err).Str("session_id", s.ID()).Msg("append reply")
	}
}
