package harness

import (
	"context"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	ports "github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/ports"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/media"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/memory"
)

// Strategy is the reply path chosen for a turn.
type Strategy string

const (
	StrategyBlocked   Strategy = "blocked"
	StrategySummary   Strategy = "summary"
	StrategyAugmented Strategy = "augmented"
	StrategyPlain     Strategy = "plain"
)

// Pipeline is the chat entry point: it classifies, records, identifies and
// answers one user turn at a time per session.
type Pipeline struct {
	classifier   *RiskClassifier
	extractor    *Extractor
	orchestrator *Orchestrator
	metrics      ports.Metrics
	logger       zerolog.Logger
}

// NewPipeline wires the pipeline stages.
func NewPipeline(classifier *RiskClassifier, extractor *Extractor, orchestrator *Orchestrator, deps Deps) *Pipeline {
	deps = deps.withDefaults()
	return &Pipeline{
		classifier:   classifier,
		extractor:    extractor,
		orchestrator: orchestrator,
		metrics:      deps.Metrics,
		logger:       deps.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// HandleTurn answers text and files within session s. Classification and media
// encoding happen before it returns, so a read failure leaves the session
// untouched. The returned sequence yields the reply as it grows; the session is
// locked while it runs. Only the first file is used.
func (p *Pipeline) HandleTurn(ctx context.Context, s *memory.Session, text string, files []media.Resource) (iter.Seq[string], error) {
	category := p.classifier.Classify(text)
	if policy, ok := p.classifier.Policy(category); ok {
		return p.blocked(s, text, category, policy), nil
	}
	if category != RiskNone {
		p.logger.Debug().Str("category", string(category)).Msg("risk category passed through")
	}

	var image *ports.Fragment
	if len(files) > 0 {
		if len(files) > 1 {
			p.logger.Info().Int("files", len(files)).Str("used", files[0].Name()).Msg("ignoring extra attachments")
		}
		frag, err := media.Encode(files[0])
		if err != nil {
			return nil, err
		}
		image = &frag
	}

	hasText := strings.TrimSpace(text) != ""
	if !hasText && image == nil {
		return nil, memory.ErrEmptyTurn
	}

	return p.respond(ctx, s, text, hasText, image), nil
}

func (p *Pipeline) blocked(s *memory.Session, text string, category RiskCategory, policy Policy) iter.Seq[string] {
	return once(func(yield func(string) bool) {
		s.Lock()
		defer s.Unlock()

		p.appendTurn(s, ports.RoleUser, false, ports.TextFragment(text))
		p.appendTurn(s, ports.RoleAssistant, false, ports.TextFragment(policy.Message))
		p.logger.Info().Str("session_id", s.ID()).Str("category", string(category)).Msg("turn intercepted")
		p.metrics.RiskIntercepted(string(category))
		p.metrics.TurnHandled(string(StrategyBlocked))
		yield(policy.Message)
	})
}

func (p *Pipeline) respond(ctx context.Context, s *memory.Session, text string, hasText bool, image *ports.Fragment) iter.Seq[string] {
	return once(func(yield func(string) bool) {
		s.Lock()
		defer s.Unlock()

		var frags []ports.Fragment
		if hasText {
			frags = append(frags, ports.TextFragment(text))
		}
		if image != nil {
			frags = append(frags, *image)
		}
		p.appendTurn(s, ports.RoleUser, false, frags...)

		strategy := StrategyPlain
		if image != nil {
			guess, err := p.extractor.Extract(ctx, *image)
			switch {
			case err != nil:
				p.logger.Warn().Err(err).Str("session_id", s.ID()).Msg("continuing without identification")
			case !hasText:
				s.SetLastGuess(guess)
				summary := SummarizeGuess(guess)
				p.appendTurn(s, ports.RoleAssistant, false, ports.TextFragment(summary))
				p.metrics.TurnHandled(string(StrategySummary))
				yield(summary)
				return
			default:
				s.SetLastGuess(guess)
				p.appendTurn(s, ports.RoleUser, true, ports.TextFragment(ContextNote(guess)))
				strategy = StrategyAugmented
			}
		}

		p.metrics.TurnHandled(string(strategy))
		p.logger.Debug().Str("session_id", s.ID()).Str("strategy", string(strategy)).Msg("generating reply")
		for reply := range p.orchestrator.Generate(ctx, s) {
			if !yield(reply) {
				return
			}
		}
	})
}

func (p *Pipeline) appendTurn(s *memory.Session, role ports.Role, synthetic bool, frags ...ports.Fragment) {
	if err := s.Append(ports.Turn{Role: role, Fragments: frags, Synthetic: synthetic}); err != nil {
		p.logger.Error().Err(err).Str("session_id", s.ID()).Msg("append turn")
	}
}

// once makes a sequence single-use; later iterations yield nothing.
func once(seq iter.Seq[string]) iter.Seq[string] {
	var used atomic.Bool
	return func(yield func(string) bool) {
		if used.CompareAndSwap(false, true) {
			seq(yield)
		}
	}
}
