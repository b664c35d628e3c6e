package harness

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/config"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/adapters"
	ports "github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/ports"
)

// Deps are the ports shared by the pipeline stages. Nil ports become no-ops.
type Deps struct {
	Provider ports.Provider
	Limiter  ports.RateLimiter
	Tracer   ports.Tracer
	Metrics  ports.Metrics
	Logger   zerolog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Limiter == nil {
		d.Limiter = &noOpRateLimiter{}
	}
	if d.Tracer == nil {
		d.Tracer = &noOpTracer{}
	}
	if d.Metrics == nil {
		d.Metrics = &noOpMetrics{}
	}
	return d
}

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg      *config.Config
	provider ports.Provider
	registry prometheus.Registerer
	logger   zerolog.Logger
}

// NewFactory creates a new harness factory. registry may be nil when metrics are
// disabled.
func NewFactory(cfg *config.Config, provider ports.Provider, registry prometheus.Registerer, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, provider: provider, registry: registry, logger: logger}
}

// CreatePipeline builds the full chat pipeline.
func (f *Factory) CreatePipeline(instructions *InstructionSource) (*Pipeline, error) {
	if f.provider == nil {
		return nil, fmt.Errorf("no provider configured")
	}
	classifier, err := f.CreateClassifier()
	if err != nil {
		return nil, err
	}

	deps := Deps{
		Provider: f.provider,
		Limiter:  f.createRateLimiter(),
		Tracer:   f.createTracer(),
		Metrics:  f.createMetrics(),
		Logger:   f.logger,
	}
	llm := f.cfg.LLM
	extractor := NewExtractor(deps, llm.VisionModel, llm.VisionTemperature)
	orchestrator := NewOrchestrator(deps, instructions, OrchestratorConfig{
		Model:            llm.TextModel,
		Temperature:      llm.Temperature,
		MaxNewTokens:     llm.MaxNewTokens,
		ContextWindow:    f.cfg.Harness.ContextWindow,
		FinalizeOnCancel: f.cfg.Harness.FinalizeOnCancel,
	})
	return NewPipeline(classifier, extractor, orchestrator, deps), nil
}

// CreateClassifier builds the risk classifier. Without a configured order the
// built-in table is used; configured categories missing rules or messages
// inherit the built-in ones.
func (f *Factory) CreateClassifier() (*RiskClassifier, error) {
	rules, policies := DefaultRiskRules(), DefaultPolicies()
	risk := f.cfg.Risk
	if len(risk.Order) == 0 {
		return NewRiskClassifier(rules, policies)
	}

	builtin := make(map[RiskCategory][]string, len(rules))
	for _, r := range rules {
		builtin[r.Category] = r.Patterns
	}

	var ordered []RiskRule
	configured := make(map[RiskCategory]Policy)
	for _, name := range risk.Order {
		cat := RiskCategory(name)
		patterns := risk.Rules[name]
		if len(patterns) == 0 {
			patterns = builtin[cat]
		}
		if len(patterns) == 0 {
			return nil, fmt.Errorf("risk category %q has no rules", name)
		}
		ordered = append(ordered, RiskRule{Category: cat, Patterns: patterns})

		if msg := risk.Messages[name]; msg != "" {
			configured[cat] = Policy{Intercept: true, Message: msg}
		} else if p, ok := policies[cat]; ok {
			configured[cat] = p
		}
	}
	return NewRiskClassifier(ordered, configured)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Harness.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.Harness.RateLimitCapacity, f.cfg.Harness.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

func (f *Factory) createMetrics() ports.Metrics {
	if !f.cfg.Harness.EnableMetrics || f.registry == nil {
		return &noOpMetrics{}
	}
	return adapters.NewPrometheusMetrics(f.registry)
}

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// noOpMetrics implements Metrics interface with no-op behavior.
type noOpMetrics struct{}

func (m *noOpMetrics) TurnHandled(strategy string)     {}
func (m *noOpMetrics) RiskIntercepted(category string) {}
func (m *noOpMetrics) ExtractionFinished(ok bool)      {}
func (m *noOpMetrics) StreamFinished(outcome string)   {}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
	_ ports.Metrics     = (*noOpMetrics)(nil)
)
