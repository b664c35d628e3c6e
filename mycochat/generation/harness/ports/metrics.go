package harnessports

// Metrics records pipeline outcomes.
type Metrics interface {
	TurnHandled(strategy string)
	RiskIntercepted(category string)
	ExtractionFinished(ok bool)
	StreamFinished(outcome string)
}
