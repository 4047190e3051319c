package model

import "github.com/rotisserie/eris"

// Error taxonomy shared across the engine. Field-level errors are recorded
// on the decision they concern and never abort sibling fields.
var (
	// ErrClassificationAmbiguous means no semantic purpose matched the field.
	ErrClassificationAmbiguous = eris.New("classification ambiguous")
	// ErrExtractionMissing means the fact store has no value for the purpose.
	ErrExtractionMissing = eris.New("extraction missing")
	// ErrProviderTransient means every provider failed with retryable errors.
	ErrProviderTransient = eris.New("provider transient failure")
	// ErrProviderFatal means a provider rejected the request outright.
	ErrProviderFatal = eris.New("provider fatal failure")
	// ErrDecisionExpired means the confirmation window closed.
	ErrDecisionExpired = eris.New("decision expired")
	// ErrInvalidTransition means a stage transition violated the graph.
	ErrInvalidTransition = eris.New("invalid transition")

	ErrUnknownSession = eris.New("unknown session")
	ErrUnknownField   = eris.New("unknown field")
	ErrDecisionClosed = eris.New("decision already closed")
)
