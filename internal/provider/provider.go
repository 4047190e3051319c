// Package provider defines answer provider backends and the pool that wraps
// them with retry, fallback, rate limiting and circuit breaking.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sells-group/autofill/internal/model"
)

// Request is a single generation request.
type Request struct {
	// System is the instruction prompt.
	System string
	// Context is applicant and stage context appended to the instructions.
	Context string
	// Prompt is the question to answer.
	Prompt string
	// MaxTokens bounds the answer length.
	MaxTokens int
	// Purpose tags the request for logs.
	Purpose string
}

// Instructions returns System followed by Context.
func (r Request) Instructions() string {
	switch {
	case r.Context == "":
		return r.System
	case r.System == "":
		return r.Context
	default:
		return r.System + "\n\n" + r.Context
	}
}

// Provider generates text for a request. Implementations classify upstream
// failures with resilience.TransientError or resilience.FatalError.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// Result is a successful pool generation.
type Result struct {
	Text     string
	Provider string
	Attempts int
}

// Error is the final pool failure. It matches model.ErrProviderFatal or
// model.ErrProviderTransient with errors.Is, and unwraps to the last backend
// error.
type Error struct {
	Kind     error
	Err      error
	Backends []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: all backends failed (%s): %v", strings.Join(e.Backends, ", "), e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// IsFatal reports whether err is a fatal provider failure.
func IsFatal(err error) bool {
	return errors.Is(err, model.ErrProviderFatal)
}

var (
	errEmptyAnswer = errors.New("empty answer")
	errNoBackends  = errors.New("no backends configured")
)
