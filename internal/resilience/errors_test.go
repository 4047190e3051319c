package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("busy"), 503), true},
		{"wrapped explicit", fmt.Errorf("call: %w", NewTransientError(errors.New("rate"), 429)), true},
		{"eris wrapped explicit", eris.Wrap(NewTransientError(errors.New("rate"), 429), "provider: generate"), true},
		{"fatal wins", NewTransientError(NewFatalError(errors.New("auth"), 401), 0), false},
		{"deadline", fmt.Errorf("generate: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"net timeout", timeoutErr{}, true},
		{"conn reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"message pattern", errors.New("read tcp: i/o timeout"), true},
		{"overloaded message", errors.New("Overloaded"), true},
		{"plain", errors.New("invalid input"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	t.Parallel()
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()
	base := errors.New("upstream")

	assert.Nil(t, ClassifyStatus(nil, 500))

	err := ClassifyStatus(base, 429)
	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))
	assert.ErrorIs(t, err, base)

	err = ClassifyStatus(base, 401)
	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))

	var fe *FatalError
	assert.ErrorAs(t, ClassifyStatus(base, 400), &fe)
	assert.Equal(t, 400, fe.StatusCode)

	assert.Equal(t, base, ClassifyStatus(base, 0))
}
