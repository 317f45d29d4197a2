package berrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIncludesBackendTagOnlyWhenSet(t *testing.T) {
	e := New(ElementNotFound, "#submit")
	require.Equal(t, "element_not_found: #submit", e.Error())

	tagged := e.WithBackend("cdp")
	require.Equal(t, "element_not_found[cdp]: #submit", tagged.Error())
	require.Equal(t, "element_not_found: #submit", e.Error(), "WithBackend must not mutate the receiver")
}

func TestWrapIncludesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := Wrap(CdpConnectionFailed, "ws://127.0.0.1:9222", cause)
	require.Contains(t, e.Error(), "connection refused")
	require.ErrorIs(t, e, cause)
}

func TestIsMatchesKindThroughWrap(t *testing.T) {
	inner := New(Timeout, "goto exceeded 30000ms")
	outer := fmt.Errorf("dispatch failed: %w", inner)
	require.True(t, Is(outer, Timeout))
	require.False(t, Is(outer, ElementNotFound))
}

func TestIsFalseForPlainError(t *testing.T) {
	require.False(t, Is(errors.New("plain"), Io))
}

func TestNewTimeoutFormatsDuration(t *testing.T) {
	e := NewTimeout("goto", 5000)
	require.Equal(t, Timeout, e.Kind)
	require.Contains(t, e.Error(), "goto exceeded 5000ms")
}

func TestNewRetryExhaustedWrapsLastError(t *testing.T) {
	last := errors.New("http status 503")
	e := NewRetryExhausted("http://localhost:9377/resolve", 4, last)
	require.Equal(t, RetryExhausted, e.Kind)
	require.Contains(t, e.Error(), "4 attempts")
	require.ErrorIs(t, e, last)
}
