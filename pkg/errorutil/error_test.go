package errorutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetriable(t *testing.T) {
	err := Retriable("downstream flaked")
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "downstream flaked", err.Error())
}

func TestNonRetriable(t *testing.T) {
	err := NonRetriableWithDetails("bad target", "nowhere.nothing")
	assert.False(t, IsRetryable(err))
	assert.Equal(t, "nowhere.nothing", err.DevDetails)
}

func TestTimeout(t *testing.T) {
	err := Timeout("job timed out", "pkg.slow")
	assert.True(t, IsTimeout(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, CodeTimeout, err.Code)

	// 文案相同但非超时码不算超时
	assert.False(t, IsTimeout(Retriable("job timed out")))
	assert.False(t, IsTimeout(errors.New("job timed out")))
	assert.False(t, IsTimeout(nil))
}

func TestIsRetryablePlainError(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil))

	e := Retriable("keep me")
	assert.Same(t, e, Wrap(e))

	wrapped := Wrap(errors.New("plain"))
	assert.False(t, wrapped.Retryable)
	assert.Equal(t, "plain", wrapped.Message)
}
