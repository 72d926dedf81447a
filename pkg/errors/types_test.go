package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrCodeNotFound, "session not found").WithContext("id", "sess-1")
	msg := err.Error()
	assert.Contains(t, msg, "[NOT_FOUND]")
	assert.Contains(t, msg, "session not found")
	assert.Contains(t, msg, "id: sess-1")
}

func TestWrapPreservesUnderlying(t *testing.T) {
	underlying := fmt.Errorf("disk full")
	err := Wrap(underlying, ErrCodeStorageWrite, "metadata write failed")
	assert.True(t, stderrors.Is(err, underlying))
	assert.Contains(t, err.Error(), "disk full")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "nothing"))
}

func TestCodeHelpers(t *testing.T) {
	err := New(ErrCodeCancelled, "operation cancelled")
	assert.True(t, IsCode(err, ErrCodeCancelled))
	assert.False(t, IsCode(err, ErrCodeNotFound))
	assert.Equal(t, ErrCodeCancelled, GetCode(err))

	assert.False(t, IsCode(nil, ErrCodeCancelled))
	assert.Equal(t, ErrorCode(""), GetCode(nil))
	assert.Equal(t, ErrCodeInternal, GetCode(fmt.Errorf("plain")))
}

func TestRetryable(t *testing.T) {
	err := New(ErrCodeStorageWrite, "transient").WithRetryable(true)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(New(ErrCodeNotFound, "gone")))
	assert.False(t, IsRetryable(nil))
}
