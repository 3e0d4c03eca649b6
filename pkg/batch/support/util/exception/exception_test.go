package exception_test

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
)

type malformedRecordError struct {
	Line int
}

func (e *malformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at line %d", e.Line)
}

func TestNewBatchError(t *testing.T) {
	cause := errors.New("db connection refused")
	be := exception.NewBatchError("db", "failed to connect", cause, false, true)

	assert.Equal(t, "db", be.Module)
	assert.Equal(t, "failed to connect", be.Message)
	assert.Equal(t, cause, be.Unwrap())
	assert.True(t, be.IsRetryable())
	assert.False(t, be.IsSkippable())
	assert.Equal(t, "[db] failed to connect: db connection refused", be.Error())
}

func TestNewBatchErrorf(t *testing.T) {
	be := exception.NewBatchErrorf("reader", "item %d not found", 10)
	assert.Nil(t, be.Unwrap())
	assert.Equal(t, "[reader] item 10 not found", be.Error())

	cause := io.ErrUnexpectedEOF
	wrapped := exception.NewBatchErrorf("reader", "record %s truncated", "r-1", cause)
	assert.Equal(t, "record r-1 truncated", wrapped.Message)
	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)
}

func TestIsSkippable(t *testing.T) {
	skippable := exception.NewSkippableError("processor", "bad amount", nil)
	assert.True(t, exception.IsSkippable(skippable))
	assert.True(t, exception.IsSkippable(fmt.Errorf("wrapped: %w", skippable)))

	outer := exception.NewBatchError("writer", "outer", skippable, false, false)
	assert.True(t, exception.IsSkippable(outer), "a skippable cause keeps the chain skippable")

	assert.False(t, exception.IsSkippable(errors.New("plain")))
	assert.False(t, exception.IsSkippable(nil))
}

func TestIsErrorOfType(t *testing.T) {
	_, convErr := strconv.Atoi("x")
	wrapped := fmt.Errorf("processing: %w", convErr)

	assert.True(t, exception.IsErrorOfType(wrapped, "*strconv.NumError"))
	assert.True(t, exception.IsErrorOfType(wrapped, "strconv.NumError"))
	assert.True(t, exception.IsErrorOfType(fmt.Errorf("read: %w", io.EOF), "io.EOF"))
	assert.True(t, exception.IsErrorOfType(&malformedRecordError{Line: 3}, "malformed record"))
	assert.False(t, exception.IsErrorOfType(errors.New("other"), "io.EOF"))
	assert.False(t, exception.IsErrorOfType(nil, "io.EOF"))
}

func TestRegisterErrorType(t *testing.T) {
	sentinel := errors.New("quota exhausted")
	exception.RegisterErrorType("QuotaExhausted", sentinel)

	require.True(t, exception.IsErrorTypeRegistered("QuotaExhausted"))
	assert.True(t, exception.IsErrorOfType(fmt.Errorf("call: %w", sentinel), "QuotaExhausted"))
	assert.Panics(t, func() { exception.RegisterErrorType("", sentinel) })
	assert.Panics(t, func() { exception.RegisterErrorType("nil", nil) })
}

func TestSkipLimitExceededError(t *testing.T) {
	cause := exception.NewSkippableError("processor", "bad item", nil)
	err := &exception.SkipLimitExceededError{StepName: "load", Limit: 2, Cause: cause}

	assert.ErrorIs(t, err, exception.ErrSkipLimitExceeded)
	assert.True(t, exception.IsErrorOfType(err, "SkipLimitExceeded"))
	assert.Contains(t, err.Error(), "skip limit 2 exceeded")
}

func TestPartitionError(t *testing.T) {
	cause := errors.New("boom")
	err := &exception.PartitionError{StepName: "scores", PartitionName: "partition1", Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "partition 'partition1' of step 'scores' failed: boom", err.Error())
}

func TestExtractErrorMessage(t *testing.T) {
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
	assert.Equal(t, "plain", exception.ExtractErrorMessage(errors.New("plain")))
	assert.Equal(t, "failed", exception.ExtractErrorMessage(exception.NewBatchError("m", "failed", nil, false, false)))
	assert.Equal(t, "failed: cause", exception.ExtractErrorMessage(exception.NewBatchError("m", "failed", errors.New("cause"), false, false)))
}
