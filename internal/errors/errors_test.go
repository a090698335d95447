package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("build: %w", Validation("Can't checkout with charge of 0"))

	code, ok := CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, CodeValidation, code)
	assert.True(t, IsValidation(err))
	assert.False(t, IsLedgerRejection(err))
}

func TestSentinelMatching(t *testing.T) {
	sentinel := Validation("No reference provided")
	err := fmt.Errorf("checkout: %w", Validation("No reference provided"))

	assert.True(t, stderrors.Is(err, sentinel))
	assert.False(t, stderrors.Is(err, Validation("No account provided")))
}

func TestTransientUnwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := LedgerTransient("fetch blockhash", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, IsLedgerTransient(err))
	assert.Equal(t, "fetch blockhash", err.Error())
}

func TestCodeOfPlainError(t *testing.T) {
	_, ok := CodeOf(stderrors.New("boom"))
	assert.False(t, ok)
}

func TestInternalMasksInnerCode(t *testing.T) {
	inner := Serialization("couldn't serialize transaction", stderrors.New("transaction too large"))
	err := fmt.Errorf("checkout: %w", Internal("couldn't encode transaction", inner))

	assert.True(t, IsInternal(err))
	assert.False(t, IsSerialization(err))
	assert.True(t, stderrors.Is(err, inner), "the cause stays reachable for logs")
}
