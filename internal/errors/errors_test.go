package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound,
		ErrAlreadyExists,
		ErrConfiguration,
		ErrAuthenticationFailed,
		ErrDecryptionFailed,
		ErrMalformedToken,
		ErrTimeout,
		ErrEncryptionUnavailable,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.NotErrorIs(t, a, b)
		}
	}
}

func TestWrappedSentinelMatches(t *testing.T) {
	err := fmt.Errorf("validating environment %q: %w", "acme", ErrNotFound)
	assert.True(t, stderrors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "acme")
}
