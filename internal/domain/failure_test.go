package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureCategory
	}{
		{"rate limit", NewCollectionError(ErrKindRateLimit, "429 from provider"), FailureTransient},
		{"timeout", NewCollectionError(ErrKindTimeout, "request timed out"), FailureTransient},
		{"connection", NewCollectionError(ErrKindConnection, "connection reset"), FailureTransient},
		{"validation", NewCollectionError(ErrKindValidation, "high below low"), FailurePermanent},
		{"unknown symbol", NewCollectionError(ErrKindUnknownSymbol, "no such ticker"), FailurePermanent},
		{"bad params", NewCollectionError(ErrKindBadParams, "missing date range"), FailurePermanent},
		{"store down", NewCollectionError(ErrKindStoreDown, "db unreachable"), FailureSystem},
		{"coordinator", NewCollectionError(ErrKindCoordinator, "coordinator down"), FailureSystem},
		{"deadline", context.DeadlineExceeded, FailureTransient},
		{"plain error", errors.New("something odd"), FailureTransient},
		{"untagged kind", NewCollectionError(ErrKindUnknown, "mystery"), FailureTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got.Category)
			assert.NotEmpty(t, got.Hint)
		})
	}
}

func TestClassify_UnwrapsWrappedErrors(t *testing.T) {
	inner := WrapCollectionError(ErrKindUnknownSymbol, "lookup failed", errors.New("404"))
	wrapped := fmt.Errorf("collecting AAPL: %w", inner)

	got := Classify(wrapped)

	assert.Equal(t, FailurePermanent, got.Category)
}

func TestCollectionError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := WrapCollectionError(ErrKindConnection, "provider unreachable", cause)

	assert.Equal(t, "provider unreachable: dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := NewCollectionError(ErrKindTimeout, "slow provider")
	assert.Equal(t, "slow provider", bare.Error())
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, InitialDelay: 60 * time.Second, BackoffMultiplier: 2}

	assert.Equal(t, 60*time.Second, p.Delay(1))
	assert.Equal(t, 120*time.Second, p.Delay(2))
	assert.Equal(t, 240*time.Second, p.Delay(3))
}
