package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ""},
		{"typed", New(ErrorTypeNotFound, "gone"), ErrorTypeNotFound},
		{"wrapped", fmt.Errorf("outer: %w", New(ErrorTypeRateLimit, "slow down")), ErrorTypeRateLimit},
		{"context canceled", context.Canceled, ErrorTypeCancelled},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), ErrorTypeCancelled},
		{"plain", fmt.Errorf("boom"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeOf(tt.err))
		})
	}
}

func TestPermanentAndRetryableAreDisjoint(t *testing.T) {
	all := []ErrorType{
		ErrorTypeNetwork, ErrorTypeNotFound, ErrorTypeRateLimit, ErrorTypeBlocked,
		ErrorTypeMalformed, ErrorTypeChallenge, ErrorTypeCacheTimeout,
		ErrorTypeSessionExpired, ErrorTypeCancelled, ErrorTypeUnreachable,
	}
	for _, typ := range all {
		assert.False(t, IsPermanent(typ) && IsRetryable(typ), "type %s", typ)
	}
	assert.True(t, IsPermanent(ErrorTypeNotFound))
	assert.True(t, IsRetryable(ErrorTypeChallenge))
	assert.True(t, IsRetryable(ErrorTypeCacheTimeout))
}

func TestFromStatusCode(t *testing.T) {
	assert.Equal(t, ErrorTypeNotFound, FromStatusCode(404))
	assert.Equal(t, ErrorTypeRateLimit, FromStatusCode(429))
	assert.Equal(t, ErrorTypeSessionExpired, FromStatusCode(403))
	assert.Equal(t, ErrorTypeNetwork, FromStatusCode(502))
	assert.Equal(t, ErrorTypeBlocked, FromStatusCode(418))
	assert.Equal(t, ErrorType(""), FromStatusCode(200))
}

func TestErrorFormatting(t *testing.T) {
	err := Wrap(ErrorTypeNetwork, fmt.Errorf("connection reset"), "fetch user detail").WithCode(502)
	assert.Equal(t, "network error (code 502): fetch user detail: connection reset", err.Error())
	assert.EqualError(t, err.Unwrap(), "connection reset")
	assert.Equal(t, err, From(fmt.Errorf("ctx: %w", err)))
}
