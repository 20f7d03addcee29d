package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiLimiter_UnknownLimiter(t *testing.T) {
	m := NewMultiLimiter()

	assert.False(t, m.Allow("missing"))
	err := m.Wait(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestMultiLimiter_BurstThenDeny(t *testing.T) {
	m := NewMultiLimiter()
	m.AddLimiter("svc", 0.0001, 2)

	assert.True(t, m.Allow("svc"))
	assert.True(t, m.Allow("svc"))
	assert.False(t, m.Allow("svc"))
}

func TestNewDefaultLimiter_RegistersGatewayLimiters(t *testing.T) {
	m := NewDefaultLimiter(Rates{})

	assert.True(t, m.Allow(LimiterGatewayRead))
	assert.True(t, m.Allow(LimiterGatewayWrite))
	require.NoError(t, m.Wait(context.Background(), LimiterGatewayRead))
}
