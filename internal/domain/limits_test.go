package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClampEnforcesLifetimeKeepAliveRatio(t *testing.T) {
	limits := DefaultEngineLimits()

	tests := []struct {
		name              string
		keepAlive         uint32
		lifetime          uint32
		wantMinLifetime   uint32
	}{
		{name: "lifetime already sufficient", keepAlive: 10, lifetime: 60, wantMinLifetime: 60},
		{name: "lifetime below 3x keepalive is raised", keepAlive: 10, lifetime: 5, wantMinLifetime: 30},
		{name: "zero requested lifetime clamps to min then raised", keepAlive: 100, lifetime: 0, wantMinLifetime: 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			revised := limits.Clamp(1*time.Second, tt.keepAlive, tt.lifetime, 0)
			assert.GreaterOrEqual(t, revised.LifetimeCount, tt.wantMinLifetime)
			assert.GreaterOrEqual(t, revised.LifetimeCount, 3*revised.MaxKeepAliveCount)
		})
	}
}

func TestClampBoundsPublishingInterval(t *testing.T) {
	limits := DefaultEngineLimits()

	revised := limits.Clamp(1*time.Nanosecond, 10, 30, 100)
	assert.Equal(t, limits.MinSubscriptionInterval, revised.PublishingInterval)

	revised = limits.Clamp(100*24*time.Hour, 10, 30, 100)
	assert.Equal(t, limits.MaxSubscriptionInterval, revised.PublishingInterval)
}

func TestClampDefaultsMaxNotificationsFromLimit(t *testing.T) {
	limits := DefaultEngineLimits()

	revised := limits.Clamp(1*time.Second, 10, 30, 0)
	assert.Equal(t, limits.MaxOperationsPerMsg, revised.MaxNotifications)

	revised = limits.Clamp(1*time.Second, 10, 30, limits.MaxOperationsPerMsg+500)
	assert.Equal(t, limits.MaxOperationsPerMsg, revised.MaxNotifications)

	revised = limits.Clamp(1*time.Second, 10, 30, 50)
	assert.Equal(t, uint32(50), revised.MaxNotifications)
}

func TestNextSequenceNumberWrapsSkippingZero(t *testing.T) {
	assert.Equal(t, uint32(2), NextSequenceNumber(1))
	assert.Equal(t, uint32(1), NextSequenceNumber(0))
	assert.Equal(t, uint32(1), NextSequenceNumber(^uint32(0)))
}
