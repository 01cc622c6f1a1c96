package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-subscriptiond/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *ServerSubscriptionEngine {
	t.Helper()
	e := NewEngine(domain.DefaultEngineLimits(), zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		e.Stop()
	})
	require.Eventually(t, e.Alive, time.Second, time.Millisecond)
	return e
}

func TestEngineAliveReflectsScheduler(t *testing.T) {
	e := NewEngine(domain.DefaultEngineLimits(), zerolog.Nop(), nil)
	assert.False(t, e.Alive())

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	require.Eventually(t, e.Alive, time.Second, time.Millisecond)

	cancel()
	e.Stop()
	assert.False(t, e.Alive())
}

func TestEngineCreateSubscriptionClampsAndAssignsID(t *testing.T) {
	e := newTestEngine(t)

	id, revised, err := e.CreateSubscription("sess-1", time.Millisecond, 1, 1, 0, true, 0)

	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionID(1), id)
	assert.Equal(t, domain.DefaultEngineLimits().MinSubscriptionInterval, revised.PublishingInterval)
	assert.GreaterOrEqual(t, revised.LifetimeCount, 3*revised.MaxKeepAliveCount)
}

func TestEngineCreateSubscriptionEnforcesServerCap(t *testing.T) {
	limits := domain.DefaultEngineLimits()
	limits.MaxSubscriptionsPerServer = 1
	e := NewEngine(limits, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	t.Cleanup(func() { cancel(); e.Stop() })
	require.Eventually(t, e.Alive, time.Second, time.Millisecond)

	_, _, err := e.CreateSubscription("sess-1", time.Second, 10, 30, 0, true, 0)
	require.NoError(t, err)

	_, _, err = e.CreateSubscription("sess-1", time.Second, 10, 30, 0, true, 0)
	assert.ErrorIs(t, err, domain.ErrTooManySubscriptions)
}

func TestEngineCreateMonitoredItemsAndOnWriteDeliversNotification(t *testing.T) {
	e := newTestEngine(t)
	subID, _, err := e.CreateSubscription("sess-1", 10*time.Millisecond, 10, 30, 0, true, 0)
	require.NoError(t, err)

	node := ua.NewStringNodeID(1, "temperature")
	results := e.CreateMonitoredItems(subID, ua.TimestampsToReturnBoth, []MonitoredItemCreateRequest{
		{NodeID: node, AttributeID: ua.AttributeIDValue, ClientHandle: 42, QueueSize: 5, DiscardOldest: true},
	})
	require.Len(t, results, 1)
	assert.Equal(t, ua.StatusOK, results[0].Status)

	// queue the data change before the publish request arrives so the
	// request is satisfied with data regardless of which state the
	// subscription's periodic tick has already driven it to.
	e.OnWrite(node, &ua.DataValue{Status: ua.StatusOK, Value: ua.MustVariant(int32(21))})

	respCh := make(chan *ua.PublishResponse, 1)
	e.OnPublishIntake("sess-1", subID, 1, nil, time.Now().Add(5*time.Second), func(r *ua.PublishResponse, status ua.StatusCode) {
		respCh <- r
	})

	select {
	case resp := <-respCh:
		require.NotNil(t, resp)
		dc, ok := resp.NotificationMessage.NotificationData[0].Value.(*ua.DataChangeNotification)
		require.True(t, ok)
		require.Len(t, dc.MonitoredItems, 1)
		assert.Equal(t, uint32(42), dc.MonitoredItems[0].ClientHandle)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish response")
	}
}

func TestEngineDeleteSubscriptionsDrainsPendingRequestsWithBadNoSubscription(t *testing.T) {
	e := newTestEngine(t)
	subID, _, err := e.CreateSubscription("sess-1", time.Second, 10, 30, 0, true, 0)
	require.NoError(t, err)

	var status ua.StatusCode
	e.OnPublishIntake("sess-1", subID, 1, nil, time.Now().Add(5*time.Second), func(_ *ua.PublishResponse, st ua.StatusCode) {
		status = st
	})

	results := e.DeleteSubscriptions([]domain.SubscriptionID{subID})

	require.Len(t, results, 1)
	assert.Equal(t, ua.StatusOK, results[0])
	assert.Equal(t, ua.StatusBadNoSubscription, status)

	_, err = e.Republish(subID, 1)
	assert.ErrorIs(t, err, domain.ErrSubscriptionIDInvalid)
}

func TestEngineDeleteMonitoredItemsUnknownIDFails(t *testing.T) {
	e := newTestEngine(t)
	subID, _, err := e.CreateSubscription("sess-1", time.Second, 10, 30, 0, true, 0)
	require.NoError(t, err)

	results := e.DeleteMonitoredItems(subID, []domain.MonitoredItemID{99})

	require.Len(t, results, 1)
	assert.Equal(t, ua.StatusBadMonitoredItemIDInvalid, results[0])
}

func TestEngineOnSessionClosedClosesOwnedSubscriptions(t *testing.T) {
	e := newTestEngine(t)
	subID, _, err := e.CreateSubscription("sess-1", time.Second, 10, 30, 0, true, 0)
	require.NoError(t, err)

	e.OnSessionClosed("sess-1")

	_, err = e.Republish(subID, 1)
	assert.ErrorIs(t, err, domain.ErrSubscriptionIDInvalid)
}

func TestEngineTransferSubscriptionsReassignsSession(t *testing.T) {
	e := newTestEngine(t)
	subID, _, err := e.CreateSubscription("sess-1", time.Second, 10, 30, 0, true, 0)
	require.NoError(t, err)

	var status ua.StatusCode
	e.OnPublishIntake("sess-1", subID, 1, nil, time.Now().Add(5*time.Second), func(_ *ua.PublishResponse, st ua.StatusCode) {
		status = st
	})

	results := e.TransferSubscriptions("sess-2", []domain.SubscriptionID{subID})

	require.Len(t, results, 1)
	assert.Equal(t, ua.StatusOK, results[0])
	assert.Equal(t, ua.StatusBadSessionIDInvalid, status, "old session's pending publish requests must be drained on transfer")

	e.OnSessionClosed("sess-2")
	_, err = e.Republish(subID, 1)
	assert.ErrorIs(t, err, domain.ErrSubscriptionIDInvalid)
}
