package subscription

import (
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-subscriptiond/internal/domain"
	"github.com/nexus-edge/opcua-subscriptiond/internal/queue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestSubscription(t *testing.T) (*Subscription, *queue.MonitoredItemIndex) {
	t.Helper()
	items := queue.NewMonitoredItemIndex()
	revised := domain.RevisedSubscriptionParams{
		PublishingInterval: 100 * time.Millisecond,
		MaxKeepAliveCount:  3,
		LifetimeCount:      9,
		MaxNotifications:   10,
	}
	s := New(1, domain.SessionID("sess"), revised, true, 0, domain.DefaultEngineLimits(), items, zerolog.Nop())
	return s, items
}

func addReportingDataItem(items *queue.MonitoredItemIndex, sub domain.SubscriptionID) *queue.MonitoredItem {
	item := queue.NewDataMonitoredItem(1, sub, ua.NewStringNodeID(1, "n"), ua.AttributeIDValue, 1, 10, true, nil, ua.TimestampsToReturnBoth)
	items.Add(item)
	return item
}

func TestSubscriptionStepNormalSendsDataWhenRequestAndNotificationPresent(t *testing.T) {
	s, items := newTestSubscription(t)
	item := addReportingDataItem(items, s.ID)
	item.OnWrite(&ua.DataValue{Status: ua.StatusOK, Value: ua.MustVariant(int32(1))})

	var response *ua.PublishResponse
	s.Requests.Append(queue.PendingPublish{RequestHandle: 1, Complete: func(r *ua.PublishResponse, st ua.StatusCode) {
		response = r
	}})

	outcome := s.Step(time.Now(), true)

	assert.NotNil(t, outcome.Message)
	assert.NotNil(t, response)
	assert.Equal(t, StateNormal, s.State)
	assert.Equal(t, uint32(1), outcome.Message.SequenceNumber)
}

func TestSubscriptionStepNormalGoesLateWithNoRequest(t *testing.T) {
	s, items := newTestSubscription(t)
	item := addReportingDataItem(items, s.ID)
	item.OnWrite(&ua.DataValue{Status: ua.StatusOK, Value: ua.MustVariant(int32(1))})

	s.Step(time.Now(), true)

	assert.Equal(t, StateLate, s.State)
}

func TestSubscriptionStepKeepAliveWhenNoNotificationsAndRequestPresent(t *testing.T) {
	s, items := newTestSubscription(t)
	addReportingDataItem(items, s.ID)

	var status ua.StatusCode
	s.Requests.Append(queue.PendingPublish{RequestHandle: 1, Complete: func(r *ua.PublishResponse, st ua.StatusCode) {
		status = st
	}})

	outcome := s.Step(time.Now(), true)

	assert.True(t, outcome.KeepAlive)
	assert.Equal(t, ua.StatusOK, status)
	assert.Equal(t, StateNormal, s.State, "a keep-alive sent from Normal with no prior message does not itself transition state")
}

func TestSubscriptionNormalTransitionsToKeepAliveAfterASingleKeepAliveWasSent(t *testing.T) {
	s, items := newTestSubscription(t)
	addReportingDataItem(items, s.ID)

	// nothing ever gets queued, so every tick with a standing request
	// takes the keep-alive path rather than the data-send path.
	s.Requests.Append(queue.PendingPublish{RequestHandle: 1, Complete: func(*ua.PublishResponse, ua.StatusCode) {}})
	first := s.Step(time.Now(), true)
	assert.True(t, first.KeepAlive)
	assert.Equal(t, StateNormal, s.State, "a keep-alive sent from Normal with no prior message does not itself transition state")

	// a keep-alive must mark messageSent, the same as a data send does, or
	// this branch fires again forever instead of ever handing off to
	// KeepAlive's bounded maxKeepAliveCount cadence.
	s.Requests.Append(queue.PendingPublish{RequestHandle: 2, Complete: func(*ua.PublishResponse, ua.StatusCode) {}})
	second := s.Step(time.Now(), true)

	assert.False(t, second.KeepAlive, "this tick only transitions state; it does not itself send a keep-alive")
	assert.Equal(t, StateKeepAlive, s.State)
}

func TestSubscriptionLateStateSendsImmediatelyOnPublishArrival(t *testing.T) {
	s, items := newTestSubscription(t)
	item := addReportingDataItem(items, s.ID)

	// drive into Late with no request pending.
	s.Step(time.Now(), true)
	assert.Equal(t, StateLate, s.State)

	item.OnWrite(&ua.DataValue{Status: ua.StatusOK, Value: ua.MustVariant(int32(7))})
	s.Requests.Append(queue.PendingPublish{RequestHandle: 2, Complete: func(*ua.PublishResponse, ua.StatusCode) {}})

	outcome := s.Step(time.Now(), false)

	assert.NotNil(t, outcome.Message)
	assert.Equal(t, StateNormal, s.State)
}

func TestSubscriptionLifetimeExpiryClosesSubscription(t *testing.T) {
	s, _ := newTestSubscription(t)
	now := time.Now()

	for i := 0; i < int(s.LifetimeCount)+1 && s.State != StateClosed; i++ {
		outcome := s.Step(now, true)
		if outcome.ShouldClose {
			break
		}
		now = now.Add(s.PublishingInterval)
	}

	assert.Equal(t, StateClosed, s.State)
}

func TestSubscriptionKeepAliveDoesNotAdvanceSequenceNumber(t *testing.T) {
	s, items := newTestSubscription(t)
	item := addReportingDataItem(items, s.ID)
	item.OnWrite(&ua.DataValue{Status: ua.StatusOK, Value: ua.MustVariant(int32(1))})

	s.Requests.Append(queue.PendingPublish{RequestHandle: 1, Complete: func(*ua.PublishResponse, ua.StatusCode) {}})
	dataOutcome := s.Step(time.Now(), true)
	assert.Equal(t, uint32(1), dataOutcome.Message.SequenceNumber)

	// no fresh notifications queued; keep re-ticking with a standing
	// request until the keep-alive counter forces a keep-alive out.
	var keepAliveResponse *ua.PublishResponse
	s.Requests.Append(queue.PendingPublish{RequestHandle: 2, Complete: func(r *ua.PublishResponse, st ua.StatusCode) {
		keepAliveResponse = r
	}})

	now := time.Now()
	var keepAliveOutcome TickOutcome
	for i := 0; i < int(s.MaxKeepAliveCount)+2; i++ {
		keepAliveOutcome = s.Step(now, true)
		if keepAliveOutcome.KeepAlive {
			break
		}
		now = now.Add(s.PublishingInterval)
	}

	assert.True(t, keepAliveOutcome.KeepAlive)
	assert.NotNil(t, keepAliveResponse)
	assert.Equal(t, uint32(2), keepAliveResponse.NotificationMessage.SequenceNumber, "a keep-alive must carry the next-unused sequence number without consuming it")
}

func TestSubscriptionClosedStepIsNoOp(t *testing.T) {
	s, _ := newTestSubscription(t)
	s.State = StateClosed

	outcome := s.Step(time.Now(), true)

	assert.Equal(t, TickOutcome{}, outcome)
	assert.Equal(t, StateClosed, s.State)
}
