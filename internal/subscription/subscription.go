// Package subscription implements the server-side Subscription lifecycle
// state machine and the ServerSubscriptionEngine that hosts every
// subscription on a server.
package subscription

import (
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-subscriptiond/internal/domain"
	"github.com/nexus-edge/opcua-subscriptiond/internal/queue"
	"github.com/rs/zerolog"
)

// State is one of the four states a Subscription moves through.
type State int

const (
	StateNormal State = iota
	StateKeepAlive
	StateLate
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "Normal"
	case StateKeepAlive:
		return "KeepAlive"
	case StateLate:
		return "Late"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Subscription is the server-side runtime object for one subscription. It owns a
// PublishRequestQueue and a RepublishQueue outright; the monitored-item
// collection lives in the engine's shared MonitoredItemIndex, keyed by
// this subscription's id.
type Subscription struct {
	ID        domain.SubscriptionID
	SessionID domain.SessionID

	PublishingInterval time.Duration
	MaxKeepAliveCount  uint32
	LifetimeCount      uint32
	MaxNotifications   uint32
	PublishingEnabled  bool
	Priority           byte

	State   State
	nextSeq uint32

	messageSent        bool
	moreNotifications  bool
	keepAliveCounter   uint32
	lifetimeCounter    uint32
	nextPublishDueAt   time.Time

	Requests  *queue.PublishRequestQueue
	Republish *queue.RepublishQueue
	items     *queue.MonitoredItemIndex

	logger zerolog.Logger
}

// New creates a subscription already clamped against the engine's limits.
// items is the engine-wide monitored item index this subscription reads
// from when it builds a NotificationMessage.
func New(id domain.SubscriptionID, sessionID domain.SessionID, revised domain.RevisedSubscriptionParams, enabled bool, priority byte, limits domain.EngineLimits, items *queue.MonitoredItemIndex, logger zerolog.Logger) *Subscription {
	s := &Subscription{
		ID:                 id,
		SessionID:          sessionID,
		PublishingInterval: revised.PublishingInterval,
		MaxKeepAliveCount:  revised.MaxKeepAliveCount,
		LifetimeCount:      revised.LifetimeCount,
		MaxNotifications:   revised.MaxNotifications,
		PublishingEnabled:  enabled,
		Priority:           priority,
		State:              StateNormal,
		Requests:           queue.NewPublishRequestQueue(int(limits.MaxPublishRequestsPerSub)),
		Republish:          queue.NewRepublishQueue(int(limits.MaxRepublishNotifsPerSub)),
		items:              items,
		logger:             logger.With().Uint32("subscription_id", uint32(id)).Logger(),
	}
	s.lifetimeCounter = s.LifetimeCount
	s.keepAliveCounter = s.MaxKeepAliveCount
	s.nextPublishDueAt = time.Time{}
	return s
}

// DueAt reports when this subscription's next publish tick fires.
func (s *Subscription) DueAt() time.Time {
	return s.nextPublishDueAt
}

// ScheduleNext arms the subscription's next tick relative to now.
func (s *Subscription) ScheduleNext(now time.Time) {
	s.nextPublishDueAt = now.Add(s.PublishingInterval)
}

func (s *Subscription) resetLifetime() {
	s.lifetimeCounter = s.LifetimeCount
}

func (s *Subscription) resetKeepAlive() {
	s.keepAliveCounter = s.MaxKeepAliveCount
}

// hasAvailableNotifications reports whether any Reporting item owned by
// this subscription has a queued entry.
func (s *Subscription) hasAvailableNotifications() bool {
	for _, item := range s.items.ItemsForSubscription(s.ID) {
		if item.IsReporting() && item.Queue.Length() > 0 {
			return true
		}
	}
	return false
}

// TickOutcome describes what a Step call produced, for the engine to act
// on (deliver to transport, retain in republish, or close the
// subscription).
type TickOutcome struct {
	Message      *ua.NotificationMessage
	KeepAlive    bool
	Sent         *queue.PendingPublish
	ShouldClose  bool
	StateChanged bool
}

// Step advances the subscription's state machine by one input. tick is
// true when this call is driven by the periodic publish timer; it is
// false when it is driven purely by the arrival of a
// fresh publish request while the subscription is already Late (the only
// row in the table that reacts to P without waiting for T).
func (s *Subscription) Step(now time.Time, tick bool) TickOutcome {
	if s.State == StateClosed {
		return TickOutcome{}
	}

	dropped := s.Requests.DropExpired(now)
	_ = dropped

	P := s.Requests.Len() > 0
	N := s.hasAvailableNotifications()
	E := s.PublishingEnabled

	before := s.State
	outcome := TickOutcome{}

	switch s.State {
	case StateNormal:
		if !tick {
			break
		}
		switch {
		case P && E && N:
			s.resetLifetime()
			outcome = s.buildAndSend(now)
		case P && !s.messageSent && (!E || !N):
			s.resetLifetime()
			outcome = s.sendKeepAlive(now)
		case !P && (!s.messageSent || (E && N)):
			s.State = StateLate
		case s.messageSent && (!E || !N):
			s.resetKeepAlive()
			if s.keepAliveCounter > 0 {
				s.keepAliveCounter--
			}
			s.State = StateKeepAlive
		}

	case StateLate:
		if P {
			switch {
			case E && (N || s.moreNotifications):
				outcome = s.buildAndSend(now)
				s.State = StateNormal
			case !E || !N:
				s.resetLifetime()
				outcome = s.sendKeepAlive(now)
				s.State = StateKeepAlive
			}
		}

	case StateKeepAlive:
		if !tick {
			break
		}
		switch {
		case P && E && N:
			s.resetLifetime()
			outcome = s.buildAndSend(now)
			s.State = StateNormal
		case P && s.keepAliveCounter <= 1 && (!E || !N):
			s.resetKeepAlive()
			outcome = s.sendKeepAlive(now)
		case s.keepAliveCounter > 1 && (!E || !N):
			s.keepAliveCounter--
		case !P && (s.keepAliveCounter <= 1 || (E && N)):
			s.State = StateLate
		}
	}

	outcome.StateChanged = before != s.State

	if tick {
		if s.lifetimeCounter > 0 {
			s.lifetimeCounter--
		}
		if !P && s.lifetimeCounter == 0 {
			outcome.ShouldClose = true
			s.State = StateClosed
		}
	}

	return outcome
}

// buildAndSend pops the head publish request, builds a NotificationMessage
// from whatever is queued (capped at MaxNotifications), stores a copy
// in the republish queue, and marks the result for delivery.
func (s *Subscription) buildAndSend(now time.Time) TickOutcome {
	req := s.Requests.PopHead()
	if req == nil {
		return TickOutcome{}
	}

	msg, more := s.buildMessage(now)
	s.moreNotifications = more
	s.messageSent = true

	s.Republish.Add(msg.SequenceNumber, msg)

	req.Complete(&ua.PublishResponse{
		SubscriptionID:    uint32(s.ID),
		MoreNotifications: more,
		NotificationMessage: msg,
	}, ua.StatusOK)

	return TickOutcome{Message: msg, Sent: req}
}

// sendKeepAlive pops the head publish request and completes it with an
// empty NotificationMessage carrying the current sequence number: a
// keep-alive does not consume a sequence number.
func (s *Subscription) sendKeepAlive(now time.Time) TickOutcome {
	req := s.Requests.PopHead()
	if req == nil {
		return TickOutcome{}
	}

	msg := &ua.NotificationMessage{
		SequenceNumber: s.currentSeq(),
		PublishTime:    now,
	}
	s.messageSent = true

	req.Complete(&ua.PublishResponse{
		SubscriptionID:      uint32(s.ID),
		MoreNotifications:   false,
		NotificationMessage: msg,
	}, ua.StatusOK)

	return TickOutcome{KeepAlive: true, Sent: req}
}

// currentSeq returns the sequence number a keep-alive should carry: the
// next value that has not yet been used, without advancing the counter.
func (s *Subscription) currentSeq() uint32 {
	if s.nextSeq == 0 {
		return 1
	}
	return s.nextSeq
}

func (s *Subscription) advanceSeq() uint32 {
	seq := s.currentSeq()
	s.nextSeq = domain.NextSequenceNumber(seq)
	return seq
}
