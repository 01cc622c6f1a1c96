package subscription

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-subscriptiond/internal/domain"
	"github.com/nexus-edge/opcua-subscriptiond/internal/queue"
	"github.com/rs/zerolog"
)

// EngineMetrics is the narrow surface the engine reports through, kept as
// an interface here so internal/metrics stays a leaf dependency and the
// engine's unit tests can pass a no-op implementation.
type EngineMetrics interface {
	NotificationsQueued(count int)
	NotificationsDropped(count int)
	PublishLatency(d time.Duration)
	KeepAliveSent()
	StateTransition(from, to string)
}

type noopMetrics struct{}

func (noopMetrics) NotificationsQueued(int)       {}
func (noopMetrics) NotificationsDropped(int)      {}
func (noopMetrics) PublishLatency(time.Duration)  {}
func (noopMetrics) KeepAliveSent()                {}
func (noopMetrics) StateTransition(from, to string) {}

// ServerSubscriptionEngine hosts every Subscription on a server and is the
// single owner of the shared MonitoredItemIndex. Every public
// method posts a closure onto the engine's command channel and blocks for
// its result, so the body of that closure always runs on the single
// scheduler goroutine in Run. That gives callers a synchronous-looking API
// while everything still runs serialised on one logical thread, the same
// ctx/cancel/wg lifecycle used by the other long-lived worker loops in this
// module.
type ServerSubscriptionEngine struct {
	limits  domain.EngineLimits
	logger  zerolog.Logger
	metrics EngineMetrics

	cmdCh chan func()

	subs      map[domain.SubscriptionID]*Subscription
	sessions  map[domain.SessionID]*domain.Session
	items     *queue.MonitoredItemIndex
	nextSubID uint32
	nextItemID uint32

	alive atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine constructs an engine. Call Run to start its scheduler goroutine.
func NewEngine(limits domain.EngineLimits, logger zerolog.Logger, metrics EngineMetrics) *ServerSubscriptionEngine {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &ServerSubscriptionEngine{
		limits:   limits,
		logger:   logger.With().Str("component", "subscription_engine").Logger(),
		metrics:  metrics,
		cmdCh:    make(chan func(), 256),
		subs:     make(map[domain.SubscriptionID]*Subscription),
		sessions: make(map[domain.SessionID]*domain.Session),
		items:    queue.NewMonitoredItemIndex(),
	}
}

// Run starts the scheduler goroutine and blocks until ctx is cancelled or
// Stop is called.
func (e *ServerSubscriptionEngine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	defer e.wg.Done()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	e.alive.Store(true)
	defer e.alive.Store(false)

	e.logger.Info().Msg("subscription engine started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("subscription engine stopped")
			return
		case cmd := <-e.cmdCh:
			cmd()
		case now := <-ticker.C:
			e.tick(now)
		}
	}
}

// Alive reports whether the scheduler goroutine is currently running,
// satisfying health.EngineProbe.
func (e *ServerSubscriptionEngine) Alive() bool {
	return e.alive.Load()
}

// Stop cancels the scheduler goroutine and waits for it to exit.
func (e *ServerSubscriptionEngine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// execute runs fn on the scheduler goroutine and blocks until it returns.
func (e *ServerSubscriptionEngine) execute(fn func()) {
	done := make(chan struct{})
	e.cmdCh <- func() {
		fn()
		close(done)
	}
	<-done
}

// tick advances every subscription whose publish timer is due. Invoked
// from Run's own ticker, so it already runs on the scheduler goroutine and
// must not go through execute.
func (e *ServerSubscriptionEngine) tick(now time.Time) {
	for id, sub := range e.subs {
		if sub.State == StateClosed {
			continue
		}
		if !sub.DueAt().IsZero() && now.Before(sub.DueAt()) {
			continue
		}
		sub.ScheduleNext(now)

		before := sub.State
		outcome := sub.Step(now, true)
		if outcome.StateChanged {
			e.metrics.StateTransition(before.String(), sub.State.String())
		}
		if outcome.KeepAlive {
			e.metrics.KeepAliveSent()
		}
		if outcome.ShouldClose {
			e.closeSubscription(id, ua.StatusBadTimeout)
		}
	}
}

// CreateSubscription implements the CreateSubscription service call:
// clamp parameters, allocate an id, register the subscription against its
// session.
func (e *ServerSubscriptionEngine) CreateSubscription(sessionID domain.SessionID, requestedInterval time.Duration, requestedKeepAlive, requestedLifetime, requestedMaxNotif uint32, publishingEnabled bool, priority byte) (domain.SubscriptionID, domain.RevisedSubscriptionParams, error) {
	var id domain.SubscriptionID
	var revised domain.RevisedSubscriptionParams
	var err error

	e.execute(func() {
		if uint32(len(e.subs)) >= e.limits.MaxSubscriptionsPerServer {
			err = domain.ErrTooManySubscriptions
			return
		}
		e.nextSubID++
		id = domain.SubscriptionID(e.nextSubID)
		revised = e.limits.Clamp(requestedInterval, requestedKeepAlive, requestedLifetime, requestedMaxNotif)

		sub := New(id, sessionID, revised, publishingEnabled, priority, e.limits, e.items, e.logger)
		sub.ScheduleNext(time.Now())
		e.subs[id] = sub

		sess, ok := e.sessions[sessionID]
		if !ok {
			sess = &domain.Session{ID: sessionID}
			e.sessions[sessionID] = sess
		}
		sess.AddSubscription(id)

		e.logger.Info().
			Uint32("subscription_id", uint32(id)).
			Str("session_id", string(sessionID)).
			Dur("publishing_interval", revised.PublishingInterval).
			Msg("subscription created")
	})
	return id, revised, err
}

// ModifySubscription re-clamps an existing subscription's parameters.
func (e *ServerSubscriptionEngine) ModifySubscription(id domain.SubscriptionID, requestedInterval time.Duration, requestedKeepAlive, requestedLifetime, requestedMaxNotif uint32, priority byte) (domain.RevisedSubscriptionParams, error) {
	var revised domain.RevisedSubscriptionParams
	var err error

	e.execute(func() {
		sub, ok := e.subs[id]
		if !ok {
			err = domain.ErrSubscriptionIDInvalid
			return
		}
		revised = e.limits.Clamp(requestedInterval, requestedKeepAlive, requestedLifetime, requestedMaxNotif)
		sub.PublishingInterval = revised.PublishingInterval
		sub.MaxKeepAliveCount = revised.MaxKeepAliveCount
		sub.LifetimeCount = revised.LifetimeCount
		sub.MaxNotifications = revised.MaxNotifications
		sub.Priority = priority
		sub.resetLifetime()
		sub.resetKeepAlive()
	})
	return revised, err
}

// SetPublishingMode enables or disables publishing for a set of subscriptions.
func (e *ServerSubscriptionEngine) SetPublishingMode(enabled bool, ids []domain.SubscriptionID) []ua.StatusCode {
	results := make([]ua.StatusCode, len(ids))
	e.execute(func() {
		for i, id := range ids {
			sub, ok := e.subs[id]
			if !ok {
				results[i] = ua.StatusBadSubscriptionIDInvalid
				continue
			}
			sub.PublishingEnabled = enabled
			results[i] = ua.StatusOK
		}
	})
	return results
}

// DeleteSubscriptions tears down a batch of subscriptions, draining their
// publish request queues with BadNoSubscription.
func (e *ServerSubscriptionEngine) DeleteSubscriptions(ids []domain.SubscriptionID) []ua.StatusCode {
	results := make([]ua.StatusCode, len(ids))
	e.execute(func() {
		for i, id := range ids {
			if _, ok := e.subs[id]; !ok {
				results[i] = ua.StatusBadSubscriptionIDInvalid
				continue
			}
			e.closeSubscription(id, ua.StatusBadNoSubscription)
			results[i] = ua.StatusOK
		}
	})
	return results
}

// closeSubscription must be called from the scheduler goroutine.
func (e *ServerSubscriptionEngine) closeSubscription(id domain.SubscriptionID, drainStatus ua.StatusCode) {
	sub, ok := e.subs[id]
	if !ok {
		return
	}
	sub.State = StateClosed
	sub.Requests.DrainWithStatus(drainStatus)
	sub.Republish.Clear()
	e.items.RemoveSubscription(id)

	if sess, ok := e.sessions[sub.SessionID]; ok {
		sess.RemoveSubscription(id)
	}
	delete(e.subs, id)

	e.logger.Info().Uint32("subscription_id", uint32(id)).Msg("subscription closed")
}

// CreateMonitoredItems adds data-change or event monitored items to a
// subscription. req entries carrying a non-nil EventFilter
// create event items; all others create data-change items.
func (e *ServerSubscriptionEngine) CreateMonitoredItems(subID domain.SubscriptionID, ttr ua.TimestampsToReturn, reqs []MonitoredItemCreateRequest) []MonitoredItemCreateResult {
	results := make([]MonitoredItemCreateResult, len(reqs))
	e.execute(func() {
		sub, ok := e.subs[subID]
		if !ok {
			for i := range results {
				results[i].Status = ua.StatusBadSubscriptionIDInvalid
			}
			return
		}
		for i, r := range reqs {
			e.nextItemID++
			id := domain.MonitoredItemID(e.nextItemID)

			queueSize := r.QueueSize
			var item *queue.MonitoredItem
			if r.EventFilter != nil {
				if queueSize == 0 {
					queueSize = e.limits.DefaultEventQueueSize
				}
				item = queue.NewEventMonitoredItem(id, subID, r.NodeID, r.ClientHandle, queueSize, r.DiscardOldest, r.EventFilter)
			} else {
				if queueSize == 0 {
					queueSize = e.limits.DefaultDataQueueSize
				}
				item = queue.NewDataMonitoredItem(id, subID, r.NodeID, r.AttributeID, r.ClientHandle, queueSize, r.DiscardOldest, r.DataChangeFilter, ttr)
			}
			e.items.Add(item)

			results[i] = MonitoredItemCreateResult{
				MonitoredItemID: id,
				Status:          ua.StatusOK,
				RevisedQueueSize: queueSize,
			}
		}
		_ = sub
	})
	return results
}

// DeleteMonitoredItems removes monitored items from the shared index.
func (e *ServerSubscriptionEngine) DeleteMonitoredItems(subID domain.SubscriptionID, ids []domain.MonitoredItemID) []ua.StatusCode {
	results := make([]ua.StatusCode, len(ids))
	e.execute(func() {
		if _, ok := e.subs[subID]; !ok {
			for i := range results {
				results[i] = ua.StatusBadSubscriptionIDInvalid
			}
			return
		}
		for i, id := range ids {
			if _, ok := e.items.Get(subID, id); !ok {
				results[i] = ua.StatusBadMonitoredItemIDInvalid
				continue
			}
			e.items.Remove(subID, id)
			results[i] = ua.StatusOK
		}
	})
	return results
}

// SetMonitoringMode changes Reporting/Sampling/Disabled for a batch of items.
func (e *ServerSubscriptionEngine) SetMonitoringMode(subID domain.SubscriptionID, mode ua.MonitoringMode, ids []domain.MonitoredItemID) []ua.StatusCode {
	results := make([]ua.StatusCode, len(ids))
	e.execute(func() {
		for i, id := range ids {
			item, ok := e.items.Get(subID, id)
			if !ok {
				results[i] = ua.StatusBadMonitoredItemIDInvalid
				continue
			}
			item.MonitoringMode = mode
			if mode == ua.MonitoringModeDisabled {
				item.Queue.Clear()
			}
			results[i] = ua.StatusOK
		}
	})
	return results
}

// OnPublishIntake registers a PublishRequest against the publish request
// queue of subscription subID and returns immediately: this is an
// acknowledgement-only call, the response arrives later through
// complete. Acknowledged sequence numbers are removed from the republish
// queue before the request is queued for matching.
func (e *ServerSubscriptionEngine) OnPublishIntake(sessionID domain.SessionID, subID domain.SubscriptionID, handle domain.RequestHandle, acks []*ua.SubscriptionAcknowledgement, deadline time.Time, complete func(*ua.PublishResponse, ua.StatusCode)) {
	e.execute(func() {
		sub, ok := e.subs[subID]
		if !ok {
			complete(nil, ua.StatusBadSubscriptionIDInvalid)
			return
		}
		for _, ack := range acks {
			sub.Republish.Remove(ack.SequenceNumber)
		}

		sub.Requests.Append(queue.PendingPublish{
			SessionID:        sessionID,
			RequestHandle:    handle,
			Acknowledgements: acks,
			Deadline:         deadline,
			Complete:         complete,
		})

		outcome := sub.Step(time.Now(), false)
		if outcome.ShouldClose {
			e.closeSubscription(subID, ua.StatusBadTimeout)
		}
	})
}

// Republish replays a retained NotificationMessage by sequence number.
func (e *ServerSubscriptionEngine) Republish(subID domain.SubscriptionID, seq uint32) (*ua.NotificationMessage, error) {
	var msg *ua.NotificationMessage
	var err error
	e.execute(func() {
		sub, ok := e.subs[subID]
		if !ok {
			err = domain.ErrSubscriptionIDInvalid
			return
		}
		msg, ok = sub.Republish.Find(seq)
		if !ok {
			err = domain.ErrMessageNotAvailable
		}
	})
	return msg, err
}

// OnWrite fans a value write out to every monitored item on nodeID.
func (e *ServerSubscriptionEngine) OnWrite(nodeID *ua.NodeID, dv *ua.DataValue) {
	e.execute(func() {
		for _, item := range e.items.ItemsForNode(nodeID) {
			if item.AttributeID != ua.AttributeIDValue {
				continue
			}
			if item.OnWrite(dv) {
				e.metrics.NotificationsQueued(1)
			}
		}
	})
}

// OnEvent fans a raised event out to every monitored item on the notifier
// node, running each item's own EventFilter where-clause before projecting
// its select clauses into the queued field tuple.
func (e *ServerSubscriptionEngine) OnEvent(notifierNode *ua.NodeID, ev RaisedEvent) {
	e.execute(func() {
		for _, item := range e.items.ItemsForNode(notifierNode) {
			if item.EventFilter == nil {
				continue
			}
			if !EvaluateWhere(item.EventFilter, ev) {
				continue
			}
			fields := ProjectSelectClauses(item.EventFilter, ev)
			if item.OnEvent(fields) {
				e.metrics.NotificationsQueued(1)
			}
		}
	})
}

// OnSessionClosed drains and closes every subscription owned by sessionID.
func (e *ServerSubscriptionEngine) OnSessionClosed(sessionID domain.SessionID) {
	e.execute(func() {
		sess, ok := e.sessions[sessionID]
		if !ok {
			return
		}
		for _, id := range append([]domain.SubscriptionID(nil), sess.SubscriptionIDs...) {
			e.closeSubscription(id, ua.StatusBadSessionIDInvalid)
		}
		delete(e.sessions, sessionID)
	})
}

// TransferSubscriptions reassigns a batch of subscriptions to a new
// session, draining their publish request queues first since those
// requests belonged to the old session's transport connection.
func (e *ServerSubscriptionEngine) TransferSubscriptions(newSessionID domain.SessionID, ids []domain.SubscriptionID) []ua.StatusCode {
	results := make([]ua.StatusCode, len(ids))
	e.execute(func() {
		for i, id := range ids {
			sub, ok := e.subs[id]
			if !ok {
				results[i] = ua.StatusBadSubscriptionIDInvalid
				continue
			}
			if oldSess, ok := e.sessions[sub.SessionID]; ok {
				oldSess.RemoveSubscription(id)
			}
			sub.Requests.DrainWithStatus(ua.StatusBadSessionIDInvalid)
			sub.SessionID = newSessionID

			newSess, ok := e.sessions[newSessionID]
			if !ok {
				newSess = &domain.Session{ID: newSessionID}
				e.sessions[newSessionID] = newSess
			}
			newSess.AddSubscription(id)

			results[i] = ua.StatusOK
		}
	})
	return results
}

// MonitoredItemCreateRequest is the engine-facing shape of one entry of a
// CreateMonitoredItemsRequest.
type MonitoredItemCreateRequest struct {
	NodeID           *ua.NodeID
	AttributeID      uint32
	ClientHandle     domain.ClientHandle
	QueueSize        uint32
	DiscardOldest    bool
	DataChangeFilter *ua.DataChangeFilter
	EventFilter      *ua.EventFilter
}

// MonitoredItemCreateResult is the engine-facing shape of one entry of a
// CreateMonitoredItemsResponse.
type MonitoredItemCreateResult struct {
	MonitoredItemID  domain.MonitoredItemID
	Status           ua.StatusCode
	RevisedQueueSize uint32
}
