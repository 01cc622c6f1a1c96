package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-subscriptiond/internal/client"
	"github.com/nexus-edge/opcua-subscriptiond/internal/domain"
	"github.com/nexus-edge/opcua-subscriptiond/internal/subscription"
)

// Loopback implements client.Transport directly against an in-process
// ServerSubscriptionEngine, skipping secure-channel framing entirely. It
// exists so a single binary can run both halves of the Subscription
// Service Set against each other (the composition root's default mode,
// and this package's tests) without standing up a real
// OPC UA TCP listener.
type Loopback struct {
	engine    *subscription.ServerSubscriptionEngine
	sessionID domain.SessionID

	mu        sync.Mutex
	items     []monitoredItem
	subID     domain.SubscriptionID
	handleSeq uint32
}

type monitoredItem struct {
	nodeID       *ua.NodeID
	attributeID  uint32
	clientHandle domain.ClientHandle
}

// NewLoopback binds a client transport to engine under sessionID. No
// registration step is needed: the engine creates its record of sessionID
// lazily on the first CreateSubscription.
func NewLoopback(engine *subscription.ServerSubscriptionEngine, sessionID domain.SessionID) *Loopback {
	return &Loopback{engine: engine, sessionID: sessionID}
}

// SendActivateSession is a no-op: Loopback has no secure channel to
// activate, the session already exists by construction.
func (l *Loopback) SendActivateSession(ctx context.Context) error {
	return nil
}

func (l *Loopback) SendCreateSubscription(ctx context.Context, interval time.Duration, keepAlive, lifetime, maxNotif uint32) (domain.SubscriptionID, domain.RevisedSubscriptionParams, error) {
	id, revised, err := l.engine.CreateSubscription(l.sessionID, interval, keepAlive, lifetime, maxNotif, true, 0)
	if err != nil {
		return 0, domain.RevisedSubscriptionParams{}, err
	}
	l.mu.Lock()
	l.subID = id
	l.mu.Unlock()
	return id, revised, nil
}

func (l *Loopback) SendCreateMonitoredItems(ctx context.Context, subID domain.SubscriptionID, items []client.MonitoredItemRequest) ([]client.MonitoredItemResult, error) {
	reqs := make([]subscription.MonitoredItemCreateRequest, len(items))
	for i, it := range items {
		reqs[i] = subscription.MonitoredItemCreateRequest{
			NodeID:        it.NodeID,
			AttributeID:   it.AttributeID,
			ClientHandle:  it.ClientHandle,
			DiscardOldest: true,
		}
	}
	results := l.engine.CreateMonitoredItems(subID, ua.TimestampsToReturnBoth, reqs)

	out := make([]client.MonitoredItemResult, len(results))
	for i, r := range results {
		out[i] = client.MonitoredItemResult{MonitoredItemID: r.MonitoredItemID, Status: r.Status}
	}
	return out, nil
}

func (l *Loopback) SendDeleteSubscriptions(ctx context.Context, ids []domain.SubscriptionID) error {
	l.engine.DeleteSubscriptions(ids)
	return nil
}

// SendPublish blocks until the engine matches this request to a
// notification or keep-alive, mirroring the blocking contract a real
// Publish service call has over the wire.
func (l *Loopback) SendPublish(ctx context.Context, acks []*ua.SubscriptionAcknowledgement) (*ua.PublishResponse, error) {
	l.mu.Lock()
	subID := l.subID
	l.handleSeq++
	handle := domain.RequestHandle(l.handleSeq)
	l.mu.Unlock()

	respCh := make(chan struct {
		resp   *ua.PublishResponse
		status ua.StatusCode
	}, 1)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(60 * time.Second)
	}

	l.engine.OnPublishIntake(l.sessionID, subID, handle, acks, deadline, func(resp *ua.PublishResponse, status ua.StatusCode) {
		respCh <- struct {
			resp   *ua.PublishResponse
			status ua.StatusCode
		}{resp, status}
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-respCh:
		if r.status != ua.StatusOK {
			return nil, domain.StatusCodeError(r.status)
		}
		return r.resp, nil
	}
}
