package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-subscriptiond/internal/domain"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// State is one state of the client-side subscription lifecycle.
type State int

const (
	StateInit State = iota
	StateActivating
	StateActivated
	StateCreatingSubscr
	StateCreatingMonIt
	StateDeletingSubscr
	StateClosing
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateActivating:
		return "Activating"
	case StateActivated:
		return "Activated"
	case StateCreatingSubscr:
		return "CreatingSubscr"
	case StateCreatingMonIt:
		return "CreatingMonIt"
	case StateDeletingSubscr:
		return "DeletingSubscr"
	case StateClosing:
		return "Closing"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Transport is the minimal surface the state machine needs from the secure
// channel / session layer, kept as a narrow interface so the transport
// is an external collaborator and this is the seam. Send posts a
// service request and resolves with its response or an error once the
// transport receives a reply or decides to give up.
type Transport interface {
	SendActivateSession(ctx context.Context) error
	SendCreateSubscription(ctx context.Context, interval time.Duration, keepAlive, lifetime, maxNotif uint32) (domain.SubscriptionID, domain.RevisedSubscriptionParams, error)
	SendCreateMonitoredItems(ctx context.Context, subID domain.SubscriptionID, items []MonitoredItemRequest) ([]MonitoredItemResult, error)
	SendDeleteSubscriptions(ctx context.Context, ids []domain.SubscriptionID) error
	SendPublish(ctx context.Context, acks []*ua.SubscriptionAcknowledgement) (*ua.PublishResponse, error)
}

// MonitoredItemRequest/Result mirror the engine-facing shapes in
// internal/subscription so the client package does not import it (the
// client talks the wire protocol, not the engine's in-process API).
type MonitoredItemRequest struct {
	NodeID       *ua.NodeID
	AttributeID  uint32
	ClientHandle domain.ClientHandle
}

type MonitoredItemResult struct {
	MonitoredItemID domain.MonitoredItemID
	Status          ua.StatusCode
}

// ConnectionConfig holds the tunables for reconnect and publish-token
// management. Loaded by internal/config's "client" section.
type ConnectionConfig struct {
	PublishingInterval    time.Duration
	RequestedKeepAlive    uint32
	RequestedLifetime     uint32
	RequestedMaxNotifs    uint32
	TargetPublishTokens   uint32
	SetupTimeout          time.Duration
	ReconnectBackoffMin   time.Duration
	ReconnectBackoffMax   time.Duration
}

// DefaultConnectionConfig returns sensible defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		PublishingInterval:  1 * time.Second,
		RequestedKeepAlive:  10,
		RequestedLifetime:   60,
		RequestedMaxNotifs:  1000,
		TargetPublishTokens: 3,
		SetupTimeout:        30 * time.Second,
		ReconnectBackoffMin: 500 * time.Millisecond,
		ReconnectBackoffMax: 30 * time.Second,
	}
}

// NotificationHandler receives NotificationMessages as the client pumps
// publish responses.
type NotificationHandler func(subID domain.SubscriptionID, msg *ua.NotificationMessage)

// ClientSubscriptionStateMachine drives one session's subscription
// lifecycle end to end. Reconnection itself is the caller's job: the
// state machine assumes whoever owns the secure channel calls Reset and
// re-enters StateActivating after a
// transport-level reconnect; this type never dials or retries a socket.
type ClientSubscriptionStateMachine struct {
	transport Transport
	scheduler *RequestScheduler
	cfg       ConnectionConfig
	logger    zerolog.Logger
	onNotify  NotificationHandler

	breaker *gobreaker.CircuitBreaker

	mu           sync.Mutex
	state        State
	subID        domain.SubscriptionID
	revised      domain.RevisedSubscriptionParams
	ackLatchSet  bool
	ackLatchSeq  uint32

	nTokenUsable atomic.Int32
	nTokenTarget atomic.Int32

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a state machine in StateInit.
func New(transport Transport, cfg ConnectionConfig, onNotify NotificationHandler, logger zerolog.Logger) *ClientSubscriptionStateMachine {
	m := &ClientSubscriptionStateMachine{
		transport: transport,
		scheduler: NewRequestScheduler(),
		cfg:       cfg,
		logger:    logger.With().Str("component", "client_statemachine").Logger(),
		onNotify:  onNotify,
		state:     StateInit,
		breaker:   newSetupBreaker("client-setup"),
	}
	m.nTokenTarget.Store(int32(cfg.TargetPublishTokens))
	return m
}

func (m *ClientSubscriptionStateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the state machine has completed setup and is
// actively pumping publish requests, satisfying health.ClientProbe.
func (m *ClientSubscriptionStateMachine) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateActivated
}

func (m *ClientSubscriptionStateMachine) setState(s State) {
	from := m.state
	m.state = s
	if from != s {
		m.logger.Debug().Str("from", from.String()).Str("to", s.String()).Msg("state transition")
	}
}

// Start runs ActivateSession -> CreateSubscription -> CreateMonitoredItems
// -> Activated, then begins the publish pump. Blocks until setup completes,
// fails, or ctx/SetupTimeout expires.
func (m *ClientSubscriptionStateMachine) Start(ctx context.Context, items []MonitoredItemRequest) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.SetupTimeout)
	defer cancel()

	m.mu.Lock()
	m.setState(StateActivating)
	m.mu.Unlock()

	if _, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, m.transport.SendActivateSession(ctx)
	}); err != nil {
		m.fail(err)
		return err
	}

	m.mu.Lock()
	m.setState(StateCreatingSubscr)
	m.mu.Unlock()

	type subResult struct {
		id      domain.SubscriptionID
		revised domain.RevisedSubscriptionParams
	}
	subRes, err := m.breaker.Execute(func() (interface{}, error) {
		id, revised, err := m.transport.SendCreateSubscription(ctx, m.cfg.PublishingInterval, m.cfg.RequestedKeepAlive, m.cfg.RequestedLifetime, m.cfg.RequestedMaxNotifs)
		return subResult{id, revised}, err
	})
	if err != nil {
		m.fail(err)
		return err
	}
	subID := subRes.(subResult).id

	m.mu.Lock()
	m.subID = subID
	m.revised = subRes.(subResult).revised
	m.setState(StateCreatingMonIt)
	m.mu.Unlock()

	if len(items) > 0 {
		resultsAny, err := m.breaker.Execute(func() (interface{}, error) {
			return m.transport.SendCreateMonitoredItems(ctx, subID, items)
		})
		if err != nil {
			m.fail(err)
			return err
		}
		results := resultsAny.([]MonitoredItemResult)
		for _, r := range results {
			if r.Status != ua.StatusOK {
				m.logger.Warn().Uint32("monitored_item_id", uint32(r.MonitoredItemID)).Uint32("status", uint32(r.Status)).Msg("monitored item create failed")
			}
		}
	}

	m.mu.Lock()
	m.setState(StateActivated)
	m.mu.Unlock()

	runCtx, runCancel := context.WithCancel(context.Background())
	m.cancel = runCancel
	m.wg.Add(1)
	go m.publishPump(runCtx)

	return nil
}

func (m *ClientSubscriptionStateMachine) fail(err error) {
	m.mu.Lock()
	m.setState(StateError)
	m.mu.Unlock()
	m.logger.Error().Err(err).Msg("setup failed")
}

// Reset returns the state machine to StateInit, cancelling the publish
// pump. Call it after a transport-level reconnect before calling Start
// again.
func (m *ClientSubscriptionStateMachine) Reset() {
	if m.cancel != nil {
		m.cancel()
		m.wg.Wait()
	}
	m.mu.Lock()
	m.setState(StateInit)
	m.ackLatchSet = false
	m.mu.Unlock()
}

// Close tears down the subscription and stops the publish pump.
func (m *ClientSubscriptionStateMachine) Close(ctx context.Context) error {
	m.mu.Lock()
	subID := m.subID
	m.setState(StateDeletingSubscr)
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.wg.Wait()
	}

	err := m.transport.SendDeleteSubscriptions(ctx, []domain.SubscriptionID{subID})

	m.mu.Lock()
	m.setState(StateClosing)
	m.mu.Unlock()

	return err
}

// publishPump keeps nTokenTarget publish requests in flight, feeding every
// delivered NotificationMessage to onNotify and latching the sequence
// number of the most recently delivered message so the next request
// acknowledges it: a single-slot (bAck, ackSeqNum) latch, so only that one
// sequence number is acknowledged and a message delivered before it that
// was not yet acknowledged is not.
func (m *ClientSubscriptionStateMachine) publishPump(ctx context.Context) {
	defer m.wg.Done()

	for {
		for m.nTokenUsable.Load() < m.nTokenTarget.Load() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			m.nTokenUsable.Add(1)
			m.wg.Add(1)
			go m.sendOnePublish(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (m *ClientSubscriptionStateMachine) sendOnePublish(ctx context.Context) {
	defer m.wg.Done()
	defer m.nTokenUsable.Add(-1)

	var acks []*ua.SubscriptionAcknowledgement
	m.mu.Lock()
	if m.ackLatchSet {
		acks = []*ua.SubscriptionAcknowledgement{{SubscriptionID: uint32(m.subID), SequenceNumber: m.ackLatchSeq}}
		m.ackLatchSet = false
	}
	m.mu.Unlock()

	resp, err := m.transport.SendPublish(ctx, acks)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn().Err(err).Msg("publish failed")
		return
	}
	if resp == nil || resp.NotificationMessage == nil {
		return
	}

	m.mu.Lock()
	m.ackLatchSet = true
	m.ackLatchSeq = resp.NotificationMessage.SequenceNumber
	m.mu.Unlock()

	if m.onNotify != nil {
		m.onNotify(domain.SubscriptionID(resp.SubscriptionID), resp.NotificationMessage)
	}
}
