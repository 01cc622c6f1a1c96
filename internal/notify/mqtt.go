// Package notify bridges alarm condition transitions onto MQTT, adapted
// from protocol-gateway's CommandHandler publish path (same QoS'd
// Publish/token.Wait idiom, now firing on every alarm.Condition state
// change instead of a write-command acknowledgement).
package notify

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nexus-edge/opcua-subscriptiond/internal/alarm"
	"github.com/rs/zerolog"
)

// AlarmMetrics is the narrow surface this bridge reports transitions
// through.
type AlarmMetrics interface {
	AlarmTransition(kind string)
}

// Bridge publishes one retained MQTT message per alarm condition
// transition, keyed by NodeID, so any subscriber gets the condition's
// latest snapshot without replaying its event history.
type Bridge struct {
	client mqttClient
	topic  string
	qos    byte
	logger zerolog.Logger
	metrics AlarmMetrics

	published atomic.Int64
	failed    atomic.Int64
}

// mqttClient is the subset of mqtt.Client this bridge calls, narrowed so
// tests can substitute a fake without standing up a broker.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// NewBridge creates a bridge publishing under topicPrefix/<nodeID> at qos.
func NewBridge(client mqtt.Client, topicPrefix string, qos byte, metrics AlarmMetrics, logger zerolog.Logger) *Bridge {
	if metrics == nil {
		metrics = noopAlarmMetrics{}
	}
	return &Bridge{
		client:  client,
		topic:   topicPrefix,
		qos:     qos,
		metrics: metrics,
		logger:  logger.With().Str("component", "alarm_mqtt_bridge").Logger(),
	}
}

type noopAlarmMetrics struct{}

func (noopAlarmMetrics) AlarmTransition(string) {}

// transitionPayload is the wire shape published for each alarm event.
type transitionPayload struct {
	NodeID    string    `json:"node_id"`
	Event     string    `json:"event"`
	Enabled   bool      `json:"enabled_state"`
	Active    bool      `json:"active_state"`
	Acked     bool      `json:"acked_state"`
	Confirmed bool      `json:"confirmed_state"`
	Retain    bool      `json:"retain"`
	Severity  uint16    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// OnEvent is an alarm.Condition onEvent callback: pass it directly to
// alarm.NewCondition to publish every transition as it happens.
func (b *Bridge) OnEvent(cond alarm.Condition, evt alarm.EventType) {
	payload := transitionPayload{
		NodeID:    cond.NodeID.String(),
		Event:     eventName(evt),
		Enabled:   cond.Enabled,
		Active:    cond.Active,
		Acked:     cond.Acked,
		Confirmed: cond.Confirmed,
		Retain:    cond.Retain,
		Severity:  cond.Severity,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to marshal alarm transition")
		return
	}

	topic := fmt.Sprintf("%s/%s", b.topic, cond.NodeID.String())
	token := b.client.Publish(topic, b.qos, true, data)
	if token.Wait() && token.Error() != nil {
		b.failed.Add(1)
		b.logger.Error().Err(token.Error()).Str("topic", topic).Msg("failed to publish alarm transition")
		return
	}

	b.published.Add(1)
	b.metrics.AlarmTransition(eventName(evt))
}

func eventName(evt alarm.EventType) string {
	switch evt {
	case alarm.EventEnabledStateChanged:
		return "enabled_state_changed"
	case alarm.EventActiveStateChanged:
		return "active_state_changed"
	case alarm.EventAckedStateChanged:
		return "acked_state_changed"
	case alarm.EventConfirmedStateChanged:
		return "confirmed_state_changed"
	case alarm.EventQualityChanged:
		return "quality_changed"
	case alarm.EventSeverityChanged:
		return "severity_changed"
	case alarm.EventCommentAdded:
		return "comment_added"
	default:
		return "unknown"
	}
}

// Stats returns published/failed publish counts for diagnostics.
func (b *Bridge) Stats() (published, failed int64) {
	return b.published.Load(), b.failed.Load()
}
