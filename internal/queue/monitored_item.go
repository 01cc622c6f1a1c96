package queue

import (
	"reflect"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-subscriptiond/internal/domain"
)

// MonitoredItem is the addressable source+attribute+filter+mode+handle
// tuple a server tracks per monitored item. It owns exactly one NotificationQueue and accepts
// notifications pushed to it by the engine's write/event fan-out.
type MonitoredItem struct {
	ID             domain.MonitoredItemID
	SubscriptionID domain.SubscriptionID

	NodeID      *ua.NodeID
	AttributeID uint32
	IndexRange  string

	TimestampsToReturn ua.TimestampsToReturn
	MonitoringMode     ua.MonitoringMode
	ClientHandle       domain.ClientHandle

	DataChangeFilter *ua.DataChangeFilter
	EventFilter      *ua.EventFilter

	QueueSize     uint32
	DiscardOldest bool

	Queue *NotificationQueue

	lastValue *ua.DataValue
}

// NewDataMonitoredItem constructs a data-change monitored item with its
// own NotificationQueue, sized to at least 1.
func NewDataMonitoredItem(id domain.MonitoredItemID, subID domain.SubscriptionID, nodeID *ua.NodeID, attrID uint32, handle domain.ClientHandle, queueSize uint32, discardOldest bool, filter *ua.DataChangeFilter, ttr ua.TimestampsToReturn) *MonitoredItem {
	if queueSize < 1 {
		queueSize = 1
	}
	return &MonitoredItem{
		ID:                 id,
		SubscriptionID:     subID,
		NodeID:             nodeID,
		AttributeID:        attrID,
		TimestampsToReturn: ttr,
		MonitoringMode:     ua.MonitoringModeReporting,
		ClientHandle:       handle,
		DataChangeFilter:   filter,
		QueueSize:          queueSize,
		DiscardOldest:      discardOldest,
		Queue:              NewNotificationQueue(DataChangeKind, int(queueSize), discardOldest),
	}
}

// NewEventMonitoredItem constructs an event monitored item.
func NewEventMonitoredItem(id domain.MonitoredItemID, subID domain.SubscriptionID, nodeID *ua.NodeID, handle domain.ClientHandle, queueSize uint32, discardOldest bool, filter *ua.EventFilter) *MonitoredItem {
	if queueSize < 1 {
		queueSize = 1
	}
	return &MonitoredItem{
		ID:             id,
		SubscriptionID: subID,
		NodeID:         nodeID,
		AttributeID:    ua.AttributeIDEventNotifier,
		MonitoringMode: ua.MonitoringModeReporting,
		ClientHandle:   handle,
		EventFilter:    filter,
		QueueSize:      queueSize,
		DiscardOldest:  discardOldest,
		Queue:          NewNotificationQueue(EventKind, int(queueSize), discardOldest),
	}
}

// IsReporting reports whether this item should surface notifications to
// the client. Disabled items accumulate nothing; Sampling items
// accumulate but do not report.
func (m *MonitoredItem) IsReporting() bool {
	return m.MonitoringMode == ua.MonitoringModeReporting
}

func (m *MonitoredItem) IsActive() bool {
	return m.MonitoringMode != ua.MonitoringModeDisabled
}

// triggers decides whether a write to this item's source
// produces a notification under the configured DataChangeTrigger.
func (m *MonitoredItem) triggers(dv *ua.DataValue) bool {
	if m.lastValue == nil {
		return true
	}
	trigger := ua.DataChangeTriggerStatusValue
	if m.DataChangeFilter != nil {
		trigger = m.DataChangeFilter.Trigger
	}

	if m.lastValue.Status != dv.Status {
		return true
	}
	if trigger == ua.DataChangeTriggerStatus {
		return false
	}

	if !variantEqual(m.lastValue.Value, dv.Value) {
		return true
	}
	if trigger == ua.DataChangeTriggerStatusValue {
		return false
	}

	// StatusValueTimestamp also compares source timestamp.
	return !m.lastValue.SourceTimestamp.Equal(dv.SourceTimestamp)
}

func variantEqual(a, b *ua.Variant) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a.Value(), b.Value())
}

// applyTimestamps zeroes out the timestamp fields the client did not ask
// for, per the TimestampsToReturn filter.
func applyTimestamps(dv *ua.DataValue, ttr ua.TimestampsToReturn) *ua.DataValue {
	out := *dv
	switch ttr {
	case ua.TimestampsToReturnSource:
		out.ServerTimestamp = time.Time{}
		out.ServerPicoseconds = 0
	case ua.TimestampsToReturnServer:
		out.SourceTimestamp = time.Time{}
		out.SourcePicoseconds = 0
	case ua.TimestampsToReturnNeither:
		out.SourceTimestamp = time.Time{}
		out.SourcePicoseconds = 0
		out.ServerTimestamp = time.Time{}
		out.ServerPicoseconds = 0
	}
	return &out
}

// OnWrite applies the data-change trigger and, if it fires, queues a
// timestamp-filtered copy of the value. Returns true if a notification was
// queued.
func (m *MonitoredItem) OnWrite(dv *ua.DataValue) bool {
	if !m.IsActive() {
		return false
	}
	if !m.triggers(dv) {
		m.lastValue = dv
		return false
	}
	m.lastValue = dv
	m.Queue.Append(Entry{DataValue: applyTimestamps(dv, m.TimestampsToReturn)})
	return true
}

// OnEvent projects fields and queues an event notification if it was not
// already filtered out by the where-clause evaluation the caller performed
// upstream during event fan-out.
func (m *MonitoredItem) OnEvent(fields []*ua.Variant) bool {
	if !m.IsActive() {
		return false
	}
	m.Queue.Append(Entry{EventFields: fields})
	return true
}
