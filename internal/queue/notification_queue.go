package queue

import (
	"container/list"

	"github.com/gopcua/opcua/ua"
)

// Kind fixes, at construction, whether a NotificationQueue carries
// data-change or event notifications, fixed for the queue's lifetime.
type Kind int

const (
	DataChangeKind Kind = iota
	EventKind
)

// Entry is the tagged union that represents a queued notification: a
// data-change carries a DataValue, an event carries an ordered field list
// projected from the monitored item's select clauses. Overflow is set by
// PopFirst on the one entry that must carry the InfoBits.Overflow bit
// after a discard-oldest drop.
type Entry struct {
	DataValue   *ua.DataValue
	EventFields []*ua.Variant
	Overflow    bool
}

// overflowEventTypeID is the well-known NodeID of EventQueueOverflowEventType
// (OPC UA Part 5 §6.4.4), used as the synthetic entry injected into an
// event queue on overflow when no status bit is available to carry it.
var overflowEventTypeID = ua.NewNumericNodeID(0, 3035)

// NotificationQueue is the bounded per-monitored-item notification queue.
type NotificationQueue struct {
	kind          Kind
	size          int
	discardOldest bool
	items         *list.List

	overflowPending bool
}

// NewNotificationQueue creates a queue of the given kind and initial size.
// size is clamped to at least 1 as required for data items;
// callers pass EngineLimits.DefaultEventQueueSize for event items.
func NewNotificationQueue(kind Kind, size int, discardOldest bool) *NotificationQueue {
	if size < 1 {
		size = 1
	}
	return &NotificationQueue{
		kind:          kind,
		size:          size,
		discardOldest: discardOldest,
		items:         list.New(),
	}
}

// IsEventKind reports whether this queue carries event notifications.
func (q *NotificationQueue) IsEventKind() bool {
	return q.kind == EventKind
}

// Length returns the number of queued entries.
func (q *NotificationQueue) Length() int {
	return q.items.Len()
}

// Resize changes the queue's capacity. Shrinking does not evict existing
// entries: each later Append drops or refuses only one entry, so a queue
// left above its new size shrinks back only as entries are popped, and
// already-queued data is never truncated mid-flight.
func (q *NotificationQueue) Resize(newSize int) {
	if newSize < 1 {
		newSize = 1
	}
	q.size = newSize
}

// Clear drops every queued entry without signalling overflow.
func (q *NotificationQueue) Clear() {
	q.items.Init()
	q.overflowPending = false
}

// Destroy releases the queue's backing storage. MonitoredItem calls this
// when it is removed from its subscription.
func (q *NotificationQueue) Destroy() {
	q.Clear()
}

// Append adds an entry, applying the discard-oldest/discard-newest policy
// when the queue is already at capacity.
func (q *NotificationQueue) Append(e Entry) {
	if q.items.Len() >= q.size {
		if q.discardOldest {
			q.items.Remove(q.items.Front())
			q.overflowPending = true
		} else {
			// discard-newest: refuse this entry, but the drop still must
			// be reported on the next delivered notification.
			q.overflowPending = true
			return
		}
	}

	if q.kind == EventKind && q.overflowPending {
		q.insertOverflowEvent()
	}

	q.items.PushBack(&e)
}

// insertOverflowEvent makes room for, and pushes, a synthetic
// EventQueueOverflowEventType entry ahead of the real entry about to be
// appended, then clears overflowPending. Event queues have no status bit
// to carry overflow on, so OPC UA Part 4 §7.20 requires emitting an actual
// overflow event instead.
func (q *NotificationQueue) insertOverflowEvent() {
	if q.items.Len() >= q.size {
		q.items.Remove(q.items.Front())
	}
	q.items.PushBack(&Entry{
		EventFields: []*ua.Variant{ua.MustVariant(overflowEventTypeID.String())},
	})
	q.overflowPending = false
}

// PopFirst removes and returns the oldest entry. For a data-change queue,
// the returned entry's Overflow flag is set exactly once after a
// discard-oldest/discard-newest drop.
func (q *NotificationQueue) PopFirst() (Entry, bool) {
	front := q.items.Front()
	if front == nil {
		return Entry{}, false
	}
	q.items.Remove(front)
	e := *front.Value.(*Entry)

	if q.kind == DataChangeKind && q.overflowPending {
		e.Overflow = true
		q.overflowPending = false
	}

	return e, true
}

// Peek returns the oldest entry without removing it.
func (q *NotificationQueue) Peek() (Entry, bool) {
	front := q.items.Front()
	if front == nil {
		return Entry{}, false
	}
	return *front.Value.(*Entry), true
}
