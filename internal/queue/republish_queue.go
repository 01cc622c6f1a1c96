package queue

import (
	"container/list"

	"github.com/gopcua/opcua/ua"
)

// RepublishQueue is the sequence-number-indexed store of NotificationMessages
// a subscription has already sent. It never exposes an internal pointer to
// its entries; Add and Find copy the message and its NotificationData
// slice, so replacing or reordering slice elements on either side does not
// touch retained history. The ExtensionObjects the slice points to are not
// copied and are shared with the caller.
type RepublishQueue struct {
	cap     int
	order   *list.List // ordered by insertion (== sequence order)
	byIndex map[uint32]*list.Element
	store   map[uint32]*ua.NotificationMessage
}

// NewRepublishQueue creates a queue capped at capacity retained messages,
// corresponding to MAX_REPUBLISH_NOTIFS_PER_SUB.
func NewRepublishQueue(capacity int) *RepublishQueue {
	return &RepublishQueue{
		cap:     capacity,
		order:   list.New(),
		byIndex: make(map[uint32]*list.Element),
		store:   make(map[uint32]*ua.NotificationMessage),
	}
}

// Add stores a NotificationMessage under its sequence number, discarding
// the oldest retained entry if the queue is already at capacity.
func (q *RepublishQueue) Add(seq uint32, msg *ua.NotificationMessage) {
	if q.cap > 0 && q.order.Len() >= q.cap {
		q.discardOldest()
	}
	elem := q.order.PushBack(seq)
	q.byIndex[seq] = elem
	q.store[seq] = deepCopyMessage(msg)
}

// Find returns a copy of the retained message for seq, or
// (nil, false) if it is no longer retained; the caller maps the latter to
// BadMessageNotAvailable.
func (q *RepublishQueue) Find(seq uint32) (*ua.NotificationMessage, bool) {
	msg, ok := q.store[seq]
	if !ok {
		return nil, false
	}
	return deepCopyMessage(msg), true
}

// Remove discards a retained message by sequence number, called when the
// client acknowledges it.
func (q *RepublishQueue) Remove(seq uint32) {
	elem, ok := q.byIndex[seq]
	if !ok {
		return
	}
	q.order.Remove(elem)
	delete(q.byIndex, seq)
	delete(q.store, seq)
}

// Len returns the number of retained messages.
func (q *RepublishQueue) Len() int {
	return q.order.Len()
}

// Clear discards every retained message, called on subscription close.
func (q *RepublishQueue) Clear() {
	q.order.Init()
	q.byIndex = make(map[uint32]*list.Element)
	q.store = make(map[uint32]*ua.NotificationMessage)
}

// discardOldest evicts the earliest retained entry; Add calls it when the
// queue is already at capacity.
func (q *RepublishQueue) discardOldest() {
	front := q.order.Front()
	if front == nil {
		return
	}
	seq := front.Value.(uint32)
	q.order.Remove(front)
	delete(q.byIndex, seq)
	delete(q.store, seq)
}

func deepCopyMessage(msg *ua.NotificationMessage) *ua.NotificationMessage {
	if msg == nil {
		return nil
	}
	cp := *msg
	cp.NotificationData = append([]*ua.ExtensionObject(nil), msg.NotificationData...)
	return &cp
}
