package subscription

import (
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-subscriptiond/internal/domain"
	"github.com/nexus-edge/opcua-subscriptiond/internal/queue"
)

// buildMessage drains queued notifications from every Reporting item owned
// by this subscription into one NotificationMessage. Data-change and event
// notifications draw from separate shares of the MaxNotifications budget,
// computed by splitNotificationBudget so that a queue full of one kind
// cannot starve the other out entirely; within each kind, items are
// round-robined so one chatty item cannot starve its siblings. It returns
// the message and whether any item still has entries left
// (MoreNotifications).
func (s *Subscription) buildMessage(now time.Time) (*ua.NotificationMessage, bool) {
	items := s.items.ItemsForSubscription(s.ID)

	var dataItems, eventItems []*queue.MonitoredItem
	dataAvail, eventAvail := 0, 0
	for _, item := range items {
		if !item.IsReporting() {
			continue
		}
		if item.Queue.IsEventKind() {
			eventItems = append(eventItems, item)
			eventAvail += item.Queue.Length()
		} else {
			dataItems = append(dataItems, item)
			dataAvail += item.Queue.Length()
		}
	}

	budget := int(s.MaxNotifications)
	if budget <= 0 {
		budget = 1
	}

	dataBudget, eventBudget := splitNotificationBudget(dataAvail, eventAvail, budget)

	dataNotif := drainDataItems(dataItems, dataBudget)
	eventNotif := drainEventItems(eventItems, eventBudget)

	more := hasMore(dataItems) || hasMore(eventItems)

	var notifData []*ua.ExtensionObject
	if len(dataNotif) > 0 {
		notifData = append(notifData, ua.NewExtensionObject(&ua.DataChangeNotification{
			MonitoredItems: dataNotif,
		}))
	}
	if len(eventNotif) > 0 {
		notifData = append(notifData, ua.NewExtensionObject(&ua.EventNotificationList{
			Events: eventNotif,
		}))
	}

	seq := s.advanceSeq()

	return &ua.NotificationMessage{
		SequenceNumber:   seq,
		PublishTime:      now,
		NotificationData: notifData,
	}, more
}

// splitNotificationBudget divides a shared notification budget between a
// data-change share and an event share. When both fit, nothing is
// rationed. When they don't, half the overflow is taken from whichever
// side has fewer queued notifications, capped at what that side actually
// has; the side with more queued notifications absorbs the rest, which is
// how an odd overflow unit, or a side with nothing queued at all, ends up
// on the larger side instead of going to waste.
func splitNotificationBudget(dataAvail, eventAvail, budget int) (dataBudget, eventBudget int) {
	total := dataAvail + eventAvail
	if total <= budget {
		return dataAvail, eventAvail
	}

	overflow := total - budget
	reduceSmaller := overflow / 2

	if dataAvail <= eventAvail {
		if reduceSmaller > dataAvail {
			reduceSmaller = dataAvail
		}
		reduceLarger := overflow - reduceSmaller
		if reduceLarger > eventAvail {
			reduceLarger = eventAvail
		}
		return dataAvail - reduceSmaller, eventAvail - reduceLarger
	}

	if reduceSmaller > eventAvail {
		reduceSmaller = eventAvail
	}
	reduceLarger := overflow - reduceSmaller
	if reduceLarger > dataAvail {
		reduceLarger = dataAvail
	}
	return dataAvail - reduceLarger, eventAvail - reduceSmaller
}

func drainDataItems(items []*queue.MonitoredItem, budget int) []*ua.MonitoredItemNotification {
	var out []*ua.MonitoredItemNotification
	taken := 0
	for taken < budget {
		progressed := false
		for _, item := range items {
			if taken >= budget {
				break
			}
			entry, ok := item.Queue.PopFirst()
			if !ok {
				continue
			}
			progressed = true
			taken++

			dv := *entry.DataValue
			if entry.Overflow {
				dv.Status = domain.WithOverflowBit(dv.Status)
			}
			out = append(out, &ua.MonitoredItemNotification{
				ClientHandle: uint32(item.ClientHandle),
				Value:        &dv,
			})
		}
		if !progressed {
			break
		}
	}
	return out
}

func drainEventItems(items []*queue.MonitoredItem, budget int) []*ua.EventFieldList {
	var out []*ua.EventFieldList
	taken := 0
	for taken < budget {
		progressed := false
		for _, item := range items {
			if taken >= budget {
				break
			}
			entry, ok := item.Queue.PopFirst()
			if !ok {
				continue
			}
			progressed = true
			taken++

			out = append(out, &ua.EventFieldList{
				ClientHandle: uint32(item.ClientHandle),
				EventFields:  entry.EventFields,
			})
		}
		if !progressed {
			break
		}
	}
	return out
}

func hasMore(items []*queue.MonitoredItem) bool {
	for _, item := range items {
		if item.Queue.Length() > 0 {
			return true
		}
	}
	return false
}

// statusFor translates a domain error into the StatusCode an operation
// response should carry. Nothing in this package calls it; the engine
// writes its status codes directly.
func statusFor(err error) ua.StatusCode {
	return domain.StatusCodeFor(err)
}
