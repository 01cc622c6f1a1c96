package queue

import (
	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-subscriptiond/internal/domain"
)

// MonitoredItemIndex is a pair of parallel structures: an iteration-ordered
// list owned by a single subscription, and a NodeID-keyed fan-out table
// shared across every subscription on the engine, populated lazily on
// first subscription to a node. ua.NodeID itself may embed a
// non-comparable identifier (ByteString, Guid), so the fan-out table is
// keyed by NodeID.String() instead.
type MonitoredItemIndex struct {
	bySubscription map[domain.SubscriptionID][]*MonitoredItem
	byID           map[domain.SubscriptionID]map[domain.MonitoredItemID]*MonitoredItem
	byNode         map[string][]*MonitoredItem
}

// NewMonitoredItemIndex creates an empty index.
func NewMonitoredItemIndex() *MonitoredItemIndex {
	return &MonitoredItemIndex{
		bySubscription: make(map[domain.SubscriptionID][]*MonitoredItem),
		byID:           make(map[domain.SubscriptionID]map[domain.MonitoredItemID]*MonitoredItem),
		byNode:         make(map[string][]*MonitoredItem),
	}
}

// Add registers a monitored item in both structures. The node index entry
// is created lazily.
func (x *MonitoredItemIndex) Add(item *MonitoredItem) {
	x.bySubscription[item.SubscriptionID] = append(x.bySubscription[item.SubscriptionID], item)

	byID, ok := x.byID[item.SubscriptionID]
	if !ok {
		byID = make(map[domain.MonitoredItemID]*MonitoredItem)
		x.byID[item.SubscriptionID] = byID
	}
	byID[item.ID] = item

	key := item.NodeID.String()
	x.byNode[key] = append(x.byNode[key], item)
}

// Get looks up a monitored item by subscription and item id.
func (x *MonitoredItemIndex) Get(sub domain.SubscriptionID, id domain.MonitoredItemID) (*MonitoredItem, bool) {
	byID, ok := x.byID[sub]
	if !ok {
		return nil, false
	}
	item, ok := byID[id]
	return item, ok
}

// ItemsForSubscription returns the items owned by a subscription in
// creation order. The returned slice must not be mutated by the caller.
func (x *MonitoredItemIndex) ItemsForSubscription(sub domain.SubscriptionID) []*MonitoredItem {
	return x.bySubscription[sub]
}

// ItemsForNode returns every monitored item across every subscription
// that targets nodeID, the fan-out path used for Write and Event dispatch.
func (x *MonitoredItemIndex) ItemsForNode(nodeID *ua.NodeID) []*MonitoredItem {
	return x.byNode[nodeID.String()]
}

// Remove deletes a monitored item from both structures. The node index
// must be pruned before the item is destroyed.
func (x *MonitoredItemIndex) Remove(sub domain.SubscriptionID, id domain.MonitoredItemID) {
	item, ok := x.Get(sub, id)
	if !ok {
		return
	}

	delete(x.byID[sub], id)

	list := x.bySubscription[sub]
	for i, it := range list {
		if it.ID == id {
			x.bySubscription[sub] = append(list[:i], list[i+1:]...)
			break
		}
	}

	key := item.NodeID.String()
	nodeList := x.byNode[key]
	for i, it := range nodeList {
		if it.SubscriptionID == sub && it.ID == id {
			nodeList = append(nodeList[:i], nodeList[i+1:]...)
			break
		}
	}
	if len(nodeList) == 0 {
		delete(x.byNode, key)
	} else {
		x.byNode[key] = nodeList
	}

	item.Queue.Destroy()
}

// RemoveSubscription drops every monitored item owned by a subscription,
// used when the subscription itself is destroyed.
func (x *MonitoredItemIndex) RemoveSubscription(sub domain.SubscriptionID) {
	for _, item := range x.bySubscription[sub] {
		key := item.NodeID.String()
		nodeList := x.byNode[key]
		for i, it := range nodeList {
			if it.SubscriptionID == sub && it.ID == item.ID {
				nodeList = append(nodeList[:i], nodeList[i+1:]...)
				break
			}
		}
		if len(nodeList) == 0 {
			delete(x.byNode, key)
		} else {
			x.byNode[key] = nodeList
		}
		item.Queue.Destroy()
	}
	delete(x.bySubscription, sub)
	delete(x.byID, sub)
}
