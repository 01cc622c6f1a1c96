package queue

import (
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-subscriptiond/internal/domain"
	"github.com/stretchr/testify/assert"
)

func newTestItem(sub domain.SubscriptionID, id domain.MonitoredItemID, node *ua.NodeID) *MonitoredItem {
	return NewDataMonitoredItem(id, sub, node, ua.AttributeIDValue, domain.ClientHandle(id), 10, true, nil, ua.TimestampsToReturnBoth)
}

func TestMonitoredItemIndexItemsForNodeFansOutAcrossSubscriptions(t *testing.T) {
	x := NewMonitoredItemIndex()
	node := ua.NewStringNodeID(1, "shared")

	itemA := newTestItem(1, 1, node)
	itemB := newTestItem(2, 1, node)
	x.Add(itemA)
	x.Add(itemB)

	items := x.ItemsForNode(node)
	assert.Len(t, items, 2)
	assert.Contains(t, items, itemA)
	assert.Contains(t, items, itemB)
}

func TestMonitoredItemIndexItemsForSubscriptionPreservesOrder(t *testing.T) {
	x := NewMonitoredItemIndex()
	first := newTestItem(1, 1, ua.NewStringNodeID(1, "a"))
	second := newTestItem(1, 2, ua.NewStringNodeID(1, "b"))
	x.Add(first)
	x.Add(second)

	items := x.ItemsForSubscription(1)
	assert.Equal(t, []*MonitoredItem{first, second}, items)
}

func TestMonitoredItemIndexGetUnknownReturnsFalse(t *testing.T) {
	x := NewMonitoredItemIndex()
	_, ok := x.Get(1, 99)
	assert.False(t, ok)
}

func TestMonitoredItemIndexRemovePrunesBothStructures(t *testing.T) {
	x := NewMonitoredItemIndex()
	node := ua.NewStringNodeID(1, "shared")
	itemA := newTestItem(1, 1, node)
	itemB := newTestItem(2, 1, node)
	x.Add(itemA)
	x.Add(itemB)

	x.Remove(1, 1)

	_, ok := x.Get(1, 1)
	assert.False(t, ok)
	assert.Empty(t, x.ItemsForSubscription(1))
	assert.Equal(t, []*MonitoredItem{itemB}, x.ItemsForNode(node))
}

func TestMonitoredItemIndexRemoveLastItemPrunesNodeEntry(t *testing.T) {
	x := NewMonitoredItemIndex()
	node := ua.NewStringNodeID(1, "solo")
	item := newTestItem(1, 1, node)
	x.Add(item)

	x.Remove(1, 1)

	assert.Empty(t, x.ItemsForNode(node))
}

func TestMonitoredItemIndexRemoveSubscriptionDropsEverything(t *testing.T) {
	x := NewMonitoredItemIndex()
	node := ua.NewStringNodeID(1, "shared")
	itemA := newTestItem(1, 1, node)
	itemB := newTestItem(1, 2, node)
	other := newTestItem(2, 1, node)
	x.Add(itemA)
	x.Add(itemB)
	x.Add(other)

	x.RemoveSubscription(1)

	assert.Empty(t, x.ItemsForSubscription(1))
	assert.Equal(t, []*MonitoredItem{other}, x.ItemsForNode(node))
	_, ok := x.Get(1, 1)
	assert.False(t, ok)
}
