package queue

import (
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
)

func TestNotificationQueueDiscardOldestSetsOverflowOnNextPop(t *testing.T) {
	q := NewNotificationQueue(DataChangeKind, 2, true)
	q.Append(Entry{DataValue: &ua.DataValue{Value: ua.MustVariant(int32(1))}})
	q.Append(Entry{DataValue: &ua.DataValue{Value: ua.MustVariant(int32(2))}})
	q.Append(Entry{DataValue: &ua.DataValue{Value: ua.MustVariant(int32(3))}}) // evicts entry 1

	assert.Equal(t, 2, q.Length())

	first, ok := q.PopFirst()
	assert.True(t, ok)
	assert.True(t, first.Overflow, "the entry delivered right after a drop must carry the overflow marker")
	assert.Equal(t, int32(2), first.DataValue.Value.Value().(int32))

	second, ok := q.PopFirst()
	assert.True(t, ok)
	assert.False(t, second.Overflow, "overflow must be reported exactly once")
}

func TestNotificationQueueDiscardNewestRefusesEntry(t *testing.T) {
	q := NewNotificationQueue(DataChangeKind, 2, false)
	q.Append(Entry{DataValue: &ua.DataValue{Value: ua.MustVariant(int32(1))}})
	q.Append(Entry{DataValue: &ua.DataValue{Value: ua.MustVariant(int32(2))}})
	q.Append(Entry{DataValue: &ua.DataValue{Value: ua.MustVariant(int32(3))}}) // refused

	assert.Equal(t, 2, q.Length())

	first, _ := q.PopFirst()
	assert.True(t, first.Overflow)
	assert.Equal(t, int32(1), first.DataValue.Value.Value().(int32))
}

func TestNotificationQueueEventOverflowInsertsSyntheticEvent(t *testing.T) {
	q := NewNotificationQueue(EventKind, 1, true)
	q.Append(Entry{EventFields: []*ua.Variant{ua.MustVariant("first")}})
	q.Append(Entry{EventFields: []*ua.Variant{ua.MustVariant("second")}})

	entry, ok := q.PopFirst()
	assert.True(t, ok)
	assert.NotNil(t, entry.EventFields)
	assert.Contains(t, entry.EventFields[0].Value().(string), "i=3035")
}

func TestNotificationQueueClearResetsOverflowState(t *testing.T) {
	q := NewNotificationQueue(DataChangeKind, 1, true)
	q.Append(Entry{DataValue: &ua.DataValue{}})
	q.Append(Entry{DataValue: &ua.DataValue{}})

	q.Clear()
	assert.Equal(t, 0, q.Length())

	q.Append(Entry{DataValue: &ua.DataValue{}})
	entry, _ := q.PopFirst()
	assert.False(t, entry.Overflow)
}
