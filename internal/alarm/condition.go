package alarm

import (
	"time"

	"github.com/google/uuid"
	"github.com/gopcua/opcua/ua"
	"github.com/nexus-edge/opcua-subscriptiond/internal/domain"
)

// Condition mirrors libs2opc_server_alarm_conditions.h's SOPC_AlarmCondition:
// the EnabledState/ActiveState/AckedState/ConfirmedState/Retain variable
// set plus the auto-transition flags that couple them, and Quality/
// Severity/Comment/ClientUserId. A Condition is the source-side state that
// projects into events on the same notification path monitored items
// already carry for data-change and event notifications.
type Condition struct {
	NodeID *ua.NodeID

	Enabled   bool
	Active    bool
	Acked     bool
	Confirmed bool
	Retain    bool

	Quality      ua.StatusCode
	Severity     uint16
	LastSeverity uint16
	Comment      *ua.LocalizedText
	ClientUserID string

	autoAcknowledgeable bool
	autoConfirmable     bool
	autoRetain          bool

	// pendingInactive holds an ActiveState=false transition that arrived
	// while Confirmed was still false: the transition is applied, and its
	// event emitted, only once Confirm clears the pending confirmation.
	pendingInactive bool

	eventIDs *EventIDRing

	onEvent func(Condition, EventType)
}

// EventType is the kind of condition transition that produces an event
// notification.
type EventType int

const (
	EventEnabledStateChanged EventType = iota
	EventActiveStateChanged
	EventAckedStateChanged
	EventConfirmedStateChanged
	EventQualityChanged
	EventSeverityChanged
	EventCommentAdded
)

// NewCondition creates a condition in its default state: enabled, quality
// Good, severity 0, retain false, with AckedState and ConfirmedState both
// true (nothing pending acknowledgement or confirmation until an
// ActiveState transition creates something to act on).
func NewCondition(nodeID *ua.NodeID, eventIDCapacity int, onEvent func(Condition, EventType)) *Condition {
	return &Condition{
		NodeID:    nodeID,
		Enabled:   true,
		Acked:     true,
		Confirmed: true,
		Quality:   ua.StatusOK,
		eventIDs:  NewEventIDRing(eventIDCapacity),
		onEvent:   onEvent,
	}
}

// SetAutoAcknowledgeable enables automatic AckedState=FALSE on every
// ActiveState transition to TRUE.
func (c *Condition) SetAutoAcknowledgeable(v bool) { c.autoAcknowledgeable = v }

// SetAutoConfirmable enables automatic ConfirmedState management on
// AckedState transitions.
func (c *Condition) SetAutoConfirmable(v bool) { c.autoConfirmable = v }

// SetAutoRetain leaves Retain entirely to recomputeRetain: with it set,
// SetEnabledState's setRetain no longer forces Retain=TRUE on enabling.
func (c *Condition) SetAutoRetain(v bool) { c.autoRetain = v }

func (c *Condition) emit(evt EventType) {
	id := uuid.New()
	c.eventIDs.Record(id[:])
	if c.onEvent != nil {
		c.onEvent(*c, evt)
	}
}

// recomputeRetain derives Retain from the other condition variables: a
// disabled condition never retains, otherwise Retain tracks whatever still
// needs the client's attention (active, or awaiting ack/confirm).
func (c *Condition) recomputeRetain() {
	if !c.Enabled {
		c.Retain = false
		return
	}
	c.Retain = c.Active || !c.Acked || !c.Confirmed
}

// SetEnabledState implements the EnabledState transition. On transition to
// false, Retain is forced false and the EventId recall window resets; on
// transition to true with setRetain, Retain is forced true unless
// autoRetain already governs it.
func (c *Condition) SetEnabledState(enabled bool, setRetain bool) error {
	if c.Enabled == enabled {
		return nil
	}
	c.Enabled = enabled
	if !enabled {
		c.eventIDs.Reset()
	}
	c.recomputeRetain()
	if enabled && setRetain && !c.autoRetain {
		c.Retain = true
	}
	c.emit(EventEnabledStateChanged)
	return nil
}

// SetActiveState implements the ActiveState transition, applying
// AutoAcknowledgeable coupling: a transition to true clears AckedState
// when configured. A transition to false arriving while ConfirmedState is
// still false is held pending rather than applied immediately: the source
// clearing does not by itself produce a state change until the client
// confirms the still-outstanding event, at which point Confirm applies the
// deferred ActiveState=false together with its own transition.
func (c *Condition) SetActiveState(active bool, comment *ua.LocalizedText) error {
	if !c.Enabled {
		return domain.ErrConditionDisabled
	}
	if comment != nil {
		c.Comment = comment
	}

	if active {
		c.Active = true
		c.pendingInactive = false
		if c.autoAcknowledgeable {
			c.Acked = false
		}
		c.recomputeRetain()
		c.emit(EventActiveStateChanged)
		return nil
	}

	if !c.Confirmed {
		c.pendingInactive = true
		return nil
	}
	c.Active = false
	c.recomputeRetain()
	c.emit(EventActiveStateChanged)
	return nil
}

// Acknowledge implements the Acknowledge() method call: transitions
// AckedState to true if the condition is enabled, acknowledgeable
// (AckedState currently false), and eventID is within the recall window.
func (c *Condition) Acknowledge(eventID []byte, comment *ua.LocalizedText) error {
	if !c.Enabled {
		return domain.ErrConditionDisabled
	}
	if !c.eventIDs.Contains(eventID) {
		return domain.ErrEventIDUnknown
	}
	if c.Acked {
		return domain.ErrInvalidState
	}
	c.Acked = true
	if comment != nil {
		c.Comment = comment
	}
	if c.autoConfirmable {
		c.Confirmed = false
	}
	c.recomputeRetain()
	c.emit(EventAckedStateChanged)
	return nil
}

// Confirm implements the Confirm() method call, the ConfirmedState
// analogue of Acknowledge. If an ActiveState=false transition was left
// pending by SetActiveState, it is applied now, so the event this produces
// carries ActiveState=false and Retain=false together.
func (c *Condition) Confirm(eventID []byte, comment *ua.LocalizedText) error {
	if !c.Enabled {
		return domain.ErrConditionDisabled
	}
	if !c.eventIDs.Contains(eventID) {
		return domain.ErrEventIDUnknown
	}
	if c.Confirmed {
		return domain.ErrInvalidState
	}
	c.Confirmed = true
	if comment != nil {
		c.Comment = comment
	}
	if c.pendingInactive {
		c.Active = false
		c.pendingInactive = false
	}
	c.recomputeRetain()
	c.emit(EventConfirmedStateChanged)
	return nil
}

// AddComment implements the AddComment() method call, valid against any
// EventId still in the recall window regardless of Acked/Confirmed state.
func (c *Condition) AddComment(eventID []byte, comment *ua.LocalizedText) error {
	if !c.Enabled {
		return domain.ErrConditionDisabled
	}
	if !c.eventIDs.Contains(eventID) {
		return domain.ErrEventIDUnknown
	}
	c.Comment = comment
	c.emit(EventCommentAdded)
	return nil
}

// SetQuality updates the Quality condition variable.
func (c *Condition) SetQuality(q ua.StatusCode) {
	if c.Quality == q {
		return
	}
	c.Quality = q
	c.emit(EventQualityChanged)
}

// SetSeverity updates Severity, moving the previous value into
// LastSeverity.
func (c *Condition) SetSeverity(severity uint16) {
	if c.Severity == severity {
		return
	}
	c.LastSeverity = c.Severity
	c.Severity = severity
	c.emit(EventSeverityChanged)
}

// Snapshot returns the timestamped variable set an AlarmConditionType
// event instance carries, for projection into an event's select clauses.
type Snapshot struct {
	EnabledState   bool
	ActiveState    bool
	AckedState     bool
	ConfirmedState bool
	Retain         bool
	Quality        ua.StatusCode
	Severity       uint16
	LastSeverity   uint16
	Comment        *ua.LocalizedText
	ClientUserID   string
	Time           time.Time
}

func (c *Condition) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		EnabledState:   c.Enabled,
		ActiveState:    c.Active,
		AckedState:     c.Acked,
		ConfirmedState: c.Confirmed,
		Retain:         c.Retain,
		Quality:        c.Quality,
		Severity:       c.Severity,
		LastSeverity:   c.LastSeverity,
		Comment:        c.Comment,
		ClientUserID:   c.ClientUserID,
		Time:           now,
	}
}
