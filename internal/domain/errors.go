// Package domain contains the core types and contracts of the subscription
// engine. These are protocol-agnostic glue around the OPC UA wire types in
// github.com/gopcua/opcua/ua: ids, sentinel errors, session/limits structs.
package domain

import (
	"errors"

	"github.com/gopcua/opcua/ua"
)

// Sentinel errors for the fault conditions the engine and client state
// machine must distinguish. Each has a fixed StatusCode mapping via
// StatusCodeFor; the engine's service methods also write ua.StatusCode
// values directly into their results.
var (
	ErrSubscriptionIDInvalid    = errors.New("subscription id invalid")
	ErrMonitoredItemIDInvalid   = errors.New("monitored item id invalid")
	ErrTooManySubscriptions     = errors.New("per-server subscription cap reached")
	ErrTooManyPublishRequests   = errors.New("per-subscription publish request cap reached")
	ErrMessageNotAvailable      = errors.New("republish sequence number no longer retained")
	ErrSessionIDInvalid         = errors.New("session id invalid")
	ErrNoSubscription           = errors.New("subscription no longer exists")
	ErrPublishTimeout           = errors.New("publish request deadline expired")
	ErrFilterNotAllowed         = errors.New("filter not allowed for this attribute")
	ErrMonitoredItemFilterInvalid = errors.New("monitored item filter invalid")
	ErrOutOfMemory              = errors.New("allocation failure during notification message build")
	ErrEventIDUnknown           = errors.New("event id not in the recallable window")
	ErrConditionDisabled        = errors.New("condition is disabled")
	ErrInvalidState             = errors.New("transition forbidden by subscription state machine")
	ErrNotImplemented           = errors.New("operation not implemented")
)

// StatusCodeFor maps a sentinel error to the OPC UA status code that must
// appear in a ServiceResult or Results entry at the service boundary. Errors
// not recognised here map to ua.StatusBad, a generic failure.
func StatusCodeFor(err error) ua.StatusCode {
	switch {
	case errors.Is(err, ErrSubscriptionIDInvalid):
		return ua.StatusBadSubscriptionIDInvalid
	case errors.Is(err, ErrMonitoredItemIDInvalid):
		return ua.StatusBadMonitoredItemIDInvalid
	case errors.Is(err, ErrTooManySubscriptions):
		return ua.StatusBadTooManySubscriptions
	case errors.Is(err, ErrTooManyPublishRequests):
		return ua.StatusBadTooManyPublishRequests
	case errors.Is(err, ErrMessageNotAvailable):
		return ua.StatusBadMessageNotAvailable
	case errors.Is(err, ErrSessionIDInvalid):
		return ua.StatusBadSessionIDInvalid
	case errors.Is(err, ErrNoSubscription):
		return ua.StatusBadNoSubscription
	case errors.Is(err, ErrPublishTimeout):
		return ua.StatusBadTimeout
	case errors.Is(err, ErrFilterNotAllowed):
		return ua.StatusBadFilterNotAllowed
	case errors.Is(err, ErrMonitoredItemFilterInvalid):
		return ua.StatusBadMonitoredItemFilterInvalid
	case errors.Is(err, ErrOutOfMemory):
		return ua.StatusBadOutOfMemory
	case errors.Is(err, ErrEventIDUnknown):
		return ua.StatusBadEventIDUnknown
	case errors.Is(err, ErrConditionDisabled):
		return ua.StatusBadConditionDisabled
	case errors.Is(err, ErrInvalidState):
		return ua.StatusBadInvalidState
	case errors.Is(err, ErrNotImplemented):
		return ua.StatusBadNotImplemented
	default:
		return ua.StatusBad
	}
}
