// Package client implements the client-side Session/Subscription state
// machine: the request scheduler that replaces a raw application-context
// pointer with an explicit handle table, and the
// ClientSubscriptionStateMachine that drives ActivateSession through
// publish-token management.
package client

import (
	"sync"
	"time"
)

// RequestHandle is the 32-bit correlation id handed to the transport layer
// in place of a raw "uintptr_t application context": Go code has no
// business smuggling pointers through a wire protocol, so outstanding requests live
// in a slab indexed by this handle instead.
type RequestHandle uint32

// Callback is invoked exactly once when a scheduled request completes,
// is cancelled, or times out.
type Callback func(result interface{}, err error)

type requestSlot struct {
	inUse    bool
	scope    string
	kind     string
	issuedAt time.Time
	callback Callback
	gen      uint32
}

// RequestScheduler is a slab-plus-free-list table of outstanding client
// requests, keyed by a handle that embeds a generation counter so a stale
// handle from a reused slot is rejected rather than silently completing
// the wrong request.
type RequestScheduler struct {
	mu    sync.Mutex
	slab  []requestSlot
	free  []uint32
	nextGen uint32
}

// NewRequestScheduler creates an empty scheduler.
func NewRequestScheduler() *RequestScheduler {
	return &RequestScheduler{}
}

// Schedule allocates a slot for an in-flight request and returns its
// handle. scope and kind are free-form labels (e.g. "session", "publish")
// used for logging and metrics, not dispatch.
func (s *RequestScheduler) Schedule(scope, kind string, cb Callback) RequestHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextGen++
	gen := s.nextGen

	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		s.slab[idx] = requestSlot{inUse: true, scope: scope, kind: kind, issuedAt: time.Now(), callback: cb, gen: gen}
		return encodeHandle(idx, gen)
	}

	idx := uint32(len(s.slab))
	s.slab = append(s.slab, requestSlot{inUse: true, scope: scope, kind: kind, issuedAt: time.Now(), callback: cb, gen: gen})
	return encodeHandle(idx, gen)
}

// Complete invokes and releases the slot for handle, if it is still live.
// Returns false if the handle is stale (already completed or cancelled).
func (s *RequestScheduler) Complete(h RequestHandle, result interface{}, err error) bool {
	cb, ok := s.release(h)
	if !ok {
		return false
	}
	if cb != nil {
		cb(result, err)
	}
	return true
}

// Cancel releases the slot for handle without invoking its callback result
// path; it still calls back with the supplied error so the waiter unblocks.
func (s *RequestScheduler) Cancel(h RequestHandle, err error) bool {
	return s.Complete(h, nil, err)
}

// ExpireOlderThan completes, with err, every outstanding request issued
// before the cutoff. Returns the handles that were expired, for logging.
func (s *RequestScheduler) ExpireOlderThan(cutoff time.Time, err error) []RequestHandle {
	s.mu.Lock()
	var expired []uint32
	var gens []uint32
	for idx := range s.slab {
		slot := &s.slab[idx]
		if slot.inUse && slot.issuedAt.Before(cutoff) {
			expired = append(expired, uint32(idx))
			gens = append(gens, slot.gen)
		}
	}
	callbacks := make([]Callback, 0, len(expired))
	handles := make([]RequestHandle, 0, len(expired))
	for i, idx := range expired {
		callbacks = append(callbacks, s.slab[idx].callback)
		handles = append(handles, encodeHandle(idx, gens[i]))
		s.slab[idx] = requestSlot{}
		s.free = append(s.free, idx)
	}
	s.mu.Unlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(nil, err)
		}
	}
	return handles
}

// Len reports the number of outstanding requests, for metrics.
func (s *RequestScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slab) - len(s.free)
}

func (s *RequestScheduler) release(h RequestHandle) (Callback, bool) {
	idx, gen := decodeHandle(h)
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(idx) >= len(s.slab) {
		return nil, false
	}
	slot := &s.slab[idx]
	if !slot.inUse || slot.gen != gen {
		return nil, false
	}
	cb := slot.callback
	*slot = requestSlot{}
	s.free = append(s.free, idx)
	return cb, true
}

// encodeHandle/decodeHandle pack a slab index and generation into one
// uint32 handle: low 20 bits index (up to ~1M in-flight slots), high 12
// bits generation, wrapping silently. The generation counter is shared by
// all slots, so a stale handle matches a reused slot again only after 4096
// Schedule calls in total between the handle being read and used, not a
// realistic race for a client with a bounded publish-token pool.
const handleIndexBits = 20

func encodeHandle(idx, gen uint32) RequestHandle {
	return RequestHandle((gen<<handleIndexBits)&0xFFFFFFFF | (idx & (1<<handleIndexBits - 1)))
}

func decodeHandle(h RequestHandle) (idx, gen uint32) {
	v := uint32(h)
	return v & (1<<handleIndexBits - 1), v >> handleIndexBits
}
