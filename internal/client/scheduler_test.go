package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestSchedulerCompleteInvokesCallbackOnce(t *testing.T) {
	s := NewRequestScheduler()
	var got interface{}
	var gotErr error
	h := s.Schedule("session", "activate", func(result interface{}, err error) {
		got = result
		gotErr = err
	})

	ok := s.Complete(h, "payload", nil)
	assert.True(t, ok)
	assert.Equal(t, "payload", got)
	assert.NoError(t, gotErr)

	ok = s.Complete(h, "again", nil)
	assert.False(t, ok, "completing an already-released handle must fail")
}

func TestRequestSchedulerCancelInvokesWithError(t *testing.T) {
	s := NewRequestScheduler()
	var gotErr error
	h := s.Schedule("publish", "publish", func(_ interface{}, err error) {
		gotErr = err
	})

	wantErr := errors.New("cancelled")
	ok := s.Cancel(h, wantErr)

	assert.True(t, ok)
	assert.Equal(t, wantErr, gotErr)
}

func TestRequestSchedulerStaleHandleAfterSlotReuseIsRejected(t *testing.T) {
	s := NewRequestScheduler()
	h1 := s.Schedule("session", "activate", func(interface{}, error) {})
	s.Complete(h1, nil, nil)

	var secondGot interface{}
	h2 := s.Schedule("session", "activate", func(result interface{}, err error) {
		secondGot = result
	})

	// h1's slot was almost certainly reused for h2; completing the stale
	// h1 handle must never resolve h2's callback.
	ok := s.Complete(h1, "wrong-payload", nil)
	assert.False(t, ok, "a released, reused slot's generation must invalidate the old handle")
	assert.Nil(t, secondGot)

	ok = s.Complete(h2, "correct-payload", nil)
	assert.True(t, ok)
	assert.Equal(t, "correct-payload", secondGot)
}

func TestRequestSchedulerExpireOlderThanCompletesWithError(t *testing.T) {
	s := NewRequestScheduler()
	var gotErr error
	h := s.Schedule("publish", "publish", func(_ interface{}, err error) {
		gotErr = err
	})

	wantErr := errors.New("timed out")
	expired := s.ExpireOlderThan(time.Now().Add(time.Hour), wantErr)

	assert.Equal(t, []RequestHandle{h}, expired)
	assert.Equal(t, wantErr, gotErr)
	assert.Equal(t, 0, s.Len())
}

func TestRequestSchedulerExpireOlderThanLeavesFreshRequests(t *testing.T) {
	s := NewRequestScheduler()
	s.Schedule("publish", "publish", func(interface{}, error) {})

	expired := s.ExpireOlderThan(time.Now().Add(-time.Hour), errors.New("timed out"))

	assert.Empty(t, expired)
	assert.Equal(t, 1, s.Len())
}

func TestRequestSchedulerLenTracksOutstandingOnly(t *testing.T) {
	s := NewRequestScheduler()
	h1 := s.Schedule("a", "a", func(interface{}, error) {})
	s.Schedule("b", "b", func(interface{}, error) {})
	assert.Equal(t, 2, s.Len())

	s.Complete(h1, nil, nil)
	assert.Equal(t, 1, s.Len())
}
