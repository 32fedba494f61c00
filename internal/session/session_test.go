package session

import (
	"fmt"
	"testing"
)

func TestSession_LifecycleTransitions(t *testing.T) {
	s := New("s1", "u1", "test", nil)

	if s.State() != StateConnecting {
		t.Fatalf("new session should be connecting, got %s", s.State())
	}
	if !s.Transition(StateOpen) {
		t.Error("connecting -> open should be allowed")
	}
	if s.Transition(StateConnecting) {
		t.Error("backward transition should be refused")
	}
	if !s.Transition(StateClosing) {
		t.Error("open -> closing should be allowed")
	}
	if !s.Transition(StateClosed) {
		t.Error("closing -> closed should be allowed")
	}
	if s.Transition(StateOpen) {
		t.Error("no transitions out of closed")
	}
}

func TestSession_TrySendDropsOldestWhenFull(t *testing.T) {
	s := New("s1", "u1", "test", nil)

	for i := 0; i < SendQueueSize; i++ {
		if !s.TrySend([]byte(fmt.Sprintf("frame-%d", i))) {
			t.Fatalf("enqueue %d should succeed", i)
		}
	}
	if s.gapped.Load() {
		t.Fatal("queue not yet overflowed, no gap expected")
	}

	// One past capacity: the oldest frame goes, the new one gets in.
	if !s.TrySend([]byte("frame-overflow")) {
		t.Fatal("overflow enqueue should still succeed")
	}
	if !s.gapped.Load() {
		t.Error("overflow should flag a gap")
	}
	if len(s.SendQueue) != SendQueueSize {
		t.Fatalf("queue should stay at capacity, got %d", len(s.SendQueue))
	}

	first := <-s.SendQueue
	if string(first) != "frame-1" {
		t.Errorf("oldest frame should have been dropped; head is %q", first)
	}

	var last []byte
	for len(s.SendQueue) > 0 {
		last = <-s.SendQueue
	}
	if string(last) != "frame-overflow" {
		t.Errorf("newest frame should be at the tail, got %q", last)
	}
}

func TestSession_TrySendAfterClose(t *testing.T) {
	s := New("s1", "u1", "test", nil)
	s.Close()

	if s.TrySend([]byte("late")) {
		t.Error("send to a closed session should fail")
	}
	if s.State() != StateClosing {
		t.Errorf("close should move the session to closing, got %s", s.State())
	}

	select {
	case <-s.Done():
	default:
		t.Error("done channel should be closed")
	}

	// Repeat close is a no-op.
	s.Close()
}
