package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_BurstThenDenied(t *testing.T) {
	l := New(5, time.Minute)

	for i := range 5 {
		if err := l.Allow("local"); err != nil {
			t.Errorf("request %d denied: %v", i, err)
		}
	}
	if err := l.Allow("local"); err == nil {
		t.Error("expected the 6th request to be rate limited")
	}
}

func TestLimiter_PerKeyIsolation(t *testing.T) {
	l := New(2, time.Minute)

	for i := range 2 {
		if err := l.Allow("peerA"); err != nil {
			t.Errorf("peerA request %d denied: %v", i, err)
		}
	}
	if err := l.Allow("peerA"); err == nil {
		t.Error("expected peerA to be rate limited")
	}

	for i := range 2 {
		if err := l.Allow("peerB"); err != nil {
			t.Errorf("peerB request %d denied: %v", i, err)
		}
	}
}

func TestLimiter_DefaultsAppliedOnInvalidInput(t *testing.T) {
	l := New(0, 0)
	if l.perWindow != DefaultPerWindow || l.window != DefaultWindow {
		t.Errorf("got perWindow=%d window=%v", l.perWindow, l.window)
	}
}

func TestLimiter_CleanupStale(t *testing.T) {
	l := New(10, time.Minute)
	if err := l.Allow("peer1"); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := l.Allow("peer2"); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	removed := l.CleanupStale(10 * time.Millisecond)
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Key: "local"}
	if err.Error() != "rate limit exceeded for local" {
		t.Errorf("got %q", err.Error())
	}
}
