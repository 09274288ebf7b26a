package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMailbox_OverwritesPendingEvent(t *testing.T) {
	t.Parallel()

	m := NewMailbox()
	if m.Post(EventSpeechStarted) {
		t.Error("first Post reported an overwrite")
	}
	if !m.Post(EventSpeechEnded) {
		t.Error("second Post did not report an overwrite")
	}
	if got := m.Overwrites(); got != 1 {
		t.Errorf("Overwrites = %d, want 1", got)
	}

	select {
	case ev := <-m.C():
		if ev != EventSpeechEnded {
			t.Errorf("received %v, want the latest event speech_ended", ev)
		}
	default:
		t.Fatal("mailbox is empty")
	}
	select {
	case ev := <-m.C():
		t.Errorf("mailbox held a second event %v", ev)
	default:
	}
}

func TestMailbox_ConcurrentPostersNeverBlock(t *testing.T) {
	t.Parallel()

	m := NewMailbox()
	done := make(chan struct{})
	for range 4 {
		go func() {
			for range 1000 {
				m.Post(EventWakeDetected)
			}
			done <- struct{}{}
		}()
	}
	for range 4 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Post blocked")
		}
	}
	if got := len(m.C()); got != 1 {
		t.Errorf("pending events = %d, want 1", got)
	}
}

func TestSignal_LevelTriggered(t *testing.T) {
	t.Parallel()

	s := NewSignal()
	if !s.Raise() {
		t.Error("first Raise returned false")
	}
	if s.Raise() {
		t.Error("second Raise returned true, want a single pending instance")
	}

	ctx := context.Background()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait on a cleared signal = %v, want deadline exceeded", err)
	}
}
