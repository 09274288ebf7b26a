package pipeline

import (
	"context"
	"sync/atomic"
)

// Mailbox is the single-slot hand-over of gate events to the record
// coordinator. Posting to a full mailbox replaces the pending event: the gate
// tolerates missed transitions because the next one dominates the state.
type Mailbox struct {
	ch         chan GateEvent
	overwrites atomic.Int64
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan GateEvent, 1)}
}

// Post stores ev, replacing any event not yet received. It never blocks and
// reports whether an event was overwritten.
func (m *Mailbox) Post(ev GateEvent) (overwrote bool) {
	for {
		select {
		case m.ch <- ev:
			return overwrote
		default:
		}
		select {
		case <-m.ch:
			overwrote = true
			m.overwrites.Add(1)
		default:
		}
	}
}

// Clear drops an undelivered event.
func (m *Mailbox) Clear() {
	select {
	case <-m.ch:
	default:
	}
}

// C returns the receive side of the mailbox.
func (m *Mailbox) C() <-chan GateEvent { return m.ch }

// Overwrites returns how many events were replaced before delivery.
func (m *Mailbox) Overwrites() int64 { return m.overwrites.Load() }

// Signal is a level-triggered event with at most one pending instance.
// Raising an already raised signal has no effect.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns a lowered signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Raise sets the signal. It reports false when it was already set.
func (s *Signal) Raise() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal is set, then clears it.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ch:
		return nil
	}
}
