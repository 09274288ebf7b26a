package pipeline

import (
	"time"

	"github.com/MrWong99/boxvoice/pkg/provider/frontend"
)

// GateEvent is a lifecycle notification emitted by the gate.
type GateEvent int

const (
	// EventWakeDetected reports a tentative wake word. Informational.
	EventWakeDetected GateEvent = iota + 1

	// EventSpeechStarted reports confirmed speech after a verified wake word.
	// Recording starts.
	EventSpeechStarted

	// EventSpeechEnded reports that silence lasted a full silence window, or
	// that the recording buffer filled up. Recording stops.
	EventSpeechEnded

	// EventWakeTimeout reports that no speech followed a verified wake word.
	// Informational.
	EventWakeTimeout
)

// String returns a snake_case name for e, used as a metric attribute.
func (e GateEvent) String() string {
	switch e {
	case EventWakeDetected:
		return "wake_detected"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechEnded:
		return "speech_ended"
	case EventWakeTimeout:
		return "wake_timeout"
	default:
		return "unknown"
	}
}

// GateState is the position of the gate state machine.
type GateState int

const (
	// GateIdle waits for the wake word.
	GateIdle GateState = iota

	// GateChannelVerifying has disabled wake detection and waits for speech.
	GateChannelVerifying

	// GateRecording follows confirmed speech.
	GateRecording

	// GateConfirmingSilence saw silence while recording and waits for the
	// silence window to elapse.
	GateConfirmingSilence
)

// String returns a lower-case name for s.
func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "idle"
	case GateChannelVerifying:
		return "channel_verifying"
	case GateRecording:
		return "recording"
	case GateConfirmingSilence:
		return "confirming_silence"
	default:
		return "unknown"
	}
}

// Transition is the outcome of one [Gate.Step].
type Transition struct {
	// Events are the lifecycle events to post, in order.
	Events []GateEvent

	// DisableWake asks the caller to switch wake-word detection off before
	// posting Events.
	DisableWake bool

	// EnableWake asks the caller to switch wake-word detection back on after
	// posting Events.
	EnableWake bool
}

// GateConfig tunes a [Gate].
type GateConfig struct {
	// SilenceWindow is how long silence must last to end an utterance.
	SilenceWindow time.Duration

	// WakeTimeout bounds ChannelVerifying. Zero disables the timeout.
	WakeTimeout time.Duration

	// PollDuration is the audio length covered by one detection result
	// (fetch chunk size over sample rate).
	PollDuration time.Duration
}

// Gate is the wake-word and voice-activity state machine. It is pure: Step
// maps one detection result and the current time to a transition, leaving all
// I/O to the caller. A Gate is driven by a single goroutine.
type Gate struct {
	cfg GateConfig

	state   GateState
	entered time.Time // when ChannelVerifying or ConfirmingSilence began
	polls   int       // silent results seen in ConfirmingSilence
}

// NewGate returns a gate in the Idle state.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg}
}

// State returns the current state.
func (g *Gate) State() GateState { return g.state }

// Step advances the machine by one detection result observed at now.
//
// The wake flag is evaluated before the VAD flag of the same result, so a
// verified wake word and speech in one result start recording at once. Speech
// during ConfirmingSilence returns to Recording without a second
// EventSpeechStarted. Silence is confirmed once either the wall-clock time or
// the audio time (polls × PollDuration) since the first silent result reaches
// SilenceWindow.
func (g *Gate) Step(res frontend.Result, now time.Time) Transition {
	var t Transition

	if g.state == GateIdle {
		switch res.Wake {
		case frontend.WakeDetected:
			t.Events = append(t.Events, EventWakeDetected)
		case frontend.WakeChannelVerified:
			t.DisableWake = true
			g.enter(GateChannelVerifying, now)
		}
	}

	switch g.state {
	case GateChannelVerifying:
		if res.VAD == frontend.VADSpeech {
			g.state = GateRecording
			t.Events = append(t.Events, EventSpeechStarted)
			break
		}
		if g.cfg.WakeTimeout > 0 && now.Sub(g.entered) >= g.cfg.WakeTimeout {
			g.state = GateIdle
			t.Events = append(t.Events, EventWakeTimeout)
			t.EnableWake = true
		}

	case GateRecording:
		if res.VAD == frontend.VADSilence {
			g.enter(GateConfirmingSilence, now)
		}

	case GateConfirmingSilence:
		if res.VAD == frontend.VADSpeech {
			g.state = GateRecording
			break
		}
		g.polls++
		audioTime := time.Duration(g.polls) * g.cfg.PollDuration
		if now.Sub(g.entered) >= g.cfg.SilenceWindow || (g.cfg.PollDuration > 0 && audioTime >= g.cfg.SilenceWindow) {
			g.state = GateIdle
			t.Events = append(t.Events, EventSpeechEnded)
			t.EnableWake = true
		}
	}
	return t
}

// Reset returns the gate to Idle. It reports whether the gate had left Idle,
// in which case wake-word detection may still be switched off.
func (g *Gate) Reset() (wasActive bool) {
	wasActive = g.state != GateIdle
	*g = Gate{cfg: g.cfg}
	return wasActive
}

func (g *Gate) enter(s GateState, now time.Time) {
	g.state = s
	g.entered = now
	g.polls = 0
}
