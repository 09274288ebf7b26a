// Package mock provides a scripted test double for [frontend.FrontEnd].
//
// Each Fetch call consumes one frame previously passed to Feed (unless
// Unpaced is set) and returns the next entry of Script, so a test can
// describe a conversation as a sequence of per-frame detection results.
//
// Example:
//
//	fe := &mock.FrontEnd{Script: []frontend.Result{
//	    {Wake: frontend.WakeDetected},
//	    {Wake: frontend.WakeChannelVerified},
//	    {VAD: frontend.VADSpeech},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/boxvoice/pkg/provider/frontend"
)

var _ frontend.FrontEnd = (*FrontEnd)(nil)

// FrontEnd is a mock implementation of frontend.FrontEnd.
type FrontEnd struct {
	mu sync.Mutex

	// Script holds the result returned by the n-th Fetch call.
	Script []frontend.Result

	// Default is returned once Script is exhausted.
	Default frontend.Result

	// FetchErrors, when non-nil, maps a 0-based Fetch call index to an error
	// returned instead of a result. The scripted result is not consumed.
	FetchErrors map[int]error

	// FeedErr is returned by every Feed call.
	FeedErr error

	// Unpaced makes Fetch return immediately instead of waiting for a Feed.
	Unpaced bool

	// SampleRateResult, FeedChunk, FetchChunk and Channels configure the
	// negotiated sizes. Zero values default to 16000, 512, 512 and 2.
	SampleRateResult int
	FeedChunk        int
	FetchChunk       int
	Channels         int

	// FeedCalls, FetchCalls, EnableCalls and DisableCalls count method calls.
	FeedCalls    int
	FetchCalls   int
	EnableCalls  int
	DisableCalls int

	// FedBytes is the total number of bytes passed to Feed.
	FedBytes int

	// LastFrameLen is the byte length of the most recent fed frame.
	LastFrameLen int

	// WakeDisabled reports the current wake-word switch position.
	WakeDisabled bool

	step int
	fed  chan struct{}
}

func (f *FrontEnd) tokens() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fed == nil {
		f.fed = make(chan struct{}, 1<<14)
	}
	return f.fed
}

// SampleRate implements frontend.FrontEnd.
func (f *FrontEnd) SampleRate() int {
	if f.SampleRateResult == 0 {
		return 16000
	}
	return f.SampleRateResult
}

// FeedChunkSize implements frontend.FrontEnd.
func (f *FrontEnd) FeedChunkSize() int {
	if f.FeedChunk == 0 {
		return 512
	}
	return f.FeedChunk
}

// FetchChunkSize implements frontend.FrontEnd.
func (f *FrontEnd) FetchChunkSize() int {
	if f.FetchChunk == 0 {
		return 512
	}
	return f.FetchChunk
}

// FeedChannels implements frontend.FrontEnd.
func (f *FrontEnd) FeedChannels() int {
	if f.Channels == 0 {
		return 2
	}
	return f.Channels
}

// Feed records the frame and releases one pending Fetch.
func (f *FrontEnd) Feed(frame []byte) error {
	fed := f.tokens()
	f.mu.Lock()
	f.FeedCalls++
	f.FedBytes += len(frame)
	f.LastFrameLen = len(frame)
	err := f.FeedErr
	f.mu.Unlock()
	select {
	case fed <- struct{}{}:
	default:
	}
	return err
}

// Fetch returns the next scripted result.
func (f *FrontEnd) Fetch(ctx context.Context) (frontend.Result, error) {
	if !f.Unpaced {
		fed := f.tokens()
		select {
		case <-ctx.Done():
			return frontend.Result{}, ctx.Err()
		case <-fed:
		}
	} else if err := ctx.Err(); err != nil {
		return frontend.Result{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.FetchCalls
	f.FetchCalls++
	if err := f.FetchErrors[call]; err != nil {
		return frontend.Result{}, err
	}
	if f.step < len(f.Script) {
		r := f.Script[f.step]
		f.step++
		return r, nil
	}
	return f.Default, nil
}

// EnableWakeWord implements frontend.FrontEnd.
func (f *FrontEnd) EnableWakeWord() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EnableCalls++
	f.WakeDisabled = false
}

// DisableWakeWord implements frontend.FrontEnd.
func (f *FrontEnd) DisableWakeWord() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DisableCalls++
	f.WakeDisabled = true
}

// ScriptDone reports whether every scripted result has been fetched.
func (f *FrontEnd) ScriptDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step >= len(f.Script)
}

// Snapshot returns a copy of the call counters without the internal state.
func (f *FrontEnd) Snapshot() (feeds, fetches, enables, disables int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.FeedCalls, f.FetchCalls, f.EnableCalls, f.DisableCalls
}
