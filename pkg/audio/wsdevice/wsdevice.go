// Package wsdevice exposes a remote microphone and speaker over a single
// WebSocket connection. The device (or a simulator) connects to the handler,
// streams mono PCM16LE microphone audio as binary messages and receives the
// assistant's speech as binary messages in return.
//
// Only one device may be attached at a time. While no device is attached
// Read blocks and Write fails with [audio.ErrNotConnected].
package wsdevice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/boxvoice/pkg/audio"
)

const defaultInboxDepth = 64

// ErrBusy is returned to a second device trying to attach.
var ErrBusy = errors.New("wsdevice: a device is already connected")

var (
	_ audio.Source = (*Device)(nil)
	_ audio.Sink   = (*Device)(nil)
	_ http.Handler = (*Device)(nil)
)

// Option is a functional option for configuring a Device.
type Option func(*Device)

// WithFormat sets the microphone format the remote side streams in.
// Defaults to [audio.Mono16k].
func WithFormat(f audio.Format) Option {
	return func(d *Device) {
		d.format = f
	}
}

// WithInboxDepth sets how many microphone messages are buffered before the
// oldest are dropped.
func WithInboxDepth(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.inboxDepth = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		d.log = l
	}
}

// WithAcceptOptions forwards options to websocket.Accept (e.g. origin
// patterns).
func WithAcceptOptions(o *websocket.AcceptOptions) Option {
	return func(d *Device) {
		d.acceptOpts = o
	}
}

// WithOnConnect registers fn to be called with true when a device attaches
// and false when it detaches.
func WithOnConnect(fn func(connected bool)) Option {
	return func(d *Device) {
		d.onConnect = fn
	}
}

// Device is an [audio.Source] and [audio.Sink] backed by whichever WebSocket
// client is currently attached. It is safe for concurrent use by one reader
// and one writer.
type Device struct {
	format     audio.Format
	inboxDepth int
	acceptOpts *websocket.AcceptOptions
	log        *slog.Logger
	onConnect  func(bool)

	mu   sync.Mutex
	conn *websocket.Conn

	inbox   chan []byte
	pending []byte

	dropped atomic.Int64
}

// New creates a Device with no client attached.
func New(opts ...Option) *Device {
	d := &Device{
		format:     audio.Mono16k,
		inboxDepth: defaultInboxDepth,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	d.inbox = make(chan []byte, d.inboxDepth)
	return d
}

// Format implements audio.Source.
func (d *Device) Format() audio.Format { return d.format }

// Connected reports whether a device is attached.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// Check is a readiness probe that fails while no device is attached.
func (d *Device) Check(context.Context) error {
	if !d.Connected() {
		return audio.ErrNotConnected
	}
	return nil
}

// Dropped returns how many microphone messages were discarded because the
// reader fell behind.
func (d *Device) Dropped() int64 { return d.dropped.Load() }

// ServeHTTP upgrades the request and attaches the client until it
// disconnects or the request context ends.
func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if d.Connected() {
		http.Error(w, ErrBusy.Error(), http.StatusConflict)
		return
	}
	conn, err := websocket.Accept(w, r, d.acceptOpts)
	if err != nil {
		d.log.Warn("wsdevice: accept failed", "err", err)
		return
	}

	d.mu.Lock()
	if d.conn != nil {
		d.mu.Unlock()
		conn.Close(websocket.StatusTryAgainLater, ErrBusy.Error())
		return
	}
	d.conn = conn
	d.mu.Unlock()

	d.log.Info("wsdevice: device connected", "remote", r.RemoteAddr, "format", d.format.String())
	if d.onConnect != nil {
		d.onConnect(true)
	}
	err = d.readLoop(r.Context(), conn)

	d.mu.Lock()
	if d.conn == conn {
		d.conn = nil
	}
	d.mu.Unlock()
	conn.CloseNow()
	if d.onConnect != nil {
		d.onConnect(false)
	}

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		d.log.Info("wsdevice: device disconnected", "remote", r.RemoteAddr)
	} else {
		d.log.Warn("wsdevice: device connection lost", "remote", r.RemoteAddr, "err", err)
	}
}

// readLoop forwards binary messages to the inbox. When the inbox is full the
// oldest message is discarded so the microphone never stalls the socket.
func (d *Device) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageBinary || len(data) == 0 {
			continue
		}
		for {
			select {
			case d.inbox <- data:
			default:
				select {
				case <-d.inbox:
					d.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// Read implements audio.Source. It fills p completely, joining or splitting
// incoming messages as needed, and blocks while no device is attached.
func (d *Device) Read(ctx context.Context, p []byte) error {
	n := 0
	for n < len(p) {
		if len(d.pending) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case data := <-d.inbox:
				d.pending = data
			}
		}
		c := copy(p[n:], d.pending)
		d.pending = d.pending[c:]
		n += c
	}
	return nil
}

// Write implements audio.Sink by sending p as one binary message.
func (d *Device) Write(ctx context.Context, p []byte) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return audio.ErrNotConnected
	}
	return conn.Write(ctx, websocket.MessageBinary, p)
}
