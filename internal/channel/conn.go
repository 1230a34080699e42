package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lostlink/internal/bus"
	"lostlink/internal/status"
)

// Options configures one logical channel connection.
type Options struct {
	Name        string        // logical channel name: "chat" or "notify"
	URL         string        // full websocket URL
	AuthEvent   string        // event carrying the identity claim (register_user / authenticate)
	MaxAttempts int           // reconnect attempt cap
	RetryDelay  time.Duration // fixed inter-attempt delay
}

type handlerEntry struct {
	id string
	fn Handler
}

// Conn owns one websocket connection and its listener registry. It drives
// the connection state machine, re-sends the identity claim after every
// reconnect and retries dropped connections with bounded linear backoff.
type Conn struct {
	opts    Options
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	dialer  *websocket.Dialer

	mu       sync.Mutex
	ws       *websocket.Conn
	handlers map[string][]handlerEntry
	identity string
	attempts int
	gen      int // bumped on every new connection and on Disconnect; stales old read loops and pending retries

	writeMu sync.Mutex
}

// New creates a channel connection. Nothing is dialed until Connect.
func New(opts Options, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		opts:     opts,
		bus:      b,
		machine:  machine,
		logger:   logger,
		dialer:   websocket.DefaultDialer,
		handlers: make(map[string][]handlerEntry),
	}
}

// State returns the current connection state.
func (c *Conn) State() status.State {
	return c.machine.Current()
}

// Connect establishes the connection. Calling it while already connected,
// connecting or mid-retry is a no-op. A dial failure schedules a bounded
// retry and returns the dial error; callers observe the outcome through
// channel.* bus events and the state machine.
func (c *Conn) Connect(ctx context.Context) error {
	switch c.machine.Current() {
	case status.Connected, status.Connecting, status.Reconnecting:
		return nil
	}
	_ = c.machine.Transition(status.Connecting)
	return c.dial(ctx)
}

func (c *Conn) dial(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		c.logger.Warn("channel dial failed",
			zap.String("channel", c.opts.Name), zap.Error(err))
		c.bus.Emit("channel.error", Error{Message: err.Error()})
		c.scheduleRetry()
		return fmt.Errorf("dial %s channel: %w", c.opts.Name, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.attempts = 0
	c.gen++
	gen := c.gen
	identity := c.identity
	c.mu.Unlock()

	_ = c.machine.Transition(status.Connected)
	c.bus.Emit("channel.connected", c.opts.Name)
	c.logger.Info("channel connected", zap.String("channel", c.opts.Name))

	// The identity claim does not survive a reconnect on the server side.
	if identity != "" {
		_ = c.Emit(c.opts.AuthEvent, AuthPayload{UserID: identity})
	}

	go c.readLoop(ws, gen)
	return nil
}

// Authenticate transmits the identity claim and remembers it so it is
// re-sent automatically after every reconnect. Resets the retry counter.
func (c *Conn) Authenticate(userID string) {
	c.mu.Lock()
	c.identity = userID
	c.attempts = 0
	c.mu.Unlock()

	if c.machine.Current() == status.Connected {
		_ = c.Emit(c.opts.AuthEvent, AuthPayload{UserID: userID})
	}
}

// Disconnect closes the connection, clears all registered listeners and
// cancels any pending retry. Safe to call in any state.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.gen++
	c.attempts = 0
	c.handlers = make(map[string][]handlerEntry)
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	if c.machine.Current() != status.Disconnected {
		_ = c.machine.Transition(status.Disconnected)
	}
	c.bus.Emit("channel.disconnected", c.opts.Name)
	c.logger.Info("channel disconnected", zap.String("channel", c.opts.Name))
}

// On registers a handler for an event. id identifies the registration;
// registering the same (event, id) again replaces the previous handler,
// so repeated registration collapses to one. An empty id gets a generated
// one. Returns the effective id for use with Off.
func (c *Conn) On(event, id string, fn Handler) string {
	if id == "" {
		id = uuid.NewString()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.handlers[event]
	for i, e := range entries {
		if e.id == id {
			entries[i].fn = fn
			return id
		}
	}
	c.handlers[event] = append(entries, handlerEntry{id: id, fn: fn})
	return id
}

// Off removes a handler registration. Unknown ids are a no-op.
func (c *Conn) Off(event, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.handlers[event]
	for i, e := range entries {
		if e.id == id {
			c.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Emit marshals and writes an event envelope. Transport failures are
// logged and published as channel errors; the returned error is a typed
// channel Error, never a panic path for domain callers.
func (c *Conn) Emit(event string, payload any) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		data = b
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		c.logger.Warn("emit while disconnected",
			zap.String("channel", c.opts.Name), zap.String("event", event))
		return Error{Message: "channel not connected"}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		c.logger.Warn("channel write failed",
			zap.String("channel", c.opts.Name), zap.String("event", event), zap.Error(err))
		c.bus.Emit("channel.error", Error{Message: err.Error()})
		return Error{Message: err.Error()}
	}
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn, gen int) {
	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			c.handleReadError(gen, err)
			return
		}
		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env Envelope) {
	if env.Event == EventError {
		var e Error
		_ = json.Unmarshal(env.Data, &e)
		c.logger.Warn("channel server error",
			zap.String("channel", c.opts.Name), zap.String("message", e.Message))
		c.bus.Emit("channel.error", e)
	}

	c.mu.Lock()
	entries := slices.Clone(c.handlers[env.Event])
	c.mu.Unlock()
	for _, h := range entries {
		h.fn(env.Data)
	}
}

func (c *Conn) handleReadError(gen int, err error) {
	c.mu.Lock()
	stale := gen != c.gen
	if !stale {
		c.ws = nil
	}
	c.mu.Unlock()
	if stale {
		// Explicit disconnect or a superseded connection; not an error.
		return
	}

	c.logger.Warn("channel connection lost",
		zap.String("channel", c.opts.Name), zap.Error(err))
	c.bus.Emit("channel.error", Error{Message: err.Error()})
	c.scheduleRetry()
}

func (c *Conn) scheduleRetry() {
	c.mu.Lock()
	c.attempts++
	n := c.attempts
	gen := c.gen
	c.mu.Unlock()

	if n > c.opts.MaxAttempts {
		_ = c.machine.Transition(status.Failed)
		c.bus.Emit("channel.reconnect_failed", c.opts.Name)
		c.logger.Error("channel reconnect attempts exhausted",
			zap.String("channel", c.opts.Name), zap.Int("attempts", n-1))
		return
	}

	_ = c.machine.Transition(status.Reconnecting)
	c.logger.Info("channel retry scheduled",
		zap.String("channel", c.opts.Name), zap.Int("attempt", n),
		zap.Duration("delay", c.opts.RetryDelay))

	time.AfterFunc(c.opts.RetryDelay, func() {
		c.mu.Lock()
		cancelled := gen != c.gen
		c.mu.Unlock()
		if cancelled || c.machine.Current() != status.Reconnecting {
			return
		}
		_ = c.machine.Transition(status.Connecting)
		_ = c.dial(context.Background())
	})
}
