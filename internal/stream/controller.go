// Package stream implements the streaming controller: the single-writer
// line-protocol session that feeds G-code to a GRBL/FluidNC board,
// relies on delayed "ok" responses for flow control, and keeps the
// connection alive across drops with an idle ping monitor.
package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the controller's connection/activity state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdle
	StateStreaming
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Dialer opens a fresh Transport, used by the controller to (re)connect.
type Dialer func() (Transport, error)

// Options configures streaming behavior.
type Options struct {
	// AlarmAbortsStream controls whether an "alarm" response during
	// StreamProgram halts the remaining lines (true) or is logged and
	// treated as a no-op continuation, matching GRBL's own tolerance
	// for transient alarms mid-job (false).
	AlarmAbortsStream bool
	PingInterval      time.Duration
	PingTimeout       time.Duration
	CommandTimeout    time.Duration
	StreamLineTimeout time.Duration
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		AlarmAbortsStream: true,
		PingInterval:      5 * time.Second,
		PingTimeout:       2 * time.Second,
		CommandTimeout:    2 * time.Second,
		StreamLineTimeout: 60 * time.Second,
		ReconnectMinDelay: 5 * time.Second,
		ReconnectMaxDelay: 120 * time.Second,
	}
}

// Controller owns a single Transport and serializes all writes to it
// behind mu. It is safe to call from multiple goroutines; only one
// command or stream is ever in flight at a time.
type Controller struct {
	dial Dialer
	opts Options
	log  *zap.SugaredLogger

	mu        sync.Mutex
	transport Transport
	state     atomic.Int32 // State

	engraving atomic.Bool // suspends the idle monitor while true
	stopMon   chan struct{}
}

// New constructs a Controller that dials connections via dial. It does
// not connect automatically; call Connect, then StartMonitor.
func New(dial Dialer, opts Options, log *zap.SugaredLogger) *Controller {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Controller{dial: dial, opts: opts, log: log}
	c.state.Store(int32(StateDisconnected))
	return c
}

func (c *Controller) State() State { return State(c.state.Load()) }

// Connect dials a fresh transport and sends the FluidNC settings-dump
// handshake, mirroring the boot sequence the board expects.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Controller) connectLocked(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))
	t, err := c.dial()
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("stream: connect: %w", err)
	}
	c.transport = t
	c.state.Store(int32(StateIdle))

	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
	}
	_, _ = c.sendCommandLocked("$$")
	c.log.Infow("controller connected")
	return nil
}

// Disconnect tears down the transport.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectLocked()
}

func (c *Controller) disconnectLocked() error {
	c.state.Store(int32(StateDisconnecting))
	var err error
	if c.transport != nil {
		err = c.transport.Close()
		c.transport = nil
	}
	c.state.Store(int32(StateDisconnected))
	return err
}

// Reconnect disconnects and connects again.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.disconnectLocked()
	return c.connectLocked(ctx)
}

func (c *Controller) connected() bool {
	return c.State() != StateDisconnected && c.State() != StateConnecting
}

// SendCommand sends a single line and waits for its response, with an
// automatic one-shot reconnect if the controller was disconnected.
func (c *Controller) SendCommand(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected() {
		c.log.Debugw("not connected, attempting reconnect before command")
		if err := c.connectLocked(ctx); err != nil {
			return "", fmt.Errorf("stream: not connected: %w", err)
		}
	}
	return c.sendCommandLocked(cmd)
}

func (c *Controller) sendCommandLocked(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	if err := c.transport.WriteLine(cmd); err != nil {
		c.state.Store(int32(StateDisconnected))
		return "", fmt.Errorf("stream: write: %w", err)
	}
	resp, ok, err := c.transport.ReadLine(c.opts.CommandTimeout)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return "", fmt.Errorf("stream: read: %w", err)
	}
	if !ok {
		return "", nil
	}
	c.log.Debugw("command", "cmd", cmd, "response", resp)
	return resp, nil
}

// ProgressFunc is called after each command in a stream completes.
type ProgressFunc func(sent, total int)

// StreamProgram sends each non-empty, comment-stripped line of the
// program and waits for its "ok" (or, depending on AlarmAbortsStream, an
// "alarm"/"error" line) before sending the next, giving FluidNC's
// planner natural back-pressure instead of flooding the socket.
func (c *Controller) StreamProgram(ctx context.Context, lines []string, progress ProgressFunc) error {
	commands := stripComments(lines)
	total := len(commands)
	if total == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected() {
		if err := c.connectLocked(ctx); err != nil {
			return fmt.Errorf("stream: not connected: %w", err)
		}
	}

	c.transport.Flush()
	c.engraving.Store(true)
	defer c.engraving.Store(false)
	c.state.Store(int32(StateStreaming))
	defer func() {
		if c.State() == StateStreaming {
			c.state.Store(int32(StateIdle))
		}
	}()

	for i, cmd := range commands {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.transport.WriteLine(cmd); err != nil {
			return fmt.Errorf("stream: send error at line %d: %w", i+1, err)
		}

		for {
			resp, ok, err := c.transport.ReadLine(c.opts.StreamLineTimeout)
			if err != nil {
				return fmt.Errorf("stream: read error at line %d (%s): %w", i+1, cmd, err)
			}
			if !ok {
				return fmt.Errorf("stream: timeout waiting for response at line %d (%s)", i+1, cmd)
			}

			lc := strings.ToLower(resp)
			if isAsyncLine(lc) {
				continue
			}
			if lc == "ok" {
				break
			}
			if strings.HasPrefix(lc, "alarm") {
				c.log.Warnw("controller alarm during stream", "line", i + 1, "cmd", cmd, "response", resp)
				if c.opts.AlarmAbortsStream {
					return fmt.Errorf("stream: alarm at line %d (%s): %s", i+1, cmd, resp)
				}
				break
			}
			if strings.HasPrefix(lc, "error") {
				c.log.Warnw("controller error during stream", "line", i + 1, "cmd", cmd, "response", resp)
				break
			}
		}

		if progress != nil {
			progress(i+1, total)
		}
	}
	return nil
}

func isAsyncLine(lc string) bool {
	return strings.HasPrefix(lc, "[echo:") ||
		strings.HasPrefix(lc, "<") ||
		strings.HasPrefix(lc, "[gc:") ||
		strings.HasPrefix(lc, "[msg:")
}

func stripComments(lines []string) []string {
	var out []string
	for _, l := range lines {
		if idx := strings.Index(l, ";"); idx >= 0 {
			l = l[:idx]
		}
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// EmergencyStop sends GRBL's feed-hold-then-soft-reset sequence directly,
// bypassing the write lock so it preempts an in-progress stream.
func (c *Controller) EmergencyStop() error {
	t := c.transport
	if t == nil {
		return fmt.Errorf("stream: not connected")
	}
	c.log.Warnw("emergency stop requested")
	if err := t.WriteLine("!"); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return t.WriteLine("\x18")
}

// StartMonitor launches the background idle-ping goroutine, which is
// suspended automatically while a stream is in flight and reconnects
// with exponential backoff on a dead connection. It stops when ctx is
// canceled.
func (c *Controller) StartMonitor(ctx context.Context) {
	c.stopMon = make(chan struct{})
	go c.monitorLoop(ctx)
}

// StopMonitor halts the idle-ping goroutine.
func (c *Controller) StopMonitor() {
	if c.stopMon != nil {
		close(c.stopMon)
	}
}

func (c *Controller) monitorLoop(ctx context.Context) {
	backoff := c.opts.ReconnectMinDelay
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopMon:
			return
		case <-ticker.C:
		}

		if c.engraving.Load() {
			continue
		}

		if c.connected() {
			if c.ping() {
				backoff = c.opts.ReconnectMinDelay
				continue
			}
			c.log.Warnw("ping failed, reconnecting")
		}

		if err := c.Reconnect(ctx); err != nil {
			c.log.Warnw("reconnect attempt failed", "error", err, "next_delay", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, c.opts.ReconnectMaxDelay)
			continue
		}
		backoff = c.opts.ReconnectMinDelay
	}
}

func (c *Controller) ping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return false
	}
	if err := c.transport.WriteLine("?"); err != nil {
		c.state.Store(int32(StateDisconnected))
		return false
	}
	resp, ok, err := c.transport.ReadLine(c.opts.PingTimeout)
	if err != nil || !ok || resp == "" {
		c.state.Store(int32(StateDisconnected))
		return false
	}
	return true
}
