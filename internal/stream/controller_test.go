package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockTransport is an in-memory line transport: writes are recorded, and
// each queued response is handed back on the next ReadLine.
type mockTransport struct {
	mu        sync.Mutex
	written   []string
	responses []string
	closed    bool
}

func newMockTransport(responses ...string) *mockTransport {
	return &mockTransport{responses: responses}
}

func (m *mockTransport) WriteLine(cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, cmd)
	return nil
}

func (m *mockTransport) ReadLine(timeout time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return "", false, nil
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, true, nil
}

func (m *mockTransport) Flush() {}
func (m *mockTransport) Close() error {
	m.closed = true
	return nil
}

func (m *mockTransport) pushResponses(r ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, r...)
}

func newTestController(t *mockTransport) *Controller {
	return New(func() (Transport, error) { return t, nil }, DefaultOptions(), nil)
}

func TestStreamProgramWaitsForOkPerLine(t *testing.T) {
	mt := newMockTransport("ok") // handshake $$ read during Connect
	c := newTestController(mt)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	mt.pushResponses("ok", "ok", "ok")
	var progressed []int
	err := c.StreamProgram(context.Background(), []string{"G0 X0 Y0", "G1 X1 Y1", "M2"}, func(sent, total int) {
		progressed = append(progressed, sent)
	})
	if err != nil {
		t.Fatalf("StreamProgram: %v", err)
	}
	if len(progressed) != 3 {
		t.Fatalf("expected 3 progress calls, got %d", len(progressed))
	}

	want := []string{"G0 X0 Y0", "G1 X1 Y1", "M2"}
	got := mt.written[len(mt.written)-3:]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestStreamProgramSkipsAsyncLinesBeforeOk(t *testing.T) {
	mt := newMockTransport("ok") // handshake
	c := newTestController(mt)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	mt.pushResponses("<Idle|MPos:0,0,0>", "[echo:G1]", "ok")
	if err := c.StreamProgram(context.Background(), []string{"G1 X1 Y1"}, nil); err != nil {
		t.Fatalf("StreamProgram: %v", err)
	}
}

func TestStreamProgramTimesOutWithoutOk(t *testing.T) {
	mt := newMockTransport("ok") // handshake
	c := newTestController(mt)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// No responses queued: ReadLine returns ok=false immediately, which
	// should surface as a timeout error, not hang.
	err := c.StreamProgram(context.Background(), []string{"G1 X1 Y1"}, nil)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expected a timeout error, got %v", err)
	}
}

func TestStreamProgramAbortsOnAlarmWhenConfigured(t *testing.T) {
	mt := newMockTransport("ok") // handshake
	c := New(func() (Transport, error) { return mt, nil }, DefaultOptions(), nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	mt.pushResponses("ALARM:1")
	err := c.StreamProgram(context.Background(), []string{"G1 X1 Y1", "G1 X2 Y2"}, nil)
	if err == nil {
		t.Fatal("expected alarm to abort the stream")
	}
}

func TestStreamProgramContinuesOnAlarmWhenDisabled(t *testing.T) {
	mt := newMockTransport("ok") // handshake
	opts := DefaultOptions()
	opts.AlarmAbortsStream = false
	c := New(func() (Transport, error) { return mt, nil }, opts, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	mt.pushResponses("ALARM:1", "ok")
	err := c.StreamProgram(context.Background(), []string{"G1 X1 Y1", "G1 X2 Y2"}, nil)
	if err != nil {
		t.Fatalf("expected alarm to be non-fatal, got %v", err)
	}
}

func TestStreamProgramEmptyProgramSucceedsWithoutWrites(t *testing.T) {
	mt := newMockTransport("ok") // handshake
	c := newTestController(mt)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	before := len(mt.written)
	if err := c.StreamProgram(context.Background(), []string{"", "   ", "; comment only"}, nil); err != nil {
		t.Fatalf("expected empty program to succeed, got %v", err)
	}
	if len(mt.written) != before {
		t.Fatalf("expected no additional writes for an empty program, got %d new writes", len(mt.written)-before)
	}
}

func TestEmergencyStopSendsFeedHoldThenSoftReset(t *testing.T) {
	mt := newMockTransport("ok") // handshake
	c := newTestController(mt)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.EmergencyStop(); err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	got := mt.written[len(mt.written)-2:]
	if got[0] != "!" || got[1] != "\x18" {
		t.Fatalf("expected [\"!\" \"\\x18\"], got %v", fmt.Sprintf("%q", got))
	}
}
