package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu       sync.Mutex
	partials []string
	finals   []finalResult
	errors   []error
	started  int
	stopped  int
	ended    chan struct{}
	once     sync.Once
}

type finalResult struct {
	text       string
	confidence float64
}

func newTestCallback() *testCallback {
	return &testCallback{ended: make(chan struct{})}
}

func (c *testCallback) OnPartial(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partials = append(c.partials, text)
}

func (c *testCallback) OnFinal(text string, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finals = append(c.finals, finalResult{text, confidence})
}

func (c *testCallback) OnSessionStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
}

func (c *testCallback) OnSessionStopped() {
	c.mu.Lock()
	c.stopped++
	c.mu.Unlock()
	c.once.Do(func() { close(c.ended) })
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	c.errors = append(c.errors, err)
	c.mu.Unlock()
	c.once.Do(func() { close(c.ended) })
}

func (c *testCallback) waitEnded(t *testing.T) {
	t.Helper()
	select {
	case <-c.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to end")
	}
}

func TestSession_New(t *testing.T) {
	s := New(Config{})
	if s == nil {
		t.Fatal("expected non-nil session")
	}
	if len(s.cfg.Utterances) != len(DefaultUtterances) {
		t.Error("expected default utterances")
	}
	if s.cfg.Interval <= 0 {
		t.Error("expected a positive default interval")
	}
}

func TestSession_PartialsThenOneFinalPerUtterance(t *testing.T) {
	s := New(Config{
		Utterances: []SimulatedUtterance{
			{Partials: []string{"hel", "hello"}, Final: "hello world", Confidence: 0.9},
		},
		Interval: time.Millisecond,
	})
	cb := newTestCallback()

	if err := s.Start(context.Background(), cb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cb.waitEnded(t)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.started != 1 {
		t.Errorf("expected 1 started notification, got %d", cb.started)
	}
	if len(cb.partials) != 2 || cb.partials[0] != "hel" || cb.partials[1] != "hello" {
		t.Errorf("unexpected partials %v", cb.partials)
	}
	if len(cb.finals) != 1 || cb.finals[0].text != "hello world" {
		t.Errorf("expected exactly one final, got %v", cb.finals)
	}
	if cb.stopped != 1 {
		t.Errorf("expected session to report stopped once, got %d", cb.stopped)
	}
}

func TestSession_FailAfter(t *testing.T) {
	s := New(Config{Interval: time.Millisecond, Loop: true, FailAfter: 2})
	cb := newTestCallback()

	_ = s.Start(context.Background(), cb)
	cb.waitEnded(t)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if len(cb.errors) != 1 || !errors.Is(cb.errors[0], ErrSimulated) {
		t.Errorf("expected simulated error, got %v", cb.errors)
	}
	if len(cb.finals) != 2 {
		t.Errorf("expected 2 finals before failure, got %d", len(cb.finals))
	}
}

func TestSession_StopInterrupts(t *testing.T) {
	s := New(Config{Interval: time.Hour})
	cb := newTestCallback()
	_ = s.Start(context.Background(), cb)

	if err := s.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cb.waitEnded(t)

	if err := s.Stop(); err != nil {
		t.Errorf("second stop should be a no-op, got %v", err)
	}
}

func TestSession_StartTwice(t *testing.T) {
	s := New(Config{Interval: time.Hour})
	defer s.Stop()

	_ = s.Start(context.Background(), newTestCallback())
	if err := s.Start(context.Background(), newTestCallback()); err == nil {
		t.Error("expected error on second start")
	}
}

func TestSession_StopBeforeStart(t *testing.T) {
	s := New(Config{})
	if err := s.Stop(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
