// Package session supervises the continuous speech recognition session:
// it starts it, turns engine callbacks into queued events and restarts it
// with backoff when it fails or stops.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"ai-stream-fusion-service/internal/models"
	"ai-stream-fusion-service/internal/observability/logging"
	"ai-stream-fusion-service/internal/observability/metrics"
	"ai-stream-fusion-service/internal/queue"
	"ai-stream-fusion-service/internal/service/stt"
)

// ErrRestartLimit is reported when consecutive restarts are exhausted.
var ErrRestartLimit = errors.New("recognition session restart limit reached")

// State is the supervisor state.
type State int

// Supervisor states. Failed is terminal.
const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateRestarting
	StateFailed
)

var allStates = []string{"idle", "starting", "running", "restarting", "failed"}

// String returns the lowercase state name.
func (s State) String() string {
	if int(s) < len(allStates) {
		return allStates[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Config controls restart behavior.
type Config struct {
	MaxRestarts int           // Consecutive attempts before giving up
	MinBackoff  time.Duration // Delay before the second attempt; the first is immediate
	MaxBackoff  time.Duration
}

// DefaultConfig returns the default restart policy.
func DefaultConfig() Config {
	return Config{
		MaxRestarts: 5,
		MinBackoff:  time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// Supervisor owns the recognition session. Start, Handle, Poll and Stop
// must be called from the coordinator goroutine.
type Supervisor struct {
	factory stt.Factory
	events  *queue.Queue[models.StreamEvent]
	debug   *queue.Queue[string]
	clock   clock.Clock
	cfg     Config
	metrics *metrics.Metrics
	log     zerolog.Logger

	state       State
	session     stt.Session
	generation  uint64
	attempts    int
	nextAttempt time.Time
}

// New creates an idle supervisor. Engine callbacks are pushed to events;
// transition messages are pushed to debug.
func New(factory stt.Factory, events *queue.Queue[models.StreamEvent], debug *queue.Queue[string], clk clock.Clock, cfg Config, m *metrics.Metrics) *Supervisor {
	def := DefaultConfig()
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = def.MaxRestarts
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = def.MinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if clk == nil {
		clk = clock.New()
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Supervisor{
		factory: factory,
		events:  events,
		debug:   debug,
		clock:   clk,
		cfg:     cfg,
		metrics: m,
		log:     logging.WithComponent("session-supervisor"),
	}
}

// State returns the current state.
func (s *Supervisor) State() State { return s.state }

// Generation returns the generation of the current session.
func (s *Supervisor) Generation() uint64 { return s.generation }

// Attempts returns the number of consecutive restart attempts.
func (s *Supervisor) Attempts() int { return s.attempts }

func (s *Supervisor) transition(to State, msg string) {
	from := s.state
	s.state = to
	s.metrics.RecordSessionState(to.String(), allStates)
	s.log.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Uint64("generation", s.generation).
		Msg(msg)
	s.debug.Push(msg)
}

// Start constructs and starts the first session. Any failure here is a
// startup error and is returned to the caller.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.state != StateIdle {
		return fmt.Errorf("supervisor already started (state %s)", s.state)
	}
	s.transition(StateStarting, "Starting speech recognition...")

	if err := s.launch(ctx); err != nil {
		s.transition(StateFailed, fmt.Sprintf("Speech recognition failed to start: %v", err))
		return err
	}
	return nil
}

// launch builds a session from the factory and starts it under a new generation.
func (s *Supervisor) launch(ctx context.Context) error {
	sess, err := s.factory(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	gen := s.generation + 1
	if err := sess.Start(ctx, &callback{generation: gen, events: s.events}); err != nil {
		_ = sess.Stop()
		return fmt.Errorf("start session: %w", err)
	}

	s.generation = gen
	s.session = sess
	return nil
}

// Handle consumes one event from the speech queue. Lifecycle events from a
// replaced session are ignored. SessionStarted or a transcript from the
// current session proves it is healthy and resets the restart counter, so
// the ceiling only counts sessions that never start.
func (s *Supervisor) Handle(ctx context.Context, ev models.StreamEvent) {
	current := ev.SessionGeneration() == s.generation

	switch e := ev.(type) {
	case models.PartialTranscript, models.FinalTranscript:
		if current && s.state == StateRunning {
			s.attempts = 0
		}

	case models.SessionStarted:
		if !current {
			return
		}
		if s.state == StateStarting || s.state == StateRestarting {
			s.attempts = 0
			s.transition(StateRunning, "Speech recognition running")
		}

	case models.SessionStopped:
		if !current {
			s.log.Debug().Uint64("generation", e.Session).Msg("Ignoring stop from replaced session")
			return
		}
		s.beginRestart(ctx, "Speech session stopped. Restarting...")

	case models.RecognitionError:
		if !current {
			s.log.Debug().Uint64("generation", e.Session).Str("error", e.Message).Msg("Ignoring error from replaced session")
			return
		}
		s.metrics.RecordRecognitionError()
		s.beginRestart(ctx, fmt.Sprintf("Speech recognition error: %s. Restarting...", e.Message))
	}
}

func (s *Supervisor) beginRestart(ctx context.Context, msg string) {
	switch {
	case s.state == StateRunning, s.state == StateStarting:
	case s.state == StateRestarting && s.session != nil:
		// A relaunched session failed before confirming it started.
	default:
		return
	}
	s.transition(StateRestarting, msg)
	s.stopCurrent()
	s.nextAttempt = s.clock.Now().Add(s.backoff(s.attempts))
	s.Poll(ctx)
}

func (s *Supervisor) stopCurrent() {
	if s.session == nil {
		return
	}
	if err := s.session.Stop(); err != nil {
		s.log.Warn().Err(err).Uint64("generation", s.generation).Msg("Error stopping recognition session")
	}
	s.session = nil
}

// backoff returns the delay before attempt n+1. The first attempt is immediate.
func (s *Supervisor) backoff(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	d := s.cfg.MinBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	return d
}

// Poll performs a pending restart attempt once its backoff has elapsed.
// Called once per coordinator tick.
func (s *Supervisor) Poll(ctx context.Context) {
	if s.state != StateRestarting || s.session != nil {
		return
	}
	if s.clock.Now().Before(s.nextAttempt) {
		return
	}

	if s.attempts >= s.cfg.MaxRestarts {
		s.log.Error().Err(ErrRestartLimit).Int("attempts", s.attempts).Msg("Giving up on speech recognition")
		s.transition(StateFailed, fmt.Sprintf("Speech recognition failed after %d restart attempts", s.attempts))
		return
	}

	s.attempts++
	s.metrics.RecordSessionRestart()

	if err := s.launch(ctx); err != nil {
		delay := s.backoff(s.attempts)
		s.nextAttempt = s.clock.Now().Add(delay)
		s.log.Warn().Err(err).Int("attempt", s.attempts).Dur("retryIn", delay).Msg("Restart attempt failed")
		s.debug.Push(fmt.Sprintf("Failed to restart speech recognition: %v", err))
		return
	}

	s.log.Info().Int("attempt", s.attempts).Uint64("generation", s.generation).Msg("Recognition session restarted")
	s.debug.Push("Speech recognition restarted")
}

// Stop stops the current session for shutdown.
func (s *Supervisor) Stop() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Stop()
	s.session = nil
	s.transition(StateIdle, "Speech recognition stopped")
	return err
}

// callback turns engine notifications into queued events. It touches
// nothing but the queue.
type callback struct {
	generation uint64
	events     *queue.Queue[models.StreamEvent]
}

func (c *callback) OnPartial(text string) {
	c.events.Push(models.PartialTranscript{Session: c.generation, Text: text})
}

func (c *callback) OnFinal(text string, confidence float64) {
	c.events.Push(models.FinalTranscript{Session: c.generation, Text: text, Confidence: confidence})
}

func (c *callback) OnSessionStarted() {
	c.events.Push(models.SessionStarted{Session: c.generation})
}

func (c *callback) OnSessionStopped() {
	c.events.Push(models.SessionStopped{Session: c.generation})
}

func (c *callback) OnError(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.events.Push(models.RecognitionError{Session: c.generation, Message: msg})
}
