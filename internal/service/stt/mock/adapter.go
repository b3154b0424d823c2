// Package mock provides a mock recognition session for running without cloud
// credentials. It simulates realistic speech-to-text behavior with
// progressive partial transcripts and exactly one final per utterance.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"ai-stream-fusion-service/internal/service/stt"
)

// ErrSimulated is reported through OnError when FailAfter is reached.
var ErrSimulated = errors.New("simulated recognition failure")

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Let's look", "Let's look at the", "Let's look at the board"},
		Final:      "Let's look at the board",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"The first", "The first item is"},
		Final:      "The first item is hiring",
		Confidence: 0.92,
	},
	{
		Partials:   []string{"Can you", "Can you summarize", "Can you summarize the"},
		Final:      "Can you summarize the budget section",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you everyone",
		Confidence: 0.98,
	},
}

// Config controls the simulation.
type Config struct {
	Utterances []SimulatedUtterance
	Interval   time.Duration // Delay before each partial and final
	Loop       bool          // Replay utterances until stopped
	FailAfter  int           // Report ErrSimulated after this many finals; 0 never fails
}

// Session implements stt.Session with scripted responses.
type Session struct {
	cfg Config

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// New creates a mock session.
func New(cfg Config) *Session {
	if len(cfg.Utterances) == 0 {
		cfg.Utterances = DefaultUtterances
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 400 * time.Millisecond
	}
	return &Session{
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// NewFactory returns an stt.Factory creating mock sessions.
func NewFactory(cfg Config) stt.Factory {
	return func(context.Context) (stt.Session, error) {
		return New(cfg), nil
	}
}

// Start begins the simulation.
func (s *Session) Start(ctx context.Context, cb stt.Callback) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("mock session already started")
	}
	s.started = true
	s.mu.Unlock()

	cb.OnSessionStarted()
	go s.run(ctx, cb)
	return nil
}

func (s *Session) wait(ctx context.Context) bool {
	t := time.NewTimer(s.cfg.Interval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Session) run(ctx context.Context, cb stt.Callback) {
	defer close(s.done)

	finals := 0
	for {
		for _, utt := range s.cfg.Utterances {
			for _, p := range utt.Partials {
				if !s.wait(ctx) {
					cb.OnSessionStopped()
					return
				}
				cb.OnPartial(p)
			}
			if !s.wait(ctx) {
				cb.OnSessionStopped()
				return
			}
			cb.OnFinal(utt.Final, utt.Confidence)
			finals++

			if s.cfg.FailAfter > 0 && finals >= s.cfg.FailAfter {
				cb.OnError(ErrSimulated)
				return
			}
		}
		if !s.cfg.Loop {
			cb.OnSessionStopped()
			return
		}
	}
}

// Stop ends the simulation and waits for it to exit.
func (s *Session) Stop() error {
	s.once.Do(func() { close(s.stop) })

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
	return nil
}
