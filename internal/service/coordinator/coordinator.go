// Package coordinator runs the single consumer loop that fuses speech events,
// debug events and sampled video text into the extraction state.
package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-stream-fusion-service/internal/debuglog"
	"ai-stream-fusion-service/internal/models"
	"ai-stream-fusion-service/internal/observability/logging"
	"ai-stream-fusion-service/internal/observability/metrics"
	"ai-stream-fusion-service/internal/queue"
	"ai-stream-fusion-service/internal/service/segment"
	"ai-stream-fusion-service/internal/service/session"
	"ai-stream-fusion-service/internal/state"
)

// Status messages and alerts surfaced by the coordinator.
const (
	MsgHeartbeat       = "Coordinator running"
	MsgWebcamInactive  = "Webcam not active. Waiting for stream..."
	MsgStreamStopped   = "Video stream stopped"
	MsgStreamResumed   = "Video stream resumed"
	AlertStreamStopped = "Video stream stopped. Please restart the stream."
)

// Supervisor is the speech session lifecycle the coordinator drives.
type Supervisor interface {
	Handle(ctx context.Context, ev models.StreamEvent)
	Poll(ctx context.Context)
	State() session.State
	Generation() uint64
}

// Sampler is the frame sampler the coordinator drives.
type Sampler interface {
	Tick(ctx context.Context)
	Backoff(ctx context.Context)
}

// StreamHealth reports whether the video connection is live.
type StreamHealth interface {
	Connected() bool
}

// STTWriter persists accepted transcript revisions.
type STTWriter interface {
	WriteSTT(text string, final bool) error
}

// Publisher announces accepted transcript changes.
type Publisher interface {
	PublishTranscript(ctx context.Context, ev models.TranscriptUpdate) error
}

// HealthReporter receives the overall serving status after each tick.
type HealthReporter interface {
	SetServing(serving bool)
}

// Deps are the collaborators of a Coordinator. Publisher and Health are optional.
type Deps struct {
	Speech     *queue.Queue[models.StreamEvent]
	Debug      *queue.Queue[string]
	Supervisor Supervisor
	Sampler    Sampler
	Stream     StreamHealth
	Store      *state.Store
	Log        *debuglog.Log
	Writer     STTWriter
	Publisher  Publisher
	Health     HealthReporter
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	SessionID  string
}

// Snapshot is the read-only view published after every tick.
type Snapshot struct {
	State         state.Snapshot   `json:"state"`
	Debug         []debuglog.Entry `json:"debug"`
	SpeechSession string           `json:"speechSession"`
	Tick          uint64           `json:"tick"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

type transcriptShadow struct {
	text  string
	final bool
	set   bool
}

// Coordinator is the single owner of the extraction state, debug log and
// artifacts. Only Snapshot may be called from other goroutines.
type Coordinator struct {
	deps    Deps
	log     zerolog.Logger
	tracker *segment.Tracker

	lastSTT  transcriptShadow
	produced bool
	ticks    uint64

	droppedSpeech uint64
	droppedDebug  uint64

	snapshot atomic.Pointer[Snapshot]
}

// New creates a coordinator and publishes the initial snapshot.
func New(deps Deps) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	c := &Coordinator{
		deps:    deps,
		log:     logging.WithSession(deps.SessionID).With().Str("component", "coordinator").Logger(),
		tracker: segment.NewTracker(deps.SessionID),
	}
	c.publishSnapshot()
	return c
}

// Run ticks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info().Msg("Coordinator loop started")
	for {
		if err := ctx.Err(); err != nil {
			c.log.Info().Uint64("ticks", c.ticks).Msg("Coordinator loop stopped")
			return nil
		}
		c.Tick(ctx)
	}
}

// Tick runs one loop iteration. It never panics and never returns an error;
// failures become debug entries.
func (c *Coordinator) Tick(ctx context.Context) {
	c.produced = false
	c.ticks++

	c.step("speech events", func() { c.drainSpeech(ctx) })
	c.step("session supervisor", func() { c.deps.Supervisor.Poll(ctx) })
	c.step("debug events", c.drainDebug)

	healthy := false
	c.step("stream health", func() { healthy = c.checkHealth() })

	c.step("frame sampler", func() {
		if healthy {
			c.deps.Sampler.Tick(ctx)
			return
		}
		c.debug(MsgWebcamInactive)
		c.deps.Sampler.Backoff(ctx)
	})

	if !c.produced {
		c.debug(MsgHeartbeat)
	}

	c.deps.Metrics.RecordTick()
	c.recordDrops()
	c.publishSnapshot()
	if c.deps.Health != nil {
		c.deps.Health.SetServing(healthy && c.deps.Supervisor.State() != session.StateFailed)
	}
}

// step runs fn, converting a panic into a log line and a debug entry.
func (c *Coordinator) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.deps.Metrics.RecordTickPanic()
			c.log.Error().Interface("panic", r).Str("step", name).Msg("Recovered from panic in coordinator step")
			c.debug(fmt.Sprintf("Error in %s: %v", name, r))
		}
	}()
	fn()
}

// Debug appends msg to the debug log. Only collaborators running on the
// coordinator goroutine (the sampler) may call it; others use the debug queue.
func (c *Coordinator) Debug(msg string) {
	c.debug(msg)
}

// debug appends msg to the debug log and marks the tick as having produced
// a message, whether or not dedup suppressed it.
func (c *Coordinator) debug(msg string) {
	c.produced = true
	if c.deps.Log.Add(msg) {
		c.deps.Metrics.RecordDebugEntry()
		c.log.Debug().Str("entry", msg).Msg("Debug log")
	}
}

func (c *Coordinator) drainSpeech(ctx context.Context) {
	c.deps.Speech.Drain(func(ev models.StreamEvent) {
		c.handleEvent(ctx, ev)
	})
}

func (c *Coordinator) handleEvent(ctx context.Context, ev models.StreamEvent) {
	current := ev.SessionGeneration() == c.deps.Supervisor.Generation()
	c.deps.Supervisor.Handle(ctx, ev)

	switch e := ev.(type) {
	case models.PartialTranscript:
		c.applyTranscript(ctx, e.Text, false, 0)
	case models.FinalTranscript:
		c.applyTranscript(ctx, e.Text, true, e.Confidence)
	case models.RecognitionError, models.SessionStopped:
		if !current {
			return
		}
		if id := c.tracker.Drop(); id != "" {
			c.log.Debug().Str("segmentId", id).Msg("Dropped utterance without final")
		}
	case models.SessionStarted:
	}
}

// applyTranscript passes a revision through the loop-local shadow and the
// store's change-gate, then persists, logs and publishes it.
func (c *Coordinator) applyTranscript(ctx context.Context, text string, final bool, confidence float64) {
	if text == "" {
		return
	}
	if c.lastSTT.set && c.lastSTT.text == text && c.lastSTT.final == final {
		return
	}
	c.lastSTT = transcriptShadow{text: text, final: final, set: true}

	if !c.deps.Store.UpdateSTT(text, final) {
		return
	}

	kind, eventType := "partial", models.EventTypeTranscriptPartial
	segmentID := ""
	if final {
		kind, eventType = "final", models.EventTypeTranscriptFinal
		segmentID = c.tracker.Final()
	} else {
		segmentID = c.tracker.Partial()
	}

	err := c.deps.Writer.WriteSTT(text, final)
	c.deps.Metrics.RecordArtifactWrite("stt", err)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to write STT artifact")
		c.debug(fmt.Sprintf("Error saving STT text: %v", err))
	}

	c.deps.Metrics.RecordTranscriptUpdate(kind)
	c.debug(fmt.Sprintf("STT %s update: %s", kind, text))

	if c.deps.Publisher == nil {
		return
	}
	ev := models.TranscriptUpdate{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		SessionID:  c.deps.SessionID,
		SegmentID:  segmentID,
		Timestamp:  c.deps.Clock.Now().UnixMilli(),
		Text:       text,
		Final:      final,
		Confidence: confidence,
	}
	if err := c.deps.Publisher.PublishTranscript(ctx, ev); err != nil {
		c.log.Warn().Err(err).Str("segmentId", segmentID).Msg("Failed to publish transcript update")
	}
}

func (c *Coordinator) drainDebug() {
	c.deps.Debug.Drain(c.debug)
}

// checkHealth records connection transitions once and reports whether the
// stream is live.
func (c *Coordinator) checkHealth() bool {
	connected := c.deps.Stream.Connected()
	c.deps.Metrics.RecordStreamConnected(connected)

	if !connected {
		if c.deps.Store.SetStreamStopped(true, AlertStreamStopped) {
			c.log.Warn().Msg("Video stream stopped")
			c.debug(MsgStreamStopped)
		}
		return false
	}

	if c.deps.Store.SetStreamStopped(false, "") {
		c.log.Info().Msg("Video stream resumed")
		c.debug(MsgStreamResumed)
	}
	return true
}

func (c *Coordinator) recordDrops() {
	if n := c.deps.Speech.Dropped(); n > c.droppedSpeech {
		c.deps.Metrics.RecordQueueDropped("speech", n-c.droppedSpeech)
		c.log.Warn().Uint64("dropped", n-c.droppedSpeech).Msg("Speech events dropped, queue full")
		c.droppedSpeech = n
	}
	if n := c.deps.Debug.Dropped(); n > c.droppedDebug {
		c.deps.Metrics.RecordQueueDropped("debug", n-c.droppedDebug)
		c.droppedDebug = n
	}
}

func (c *Coordinator) publishSnapshot() {
	c.snapshot.Store(&Snapshot{
		State:         c.deps.Store.Snapshot(),
		Debug:         c.deps.Log.Entries(),
		SpeechSession: c.deps.Supervisor.State().String(),
		Tick:          c.ticks,
		UpdatedAt:     c.deps.Clock.Now(),
	})
}

// Snapshot returns the state published after the last tick. Safe for
// concurrent use.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.snapshot.Load()
}
