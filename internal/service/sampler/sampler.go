// Package sampler pulls frames from the video source, shows every frame and
// forwards at most one frame per interval to the vision collaborator.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-stream-fusion-service/internal/models"
	"ai-stream-fusion-service/internal/observability/logging"
	"ai-stream-fusion-service/internal/observability/metrics"
	"ai-stream-fusion-service/internal/state"
	"ai-stream-fusion-service/internal/video"
	"ai-stream-fusion-service/internal/vision"
)

// Debug messages emitted by the sampler.
const (
	MsgWaitingForFrames = "Waiting for frames..."
	MsgNoTextDetected   = "No text detected in frame."
)

// Config holds sampling configuration.
type Config struct {
	Interval     time.Duration // Minimum time between analyses
	FrameTimeout time.Duration // Bounded wait for the next frame
	IdleBackoff  time.Duration // Pause after an empty fetch
	JPEGQuality  int
	SessionID    string // Process run ID stamped on published events
}

// DefaultConfig returns the default sampling configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Second,
		FrameTimeout: time.Second,
		IdleBackoff:  100 * time.Millisecond,
		JPEGQuality:  video.DefaultJPEGQuality,
	}
}

// OCRWriter persists accepted OCR text.
type OCRWriter interface {
	WriteOCR(text string) error
}

// Publisher announces accepted OCR changes.
type Publisher interface {
	PublishOCR(ctx context.Context, ev models.OCRUpdate) error
}

// Deps are the collaborators a Sampler drives. Debug receives status
// messages for the debug log.
type Deps struct {
	Source    video.Source
	Display   video.Display
	Analyzer  vision.Analyzer
	Store     *state.Store
	Writer    OCRWriter
	Publisher Publisher
	Debug     func(msg string)
	Clock     clock.Clock
	Metrics   *metrics.Metrics
}

// Sampler is driven by the coordinator, one Tick per loop iteration.
type Sampler struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	sleep func(ctx context.Context, d time.Duration)
}

// New creates a sampler.
func New(cfg Config, deps Deps) *Sampler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = def.FrameTimeout
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = def.IdleBackoff
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if deps.Debug == nil {
		deps.Debug = func(string) {}
	}

	s := &Sampler{
		cfg:  cfg,
		deps: deps,
		log:  logging.WithComponent("frame-sampler"),
	}
	s.sleep = s.clockSleep
	return s
}

func (s *Sampler) clockSleep(ctx context.Context, d time.Duration) {
	select {
	case <-s.deps.Clock.After(d):
	case <-ctx.Done():
	}
}

// Backoff pauses for the idle backoff or until ctx is done.
func (s *Sampler) Backoff(ctx context.Context) {
	s.sleep(ctx, s.cfg.IdleBackoff)
}

// Tick fetches one frame with a bounded wait, shows it, and analyzes it if
// the sampling interval has elapsed since the last analysis. Failures are
// converted into OCR state messages; Tick never returns an error.
func (s *Sampler) Tick(ctx context.Context) {
	m := s.deps.Metrics

	frame, err := s.deps.Source.GetFrame(ctx, s.cfg.FrameTimeout)
	if errors.Is(err, video.ErrNoFrame) {
		m.RecordFrameTimeout()
		s.deps.Debug(MsgWaitingForFrames)
		s.Backoff(ctx)
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error().Err(err).Msg("Frame acquisition failed")
		m.RecordFrameError("acquire")
		s.apply(ctx, fmt.Sprintf("Error acquiring frame: %v", err), 0)
		return
	}

	m.RecordFrameReceived()
	if s.deps.Display != nil {
		s.deps.Display.Show(frame)
	}

	now := s.deps.Clock.Now()
	if now.Sub(s.deps.Store.LastProcessedAt()) < s.cfg.Interval {
		return
	}
	// Failed analyses also consume the interval.
	s.deps.Store.MarkProcessed(now)

	s.log.Debug().Uint64("frameSeq", frame.Seq).Msg("Processing frame")

	data, err := frame.JPEG(s.cfg.JPEGQuality)
	if err != nil {
		s.log.Error().Err(err).Uint64("frameSeq", frame.Seq).Msg("Frame encoding failed")
		m.RecordFrameError("encode")
		s.apply(ctx, fmt.Sprintf("Error encoding frame: %v", err), frame.Seq)
		return
	}

	start := s.deps.Clock.Now()
	blocks, err := s.deps.Analyzer.Analyze(ctx, data)
	m.RecordAnalysis(s.deps.Clock.Since(start).Seconds())
	if err != nil {
		s.log.Error().Err(err).Uint64("frameSeq", frame.Seq).Msg("Frame analysis failed")
		m.RecordFrameError("analyze")
		s.apply(ctx, fmt.Sprintf("Error processing frame: %v", err), frame.Seq)
		return
	}

	text := blocks.Text()
	if text == "" {
		s.deps.Debug(MsgNoTextDetected)
		return
	}
	s.apply(ctx, text, frame.Seq)
}

// apply pushes text through the OCR change-gate and, on change, persists
// it, logs it and publishes it.
func (s *Sampler) apply(ctx context.Context, text string, frameSeq uint64) {
	if !s.deps.Store.UpdateOCR(text) {
		return
	}

	err := s.deps.Writer.WriteOCR(text)
	s.deps.Metrics.RecordArtifactWrite("ocr", err)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to write OCR artifact")
		s.deps.Debug(fmt.Sprintf("Error saving OCR text: %v", err))
	}

	s.deps.Metrics.RecordOCRUpdate()
	s.deps.Debug(fmt.Sprintf("OCR updated: %s...", firstLine(text)))
	s.log.Info().Uint64("frameSeq", frameSeq).Int("chars", len(text)).Msg("Updated extracted text")

	if s.deps.Publisher == nil {
		return
	}
	ev := models.OCRUpdate{
		EventID:   uuid.NewString(),
		EventType: models.EventTypeOCRUpdated,
		SessionID: s.cfg.SessionID,
		Timestamp: s.deps.Clock.Now().UnixMilli(),
		FrameSeq:  frameSeq,
		Text:      text,
	}
	if err := s.deps.Publisher.PublishOCR(ctx, ev); err != nil {
		s.log.Warn().Err(err).Msg("Failed to publish OCR update")
	}
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}
