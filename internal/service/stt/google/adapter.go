// Package google provides a Google Cloud Speech-to-Text recognition session.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"

	"ai-stream-fusion-service/internal/observability/logging"
	"ai-stream-fusion-service/internal/service/stt"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string
	ChunkBytes     int
}

// DefaultConfig returns the default Google STT configuration.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		ChunkBytes:     3200,
	}
}

// parseAudioEncoding maps an encoding name to the API enum.
// Unknown names fall back to LINEAR16. Matching is case-sensitive.
func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch s {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// Session implements stt.Session using Google Cloud Speech-to-Text streaming.
type Session struct {
	client *speech.Client
	cfg    Config
	audio  stt.AudioOpener
	log    zerolog.Logger

	mu      sync.Mutex
	stream  speechpb.Speech_StreamingRecognizeClient
	reader  io.ReadCloser
	cancel  context.CancelFunc
	stopped bool
	done    chan struct{}
}

// New creates a new Google STT session.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config, audio stt.AudioOpener) (*Session, error) {
	if audio == nil {
		return nil, errors.New("google stt: audio source is required")
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = DefaultConfig().ChunkBytes
	}
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Session{
		client: c,
		cfg:    cfg,
		audio:  audio,
		log:    logging.WithComponent("stt-google"),
	}, nil
}

// NewFactory returns an stt.Factory creating Google sessions.
func NewFactory(cfg Config, audio stt.AudioOpener) stt.Factory {
	return func(ctx context.Context) (stt.Session, error) {
		return New(ctx, cfg, audio)
	}
}

func (s *Session) streamingConfig() *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(s.cfg.AudioEncoding),
					SampleRateHertz:            s.cfg.SampleRateHz,
					LanguageCode:               s.cfg.LanguageCode,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: s.cfg.InterimResults,
			},
		},
	}
}

// Start opens the stream, sends the config and begins pumping audio.
func (s *Session) Start(ctx context.Context, cb stt.Callback) error {
	sctx, cancel := context.WithCancel(ctx)

	stream, err := s.client.StreamingRecognize(sctx)
	if err != nil {
		cancel()
		return fmt.Errorf("open stream: %w", err)
	}

	// Send streaming config as the first message
	if err := stream.Send(s.streamingConfig()); err != nil {
		cancel()
		return fmt.Errorf("send config: %w", err)
	}

	reader, err := s.audio()
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.stream = stream
	s.reader = reader
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.log.Info().
		Str("languageCode", s.cfg.LanguageCode).
		Int32("sampleRateHz", s.cfg.SampleRateHz).
		Str("encoding", s.cfg.AudioEncoding).
		Msg("Google STT session started")

	cb.OnSessionStarted()

	go s.pump(stream, reader)
	go s.listen(stream, cb)
	return nil
}

// pump forwards audio chunks until the reader is exhausted or closed.
func (s *Session) pump(stream speechpb.Speech_StreamingRecognizeClient, reader io.Reader) {
	buf := make([]byte, s.cfg.ChunkBytes)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: chunk,
				},
			}); sendErr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isStopped() {
				s.log.Warn().Err(err).Msg("Audio read failed")
			}
			_ = stream.CloseSend()
			return
		}
	}
}

// listen receives transcript responses from Google and invokes callbacks.
func (s *Session) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback) {
	defer close(s.done)

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || s.isStopped() {
				cb.OnSessionStopped()
			} else {
				cb.OnError(err)
			}
			return
		}

		if resp.Error != nil && resp.Error.Message != "" {
			cb.OnError(fmt.Errorf("recognition error %d: %s", resp.Error.Code, resp.Error.Message))
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			if r.IsFinal {
				cb.OnFinal(alt.Transcript, float64(alt.Confidence))
			} else {
				cb.OnPartial(alt.Transcript)
			}
		}
	}
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop cancels the stream and waits for the receive loop to exit.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel, reader, done := s.cancel, s.reader, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if reader != nil {
		_ = reader.Close()
	}
	if done != nil {
		<-done
	}
	return s.client.Close()
}
