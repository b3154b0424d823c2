// Package deepgram provides a Deepgram live-transcription session over a
// websocket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-stream-fusion-service/internal/observability/logging"
	"ai-stream-fusion-service/internal/service/stt"
)

// DefaultEndpoint is the Deepgram live transcription URL.
const DefaultEndpoint = "wss://api.deepgram.com/v1/listen"

// Config holds Deepgram configuration.
type Config struct {
	APIKey       string
	Endpoint     string
	Model        string
	Language     string
	Encoding     string
	SampleRateHz int
	ChunkBytes   int
}

// DefaultConfig returns the default Deepgram configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:     DefaultEndpoint,
		Model:        "nova-2",
		Language:     "en-US",
		Encoding:     "linear16",
		SampleRateHz: 16000,
		ChunkBytes:   3200,
	}
}

// URL returns the websocket URL with recognition parameters.
func (c Config) URL() (string, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("model", c.Model)
	q.Set("language", c.Language)
	q.Set("encoding", c.Encoding)
	q.Set("sample_rate", strconv.Itoa(c.SampleRateHz))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// resultMessage is the subset of a Deepgram "Results" message we consume.
type resultMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Session implements stt.Session against the Deepgram live API.
type Session struct {
	cfg    Config
	audio  stt.AudioOpener
	dialer *websocket.Dialer
	log    zerolog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	reader  io.ReadCloser
	stopped bool
	done    chan struct{}
}

// New creates a Deepgram session. APIKey is required.
func New(cfg Config, audio stt.AudioOpener) (*Session, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("deepgram: api key is required")
	}
	if audio == nil {
		return nil, errors.New("deepgram: audio source is required")
	}
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.Encoding == "" {
		cfg.Encoding = def.Encoding
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = def.SampleRateHz
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = def.ChunkBytes
	}
	return &Session{
		cfg:    cfg,
		audio:  audio,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    logging.WithComponent("stt-deepgram"),
	}, nil
}

// NewFactory returns an stt.Factory creating Deepgram sessions.
func NewFactory(cfg Config, audio stt.AudioOpener) stt.Factory {
	return func(context.Context) (stt.Session, error) {
		return New(cfg, audio)
	}
}

// Start dials Deepgram and begins streaming audio.
func (s *Session) Start(ctx context.Context, cb stt.Callback) error {
	u, err := s.cfg.URL()
	if err != nil {
		return err
	}

	header := http.Header{"Authorization": {"Token " + s.cfg.APIKey}}
	conn, resp, err := s.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial deepgram (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("dial deepgram: %w", err)
	}

	reader, err := s.audio()
	if err != nil {
		conn.Close()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.reader = reader
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.log.Info().Str("model", s.cfg.Model).Str("language", s.cfg.Language).Msg("Connected to Deepgram")
	cb.OnSessionStarted()

	go s.pump(reader)
	go s.listen(conn, cb)
	return nil
}

func (s *Session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

// pump forwards audio chunks as binary messages.
func (s *Session) pump(reader io.Reader) {
	buf := make([]byte, s.cfg.ChunkBytes)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if werr := s.write(websocket.BinaryMessage, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isStopped() {
				s.log.Warn().Err(err).Msg("Audio read failed")
			}
			// Ask Deepgram to flush pending results and close.
			_ = s.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
			return
		}
	}
}

// listen reads transcription messages and invokes callbacks.
func (s *Session) listen(conn *websocket.Conn, cb stt.Callback) {
	defer close(s.done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.isStopped() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				cb.OnSessionStopped()
			} else {
				cb.OnError(err)
			}
			return
		}

		var msg resultMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.log.Debug().Err(err).Msg("Skipping unparseable Deepgram message")
			continue
		}
		if msg.Type != "" && msg.Type != "Results" {
			continue
		}
		if len(msg.Channel.Alternatives) == 0 {
			continue
		}

		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			continue
		}
		if msg.IsFinal {
			cb.OnFinal(alt.Transcript, alt.Confidence)
		} else {
			cb.OnPartial(alt.Transcript)
		}
	}
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop closes the websocket and waits for the read loop to exit.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped || s.conn == nil {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	conn, reader, done := s.conn, s.reader, s.done
	s.mu.Unlock()

	_ = reader.Close()
	_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"))
	err := conn.Close()
	<-done
	return err
}
