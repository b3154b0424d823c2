package video

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"ai-stream-fusion-service/internal/observability/logging"
)

var errStreamEnded = errors.New("mjpeg stream ended")

// MJPEGConfig holds MJPEG source configuration.
type MJPEGConfig struct {
	URL        string
	BufferSize int
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Client     *http.Client
	Clock      clock.Clock
}

// MJPEGSource reads a multipart/x-mixed-replace JPEG stream over HTTP and
// reconnects with exponential backoff when the stream drops. Connected
// reports false while disconnected.
type MJPEGSource struct {
	*ChanSource

	url        string
	client     *http.Client
	clock      clock.Clock
	minBackoff time.Duration
	maxBackoff time.Duration
	log        zerolog.Logger
}

// NewMJPEGSource creates a source for cfg.URL. Call Run to start reading.
func NewMJPEGSource(cfg MJPEGConfig) *MJPEGSource {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Client == nil {
		// No overall timeout: the response body is an endless stream.
		cfg.Client = &http.Client{}
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 10 * time.Second
	}

	s := &MJPEGSource{
		ChanSource: NewChanSource(cfg.BufferSize, cfg.Clock),
		url:        cfg.URL,
		client:     cfg.Client,
		clock:      cfg.Clock,
		minBackoff: cfg.MinBackoff,
		maxBackoff: cfg.MaxBackoff,
		log:        logging.WithComponent("mjpeg-source"),
	}
	s.SetConnected(false)
	return s
}

// Run reads the stream until ctx is cancelled. The backoff starts over
// after every connection that was accepted.
func (s *MJPEGSource) Run(ctx context.Context) error {
	backoff := s.minBackoff
	for {
		connected, err := s.stream(ctx)
		s.SetConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = s.minBackoff
		}

		s.log.Warn().Err(err).Str("url", s.url).Dur("backoff", backoff).Msg("Video stream disconnected, reconnecting")

		select {
		case <-s.clock.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *MJPEGSource) stream(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("bad status: %s", resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false, fmt.Errorf("parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return false, fmt.Errorf("unexpected content type %q", mediaType)
	}
	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		return false, errors.New("missing multipart boundary")
	}

	s.SetConnected(true)
	s.log.Info().Str("url", s.url).Msg("Video stream connected")

	mr := multipart.NewReader(resp.Body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return true, errStreamEnded
		}
		if err != nil {
			return true, fmt.Errorf("read part: %w", err)
		}

		img, err := jpeg.Decode(part)
		part.Close()
		if err != nil {
			s.log.Debug().Err(err).Msg("Skipping undecodable frame")
			continue
		}
		s.Push(img)
	}
}
