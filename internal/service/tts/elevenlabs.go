// Package tts synthesizes assistant answers with the ElevenLabs REST API.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-stream-fusion-service/internal/observability/logging"
)

// Defaults for the ElevenLabs client.
const (
	DefaultEndpoint     = "https://api.elevenlabs.io"
	DefaultModelID      = "eleven_multilingual_v2"
	DefaultOutputFormat = "mp3_44100_128"
	DefaultTimeout      = 30 * time.Second
)

// Config configures the ElevenLabs client.
type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	Endpoint     string
	Stability    float64
	Similarity   float64
	Timeout      time.Duration
}

// ElevenLabs implements a speech synthesizer returning encoded audio.
type ElevenLabs struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

// New creates an ElevenLabs synthesizer.
func New(cfg Config) (*ElevenLabs, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("elevenlabs: API key is required")
	}
	if cfg.VoiceID == "" {
		return nil, errors.New("elevenlabs: voice ID is required")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = DefaultOutputFormat
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.75
	}
	if cfg.Similarity == 0 {
		cfg.Similarity = 0.7
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &ElevenLabs{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logging.WithProvider("tts", "elevenlabs"),
	}, nil
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts text to audio in the configured output format.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("elevenlabs: empty text")
	}

	u, err := url.Parse(fmt.Sprintf("%s/v1/text-to-speech/%s", strings.TrimSuffix(e.cfg.Endpoint, "/"), url.PathEscape(e.cfg.VoiceID)))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("output_format", e.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	body, err := json.Marshal(synthesizeRequest{
		Text:    text,
		ModelID: e.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       e.cfg.Stability,
			SimilarityBoost: e.cfg.Similarity,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("elevenlabs: bad status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}

	e.log.Debug().
		Int("chars", len(text)).
		Int("bytes", len(audio)).
		Dur("latency", time.Since(start)).
		Msg("Synthesized speech")
	return audio, nil
}
