// Package azure provides a vision.Analyzer backed by Azure AI Vision Image
// Analysis (READ feature).
package azure

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

	"ai-stream-fusion-service/internal/vision"
)

// DefaultAPIVersion is the Image Analysis API version used when none is configured.
const DefaultAPIVersion = "2024-02-01"

// Config holds Azure AI Vision configuration.
type Config struct {
	Endpoint   string
	Key        string
	APIVersion string
	Timeout    time.Duration
}

// Analyzer implements vision.Analyzer over the Image Analysis REST API.
type Analyzer struct {
	endpoint   string
	key        string
	apiVersion string
	client     *http.Client
}

// New creates an Azure analyzer. Endpoint and Key are required.
func New(cfg Config) (*Analyzer, error) {
	if cfg.Endpoint == "" || cfg.Key == "" {
		return nil, errors.New("azure vision: endpoint and key are required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Analyzer{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		key:        cfg.Key,
		apiVersion: cfg.APIVersion,
		client:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type analyzeResponse struct {
	ReadResult *struct {
		Blocks []vision.Block `json:"blocks"`
	} `json:"readResult"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze sends jpeg for text extraction and returns the recognized blocks.
func (a *Analyzer) Analyze(ctx context.Context, jpeg []byte) (vision.TextBlocks, error) {
	u := a.endpoint + "/computervision/imageanalysis:analyze?" + url.Values{
		"features":    {"read"},
		"api-version": {a.apiVersion},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(jpeg))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", a.key)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
			return nil, fmt.Errorf("analyze failed (%s): %s: %s", resp.Status, e.Error.Code, e.Error.Message)
		}
		return nil, fmt.Errorf("analyze failed: %s", resp.Status)
	}

	var out analyzeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.ReadResult == nil {
		return nil, nil
	}
	return vision.TextBlocks(out.ReadResult.Blocks), nil
}
