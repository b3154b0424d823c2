// Package google provides a vision.Analyzer backed by Google Cloud Vision
// document text detection.
package google

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"

	"ai-stream-fusion-service/internal/vision"
)

const featureDocumentText = "DOCUMENT_TEXT_DETECTION"

// Analyzer implements vision.Analyzer using the Cloud Vision REST API.
type Analyzer struct {
	svc *visionapi.Service
}

// New creates a Google Cloud Vision analyzer.
// With no options, Application Default Credentials are used.
func New(ctx context.Context, opts ...option.ClientOption) (*Analyzer, error) {
	svc, err := visionapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vision service: %w", err)
	}
	return &Analyzer{svc: svc}, nil
}

// NewWithAPIKey creates an analyzer authenticated by an API key.
func NewWithAPIKey(ctx context.Context, key string) (*Analyzer, error) {
	if key == "" {
		return nil, errors.New("google vision: api key is required")
	}
	return New(ctx, option.WithAPIKey(key))
}

// Analyze runs document text detection on jpeg.
func (a *Analyzer) Analyze(ctx context.Context, jpeg []byte) (vision.TextBlocks, error) {
	req := &visionapi.BatchAnnotateImagesRequest{
		Requests: []*visionapi.AnnotateImageRequest{{
			Image:    &visionapi.Image{Content: base64.StdEncoding.EncodeToString(jpeg)},
			Features: []*visionapi.Feature{{Type: featureDocumentText}},
		}},
	}

	resp, err := a.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, nil
	}

	r := resp.Responses[0]
	if r.Error != nil && r.Error.Message != "" {
		return nil, fmt.Errorf("annotate failed (%d): %s", r.Error.Code, r.Error.Message)
	}
	return blocksFromAnnotation(r.FullTextAnnotation), nil
}

// blocksFromAnnotation rebuilds lines from symbol break markers.
func blocksFromAnnotation(ann *visionapi.TextAnnotation) vision.TextBlocks {
	if ann == nil {
		return nil
	}

	var blocks vision.TextBlocks
	for _, page := range ann.Pages {
		for _, b := range page.Blocks {
			var block vision.Block
			var line strings.Builder

			flush := func() {
				if text := strings.TrimSpace(line.String()); text != "" {
					block.Lines = append(block.Lines, vision.Line{Text: text})
				}
				line.Reset()
			}

			for _, p := range b.Paragraphs {
				for _, w := range p.Words {
					for _, s := range w.Symbols {
						line.WriteString(s.Text)
						if s.Property == nil || s.Property.DetectedBreak == nil {
							continue
						}
						switch s.Property.DetectedBreak.Type {
						case "SPACE", "SURE_SPACE":
							line.WriteByte(' ')
						case "EOL_SURE_SPACE", "LINE_BREAK":
							flush()
						case "HYPHEN":
							line.WriteByte('-')
							flush()
						}
					}
				}
			}
			flush()

			if len(block.Lines) > 0 {
				blocks = append(blocks, block)
			}
		}
	}
	return blocks
}
