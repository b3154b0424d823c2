// Package vision defines the text-extraction collaborator used by the frame
// sampler.
package vision

import (
	"context"
	"strings"
)

// Line is one line of recognized text.
type Line struct {
	Text string `json:"text"`
}

// Block is a group of lines recognized together.
type Block struct {
	Lines []Line `json:"lines"`
}

// TextBlocks is the result of a text-extraction request.
type TextBlocks []Block

// Text joins every line of every block with newlines and trims the result.
func (b TextBlocks) Text() string {
	var sb strings.Builder
	for _, block := range b {
		for _, line := range block.Lines {
			sb.WriteString(line.Text)
			sb.WriteByte('\n')
		}
	}
	return strings.TrimSpace(sb.String())
}

// Analyzer extracts text from a JPEG-encoded image.
type Analyzer interface {
	Analyze(ctx context.Context, jpeg []byte) (TextBlocks, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, jpeg []byte) (TextBlocks, error)

// Analyze implements Analyzer.
func (f AnalyzerFunc) Analyze(ctx context.Context, jpeg []byte) (TextBlocks, error) {
	return f(ctx, jpeg)
}

// FromLines builds a single block holding lines, mostly for tests and mocks.
func FromLines(lines ...string) TextBlocks {
	if len(lines) == 0 {
		return nil
	}
	block := Block{Lines: make([]Line, len(lines))}
	for i, l := range lines {
		block.Lines[i] = Line{Text: l}
	}
	return TextBlocks{block}
}
