// Package mock provides a scripted vision.Analyzer for running without cloud
// credentials.
package mock

import (
	"context"
	"sync"

	"ai-stream-fusion-service/internal/vision"
)

// Result is one scripted analysis outcome.
type Result struct {
	Lines []string
	Err   error
}

// DefaultScript cycles through a few whiteboard snapshots.
var DefaultScript = []Result{
	{Lines: []string{"Quarterly Planning", "1. Hiring"}},
	{Lines: []string{"Quarterly Planning", "1. Hiring"}},
	{Lines: []string{"Quarterly Planning", "1. Hiring", "2. Budget review"}},
	{Lines: nil},
}

// Analyzer returns scripted results in order, wrapping around at the end.
type Analyzer struct {
	mu     sync.Mutex
	script []Result
	next   int
	calls  int
}

// New creates an analyzer replaying script, or DefaultScript if empty.
func New(script ...Result) *Analyzer {
	if len(script) == 0 {
		script = DefaultScript
	}
	return &Analyzer{script: script}
}

// Analyze implements vision.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, _ []byte) (vision.TextBlocks, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r := a.script[a.next]
	a.next = (a.next + 1) % len(a.script)
	a.calls++

	if r.Err != nil {
		return nil, r.Err
	}
	return vision.FromLines(r.Lines...), nil
}

// Calls returns how many times Analyze was invoked.
func (a *Analyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
