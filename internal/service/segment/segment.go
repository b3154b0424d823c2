// Package segment assigns stable IDs to recognized utterances so partial and
// final transcript events of one utterance share a key on Kafka.
package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator issues monotonically increasing utterance IDs.
type Generator struct {
	counter uint64
}

// New creates a generator starting at 1.
func New() *Generator {
	return &Generator{}
}

// Next returns "<sessionID>-utt-<n>".
func (g *Generator) Next(sessionID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-utt-%d", sessionID, n)
}
