// Package debuglog provides the bounded status log shown to operators.
package debuglog

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultCapacity is the number of entries retained by New.
const DefaultCapacity = 10

// Entry is a single timestamped status message.
type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// String renders the entry as "[15:04:05] message".
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), e.Message)
}

// Log is an ordered, capped log of status messages.
// A message equal to the immediately preceding one is not appended again.
// Not safe for concurrent use; the coordinator is the single writer.
type Log struct {
	clock    clock.Clock
	capacity int
	entries  []Entry
}

// New creates a log holding at most DefaultCapacity entries.
func New(clk clock.Clock) *Log {
	return NewWithCapacity(clk, DefaultCapacity)
}

// NewWithCapacity creates a log holding at most capacity entries.
func NewWithCapacity(clk clock.Clock, capacity int) *Log {
	if clk == nil {
		clk = clock.New()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		clock:    clk,
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
	}
}

// Add appends message unless it repeats the last entry.
// Returns true if the entry was appended.
func (l *Log) Add(message string) bool {
	if n := len(l.entries); n > 0 && l.entries[n-1].Message == message {
		return false
	}
	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, Entry{Time: l.clock.Now(), Message: message})
	return true
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Last returns the most recent entry.
func (l *Log) Last() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	return len(l.entries)
}
