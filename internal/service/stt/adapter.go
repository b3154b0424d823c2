// Package stt defines the interface for streaming speech recognition sessions.
package stt

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Callback receives notifications from a recognition session.
// Implementations are invoked on engine goroutines and must not block.
type Callback interface {
	// OnPartial is called when an interim/partial transcript is received.
	OnPartial(text string)

	// OnFinal is called when a final transcript is received.
	OnFinal(text string, confidence float64)

	// OnSessionStarted is called once the engine is ready to deliver results.
	OnSessionStarted()

	// OnSessionStopped is called when the engine ends the session.
	OnSessionStopped()

	// OnError is called when an error occurs during recognition.
	OnError(err error)
}

// Session is one continuous recognition session (Google, Deepgram, mock).
type Session interface {
	// Start begins recognition and returns once the session is running.
	Start(ctx context.Context, cb Callback) error

	// Stop ends the session and releases resources. Safe to call more than once.
	Stop() error
}

// Factory constructs a new, unstarted session.
type Factory func(ctx context.Context) (Session, error)

// AudioOpener opens the PCM audio stream a session recognizes.
type AudioOpener func() (io.ReadCloser, error)

var sharedStdin = sync.OnceValue(func() *SharedReader { return NewSharedReader(os.Stdin) })

// OpenAudio returns an AudioOpener reading path, or stdin when path is "-".
// Named pipes are supported so an external capture process can feed audio.
// Stdin is shared: each session gets a lease, and a stopped session's lease
// gives up its unread audio to the next one.
func OpenAudio(path string) AudioOpener {
	return func() (io.ReadCloser, error) {
		if path == "-" {
			return sharedStdin().Open(), nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open audio source: %w", err)
		}
		return f, nil
	}
}
