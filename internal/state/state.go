// Package state holds the extraction state fused from the video and speech streams.
package state

import "time"

// Initial values shown before any producer delivered text.
const (
	WaitingForText   = "Waiting for text..."
	WaitingForSpeech = "Waiting for speech..."
)

// Store holds the last accepted OCR and STT text together with the
// "previous" shadows used as change-gates.
//
// A Store is owned by a single goroutine (the coordinator). Readers on other
// goroutines must use a Snapshot.
type Store struct {
	ocrText         string
	previousOcrText string

	sttText          string
	previousSttText  string
	previousSttFinal bool
	hasStt           bool

	lastProcessedAt time.Time
	streamStopped   bool
	alert           string
}

// New creates a store initialized with the waiting sentinels.
// lastProcessedAt starts at now so the first analysis happens one interval later.
func New(now time.Time) *Store {
	return &Store{
		ocrText:         WaitingForText,
		sttText:         WaitingForSpeech,
		lastProcessedAt: now,
	}
}

// UpdateOCR accepts text if it differs from the previous OCR text.
// Returns true if the state changed.
func (s *Store) UpdateOCR(text string) bool {
	if text == s.previousOcrText {
		return false
	}
	s.ocrText = text
	s.previousOcrText = text
	return true
}

// UpdateSTT accepts a transcript revision if it differs from the previous
// one. A final with the same text as the preceding partial is a change.
// Returns true if the state changed.
func (s *Store) UpdateSTT(text string, final bool) bool {
	if s.hasStt && text == s.previousSttText && final == s.previousSttFinal {
		return false
	}
	s.sttText = text
	s.previousSttText = text
	s.previousSttFinal = final
	s.hasStt = true
	return true
}

// OCRText returns the last accepted OCR text.
func (s *Store) OCRText() string { return s.ocrText }

// STTText returns the last accepted STT text.
func (s *Store) STTText() string { return s.sttText }

// LastProcessedAt returns when a frame was last forwarded for analysis.
func (s *Store) LastProcessedAt() time.Time { return s.lastProcessedAt }

// MarkProcessed records that a frame was forwarded at t.
func (s *Store) MarkProcessed(t time.Time) { s.lastProcessedAt = t }

// StreamStopped reports whether a dropped video connection was recorded.
func (s *Store) StreamStopped() bool { return s.streamStopped }

// SetStreamStopped records the video connection state and the user-visible alert.
// Returns true if the flag changed.
func (s *Store) SetStreamStopped(stopped bool, alert string) bool {
	if s.streamStopped == stopped {
		return false
	}
	s.streamStopped = stopped
	s.alert = alert
	return true
}

// Alert returns the current user-visible alert, empty when healthy.
func (s *Store) Alert() string { return s.alert }

// Snapshot is an immutable copy of the store for readers on other goroutines.
type Snapshot struct {
	OCRText         string    `json:"ocrText"`
	STTText         string    `json:"sttText"`
	LastProcessedAt time.Time `json:"lastProcessedAt"`
	StreamStopped   bool      `json:"streamStopped"`
	Alert           string    `json:"alert,omitempty"`
}

// Snapshot copies the current state.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		OCRText:         s.ocrText,
		STTText:         s.sttText,
		LastProcessedAt: s.lastProcessedAt,
		StreamStopped:   s.streamStopped,
		Alert:           s.alert,
	}
}
