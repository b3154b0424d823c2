// Package models defines the stream events exchanged inside the service and
// the change events published to Kafka.
package models

// Event types published to Kafka.
const (
	EventTypeOCRUpdated        = "stream.ocr.updated"
	EventTypeTranscriptPartial = "stream.transcript.partial"
	EventTypeTranscriptFinal   = "stream.transcript.final"
)

// TranscriptUpdate is published when an accepted STT revision changed the state.
type TranscriptUpdate struct {
	EventID    string  `json:"eventId"`
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	SegmentID  string  `json:"segmentId"`
	Timestamp  int64   `json:"timestamp"`
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence,omitempty"`
}

// OCRUpdate is published when accepted OCR text changed the state.
type OCRUpdate struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	FrameSeq  uint64 `json:"frameSeq"`
	Text      string `json:"text"`
}
