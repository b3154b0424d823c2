// Package schema validates change events before they are published.
package schema

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"ai-stream-fusion-service/internal/models"
)

// ErrUnknownEvent is returned for values that are not change events.
var ErrUnknownEvent = errors.New("unknown event type")

// Validator checks the required fields of published events.
type Validator struct{}

// New creates a validator.
func New() *Validator {
	return &Validator{}
}

// Validate returns every missing or inconsistent field of event.
func (v *Validator) Validate(event any) error {
	var result *multierror.Error

	require := func(field, value string) {
		if value == "" {
			result = multierror.Append(result, fmt.Errorf("%s is required", field))
		}
	}

	switch e := event.(type) {
	case models.OCRUpdate:
		require("eventId", e.EventID)
		require("sessionId", e.SessionID)
		require("text", e.Text)
		if e.EventType != models.EventTypeOCRUpdated {
			result = multierror.Append(result, fmt.Errorf("eventType %q is not %s", e.EventType, models.EventTypeOCRUpdated))
		}
		if e.Timestamp <= 0 {
			result = multierror.Append(result, errors.New("timestamp must be positive"))
		}

	case models.TranscriptUpdate:
		require("eventId", e.EventID)
		require("sessionId", e.SessionID)
		require("segmentId", e.SegmentID)
		require("text", e.Text)
		want := models.EventTypeTranscriptPartial
		if e.Final {
			want = models.EventTypeTranscriptFinal
		}
		if e.EventType != want {
			result = multierror.Append(result, fmt.Errorf("eventType %q does not match final=%v", e.EventType, e.Final))
		}
		if e.Timestamp <= 0 {
			result = multierror.Append(result, errors.New("timestamp must be positive"))
		}

	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}

	return result.ErrorOrNil()
}
