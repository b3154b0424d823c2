package segment

import (
	"github.com/rs/zerolog"

	"ai-stream-fusion-service/internal/observability/logging"
)

// Tracker follows the current utterance of the transcript stream. Each
// revision is offered to the current utterance first; when its lifecycle
// rejects the transition (final already emitted, closed or dropped) a new
// utterance is opened for it.
type Tracker struct {
	gen       *Generator
	sessionID string
	current   *Lifecycle
	log       zerolog.Logger
}

// NewTracker creates a tracker issuing IDs prefixed by sessionID.
func NewTracker(sessionID string) *Tracker {
	return &Tracker{
		gen:       New(),
		sessionID: sessionID,
		log:       logging.WithSession(sessionID).With().Str("component", "segment-tracker").Logger(),
	}
}

// emit applies transition to the current utterance, rolling over to a new
// one when there is none or the transition is rejected.
func (t *Tracker) emit(kind string, transition func(*Lifecycle) error) *Lifecycle {
	if t.current != nil {
		err := transition(t.current)
		if err == nil {
			return t.current
		}
		t.log.Debug().Err(err).
			Str("segmentId", t.current.ID()).
			Str("state", t.current.State().String()).
			Str("revision", kind).
			Msg("Utterance rejected revision, opening a new one")
	}

	t.current = NewLifecycle(t.gen.Next(t.sessionID))
	if err := transition(t.current); err != nil {
		t.log.Warn().Err(err).Str("segmentId", t.current.ID()).Msg("New utterance rejected revision")
	}
	return t.current
}

// Partial returns the ID of the utterance a partial belongs to.
func (t *Tracker) Partial() string {
	return t.emit("partial", (*Lifecycle).EmitPartial).ID()
}

// Final returns the ID of the utterance a final completes and closes it.
func (t *Tracker) Final() string {
	lc := t.emit("final", (*Lifecycle).EmitFinal)
	lc.Close()
	return lc.ID()
}

// Drop abandons the open utterance, if any. Returns its ID, or "" if none
// was open.
func (t *Tracker) Drop() string {
	if t.current == nil || !t.current.Drop() {
		return ""
	}
	return t.current.ID()
}

// Current returns the open utterance, or nil.
func (t *Tracker) Current() *Lifecycle {
	if t.current == nil || t.current.State() != StateOpen {
		return nil
	}
	return t.current
}
