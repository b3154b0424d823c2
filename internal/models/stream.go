package models

// StreamEvent is a recognition-engine notification handed from callback
// goroutines to the coordinator. The set of variants is closed:
// PartialTranscript, FinalTranscript, SessionStarted, SessionStopped and
// RecognitionError.
//
// Session is the generation of the recognition session that produced the
// event; lifecycle events from a replaced session are ignored.
type StreamEvent interface {
	SessionGeneration() uint64
	isStreamEvent()
}

// PartialTranscript is a provisional, revisable recognition result.
type PartialTranscript struct {
	Session uint64
	Text    string
}

// FinalTranscript is a recognition result the engine will not revise.
type FinalTranscript struct {
	Session    uint64
	Text       string
	Confidence float64
}

// SessionStarted reports that the engine began delivering results.
type SessionStarted struct {
	Session uint64
}

// SessionStopped reports that the engine ended the session.
type SessionStopped struct {
	Session uint64
}

// RecognitionError reports an engine failure.
type RecognitionError struct {
	Session uint64
	Message string
}

func (e PartialTranscript) SessionGeneration() uint64 { return e.Session }
func (e FinalTranscript) SessionGeneration() uint64   { return e.Session }
func (e SessionStarted) SessionGeneration() uint64    { return e.Session }
func (e SessionStopped) SessionGeneration() uint64    { return e.Session }
func (e RecognitionError) SessionGeneration() uint64  { return e.Session }

func (PartialTranscript) isStreamEvent() {}
func (FinalTranscript) isStreamEvent()   {}
func (SessionStarted) isStreamEvent()    {}
func (SessionStopped) isStreamEvent()    {}
func (RecognitionError) isStreamEvent()  {}
