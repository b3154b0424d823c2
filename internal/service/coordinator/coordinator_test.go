package coordinator

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"

	"ai-stream-fusion-service/internal/artifact"
	"ai-stream-fusion-service/internal/debuglog"
	"ai-stream-fusion-service/internal/models"
	"ai-stream-fusion-service/internal/queue"
	"ai-stream-fusion-service/internal/service/session"
	"ai-stream-fusion-service/internal/service/stt"
	"ai-stream-fusion-service/internal/state"
)

type fakeSession struct {
	cb      stt.Callback
	stopped int
}

func (f *fakeSession) Start(_ context.Context, cb stt.Callback) error {
	f.cb = cb
	return nil
}

func (f *fakeSession) Stop() error {
	f.stopped++
	return nil
}

type fakeSampler struct {
	ticks    int
	backoffs int
	onTick   func()
}

func (f *fakeSampler) Tick(context.Context) {
	f.ticks++
	if f.onTick != nil {
		f.onTick()
	}
}

func (f *fakeSampler) Backoff(context.Context) { f.backoffs++ }

type fakeStream struct {
	connected bool
}

func (f *fakeStream) Connected() bool { return f.connected }

type countingWriter struct {
	inner  *artifact.Writer
	writes int
	err    error
}

func (w *countingWriter) WriteSTT(text string, final bool) error {
	w.writes++
	if w.err != nil {
		return w.err
	}
	return w.inner.WriteSTT(text, final)
}

type fakePublisher struct {
	events []models.TranscriptUpdate
}

func (p *fakePublisher) PublishTranscript(_ context.Context, ev models.TranscriptUpdate) error {
	p.events = append(p.events, ev)
	return nil
}

type fakeHealth struct {
	serving []bool
}

func (h *fakeHealth) SetServing(serving bool) { h.serving = append(h.serving, serving) }

type harness struct {
	coord     *Coordinator
	clock     *clock.Mock
	speech    *queue.Queue[models.StreamEvent]
	debugQ    *queue.Queue[string]
	sup       *session.Supervisor
	sessions  []*fakeSession
	sampler   *fakeSampler
	stream    *fakeStream
	store     *state.Store
	log       *debuglog.Log
	writer    *countingWriter
	publisher *fakePublisher
	health    *fakeHealth
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	w, err := artifact.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open artifacts: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	clk := clock.NewMock()
	h := &harness{
		clock:     clk,
		speech:    queue.New[models.StreamEvent](64),
		debugQ:    queue.New[string](64),
		sampler:   &fakeSampler{},
		stream:    &fakeStream{connected: true},
		store:     state.New(clk.Now()),
		log:       debuglog.NewWithCapacity(clk, 50),
		writer:    &countingWriter{inner: w},
		publisher: &fakePublisher{},
		health:    &fakeHealth{},
	}
	factory := func(context.Context) (stt.Session, error) {
		s := &fakeSession{}
		h.sessions = append(h.sessions, s)
		return s, nil
	}
	h.sup = session.New(factory, h.speech, h.debugQ, clk, session.DefaultConfig(), nil)
	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("start supervisor: %v", err)
	}

	h.coord = New(Deps{
		Speech:     h.speech,
		Debug:      h.debugQ,
		Supervisor: h.sup,
		Sampler:    h.sampler,
		Stream:     h.stream,
		Store:      h.store,
		Log:        h.log,
		Writer:     h.writer,
		Publisher:  h.publisher,
		Health:     h.health,
		Clock:      clk,
		SessionID:  "run-1",
	})
	return h
}

func (h *harness) session() *fakeSession {
	return h.sessions[len(h.sessions)-1]
}

func (h *harness) tick() {
	h.coord.Tick(context.Background())
}

func (h *harness) messages() []string {
	var out []string
	for _, e := range h.log.Entries() {
		out = append(out, e.Message)
	}
	return out
}

func (h *harness) count(msg string) int {
	n := 0
	for _, m := range h.messages() {
		if m == msg {
			n++
		}
	}
	return n
}

func TestCoordinator_DuplicatePartialIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.session().cb.OnSessionStarted()

	h.session().cb.OnPartial("hello")
	h.session().cb.OnPartial("hello")
	h.tick()

	if h.writer.writes != 1 {
		t.Errorf("expected one write, got %d", h.writer.writes)
	}
	if n := h.count("STT partial update: hello"); n != 1 {
		t.Errorf("expected one debug entry, got %d", n)
	}
	if len(h.publisher.events) != 1 {
		t.Errorf("expected one published event, got %d", len(h.publisher.events))
	}
	if h.store.STTText() != "hello" {
		t.Errorf("unexpected sttText %q", h.store.STTText())
	}
}

func TestCoordinator_TranscriptMergeLaw(t *testing.T) {
	h := newHarness(t)
	cb := h.session().cb
	cb.OnSessionStarted()

	cb.OnPartial("hel")
	cb.OnPartial("hello")
	cb.OnFinal("hello world", 0.92)
	h.tick()

	data, err := os.ReadFile(h.writer.inner.STTPath())
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "hello world (final)\n" {
		t.Errorf("unexpected artifact %q", data)
	}

	cb.OnPartial("next")
	cb.OnFinal("next one", 0.8)
	h.tick()

	data, _ = os.ReadFile(h.writer.inner.STTPath())
	if string(data) != "hello world (final)\nnext one (final)\n" {
		t.Errorf("unexpected artifact %q", data)
	}
}

func TestCoordinator_PublishesTranscriptEvents(t *testing.T) {
	h := newHarness(t)
	cb := h.session().cb
	cb.OnSessionStarted()
	cb.OnPartial("hi")
	cb.OnFinal("hi there", 0.75)
	h.tick()

	if len(h.publisher.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(h.publisher.events))
	}
	partial, final := h.publisher.events[0], h.publisher.events[1]
	if partial.EventType != models.EventTypeTranscriptPartial || partial.Final {
		t.Errorf("unexpected partial event %+v", partial)
	}
	if final.EventType != models.EventTypeTranscriptFinal || !final.Final || final.Confidence != 0.75 {
		t.Errorf("unexpected final event %+v", final)
	}
	if partial.SegmentID != "run-1-utt-1" || final.SegmentID != "run-1-utt-1" {
		t.Errorf("expected both revisions on the first utterance, got %q and %q", partial.SegmentID, final.SegmentID)
	}
	if partial.EventID == "" || partial.EventID == final.EventID {
		t.Error("expected unique event IDs")
	}
}

func TestCoordinator_PartialAfterRestartIsProcessed(t *testing.T) {
	h := newHarness(t)
	first := h.session()
	first.cb.OnSessionStarted()
	first.cb.OnPartial("before")
	h.tick()

	first.cb.OnError(errors.New("network reset"))
	h.tick()

	if len(h.sessions) != 2 {
		t.Fatalf("expected a restarted session, got %d", len(h.sessions))
	}
	second := h.session()
	second.cb.OnSessionStarted()
	second.cb.OnPartial("after")
	h.tick()

	if h.store.STTText() != "after" {
		t.Errorf("expected partial from restarted session, got %q", h.store.STTText())
	}
	if h.sup.State() != session.StateRunning {
		t.Errorf("expected running, got %s", h.sup.State())
	}
	if len(h.publisher.events) != 2 || h.publisher.events[1].SegmentID != "run-1-utt-2" {
		t.Errorf("expected the dropped utterance to open a new segment, got %+v", h.publisher.events)
	}
}

func TestCoordinator_HeartbeatOnlyWhenIdle(t *testing.T) {
	h := newHarness(t)
	h.tick() // drains the supervisor's start message

	h.tick()
	h.tick()
	if n := h.count(MsgHeartbeat); n != 1 {
		t.Errorf("expected consecutive heartbeats deduped to one, got %d", n)
	}

	h.sampler.onTick = func() { h.coord.debug("something happened") }
	h.tick()
	h.sampler.onTick = nil
	h.tick()

	msgs := h.messages()
	if msgs[len(msgs)-1] != MsgHeartbeat || msgs[len(msgs)-2] != "something happened" {
		t.Errorf("unexpected tail %v", msgs)
	}
}

func TestCoordinator_StreamStoppedLoggedOnce(t *testing.T) {
	h := newHarness(t)
	h.stream.connected = false

	for i := 0; i < 5; i++ {
		h.tick()
	}

	if n := h.count(MsgStreamStopped); n != 1 {
		t.Errorf("expected stream stop logged once, got %d", n)
	}
	if !h.store.StreamStopped() || h.store.Alert() != AlertStreamStopped {
		t.Error("expected stopped flag and alert")
	}
	if h.sampler.ticks != 0 || h.sampler.backoffs != 5 {
		t.Errorf("expected sampler skipped with backoff, got ticks=%d backoffs=%d", h.sampler.ticks, h.sampler.backoffs)
	}
	if last := h.health.serving[len(h.health.serving)-1]; last {
		t.Error("expected not serving while stream is down")
	}

	h.stream.connected = true
	h.tick()
	h.tick()

	if n := h.count(MsgStreamResumed); n != 1 {
		t.Errorf("expected resume logged once, got %d", n)
	}
	if h.store.StreamStopped() || h.store.Alert() != "" {
		t.Error("expected alert cleared")
	}
	if h.sampler.ticks != 2 {
		t.Errorf("expected sampler to resume, got %d ticks", h.sampler.ticks)
	}
}

func TestCoordinator_RecoversFromPanic(t *testing.T) {
	h := newHarness(t)
	h.sampler.onTick = func() { panic("decoder exploded") }

	h.tick()

	if n := h.count("Error in frame sampler: decoder exploded"); n != 1 {
		t.Errorf("expected panic recorded in debug log, got %v", h.messages())
	}

	h.sampler.onTick = nil
	h.session().cb.OnSessionStarted()
	h.session().cb.OnPartial("still alive")
	h.tick()
	if h.store.STTText() != "still alive" {
		t.Errorf("expected loop to keep working, got %q", h.store.STTText())
	}
}

func TestCoordinator_DrainsDebugQueue(t *testing.T) {
	h := newHarness(t)
	h.debugQ.Push("from producer")
	h.tick()

	found := false
	for _, m := range h.messages() {
		if m == "from producer" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected producer message, got %v", h.messages())
	}
	if h.debugQ.Len() != 0 {
		t.Error("expected debug queue drained")
	}
}

func TestCoordinator_WriteErrorIsReported(t *testing.T) {
	h := newHarness(t)
	h.writer.err = errors.New("disk full")
	h.session().cb.OnSessionStarted()
	h.session().cb.OnPartial("hi")
	h.tick()

	if h.store.STTText() != "hi" {
		t.Errorf("expected state updated despite write failure, got %q", h.store.STTText())
	}
	if n := h.count("Error saving STT text: disk full"); n != 1 {
		t.Errorf("expected write error in debug log, got %v", h.messages())
	}
}

func TestCoordinator_SnapshotPublished(t *testing.T) {
	h := newHarness(t)
	if snap := h.coord.Snapshot(); snap.Tick != 0 || snap.State.STTText != state.WaitingForSpeech {
		t.Errorf("unexpected initial snapshot %+v", snap)
	}

	h.session().cb.OnSessionStarted()
	h.session().cb.OnPartial("hey")
	h.tick()

	snap := h.coord.Snapshot()
	if snap.Tick != 1 || snap.State.STTText != "hey" || snap.SpeechSession != "running" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if len(snap.Debug) == 0 {
		t.Error("expected debug entries in snapshot")
	}
	if !h.health.serving[0] {
		t.Error("expected serving while stream and speech are healthy")
	}
}

func TestCoordinator_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.sampler.onTick = func() {
		if h.sampler.ticks == 3 {
			cancel()
		}
	}

	if err := h.coord.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.sampler.ticks != 3 {
		t.Errorf("expected 3 ticks before cancellation, got %d", h.sampler.ticks)
	}
	if !strings.Contains(strings.Join(h.messages(), "|"), "Starting speech recognition") {
		t.Error("expected supervisor messages drained")
	}
}
