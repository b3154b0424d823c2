package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func testImage(c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestChanSource_PushAndGet(t *testing.T) {
	s := NewChanSource(2, nil)
	s.Push(testImage(color.White))

	f, err := s.GetFrame(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Seq != 1 {
		t.Errorf("expected seq 1, got %d", f.Seq)
	}
	if !s.Connected() {
		t.Error("expected new source to be connected")
	}
}

func TestChanSource_Timeout(t *testing.T) {
	s := NewChanSource(1, nil)

	_, err := s.GetFrame(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, ErrNoFrame) {
		t.Errorf("expected ErrNoFrame, got %v", err)
	}
}

func TestChanSource_TimeoutFollowsClock(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		push    bool
		wantErr error
	}{
		{name: "timeout elapses", advance: time.Second, wantErr: ErrNoFrame},
		{name: "frame before timeout", advance: 500 * time.Millisecond, push: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := clock.NewMock()
			s := NewChanSource(1, mock)

			type result struct {
				f   *Frame
				err error
			}
			done := make(chan result, 1)
			go func() {
				f, err := s.GetFrame(context.Background(), time.Second)
				done <- result{f, err}
			}()

			// Nothing returns while the mock clock stands still.
			select {
			case r := <-done:
				t.Fatalf("GetFrame returned before the clock moved: %+v", r)
			case <-time.After(20 * time.Millisecond):
			}

			if tt.push {
				mock.Add(tt.advance)
				s.Push(testImage(color.White))
			}

			deadline := time.After(2 * time.Second)
			for {
				if !tt.push {
					mock.Add(tt.advance)
				}
				select {
				case r := <-done:
					if !errors.Is(r.err, tt.wantErr) {
						t.Errorf("expected %v, got %v", tt.wantErr, r.err)
					}
					if tt.wantErr == nil && (r.f == nil || r.f.Seq != 1) {
						t.Errorf("expected frame seq 1, got %+v", r.f)
					}
					return
				case <-deadline:
					t.Fatal("GetFrame did not return")
				case <-time.After(10 * time.Millisecond):
				}
			}
		})
	}
}

func TestChanSource_ContextCancelled(t *testing.T) {
	s := NewChanSource(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetFrame(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestChanSource_FullDropsOldest(t *testing.T) {
	s := NewChanSource(2, nil)
	s.Push(testImage(color.White))
	s.Push(testImage(color.White))
	s.Push(testImage(color.Black))

	if s.Dropped() != 1 {
		t.Errorf("expected 1 dropped frame, got %d", s.Dropped())
	}

	f, _ := s.GetFrame(context.Background(), 10*time.Millisecond)
	if f.Seq != 2 {
		t.Errorf("expected oldest remaining seq 2, got %d", f.Seq)
	}
	f, _ = s.GetFrame(context.Background(), 10*time.Millisecond)
	if f.Seq != 3 {
		t.Errorf("expected seq 3, got %d", f.Seq)
	}
}

func TestChanSource_SetConnected(t *testing.T) {
	s := NewChanSource(1, nil)
	s.SetConnected(false)
	if s.Connected() {
		t.Error("expected source to report disconnected")
	}
}

func TestFrame_JPEGRoundTrip(t *testing.T) {
	f := &Frame{Image: testImage(color.White)}

	data, err := f.JPEG(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("encoded frame is not a JPEG: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Errorf("expected width 8, got %d", img.Bounds().Dx())
	}
}

func TestFrame_JPEGEmpty(t *testing.T) {
	var f *Frame
	if _, err := f.JPEG(90); err == nil {
		t.Error("expected error for nil frame")
	}
}

func TestFrame_RGBA(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
	}{
		{"nrgba source", testImage(color.Black)},
		{"rgba source", image.NewRGBA(image.Rect(0, 0, 8, 8))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Frame{Image: tt.img}
			rgba := f.RGBA()
			if rgba.Bounds() != tt.img.Bounds() {
				t.Errorf("expected bounds %v, got %v", tt.img.Bounds(), rgba.Bounds())
			}
			if src, ok := tt.img.(*image.RGBA); ok && &src.Pix[0] == &rgba.Pix[0] {
				t.Error("expected a copy, got the source pixels")
			}
			wantR, wantG, wantB, wantA := tt.img.At(1, 1).RGBA()
			r, g, b, a := rgba.At(1, 1).RGBA()
			if r != wantR || g != wantG || b != wantB || a != wantA {
				t.Errorf("expected %d %d %d %d, got %d %d %d %d", wantR, wantG, wantB, wantA, r, g, b, a)
			}
		})
	}
}

func TestLatestFrame(t *testing.T) {
	d := NewLatestFrame()
	if d.Latest() != nil {
		t.Error("expected nil before first frame")
	}

	d.Show(&Frame{Seq: 1, Image: testImage(color.White)})
	d.Show(&Frame{Seq: 2, Image: testImage(color.White)})
	d.Show(&Frame{Seq: 3})
	d.Show(nil)

	if got := d.Latest(); got == nil || got.Seq != 2 {
		t.Errorf("expected latest seq 2, got %+v", got)
	}
}

func TestLatestFrame_KeepsDisplayCopy(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}
	d := NewLatestFrame()
	d.Show(&Frame{Seq: 1, Image: src})

	for i := range src.Pix {
		src.Pix[i] = 0
	}

	got := d.Latest()
	if _, ok := got.Image.(*image.RGBA); !ok {
		t.Fatalf("expected display layout, got %T", got.Image)
	}
	if r, _, _, a := got.Image.At(2, 2).RGBA(); r != 0xffff || a != 0xffff {
		t.Errorf("expected shown pixels unaffected by source reuse, got r=%d a=%d", r, a)
	}
}

func mjpegHandler(t *testing.T, frames int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		w.WriteHeader(http.StatusOK)

		for i := 0; i < frames; i++ {
			part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
			if err != nil {
				t.Errorf("create part: %v", err)
				return
			}
			if err := jpeg.Encode(part, testImage(color.White), nil); err != nil {
				t.Errorf("encode: %v", err)
				return
			}
		}
		mw.Close()
	}
}

func TestMJPEGSource_ReadsFrames(t *testing.T) {
	srv := httptest.NewServer(mjpegHandler(t, 2))
	defer srv.Close()

	s := NewMJPEGSource(MJPEGConfig{URL: srv.URL, BufferSize: 4})
	if s.Connected() {
		t.Error("expected source to start disconnected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	for want := uint64(1); want <= 2; want++ {
		f, err := s.GetFrame(ctx, 2*time.Second)
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", want, err)
		}
		if f.Seq != want {
			t.Errorf("expected seq %d, got %d", want, f.Seq)
		}
	}
}

func TestMJPEGSource_RejectsNonMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	s := NewMJPEGSource(MJPEGConfig{URL: srv.URL})
	if connected, err := s.stream(context.Background()); err == nil || connected {
		t.Errorf("expected rejected connection, got connected=%v err=%v", connected, err)
	}
	if s.Connected() {
		t.Error("expected source to stay disconnected")
	}
}

func TestMJPEGSource_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewMJPEGSource(MJPEGConfig{URL: srv.URL})
	if connected, err := s.stream(context.Background()); err == nil || connected {
		t.Errorf("expected rejected connection, got connected=%v err=%v", connected, err)
	}
}

func TestMJPEGSource_BackoffResetsAfterConnection(t *testing.T) {
	mock := clock.NewMock()
	serve := mjpegHandler(t, 2)

	var (
		mu       sync.Mutex
		requests []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, mock.Now())
		n := len(requests)
		mu.Unlock()
		if n == 4 {
			serve(w, r)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewMJPEGSource(MJPEGConfig{
		URL:        srv.URL,
		BufferSize: 4,
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 10 * time.Second,
		Clock:      mock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Time only moves when the pending backoff timer fires, so the gap
	// between requests is exactly the backoff used.
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		500 * time.Millisecond,
		time.Second,
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(requests)
		mu.Unlock()
		if n > len(want) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %d requests", n)
		}
		mock.WaitForAllTimers()
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, w := range want {
		t.Run(fmt.Sprintf("reconnect %d", i+1), func(t *testing.T) {
			if got := requests[i+1].Sub(requests[i]); got != w {
				t.Errorf("expected backoff %v, got %v", w, got)
			}
		})
	}
}

func TestRunSynthetic_PushesFrames(t *testing.T) {
	src := NewChanSource(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunSynthetic(ctx, src, 100, nil) }()

	f, err := src.GetFrame(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("expected a synthetic frame, got %v", err)
	}
	if b := f.Image.Bounds(); b.Dx() != SyntheticWidth || b.Dy() != SyntheticHeight {
		t.Errorf("unexpected frame size %v", b)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTestPattern_BarMoves(t *testing.T) {
	a, b := testPattern(0), testPattern(1)
	if a.RGBAAt(0, 0) == b.RGBAAt(0, 0) {
		t.Error("expected the bar to move between frames")
	}
}
