package video

import (
	"context"
	"image"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultBufferSize is the number of frames ChanSource keeps before dropping.
const DefaultBufferSize = 4

// ChanSource is an in-memory Source fed by Push.
// When the buffer is full the oldest frame is discarded so readers always
// see recent frames.
type ChanSource struct {
	frames    chan *Frame
	clock     clock.Clock
	seq       atomic.Uint64
	connected atomic.Bool
	dropped   atomic.Uint64
}

// NewChanSource creates a connected source buffering up to size frames.
func NewChanSource(size int, clk clock.Clock) *ChanSource {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if clk == nil {
		clk = clock.New()
	}
	s := &ChanSource{
		frames: make(chan *Frame, size),
		clock:  clk,
	}
	s.connected.Store(true)
	return s
}

// Push enqueues img as the next frame and returns its sequence number.
func (s *ChanSource) Push(img image.Image) uint64 {
	f := &Frame{
		Seq:       s.seq.Add(1),
		Timestamp: s.clock.Now(),
		Image:     img,
	}
	for {
		select {
		case s.frames <- f:
			return f.Seq
		default:
		}
		// Full: discard the oldest frame and retry.
		select {
		case <-s.frames:
			s.dropped.Add(1)
		default:
		}
	}
}

// GetFrame implements Source.
func (s *ChanSource) GetFrame(ctx context.Context, timeout time.Duration) (*Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	default:
	}

	timer := s.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case f := <-s.frames:
		return f, nil
	case <-timer.C:
		return nil, ErrNoFrame
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connected implements Source.
func (s *ChanSource) Connected() bool {
	return s.connected.Load()
}

// SetConnected marks the stream live or dropped.
func (s *ChanSource) SetConnected(connected bool) {
	s.connected.Store(connected)
}

// Dropped returns how many frames were discarded because the buffer was full.
func (s *ChanSource) Dropped() uint64 {
	return s.dropped.Load()
}
