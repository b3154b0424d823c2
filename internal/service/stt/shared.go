package stt

import (
	"io"
	"sync"
)

const sharedChunkBytes = 32 * 1024

// SharedReader hands one stream that cannot be reopened, such as stdin, to
// successive sessions. A single goroutine reads the stream; each session reads
// through its own lease. Closing a lease unblocks its pending Read, and any
// bytes it had not yet returned go to the next lease.
type SharedReader struct {
	src    io.Reader
	start  sync.Once
	chunks chan []byte

	mu      sync.Mutex
	pending []byte
	err     error
}

// NewSharedReader wraps src. Reading starts with the first lease.
func NewSharedReader(src io.Reader) *SharedReader {
	return &SharedReader{src: src, chunks: make(chan []byte)}
}

// Open returns a new lease on the stream.
func (s *SharedReader) Open() io.ReadCloser {
	s.start.Do(func() { go s.readLoop() })
	return &lease{shared: s, closed: make(chan struct{})}
}

func (s *SharedReader) readLoop() {
	buf := make([]byte, sharedChunkBytes)
	for {
		n, err := s.src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.chunks <- chunk
		}
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			close(s.chunks)
			return
		}
	}
}

func (s *SharedReader) takePending() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.pending
	s.pending = nil
	return b
}

// putBack returns unread bytes ahead of anything already pending.
func (s *SharedReader) putBack(b []byte) {
	if len(b) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(append([]byte(nil), b...), s.pending...)
}

func (s *SharedReader) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return io.EOF
	}
	return s.err
}

type lease struct {
	shared *SharedReader
	closed chan struct{}

	mu     sync.Mutex
	buf    []byte
	isDone bool
}

func (l *lease) Read(p []byte) (int, error) {
	l.mu.Lock()
	if l.isDone {
		l.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if len(l.buf) == 0 {
		l.buf = l.shared.takePending()
	}
	if len(l.buf) > 0 {
		n := copy(p, l.buf)
		l.buf = l.buf[n:]
		l.mu.Unlock()
		return n, nil
	}
	l.mu.Unlock()

	var (
		chunk []byte
		ok    bool
	)
	select {
	case <-l.closed:
		return 0, io.ErrClosedPipe
	case chunk, ok = <-l.shared.chunks:
		if !ok {
			return 0, l.shared.terminalErr()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isDone {
		// Closed while the chunk was in flight.
		l.shared.putBack(chunk)
		return 0, io.ErrClosedPipe
	}
	n := copy(p, chunk)
	l.buf = chunk[n:]
	return n, nil
}

func (l *lease) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isDone {
		return nil
	}
	l.isDone = true
	close(l.closed)
	l.shared.putBack(l.buf)
	l.buf = nil
	return nil
}
