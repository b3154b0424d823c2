package video

import "sync/atomic"

// LatestFrame is a Display that keeps only the most recent frame.
// Safe for one writer and any number of readers.
type LatestFrame struct {
	frame atomic.Pointer[Frame]
}

// NewLatestFrame creates an empty display.
func NewLatestFrame() *LatestFrame {
	return &LatestFrame{}
}

// Show implements Display. The frame is stored as an RGBA copy so readers
// never share pixels with the source.
func (d *LatestFrame) Show(f *Frame) {
	if f == nil || f.Image == nil {
		return
	}
	d.frame.Store(&Frame{Seq: f.Seq, Timestamp: f.Timestamp, Image: f.RGBA()})
}

// Latest returns the last shown frame, or nil before the first one.
func (d *LatestFrame) Latest() *Frame {
	return d.frame.Load()
}
