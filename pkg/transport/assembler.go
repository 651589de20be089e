package transport

import "github.com/robotalks/bootlink/pkg/slip"

// FrameAssembler extracts frames from bytes accumulated across reads.
// Bytes not yet part of a complete frame are retained as left-over.
type FrameAssembler struct {
	leftOver []byte
}

// Extract scans data for a complete frame. It returns the frame, or an
// empty frame if none is complete. Either way the unconsumed bytes
// replace the left-over.
func (a *FrameAssembler) Extract(data []byte) []byte {
	frame, rest := slip.Decode(data)
	a.leftOver = rest
	return frame
}

// Retain replaces the left-over with data.
func (a *FrameAssembler) Retain(data []byte) {
	a.leftOver = data
}

// Take returns the left-over and clears it.
func (a *FrameAssembler) Take() []byte {
	data := a.leftOver
	a.leftOver = nil
	return data
}

// LeftOver returns the retained bytes without clearing them.
func (a *FrameAssembler) LeftOver() []byte {
	return a.leftOver
}

// Reset discards the left-over.
func (a *FrameAssembler) Reset() {
	a.leftOver = nil
}
