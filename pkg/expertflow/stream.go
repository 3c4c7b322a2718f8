package expertflow

import (
	"context"
	"sync"
)

// FrameType discriminates stream frames.
type FrameType string

// Stream frame types.
const (
	// FrameContent carries a chunk of assistant response text.
	FrameContent FrameType = "content"
	// FrameError reports a mid-stream failure. It is the last frame.
	FrameError FrameType = "error"
	// FrameDone marks successful completion. It is the last frame.
	FrameDone FrameType = "done"
)

// Frame is one unit of streamed output. Only assistant response text is
// ever streamed; internal node traffic (retrieval, condensation,
// summaries) never produces frames.
type Frame struct {
	Type    FrameType `json:"type"`
	Content string    `json:"content,omitempty"`
	Err     error     `json:"-"`
}

// Emitter receives response frames during a streaming turn.
//
// The engine guarantees ordering: zero or more FrameContent frames,
// then exactly one terminal frame (FrameDone or FrameError), then Close.
type Emitter interface {
	// Emit delivers one frame. A returned error aborts the stream.
	Emit(ctx context.Context, frame Frame) error

	// Close signals that no further frames will arrive.
	// Safe to call more than once.
	Close()
}

// ChannelEmitter adapts a Go channel to the Emitter interface, for
// callers that consume frames with a range loop.
type ChannelEmitter struct {
	ch   chan Frame
	mu   sync.Mutex
	done bool
}

// NewChannelEmitter creates an emitter with the given channel buffer.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	return &ChannelEmitter{ch: make(chan Frame, buffer)}
}

// Frames returns the receive side of the emitter.
// The channel is closed after the terminal frame.
func (e *ChannelEmitter) Frames() <-chan Frame {
	return e.ch
}

// Emit implements Emitter.
func (e *ChannelEmitter) Emit(ctx context.Context, frame Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return context.Canceled
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case e.ch <- frame:
		return nil
	}
}

// Close implements Emitter.
func (e *ChannelEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return
	}
	e.done = true
	close(e.ch)
}

// Compile-time interface check.
var _ Emitter = (*ChannelEmitter)(nil)
