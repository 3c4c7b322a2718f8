package expertflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelEmitterDeliversInOrder(t *testing.T) {
	e := NewChannelEmitter(8)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, Frame{Type: FrameContent, Content: "a"}))
	require.NoError(t, e.Emit(ctx, Frame{Type: FrameContent, Content: "b"}))
	require.NoError(t, e.Emit(ctx, Frame{Type: FrameDone}))
	e.Close()

	var frames []Frame
	for f := range e.Frames() {
		frames = append(frames, f)
	}

	require.Len(t, frames, 3)
	assert.Equal(t, "a", frames[0].Content)
	assert.Equal(t, "b", frames[1].Content)
	assert.Equal(t, FrameDone, frames[2].Type)
}

func TestChannelEmitterCloseIdempotent(t *testing.T) {
	e := NewChannelEmitter(1)
	assert.NotPanics(t, func() {
		e.Close()
		e.Close()
	})

	_, open := <-e.Frames()
	assert.False(t, open)
}

func TestChannelEmitterEmitAfterClose(t *testing.T) {
	e := NewChannelEmitter(1)
	e.Close()

	err := e.Emit(context.Background(), Frame{Type: FrameContent, Content: "late"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChannelEmitterEmitCancelledContext(t *testing.T) {
	// Unbuffered with no reader: only the context can unblock the send.
	e := NewChannelEmitter(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Emit(ctx, Frame{Type: FrameContent, Content: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
