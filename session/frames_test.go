package session

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFrameQueueBounds(t *testing.T) {
	_, err := NewFrameQueue(0)
	assert.Error(t, err, "zero size MUST be rejected")

	_, err = NewFrameQueue(MaxFrameBuffer + 1)
	assert.Error(t, err, "oversized buffer MUST be rejected")

	q, err := NewFrameQueue(16)
	require.NoError(t, err)
	assert.NotNil(t, q)
}

func TestFrameQueueDeliversInOrder(t *testing.T) {
	q, err := NewFrameQueue(16)
	require.NoError(t, err)

	src := []byte{0xde, 0xad}
	require.NoError(t, q.Push(src))
	require.NoError(t, q.Push([]byte{0xbe, 0xef}))
	src[0] = 0x00

	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatal("Ready MUST fire after Push")
	}

	var got []Frame
	n, err := q.Drain(func(f Frame) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, got, 2)
	assert.Equal(t, []byte{0xde, 0xad}, got[0].Data, "frame data MUST be copied on Push")
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(2), got[1].Seq)
	assert.False(t, got[0].At.IsZero())

	m := q.Metrics()
	assert.Equal(t, int64(2), m.Received)
	assert.Zero(t, m.Errors)
}

func TestFrameQueueOverwritesOldest(t *testing.T) {
	// GOAL: Verify a slow consumer loses the oldest frames, never the newest
	//
	// TEST SCENARIO: Push 100 frames into an 8-slot queue → fewer than 100 drained, newest last, order kept
	q, err := NewFrameQueue(8)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, q.Push([]byte{byte(i)}))
	}

	var seqs []uint64
	_, err = q.Drain(func(f Frame) error {
		seqs = append(seqs, f.Seq)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, seqs)
	assert.Less(t, len(seqs), 100, "overflow MUST drop frames")
	assert.Equal(t, uint64(100), seqs[len(seqs)-1], "newest frame MUST survive overflow")
	for i := 1; i < len(seqs); i++ {
		assert.Less(t, seqs[i-1], seqs[i], "drained frames MUST stay in order")
	}
	assert.Equal(t, int64(100), q.Metrics().Received)
}

func TestFrameQueueDrainStopsOnError(t *testing.T) {
	q, err := NewFrameQueue(8)
	require.NoError(t, err)
	require.NoError(t, q.Push([]byte("a")))
	require.NoError(t, q.Push([]byte("b")))

	boom := errors.New("sink closed")
	n, err := q.Drain(func(Frame) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)

	var rest bytes.Buffer
	n, err = q.Drain(func(f Frame) error {
		rest.Write(f.Data)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "b", rest.String(), "undelivered frames MUST remain queued")
}
