package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterSink(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 11, 12, 345_000_000, time.Local)
	frame := Frame{Seq: 7, At: at, Data: []byte{0x01, 0xab, 0xff}}

	tests := []struct {
		format string
		want   string
	}{
		{"hex", "10:11:12.345 #7 [3] 01abff\n"},
		{"", "10:11:12.345 #7 [3] 01abff\n"},
		{"HEX", "10:11:12.345 #7 [3] 01abff\n"},
		{"raw", "\x01\xab\xff"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			sink, err := NewWriterSink(&buf, tt.format)
			require.NoError(t, err)
			require.NoError(t, sink.WriteFrame(frame))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestWriterSinkRejectsUnknownFormat(t *testing.T) {
	_, err := NewWriterSink(&bytes.Buffer{}, "base64")
	assert.ErrorContains(t, err, "unsupported frame format")
}

func TestFrameSinkFunc(t *testing.T) {
	var got uint64
	sink := FrameSinkFunc(func(f Frame) error {
		got = f.Seq
		return nil
	})
	require.NoError(t, sink.WriteFrame(Frame{Seq: 3}))
	assert.Equal(t, uint64(3), got)
}
