package session

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
)

// FrameSink receives frames from a running session. Sinks are called from the
// session's consume loop, one frame at a time.
type FrameSink interface {
	WriteFrame(Frame) error
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(Frame) error

func (f FrameSinkFunc) WriteFrame(frame Frame) error { return f(frame) }

// Frame output formats.
const (
	FormatHex = "hex"
	FormatRaw = "raw"
)

// NewWriterSink writes frames to w in the given format. "hex" prints one
// timestamped line per frame; "raw" writes the bytes unchanged.
func NewWriterSink(w io.Writer, format string) (FrameSink, error) {
	switch strings.ToLower(format) {
	case "", FormatHex:
		return &hexSink{w: w}, nil
	case FormatRaw:
		return &rawSink{w: w}, nil
	default:
		return nil, fmt.Errorf("unsupported frame format %q (use hex or raw)", format)
	}
}

type hexSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *hexSink) WriteFrame(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s #%d [%d] %s\n",
		frame.At.Format("15:04:05.000"), frame.Seq, len(frame.Data), hex.EncodeToString(frame.Data))
	return err
}

type rawSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *rawSink) WriteFrame(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(frame.Data)
	return err
}
