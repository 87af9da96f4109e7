// Package ptyio exposes notification frames on a pseudo-terminal, so a
// decoder that expects a serial port can open the slave side directly.
//
// # Basic Usage
//
//	sink, err := ptyio.Open(&ptyio.Options{BufferCap: 64 * 1024, Link: "/tmp/swlink", Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//	// sink.Name() -> "/dev/pts/X"
//
//	// Queue bytes for the slave (non-blocking, drops when the reader lags):
//	n, err := sink.Write(frame)
//
// Bytes are queued in a ring buffer and flushed to the master by a
// background loop that polls for writability. The poll timeout bounds the
// shutdown latency of Close.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/swlink/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	// DefaultBufferCap is the number of bytes held while the slave reader lags.
	DefaultBufferCap = 64 * 1024
	// DefaultPollTimeout bounds how long the flush loop waits for writability.
	DefaultPollTimeout = 50 * time.Millisecond
)

// Options configures Open. Zero values use the defaults above.
type Options struct {
	BufferCap   int
	PollTimeout time.Duration
	// Link is an optional symlink created to the slave path and removed on Close
	Link    string
	Logger  *logrus.Logger
	OnError func(error) // called at most once when the flush loop fails
}

// Stats provides runtime counters useful for monitoring backpressure.
type Stats struct {
	Queued   int
	Capacity int
	Dropped  uint64 // bytes refused because the buffer was full
	Written  uint64 // bytes handed to the master
}

// Sink is a PTY master fed from a ring buffer. It implements io.WriteCloser.
type Sink struct {
	logger      *logrus.Logger
	master      *os.File
	masterFd    int32
	slave       *os.File
	name        string
	link        string
	pollTimeout time.Duration
	onError     func(error)
	errOnce     sync.Once

	buf *ringbuffer.RingBuffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed  atomic.Bool
	dropped atomic.Uint64
	written atomic.Uint64
}

var _ io.WriteCloser = (*Sink)(nil)

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Open creates the PTY pair and starts flushing.
func Open(opts *Options) (*Sink, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}
	capacity := opts.BufferCap
	if capacity <= 0 {
		capacity = DefaultBufferCap
	}
	poll := opts.PollTimeout
	if poll <= 0 {
		poll = DefaultPollTimeout
	}

	master, slave, masterFd, err := createPTY()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		logger:      logger,
		master:      master,
		masterFd:    int32(masterFd),
		slave:       slave, // held open so the slave node survives reader reconnects
		name:        slave.Name(),
		pollTimeout: poll,
		onError:     opts.OnError,
		buf:         ringbuffer.New(capacity),
		ctx:         ctx,
		cancel:      cancel,
	}

	if opts.Link != "" {
		if err := replaceSymlink(s.name, opts.Link); err != nil {
			cancel()
			_ = master.Close()
			_ = slave.Close()
			return nil, err
		}
		s.link = opts.Link
	}

	s.wg.Add(1)
	groutine.Go(ctx, "pty-flush-loop", func(ctx context.Context) {
		s.flushLoop()
	})

	logger.WithFields(logrus.Fields{"tty": s.name, "link": s.link}).Info("PTY ready")
	return s, nil
}

// Name returns the slave path, e.g. /dev/pts/5.
func (s *Sink) Name() string { return s.name }

// Link returns the symlink path, empty when none was requested.
func (s *Sink) Link() string { return s.link }

// Write queues data for the slave and never blocks. When the buffer is full
// only a prefix is queued; the returned count says how much.
func (s *Sink) Write(data []byte) (int, error) {
	if s.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := s.buf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return n, err
	}
	if n < len(data) {
		dropped := len(data) - n
		s.dropped.Add(uint64(dropped))
		s.logger.Warnf("PTY buffer overflow: dropped %d of %d bytes", dropped, len(data))
	}
	return n, nil
}

// Stats returns instantaneous counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Queued:   s.buf.Length(),
		Capacity: s.buf.Capacity(),
		Dropped:  s.dropped.Load(),
		Written:  s.written.Load(),
	}
}

// Close stops the flush loop, closes both ends and removes the symlink.
// Calling it again is a no-op.
func (s *Sink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	var errs []error
	if err := s.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY master: %w", err))
	}
	if err := s.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY slave: %w", err))
	}

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-wait-close", func(ctx context.Context) {
		s.wg.Wait()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(s.pollTimeout*2 + time.Second):
		s.logger.Errorf("PTY %s: flush loop did not exit within the close timeout", s.name)
	}

	if s.link != "" {
		if err := os.Remove(s.link); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove PTY link: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) flushLoop() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("PTY flush loop panicked (recovered): %v", r)
		}
		s.wg.Done()
	}()

	// Close releases s.master while this loop may still be polling; keep our own reference.
	master := s.master
	pollFd := []unix.PollFd{{Fd: s.masterFd, Events: unix.POLLOUT}}
	pollMs := int(s.pollTimeout / time.Millisecond)
	chunk := make([]byte, 4096)

	wait := func() {
		if _, err := unix.Poll(pollFd, pollMs); err != nil && !errors.Is(err, syscall.EINTR) {
			s.logger.Debugf("PTY poll error: %v", err)
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if s.buf.IsEmpty() {
			time.Sleep(s.pollTimeout / 5)
			continue
		}

		n, err := s.buf.TryRead(chunk)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			s.logger.Warnf("PTY buffer read error: %v", err)
			continue
		}

		for off := 0; off < n; {
			w, err := master.Write(chunk[off:n])
			if w > 0 {
				off += w
				s.written.Add(uint64(w))
			}
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK):
				if s.ctx.Err() != nil {
					return
				}
				wait()
			case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
				return
			default:
				s.logger.Warnf("PTY flush loop exiting on error: %v", err)
				if s.onError != nil {
					s.errOnce.Do(func() { s.onError(fmt.Errorf("PTY write failed: %w", err)) })
				}
				return
			}
		}
	}
}

// createPTY opens a PTY pair with the slave in raw mode and a non-blocking
// master. The master fd is returned because calling Fd again would switch
// the file back to blocking mode.
func createPTY() (master *os.File, slave *os.File, masterFd int, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(step string, cause error) error {
		var errs []error
		if cerr := master.Close(); cerr != nil {
			errs = append(errs, cerr)
		}
		if cerr := slave.Close(); cerr != nil {
			errs = append(errs, cerr)
		}
		if len(errs) > 0 {
			return fmt.Errorf("failed to %s on %s: %w (cleanup errors: %v)", step, slave.Name(), cause, errs)
		}
		return fmt.Errorf("failed to %s on %s: %w", step, slave.Name(), cause)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, nil, 0, cleanup("set raw mode", err)
	}
	masterFd = int(master.Fd())
	if err := syscall.SetNonblock(masterFd, true); err != nil {
		return nil, nil, 0, cleanup("set non-blocking mode", err)
	}
	return master, slave, masterFd, nil
}

// replaceSymlink points link at target, replacing a stale symlink but never a
// regular file.
func replaceSymlink(target, link string) error {
	if fi, err := os.Lstat(link); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("PTY link %s exists and is not a symlink", link)
		}
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("remove stale PTY link: %w", err)
		}
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("create PTY link: %w", err)
	}
	return nil
}
