package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/internal/device"
	"github.com/srg/swlink/internal/devicefactory"
	"github.com/srg/swlink/internal/groutine"
)

// ErrAborted is returned by Result when Stop was called before the scan window elapsed.
var ErrAborted = errors.New("scan aborted before completion")

// State is the watcher lifecycle state.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateCompleted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a scan pass
type Options struct {
	// ScanTimeout is the scan window; completion fires when it elapses.
	ScanTimeout time.Duration
	// RemoveAfter emits a removed event for an ID silent this long. 0 disables.
	RemoveAfter time.Duration
	// DropRemoved excludes IDs whose last event is a removal.
	DropRemoved bool
	// OnEvent observes every event. It is called from scanner goroutines.
	OnEvent func(Event)
	// Scanner is the device to scan with. When nil the watcher opens the
	// platform adapter itself and releases it on Stop.
	Scanner device.ScanningDevice
}

// DefaultOptions returns default watcher options
func DefaultOptions() *Options {
	return &Options{
		ScanTimeout: 10 * time.Second,
	}
}

// seenEntry is the live state of one identifier.
type seenEntry struct {
	mu      sync.Mutex
	last    PeripheralRecord
	removed bool
}

// PeripheralWatcher runs one BLE scan pass and reconciles what it saw into a
// CandidateSet. It is single use: Start once, Stop once.
type PeripheralWatcher struct {
	opts    Options
	logger  *logrus.Logger
	scanner device.ScanningDevice
	// owned is the adapter opened by New, nil when the scanner was injected
	owned device.Adapter

	seen *hashmap.Map[string, *seenEntry]

	mu            sync.Mutex
	state         State
	queue         []Event
	stopRequested bool
	cancel        context.CancelFunc
	done          chan struct{}
	result        *CandidateSet
	err           error
}

// New creates a watcher bound to opts.Scanner, or to a freshly opened
// platform adapter when none is given.
func New(opts *Options, logger *logrus.Logger) (*PeripheralWatcher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	o := DefaultOptions()
	if opts != nil {
		o = opts
		if o.ScanTimeout <= 0 {
			o.ScanTimeout = DefaultOptions().ScanTimeout
		}
	}

	w := &PeripheralWatcher{
		opts:    *o,
		logger:  logger,
		scanner: o.Scanner,
		seen:    hashmap.New[string, *seenEntry](),
		done:    make(chan struct{}),
	}
	if w.scanner == nil {
		adapter, err := devicefactory.Open(logger)
		if err != nil {
			return nil, err
		}
		w.scanner = adapter
		w.owned = adapter
	}
	return w, nil
}

// State returns the current lifecycle state.
func (w *PeripheralWatcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start begins the scan pass. Duplicate advertisements are requested so that
// repeats arrive as updated events.
func (w *PeripheralWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateIdle {
		have := w.state
		w.mu.Unlock()
		return &device.StateError{Op: "start watcher", Have: have.String(), Want: StateIdle.String()}
	}
	scanCtx, cancel := context.WithTimeout(ctx, w.opts.ScanTimeout)
	w.cancel = cancel
	w.state = StateScanning
	w.mu.Unlock()

	w.logger.WithFields(logrus.Fields{
		"protocol":   ProtocolBLE,
		"properties": RequestedProperties,
		"window":     w.opts.ScanTimeout,
	}).Info("Starting BLE scan...")

	groutine.Go(scanCtx, "watcher-scan", func(scanCtx context.Context) {
		w.logger.WithField("goroutine", groutine.Name(scanCtx)).Debug("Scan loop running")
		err := w.scanner.Scan(scanCtx, true, w.handleAdvertisement)
		w.finish(ctx, scanCtx, err)
	})

	if w.opts.RemoveAfter > 0 {
		groutine.Go(scanCtx, "watcher-expiry", func(scanCtx context.Context) {
			w.expireLoop(scanCtx)
		})
	}
	return nil
}

// Stop halts scanning and emits the stopped event. Stopping before the scan
// window elapses aborts the pass. A second call, or a call before Start,
// fails with device.ErrInvalidState. An adapter opened by New is released
// once the scan goroutine has returned.
func (w *PeripheralWatcher) Stop() error {
	w.mu.Lock()
	if w.state != StateScanning && w.state != StateCompleted {
		have := w.state
		w.mu.Unlock()
		return &device.StateError{Op: "stop watcher", Have: have.String()}
	}
	w.stopRequested = true
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	<-w.done
	w.release()

	w.mu.Lock()
	w.state = StateStopped
	w.mu.Unlock()

	w.logger.Info("BLE scan stopped")
	w.notify(Event{Type: EventStopped})
	return nil
}

func (w *PeripheralWatcher) release() {
	if w.owned == nil {
		return
	}
	if err := w.owned.Close(); err != nil {
		w.logger.WithError(err).Warn("Failed to release BLE adapter")
	}
}

// Result waits for the scan pass to complete and returns the candidates.
func (w *PeripheralWatcher) Result(ctx context.Context) (*CandidateSet, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result, w.err
}

// handleAdvertisement runs on the platform scan goroutine; it only records
// the event.
func (w *PeripheralWatcher) handleAdvertisement(adv device.Advertisement) {
	now := time.Now()
	rec := recordFromAdvertisement(adv, now)
	if rec.ID == "" {
		w.logger.Debug("Ignoring advertisement without address")
		return
	}

	entry, loaded := w.seen.GetOrInsert(rec.ID, &seenEntry{last: rec})
	if !loaded {
		w.logger.WithFields(logrus.Fields{
			"device":  rec.Name,
			"address": rec.Address,
			"rssi":    rec.RSSI,
		}).Info("Discovered new device")
		w.enqueue(Event{Type: EventAdded, Record: &rec})
		return
	}

	entry.mu.Lock()
	prev := entry.last
	wasRemoved := entry.removed
	entry.last = rec
	entry.removed = false
	entry.mu.Unlock()

	if wasRemoved {
		w.enqueue(Event{Type: EventAdded, Record: &rec})
		return
	}
	w.enqueue(Event{Type: EventUpdated, Update: &PeripheralUpdate{ID: rec.ID, Delta: diff(prev, rec), At: now}})
}

func (w *PeripheralWatcher) expireLoop(ctx context.Context) {
	interval := w.opts.RemoveAfter / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.seen.Range(func(id string, entry *seenEntry) bool {
				entry.mu.Lock()
				expired := !entry.removed && now.Sub(entry.last.SeenAt) >= w.opts.RemoveAfter
				if expired {
					entry.removed = true
				}
				entry.mu.Unlock()
				if expired {
					w.logger.WithField("address", id).Debug("Device went silent")
					w.enqueue(Event{Type: EventRemoved, Update: &PeripheralUpdate{ID: id, Delta: map[Property]any{}, At: now}})
				}
				return true
			})
		}
	}
}

// enqueue appends to the accumulator while scanning; late events are dropped.
func (w *PeripheralWatcher) enqueue(ev Event) {
	w.mu.Lock()
	if w.state != StateScanning {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, ev)
	w.mu.Unlock()
	w.notify(ev)
}

func (w *PeripheralWatcher) notify(ev Event) {
	if w.opts.OnEvent != nil {
		w.opts.OnEvent(ev)
	}
}

// finish drains the accumulator once the platform scan returns.
// A Stop that lands after the window elapsed does not turn the pass into an
// abort.
func (w *PeripheralWatcher) finish(parent, scanCtx context.Context, scanErr error) {
	w.mu.Lock()
	events := w.queue
	w.queue = nil
	stopped := w.stopRequested
	elapsed := errors.Is(scanErr, context.DeadlineExceeded) || errors.Is(scanCtx.Err(), context.DeadlineExceeded)
	completed := false

	switch {
	case scanErr != nil && !errors.Is(scanErr, context.Canceled) && !errors.Is(scanErr, context.DeadlineExceeded):
		w.err = fmt.Errorf("scan failed: %w", scanErr)
	case parent.Err() != nil:
		w.err = parent.Err()
	case stopped && !elapsed:
		w.err = ErrAborted
	default:
		w.result = Reconcile(events, w.opts.DropRemoved)
		w.state = StateCompleted
		completed = true
	}
	w.mu.Unlock()

	w.cancel()
	if completed {
		w.logger.WithFields(logrus.Fields{
			"events":     len(events),
			"candidates": w.result.Len(),
		}).Info("BLE scan completed")
		w.notify(Event{Type: EventCompleted})
	} else {
		w.logger.WithField("error", w.err).Debug("BLE scan ended without completion")
	}
	close(w.done)
}
