// Package connector drives one discovery pass and connects to the dive
// computers it finds, one at a time.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/internal/device"
	"github.com/srg/swlink/internal/devicefactory"
	"github.com/srg/swlink/internal/radio"
	"github.com/srg/swlink/session"
	"github.com/srg/swlink/watcher"
)

// Options configures a Connector
type Options struct {
	// AllowList is the set of advertised names to connect to
	AllowList []string
	Watcher   *watcher.Options
	Session   *session.Options
	// Sinks receive the frames of every session
	Sinks []session.FrameSink
	// Out receives progress lines; nil discards them
	Out io.Writer
}

// SessionResult is the outcome of one session.
type SessionResult struct {
	Record watcher.PeripheralRecord
	Err    error
}

// Report summarizes a Run.
type Report struct {
	Candidates *watcher.CandidateSet
	Selected   []watcher.PeripheralRecord
	Sessions   []SessionResult
}

// Connector is the top-level driver. Each value owns its own watcher and
// sessions; there is no shared process state.
type Connector struct {
	opts   Options
	logger *logrus.Logger
	radio  radio.Checker
}

// New creates a connector. A nil opts uses the default allow-list.
func New(opts *Options, logger *logrus.Logger) *Connector {
	if logger == nil {
		logger = logrus.New()
	}
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if len(o.AllowList) == 0 {
		o.AllowList = DefaultAllowList
	}
	if o.Session == nil {
		o.Session = session.DefaultOptions()
	}
	if o.Session.Out == nil {
		so := *o.Session
		so.Out = o.Out
		o.Session = &so
	}
	return &Connector{
		opts:   o,
		logger: logger,
		radio:  radio.NewChecker(logger),
	}
}

// Run checks the radio, scans once and runs a session for every selected
// peripheral in candidate order. One platform adapter is opened for the whole
// run and serves both the scan and every session. A failed session is logged
// and the next candidate is tried; an error is returned only when every
// session failed or ctx was cancelled. Finding nothing is not an error.
func (c *Connector) Run(ctx context.Context) (*Report, error) {
	if err := c.radio.Check(ctx); err != nil {
		return nil, err
	}
	c.printf("Shearwater Connector Starting...\n")

	adapter, err := devicefactory.Open(c.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := adapter.Close(); cerr != nil {
			c.logger.WithError(cerr).Warn("Failed to release BLE adapter")
		}
	}()

	set, err := c.discover(ctx, adapter)
	if err != nil {
		return nil, err
	}

	report := &Report{Candidates: set, Selected: Select(set, c.opts.AllowList)}
	c.logger.WithFields(logrus.Fields{
		"candidates": set.Len(),
		"selected":   len(report.Selected),
		"allow":      c.opts.AllowList,
	}).Info("Discovery finished")

	if len(report.Selected) == 0 {
		c.printf("Did not find any device\n")
		return report, nil
	}
	c.printf("Found %d devices\n", len(report.Selected))

	var errs []error
	for _, rec := range report.Selected {
		err := c.runSession(ctx, adapter, rec)
		report.Sessions = append(report.Sessions, SessionResult{Record: rec, Err: err})
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err != nil {
			c.logger.WithError(err).WithField("address", rec.ID).Error("Device session aborted")
			c.printf("%s: %v\n", rec.DisplayName(), err)
			errs = append(errs, err)
		}
	}

	if len(errs) == len(report.Selected) {
		return report, errors.Join(errs...)
	}
	return report, nil
}

// discover runs one watcher pass on the shared adapter.
func (c *Connector) discover(ctx context.Context, scanner device.ScanningDevice) (*watcher.CandidateSet, error) {
	wopts := watcher.DefaultOptions()
	if c.opts.Watcher != nil {
		o := *c.opts.Watcher
		wopts = &o
	}
	wopts.Scanner = scanner

	w, err := watcher.New(wopts, c.logger)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	c.printf("Waiting for Shearwater Computer...\n")

	set, err := w.Result(ctx)
	if stopErr := w.Stop(); stopErr != nil {
		c.logger.WithError(stopErr).Debug("Watcher stop failed")
	}
	return set, err
}

func (c *Connector) runSession(ctx context.Context, dev device.Connector, rec watcher.PeripheralRecord) error {
	sess, err := session.New(dev, rec, c.opts.Session, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			c.logger.WithError(cerr).Warn("Failed to close session")
		}
	}()
	return sess.Run(ctx, c.opts.Sinks...)
}

func (c *Connector) printf(format string, args ...any) {
	if c.opts.Out != nil {
		_, _ = fmt.Fprintf(c.opts.Out, format, args...)
	}
}
