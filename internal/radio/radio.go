// Package radio checks that a usable Bluetooth adapter is present and
// powered before any scanning starts.
package radio

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Checker reports whether the Bluetooth radio can be used. A failing check
// wraps device.ErrRadioUnavailable.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// NewChecker returns the platform checker.
// This is a variable so that it can be overridden in tests.
var NewChecker = func(logger *logrus.Logger) Checker {
	if logger == nil {
		logger = logrus.New()
	}
	return newPlatformChecker(logger)
}
