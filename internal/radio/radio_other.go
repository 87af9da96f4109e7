//go:build !linux && !darwin

package radio

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/internal/device"
)

func newPlatformChecker(_ *logrus.Logger) Checker {
	return CheckerFunc(func(context.Context) error {
		return fmt.Errorf("%w: %w: %s", device.ErrRadioUnavailable, device.ErrUnsupported, runtime.GOOS)
	})
}
