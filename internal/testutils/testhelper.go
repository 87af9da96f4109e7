package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/internal/device"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Advertisements builds n advertisements from the same builder, the way a
// peripheral keeps re-advertising during a scan window.
func Advertisements(n int, b *AdvertisementBuilder) []device.Advertisement {
	out := make([]device.Advertisement, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, b.Build())
	}
	return out
}
