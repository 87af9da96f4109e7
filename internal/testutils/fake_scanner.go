package testutils

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/swlink/internal/device"
)

// FakeScanner replays advertisements to the scan handler and then, like a
// real radio, keeps scanning until the context ends.
type FakeScanner struct {
	mu       sync.Mutex
	ads      []device.Advertisement
	interval time.Duration
	err      error
	calls    int
	allowDup []bool
}

// NewFakeScanner creates a scanner that delivers ads in order.
func NewFakeScanner(ads ...device.Advertisement) *FakeScanner {
	return &FakeScanner{ads: ads}
}

// WithAdvertisements appends ads to the replay list.
func (f *FakeScanner) WithAdvertisements(ads ...device.Advertisement) *FakeScanner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ads = append(f.ads, ads...)
	return f
}

// WithInterval spaces deliveries by d.
func (f *FakeScanner) WithInterval(d time.Duration) *FakeScanner {
	f.interval = d
	return f
}

// WithError makes Scan fail with err after replaying.
func (f *FakeScanner) WithError(err error) *FakeScanner {
	f.err = err
	return f
}

func (f *FakeScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	f.mu.Lock()
	f.calls++
	f.allowDup = append(f.allowDup, allowDup)
	ads := append([]device.Advertisement(nil), f.ads...)
	f.mu.Unlock()

	for _, adv := range ads {
		if f.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.interval):
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handler(adv)
	}

	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

// Calls returns how many scans were started.
func (f *FakeScanner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// AllowDuplicates reports the allowDup flag of each scan call.
func (f *FakeScanner) AllowDuplicates() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.allowDup...)
}

// FakeAdapter pairs a FakeScanner and a MockConnector behind device.Adapter
// and counts releases.
type FakeAdapter struct {
	Scanner   *FakeScanner
	Connector *MockConnector

	closes atomic.Int32
}

func (a *FakeAdapter) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	return a.Scanner.Scan(ctx, allowDup, handler)
}

func (a *FakeAdapter) Dial(ctx context.Context, address string) (device.Link, error) {
	return a.Connector.Dial(ctx, address)
}

func (a *FakeAdapter) Close() error {
	a.closes.Add(1)
	return nil
}

// Closes returns how many times Close was called.
func (a *FakeAdapter) Closes() int {
	return int(a.closes.Load())
}
