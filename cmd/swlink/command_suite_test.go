package main

import (
	"bytes"
	"context"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/swlink/internal/device"
	"github.com/srg/swlink/internal/testutils"
)

// Test device addresses for consistent mock device identification
const (
	TestDeviceAddress1 = "aa:bb:cc:dd:ee:01"
	TestDeviceAddress2 = "aa:bb:cc:dd:ee:02"
)

// syncBuffer is written by session goroutines while tests read it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite extends MockPeripheralSuite with command testing utilities.
// Tests configure advertisements and peripherals, then call Install.
type CommandTestSuite struct {
	testutils.MockPeripheralSuite
}

func (s *CommandTestSuite) SetupSuite() {
	s.MockPeripheralSuite.SetupSuite()
	color.NoColor = true
}

func (s *CommandTestSuite) SetupTest() {
	resetCommands()
}

// Install applies the configured fakes.
func (s *CommandTestSuite) Install() {
	s.MockPeripheralSuite.SetupTest()
}

// Twice advertises a peripheral two times so it becomes a candidate.
func (s *CommandTestSuite) Twice(name, addr string) []device.Advertisement {
	return testutils.Advertisements(2, testutils.NewAdvertisementBuilder().WithName(name).WithAddress(addr).WithRSSI(-60))
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := &syncBuffer{}
	err := executeContext(context.Background(), buf, args...)
	return buf.String(), err
}

// StartCommand runs the root command in the background. wait returns its error.
func (s *CommandTestSuite) StartCommand(ctx context.Context, args ...string) (out *syncBuffer, wait func() error) {
	out = &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- executeContext(ctx, out, args...) }()
	return out, func() error { return <-done }
}

func executeContext(ctx context.Context, out *syncBuffer, args ...string) error {
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// resetCommands restores every flag to its default so tests do not leak state.
func resetCommands() {
	rootCmd.ResetFlags()
	addRootFlags()
	connectCmd.ResetFlags()
	addConnectFlags()
	scanCmd.ResetFlags()
	addScanFlags()
	firmwareCmd.ResetFlags()
	addFirmwareFlags()
}
