package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/internal/device"
	"github.com/srg/swlink/watcher"
)

// Vendor GATT layout of the dive computers.
const (
	VendorServiceUUID        = "fe25c237-0ece-443c-b0aa-e02033e7029d"
	VendorCharacteristicUUID = "27b7570b-359e-45a3-91bb-cf7e70049bd2"
)

// State is the lifecycle state of a PeripheralSession. The happy path
// advances strictly in declaration order up to StateSubscriptionArmed.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateServicesEnumerated
	StateServiceResolved
	StateCharacteristicsEnumerated
	StateCharacteristicResolved
	StateSubscriptionArmed
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateDisconnected:              "disconnected",
	StateConnected:                 "connected",
	StateServicesEnumerated:        "services-enumerated",
	StateServiceResolved:           "service-resolved",
	StateCharacteristicsEnumerated: "characteristics-enumerated",
	StateCharacteristicResolved:    "characteristic-resolved",
	StateSubscriptionArmed:         "subscription-armed",
	StateFailed:                    "failed",
	StateClosed:                    "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a session
type Options struct {
	ServiceUUID        string
	CharacteristicUUID string

	// Deadlines for each platform call
	ConnectTimeout   time.Duration
	DiscoveryTimeout time.Duration
	WriteTimeout     time.Duration

	// RearmInterval toggles the subscription off and on again periodically
	// while consuming. 0 disables.
	RearmInterval time.Duration

	// FrameBuffer is the number of frames held while sinks catch up
	FrameBuffer uint32

	// Out receives progress lines; nil discards them
	Out io.Writer
}

// DefaultOptions returns default session options
func DefaultOptions() *Options {
	return &Options{
		ServiceUUID:        VendorServiceUUID,
		CharacteristicUUID: VendorCharacteristicUUID,
		ConnectTimeout:     15 * time.Second,
		DiscoveryTimeout:   10 * time.Second,
		WriteTimeout:       5 * time.Second,
		FrameBuffer:        256,
	}
}

// PeripheralSession owns the connection to one selected peripheral and drives
// it from connect to an armed subscription. Steps must be called in order by
// a single owner; State and Close may be called from any goroutine.
type PeripheralSession struct {
	record    watcher.PeripheralRecord
	opts      Options
	logger    *logrus.Logger
	connector device.Connector
	frames    *FrameQueue

	mu       sync.Mutex
	state    State
	err      error
	link     device.Link
	services []device.Service
	service  device.Service
	chars    []device.Characteristic
	char     device.Characteristic
	mode     device.ClientConfig
}

// New creates a session for record. Nothing is dialed until Connect.
func New(connector device.Connector, record watcher.PeripheralRecord, opts *Options, logger *logrus.Logger) (*PeripheralSession, error) {
	if connector == nil {
		return nil, fmt.Errorf("connector cannot be nil")
	}
	if logger == nil {
		logger = logrus.New()
	}

	o := *DefaultOptions()
	if opts != nil {
		o = *opts
		d := DefaultOptions()
		if o.ServiceUUID == "" {
			o.ServiceUUID = d.ServiceUUID
		}
		if o.CharacteristicUUID == "" {
			o.CharacteristicUUID = d.CharacteristicUUID
		}
		if o.ConnectTimeout <= 0 {
			o.ConnectTimeout = d.ConnectTimeout
		}
		if o.DiscoveryTimeout <= 0 {
			o.DiscoveryTimeout = d.DiscoveryTimeout
		}
		if o.WriteTimeout <= 0 {
			o.WriteTimeout = d.WriteTimeout
		}
		if o.FrameBuffer == 0 {
			o.FrameBuffer = d.FrameBuffer
		}
	}

	uuids, err := device.ValidateUUID(o.ServiceUUID, o.CharacteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid session target: %w", err)
	}
	o.ServiceUUID, o.CharacteristicUUID = uuids[0], uuids[1]

	frames, err := NewFrameQueue(o.FrameBuffer)
	if err != nil {
		return nil, err
	}

	s := &PeripheralSession{
		record:    record,
		opts:      o,
		logger:    logger,
		connector: connector,
		frames:    frames,
	}
	s.printf("Constructed a %s device\n", record.DisplayName())
	return s, nil
}

// Record returns the peripheral this session targets.
func (s *PeripheralSession) Record() watcher.PeripheralRecord { return s.record }

// State returns the current lifecycle state.
func (s *PeripheralSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to StateFailed, if any.
func (s *PeripheralSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Mode returns the client configuration chosen by Arm.
func (s *PeripheralSession) Mode() device.ClientConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Metrics returns the frame queue counters.
func (s *PeripheralSession) Metrics() FrameQueueMetrics { return s.frames.Metrics() }

// Connect dials the peripheral and validates that the link belongs to it.
func (s *PeripheralSession) Connect(ctx context.Context) error {
	if err := s.require("connect", StateDisconnected); err != nil {
		return err
	}
	if s.record.ID == "" {
		return s.fail(fmt.Errorf("%w: peripheral has no identifier", device.ErrConnectFailed))
	}

	s.logger.WithFields(logrus.Fields{
		"device":  s.record.DisplayName(),
		"address": s.record.ID,
		"timeout": s.opts.ConnectTimeout,
	}).Info("Connecting to device...")

	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	link, err := s.connector.Dial(dialCtx, s.record.ID)
	if err != nil {
		return s.fail(stepError(ctx, device.ErrConnectFailed, "connect "+s.record.ID, err))
	}
	if link == nil {
		return s.fail(fmt.Errorf("%w: no connection handle for %s", device.ErrConnectFailed, s.record.ID))
	}

	if addr := link.Address(); !strings.EqualFold(addr, s.record.ID) {
		if cerr := link.Close(); cerr != nil {
			s.logger.WithError(cerr).Warn("Failed to release mismatched link")
		}
		return s.fail(fmt.Errorf("%w: dialed %s but link reports %s", device.ErrConnectFailed, s.record.ID, addr))
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = link.Close()
		return &device.StateError{Op: "connect", Have: StateClosed.String(), Want: StateDisconnected.String()}
	}
	s.link = link
	s.state = StateConnected
	s.mu.Unlock()

	s.logger.WithField("address", s.record.ID).Info("Connected")
	return nil
}

// EnumerateServices requests the full GATT service list.
func (s *PeripheralSession) EnumerateServices(ctx context.Context) error {
	if err := s.require("enumerate services", StateConnected); err != nil {
		return err
	}
	s.printf("Enumerating supported services\n")

	dctx, cancel := context.WithTimeout(ctx, s.opts.DiscoveryTimeout)
	defer cancel()
	services, err := s.currentLink().DiscoverServices(dctx)
	if err != nil {
		return s.fail(stepError(ctx, device.ErrEnumerationFailed, "discover services", err))
	}

	s.mu.Lock()
	s.services = services
	s.mu.Unlock()
	s.logger.WithField("count", len(services)).Debug("Services discovered")
	return s.advance(StateConnected, StateServicesEnumerated)
}

// ResolveService locates the vendor service among the enumerated services.
func (s *PeripheralSession) ResolveService() error {
	if err := s.require("resolve service", StateServicesEnumerated); err != nil {
		return err
	}

	s.mu.Lock()
	services := s.services
	s.mu.Unlock()

	for _, svc := range services {
		if device.EqualUUID(svc.UUID(), s.opts.ServiceUUID) {
			s.mu.Lock()
			s.service = svc
			s.mu.Unlock()
			s.logger.WithField("service", s.opts.ServiceUUID).Debug("Service resolved")
			return s.advance(StateServicesEnumerated, StateServiceResolved)
		}
	}
	return s.fail(&device.NotFoundError{Resource: "service", UUIDs: []string{s.opts.ServiceUUID}})
}

// EnumerateCharacteristics requests the characteristics of the resolved service.
func (s *PeripheralSession) EnumerateCharacteristics(ctx context.Context) error {
	if err := s.require("enumerate characteristics", StateServiceResolved); err != nil {
		return err
	}

	s.mu.Lock()
	svc := s.service
	s.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, s.opts.DiscoveryTimeout)
	defer cancel()
	chars, err := s.currentLink().DiscoverCharacteristics(dctx, svc)
	if err != nil {
		return s.fail(stepError(ctx, device.ErrEnumerationFailed, "discover characteristics", err))
	}

	s.mu.Lock()
	s.chars = chars
	s.mu.Unlock()
	s.logger.WithField("count", len(chars)).Debug("Characteristics discovered")
	return s.advance(StateServiceResolved, StateCharacteristicsEnumerated)
}

// ResolveCharacteristic locates the vendor characteristic and reports which
// of its capabilities are present.
func (s *PeripheralSession) ResolveCharacteristic() error {
	if err := s.require("resolve characteristic", StateCharacteristicsEnumerated); err != nil {
		return err
	}

	s.mu.Lock()
	chars := s.chars
	s.mu.Unlock()

	for _, char := range chars {
		if !device.EqualUUID(char.UUID(), s.opts.CharacteristicUUID) {
			continue
		}

		s.mu.Lock()
		s.char = char
		s.mu.Unlock()

		props := char.GetProperties()
		fields := logrus.Fields{"characteristic": s.opts.CharacteristicUUID}
		if props != nil {
			fields["read"] = props.Read() != nil
			fields["write_without_response"] = props.WriteWithoutResponse() != nil
			fields["notify"] = props.Notify() != nil
			fields["indicate"] = props.Indicate() != nil
			if props.Read() != nil {
				s.printf("-Reading enabled\n")
			}
			if props.WriteWithoutResponse() != nil {
				s.printf("-Writing without response enabled\n")
			}
			if props.Notify() != nil {
				s.printf("-Subscribing enabled\n")
			}
		}
		s.logger.WithFields(fields).Info("Characteristic resolved")
		return s.advance(StateCharacteristicsEnumerated, StateCharacteristicResolved)
	}

	return s.fail(&device.NotFoundError{
		Resource: "characteristic",
		UUIDs:    []string{s.opts.ServiceUUID, s.opts.CharacteristicUUID},
	})
}

// ChooseClientConfig picks the delivery mode for a characteristic: indicate
// over notify, and none when neither is supported.
func ChooseClientConfig(props device.Properties) device.ClientConfig {
	switch {
	case props == nil:
		return device.ClientConfigNone
	case props.Indicate() != nil:
		return device.ClientConfigIndicate
	case props.Notify() != nil:
		return device.ClientConfigNotify
	default:
		return device.ClientConfigNone
	}
}

// Arm writes the chosen client configuration once. When the characteristic
// supports neither indicate nor notify nothing is written and the session
// is armed with mode none.
func (s *PeripheralSession) Arm(ctx context.Context) error {
	if err := s.require("arm subscription", StateCharacteristicResolved); err != nil {
		return err
	}

	s.mu.Lock()
	char := s.char
	s.mu.Unlock()

	mode := ChooseClientConfig(char.GetProperties())
	if mode != device.ClientConfigNone {
		if err := s.writeConfig(ctx, char, mode); err != nil {
			return s.fail(stepError(ctx, device.ErrSubscribeFailed, "arm "+mode.String(), err))
		}
	} else {
		s.logger.WithField("characteristic", s.opts.CharacteristicUUID).
			Warn("Characteristic supports neither indicate nor notify, nothing to arm")
	}

	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"address": s.record.ID,
		"mode":    mode.String(),
	}).Info("Subscription armed")
	return s.advance(StateCharacteristicResolved, StateSubscriptionArmed)
}

// Run drives every step in order and then consumes notifications into sinks
// until ctx is done or the peripheral disconnects. It does not Close the
// session.
func (s *PeripheralSession) Run(ctx context.Context, sinks ...FrameSink) error {
	steps := []func(context.Context) error{
		s.Connect,
		s.EnumerateServices,
		func(context.Context) error { return s.ResolveService() },
		s.EnumerateCharacteristics,
		func(context.Context) error { return s.ResolveCharacteristic() },
		s.Arm,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return s.consume(ctx, sinks)
}

// consume is the notification loop entered once the subscription is armed.
func (s *PeripheralSession) consume(ctx context.Context, sinks []FrameSink) error {
	if err := s.require("consume", StateSubscriptionArmed); err != nil {
		return err
	}
	link := s.currentLink()

	var rearm <-chan time.Time
	if s.opts.RearmInterval > 0 && s.Mode() != device.ClientConfigNone {
		ticker := time.NewTicker(s.opts.RearmInterval)
		defer ticker.Stop()
		rearm = ticker.C
	}

	s.logger.WithField("address", s.record.ID).Info("Consuming notifications")
	for {
		select {
		case <-ctx.Done():
			_ = s.deliver(sinks)
			return ctx.Err()
		case <-link.Disconnected():
			_ = s.deliver(sinks)
			return s.fail(fmt.Errorf("%w: %s", device.ErrConnectionLost, s.record.ID))
		case <-s.frames.Ready():
			if err := s.deliver(sinks); err != nil {
				return s.fail(err)
			}
		case <-rearm:
			if err := s.rearm(ctx); err != nil {
				return s.fail(stepError(ctx, device.ErrSubscribeFailed, "re-arm", err))
			}
		}
	}
}

func (s *PeripheralSession) deliver(sinks []FrameSink) error {
	_, err := s.frames.Drain(func(frame Frame) error {
		for _, sink := range sinks {
			if err := sink.WriteFrame(frame); err != nil {
				return fmt.Errorf("frame sink: %w", err)
			}
		}
		return nil
	})
	return err
}

// rearm disables and re-enables the subscription. Some peripherals stop
// streaming when the configuration is not refreshed.
func (s *PeripheralSession) rearm(ctx context.Context) error {
	s.mu.Lock()
	char, mode := s.char, s.mode
	s.mu.Unlock()

	s.logger.WithField("mode", mode.String()).Debug("Re-arming subscription")
	if err := s.writeConfig(ctx, char, device.ClientConfigNone); err != nil {
		return err
	}
	return s.writeConfig(ctx, char, mode)
}

func (s *PeripheralSession) writeConfig(ctx context.Context, char device.Characteristic, mode device.ClientConfig) error {
	wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	return s.currentLink().WriteClientConfig(wctx, char, mode, s.onNotification)
}

// onNotification runs on the platform goroutine.
func (s *PeripheralSession) onNotification(data []byte) {
	if err := s.frames.Push(data); err != nil {
		s.logger.WithError(err).Warn("Dropping notification")
	}
}

// Close releases the connection regardless of state. Calling it again is a no-op.
func (s *PeripheralSession) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	link := s.link
	s.link = nil
	s.state = StateClosed
	s.mu.Unlock()

	if link == nil {
		return nil
	}
	if err := link.Close(); err != nil {
		s.logger.WithError(err).WithField("address", s.record.ID).Warn("Failed to release connection")
		return fmt.Errorf("failed to release connection to %s: %w", s.record.ID, err)
	}
	s.logger.WithField("address", s.record.ID).Info("Connection released")
	return nil
}

func (s *PeripheralSession) currentLink() device.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

func (s *PeripheralSession) require(op string, want State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != want {
		return &device.StateError{Op: op, Have: s.state.String(), Want: want.String()}
	}
	return nil
}

// advance moves from -> to unless the session was closed concurrently.
func (s *PeripheralSession) advance(from, to State) error {
	s.mu.Lock()
	if s.state != from {
		have := s.state
		s.mu.Unlock()
		return &device.StateError{Op: "advance to " + to.String(), Have: have.String(), Want: from.String()}
	}
	s.state = to
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{"address": s.record.ID, "state": to.String()}).Debug("Session state changed")
	return nil
}

// fail records err and moves to StateFailed. A closed session stays closed.
func (s *PeripheralSession) fail(err error) error {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = StateFailed
	}
	s.err = err
	s.mu.Unlock()
	s.logger.WithError(err).WithField("address", s.record.ID).Error("Session failed")
	return err
}

func (s *PeripheralSession) printf(format string, args ...any) {
	if s.opts.Out != nil {
		_, _ = fmt.Fprintf(s.opts.Out, format, args...)
	}
}

// stepError wraps err with the step's sentinel. Cancellation of the parent
// context is reported as such; a local deadline becomes device.ErrTimeout.
func stepError(parent context.Context, sentinel error, op string, err error) error {
	if perr := parent.Err(); perr != nil {
		return fmt.Errorf("%s: %w", op, perr)
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, device.ErrTimeout) {
		err = fmt.Errorf("%w: %w", device.ErrTimeout, err)
	}
	if errors.Is(err, sentinel) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel, err)
}
