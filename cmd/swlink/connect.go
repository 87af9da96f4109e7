package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/swlink/connector"
	"github.com/srg/swlink/internal/ptyio"
	"github.com/srg/swlink/pkg/config"
	"github.com/srg/swlink/session"
	"github.com/srg/swlink/watcher"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a dive computer and stream its frames",
	Long: `Scan once for Shearwater dive computers, connect to every allow-listed one in
discovery order and arm the vendor notification characteristic.

Received frames are written to stdout (hex lines by default, or raw bytes) and,
with --pty, to a pseudo-terminal a decoder can open like a serial port.
The command runs until the device disconnects or Ctrl+C is pressed.`,
	Example: `  swlink connect
  swlink connect --allow Petrel --duration 20s
  swlink connect --format none --pty --pty-link /tmp/swlink`,
	RunE: runConnect,
}

var (
	connectAllowList      []string
	connectDuration       time.Duration
	connectTimeout        time.Duration
	connectRearmInterval  time.Duration
	connectFormat         string
	connectPTY            bool
	connectPTYLink        string
	connectDropRemoved    bool
	connectRemoveAfter    time.Duration
	connectDiscoveryLimit time.Duration
)

func init() {
	addConnectFlags()
}

func addConnectFlags() {
	f := connectCmd.Flags()
	f.StringSliceVar(&connectAllowList, "allow", nil, "Advertised names to connect to (default Perdix,Petrel)")
	f.DurationVarP(&connectDuration, "duration", "d", 10*time.Second, "Scan window")
	f.DurationVar(&connectTimeout, "connect-timeout", 15*time.Second, "Connection timeout")
	f.DurationVar(&connectDiscoveryLimit, "discovery-timeout", 10*time.Second, "Service and characteristic discovery timeout")
	f.DurationVar(&connectRearmInterval, "rearm-interval", 0, "Toggle the subscription off and on at this interval (0 disables)")
	f.StringVarP(&connectFormat, "format", "f", config.FormatHex, "Frame output on stdout (hex, raw, none)")
	f.BoolVar(&connectPTY, "pty", false, "Also expose frames on a PTY")
	f.StringVar(&connectPTYLink, "pty-link", "", "Symlink to create for the PTY slave (requires --pty)")
	f.BoolVar(&connectDropRemoved, "drop-removed", false, "Exclude devices whose last event was a removal")
	f.DurationVar(&connectRemoveAfter, "remove-after", 0, "Report a device as removed after this much silence (0 disables)")
}

// applyConnectFlags overrides config values with the flags the user set.
func applyConnectFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("allow") {
		cfg.AllowList = connectAllowList
	}
	if f.Changed("duration") {
		cfg.Scan.Timeout = connectDuration
	}
	if f.Changed("connect-timeout") {
		cfg.Session.ConnectTimeout = connectTimeout
	}
	if f.Changed("discovery-timeout") {
		cfg.Session.DiscoveryTimeout = connectDiscoveryLimit
	}
	if f.Changed("rearm-interval") {
		cfg.Session.RearmInterval = connectRearmInterval
	}
	if f.Changed("format") {
		cfg.Output.Format = strings.ToLower(connectFormat)
	}
	if f.Changed("pty") {
		cfg.Output.PTY = connectPTY
	}
	if f.Changed("pty-link") {
		cfg.Output.PTYLink = connectPTYLink
	}
	if f.Changed("drop-removed") {
		cfg.Scan.DropRemoved = connectDropRemoved
	}
	if f.Changed("remove-after") {
		cfg.Scan.RemoveAfter = connectRemoveAfter
	}
	return cfg.Validate()
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyConnectFlags(cmd, cfg); err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	sinks, closeSinks, err := frameSinks(cfg, out, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	ctx, stop := withInterrupt(cmd.Context(), out, "connection")
	defer stop()

	c := connector.New(&connector.Options{
		AllowList: cfg.AllowList,
		Watcher: &watcher.Options{
			ScanTimeout: cfg.Scan.Timeout,
			RemoveAfter: cfg.Scan.RemoveAfter,
			DropRemoved: cfg.Scan.DropRemoved,
		},
		Session: &session.Options{
			ConnectTimeout:   cfg.Session.ConnectTimeout,
			DiscoveryTimeout: cfg.Session.DiscoveryTimeout,
			WriteTimeout:     cfg.Session.WriteTimeout,
			RearmInterval:    cfg.Session.RearmInterval,
			FrameBuffer:      cfg.Session.FrameBuffer,
		},
		Sinks: sinks,
		Out:   out,
	}, logger)

	report, err := c.Run(ctx)
	if err != nil {
		return err
	}
	for _, s := range report.Sessions {
		logger.WithFields(logrus.Fields{"device": s.Record.String(), "error": s.Err}).Debug("Session finished")
	}
	return nil
}

// frameSinks builds the stdout and PTY sinks selected by cfg.
func frameSinks(cfg *config.Config, out io.Writer, logger *logrus.Logger) ([]session.FrameSink, func(), error) {
	var sinks []session.FrameSink
	closeAll := func() {}

	if cfg.Output.Format != config.FormatNone {
		s, err := session.NewWriterSink(out, cfg.Output.Format)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, s)
	}

	if cfg.Output.PTY {
		p, err := ptyio.Open(&ptyio.Options{Link: cfg.Output.PTYLink, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		s, err := session.NewWriterSink(p, session.FormatRaw)
		if err != nil {
			_ = p.Close()
			return nil, nil, err
		}
		sinks = append(sinks, s)
		closeAll = func() {
			if err := p.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close PTY")
			}
		}

		where := p.Name()
		if p.Link() != "" {
			where = fmt.Sprintf("%s -> %s", p.Link(), p.Name())
		}
		fmt.Fprintf(out, "Frames available on %s\n", where)
	}

	return sinks, closeAll, nil
}
