package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/swlink/connector"
	"github.com/srg/swlink/internal/radio"
	"github.com/srg/swlink/watcher"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for dive computers",
	Long: `Run one discovery pass and list the peripherals that advertised at least
twice during the scan window. Devices on the allow-list are marked as supported;
those are the ones connect would use.`,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanSupported bool
)

func init() {
	addScanFlags()
}

func addScanFlags() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan window")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanSupported, "supported", false, "Only list allow-listed devices")
}

// scanEntry is one row of scan output.
type scanEntry struct {
	watcher.PeripheralRecord
	Supported bool `json:"supported"`
}

func runScan(cmd *cobra.Command, args []string) error {
	validFormats := []string{"table", "json"}
	if !slices.Contains(validFormats, scanFormat) {
		return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, validFormats)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("duration") {
		cfg.Scan.Timeout = scanDuration
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	ctx, stop := withInterrupt(cmd.Context(), out, "scan")
	defer stop()

	if err := radio.NewChecker(logger).Check(ctx); err != nil {
		return err
	}

	progress := NewCountdownProgressPrinter(out, "Scanning for dive computers", "Scanning", cfg.Scan.Timeout, "Processing results")
	phase := progress.Callback()

	w, err := watcher.New(&watcher.Options{
		ScanTimeout: cfg.Scan.Timeout,
		RemoveAfter: cfg.Scan.RemoveAfter,
		DropRemoved: cfg.Scan.DropRemoved,
		OnEvent: func(ev watcher.Event) {
			if ev.Type == watcher.EventCompleted {
				phase("Processing results")
			}
		},
	}, logger)
	if err != nil {
		return err
	}

	progress.Start()
	defer progress.Stop()

	if err := w.Start(ctx); err != nil {
		return err
	}
	set, err := w.Result(ctx)
	if stopErr := w.Stop(); stopErr != nil {
		logger.WithError(stopErr).Debug("Watcher stop failed")
	}
	progress.Stop()
	if err != nil {
		return err
	}

	supported := connector.Select(set, cfg.AllowList)
	entries := make([]scanEntry, 0, set.Len())
	for _, rec := range set.Records() {
		ok := slices.ContainsFunc(supported, func(r watcher.PeripheralRecord) bool { return r.ID == rec.ID })
		if ok || !scanSupported {
			entries = append(entries, scanEntry{PeripheralRecord: rec, Supported: ok})
		}
	}

	if scanFormat == "json" {
		return displayJSON(out, entries)
	}
	return displayTable(out, entries)
}

func displayTable(out io.Writer, entries []scanEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tCONNECTABLE\tSUPPORTED")
	fmt.Fprintln(w, strings.Repeat("-", 64))

	for _, e := range entries {
		name := e.DisplayName()
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		supported := "no"
		if e.Supported {
			supported = color.GreenString("yes")
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%t\t%s\n", name, e.ID, e.RSSI, e.Connectable, supported)
	}

	return w.Flush()
}

func displayJSON(out io.Writer, entries []scanEntry) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}
