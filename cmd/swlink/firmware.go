package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/swlink/internal/firmware"
)

// firmwareCmd represents the firmware command
var firmwareCmd = &cobra.Command{
	Use:   "firmware",
	Short: "Download the vendor firmware catalog",
	Long: `Fetch the Shearwater firmware catalog and download every firmware file it lists
into a DDMMYYYY directory under --dir. Files that already exist are skipped.`,
	RunE: runFirmware,
}

var (
	firmwareDir        string
	firmwareCatalogURL string
	firmwareTimeout    time.Duration
)

func init() {
	addFirmwareFlags()
}

func addFirmwareFlags() {
	firmwareCmd.Flags().StringVar(&firmwareDir, "dir", ".", "Parent directory of the dated download directory")
	firmwareCmd.Flags().StringVar(&firmwareCatalogURL, "catalog-url", firmware.DefaultCatalogURL, "Firmware catalog URL")
	firmwareCmd.Flags().DurationVar(&firmwareTimeout, "timeout", 100*time.Second, "HTTP timeout per request")
}

func runFirmware(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("dir") {
		cfg.Firmware.Dir = firmwareDir
	}
	if f.Changed("catalog-url") {
		cfg.Firmware.CatalogURL = firmwareCatalogURL
	}
	if f.Changed("timeout") {
		cfg.Firmware.Timeout = firmwareTimeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	ctx, stop := withInterrupt(cmd.Context(), out, "download")
	defer stop()

	d := firmware.New(&firmware.Options{
		CatalogURL: cfg.Firmware.CatalogURL,
		Dir:        cfg.Firmware.Dir,
		Timeout:    cfg.Firmware.Timeout,
		Out:        out,
	}, logger)
	res, err := d.Run(ctx)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"dir":        res.Dir,
		"downloaded": len(res.Downloaded),
		"skipped":    len(res.Skipped),
		"failed":     len(res.Failed),
	}).Info("Firmware mirror updated")
	return nil
}
