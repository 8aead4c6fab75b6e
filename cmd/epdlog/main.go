package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/timschmolka/epdlog/epd"
	"github.com/timschmolka/epdlog/internal/app"
	"github.com/timschmolka/epdlog/internal/config"
	"github.com/timschmolka/epdlog/internal/preview"
)

var (
	configPath  string
	previewPath string
	logLevel    string
	batch       bool
	debug       bool
)

var rootCmd = &cobra.Command{
	Use:   "epdlog",
	Short: "epdlog shows the last lines of stdin on an e-paper panel",
	Long: `epdlog reads lines from stdin and keeps the ten most recent on a
2.13" e-paper panel, refreshing it after every line.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), cmd.InOrStdin(), cmd.ErrOrStderr())
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, `config`, ``, `config file (default ~/.config/epdlog/config.toml)`)
	flags.StringVar(&previewPath, `preview`, ``, `write frames to this PNG file instead of the panel`)
	flags.StringVar(&logLevel, `log-level`, ``, `debug, info, warn or error (overrides config)`)
	flags.BoolVar(&batch, `batch`, false, `refresh once per burst of buffered lines`)
	flags.BoolVar(&debug, `debug`, false, `print stack traces for errors`)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if stackFramer, ok := err.(interface{ ErrorStack() string }); debug && ok {
			fmt.Fprintln(os.Stderr, stackFramer.ErrorStack())
		} else {
			fmt.Fprintf(os.Stderr, "epdlog: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, in io.Reader, stderr io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		if cfg.LogLevel, err = config.ParseLevel(logLevel); err != nil {
			return err
		}
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	dev, closeDev, err := openDevice(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeDev(); err != nil {
			logger.Warn("close display", "err", err)
		}
	}()

	loop := app.New(dev, app.Options{Batch: batch, Logger: logger})
	if err := loop.Run(ctx, in); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	logger.Info("input closed", "renders", loop.Renders())
	return nil
}

func openDevice(cfg config.Config, logger *slog.Logger) (app.Device, func() error, error) {
	if previewPath != "" {
		logger.Info("writing frames to preview file", "path", previewPath)
		return preview.New(previewPath, logger), func() error { return nil }, nil
	}

	panel := cfg.Panel
	panel.OnBusyStateChange = func(busy bool) {
		if busy {
			logger.Debug("display is refreshing")
		} else {
			logger.Debug("display refresh complete")
		}
	}

	display, err := epd.NewWithConfig(panel)
	if err != nil {
		return nil, nil, err
	}
	// Deep sleep keeps the last frame on the panel.
	return display, display.Close, nil
}
