package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/timschmolka/epdlog/epd"
)

// Config holds the panel wiring and logging settings.
type Config struct {
	Panel    epd.DisplayConfig
	LogLevel slog.Level
}

const defaultConfigPath = "~/.config/epdlog/config.toml"

// Default returns the settings used when no config file exists.
func Default() Config {
	return Config{Panel: epd.DefaultConfig(), LogLevel: slog.LevelInfo}
}

type rawPanel struct {
	DCPin          string `toml:"dc_pin"`
	CSPin          string `toml:"cs_pin"`
	RSTPin         string `toml:"rst_pin"`
	BUSYPin        string `toml:"busy_pin"`
	SPIPort        string `toml:"spi_port"`
	SPIFrequency   string `toml:"spi_frequency"`
	SPIMode        *int   `toml:"spi_mode"`
	ResetHold      string `toml:"reset_hold"`
	ResetDelay     string `toml:"reset_delay"`
	BusyPoll       string `toml:"busy_poll"`
	RefreshTimeout string `toml:"refresh_timeout"`
}

// Load reads the TOML file at path, or the default location when path is
// empty. A missing file yields Default(); blank fields keep their defaults.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		LogLevel string   `toml:"log_level"`
		Panel    rawPanel `toml:"panel"`
	}
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if lvl := strings.TrimSpace(raw.LogLevel); lvl != "" {
		cfg.LogLevel, err = ParseLevel(lvl)
		if err != nil {
			return Config{}, err
		}
	}
	if err := applyPanel(&cfg.Panel, raw.Panel); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyPanel(p *epd.DisplayConfig, raw rawPanel) error {
	setString(&p.DCPin, raw.DCPin)
	setString(&p.CSPin, raw.CSPin)
	setString(&p.RSTPin, raw.RSTPin)
	setString(&p.BUSYPin, raw.BUSYPin)
	setString(&p.SPIPort, raw.SPIPort)

	if s := strings.TrimSpace(raw.SPIFrequency); s != "" {
		var f physic.Frequency
		if err := f.Set(s); err != nil {
			return fmt.Errorf("parse spi_frequency %q: %w", s, err)
		}
		p.SPIFrequency = f
	}
	if raw.SPIMode != nil {
		if *raw.SPIMode < 0 || *raw.SPIMode > 3 {
			return fmt.Errorf("spi_mode %d out of range 0-3", *raw.SPIMode)
		}
		p.SPIMode = spi.Mode(*raw.SPIMode)
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"reset_hold", raw.ResetHold, &p.ResetHoldTime},
		{"reset_delay", raw.ResetDelay, &p.ResetDelayTime},
		{"busy_poll", raw.BusyPoll, &p.BusyPollTime},
		{"refresh_timeout", raw.RefreshTimeout, &p.RefreshTimeout},
	}
	for _, d := range durations {
		s := strings.TrimSpace(d.raw)
		if s == "" {
			continue
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// ParseLevel accepts the slog level names (debug, info, warn, error).
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("parse log level: %w", err)
	}
	return lvl, nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
