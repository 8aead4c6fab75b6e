// Package preview is a display device that writes each refresh to a PNG file
// instead of driving a panel. The file shows the panel as a viewer would see
// it once mounted, so it can be opened next to a running loop while
// developing without hardware.
package preview

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/timschmolka/epdlog/epd"
)

type Device struct {
	path    string
	logger  *slog.Logger
	mode    epd.Mode
	inited  bool
	refresh int
}

// New returns a device that writes frames to path. A nil logger uses
// slog.Default.
func New(path string, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{path: path, logger: logger}
}

func (d *Device) Init(mode epd.Mode) error {
	if mode != epd.FullUpdate && mode != epd.PartialUpdate {
		return fmt.Errorf("unsupported update mode %v", mode)
	}
	d.mode = mode
	d.inited = true
	d.logger.Debug("preview init", "mode", mode.String(), "path", d.path)
	return nil
}

func (d *Device) Clear(white bool) error {
	if !d.inited {
		return errors.New("preview device not initialized")
	}
	var fill byte
	if white {
		fill = 0xFF
	}
	buf := make([]byte, epd.BufferSize)
	for i := range buf {
		buf[i] = fill
	}
	return d.write(buf)
}

func (d *Device) Buffer(img image.Image) ([]byte, error) {
	return epd.Encode(img)
}

func (d *Device) DisplayPartial(buf []byte) error {
	if d.mode != epd.PartialUpdate {
		return errors.New("partial refresh requires partial update mode")
	}
	return d.write(buf)
}

// Refreshes reports how many frames have been written.
func (d *Device) Refreshes() int {
	return d.refresh
}

func (d *Device) write(buf []byte) error {
	portrait, err := epd.Decode(buf)
	if err != nil {
		return err
	}
	// A counter-clockwise quarter turn undoes both the encoder's turn into
	// portrait and the upside-down mounting.
	img := imaging.Rotate90(portrait)

	tmp, err := os.CreateTemp(filepath.Dir(d.path), ".preview-*.png")
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode preview: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close preview: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace preview: %w", err)
	}

	d.refresh++
	d.logger.Debug("preview written", "path", d.path, "mode", d.mode.String(), "refresh", d.refresh)
	return nil
}
