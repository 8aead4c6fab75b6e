// Package render turns the buffered log lines into a panel frame and pushes
// it to the display with a partial refresh.
package render

import (
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// Frame geometry in the orientation text is drawn in.
const (
	Width     = 250
	Height    = 122
	RowHeight = 12
)

// Device is the part of the panel the renderer writes to.
type Device interface {
	Buffer(img image.Image) ([]byte, error)
	DisplayPartial(buf []byte) error
}

// DeviceError reports a failed call into the display device.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("display device: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

type Renderer struct {
	dev    Device
	face   font.Face
	logger *slog.Logger
}

type Option func(*Renderer)

// WithFace overrides the default 7x13 bitmap font.
func WithFace(face font.Face) Option {
	return func(r *Renderer) {
		if face != nil {
			r.face = face
		}
	}
}

// WithLogger sets the logger that receives one debug record per drawn row.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func New(dev Device, opts ...Option) *Renderer {
	r := &Renderer{
		dev:    dev,
		face:   basicfont.Face7x13,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Frame draws lines top to bottom, one per RowHeight pixels, and returns the
// result turned upside down to match how the panel is mounted. Text running
// past the right edge is dropped.
func (r *Renderer) Frame(lines []string) image.Image {
	canvas := image1bit.NewVerticalLSB(image.Rect(0, 0, Width, Height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	ascent := r.face.Metrics().Ascent
	drawer := font.Drawer{
		Dst:  canvas,
		Src:  image.Black,
		Face: r.face,
	}
	for i, line := range lines {
		drawer.Dot = fixed.Point26_6{X: 0, Y: fixed.I(i*RowHeight) + ascent}
		drawer.DrawString(line)
	}

	return imaging.Rotate180(canvas)
}

// Render draws lines and submits them to the device as a partial refresh.
func (r *Renderer) Render(lines []string) error {
	frame := r.Frame(lines)
	for i, line := range lines {
		r.logger.Debug("render row", "row", i, "text", line)
	}

	buf, err := r.dev.Buffer(frame)
	if err != nil {
		return &DeviceError{Op: "buffer", Err: err}
	}
	if err := r.dev.DisplayPartial(buf); err != nil {
		return &DeviceError{Op: "display-partial", Err: err}
	}
	return nil
}
