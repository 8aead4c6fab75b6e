// Package app runs the read, push, render loop that feeds the panel.
package app

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	goerrors "github.com/go-errors/errors"

	"github.com/timschmolka/epdlog/epd"
	"github.com/timschmolka/epdlog/internal/logbuf"
	"github.com/timschmolka/epdlog/internal/render"
)

// BootMessage is the first line shown after the panel is initialized.
const BootMessage = "[#] booting..."

// Device is everything the loop needs from a panel.
type Device interface {
	render.Device
	Init(mode epd.Mode) error
	Clear(white bool) error
}

type State int

const (
	Booting State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Booting:
		return "booting"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Options struct {
	// Capacity is the number of visible lines. Zero means
	// logbuf.DefaultCapacity.
	Capacity int
	// Batch defers the refresh while more complete lines are already
	// buffered on the input, so a burst costs a single refresh.
	Batch  bool
	Logger *slog.Logger
}

type Loop struct {
	dev      Device
	buf      *logbuf.Buffer
	renderer *render.Renderer
	logger   *slog.Logger
	batch    bool
	state    State
	renders  int
}

func New(dev Device, opts Options) *Loop {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = logbuf.DefaultCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		dev:      dev,
		buf:      logbuf.New(capacity),
		renderer: render.New(dev, render.WithLogger(logger)),
		logger:   logger,
		batch:    opts.Batch,
		state:    Booting,
	}
}

// Boot initializes the panel, clears it to white, switches it to partial
// refresh and shows the boot line.
func (l *Loop) Boot() error {
	if l.state != Booting {
		return nil
	}

	steps := []struct {
		op string
		fn func() error
	}{
		{"init-full", func() error { return l.dev.Init(epd.FullUpdate) }},
		{"clear", func() error { return l.dev.Clear(true) }},
		{"init-partial", func() error { return l.dev.Init(epd.PartialUpdate) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return goerrors.Wrap(&render.DeviceError{Op: step.op, Err: err}, 1)
		}
	}

	l.buf.Push(BootMessage)
	if err := l.render(); err != nil {
		return err
	}
	l.state = Running
	l.logger.Info("display ready", "capacity", l.buf.Cap(), "batch", l.batch)
	return nil
}

// Run boots the panel if needed, then pushes and renders each line read from
// in. It returns nil when in reaches end of stream and ctx.Err() if ctx is
// cancelled between lines.
func (l *Loop) Run(ctx context.Context, in io.Reader) error {
	if err := l.Boot(); err != nil {
		return err
	}

	br := bufio.NewReader(in)
	dirty := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return goerrors.Wrap(fmt.Errorf("read input: %w", err), 1)
		}
		eof := err != nil
		if eof && line == "" {
			if dirty {
				return l.render()
			}
			l.logger.Debug("input closed")
			return nil
		}

		l.Push(strings.TrimRight(line, "\r\n"))
		dirty = true

		if !eof && l.batch && pendingLine(br) {
			continue
		}
		if err := l.render(); err != nil {
			return err
		}
		dirty = false
		if eof {
			l.logger.Debug("input closed")
			return nil
		}
	}
}

// Push adds a line without refreshing the panel.
func (l *Loop) Push(line string) {
	l.logger.Debug("line received", "text", line)
	l.buf.Push(line)
}

// Render redraws the panel from the current buffer.
func (l *Loop) Render() error {
	return l.render()
}

func (l *Loop) render() error {
	if err := l.renderer.Render(l.buf.Lines()); err != nil {
		return goerrors.Wrap(err, 1)
	}
	l.renders++
	return nil
}

// Lines returns the visible lines, oldest first.
func (l *Loop) Lines() []string { return l.buf.Lines() }

func (l *Loop) State() State { return l.state }

// Renders reports how many refreshes were submitted.
func (l *Loop) Renders() int { return l.renders }

// pendingLine reports whether a complete line is already buffered.
func pendingLine(br *bufio.Reader) bool {
	n := br.Buffered()
	if n == 0 {
		return false
	}
	peek, err := br.Peek(n)
	if err != nil {
		return false
	}
	return bytes.IndexByte(peek, '\n') >= 0
}
