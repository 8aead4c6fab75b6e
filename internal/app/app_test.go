package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"
	"testing/iotest"

	goerrors "github.com/go-errors/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timschmolka/epdlog/epd"
	"github.com/timschmolka/epdlog/internal/render"
)

type fakeDevice struct {
	calls     []string
	initErr   error
	partials  int
	failAfter int
}

func (f *fakeDevice) Init(mode epd.Mode) error {
	f.calls = append(f.calls, "init:"+mode.String())
	return f.initErr
}

func (f *fakeDevice) Clear(white bool) error {
	f.calls = append(f.calls, fmt.Sprintf("clear:%v", white))
	return nil
}

func (f *fakeDevice) Buffer(img image.Image) ([]byte, error) {
	f.calls = append(f.calls, "buffer")
	return []byte{0}, nil
}

func (f *fakeDevice) DisplayPartial(buf []byte) error {
	f.calls = append(f.calls, "partial")
	f.partials++
	if f.failAfter > 0 && f.partials > f.failAfter {
		return errors.New("panel unplugged")
	}
	return nil
}

func run(t *testing.T, dev *fakeDevice, opts Options, input string) *Loop {
	t.Helper()
	l := New(dev, opts)
	require.NoError(t, l.Run(context.Background(), strings.NewReader(input)))
	return l
}

func TestBootSequence(t *testing.T) {
	dev := &fakeDevice{}
	l := New(dev, Options{})
	assert.Equal(t, Booting, l.State())

	require.NoError(t, l.Boot())
	assert.Equal(t, []string{"init:full", "clear:true", "init:partial", "buffer", "partial"}, dev.calls)
	assert.Equal(t, []string{BootMessage}, l.Lines())
	assert.Equal(t, Running, l.State())
	assert.Equal(t, 1, l.Renders())

	// Booting twice is a no-op.
	require.NoError(t, l.Boot())
	assert.Len(t, dev.calls, 5)
}

func TestRunPushesThenRenders(t *testing.T) {
	dev := &fakeDevice{}
	l := run(t, dev, Options{}, "hello\n")

	assert.Equal(t, []string{BootMessage, "hello"}, l.Lines())
	assert.Equal(t, 2, l.Renders())
	assert.Equal(t, 2, dev.partials)
}

func TestRunKeepsLastTenLines(t *testing.T) {
	var in strings.Builder
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&in, "L%d\n", i)
	}
	l := run(t, &fakeDevice{}, Options{}, in.String())

	want := []string{"L3", "L4", "L5", "L6", "L7", "L8", "L9", "L10", "L11", "L12"}
	assert.Equal(t, want, l.Lines())
	assert.Equal(t, 13, l.Renders())
}

func TestRunAcceptsEmptyLines(t *testing.T) {
	l := run(t, &fakeDevice{}, Options{}, "\n\n")
	assert.Equal(t, []string{BootMessage, "", ""}, l.Lines())
	assert.Equal(t, 3, l.Renders())
}

func TestRunDeliversUnterminatedLastLine(t *testing.T) {
	l := run(t, &fakeDevice{}, Options{}, "a\r\nb")
	assert.Equal(t, []string{BootMessage, "a", "b"}, l.Lines())
	assert.Equal(t, 3, l.Renders())
}

func TestRunEmptyInputOnlyBoots(t *testing.T) {
	l := run(t, &fakeDevice{}, Options{}, "")
	assert.Equal(t, []string{BootMessage}, l.Lines())
	assert.Equal(t, 1, l.Renders())
}

func TestRunBatchCoalescesBufferedLines(t *testing.T) {
	l := run(t, &fakeDevice{}, Options{Batch: true}, "a\nb\nc\n")
	assert.Equal(t, []string{BootMessage, "a", "b", "c"}, l.Lines())
	assert.Equal(t, 2, l.Renders())
}

func TestRunBatchRendersSlowInput(t *testing.T) {
	// OneByteReader keeps at most one byte buffered, so no line is ever
	// pending when the previous one completes.
	l := New(&fakeDevice{}, Options{Batch: true})
	require.NoError(t, l.Run(context.Background(), iotest.OneByteReader(strings.NewReader("a\nb\n"))))
	assert.Equal(t, 3, l.Renders())
}

func TestRunCustomCapacity(t *testing.T) {
	l := run(t, &fakeDevice{}, Options{Capacity: 2}, "a\nb\n")
	assert.Equal(t, []string{"a", "b"}, l.Lines())
}

func TestBootFailureIsDeviceError(t *testing.T) {
	fault := errors.New("no panel")
	dev := &fakeDevice{initErr: fault}

	err := New(dev, Options{}).Run(context.Background(), strings.NewReader("x\n"))
	var devErr *render.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "init-full", devErr.Op)
	assert.ErrorIs(t, err, fault)

	var stacked *goerrors.Error
	require.ErrorAs(t, err, &stacked)
	assert.NotEmpty(t, stacked.ErrorStack())
	assert.Equal(t, []string{"init:full"}, dev.calls)
}

func TestRenderFailureStopsLoop(t *testing.T) {
	dev := &fakeDevice{failAfter: 1}
	l := New(dev, Options{})

	err := l.Run(context.Background(), strings.NewReader("a\nb\n"))
	var devErr *render.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "display-partial", devErr.Op)
	assert.Equal(t, []string{BootMessage, "a"}, l.Lines())
}

func TestReadErrorIsReturned(t *testing.T) {
	err := New(&fakeDevice{}, Options{}).Run(context.Background(), iotest.ErrReader(errors.New("tty hangup")))
	assert.ErrorContains(t, err, "read input: tty hangup")
}

func TestCancelledContextStopsBeforeReading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := New(&fakeDevice{}, Options{})
	err := l.Run(ctx, strings.NewReader("never\n"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{BootMessage}, l.Lines())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "booting", Booting.String())
	assert.Equal(t, "running", Running.String())
}
