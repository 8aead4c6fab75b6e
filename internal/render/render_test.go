package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"log/slog"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	bufs    [][]byte
	bufErr  error
	dispErr error
}

func (f *fakeDevice) Buffer(img image.Image) ([]byte, error) {
	if f.bufErr != nil {
		return nil, f.bufErr
	}
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if isBlack(img, x, y) {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out, nil
}

func (f *fakeDevice) DisplayPartial(buf []byte) error {
	if f.dispErr != nil {
		return f.dispErr
	}
	f.bufs = append(f.bufs, buf)
	return nil
}

func isBlack(img image.Image, x, y int) bool {
	return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y < 0x80
}

func countBlack(img image.Image, y0, y1 int) int {
	n := 0
	for y := y0; y < y1; y++ {
		for x := 0; x < Width; x++ {
			if isBlack(img, x, y) {
				n++
			}
		}
	}
	return n
}

// upright undoes the mounting rotation so rows can be checked top-down.
func upright(img image.Image) image.Image {
	return imaging.Rotate180(img)
}

func requireShifted(t *testing.T, base, shifted image.Image, dy int) {
	t.Helper()
	for y := 0; y+dy < Height; y++ {
		for x := 0; x < Width; x++ {
			require.Equal(t, isBlack(base, x, y), isBlack(shifted, x, y+dy), "pixel (%d,%d)", x, y)
		}
	}
}

func TestFrameSize(t *testing.T) {
	r := New(&fakeDevice{})
	b := r.Frame([]string{"x"}).Bounds()
	assert.Equal(t, Width, b.Dx())
	assert.Equal(t, Height, b.Dy())
}

func TestBlankFrameIsWhite(t *testing.T) {
	r := New(&fakeDevice{})
	assert.Zero(t, countBlack(r.Frame(nil), 0, Height))
}

func TestSecondRowStartsAtTwelve(t *testing.T) {
	r := New(&fakeDevice{})
	single := upright(r.Frame([]string{"hello"}))
	second := upright(r.Frame([]string{"", "hello"}))

	require.NotZero(t, countBlack(single, 0, RowHeight+1))
	assert.Zero(t, countBlack(second, 0, RowHeight))
	requireShifted(t, single, second, RowHeight)
}

func TestTenthRowStartsAtOneHundredEight(t *testing.T) {
	r := New(&fakeDevice{})
	lines := make([]string, 10)
	lines[9] = "L12"

	single := upright(r.Frame([]string{"L12"}))
	last := upright(r.Frame(lines))

	assert.Zero(t, countBlack(last, 0, 108))
	assert.NotZero(t, countBlack(last, 108, Height))
	requireShifted(t, single, last, 108)
}

func TestFrameIsUpsideDown(t *testing.T) {
	r := New(&fakeDevice{})
	frame := r.Frame([]string{"hello"})

	assert.Zero(t, countBlack(frame, 0, Height-RowHeight-2))
	assert.NotZero(t, countBlack(frame, Height-RowHeight-2, Height))
}

func TestLongLineIsClipped(t *testing.T) {
	r := New(&fakeDevice{})
	frame := r.Frame([]string{strings.Repeat("W", 200)})
	assert.Equal(t, Width, frame.Bounds().Dx())
}

func TestRenderIsDeterministic(t *testing.T) {
	dev := &fakeDevice{}
	r := New(dev)
	lines := []string{"[#] booting...", "hello"}

	require.NoError(t, r.Render(lines))
	require.NoError(t, r.Render(lines))
	require.Len(t, dev.bufs, 2)
	assert.Equal(t, dev.bufs[0], dev.bufs[1])

	require.NoError(t, r.Render([]string{"[#] booting...", "hellO"}))
	assert.NotEqual(t, dev.bufs[0], dev.bufs[2])
}

func TestRenderTracesRows(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := New(&fakeDevice{}, WithLogger(logger))

	require.NoError(t, r.Render([]string{"[#] booting...", "hello"}))
	assert.Contains(t, out.String(), `row=0 text="[#] booting..."`)
	assert.Contains(t, out.String(), `row=1 text=hello`)
}

func TestRenderWrapsDeviceErrors(t *testing.T) {
	fault := errors.New("spi gone")

	err := New(&fakeDevice{bufErr: fault}).Render([]string{"a"})
	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "buffer", devErr.Op)
	assert.ErrorIs(t, err, fault)

	err = New(&fakeDevice{dispErr: fault}).Render([]string{"a"})
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "display-partial", devErr.Op)
	assert.EqualError(t, err, "display device: display-partial: spi gone")
}
