package epd

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

const lineWidth = (Width + 7) / 8

// BufferSize is the length of a full-frame RAM image in bytes.
const BufferSize = lineWidth * Height

// Encode converts img into the controller's RAM layout: one bit per pixel,
// rows of Width pixels padded to whole bytes, MSB first, bit set for white.
// img must be Width x Height, or Height x Width in which case it is turned a
// quarter clockwise into portrait first.
func Encode(img image.Image) ([]byte, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	var sourceImg image.Image
	if width == Height && height == Width {
		rotated := image.NewRGBA(image.Rect(0, 0, height, width))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				rotated.Set(y, width-x-1, img.At(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
		sourceImg = rotated
	} else if width == Width && height == Height {
		sourceImg = img
	} else {
		return nil, fmt.Errorf("invalid image dimensions: must be %dx%d or %dx%d",
			Width, Height, Height, Width)
	}

	palette := []color.Color{color.Black, color.White}
	palettedImg := image.NewPaletted(image.Rect(0, 0, Width, Height), palette)
	draw.Draw(palettedImg, palettedImg.Bounds(), sourceImg, sourceImg.Bounds().Min, draw.Src)

	return convertToDisplayBuffer(palettedImg), nil
}

func convertToDisplayBuffer(img *image.Paletted) []byte {
	buf := make([]byte, BufferSize)
	for i := range buf {
		buf[i] = 0xFF
	}

	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			if img.ColorIndexAt(x, y) == 0 {
				byteIdx := x/8 + y*lineWidth
				bitIdx := uint(7 - x%8)
				buf[byteIdx] &^= 1 << bitIdx
			}
		}
	}

	return buf
}

// Decode is the inverse of Encode for portrait input: it returns the
// Width x Height image held in buf.
func Decode(buf []byte) (*image.Gray, error) {
	if len(buf) != BufferSize {
		return nil, fmt.Errorf("invalid buffer size %d: must be %d", len(buf), BufferSize)
	}

	img := image.NewGray(image.Rect(0, 0, Width, Height))
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			if buf[x/8+y*lineWidth]&(1<<uint(7-x%8)) != 0 {
				img.SetGray(x, y, color.Gray{Y: 0xFF})
			}
		}
	}
	return img, nil
}
