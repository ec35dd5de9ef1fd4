// Package raster turns packed 1-bit-per-pixel printer rasters into images
// and persists them as PNG files.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
)

var (
	ErrSizeMismatch = errors.New("raster: data length does not match width*height")
	ErrEmptyImage   = errors.New("raster: empty image")
)

const (
	blankIndex uint8 = 0
	markIndex  uint8 = 1
)

// Palette is white for blank pixels and black for marked pixels.
var Palette = color.Palette{color.White, color.Black}

// Render expands a packed raster of width bytes per row and height rows
// into a (width*8) x height image. Bit 7 of each byte is the leftmost pixel.
func Render(width, height int, data []byte) (*image.Paletted, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("raster: negative size %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, fmt.Errorf("%w: len=%d width=%d height=%d", ErrSizeMismatch, len(data), width, height)
	}

	img := image.NewPaletted(image.Rect(0, 0, width*8, height), Palette)
	for y := 0; y < height; y++ {
		row := data[y*width : (y+1)*width]
		pix := img.Pix[y*img.Stride : y*img.Stride+width*8]
		for x, b := range row {
			if b == 0 {
				continue
			}
			bits := Unpack(b)
			for i, marked := range bits {
				if marked {
					pix[x*8+i] = markIndex
				}
			}
		}
	}
	return img, nil
}

// Unpack returns the 8 pixels of one packed byte, leftmost first.
func Unpack(b byte) [8]bool {
	var out [8]bool
	for k := 7; k >= 0; k-- {
		out[7-k] = b&(1<<k) != 0
	}
	return out
}

// Marked reports whether pixel (x, y) of a rendered raster is black.
func Marked(img *image.Paletted, x, y int) bool {
	return img.ColorIndexAt(x, y) == markIndex
}

// EncodePNG writes img as PNG. Zero-area images are rejected since PNG
// cannot represent them.
func EncodePNG(w io.Writer, img image.Image) error {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return ErrEmptyImage
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}
