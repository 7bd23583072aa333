package epd

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Encode converts a rendered bitmap into the panel's packed
// framebuffer layout. The panel is mounted upside-down in the
// enclosure, so every image is first rotated 180°. Images matching
// the panel geometry are packed directly; images matching the
// transpose (rendered landscape for the portrait panel) are rotated
// 90° first. Anything else fails with ErrDimensionMismatch; callers
// substitute Blank rather than dropping the refresh.
func Encode(img image.Image, o *Opts) ([]byte, error) {
	rotated := imaging.Rotate180(img)

	b := rotated.Bounds()
	switch {
	case b.Dx() == o.Width && b.Dy() == o.Height:
		// native orientation
	case b.Dx() == o.Height && b.Dy() == o.Width:
		rotated = imaging.Rotate90(rotated)
	default:
		return nil, fmt.Errorf("epd: %dx%d image on %dx%d panel: %w",
			b.Dx(), b.Dy(), o.Width, o.Height, ErrDimensionMismatch)
	}
	return pack(rotated, o), nil
}

// Blank returns an all-white framebuffer of the panel's packed size.
func Blank(o *Opts) []byte {
	buf := make([]byte, o.BufferLen())
	for i := range buf {
		buf[i] = 0xFF
	}
	return buf
}

// pack flattens pixels row-major, MSB first. Bit convention matches
// the panel RAM: 1 is white, 0 is ink.
func pack(img image.Image, o *Opts) []byte {
	stride := (o.Width + 7) / 8
	buf := make([]byte, stride*o.Height)
	min := img.Bounds().Min
	for y := 0; y < o.Height; y++ {
		for x := 0; x < o.Width; x++ {
			if pixelLight(img.At(min.X+x, min.Y+y)) {
				buf[y*stride+x/8] |= 0x80 >> (x % 8)
			}
		}
	}
	return buf
}

// pixelLight reports whether a pixel renders as paper rather than ink.
func pixelLight(c color.Color) bool {
	r, g, b, a := c.RGBA()
	return a >= 0x8000 && (r > 0x2000 || g > 0x2000 || b > 0x2000)
}
