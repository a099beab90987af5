// Package frame converts images into the packed black and red planes the
// panel controller expects.
//
// Both planes are y-major, 1bpp, MSB first:
//
//	byteIndex = y*(width/8) + x>>3
//	mask      = 0x80 >> (x & 7)
//
// Polarity follows the controller: in the black plane a 0 bit is black ink,
// in the red plane a 1 bit is red ink. A blank frame is therefore all 0xFF
// black and all 0x00 red.
package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// Ink is the colour a single pixel ends up as on the panel.
type Ink uint8

const (
	White Ink = iota
	Black
	Red
)

// Planes holds one frame for a width x height panel.
type Planes struct {
	Width  int
	Height int
	Black  []byte
	Red    []byte
}

// NewPlanes returns a blank (all white) frame. width must be a multiple of 8.
func NewPlanes(width, height int) (*Planes, error) {
	if width <= 0 || height <= 0 || width%8 != 0 {
		return nil, fmt.Errorf("frame: unsupported size %dx%d", width, height)
	}
	size := width / 8 * height
	return &Planes{
		Width:  width,
		Height: height,
		Black:  bytes.Repeat([]byte{0xFF}, size),
		Red:    make([]byte, size),
	}, nil
}

func (p *Planes) index(x, y int) (int, byte) {
	return y*(p.Width/8) + x>>3, byte(0x80 >> (x & 7))
}

// Set paints one pixel. Out of range coordinates are ignored.
func (p *Planes) Set(x, y int, ink Ink) {
	if x < 0 || y < 0 || x >= p.Width || y >= p.Height {
		return
	}
	i, mask := p.index(x, y)
	p.Black[i] |= mask
	p.Red[i] &^= mask
	switch ink {
	case Black:
		p.Black[i] &^= mask
	case Red:
		p.Red[i] |= mask
	}
}

// At reports the ink at one pixel. Red wins over black when both bits are set.
func (p *Planes) At(x, y int) Ink {
	if x < 0 || y < 0 || x >= p.Width || y >= p.Height {
		return White
	}
	i, mask := p.index(x, y)
	switch {
	case p.Red[i]&mask != 0:
		return Red
	case p.Black[i]&mask == 0:
		return Black
	}
	return White
}

// Pack converts img into planes for a width x height panel.
//
// img must be exactly width pixels wide and at least height pixels tall;
// taller images are cropped around their vertical centre. Pixels with
// alpha < 128 are treated as white.
func Pack(img image.Image, width, height int) (*Planes, error) {
	b := img.Bounds()
	if b.Dx() != width {
		return nil, fmt.Errorf("frame: expected width %d, got %d", width, b.Dx())
	}
	if b.Dy() < height {
		return nil, fmt.Errorf("frame: expected height >= %d, got %d", height, b.Dy())
	}
	p, err := NewPlanes(width, height)
	if err != nil {
		return nil, err
	}

	src := toNRGBA(img)
	startY := (b.Dy() - height) / 2

	for py := 0; py < height; py++ {
		rowOff := (startY + py) * src.Stride
		for px := 0; px < width; px++ {
			i := rowOff + px*4
			c := color.NRGBA{R: src.Pix[i], G: src.Pix[i+1], B: src.Pix[i+2], A: src.Pix[i+3]}
			if c.A < 128 {
				continue
			}
			if ink := Classify(c); ink != White {
				p.Set(px, py, ink)
			}
		}
	}
	return p, nil
}

// toNRGBA returns img as an NRGBA whose bounds start at the origin.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Classify decides which ink a colour maps to.
//
//   - luma Y = 0.299R + 0.587G + 0.114B below 64 is black
//   - R > 128 and R - max(G, B) > 32 is red
//   - everything else is white
func Classify(c color.NRGBA) Ink {
	r, g, b := float64(c.R), float64(c.G), float64(c.B)

	y := 0.299*r + 0.587*g + 0.114*b
	if y < 64 {
		return Black
	}

	maxGB := g
	if b > maxGB {
		maxGB = b
	}
	if r > 128 && r-maxGB > 32 {
		return Red
	}
	return White
}

var (
	previewWhite = color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	previewBlack = color.NRGBA{A: 0xFF}
	previewRed   = color.NRGBA{R: 0xD0, G: 0x10, B: 0x10, A: 0xFF}
)

// Palette is the colour model of a three-colour panel.
var Palette = color.Palette{previewWhite, previewBlack, previewRed}

// Preview renders the planes back into an image, as the panel would show it.
func (p *Planes) Preview() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, p.Width, p.Height))
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			c := previewWhite
			switch p.At(x, y) {
			case Black:
				c = previewBlack
			case Red:
				c = previewRed
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
