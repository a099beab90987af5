package epd

import (
	"image"
	"image/color"
	"image/draw"

	"periph.io/x/conn/v3/display"

	"epaper/internal/frame"
)

// ColorModel returns the white, black and red palette.
func (d *Dev) ColorModel() color.Model {
	return frame.Palette
}

// Draw renders src at dstRect on an otherwise white frame and displays it.
// The whole panel is refreshed.
func (d *Dev) Draw(dstRect image.Rectangle, src image.Image, sp image.Point) error {
	canvas := image.NewNRGBA(d.Bounds())
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, dstRect.Intersect(canvas.Bounds()), src, sp, draw.Over)

	planes, err := frame.Pack(canvas, d.opts.Width, d.opts.Height)
	if err != nil {
		return err
	}
	return d.DisplayFrame(planes.Black, planes.Red)
}

var _ display.Drawer = &Dev{}
