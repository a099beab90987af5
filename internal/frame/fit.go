package frame

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// Fit scales img to fit inside width x height keeping its aspect ratio and
// centres it on a white canvas of exactly that size. Images that already
// match are returned unchanged.
func Fit(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(previewWhite), image.Point{}, draw.Src)
	if b.Empty() {
		return canvas
	}

	// Scale by the tighter of the two ratios.
	w, h := width, b.Dy()*width/b.Dx()
	if h > height {
		w, h = b.Dx()*height/b.Dy(), height
	}
	off := image.Pt((width-w)/2, (height-h)/2)
	dst := image.Rectangle{Min: off, Max: off.Add(image.Pt(w, h))}
	xdraw.ApproxBiLinear.Scale(canvas, dst, img, b, xdraw.Over, nil)
	return canvas
}
