package frame

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
)

// Decode reads a PNG, JPEG or BMP image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("frame: decode: %w", err)
	}
	return img, nil
}

// Dump writes black.bin, red.bin and preview.png into dir.
func (p *Planes) Dump(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "black.bin"), p.Black, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "red.bin"), p.Red, 0o644); err != nil {
		return err
	}
	return p.WritePNG(filepath.Join(dir, "preview.png"))
}

// WritePNG writes Preview() to path, replacing it atomically.
func (p *Planes) WritePNG(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".preview-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, p.Preview()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
