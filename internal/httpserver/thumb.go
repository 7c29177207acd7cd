package httpserver

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"os"

	// decoders
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// maxThumbPixels refuses sources whose decoded form would not fit in memory.
const maxThumbPixels = 64 << 20

var errImageTooLarge = errors.New("image too large to thumbnail")

// makeThumb scales the image at absPath so its longest edge is at most
// maxSide and returns it as JPEG.
func makeThumb(absPath string, maxSide int) ([]byte, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, os.ErrInvalid
	}
	if cfg.Width*cfg.Height > maxThumbPixels {
		return nil, errImageTooLarge
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	if maxSide <= 0 {
		maxSide = thumbSize
	}
	b := src.Bounds()
	nw, nh := fitWithin(b.Dx(), b.Dy(), maxSide)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// fitWithin shrinks w x h proportionally so neither side exceeds maxSide.
// Smaller images keep their size.
func fitWithin(w, h, maxSide int) (int, int) {
	nw, nh := w, h
	switch {
	case w >= h && w > maxSide:
		nw = maxSide
		nh = int(float64(h) * float64(maxSide) / float64(w))
	case h > w && h > maxSide:
		nh = maxSide
		nw = int(float64(w) * float64(maxSide) / float64(h))
	}
	return max(nw, 1), max(nh, 1)
}
