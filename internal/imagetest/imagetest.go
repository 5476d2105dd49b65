// Package imagetest renders synthetic attendance screenshots for tests.
package imagetest

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Text draws text in fg on a bg canvas using the 7x13 bitmap face, then
// scales the result by scale so OCR engines get legible glyphs.
func Text(text string, fg, bg color.Color, scale int) *image.RGBA {
	if scale < 1 {
		scale = 1
	}
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil() + 20
	src := image.NewRGBA(image.Rect(0, 0, width, 30))
	draw.Draw(src, src.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  src,
		Src:  &image.Uniform{C: fg},
		Face: face,
		Dot:  fixed.P(10, 20),
	}
	d.DrawString(text)

	dst := image.NewRGBA(image.Rect(0, 0, width*scale, 30*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// PNG encodes img, failing the test on error.
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// JPEG encodes img at high quality, failing the test on error.
func JPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// ScreenshotPNG is shorthand for a black-on-white rendering of text.
func ScreenshotPNG(t testing.TB, text string) []byte {
	t.Helper()
	return PNG(t, Text(text, color.Black, color.White, 4))
}
