package attendance

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultThreshold is the binarization cut-off on a 0-255 scale. Attendance
// screenshots are dark text on a light background; 150 separates the two
// without keeping anti-aliasing fringes. It is a tuning knob, not derived
// from the image.
const DefaultThreshold uint8 = 150

// Decode interprets data as a raster image. The slice is only read.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}
	return img, nil
}

// Grayscale reduces img to a single luma channel using the ITU-R 601 weights.
// Alpha is ignored and colour is taken as stored, before premultiplication,
// so a transparent background keeps its colour instead of turning black.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(b)
	switch src := img.(type) {
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				i := src.PixOffset(x, y)
				gray.SetGray(x, y, luma(src.Pix[i], src.Pix[i+1], src.Pix[i+2]))
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				gray.SetGray(x, y, luma(straightRGB(img.At(x, y))))
			}
		}
	}
	return gray
}

// straightRGB returns the colour channels of c without alpha applied. Colour
// types that store straight alpha are read directly; the premultiplied
// conversion would zero them at alpha 0.
func straightRGB(c color.Color) (r, g, b uint8) {
	switch c := c.(type) {
	case color.NRGBA:
		return c.R, c.G, c.B
	case color.NRGBA64:
		return uint8(c.R >> 8), uint8(c.G >> 8), uint8(c.B >> 8)
	case color.NYCbCrA:
		return color.YCbCrToRGB(c.Y, c.Cb, c.Cr)
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return n.R, n.G, n.B
}

func luma(r, g, b uint8) color.Gray {
	y := (19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16
	return color.Gray{Y: uint8(y)}
}

// Binarize maps every pixel brighter than threshold to white and the rest to
// black. The input is left untouched.
func Binarize(gray *image.Gray, threshold uint8) *image.Gray {
	b := gray.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if gray.GrayAt(x, y).Y > threshold {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}
