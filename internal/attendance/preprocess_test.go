package attendance

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/example/attendance-check/internal/imagetest"
)

func TestDecodeRejectsInvalidInput(t *testing.T) {
	for name, data := range map[string][]byte{
		"nil":        nil,
		"empty":      {},
		"text":       []byte("12/16 = 75.0"),
		"truncated":  imagetest.ScreenshotPNG(t, "12/16 = 75.0")[:40],
		"png header": {0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(data); !errors.Is(err, ErrDecode) {
				t.Fatalf("expected ErrDecode, got %v", err)
			}
		})
	}
}

func TestDecodeAcceptsPNGAndJPEG(t *testing.T) {
	img := imagetest.Text("45/60 = 75.00", color.Black, color.White, 2)
	for name, data := range map[string][]byte{
		"png":  imagetest.PNG(t, img),
		"jpeg": imagetest.JPEG(t, img),
	} {
		t.Run(name, func(t *testing.T) {
			decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if decoded.Bounds() != img.Bounds() {
				t.Fatalf("expected bounds %v, got %v", img.Bounds(), decoded.Bounds())
			}
		})
	}
}

func TestGrayscaleUsesLumaWeights(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{G: 255, A: 255})
	img.Set(2, 0, color.RGBA{B: 255, A: 255})

	gray := Grayscale(img)
	want := []uint8{76, 150, 29}
	for x, w := range want {
		if got := gray.GrayAt(x, 0).Y; got != w {
			t.Fatalf("pixel %d: expected %d, got %d", x, w, got)
		}
	}
}

func TestGrayscaleIgnoresAlpha(t *testing.T) {
	rect := image.Rect(0, 0, 2, 1)

	nrgba := image.NewNRGBA(rect)
	nrgba.SetNRGBA(0, 0, color.NRGBA{A: 255})
	nrgba.SetNRGBA(1, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 0})

	paletted := image.NewPaletted(rect, color.Palette{
		color.NRGBA{A: 255},
		color.NRGBA{R: 255, G: 255, B: 255, A: 0},
	})
	paletted.SetColorIndex(1, 0, 1)

	nrgba64 := image.NewNRGBA64(rect)
	nrgba64.SetNRGBA64(0, 0, color.NRGBA64{A: 0xffff})
	nrgba64.SetNRGBA64(1, 0, color.NRGBA64{R: 0xffff, G: 0xffff, B: 0xffff, A: 0})

	nycbcra := image.NewNYCbCrA(rect, image.YCbCrSubsampleRatio444)
	for i := range nycbcra.Cb {
		nycbcra.Cb[i], nycbcra.Cr[i] = 128, 128
	}
	nycbcra.Y[nycbcra.YOffset(0, 0)], nycbcra.A[nycbcra.AOffset(0, 0)] = 0, 255
	nycbcra.Y[nycbcra.YOffset(1, 0)], nycbcra.A[nycbcra.AOffset(1, 0)] = 255, 0

	for name, img := range map[string]image.Image{
		"nrgba":    nrgba,
		"paletted": paletted,
		"nrgba64":  nrgba64,
		"nycbcra":  nycbcra,
	} {
		t.Run(name, func(t *testing.T) {
			out := Binarize(Grayscale(img), DefaultThreshold)
			if got := out.GrayAt(0, 0).Y; got != 0 {
				t.Fatalf("text pixel: expected 0, got %d", got)
			}
			if got := out.GrayAt(1, 0).Y; got != 255 {
				t.Fatalf("transparent background: expected 255, got %d", got)
			}
		})
	}
}

func TestTransparentPNGKeepsBackground(t *testing.T) {
	rect := image.Rect(0, 0, 4, 1)

	paletted := image.NewPaletted(rect, color.Palette{
		color.NRGBA{R: 255, G: 255, B: 255, A: 0},
		color.NRGBA{A: 255},
	})
	paletted.SetColorIndex(0, 0, 1)

	nrgba64 := image.NewNRGBA64(rect)
	for x := 0; x < 4; x++ {
		nrgba64.SetNRGBA64(x, 0, color.NRGBA64{R: 0xffff, G: 0xffff, B: 0xffff})
	}
	nrgba64.SetNRGBA64(0, 0, color.NRGBA64{A: 0xffff})

	for name, img := range map[string]image.Image{
		"paletted": paletted,
		"nrgba64":  nrgba64,
	} {
		t.Run(name, func(t *testing.T) {
			decoded, err := Decode(imagetest.PNG(t, img))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			out := Binarize(Grayscale(decoded), DefaultThreshold)
			if got := out.GrayAt(0, 0).Y; got != 0 {
				t.Fatalf("text pixel: expected 0, got %d", got)
			}
			if got := out.GrayAt(3, 0).Y; got != 255 {
				t.Fatalf("%T background: expected 255, got %d", decoded, got)
			}
		})
	}
}

func TestBinarizeIsStrictlyGreaterThanThreshold(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 4, 1))
	for x, v := range []uint8{0, 150, 151, 255} {
		gray.SetGray(x, 0, color.Gray{Y: v})
	}

	out := Binarize(gray, DefaultThreshold)
	want := []uint8{0, 0, 255, 255}
	for x, w := range want {
		if got := out.GrayAt(x, 0).Y; got != w {
			t.Fatalf("pixel %d: expected %d, got %d", x, w, got)
		}
	}
	if gray.GrayAt(2, 0).Y != 151 {
		t.Fatal("input image was modified")
	}
}

func TestBinarizeHandlesOffsetBounds(t *testing.T) {
	gray := image.NewGray(image.Rect(10, 10, 12, 12))
	gray.SetGray(11, 11, color.Gray{Y: 200})

	out := Binarize(gray, 100)
	if out.Bounds() != gray.Bounds() {
		t.Fatalf("expected bounds to be kept, got %v", out.Bounds())
	}
	if out.GrayAt(11, 11).Y != 255 || out.GrayAt(10, 10).Y != 0 {
		t.Fatal("unexpected binarized values")
	}
}
