// Package render produces cover-fit and contain-fit variants of a
// decoded source image at exact target dimensions.
package render

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"math"

	"github.com/disintegration/imaging"
)

// jpegQuality is used for every encoded variant.
const jpegQuality = 80

// anchorSteps is how many candidate crop windows are scored along the
// overflow axis when picking the cover-crop anchor.
const anchorSteps = 9

// Renderer renders variants with Lanczos resampling and JPEG output.
type Renderer struct{}

// New creates a renderer.
func New() *Renderer {
	return &Renderer{}
}

// Decode decodes raw source bytes into an image and its format name.
func (r *Renderer) Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("image decode failed: %w", err)
	}
	return img, format, nil
}

// Cover scales the image to fill exactly width x height and crops the
// overflow at the window with the highest pixel entropy, so featureless
// borders get clipped before busy content does.
func (r *Renderer) Cover(img image.Image, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target dimensions %dx%d", width, height)
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	scale := math.Max(float64(width)/float64(srcW), float64(height)/float64(srcH))
	scaledW := int(math.Round(float64(srcW) * scale))
	scaledH := int(math.Round(float64(srcH) * scale))
	if scaledW < width {
		scaledW = width
	}
	if scaledH < height {
		scaledH = height
	}

	scaled := imaging.Resize(img, scaledW, scaledH, imaging.Lanczos)
	x, y := bestAnchor(scaled, width, height)
	cropped := imaging.Crop(scaled, image.Rect(x, y, x+width, y+height))

	return encodeJPEG(cropped)
}

// Contain scales the image down to fit within width x height without
// cropping, preserving aspect ratio.
func (r *Renderer) Contain(img image.Image, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target dimensions %dx%d", width, height)
	}
	fitted := imaging.Fit(img, width, height, imaging.Lanczos)
	return encodeJPEG(fitted)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("JPEG encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

// bestAnchor slides a width x height window along the overflow axis of
// the scaled image and returns the origin of the highest-entropy
// window. Zero overflow returns the origin.
func bestAnchor(img *image.NRGBA, width, height int) (int, int) {
	overflowX := img.Bounds().Dx() - width
	overflowY := img.Bounds().Dy() - height

	if overflowX <= 0 && overflowY <= 0 {
		return 0, 0
	}

	bestX, bestY := 0, 0
	bestScore := -1.0
	for i := 0; i < anchorSteps; i++ {
		x := overflowX * i / (anchorSteps - 1)
		y := overflowY * i / (anchorSteps - 1)
		if overflowX <= 0 {
			x = 0
		}
		if overflowY <= 0 {
			y = 0
		}
		score := windowEntropy(img, x, y, width, height)
		if score > bestScore {
			bestScore = score
			bestX, bestY = x, y
		}
	}
	return bestX, bestY
}

// windowEntropy computes the Shannon entropy of the luminance histogram
// over the given window, sampled on a coarse grid to keep scoring cheap
// for large renders.
func windowEntropy(img *image.NRGBA, x, y, width, height int) float64 {
	const bins = 64

	stepX := width / 128
	if stepX < 1 {
		stepX = 1
	}
	stepY := height / 128
	if stepY < 1 {
		stepY = 1
	}

	var hist [bins]int
	total := 0
	for py := y; py < y+height; py += stepY {
		row := img.PixOffset(img.Bounds().Min.X+x, img.Bounds().Min.Y+py)
		for px := 0; px < width; px += stepX {
			off := row + px*4
			// Rec. 601 luma, integer weights.
			lum := (299*int(img.Pix[off]) + 587*int(img.Pix[off+1]) + 114*int(img.Pix[off+2])) / 1000
			hist[lum*bins/256]++
			total++
		}
	}

	entropy := 0.0
	for _, count := range hist {
		if count == 0 {
			continue
		}
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
