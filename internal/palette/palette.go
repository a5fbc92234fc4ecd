// Package palette extracts a representative color palette from a
// decoded source image.
package palette

import (
	"fmt"
	"image"
	"sort"

	"github.com/disintegration/imaging"
)

// Extractor produces a representative palette for an image.
type Extractor interface {
	Extract(img image.Image, count int) ([]string, error)
}

// sampleSize bounds the downsampled image the quantizer runs over.
const sampleSize = 64

// FrequencyExtractor quantizes colors into coarse RGB buckets and
// returns the most frequent buckets as hex colors, most frequent first.
type FrequencyExtractor struct{}

// NewFrequencyExtractor creates the default extractor.
func NewFrequencyExtractor() *FrequencyExtractor {
	return &FrequencyExtractor{}
}

type bucket struct {
	key     uint16
	count   int
	r, g, b uint64
}

// Extract returns up to count hex colors like "#a1b2c3".
func (e *FrequencyExtractor) Extract(img image.Image, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("palette: invalid color count %d", count)
	}

	small := imaging.Fit(img, sampleSize, sampleSize, imaging.Box)
	buckets := make(map[uint16]*bucket)

	w, h := small.Bounds().Dx(), small.Bounds().Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := small.PixOffset(x, y)
			r := small.Pix[off]
			g := small.Pix[off+1]
			b := small.Pix[off+2]

			// 4 bits per channel: 4096 possible buckets.
			key := uint16(r>>4)<<8 | uint16(g>>4)<<4 | uint16(b>>4)
			bk, ok := buckets[key]
			if !ok {
				bk = &bucket{key: key}
				buckets[key] = bk
			}
			bk.count++
			bk.r += uint64(r)
			bk.g += uint64(g)
			bk.b += uint64(b)
		}
	}

	ranked := make([]*bucket, 0, len(buckets))
	for _, bk := range buckets {
		ranked = append(ranked, bk)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].key < ranked[j].key
	})

	if len(ranked) > count {
		ranked = ranked[:count]
	}

	colors := make([]string, 0, len(ranked))
	for _, bk := range ranked {
		n := uint64(bk.count)
		colors = append(colors, fmt.Sprintf("#%02x%02x%02x", bk.r/n, bk.g/n, bk.b/n))
	}
	return colors, nil
}
