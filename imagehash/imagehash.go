// Package imagehash computes 64-bit perceptual fingerprints of raster images
// so near-identical product-detail panels can be recognised regardless of
// encoding, scale or minor recompression.
package imagehash

import (
	"image"
	"math/bits"

	"golang.org/x/image/draw"
)

// Difference computes a 64-bit difference hash (dHash) of img.
//
// The image is scaled to 9x8 grayscale; bit i is set when a pixel is
// brighter than its right-hand neighbour. Returns 0 for an empty image.
func Difference(img image.Image) uint64 {
	if img == nil || img.Bounds().Empty() {
		return 0
	}

	small := image.NewGray(image.Rect(0, 0, 9, 8))
	draw.BiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	var hash uint64
	bit := 0
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			left := small.GrayAt(x, y).Y
			right := small.GrayAt(x+1, y).Y
			if left > right {
				hash |= 1 << uint(bit)
			}
			bit++
		}
	}
	return hash
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar returns true if the Hamming distance between two fingerprints
// is less than or equal to the threshold.
func Similar(a, b uint64, threshold int) bool {
	return Distance(a, b) <= threshold
}
