package harvest

import (
	"crypto/sha256"

	"github.com/use-agent/labelscan/imagehash"
)

// Dedup drops every image whose bytes are identical to an image kept before
// it. When distance is non-negative it also drops images whose perceptual
// hash is within distance bits of a kept image. Order is preserved.
func Dedup(images []*Image, distance int) (kept []*Image, dropped int) {
	kept = make([]*Image, 0, len(images))
	seen := make(map[[sha256.Size]byte]struct{}, len(images))
	for _, img := range images {
		if _, ok := seen[img.Digest]; ok {
			dropped++
			continue
		}
		if distance >= 0 && nearKept(img, kept, distance) {
			dropped++
			continue
		}
		seen[img.Digest] = struct{}{}
		kept = append(kept, img)
	}
	return kept, dropped
}

func nearKept(img *Image, kept []*Image, distance int) bool {
	for _, k := range kept {
		if imagehash.Similar(img.Hash, k.Hash, distance) {
			return true
		}
	}
	return false
}

// Bound truncates images to at most max entries, preserving order.
// A non-positive max leaves the list untouched.
func Bound(images []*Image, max int) []*Image {
	if max <= 0 || len(images) <= max {
		return images
	}
	return images[:max:max]
}
