package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func imagesWithHashes(hashes ...uint64) []*Image {
	out := make([]*Image, len(hashes))
	for i, h := range hashes {
		out[i] = &Image{Index: i + 1, Hash: h}
		out[i].Digest[0] = byte(i + 1)
	}
	return out
}

func indexes(images []*Image) []int {
	out := make([]int, len(images))
	for i, img := range images {
		out[i] = img.Index
	}
	return out
}

func TestBound(t *testing.T) {
	images := imagesWithHashes(make([]uint64, 12)...)

	got := Bound(images, 10)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, indexes(got))

	assert.Len(t, Bound(images, 15), 12)
	assert.Len(t, Bound(images, 0), 12)
	assert.Empty(t, Bound(nil, 10))
}

func TestBound_DoesNotAliasInput(t *testing.T) {
	images := imagesWithHashes(1, 2, 3)
	got := Bound(images, 2)
	got = append(got, &Image{Index: 99})

	assert.Equal(t, 3, images[2].Index)
	assert.Len(t, got, 3)
}

func TestDedup(t *testing.T) {
	images := imagesWithHashes(
		0x0000_0000_0000_0000,
		0x0000_0000_0000_0003, // 2 bits from #1
		0xFFFF_FFFF_0000_0000,
		0xFFFF_FFFF_0000_0001, // 1 bit from #3
		0x0F0F_0F0F_0F0F_0F0F,
	)

	kept, dropped := Dedup(images, 4)
	assert.Equal(t, []int{1, 3, 5}, indexes(kept))
	assert.Equal(t, 2, dropped)

	kept, dropped = Dedup(images, 0)
	assert.Len(t, kept, 5)
	assert.Zero(t, dropped)

	kept, dropped = Dedup(images, -1)
	assert.Len(t, kept, 5)
	assert.Zero(t, dropped)
}

func TestDedup_ExactBytes(t *testing.T) {
	images := imagesWithHashes(0x01, 0xFFFF_0000, 0x0F0F)
	images[2].Digest = images[0].Digest

	kept, dropped := Dedup(images, -1)
	assert.Equal(t, []int{1, 2}, indexes(kept))
	assert.Equal(t, 1, dropped)
}
