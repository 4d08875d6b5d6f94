package gpu

import (
	"image"
	"sync"
)

// maxFreePerSize bounds the released images kept for one surface size.
const maxFreePerSize = 4

// freeImages holds released surface images by size. A manager renders into
// one or two canvas sizes, so the lists stay short.
var freeImages = struct {
	sync.Mutex
	bySize map[image.Point][]*image.RGBA
}{bySize: make(map[image.Point][]*image.RGBA)}

// GetRGBA returns a cleared w×h image anchored at the origin, reusing one
// handed back through PutRGBA when possible.
func GetRGBA(w, h int) *image.RGBA {
	size := image.Pt(w, h)

	freeImages.Lock()
	var img *image.RGBA
	if list := freeImages.bySize[size]; len(list) > 0 {
		img = list[len(list)-1]
		freeImages.bySize[size] = list[:len(list)-1]
	}
	freeImages.Unlock()

	if img == nil {
		return image.NewRGBA(image.Rectangle{Max: size})
	}
	clear(img.Pix)
	return img
}

// PutRGBA hands img back for reuse. Nil images, sub-images and images past
// the per-size limit are left to the garbage collector.
func PutRGBA(img *image.RGBA) {
	if img == nil || img.Rect.Min != (image.Point{}) || img.Stride != 4*img.Rect.Dx() {
		return
	}
	size := img.Rect.Size()

	freeImages.Lock()
	defer freeImages.Unlock()
	if list := freeImages.bySize[size]; len(list) < maxFreePerSize {
		freeImages.bySize[size] = append(list, img)
	}
}
