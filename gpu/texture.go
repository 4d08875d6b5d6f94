package gpu

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/bits"
)

// ArrayTextureDesc describes the fixed storage layout of an array texture.
type ArrayTextureDesc struct {
	Label  string
	Width  int
	Height int
	Layers int
	Levels int
}

// ArrayTexture is a layered, mipmapped RGBA8 texture. Its layout is fixed
// at allocation; only layer contents change afterwards.
type ArrayTexture struct {
	ctx  *Context
	desc ArrayTextureDesc

	// texels[level][layer], committed on first write.
	texels    [][]*image.RGBA
	sizeBytes uint64
	destroyed bool
}

// ComputeLevels returns the length of a full mip chain for a w×h texture.
func ComputeLevels(w, h int) int {
	m := max(w, h)
	if m < 1 {
		return 0
	}
	return bits.Len(uint(m))
}

// LevelSize returns the dimensions of mip level n of a w×h texture.
func LevelSize(w, h, level int) (int, int) {
	return max(1, w>>level), max(1, h>>level)
}

// NewArrayTexture allocates an array texture.
func (c *Context) NewArrayTexture(desc ArrayTextureDesc) (*ArrayTexture, error) {
	const op = "NewArrayTexture"
	if err := c.check(op); err != nil {
		return nil, err
	}

	var reason string
	switch {
	case desc.Width < 1, desc.Height < 1:
		reason = "invalid size"
	case desc.Width > c.opts.MaxTextureSize, desc.Height > c.opts.MaxTextureSize:
		reason = "size too big"
	case desc.Layers < 1:
		reason = "invalid layer count"
	case desc.Layers > c.opts.MaxArrayLayers:
		reason = "too many layers"
	case desc.Levels < 1, desc.Levels > ComputeLevels(desc.Width, desc.Height):
		reason = "invalid level count"
	}
	if reason != "" {
		return nil, newError(InvalidValue, op, "%s: %s (%dx%dx%d, %d levels)",
			desc.Label, reason, desc.Width, desc.Height, desc.Layers, desc.Levels)
	}

	var size uint64
	for level := 0; level < desc.Levels; level++ {
		w, h := LevelSize(desc.Width, desc.Height, level)
		size += uint64(w) * uint64(h) * 4 * uint64(desc.Layers)
	}
	if err := c.reserve(op, size); err != nil {
		return nil, err
	}

	texels := make([][]*image.RGBA, desc.Levels)
	for level := range texels {
		texels[level] = make([]*image.RGBA, desc.Layers)
	}

	tex := &ArrayTexture{
		ctx:       c,
		desc:      desc,
		texels:    texels,
		sizeBytes: size,
	}
	c.textures[tex] = struct{}{}

	slogger().Debug("array texture allocated",
		"label", desc.Label, "width", desc.Width, "height", desc.Height,
		"layers", desc.Layers, "levels", desc.Levels, "bytes", size)
	return tex, nil
}

func (t *ArrayTexture) Label() string { return t.desc.Label }
func (t *ArrayTexture) Layers() int   { return t.desc.Layers }
func (t *ArrayTexture) Levels() int   { return t.desc.Levels }

// Width returns the width of the given mip level.
func (t *ArrayTexture) Width(level int) int {
	w, _ := LevelSize(t.desc.Width, t.desc.Height, level)
	return w
}

// Height returns the height of the given mip level.
func (t *ArrayTexture) Height(level int) int {
	_, h := LevelSize(t.desc.Width, t.desc.Height, level)
	return h
}

// SizeBytes returns the memory reserved for the texture.
func (t *ArrayTexture) SizeBytes() uint64 {
	return t.sizeBytes
}

// Upload writes img at the origin of one layer of one mip level. The image
// must fit within the level.
func (t *ArrayTexture) Upload(layer, level int, img image.Image) error {
	const op = "Upload"
	if err := t.ctx.check(op); err != nil {
		return err
	}
	if t.destroyed {
		return newError(InvalidOperation, op, "%s: texture destroyed", t.desc.Label)
	}
	if layer < 0 || layer >= t.desc.Layers || level < 0 || level >= t.desc.Levels {
		return newError(InvalidValue, op, "%s: layer %d level %d out of range", t.desc.Label, layer, level)
	}
	if img == nil {
		return newError(InvalidValue, op, "%s: nil image", t.desc.Label)
	}

	w, h := LevelSize(t.desc.Width, t.desc.Height, level)
	b := img.Bounds()
	if b.Dx() > w || b.Dy() > h {
		return newError(InvalidValue, op, "%s: %dx%d image exceeds level %d size %dx%d",
			t.desc.Label, b.Dx(), b.Dy(), level, w, h)
	}

	dst := t.texels[level][layer]
	if dst == nil {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		t.texels[level][layer] = dst
	} else {
		clear(dst.Pix)
	}
	draw.Draw(dst, image.Rect(0, 0, b.Dx(), b.Dy()), img, b.Min, draw.Src)
	return nil
}

// Fetch returns the texel at (x, y) of one layer and level with coordinates
// clamped to the level. Uncommitted layers read as transparent black.
func (t *ArrayTexture) Fetch(layer, level, x, y int) color.RGBA {
	if t.destroyed || layer < 0 || layer >= t.desc.Layers || level < 0 || level >= t.desc.Levels {
		return color.RGBA{}
	}
	img := t.texels[level][layer]
	if img == nil {
		return color.RGBA{}
	}
	x = clampInt(x, 0, img.Rect.Dx()-1)
	y = clampInt(y, 0, img.Rect.Dy()-1)
	i := img.PixOffset(x, y)
	s := img.Pix[i : i+4 : i+4]
	return color.RGBA{R: s[0], G: s[1], B: s[2], A: s[3]}
}

// SampleRepeat samples one layer and level with nearest filtering and
// repeat wrapping. u and v are normalized, v grows downward.
func (t *ArrayTexture) SampleRepeat(layer, level int, u, v float64) color.RGBA {
	w, h := LevelSize(t.desc.Width, t.desc.Height, level)
	x := int(fract(u) * float64(w))
	y := int(fract(v) * float64(h))
	return t.Fetch(layer, level, x, y)
}

// Destroy releases the texture and returns its memory to the budget.
func (t *ArrayTexture) Destroy() {
	if t.destroyed {
		return
	}
	delete(t.ctx.textures, t)
	t.ctx.usedBytes -= t.sizeBytes
	t.release()
}

func (t *ArrayTexture) release() {
	t.texels = nil
	t.destroyed = true
}

func fract(v float64) float64 {
	f := v - math.Floor(v)
	if f >= 1 {
		return 0
	}
	return f
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
