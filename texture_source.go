package seedmap

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/b1naryth1ef/seedmap/gpu"
)

const textureSubsystem = "texture"

// TextureSource is a uniform (layer, mip) view over the image shapes the
// manager uploads: an Atlas, an ImageArray, or a Mipmap of either. Every
// layer of one mip level has the same size.
type TextureSource interface {
	// Layer returns the image of one layer at one mip level.
	Layer(layer, mip int) (image.Image, error)
	LayerCount() int
	MipCount() int

	// Width and Height are the layer dimensions at mip level 0.
	Width() int
	Height() int

	textureSource()
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Atlas packs equally sized layers as rectangles of one image.
type Atlas struct {
	img    image.Image
	rects  []image.Rectangle
	width  int
	height int
}

// NewAtlas cuts img into a horizontal strip of layers each layerWidth wide
// and as tall as the image.
func NewAtlas(img image.Image, layers, layerWidth int) (*Atlas, error) {
	if img == nil {
		return nil, validationErrorf(textureSubsystem, "atlas: nil image")
	}
	b := img.Bounds()
	return NewAtlasFunc(img, layers, func(i int) image.Rectangle {
		return image.Rect(b.Min.X+i*layerWidth, b.Min.Y, b.Min.X+(i+1)*layerWidth, b.Max.Y)
	})
}

// NewAtlasFunc builds an atlas whose layer i occupies rect(i) of img.
func NewAtlasFunc(img image.Image, layers int, rect func(int) image.Rectangle) (*Atlas, error) {
	if img == nil {
		return nil, validationErrorf(textureSubsystem, "atlas: nil image")
	}
	if layers <= 0 {
		return nil, validationErrorf(textureSubsystem, "atlas: layer count %d must be positive", layers)
	}

	bounds := img.Bounds()
	rects := make([]image.Rectangle, layers)
	for i := range rects {
		r := rect(i)
		if r.Empty() {
			return nil, validationErrorf(textureSubsystem, "atlas: layer %d is empty", i)
		}
		if !r.In(bounds) {
			return nil, validationErrorf(textureSubsystem,
				"atlas: layer %d %v outside %dx%d image", i, r, bounds.Dx(), bounds.Dy())
		}
		if i > 0 && r.Size() != rects[0].Size() {
			return nil, validationErrorf(textureSubsystem,
				"atlas: layer %d is %dx%d, layer 0 is %dx%d", i, r.Dx(), r.Dy(), rects[0].Dx(), rects[0].Dy())
		}
		rects[i] = r
	}

	return &Atlas{
		img:    img,
		rects:  rects,
		width:  rects[0].Dx(),
		height: rects[0].Dy(),
	}, nil
}

// Layer returns a view of one cell of the atlas. Images that cannot be
// sliced in place are copied, so fetch each layer once per upload.
func (a *Atlas) Layer(layer, mip int) (image.Image, error) {
	if err := checkLayer(a, layer, mip); err != nil {
		return nil, err
	}
	r := a.rects[layer]
	if s, ok := a.img.(subImager); ok {
		return s.SubImage(r), nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Rect, a.img, r.Min, draw.Src)
	return dst, nil
}

func (a *Atlas) LayerCount() int { return len(a.rects) }
func (a *Atlas) MipCount() int   { return 1 }
func (a *Atlas) Width() int      { return a.width }
func (a *Atlas) Height() int     { return a.height }
func (a *Atlas) textureSource()  {}

// ImageArray is a list of independently supplied, equally sized images.
type ImageArray struct {
	images []image.Image
	width  int
	height int
}

// NewImageArray validates that all images share one size.
func NewImageArray(images ...image.Image) (*ImageArray, error) {
	if len(images) == 0 {
		return nil, validationErrorf(textureSubsystem, "array: layer count must be positive")
	}
	for i, img := range images {
		if img == nil {
			return nil, validationErrorf(textureSubsystem, "array: layer %d is nil", i)
		}
		if img.Bounds().Empty() {
			return nil, validationErrorf(textureSubsystem, "array: layer %d is empty", i)
		}
		if i > 0 && img.Bounds().Size() != images[0].Bounds().Size() {
			s, s0 := img.Bounds().Size(), images[0].Bounds().Size()
			return nil, validationErrorf(textureSubsystem,
				"array: layer %d is %dx%d, layer 0 is %dx%d", i, s.X, s.Y, s0.X, s0.Y)
		}
	}
	size := images[0].Bounds().Size()
	return &ImageArray{
		images: append([]image.Image(nil), images...),
		width:  size.X,
		height: size.Y,
	}, nil
}

func (a *ImageArray) Layer(layer, mip int) (image.Image, error) {
	if err := checkLayer(a, layer, mip); err != nil {
		return nil, err
	}
	return a.images[layer], nil
}

func (a *ImageArray) LayerCount() int { return len(a.images) }
func (a *ImageArray) MipCount() int   { return 1 }
func (a *ImageArray) Width() int      { return a.width }
func (a *ImageArray) Height() int     { return a.height }
func (a *ImageArray) textureSource()  {}

// Mipmap is an ordered chain of single-level sources, level 0 first.
type Mipmap struct {
	levels []TextureSource
}

// NewMipmap builds a mip chain. Every level must be an Atlas or an
// ImageArray and all levels must have the same layer count.
func NewMipmap(levels ...TextureSource) (*Mipmap, error) {
	if len(levels) == 0 {
		return nil, validationErrorf(textureSubsystem, "mipmap: no levels")
	}
	for i, level := range levels {
		switch level.(type) {
		case *Atlas, *ImageArray:
		case nil:
			return nil, validationErrorf(textureSubsystem, "mipmap: level %d is nil", i)
		default:
			return nil, validationErrorf(textureSubsystem, "mipmap: level %d must be an atlas or an array", i)
		}
		if level.LayerCount() != levels[0].LayerCount() {
			return nil, validationErrorf(textureSubsystem,
				"mipmap: level %d has %d layers, level 0 has %d", i, level.LayerCount(), levels[0].LayerCount())
		}
	}
	return &Mipmap{levels: append([]TextureSource(nil), levels...)}, nil
}

func (m *Mipmap) Layer(layer, mip int) (image.Image, error) {
	if err := checkLayer(m, layer, mip); err != nil {
		return nil, err
	}
	return m.levels[mip].Layer(layer, 0)
}

// LevelSize returns the layer dimensions of one mip level.
func (m *Mipmap) LevelSize(mip int) (int, int) {
	if mip < 0 || mip >= len(m.levels) {
		return 0, 0
	}
	return m.levels[mip].Width(), m.levels[mip].Height()
}

func (m *Mipmap) LayerCount() int { return m.levels[0].LayerCount() }
func (m *Mipmap) MipCount() int   { return len(m.levels) }
func (m *Mipmap) Width() int      { return m.levels[0].Width() }
func (m *Mipmap) Height() int     { return m.levels[0].Height() }
func (m *Mipmap) textureSource()  {}

func checkLayer(src TextureSource, layer, mip int) error {
	if layer < 0 || layer >= src.LayerCount() {
		return validationErrorf(textureSubsystem, "layer %d out of range [0, %d)", layer, src.LayerCount())
	}
	if mip < 0 || mip >= src.MipCount() {
		return validationErrorf(textureSubsystem, "mip %d out of range [0, %d)", mip, src.MipCount())
	}
	return nil
}

// GenerateMipmap builds a mip chain from level 0 of src by repeated
// bilinear halving. levels <= 0 asks for the full chain down to 1×1.
func GenerateMipmap(src TextureSource, levels int) (*Mipmap, error) {
	full := gpu.ComputeLevels(src.Width(), src.Height())
	if levels <= 0 || levels > full {
		levels = full
	}

	chain := make([]TextureSource, 0, levels)
	prev := make([]image.Image, src.LayerCount())
	for i := range prev {
		img, err := src.Layer(i, 0)
		if err != nil {
			return nil, err
		}
		prev[i] = img
	}
	base, err := NewImageArray(prev...)
	if err != nil {
		return nil, err
	}
	chain = append(chain, base)

	for level := 1; level < levels; level++ {
		w, h := gpu.LevelSize(src.Width(), src.Height(), level)
		next := make([]image.Image, len(prev))
		for i, img := range prev {
			dst := image.NewRGBA(image.Rect(0, 0, w, h))
			xdraw.BiLinear.Scale(dst, dst.Rect, img, img.Bounds(), xdraw.Src, nil)
			next[i] = dst
		}
		arr, err := NewImageArray(next...)
		if err != nil {
			return nil, err
		}
		chain = append(chain, arr)
		prev = next
	}
	return NewMipmap(chain...)
}
