package importer

import (
	"fmt"
	"image"
	"image/color"

	"github.com/aquilax/go-perlin"
	"github.com/lucasb-eyer/go-colorful"
	xdraw "golang.org/x/image/draw"

	"github.com/b1naryth1ef/seedmap"
)

// Default shared atlas sizes.
const (
	DefaultTileSize       = 16
	DefaultBackgroundSize = 64
)

type SharedOptions struct {
	// TileSize is the natural tile edge in pixels.
	TileSize int

	// Levels is the natural tile mip count. Zero builds the full chain.
	Levels int

	// BackgroundSize is the backdrop layer edge in pixels.
	BackgroundSize int
}

func (o *SharedOptions) setDefaults() {
	if o.TileSize <= 0 {
		o.TileSize = DefaultTileSize
	}
	if o.BackgroundSize <= 0 {
		o.BackgroundSize = DefaultBackgroundSize
	}
}

// BuildShared builds the element metadata, natural tiles and backdrop for
// elements. Element i of the slice becomes column i of the metadata.
func BuildShared(elements []Element, opts SharedOptions) (seedmap.SharedData, error) {
	opts.setDefaults()
	if len(elements) == 0 {
		return seedmap.SharedData{}, fmt.Errorf("no elements")
	}

	meta := image.NewRGBA(image.Rect(0, 0, len(elements), seedmap.MetadataRows))
	tiles := []image.Image{}
	for i, el := range elements {
		if i == AirElement {
			continue
		}
		meta.SetRGBA(i, seedmap.MetadataColorRow, el.Color)
		if el.Texture == nil {
			continue
		}
		meta.SetRGBA(i, seedmap.MetadataTileRow, seedmap.EncodeIndex(len(tiles)))
		tiles = append(tiles, resizeTile(el.Texture, opts.TileSize))
	}
	if len(tiles) == 0 {
		// The natural tile array must hold at least one layer.
		gray := image.NewRGBA(image.Rect(0, 0, opts.TileSize, opts.TileSize))
		xdraw.Draw(gray, gray.Rect, image.NewUniform(color.RGBA{0x80, 0x80, 0x80, 0xff}), image.Point{}, xdraw.Src)
		tiles = append(tiles, gray)
	}

	natural, err := naturalLevels(tiles, opts.Levels)
	if err != nil {
		return seedmap.SharedData{}, err
	}

	return seedmap.SharedData{
		Elements:   meta,
		Background: Backdrop(opts.BackgroundSize),
		Natural:    natural,
	}, nil
}

func resizeTile(src image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	b := src.Bounds()
	if b.Dx() == size && b.Dy() == size {
		xdraw.Draw(dst, dst.Rect, src, b.Min, xdraw.Src)
		return dst
	}
	xdraw.NearestNeighbor.Scale(dst, dst.Rect, src, b, xdraw.Src, nil)
	return dst
}

// naturalLevels returns the tiles by mip level then layer.
func naturalLevels(tiles []image.Image, levels int) ([][]image.Image, error) {
	arr, err := seedmap.NewImageArray(tiles...)
	if err != nil {
		return nil, err
	}
	chain, err := seedmap.GenerateMipmap(arr, levels)
	if err != nil {
		return nil, err
	}
	out := make([][]image.Image, chain.MipCount())
	for level := range out {
		out[level] = make([]image.Image, chain.LayerCount())
		for layer := range out[level] {
			img, err := chain.Layer(layer, level)
			if err != nil {
				return nil, err
			}
			out[level][layer] = img
		}
	}
	return out, nil
}

// backdropGrain is the lightness amplitude of the gradient noise.
const backdropGrain = 0.015

// Backdrop returns the two backdrop layers: an opaque grained dusk
// gradient and a translucent cell grid, both premultiplied.
func Backdrop(size int) []image.Image {
	top := colorful.Hcl(250, 0.12, 0.18)
	bottom := colorful.Hcl(280, 0.08, 0.08)
	noise := perlin.NewPerlin(2, 2, 3, 1)

	gradient := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		t := float64(y) / float64(max(1, size-1))
		h, c, l := top.BlendHcl(bottom, t).Hcl()
		for x := 0; x < size; x++ {
			n := noise.Noise2D(float64(x)/8, float64(y)/8)
			r, g, b := colorful.Hcl(h, c, l+n*backdropGrain).Clamped().RGB255()
			gradient.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xff})
		}
	}

	grid := image.NewRGBA(image.Rect(0, 0, size, size))
	line := colorful.Hcl(200, 0.05, 0.6)
	const alpha = 0x30
	lr, lg, lb := line.RGB255()
	premul := color.RGBA{
		R: uint8(uint32(lr) * alpha / 0xff),
		G: uint8(uint32(lg) * alpha / 0xff),
		B: uint8(uint32(lb) * alpha / 0xff),
		A: alpha,
	}
	step := max(1, size/8)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x%step == 0 || y%step == 0 {
				grid.SetRGBA(x, y, premul)
			}
		}
	}
	return []image.Image{gradient, grid}
}
