package importer

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/Tnze/go-mc/save"
	"github.com/muesli/gamut"
	xdraw "golang.org/x/image/draw"

	"github.com/b1naryth1ef/seedmap"
)

// AirElement is the element index of empty columns. It is never drawn.
const AirElement = 0

// MaxElements is the number of element indices the index encoding holds.
const MaxElements = 1 << 16

// Element is one entry of the element metadata texture.
type Element struct {
	Name string

	// Color is the UI color; the zero value marks an element that is not
	// drawn.
	Color color.RGBA

	// Texture is the top face of the block, or nil when the element has no
	// natural tile.
	Texture image.Image
}

// Palette assigns element indices to block names and resolves their colors
// and textures from the game resources. A palette without a loader still
// assigns indices; colors then come from a generated pastel palette.
type Palette struct {
	mu sync.RWMutex

	loader *seedmap.AssetLoader
	log    *slog.Logger

	index    map[string]int
	elements []*Element

	biomeLock  sync.RWMutex
	biomeCache map[save.BiomeState]*Biome

	modelCache      map[string]modelInfo
	blockStateCache map[string]blockStateInfo
	textureCache    map[string]image.Image
	missing         map[string]struct{}

	grassColorMap   image.Image
	foliageColorMap image.Image
}

func NewPalette(loader *seedmap.AssetLoader) *Palette {
	p := &Palette{
		loader:          loader,
		log:             seedmap.Logger().With("subsystem", "palette"),
		index:           map[string]int{"minecraft:air": AirElement},
		elements:        []*Element{{Name: "minecraft:air"}},
		biomeCache:      make(map[save.BiomeState]*Biome),
		modelCache:      make(map[string]modelInfo),
		blockStateCache: make(map[string]blockStateInfo),
		textureCache:    make(map[string]image.Image),
		missing:         make(map[string]struct{}),
	}
	if loader != nil {
		var err error
		p.grassColorMap, err = loader.LoadPNG("assets/minecraft/textures/colormap/grass.png")
		if err != nil {
			p.log.Debug("no grass colormap", "err", err)
		}
		p.foliageColorMap, err = loader.LoadPNG("assets/minecraft/textures/colormap/foliage.png")
		if err != nil {
			p.log.Debug("no foliage colormap", "err", err)
		}
	}
	return p
}

// Element returns the index of the element for state, registering it on
// first use. Air blocks map to AirElement.
func (p *Palette) Element(state save.BlockState) (int, error) {
	if isAirBlock(state.Name) {
		return AirElement, nil
	}

	p.mu.RLock()
	idx, ok := p.index[state.Name]
	p.mu.RUnlock()
	if ok {
		return idx, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if idx, ok := p.index[state.Name]; ok {
		return idx, nil
	}
	if len(p.elements) >= MaxElements {
		return 0, fmt.Errorf("more than %d distinct blocks", MaxElements)
	}

	el := &Element{Name: state.Name}
	if tex, err := p.resolveTexture(state); err != nil {
		p.missing[state.Name] = struct{}{}
		p.log.Debug("no texture for block", "block", state.Name, "err", err)
	} else {
		el.Texture = p.tint(state.Name, tex)
		el.Color = averageColor(el.Texture)
	}
	if c, ok := fixedColor(state.Name); ok {
		el.Color = c
	}

	idx = len(p.elements)
	p.index[state.Name] = idx
	p.elements = append(p.elements, el)
	return idx, nil
}

// Biome returns the biome definition for state, falling back to plains.
func (p *Palette) Biome(state save.BiomeState) *Biome {
	p.biomeLock.RLock()
	if res, ok := p.biomeCache[state]; ok {
		p.biomeLock.RUnlock()
		return res
	}
	p.biomeLock.RUnlock()

	p.biomeLock.Lock()
	defer p.biomeLock.Unlock()
	if res, ok := p.biomeCache[state]; ok {
		return res
	}

	biome := defaultBiome
	if p.loader != nil {
		path := fmt.Sprintf("data/minecraft/worldgen/biome/%s.json", resourceName(string(state)))
		data, err := p.loader.LoadRaw(path)
		if err == nil {
			err = json.Unmarshal(data, &biome)
		}
		if err != nil {
			p.log.Debug("using default biome", "biome", state, "err", err)
			biome = defaultBiome
		}
	}
	p.biomeCache[state] = &biome
	return &biome
}

// Len returns the number of registered elements, air included.
func (p *Palette) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.elements)
}

// Missing lists blocks whose texture could not be resolved.
func (p *Palette) Missing() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]string, 0, len(p.missing))
	for k := range p.missing {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Elements returns the registered elements sorted by name with air first,
// together with remap, the new index of every registered index. Elements
// without a resolved color get one from a pastel palette.
func (p *Palette) Elements() (elements []Element, remap []int, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	order := make([]int, len(p.elements)-1)
	for i := range order {
		order[i] = i + 1
	}
	sort.Slice(order, func(a, b int) bool {
		return p.elements[order[a]].Name < p.elements[order[b]].Name
	})

	remap = make([]int, len(p.elements))
	elements = make([]Element, 0, len(p.elements))
	elements = append(elements, *p.elements[AirElement])
	remap[AirElement] = AirElement
	for _, old := range order {
		remap[old] = len(elements)
		elements = append(elements, *p.elements[old])
	}

	uncolored := []int{}
	for i := 1; i < len(elements); i++ {
		if elements[i].Color == (color.RGBA{}) {
			uncolored = append(uncolored, i)
		}
	}
	if len(uncolored) > 0 {
		colors, err := gamut.Generate(len(uncolored), gamut.PastelGenerator{})
		if err != nil {
			return nil, nil, fmt.Errorf("generate fallback palette: %w", err)
		}
		for i, idx := range uncolored {
			r, g, b, _ := colors[i].RGBA()
			elements[idx].Color = color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 0xff}
		}
	}
	return elements, remap, nil
}

func (p *Palette) resolveTexture(state save.BlockState) (image.Image, error) {
	if p.loader == nil {
		return nil, fmt.Errorf("no resources")
	}

	info, ok := p.blockStateCache[state.Name]
	if !ok {
		data, err := p.loader.LoadRaw(fmt.Sprintf("assets/minecraft/blockstates/%s.json", resourceName(state.Name)))
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &info); err != nil {
			return nil, fmt.Errorf("decode blockstate %s: %w", state.Name, err)
		}
		p.blockStateCache[state.Name] = info
	}

	props, err := propertiesMap(state.Properties)
	if err != nil {
		return nil, fmt.Errorf("properties of %s: %w", state.Name, err)
	}
	modelName, err := info.modelFor(props)
	if err != nil {
		return nil, fmt.Errorf("blockstate %s: %w", state.Name, err)
	}

	model, err := p.loadModel(modelName, 0)
	if err != nil {
		return nil, err
	}
	textureName := model.topTexture()
	if textureName == "" {
		return nil, fmt.Errorf("model %s has no texture", modelName)
	}
	textureName = resourceName(textureName)

	texture, ok := p.textureCache[textureName]
	if !ok {
		texture, err = p.loader.LoadPNG(fmt.Sprintf("assets/minecraft/textures/%s.png", textureName))
		if err != nil {
			return nil, err
		}
		p.textureCache[textureName] = texture
	}
	return texture, nil
}

// loadModel loads a model and merges the textures of its parents.
func (p *Palette) loadModel(name string, depth int) (modelInfo, error) {
	if m, ok := p.modelCache[name]; ok {
		return m, nil
	}
	if depth > 8 {
		return modelInfo{}, fmt.Errorf("model %s: parent chain too deep", name)
	}

	var m modelInfo
	data, err := p.loader.LoadRaw(fmt.Sprintf("assets/minecraft/models/%s.json", resourceName(name)))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode model %s: %w", name, err)
	}

	if m.Parent != "" && !hasConcreteTexture(m) {
		parent, err := p.loadModel(m.Parent, depth+1)
		if err == nil {
			merged := map[string]string{}
			for k, v := range parent.Textures {
				merged[k] = v
			}
			for k, v := range m.Textures {
				merged[k] = v
			}
			m.Textures = merged
		}
	}

	p.modelCache[name] = m
	return m, nil
}

func hasConcreteTexture(m modelInfo) bool {
	for _, v := range m.Textures {
		if len(v) > 0 && v[0] != '#' {
			return true
		}
	}
	return false
}

// tint crops animated strips to their first frame and applies the biome
// tint to grayscale textures.
func (p *Palette) tint(block string, tex image.Image) image.Image {
	b := tex.Bounds()
	size := b.Dx()
	if b.Dy() < size {
		size = b.Dy()
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.Draw(dst, dst.Rect, tex, b.Min, xdraw.Src)

	tint, ok := p.tintColor(block)
	if !ok {
		return dst
	}
	r, g, bl, _ := tint.RGBA()
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = uint8(uint32(dst.Pix[i]) * (r >> 8) / 0xff)
		dst.Pix[i+1] = uint8(uint32(dst.Pix[i+1]) * (g >> 8) / 0xff)
		dst.Pix[i+2] = uint8(uint32(dst.Pix[i+2]) * (bl >> 8) / 0xff)
	}
	return dst
}

func (p *Palette) tintColor(block string) (color.Color, bool) {
	x, y := defaultBiome.ColorMapCoords()
	switch {
	case isGrassBlock(block):
		if p.grassColorMap != nil {
			return p.grassColorMap.At(x, y), true
		}
		return color.RGBA{R: 0x91, G: 0xbd, B: 0x59, A: 0xff}, true
	case isFoliageBlock(block):
		if p.foliageColorMap != nil {
			return p.foliageColorMap.At(x, y), true
		}
		return color.RGBA{R: 0x77, G: 0xab, B: 0x2f, A: 0xff}, true
	case block == "minecraft:birch_leaves":
		return color.RGBA{R: 0x80, G: 0xa7, B: 0x55, A: 0xff}, true
	case block == "minecraft:spruce_leaves":
		return color.RGBA{R: 0x61, G: 0x99, B: 0x61, A: 0xff}, true
	case block == "minecraft:water":
		return color.RGBA{R: 0x3f, G: 0x76, B: 0xe4, A: 0xff}, true
	}
	return nil, false
}

// fixedColor overrides the averaged texture color of a few blocks whose
// textures do not read well on a map.
func fixedColor(block string) (color.RGBA, bool) {
	switch block {
	case "minecraft:water":
		return color.RGBA{R: 0x3f, G: 0x76, B: 0xe4, A: 0xff}, true
	case "minecraft:lava":
		return color.RGBA{R: 0xcf, G: 0x5b, B: 0x14, A: 0xff}, true
	}
	return color.RGBA{}, false
}

// averageColor is the alpha weighted mean color of texture, made opaque.
// Fully transparent textures yield the zero color.
func averageColor(texture image.Image) color.RGBA {
	bounds := texture.Bounds()
	var rr, gg, bb, aa float64
	for i := bounds.Min.X; i < bounds.Max.X; i++ {
		for j := bounds.Min.Y; j < bounds.Max.Y; j++ {
			// RGBA is premultiplied, so the sums are already weighted.
			r, g, b, a := texture.At(i, j).RGBA()
			rr += float64(r)
			gg += float64(g)
			bb += float64(b)
			aa += float64(a)
		}
	}
	if aa == 0 {
		return color.RGBA{}
	}
	return color.RGBA{
		R: uint8(math.Round(rr / aa * 0xff)),
		G: uint8(math.Round(gg / aa * 0xff)),
		B: uint8(math.Round(bb / aa * 0xff)),
		A: 0xff,
	}
}
