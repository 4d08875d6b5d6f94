package importer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/Tnze/go-mc/level"
	"github.com/Tnze/go-mc/save"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b1naryth1ef/seedmap"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func pngFile(t *testing.T, img image.Image) *fstest.MapFile {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &fstest.MapFile{Data: buf.Bytes()}
}

func testResources(t *testing.T) *seedmap.AssetLoader {
	return seedmap.NewAssetLoader(fstest.MapFS{
		"assets/minecraft/blockstates/stone.json":             {Data: []byte(`{"variants":{"":{"model":"minecraft:block/stone"}}}`)},
		"assets/minecraft/models/block/stone.json":            {Data: []byte(`{"parent":"block/cube_all","textures":{"all":"minecraft:block/stone"}}`)},
		"assets/minecraft/textures/block/stone.png":           pngFile(t, solid(16, 16, color.RGBA{0x7f, 0x7f, 0x7f, 0xff})),
		"assets/minecraft/blockstates/grass_block.json":       {Data: []byte(`{"variants":{"snowy=false":[{"model":"minecraft:block/grass_block"},{"model":"minecraft:block/grass_block","y":90}]}}`)},
		"assets/minecraft/models/block/grass_block.json":      {Data: []byte(`{"parent":"block/grass_base"}`)},
		"assets/minecraft/models/block/grass_base.json":       {Data: []byte(`{"textures":{"top":"minecraft:block/grass_block_top","side":"#top"}}`)},
		"assets/minecraft/textures/block/grass_block_top.png": pngFile(t, solid(16, 32, color.RGBA{0xff, 0xff, 0xff, 0xff})),
		"data/minecraft/worldgen/biome/desert.json":           {Data: []byte(`{"temperature":2.0,"downfall":0.0}`)},
	})
}

func TestPaletteResolvesTextures(t *testing.T) {
	p := NewPalette(testResources(t))

	stone, err := p.Element(save.BlockState{Name: "minecraft:stone"})
	require.NoError(t, err)
	assert.Equal(t, 1, stone)

	again, err := p.Element(save.BlockState{Name: "minecraft:stone"})
	require.NoError(t, err)
	assert.Equal(t, stone, again)

	air, err := p.Element(save.BlockState{Name: "minecraft:cave_air"})
	require.NoError(t, err)
	assert.Equal(t, AirElement, air)

	grass, err := p.Element(save.BlockState{Name: "minecraft:grass_block"})
	require.NoError(t, err)
	assert.Equal(t, 2, grass)

	els, remap, err := p.Elements()
	require.NoError(t, err)
	require.Len(t, els, 3)
	assert.Equal(t, []int{0, 2, 1}, remap, "grass sorts before stone")
	assert.Equal(t, "minecraft:grass_block", els[1].Name)

	assert.Equal(t, color.RGBA{0x7f, 0x7f, 0x7f, 0xff}, els[2].Color)
	assert.Equal(t, image.Pt(16, 16), els[1].Texture.Bounds().Size(), "animated strip cropped")
	assert.Equal(t, color.RGBA{0x91, 0xbd, 0x59, 0xff}, els[1].Color, "grass tinted")
	assert.Empty(t, p.Missing())
}

func TestPaletteFallbackColors(t *testing.T) {
	for name, loader := range map[string]*seedmap.AssetLoader{
		"no resources":    nil,
		"missing texture": testResources(t),
	} {
		t.Run(name, func(t *testing.T) {
			p := NewPalette(loader)
			for _, block := range []string{"minecraft:obsidian", "minecraft:andesite"} {
				_, err := p.Element(save.BlockState{Name: block})
				require.NoError(t, err)
			}
			assert.Equal(t, []string{"minecraft:andesite", "minecraft:obsidian"}, p.Missing())

			els, _, err := p.Elements()
			require.NoError(t, err)
			require.Len(t, els, 3)
			assert.Equal(t, color.RGBA{}, els[AirElement].Color)
			for _, el := range els[1:] {
				assert.Equal(t, uint8(0xff), el.Color.A, el.Name)
				assert.Nil(t, el.Texture)
			}
			assert.NotEqual(t, els[1].Color, els[2].Color)
		})
	}
}

func TestPaletteBiome(t *testing.T) {
	p := NewPalette(testResources(t))
	desert := p.Biome("minecraft:desert")
	assert.Equal(t, 2.0, desert.Temperature)
	assert.InDelta(t, 323.15, desert.Kelvin(), 1e-9)

	plains := p.Biome("minecraft:plains")
	assert.Equal(t, defaultBiome, *plains)
	assert.Same(t, plains, p.Biome("minecraft:plains"))

	x, y := plains.ColorMapCoords()
	assert.Equal(t, 51, x)
	assert.Equal(t, 174, y)
}

// testChunk is two sections tall: stone up to y=15 everywhere and grass on
// top of it where x < 8.
func testChunk(t *testing.T) *save.Chunk {
	t.Helper()
	chunk := &save.Chunk{Status: "minecraft:full"}
	chunk.Sections = make([]save.Section, 2)

	chunk.Sections[0].BlockStates.Palette = []save.BlockState{{Name: "minecraft:stone"}}
	chunk.Sections[0].Biomes.Palette = []save.BiomeState{"minecraft:plains"}

	blocks := level.NewBitStorage(4, sectionBlocks, nil)
	for z := 0; z < 16; z++ {
		for x := 0; x < 8; x++ {
			blocks.Set((0*16+z)*16+x, 1)
		}
	}
	upper := &chunk.Sections[1]
	upper.BlockStates.Palette = []save.BlockState{{Name: "minecraft:air"}, {Name: "minecraft:grass_block"}}
	upper.BlockStates.Data = blocks.Raw()

	biomes := level.NewBitStorage(1, sectionBiomes, nil)
	for z := 0; z < 4; z++ {
		for x := 0; x < 4; x++ {
			if z >= 2 {
				biomes.Set((0*4+z)*4+x, 1)
			}
		}
	}
	upper.Biomes.Palette = []save.BiomeState{"minecraft:plains", "minecraft:desert"}
	upper.Biomes.Data = biomes.Raw()

	upper.BlockLight = make([]byte, 2048)
	// light 10 above the stone at x=8, z=0
	upper.BlockLight[(0<<8|0<<4|8)/2] = 0x0a

	hm := level.NewBitStorage(6, 256, nil)
	for z := 0; z < 16; z++ {
		for x := 0; x < 16; x++ {
			h := 16
			if x < 8 {
				h = 17
			}
			hm.Set(z*16+x, h)
		}
	}
	chunk.Heightmaps = map[string][]uint64{"MOTION_BLOCKING": hm.Raw()}
	return chunk
}

func TestColumnSampler(t *testing.T) {
	p := NewPalette(testResources(t))
	s := &columnSampler{palette: p}

	var cols [ChunkSize * ChunkSize]Column
	require.NoError(t, s.sample(testChunk(t), &cols))

	grass := cols[0*16+0]
	assert.Equal(t, 1, grass.Element)
	assert.Equal(t, 17*MassPerBlock, grass.Grams)
	assert.InDelta(t, defaultBiome.Kelvin(), grass.Kelvin, 1e-9)

	lit := cols[0*16+8]
	assert.Equal(t, 2, lit.Element, "stone registered second")
	assert.Equal(t, 16*MassPerBlock, lit.Grams)
	assert.InDelta(t, defaultBiome.Kelvin()+10*LightKelvin, lit.Kelvin, 1e-9)

	desertGrass := cols[12*16+3]
	assert.Equal(t, 1, desertGrass.Element)
	assert.InDelta(t, 323.15, desertGrass.Kelvin, 1e-9)
}

func TestColumnSamplerStripCeiling(t *testing.T) {
	chunk := testChunk(t)
	hm := level.NewBitStorage(6, 256, nil)
	for i := 0; i < 256; i++ {
		hm.Set(i, 32)
	}
	chunk.Heightmaps = map[string][]uint64{"MOTION_BLOCKING": hm.Raw()}

	// a stone roof at y=31 over the grass
	roof := level.NewBitStorage(4, sectionBlocks, chunk.Sections[1].BlockStates.Data)
	chunk.Sections[1].BlockStates.Palette = append(chunk.Sections[1].BlockStates.Palette, save.BlockState{Name: "minecraft:stone"})
	for i := 0; i < 256; i++ {
		roof.Set(15*256+i, 2)
	}
	chunk.Sections[1].BlockStates.Data = roof.Raw()

	p := NewPalette(nil)
	var cols [ChunkSize * ChunkSize]Column

	s := &columnSampler{palette: p}
	require.NoError(t, s.sample(chunk, &cols))
	assert.Equal(t, 32*MassPerBlock, cols[0].Grams)

	s.stripCeiling = true
	require.NoError(t, s.sample(chunk, &cols))
	assert.Equal(t, 17*MassPerBlock, cols[0].Grams)
	assert.Equal(t, 16*MassPerBlock, cols[8].Grams)
}

func TestColumnSamplerEmptyChunk(t *testing.T) {
	var cols [ChunkSize * ChunkSize]Column
	s := &columnSampler{palette: NewPalette(nil)}
	require.NoError(t, s.sample(&save.Chunk{}, &cols))
	assert.Equal(t, AirElement, cols[0].Element)
	assert.Zero(t, cols[0].Grams)
}

func TestPaletted(t *testing.T) {
	single := newPaletted(sectionBlocks, 4, 1, nil)
	assert.Equal(t, 0, single.get(100))

	storage := level.NewBitStorage(5, sectionBlocks, nil)
	storage.Set(7, 17)
	p := newPaletted(sectionBlocks, 4, 20, storage.Raw())
	assert.Equal(t, 17, p.get(7))

	wide := level.NewBitStorage(8, sectionBlocks, nil)
	wide.Set(3, 200)
	p = newPaletted(sectionBlocks, 4, 20, wide.Raw())
	assert.Equal(t, 200, p.get(3))

	assert.Nil(t, newPaletted(sectionBlocks, 4, 20, []uint64{1, 2, 3}).storage)
}

func TestExtent(t *testing.T) {
	regions := []regionFile{{x: -1, z: 0}, {x: 0, z: 0}, {x: 0, z: 1}}

	r, err := extent(regions, Options{})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(-512, 0, 512, 1024), r)

	r, err = extent(regions, Options{MaxWidth: 600, MaxHeight: 100})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(-512, 0, 88, 100), r)

	r, err = extent(nil, Options{Bounds: []int{-8, -8, 8, 24}})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(-8, -8, 8, 24), r)

	_, err = extent(nil, Options{Seed: "x"})
	assert.Error(t, err)
}

func TestImportRegionDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "r.0.0.mca"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	regions, err := listRegions(dir)
	require.NoError(t, err)
	require.Len(t, regions, 1)

	im := New(nil)
	w, err := im.Import(context.Background(), Options{Seed: "empty", RegionDir: dir, Bounds: []int{0, 0, 4, 2}})
	require.NoError(t, err)
	assert.Equal(t, 4, w.Width)
	assert.Equal(t, 2, w.Height)
	assert.Zero(t, w.Chunks)
	assert.Equal(t, AirElement, w.At(3, 1).Element)

	_, err = im.Import(context.Background(), Options{RegionDir: dir})
	assert.Error(t, err)

	_, err = im.Import(context.Background(), Options{Seed: "gone", RegionDir: filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestBuildRemapsWorlds(t *testing.T) {
	im := New(nil)
	stone, err := im.Palette().Element(save.BlockState{Name: "minecraft:stone"})
	require.NoError(t, err)
	dirt, err := im.Palette().Element(save.BlockState{Name: "minecraft:dirt"})
	require.NoError(t, err)

	w := NewWorld("a", 2, 1)
	w.Set(0, 0, Column{Element: stone, Kelvin: 300, Grams: 4000})
	w.Set(1, 0, Column{Element: dirt, Kelvin: 250, Grams: 1000})
	im.Add(w)

	shared, worlds, err := im.Build(SharedOptions{})
	require.NoError(t, err)
	require.Len(t, worlds, 1)

	el := worlds[0].Element.(*image.RGBA)
	assert.Equal(t, 2, seedmap.DecodeIndex(el.RGBAAt(0, 0)), "stone sorts after dirt")
	assert.Equal(t, 1, seedmap.DecodeIndex(el.RGBAAt(1, 0)))
	assert.Equal(t, 300.0, seedmap.DecodeTemperature(worlds[0].Temperature.(*image.RGBA).RGBAAt(0, 0)))
	assert.Equal(t, 1000.0, seedmap.DecodeMass(worlds[0].Mass.(*image.RGBA).RGBAAt(1, 0)))

	assert.Equal(t, 3, shared.Elements.Bounds().Dx())
	assert.Len(t, shared.Background, 2)
}

func TestBuildShared(t *testing.T) {
	elements := []Element{
		{Name: "minecraft:air"},
		{Name: "minecraft:stone", Color: color.RGBA{1, 2, 3, 0xff}, Texture: solid(16, 16, color.RGBA{1, 2, 3, 0xff})},
		{Name: "minecraft:glow", Color: color.RGBA{9, 9, 9, 0xff}},
		{Name: "minecraft:big", Color: color.RGBA{4, 5, 6, 0xff}, Texture: solid(32, 32, color.RGBA{4, 5, 6, 0xff})},
	}
	shared, err := BuildShared(elements, SharedOptions{})
	require.NoError(t, err)

	meta := shared.Elements.(*image.RGBA)
	assert.Equal(t, image.Pt(4, seedmap.MetadataRows), meta.Bounds().Size())
	assert.Equal(t, uint8(seedmap.InvisibleAlpha), meta.RGBAAt(0, seedmap.MetadataColorRow).A)
	assert.Equal(t, color.RGBA{1, 2, 3, 0xff}, meta.RGBAAt(1, seedmap.MetadataColorRow))
	assert.Equal(t, seedmap.EncodeIndex(0), meta.RGBAAt(1, seedmap.MetadataTileRow))
	assert.Equal(t, uint8(0), meta.RGBAAt(2, seedmap.MetadataTileRow).A, "no natural tile")
	assert.Equal(t, seedmap.EncodeIndex(1), meta.RGBAAt(3, seedmap.MetadataTileRow))

	require.Len(t, shared.Natural, 5)
	require.Len(t, shared.Natural[0], 2)
	assert.Equal(t, image.Pt(16, 16), shared.Natural[0][1].Bounds().Size())
	assert.Equal(t, image.Pt(1, 1), shared.Natural[4][0].Bounds().Size())

	limited, err := BuildShared(elements[:3], SharedOptions{Levels: 2, TileSize: 8})
	require.NoError(t, err)
	require.Len(t, limited.Natural, 2)
	assert.Equal(t, image.Pt(4, 4), limited.Natural[1][0].Bounds().Size())

	bare, err := BuildShared(elements[:1], SharedOptions{})
	require.NoError(t, err)
	assert.Len(t, bare.Natural[0], 1, "placeholder tile")

	_, err = BuildShared(nil, SharedOptions{})
	assert.Error(t, err)
}

func TestBackdrop(t *testing.T) {
	layers := Backdrop(16)
	require.Len(t, layers, 2)
	gradient := layers[0].(*image.RGBA)
	grid := layers[1].(*image.RGBA)

	assert.Equal(t, uint8(0xff), gradient.RGBAAt(5, 5).A)
	assert.NotEqual(t, gradient.RGBAAt(0, 0), gradient.RGBAAt(0, 15))

	line := grid.RGBAAt(0, 3)
	assert.Equal(t, uint8(0x30), line.A)
	assert.LessOrEqual(t, line.R, line.A, "premultiplied")
	assert.Equal(t, color.RGBA{}, grid.RGBAAt(1, 1))
}

func TestDatasetFromImport(t *testing.T) {
	im := New(testResources(t))
	grass, err := im.Palette().Element(save.BlockState{Name: "minecraft:grass_block"})
	require.NoError(t, err)
	w := NewWorld("meadow", 4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			w.Set(x, y, Column{Element: grass, Kelvin: 290, Grams: 64000})
		}
	}
	im.Add(w)

	shared, worlds, err := im.Build(SharedOptions{})
	require.NoError(t, err)

	ds := seedmap.OpenDataset(t.TempDir())
	require.NoError(t, ds.WriteShared(shared))
	require.NoError(t, ds.WriteWorld(worlds[0]))

	setup, err := ds.SharedSetup()
	require.NoError(t, err)
	data, err := ds.WorldData("meadow")
	require.NoError(t, err)

	m, err := seedmap.NewManager(seedmap.ManagerOptions{MaxWorldWidth: 4, MaxWorldHeight: 4})
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Setup(setup))
	require.NoError(t, m.Setup(seedmap.SetupOptions{World: data}))
	require.NoError(t, m.Render(seedmap.RenderParams{
		Seed: "meadow", WorldWidth: 4, WorldHeight: 4,
		CellsWide: 4, CellsHigh: 4, CanvasWidth: 8, CanvasHeight: 8,
	}))
	out, err := m.TransferBitmap()
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, uint8(0xff), out.Image().RGBAAt(4, 4).A)
}
