package importer

import (
	"math/bits"

	"github.com/Tnze/go-mc/level"
	"github.com/Tnze/go-mc/save"
)

const (
	sectionBlocks = 16 * 16 * 16
	sectionBiomes = 4 * 4 * 4
)

// paletted indexes a palette container. Single value containers carry no
// data and always yield index 0.
type paletted struct {
	storage *level.BitStorage
}

func newPaletted(length, minBits, paletteLen int, data []uint64) paletted {
	if paletteLen <= 1 || len(data) == 0 {
		return paletted{}
	}
	width := max(minBits, bits.Len(uint(paletteLen-1)))
	if storageLongs(width, length) != len(data) {
		// fall back to the width implied by the data length
		width = calcBitsPerValue(length, len(data))
	}
	if width == 0 || storageLongs(width, length) != len(data) {
		return paletted{}
	}
	return paletted{storage: level.NewBitStorage(width, length, data)}
}

func storageLongs(width, length int) int {
	if width == 0 {
		return 0
	}
	perLong := 64 / width
	return (length + perLong - 1) / perLong
}

func (p paletted) get(i int) int {
	if p.storage == nil {
		return 0
	}
	return p.storage.Get(i)
}

type sectionCache struct {
	chunk *save.Chunk
	cache map[int]*sectionCacheItem
}

type sectionCacheItem struct {
	section *save.Section
	blocks  paletted
	biomes  paletted
}

func newSectionCache(chunk *save.Chunk) *sectionCache {
	return &sectionCache{
		chunk: chunk,
		cache: make(map[int]*sectionCacheItem),
	}
}

// get returns section index of the chunk, counting from the bottom.
func (c *sectionCache) get(index int) *sectionCacheItem {
	sc, ok := c.cache[index]
	if !ok {
		if index < 0 || len(c.chunk.Sections) <= index {
			return nil
		}

		section := &c.chunk.Sections[index]
		sc = &sectionCacheItem{
			section: section,
			blocks:  newPaletted(sectionBlocks, 4, len(section.BlockStates.Palette), section.BlockStates.Data),
			biomes:  newPaletted(sectionBiomes, 1, len(section.Biomes.Palette), section.Biomes.Data),
		}
		c.cache[index] = sc
	}
	return sc
}

// block returns the block state at section-local coordinates.
func (s *sectionCacheItem) block(x, y, z int) (save.BlockState, bool) {
	pal := s.section.BlockStates.Palette
	if len(pal) == 0 {
		return save.BlockState{}, false
	}
	i := s.blocks.get((y*16+z)*16 + x)
	if i >= len(pal) {
		return save.BlockState{}, false
	}
	return pal[i], true
}

// biome returns the biome at section-local coordinates. Biomes are stored
// at a quarter of the block resolution.
func (s *sectionCacheItem) biome(x, y, z int) (save.BiomeState, bool) {
	pal := s.section.Biomes.Palette
	if len(pal) == 0 {
		return "", false
	}
	i := s.biomes.get(((y/4)*4+z/4)*4 + x/4)
	if i >= len(pal) {
		return "", false
	}
	return pal[i], true
}

// blockLight returns the block light level at section-local coordinates.
func (s *sectionCacheItem) blockLight(x, y, z int) int {
	light := s.section.BlockLight
	if len(light) == 0 {
		return 0
	}
	i := y<<8 | z<<4 | x
	if i/2 >= len(light) {
		return 0
	}
	raw := light[i/2]
	if i&1 > 0 {
		return int(raw>>4) & 0x0f
	}
	return int(raw) & 0x0f
}

func calcBitsPerValue(length, longs int) (bits int) {
	if longs == 0 || length == 0 {
		return 0
	}
	valuePerLong := (length + longs - 1) / longs
	return 64 / valuePerLong
}
