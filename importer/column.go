package importer

import (
	"math/bits"

	"github.com/Tnze/go-mc/level"
	"github.com/Tnze/go-mc/save"
)

// MassPerBlock is the mass in grams stored per block of column height.
const MassPerBlock = 1000.0

// Column is the sampled surface of one block column.
type Column struct {
	Element int
	Kelvin  float64
	Grams   float64
}

// ChunkSize is the width of a chunk in columns.
const ChunkSize = 16

// columnSampler reduces a chunk to its surface columns, adapted from the
// top-down pixel renderer: for every column it walks down from the motion
// blocking heightmap to the first visible block.
type columnSampler struct {
	palette      *Palette
	stripCeiling bool
}

func heightmap(chunk *save.Chunk, name string) *level.BitStorage {
	bitsForHeight := bits.Len(uint(len(chunk.Sections))*16 + 1)
	data := chunk.Heightmaps[name]
	if storageLongs(bitsForHeight, 16*16) != len(data) {
		data = nil
	}
	return level.NewBitStorage(bitsForHeight, 16*16, data)
}

// sample fills out with the columns of chunk in row major z, x order.
func (c *columnSampler) sample(chunk *save.Chunk, out *[ChunkSize * ChunkSize]Column) error {
	motionBlocking := heightmap(chunk, "MOTION_BLOCKING")
	cache := newSectionCache(chunk)
	top := len(chunk.Sections)*16 - 1

	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			heightmapIndex := z*16 + x
			yStart := motionBlocking.Get(heightmapIndex)
			if yStart > top || yStart == 0 {
				yStart = top
			}
			col := Column{Element: AirElement, Kelvin: defaultBiome.Kelvin()}
			underCeiling := false

			for y := yStart; y >= 0; y-- {
				sc := cache.get(y / 16)
				if sc == nil {
					continue
				}
				blockState, ok := sc.block(x, y%16, z)
				if !ok {
					continue
				}

				// when stripping the ceiling wait for the first air block
				if c.stripCeiling && !underCeiling {
					if !isAirBlock(blockState.Name) || y == yStart {
						continue
					}
					underCeiling = true
				}

				if isAirBlock(blockState.Name) {
					continue
				}

				idx, err := c.palette.Element(blockState)
				if err != nil {
					return err
				}
				col.Element = idx
				col.Grams = float64(y+1) * MassPerBlock
				if biome, ok := sc.biome(x, y%16, z); ok {
					col.Kelvin = c.palette.Biome(biome).Kelvin()
				}
				col.Kelvin += float64(lightAbove(cache, x, y, z)) * LightKelvin
				break
			}
			out[heightmapIndex] = col
		}
	}
	return nil
}

// lightAbove is the block light of the air block over y.
func lightAbove(cache *sectionCache, x, y, z int) int {
	sc := cache.get((y + 1) / 16)
	if sc == nil {
		return 0
	}
	return sc.blockLight(x, (y+1)%16, z)
}

// chunkStatusDone reports whether a chunk has finished generating.
func chunkStatusDone(status string) bool {
	switch status {
	case "minecraft:full", "minecraft:spawn", "minecraft:postprocessed", "minecraft:fullchunk",
		"full", "spawn", "postprocessed", "fullchunk":
		return true
	}
	return false
}
