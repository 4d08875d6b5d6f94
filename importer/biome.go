package importer

import (
	"math"
)

// BiomeKelvinScale converts a biome temperature to kelvin above freezing.
// Vanilla temperatures run from -0.7 to 2.0.
const BiomeKelvinScale = 25.0

// LightKelvin is added per level of block light above the surface.
const LightKelvin = 2.0

const freezingKelvin = 273.15

type Biome struct {
	Temperature float64 `json:"temperature"`
	Downfall    float64 `json:"downfall"`
}

// defaultBiome is plains, used when a biome definition is unavailable.
var defaultBiome = Biome{Temperature: 0.8, Downfall: 0.4}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	} else if v > max {
		return max
	} else {
		return v
	}
}

// ColorMapCoords returns the grass and foliage colormap pixel for the biome.
func (b *Biome) ColorMapCoords() (int, int) {
	r := clamp(b.Downfall, 0, 1) * clamp(b.Temperature, 0, 1)
	x := int(math.Ceil(255 - (clamp(b.Temperature, 0, 1) * 255)))
	y := int(math.Ceil(255 - (r * 255)))
	return x, y
}

// Kelvin is the surface temperature of the biome.
func (b *Biome) Kelvin() float64 {
	return freezingKelvin + b.Temperature*BiomeKelvinScale
}
