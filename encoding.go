package seedmap

import (
	"fmt"
	"image/color"
	"math"
	"strings"
)

// Element metadata atlas layout: one column per element index.
const (
	// MetadataColorRow holds the UI overlay color of each element.
	MetadataColorRow = 0

	// MetadataTileRow holds the natural-tile layer of each element in R|G<<8.
	// An alpha of 0 means the element has no natural tile.
	MetadataTileRow = 1

	// MetadataRows is the height of the element metadata image.
	MetadataRows = 2

	// InvisibleAlpha in the color row marks an element that is not drawn.
	InvisibleAlpha = 0
)

// EncodeIndex packs a 16 bit index into R and G of an opaque color. It is
// used for element indices and natural-tile layers.
func EncodeIndex(i int) color.RGBA {
	return color.RGBA{R: uint8(i), G: uint8(i >> 8), A: 0xff}
}

// DecodeIndex is the inverse of EncodeIndex.
func DecodeIndex(c color.RGBA) int {
	return int(c.R) | int(c.G)<<8
}

// EncodeTemperature stores kelvin in tenths of a degree in R|G<<8.
func EncodeTemperature(kelvin float64) color.RGBA {
	v := int(math.Round(clamp(kelvin, 0, 6553.5) * 10))
	return color.RGBA{R: uint8(v), G: uint8(v >> 8), A: 0xff}
}

// DecodeTemperature returns kelvin.
func DecodeTemperature(c color.RGBA) float64 {
	return float64(int(c.R)|int(c.G)<<8) / 10
}

// EncodeMass stores grams in R|G<<8|B<<16.
func EncodeMass(grams float64) color.RGBA {
	v := int(math.Round(clamp(grams, 0, 1<<24-1)))
	return color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 0xff}
}

// DecodeMass returns grams.
func DecodeMass(c color.RGBA) float64 {
	return float64(int(c.R) | int(c.G)<<8 | int(c.B)<<16)
}

// Overlay selects an optional data overlay drawn over visible cells.
type Overlay uint8

const (
	OverlayNone Overlay = iota
	OverlayTemperature
	OverlayMass
)

func (o Overlay) String() string {
	switch o {
	case OverlayNone:
		return "none"
	case OverlayTemperature:
		return "temperature"
	case OverlayMass:
		return "mass"
	default:
		return fmt.Sprintf("Overlay(%d)", o)
	}
}

// ParseOverlay parses an overlay name. The empty string means none.
func ParseOverlay(s string) (Overlay, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return OverlayNone, nil
	case "temperature", "temp":
		return OverlayTemperature, nil
	case "mass":
		return OverlayMass, nil
	}
	return OverlayNone, fmt.Errorf("unknown overlay %q", s)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	} else if v > max {
		return max
	} else {
		return v
	}
}
