package seedmap

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	passBackdrop = iota
	passWorld
)

// World-data layers per slot.
const (
	layerElement = iota
	layerTemperature
	layerMass
	layersPerSlot
)

// uniforms are the per-draw inputs of the map program.
type uniforms struct {
	pass int

	slot          int
	worldWidth    int
	worldHeight   int
	left, bottom  float64
	cellsWide     float64
	cellsHigh     float64
	canvasWidth   int
	canvasHeight  int
	tilesPerCell  Vec2
	naturalLevel  int
	overlay       Overlay
	overlayMin    float64
	overlayMax    float64
	elementCount  int
	naturalLayers int
}

// shade is the fragment stage of the map program.
func (m *Manager) shade(u any, x, y int) (color.NRGBA, bool) {
	un := u.(*uniforms)
	if un.pass == passBackdrop {
		return m.shadeBackdrop(x, y), true
	}
	return m.shadeWorld(un, x, y)
}

// shadeBackdrop sums background layers 0 and 1, repeated in pixel space.
func (m *Manager) shadeBackdrop(x, y int) color.NRGBA {
	bg := m.background
	w, h := bg.Width(0), bg.Height(0)
	a := bg.Fetch(0, 0, x%w, y%h)
	b := bg.Fetch(1, 0, x%w, y%h)
	return unpremultiply(color.RGBA{
		R: addSat(a.R, b.R),
		G: addSat(a.G, b.G),
		B: addSat(a.B, b.B),
		A: addSat(a.A, b.A),
	})
}

// shadeWorld resolves element index → metadata → natural tile for the
// cell under the pixel.
func (m *Manager) shadeWorld(un *uniforms, x, y int) (color.NRGBA, bool) {
	wx := un.left + (float64(x)+0.5)/float64(un.canvasWidth)*un.cellsWide
	wy := un.bottom + (float64(un.canvasHeight-y)-0.5)/float64(un.canvasHeight)*un.cellsHigh

	cx := clampCell(wx, un.worldWidth)
	cy := clampCell(wy, un.worldHeight)
	row := un.worldHeight - 1 - cy

	base := un.slot * layersPerSlot
	element := DecodeIndex(m.world.Fetch(base+layerElement, 0, cx, row))
	if element >= un.elementCount {
		return color.NRGBA{}, false
	}

	ui := m.elements.Fetch(0, 0, element, MetadataColorRow)
	if ui.A == InvisibleAlpha {
		return color.NRGBA{}, false
	}

	out := unpremultiply(ui)
	if tile := m.elements.Fetch(0, 0, element, MetadataTileRow); tile.A != 0 {
		if layer := DecodeIndex(tile); layer < un.naturalLayers {
			out = unpremultiply(m.natural.SampleRepeat(layer, un.naturalLevel,
				wx*un.tilesPerCell.X, -wy*un.tilesPerCell.Y))
		}
	}

	switch un.overlay {
	case OverlayTemperature:
		v := DecodeTemperature(m.world.Fetch(base+layerTemperature, 0, cx, row))
		out = mixOverlay(out, m.ramp, v, un.overlayMin, un.overlayMax)
	case OverlayMass:
		v := DecodeMass(m.world.Fetch(base+layerMass, 0, cx, row))
		out = mixOverlay(out, m.ramp, v, un.overlayMin, un.overlayMax)
	}
	return out, true
}

// heatRamp is a 256 entry cold→hot lookup table.
type heatRamp [256]color.NRGBA

func newHeatRamp() *heatRamp {
	cold := colorful.Color{R: 0.16, G: 0.32, B: 0.85}
	hot := colorful.Color{R: 0.92, G: 0.22, B: 0.13}

	var ramp heatRamp
	for i := range ramp {
		r, g, b := cold.BlendHcl(hot, float64(i)/255).Clamped().RGB255()
		ramp[i] = color.NRGBA{R: r, G: g, B: b, A: 0xff}
	}
	return &ramp
}

func mixOverlay(base color.NRGBA, ramp *heatRamp, v, lo, hi float64) color.NRGBA {
	t := 0.0
	if hi > lo {
		t = clamp((v-lo)/(hi-lo), 0, 1)
	}
	heat := ramp[int(math.Round(t*255))]
	return color.NRGBA{
		R: uint8((uint16(base.R) + uint16(heat.R) + 1) / 2),
		G: uint8((uint16(base.G) + uint16(heat.G) + 1) / 2),
		B: uint8((uint16(base.B) + uint16(heat.B) + 1) / 2),
		A: base.A,
	}
}

func clampCell(v float64, n int) int {
	c := int(math.Floor(v))
	if c < 0 {
		return 0
	}
	if c >= n {
		return n - 1
	}
	return c
}

func addSat(a, b uint8) uint8 {
	s := uint16(a) + uint16(b)
	if s > 0xff {
		return 0xff
	}
	return uint8(s)
}

func unpremultiply(c color.RGBA) color.NRGBA {
	switch c.A {
	case 0:
		return color.NRGBA{}
	case 0xff:
		return color.NRGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
	}
	a := uint16(c.A)
	return color.NRGBA{
		R: uint8(min(0xff, (uint16(c.R)*0xff+a/2)/a)),
		G: uint8(min(0xff, (uint16(c.G)*0xff+a/2)/a)),
		B: uint8(min(0xff, (uint16(c.B)*0xff+a/2)/a)),
		A: c.A,
	}
}
