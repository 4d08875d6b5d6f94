package seedmap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/b1naryth1ef/seedmap/gpu"
)

// Default manager limits.
const (
	DefaultMaxWorldWidth  = 1024
	DefaultMaxWorldHeight = 1024

	// DefaultNaturalTilesPerCell makes one natural tile span 8 cells.
	DefaultNaturalTilesPerCell = 1.0 / 8

	DefaultTemperatureMin = 0
	DefaultTemperatureMax = 400
	DefaultMassMin        = 0
	DefaultMassMax        = 2000000
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Capacity is the number of seeds kept resident. Defaults to
	// DefaultSlotCapacity.
	Capacity int

	// MaxWorldWidth and MaxWorldHeight fix the world-data array layout.
	MaxWorldWidth  int
	MaxWorldHeight int

	// NaturalTilesPerCell is how many natural tiles span one cell.
	NaturalTilesPerCell Vec2

	// NaturalTileLevels fixes the natural-tile mip count. Zero takes the
	// count from the source passed to Setup.
	NaturalTileLevels int

	// GenerateMipmaps builds a mip chain for single-level natural tiles.
	GenerateMipmaps bool

	// TemperatureRange and MassRange map overlay values onto the heat ramp.
	TemperatureRange [2]float64
	MassRange        [2]float64

	Context gpu.Options
}

func (o *ManagerOptions) setDefaults() {
	if o.Capacity <= 0 {
		o.Capacity = DefaultSlotCapacity
	}
	if o.MaxWorldWidth <= 0 {
		o.MaxWorldWidth = DefaultMaxWorldWidth
	}
	if o.MaxWorldHeight <= 0 {
		o.MaxWorldHeight = DefaultMaxWorldHeight
	}
	if o.NaturalTilesPerCell.X <= 0 {
		o.NaturalTilesPerCell.X = DefaultNaturalTilesPerCell
	}
	if o.NaturalTilesPerCell.Y <= 0 {
		o.NaturalTilesPerCell.Y = o.NaturalTilesPerCell.X
	}
	if o.TemperatureRange == [2]float64{} {
		o.TemperatureRange = [2]float64{DefaultTemperatureMin, DefaultTemperatureMax}
	}
	if o.MassRange == [2]float64{} {
		o.MassRange = [2]float64{DefaultMassMin, DefaultMassMax}
	}
}

// WorldData holds the three equally sized data layers of one seed.
type WorldData struct {
	Seed        string
	Element     image.Image
	Temperature image.Image
	Mass        image.Image
}

// SetupOptions selects what Setup uploads. Every field is optional.
type SetupOptions struct {
	// World uploads one seed into a free or least recently used slot.
	World *WorldData

	// ElementData rebuilds the shared element metadata atlas.
	ElementData TextureSource

	// Background rebuilds the shared backdrop. It needs at least two layers.
	Background TextureSource

	// NaturalTiles rebuilds the shared natural-tile mip atlas.
	NaturalTiles TextureSource
}

// RenderParams describes one draw of a rectangle of world space.
type RenderParams struct {
	Seed             string
	WorldWidth       int
	WorldHeight      int
	CellsWide        float64
	CellsHigh        float64
	LeftCellOffset   float64
	BottomCellOffset float64
	CanvasWidth      int
	CanvasHeight     int

	Overlay Overlay
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (p RenderParams) validate() error {
	switch {
	case !finite(p.CellsWide, p.CellsHigh, p.LeftCellOffset, p.BottomCellOffset):
		return validationErrorf("render", "non-finite view: cells %gx%g at (%g, %g)",
			p.CellsWide, p.CellsHigh, p.LeftCellOffset, p.BottomCellOffset)
	case p.WorldWidth <= 0 || p.WorldHeight <= 0:
		return validationErrorf("render", "world size %dx%d", p.WorldWidth, p.WorldHeight)
	case p.CellsWide <= 0 || p.CellsHigh <= 0:
		return validationErrorf("render", "cell range %gx%g", p.CellsWide, p.CellsHigh)
	case p.CanvasWidth <= 0 || p.CanvasHeight <= 0:
		return validationErrorf("render", "canvas size %dx%d", p.CanvasWidth, p.CanvasHeight)
	}
	return nil
}

// Stats is a snapshot of manager resource usage.
type Stats struct {
	SlotsUsed    int
	Capacity     int
	Evictions    uint64
	TextureBytes uint64
	Seeds        []string
}

// Manager owns a rendering context, the map program, and the array
// textures holding world data and shared atlases. It is not safe for
// concurrent use; the worker host owns it on a single goroutine.
type Manager struct {
	opts ManagerOptions
	log  *slog.Logger

	ctx     *gpu.Context
	program *gpu.Program
	slots   *SlotTable
	ramp    *heatRamp

	world      *gpu.ArrayTexture
	elements   *gpu.ArrayTexture
	background *gpu.ArrayTexture
	natural    *gpu.ArrayTexture

	surface *gpu.Surface
	closed  bool
}

// NewManager creates the rendering context and links the map program.
func NewManager(opts ManagerOptions) (*Manager, error) {
	opts.setDefaults()

	m := &Manager{
		opts:  opts,
		log:   subsystemLogger("manager"),
		slots: NewSlotTable(opts.Capacity),
		ramp:  newHeatRamp(),
	}

	ctx, err := gpu.New(opts.Context)
	if err != nil {
		return nil, &ResourceError{Stage: "context", Err: err}
	}
	m.ctx = ctx

	layers := opts.Capacity * layersPerSlot
	if limit := ctx.Limits().MaxArrayLayers; layers > limit {
		ctx.Destroy()
		return nil, &ResourceError{Stage: "context", Err: fmt.Errorf("%d world layers exceed the %d layer limit", layers, limit)}
	}

	program, err := ctx.NewProgram("map", m.shade)
	if err != nil {
		ctx.Destroy()
		return nil, &ResourceError{Stage: "program", Err: err}
	}
	m.program = program

	m.log.Info("manager created",
		"capacity", opts.Capacity,
		"max_world", fmt.Sprintf("%dx%d", opts.MaxWorldWidth, opts.MaxWorldHeight))
	return m, nil
}

// Setup uploads world data and rebuilds shared atlases. Keys are processed
// in the order world, element data, background, natural tiles; the first
// failure stops the call.
func (m *Manager) Setup(opts SetupOptions) error {
	if m.closed {
		return ErrClosed
	}
	if opts.World != nil {
		if err := m.setupWorld(opts.World); err != nil {
			return err
		}
	}
	if opts.ElementData != nil {
		if h := opts.ElementData.Height(); h < MetadataRows {
			return validationErrorf("setup", "element data needs %d rows, got %d", MetadataRows, h)
		}
		if err := m.rebuild(&m.elements, "element-data", opts.ElementData, 1); err != nil {
			return err
		}
	}
	if opts.Background != nil {
		if opts.Background.LayerCount() < 2 {
			return validationErrorf("setup", "background needs 2 layers, got %d", opts.Background.LayerCount())
		}
		if err := m.rebuild(&m.background, "background", opts.Background, 1); err != nil {
			return err
		}
	}
	if opts.NaturalTiles != nil {
		if err := m.setupNaturalTiles(opts.NaturalTiles); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) setupWorld(data *WorldData) error {
	if data.Seed == "" {
		return validationErrorf("setup", "world data without a seed")
	}
	layers, err := NewImageArray(data.Element, data.Temperature, data.Mass)
	if err != nil {
		return err
	}
	if layers.Width() > m.opts.MaxWorldWidth || layers.Height() > m.opts.MaxWorldHeight {
		return validationErrorf("setup", "world %q is %dx%d, limit is %dx%d",
			data.Seed, layers.Width(), layers.Height(), m.opts.MaxWorldWidth, m.opts.MaxWorldHeight)
	}

	if m.world == nil {
		tex, err := m.ctx.NewArrayTexture(gpu.ArrayTextureDesc{
			Label:  "world-data",
			Width:  m.opts.MaxWorldWidth,
			Height: m.opts.MaxWorldHeight,
			Layers: m.opts.Capacity * layersPerSlot,
			Levels: 1,
		})
		if err != nil {
			return &ResourceError{Stage: "allocate world-data", Err: err}
		}
		m.world = tex
	}

	slot, evicted := m.slots.Acquire(data.Seed)
	if evicted != "" {
		m.log.Warn("evicted seed", "seed", evicted, "slot", slot.Index, "for", data.Seed)
	}

	for i := 0; i < layersPerSlot; i++ {
		img, err := layers.Layer(i, 0)
		if err != nil {
			m.slots.Release(data.Seed)
			return err
		}
		if err := m.world.Upload(slot.Index*layersPerSlot+i, 0, img); err != nil {
			m.slots.Release(data.Seed)
			return &ResourceError{Stage: "upload world-data", Err: err}
		}
	}

	m.log.Debug("uploaded world data", "seed", data.Seed, "slot", slot.Index,
		"size", fmt.Sprintf("%dx%d", layers.Width(), layers.Height()))
	return nil
}

func (m *Manager) setupNaturalTiles(src TextureSource) error {
	levels := m.opts.NaturalTileLevels
	if src.MipCount() == 1 && m.opts.GenerateMipmaps {
		generated, err := GenerateMipmap(src, levels)
		if err != nil {
			return err
		}
		src = generated
	}
	if levels == 0 {
		levels = src.MipCount()
	}
	if src.MipCount() != levels {
		return validationErrorf("setup", "natural tiles provide %d mip levels, %d allocated",
			src.MipCount(), levels)
	}
	if full := gpu.ComputeLevels(src.Width(), src.Height()); levels > full {
		return validationErrorf("setup", "natural tiles %dx%d support at most %d mip levels, got %d",
			src.Width(), src.Height(), full, levels)
	}
	if mm, ok := src.(*Mipmap); ok {
		for level := 1; level < levels; level++ {
			w, h := mm.LevelSize(level)
			ew, eh := gpu.LevelSize(src.Width(), src.Height(), level)
			if w != ew || h != eh {
				return validationErrorf("setup", "natural tile mip %d is %dx%d, want %dx%d", level, w, h, ew, eh)
			}
		}
	}
	return m.rebuild(&m.natural, "natural-tiles", src, levels)
}

// rebuild replaces the shared array in *dst with a fresh allocation
// holding src. *dst is nil if the rebuild fails.
func (m *Manager) rebuild(dst **gpu.ArrayTexture, label string, src TextureSource, levels int) error {
	if *dst != nil {
		(*dst).Destroy()
		*dst = nil
	}

	tex, err := m.ctx.NewArrayTexture(gpu.ArrayTextureDesc{
		Label:  label,
		Width:  src.Width(),
		Height: src.Height(),
		Layers: src.LayerCount(),
		Levels: levels,
	})
	if err != nil {
		return &ResourceError{Stage: "allocate " + label, Err: err}
	}

	for mip := 0; mip < levels; mip++ {
		for layer := 0; layer < src.LayerCount(); layer++ {
			img, err := src.Layer(layer, mip)
			if err != nil {
				tex.Destroy()
				return err
			}
			if err := tex.Upload(layer, mip, img); err != nil {
				tex.Destroy()
				return &ResourceError{Stage: "upload " + label, Err: err}
			}
		}
	}
	*dst = tex

	m.log.Debug("rebuilt shared texture", "label", label,
		"layers", src.LayerCount(), "levels", levels,
		"size", fmt.Sprintf("%dx%d", src.Width(), src.Height()))
	return nil
}

func (m *Manager) sharedReady() bool {
	return m.elements != nil && m.background != nil && m.natural != nil
}

// IsReady reports whether seed can be rendered. It does not refresh the
// seed's slot.
func (m *Manager) IsReady(seed string) bool {
	if m.closed || !m.sharedReady() {
		return false
	}
	_, ok := m.slots.Lookup(seed)
	return ok
}

// Render draws the backdrop and the requested rectangle of world space
// into the output surface.
func (m *Manager) Render(p RenderParams) error {
	if m.closed {
		return ErrClosed
	}
	if err := p.validate(); err != nil {
		return err
	}
	if !m.sharedReady() {
		return &RuntimeError{Subsystem: "render", Err: ErrNotReady}
	}
	slot, ok := m.slots.Lookup(p.Seed)
	if !ok {
		m.log.Warn("skipping render for seed without a slot", "seed", p.Seed)
		return &RuntimeError{Subsystem: "render", Err: fmt.Errorf("%w: %q", ErrNoSlot, p.Seed)}
	}
	if p.WorldWidth > m.opts.MaxWorldWidth || p.WorldHeight > m.opts.MaxWorldHeight {
		return validationErrorf("render", "world size %dx%d exceeds %dx%d",
			p.WorldWidth, p.WorldHeight, m.opts.MaxWorldWidth, m.opts.MaxWorldHeight)
	}

	if err := m.ensureSurface(p.CanvasWidth, p.CanvasHeight); err != nil {
		return err
	}

	canvas := image.Rect(0, 0, p.CanvasWidth, p.CanvasHeight)
	backdrop := &uniforms{pass: passBackdrop}
	if err := m.ctx.Draw(gpu.DrawCall{
		Program:  m.program,
		Target:   m.surface,
		Viewport: canvas,
		Uniforms: backdrop,
		Blend:    gpu.BlendReplace,
	}); err != nil {
		return &ResourceError{Stage: "backdrop pass", Err: err}
	}

	dest := DestinationRect(p)
	if dest.Empty() {
		return nil
	}

	// Cells per output pixel, weighted by the level 0 tile size in texels.
	rendered := Vec2{
		X: p.CellsWide / float64(p.CanvasWidth) * float64(m.natural.Width(0)),
		Y: p.CellsHigh / float64(p.CanvasHeight) * float64(m.natural.Height(0)),
	}
	lod := LevelOfDetail(rendered, m.opts.NaturalTilesPerCell)

	world := &uniforms{
		pass:          passWorld,
		slot:          slot.Index,
		worldWidth:    p.WorldWidth,
		worldHeight:   p.WorldHeight,
		left:          p.LeftCellOffset,
		bottom:        p.BottomCellOffset,
		cellsWide:     p.CellsWide,
		cellsHigh:     p.CellsHigh,
		canvasWidth:   p.CanvasWidth,
		canvasHeight:  p.CanvasHeight,
		tilesPerCell:  m.opts.NaturalTilesPerCell,
		naturalLevel:  MipLevel(lod, m.natural.Levels()),
		overlay:       p.Overlay,
		elementCount:  m.elements.Width(0),
		naturalLayers: m.natural.Layers(),
	}
	switch p.Overlay {
	case OverlayTemperature:
		world.overlayMin, world.overlayMax = m.opts.TemperatureRange[0], m.opts.TemperatureRange[1]
	case OverlayMass:
		world.overlayMin, world.overlayMax = m.opts.MassRange[0], m.opts.MassRange[1]
	}

	if err := m.ctx.Draw(gpu.DrawCall{
		Program:  m.program,
		Target:   m.surface,
		Viewport: dest,
		Uniforms: world,
		Blend:    gpu.BlendOver,
	}); err != nil {
		return &ResourceError{Stage: "world pass", Err: err}
	}

	m.log.Debug("rendered", "seed", p.Seed, "slot", slot.Index, "dest", dest, "lod", lod, "level", world.naturalLevel)
	return nil
}

func (m *Manager) ensureSurface(w, h int) error {
	if m.surface.Valid() {
		if sw, sh := m.surface.Size(); sw == w && sh == h {
			return nil
		}
		m.surface.Release()
	}
	s, err := m.ctx.NewSurface(w, h)
	if err != nil {
		return &ResourceError{Stage: "allocate surface", Err: err}
	}
	m.surface = s
	return nil
}

// Clear resets the output surface to transparent black.
func (m *Manager) Clear() error {
	if m.closed {
		return ErrClosed
	}
	if err := m.ctx.Err(); err != nil {
		return &ResourceError{Stage: "clear", Err: err}
	}
	m.surface.Fill(color.RGBA{})
	return nil
}

// CopyBytes encodes the current surface contents. The surface is kept.
func (m *Manager) CopyBytes(opts EncodeOptions) ([]byte, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if !m.surface.Valid() {
		return nil, &RuntimeError{Subsystem: "output", Err: ErrNoSurface}
	}
	data, err := EncodeBytes(m.surface.Image(), opts)
	if err != nil {
		return nil, &RuntimeError{Subsystem: "output", Err: err}
	}
	return data, nil
}

// TransferBitmap moves the surface pixels into a Bitmap owned by the
// caller. The next render allocates a fresh surface.
func (m *Manager) TransferBitmap() (*Bitmap, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if !m.surface.Valid() {
		return nil, &RuntimeError{Subsystem: "output", Err: ErrNoSurface}
	}
	bmp := &Bitmap{img: m.surface.Detach()}
	m.surface = nil
	return bmp, nil
}

// Stats returns a snapshot of slot and texture usage.
func (m *Manager) Stats() Stats {
	return Stats{
		SlotsUsed:    m.slots.Len(),
		Capacity:     m.slots.Capacity(),
		Evictions:    m.slots.Evictions(),
		TextureBytes: m.ctx.MemoryUsed(),
		Seeds:        m.slots.Seeds(),
	}
}

// Context exposes the rendering context, mainly so tests can simulate a
// lost device.
func (m *Manager) Context() *gpu.Context {
	return m.ctx
}

// Close destroys every GPU resource. The manager is unusable afterwards.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if m.surface.Valid() {
		m.surface.Release()
	}
	m.ctx.Destroy()
	m.world, m.elements, m.background, m.natural = nil, nil, nil, nil
	m.log.Info("manager closed")
	return nil
}

// IsResourceError reports whether err means the manager must be rebuilt.
func IsResourceError(err error) bool {
	var re *ResourceError
	return errors.As(err, &re)
}
