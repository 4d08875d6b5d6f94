package seedmap

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b1naryth1ef/seedmap/gpu"
)

var (
	red      = color.RGBA{R: 0xff, A: 0xff}
	blue     = color.RGBA{B: 0xff, A: 0xff}
	backdrop = color.RGBA{R: 10, G: 20, A: 0xff}
)

func newTestManager(t *testing.T, opts ManagerOptions) *Manager {
	t.Helper()
	if opts.MaxWorldWidth == 0 {
		opts.MaxWorldWidth, opts.MaxWorldHeight = 8, 8
	}
	m, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

// testElements has three elements: 0 is red without a natural tile, 1 is
// invisible and 2 uses natural tile 0.
func testElements(t *testing.T) TextureSource {
	img := image.NewRGBA(image.Rect(0, 0, 3, MetadataRows))
	img.Set(0, MetadataColorRow, red)
	img.Set(1, MetadataColorRow, color.RGBA{})
	img.Set(2, MetadataColorRow, color.RGBA{G: 0xff, A: 0xff})
	img.Set(2, MetadataTileRow, EncodeIndex(0))
	src, err := NewImageArray(img)
	require.NoError(t, err)
	return src
}

func testBackground(t *testing.T) TextureSource {
	strip := image.NewRGBA(image.Rect(0, 0, 8, 4))
	draw.Draw(strip, image.Rect(0, 0, 4, 4), image.NewUniform(color.RGBA{R: 10, A: 0x80}), image.Point{}, draw.Src)
	draw.Draw(strip, image.Rect(4, 0, 8, 4), image.NewUniform(color.RGBA{G: 20, A: 0x7f}), image.Point{}, draw.Src)
	src, err := NewAtlas(strip, 2, 4)
	require.NoError(t, err)
	return src
}

func testNatural(t *testing.T) TextureSource {
	src, err := NewImageArray(solidImage(8, 8, blue))
	require.NoError(t, err)
	return src
}

// testWorld is 4×4; column x holds element x, with 7 out of range.
func testWorld(seed string) *WorldData {
	element := image.NewRGBA(image.Rect(0, 0, 4, 4))
	temperature := image.NewRGBA(image.Rect(0, 0, 4, 4))
	mass := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x, e := range []int{0, 1, 2, 7} {
			element.Set(x, y, EncodeIndex(e))
			temperature.Set(x, y, EncodeTemperature(400))
			mass.Set(x, y, EncodeMass(0))
		}
	}
	return &WorldData{Seed: seed, Element: element, Temperature: temperature, Mass: mass}
}

func setupShared(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.Setup(SetupOptions{
		ElementData:  testElements(t),
		Background:   testBackground(t),
		NaturalTiles: testNatural(t),
	}))
}

func fullView(seed string) RenderParams {
	return RenderParams{
		Seed:         seed,
		WorldWidth:   4,
		WorldHeight:  4,
		CellsWide:    4,
		CellsHigh:    4,
		CanvasWidth:  4,
		CanvasHeight: 4,
	}
}

func pixel(img *image.RGBA, x, y int) color.RGBA {
	return img.RGBAAt(x, y)
}

func TestNewManagerLayerLimit(t *testing.T) {
	_, err := NewManager(ManagerOptions{
		Capacity: 4,
		Context:  gpu.Options{MaxArrayLayers: 8},
	})
	var re *ResourceError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "context", re.Stage)
}

func TestRenderBeforeSetup(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	assert.False(t, m.IsReady("a"))

	err := m.Render(fullView("a"))
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))
	assert.False(t, m.IsReady("a"), "shared textures are still missing")
}

func TestRenderUnknownSeed(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	setupShared(t, m)

	err := m.Render(fullView("unset"))
	assert.ErrorIs(t, err, ErrNoSlot)
	var rt *RuntimeError
	assert.ErrorAs(t, err, &rt)
	assert.False(t, IsResourceError(err))
}

func TestRenderResolvesCells(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	setupShared(t, m)
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))
	require.True(t, m.IsReady("a"))

	require.NoError(t, m.Render(fullView("a")))
	bmp, err := m.TransferBitmap()
	require.NoError(t, err)
	defer bmp.Release()
	img := bmp.Image()

	for y := 0; y < 4; y++ {
		assert.Equal(t, red, pixel(img, 0, y), "ui color")
		assert.Equal(t, backdrop, pixel(img, 1, y), "invisible element shows the backdrop")
		assert.Equal(t, blue, pixel(img, 2, y), "natural tile")
		assert.Equal(t, backdrop, pixel(img, 3, y), "unknown element is discarded")
	}
}

func TestRenderRowsFollowWorldUp(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	setupShared(t, m)

	world := testWorld("a")
	element := world.Element.(*image.RGBA)
	for x := 0; x < 4; x++ {
		element.Set(x, 0, EncodeIndex(1))
	}
	require.NoError(t, m.Setup(SetupOptions{World: world}))

	// Only the top world row is requested, bottom offset 3.
	p := fullView("a")
	p.CellsHigh, p.BottomCellOffset = 1, 3
	p.CanvasHeight = 1
	require.NoError(t, m.Render(p))

	data, err := m.CopyBytes(EncodeOptions{Format: FormatRaw})
	require.NoError(t, err)
	require.Len(t, data, 4*4)
	assert.Equal(t, []byte{backdrop.R, backdrop.G, backdrop.B, backdrop.A}, data[0:4])
}

func TestRenderClipsToWorld(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	setupShared(t, m)
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))

	p := fullView("a")
	p.LeftCellOffset = -4
	p.CellsWide = 8
	p.CanvasWidth = 8
	require.NoError(t, m.Render(p))

	bmp, err := m.TransferBitmap()
	require.NoError(t, err)
	defer bmp.Release()

	for x := 0; x < 4; x++ {
		assert.Equal(t, backdrop, pixel(bmp.Image(), x, 0), "left of the world")
	}
	assert.Equal(t, red, pixel(bmp.Image(), 4, 0))
	assert.Equal(t, blue, pixel(bmp.Image(), 6, 0))
}

func TestRenderOverlay(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	setupShared(t, m)
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))

	p := fullView("a")
	p.Overlay = OverlayTemperature
	require.NoError(t, m.Render(p))

	data, err := m.CopyBytes(EncodeOptions{Format: FormatRaw})
	require.NoError(t, err)
	img := &image.RGBA{Pix: data, Stride: 16, Rect: image.Rect(0, 0, 4, 4)}

	hot := m.ramp[255]
	want := color.RGBA{
		R: uint8((uint16(red.R) + uint16(hot.R) + 1) / 2),
		G: uint8((uint16(red.G) + uint16(hot.G) + 1) / 2),
		B: uint8((uint16(red.B) + uint16(hot.B) + 1) / 2),
		A: 0xff,
	}
	assert.Equal(t, want, pixel(img, 0, 0))
	assert.Equal(t, backdrop, pixel(img, 1, 0), "overlay skips invisible cells")
}

func TestStoredSeedsSurviveOtherUploads(t *testing.T) {
	m := newTestManager(t, ManagerOptions{Capacity: 3})
	setupShared(t, m)
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))

	require.NoError(t, m.Render(fullView("a")))
	before, err := m.CopyBytes(EncodeOptions{Format: FormatRaw})
	require.NoError(t, err)

	other := testWorld("b")
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			other.Element.(*image.RGBA).Set(x, y, EncodeIndex(1))
		}
	}
	require.NoError(t, m.Setup(SetupOptions{World: other}))

	require.NoError(t, m.Render(fullView("a")))
	after, err := m.CopyBytes(EncodeOptions{Format: FormatRaw})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEvictedSeedIsNotReady(t *testing.T) {
	m := newTestManager(t, ManagerOptions{Capacity: 1})
	setupShared(t, m)
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("b")}))

	assert.False(t, m.IsReady("a"))
	assert.True(t, m.IsReady("b"))
	assert.ErrorIs(t, m.Render(fullView("a")), ErrNoSlot)

	stats := m.Stats()
	assert.Equal(t, 1, stats.SlotsUsed)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, []string{"b"}, stats.Seeds)
}

func TestSetupIsIdempotent(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	setupShared(t, m)
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))
	used := m.Stats().TextureBytes

	setupShared(t, m)
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))
	assert.Equal(t, used, m.Stats().TextureBytes)
	assert.Equal(t, 1, m.Stats().SlotsUsed)
}

func TestSetupValidation(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})

	oneLayer, err := NewImageArray(solidImage(4, 4, red))
	require.NoError(t, err)
	assert.IsType(t, &ValidationError{}, m.Setup(SetupOptions{Background: oneLayer}))

	flat, err := NewImageArray(solidImage(4, 1, red))
	require.NoError(t, err)
	assert.IsType(t, &ValidationError{}, m.Setup(SetupOptions{ElementData: flat}))

	world := testWorld("a")
	world.Mass = solidImage(2, 2, red)
	assert.IsType(t, &ValidationError{}, m.Setup(SetupOptions{World: world}))

	big := &WorldData{Seed: "big", Element: solidImage(16, 4, red), Temperature: solidImage(16, 4, red), Mass: solidImage(16, 4, red)}
	assert.IsType(t, &ValidationError{}, m.Setup(SetupOptions{World: big}))

	assert.IsType(t, &ValidationError{}, m.Setup(SetupOptions{World: &WorldData{}}))
}

func TestRenderRejectsNonFiniteView(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	setupShared(t, m)
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))

	nan := fullView("a")
	nan.CellsWide = math.NaN()
	inf := fullView("a")
	inf.LeftCellOffset = math.Inf(-1)
	huge := fullView("a")
	huge.CellsHigh = math.Inf(1)

	for _, p := range []RenderParams{nan, inf, huge} {
		var ve *ValidationError
		require.ErrorAs(t, m.Render(p), &ve)
		assert.Equal(t, "render", ve.Subsystem)
	}
	require.NoError(t, m.Render(fullView("a")))
}

func TestRepeatedRenderReusesSurface(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	setupShared(t, m)

	var pix [][]byte
	for i := 0; i < 2; i++ {
		require.NoError(t, m.Setup(SetupOptions{World: testWorld("x")}))
		require.NoError(t, m.Render(fullView("x")))
		bmp, err := m.TransferBitmap()
		require.NoError(t, err)
		pix = append(pix, bytes.Clone(bmp.Image().Pix))
		bmp.Release()
	}
	assert.Equal(t, pix[0], pix[1])
	assert.Equal(t, 1, m.Stats().SlotsUsed)
}

func TestNaturalTileLevels(t *testing.T) {
	m := newTestManager(t, ManagerOptions{NaturalTileLevels: 4})
	err := m.Setup(SetupOptions{NaturalTiles: testNatural(t)})
	assert.IsType(t, &ValidationError{}, err, "one level provided, four allocated")

	gen := newTestManager(t, ManagerOptions{NaturalTileLevels: 4, GenerateMipmaps: true})
	require.NoError(t, gen.Setup(SetupOptions{NaturalTiles: testNatural(t)}))
	assert.Equal(t, 4, gen.natural.Levels())
}

func TestZoomedOutUsesSmallerMip(t *testing.T) {
	m := newTestManager(t, ManagerOptions{GenerateMipmaps: true})
	setupShared(t, m)
	require.Equal(t, 4, m.natural.Levels())
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))

	p := fullView("a")
	p.CanvasWidth, p.CanvasHeight = 1, 1
	require.NoError(t, m.Render(p))
}

func TestCopyBytesRoundTrip(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	setupShared(t, m)
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))
	require.NoError(t, m.Render(fullView("a")))

	data, err := m.CopyBytes(EncodeOptions{})
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	bmp, err := m.TransferBitmap()
	require.NoError(t, err)
	defer bmp.Release()

	got := image.NewRGBA(decoded.Bounds())
	draw.Draw(got, got.Rect, decoded, image.Point{}, draw.Src)
	assert.Equal(t, bmp.Image().Pix, got.Pix)
}

func TestTransferBitmapDetachesSurface(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	setupShared(t, m)
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))

	_, err := m.TransferBitmap()
	assert.ErrorIs(t, err, ErrNoSurface)

	require.NoError(t, m.Render(fullView("a")))
	bmp, err := m.TransferBitmap()
	require.NoError(t, err)
	bmp.Release()

	_, err = m.CopyBytes(EncodeOptions{})
	assert.ErrorIs(t, err, ErrNoSurface)
	_, err = m.TransferBitmap()
	assert.ErrorIs(t, err, ErrNoSurface)

	require.NoError(t, m.Render(fullView("a")))
	_, err = m.CopyBytes(EncodeOptions{})
	assert.NoError(t, err)
}

func TestClear(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	require.NoError(t, m.Clear(), "clear without a surface is a no-op")

	setupShared(t, m)
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))
	require.NoError(t, m.Render(fullView("a")))
	require.NoError(t, m.Clear())

	data, err := m.CopyBytes(EncodeOptions{Format: FormatRaw})
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4*4*4), data)
}

func TestContextLost(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	setupShared(t, m)
	require.NoError(t, m.Setup(SetupOptions{World: testWorld("a")}))
	require.NoError(t, m.Render(fullView("a")))

	m.Context().Lose()

	err := m.Render(fullView("a"))
	require.True(t, IsResourceError(err))
	assert.Equal(t, gpu.ContextLost, gpu.CodeOf(err))

	err = m.Setup(SetupOptions{World: testWorld("b")})
	assert.True(t, IsResourceError(err))
	assert.False(t, m.IsReady("b"))

	assert.True(t, IsResourceError(m.Clear()))
}

func TestOutOfMemory(t *testing.T) {
	m := newTestManager(t, ManagerOptions{
		Capacity: 2,
		Context:  gpu.Options{MaxMemoryBytes: 512},
	})
	err := m.Setup(SetupOptions{World: testWorld("a")})

	var re *ResourceError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "allocate world-data", re.Stage)
	assert.Equal(t, gpu.OutOfMemory, gpu.CodeOf(err))
}

func TestClosedManager(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Setup(SetupOptions{}), ErrClosed)
	assert.ErrorIs(t, m.Render(fullView("a")), ErrClosed)
	assert.True(t, errors.Is(m.Clear(), ErrClosed))
	assert.False(t, m.IsReady("a"))
}
