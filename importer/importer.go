// Package importer converts Minecraft worlds into seed datasets.
//
// Every block column becomes one cell: the top visible block selects the
// element, the biome and nearby block light give the temperature and the
// column height gives the mass.
package importer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Tnze/go-mc/save"
	"github.com/Tnze/go-mc/save/region"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/b1naryth1ef/seedmap"
)

const regionChunks = 32

// regionBlocks is the width of a region file in columns.
const regionBlocks = regionChunks * ChunkSize

// Options configures the import of one world.
type Options struct {
	Seed string

	// RegionDir is the world's region directory.
	RegionDir string

	// Bounds optionally crops the world to block coordinates
	// [x0, z0, x1, z1).
	Bounds []int

	// StripCeiling skips the solid roof of nether-like worlds.
	StripCeiling bool

	Concurrency int

	// MaxWidth and MaxHeight crop the imported area.
	MaxWidth  int
	MaxHeight int
}

// World is an imported seed whose element indices are provisional until
// the importer builds its shared data.
type World struct {
	Seed   string
	Origin image.Point
	Width  int
	Height int

	Chunks  uint32
	Regions int

	elements []int32
	kelvin   []float64
	grams    []float64
}

// At returns the column at cell x, y.
func (w *World) At(x, y int) Column {
	i := y*w.Width + x
	return Column{Element: int(w.elements[i]), Kelvin: w.kelvin[i], Grams: w.grams[i]}
}

// Importer imports worlds that share one element palette.
type Importer struct {
	palette *Palette
	worlds  []*World
	log     *slog.Logger
}

// New creates an importer reading block resources from loader, which may be
// nil.
func New(loader *seedmap.AssetLoader) *Importer {
	return &Importer{
		palette: NewPalette(loader),
		log:     seedmap.Logger().With("subsystem", "importer"),
	}
}

func (im *Importer) Palette() *Palette { return im.palette }

type regionFile struct {
	path string
	x, z int
}

func listRegions(dir string) ([]regionFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	regions := []regionFile{}
	for _, e := range entries {
		var x, z int
		if e.IsDir() {
			continue
		}
		if _, err := fmt.Sscanf(e.Name(), "r.%d.%d.mca", &x, &z); err != nil {
			continue
		}
		regions = append(regions, regionFile{path: filepath.Join(dir, e.Name()), x: x, z: z})
	}
	sort.Slice(regions, func(a, b int) bool {
		if regions[a].z != regions[b].z {
			return regions[a].z < regions[b].z
		}
		return regions[a].x < regions[b].x
	})
	return regions, nil
}

// extent returns the block rectangle covered by the import.
func extent(regions []regionFile, opts Options) (image.Rectangle, error) {
	var r image.Rectangle
	if len(opts.Bounds) == 4 {
		r = image.Rect(opts.Bounds[0], opts.Bounds[1], opts.Bounds[2], opts.Bounds[3])
	} else {
		for _, reg := range regions {
			rr := image.Rect(reg.x*regionBlocks, reg.z*regionBlocks, (reg.x+1)*regionBlocks, (reg.z+1)*regionBlocks)
			r = r.Union(rr)
		}
	}
	if r.Empty() {
		return r, fmt.Errorf("import %s covers no blocks", opts.Seed)
	}
	if opts.MaxWidth > 0 && r.Dx() > opts.MaxWidth {
		r.Max.X = r.Min.X + opts.MaxWidth
	}
	if opts.MaxHeight > 0 && r.Dy() > opts.MaxHeight {
		r.Max.Y = r.Min.Y + opts.MaxHeight
	}
	return r, nil
}

// Import reads every region of opts.RegionDir that overlaps the import
// area. Regions that cannot be opened are skipped with a warning.
func (im *Importer) Import(ctx context.Context, opts Options) (*World, error) {
	if opts.Seed == "" {
		return nil, errors.New("import without a seed name")
	}
	regions, err := listRegions(opts.RegionDir)
	if err != nil {
		return nil, err
	}
	area, err := extent(regions, opts)
	if err != nil {
		return nil, err
	}
	if len(opts.Bounds) != 4 && (opts.MaxWidth > 0 || opts.MaxHeight > 0) {
		im.log.Info("import area", "seed", opts.Seed, "area", area.String())
	}

	w := NewWorld(opts.Seed, area.Dx(), area.Dy())
	w.Origin = area.Min

	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	start := time.Now()
	var chunks atomic.Uint32
	var used atomic.Int32
	sampler := &columnSampler{palette: im.palette, stripCeiling: opts.StripCeiling}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, reg := range regions {
		regArea := image.Rect(reg.x*regionBlocks, reg.z*regionBlocks, (reg.x+1)*regionBlocks, (reg.z+1)*regionBlocks)
		if !regArea.Overlaps(area) {
			continue
		}
		reg := reg
		g.Go(func() error {
			n, err := im.importRegion(ctx, sampler, w, area, reg)
			if err != nil {
				im.log.Warn("skipping region", "path", reg.path, "err", err)
				return ctx.Err()
			}
			chunks.Add(n)
			used.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	w.Chunks = chunks.Load()
	w.Regions = int(used.Load())
	im.worlds = append(im.worlds, w)
	im.log.Info("imported world", "seed", opts.Seed, "regions", w.Regions, "chunks", w.Chunks,
		"size", fmt.Sprintf("%dx%d", w.Width, w.Height), "took", time.Since(start).Round(time.Millisecond))
	return w, nil
}

func (im *Importer) importRegion(ctx context.Context, sampler *columnSampler, w *World, area image.Rectangle, reg regionFile) (uint32, error) {
	r, err := region.Open(reg.path)
	if errors.Is(err, io.EOF) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer r.Close()

	var count uint32
	var cols [ChunkSize * ChunkSize]Column
	for cz := 0; cz < regionChunks; cz++ {
		for cx := 0; cx < regionChunks; cx++ {
			if err := ctx.Err(); err != nil {
				return count, err
			}
			origin := image.Pt(reg.x*regionBlocks+cx*ChunkSize, reg.z*regionBlocks+cz*ChunkSize)
			if !image.Rect(origin.X, origin.Y, origin.X+ChunkSize, origin.Y+ChunkSize).Overlaps(area) {
				continue
			}

			sector, err := r.ReadSector(cx, cz)
			if errors.Is(err, region.ErrNoSector) {
				continue
			}
			if err != nil {
				return count, err
			}
			if len(sector) == 0 {
				return count, fmt.Errorf("sector %d,%d is out of bounds", cx, cz)
			}

			var chunk save.Chunk
			if err := chunk.Load(sector); err != nil {
				im.log.Debug("bad chunk", "path", reg.path, "chunk", fmt.Sprintf("%d,%d", cx, cz), "err", err)
				continue
			}
			if !chunkStatusDone(chunk.Status) {
				continue
			}
			if err := sampler.sample(&chunk, &cols); err != nil {
				return count, err
			}
			w.store(origin.Sub(area.Min), &cols)
			count++
		}
	}
	return count, nil
}

// store writes the columns of a chunk whose corner sits at cell p. Chunks
// never overlap, so concurrent stores touch disjoint cells.
func (w *World) store(p image.Point, cols *[ChunkSize * ChunkSize]Column) {
	for z := 0; z < ChunkSize; z++ {
		y := p.Y + z
		if y < 0 || y >= w.Height {
			continue
		}
		for x := 0; x < ChunkSize; x++ {
			cx := p.X + x
			if cx < 0 || cx >= w.Width {
				continue
			}
			c := cols[z*ChunkSize+x]
			i := y*w.Width + cx
			w.elements[i] = int32(c.Element)
			w.kelvin[i] = c.Kelvin
			w.grams[i] = c.Grams
		}
	}
}

// Add registers a world sampled elsewhere, with element indices taken from
// the importer's palette.
func (im *Importer) Add(w *World) {
	im.worlds = append(im.worlds, w)
}

// NewWorld allocates an empty world of the given size.
func NewWorld(seed string, width, height int) *World {
	w := &World{
		Seed:     seed,
		Width:    width,
		Height:   height,
		elements: make([]int32, width*height),
		kelvin:   make([]float64, width*height),
		grams:    make([]float64, width*height),
	}
	for i := range w.kelvin {
		w.kelvin[i] = defaultBiome.Kelvin()
	}
	return w
}

// Set stores one column.
func (w *World) Set(x, y int, c Column) {
	i := y*w.Width + x
	w.elements[i] = int32(c.Element)
	w.kelvin[i] = c.Kelvin
	w.grams[i] = c.Grams
}

// encode renders the world into the three data layers, mapping element
// indices through remap.
func (w *World) encode(remap []int) *seedmap.WorldData {
	rect := image.Rect(0, 0, w.Width, w.Height)
	el := image.NewRGBA(rect)
	temp := image.NewRGBA(rect)
	mass := image.NewRGBA(rect)
	for y := 0; y < w.Height; y++ {
		for x := 0; x < w.Width; x++ {
			i := y*w.Width + x
			idx := int(w.elements[i])
			if idx >= 0 && idx < len(remap) {
				idx = remap[idx]
			}
			el.SetRGBA(x, y, seedmap.EncodeIndex(idx))
			temp.SetRGBA(x, y, seedmap.EncodeTemperature(w.kelvin[i]))
			mass.SetRGBA(x, y, seedmap.EncodeMass(math.Max(0, w.grams[i])))
		}
	}
	return &seedmap.WorldData{Seed: w.Seed, Element: el, Temperature: temp, Mass: mass}
}

// Build finalizes the palette and returns the shared data together with
// the data layers of every imported world.
func (im *Importer) Build(opts SharedOptions) (seedmap.SharedData, []*seedmap.WorldData, error) {
	elements, remap, err := im.palette.Elements()
	if err != nil {
		return seedmap.SharedData{}, nil, err
	}
	shared, err := BuildShared(elements, opts)
	if err != nil {
		return seedmap.SharedData{}, nil, err
	}
	worlds := make([]*seedmap.WorldData, 0, len(im.worlds))
	for _, w := range im.worlds {
		worlds = append(worlds, w.encode(remap))
	}
	if missing := im.palette.Missing(); len(missing) > 0 {
		im.log.Warn("blocks without textures use generated colors", "count", len(missing))
	}
	return shared, worlds, nil
}

// ReadVersion returns the game version recorded in the level.dat next to
// a region directory.
func ReadVersion(regionDir string) (string, error) {
	levelPath := filepath.Join(regionDir, "..", "level.dat")

	fd, err := os.Open(levelPath)
	if err != nil {
		return "", err
	}
	defer fd.Close()

	r, err := gzip.NewReader(fd)
	if err != nil {
		return "", err
	}

	level, err := save.ReadLevel(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", levelPath, err)
	}
	return level.Data.Version.Name, nil
}
