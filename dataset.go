package seedmap

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// Dataset file layout.
const (
	seedsDir          = "seeds"
	sharedDir         = "shared"
	elementFile       = "element.png"
	temperatureFile   = "temperature.png"
	massFile          = "mass.png"
	elementsAtlasFile = "elements.png"
	backgroundFile    = "background.png"
	naturalDir        = "natural"
)

// ErrUnknownSeed is returned for a seed with no data in the dataset.
var ErrUnknownSeed = errors.New("unknown seed")

// SharedData is the uncut form of the three shared arrays.
type SharedData struct {
	// Elements is the metadata texture, one column per element.
	Elements image.Image

	// Background holds equally sized square backdrop layers.
	Background []image.Image

	// Natural holds the natural tiles by mip level then layer.
	Natural [][]image.Image
}

// Dataset is a directory of imported seeds and the shared atlases that
// render them.
type Dataset struct {
	root   string
	assets *AssetLoader
}

func OpenDataset(root string) *Dataset {
	return &Dataset{root: root, assets: NewAssetLoader(os.DirFS(root))}
}

func (d *Dataset) Root() string { return d.root }

func validSeedName(seed string) error {
	if seed == "" || seed == "." || seed == ".." || strings.ContainsAny(seed, `/\`) {
		return validationErrorf("dataset", "invalid seed name %q", seed)
	}
	return nil
}

// Seeds lists the seeds present in the dataset.
func (d *Dataset) Seeds() ([]string, error) {
	entries, err := fs.ReadDir(d.assets.fsys, seedsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	seeds := []string{}
	for _, e := range entries {
		if e.IsDir() && d.assets.Exists(path.Join(seedsDir, e.Name(), elementFile)) {
			seeds = append(seeds, e.Name())
		}
	}
	sort.Strings(seeds)
	return seeds, nil
}

// WorldData loads the three data layers of seed.
func (d *Dataset) WorldData(seed string) (*WorldData, error) {
	if err := validSeedName(seed); err != nil {
		return nil, err
	}
	dir := path.Join(seedsDir, seed)
	if !d.assets.Exists(path.Join(dir, elementFile)) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSeed, seed)
	}

	data := &WorldData{Seed: seed}
	for name, dst := range map[string]*image.Image{
		elementFile:     &data.Element,
		temperatureFile: &data.Temperature,
		massFile:        &data.Mass,
	} {
		img, err := d.assets.LoadPNG(path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", seed, err)
		}
		*dst = img
	}
	return data, nil
}

// SharedSetup loads the shared atlases as setup options.
func (d *Dataset) SharedSetup() (SetupOptions, error) {
	var opts SetupOptions

	meta, err := d.assets.LoadPNG(path.Join(sharedDir, elementsAtlasFile))
	if err != nil {
		return opts, err
	}
	elements, err := NewImageArray(meta)
	if err != nil {
		return opts, err
	}

	bgImg, err := d.assets.LoadPNG(path.Join(sharedDir, backgroundFile))
	if err != nil {
		return opts, err
	}
	background, err := squareStrip(bgImg)
	if err != nil {
		return opts, err
	}

	natural, err := d.loadNatural()
	if err != nil {
		return opts, err
	}

	return SetupOptions{ElementData: elements, Background: background, NaturalTiles: natural}, nil
}

func (d *Dataset) loadNatural() (TextureSource, error) {
	names, err := d.assets.List(path.Join(sharedDir, naturalDir), ".png")
	if err != nil {
		return nil, err
	}
	levels := make([]int, 0, len(names))
	for _, n := range names {
		level, err := strconv.Atoi(n)
		if err != nil {
			continue
		}
		levels = append(levels, level)
	}
	sort.Ints(levels)
	if len(levels) == 0 {
		return nil, validationErrorf("dataset", "no natural tile levels")
	}

	var chain []TextureSource
	for i, level := range levels {
		if level != i {
			return nil, validationErrorf("dataset", "natural tile level %d missing", i)
		}
		img, err := d.assets.LoadPNG(path.Join(sharedDir, naturalDir, strconv.Itoa(level)+".png"))
		if err != nil {
			return nil, err
		}
		atlas, err := squareStrip(img)
		if err != nil {
			return nil, fmt.Errorf("natural tile level %d: %w", level, err)
		}
		chain = append(chain, atlas)
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return NewMipmap(chain...)
}

// squareStrip cuts a horizontal strip into square layers as tall as img.
func squareStrip(img image.Image) (*Atlas, error) {
	b := img.Bounds()
	if b.Dy() == 0 || b.Dx()%b.Dy() != 0 {
		return nil, validationErrorf("dataset", "strip %dx%d is not a row of square layers", b.Dx(), b.Dy())
	}
	return NewAtlas(img, b.Dx()/b.Dy(), b.Dy())
}

// WriteWorld stores the three data layers of one seed, replacing any
// previous import.
func (d *Dataset) WriteWorld(data *WorldData) error {
	if err := validSeedName(data.Seed); err != nil {
		return err
	}
	if _, err := NewImageArray(data.Element, data.Temperature, data.Mass); err != nil {
		return err
	}
	dir := filepath.Join(d.root, seedsDir, data.Seed)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return err
	}
	for name, img := range map[string]image.Image{
		elementFile:     data.Element,
		temperatureFile: data.Temperature,
		massFile:        data.Mass,
	} {
		if err := writePNG(filepath.Join(dir, name), img); err != nil {
			return err
		}
	}
	return nil
}

// WriteShared stores the shared atlases, packing each array into a strip.
func (d *Dataset) WriteShared(shared SharedData) error {
	if shared.Elements == nil || len(shared.Background) == 0 || len(shared.Natural) == 0 {
		return validationErrorf("dataset", "shared data needs elements, background and natural tiles")
	}
	dir := filepath.Join(d.root, sharedDir)
	natDir := filepath.Join(dir, naturalDir)
	if err := os.RemoveAll(natDir); err != nil {
		return err
	}
	if err := os.MkdirAll(natDir, os.ModePerm); err != nil {
		return err
	}

	if err := writePNG(filepath.Join(dir, elementsAtlasFile), shared.Elements); err != nil {
		return err
	}
	bg, err := packStrip(shared.Background)
	if err != nil {
		return fmt.Errorf("background: %w", err)
	}
	if err := writePNG(filepath.Join(dir, backgroundFile), bg); err != nil {
		return err
	}
	for level, layers := range shared.Natural {
		strip, err := packStrip(layers)
		if err != nil {
			return fmt.Errorf("natural tile level %d: %w", level, err)
		}
		if err := writePNG(filepath.Join(natDir, strconv.Itoa(level)+".png"), strip); err != nil {
			return err
		}
	}
	return nil
}

func packStrip(layers []image.Image) (*image.RGBA, error) {
	arr, err := NewImageArray(layers...)
	if err != nil {
		return nil, err
	}
	if arr.Width() != arr.Height() {
		return nil, validationErrorf("dataset", "layers are %dx%d, want square", arr.Width(), arr.Height())
	}
	size := arr.Width()
	dst := image.NewRGBA(image.Rect(0, 0, size*len(layers), size))
	for i, img := range layers {
		r := image.Rect(i*size, 0, (i+1)*size, size)
		xdraw.Draw(dst, r, img, img.Bounds().Min, xdraw.Src)
	}
	return dst, nil
}

func writePNG(name string, img image.Image) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return f.Close()
}
