package seedmap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/b1naryth1ef/seedmap/gpu"
)

// Default server settings.
const (
	DefaultListen        = ":8080"
	DefaultTileSize      = 256
	DefaultBaseTileCells = 256
)

type Config struct {
	Dataset             string  `hcl:"dataset,optional"`
	Capacity            int     `hcl:"capacity,optional"`
	NaturalTilesPerCell float64 `hcl:"natural_tiles_per_cell,optional"`
	NaturalTileLevels   int     `hcl:"natural_tile_levels,optional"`
	TextureMemoryMB     int     `hcl:"texture_memory_mb,optional"`
	GenerateMipmaps     bool    `hcl:"generate_mipmaps,optional"`
	Concurrency         int     `hcl:"concurrency,optional"`

	World   *WorldConfigBlock    `hcl:"world,block"`
	Overlay *OverlayConfigBlock  `hcl:"overlay,block"`
	Server  *ServerConfigBlock   `hcl:"server,block"`
	Assets  *AssetsConfigBlock   `hcl:"assets,block"`
	Imports []*ImportConfigBlock `hcl:"import,block"`
}

type WorldConfigBlock struct {
	MaxWidth  int `hcl:"max_width,optional"`
	MaxHeight int `hcl:"max_height,optional"`
}

type OverlayConfigBlock struct {
	Temperature []float64 `hcl:"temperature,optional"`
	Mass        []float64 `hcl:"mass,optional"`
}

type ServerConfigBlock struct {
	Listen        string  `hcl:"listen,optional"`
	TileSize      int     `hcl:"tile_size,optional"`
	BaseTileCells float64 `hcl:"base_tile_cells,optional"`
}

type AssetsConfigBlock struct {
	// ClientJAR is a client JAR or unpacked resource directory. When empty
	// the JAR for the world's version is downloaded into CacheDir.
	ClientJAR string `hcl:"client_jar,optional"`
	CacheDir  string `hcl:"cache_dir,optional"`
}

type ImportConfigBlock struct {
	Seed         string `hcl:"seed,label"`
	Path         string `hcl:"path"`
	Version      string `hcl:"version,optional"`
	Bounds       []int  `hcl:"bounds,optional"`
	StripCeiling bool   `hcl:"strip_ceiling,optional"`
}

func newHCLEvalContext() *hcl.EvalContext {
	home, _ := os.UserHomeDir()
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"home": cty.StringVal(home),
		},
		Functions: map[string]function.Function{
			"env":    envFunc,
			"join":   stdlib.JoinFunc,
			"format": stdlib.FormatFunc,
		},
	}
}

var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "name", Type: cty.String}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

// LoadConfig decodes an HCL configuration file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	evalCtx := newHCLEvalContext()
	err := hclsimple.DecodeFile(path, evalCtx, &cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return &cfg, nil
}

// ParseConfig decodes configuration source. filename picks the syntax by
// extension and appears in diagnostics.
func ParseConfig(filename string, src []byte) (*Config, error) {
	var cfg Config
	err := hclsimple.Decode(filename, src, newHCLEvalContext(), &cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Capacity < 0 {
		return validationErrorf("config", "capacity %d is negative", c.Capacity)
	}
	if c.Overlay != nil {
		if n := len(c.Overlay.Temperature); n != 0 && n != 2 {
			return validationErrorf("config", "overlay temperature needs [min, max], got %d values", n)
		}
		if n := len(c.Overlay.Mass); n != 0 && n != 2 {
			return validationErrorf("config", "overlay mass needs [min, max], got %d values", n)
		}
	}
	seen := map[string]bool{}
	for _, imp := range c.Imports {
		if seen[imp.Seed] {
			return validationErrorf("config", "import %q declared twice", imp.Seed)
		}
		seen[imp.Seed] = true
		if len(imp.Bounds) != 0 && len(imp.Bounds) != 4 {
			return validationErrorf("config", "import %q bounds needs [x0, z0, x1, z1]", imp.Seed)
		}
	}
	return nil
}

// resolvePaths makes relative paths relative to the config file.
func (c *Config) resolvePaths(base string) {
	resolve := func(p *string) {
		if *p == "" {
			return
		}
		if strings.HasPrefix(*p, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				*p = filepath.Join(home, (*p)[2:])
			}
		}
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&c.Dataset)
	if c.Assets != nil {
		resolve(&c.Assets.ClientJAR)
		resolve(&c.Assets.CacheDir)
	}
	for _, imp := range c.Imports {
		resolve(&imp.Path)
	}
}

// Import returns the import block for seed.
func (c *Config) Import(seed string) (*ImportConfigBlock, error) {
	for _, imp := range c.Imports {
		if imp.Seed == seed {
			return imp, nil
		}
	}
	return nil, fmt.Errorf("no import block for seed %q", seed)
}

// ManagerOptions converts the configuration into manager options.
func (c *Config) ManagerOptions() ManagerOptions {
	opts := ManagerOptions{
		Capacity:            c.Capacity,
		NaturalTilesPerCell: Vec2{X: c.NaturalTilesPerCell, Y: c.NaturalTilesPerCell},
		NaturalTileLevels:   c.NaturalTileLevels,
		GenerateMipmaps:     c.GenerateMipmaps,
		Context: gpu.Options{
			MaxMemoryBytes: uint64(c.TextureMemoryMB) * 1024 * 1024,
			Workers:        c.Concurrency,
		},
	}
	if c.World != nil {
		opts.MaxWorldWidth = c.World.MaxWidth
		opts.MaxWorldHeight = c.World.MaxHeight
	}
	if c.Overlay != nil {
		if len(c.Overlay.Temperature) == 2 {
			opts.TemperatureRange = [2]float64{c.Overlay.Temperature[0], c.Overlay.Temperature[1]}
		}
		if len(c.Overlay.Mass) == 2 {
			opts.MassRange = [2]float64{c.Overlay.Mass[0], c.Overlay.Mass[1]}
		}
	}
	opts.setDefaults()
	return opts
}

// ServerOptions returns the server block with defaults filled in.
func (c *Config) ServerOptions() ServerConfigBlock {
	s := ServerConfigBlock{}
	if c.Server != nil {
		s = *c.Server
	}
	if s.Listen == "" {
		s.Listen = DefaultListen
	}
	if s.TileSize <= 0 {
		s.TileSize = DefaultTileSize
	}
	if s.BaseTileCells <= 0 {
		s.BaseTileCells = DefaultBaseTileCells
	}
	return s
}
