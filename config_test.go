package seedmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
dataset    = "data"
capacity   = 8
texture_memory_mb = 64
generate_mipmaps  = true
natural_tiles_per_cell = 0.25

world {
  max_width  = 512
  max_height = 256
}

overlay {
  temperature = [250, 350]
}

server {
  listen = format(":%d", 9000)
}

assets {
  client_jar = "client.jar"
}

import "overworld" {
  path   = "saves/world/region"
  bounds = [-2, -2, 2, 2]
  strip_ceiling = false
}
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig("config.hcl", []byte(sampleConfig))
	require.NoError(t, err)

	opts := cfg.ManagerOptions()
	assert.Equal(t, 8, opts.Capacity)
	assert.Equal(t, 512, opts.MaxWorldWidth)
	assert.Equal(t, 256, opts.MaxWorldHeight)
	assert.Equal(t, Vec2{X: 0.25, Y: 0.25}, opts.NaturalTilesPerCell)
	assert.Equal(t, [2]float64{250, 350}, opts.TemperatureRange)
	assert.Equal(t, [2]float64{DefaultMassMin, DefaultMassMax}, opts.MassRange)
	assert.Equal(t, uint64(64<<20), opts.Context.MaxMemoryBytes)
	assert.True(t, opts.GenerateMipmaps)

	srv := cfg.ServerOptions()
	assert.Equal(t, ":9000", srv.Listen)
	assert.Equal(t, DefaultTileSize, srv.TileSize)

	imp, err := cfg.Import("overworld")
	require.NoError(t, err)
	assert.Equal(t, []int{-2, -2, 2, 2}, imp.Bounds)
	_, err = cfg.Import("nether")
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig("empty.hcl", []byte(""))
	require.NoError(t, err)

	opts := cfg.ManagerOptions()
	assert.Equal(t, DefaultSlotCapacity, opts.Capacity)
	assert.Equal(t, DefaultMaxWorldWidth, opts.MaxWorldWidth)
	assert.Equal(t, DefaultNaturalTilesPerCell, opts.NaturalTilesPerCell.X)
	assert.Equal(t, DefaultListen, cfg.ServerOptions().Listen)
}

func TestConfigValidation(t *testing.T) {
	for name, src := range map[string]string{
		"negative capacity": `capacity = -1`,
		"overlay range":     `overlay { mass = [1, 2, 3] }`,
		"duplicate import": `
import "a" { path = "x" }
import "a" { path = "y" }`,
		"bounds": `import "a" {
  path   = "x"
  bounds = [1, 2]
}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig("bad.hcl", []byte(src))
			var ve *ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}

	_, err := ParseConfig("syntax.hcl", []byte(`capacity = `))
	assert.Error(t, err)
}

func TestLoadConfigResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "config.hcl")
	require.NoError(t, os.WriteFile(name, []byte(sampleConfig), 0o644))

	cfg, err := LoadConfig(name)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Dataset)
	assert.Equal(t, filepath.Join(dir, "client.jar"), cfg.Assets.ClientJAR)
	assert.Equal(t, filepath.Join(dir, "saves/world/region"), cfg.Imports[0].Path)
}

func TestConfigEnvFunction(t *testing.T) {
	t.Setenv("SEEDMAP_TEST_DATASET", "/srv/seeds")
	cfg, err := ParseConfig("env.hcl", []byte(`dataset = env("SEEDMAP_TEST_DATASET")`))
	require.NoError(t, err)
	assert.Equal(t, "/srv/seeds", cfg.Dataset)
}
