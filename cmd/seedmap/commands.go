package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/urfave/cli/v2"

	"github.com/b1naryth1ef/seedmap"
	"github.com/b1naryth1ef/seedmap/dl"
	"github.com/b1naryth1ef/seedmap/gpu"
	"github.com/b1naryth1ef/seedmap/importer"
	"github.com/b1naryth1ef/seedmap/tileserver"
	"github.com/b1naryth1ef/seedmap/worker"
)

// All configured worlds are imported together because they share one
// element palette.
func commandImport(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if len(cfg.Imports) == 0 {
		return errors.New("no import blocks configured")
	}
	log := seedmap.Logger().With("subsystem", "cli")

	loader, err := openAssets(ctx.Context, cfg)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	im := importer.New(loader)
	mopts := cfg.ManagerOptions()
	start := time.Now()
	for _, imp := range cfg.Imports {
		_, err := im.Import(ctx.Context, importer.Options{
			Seed:         imp.Seed,
			RegionDir:    imp.Path,
			Bounds:       imp.Bounds,
			StripCeiling: imp.StripCeiling,
			Concurrency:  cfg.Concurrency,
			MaxWidth:     mopts.MaxWorldWidth,
			MaxHeight:    mopts.MaxWorldHeight,
		})
		if err != nil {
			return fmt.Errorf("import %s: %w", imp.Seed, err)
		}
	}

	shared, worlds, err := im.Build(importer.SharedOptions{
		TileSize: ctx.Int("tile-size"),
		Levels:   cfg.NaturalTileLevels,
	})
	if err != nil {
		return err
	}

	ds := seedmap.OpenDataset(cfg.Dataset)
	if err := ds.WriteShared(shared); err != nil {
		return err
	}
	for _, w := range worlds {
		if err := ds.WriteWorld(w); err != nil {
			return err
		}
	}
	log.Info("dataset written", "path", ds.Root(), "seeds", len(worlds),
		"elements", im.Palette().Len(), "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// openAssets opens the configured client JAR, downloading it when none is
// configured. A failed download falls back to generated colors.
func openAssets(ctx context.Context, cfg *seedmap.Config) (*seedmap.AssetLoader, error) {
	log := seedmap.Logger().With("subsystem", "cli")
	assets := cfg.Assets
	if assets == nil {
		assets = &seedmap.AssetsConfigBlock{}
	}
	if assets.ClientJAR != "" {
		return seedmap.OpenAssets(assets.ClientJAR)
	}

	version := ""
	for _, imp := range cfg.Imports {
		if imp.Version != "" {
			version = imp.Version
			break
		}
	}
	if version == "" {
		v, err := importer.ReadVersion(cfg.Imports[0].Path)
		if err != nil {
			log.Warn("reading world version failed, using the latest release", "err", err)
		}
		version = v
	}

	cacheDir := assets.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(cfg.Dataset, "cache")
	}
	jar, err := dl.DefaultClient.EnsureClientJar(ctx, version, cacheDir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("client jar unavailable, using generated colors", "version", version, "err", err)
		return nil, nil
	}
	return seedmap.OpenAssets(jar)
}

func commandRender(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	seed := ctx.String("seed")
	overlay, err := seedmap.ParseOverlay(ctx.String("overlay"))
	if err != nil {
		return err
	}

	ds := seedmap.OpenDataset(cfg.Dataset)
	shared, err := ds.SharedSetup()
	if err != nil {
		return err
	}
	world, err := ds.WorldData(seed)
	if err != nil {
		return err
	}
	size := world.Element.Bounds().Size()

	params := seedmap.RenderParams{
		Seed:             seed,
		WorldWidth:       size.X,
		WorldHeight:      size.Y,
		CellsWide:        ctx.Float64("cells-wide"),
		CellsHigh:        ctx.Float64("cells-high"),
		LeftCellOffset:   ctx.Float64("left"),
		BottomCellOffset: ctx.Float64("bottom"),
		CanvasWidth:      ctx.Int("width"),
		CanvasHeight:     ctx.Int("height"),
		Overlay:          overlay,
	}
	if params.CellsWide <= 0 {
		params.CellsWide = float64(size.X)
	}
	if params.CellsHigh <= 0 {
		params.CellsHigh = float64(size.Y)
	}
	if !ctx.IsSet("height") {
		params.CanvasHeight = max(1, int(float64(params.CanvasWidth)*params.CellsHigh/params.CellsWide))
	}

	out := ctx.Path("out")
	if out == "" {
		out = seed + ".png"
	}
	enc := seedmap.EncodeOptions{
		Format:  strings.TrimPrefix(filepath.Ext(out), "."),
		Quality: ctx.Int("quality"),
	}

	host, err := worker.Spawn(worker.HostOptions{Manager: managerOptions(cfg)})
	if err != nil {
		return err
	}
	defer host.Close()
	proxy := host.NewProxy()
	defer proxy.Close()

	seq := proxy.Sequence().StopOnError()
	seq.Setup(shared)
	seq.Setup(seedmap.SetupOptions{World: world})
	seq.Render(params)
	data := seq.CopyBytes(enc)
	if err := seq.Exec(ctx.Context); err != nil {
		return err
	}

	if err := os.WriteFile(out, data.Value(), 0o644); err != nil {
		return err
	}
	seedmap.Logger().Info("rendered", "seed", seed, "path", out,
		"canvas", fmt.Sprintf("%dx%d", params.CanvasWidth, params.CanvasHeight))
	return nil
}

func commandServe(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	sopts := cfg.ServerOptions()
	if ctx.IsSet("listen") {
		sopts.Listen = ctx.String("listen")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	host, err := worker.Spawn(worker.HostOptions{Manager: managerOptions(cfg), Registerer: reg})
	if err != nil {
		return err
	}
	defer host.Close()
	proxy := host.NewProxy()
	defer proxy.Close()

	if !ctx.Bool("verbose") {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := tileserver.New(proxy, seedmap.OpenDataset(cfg.Dataset), tileserver.Options{
		TileSize:      sopts.TileSize,
		BaseTileCells: sopts.BaseTileCells,
		Registerer:    reg,
		Gatherer:      reg,
	})

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(sigCtx, sopts.Listen)
}

// managerOptions caps the default texture budget at a quarter of system
// memory when the config does not set one.
func managerOptions(cfg *seedmap.Config) seedmap.ManagerOptions {
	opts := cfg.ManagerOptions()
	if cfg.TextureMemoryMB > 0 {
		return opts
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		seedmap.Logger().Warn("reading system memory failed", "err", err)
		return opts
	}
	budget := opts.Context.MaxMemoryBytes
	if budget == 0 {
		budget = gpu.DefaultMaxMemoryMB * 1024 * 1024
	}
	if quarter := vm.Total / 4; quarter < budget {
		opts.Context.MaxMemoryBytes = quarter
	}
	return opts
}
