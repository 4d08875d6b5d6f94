// Package tileserver serves rendered map tiles over HTTP.
//
// Tiles use the XYZ scheme with y counted down from the top of the world. A
// tile at zoom z covers BaseTileCells/2^z cells on each side. Seeds are
// uploaded to the renderer on first use and uploaded again when the
// renderer reports they were evicted.
package tileserver

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/b1naryth1ef/seedmap"
	"github.com/b1naryth1ef/seedmap/protocol"
)

// MaxZoom is the deepest zoom level served.
const MaxZoom = 16

const shutdownTimeout = 5 * time.Second

// Source supplies the data uploaded to the renderer. *seedmap.Dataset
// implements it.
type Source interface {
	Seeds() ([]string, error)
	WorldData(seed string) (*seedmap.WorldData, error)
	SharedSetup() (seedmap.SetupOptions, error)
}

type Options struct {
	TileSize      int
	BaseTileCells float64

	// Registerer receives the HTTP collectors. Gatherer backs /metrics;
	// /metrics is not routed when it is nil.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server renders tiles through a protocol.Submitter, normally a worker
// proxy.
type Server struct {
	router  *gin.Engine
	backend protocol.Submitter
	source  Source
	opts    Options
	metrics *httpMetrics
	log     *slog.Logger

	mu         sync.Mutex
	shared     *seedmap.SetupOptions
	sharedSent bool
	sizes      map[string]image.Point
}

func New(backend protocol.Submitter, source Source, opts Options) *Server {
	if opts.TileSize <= 0 {
		opts.TileSize = seedmap.DefaultTileSize
	}
	if opts.BaseTileCells <= 0 {
		opts.BaseTileCells = seedmap.DefaultBaseTileCells
	}

	s := &Server{
		backend: backend,
		source:  source,
		opts:    opts,
		metrics: newHTTPMetrics(opts.Registerer),
		log:     seedmap.Logger().With("subsystem", "tileserver"),
		sizes:   make(map[string]image.Point),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log), s.metrics.handler())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/seeds", s.listSeeds)
	r.GET("/seeds/:seed", s.describeSeed)
	r.GET("/tiles/:seed/:z/:x/:y", s.tile)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// TileID addresses one tile.
type TileID struct {
	Seed    string
	Z, X, Y int
}

// Params returns the render parameters of the tile in a world of the given
// size.
func (t TileID) Params(size image.Point, tileSize int, baseCells float64) seedmap.RenderParams {
	cells := baseCells / math.Exp2(float64(t.Z))
	return seedmap.RenderParams{
		Seed:             t.Seed,
		WorldWidth:       size.X,
		WorldHeight:      size.Y,
		CellsWide:        cells,
		CellsHigh:        cells,
		LeftCellOffset:   float64(t.X) * cells,
		BottomCellOffset: float64(size.Y) - float64(t.Y+1)*cells,
		CanvasWidth:      tileSize,
		CanvasHeight:     tileSize,
	}
}

// TileCount returns the number of tiles along each axis at zoom z.
func TileCount(size image.Point, z int, baseCells float64) image.Point {
	cells := baseCells / math.Exp2(float64(z))
	return image.Point{
		X: int(math.Ceil(float64(size.X) / cells)),
		Y: int(math.Ceil(float64(size.Y) / cells)),
	}
}

func (s *Server) listSeeds(c *gin.Context) {
	seeds, err := s.source.Seeds()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seeds": seeds})
}

func (s *Server) describeSeed(c *gin.Context) {
	seed := c.Param("seed")
	size, _, err := s.worldSize(seed)
	if err != nil {
		s.fail(c, err)
		return
	}
	tiles := TileCount(size, 0, s.opts.BaseTileCells)
	c.JSON(http.StatusOK, gin.H{
		"seed":            seed,
		"width":           size.X,
		"height":          size.Y,
		"tile_size":       s.opts.TileSize,
		"base_tile_cells": s.opts.BaseTileCells,
		"max_zoom":        MaxZoom,
		"tiles":           gin.H{"x": tiles.X, "y": tiles.Y},
	})
}

func (s *Server) tile(c *gin.Context) {
	id, enc, err := parseTile(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	overlay, err := seedmap.ParseOverlay(c.Query("overlay"))
	if err != nil {
		s.fail(c, badRequest(err))
		return
	}

	size, world, err := s.worldSize(id.Seed)
	if err != nil {
		s.fail(c, err)
		return
	}
	if n := TileCount(size, id.Z, s.opts.BaseTileCells); id.X >= n.X || id.Y >= n.Y {
		s.fail(c, notFound(fmt.Errorf("tile %d/%d/%d outside world", id.Z, id.X, id.Y)))
		return
	}

	params := id.Params(size, s.opts.TileSize, s.opts.BaseTileCells)
	params.Overlay = overlay
	data, err := s.render(c.Request.Context(), params, enc, world)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.Data(http.StatusOK, enc.ContentType(), data)
}

func parseTile(c *gin.Context) (TileID, seedmap.EncodeOptions, error) {
	id := TileID{Seed: c.Param("seed")}
	enc := seedmap.EncodeOptions{Format: seedmap.FormatPNG}

	last := c.Param("y")
	if ext := path.Ext(last); ext != "" {
		last = strings.TrimSuffix(last, ext)
		enc.Format = strings.TrimPrefix(ext, ".")
	}
	switch strings.ToLower(enc.Format) {
	case "png", "jpg", "jpeg", "bmp", "tif", "tiff":
	default:
		return id, enc, badRequest(fmt.Errorf("unsupported tile format %q", enc.Format))
	}
	if q := c.Query("quality"); q != "" {
		quality, err := strconv.Atoi(q)
		if err != nil || quality < 1 || quality > 100 {
			return id, enc, badRequest(fmt.Errorf("quality %q", q))
		}
		enc.Quality = quality
	}

	var err error
	for _, f := range []struct {
		raw string
		dst *int
	}{{c.Param("z"), &id.Z}, {c.Param("x"), &id.X}, {last, &id.Y}} {
		if *f.dst, err = strconv.Atoi(f.raw); err != nil || *f.dst < 0 {
			return id, enc, badRequest(fmt.Errorf("tile coordinate %q", f.raw))
		}
	}
	if id.Z > MaxZoom {
		return id, enc, badRequest(fmt.Errorf("zoom %d exceeds %d", id.Z, MaxZoom))
	}
	return id, enc, nil
}

// worldSize returns the size of seed. The world data is returned too when it
// had to be loaded, so the caller can upload it without loading it again.
func (s *Server) worldSize(seed string) (image.Point, *seedmap.WorldData, error) {
	s.mu.Lock()
	size, ok := s.sizes[seed]
	s.mu.Unlock()
	if ok {
		return size, nil, nil
	}

	world, err := s.source.WorldData(seed)
	if err != nil {
		return image.Point{}, nil, err
	}
	size = world.Element.Bounds().Size()

	s.mu.Lock()
	s.sizes[seed] = size
	s.mu.Unlock()
	return size, world, nil
}

func (s *Server) sharedSetup() (*seedmap.SetupOptions, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shared == nil {
		opts, err := s.source.SharedSetup()
		if err != nil {
			return nil, false, err
		}
		s.shared = &opts
	}
	return s.shared, !s.sharedSent, nil
}

func (s *Server) setSharedSent(sent bool) {
	s.mu.Lock()
	s.sharedSent = sent
	s.mu.Unlock()
}

// render draws one tile. A request the renderer rejects because the seed
// was evicted, or because it lost the shared atlases, is retried once with
// the missing data uploaded in the same sequence.
func (s *Server) render(ctx context.Context, params seedmap.RenderParams, enc seedmap.EncodeOptions, world *seedmap.WorldData) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		shared, sendShared, err := s.sharedSetup()
		if err != nil {
			return nil, err
		}

		seq := protocol.NewSequence(s.backend).StopOnError()
		if sendShared {
			seq.Setup(*shared)
			s.metrics.uploads.WithLabelValues("shared").Inc()
		}
		if world != nil {
			seq.Setup(seedmap.SetupOptions{World: world})
			s.metrics.uploads.WithLabelValues("world").Inc()
			s.log.Debug("uploading seed", "seed", params.Seed, "attempt", attempt)
		}
		seq.Render(params)
		out := seq.CopyBytes(enc)

		err = seq.Exec(ctx)
		if err == nil {
			if sendShared {
				s.setSharedSent(true)
			}
			return out.Value(), nil
		}
		if attempt > 0 {
			return nil, err
		}

		switch {
		case errors.Is(err, seedmap.ErrNoSlot):
			if world, err = s.source.WorldData(params.Seed); err != nil {
				return nil, err
			}
		case errors.Is(err, seedmap.ErrNotReady):
			s.setSharedSent(false)
		default:
			return nil, err
		}
	}
}

type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func badRequest(err error) error { return &statusError{http.StatusBadRequest, err} }
func notFound(err error) error   { return &statusError{http.StatusNotFound, err} }

func statusOf(err error) int {
	var se *statusError
	var ve *seedmap.ValidationError
	switch {
	case errors.As(err, &se):
		return se.status
	case errors.Is(err, seedmap.ErrUnknownSeed):
		return http.StatusNotFound
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusOf(err), gin.H{"error": err.Error()})
}
