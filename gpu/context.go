package gpu

import (
	"fmt"
	"runtime"
)

// Default context limits.
const (
	DefaultMaxTextureSize = 8192
	DefaultMaxArrayLayers = 2048

	// DefaultMaxMemoryMB is the texture memory budget when none is given.
	DefaultMaxMemoryMB = 1024
)

// Options configures a Context.
type Options struct {
	// MaxTextureSize bounds the width and height of every texture and surface.
	MaxTextureSize int

	// MaxArrayLayers bounds the depth of an array texture.
	MaxArrayLayers int

	// MaxMemoryBytes is the texture memory budget. Allocations that would
	// exceed it fail with OutOfMemory.
	MaxMemoryBytes uint64

	// Workers is the number of rows shaded concurrently by Draw.
	// Defaults to GOMAXPROCS.
	Workers int
}

// Context is a software rendering context. It owns array textures, programs
// and surfaces and must only be used from the goroutine that created it.
type Context struct {
	opts Options

	usedBytes uint64
	textures  map[*ArrayTexture]struct{}

	lost      bool
	destroyed bool
}

// New creates a rendering context.
func New(opts Options) (*Context, error) {
	if opts.MaxTextureSize <= 0 {
		opts.MaxTextureSize = DefaultMaxTextureSize
	}
	if opts.MaxArrayLayers <= 0 {
		opts.MaxArrayLayers = DefaultMaxArrayLayers
	}
	if opts.MaxMemoryBytes == 0 {
		opts.MaxMemoryBytes = DefaultMaxMemoryMB * 1024 * 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	slogger().Debug("context created",
		"max_texture_size", opts.MaxTextureSize,
		"max_array_layers", opts.MaxArrayLayers,
		"budget_mb", opts.MaxMemoryBytes/(1024*1024))

	return &Context{
		opts:     opts,
		textures: make(map[*ArrayTexture]struct{}),
	}, nil
}

// Limits returns the effective options of the context.
func (c *Context) Limits() Options {
	return c.opts
}

// MemoryUsed returns the bytes currently reserved by live array textures.
func (c *Context) MemoryUsed() uint64 {
	return c.usedBytes
}

// Lose marks the context as lost. Every later call fails with ContextLost.
func (c *Context) Lose() {
	if !c.lost {
		slogger().Warn("context lost")
	}
	c.lost = true
}

// Lost reports whether the context has been lost or destroyed.
func (c *Context) Lost() bool {
	return c.lost || c.destroyed
}

// Destroy releases every texture owned by the context.
func (c *Context) Destroy() {
	for tex := range c.textures {
		tex.release()
	}
	c.textures = map[*ArrayTexture]struct{}{}
	c.usedBytes = 0
	c.destroyed = true
}

func (c *Context) check(op string) error {
	if c.destroyed {
		return newError(InvalidOperation, op, "context destroyed")
	}
	if c.lost {
		return newError(ContextLost, op, "")
	}
	return nil
}

func (c *Context) reserve(op string, size uint64) error {
	if c.usedBytes+size > c.opts.MaxMemoryBytes {
		return newError(OutOfMemory, op, "%s requested, %s of %s in use",
			formatBytes(size), formatBytes(c.usedBytes), formatBytes(c.opts.MaxMemoryBytes))
	}
	c.usedBytes += size
	return nil
}

func formatBytes(n uint64) string {
	if n >= 1024*1024 {
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	}
	return fmt.Sprintf("%dB", n)
}

// Err reports the context error state, nil while the context is usable.
func (c *Context) Err() error {
	return c.check("GetError")
}
