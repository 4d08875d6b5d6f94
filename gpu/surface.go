package gpu

import (
	"image"
	"image/color"
)

// Surface is an off-screen RGBA render target.
type Surface struct {
	img *image.RGBA
}

// NewSurface allocates a w×h surface cleared to transparent black.
func (c *Context) NewSurface(w, h int) (*Surface, error) {
	const op = "NewSurface"
	if err := c.check(op); err != nil {
		return nil, err
	}
	if w < 1 || h < 1 || w > c.opts.MaxTextureSize || h > c.opts.MaxTextureSize {
		return nil, newError(InvalidValue, op, "invalid surface size %dx%d", w, h)
	}
	return &Surface{img: GetRGBA(w, h)}, nil
}

// Valid reports whether the surface still owns its pixels.
func (s *Surface) Valid() bool {
	return s != nil && s.img != nil
}

// Size returns the dimensions of the surface, or zero once detached.
func (s *Surface) Size() (int, int) {
	if !s.Valid() {
		return 0, 0
	}
	return s.img.Rect.Dx(), s.img.Rect.Dy()
}

// Image returns the surface pixels without copying. The image stays owned
// by the surface.
func (s *Surface) Image() *image.RGBA {
	if !s.Valid() {
		return nil
	}
	return s.img
}

// Fill sets every pixel to c.
func (s *Surface) Fill(c color.RGBA) {
	if !s.Valid() {
		return
	}
	if c == (color.RGBA{}) {
		clear(s.img.Pix)
		return
	}
	for i := 0; i < len(s.img.Pix); i += 4 {
		s.img.Pix[i+0] = c.R
		s.img.Pix[i+1] = c.G
		s.img.Pix[i+2] = c.B
		s.img.Pix[i+3] = c.A
	}
}

// Detach transfers ownership of the pixels to the caller. The surface is
// invalid afterwards.
func (s *Surface) Detach() *image.RGBA {
	img := s.img
	s.img = nil
	return img
}

// Release returns the surface pixels to the pool.
func (s *Surface) Release() {
	PutRGBA(s.Detach())
}
