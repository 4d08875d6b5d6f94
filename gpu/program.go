package gpu

import (
	"image"
	"image/color"

	"golang.org/x/sync/errgroup"
)

// FragmentShader computes the color of the pixel at (x, y) of the target.
// Returning keep=false discards the fragment.
type FragmentShader func(uniforms any, x, y int) (c color.NRGBA, keep bool)

// BlendMode selects how fragments are combined with the target.
type BlendMode uint8

const (
	// BlendReplace overwrites the target pixel.
	BlendReplace BlendMode = iota
	// BlendOver composites the fragment over the target pixel.
	BlendOver
)

// Program is a linked shader program.
type Program struct {
	label  string
	shader FragmentShader
}

// NewProgram links a program from a fragment shader.
func (c *Context) NewProgram(label string, shader FragmentShader) (*Program, error) {
	const op = "LinkProgram"
	if err := c.check(op); err != nil {
		return nil, err
	}
	if shader == nil {
		return nil, newError(InvalidOperation, op, "%s: no fragment stage", label)
	}
	return &Program{label: label, shader: shader}, nil
}

func (p *Program) Label() string { return p.label }

// DrawCall describes one draw of a full-viewport quad.
type DrawCall struct {
	Program  *Program
	Target   *Surface
	Viewport image.Rectangle
	Uniforms any
	Blend    BlendMode
}

// Draw shades every pixel of the viewport clipped to the target.
func (c *Context) Draw(call DrawCall) error {
	const op = "Draw"
	if err := c.check(op); err != nil {
		return err
	}
	if call.Program == nil {
		return newError(InvalidOperation, op, "no program bound")
	}
	if !call.Target.Valid() {
		return newError(InvalidOperation, op, "%s: target surface is detached", call.Program.label)
	}

	dst := call.Target.img
	rect := call.Viewport.Intersect(dst.Rect)
	if rect.Empty() {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		y := y
		g.Go(func() error {
			shadeRow(dst, call, rect.Min.X, rect.Max.X, y)
			return nil
		})
	}
	return g.Wait()
}

func shadeRow(dst *image.RGBA, call DrawCall, x0, x1, y int) {
	for x := x0; x < x1; x++ {
		src, keep := call.Program.shader(call.Uniforms, x, y)
		if !keep {
			continue
		}
		i := dst.PixOffset(x, y)
		p := dst.Pix[i : i+4 : i+4]

		// Surfaces hold premultiplied alpha.
		sr := mul8(src.R, src.A)
		sg := mul8(src.G, src.A)
		sb := mul8(src.B, src.A)
		if call.Blend == BlendOver && src.A != 0xff {
			inv := 0xff - src.A
			p[0] = sr + mul8(p[0], inv)
			p[1] = sg + mul8(p[1], inv)
			p[2] = sb + mul8(p[2], inv)
			p[3] = src.A + mul8(p[3], inv)
			continue
		}
		p[0], p[1], p[2], p[3] = sr, sg, sb, src.A
	}
}

// mul8 returns a*b/255 rounded to nearest.
func mul8(a, b uint8) uint8 {
	v := uint32(a)*uint32(b) + 0x80
	return uint8((v + v>>8) >> 8)
}
