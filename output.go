package seedmap

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/b1naryth1ef/seedmap/gpu"
)

// Output formats understood by EncodeBytes.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatBMP  = "bmp"
	FormatTIFF = "tiff"
	FormatRaw  = "raw"
)

// EncodeOptions selects how surface pixels are serialized.
type EncodeOptions struct {
	// Format is one of the Format constants. Defaults to png.
	Format string

	// Quality is the jpeg quality, 1 to 100.
	Quality int
}

// ContentType returns the MIME type of the encoded output.
func (o EncodeOptions) ContentType() string {
	switch normalizeFormat(o.Format) {
	case FormatJPEG:
		return "image/jpeg"
	case FormatBMP:
		return "image/bmp"
	case FormatTIFF:
		return "image/tiff"
	case FormatRaw:
		return "application/octet-stream"
	default:
		return "image/png"
	}
}

func normalizeFormat(f string) string {
	switch f = strings.ToLower(f); f {
	case "":
		return FormatPNG
	case "jpg":
		return FormatJPEG
	case "tif":
		return FormatTIFF
	}
	return f
}

// Encode writes img to w in the requested format. Raw output is the
// premultiplied RGBA rows without padding.
func Encode(w io.Writer, img *image.RGBA, opts EncodeOptions) error {
	switch f := normalizeFormat(opts.Format); f {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatJPEG:
		q := opts.Quality
		if q <= 0 {
			q = jpeg.DefaultQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
	case FormatBMP:
		return bmp.Encode(w, img)
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case FormatRaw:
		rowBytes := img.Rect.Dx() * 4
		for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
			i := img.PixOffset(img.Rect.Min.X, y)
			if _, err := w.Write(img.Pix[i : i+rowBytes]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", f)
	}
}

// EncodeBytes encodes img into a new byte slice.
func EncodeBytes(img *image.RGBA, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Bitmap owns pixels transferred out of the manager's surface.
type Bitmap struct {
	img *image.RGBA
}

// NewBitmap wraps img. The bitmap takes ownership of it.
func NewBitmap(img *image.RGBA) *Bitmap {
	return &Bitmap{img: img}
}

// Image returns the pixels, or nil once released.
func (b *Bitmap) Image() *image.RGBA {
	if b == nil {
		return nil
	}
	return b.img
}

// Size returns the bitmap dimensions.
func (b *Bitmap) Size() (int, int) {
	if b.Image() == nil {
		return 0, 0
	}
	return b.img.Rect.Dx(), b.img.Rect.Dy()
}

// Encode writes the bitmap in the requested format.
func (b *Bitmap) Encode(w io.Writer, opts EncodeOptions) error {
	if b.Image() == nil {
		return ErrNoSurface
	}
	return Encode(w, b.img, opts)
}

// Release hands the pixels back for reuse by later surfaces. The bitmap
// is empty afterwards.
func (b *Bitmap) Release() {
	if b == nil || b.img == nil {
		return
	}
	gpu.PutRGBA(b.img)
	b.img = nil
}
