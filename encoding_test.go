package seedmap

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func TestIndexEncoding(t *testing.T) {
	for _, i := range []int{0, 1, 255, 256, 4097, 65535} {
		assert.Equal(t, i, DecodeIndex(EncodeIndex(i)))
	}
	assert.Equal(t, color.RGBA{R: 0x01, G: 0x10, A: 0xff}, EncodeIndex(0x1001))
}

func TestTemperatureEncoding(t *testing.T) {
	assert.Equal(t, 293.1, DecodeTemperature(EncodeTemperature(293.14)))
	assert.Equal(t, 0.0, DecodeTemperature(EncodeTemperature(-4)))
	assert.Equal(t, 6553.5, DecodeTemperature(EncodeTemperature(1e6)))
}

func TestMassEncoding(t *testing.T) {
	assert.Equal(t, 1850000.0, DecodeMass(EncodeMass(1850000)))
	assert.Equal(t, float64(1<<24-1), DecodeMass(EncodeMass(1e12)))
}

func TestParseOverlay(t *testing.T) {
	o, err := ParseOverlay("Temperature")
	require.NoError(t, err)
	assert.Equal(t, OverlayTemperature, o)

	o, err = ParseOverlay("")
	require.NoError(t, err)
	assert.Equal(t, OverlayNone, o)

	_, err = ParseOverlay("pressure")
	assert.Error(t, err)
	assert.Equal(t, "mass", OverlayMass.String())
}

func TestEncodeFormats(t *testing.T) {
	img := solidImage(3, 2, color.RGBA{R: 10, G: 20, B: 30, A: 0xff})

	raw, err := EncodeBytes(img, EncodeOptions{Format: FormatRaw})
	require.NoError(t, err)
	assert.Equal(t, img.Pix, raw)

	data, err := EncodeBytes(img, EncodeOptions{})
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 0xff}, color.RGBAModel.Convert(decoded.At(2, 1)))

	data, err = EncodeBytes(img, EncodeOptions{Format: "BMP"})
	require.NoError(t, err)
	decoded, err = bmp.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), decoded.Bounds())

	for _, f := range []string{"jpg", FormatTIFF} {
		data, err = EncodeBytes(img, EncodeOptions{Format: f, Quality: 90})
		require.NoError(t, err, f)
		assert.NotEmpty(t, data, f)
	}

	_, err = EncodeBytes(img, EncodeOptions{Format: "webp"})
	assert.Error(t, err)
}

func TestRawEncodingOfSubImage(t *testing.T) {
	img := solidImage(4, 4, color.RGBA{A: 0xff})
	img.Set(1, 1, color.RGBA{R: 7, A: 0xff})
	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)

	raw, err := EncodeBytes(sub, EncodeOptions{Format: FormatRaw})
	require.NoError(t, err)
	assert.Len(t, raw, 2*2*4)
	assert.Equal(t, byte(7), raw[0])
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", EncodeOptions{}.ContentType())
	assert.Equal(t, "image/jpeg", EncodeOptions{Format: "jpg"}.ContentType())
	assert.Equal(t, "application/octet-stream", EncodeOptions{Format: FormatRaw}.ContentType())
}

func TestBitmapRelease(t *testing.T) {
	b := NewBitmap(solidImage(2, 2, color.RGBA{A: 0xff}))
	w, h := b.Size()
	assert.Equal(t, 2, w)
	assert.Equal(t, 2, h)

	var buf bytes.Buffer
	require.NoError(t, b.Encode(&buf, EncodeOptions{}))

	b.Release()
	assert.Nil(t, b.Image())
	assert.ErrorIs(t, b.Encode(&buf, EncodeOptions{}), ErrNoSurface)
	b.Release()

	var nilBitmap *Bitmap
	nilBitmap.Release()
}
