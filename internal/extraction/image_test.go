package extraction

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPrepareImageReencodesAsJPEG(t *testing.T) {
	out, mimeType, err := PrepareImage(pngFixture(t, 120, 80), 2048)
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", mimeType)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 120, cfg.Width)
	require.Equal(t, 80, cfg.Height)
}

func TestPrepareImageDownscales(t *testing.T) {
	out, _, err := PrepareImage(pngFixture(t, 400, 100), 200)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 200, cfg.Width)
	require.Equal(t, 50, cfg.Height)
}

func TestPrepareImageRejectsOtherContent(t *testing.T) {
	_, _, err := PrepareImage([]byte("%PDF-1.7 not an image"), 2048)
	require.ErrorIs(t, err, ErrUnsupportedImage)
	require.ErrorIs(t, err, ErrExtractionFailed)
}
