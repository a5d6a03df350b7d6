package sigimage

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flujos-esign/internal/config"
)

// signaturePNG draws a diagonal stroke on a transparent canvas
func signaturePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		y := x * (h - 1) / w
		img.Set(x, y, color.NRGBA{0, 0, 128, 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newComposer(maxWidth int) *Composer {
	cfg := &config.Config{Signature: config.SignatureConfig{MaxImageWidth: maxWidth}}
	return NewComposer(cfg, zap.NewNop())
}

func TestRender_ResizesWideSignature(t *testing.T) {
	c := newComposer(205)

	img, res, err := c.Render(signaturePNG(t, 400, 100), "Director", false)
	require.NoError(t, err)

	assert.Equal(t, 205, res.SignatureWidth)
	assert.Equal(t, 51, res.SignatureHeight)
	assert.LessOrEqual(t, res.Width, 205)
	assert.Greater(t, res.CaptionHeight, 0)
	assert.Equal(t, res.SignatureHeight+res.CaptionHeight+20, res.Height)
	assert.Equal(t, res.Width, img.Bounds().Dx())
	assert.Equal(t, res.Height, img.Bounds().Dy())
}

func TestRender_NarrowSignatureWidenedByCaption(t *testing.T) {
	c := newComposer(205)

	_, res, err := c.Render(signaturePNG(t, 40, 30), "Jefe de Compras", false)
	require.NoError(t, err)

	assert.Equal(t, 40, res.SignatureWidth)
	assert.Equal(t, 30, res.SignatureHeight)
	assert.Equal(t, max(40, res.CaptionWidth+20), res.Width)
	assert.Equal(t, 30+res.CaptionHeight+20, res.Height)
}

func TestRender_LongCaptionIsEllipsized(t *testing.T) {
	c := newComposer(205)
	caption := strings.Repeat("Responsable de Administracion ", 6)

	_, res, err := c.Render(signaturePNG(t, 100, 40), caption, false)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Width, 205)
	assert.LessOrEqual(t, res.CaptionWidth+20, 205)
}

func TestRender_Background(t *testing.T) {
	c := newComposer(205)
	sig := signaturePNG(t, 100, 40)

	transparent, _, err := c.Render(sig, "Auditor", false)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), transparent.NRGBAAt(0, 0).A)

	opaque, res, err := c.Render(sig, "Auditor", true)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, opaque.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, opaque.NRGBAAt(res.Width-1, res.Height-1))
}

func TestRender_EmptyCaption(t *testing.T) {
	c := newComposer(205)

	_, res, err := c.Render(signaturePNG(t, 120, 50), "", false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.CaptionHeight)
	assert.Equal(t, 120, res.Width)
	assert.Equal(t, 70, res.Height)
}

func TestRender_BadImage(t *testing.T) {
	c := newComposer(205)
	_, _, err := c.Render([]byte("not a png"), "Auditor", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCompose))
}

func TestCompose_WritesPNG(t *testing.T) {
	c := newComposer(300)
	dir := t.TempDir()

	res, err := c.Compose(signaturePNG(t, 250, 80), "Director", true, dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(res.Path))
	assert.Equal(t, 250, res.SignatureWidth)

	f, err := os.Open(res.Path)
	require.NoError(t, err)
	defer f.Close()
	img, err := imaging.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, res.Width, img.Bounds().Dx())
	assert.Equal(t, res.Height, img.Bounds().Dy())
}

func TestCompose_MissingDirFails(t *testing.T) {
	c := newComposer(205)
	_, err := c.Compose(signaturePNG(t, 10, 10), "x", false, filepath.Join(t.TempDir(), "gone", "deeper"))
	assert.True(t, errors.Is(err, ErrCompose))
}
