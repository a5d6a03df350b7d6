package sigimage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"flujos-esign/internal/config"
)

// ErrCompose wraps every failure to build a signature image
var ErrCompose = errors.New("signature image composition failed")

const (
	captionSize = 10
	margin      = 10
	captionTop  = margin / 2
	ellipsis    = "..."
)

var systemFonts = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/TTF/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/usr/share/fonts/liberation/LiberationSans-Regular.ttf",
	"/usr/share/fonts/truetype/msttcorefonts/Arial.ttf",
	"/Library/Fonts/Arial.ttf",
	`C:\Windows\Fonts\arial.ttf`,
}

// Result describes a composed image on disk
type Result struct {
	Path            string
	Width           int
	Height          int
	SignatureWidth  int
	SignatureHeight int
	CaptionWidth    int
	CaptionHeight   int
}

// Composer renders the visible signature: role caption on top, handwritten
// mark centred below
type Composer struct {
	maxWidth int
	font     *opentype.Font
	fontName string
	logger   *zap.Logger
}

func NewComposer(cfg *config.Config, logger *zap.Logger) *Composer {
	candidates := systemFonts
	if cfg.Signature.FontPath != "" {
		candidates = append([]string{cfg.Signature.FontPath}, systemFonts...)
	}

	c := &Composer{
		maxWidth: cfg.Signature.MaxImageWidth,
		logger:   logger,
	}
	c.font, c.fontName = loadFont(candidates)

	logger.Info("Signature image composer initialized",
		zap.Int("max_width", c.maxWidth),
		zap.String("font", c.fontName),
	)
	return c
}

func loadFont(paths []string) (*opentype.Font, string) {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if f, err := opentype.Parse(data); err == nil {
			return f, p
		}
	}
	if f, err := opentype.Parse(goregular.TTF); err == nil {
		return f, "goregular"
	}
	return nil, "basicfont"
}

func (c *Composer) newFace() (font.Face, error) {
	if c.font == nil {
		return basicfont.Face7x13, nil
	}
	return opentype.NewFace(c.font, &opentype.FaceOptions{
		Size:    captionSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// Compose renders the image and writes it as a PNG inside dir
func (c *Composer) Compose(signature []byte, caption string, opaque bool, dir string) (*Result, error) {
	img, res, err := c.Render(signature, caption, opaque)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(dir, "signature-*.png")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp file: %v", ErrCompose, err)
	}
	res.Path = f.Name()

	if err := imaging.Encode(f, img, imaging.PNG); err != nil {
		f.Close()
		os.Remove(res.Path)
		return nil, fmt.Errorf("%w: encode png: %v", ErrCompose, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(res.Path)
		return nil, fmt.Errorf("%w: close png: %v", ErrCompose, err)
	}

	c.logger.Debug("Signature image composed",
		zap.String("path", res.Path),
		zap.Int("width", res.Width),
		zap.Int("height", res.Height),
	)
	return res, nil
}

// Render builds the composed image in memory
func (c *Composer) Render(signature []byte, caption string, opaque bool) (*image.NRGBA, *Result, error) {
	src, err := imaging.Decode(bytes.NewReader(signature))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decode signature image: %v", ErrCompose, err)
	}

	sig := imaging.Clone(src)
	if sig.Bounds().Dx() > c.maxWidth {
		sig = imaging.Resize(sig, c.maxWidth, 0, imaging.Lanczos)
	}
	sigW, sigH := sig.Bounds().Dx(), sig.Bounds().Dy()
	if sigW == 0 || sigH == 0 {
		return nil, nil, fmt.Errorf("%w: empty signature image", ErrCompose)
	}

	face, err := c.newFace()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: load font: %v", ErrCompose, err)
	}
	defer face.Close()

	caption = fitCaption(face, caption, c.maxWidth-2*margin)
	bounds, _ := font.BoundString(face, caption)
	captionW := (bounds.Max.X - bounds.Min.X).Ceil()
	captionH := (bounds.Max.Y - bounds.Min.Y).Ceil()
	if caption == "" {
		captionW, captionH = 0, 0
	}

	width := sigW
	if captionW+2*margin > width {
		width = captionW + 2*margin
	}
	if width > c.maxWidth {
		width = c.maxWidth
	}
	height := sigH + captionH + 2*margin

	bg := color.Color(color.Transparent)
	if opaque {
		bg = color.White
	}
	canvas := imaging.New(width, height, bg)

	if caption != "" {
		d := &font.Drawer{
			Dst:  canvas,
			Src:  image.Black,
			Face: face,
			Dot: fixed.Point26_6{
				X: fixed.I((width-captionW)/2) - bounds.Min.X,
				Y: fixed.I(captionTop) - bounds.Min.Y,
			},
		}
		d.DrawString(caption)
	}

	canvas = imaging.Overlay(canvas, sig, image.Pt((width-sigW)/2, captionH+captionTop+margin), 1.0)

	return canvas, &Result{
		Width:           width,
		Height:          height,
		SignatureWidth:  sigW,
		SignatureHeight: sigH,
		CaptionWidth:    captionW,
		CaptionHeight:   captionH,
	}, nil
}

// fitCaption shortens caption with an ellipsis until it fits in limit pixels
func fitCaption(face font.Face, caption string, limit int) string {
	if textWidth(face, caption) <= limit {
		return caption
	}
	runes := []rune(caption)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + ellipsis
		if textWidth(face, candidate) <= limit {
			return candidate
		}
	}
	return ""
}

func textWidth(face font.Face, s string) int {
	bounds, _ := font.BoundString(face, s)
	return (bounds.Max.X - bounds.Min.X).Ceil()
}
