package annotator

import (
	"image"
	"image/color"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"

	"ImageClassifier/internal/entity"
)

const (
	DefaultLineWidth = 3
	DefaultFontSize  = 36
	// labelOffset is the gap between the label baseline and the top of its box.
	labelOffset = 10
)

var DefaultColor = color.RGBA{R: 255, A: 255}

type IAnnotator interface {
	Annotate(img *image.RGBA, dets []entity.Detection)
}

type annotator struct {
	color     color.Color
	lineWidth float64
	fontSize  float64

	// font.Face keeps glyph caches and is not safe for concurrent use.
	mu   sync.Mutex
	face font.Face
}

type Option func(*annotator)

func WithColor(c color.Color) Option {
	return func(a *annotator) {
		a.color = c
	}
}

func WithLineWidth(w float64) Option {
	return func(a *annotator) {
		if w > 0 {
			a.lineWidth = w
		}
	}
}

func WithFontSize(size float64) Option {
	return func(a *annotator) {
		if size > 0 {
			a.fontSize = size
		}
	}
}

func New(opts ...Option) (IAnnotator, error) {
	a := &annotator{
		color:     DefaultColor,
		lineWidth: DefaultLineWidth,
		fontSize:  DefaultFontSize,
	}
	for _, opt := range opts {
		opt(a)
	}

	f, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, err
	}
	a.face = truetype.NewFace(f, &truetype.Options{
		Size:    a.fontSize,
		Hinting: font.HintingFull,
	})

	return a, nil
}

// Annotate draws a box outline and the class label for every detection
// directly into img, in order.
func (a *annotator) Annotate(img *image.RGBA, dets []entity.Detection) {
	if len(dets) == 0 {
		return
	}

	dc := gg.NewContextForRGBA(img)
	dc.SetColor(a.color)
	dc.SetLineWidth(a.lineWidth)

	a.mu.Lock()
	defer a.mu.Unlock()
	dc.SetFontFace(a.face)

	width := float64(img.Bounds().Dx())
	for _, d := range dets {
		box := d.Box
		dc.DrawRectangle(float64(box.XMin), float64(box.YMin), float64(box.Width()), float64(box.Height()))
		dc.Stroke()

		if d.Label == "" {
			continue
		}
		x, y := a.labelPosition(dc, d.Label, box, width)
		dc.DrawString(d.Label, x, y)
	}
}

// labelPosition returns the baseline origin of the label. The label sits just
// above the box unless that would cut it off at the top or left of the image,
// in which case it moves inside the box under the top edge.
func (a *annotator) labelPosition(dc *gg.Context, label string, box entity.BoundingBox, width float64) (float64, float64) {
	textWidth, _ := dc.MeasureString(label)
	ascent := float64(a.face.Metrics().Ascent.Ceil())

	x := float64(box.XMin)
	y := float64(box.YMin - labelOffset)

	if y-ascent < 0 {
		y = float64(box.YMin) + a.lineWidth + ascent
	}
	if x+textWidth > width {
		x = width - textWidth
	}
	if x < 0 {
		x = 0
	}
	return x, y
}
