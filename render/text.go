package render

import (
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"invitecanvas/core"
)

const (
	defaultFontSize = 40
	lineHeight      = 1.16
)

var defaultTextColor = color.NRGBA{A: 255}

// textLayer draws t onto a transparent layer sized to the text block. The
// text is laid out at fontSize*scaleY; a differing scaleX stretches the layer.
func (s *Surface) textLayer(t *core.Text, g core.Geometry) (*image.NRGBA, error) {
	size := t.FontSize
	if size <= 0 {
		size = defaultFontSize
	}
	size *= g.ScaleY
	if size < 1 {
		return nil, nil
	}

	face, err := s.fonts.Face(t.FontFamily, StyleOf(t.Bold, t.Italic), size)
	if err != nil {
		return nil, err
	}
	defer face.Close()

	lines := strings.Split(t.Text, "\n")
	widths := make([]int, len(lines))
	maxWidth := 0
	for i, line := range lines {
		widths[i] = font.MeasureString(face, line).Ceil()
		if widths[i] > maxWidth {
			maxWidth = widths[i]
		}
	}
	if maxWidth == 0 {
		return nil, nil
	}

	metrics := face.Metrics()
	step := int(math.Ceil(size * lineHeight))
	ascent := metrics.Ascent.Ceil()
	height := step*(len(lines)-1) + ascent + metrics.Descent.Ceil()

	layer := image.NewNRGBA(image.Rect(0, 0, maxWidth, height))
	fill := colorOr(t.Fill, defaultTextColor)
	src := image.NewUniform(fill)

	for i, line := range lines {
		x := 0
		switch t.Align {
		case "center":
			x = (maxWidth - widths[i]) / 2
		case "right":
			x = maxWidth - widths[i]
		}
		baseline := ascent + i*step
		d := &font.Drawer{
			Dst:  layer,
			Src:  src,
			Face: face,
			Dot:  fixed.P(x, baseline),
		}
		d.DrawString(line)

		if t.Underline && widths[i] > 0 {
			thickness := int(math.Max(1, math.Round(size/15)))
			y := baseline + int(math.Round(size*0.1))
			fillRect(layer, image.Rect(x, y, x+widths[i], y+thickness), fill)
		}
	}

	if g.ScaleX != g.ScaleY && g.ScaleY != 0 {
		w := int(math.Round(float64(maxWidth) * g.ScaleX / g.ScaleY))
		if w < 1 {
			return nil, nil
		}
		layer = imaging.Resize(layer, w, height, imaging.Lanczos)
	}
	return layer, nil
}

func fillRect(dst *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	r = r.Intersect(dst.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dst.SetNRGBA(x, y, c)
		}
	}
}
