package render

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/vector"

	"invitecanvas/core"
)

type point struct{ x, y float64 }

var defaultShapeFill = color.NRGBA{A: 255}

// shapeLayer rasterizes a shape at its scaled size. The stroke is painted
// inside the shape bounds.
func (s *Surface) shapeLayer(sh *core.Shape, g core.Geometry) *image.NRGBA {
	width, height := sh.Width, sh.Height
	if sh.Kind == core.ShapeCircle && sh.Radius > 0 && width == 0 && height == 0 {
		width, height = 2*sh.Radius, 2*sh.Radius
	}
	w, h := width*g.ScaleX, height*g.ScaleY
	sw := sh.StrokeWidth * (g.ScaleX + g.ScaleY) / 2

	if sh.Kind == core.ShapeLine {
		return lineLayer(w, h, sw, colorOr(sh.Stroke, colorOr(sh.Fill, defaultShapeFill)))
	}

	lw, lh := int(math.Ceil(w)), int(math.Ceil(h))
	if lw < 1 || lh < 1 {
		return nil
	}
	layer := image.NewNRGBA(image.Rect(0, 0, lw, lh))
	fill := colorOr(sh.Fill, defaultShapeFill)
	stroke := colorOr(sh.Stroke, color.NRGBA{})
	radius := sh.Radius * math.Min(g.ScaleX, g.ScaleY)

	outer := outline(sh.Kind, 0, 0, w, h, radius)
	if sw <= 0 || stroke.A == 0 {
		paint(layer, fill, outer)
		return layer
	}

	inner := outline(sh.Kind, sw, sw, w-2*sw, h-2*sw, math.Max(radius-sw, 0))
	paint(layer, stroke, outer, reversed(inner))
	paint(layer, fill, inner)
	return layer
}

func lineLayer(w, h, sw float64, c color.NRGBA) *image.NRGBA {
	if sw <= 0 {
		sw = 1
	}
	length := math.Hypot(w, h)
	if length == 0 {
		return nil
	}
	lw, lh := int(math.Ceil(w+sw)), int(math.Ceil(h+sw))
	layer := image.NewNRGBA(image.Rect(0, 0, lw, lh))

	half := sw / 2
	nx, ny := -h/length*half, w/length*half
	a := point{half, half}
	b := point{half + w, half + h}
	paint(layer, c, []point{
		{a.x + nx, a.y + ny},
		{b.x + nx, b.y + ny},
		{b.x - nx, b.y - ny},
		{a.x - nx, a.y - ny},
	})
	return layer
}

// outline returns the closed polygon of a shape inside the box (x, y, w, h).
func outline(kind core.ShapeKind, x, y, w, h, radius float64) []point {
	if w <= 0 || h <= 0 {
		return nil
	}
	switch kind {
	case core.ShapeCircle, core.ShapeEllipse:
		return ellipse(x+w/2, y+h/2, w/2, h/2, 72)
	case core.ShapeTriangle:
		return []point{{x + w/2, y}, {x + w, y + h}, {x, y + h}}
	case core.ShapeRect:
		return roundedRect(x, y, w, h, radius)
	default:
		return roundedRect(x, y, w, h, 0)
	}
}

func ellipse(cx, cy, rx, ry float64, segments int) []point {
	pts := make([]point, segments)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(segments)
		pts[i] = point{cx + rx*math.Cos(a), cy + ry*math.Sin(a)}
	}
	return pts
}

func roundedRect(x, y, w, h, r float64) []point {
	r = math.Min(r, math.Min(w, h)/2)
	if r <= 0 {
		return []point{{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}}
	}
	const steps = 8
	corners := []struct{ cx, cy, start float64 }{
		{x + w - r, y + r, -math.Pi / 2},
		{x + w - r, y + h - r, 0},
		{x + r, y + h - r, math.Pi / 2},
		{x + r, y + r, math.Pi},
	}
	pts := make([]point, 0, 4*(steps+1))
	for _, c := range corners {
		for i := 0; i <= steps; i++ {
			a := c.start + math.Pi/2*float64(i)/steps
			pts = append(pts, point{c.cx + r*math.Cos(a), c.cy + r*math.Sin(a)})
		}
	}
	return pts
}

func reversed(pts []point) []point {
	out := make([]point, len(pts))
	for i, p := range pts {
		out[len(pts)-1-i] = p
	}
	return out
}

// paint fills the polygons with c. Polygons with opposite winding cancel,
// which is how strokes become rings.
func paint(dst *image.NRGBA, c color.NRGBA, polygons ...[]point) {
	if c.A == 0 {
		return
	}
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	drawn := false
	for _, poly := range polygons {
		if len(poly) < 3 {
			continue
		}
		z.MoveTo(float32(poly[0].x), float32(poly[0].y))
		for _, p := range poly[1:] {
			z.LineTo(float32(p.x), float32(p.y))
		}
		z.ClosePath()
		drawn = true
	}
	if drawn {
		z.Draw(dst, b, image.NewUniform(c), image.Point{})
	}
}
