// Package render rasterizes resolved documents on isolated offscreen surfaces.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"invitecanvas/core"
)

// MaxDimension caps the side of a surface in pixels.
const MaxDimension = 8192

var (
	ErrSurfaceDisposed = errors.New("surface has been disposed")
	ErrInvalidSize     = errors.New("invalid surface size")
)

var (
	defaultBackground = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	liveSurfaces      atomic.Int64
)

// LiveSurfaces reports how many surfaces have been created and not yet disposed.
func LiveSurfaces() int64 { return liveSurfaces.Load() }

// Surface is a fixed-size raster owned by one job. It is never shared with
// the interactive editor. Draws are serialized.
type Surface struct {
	mu       sync.Mutex
	width    int
	height   int
	canvas   *image.RGBA
	fonts    *FontBook
	disposed bool
}

// NewSurface allocates a surface of w by h pixels.
func NewSurface(w, h int, fonts *FontBook) (*Surface, error) {
	if w <= 0 || h <= 0 || w > MaxDimension || h > MaxDimension {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, w, h)
	}
	if fonts == nil {
		var err error
		if fonts, err = NewFontBook(); err != nil {
			return nil, err
		}
	}
	liveSurfaces.Add(1)
	return &Surface{
		width:  w,
		height: h,
		canvas: image.NewRGBA(image.Rect(0, 0, w, h)),
		fonts:  fonts,
	}, nil
}

// Size returns the surface dimensions.
func (s *Surface) Size() (int, int) { return s.width, s.height }

// Dispose releases the raster. It is safe to call more than once.
func (s *Surface) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.canvas = nil
	liveSurfaces.Add(-1)
}

// Draw paints res and returns it encoded as PNG at the surface size. The
// document must have settled: every image it refers to has finished loading.
func (s *Surface) Draw(ctx context.Context, res *core.Resolved) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil, ErrSurfaceDisposed
	}
	if res == nil || res.Doc == nil {
		return nil, core.ErrNoDocument
	}
	if !res.Settled() {
		return nil, core.ErrUnsettledImages
	}

	doc := res.Doc
	bounds := s.canvas.Bounds()
	draw.Draw(s.canvas, bounds, image.NewUniform(colorOr(doc.Background, defaultBackground)), image.Point{}, draw.Src)

	if bg := doc.BackgroundImage; bg != nil && res.Background != nil {
		s.drawBackground(res.Background, bg)
	}

	for i, obj := range doc.Objects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		layer, err := s.layer(i, obj, res)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		if layer == nil {
			continue
		}
		s.composite(layer, obj.Geometry)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, s.canvas, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Surface) drawBackground(img image.Image, bg *core.BackgroundImage) {
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * bg.ScaleX))
	h := int(math.Round(float64(b.Dy()) * bg.ScaleY))
	if w < 1 || h < 1 {
		return
	}
	if w != b.Dx() || h != b.Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
		b = img.Bounds()
	}
	at := image.Pt(int(math.Round(bg.Left)), int(math.Round(bg.Top)))
	draw.Draw(s.canvas, image.Rectangle{Min: at, Max: at.Add(b.Size())}, img, b.Min, draw.Over)
}

// layer renders one object, unrotated, at its scaled size.
func (s *Surface) layer(index int, obj core.Object, res *core.Resolved) (*image.NRGBA, error) {
	switch c := obj.Content.(type) {
	case *core.Text:
		return s.textLayer(c, obj.Geometry)
	case *core.Shape:
		return s.shapeLayer(c, obj.Geometry), nil
	case *core.Image:
		bitmap, ok := res.Bitmap(index)
		if !ok {
			logrus.WithFields(logrus.Fields{
				"object_index": index,
				"src":          c.Src,
			}).Debug("Image has no bitmap, skipping")
			return nil, nil
		}
		return imageLayer(c, bitmap, obj.Geometry), nil
	case nil:
		return nil, nil
	default:
		panic(fmt.Sprintf("render: unknown object content %T", c))
	}
}

func imageLayer(c *core.Image, bitmap image.Image, g core.Geometry) *image.NRGBA {
	b := bitmap.Bounds()
	width, height := c.Width, c.Height
	if width <= 0 || height <= 0 {
		width, height = float64(b.Dx()), float64(b.Dy())
	}
	w := int(math.Round(width * g.ScaleX))
	h := int(math.Round(height * g.ScaleY))
	if w < 1 || h < 1 {
		return nil
	}
	// QR modules must stay crisp.
	filter := imaging.Lanczos
	if c.QRTemplate != "" {
		filter = imaging.NearestNeighbor
	}
	return imaging.Resize(bitmap, w, h, filter)
}

// composite rotates layer clockwise by the object angle about its
// top-left corner (Left, Top) and draws it over the canvas.
func (s *Surface) composite(layer *image.NRGBA, g core.Geometry) {
	size := layer.Bounds().Size()
	w, h := float64(size.X), float64(size.Y)

	// Where the layer centre lands once the corner is pinned.
	rad := g.Angle * math.Pi / 180
	sin, cos := math.Sincos(rad)
	cx := g.Left + w/2*cos - h/2*sin
	cy := g.Top + w/2*sin + h/2*cos

	if math.Mod(g.Angle, 360) != 0 {
		layer = imaging.Rotate(layer, -g.Angle, color.Transparent)
		size = layer.Bounds().Size()
	}

	at := image.Pt(int(math.Round(cx-float64(size.X)/2)), int(math.Round(cy-float64(size.Y)/2)))
	draw.Draw(s.canvas, image.Rectangle{Min: at, Max: at.Add(size)}, layer, layer.Bounds().Min, draw.Over)
}

// Renderer acquires a fresh surface per render and disposes it afterwards.
type Renderer struct {
	Fonts *FontBook
}

// NewRenderer creates a renderer that shares fonts across surfaces.
func NewRenderer(fonts *FontBook) *Renderer {
	return &Renderer{Fonts: fonts}
}

// Render rasterizes res to a w by h PNG on a throwaway surface.
func (r *Renderer) Render(ctx context.Context, res *core.Resolved, w, h int) ([]byte, error) {
	surface, err := NewSurface(w, h, r.Fonts)
	if err != nil {
		return nil, err
	}
	defer surface.Dispose()
	return surface.Draw(ctx, res)
}
