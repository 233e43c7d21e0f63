package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"invitecanvas/core"
)

func testFonts(t *testing.T) *FontBook {
	t.Helper()
	fonts, err := NewFontBook()
	if err != nil {
		t.Fatalf("NewFontBook() failed: %v", err)
	}
	return fonts
}

func settled(doc *core.Snapshot) *core.Resolved {
	res := core.NewResolved(doc)
	res.MarkSettled()
	return res
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	return img
}

func rgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

var (
	white = color.NRGBA{255, 255, 255, 255}
	red   = color.NRGBA{255, 0, 0, 255}
	blue  = color.NRGBA{0, 0, 255, 255}
)

func TestRender_ExactDimensionsAndBackground(t *testing.T) {
	r := NewRenderer(testFonts(t))
	doc := &core.Snapshot{Width: 120, Height: 80, Background: "#0000ff"}

	data, err := r.Render(context.Background(), settled(doc), 120, 80)
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	img := decodePNG(t, data)
	if img.Bounds().Dx() != 120 || img.Bounds().Dy() != 80 {
		t.Errorf("size mismatch: got %v", img.Bounds())
	}
	if got := rgbaAt(img, 60, 40); got != blue {
		t.Errorf("background pixel: got %v, want %v", got, blue)
	}
}

func TestRender_DefaultBackgroundIsWhite(t *testing.T) {
	data, err := NewRenderer(testFonts(t)).Render(context.Background(), settled(&core.Snapshot{Width: 4, Height: 4}), 4, 4)
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	if got := rgbaAt(decodePNG(t, data), 1, 1); got != white {
		t.Errorf("got %v, want white", got)
	}
}

func TestRender_RefusesUnsettledDocument(t *testing.T) {
	res := core.NewResolved(&core.Snapshot{Width: 10, Height: 10})
	_, err := NewRenderer(testFonts(t)).Render(context.Background(), res, 10, 10)
	if !errors.Is(err, core.ErrUnsettledImages) {
		t.Errorf("got %v, want ErrUnsettledImages", err)
	}
}

func TestRender_ImageAtPositionAndScale(t *testing.T) {
	doc := &core.Snapshot{Width: 100, Height: 100, Objects: []core.Object{
		{Geometry: core.Geometry{Left: 20, Top: 30, ScaleX: 2, ScaleY: 2}, Content: &core.Image{Src: "x"}},
	}}
	res := settled(doc)
	res.Bitmaps[0] = solid(10, 10, red)

	data, err := NewRenderer(testFonts(t)).Render(context.Background(), res, 100, 100)
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	img := decodePNG(t, data)
	if got := rgbaAt(img, 21, 31); got != red {
		t.Errorf("top-left of image: got %v, want red", got)
	}
	if got := rgbaAt(img, 38, 48); got != red {
		t.Errorf("bottom-right of scaled image: got %v, want red", got)
	}
	if got := rgbaAt(img, 42, 52); got != white {
		t.Errorf("outside scaled image: got %v, want white", got)
	}
}

func TestRender_MissingBitmapIsSkipped(t *testing.T) {
	doc := &core.Snapshot{Width: 20, Height: 20, Objects: []core.Object{
		{Geometry: core.Geometry{ScaleX: 1, ScaleY: 1}, Content: &core.Image{Src: "broken"}},
	}}
	if _, err := NewRenderer(testFonts(t)).Render(context.Background(), settled(doc), 20, 20); err != nil {
		t.Errorf("an unloaded image should not fail the render: %v", err)
	}
}

func TestRender_ZOrderIsListOrder(t *testing.T) {
	doc := &core.Snapshot{Width: 50, Height: 50, Objects: []core.Object{
		{Geometry: core.Geometry{Left: 0, Top: 0, ScaleX: 1, ScaleY: 1}, Content: &core.Shape{Kind: core.ShapeRect, Width: 30, Height: 30, Fill: "red"}},
		{Geometry: core.Geometry{Left: 10, Top: 10, ScaleX: 1, ScaleY: 1}, Content: &core.Shape{Kind: core.ShapeRect, Width: 30, Height: 30, Fill: "blue"}},
	}}
	data, err := NewRenderer(testFonts(t)).Render(context.Background(), settled(doc), 50, 50)
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	img := decodePNG(t, data)
	if got := rgbaAt(img, 5, 5); got != red {
		t.Errorf("only red covers (5,5): got %v", got)
	}
	if got := rgbaAt(img, 20, 20); got != blue {
		t.Errorf("later object should be on top at (20,20): got %v", got)
	}
}

func TestRender_RotationAboutTopLeft(t *testing.T) {
	doc := &core.Snapshot{Width: 140, Height: 110, Objects: []core.Object{
		{Geometry: core.Geometry{Left: 50, Top: 50, ScaleX: 1, ScaleY: 1, Angle: 90}, Content: &core.Shape{Kind: core.ShapeRect, Width: 40, Height: 10, Fill: "red"}},
	}}
	data, err := NewRenderer(testFonts(t)).Render(context.Background(), settled(doc), 140, 110)
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	img := decodePNG(t, data)
	// Pinned at (50,50) and turned 90 degrees clockwise the bar hangs down
	// and to the left: x 40..50, y 50..90.
	for _, p := range [][2]int{{45, 55}, {45, 70}, {45, 85}} {
		if got := rgbaAt(img, p[0], p[1]); got != red {
			t.Errorf("rotated bar should cover (%d,%d): got %v", p[0], p[1], got)
		}
	}
	for _, p := range [][2]int{{70, 55}, {70, 40}, {55, 70}} {
		if got := rgbaAt(img, p[0], p[1]); got != white {
			t.Errorf("(%d,%d) should be background: got %v", p[0], p[1], got)
		}
	}
}

func TestRender_TextPaintsGlyphs(t *testing.T) {
	doc := &core.Snapshot{Width: 200, Height: 60, Objects: []core.Object{
		{Geometry: core.Geometry{Left: 5, Top: 5, ScaleX: 1, ScaleY: 1}, Content: &core.Text{Text: "Hello Ana", FontSize: 32, Fill: "#000000", Bold: true, Underline: true}},
	}}
	data, err := NewRenderer(testFonts(t)).Render(context.Background(), settled(doc), 200, 60)
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	img := decodePNG(t, data)
	dark := 0
	for y := 0; y < 60; y++ {
		for x := 0; x < 200; x++ {
			if c := rgbaAt(img, x, y); c.R < 100 && c.G < 100 && c.B < 100 {
				dark++
			}
		}
	}
	if dark < 50 {
		t.Errorf("expected glyph pixels, found %d dark pixels", dark)
	}
}

func TestRender_BackgroundImage(t *testing.T) {
	doc := &core.Snapshot{Width: 40, Height: 40, BackgroundImage: &core.BackgroundImage{Src: "bg", Left: 10, Top: 10, ScaleX: 2, ScaleY: 2}}
	res := settled(doc)
	res.Background = solid(5, 5, blue)

	data, err := NewRenderer(testFonts(t)).Render(context.Background(), res, 40, 40)
	if err != nil {
		t.Fatalf("Render() failed: %v", err)
	}
	img := decodePNG(t, data)
	if got := rgbaAt(img, 15, 15); got != blue {
		t.Errorf("inside background image: got %v", got)
	}
	if got := rgbaAt(img, 25, 25); got != white {
		t.Errorf("outside scaled background image: got %v", got)
	}
}

func TestSurface_DisposeIsScoped(t *testing.T) {
	before := LiveSurfaces()
	s, err := NewSurface(10, 10, testFonts(t))
	if err != nil {
		t.Fatalf("NewSurface() failed: %v", err)
	}
	if LiveSurfaces() != before+1 {
		t.Errorf("live surfaces: got %d, want %d", LiveSurfaces(), before+1)
	}
	s.Dispose()
	s.Dispose()
	if LiveSurfaces() != before {
		t.Errorf("live surfaces after dispose: got %d, want %d", LiveSurfaces(), before)
	}
	if _, err := s.Draw(context.Background(), settled(&core.Snapshot{Width: 10, Height: 10})); !errors.Is(err, ErrSurfaceDisposed) {
		t.Errorf("draw after dispose: got %v", err)
	}
}

func TestRenderer_DisposesOnError(t *testing.T) {
	before := LiveSurfaces()
	res := core.NewResolved(&core.Snapshot{Width: 10, Height: 10})
	NewRenderer(testFonts(t)).Render(context.Background(), res, 10, 10)
	if LiveSurfaces() != before {
		t.Errorf("surface leaked after a failed render: %d live, want %d", LiveSurfaces(), before)
	}
}

func TestNewSurface_InvalidSize(t *testing.T) {
	if _, err := NewSurface(0, 10, nil); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("got %v, want ErrInvalidSize", err)
	}
	if _, err := NewSurface(10, MaxDimension+1, nil); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("got %v, want ErrInvalidSize", err)
	}
}

func TestParseColor(t *testing.T) {
	cases := map[string]color.NRGBA{
		"#f00":              red,
		"#0000FF":           blue,
		"#ff000080":         {255, 0, 0, 128},
		"rgb(255, 0, 0)":    red,
		"rgba(0,0,255,0.5)": {0, 0, 255, 128},
		"white":             white,
		"":                  {},
		"transparent":       {},
	}
	for in, want := range cases {
		got, err := parseColor(in)
		if err != nil {
			t.Errorf("parseColor(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parseColor(%q) = %v, want %v", in, got, want)
		}
	}
	for _, bad := range []string{"#12", "rgb(1,2)", "rgb(300,0,0)", "chartreusey"} {
		if _, err := parseColor(bad); err == nil {
			t.Errorf("parseColor(%q) should fail", bad)
		}
	}
}
