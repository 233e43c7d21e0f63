package crop

import (
	"errors"
	"testing"

	"invitecanvas/core"
)

func canvas() *core.Snapshot {
	return &core.Snapshot{
		Width:           400,
		Height:          300,
		BackgroundImage: &core.BackgroundImage{Src: "bg.png", Left: 0, Top: 0, ScaleX: 1, ScaleY: 1},
		Objects: []core.Object{
			{Geometry: core.Geometry{Left: 100, Top: 80, ScaleX: 2, ScaleY: 2, Angle: 15}, Content: &core.Text{Text: "Hi"}},
			{Geometry: core.Geometry{Left: 10, Top: 10, ScaleX: 1, ScaleY: 1}, Content: &core.Shape{Kind: core.ShapeRect, Width: 20, Height: 20}},
		},
	}
}

func TestTool_BeginSelectsWholeCanvas(t *testing.T) {
	var tool Tool
	if tool.State() != Inactive {
		t.Fatalf("initial state: got %v", tool.State())
	}
	if err := tool.Begin(canvas()); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if tool.State() != Selecting {
		t.Errorf("state: got %v", tool.State())
	}
	if got := tool.Marquee(); got != (Rect{W: 400, H: 300}) {
		t.Errorf("marquee: got %+v", got)
	}
}

func TestTool_ApplyShiftsObjects(t *testing.T) {
	src := canvas()
	before := src.Fingerprint()
	var tool Tool
	if err := tool.Begin(src); err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if _, err := tool.SetMarquee(Rect{X: 50, Y: 40, W: 200, H: 150}); err != nil {
		t.Fatalf("SetMarquee() failed: %v", err)
	}

	out, err := tool.Apply()
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if out.Width != 200 || out.Height != 150 {
		t.Errorf("canvas: got %dx%d", out.Width, out.Height)
	}
	g := out.Objects[0].Geometry
	if g.Left != 50 || g.Top != 40 || g.ScaleX != 2 || g.Angle != 15 {
		t.Errorf("object 0 geometry: got %+v", g)
	}
	if g := out.Objects[1].Geometry; g.Left != -40 || g.Top != -30 {
		t.Errorf("object 1 geometry: got %+v", g)
	}
	if bg := out.BackgroundImage; bg.Left != -50 || bg.Top != -40 {
		t.Errorf("background: got %+v", bg)
	}
	if src.Fingerprint() != before {
		t.Error("source document was modified")
	}
	if tool.State() != Applied {
		t.Errorf("state: got %v", tool.State())
	}
	if _, err := tool.Apply(); !errors.Is(err, ErrNotSelecting) {
		t.Errorf("second Apply(): got %v", err)
	}
}

func TestTool_CancelLeavesDocument(t *testing.T) {
	src := canvas()
	before := src.Fingerprint()
	var tool Tool
	tool.Begin(src)
	tool.SetMarquee(Rect{X: 1, Y: 1, W: 50, H: 50})

	if err := tool.Cancel(); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}
	if tool.State() != Cancelled || src.Fingerprint() != before {
		t.Error("cancel should leave the document untouched")
	}
	if _, err := tool.SetMarquee(Rect{}); !errors.Is(err, ErrNotSelecting) {
		t.Errorf("SetMarquee() after cancel: got %v", err)
	}
}

func TestTool_SetMarqueeClamps(t *testing.T) {
	var tool Tool
	tool.Begin(canvas())

	cases := []struct {
		in, want Rect
	}{
		{Rect{X: -20, Y: -10, W: 100, H: 100}, Rect{X: 0, Y: 0, W: 80, H: 90}},
		{Rect{X: 350, Y: 250, W: 200, H: 200}, Rect{X: 350, Y: 250, W: 50, H: 50}},
		{Rect{X: 300, Y: 200, W: -100, H: -50}, Rect{X: 200, Y: 150, W: 100, H: 50}},
		{Rect{X: 398, Y: 100, W: 1, H: 2}, Rect{X: 390, Y: 100, W: 10, H: 10}},
	}
	for _, c := range cases {
		got, err := tool.SetMarquee(c.in)
		if err != nil {
			t.Fatalf("SetMarquee(%+v) failed: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("SetMarquee(%+v) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestTool_BeginRequiresDocument(t *testing.T) {
	var tool Tool
	if err := tool.Begin(nil); !errors.Is(err, core.ErrNoDocument) {
		t.Errorf("got %v, want ErrNoDocument", err)
	}
	if tool.State() != Inactive {
		t.Errorf("state: got %v", tool.State())
	}
}
