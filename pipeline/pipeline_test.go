package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"invitecanvas/assets"
	"invitecanvas/core"
	"invitecanvas/personalize"
	"invitecanvas/render"
)

type fakeResolver struct {
	err  error
	seen []*personalize.Pending
}

func (f *fakeResolver) Resolve(ctx context.Context, pending *personalize.Pending) (*core.Resolved, error) {
	f.seen = append(f.seen, pending)
	if f.err != nil {
		return nil, f.err
	}
	res := core.NewResolved(pending.Doc)
	res.MarkSettled()
	return res, nil
}

type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) Render(ctx context.Context, res *core.Resolved, w, h int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("png"), nil
}

func invitation() *core.Snapshot {
	return &core.Snapshot{
		Width:  400,
		Height: 400,
		Objects: []core.Object{
			{Geometry: core.Geometry{Left: 10, Top: 10, ScaleX: 1, ScaleY: 1}, Content: &core.Text{Text: "Hello {guest_name}!", FontSize: 24}},
			{Geometry: core.Geometry{Left: 150, Top: 150, ScaleX: 1, ScaleY: 1}, Content: &core.Image{Width: 200, Height: 200, QRTemplate: "https://rsvp/{guest_name}"}},
		},
	}
}

func dark(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return (r+g+b)/3 < 0x8000
}

func TestRun_RendersGuestQRAtObjectPosition(t *testing.T) {
	qr := assets.NewLocalQR(200)
	p := New(WithResolver(assets.NewResolver(qr, nil, 0)))
	snap := invitation()

	out, err := p.Run(context.Background(), snap, core.Guest{ID: "g1", Name: "Ana Silva"})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if len(out.Payloads) != 1 || out.Payloads[0] != "https://rsvp/Ana Silva" {
		t.Fatalf("payloads: got %v", out.Payloads)
	}
	if out.AssetFailures != 0 {
		t.Errorf("unexpected asset failures: %v", out.Failures)
	}

	got, err := png.Decode(bytes.NewReader(out.PNG))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if got.Bounds() != image.Rect(0, 0, 400, 400) {
		t.Fatalf("size mismatch: got %v", got.Bounds())
	}

	_, want, err := qr.Generate(context.Background(), "https://rsvp/Ana Silva")
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	mismatches := 0
	for y := 2; y < 200; y += 5 {
		for x := 2; x < 200; x += 5 {
			if dark(got.At(150+x, 150+y)) != dark(want.At(x, y)) {
				mismatches++
			}
		}
	}
	if mismatches > 0 {
		t.Errorf("rendered QR differs from the guest payload's QR at %d sample points", mismatches)
	}

	if snap.Objects[0].Content.(*core.Text).Text != "Hello {guest_name}!" {
		t.Error("source snapshot was mutated")
	}
}

func TestRun_SubstitutesBeforeResolving(t *testing.T) {
	res := &fakeResolver{}
	p := New(WithResolver(res), WithRenderer(&fakeRenderer{}))

	if _, err := p.Run(context.Background(), invitation(), core.Guest{Name: "Ana Silva"}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if len(res.seen) != 1 {
		t.Fatalf("resolver calls: got %d, want 1", len(res.seen))
	}
	text := res.seen[0].Doc.Objects[0].Content.(*core.Text).Text
	if text != "Hello Ana Silva!" {
		t.Errorf("text: got %q", text)
	}
	if len(res.seen[0].Tasks) != 1 || res.seen[0].Tasks[0].Payload != "https://rsvp/Ana Silva" {
		t.Errorf("tasks: got %+v", res.seen[0].Tasks)
	}
}

func TestRun_WrapsRenderFailure(t *testing.T) {
	boom := errors.New("boom")
	p := New(WithResolver(&fakeResolver{}), WithRenderer(&fakeRenderer{err: boom}))

	_, err := p.Run(context.Background(), invitation(), core.Guest{ID: "g7", Name: "Bo"})
	var gre *core.GuestRenderError
	if !errors.As(err, &gre) {
		t.Fatalf("expected GuestRenderError, got %v", err)
	}
	if gre.GuestID != "g7" || !errors.Is(err, boom) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := &fakeResolver{}
	p := New(WithResolver(res), WithRenderer(&fakeRenderer{}))

	if _, err := p.Run(ctx, invitation(), core.Guest{Name: "Ana"}); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if len(res.seen) != 0 {
		t.Error("a cancelled run should not resolve assets")
	}
}

func TestRun_MissingDocument(t *testing.T) {
	p := New(WithResolver(&fakeResolver{}), WithRenderer(&fakeRenderer{}))
	if _, err := p.Run(context.Background(), nil, core.Guest{}); !errors.Is(err, core.ErrNoDocument) {
		t.Errorf("got %v, want ErrNoDocument", err)
	}
}

func TestRunOn_UsesCallerSurface(t *testing.T) {
	fonts, err := render.NewFontBook()
	if err != nil {
		t.Fatalf("NewFontBook() failed: %v", err)
	}
	surface, err := render.NewSurface(400, 400, fonts)
	if err != nil {
		t.Fatalf("NewSurface() failed: %v", err)
	}
	p := New(WithResolver(&fakeResolver{}))

	out, err := p.RunOn(context.Background(), surface, invitation(), core.Guest{Name: "Ana"})
	if err != nil {
		t.Fatalf("RunOn() failed: %v", err)
	}
	if len(out.PNG) == 0 {
		t.Error("empty PNG")
	}

	surface.Dispose()
	_, err = p.RunOn(context.Background(), surface, invitation(), core.Guest{Name: "Ana"})
	if !errors.Is(err, render.ErrSurfaceDisposed) {
		t.Errorf("got %v, want ErrSurfaceDisposed", err)
	}
}
