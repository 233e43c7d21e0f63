package assets

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"invitecanvas/core"
	"invitecanvas/personalize"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// qrService records payloads and serves a green square for each one, except
// for payloads listed in fail.
type qrService struct {
	mu       sync.Mutex
	payloads []string
	fail     map[string]bool
	image    []byte
}

func (s *qrService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload := r.URL.Query().Get("data")
	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	s.mu.Unlock()
	if s.fail[payload] {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(s.image)
}

func newFixtureServer(t *testing.T, qr *qrService) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/qr", qr)
	mux.HandleFunc("/static/old.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes(t, 20, 20, color.NRGBA{R: 255, A: 255}))
	})
	mux.HandleFunc("/static/bg.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes(t, 40, 30, color.NRGBA{B: 255, A: 255}))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func qrDocument(base string, templates ...string) *core.Snapshot {
	snap := &core.Snapshot{
		Width:  300,
		Height: 200,
		BackgroundImage: &core.BackgroundImage{
			Src: base + "/static/bg.png", ScaleX: 1, ScaleY: 1,
		},
	}
	for i, tpl := range templates {
		snap.Objects = append(snap.Objects, core.Object{
			Geometry: core.Geometry{Left: float64(10 * i), Top: 5, ScaleX: 0.5, ScaleY: 0.5, Angle: 12},
			Content:  &core.Image{Src: base + "/static/old.png", Width: 200, Height: 200, QRTemplate: tpl},
		})
	}
	return snap
}

func TestResolve_RegeneratesQR(t *testing.T) {
	qr := &qrService{image: pngBytes(t, 200, 200, color.NRGBA{G: 255, A: 255})}
	srv := newFixtureServer(t, qr)
	loader := NewHTTPLoader(time.Second)
	resolver := NewResolver(NewHTTPQR(srv.URL+"/qr", 200, loader), loader, 4)

	snap := qrDocument(srv.URL, "https://rsvp/{guest_name}")
	pending, err := personalize.Substitute(snap, core.Guest{ID: "g1", Name: "Ana Silva"})
	if err != nil {
		t.Fatalf("Substitute() failed: %v", err)
	}

	res, err := resolver.Resolve(context.Background(), pending)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if !res.Settled() {
		t.Fatal("resolved document should be settled")
	}
	if len(res.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", res.Failures)
	}
	if len(qr.payloads) != 1 || qr.payloads[0] != "https://rsvp/Ana Silva" {
		t.Errorf("QR service payloads mismatch: %q", qr.payloads)
	}

	img := res.Doc.Objects[0].Content.(*core.Image)
	if !strings.HasPrefix(img.Src, srv.URL+"/qr?") {
		t.Errorf("QR object source not replaced: %q", img.Src)
	}
	if img.QRTemplate != "https://rsvp/{guest_name}" {
		t.Errorf("QR template lost: %q", img.QRTemplate)
	}
	if res.Doc.Objects[0].Geometry != snap.Objects[0].Geometry {
		t.Errorf("geometry changed: %+v -> %+v", snap.Objects[0].Geometry, res.Doc.Objects[0].Geometry)
	}
	bitmap, ok := res.Bitmap(0)
	if !ok || bitmap.Bounds().Dx() != 200 {
		t.Errorf("QR bitmap missing or wrong size: %v", ok)
	}
	if res.Background == nil {
		t.Error("background image not resolved")
	}
}

func TestResolve_FailedQRKeepsPreviousImage(t *testing.T) {
	qr := &qrService{
		image: pngBytes(t, 200, 200, color.NRGBA{G: 255, A: 255}),
		fail:  map[string]bool{"https://rsvp/Ana": true},
	}
	srv := newFixtureServer(t, qr)
	loader := NewHTTPLoader(time.Second)
	resolver := NewResolver(NewHTTPQR(srv.URL+"/qr", 200, loader), loader, 4)

	snap := qrDocument(srv.URL, "https://rsvp/{guest_name}", "https://maps/{guest_name}")
	pending, _ := personalize.Substitute(snap, core.Guest{Name: "Ana"})

	res, err := resolver.Resolve(context.Background(), pending)
	if err != nil {
		t.Fatalf("Resolve() should not fail for an asset error: %v", err)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("failure count mismatch: got %d, want 1", len(res.Failures))
	}
	var assetErr *core.AssetResolutionError
	if !errors.As(res.Failures[0], &assetErr) || assetErr.Index != 0 {
		t.Errorf("unexpected failure: %v", res.Failures[0])
	}

	failed := res.Doc.Objects[0].Content.(*core.Image)
	if failed.Src != srv.URL+"/static/old.png" {
		t.Errorf("failed QR should keep its previous source, got %q", failed.Src)
	}
	bitmap, ok := res.Bitmap(0)
	if !ok || bitmap.Bounds().Dx() != 20 {
		t.Error("failed QR should be painted with its previous image")
	}

	if _, ok := res.Bitmap(1); !ok {
		t.Error("the other QR object should still resolve")
	}
	if res.Doc.Objects[1].Content.(*core.Image).Src == srv.URL+"/static/old.png" {
		t.Error("the other QR object should be regenerated")
	}
}

func TestResolve_RunsQRRegenerationsConcurrently(t *testing.T) {
	const n = 3
	var arrived atomic.Int32
	release := make(chan struct{})
	img := pngBytes(t, 10, 10, color.Black)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if arrived.Add(1) == n {
			close(release)
		}
		select {
		case <-release:
			w.Write(img)
		case <-time.After(2 * time.Second):
			http.Error(w, "requests were not concurrent", http.StatusGatewayTimeout)
		}
	}))
	defer srv.Close()

	loader := NewHTTPLoader(5 * time.Second)
	resolver := NewResolver(NewHTTPQR(srv.URL, 10, loader), loader, n)

	snap := &core.Snapshot{Width: 10, Height: 10}
	for i := 0; i < n; i++ {
		snap.Objects = append(snap.Objects, core.Object{
			Geometry: core.Geometry{ScaleX: 1, ScaleY: 1},
			Content:  &core.Image{QRTemplate: "{guest_name}-" + string(rune('a'+i))},
		})
	}
	pending, _ := personalize.Substitute(snap, core.Guest{Name: "x"})

	res, err := resolver.Resolve(context.Background(), pending)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if len(res.Failures) != 0 {
		t.Errorf("regenerations were serialized: %v", res.Failures)
	}
}

func TestResolve_CancelledContext(t *testing.T) {
	loader := NewHTTPLoader(time.Second)
	resolver := NewResolver(NewLocalQR(64), loader, 2)
	snap := &core.Snapshot{Width: 10, Height: 10, Objects: []core.Object{
		{Geometry: core.Geometry{ScaleX: 1, ScaleY: 1}, Content: &core.Image{QRTemplate: "{guest_name}"}},
	}}
	pending, _ := personalize.Substitute(snap, core.Guest{Name: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := resolver.Resolve(ctx, pending); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestResolve_NilPending(t *testing.T) {
	resolver := NewResolver(nil, nil, 0)
	if _, err := resolver.Resolve(context.Background(), nil); !errors.Is(err, core.ErrNoDocument) {
		t.Errorf("got %v, want ErrNoDocument", err)
	}
}

func TestLocalQR_Generate(t *testing.T) {
	src, img, err := NewLocalQR(128).Generate(context.Background(), "https://rsvp/Ana Silva")
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if !strings.HasPrefix(src, "data:image/png;base64,") {
		t.Errorf("unexpected src prefix: %.30s", src)
	}
	if img.Bounds().Dx() != 128 {
		t.Errorf("QR size mismatch: got %d, want 128", img.Bounds().Dx())
	}

	decoded, err := NewHTTPLoader(time.Second).Load(context.Background(), src)
	if err != nil {
		t.Fatalf("data URL should be loadable: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("decoded bounds mismatch: %v vs %v", decoded.Bounds(), img.Bounds())
	}
}

func TestHTTPQR_URL(t *testing.T) {
	q := NewHTTPQR("https://qr.example/create?format=png", 200, nil)
	got, err := q.URL("https://rsvp/Ana Silva")
	if err != nil {
		t.Fatalf("URL() failed: %v", err)
	}
	want := "https://qr.example/create?data=https%3A%2F%2Frsvp%2FAna+Silva&format=png&size=200x200"
	if got != want {
		t.Errorf("URL mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestHTTPLoader_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("not an image"))
	}))
	defer srv.Close()

	loader := NewHTTPLoader(time.Second)
	ctx := context.Background()
	if _, err := loader.Load(ctx, ""); !errors.Is(err, ErrEmptySource) {
		t.Errorf("empty src: got %v", err)
	}
	if _, err := loader.Load(ctx, "ftp://example/x.png"); !errors.Is(err, ErrUnsupportedSource) {
		t.Errorf("ftp src: got %v", err)
	}
	if _, err := loader.Load(ctx, srv.URL+"/missing"); err == nil {
		t.Error("404 should fail")
	}
	if _, err := loader.Load(ctx, srv.URL+"/garbage"); err == nil {
		t.Error("undecodable body should fail")
	}
}

type countingLoader struct {
	calls atomic.Int32
	img   image.Image
}

func (l *countingLoader) Load(ctx context.Context, src string) (image.Image, error) {
	l.calls.Add(1)
	if src == "bad" {
		return nil, errors.New("bad source")
	}
	return l.img, nil
}

func TestCache_LoadsOncePerSource(t *testing.T) {
	inner := &countingLoader{img: image.NewNRGBA(image.Rect(0, 0, 1, 1))}
	cache := NewCache(inner, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cache.Load(ctx, "a"); err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("inner loader calls: got %d, want 1", got)
	}

	cache.Load(ctx, "b")
	cache.Load(ctx, "c")
	if cache.Len() != 2 {
		t.Errorf("cache should be bounded to 2 entries, got %d", cache.Len())
	}
	cache.Load(ctx, "a")
	if got := inner.calls.Load(); got != 4 {
		t.Errorf("evicted entry should be reloaded: got %d calls, want 4", got)
	}

	if _, err := cache.Load(ctx, "bad"); err == nil {
		t.Error("errors should propagate")
	}
	cache.Load(ctx, "bad")
	if got := inner.calls.Load(); got != 6 {
		t.Errorf("failures must not be cached: got %d calls, want 6", got)
	}
}

type gatedLoader struct {
	started chan struct{}
	release chan struct{}
	img     image.Image
}

func (l *gatedLoader) Load(ctx context.Context, src string) (image.Image, error) {
	close(l.started)
	select {
	case <-l.release:
		return l.img, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	inner := &gatedLoader{
		started: make(chan struct{}),
		release: make(chan struct{}),
		img:     image.NewNRGBA(image.Rect(0, 0, 1, 1)),
	}
	cache := NewCache(inner, 4)

	previewCtx, cancelPreview := context.WithCancel(context.Background())
	previewErr := make(chan error, 1)
	go func() {
		_, err := cache.Load(previewCtx, "https://cdn.example/bg.png")
		previewErr <- err
	}()
	<-inner.started

	exportErr := make(chan error, 1)
	go func() {
		_, err := cache.Load(context.Background(), "https://cdn.example/bg.png")
		exportErr <- err
	}()

	cancelPreview()
	if err := <-previewErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller: got %v, want context.Canceled", err)
	}

	close(inner.release)
	select {
	case err := <-exportErr:
		if err != nil {
			t.Fatalf("caller with a live context failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("load did not finish")
	}
	if cache.Len() != 1 {
		t.Errorf("shared load should be cached, got %d entries", cache.Len())
	}
}
