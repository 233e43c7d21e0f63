// Package pipeline runs substitution, asset resolution and rendering for one guest.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"invitecanvas/assets"
	"invitecanvas/core"
	"invitecanvas/personalize"
	"invitecanvas/render"
)

type (
	// Resolver turns a substituted document into one whose images have settled.
	Resolver interface {
		Resolve(ctx context.Context, pending *personalize.Pending) (*core.Resolved, error)
	}

	// Renderer rasterizes a resolved document on a surface it owns.
	Renderer interface {
		Render(ctx context.Context, res *core.Resolved, w, h int) ([]byte, error)
	}

	// Drawer is a surface kept by the caller across renders.
	Drawer interface {
		Draw(ctx context.Context, res *core.Resolved) ([]byte, error)
	}
)

// Output is the personalized bitmap of one guest.
type Output struct {
	Guest    core.Guest
	PNG      []byte
	Payloads []string

	// AssetFailures counts images that fell back or were left unpainted.
	AssetFailures int
	Failures      []*core.AssetResolutionError
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithResolver sets the asset resolver.
func WithResolver(r Resolver) Option {
	return func(p *Pipeline) { p.resolver = r }
}

// WithRenderer sets the renderer used by Run.
func WithRenderer(r Renderer) Option {
	return func(p *Pipeline) { p.renderer = r }
}

// Pipeline produces guest bitmaps from a document snapshot. It holds no
// per-run state and may be shared.
type Pipeline struct {
	resolver Resolver
	renderer Renderer
}

// New creates a pipeline. Without options it regenerates QR codes locally
// and renders with the Go fonts.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}
	if p.resolver == nil {
		p.resolver = assets.NewResolver(assets.NewLocalQR(assets.DefaultQRSize), nil, 0)
	}
	if p.renderer == nil {
		fonts, err := render.NewFontBook()
		if err != nil {
			// The embedded Go fonts always parse.
			panic(err)
		}
		p.renderer = render.NewRenderer(fonts)
	}
	return p
}

// Run personalizes snap for guest and renders it on a throwaway surface at
// the canvas size.
func (p *Pipeline) Run(ctx context.Context, snap *core.Snapshot, guest core.Guest) (*Output, error) {
	return p.run(ctx, snap, guest, func(res *core.Resolved) ([]byte, error) {
		return p.renderer.Render(ctx, res, res.Doc.Width, res.Doc.Height)
	})
}

// RunOn is Run drawing onto a surface the caller owns.
func (p *Pipeline) RunOn(ctx context.Context, surface Drawer, snap *core.Snapshot, guest core.Guest) (*Output, error) {
	if surface == nil {
		return nil, errors.New("no surface to draw on")
	}
	return p.run(ctx, snap, guest, func(res *core.Resolved) ([]byte, error) {
		return surface.Draw(ctx, res)
	})
}

// Cancellation and a missing or invalid document are returned as is; every
// other failure is wrapped in a GuestRenderError.
func (p *Pipeline) run(ctx context.Context, snap *core.Snapshot, guest core.Guest, draw func(*core.Resolved) ([]byte, error)) (*Output, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pending, err := personalize.Substitute(snap, guest)
	if err != nil {
		return nil, err
	}

	res, err := p.resolver.Resolve(ctx, pending)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &core.GuestRenderError{GuestID: guest.ID, GuestName: guest.Name, Err: fmt.Errorf("resolve assets: %w", err)}
	}

	png, err := draw(res)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &core.GuestRenderError{GuestID: guest.ID, GuestName: guest.Name, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"guest_id":       guest.ID,
		"guest_name":     guest.Name,
		"bytes":          len(png),
		"asset_failures": len(res.Failures),
	}).Debug("Rendered guest document")

	return &Output{
		Guest:         guest,
		PNG:           png,
		Payloads:      res.Payloads,
		AssetFailures: len(res.Failures),
		Failures:      res.Failures,
	}, nil
}
