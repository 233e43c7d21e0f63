// Package crop trims a document's canvas to a marquee rectangle.
package crop

import (
	"errors"
	"math"
	"sync"

	"invitecanvas/core"
)

// MinSize is the smallest marquee side in pixels.
const MinSize = 10

var ErrNotSelecting = errors.New("crop tool is not selecting")

// State of a Tool.
type State int

const (
	Inactive State = iota
	Selecting
	Applied
	Cancelled
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Selecting:
		return "selecting"
	case Applied:
		return "applied"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Rect is a marquee in canvas coordinates.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Tool is a single crop interaction. Begin clones the document; the source
// is never modified.
type Tool struct {
	mu      sync.Mutex
	state   State
	doc     *core.Snapshot
	marquee Rect
}

func (t *Tool) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Marquee returns the current selection.
func (t *Tool) Marquee() Rect {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.marquee
}

// Begin starts selecting on a copy of snap with a marquee covering the
// whole canvas. Beginning again discards the previous selection.
func (t *Tool) Begin(snap *core.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc = snap.Clone()
	t.marquee = Rect{W: float64(snap.Width), H: float64(snap.Height)}
	t.state = Selecting
	return nil
}

// SetMarquee moves or resizes the selection. The rectangle is normalized,
// clamped to the canvas and grown to MinSize; the applied value is returned.
func (t *Tool) SetMarquee(r Rect) (Rect, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Selecting {
		return Rect{}, ErrNotSelecting
	}
	t.marquee = clamp(r, float64(t.doc.Width), float64(t.doc.Height))
	return t.marquee, nil
}

// Apply returns a new document whose canvas is the marquee. Every object
// and the background image keep their place relative to the content.
func (t *Tool) Apply() (*core.Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Selecting {
		return nil, ErrNotSelecting
	}

	out, m := t.doc, t.marquee
	for i := range out.Objects {
		out.Objects[i].Left -= m.X
		out.Objects[i].Top -= m.Y
	}
	if bg := out.BackgroundImage; bg != nil {
		bg.Left -= m.X
		bg.Top -= m.Y
	}
	out.Width = int(math.Round(m.W))
	out.Height = int(math.Round(m.H))

	t.doc = nil
	t.state = Applied
	return out, nil
}

// Cancel ends the selection without producing a document.
func (t *Tool) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Selecting {
		return ErrNotSelecting
	}
	t.doc = nil
	t.marquee = Rect{}
	t.state = Cancelled
	return nil
}

func clamp(r Rect, width, height float64) Rect {
	if r.W < 0 {
		r.X, r.W = r.X+r.W, -r.W
	}
	if r.H < 0 {
		r.Y, r.H = r.Y+r.H, -r.H
	}
	x0, x1 := span(r.X, r.X+r.W, width)
	y0, y1 := span(r.Y, r.Y+r.H, height)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// span clamps [lo, hi] into [0, limit] and widens it to MinSize, shifting
// it back inside when it would overflow.
func span(lo, hi, limit float64) (float64, float64) {
	lo = math.Max(0, math.Min(lo, limit))
	hi = math.Max(0, math.Min(hi, limit))
	least := math.Min(MinSize, limit)
	if hi-lo < least {
		hi = lo + least
		if hi > limit {
			hi = limit
			lo = limit - least
		}
	}
	return lo, hi
}
