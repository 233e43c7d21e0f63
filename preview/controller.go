// Package preview renders one guest at a time for an interactive viewer.
package preview

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"invitecanvas/core"
	"invitecanvas/pipeline"
	"invitecanvas/render"
)

var (
	ErrClosed   = errors.New("preview is closed")
	ErrNoGuests = errors.New("preview needs at least one guest")
)

// State of a Controller.
type State int

const (
	Closed State = iota
	Opening
	Ready
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Runner renders one guest onto a caller-owned surface.
type Runner interface {
	RunOn(ctx context.Context, surface pipeline.Drawer, snap *core.Snapshot, guest core.Guest) (*pipeline.Output, error)
}

// Frame is a finished preview.
type Frame struct {
	Generation    uint64
	Index         int
	Guest         core.Guest
	PNG           []byte
	Payloads      []string
	AssetFailures int
}

// Controller keeps at most one render in flight for the selected guest.
// Every render is tagged with a generation; a completion whose generation
// is no longer current is dropped.
type Controller struct {
	runner  Runner
	fonts   *render.FontBook
	onReady func(*Frame, error)

	mu         sync.Mutex
	state      State
	base       context.Context
	snap       *core.Snapshot
	guests     []core.Guest
	index      int
	generation uint64
	cancel     context.CancelFunc
	surface    *render.Surface
	frame      *Frame
	err        error
	changed    chan struct{}
}

// NewController creates a closed controller.
func NewController(runner Runner, fonts *render.FontBook) *Controller {
	return &Controller{runner: runner, fonts: fonts, changed: make(chan struct{})}
}

// OnReady registers fn to be called with every applied result. It runs on
// the render goroutine.
func (c *Controller) OnReady(fn func(*Frame, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReady = fn
}

// Open captures snap and starts rendering guests[start] on a new surface.
// An open controller is closed first.
func (c *Controller) Open(ctx context.Context, snap *core.Snapshot, guests []core.Guest, start int) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if len(guests) == 0 {
		return ErrNoGuests
	}
	if start < 0 || start >= len(guests) {
		return fmt.Errorf("guest index %d out of range [0, %d)", start, len(guests))
	}
	c.Close()

	surface, err := render.NewSurface(snap.Width, snap.Height, c.fonts)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = ctx
	c.snap = snap.Clone()
	c.guests = append([]core.Guest(nil), guests...)
	c.index = start
	c.surface = surface
	c.startLocked()
	return nil
}

// Next moves to the following guest, wrapping around.
func (c *Controller) Next() error { return c.move(1) }

// Prev moves to the previous guest, wrapping around.
func (c *Controller) Prev() error { return c.move(-1) }

func (c *Controller) move(delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return ErrClosed
	}
	n := len(c.guests)
	c.index = ((c.index+delta)%n + n) % n
	c.startLocked()
	return nil
}

// Select jumps to guest i.
func (c *Controller) Select(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return ErrClosed
	}
	if i < 0 || i >= len(c.guests) {
		return fmt.Errorf("guest index %d out of range [0, %d)", i, len(c.guests))
	}
	c.index = i
	c.startLocked()
	return nil
}

// Close cancels the in-flight render and disposes the surface. Closing a
// closed controller does nothing.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	surface := c.surface
	c.surface, c.snap, c.guests, c.frame, c.err = nil, nil, nil, nil, nil
	c.state = Closed
	c.signalLocked()
	c.mu.Unlock()

	// Dispose waits for a draw in progress to return.
	surface.Dispose()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the applied frame and the error of the current
// generation. Both are nil while a render is in flight.
func (c *Controller) Current() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return nil, ErrClosed
	}
	return c.frame, c.err
}

// Wait blocks until the current generation is ready, the controller is
// closed, or ctx is done.
func (c *Controller) Wait(ctx context.Context) (*Frame, error) {
	for {
		c.mu.Lock()
		switch c.state {
		case Ready:
			frame, err := c.frame, c.err
			c.mu.Unlock()
			return frame, err
		case Closed:
			c.mu.Unlock()
			return nil, ErrClosed
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Controller) startLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	gen := c.generation
	ctx, cancel := context.WithCancel(c.base)
	c.cancel = cancel
	c.state = Opening
	c.frame, c.err = nil, nil
	c.signalLocked()

	surface, snap, index, guest := c.surface, c.snap, c.index, c.guests[c.index]
	go func() {
		out, err := c.runner.RunOn(ctx, surface, snap, guest)
		c.complete(gen, index, out, err)
	}()
}

func (c *Controller) complete(gen uint64, index int, out *pipeline.Output, err error) {
	c.mu.Lock()
	if gen != c.generation || c.state == Closed {
		c.mu.Unlock()
		logrus.WithFields(logrus.Fields{"generation": gen, "guest_index": index}).Debug("Dropping stale preview")
		return
	}

	c.cancel()
	c.cancel = nil
	c.state = Ready
	if err != nil {
		c.err = err
		logrus.WithField("guest_index", index).WithError(err).Warn("Preview render failed")
	} else {
		c.frame = &Frame{
			Generation:    gen,
			Index:         index,
			Guest:         out.Guest,
			PNG:           out.PNG,
			Payloads:      out.Payloads,
			AssetFailures: out.AssetFailures,
		}
	}
	frame, onReady := c.frame, c.onReady
	c.signalLocked()
	c.mu.Unlock()

	if onReady != nil {
		onReady(frame, err)
	}
}

func (c *Controller) signalLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
