package core

import "image"

// Resolved is a per-guest document whose placeholders are substituted and
// whose images are decoded. It may only be rendered once settled.
type Resolved struct {
	Doc        *Snapshot
	Bitmaps    map[int]image.Image
	Background image.Image
	Payloads   []string
	Failures   []*AssetResolutionError

	settled bool
}

// NewResolved wraps a substituted document awaiting its images.
func NewResolved(doc *Snapshot) *Resolved {
	return &Resolved{Doc: doc, Bitmaps: make(map[int]image.Image)}
}

// MarkSettled records that every image load has finished, successfully or not.
func (r *Resolved) MarkSettled() { r.settled = true }

// Settled reports whether the document passed its image barrier.
func (r *Resolved) Settled() bool { return r != nil && r.settled }

// Bitmap returns the decoded image for the object at index i, if any.
func (r *Resolved) Bitmap(i int) (image.Image, bool) {
	img, ok := r.Bitmaps[i]
	return img, ok && img != nil
}
