package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDocument is returned when a pipeline call has no source document.
	ErrNoDocument = errors.New("source document is missing")

	// ErrCancelled marks a job stopped by its owner. It is a terminal state, not a failure.
	ErrCancelled = errors.New("job cancelled")

	// ErrUnsettledImages is returned when rendering is attempted before every
	// image load of a resolved document has settled.
	ErrUnsettledImages = errors.New("document images have not settled")

	// ErrNotFound is returned by stores for a missing template or guest.
	ErrNotFound = errors.New("not found")
)

// AssetResolutionError records one image that could not be regenerated or
// loaded. It is recovered locally and never fails a guest.
type AssetResolutionError struct {
	Index   int // object index, -1 for the background image
	Src     string
	Payload string
	Err     error
}

func (e *AssetResolutionError) Error() string {
	if e.Payload != "" {
		return fmt.Sprintf("asset %d: regenerate QR %q: %v", e.Index, e.Payload, e.Err)
	}
	return fmt.Sprintf("asset %d: load %q: %v", e.Index, e.Src, e.Err)
}

func (e *AssetResolutionError) Unwrap() error { return e.Err }

// GuestRenderError records a guest whose document could not be produced.
// Batches skip the guest and continue.
type GuestRenderError struct {
	GuestID   string
	GuestName string
	Err       error
}

func (e *GuestRenderError) Error() string {
	return fmt.Sprintf("guest %s (%s): %v", e.GuestID, e.GuestName, e.Err)
}

func (e *GuestRenderError) Unwrap() error { return e.Err }

// ArchiveError is fatal to a whole export job.
type ArchiveError struct {
	Err error
}

func (e *ArchiveError) Error() string { return "archive: " + e.Err.Error() }

func (e *ArchiveError) Unwrap() error { return e.Err }
