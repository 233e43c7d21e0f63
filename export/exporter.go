// Package export drives the per-guest pipeline across a guest list, for
// bulk download and for email delivery.
package export

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"invitecanvas/core"
	"invitecanvas/pipeline"
)

type (
	// Source is the live document a job reads once at start and restores at
	// the end.
	Source interface {
		Snapshot() *core.Snapshot
		Restore(snap *core.Snapshot)
	}

	// Runner produces one guest's bitmap.
	Runner interface {
		Run(ctx context.Context, snap *core.Snapshot, guest core.Guest) (*pipeline.Output, error)
	}
)

// Exporter renders a whole guest list into one archive.
type Exporter struct {
	runner      Runner
	folder      string
	newPackager func(folder string) Packager
}

// NewExporter creates an exporter writing entries under folder.
func NewExporter(runner Runner, folder string) *Exporter {
	return &Exporter{
		runner: runner,
		folder: folder,
		newPackager: func(folder string) Packager {
			return NewArchive(folder)
		},
	}
}

// ExportAll renders every guest in order and packages the bitmaps. A guest
// that fails is recorded and skipped. Cancelling ctx stops the job before
// the next guest and still finalizes the archive with what was produced.
// The source is restored in every case. The only errors returned are a
// missing or invalid document and an *core.ArchiveError.
func (e *Exporter) ExportAll(ctx context.Context, src Source, guests []core.Guest, onProgress func(Progress)) (*Result, error) {
	snap, err := capture(src)
	if err != nil {
		return nil, err
	}
	defer src.Restore(snap)

	archive := e.newPackager(e.folder)
	names := entryNames{}
	result := &Result{State: Running, Total: len(guests)}

	log := logrus.WithField("guests", len(guests))
	log.Info("Starting batch export")

	for i, guest := range guests {
		if ctx.Err() != nil {
			result.State = Cancelled
			result.Skipped = len(guests) - i
			break
		}

		glog := log.WithFields(logrus.Fields{"guest_id": guest.ID, "guest_name": guest.Name})
		out, err := e.runner.Run(ctx, snap, guest)
		if err != nil && isCancel(ctx, err) {
			result.State = Cancelled
			result.Skipped = len(guests) - i
			break
		}

		p := progressAt(i+1, len(guests))
		p.GuestID, p.GuestName = guest.ID, guest.Name

		if err != nil {
			glog.WithError(err).Error("Guest export failed")
			result.Failed++
			result.Failures = append(result.Failures, GuestFailure{GuestID: guest.ID, GuestName: guest.Name, Error: err.Error()})
			p.Failed = true
		} else {
			name := names.next(guest.Name)
			if err := archive.Add(name, out.PNG); err != nil {
				result.State = Failed
				log.WithError(err).Error("Archive write failed")
				return result, &core.ArchiveError{Err: err}
			}
			result.Sent++
			result.AssetFailures += out.AssetFailures
			result.Entries = append(result.Entries, name)
		}

		if onProgress != nil {
			onProgress(p)
		}
	}

	data, err := archive.Close()
	if err != nil {
		result.State = Failed
		log.WithError(err).Error("Archive finalization failed")
		return result, &core.ArchiveError{Err: err}
	}
	result.Archive = data
	if result.State == Running {
		result.State = Completed
	}

	log.WithFields(logrus.Fields{
		"state":   result.State,
		"sent":    result.Sent,
		"failed":  result.Failed,
		"skipped": result.Skipped,
	}).Info("Batch export finished")
	return result, nil
}

func capture(src Source) (*core.Snapshot, error) {
	if src == nil {
		return nil, core.ErrNoDocument
	}
	snap := src.Snapshot()
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

func isCancel(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
