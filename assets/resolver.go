package assets

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"invitecanvas/core"
	"invitecanvas/personalize"
)

// DefaultConcurrency bounds the image loads of one document.
const DefaultConcurrency = 8

var errNoQRGenerator = errors.New("no QR generator configured")

// Resolver regenerates the dynamic QR images of a substituted document and
// decodes every other image it refers to.
type Resolver struct {
	QR          QRGenerator
	Loader      Loader
	Concurrency int
}

// NewResolver creates a resolver. A nil loader defaults to an HTTPLoader.
func NewResolver(qr QRGenerator, loader Loader, concurrency int) *Resolver {
	if loader == nil {
		loader = NewHTTPLoader(defaultTimeout)
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Resolver{QR: qr, Loader: loader, Concurrency: concurrency}
}

// Resolve fans out one task per QR object, static image and background
// image, and returns once all of them have settled. A failed QR keeps the
// object's previous image; failures are recorded on the result, not returned.
// The only errors are a missing document and context cancellation.
func (r *Resolver) Resolve(ctx context.Context, pending *personalize.Pending) (*core.Resolved, error) {
	if pending == nil || pending.Doc == nil {
		return nil, core.ErrNoDocument
	}

	doc := pending.Doc
	res := core.NewResolved(doc)
	log := logrus.WithFields(logrus.Fields{
		"guest_id":   pending.Guest.ID,
		"guest_name": pending.Guest.Name,
	})

	tasks := make(map[int]personalize.QRTask, len(pending.Tasks))
	for _, task := range pending.Tasks {
		tasks[task.Index] = task
		res.Payloads = append(res.Payloads, task.Payload)
	}

	var mu sync.Mutex
	settle := func(index int, img image.Image, failure *core.AssetResolutionError) {
		mu.Lock()
		defer mu.Unlock()
		if img != nil {
			if index < 0 {
				res.Background = img
			} else {
				res.Bitmaps[index] = img
			}
		}
		if failure != nil {
			res.Failures = append(res.Failures, failure)
		}
	}

	var g errgroup.Group
	if r.Concurrency > 0 {
		g.SetLimit(r.Concurrency)
	}

	for i := range doc.Objects {
		img, ok := doc.Objects[i].Content.(*core.Image)
		if !ok {
			continue
		}
		index := i
		if task, dynamic := tasks[index]; dynamic {
			g.Go(func() error {
				r.regenerate(ctx, log, img, task, settle)
				return nil
			})
			continue
		}
		src := img.Src
		g.Go(func() error {
			r.load(ctx, log, index, src, settle)
			return nil
		})
	}

	if bg := doc.BackgroundImage; bg != nil && bg.Src != "" {
		src := bg.Src
		g.Go(func() error {
			r.load(ctx, log, -1, src, settle)
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.MarkSettled()
	if len(res.Failures) > 0 {
		log.WithField("failures", len(res.Failures)).Warn("Document resolved with asset fallbacks")
	} else {
		log.Debug("Document resolved")
	}
	return res, nil
}

func (r *Resolver) regenerate(ctx context.Context, log *logrus.Entry, img *core.Image, task personalize.QRTask, settle func(int, image.Image, *core.AssetResolutionError)) {
	var (
		src    string
		bitmap image.Image
		err    = errNoQRGenerator
	)
	if r.QR != nil {
		src, bitmap, err = r.QR.Generate(ctx, task.Payload)
	}
	if err == nil {
		img.Src = src
		settle(task.Index, bitmap, nil)
		return
	}

	failure := &core.AssetResolutionError{
		Index:   task.Index,
		Src:     task.PreviousSrc,
		Payload: task.Payload,
		Err:     err,
	}
	log.WithFields(logrus.Fields{
		"object_index": task.Index,
		"payload":      task.Payload,
		"error":        err,
	}).Warn("QR regeneration failed, keeping previous image")
	settle(task.Index, nil, failure)

	if task.PreviousSrc != "" {
		r.load(ctx, log, task.Index, task.PreviousSrc, settle)
	}
}

func (r *Resolver) load(ctx context.Context, log *logrus.Entry, index int, src string, settle func(int, image.Image, *core.AssetResolutionError)) {
	bitmap, err := r.Loader.Load(ctx, src)
	if err != nil {
		log.WithFields(logrus.Fields{
			"object_index": index,
			"src":          truncate(src, 96),
			"error":        err,
		}).Warn("Image load failed")
		settle(index, nil, &core.AssetResolutionError{Index: index, Src: src, Err: err})
		return
	}
	settle(index, bitmap, nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
