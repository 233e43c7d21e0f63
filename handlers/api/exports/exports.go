// Package exports starts and tracks batch jobs over a template's guest list
// and serves single-guest previews.
package exports

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"invitecanvas/core"
	"invitecanvas/editor"
	"invitecanvas/export"
	"invitecanvas/middleware"
)

type (
	// Store lists a template's guests. Templates are reached through the
	// editor sessions.
	Store interface {
		ListGuests(ctx context.Context, templateID string) ([]core.Guest, error)
	}

	// Exporter packages every guest into one archive.
	Exporter interface {
		ExportAll(ctx context.Context, src export.Source, guests []core.Guest, onProgress func(export.Progress)) (*export.Result, error)
	}

	// Sender delivers every guest's invitation by email.
	Sender interface {
		SendAll(ctx context.Context, src export.Source, guests []core.Guest, onProgress func(export.Progress)) (*export.Result, error)
	}
)

// jobRequest optionally narrows a job to some guests.
type jobRequest struct {
	GuestIDs []string `json:"guestIds"`
}

func fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := middleware.Claims(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "User claims not found")
		return "", false
	}
	return claims.Subject, true
}

// load opens the live document of the route's template and its guests.
func load(w http.ResponseWriter, r *http.Request, store Store, sessions *editor.Registry) (userID string, session *editor.Session, list []core.Guest, ok bool) {
	userID, ok = callerID(w, r)
	if !ok {
		return "", nil, nil, false
	}
	key := chi.URLParam(r, "key")
	log := logrus.WithFields(logrus.Fields{"userID": userID, "key": key})

	session, err := sessions.Open(r.Context(), userID, key)
	switch {
	case errors.Is(err, core.ErrNotFound):
		fail(w, r, http.StatusNotFound, "Template not found")
		return "", nil, nil, false
	case errors.Is(err, core.ErrNoDocument):
		fail(w, r, http.StatusUnprocessableEntity, "Template has no document")
		return "", nil, nil, false
	case err != nil:
		log.WithError(err).Error("Failed to open template")
		fail(w, r, http.StatusInternalServerError, "Failed to open template")
		return "", nil, nil, false
	}

	list, err = store.ListGuests(r.Context(), key)
	if err != nil {
		log.WithError(err).Error("Failed to list guests")
		fail(w, r, http.StatusInternalServerError, "Failed to list guests")
		return "", nil, nil, false
	}
	return userID, session, list, true
}

// selectGuests keeps the requested guests in list order. No IDs means all.
func selectGuests(list []core.Guest, ids []string) ([]core.Guest, error) {
	if len(ids) == 0 {
		return list, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []core.Guest
	for _, g := range list {
		if want[g.ID] {
			out = append(out, g)
			delete(want, g.ID)
		}
	}
	for _, id := range ids {
		if want[id] {
			return nil, fmt.Errorf("guest %s: %w", id, core.ErrNotFound)
		}
	}
	return out, nil
}

// start holds the session for the lifetime of the job so edits cannot race
// the batch.
func start(w http.ResponseWriter, r *http.Request, store Store, sessions *editor.Registry, jobs *export.Jobs, kind export.Kind,
	run func(ctx context.Context, src export.Source, guests []core.Guest, onProgress func(export.Progress)) (*export.Result, error)) {
	userID, session, list, ok := load(w, r, store, sessions)
	if !ok {
		return
	}

	var req jobRequest
	if r.ContentLength > 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			fail(w, r, http.StatusBadRequest, "Invalid job request")
			return
		}
	}
	selected, err := selectGuests(list, req.GuestIDs)
	if err != nil {
		fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(selected) == 0 {
		fail(w, r, http.StatusBadRequest, "Template has no guests")
		return
	}

	release := session.Hold()
	job := jobs.Start(kind, userID, session.TemplateID(), func(ctx context.Context, onProgress func(export.Progress)) (*export.Result, error) {
		defer release()
		return run(ctx, session, selected, onProgress)
	})

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, job.Status())
}

func HandleStartExport(store Store, sessions *editor.Registry, jobs *export.Jobs, exporter Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start(w, r, store, sessions, jobs, export.KindExport, exporter.ExportAll)
	}
}

func HandleStartSend(store Store, sessions *editor.Registry, jobs *export.Jobs, sender Sender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start(w, r, store, sessions, jobs, export.KindSend, sender.SendAll)
	}
}

// ownJob finds the route's job if the caller started it.
func ownJob(w http.ResponseWriter, r *http.Request, jobs *export.Jobs) (*export.Job, bool) {
	userID, ok := callerID(w, r)
	if !ok {
		return nil, false
	}
	job, ok := jobs.Get(chi.URLParam(r, "jobID"))
	if !ok || job.Owner() != userID {
		fail(w, r, http.StatusNotFound, "Job not found")
		return nil, false
	}
	return job, true
}

func HandleGetJob(jobs *export.Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownJob(w, r, jobs)
		if !ok {
			return
		}
		render.JSON(w, r, job.Status())
	}
}

// HandleCancelJob stops a running job before its next guest. A finished job
// is forgotten along with its archive.
func HandleCancelJob(jobs *export.Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownJob(w, r, jobs)
		if !ok {
			return
		}
		st := job.Status()
		if st.State.Terminal() {
			jobs.Forget(job.ID())
		} else {
			jobs.Cancel(job.ID())
		}
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, st)
	}
}

func HandleGetArchive(jobs *export.Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := ownJob(w, r, jobs)
		if !ok {
			return
		}
		data, ok := job.Archive()
		if !ok {
			fail(w, r, http.StatusConflict, "Job has no archive yet")
			return
		}

		st := job.Status()
		name := export.SanitizeName(st.TemplateID) + ".zip"
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}

// HandlePreview renders one guest's invitation from the live document.
func HandlePreview(store Store, sessions *editor.Registry, runner export.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, session, list, ok := load(w, r, store, sessions)
		if !ok {
			return
		}
		guestID := chi.URLParam(r, "guestID")
		selected, err := selectGuests(list, []string{guestID})
		if err != nil {
			fail(w, r, http.StatusNotFound, "Guest not found")
			return
		}

		out, err := runner.Run(r.Context(), session.Snapshot(), selected[0])
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"key":     session.TemplateID(),
				"guestID": guestID,
			}).Warn("Failed to render preview")
			fail(w, r, http.StatusInternalServerError, "Failed to render preview")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Asset-Failures", strconv.Itoa(out.AssetFailures))
		w.Write(out.PNG)
	}
}
