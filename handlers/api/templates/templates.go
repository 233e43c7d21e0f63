package templates

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"invitecanvas/core"
	"invitecanvas/crop"
	"invitecanvas/editor"
	"invitecanvas/middleware"
)

// MaxBodyBytes bounds an uploaded document.
const MaxBodyBytes = 16 << 20

func fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// requireKey returns the caller and the template key of the route.
func requireKey(w http.ResponseWriter, r *http.Request) (userID, key string, ok bool) {
	claims, ok := middleware.Claims(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "User claims not found")
		return "", "", false
	}
	key = chi.URLParam(r, "key")
	if key == "" {
		fail(w, r, http.StatusBadRequest, "Template key is required")
		return "", "", false
	}
	return claims.Subject, key, true
}

func HandleListTemplates(store core.TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.Claims(r.Context())
		if !ok {
			fail(w, r, http.StatusUnauthorized, "User claims not found")
			return
		}

		templates, err := store.List(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": claims.Subject,
			}).Error("Failed to list templates")
			fail(w, r, http.StatusInternalServerError, "Failed to list templates")
			return
		}

		// A user without templates gets an empty list, not null.
		if templates == nil {
			templates = []*core.Template{}
		}

		render.JSON(w, r, templates)
	}
}

func HandleGetTemplate(store core.TemplateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, key, ok := requireKey(w, r)
		if !ok {
			return
		}

		tmpl, err := store.Get(r.Context(), userID, key)
		if err != nil {
			if !errors.Is(err, core.ErrNotFound) {
				logrus.WithFields(logrus.Fields{
					"error":  err,
					"userID": userID,
					"key":    key,
				}).Error("Failed to get template")
				fail(w, r, http.StatusInternalServerError, "Failed to get template")
				return
			}
			fail(w, r, http.StatusNotFound, "Template not found")
			return
		}

		// The document is returned as stored.
		w.Header().Set("Content-Type", "application/json")
		w.Write(tmpl.Data)
	}
}

// HandleSaveTemplate stores the document in the body. An open editor session
// is updated once the store accepted it, unless a job holds it.
func HandleSaveTemplate(store core.TemplateStore, sessions *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, key, ok := requireKey(w, r)
		if !ok {
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error": err,
				"key":   key,
			}).Error("Failed to read request body")
			fail(w, r, http.StatusBadRequest, "Failed to read request body")
			return
		}
		defer r.Body.Close()

		snap, err := core.DecodeSnapshot(body)
		if err == nil {
			err = snap.Validate()
		}
		if err != nil {
			fail(w, r, http.StatusBadRequest, err.Error())
			return
		}

		// Name and thumbnail ride along with the document.
		var meta struct {
			Name      string `json:"name"`
			Thumbnail string `json:"thumbnail"`
		}
		_ = json.Unmarshal(body, &meta)
		if meta.Name == "" {
			meta.Name = key
		}

		err = sessions.Commit(userID, key, snap, func() error {
			return persist(r, store, &core.Template{
				ID:        key,
				UserID:    userID,
				Name:      meta.Name,
				Thumbnail: meta.Thumbnail,
			}, snap)
		})
		if err != nil {
			if errors.Is(err, editor.ErrBusy) {
				fail(w, r, http.StatusConflict, "Template is being exported, try again when the job finishes")
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": userID,
				"key":    key,
			}).Error("Failed to save template")
			fail(w, r, http.StatusInternalServerError, "Failed to save template")
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"id": key})
	}
}

func persist(r *http.Request, store core.TemplateStore, tmpl *core.Template, snap *core.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	tmpl.Data = data
	return store.Save(r.Context(), tmpl)
}

func HandleDeleteTemplate(store core.TemplateStore, sessions *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, key, ok := requireKey(w, r)
		if !ok {
			return
		}

		if s, open := sessions.Lookup(userID, key); open && s.Held() {
			fail(w, r, http.StatusConflict, "Template is being exported, try again when the job finishes")
			return
		}

		if err := store.Delete(r.Context(), userID, key); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				fail(w, r, http.StatusNotFound, "Template not found")
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": userID,
				"key":    key,
			}).Error("Failed to delete template")
			fail(w, r, http.StatusInternalServerError, "Failed to delete template")
			return
		}
		sessions.Drop(userID, key)

		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]string{"id": key})
	}
}

// HandleCrop trims the canvas to the marquee in the body and saves the result.
func HandleCrop(store core.TemplateStore, sessions *editor.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, key, ok := requireKey(w, r)
		if !ok {
			return
		}

		var marquee crop.Rect
		if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, MaxBodyBytes), &marquee); err != nil {
			fail(w, r, http.StatusBadRequest, "Invalid crop rectangle")
			return
		}

		tmpl, err := store.Get(r.Context(), userID, key)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				fail(w, r, http.StatusNotFound, "Template not found")
				return
			}
			fail(w, r, http.StatusInternalServerError, "Failed to get template")
			return
		}
		session, err := sessions.Open(r.Context(), userID, key)
		if err != nil {
			fail(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}

		var tool crop.Tool
		if err := tool.Begin(session.Snapshot()); err != nil {
			fail(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}
		applied, err := tool.SetMarquee(marquee)
		if err != nil {
			fail(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		cropped, err := tool.Apply()
		if err != nil {
			fail(w, r, http.StatusInternalServerError, err.Error())
			return
		}

		if err := session.Commit(cropped, func() error { return persist(r, store, tmpl, cropped) }); err != nil {
			if errors.Is(err, editor.ErrBusy) {
				fail(w, r, http.StatusConflict, "Template is being exported, try again when the job finishes")
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": userID,
				"key":    key,
			}).Error("Failed to save cropped template")
			fail(w, r, http.StatusInternalServerError, "Failed to save template")
			return
		}

		logrus.WithFields(logrus.Fields{
			"userID":  userID,
			"key":     key,
			"marquee": applied,
		}).Info("Template cropped")
		render.JSON(w, r, map[string]any{
			"marquee":  applied,
			"document": cropped,
		})
	}
}
