package guests

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"invitecanvas/core"
	"invitecanvas/middleware"
)

// Store is what the guest handlers need: template ownership and the list.
type Store interface {
	Get(ctx context.Context, userID, id string) (*core.Template, error)
	core.GuestStore
}

func fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// owned checks that the template of the route belongs to the caller.
func owned(w http.ResponseWriter, r *http.Request, store Store) (userID, key string, ok bool) {
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
	if _, err := store.Get(r.Context(), claims.Subject, key); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			fail(w, r, http.StatusNotFound, "Template not found")
			return "", "", false
		}
		logrus.WithFields(logrus.Fields{
			"error":  err,
			"userID": claims.Subject,
			"key":    key,
		}).Error("Failed to get template")
		fail(w, r, http.StatusInternalServerError, "Failed to get template")
		return "", "", false
	}
	return claims.Subject, key, true
}

func HandleListGuests(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, key, ok := owned(w, r, store)
		if !ok {
			return
		}

		list, err := store.ListGuests(r.Context(), key)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error": err,
				"key":   key,
			}).Error("Failed to list guests")
			fail(w, r, http.StatusInternalServerError, "Failed to list guests")
			return
		}
		if list == nil {
			list = []core.Guest{}
		}
		render.JSON(w, r, list)
	}
}

func HandleCreateGuest(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, key, ok := owned(w, r, store)
		if !ok {
			return
		}

		var body struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := render.DecodeJSON(r.Body, &body); err != nil {
			fail(w, r, http.StatusBadRequest, "Invalid guest")
			return
		}
		guest := &core.Guest{
			TemplateID: key,
			Name:       strings.TrimSpace(body.Name),
			Email:      strings.TrimSpace(body.Email),
		}
		if guest.Name == "" {
			fail(w, r, http.StatusBadRequest, "Guest name is required")
			return
		}

		if err := store.SaveGuest(r.Context(), guest); err != nil {
			logrus.WithFields(logrus.Fields{
				"error": err,
				"key":   key,
			}).Error("Failed to save guest")
			fail(w, r, http.StatusInternalServerError, "Failed to save guest")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, guest)
	}
}

// HandleUpdateStatus records the guest's answer, or marks them sent.
func HandleUpdateStatus(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, key, ok := owned(w, r, store)
		if !ok {
			return
		}
		guestID := chi.URLParam(r, "guestID")

		var body struct {
			Status string `json:"status"`
		}
		if err := render.DecodeJSON(r.Body, &body); err != nil {
			fail(w, r, http.StatusBadRequest, "Invalid status")
			return
		}
		status, err := core.ParseGuestStatus(body.Status)
		if err != nil {
			fail(w, r, http.StatusBadRequest, err.Error())
			return
		}

		if err := store.UpdateStatus(r.Context(), key, guestID, status); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				fail(w, r, http.StatusNotFound, "Guest not found")
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"key":     key,
				"guestID": guestID,
			}).Error("Failed to update guest status")
			fail(w, r, http.StatusInternalServerError, "Failed to update guest status")
			return
		}
		render.JSON(w, r, map[string]string{"id": guestID, "status": string(status)})
	}
}

func HandleDeleteGuest(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, key, ok := owned(w, r, store)
		if !ok {
			return
		}
		guestID := chi.URLParam(r, "guestID")

		if err := store.DeleteGuest(r.Context(), key, guestID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				fail(w, r, http.StatusNotFound, "Guest not found")
				return
			}
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"key":     key,
				"guestID": guestID,
			}).Error("Failed to delete guest")
			fail(w, r, http.StatusInternalServerError, "Failed to delete guest")
			return
		}
		render.JSON(w, r, map[string]string{"id": guestID})
	}
}
