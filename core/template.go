package core

import (
	"context"
	"time"
)

type (
	// Template is the persisted record of a designed canvas. Data holds the
	// encoded Snapshot and is treated as opaque by the stores.
	Template struct {
		ID        string    `json:"id"`
		UserID    string    `json:"-"` // Not exposed in JSON responses, used internally.
		Name      string    `json:"name"`
		Thumbnail string    `json:"thumbnail,omitempty"`
		Data      []byte    `json:"data,omitempty"` // The full document, not included in list views.
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// TemplateStore defines the persistence layer for user-owned templates.
	// All operations are scoped to a specific user.
	TemplateStore interface {
		// List returns metadata for all templates owned by a user.
		// The returned Template objects should not contain the `Data` field to keep the response light.
		List(ctx context.Context, userID string) ([]*Template, error)

		// Get returns a single template by its ID, ensuring it belongs to the user.
		Get(ctx context.Context, userID, id string) (*Template, error)

		// Save creates or updates a template for a user.
		Save(ctx context.Context, template *Template) error

		// Delete removes a template, ensuring it belongs to the user.
		Delete(ctx context.Context, userID, id string) error
	}

	// GuestStore is the recipient list attached to a template.
	GuestStore interface {
		ListGuests(ctx context.Context, templateID string) ([]Guest, error)
		SaveGuest(ctx context.Context, guest *Guest) error
		UpdateStatus(ctx context.Context, templateID, guestID string, status GuestStatus) error
		DeleteGuest(ctx context.Context, templateID, guestID string) error
	}
)

// Snapshot decodes the template's document.
func (t *Template) Snapshot() (*Snapshot, error) {
	if t == nil || len(t.Data) == 0 {
		return nil, ErrNoDocument
	}
	return DecodeSnapshot(t.Data)
}
