package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"invitecanvas/core"
)

// memStore implements both TemplateStore and GuestStore in memory.
type memStore struct {
	mu sync.RWMutex
	// templates is keyed by userID, then by template ID.
	templates map[string]map[string]*core.Template
	// guests is keyed by template ID, then by guest ID.
	guests map[string]map[string]*core.Guest
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		templates: make(map[string]map[string]*core.Template),
		guests:    make(map[string]map[string]*core.Guest),
	}
}

// List returns metadata for all templates owned by a user.
func (s *memStore) List(ctx context.Context, userID string) ([]*core.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userTemplates := s.templates[userID]
	templates := make([]*core.Template, 0, len(userTemplates))
	for _, t := range userTemplates {
		// A copy without the large Data field for the list view.
		templates = append(templates, &core.Template{
			ID:        t.ID,
			UserID:    t.UserID,
			Name:      t.Name,
			Thumbnail: t.Thumbnail,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		})
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })

	logrus.WithField("user_id", userID).Debugf("Listed %d templates", len(templates))
	return templates, nil
}

// Get returns a single template, ensuring it belongs to the user.
func (s *memStore) Get(ctx context.Context, userID, id string) (*core.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[userID][id]
	if !ok {
		logrus.WithFields(logrus.Fields{"user_id": userID, "template_id": id}).Warn("Template not found for user")
		return nil, fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	out := *t
	out.Data = append([]byte(nil), t.Data...)
	return &out, nil
}

// Save creates or updates a template for a user.
func (s *memStore) Save(ctx context.Context, t *core.Template) error {
	if t.UserID == "" {
		return fmt.Errorf("UserID cannot be empty")
	}
	if t.ID == "" {
		return fmt.Errorf("template ID cannot be empty for save operation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userTemplates, ok := s.templates[t.UserID]
	if !ok {
		userTemplates = make(map[string]*core.Template)
		s.templates[t.UserID] = userTemplates
	}

	now := time.Now()
	if existing, exists := userTemplates[t.ID]; exists {
		t.CreatedAt = existing.CreatedAt
	} else {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	stored := *t
	stored.Data = append([]byte(nil), t.Data...)
	userTemplates[t.ID] = &stored
	logrus.WithFields(logrus.Fields{"user_id": t.UserID, "template_id": t.ID}).Info("Template saved successfully")
	return nil
}

// Delete removes a template and its guests.
func (s *memStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[userID][id]; !ok {
		return fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	delete(s.templates[userID], id)
	delete(s.guests, id)
	logrus.WithFields(logrus.Fields{"user_id": userID, "template_id": id}).Info("Template deleted successfully")
	return nil
}

// ListGuests returns a template's guests ordered by ID, which is creation order.
func (s *memStore) ListGuests(ctx context.Context, templateID string) ([]core.Guest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	guests := make([]core.Guest, 0, len(s.guests[templateID]))
	for _, g := range s.guests[templateID] {
		guests = append(guests, *g)
	}
	sort.Slice(guests, func(i, j int) bool { return guests[i].ID < guests[j].ID })
	return guests, nil
}

// SaveGuest creates a guest, assigning an ID if needed, or updates it.
func (s *memStore) SaveGuest(ctx context.Context, g *core.Guest) error {
	if g.TemplateID == "" {
		return fmt.Errorf("guest has no template")
	}
	if g.ID == "" {
		g.ID = ulid.Make().String()
	}
	if g.Status == "" {
		g.Status = core.StatusUnset
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.guests[g.TemplateID]
	if !ok {
		byID = make(map[string]*core.Guest)
		s.guests[g.TemplateID] = byID
	}
	stored := *g
	byID[g.ID] = &stored
	logrus.WithFields(logrus.Fields{"template_id": g.TemplateID, "guest_id": g.ID}).Debug("Guest saved")
	return nil
}

// UpdateStatus records a guest's delivery status.
func (s *memStore) UpdateStatus(ctx context.Context, templateID, guestID string, status core.GuestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.guests[templateID][guestID]
	if !ok {
		return fmt.Errorf("guest %s: %w", guestID, core.ErrNotFound)
	}
	g.Status = status
	return nil
}

// DeleteGuest removes a guest from a template.
func (s *memStore) DeleteGuest(ctx context.Context, templateID, guestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.guests[templateID][guestID]; !ok {
		return fmt.Errorf("guest %s: %w", guestID, core.ErrNotFound)
	}
	delete(s.guests[templateID], guestID)
	return nil
}
