package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"invitecanvas/core"
)

// fsStore keeps templates under templates/<userID>/<id> and each
// template's guest list in guests/<templateID>.json.
type fsStore struct {
	basePath string
	// guestMu serializes read-modify-write of guest files.
	guestMu sync.Mutex
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{"templates", "guests"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			log.Fatalf("failed to create base directory: %v", err)
		}
	}
	return &fsStore{basePath: basePath}
}

// within joins elems under root and refuses paths that escape it.
func within(root string, elems ...string) (string, error) {
	for _, e := range elems {
		if e == "" || e == "." || e == ".." || filepath.Base(e) != e {
			return "", fmt.Errorf("invalid path element %q: access denied", e)
		}
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	p, err := filepath.Abs(filepath.Join(append([]string{root}, elems...)...))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(p, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied")
	}
	return p, nil
}

func (s *fsStore) templatesRoot() string { return filepath.Join(s.basePath, "templates") }

func (s *fsStore) List(ctx context.Context, userID string) ([]*core.Template, error) {
	userPath, err := within(s.templatesRoot(), userID)
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("user_id", userID).WithField("path", userPath)

	files, err := os.ReadDir(userPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("User directory does not exist, returning empty list.")
			return []*core.Template{}, nil
		}
		log.WithError(err).Error("Failed to read user directory")
		return nil, err
	}

	templates := make([]*core.Template, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(userPath, file.Name()))
		if err != nil {
			log.WithError(err).Warnf("Failed to read template file %s, skipping", file.Name())
			continue
		}
		var t core.Template
		if err := json.Unmarshal(data, &t); err != nil {
			log.WithError(err).Warnf("Failed to unmarshal template file %s, skipping", file.Name())
			continue
		}
		// For list view, we don't need the full data blob.
		t.Data = nil
		t.UserID = userID
		templates = append(templates, &t)
	}

	log.Debugf("Listed %d templates", len(templates))
	return templates, nil
}

func (s *fsStore) Get(ctx context.Context, userID, id string) (*core.Template, error) {
	filePath, err := within(s.templatesRoot(), userID, id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "template_id": id, "path": filePath})

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Template file not found")
			return nil, fmt.Errorf("template %s: %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to read template file")
		return nil, err
	}

	var t core.Template
	if err := json.Unmarshal(data, &t); err != nil {
		log.WithError(err).Error("Failed to unmarshal template data")
		return nil, err
	}
	t.UserID = userID
	return &t, nil
}

func (s *fsStore) Save(ctx context.Context, t *core.Template) error {
	filePath, err := within(s.templatesRoot(), t.UserID, t.ID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": t.UserID, "template_id": t.ID, "path": filePath})

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		log.WithError(err).Error("Failed to create user directory")
		return err
	}

	// CreatedAt is kept in the file itself, the filesystem has no creation time.
	now := time.Now()
	t.CreatedAt = now
	if data, err := os.ReadFile(filePath); err == nil {
		var existing core.Template
		if json.Unmarshal(data, &existing) == nil && !existing.CreatedAt.IsZero() {
			t.CreatedAt = existing.CreatedAt
		}
	}
	t.UpdatedAt = now

	data, err := json.Marshal(t)
	if err != nil {
		log.WithError(err).Error("Failed to marshal template for saving")
		return err
	}
	if err := writeFile(filePath, data); err != nil {
		log.WithError(err).Error("Failed to write template file")
		return err
	}
	log.Info("Template saved")
	return nil
}

func (s *fsStore) Delete(ctx context.Context, userID, id string) error {
	filePath, err := within(s.templatesRoot(), userID, id)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "template_id": id, "path": filePath})

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			log.Warn("Template file not found for deletion")
			return fmt.Errorf("template %s: %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to delete template file")
		return err
	}

	if guestsPath, err := s.guestsPath(id); err == nil {
		if err := os.Remove(guestsPath); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warn("Failed to delete guest list")
		}
	}
	log.Info("Template deleted successfully")
	return nil
}

func (s *fsStore) guestsPath(templateID string) (string, error) {
	return within(filepath.Join(s.basePath, "guests"), templateID+".json")
}

func (s *fsStore) readGuests(templateID string) ([]core.Guest, error) {
	p, err := s.guestsPath(templateID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return []core.Guest{}, nil
	}
	if err != nil {
		return nil, err
	}
	var guests []core.Guest
	if err := json.Unmarshal(data, &guests); err != nil {
		return nil, fmt.Errorf("guest list %s: %w", templateID, err)
	}
	return guests, nil
}

func (s *fsStore) writeGuests(templateID string, guests []core.Guest) error {
	p, err := s.guestsPath(templateID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(guests, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(p, data)
}

func (s *fsStore) ListGuests(ctx context.Context, templateID string) ([]core.Guest, error) {
	s.guestMu.Lock()
	defer s.guestMu.Unlock()
	return s.readGuests(templateID)
}

func (s *fsStore) SaveGuest(ctx context.Context, g *core.Guest) error {
	if g.TemplateID == "" {
		return fmt.Errorf("guest has no template")
	}
	if g.ID == "" {
		g.ID = ulid.Make().String()
	}
	if g.Status == "" {
		g.Status = core.StatusUnset
	}

	s.guestMu.Lock()
	defer s.guestMu.Unlock()

	guests, err := s.readGuests(g.TemplateID)
	if err != nil {
		return err
	}
	i := sort.Search(len(guests), func(i int) bool { return guests[i].ID >= g.ID })
	if i < len(guests) && guests[i].ID == g.ID {
		guests[i] = *g
	} else {
		guests = append(guests, core.Guest{})
		copy(guests[i+1:], guests[i:])
		guests[i] = *g
	}
	return s.writeGuests(g.TemplateID, guests)
}

func (s *fsStore) UpdateStatus(ctx context.Context, templateID, guestID string, status core.GuestStatus) error {
	return s.modifyGuest(templateID, guestID, func(guests []core.Guest, i int) []core.Guest {
		guests[i].Status = status
		return guests
	})
}

func (s *fsStore) DeleteGuest(ctx context.Context, templateID, guestID string) error {
	return s.modifyGuest(templateID, guestID, func(guests []core.Guest, i int) []core.Guest {
		return append(guests[:i], guests[i+1:]...)
	})
}

func (s *fsStore) modifyGuest(templateID, guestID string, fn func([]core.Guest, int) []core.Guest) error {
	s.guestMu.Lock()
	defer s.guestMu.Unlock()

	guests, err := s.readGuests(templateID)
	if err != nil {
		return err
	}
	for i := range guests {
		if guests[i].ID == guestID {
			return s.writeGuests(templateID, fn(guests, i))
		}
	}
	return fmt.Errorf("guest %s: %w", guestID, core.ErrNotFound)
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
