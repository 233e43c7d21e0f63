package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"invitecanvas/core"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	templateTableStmt := `
	CREATE TABLE IF NOT EXISTS templates (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT,
		thumbnail TEXT,
		data BLOB,
		created_at DATETIME,
		updated_at DATETIME,
		PRIMARY KEY (user_id, id)
	);`
	if _, err = db.Exec(templateTableStmt); err != nil {
		log.Fatalf("failed to create templates table: %v", err)
	}

	guestTableStmt := `
	CREATE TABLE IF NOT EXISTS guests (
		id TEXT NOT NULL,
		template_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		status TEXT NOT NULL DEFAULT 'unset',
		PRIMARY KEY (template_id, id)
	);`
	if _, err = db.Exec(guestTableStmt); err != nil {
		log.Fatalf("failed to create guests table: %v", err)
	}

	return &sqliteStore{db}
}

// Close releases the database handle.
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// TemplateStore implementation
func (s *sqliteStore) List(ctx context.Context, userID string) ([]*core.Template, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, updated_at, thumbnail FROM templates WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []*core.Template{}
	for rows.Next() {
		var t core.Template
		t.UserID = userID
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt, &t.Thumbnail); err != nil {
			return nil, err
		}
		templates = append(templates, &t)
	}
	return templates, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, userID, id string) (*core.Template, error) {
	var t core.Template
	t.UserID = userID
	t.ID = id
	err := s.db.QueryRowContext(ctx, "SELECT name, data, created_at, updated_at, thumbnail FROM templates WHERE user_id = ? AND id = ?", userID, id).Scan(&t.Name, &t.Data, &t.CreatedAt, &t.UpdatedAt, &t.Thumbnail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("template %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

func (s *sqliteStore) Save(ctx context.Context, t *core.Template) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // Rollback on any error

	var createdAt time.Time
	err = tx.QueryRowContext(ctx, "SELECT created_at FROM templates WHERE user_id = ? AND id = ?", t.UserID, t.ID).Scan(&createdAt)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	now := time.Now()
	if exists {
		_, err = tx.ExecContext(ctx, "UPDATE templates SET name = ?, data = ?, updated_at = ?, thumbnail = ? WHERE user_id = ? AND id = ?", t.Name, t.Data, now, t.Thumbnail, t.UserID, t.ID)
		t.CreatedAt = createdAt
	} else {
		_, err = tx.ExecContext(ctx, "INSERT INTO templates (id, user_id, name, data, created_at, updated_at, thumbnail) VALUES (?, ?, ?, ?, ?, ?, ?)", t.ID, t.UserID, t.Name, t.Data, now, now, t.Thumbnail)
		t.CreatedAt = now
	}
	if err != nil {
		return err
	}
	t.UpdatedAt = now

	logrus.WithFields(logrus.Fields{"user_id": t.UserID, "template_id": t.ID}).Debug("Template saved")
	return tx.Commit()
}

func (s *sqliteStore) Delete(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM templates WHERE user_id = ? AND id = ?", userID, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM guests WHERE template_id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// GuestStore implementation
func (s *sqliteStore) ListGuests(ctx context.Context, templateID string) ([]core.Guest, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, email, status FROM guests WHERE template_id = ? ORDER BY id", templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	guests := []core.Guest{}
	for rows.Next() {
		g := core.Guest{TemplateID: templateID}
		var email sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &email, &g.Status); err != nil {
			return nil, err
		}
		g.Email = email.String
		guests = append(guests, g)
	}
	return guests, rows.Err()
}

func (s *sqliteStore) SaveGuest(ctx context.Context, g *core.Guest) error {
	if g.TemplateID == "" {
		return fmt.Errorf("guest has no template")
	}
	if g.ID == "" {
		g.ID = ulid.Make().String()
	}
	if g.Status == "" {
		g.Status = core.StatusUnset
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guests (id, template_id, name, email, status) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (template_id, id) DO UPDATE SET name = excluded.name, email = excluded.email, status = excluded.status`,
		g.ID, g.TemplateID, g.Name, g.Email, string(g.Status))
	return err
}

func (s *sqliteStore) UpdateStatus(ctx context.Context, templateID, guestID string, status core.GuestStatus) error {
	res, err := s.db.ExecContext(ctx, "UPDATE guests SET status = ? WHERE template_id = ? AND id = ?", string(status), templateID, guestID)
	if err != nil {
		return err
	}
	return affectedOne(res, guestID)
}

func (s *sqliteStore) DeleteGuest(ctx context.Context, templateID, guestID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM guests WHERE template_id = ? AND id = ?", templateID, guestID)
	if err != nil {
		return err
	}
	return affectedOne(res, guestID)
}

func affectedOne(res sql.Result, guestID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("guest %s: %w", guestID, core.ErrNotFound)
	}
	return nil
}
