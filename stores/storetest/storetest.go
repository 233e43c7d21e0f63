// Package storetest checks a store backend against the behaviour every
// backend shares.
package storetest

import (
	"context"
	"errors"
	"testing"

	"invitecanvas/core"
)

// Store is the union every backend implements.
type Store interface {
	core.TemplateStore
	core.GuestStore
}

// Run exercises templates and guests on a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("TemplateLifecycle", func(t *testing.T) { testTemplateLifecycle(t, newStore(t)) })
	t.Run("TemplatesAreScopedByUser", func(t *testing.T) { testUserScope(t, newStore(t)) })
	t.Run("GuestLifecycle", func(t *testing.T) { testGuestLifecycle(t, newStore(t)) })
	t.Run("MissingGuest", func(t *testing.T) { testMissingGuest(t, newStore(t)) })
}

func testTemplateLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	tmpl := &core.Template{ID: "t1", UserID: "u1", Name: "Wedding", Data: []byte(`{"objects":[]}`)}

	if err := s.Save(ctx, tmpl); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if tmpl.CreatedAt.IsZero() || tmpl.UpdatedAt.IsZero() {
		t.Error("Save() did not set timestamps")
	}
	created := tmpl.CreatedAt

	got, err := s.Get(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "Wedding" || string(got.Data) != `{"objects":[]}` {
		t.Errorf("Get() returned %+v", got)
	}

	update := &core.Template{ID: "t1", UserID: "u1", Name: "Wedding v2", Data: []byte(`{}`)}
	if err := s.Save(ctx, update); err != nil {
		t.Fatalf("Save() update failed: %v", err)
	}
	if !update.CreatedAt.Equal(created) {
		t.Errorf("update changed CreatedAt: %v -> %v", created, update.CreatedAt)
	}

	list, err := s.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Wedding v2" || list[0].Data != nil {
		t.Errorf("List() returned %+v", list)
	}

	if err := s.Delete(ctx, "u1", "t1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := s.Get(ctx, "u1", "t1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get() after Delete(): got %v, want ErrNotFound", err)
	}
}

func testUserScope(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.Save(ctx, &core.Template{ID: "t1", UserID: "alice", Name: "A", Data: []byte("{}")}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := s.Get(ctx, "bob", "t1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("another user's template: got %v, want ErrNotFound", err)
	}
	list, err := s.List(ctx, "bob")
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List() leaked templates across users: %+v", list)
	}
}

func testGuestLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	ana := &core.Guest{TemplateID: "t1", Name: "Ana Silva", Email: "ana@example.com"}
	bruno := &core.Guest{TemplateID: "t1", Name: "Bruno"}
	other := &core.Guest{TemplateID: "t2", Name: "Other"}
	for _, g := range []*core.Guest{ana, bruno, other} {
		if err := s.SaveGuest(ctx, g); err != nil {
			t.Fatalf("SaveGuest(%s) failed: %v", g.Name, err)
		}
		if g.ID == "" {
			t.Fatalf("SaveGuest(%s) did not assign an ID", g.Name)
		}
	}

	guests, err := s.ListGuests(ctx, "t1")
	if err != nil {
		t.Fatalf("ListGuests() failed: %v", err)
	}
	if len(guests) != 2 || guests[0].Name != "Ana Silva" || guests[1].Name != "Bruno" {
		t.Fatalf("ListGuests() returned %+v", guests)
	}
	if guests[0].Status != core.StatusUnset {
		t.Errorf("new guest status: got %q", guests[0].Status)
	}

	if err := s.UpdateStatus(ctx, "t1", ana.ID, core.StatusSent); err != nil {
		t.Fatalf("UpdateStatus() failed: %v", err)
	}
	ana.Email = "ana@new.example.com"
	ana.Status = core.StatusSent
	if err := s.SaveGuest(ctx, ana); err != nil {
		t.Fatalf("SaveGuest() update failed: %v", err)
	}
	if err := s.DeleteGuest(ctx, "t1", bruno.ID); err != nil {
		t.Fatalf("DeleteGuest() failed: %v", err)
	}

	guests, err = s.ListGuests(ctx, "t1")
	if err != nil {
		t.Fatalf("ListGuests() failed: %v", err)
	}
	if len(guests) != 1 || guests[0].Status != core.StatusSent || guests[0].Email != "ana@new.example.com" {
		t.Errorf("ListGuests() after changes returned %+v", guests)
	}
}

func testMissingGuest(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.UpdateStatus(ctx, "t1", "nobody", core.StatusSent); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("UpdateStatus(): got %v, want ErrNotFound", err)
	}
	if err := s.DeleteGuest(ctx, "t1", "nobody"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("DeleteGuest(): got %v, want ErrNotFound", err)
	}
	guests, err := s.ListGuests(ctx, "empty")
	if err != nil || len(guests) != 0 {
		t.Errorf("ListGuests() of an empty template: %v %+v", err, guests)
	}
}
