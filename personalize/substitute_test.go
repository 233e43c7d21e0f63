package personalize

import (
	"errors"
	"strings"
	"testing"

	"invitecanvas/core"
)

func invitation() *core.Snapshot {
	return &core.Snapshot{
		Width:      600,
		Height:     400,
		Background: "#ffffff",
		Objects: []core.Object{
			{Geometry: core.Geometry{Left: 10, Top: 20, ScaleX: 1, ScaleY: 1}, Content: &core.Shape{Kind: core.ShapeRect, Width: 100, Height: 50, Fill: "#eeeeee"}},
			{Geometry: core.Geometry{Left: 50, Top: 60, ScaleX: 2, ScaleY: 2, Angle: 15}, Content: &core.Text{Text: "Hello {guest_name}!", FontSize: 24}},
			{Geometry: core.Geometry{Left: 400, Top: 200, ScaleX: 0.5, ScaleY: 0.5, Angle: 30}, Content: &core.Image{Src: "https://qr/old.png", Width: 200, Height: 200, QRTemplate: "https://rsvp/{guest_name}"}},
			{Geometry: core.Geometry{Left: 5, Top: 5, ScaleX: 1, ScaleY: 1}, Content: &core.Text{Text: "{guest_name}, {guest_name} and friends"}},
			{Geometry: core.Geometry{Left: 1, Top: 1, ScaleX: 1, ScaleY: 1}, Content: &core.Image{Src: "https://cdn/logo.png"}},
		},
	}
}

func TestSubstitute_Scenario(t *testing.T) {
	snap := invitation()
	pending, err := Substitute(snap, core.Guest{ID: "g1", Name: "Ana Silva"})
	if err != nil {
		t.Fatalf("Substitute() failed: %v", err)
	}

	text := pending.Doc.Objects[1].Content.(*core.Text)
	if text.Text != "Hello Ana Silva!" {
		t.Errorf("text mismatch: got %q", text.Text)
	}

	if len(pending.Tasks) != 1 {
		t.Fatalf("task count mismatch: got %d, want 1", len(pending.Tasks))
	}
	task := pending.Tasks[0]
	if task.Index != 2 || task.Payload != "https://rsvp/Ana Silva" || task.PreviousSrc != "https://qr/old.png" {
		t.Errorf("unexpected task: %+v", task)
	}

	qr := pending.Doc.Objects[2].Content.(*core.Image)
	if qr.QRTemplate != "https://rsvp/{guest_name}" {
		t.Errorf("QR template should be preserved, got %q", qr.QRTemplate)
	}
}

func TestSubstitute_PreservesCountOrderAndGeometry(t *testing.T) {
	snap := invitation()
	pending, err := Substitute(snap, core.Guest{Name: "Bob"})
	if err != nil {
		t.Fatalf("Substitute() failed: %v", err)
	}

	if len(pending.Doc.Objects) != len(snap.Objects) {
		t.Fatalf("object count changed: got %d, want %d", len(pending.Doc.Objects), len(snap.Objects))
	}
	for i := range snap.Objects {
		if pending.Doc.Objects[i].Type() != snap.Objects[i].Type() {
			t.Errorf("object %d type changed: %s -> %s", i, snap.Objects[i].Type(), pending.Doc.Objects[i].Type())
		}
		if pending.Doc.Objects[i].Geometry != snap.Objects[i].Geometry {
			t.Errorf("object %d geometry changed: %+v -> %+v", i, snap.Objects[i].Geometry, pending.Doc.Objects[i].Geometry)
		}
	}
}

func TestSubstitute_ReplacesEveryOccurrence(t *testing.T) {
	pending, err := Substitute(invitation(), core.Guest{Name: "Zoë"})
	if err != nil {
		t.Fatalf("Substitute() failed: %v", err)
	}
	for i, obj := range pending.Doc.Objects {
		if text, ok := obj.Content.(*core.Text); ok && strings.Contains(text.Text, core.GuestNamePlaceholder) {
			t.Errorf("object %d still contains the placeholder: %q", i, text.Text)
		}
	}
	if got := pending.Doc.Objects[3].Content.(*core.Text).Text; got != "Zoë, Zoë and friends" {
		t.Errorf("multi-occurrence mismatch: got %q", got)
	}
}

func TestSubstitute_DoesNotMutateOriginal(t *testing.T) {
	snap := invitation()
	before := snap.Fingerprint()

	for _, name := range []string{"Ana", "Bruno"} {
		if _, err := Substitute(snap, core.Guest{Name: name}); err != nil {
			t.Fatalf("Substitute(%s) failed: %v", name, err)
		}
	}

	if snap.Fingerprint() != before {
		t.Error("original snapshot was mutated")
	}
}

func TestSubstitute_RepeatableAcrossGuests(t *testing.T) {
	snap := invitation()
	first, _ := Substitute(snap, core.Guest{Name: "Ana"})
	second, _ := Substitute(snap, core.Guest{Name: "Bruno"})

	if first.Tasks[0].Payload != "https://rsvp/Ana" || second.Tasks[0].Payload != "https://rsvp/Bruno" {
		t.Errorf("payloads mismatch: %q, %q", first.Tasks[0].Payload, second.Tasks[0].Payload)
	}
	for i := range snap.Objects {
		if first.Doc.Objects[i].Geometry != snap.Objects[i].Geometry || second.Doc.Objects[i].Geometry != snap.Objects[i].Geometry {
			t.Errorf("object %d drifted between runs", i)
		}
	}
}

func TestSubstitute_NameIsNotEscaped(t *testing.T) {
	pending, _ := Substitute(invitation(), core.Guest{Name: "$1 {guest_name} <b>"})
	if got := pending.Doc.Objects[1].Content.(*core.Text).Text; got != "Hello $1 {guest_name} <b>!" {
		t.Errorf("name should be inserted verbatim, got %q", got)
	}
}

func TestSubstitute_NilSnapshot(t *testing.T) {
	if _, err := Substitute(nil, core.Guest{Name: "Ana"}); !errors.Is(err, core.ErrNoDocument) {
		t.Errorf("got %v, want ErrNoDocument", err)
	}
}
