package core

import (
	"fmt"
	"strings"
)

type (
	// Guest is one recipient of a template.
	Guest struct {
		ID         string      `json:"id"`
		TemplateID string      `json:"templateId"`
		Name       string      `json:"name"`
		Email      string      `json:"email"`
		Status     GuestStatus `json:"status"`
	}

	// GuestStatus tracks delivery and the recipient's answer.
	GuestStatus string
)

const (
	StatusUnset     GuestStatus = "unset"
	StatusSent      GuestStatus = "sent"
	StatusAttending GuestStatus = "attending"
	StatusDeclined  GuestStatus = "declined"
	StatusMaybe     GuestStatus = "maybe"
)

// ParseGuestStatus accepts the known statuses case-insensitively. An empty
// string is treated as unset.
func ParseGuestStatus(s string) (GuestStatus, error) {
	switch st := GuestStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StatusUnset, nil
	case StatusUnset, StatusSent, StatusAttending, StatusDeclined, StatusMaybe:
		return st, nil
	default:
		return "", fmt.Errorf("unknown guest status %q", s)
	}
}
