// Package personalize rewrites a copy of a document for one recipient.
package personalize

import (
	"strings"

	"invitecanvas/core"
)

type (
	// QRTask is a dynamic QR object that needs its image regenerated.
	QRTask struct {
		Index       int
		Template    string
		Payload     string
		PreviousSrc string
	}

	// Pending is a substituted document whose QR images are not regenerated yet.
	Pending struct {
		Doc   *core.Snapshot
		Guest core.Guest
		Tasks []QRTask
	}
)

// Personalize replaces every placeholder occurrence with name. The name is
// inserted verbatim.
func Personalize(text, name string) string {
	return strings.ReplaceAll(text, core.GuestNamePlaceholder, name)
}

// Substitute deep-copies snap and personalizes the copy for guest. The
// returned document has the same objects, in the same order, with the same
// geometry; only text content changes here, QR images are regenerated later
// from the recorded tasks.
func Substitute(snap *core.Snapshot, guest core.Guest) (*Pending, error) {
	if snap == nil {
		return nil, core.ErrNoDocument
	}

	doc := snap.Clone()
	pending := &Pending{Doc: doc, Guest: guest}

	for i := range doc.Objects {
		switch c := doc.Objects[i].Content.(type) {
		case *core.Text:
			if strings.Contains(c.Text, core.GuestNamePlaceholder) {
				c.Text = Personalize(c.Text, guest.Name)
			}
		case *core.Image:
			if c.IsDynamicQR() {
				pending.Tasks = append(pending.Tasks, QRTask{
					Index:       i,
					Template:    c.QRTemplate,
					Payload:     Personalize(c.QRTemplate, guest.Name),
					PreviousSrc: c.Src,
				})
			}
		case *core.Shape:
		case nil:
		default:
			panic("personalize: unknown object content")
		}
	}

	return pending, nil
}
