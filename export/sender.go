package export

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"invitecanvas/core"
	"invitecanvas/notify"
	"invitecanvas/personalize"
	"invitecanvas/pipeline"
)

const (
	DefaultSubject = "You're invited, {guest_name}!"
	DefaultBody    = "Hello {guest_name},\n\nYour invitation is attached.\n"
)

// StatusWriter records delivery status back to the recipient store.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, templateID, guestID string, status core.GuestStatus) error
}

// Sender renders each guest's invitation and hands it to a mailer.
type Sender struct {
	runner   Runner
	mailer   notify.Mailer
	statuses StatusWriter

	// Subject and Body may contain the guest name placeholder.
	Subject string
	Body    string
}

// NewSender creates a sender. statuses may be nil.
func NewSender(runner Runner, mailer notify.Mailer, statuses StatusWriter) *Sender {
	return &Sender{
		runner:   runner,
		mailer:   mailer,
		statuses: statuses,
		Subject:  DefaultSubject,
		Body:     DefaultBody,
	}
}

// RenderForSend produces the bitmap that would be emailed to guest.
func (s *Sender) RenderForSend(ctx context.Context, src Source, guest core.Guest) (*pipeline.Output, error) {
	snap, err := capture(src)
	if err != nil {
		return nil, err
	}
	defer src.Restore(snap)
	return s.runner.Run(ctx, snap, guest)
}

// SendAll emails every guest that has an address, one at a time. Guests
// without an email are skipped; failures are tallied and the loop
// continues. A guest whose assets fell back is still sent.
func (s *Sender) SendAll(ctx context.Context, src Source, guests []core.Guest, onProgress func(Progress)) (*Result, error) {
	snap, err := capture(src)
	if err != nil {
		return nil, err
	}
	defer src.Restore(snap)

	result := &Result{State: Running, Total: len(guests)}
	log := logrus.WithField("guests", len(guests))
	log.Info("Starting send")

	for i, guest := range guests {
		if ctx.Err() != nil {
			result.State = Cancelled
			result.Skipped += len(guests) - i
			break
		}

		p := progressAt(i+1, len(guests))
		p.GuestID, p.GuestName = guest.ID, guest.Name

		if guest.Email == "" {
			result.Skipped++
			if onProgress != nil {
				onProgress(p)
			}
			continue
		}

		err := s.send(ctx, snap, guest, result)
		if err != nil && isCancel(ctx, err) {
			result.State = Cancelled
			result.Skipped += len(guests) - i
			break
		}
		if err != nil {
			log.WithFields(logrus.Fields{"guest_id": guest.ID, "guest_name": guest.Name}).WithError(err).Error("Guest send failed")
			result.Failed++
			result.Failures = append(result.Failures, GuestFailure{GuestID: guest.ID, GuestName: guest.Name, Error: err.Error()})
			p.Failed = true
		}

		if onProgress != nil {
			onProgress(p)
		}
	}

	if result.State == Running {
		result.State = Completed
	}
	log.WithFields(logrus.Fields{
		"state":   result.State,
		"sent":    result.Sent,
		"failed":  result.Failed,
		"skipped": result.Skipped,
	}).Info("Send finished")
	return result, nil
}

func (s *Sender) send(ctx context.Context, snap *core.Snapshot, guest core.Guest, result *Result) error {
	out, err := s.runner.Run(ctx, snap, guest)
	if err != nil {
		return err
	}

	msg := notify.Message{
		To:             guest.Email,
		ToName:         guest.Name,
		Subject:        personalize.Personalize(s.Subject, guest.Name),
		Body:           personalize.Personalize(s.Body, guest.Name),
		AttachmentName: SanitizeName(guest.Name) + ".png",
		Image:          out.PNG,
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send to %s: %w", guest.Email, err)
	}

	result.Sent++
	result.AssetFailures += out.AssetFailures

	if s.statuses != nil {
		if err := s.statuses.UpdateStatus(ctx, guest.TemplateID, guest.ID, core.StatusSent); err != nil {
			// The mail is out; a stale status is not a send failure.
			logrus.WithFields(logrus.Fields{"guest_id": guest.ID}).WithError(err).Warn("Could not record sent status")
		}
	}
	return nil
}
