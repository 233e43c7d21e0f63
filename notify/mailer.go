// Package notify hands rendered invitations to an email transport.
package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

var ErrNoRecipient = errors.New("message has no recipient")

// Message is one personalized invitation. The image is sent both inline and
// as an attachment.
type Message struct {
	To             string
	ToName         string
	Subject        string
	Body           string
	AttachmentName string
	Image          []byte
}

// Mailer delivers messages. Delivery mechanics belong to the implementation.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer logs messages instead of delivering them.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"to":         msg.To,
		"subject":    msg.Subject,
		"attachment": msg.AttachmentName,
		"bytes":      len(msg.Image),
	}).Info("Invitation handed to mailer")
	return nil
}
