package receipts

import (
	"context"
	"io"

	"ecommerce-backend/logging"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Attachment is a file sent along with an email. ContentType falls back to
// the type implied by Name's extension when empty.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

type Email struct {
	To         string
	Subject    string
	HTML       string
	Attachment *Attachment
}

type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// SMTPMailer delivers mail through an SMTP relay.
type SMTPMailer struct {
	from string
	send func(m ...*gomail.Message) error
}

func NewSMTPMailer(host string, port int, user, password, from string) *SMTPMailer {
	dialer := gomail.NewDialer(host, port, user, password)
	return &SMTPMailer{from: from, send: dialer.DialAndSend}
}

func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.send(m.message(email))
}

func (m *SMTPMailer) message(email Email) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetBody("text/html", email.HTML)
	if a := email.Attachment; a != nil {
		settings := []gomail.FileSetting{gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(a.Content)
			return err
		})}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}))
		}
		msg.Attach(a.Name, settings...)
	}
	return msg
}

// LogMailer only logs. It stands in when no SMTP relay is configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, email Email) error {
	logging.FromContext(ctx).Info("email_skipped_no_smtp",
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
	)
	return nil
}
