package notify

import (
	"context"
	"errors"
	"net/smtp"

	"github.com/jordan-wright/email"
)

// MailTransport はメールの送信手段。
type MailTransport interface {
	Send(mail *email.Email) error
}

// SMTPTransport はSMTPでメールを送信する。
type SMTPTransport struct {
	addr string
	auth smtp.Auth
}

// NewSMTPTransport は SMTPTransport を生成する。user が空の場合は認証しない。
func NewSMTPTransport(addr, host, user, password string) *SMTPTransport {
	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, password, host)
	}
	return &SMTPTransport{addr: addr, auth: auth}
}

// Send はメールを送信する。
func (t *SMTPTransport) Send(mail *email.Email) error {
	return mail.Send(t.addr, t.auth)
}

// EmailNotifier はメール通知を組み立てて送信する。
type EmailNotifier struct {
	transport MailTransport
	from      string
}

// NewEmailNotifier は EmailNotifier を生成する。
func NewEmailNotifier(transport MailTransport, from string) *EmailNotifier {
	return &EmailNotifier{transport: transport, from: from}
}

// Send は1宛先にメールを送る。
func (n *EmailNotifier) Send(ctx context.Context, to string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == "" {
		return errors.New("empty email recipient")
	}
	mail := email.NewEmail()
	mail.From = n.from
	mail.To = []string{to}
	mail.Subject = msg.Subject
	mail.Text = []byte(msg.Body)
	if msg.ActivationID != "" {
		mail.Headers.Set("X-Breakglass-Activation", msg.ActivationID)
	}
	return n.transport.Send(mail)
}
