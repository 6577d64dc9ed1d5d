package mailer

import (
	"context"
	"fmt"
	"html"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Dialer is the subset of gomail.Dialer used by the mailer.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends notification emails over SMTP.
type Mailer struct {
	from   string
	dialer Dialer
	logger zerolog.Logger
}

// New constructs a mailer backed by gomail.
func New(cfg Config, logger zerolog.Logger) (*Mailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp host and sender must be provided")
	}
	return NewWithDialer(cfg.From, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), logger), nil
}

// NewWithDialer constructs a mailer around an existing dialer.
func NewWithDialer(from string, dialer Dialer, logger zerolog.Logger) *Mailer {
	return &Mailer{
		from:   from,
		dialer: dialer,
		logger: logger.With().Str("component", "mailer").Logger(),
	}
}

// Send delivers a notification email. link is rendered when non-empty.
func (m *Mailer) Send(ctx context.Context, to, subject, body, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", plainBody(body, link))
	msg.AddAlternative("text/html", htmlBody(body, link))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	m.logger.Debug().Str("to", to).Msg("email delivered")
	return nil
}

func plainBody(body, link string) string {
	if link == "" {
		return body
	}
	return body + "\n\n" + link
}

func htmlBody(body, link string) string {
	out := "<p>" + html.EscapeString(body) + "</p>"
	if link != "" {
		escaped := html.EscapeString(link)
		out += `<p><a href="` + escaped + `">` + escaped + "</a></p>"
	}
	return out
}
