// Package notify delivers workflow notifications via SMTP.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service sends transition notifications as plain text email. An
// unconfigured service drops messages silently so the engine never blocks
// on mail in development.
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Notify sends a plain text email to the recipients.
func (s *Service) Notify(ctx context.Context, to []string, subject, message string) error {
	if !s.IsConfigured() {
		return nil
	}
	if len(to) == 0 {
		return nil
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", message)

	if err := ctx.Err(); err != nil {
		return err
	}
	return smtp.SendMail(s.server, s.auth, s.config.From, to, []byte(msg.String()))
}
