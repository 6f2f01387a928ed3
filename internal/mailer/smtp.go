// Package mailer delivers chatbot mail commands over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

const (
	defaultPort     = 587
	defaultTimeout  = 10 * time.Second
	defaultFromName = "Chatbot"
)

// TLS modes accepted in Config.TLS.
const (
	TLSStartTLS = "starttls"
	TLSImplicit = "ssl"
	TLSNone     = "none"
)

// ErrNotConfigured is returned by Send when no SMTP host or sender address is set.
var ErrNotConfigured = errors.New("mailer not configured")

// Config holds SMTP connection settings.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	TLS         string // "starttls" (default), "ssl" or "none"
	Timeout     time.Duration
}

// SMTP sends HTML mail with a plain-text alternative.
type SMTP struct {
	cfg Config
}

// New returns an SMTP mailer, filling unset fields with defaults.
func New(cfg Config) *SMTP {
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	cfg.TLS = strings.ToLower(strings.TrimSpace(cfg.TLS))
	if cfg.TLS == "" {
		cfg.TLS = TLSStartTLS
	}
	return &SMTP{cfg: cfg}
}

// IsConfigured reports whether a host and a sender address are set.
func (s *SMTP) IsConfigured() bool {
	return s != nil && s.cfg.Host != "" && s.cfg.FromAddress != ""
}

// Send delivers one message. The whole dial-and-send exchange is bounded by
// the configured timeout.
func (s *SMTP) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	msg, err := s.buildMessage(to, subject, htmlBody, textBody)
	if err != nil {
		return err
	}

	opts, err := s.clientOptions()
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}
	return nil
}

func (s *SMTP) buildMessage(to, subject, htmlBody, textBody string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(s.cfg.FromName, s.cfg.FromAddress); err != nil {
		return nil, fmt.Errorf("setting sender: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("setting recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, textBody)
	msg.AddAlternativeString(mail.TypeTextHTML, htmlBody)
	return msg, nil
}

func (s *SMTP) clientOptions() ([]mail.Option, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
	}

	switch s.cfg.TLS {
	case TLSStartTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	case TLSImplicit:
		opts = append(opts, mail.WithSSL())
	case TLSNone:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		return nil, fmt.Errorf("unknown smtp tls mode %q", s.cfg.TLS)
	}

	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts, nil
}
