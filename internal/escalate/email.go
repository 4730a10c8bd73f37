package escalate

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig holds the SMTP server configuration for the office email
// channel.
type SMTPConfig struct {
	Host     string
	Port     string // 25, 587, 465
	From     string
	Username string
	Password string
	TLS      string // "none", "starttls", "tls"
}

// Valid returns true if the minimum required fields are set.
func (c SMTPConfig) Valid() bool {
	return c.Host != "" && c.Port != "" && c.From != ""
}

// EmailSender delivers escalation summaries to the office inbox over SMTP.
type EmailSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
	// dialFunc allows injecting a custom dialer for testing.
	dialFunc func(addr string, tlsConfig *tls.Config, tlsMode string) (smtpClient, error)
}

// smtpClient abstracts the methods used from *smtp.Client for testing.
type smtpClient interface {
	Hello(localName string) error
	Extension(ext string) (bool, string)
	StartTLS(config *tls.Config) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// NewEmailSender creates an email Sender for the "email" channel.
func NewEmailSender(cfg SMTPConfig, logger *slog.Logger) *EmailSender {
	return &EmailSender{
		cfg:      cfg,
		logger:   logger.With("component", "email"),
		dialFunc: defaultDial,
	}
}

// Send implements Sender. target is the recipient email address; the
// provider id for email is synthetic since SMTP has no accept id.
func (s *EmailSender) Send(ctx context.Context, target string, msg Message) (string, error) {
	if !s.cfg.Valid() {
		return "", fmt.Errorf("email: smtp not configured")
	}
	if target == "" {
		return "", fmt.Errorf("email: no recipient address")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	body := buildEmail(s.cfg.From, target, msg)

	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	client, err := s.dialFunc(addr, tlsConfig, s.cfg.TLS)
	if err != nil {
		return "", fmt.Errorf("email: connecting to smtp server: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return "", fmt.Errorf("email: smtp hello: %w", err)
	}

	if strings.EqualFold(s.cfg.TLS, "starttls") {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return "", fmt.Errorf("email: smtp starttls: %w", err)
			}
		}
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return "", fmt.Errorf("email: smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return "", fmt.Errorf("email: smtp mail from: %w", err)
	}
	if err := client.Rcpt(target); err != nil {
		return "", fmt.Errorf("email: smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("email: smtp data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return "", fmt.Errorf("email: smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("email: smtp data close: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.logger.Warn("smtp quit error (non-fatal)", "error", err)
	}

	s.logger.Info("escalation email sent", "to", target, "call_id", msg.CallID, "tier", msg.Tier)
	return "smtp:" + msg.CallID, nil
}

// defaultDial connects to the SMTP server using either plain TCP or
// implicit TLS.
func defaultDial(addr string, tlsConfig *tls.Config, tlsMode string) (smtpClient, error) {
	if strings.EqualFold(tlsMode, "tls") {
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, tlsConfig.ServerName)
	}

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	return smtp.NewClient(conn, host)
}

// buildEmail constructs the plain-text email message bytes.
func buildEmail(from, to string, msg Message) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&buf, "\r\n")
	buf.WriteString(msg.Body)
	return buf.Bytes()
}
