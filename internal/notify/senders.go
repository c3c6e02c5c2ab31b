package notify

import (
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"ascms.org/internal/config"
	"ascms.org/internal/obs"
)

// SMTPSender sends messages through an SMTP relay. PLAIN auth is used when a username
// is configured.
type SMTPSender struct {
	addr     string
	host     string
	from     string
	auth     smtp.Auth
	now      func() time.Time
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg config.SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	s := &SMTPSender{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:     cfg.Host,
		from:     cfg.From,
		now:      time.Now,
		sendMail: smtp.SendMail,
	}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return s, nil
}

func (s *SMTPSender) Send(m Message) error {
	if strings.ContainsAny(m.To, "\r\n") {
		return fmt.Errorf("smtp: invalid recipient")
	}
	if err := s.sendMail(s.addr, s.auth, s.from, []string{m.To}, s.build(m)); err != nil {
		obs.Error("email delivery failed", map[string]any{"to": m.To, "subject": m.Subject, "error": err.Error()})
		return fmt.Errorf("smtp send: %w", err)
	}
	obs.Info("email sent", map[string]any{"to": m.To, "subject": m.Subject})
	return nil
}

func (s *SMTPSender) build(m Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + s.from + "\r\n")
	b.WriteString("To: " + m.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", m.Subject) + "\r\n")
	b.WriteString("Date: " + s.now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.HTML, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// LogSender writes messages to the structured log instead of sending them. Bodies of
// messages that carry credentials are left out.
type LogSender struct{}

func (LogSender) Send(m Message) error {
	fields := map[string]any{"to": m.To, "subject": m.Subject}
	if !m.Secret {
		fields["body"] = m.HTML
	}
	obs.Info("email (not sent, smtp disabled)", fields)
	return nil
}
