// Package email sends the confirmation-token messages spec.md §4.7's
// register/log_in flows require, via one of two backends: real SMTP
// delivery or an append-only JSON-lines file (for local development and
// end-to-end tests, where reading a file is easier than running an SMTP
// server). Grounded on original_source/src/email/backend.rs's
// EmailBackend/SmtpBackend/FileBackend/MultiBackend shape; net/smtp and
// encoding/json replace lettre and serde_json since the pack carries no
// higher-level Go mail library and a one-shot SMTP submission is exactly
// what net/smtp's Go-idiomatic surface (smtp.SendMail) is for.
package email

import (
	"encoding/json"
	"fmt"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/internal/config"
)

// Sender delivers a single plain-text message.
type Sender interface {
	Send(to, subject, body string) error
}

// SendConfirmationToken emails the standard "type this to confirm" message
// used by both registration and login (spec.md §4.7).
func SendConfirmationToken(sender Sender, to, token string) error {
	return sender.Send(to, "Your login credentials", fmt.Sprintf("To log in, type\n\tayb client confirm %s", token))
}

// New builds a Sender from cfg, fanning out to every backend it configures
// (SMTP, File, or both — config.Validate already enforces at least one).
func New(cfg *config.EmailConfig) Sender {
	var senders []Sender

	if cfg.SMTP != nil {
		senders = append(senders, &smtpSender{cfg: *cfg.SMTP})
	}

	if cfg.File != nil {
		senders = append(senders, &fileSender{path: cfg.File.Path})
	}

	return &multiSender{senders: senders}
}

type smtpSender struct {
	cfg config.SMTPConfig
}

func (s *smtpSender) Send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	msg := buildMessage(s.cfg.Sender, s.cfg.Sender, to, subject, body)

	if err := smtp.SendMail(addr, auth, s.cfg.Sender, []string{to}, []byte(msg)); err != nil {
		return common.Wrap(common.KindIO, "sending confirmation email", err)
	}

	return nil
}

func buildMessage(from, replyTo, to, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "Reply-To: %s\r\n", replyTo)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)

	return b.String()
}

// entry is one append-only record in the file backend's JSON-lines log,
// matching original_source's EmailEntry shape.
type entry struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	ReplyTo   string    `json:"reply_to"`
	Subject   string    `json:"subject"`
	Content   []string  `json:"content"`
	Date      time.Time `json:"date"`
}

type fileSender struct {
	path string
}

func (s *fileSender) Send(to, subject, body string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return common.Wrap(common.KindIO, "creating email file directory", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return common.Wrap(common.KindIO, "opening email file", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry{
		To:      to,
		Subject: subject,
		Content: strings.Split(body, "\n"),
		Date:    time.Now().UTC(),
	})
	if err != nil {
		return common.Wrap(common.KindIO, "encoding email entry", err)
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		return common.Wrap(common.KindIO, "writing email entry", err)
	}

	return nil
}

// multiSender fans a message out to every configured backend, succeeding
// unless all of them fail (original_source's MultiBackend semantics: a
// working file log shouldn't be treated as a delivery failure just
// because SMTP is unreachable in a dev environment, and vice versa).
type multiSender struct {
	senders []Sender
}

func (m *multiSender) Send(to, subject, body string) error {
	var errs []error

	for _, s := range m.senders {
		if err := s.Send(to, subject, body); err != nil {
			errs = append(errs, err)
		}
	}

	if len(m.senders) > 0 && len(errs) == len(m.senders) {
		return common.Wrap(common.KindIO, "all email backends failed", errs[0])
	}

	return nil
}
