// Package mail sends contact-form messages over SMTP.
package mail

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

// Sender delivers mail through a single configured SMTP account.
type Sender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New returns a Sender for the given SMTP endpoint.
func New(host string, port int, username, password, from, to string) *Sender {
	return &Sender{
		Host: host, Port: port,
		Username: username, Password: password,
		From: from, To: to,
		send: smtp.SendMail,
	}
}

// Enabled reports whether the sender is configured.
func (s *Sender) Enabled() bool {
	return s != nil && s.Host != "" && s.To != ""
}

// Send delivers one message to the configured recipient. replyTo is the
// address the submitting user gave, surfaced in the headers and the body.
func (s *Sender) Send(replyTo, subject, body string) error {
	if !s.Enabled() {
		return errors.New("mail is not configured")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", s.To)
	if replyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", replyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(subject))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	return s.send(addr, auth, s.From, []string{s.To}, []byte(b.String()))
}

// sanitizeHeader strips CR/LF so user input cannot inject extra headers.
func sanitizeHeader(v string) string {
	v = strings.ReplaceAll(v, "\r", " ")
	return strings.ReplaceAll(v, "\n", " ")
}
