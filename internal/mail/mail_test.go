package mail

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestSendBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string

	s := New("smtp.example.com", 587, "user", "pass", "noreply@example.com", "owner@example.com")
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	err := s.Send("visitor@example.com", "Hello\r\nBcc: evil@example.com", "some feedback")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Fatalf("addr=%q", gotAddr)
	}
	if gotFrom != "noreply@example.com" || len(gotTo) != 1 || gotTo[0] != "owner@example.com" {
		t.Fatalf("from=%q to=%v", gotFrom, gotTo)
	}
	if !strings.Contains(gotMsg, "Reply-To: visitor@example.com\r\n") {
		t.Fatalf("missing reply-to header:\n%s", gotMsg)
	}
	// Header injection attempts are flattened into the subject line.
	if strings.Contains(gotMsg, "\r\nBcc:") {
		t.Fatalf("header injection not neutralized:\n%s", gotMsg)
	}
	if !strings.HasSuffix(gotMsg, "some feedback\r\n") {
		t.Fatalf("body missing:\n%s", gotMsg)
	}
}

func TestSendRequiresConfiguration(t *testing.T) {
	s := New("", 0, "", "", "", "")
	if s.Enabled() {
		t.Fatalf("empty sender must not be enabled")
	}
	if err := s.Send("a@example.com", "s", "b"); err == nil {
		t.Fatalf("unconfigured send must error")
	}
}
