package notify

import (
	"net/smtp"
	"strings"
	"testing"

	"jamfwatch/internal/config"
)

func TestSend_SkippedWhenUnconfigured(t *testing.T) {
	t.Parallel()

	m := NewMailer(config.EmailSettings{})
	called := false
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}

	if err := m.Send("body", "run.log", []byte("log")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if called {
		t.Error("delivery attempted without a configured host")
	}
}

func TestSend_BuildsMultipartMessage(t *testing.T) {
	t.Parallel()

	m := NewMailer(config.EmailSettings{
		Host:    "smtp.example.com",
		Port:    25,
		From:    "jamfwatch@example.com",
		To:      "admins@example.com",
		Subject: "jamfwatch change log",
	})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := m.Send("Created: scripts: Fix Keychain\n", "run.log", []byte("log line\n")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotAddr != "smtp.example.com:25" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotFrom != "jamfwatch@example.com" || len(gotTo) != 1 || gotTo[0] != "admins@example.com" {
		t.Errorf("envelope = %q -> %v", gotFrom, gotTo)
	}

	msg := string(gotMsg)
	for _, want := range []string{
		"Subject: jamfwatch change log @",
		"multipart/mixed",
		"Created: scripts: Fix Keychain",
		`attachment; filename="run.log"`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}
