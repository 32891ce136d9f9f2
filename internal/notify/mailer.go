// Package notify delivers the rendered cycle report by email.
package notify

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"jamfwatch/internal/config"
	"jamfwatch/internal/logging"
)

// Mailer sends cycle reports over SMTP with STARTTLS.
type Mailer struct {
	settings config.EmailSettings
	// send is swappable in tests; defaults to smtpSend.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewMailer creates a Mailer from the email settings.
func NewMailer(settings config.EmailSettings) *Mailer {
	return &Mailer{settings: settings, send: smtpSend}
}

// Enabled reports whether delivery is configured at all.
func (m *Mailer) Enabled() bool {
	return m.settings.Host != ""
}

// Send delivers the report body with the run log attached. The subject
// is stamped with the delivery time so repeated reports stay distinct.
func (m *Mailer) Send(body string, logName string, logData []byte) error {
	if !m.Enabled() {
		logging.Debug("Notify", "email delivery not configured, skipping")
		return nil
	}

	var auth smtp.Auth
	if m.settings.Username != "" && m.settings.Password != "" {
		auth = smtp.PlainAuth("", m.settings.Username, m.settings.Password, m.settings.Host)
	} else {
		logging.Warn("Notify", "sending without SMTP authentication")
	}

	subject := fmt.Sprintf("%s @ %s", m.settings.Subject, time.Now().Format(time.RFC1123))
	msg, err := buildMessage(m.settings.From, m.settings.To, subject, body, logName, logData)
	if err != nil {
		return fmt.Errorf("building report email: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", m.settings.Host, m.settings.Port)
	if err := m.send(addr, auth, m.settings.From, []string{m.settings.To}, msg); err != nil {
		return fmt.Errorf("sending report email to %s: %w", m.settings.To, err)
	}
	logging.Info("Notify", "report emailed to %s", m.settings.To)
	return nil
}

// buildMessage assembles a multipart MIME message: plain-text body plus
// the run log as an attachment.
func buildMessage(from, to, subject, body, logName string, logData []byte) ([]byte, error) {
	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mp.Boundary())

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	part, err := mp.CreatePart(textHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write([]byte(body)); err != nil {
		return nil, err
	}

	if len(logData) > 0 {
		attachHeader := textproto.MIMEHeader{}
		attachHeader.Set("Content-Type", "application/octet-stream")
		attachHeader.Set("Content-Transfer-Encoding", "base64")
		attachHeader.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", logName))
		part, err := mp.CreatePart(attachHeader)
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(logData)
		if _, err := part.Write([]byte(encoded)); err != nil {
			return nil, err
		}
	}

	if err := mp.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// smtpSend dials, upgrades to TLS, authenticates and sends.
func smtpSend(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		host, _, _ := net.SplitHostPort(addr)
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
