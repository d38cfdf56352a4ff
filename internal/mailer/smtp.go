package mailer

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mailship/mailship/internal/mailing"
)

// SMTPSender delivers mail over a configured SMTP relay.
type SMTPSender struct {
	settings mailing.SMTPSettings
	dialer   net.Dialer
}

// NewSMTPSender builds an SMTP sender from stored settings.
func NewSMTPSender(settings mailing.SMTPSettings) *SMTPSender {
	return &SMTPSender{
		settings: settings,
		dialer:   net.Dialer{Timeout: 10 * time.Second},
	}
}

func (s *SMTPSender) Name() string { return "smtp" }

// encryption returns the effective transport mode: the configured one, or an
// inference from the port when unset (465 implies implicit TLS, 587 STARTTLS).
func (s *SMTPSender) encryption() string {
	if s.settings.Encryption != "" {
		return s.settings.Encryption
	}
	switch s.settings.Port {
	case 465:
		return "ssl"
	case 587:
		return "tls"
	}
	return "none"
}

// Send delivers one message, honoring ctx for connect and send deadlines.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	start := time.Now()
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.settings.Host)
	raw := s.buildMIME(msg, messageID)

	addr := fmt.Sprintf("%s:%d", s.settings.Host, s.settings.Port)
	var auth smtp.Auth
	if s.settings.Username != "" {
		auth = smtp.PlainAuth("", s.settings.Username, s.settings.Password, s.settings.Host)
	}

	errCh := make(chan error, 1)
	go func() {
		if s.encryption() == "ssl" {
			errCh <- s.sendImplicitTLS(ctx, addr, auth, msg.To, msg.FromEmail, raw)
		} else {
			errCh <- s.sendSTARTTLS(ctx, addr, auth, msg.To, msg.FromEmail, raw)
		}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("smtp send to %s: %w", msg.To, ctx.Err())
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
	}

	return &SendResult{
		MessageID: messageID,
		Provider:  s.Name(),
		Duration:  time.Since(start),
	}, nil
}

// sendImplicitTLS opens a TLS session from the first byte, as port 465 expects.
func (s *SMTPSender) sendImplicitTLS(ctx context.Context, addr string, auth smtp.Auth, to, from string, raw []byte) error {
	conn, err := tls.DialWithDialer(&s.dialer, "tcp", addr, &tls.Config{ServerName: s.settings.Host})
	if err != nil {
		return fmt.Errorf("tls dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.settings.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	return s.transact(client, auth, to, from, raw)
}

// sendSTARTTLS connects in plaintext and upgrades when the server offers it.
func (s *SMTPSender) sendSTARTTLS(ctx context.Context, addr string, auth smtp.Auth, to, from string, raw []byte) error {
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.settings.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.settings.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	return s.transact(client, auth, to, from, raw)
}

func (s *SMTPSender) transact(client *smtp.Client, auth smtp.Auth, to, from string, raw []byte) error {
	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return client.Quit()
}

// buildMIME assembles a multipart/alternative message with text and HTML parts.
func (s *SMTPSender) buildMIME(msg *Message, messageID string) []byte {
	boundary := "b-" + uuid.New().String()
	text := msg.Text
	if text == "" {
		text = htmlToText(msg.HTML)
	}

	fromEmail := msg.FromEmail
	if fromEmail == "" {
		fromEmail = s.settings.FromEmail
	}
	fromName := msg.FromName
	if fromName == "" {
		fromName = s.settings.FromName
	}
	replyTo := msg.ReplyTo
	if replyTo == "" {
		replyTo = s.settings.ReplyTo
	}

	var b strings.Builder
	writeHeader := func(k, v string) {
		b.WriteString(k + ": " + v + "\r\n")
	}
	writeHeader("Message-ID", messageID)
	writeHeader("Date", time.Now().Format(time.RFC1123Z))
	if fromName != "" {
		writeHeader("From", fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", fromName), fromEmail))
	} else {
		writeHeader("From", fromEmail)
	}
	if msg.ToName != "" {
		writeHeader("To", fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.ToName), msg.To))
	} else {
		writeHeader("To", msg.To)
	}
	if replyTo != "" {
		writeHeader("Reply-To", replyTo)
	}
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("MIME-Version", "1.0")
	for k, v := range msg.Headers {
		writeHeader(k, v)
	}
	writeHeader("Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, boundary))
	b.WriteString("\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString(wrapBase64(text))
	b.WriteString("\r\n--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString(wrapBase64(msg.HTML))
	b.WriteString("\r\n--" + boundary + "--\r\n")
	return []byte(b.String())
}

// wrapBase64 encodes s and folds the output at 76 columns per RFC 2045.
func wrapBase64(s string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(s))
	var b strings.Builder
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	return b.String()
}
