package notify

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig holds SMTP transport settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

// SMTPChannel delivers notifications as email with the event report
// attached as a PDF.
type SMTPChannel struct {
	config  SMTPConfig
	timeout time.Duration
}

// SMTPOption configures the channel.
type SMTPOption func(*SMTPChannel)

// WithSMTPTimeout overrides the default connection timeout.
func WithSMTPTimeout(timeout time.Duration) SMTPOption {
	return func(ch *SMTPChannel) {
		if timeout > 0 {
			ch.timeout = timeout
		}
	}
}

// NewSMTPChannel constructs an SMTP channel.
func NewSMTPChannel(config SMTPConfig, opts ...SMTPOption) (*SMTPChannel, error) {
	if config.Host == "" {
		return nil, errors.New("smtp channel: empty host")
	}
	if config.Port <= 0 {
		config.Port = 25
	}
	if config.From == "" {
		return nil, errors.New("smtp channel: empty from address")
	}
	channel := &SMTPChannel{config: config, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send delivers one message over SMTP.
func (c *SMTPChannel) Send(ctx context.Context, msg Message) error {
	if c == nil {
		return errors.New("smtp channel: nil channel")
	}
	if msg.To == "" {
		return errors.New("smtp channel: empty recipient")
	}

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp channel: connect %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, c.config.Host)
	if err != nil {
		return fmt.Errorf("smtp channel: handshake: %w", err)
	}
	defer client.Close()

	if c.config.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: c.config.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("smtp channel: starttls: %w", err)
		}
	}

	if c.config.Username != "" && c.config.Password != "" {
		auth := smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp channel: auth: %w", err)
		}
	}

	if err := client.Mail(c.config.From); err != nil {
		return fmt.Errorf("smtp channel: mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp channel: rcpt to: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp channel: data: %w", err)
	}
	if _, err := writer.Write([]byte(buildMIMEMessage(c.config.From, msg))); err != nil {
		return fmt.Errorf("smtp channel: write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp channel: close data: %w", err)
	}

	// A failed QUIT after an accepted DATA is not a delivery failure.
	_ = client.Quit()
	return nil
}

// buildMIMEMessage renders a multipart/mixed message with a text body
// and an optional PDF attachment.
func buildMIMEMessage(from string, msg Message) string {
	var out strings.Builder

	out.WriteString(fmt.Sprintf("From: %s\r\n", from))
	out.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	out.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	out.WriteString("MIME-Version: 1.0\r\n")

	if len(msg.Attachment) == 0 {
		out.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		out.WriteString("\r\n")
		out.WriteString(msg.Body)
		out.WriteString("\r\n")
		return out.String()
	}

	boundary := fmt.Sprintf("boundary_%d", time.Now().UnixNano())
	out.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q\r\n", boundary))
	out.WriteString("\r\n")

	out.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	out.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	out.WriteString("\r\n")
	out.WriteString(msg.Body)
	out.WriteString("\r\n")

	name := msg.AttachmentName
	if name == "" {
		name = "report.pdf"
	}
	out.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	out.WriteString("Content-Type: application/pdf\r\n")
	out.WriteString("Content-Transfer-Encoding: base64\r\n")
	out.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=%q\r\n", name))
	out.WriteString("\r\n")
	out.WriteString(wrapBase64(base64.StdEncoding.EncodeToString(msg.Attachment)))
	out.WriteString("\r\n")

	out.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return out.String()
}

// wrapBase64 folds encoded content at the 76 columns RFC 2045 allows.
func wrapBase64(encoded string) string {
	const width = 76
	var out strings.Builder
	for len(encoded) > width {
		out.WriteString(encoded[:width])
		out.WriteString("\r\n")
		encoded = encoded[width:]
	}
	out.WriteString(encoded)
	return out.String()
}
