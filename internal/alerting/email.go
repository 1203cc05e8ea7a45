package alerting

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailConfig holds SMTP settings for the email channel.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string

	// SendMail defaults to smtp.SendMail.
	SendMail SendMailFunc
}

// EmailChannel sends notifications by email.
type EmailChannel struct {
	config EmailConfig
}

// NewEmailChannel creates an email channel.
func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.SendMail == nil {
		cfg.SendMail = smtp.SendMail
	}
	return &EmailChannel{config: cfg}
}

// Name implements Channel.
func (c *EmailChannel) Name() string { return "email" }

// Deliver implements Channel. smtp.SendMail has no context support, so ctx
// is only checked before sending.
func (c *EmailChannel) Deliver(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(c.config.To) == 0 {
		return errors.New("email channel has no recipients")
	}

	var auth smtp.Auth
	if c.config.Username != "" {
		auth = smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.Host)
	}

	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
	if err := c.config.SendMail(addr, auth, c.config.From, c.config.To, c.message(n)); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	return nil
}

func (c *EmailChannel) message(n Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.config.To, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(string(n.Severity)), n.Title)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "%s\r\n\r\n", n.Message)
	fmt.Fprintf(&b, "Type: %s\r\nSource: %s\r\nTime: %s\r\nAlert ID: %s\r\n",
		n.Type, n.Source, n.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"), n.ID)
	for k, v := range n.Metadata {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	return []byte(b.String())
}
