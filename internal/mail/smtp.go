package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	netmail "net/mail"
	"net/smtp"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
)

// Message is a single outbound email. Text is always derived from HTML.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers a message through a transport. Implementations make exactly
// one attempt and must honour ctx cancellation and deadlines.
type Mailer interface {
	Send(ctx context.Context, transport TransportConfig, msg Message) error
}

// ErrTLSRequired is returned when the transport requires STARTTLS and the
// server does not offer it.
var ErrTLSRequired = errors.New("server does not support STARTTLS")

// TransportError wraps any failure talking to the mail host.
type TransportError struct {
	Host string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("smtp %s: %v", e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SMTPMailer speaks SMTP directly so that dial, handshake and data transfer
// all share the caller's deadline.
type SMTPMailer struct {
	log *zap.SugaredLogger
	// LocalName is sent in EHLO.
	LocalName string
}

func NewSMTPMailer(log *zap.SugaredLogger) *SMTPMailer {
	return &SMTPMailer{log: log.Named("smtp"), LocalName: "localhost"}
}

func (m *SMTPMailer) Send(ctx context.Context, tc TransportConfig, msg Message) error {
	start := time.Now()
	if err := m.send(ctx, tc, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		metrics.MailSendFailure.WithLabelValues(tc.Host).Inc()
		m.log.Warnw("mail delivery failed",
			"host", tc.Host,
			"to", msg.To,
			"subject", msg.Subject,
			"error", err)
		return &TransportError{Host: tc.Host, Err: err}
	}
	metrics.MailSendSuccess.WithLabelValues(tc.Host).Inc()
	m.log.Infow("mail delivered",
		"host", tc.Host,
		"to", msg.To,
		"subject", msg.Subject,
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0)
	return nil
}

func (m *SMTPMailer) send(ctx context.Context, tc TransportConfig, msg Message) error {
	from, err := netmail.ParseAddress(msg.From)
	if err != nil {
		return fmt.Errorf("parse from address: %w", err)
	}
	to, err := netmail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("parse to address: %w", err)
	}

	tlsConfig := &tls.Config{ServerName: tc.Host, MinVersion: tls.VersionTLS12}
	dialer := &net.Dialer{}
	var conn net.Conn
	if tc.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", tc.Addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", tc.Addr())
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock any pending read or write once ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	c, err := smtp.NewClient(conn, tc.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("handshake: %w", err)
	}
	defer c.Close()

	if err := c.Hello(m.LocalName); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	if !tc.ImplicitTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		} else if tc.RequireTLS {
			return ErrTLSRequired
		}
	}
	if tc.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", tc.Username, tc.Password, tc.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(from.Address); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(to.Address); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := buildMessage(msg).WriteTo(w); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return c.Quit()
}

func buildMessage(msg Message) *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetHeader("From", msg.From)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.Text)
	gm.AddAlternative("text/html", msg.HTML)
	return gm
}
