package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mail"
)

var (
	ErrRenderFailure    = errors.New("notification render failure")
	ErrTransportFailure = errors.New("notification transport failure")
)

const defaultSendTimeout = 15 * time.Second

// Dispatcher renders a notification and performs exactly one delivery
// attempt. It keeps no per-recipient state; retries belong to the caller.
type Dispatcher struct {
	renderer *mail.Renderer
	selector *mail.Selector
	mailer   mail.Mailer
	timeout  time.Duration
	log      *zap.SugaredLogger
}

func NewDispatcher(renderer *mail.Renderer, selector *mail.Selector, mailer mail.Mailer, timeout time.Duration, log *zap.SugaredLogger) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Dispatcher{
		renderer: renderer,
		selector: selector,
		mailer:   mailer,
		timeout:  timeout,
		log:      log.Named("dispatcher"),
	}
}

// Send renders tmpl with vars and delivers it to the recipient. The sender
// address comes from the selected transport, never from the caller.
func (d *Dispatcher) Send(ctx context.Context, to Recipient, subject string, tmpl mail.Template, vars map[string]any) error {
	html, text, err := d.renderer.Render(tmpl, vars)
	if err != nil {
		d.log.Errorw("Failed to render notification", "template", tmpl, "to", to.Email, "error", err)
		return fmt.Errorf("%w: %w", ErrRenderFailure, err)
	}

	transport := d.selector.Transport()
	msg := mail.Message{
		From:    transport.From,
		To:      to.Email,
		Subject: subject,
		HTML:    html,
		Text:    text,
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.mailer.Send(ctx, transport, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}
	d.log.Debugw("Notification delivered", "template", tmpl, "to", to.Email, "mode", transport.Mode)
	return nil
}

func (d *Dispatcher) send(ctx context.Context, to Recipient, kind Kind, vars map[string]any) error {
	if vars == nil {
		vars = map[string]any{}
	}
	vars["name"] = to.Name
	return d.Send(ctx, to, kind.Subject(), kind.Template(), vars)
}

// SendConfirmation delivers the account activation link.
func (d *Dispatcher) SendConfirmation(ctx context.Context, to Recipient, url string) error {
	return d.send(ctx, to, KindConfirmation, map[string]any{"url": url})
}

// SendForgotPassword delivers the password reset link.
func (d *Dispatcher) SendForgotPassword(ctx context.Context, to Recipient, url string) error {
	return d.send(ctx, to, KindForgotPassword, map[string]any{"url": url})
}

// SendNotification delivers a security alert.
func (d *Dispatcher) SendNotification(ctx context.Context, to Recipient, details AlertDetails) error {
	return d.send(ctx, to, KindNotification, details.vars())
}

// SendOTP delivers a one-time password. The value is passed through as is.
func (d *Dispatcher) SendOTP(ctx context.Context, to Recipient, otp string) error {
	return d.send(ctx, to, KindOTP, map[string]any{"otp": otp})
}

// SendReminder delivers the daily check-out reminder.
func (d *Dispatcher) SendReminder(ctx context.Context, to Recipient, url string) error {
	return d.send(ctx, to, KindReminder, map[string]any{"url": url})
}

// SendResetPassword confirms a completed password reset.
func (d *Dispatcher) SendResetPassword(ctx context.Context, to Recipient) error {
	return d.send(ctx, to, KindResetPassword, nil)
}

// SendUpdatePassword confirms a password change.
func (d *Dispatcher) SendUpdatePassword(ctx context.Context, to Recipient) error {
	return d.send(ctx, to, KindUpdatePassword, nil)
}
