package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/jobs"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
)

// ErrQueueSubmission is returned when the job queue refuses a notification.
var ErrQueueSubmission = errors.New("notification could not be queued")

// Notifier submits dispatcher calls as deduplicated background jobs. The
// job body is a closure; nothing is rendered or sent until a worker runs it.
// Reminders are never queued; callers use Dispatcher.SendReminder.
type Notifier struct {
	queue      jobs.Enqueuer
	dispatcher *Dispatcher
	log        *zap.SugaredLogger
}

func NewNotifier(queue jobs.Enqueuer, dispatcher *Dispatcher, log *zap.SugaredLogger) *Notifier {
	return &Notifier{queue: queue, dispatcher: dispatcher, log: log.Named("notifier")}
}

func (n *Notifier) SendConfirmation(ctx context.Context, to Recipient, url string) error {
	return n.enqueue(ctx, KindConfirmation, to, func(ctx context.Context) error {
		return n.dispatcher.SendConfirmation(ctx, to, url)
	})
}

func (n *Notifier) SendForgotPassword(ctx context.Context, to Recipient, url string) error {
	return n.enqueue(ctx, KindForgotPassword, to, func(ctx context.Context) error {
		return n.dispatcher.SendForgotPassword(ctx, to, url)
	})
}

func (n *Notifier) SendNotification(ctx context.Context, to Recipient, details AlertDetails) error {
	return n.enqueue(ctx, KindNotification, to, func(ctx context.Context) error {
		return n.dispatcher.SendNotification(ctx, to, details)
	})
}

func (n *Notifier) SendOTP(ctx context.Context, to Recipient, otp string) error {
	return n.enqueue(ctx, KindOTP, to, func(ctx context.Context) error {
		return n.dispatcher.SendOTP(ctx, to, otp)
	})
}

func (n *Notifier) SendResetPassword(ctx context.Context, to Recipient) error {
	return n.enqueue(ctx, KindResetPassword, to, func(ctx context.Context) error {
		return n.dispatcher.SendResetPassword(ctx, to)
	})
}

func (n *Notifier) SendUpdatePassword(ctx context.Context, to Recipient) error {
	return n.enqueue(ctx, KindUpdatePassword, to, func(ctx context.Context) error {
		return n.dispatcher.SendUpdatePassword(ctx, to)
	})
}

func (n *Notifier) enqueue(ctx context.Context, kind Kind, to Recipient, task jobs.Task) error {
	key := DedupKey(kind, to.Email)
	if err := n.queue.Enqueue(ctx, key, task); err != nil {
		metrics.NotificationSubmitFailures.WithLabelValues(string(kind)).Inc()
		n.log.Errorw("Failed to queue notification", "kind", kind, "key", key, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrQueueSubmission, key, err)
	}
	n.log.Debugw("Notification queued", "kind", kind, "key", key)
	return nil
}
