package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mail"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// reminderSender delivers a reminder synchronously.
type reminderSender interface {
	SendReminder(ctx context.Context, to notification.Recipient, url string) error
}

// senderFactory builds the sender and a cleanup func.
type senderFactory func() (reminderSender, func(), error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(newDispatcher, os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newDispatcher() (reminderSender, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	sugar := lg.Sugar()
	selector := mail.NewSelector(mail.ModeFor(cfg.Env), cfg.Mail)
	d := notification.NewDispatcher(mail.MustNewRenderer(), selector, mail.NewSMTPMailer(sugar), cfg.Mail.SendTimeout, sugar)
	return d, func() { _ = lg.Sync() }, nil
}

func newRootCommand(build senderFactory, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "reminder",
		Short:        "Send Attendance check-out reminders",
		SilenceUsage: true,
	}
	root.AddCommand(newSendCommand(build, out))
	return root
}

func newSendCommand(build senderFactory, out io.Writer) *cobra.Command {
	var (
		to      string
		name    string
		url     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Deliver one reminder now, bypassing the job queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sender, cleanup, err := build()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := sender.SendReminder(ctx, notification.Recipient{Email: to, Name: name}, url); err != nil {
				return fmt.Errorf("send reminder to %s: %w", to, err)
			}
			_, _ = fmt.Fprintf(out, "reminder sent to %s\n", to)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Recipient email address")
	cmd.Flags().StringVar(&name, "name", "", "Recipient display name")
	cmd.Flags().StringVar(&url, "url", "", "Check-out page URL")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Overall deadline")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}
