package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/jobs"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mail"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/recovery"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

func main() {
	// .env is loaded best-effort; real environment variables win
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// init logger
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting service-auth-go", "env", cfg.Env, "addr", cfg.HTTPAddr)

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// init db
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	credentials := userrepo.NewCredentialRepo(db)
	if err := credentials.EnsureTable(ctx); err != nil {
		sugar.Fatalf("ensure credentials table: %v", err)
	}

	// notification pipeline
	selector := mail.NewSelector(mail.ModeFor(cfg.Env), cfg.Mail)
	sugar.Infow("mail transport selected", "transport", selector.Transport().String())
	dispatcher := notification.NewDispatcher(mail.MustNewRenderer(), selector, mail.NewSMTPMailer(sugar), cfg.Mail.SendTimeout, sugar)

	queue := jobs.NewQueue(sugar, jobs.Options{
		Size:    cfg.Queue.Size,
		Workers: cfg.Queue.Workers,
		Retry: jobs.RetryPolicy{
			MaxAttempts:    cfg.Queue.MaxAttempts,
			InitialBackoff: cfg.Queue.InitialBackoff,
			MaxBackoff:     cfg.Queue.MaxBackoff,
		},
	})
	queue.Start()
	notifier := notification.NewNotifier(queue, dispatcher, sugar)

	// services
	tokens := token.NewService(cfg.Token)
	hasher := user.BcryptHasher{Cost: 12}
	userSvc := user.NewUserService(credentials, hasher, notifier, tokens, cfg.PublicURL, sugar)
	recoverySvc := recovery.NewService(credentials, hasher, notifier, tokens, recovery.DigitOTP{Length: 6}, cfg.PublicURL, sugar)

	clients, err := session.NewClientResolver(cfg.TrustedProxies)
	if err != nil {
		sugar.Fatalf("trusted proxies: %v", err)
	}

	// mount http server
	handler := router.RegisterRoutes(sugar, router.Handlers{
		User:     user.NewHandler(userSvc, clients, sugar),
		Recovery: recovery.NewHandler(recoverySvc, sugar),
		Session:  session.Middleware(tokens, sugar),
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	sugar.Info("service is running; press Ctrl+C to stop")
	<-ctx.Done()
	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// stop accepting requests before draining the queue
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	if err := queue.Stop(doneCtx); err != nil {
		sugar.Warnf("job queue shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
