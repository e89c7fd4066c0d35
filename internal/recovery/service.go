// Package recovery handles forgotten and changed passwords and OTP issuance.
// Every flow ends in a queued notification.
package recovery

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

var (
	ErrInvalidToken    = errors.New("invalid or expired token")
	ErrUnauthenticated = errors.New("session does not match an active credential")
)

// Store is the persistence capability the service needs.
type Store interface {
	GetByEmail(ctx context.Context, email string) (*entity.Credential, error)
	GetByID(ctx context.Context, id string) (*entity.Credential, error)
	UpdatePassword(ctx context.Context, id, hash, algo string, at time.Time) error
}

// Notifier queues recovery notifications.
type Notifier interface {
	SendForgotPassword(ctx context.Context, to notification.Recipient, url string) error
	SendResetPassword(ctx context.Context, to notification.Recipient) error
	SendUpdatePassword(ctx context.Context, to notification.Recipient) error
	SendNotification(ctx context.Context, to notification.Recipient, details notification.AlertDetails) error
	SendOTP(ctx context.Context, to notification.Recipient, otp string) error
}

// Tokens issues and checks reset tokens.
type Tokens interface {
	IssueStamped(purpose token.Purpose, subject, stamp string) (string, error)
	Verify(purpose token.Purpose, raw string) (*token.Claims, error)
}

// OTPGenerator produces one-time passwords. Storing and checking them is up
// to the implementation.
type OTPGenerator interface {
	Generate(ctx context.Context, userID string) (string, error)
}

// DigitOTP generates Length random decimal digits.
type DigitOTP struct{ Length int }

func (g DigitOTP) Generate(ctx context.Context, userID string) (string, error) {
	n := g.Length
	if n <= 0 {
		n = 6
	}
	var b strings.Builder
	b.Grow(n)
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
}

type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,maxbytes=72,nefield=CurrentPassword"`
}

// Service orchestrates the recovery flows. Password changes are persisted
// before any notification is queued.
type Service struct {
	store     Store
	hasher    user.PasswordHasher
	notifier  Notifier
	tokens    Tokens
	otp       OTPGenerator
	publicURL string
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewService(store Store, hasher user.PasswordHasher, notifier Notifier, tokens Tokens, otp OTPGenerator, publicURL string, log *zap.SugaredLogger) *Service {
	if hasher == nil {
		hasher = user.BcryptHasher{Cost: 12}
	}
	if otp == nil {
		otp = DigitOTP{Length: 6}
	}
	return &Service{
		store:     store,
		hasher:    hasher,
		notifier:  notifier,
		tokens:    tokens,
		otp:       otp,
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       log.Named("recovery"),
		now:       time.Now,
	}
}

// ResetURL is the link carried by the forgot-password email.
func (s *Service) ResetURL(tok string) string {
	return s.publicURL + "/reset-password?token=" + url.QueryEscape(tok)
}

// ForgotPassword queues a reset link for the active credential with the
// given email. An unknown email is not an error.
func (s *Service) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) error {
	if err := user.Validate(req); err != nil {
		return err
	}
	c, err := s.store.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			s.log.Debugw("Password reset requested for unknown email", "email", req.Email)
			return nil
		}
		return fmt.Errorf("lookup credential: %w", err)
	}
	tok, err := s.tokens.IssueStamped(token.PurposeReset, c.ID, passwordStamp(c.PasswordHash))
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}
	return s.notifier.SendForgotPassword(ctx, recipient(c), s.ResetURL(tok))
}

// ResetPassword completes a reset started by ForgotPassword. A token only
// replaces the password it was issued for, so it stops working after any
// password change, including its own.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if err := user.Validate(req); err != nil {
		return err
	}
	claims, err := s.tokens.Verify(token.PurposeReset, req.Token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	c, err := s.store.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("lookup credential: %w", err)
	}
	if !c.IsActive || claims.Stamp == "" || claims.Stamp != passwordStamp(c.PasswordHash) {
		return ErrInvalidToken
	}

	if err := s.changePassword(ctx, c, req.Password); err != nil {
		return err
	}
	if err := s.notifier.SendResetPassword(ctx, recipient(c)); err != nil {
		s.log.Errorw("Password reset without confirmation email", "userID", c.ID, "error", err)
	}
	return nil
}

// UpdatePassword changes the password of the signed-in user, then queues the
// change confirmation and a security alert describing the session.
func (s *Service) UpdatePassword(ctx context.Context, info session.Info, req UpdatePasswordRequest) error {
	if err := user.Validate(req); err != nil {
		return err
	}
	c, err := s.sessionCredential(ctx, info)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(c.PasswordHash, req.CurrentPassword) {
		return &user.ValidationError{Field: "currentPassword", Reason: "Incorrect password"}
	}

	if err := s.changePassword(ctx, c, req.NewPassword); err != nil {
		return err
	}
	to := recipient(c)
	if err := s.notifier.SendUpdatePassword(ctx, to); err != nil {
		s.log.Errorw("Password updated without confirmation email", "userID", c.ID, "error", err)
	}
	if err := s.notifier.SendNotification(ctx, to, alertDetails(info)); err != nil {
		s.log.Errorw("Password updated without security alert", "userID", c.ID, "error", err)
	}
	return nil
}

// RequestOTP issues a one-time password for the signed-in user and queues it.
// The value is never logged.
func (s *Service) RequestOTP(ctx context.Context, info session.Info) error {
	c, err := s.sessionCredential(ctx, info)
	if err != nil {
		return err
	}
	otp, err := s.otp.Generate(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	if err := s.notifier.SendOTP(ctx, recipient(c), otp); err != nil {
		return err
	}
	s.log.Infow("OTP issued", "userID", c.ID)
	return nil
}

func (s *Service) sessionCredential(ctx context.Context, info session.Info) (*entity.Credential, error) {
	if info.UserID == "" {
		return nil, ErrUnauthenticated
	}
	c, err := s.store.GetByID(ctx, info.UserID)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	if !c.IsActive {
		return nil, ErrUnauthenticated
	}
	return c, nil
}

func (s *Service) changePassword(ctx context.Context, c *entity.Credential, password string) error {
	hash, algo, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	at := s.now().UTC().Truncate(time.Microsecond)
	if err := s.store.UpdatePassword(ctx, c.ID, hash, algo, at); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	s.log.Infow("Password changed", "userID", c.ID)
	return nil
}

// passwordStamp fingerprints a password hash. Hashes are salted, so every
// change yields a new stamp.
func passwordStamp(hash string) string {
	sum := sha256.Sum256([]byte(hash))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

func recipient(c *entity.Credential) notification.Recipient {
	return notification.Recipient{Email: c.Email, Name: c.FullName}
}

func alertDetails(info session.Info) notification.AlertDetails {
	d := notification.AlertDetails{
		Device: info.SessionInfo.Device,
		IP:     info.SessionInfo.IP,
	}
	if !info.SignedIn.IsZero() {
		d.SignedIn = info.SignedIn.UTC().Format(time.RFC1123)
	}
	return d
}
