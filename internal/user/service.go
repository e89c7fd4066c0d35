package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", cost), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Store is the persistence capability the service needs.
type Store interface {
	FindConflict(ctx context.Context, username, email, phoneNumber string) (bool, error)
	Create(ctx context.Context, c *entity.Credential) error
	GetByEmail(ctx context.Context, email string) (*entity.Credential, error)
	GetByUsername(ctx context.Context, username string) (*entity.Credential, error)
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
}

// ConfirmationSender queues the account activation email.
type ConfirmationSender interface {
	SendConfirmation(ctx context.Context, to notification.Recipient, url string) error
}

// Tokens issues and checks signed tokens.
type Tokens interface {
	Issue(purpose token.Purpose, subject string) (string, error)
	IssueAccess(subject, device, ip string) (string, error)
	Verify(purpose token.Purpose, raw string) (*token.Claims, error)
}

const (
	MsgRegistered = "Successfully registered! Please check your email address for verification."
	MsgConflict   = "Not possible to create a user with those credentials!"
)

var (
	ErrConflict       = errors.New("credential conflict")
	ErrPersistence    = errors.New("credential persistence failed")
	ErrBadCredentials = errors.New("invalid credentials")
	ErrInvalidToken   = errors.New("invalid or expired token")
)

// RegisterRequest is the registration input.
type RegisterRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=32"`
	Email       string `json:"email" validate:"required,email"`
	PhoneNumber string `json:"phoneNumber" validate:"required,e164"`
	Password    string `json:"password" validate:"required,min=8,maxbytes=72"`
	FullName    string `json:"fullName" validate:"required,max=128"`
}

// UserService orchestrates registration, email confirmation and sign-in.
type UserService struct {
	store     Store
	hasher    PasswordHasher
	notifier  ConfirmationSender
	tokens    Tokens
	publicURL string
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewUserService(store Store, hasher PasswordHasher, notifier ConfirmationSender, tokens Tokens, publicURL string, log *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &UserService{
		store:     store,
		hasher:    hasher,
		notifier:  notifier,
		tokens:    tokens,
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       log.Named("user"),
		now:       time.Now,
	}
}

// Register validates req, checks uniqueness, persists the credential and
// queues the confirmation email. Persistence always precedes notification;
// a notification failure is logged and counted but does not undo the
// registration.
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*entity.View, error) {
	if err := Validate(req); err != nil {
		metrics.Registrations.WithLabelValues("invalid").Inc()
		return nil, err
	}

	conflict, err := s.store.FindConflict(ctx, req.Username, req.Email, req.PhoneNumber)
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: uniqueness check: %w", ErrPersistence, err)
	}
	if conflict {
		metrics.Registrations.WithLabelValues("conflict").Inc()
		return nil, ErrConflict
	}

	hash, algo, err := s.hasher.Hash(req.Password)
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	c := &entity.Credential{
		ID:           utilities.NewKSUID(),
		Username:     req.Username,
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		PasswordHash: hash,
		PasswordAlgo: algo,
		FullName:     req.FullName,
		Role:         "user",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		// a concurrent registration won the race
		if errors.Is(err, userrepo.ErrDuplicate) {
			metrics.Registrations.WithLabelValues("conflict").Inc()
			return nil, ErrConflict
		}
		metrics.Registrations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	metrics.Registrations.WithLabelValues("created").Inc()
	s.log.Infow("Credential registered", "userID", c.ID)

	if err := s.sendConfirmation(ctx, c); err != nil {
		metrics.Registrations.WithLabelValues("notify_failed").Inc()
		s.log.Errorw("Registered without confirmation email", "userID", c.ID, "email", c.Email, "error", err)
	}

	view := c.View(s.ResourceURI(c.ID))
	return &view, nil
}

func (s *UserService) sendConfirmation(ctx context.Context, c *entity.Credential) error {
	tok, err := s.tokens.Issue(token.PurposeConfirmation, c.ID)
	if err != nil {
		return fmt.Errorf("issue confirmation token: %w", err)
	}
	to := notification.Recipient{Email: c.Email, Name: c.FullName}
	return s.notifier.SendConfirmation(ctx, to, s.ConfirmationURL(tok))
}

// ResourceURI locates a credential in the public API.
func (s *UserService) ResourceURI(userID string) string {
	return s.publicURL + "/api/v1/users/" + userID
}

// ConfirmationURL is the link carried by the activation email.
func (s *UserService) ConfirmationURL(tok string) string {
	return s.publicURL + "/api/v1/auth/verification/" + tok
}

// VerifyEmail consumes a confirmation token and marks the address verified.
func (s *UserService) VerifyEmail(ctx context.Context, raw string) error {
	claims, err := s.tokens.Verify(token.PurposeConfirmation, raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if err := s.store.MarkEmailVerified(ctx, claims.Subject, s.now().UTC()); err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.log.Infow("Email verified", "userID", claims.Subject)
	return nil
}

// LoginRequest login payload. Identifier is an email or a username.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// Login checks the password and opens a session bound to client. It returns
// a signed access token.
func (s *UserService) Login(ctx context.Context, req LoginRequest, client session.Client) (string, error) {
	if err := Validate(req); err != nil {
		return "", err
	}
	identifier := strings.TrimSpace(req.Identifier)

	var c *entity.Credential
	var err error
	if strings.Contains(identifier, "@") {
		c, err = s.store.GetByEmail(ctx, identifier)
	} else {
		c, err = s.store.GetByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return "", ErrBadCredentials
		} // avoid user enumeration
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !c.IsActive || !s.hasher.Verify(c.PasswordHash, req.Password) {
		return "", ErrBadCredentials
	}

	tok, err := s.tokens.IssueAccess(c.ID, client.Device, client.IP)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	s.log.Infow("Session opened", "userID", c.ID, "ip", client.IP)
	return tok, nil
}
