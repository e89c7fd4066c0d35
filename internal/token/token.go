// Package token issues and verifies the signed tokens carried by confirmation
// links, password reset links and authenticated requests.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
)

// Purpose scopes a token to one use. A token issued for one purpose never
// verifies for another.
type Purpose string

const (
	PurposeConfirmation Purpose = "confirmation"
	PurposeReset        Purpose = "reset"
	PurposeAccess       Purpose = "access"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the payload of every token. Device and IP are only set on
// access tokens. Stamp binds a token to caller-defined state, such as the
// password it is allowed to replace.
type Claims struct {
	Purpose Purpose `json:"purpose"`
	Device  string  `json:"device,omitempty"`
	IP      string  `json:"ip,omitempty"`
	Stamp   string  `json:"stamp,omitempty"`
	jwt.RegisteredClaims
}

// Service signs tokens with a shared HMAC secret.
type Service struct {
	secret []byte
	issuer string
	ttl    map[Purpose]time.Duration
	now    func() time.Time
}

func NewService(cfg config.Token) *Service {
	return &Service{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl: map[Purpose]time.Duration{
			PurposeConfirmation: cfg.ConfirmationTTL,
			PurposeReset:        cfg.ResetTTL,
			PurposeAccess:       cfg.AccessTTL,
		},
		now: time.Now,
	}
}

// Issue signs a token for subject with the configured lifetime of purpose.
func (s *Service) Issue(purpose Purpose, subject string) (string, error) {
	return s.sign(Claims{Purpose: purpose}, subject)
}

// IssueStamped is like Issue but carries stamp in the claims.
func (s *Service) IssueStamped(purpose Purpose, subject, stamp string) (string, error) {
	return s.sign(Claims{Purpose: purpose, Stamp: stamp}, subject)
}

// IssueAccess signs an access token bound to the device and address the
// session was opened from.
func (s *Service) IssueAccess(subject, device, ip string) (string, error) {
	return s.sign(Claims{Purpose: PurposeAccess, Device: device, IP: ip}, subject)
}

func (s *Service) sign(c Claims, subject string) (string, error) {
	ttl, ok := s.ttl[c.Purpose]
	if !ok || ttl <= 0 {
		return "", fmt.Errorf("no lifetime configured for %q tokens", c.Purpose)
	}
	now := s.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

// Verify parses raw and checks signature, issuer, lifetime and purpose.
func (s *Service) Verify(purpose Purpose, raw string) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Purpose != purpose {
		return nil, fmt.Errorf("%w: issued for %q", ErrInvalidToken, c.Purpose)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &c, nil
}
