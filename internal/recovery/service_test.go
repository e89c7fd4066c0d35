package recovery

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

var hasher = user.BcryptHasher{Cost: bcrypt.MinCost}

type fakeStore struct {
	mu        sync.Mutex
	rows      map[string]*entity.Credential
	updateErr error
}

func (s *fakeStore) GetByEmail(ctx context.Context, email string) (*entity.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.rows {
		if c.IsActive && c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, userrepo.ErrNotFound
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*entity.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[id]
	if !ok {
		return nil, userrepo.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) UpdatePassword(ctx context.Context, id, hash, algo string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	c, ok := s.rows[id]
	if !ok {
		return userrepo.ErrNotFound
	}
	c.PasswordHash, c.PasswordAlgo = hash, algo
	c.PasswordUpdatedAt = &at
	c.UpdatedAt = at
	return nil
}

func (s *fakeStore) password(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].PasswordHash
}

type sent struct {
	kind    notification.Kind
	to      notification.Recipient
	url     string
	otp     string
	details notification.AlertDetails
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (n *fakeNotifier) record(s sent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, s)
	return nil
}

func (n *fakeNotifier) SendForgotPassword(ctx context.Context, to notification.Recipient, url string) error {
	return n.record(sent{kind: notification.KindForgotPassword, to: to, url: url})
}

func (n *fakeNotifier) SendResetPassword(ctx context.Context, to notification.Recipient) error {
	return n.record(sent{kind: notification.KindResetPassword, to: to})
}

func (n *fakeNotifier) SendUpdatePassword(ctx context.Context, to notification.Recipient) error {
	return n.record(sent{kind: notification.KindUpdatePassword, to: to})
}

func (n *fakeNotifier) SendNotification(ctx context.Context, to notification.Recipient, details notification.AlertDetails) error {
	return n.record(sent{kind: notification.KindNotification, to: to, details: details})
}

func (n *fakeNotifier) SendOTP(ctx context.Context, to notification.Recipient, otp string) error {
	return n.record(sent{kind: notification.KindOTP, to: to, otp: otp})
}

func (n *fakeNotifier) kinds() []notification.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification.Kind
	for _, s := range n.sent {
		out = append(out, s.kind)
	}
	return out
}

type fixedOTP string

func (o fixedOTP) Generate(ctx context.Context, userID string) (string, error) {
	return string(o), nil
}

type fixture struct {
	svc      *Service
	store    *fakeStore
	notifier *fakeNotifier
	tokens   *token.Service
	logs     *observer.ObservedLogs
}

const userID = "2lYQpTtKJd6lBkmm4xOmVdJbXvT"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hash, algo, err := hasher.Hash("SecurePassword1!")
	require.NoError(t, err)
	store := &fakeStore{rows: map[string]*entity.Credential{
		userID: {
			ID:           userID,
			Username:     "NewUser",
			Email:        "newuser@example.com",
			PhoneNumber:  "+1234567890",
			PasswordHash: hash,
			PasswordAlgo: algo,
			FullName:     "New User",
			Role:         "user",
			IsActive:     true,
		},
	}}
	tokens := token.NewService(config.Token{
		Secret:          "test-secret",
		Issuer:          "authaas-test",
		ConfirmationTTL: time.Hour,
		ResetTTL:        30 * time.Minute,
		AccessTTL:       time.Hour,
	})
	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{store: store, notifier: &fakeNotifier{}, tokens: tokens, logs: logs}
	f.svc = NewService(store, hasher, f.notifier, tokens, fixedOTP("482913"), "https://app.example.com", zap.New(core).Sugar())
	return f
}

var signedIn = session.Info{
	UserID:      userID,
	SessionInfo: session.Client{Device: "Firefox on Linux", IP: "203.0.113.9"},
	SignedIn:    time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
}

func resetToken(t *testing.T, f *fixture) string {
	t.Helper()
	require.NoError(t, f.svc.ForgotPassword(context.Background(), ForgotPasswordRequest{Email: "newuser@example.com"}))
	require.NotEmpty(t, f.notifier.sent)
	u, err := url.Parse(f.notifier.sent[len(f.notifier.sent)-1].url)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestForgotPassword_KnownEmail(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.ForgotPassword(context.Background(), ForgotPasswordRequest{Email: "newuser@example.com"}))

	require.Len(t, f.notifier.sent, 1)
	s := f.notifier.sent[0]
	assert.Equal(t, notification.KindForgotPassword, s.kind)
	assert.Equal(t, notification.Recipient{Email: "newuser@example.com", Name: "New User"}, s.to)

	u, err := url.Parse(s.url)
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", u.Host)
	assert.Equal(t, "/reset-password", u.Path)
	claims, err := f.tokens.Verify(token.PurposeReset, u.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, userID, claims.Subject)
}

func TestForgotPassword_UnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.ForgotPassword(context.Background(), ForgotPasswordRequest{Email: "nobody@example.com"}))
	assert.Empty(t, f.notifier.sent)
}

func TestForgotPassword_InvalidEmail(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ForgotPassword(context.Background(), ForgotPasswordRequest{Email: "nobody"})
	var verr *user.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "body.email: Invalid email", verr.Error())
}

func TestForgotPassword_QueueFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = notification.ErrQueueSubmission
	err := f.svc.ForgotPassword(context.Background(), ForgotPasswordRequest{Email: "newuser@example.com"})
	assert.ErrorIs(t, err, notification.ErrQueueSubmission)
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)
	tok := resetToken(t, f)

	require.NoError(t, f.svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: tok, Password: "BrandNewPass9"}))
	assert.True(t, hasher.Verify(f.store.password(userID), "BrandNewPass9"))
	assert.Equal(t, []notification.Kind{notification.KindForgotPassword, notification.KindResetPassword}, f.notifier.kinds())
	last := f.notifier.sent[1]
	assert.Empty(t, last.url)
	assert.Equal(t, "newuser@example.com", last.to.Email)
}

func TestResetPassword_TokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	tok := resetToken(t, f)

	require.NoError(t, f.svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: tok, Password: "BrandNewPass9"}))
	err := f.svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: tok, Password: "AnotherPass10"})
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.True(t, hasher.Verify(f.store.password(userID), "BrandNewPass9"))
}

func TestResetPassword_Rejects(t *testing.T) {
	f := newFixture(t)
	access, err := f.tokens.IssueAccess(userID, "", "")
	require.NoError(t, err)
	orphan, err := f.tokens.IssueStamped(token.PurposeReset, "someone-else", "stamp")
	require.NoError(t, err)
	unstamped, err := f.tokens.Issue(token.PurposeReset, userID)
	require.NoError(t, err)
	otherPassword, err := f.tokens.IssueStamped(token.PurposeReset, userID, passwordStamp("$2a$04$elsewhere"))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":        "garbage",
		"wrong purpose":  access,
		"unknown user":   orphan,
		"unstamped":      unstamped,
		"other password": otherPassword,
	} {
		t.Run(name, func(t *testing.T) {
			err := f.svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: tok, Password: "BrandNewPass9"})
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
	assert.True(t, hasher.Verify(f.store.password(userID), "SecurePassword1!"))
	assert.Empty(t, f.notifier.sent)
}

func TestResetPassword_SupersededByPasswordUpdate(t *testing.T) {
	f := newFixture(t)
	tok := resetToken(t, f)

	require.NoError(t, f.svc.UpdatePassword(context.Background(), signedIn, UpdatePasswordRequest{
		CurrentPassword: "SecurePassword1!",
		NewPassword:     "BrandNewPass9",
	}))
	err := f.svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: tok, Password: "AnotherPass10"})
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.True(t, hasher.Verify(f.store.password(userID), "BrandNewPass9"))
}

func TestPasswordStamp(t *testing.T) {
	a, _, err := hasher.Hash("SecurePassword1!")
	require.NoError(t, err)
	b, _, err := hasher.Hash("SecurePassword1!")
	require.NoError(t, err)

	assert.Equal(t, passwordStamp(a), passwordStamp(a))
	assert.NotEqual(t, passwordStamp(a), passwordStamp(b))
	assert.NotContains(t, passwordStamp(a), a)
}

func TestResetPassword_ShortPassword(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: "x", Password: "short"})
	var verr *user.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "body.password: Must be at least 8 characters", verr.Error())

	err = f.svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: "x", Password: strings.Repeat("é", 40)})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "body.password: Must be at most 72 bytes", verr.Error())
}

func TestResetPassword_NotificationFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	tok := resetToken(t, f)
	f.notifier.err = notification.ErrQueueSubmission

	require.NoError(t, f.svc.ResetPassword(context.Background(), ResetPasswordRequest{Token: tok, Password: "BrandNewPass9"}))
	assert.True(t, hasher.Verify(f.store.password(userID), "BrandNewPass9"))
	assert.Equal(t, 1, f.logs.FilterMessage("Password reset without confirmation email").Len())
}

func TestUpdatePassword(t *testing.T) {
	f := newFixture(t)
	err := f.svc.UpdatePassword(context.Background(), signedIn, UpdatePasswordRequest{
		CurrentPassword: "SecurePassword1!",
		NewPassword:     "BrandNewPass9",
	})
	require.NoError(t, err)

	assert.True(t, hasher.Verify(f.store.password(userID), "BrandNewPass9"))
	assert.Equal(t, []notification.Kind{notification.KindUpdatePassword, notification.KindNotification}, f.notifier.kinds())
	alert := f.notifier.sent[1]
	assert.Equal(t, notification.AlertDetails{
		Device:   "Firefox on Linux",
		IP:       "203.0.113.9",
		SignedIn: "Sun, 01 Mar 2026 09:30:00 UTC",
	}, alert.details)
}

func TestUpdatePassword_WrongCurrentPassword(t *testing.T) {
	f := newFixture(t)
	err := f.svc.UpdatePassword(context.Background(), signedIn, UpdatePasswordRequest{
		CurrentPassword: "not-my-password",
		NewPassword:     "BrandNewPass9",
	})
	var verr *user.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "body.currentPassword: Incorrect password", verr.Error())
	assert.Empty(t, f.notifier.sent)
}

func TestUpdatePassword_SamePassword(t *testing.T) {
	f := newFixture(t)
	err := f.svc.UpdatePassword(context.Background(), signedIn, UpdatePasswordRequest{
		CurrentPassword: "SecurePassword1!",
		NewPassword:     "SecurePassword1!",
	})
	var verr *user.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "body.newPassword: Must differ from currentPassword", verr.Error())
}

func TestUpdatePassword_NewPasswordOver72Bytes(t *testing.T) {
	f := newFixture(t)
	err := f.svc.UpdatePassword(context.Background(), signedIn, UpdatePasswordRequest{
		CurrentPassword: "SecurePassword1!",
		NewPassword:     strings.Repeat("é", 40),
	})
	var verr *user.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "body.newPassword: Must be at most 72 bytes", verr.Error())
	assert.True(t, hasher.Verify(f.store.password(userID), "SecurePassword1!"))
}

func TestUpdatePassword_PersistenceFailureSkipsNotifications(t *testing.T) {
	f := newFixture(t)
	f.store.updateErr = errors.New("connection reset")
	err := f.svc.UpdatePassword(context.Background(), signedIn, UpdatePasswordRequest{
		CurrentPassword: "SecurePassword1!",
		NewPassword:     "BrandNewPass9",
	})
	require.Error(t, err)
	assert.Empty(t, f.notifier.sent)
}

func TestUpdatePassword_UnknownSession(t *testing.T) {
	f := newFixture(t)
	err := f.svc.UpdatePassword(context.Background(), session.Info{UserID: "ghost"}, UpdatePasswordRequest{
		CurrentPassword: "SecurePassword1!",
		NewPassword:     "BrandNewPass9",
	})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRequestOTP(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.RequestOTP(context.Background(), signedIn))

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, notification.KindOTP, f.notifier.sent[0].kind)
	assert.Equal(t, "482913", f.notifier.sent[0].otp)
	for _, entry := range f.logs.All() {
		assert.NotContains(t, entry.Message, "482913")
		for _, v := range entry.ContextMap() {
			assert.NotEqual(t, "482913", v)
		}
	}
}

func TestRequestOTP_QueueFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = notification.ErrQueueSubmission
	assert.ErrorIs(t, f.svc.RequestOTP(context.Background(), signedIn), notification.ErrQueueSubmission)
}

func TestDigitOTP(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		otp, err := DigitOTP{}.Generate(context.Background(), userID)
		require.NoError(t, err)
		assert.Regexp(t, `^[0-9]{6}$`, otp)
		seen[otp] = true
	}
	assert.Greater(t, len(seen), 1)

	otp, err := DigitOTP{Length: 8}.Generate(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, otp, 8)
}
