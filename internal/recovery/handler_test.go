package recovery

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
)

func call(t *testing.T, h http.HandlerFunc, method, body string, info *session.Info) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	if info != nil {
		req = req.WithContext(session.WithInfo(req.Context(), *info))
	}
	rec := httptest.NewRecorder()
	h(rec, req)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out["message"]
}

func TestHandler_ForgotPasswordDoesNotEnumerate(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, zap.NewNop().Sugar())

	known, knownMsg := call(t, h.ForgotPassword, http.MethodPost, `{"email":"newuser@example.com"}`, nil)
	unknown, unknownMsg := call(t, h.ForgotPassword, http.MethodPost, `{"email":"nobody@example.com"}`, nil)
	assert.Equal(t, http.StatusOK, known)
	assert.Equal(t, known, unknown)
	assert.Equal(t, MsgForgotPassword, knownMsg)
	assert.Equal(t, knownMsg, unknownMsg)

	f.notifier.err = notification.ErrQueueSubmission
	failed, failedMsg := call(t, h.ForgotPassword, http.MethodPost, `{"email":"newuser@example.com"}`, nil)
	assert.Equal(t, http.StatusOK, failed)
	assert.Equal(t, MsgForgotPassword, failedMsg)

	status, msg := call(t, h.ForgotPassword, http.MethodPost, `{"email":"nobody"}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "body.email: Invalid email", msg)
}

func TestHandler_ResetPassword(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, zap.NewNop().Sugar())
	tok := resetToken(t, f)

	status, msg := call(t, h.ResetPassword, http.MethodPatch, `{"token":"`+tok+`","password":"BrandNewPass9"}`, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, MsgResetPassword, msg)

	status, msg = call(t, h.ResetPassword, http.MethodPatch, `{"token":"forged","password":"BrandNewPass9"}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid or expired token", msg)

	status, msg = call(t, h.ResetPassword, http.MethodPatch, `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid request body", msg)
}

func TestHandler_UpdatePassword(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, zap.NewNop().Sugar())
	body := `{"currentPassword":"SecurePassword1!","newPassword":"BrandNewPass9"}`

	status, _ := call(t, h.UpdatePassword, http.MethodPatch, body, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	info := signedIn
	status, msg := call(t, h.UpdatePassword, http.MethodPatch, body, &info)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, MsgUpdatePassword, msg)

	status, msg = call(t, h.UpdatePassword, http.MethodPatch, body, &info)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "body.currentPassword: Incorrect password", msg)

	f.store.updateErr = errors.New("connection reset")
	status, msg = call(t, h.UpdatePassword, http.MethodPatch, `{"currentPassword":"BrandNewPass9","newPassword":"ThirdPass123"}`, &info)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Something went wrong. Please try again later.", msg)
}

func TestHandler_RequestOTP(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, zap.NewNop().Sugar())

	info := signedIn
	status, msg := call(t, h.RequestOTP, http.MethodPost, "", &info)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, MsgOTP, msg)

	ghost := session.Info{UserID: "ghost"}
	status, _ = call(t, h.RequestOTP, http.MethodPost, "", &ghost)
	assert.Equal(t, http.StatusUnauthorized, status)

	f.notifier.err = notification.ErrQueueSubmission
	status, _ = call(t, h.RequestOTP, http.MethodPost, "", &info)
	assert.Equal(t, http.StatusInternalServerError, status)
}
