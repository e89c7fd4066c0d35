package recovery

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
)

const (
	MsgForgotPassword = "If an account exists for that email address, a password reset link has been sent."
	MsgResetPassword  = "Your password has been reset."
	MsgUpdatePassword = "Your password has been updated."
	MsgOTP            = "An OTP has been sent to your email address."
)

// Handler exposes the recovery endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// ForgotPassword answers identically whether or not the email is known.
// Only malformed input is reported.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req); err != nil {
		var verr *user.ValidationError
		if errors.As(err, &verr) {
			user.WriteJSON(w, http.StatusBadRequest, user.Response{Message: verr.Error()})
			return
		}
		h.logger.Errorw("forgot password failed", "err", err)
	}
	user.WriteJSON(w, http.StatusOK, user.Response{Message: MsgForgotPassword})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req); err != nil {
		h.fail(w, err)
		return
	}
	user.WriteJSON(w, http.StatusOK, user.Response{Message: MsgResetPassword})
}

func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	info, ok := session.FromContext(r.Context())
	if !ok {
		user.WriteJSON(w, http.StatusUnauthorized, user.Response{Message: "Unauthorized"})
		return
	}
	var req UpdatePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.UpdatePassword(r.Context(), info, req); err != nil {
		h.fail(w, err)
		return
	}
	user.WriteJSON(w, http.StatusOK, user.Response{Message: MsgUpdatePassword})
}

func (h *Handler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	info, ok := session.FromContext(r.Context())
	if !ok {
		user.WriteJSON(w, http.StatusUnauthorized, user.Response{Message: "Unauthorized"})
		return
	}
	if err := h.svc.RequestOTP(r.Context(), info); err != nil {
		h.fail(w, err)
		return
	}
	user.WriteJSON(w, http.StatusAccepted, user.Response{Message: MsgOTP})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.Debugw("invalid recovery payload", "path", r.URL.Path, "err", err)
		user.WriteJSON(w, http.StatusBadRequest, user.Response{Message: "Invalid request body"})
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var verr *user.ValidationError
	switch {
	case errors.As(err, &verr):
		user.WriteJSON(w, http.StatusBadRequest, user.Response{Message: verr.Error()})
	case errors.Is(err, ErrInvalidToken):
		h.logger.Debugw("reset token rejected", "err", err)
		user.WriteJSON(w, http.StatusBadRequest, user.Response{Message: "Invalid or expired token"})
	case errors.Is(err, ErrUnauthenticated):
		user.WriteJSON(w, http.StatusUnauthorized, user.Response{Message: "Unauthorized"})
	default:
		h.logger.Errorw("recovery request failed", "err", err)
		user.ServerError(w)
	}
}
