package user

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
)

const msgServerError = "Something went wrong. Please try again later."

// Handler exposes HTTP endpoints for user operations (register / verify / login).
type Handler struct {
	svc     *UserService
	clients *session.ClientResolver
	logger  *zap.SugaredLogger
}

func NewHandler(svc *UserService, clients *session.ClientResolver, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, clients: clients, logger: logger}
}

// Response is the envelope of every auth endpoint.
type Response struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		WriteJSON(w, http.StatusBadRequest, Response{Message: "Invalid request body"})
		return
	}
	view, err := h.svc.Register(r.Context(), req)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			WriteJSON(w, http.StatusBadRequest, Response{Message: verr.Error()})
		case errors.Is(err, ErrConflict):
			WriteJSON(w, http.StatusUnprocessableEntity, Response{Message: MsgConflict})
		default:
			h.logger.Errorw("register failed", "err", err)
			WriteJSON(w, http.StatusInternalServerError, Response{Message: msgServerError})
		}
		return
	}
	WriteJSON(w, http.StatusCreated, Response{Message: MsgRegistered, Data: view})
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	err := h.svc.VerifyEmail(r.Context(), r.PathValue("token"))
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			h.logger.Debugw("verification rejected", "err", err)
			WriteJSON(w, http.StatusBadRequest, Response{Message: "Invalid or expired token"})
			return
		}
		h.logger.Errorw("verification failed", "err", err)
		WriteJSON(w, http.StatusInternalServerError, Response{Message: msgServerError})
		return
	}
	WriteJSON(w, http.StatusOK, Response{Message: "Your email address has been verified."})
}

// LoginResponse carries the access token.
type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		WriteJSON(w, http.StatusBadRequest, Response{Message: "Invalid request body"})
		return
	}
	tok, err := h.svc.Login(r.Context(), req, h.clients.Client(r))
	if err != nil {
		h.logger.Debugw("login failed", "err", err)
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			WriteJSON(w, http.StatusBadRequest, Response{Message: verr.Error()})
		case errors.Is(err, ErrBadCredentials):
			WriteJSON(w, http.StatusUnauthorized, Response{Message: "Invalid credentials"})
		default:
			h.logger.Errorw("login failed", "err", err)
			WriteJSON(w, http.StatusInternalServerError, Response{Message: msgServerError})
		}
		return
	}
	WriteJSON(w, http.StatusOK, Response{
		Message: "Successfully logged in!",
		Data:    LoginResponse{AccessToken: tok, TokenType: "Bearer"},
	})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ServerError is the generic 500 body shared by the auth endpoints.
func ServerError(w http.ResponseWriter) {
	WriteJSON(w, http.StatusInternalServerError, Response{Message: msgServerError})
}
