package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"fastlane/internal/auth"
)

// LoginHandler authenticates the single configured administrator and issues
// a dashboard token.
type LoginHandler struct {
	username     string
	passwordHash string
	hasher       auth.Hasher
	tokens       *auth.TokenService
	logger       *zap.Logger
}

// NewLoginHandler builds handler.
func NewLoginHandler(username, passwordHash string, hasher auth.Hasher, tokens *auth.TokenService, logger *zap.Logger) *LoginHandler {
	return &LoginHandler{
		username:     username,
		passwordHash: passwordHash,
		hasher:       hasher,
		tokens:       tokens,
		logger:       logger,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin handles POST /login.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Username != h.username || h.hasher.Compare(h.passwordHash, req.Password) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.GenerateToken(req.Username)
	if err != nil {
		h.logger.Error("token generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeOK(w, "login successful", map[string]interface{}{"token": token})
}
