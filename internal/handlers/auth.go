package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/services"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// AuthHandler handles the demo login endpoint that exercises the guard.
type AuthHandler struct {
	guard        *services.GuardService
	credentials  *services.CredentialService
	tokenManager *auth.TokenManager
	timing       *auth.TimingDelay
	ipConfig     *pkghttp.IPConfig
	tokenExpiry  time.Duration
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	guard *services.GuardService,
	credentials *services.CredentialService,
	tokenManager *auth.TokenManager,
	timing *auth.TimingDelay,
	ipConfig *pkghttp.IPConfig,
	tokenExpiry time.Duration,
) *AuthHandler {
	return &AuthHandler{
		guard:        guard,
		credentials:  credentials,
		tokenManager: tokenManager,
		timing:       timing,
		ipConfig:     ipConfig,
		tokenExpiry:  tokenExpiry,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

// LoginResponse represents a successful login
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login verifies a credential behind the guard. Every rejection, whether the
// account is locked, unknown, or the password is wrong, returns the same 401
// body after the same minimum elapsed time.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	sourceKey := pkghttp.SourceKey(r, h.ipConfig)
	signature := r.Header.Get("User-Agent")

	// A locked account skips credential verification entirely; the attempt
	// still counts against the source's window.
	success := false
	if !h.guard.CheckAccount(req.Username) {
		success = h.credentials.Verify(req.Username, req.Password)
	}

	h.guard.OnAuthenticationOutcome(r.Context(), req.Username, sourceKey, signature, success)
	h.timing.WaitFrom(start, success)

	if !success {
		pkghttp.WriteUnauthorized(w, "Authentication failed")
		return
	}

	token, err := h.tokenManager.GenerateAccessToken(req.Username)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.tokenExpiry.Seconds()),
	})
}
