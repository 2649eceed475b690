package http

import (
	"net/http"

	"github.com/aussiebroadwan/securehealth/internal/gateway/service"
	"github.com/aussiebroadwan/securehealth/pkg/authsdk"
	"github.com/aussiebroadwan/securehealth/pkg/httpx"
	"github.com/aussiebroadwan/securehealth/pkg/slogx"
)

type AuthHandler struct {
	AuthService *service.AuthService

	// UniformErrors hides whether a username exists behind one message.
	UniformErrors bool
}

// HandleSignup registers a new user.
//
//	@Summary		Register a user
//	@Description	Creates an account with the given role and returns TOTP provisioning material exactly once.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.SignupRequest	true	"username, password, email, role"
//	@Success		201		{object}	authsdk.SignupResponse
//	@Failure		400		{object}	authsdk.APIError	"Invalid role, missing field or duplicate identity"
//	@Failure		429		{object}	authsdk.APIError	"Rate limit exceeded"
//	@Failure		500		{object}	authsdk.APIError
//	@Router			/signup [post].
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req authsdk.SignupRequest
	if err := httpx.DecodeJSONLenient(r.Body, &req); err != nil {
		markAudit(w, h.AuthService.RejectSignupRequest(r.Context(), httpx.ClientIP(r), err))
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.AuthService.Signup(r.Context(), service.SignupInput{
		Username:  req.Username,
		Password:  req.Password,
		Email:     req.Email,
		Role:      req.Role,
		IPAddress: httpx.ClientIP(r),
	})
	markAudit(w, res.AuditErr)
	if err != nil {
		writeServiceError(w, r, err, h.UniformErrors)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, authsdk.SignupResponse{
		Message: "User registered successfully",
		UserID:  res.User.ID,
		TwoFASetup: authsdk.TwoFASetup{
			Secret:          res.TOTP.Secret,
			ProvisioningURI: res.TOTP.ProvisioningURI,
			QRCodeDataURL:   res.TOTP.QRCodeDataURL,
		},
	})
}

// HandleLogin exchanges credentials for a session token.
//
//	@Summary		Log in
//	@Description	Verifies password and, when enrolled, a TOTP code. Returns a 24h HS256 session token.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LoginRequest	true	"username, password, optional twoFAToken"
//	@Success		200		{object}	authsdk.LoginResponse
//	@Failure		400		{object}	authsdk.APIError	"2FA token required"
//	@Failure		401		{object}	authsdk.APIError	"Invalid credentials or 2FA token"
//	@Failure		403		{object}	authsdk.APIError	"Account disabled"
//	@Failure		429		{object}	authsdk.APIError	"Rate limit exceeded"
//	@Failure		500		{object}	authsdk.APIError
//	@Router			/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if err := httpx.DecodeJSONLenient(r.Body, &req); err != nil {
		markAudit(w, h.AuthService.RejectLoginRequest(r.Context(), httpx.ClientIP(r), err))
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.AuthService.Login(r.Context(), service.LoginInput{
		Username:   req.Username,
		Password:   req.Password,
		TwoFAToken: req.TwoFAToken,
		IPAddress:  httpx.ClientIP(r),
	})
	markAudit(w, res.AuditErr)
	if err != nil {
		writeServiceError(w, r, err, h.UniformErrors)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.LoginResponse{
		Message:   "Login successful",
		Token:     res.Token,
		ExpiresAt: res.Claims.ExpiresAtTime(),
		User: authsdk.LoginUser{
			ID:           res.User.ID,
			Username:     res.User.Username,
			Email:        res.User.Email,
			Role:         string(res.User.Role),
			TwoFAEnabled: res.User.TwoFAEnabled(),
		},
	})
}

// HandleLogout revokes the presented token.
//
//	@Summary	Log out
//	@Tags		Auth
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	authsdk.MessageResponse
//	@Failure	401	{object}	authsdk.APIError
//	@Failure	500	{object}	authsdk.APIError
//	@Router		/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	p, err := mustPrincipal(r)
	if err != nil {
		authsdk.ErrUnauthenticated.WriteError(w)
		return
	}

	res, err := h.AuthService.Logout(r.Context(), p, httpx.ClientIP(r))
	markAudit(w, res.AuditErr)
	if err != nil {
		slogx.FromContext(r.Context()).Error("logout failed", "jti", p.TokenID, "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.MessageResponse{Message: "Logged out"})
}

// HandleMe describes the authenticated principal.
//
//	@Summary	Current principal
//	@Tags		Auth
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	authsdk.MeResponse
//	@Failure	401	{object}	authsdk.APIError
//	@Router		/me [get].
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, err := mustPrincipal(r)
	if err != nil {
		authsdk.ErrUnauthenticated.WriteError(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.MeResponse{
		UserID:    p.UserID,
		Username:  p.Username,
		Role:      string(p.Role),
		TokenID:   p.TokenID,
		IssuedAt:  p.IssuedAt,
		ExpiresAt: p.ExpiresAt,
	})
}
