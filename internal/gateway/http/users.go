package http

import (
	"net/http"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	"github.com/aussiebroadwan/securehealth/internal/gateway/service"
	"github.com/aussiebroadwan/securehealth/pkg/authsdk"
	"github.com/aussiebroadwan/securehealth/pkg/httpx"
)

type UsersHandler struct {
	UserService *service.UserService
}

func toUserSummary(u domain.User) authsdk.UserSummary {
	return authsdk.UserSummary{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		Role:         string(u.Role),
		Active:       u.Active,
		TwoFAState:   string(u.TOTPState),
		TwoFAEnabled: u.TwoFAEnabled(),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

// HandleList returns every user.
//
//	@Summary	List users
//	@Tags		Admin
//	@Security	BearerAuth
//	@Produce	json
//	@Success	200	{object}	authsdk.UsersResponse
//	@Failure	401	{object}	authsdk.APIError
//	@Failure	403	{object}	authsdk.APIError
//	@Router		/admin/users [get].
func (h *UsersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.UserService.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err, false)
		return
	}

	out := authsdk.UsersResponse{Users: make([]authsdk.UserSummary, 0, len(users))}
	for _, u := range users {
		out.Users = append(out.Users, toUserSummary(u))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleGet returns one user.
//
//	@Summary	Get user
//	@Tags		Admin
//	@Security	BearerAuth
//	@Produce	json
//	@Param		id	path		string	true	"User ID"
//	@Success	200	{object}	authsdk.UserSummary
//	@Failure	404	{object}	authsdk.APIError
//	@Router		/admin/users/{id} [get].
func (h *UsersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	u, err := h.UserService.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err, false)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserSummary(u))
}

// HandleUpdateRole changes a user's role.
//
//	@Summary	Update user role
//	@Tags		Admin
//	@Security	BearerAuth
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string						true	"User ID"
//	@Param		request	body		authsdk.UpdateRoleRequest	true	"New role"
//	@Success	200		{object}	authsdk.UserSummary
//	@Failure	400		{object}	authsdk.APIError
//	@Failure	404		{object}	authsdk.APIError
//	@Router		/admin/users/{id}/role [put].
func (h *UsersHandler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	p, err := mustPrincipal(r)
	if err != nil {
		authsdk.ErrUnauthenticated.WriteError(w)
		return
	}

	var req authsdk.UpdateRoleRequest
	if err := httpx.DecodeJSON(r.Body, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	u, err := h.UserService.UpdateRole(r.Context(), p, r.PathValue("id"), req.Role, httpx.ClientIP(r))
	if err != nil {
		writeServiceError(w, r, err, false)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserSummary(u))
}

// HandleUpdateStatus activates or deactivates a user.
//
//	@Summary	Update account status
//	@Tags		Admin
//	@Security	BearerAuth
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string						true	"User ID"
//	@Param		request	body		authsdk.UpdateStatusRequest	true	"Active flag"
//	@Success	200		{object}	authsdk.UserSummary
//	@Failure	400		{object}	authsdk.APIError
//	@Failure	404		{object}	authsdk.APIError
//	@Router		/admin/users/{id}/status [put].
func (h *UsersHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	p, err := mustPrincipal(r)
	if err != nil {
		authsdk.ErrUnauthenticated.WriteError(w)
		return
	}

	var req authsdk.UpdateStatusRequest
	if err := httpx.DecodeJSON(r.Body, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}
	if req.Active == nil {
		authsdk.ErrInvalidRequest.WithMessage("active is required").WriteError(w)
		return
	}

	u, err := h.UserService.SetActive(r.Context(), p, r.PathValue("id"), *req.Active, httpx.ClientIP(r))
	if err != nil {
		writeServiceError(w, r, err, false)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserSummary(u))
}
