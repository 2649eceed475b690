package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/securehealth/internal/gateway/service"
	"github.com/aussiebroadwan/securehealth/pkg/authsdk"
	"github.com/aussiebroadwan/securehealth/pkg/slogx"
)

// HeaderAuditStatus is set to "failed" when the decision stood but its audit
// entry could not be persisted.
const HeaderAuditStatus = "X-Audit-Status"

func markAudit(w http.ResponseWriter, auditErr error) {
	if auditErr != nil {
		w.Header().Set(HeaderAuditStatus, "failed")
	}
}

// apiError maps a service error onto its public response. With uniform set,
// unknown user and bad password share one message.
func apiError(err error, uniform bool) *authsdk.APIError {
	switch {
	case errors.Is(err, service.ErrInvalidRole):
		return authsdk.ErrInvalidRole
	case errors.Is(err, service.ErrValidation):
		if detail, ok := strings.CutPrefix(err.Error(), service.ErrValidation.Error()+": "); ok {
			return authsdk.ErrInvalidRequest.WithMessage(detail)
		}
		return authsdk.ErrInvalidRequest
	case errors.Is(err, service.ErrDuplicateIdentity):
		return authsdk.ErrDuplicateIdentity
	case errors.Is(err, service.ErrUnknownUser):
		if uniform {
			return authsdk.ErrInvalidCredentials
		}
		return authsdk.ErrUnknownUser
	case errors.Is(err, service.ErrBadPassword):
		if uniform {
			return authsdk.ErrInvalidCredentials
		}
		return authsdk.ErrBadPassword
	case errors.Is(err, service.ErrBadTwoFactor):
		return authsdk.ErrInvalidTwoFactor
	case errors.Is(err, service.ErrUnauthenticated):
		return authsdk.ErrUnauthenticated
	case errors.Is(err, service.ErrAccountDisabled):
		return authsdk.ErrAccountDisabled
	case errors.Is(err, service.ErrTwoFactorRequired):
		return authsdk.ErrTwoFactorRequired
	case errors.Is(err, service.ErrForbidden):
		return authsdk.ErrForbidden
	case errors.Is(err, service.ErrNotFound):
		return authsdk.ErrNotFound
	default:
		return authsdk.ErrServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, uniform bool) {
	apiErr := apiError(err, uniform)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		slogx.FromContext(r.Context()).Error("request failed", "err", err)
	}
	apiErr.WriteError(w)
}
