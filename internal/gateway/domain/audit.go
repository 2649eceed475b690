package domain

import "time"

// AuditAction is the closed vocabulary of audit entries.
type AuditAction string

const (
	ActionSignup                AuditAction = "Signup"
	ActionSignupRejected        AuditAction = "Signup Rejected"
	ActionSignupError           AuditAction = "Signup Error"
	ActionLoginSuccess          AuditAction = "Login Success"
	ActionLoginUnknownUser      AuditAction = "Login Failure — Unknown User"
	ActionLoginBadPassword      AuditAction = "Login Failure — Bad Password"
	ActionLoginTwoFARequired    AuditAction = "Login Failure — 2FA Required"
	ActionLoginBadTwoFA         AuditAction = "Login Failure — Bad 2FA"
	ActionAccountDisabled       AuditAction = "Account Disabled Attempt"
	ActionLoginError            AuditAction = "Login Error"
	ActionLogout                AuditAction = "Logout"
	ActionAccessUnauthenticated AuditAction = "Access Denied — Unauthenticated"
	ActionAccessForbidden       AuditAction = "Access Denied — Forbidden"
	ActionRoleUpdate            AuditAction = "Role Update"
	ActionAccountStatusUpdate   AuditAction = "Account Status Update"
)

var AuditActions = []AuditAction{
	ActionSignup,
	ActionSignupRejected,
	ActionSignupError,
	ActionLoginSuccess,
	ActionLoginUnknownUser,
	ActionLoginBadPassword,
	ActionLoginTwoFARequired,
	ActionLoginBadTwoFA,
	ActionAccountDisabled,
	ActionLoginError,
	ActionLogout,
	ActionAccessUnauthenticated,
	ActionAccessForbidden,
	ActionRoleUpdate,
	ActionAccountStatusUpdate,
}

func (a AuditAction) Valid() bool {
	for _, known := range AuditActions {
		if a == known {
			return true
		}
	}
	return false
}

// AuditEntry is one immutable record of a security decision.
type AuditEntry struct {
	ID        string
	Seq       int64 // assigned by the store
	Action    AuditAction
	UserID    *string // nil when the actor could not be resolved
	Details   string
	IPAddress string
	Timestamp time.Time
	PrevHash  string
	Hash      string
}

// AuditRecord is an AuditEntry joined with the actor's current identity.
type AuditRecord struct {
	AuditEntry
	Username *string
	Email    *string
}

// AuditFilter narrows an audit query. Zero values mean "no filter".
type AuditFilter struct {
	Actions []AuditAction
	UserID  string
	Since   time.Time
	Until   time.Time
	Limit   int
}
