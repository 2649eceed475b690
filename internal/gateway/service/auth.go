package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	"github.com/aussiebroadwan/securehealth/internal/gateway/observability"
	"github.com/aussiebroadwan/securehealth/internal/gateway/store"
	"github.com/aussiebroadwan/securehealth/pkg/idx"
	"github.com/aussiebroadwan/securehealth/pkg/jwtx"
	"github.com/aussiebroadwan/securehealth/pkg/slogx"
	"github.com/aussiebroadwan/securehealth/pkg/totpx"
)

// TOTPPolicy decides when a login must present a TOTP code.
type TOTPPolicy string

const (
	// TOTPPolicyFirstLogin requires a code only once enrollment is verified,
	// and marks enrollment verified after any successful login.
	TOTPPolicyFirstLogin TOTPPolicy = "first-login"

	// TOTPPolicyMandatory requires a code from every enrolled user,
	// including on the first login after signup.
	TOTPPolicyMandatory TOTPPolicy = "mandatory"
)

func ParseTOTPPolicy(s string) (TOTPPolicy, error) {
	switch p := TOTPPolicy(s); p {
	case TOTPPolicyFirstLogin, TOTPPolicyMandatory:
		return p, nil
	default:
		return "", fmt.Errorf("unknown totp policy %q", s)
	}
}

func (p TOTPPolicy) requiresCode(u domain.User) bool {
	switch p {
	case TOTPPolicyMandatory:
		return u.TOTPState != domain.TOTPNotEnrolled
	default:
		return u.TOTPState == domain.TOTPVerified
	}
}

type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, digest string) (bool, error)
	Equalize(ctx context.Context, password string)
	NeedsRehash(digest string) bool
}

type TOTPEngine interface {
	Generate(account string) (totpx.Key, error)
	Validate(secret, code string) bool
}

// AuthService orchestrates signup, login and logout. Every terminal branch
// of Signup and Login records exactly one audit entry.
type AuthService struct {
	Store    store.Store
	Hasher   PasswordHasher
	TOTP     TOTPEngine
	Signer   jwtx.Signer
	Audit    Auditor
	DenyList DenyList
	Metrics  *observability.Metrics

	Issuer   string
	TokenTTL time.Duration
	Policy   TOTPPolicy

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

func (s *AuthService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *AuthService) ttl() time.Duration {
	if s.TokenTTL <= 0 {
		return jwtx.DefaultSessionTTL
	}
	return s.TokenTTL
}

// record writes one audit entry and returns the audit error, if any, so the
// caller can surface it without changing the decision.
func (s *AuthService) record(ctx context.Context, action domain.AuditAction, userID *string, ip, details string) error {
	return s.Audit.Record(ctx, AuditEvent{
		Action:    action,
		UserID:    userID,
		Details:   details,
		IPAddress: ip,
	})
}

type SignupInput struct {
	Username  string
	Password  string
	Email     string
	Role      string
	IPAddress string
}

type SignupResult struct {
	User     domain.User
	TOTP     totpx.Key
	AuditErr error
}

// Signup registers a user with a fresh TOTP secret in the Unverified state.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (SignupResult, error) {
	log := slogx.FromContext(ctx)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	reject := func(cause error, details string) (SignupResult, error) {
		s.Metrics.AuthAttempt("signup", "rejected")
		auditErr := s.record(ctx, domain.ActionSignupRejected, nil, in.IPAddress, details)
		return SignupResult{AuditErr: auditErr}, cause
	}
	fail := func(cause error) (SignupResult, error) {
		s.Metrics.AuthAttempt("signup", "error")
		log.Error("signup failed", "username", in.Username, "err", cause)
		auditErr := s.record(ctx, domain.ActionSignupError, nil, in.IPAddress, "Signup failed for username: "+in.Username)
		return SignupResult{AuditErr: auditErr}, cause
	}

	// ValidateRole, plus the presence checks every field needs.
	if in.Username == "" || in.Password == "" || in.Email == "" || in.Role == "" {
		return reject(fmt.Errorf("%w: username, password, email and role are required", ErrValidation),
			"Signup rejected: missing required field")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return reject(fmt.Errorf("%w: invalid email address", ErrValidation),
			"Signup rejected: invalid email for username: "+in.Username)
	}
	role, err := domain.ParseRole(in.Role)
	if err != nil {
		return reject(ErrInvalidRole, fmt.Sprintf("Signup rejected: invalid role %q for username: %s", in.Role, in.Username))
	}

	// CheckDuplicate
	exists, err := s.Store.Users().ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return fail(fmt.Errorf("duplicate check: %w", err))
	}
	if exists {
		return reject(ErrDuplicateIdentity, "Signup rejected: duplicate username or email for username: "+in.Username)
	}

	// HashPassword
	start := time.Now()
	digest, err := s.Hasher.Hash(ctx, in.Password)
	s.Metrics.ObserveHash("hash", start)
	if err != nil {
		return fail(fmt.Errorf("hash password: %w", err))
	}

	// GenerateTOTPSecret
	key, err := s.TOTP.Generate(in.Username)
	if err != nil {
		return fail(err)
	}

	// PersistUser
	now := s.now()
	secret := key.Secret
	u := domain.User{
		ID:           idx.NewAt(now).String(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: digest,
		Role:         role,
		Active:       true,
		TOTPState:    domain.TOTPUnverified,
		TOTPSecret:   &secret,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Lost the race against a concurrent signup.
			return reject(ErrDuplicateIdentity, "Signup rejected: duplicate username or email for username: "+in.Username)
		}
		return fail(fmt.Errorf("create user: %w", err))
	}

	// EmitAuditSignup
	s.Metrics.AuthAttempt("signup", "success")
	auditErr := s.record(ctx, domain.ActionSignup, &u.ID, in.IPAddress,
		fmt.Sprintf("User %s signed up with role %s", u.Username, u.Role))
	log.Info("user signed up", "user_id", u.ID, "role", string(u.Role))

	return SignupResult{User: u, TOTP: key, AuditErr: auditErr}, nil
}

// RejectSignupRequest audits a signup whose body could not be decoded. It
// returns the audit error, if any.
func (s *AuthService) RejectSignupRequest(ctx context.Context, ip string, cause error) error {
	s.Metrics.AuthAttempt("signup", "rejected")
	slogx.FromContext(ctx).Debug("malformed signup request", "err", cause)
	return s.record(ctx, domain.ActionSignupRejected, nil, ip, "Signup rejected: malformed request body")
}

type LoginInput struct {
	Username   string
	Password   string
	TwoFAToken string
	IPAddress  string
}

type LoginResult struct {
	Token    string
	Claims   jwtx.Claims
	User     domain.User
	AuditErr error
}

// Login runs LookupUser, CheckActive, VerifyPassword, CheckTOTPRequired,
// VerifyTOTP, IssueToken and MarkEnrolledVerified in that order. A token is
// only ever returned from the final step.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	log := slogx.FromContext(ctx)
	username := strings.TrimSpace(in.Username)

	deny := func(outcome string, action domain.AuditAction, userID *string, cause error, details string) (LoginResult, error) {
		s.Metrics.AuthAttempt("login", outcome)
		auditErr := s.record(ctx, action, userID, in.IPAddress, details)
		return LoginResult{AuditErr: auditErr}, cause
	}
	fail := func(userID *string, cause error) (LoginResult, error) {
		log.Error("login failed", "username", username, "err", cause)
		return deny("error", domain.ActionLoginError, userID, cause, "Login error for username: "+username)
	}

	if username == "" || in.Password == "" {
		// Nothing to look up; treated as an unknown user so the outcome is
		// indistinguishable from a wrong username.
		return deny("unknown_user", domain.ActionLoginUnknownUser, nil, ErrUnknownUser,
			"Login attempt with missing username or password")
	}

	// LookupUser
	u, err := s.Store.Users().GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.Hasher.Equalize(ctx, in.Password)
			return deny("unknown_user", domain.ActionLoginUnknownUser, nil, ErrUnknownUser,
				"Login attempt with non-existent username: "+username)
		}
		return fail(nil, fmt.Errorf("lookup user: %w", err))
	}
	uid := &u.ID

	// CheckActive
	if !u.Active {
		return deny("disabled", domain.ActionAccountDisabled, uid, ErrAccountDisabled,
			"Login attempt on disabled account: "+u.Username)
	}

	// VerifyPassword
	start := time.Now()
	ok, err := s.Hasher.Verify(ctx, in.Password, u.PasswordHash)
	s.Metrics.ObserveHash("verify", start)
	if err != nil {
		return fail(uid, fmt.Errorf("verify password: %w", err))
	}
	if !ok {
		return deny("bad_password", domain.ActionLoginBadPassword, uid, ErrBadPassword,
			"Invalid password for username: "+u.Username)
	}

	// CheckTOTPRequired, VerifyTOTP
	if s.Policy.requiresCode(u) {
		code := strings.TrimSpace(in.TwoFAToken)
		if code == "" {
			return deny("two_factor_required", domain.ActionLoginTwoFARequired, uid, ErrTwoFactorRequired,
				"2FA token required for username: "+u.Username)
		}
		if !u.HasTOTPSecret() || !s.TOTP.Validate(*u.TOTPSecret, code) {
			return deny("bad_two_factor", domain.ActionLoginBadTwoFA, uid, ErrBadTwoFactor,
				"Invalid 2FA token for username: "+u.Username)
		}
	}

	// IssueToken
	now := s.now()
	claims := jwtx.NewSessionClaims(u.ID, u.Username, string(u.Role), s.Issuer, s.ttl(), now)
	token, err := s.Signer.Sign(claims)
	if err != nil {
		return fail(uid, fmt.Errorf("sign token: %w", err))
	}

	// MarkEnrolledVerified, plus a transparent upgrade of stale digests.
	changed := false
	if u.TOTPState == domain.TOTPUnverified && u.HasTOTPSecret() {
		u.TOTPState = domain.TOTPVerified
		changed = true
	}
	if s.Hasher.NeedsRehash(u.PasswordHash) {
		if digest, err := s.Hasher.Hash(ctx, in.Password); err == nil {
			u.PasswordHash = digest
			changed = true
		} else {
			log.Warn("password rehash failed", "user_id", u.ID, "err", err)
		}
	}
	if changed {
		u.UpdatedAt = now
		if err := s.Store.Users().SaveUser(ctx, u); err != nil {
			return fail(uid, fmt.Errorf("save user: %w", err))
		}
	}

	s.Metrics.AuthAttempt("login", "success")
	auditErr := s.record(ctx, domain.ActionLoginSuccess, uid, in.IPAddress,
		"User logged in successfully: "+u.Username)
	log.Info("user logged in", "user_id", u.ID, "jti", claims.ID)

	return LoginResult{Token: token, Claims: claims, User: u, AuditErr: auditErr}, nil
}

// RejectLoginRequest audits a login whose body could not be decoded. It
// returns the audit error, if any.
func (s *AuthService) RejectLoginRequest(ctx context.Context, ip string, cause error) error {
	s.Metrics.AuthAttempt("login", "malformed")
	slogx.FromContext(ctx).Debug("malformed login request", "err", cause)
	return s.record(ctx, domain.ActionLoginError, nil, ip, "Login rejected: malformed request body")
}

type LogoutResult struct {
	AuditErr error
}

// Logout revokes the principal's token until its natural expiry.
func (s *AuthService) Logout(ctx context.Context, p domain.Principal, ip string) (LogoutResult, error) {
	if s.DenyList == nil {
		return LogoutResult{}, errors.New("token revocation is not configured")
	}
	err := s.DenyList.Revoke(ctx, domain.RevokedToken{
		JTI:       p.TokenID,
		UserID:    p.UserID,
		ExpiresAt: p.ExpiresAt,
		RevokedAt: s.now(),
	})
	if err != nil {
		return LogoutResult{}, fmt.Errorf("revoke token: %w", err)
	}

	uid := p.UserID
	auditErr := s.record(ctx, domain.ActionLogout, &uid, ip, "User logged out: "+p.Username)
	return LogoutResult{AuditErr: auditErr}, nil
}
