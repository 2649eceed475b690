package authsdk

import "time"

// Role names accepted by the gateway.
const (
	RoleAdmin   = "Admin"
	RoleDoctor  = "Doctor"
	RolePatient = "Patient"
)

type SignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// TwoFASetup is returned exactly once, at signup.
type TwoFASetup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioningURI"`
	QRCodeDataURL   string `json:"qrCodeDataURL"`
}

type SignupResponse struct {
	Message    string     `json:"message"`
	UserID     string     `json:"userId"`
	TwoFASetup TwoFASetup `json:"twoFASetup"`
}

type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	TwoFAToken string `json:"twoFAToken,omitempty"`
}

type LoginUser struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	TwoFAEnabled bool   `json:"twoFAEnabled"`
}

type LoginResponse struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      LoginUser `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// MeResponse describes the authenticated principal.
type MeResponse struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	TokenID   string    `json:"tokenId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuditLogQuery filters GET /admin/logs. Zero values mean "no filter".
type AuditLogQuery struct {
	Limit  int
	Action string
	UserID string
	Since  time.Time
	Until  time.Time
}

type AuditEntry struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Action    string    `json:"action"`
	UserID    *string   `json:"userId"`
	Username  string    `json:"username,omitempty"`
	Email     string    `json:"email,omitempty"`
	Details   string    `json:"details"`
	IPAddress string    `json:"ipAddress"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
}

type AuditLogsResponse struct {
	Entries []AuditEntry `json:"entries"`
}

// ChainReport is the result of re-verifying the audit hash chain.
type ChainReport struct {
	Valid    bool   `json:"valid"`
	Checked  int    `json:"checked"`
	BrokenAt string `json:"brokenAt,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type UserSummary struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	TwoFAState   string    `json:"twoFAState"`
	TwoFAEnabled bool      `json:"twoFAEnabled"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type UsersResponse struct {
	Users []UserSummary `json:"users"`
}

type UpdateRoleRequest struct {
	Role string `json:"role"`
}

// UpdateStatusRequest requires "active"; an absent field is rejected rather
// than read as false.
type UpdateStatusRequest struct {
	Active *bool `json:"active"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
