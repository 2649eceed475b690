package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Drivers expose sub-repositories so
// that a Tx-scoped store offers exactly the same surface as the root one.
type Store interface {
	Users() Users
	Audit() AuditLog
	RevokedTokens() RevokedTokens

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, committing when fn returns nil.
	// Do not touch the root Store from inside fn.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// CreateUser inserts u unless its username or email is already taken, in
	// which case ErrAlreadyExists is returned. The check and the insert are a
	// single statement, and the UNIQUE constraints catch anything that races it.
	CreateUser(ctx context.Context, u domain.User) error

	// ExistsByUsernameOrEmail answers the duplicate check with one predicate.
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)

	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// SaveUser replaces every mutable column of an existing user.
	SaveUser(ctx context.Context, u domain.User) error

	// ListUsers returns all users, oldest first.
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// AuditLog is append-only.
type AuditLog interface {
	// AppendAuditEntry stores e and returns it with Seq assigned.
	AppendAuditEntry(ctx context.Context, e domain.AuditEntry) (domain.AuditEntry, error)

	// LastAuditEntry returns the entry with the highest sequence, or ErrNotFound.
	LastAuditEntry(ctx context.Context) (domain.AuditEntry, error)

	// QueryAuditEntries returns entries newest first joined with their actor.
	QueryAuditEntries(ctx context.Context, f domain.AuditFilter) ([]domain.AuditRecord, error)

	// ScanAuditEntries walks every entry in sequence order. fn must not use
	// the store.
	ScanAuditEntries(ctx context.Context, fn func(domain.AuditEntry) error) error
}

type RevokedTokens interface {
	// RevokeToken is idempotent.
	RevokeToken(ctx context.Context, t domain.RevokedToken) error

	IsTokenRevoked(ctx context.Context, jti string) (bool, error)

	// DeleteExpiredRevokedTokens drops entries whose token would have expired by now.
	DeleteExpiredRevokedTokens(ctx context.Context, now time.Time) (int64, error)
}
