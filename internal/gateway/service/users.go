package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	"github.com/aussiebroadwan/securehealth/internal/gateway/store"
)

// UserService backs the admin user-management endpoints. Every mutation is
// committed in the same transaction as its audit entry.
type UserService struct {
	Store store.Store
	Audit *AuditService

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

func (s *UserService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *UserService) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.Store.Users().ListUsers(ctx)
}

func (s *UserService) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := s.Store.Users().GetUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

// UpdateRole changes a user's role. Tokens already issued keep the role they
// were minted with until they expire.
func (s *UserService) UpdateRole(ctx context.Context, actor domain.Principal, id, role, ip string) (domain.User, error) {
	newRole, err := domain.ParseRole(role)
	if err != nil {
		return domain.User{}, ErrInvalidRole
	}
	if actor.UserID == id {
		return domain.User{}, fmt.Errorf("%w: administrators cannot change their own role", ErrValidation)
	}

	return s.mutate(ctx, id, func(u *domain.User) AuditEvent {
		old := u.Role
		u.Role = newRole
		return AuditEvent{
			Action:    domain.ActionRoleUpdate,
			UserID:    &actor.UserID,
			Details:   fmt.Sprintf("User %s (%s) role changed from %s to %s", u.Username, u.ID, old, newRole),
			IPAddress: ip,
		}
	})
}

// SetActive enables or disables a user's account.
func (s *UserService) SetActive(ctx context.Context, actor domain.Principal, id string, active bool, ip string) (domain.User, error) {
	if actor.UserID == id && !active {
		return domain.User{}, fmt.Errorf("%w: administrators cannot disable their own account", ErrValidation)
	}

	return s.mutate(ctx, id, func(u *domain.User) AuditEvent {
		u.Active = active
		state := "deactivated"
		if active {
			state = "activated"
		}
		return AuditEvent{
			Action:    domain.ActionAccountStatusUpdate,
			UserID:    &actor.UserID,
			Details:   fmt.Sprintf("User %s (%s) account %s", u.Username, u.ID, state),
			IPAddress: ip,
		}
	})
}

func (s *UserService) mutate(ctx context.Context, id string, apply func(u *domain.User) AuditEvent) (domain.User, error) {
	var (
		out    domain.User
		action domain.AuditAction
	)
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		u, err := tx.Users().GetUserByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		ev := apply(&u)
		action = ev.Action
		u.UpdatedAt = s.now()
		if err := tx.Users().SaveUser(ctx, u); err != nil {
			return err
		}
		if err := s.Audit.RecordTx(ctx, tx, ev); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	s.Audit.Metrics.AuditRecorded(string(action))
	return out, nil
}
