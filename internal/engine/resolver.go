package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"teamdeck/internal/domain"
	"teamdeck/internal/identity"
	"teamdeck/internal/repo"
)

const (
	fallbackName        = "Guest"
	fallbackCompanyName = "New"
)

// Resolve returns the profile of id, creating it on first sign-in. A pending
// invite for the identity's email places it in the inviting company;
// otherwise a new company owned by the identity is created. Concurrent calls
// for one identity share a single execution, which outlives the cancellation
// of whichever caller started it. Persistence failures are returned as
// *SyncError and never retried.
func (e Engine) Resolve(ctx context.Context, id identity.Identity) (domain.Profile, error) {
	if strings.TrimSpace(id.ID) == "" {
		return domain.Profile{}, fmt.Errorf("%w: identity id required", ErrInvalidInput)
	}
	if e.flight == nil {
		return e.resolve(ctx, id)
	}
	shared := context.WithoutCancel(ctx)
	v, err, _ := e.flight.Do(id.ID, func() (any, error) {
		return e.resolve(shared, id)
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return v.(domain.Profile), nil
}

func (e Engine) resolve(ctx context.Context, id identity.Identity) (domain.Profile, error) {
	existing, err := e.Repo.GetProfile(ctx, id.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Profile{}, &SyncError{Op: "load profile", Err: err}
	}

	profile := domain.Profile{
		UID:      id.ID,
		Name:     id.DisplayName,
		Email:    id.Email,
		PhotoURL: id.AvatarURL,
	}
	if strings.TrimSpace(profile.Name) == "" {
		profile.Name = fallbackName
	}

	inv, err := e.Repo.FindPendingInvite(ctx, id.Email)
	switch {
	case err == nil:
		return e.joinCompany(ctx, profile, inv)
	case errors.Is(err, repo.ErrNotFound):
		return e.foundCompany(ctx, profile, id.DisplayName)
	default:
		return domain.Profile{}, &SyncError{Op: "find invite", Err: err}
	}
}

// joinCompany writes the profile and then consumes the invite. The two
// writes are not atomic: if the accept fails the profile stays and the
// invite remains pending.
func (e Engine) joinCompany(ctx context.Context, profile domain.Profile, inv domain.Invite) (domain.Profile, error) {
	profile.CompanyID = inv.CompanyID
	profile.Role = inv.Role
	if err := e.Repo.CreateProfile(ctx, profile); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// Another process onboarded this identity first; the invite stays
			// pending for it or was already consumed there.
			return e.reload(ctx, profile)
		}
		return domain.Profile{}, &SyncError{Op: "write profile", Err: err}
	}
	if err := e.Repo.AcceptInvite(ctx, inv.ID); err != nil {
		e.logger().Warn("resolver: invite left pending after profile write", "invite", inv.ID, "uid", profile.UID, "err", err)
		return domain.Profile{}, &SyncError{Op: "accept invite", Err: err}
	}
	e.logger().Info("resolver: joined company", "uid", profile.UID, "company", inv.CompanyID, "role", inv.Role)
	return e.reload(ctx, profile)
}

func (e Engine) foundCompany(ctx context.Context, profile domain.Profile, displayName string) (domain.Profile, error) {
	owner := strings.TrimSpace(displayName)
	if owner == "" {
		owner = fallbackCompanyName
	}
	companyID, err := e.Repo.CreateCompany(ctx, owner+"'s Team", profile.UID)
	if err != nil {
		return domain.Profile{}, &SyncError{Op: "create company", Err: err}
	}
	profile.CompanyID = companyID
	profile.Role = domain.RoleOwner
	if err := e.Repo.CreateProfile(ctx, profile); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			e.discardCompany(ctx, companyID, profile.UID)
			return e.reload(ctx, profile)
		}
		return domain.Profile{}, &SyncError{Op: "write profile", Err: err}
	}
	e.logger().Info("resolver: created company", "uid", profile.UID, "company", companyID)
	return e.reload(ctx, profile)
}

// discardCompany removes a company created for an identity that lost the
// race to write its profile.
func (e Engine) discardCompany(ctx context.Context, companyID, uid string) {
	if err := e.Repo.DeleteCompany(ctx, companyID); err != nil {
		e.logger().Warn("resolver: orphan company left behind", "company", companyID, "uid", uid, "err", err)
		return
	}
	e.logger().Info("resolver: profile created elsewhere, discarded company", "company", companyID, "uid", uid)
}

func (e Engine) reload(ctx context.Context, profile domain.Profile) (domain.Profile, error) {
	stored, err := e.Repo.GetProfile(ctx, profile.UID)
	if err != nil {
		return domain.Profile{}, &SyncError{Op: "reload profile", Err: err}
	}
	return stored, nil
}
