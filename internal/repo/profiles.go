package repo

import (
	"context"

	"teamdeck/internal/domain"
)

func (r Repo) GetProfile(ctx context.Context, uid string) (domain.Profile, error) {
	return getAs[domain.Profile](ctx, r.Store, domain.CollectionUsers, uid)
}

// CreateProfile writes the profile under its identity id. It fails with
// ErrConflict if the identity already has a profile.
func (r Repo) CreateProfile(ctx context.Context, p domain.Profile) error {
	if err := required("uid", p.UID); err != nil {
		return err
	}
	if err := required("company id", p.CompanyID); err != nil {
		return err
	}
	if !p.Role.Valid() {
		return invalid("role %q", p.Role)
	}
	return r.Store.Create(ctx, domain.CollectionUsers, p.UID, p)
}

// ListMembers returns the company's profiles, newest first.
func (r Repo) ListMembers(ctx context.Context, companyID string) ([]domain.Profile, error) {
	return queryAs[domain.Profile](ctx, r.Store, byCompany(domain.CollectionUsers, companyID))
}
