package repo

import (
	"context"
	"errors"
	"net/mail"

	"teamdeck/internal/docstore"
	"teamdeck/internal/domain"
)

// CreateInviteInput describes a new invitation.
type CreateInviteInput struct {
	Email     string
	CompanyID string
	Role      domain.Role
	InvitedBy string
}

// NormalizeCreateInviteInput trims and validates invite input. Owner cannot
// be granted by invite.
func NormalizeCreateInviteInput(in CreateInviteInput) (CreateInviteInput, error) {
	in.Email = domain.NormalizeEmail(in.Email)
	if err := required("email", in.Email); err != nil {
		return in, err
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return in, invalid("email %q is not an address", in.Email)
	}
	if err := required("company id", in.CompanyID); err != nil {
		return in, err
	}
	if in.Role != domain.RoleAdmin && in.Role != domain.RoleMember {
		return in, invalid("role must be %s or %s", domain.RoleAdmin, domain.RoleMember)
	}
	return in, nil
}

// CreateInvite stores a pending invite. Duplicates for one email are allowed;
// lookups take the newest.
func (r Repo) CreateInvite(ctx context.Context, in CreateInviteInput) (domain.Invite, error) {
	in, err := NormalizeCreateInviteInput(in)
	if err != nil {
		return domain.Invite{}, err
	}
	inv := domain.Invite{
		Email:     in.Email,
		CompanyID: in.CompanyID,
		Role:      in.Role,
		InvitedBy: in.InvitedBy,
		Status:    domain.InvitePending,
	}
	id, err := r.Store.Insert(ctx, domain.CollectionInvites, inv)
	if err != nil {
		return domain.Invite{}, err
	}
	return getAs[domain.Invite](ctx, r.Store, domain.CollectionInvites, id)
}

// FindPendingInvite returns the newest pending invite for email, or
// ErrNotFound.
func (r Repo) FindPendingInvite(ctx context.Context, email string) (domain.Invite, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return domain.Invite{}, ErrNotFound
	}
	invites, err := queryAs[domain.Invite](ctx, r.Store, docstore.Query{
		Collection: domain.CollectionInvites,
		Filters: []docstore.Filter{
			docstore.Eq("email", email),
			docstore.Eq("status", string(domain.InvitePending)),
		},
		OrderBy: docstore.NewestFirst,
	})
	if err != nil {
		return domain.Invite{}, err
	}
	if len(invites) == 0 {
		return domain.Invite{}, ErrNotFound
	}
	return invites[0], nil
}

// AcceptInvite marks the invite accepted. Accepting an accepted invite is a
// no-op.
func (r Repo) AcceptInvite(ctx context.Context, id string) error {
	inv, err := r.GetInvite(ctx, id)
	if err != nil {
		return err
	}
	if inv.Status == domain.InviteAccepted {
		return nil
	}
	err = r.Store.Update(ctx, domain.CollectionInvites, id, map[string]any{"status": string(domain.InviteAccepted)})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (r Repo) GetInvite(ctx context.Context, id string) (domain.Invite, error) {
	return getAs[domain.Invite](ctx, r.Store, domain.CollectionInvites, id)
}

// ListPendingInvites returns the company's pending invites, newest first.
func (r Repo) ListPendingInvites(ctx context.Context, companyID string) ([]domain.Invite, error) {
	return queryAs[domain.Invite](ctx, r.Store, byCompany(domain.CollectionInvites, companyID,
		docstore.Eq("status", string(domain.InvitePending))))
}
