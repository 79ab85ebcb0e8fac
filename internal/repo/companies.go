package repo

import (
	"context"
	"strings"

	"teamdeck/internal/domain"
)

// CreateCompany registers a workspace owned by ownerID. Names are not unique.
func (r Repo) CreateCompany(ctx context.Context, name, ownerID string) (string, error) {
	name = strings.TrimSpace(name)
	if err := required("company name", name); err != nil {
		return "", err
	}
	if err := required("owner id", ownerID); err != nil {
		return "", err
	}
	return r.Store.Insert(ctx, domain.CollectionCompanies, domain.Company{Name: name, CreatedBy: ownerID})
}

func (r Repo) GetCompany(ctx context.Context, id string) (domain.Company, error) {
	return getAs[domain.Company](ctx, r.Store, domain.CollectionCompanies, id)
}

func (r Repo) DeleteCompany(ctx context.Context, id string) error {
	return r.Store.Delete(ctx, domain.CollectionCompanies, id)
}
