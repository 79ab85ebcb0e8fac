package repo

import (
	"context"
	"strings"

	"teamdeck/internal/domain"
)

func (r Repo) InsertProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	if err := required("project name", p.Name); err != nil {
		return domain.Project{}, err
	}
	if err := required("company id", p.CompanyID); err != nil {
		return domain.Project{}, err
	}
	id, err := r.Store.Insert(ctx, domain.CollectionProjects, p)
	if err != nil {
		return domain.Project{}, err
	}
	return r.GetProject(ctx, id)
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return getAs[domain.Project](ctx, r.Store, domain.CollectionProjects, id)
}

// ListProjects returns the company's projects, newest first.
func (r Repo) ListProjects(ctx context.Context, companyID string) ([]domain.Project, error) {
	return queryAs[domain.Project](ctx, r.Store, byCompany(domain.CollectionProjects, companyID))
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	return r.Store.Delete(ctx, domain.CollectionProjects, id)
}
