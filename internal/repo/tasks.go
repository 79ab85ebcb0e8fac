package repo

import (
	"context"
	"strings"

	"teamdeck/internal/docstore"
	"teamdeck/internal/domain"
)

func (r Repo) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t.Title = strings.TrimSpace(t.Title)
	if err := required("task title", t.Title); err != nil {
		return domain.Task{}, err
	}
	if err := required("project id", t.ProjectID); err != nil {
		return domain.Task{}, err
	}
	if err := required("company id", t.CompanyID); err != nil {
		return domain.Task{}, err
	}
	if !t.Status.Valid() {
		return domain.Task{}, invalid("status %q", t.Status)
	}
	id, err := r.Store.Insert(ctx, domain.CollectionTasks, t)
	if err != nil {
		return domain.Task{}, err
	}
	return r.GetTask(ctx, id)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return getAs[domain.Task](ctx, r.Store, domain.CollectionTasks, id)
}

// ListTasks returns the company's tasks newest first, narrowed to one
// project when projectID is set.
func (r Repo) ListTasks(ctx context.Context, companyID, projectID string) ([]domain.Task, error) {
	return queryAs[domain.Task](ctx, r.Store, tasksQuery(companyID, projectID))
}

// ListAssignedTasks returns the company's tasks assigned to uid, newest first.
func (r Repo) ListAssignedTasks(ctx context.Context, companyID, uid string) ([]domain.Task, error) {
	return queryAs[domain.Task](ctx, r.Store, byCompany(domain.CollectionTasks, companyID, docstore.Eq("assignedTo", uid)))
}

func (r Repo) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	if !status.Valid() {
		return invalid("status %q", status)
	}
	return r.Store.Update(ctx, domain.CollectionTasks, id, map[string]any{"status": string(status)})
}

func tasksQuery(companyID, projectID string) docstore.Query {
	if projectID == "" {
		return byCompany(domain.CollectionTasks, companyID)
	}
	return byCompany(domain.CollectionTasks, companyID, docstore.Eq("projectId", projectID))
}
