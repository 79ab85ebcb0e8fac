package repo

import (
	"context"
	"errors"

	"teamdeck/internal/docstore"
	"teamdeck/internal/domain"
	"teamdeck/internal/livesync"
)

var errNoHub = errors.New("live sync not configured")

// SubscribeProjects streams the company's projects, newest first.
func (r Repo) SubscribeProjects(ctx context.Context, companyID string) (*livesync.Feed[domain.Project], error) {
	return subscribe[domain.Project](ctx, r.Hub, byCompany(domain.CollectionProjects, companyID))
}

// SubscribeTasks streams the company's tasks, narrowed to one project when
// projectID is set.
func (r Repo) SubscribeTasks(ctx context.Context, companyID, projectID string) (*livesync.Feed[domain.Task], error) {
	return subscribe[domain.Task](ctx, r.Hub, tasksQuery(companyID, projectID))
}

// SubscribeMembers streams the company's member profiles.
func (r Repo) SubscribeMembers(ctx context.Context, companyID string) (*livesync.Feed[domain.Profile], error) {
	return subscribe[domain.Profile](ctx, r.Hub, byCompany(domain.CollectionUsers, companyID))
}

func subscribe[T any](ctx context.Context, hub *livesync.Hub, q docstore.Query) (*livesync.Feed[T], error) {
	if hub == nil {
		return nil, errNoHub
	}
	s, err := hub.Subscribe(ctx, q)
	if err != nil {
		return nil, err
	}
	return livesync.NewFeed[T](s), nil
}
