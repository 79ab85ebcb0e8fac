package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"teamdeck/internal/domain"
	"teamdeck/internal/engine"
	"teamdeck/internal/livesync"
)

// registerStreams exposes live collections as server-sent events. Every
// "snapshot" event carries the full current result set; refresh failures
// are sent as "error" events and the stream stays open. A stream that cannot
// be opened sends one error event and ends.
func registerStreams(api huma.API, e engine.Engine) {
	sse.Register(api, huma.Operation{
		OperationID: "stream-projects",
		Method:      http.MethodGet,
		Path:        "/stream/projects",
		Summary:     "Live project snapshots",
	}, map[string]any{
		"snapshot": ProjectsSnapshot{},
		"error":    StreamError{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			_ = send.Data(StreamError{Message: authErr.Error()})
			return
		}
		feed, err := e.SubscribeProjects(ctx, actor)
		if err != nil {
			_ = send.Data(StreamError{Message: err.Error()})
			return
		}
		pump(ctx, feed, send, func(items []domain.Project) any { return ProjectsSnapshot{Items: items} })
	})

	sse.Register(api, huma.Operation{
		OperationID: "stream-tasks",
		Method:      http.MethodGet,
		Path:        "/stream/tasks",
		Summary:     "Live task snapshots",
	}, map[string]any{
		"snapshot": TasksSnapshot{},
		"error":    StreamError{},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id" doc:"Only tasks of this project"`
	}, send sse.Sender) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			_ = send.Data(StreamError{Message: authErr.Error()})
			return
		}
		feed, err := e.SubscribeTasks(ctx, actor, input.ProjectID)
		if err != nil {
			_ = send.Data(StreamError{Message: err.Error()})
			return
		}
		pump(ctx, feed, send, func(items []domain.Task) any { return TasksSnapshot{Items: items} })
	})

	sse.Register(api, huma.Operation{
		OperationID: "stream-members",
		Method:      http.MethodGet,
		Path:        "/stream/members",
		Summary:     "Live member snapshots",
	}, map[string]any{
		"snapshot": MembersSnapshot{},
		"error":    StreamError{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			_ = send.Data(StreamError{Message: authErr.Error()})
			return
		}
		feed, err := e.SubscribeMembers(ctx, actor)
		if err != nil {
			_ = send.Data(StreamError{Message: err.Error()})
			return
		}
		pump(ctx, feed, send, func(items []domain.Profile) any { return MembersSnapshot{Items: items} })
	})
}

// pump forwards feed snapshots until the client goes away.
func pump[T any](ctx context.Context, feed *livesync.Feed[T], send sse.Sender, wrap func([]T) any) {
	defer feed.Cancel()
	for {
		items, err := feed.Next(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, livesync.ErrCancelled):
			return
		case err != nil:
			if send.Data(StreamError{Message: err.Error()}) != nil {
				return
			}
		default:
			if send.Data(wrap(items)) != nil {
				return
			}
		}
	}
}
