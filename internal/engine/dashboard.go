package engine

import (
	"context"

	"teamdeck/internal/domain"
)

const recentAssignedLimit = 5

type Dashboard struct {
	ActiveProjects int           `json:"active_projects"`
	PendingTasks   int           `json:"pending_tasks"`
	CompletedTasks int           `json:"completed_tasks"`
	MyOpenTasks    int           `json:"my_open_tasks"`
	MyRecentTasks  []domain.Task `json:"my_recent_tasks"`
}

func (e Engine) Dashboard(ctx context.Context, actor domain.Profile) (Dashboard, error) {
	projects, err := e.Repo.ListProjects(ctx, actor.CompanyID)
	if err != nil {
		return Dashboard{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, actor.CompanyID, "")
	if err != nil {
		return Dashboard{}, err
	}
	return Summarize(actor.UID, projects, tasks), nil
}

// Summarize computes dashboard figures from company snapshots. tasks must be
// ordered newest first.
func Summarize(uid string, projects []domain.Project, tasks []domain.Task) Dashboard {
	d := Dashboard{ActiveProjects: len(projects), MyRecentTasks: []domain.Task{}}
	for _, t := range tasks {
		if t.Status == domain.StatusDone {
			d.CompletedTasks++
		} else {
			d.PendingTasks++
		}
		if uid == "" || t.AssignedTo != uid {
			continue
		}
		if t.Status != domain.StatusDone {
			d.MyOpenTasks++
		}
		if len(d.MyRecentTasks) < recentAssignedLimit {
			d.MyRecentTasks = append(d.MyRecentTasks, t)
		}
	}
	return d
}
