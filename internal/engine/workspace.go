package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"teamdeck/internal/domain"
	"teamdeck/internal/engine/auth"
	"teamdeck/internal/livesync"
	"teamdeck/internal/repo"
)

func (e Engine) CreateProject(ctx context.Context, actor domain.Profile, name, description string) (domain.Project, error) {
	return e.Repo.InsertProject(ctx, domain.Project{
		Name:        name,
		Description: description,
		CompanyID:   actor.CompanyID,
		CreatedBy:   actor.UID,
	})
}

// ListProjects returns the company's projects newest first, keeping those
// whose name contains search (case-insensitive) when search is set.
func (e Engine) ListProjects(ctx context.Context, companyID, search string) ([]domain.Project, error) {
	projects, err := e.Repo.ListProjects(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return FilterProjects(projects, search), nil
}

func FilterProjects(projects []domain.Project, search string) []domain.Project {
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return projects
	}
	out := make([]domain.Project, 0, len(projects))
	for _, p := range projects {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			out = append(out, p)
		}
	}
	return out
}

// DeleteProject removes a project of the actor's company. Its tasks are
// left in place.
func (e Engine) DeleteProject(ctx context.Context, actor domain.Profile, id string) error {
	if _, err := e.companyProject(ctx, actor, id); err != nil {
		return err
	}
	return e.Repo.DeleteProject(ctx, id)
}

func (e Engine) companyProject(ctx context.Context, actor domain.Profile, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if !auth.SameCompany(actor, p.CompanyID) {
		return domain.Project{}, ErrNotFound
	}
	return p, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	AssignedTo  string
	Priority    string
	DueDate     string
}

func (e Engine) CreateTask(ctx context.Context, actor domain.Profile, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(opts.ProjectID) == "" {
		return domain.Task{}, fmt.Errorf("%w: project is required", ErrInvalidInput)
	}
	priority, err := domain.ParsePriority(opts.Priority)
	if err != nil {
		return domain.Task{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	due := strings.TrimSpace(opts.DueDate)
	if due != "" {
		if _, err := time.Parse(domain.DateLayout, due); err != nil {
			return domain.Task{}, fmt.Errorf("%w: due date must be YYYY-MM-DD", ErrInvalidInput)
		}
	}
	if _, err := e.companyProject(ctx, actor, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	assignee := strings.TrimSpace(opts.AssignedTo)
	if assignee != "" {
		member, err := e.Repo.GetProfile(ctx, assignee)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && member.CompanyID != actor.CompanyID) {
			return domain.Task{}, fmt.Errorf("%w: assignee %s is not a member", ErrInvalidInput, assignee)
		}
		if err != nil {
			return domain.Task{}, err
		}
	}
	return e.Repo.InsertTask(ctx, domain.Task{
		Title:       opts.Title,
		Description: strings.TrimSpace(opts.Description),
		ProjectID:   opts.ProjectID,
		CompanyID:   actor.CompanyID,
		AssignedTo:  assignee,
		Status:      domain.StatusTodo,
		Priority:    priority,
		DueDate:     due,
	})
}

func (e Engine) ListTasks(ctx context.Context, actor domain.Profile, projectID string) ([]domain.Task, error) {
	if projectID != "" {
		if _, err := e.companyProject(ctx, actor, projectID); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListTasks(ctx, actor.CompanyID, projectID)
}

// Advance moves a task one step forward: todo, in-progress, done.
func (e Engine) Advance(ctx context.Context, actor domain.Profile, taskID string) (domain.Task, error) {
	return e.step(ctx, actor, taskID, domain.TaskStatus.Next, "advance")
}

// Retreat moves a task one step back. done never jumps to todo.
func (e Engine) Retreat(ctx context.Context, actor domain.Profile, taskID string) (domain.Task, error) {
	return e.step(ctx, actor, taskID, domain.TaskStatus.Prev, "retreat")
}

func (e Engine) step(ctx context.Context, actor domain.Profile, taskID string, move func(domain.TaskStatus) (domain.TaskStatus, bool), verb string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if !auth.SameCompany(actor, t.CompanyID) {
		return domain.Task{}, ErrNotFound
	}
	next, ok := move(t.Status)
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, verb, t.Status)
	}
	if err := e.Repo.UpdateTaskStatus(ctx, taskID, next); err != nil {
		return domain.Task{}, err
	}
	t.Status = next
	return t, nil
}

// SendInvite records a pending invite for email. Only Owner and Admin may
// invite, and only Admin or Member can be granted.
func (e Engine) SendInvite(ctx context.Context, actor domain.Profile, email string, role domain.Role) (domain.Invite, error) {
	if err := auth.RequireManager(actor, "invite members"); err != nil {
		return domain.Invite{}, err
	}
	inv, err := e.Repo.CreateInvite(ctx, repo.CreateInviteInput{
		Email:     email,
		CompanyID: actor.CompanyID,
		Role:      role,
		InvitedBy: actor.UID,
	})
	if err != nil {
		return domain.Invite{}, err
	}
	e.logger().Info("invite sent", "company", actor.CompanyID, "email", inv.Email, "role", inv.Role)
	return inv, nil
}

func (e Engine) ListMembers(ctx context.Context, companyID string) ([]domain.Profile, error) {
	return e.Repo.ListMembers(ctx, companyID)
}

func (e Engine) ListPendingInvites(ctx context.Context, actor domain.Profile) ([]domain.Invite, error) {
	return e.Repo.ListPendingInvites(ctx, actor.CompanyID)
}

// SubscribeProjects opens a live view of the actor's company projects.
func (e Engine) SubscribeProjects(ctx context.Context, actor domain.Profile) (*livesync.Feed[domain.Project], error) {
	return e.Repo.SubscribeProjects(ctx, actor.CompanyID)
}

// SubscribeTasks opens a live view of the company's tasks, narrowed to
// projectID when set. The project must belong to the actor's company.
func (e Engine) SubscribeTasks(ctx context.Context, actor domain.Profile, projectID string) (*livesync.Feed[domain.Task], error) {
	if projectID != "" {
		if _, err := e.companyProject(ctx, actor, projectID); err != nil {
			return nil, err
		}
	}
	return e.Repo.SubscribeTasks(ctx, actor.CompanyID, projectID)
}

func (e Engine) SubscribeMembers(ctx context.Context, actor domain.Profile) (*livesync.Feed[domain.Profile], error) {
	return e.Repo.SubscribeMembers(ctx, actor.CompanyID)
}
