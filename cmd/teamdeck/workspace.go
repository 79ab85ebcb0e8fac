package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"teamdeck/internal/domain"
	"teamdeck/internal/engine"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s sessionEnv) error {
				items, err := s.App.Engine.ListProjects(ctx, s.Profile.CompanyID, search)
				if err != nil {
					return err
				}
				return printProjects(items)
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "filter by name")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s sessionEnv) error {
				p, err := s.App.Engine.CreateProject(ctx, s.Profile, name, desc)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project (its tasks are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s sessionEnv) error {
				if err := s.App.Engine.DeleteProject(ctx, s.Profile, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskStepCmd("next", "Move a task forward (todo, in-progress, done)", engine.Engine.Advance))
	task.AddCommand(taskStepCmd("prev", "Move a task back one step", engine.Engine.Retreat))
	return task
}

func taskListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s sessionEnv) error {
				tasks, err := s.App.Engine.ListTasks(ctx, s.Profile, projectID)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s sessionEnv) error {
				t, err := s.App.Engine.CreateTask(ctx, s.Profile, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.AssignedTo, "assignee", "", "assignee uid")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "low, medium or high (default medium)")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskStepCmd(use, short string, move func(engine.Engine, context.Context, domain.Profile, string) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s sessionEnv) error {
				t, err := move(s.App.Engine, ctx, s.Profile, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("%s is now %s\n", t.ID, t.Status)
				return nil
			})
		},
	}
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Company members"}
	m.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s sessionEnv) error {
				members, err := s.App.Engine.ListMembers(ctx, s.Profile.CompanyID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"UID", "Name", "Email", "Role"})
				for _, p := range members {
					tw.AppendRow(table.Row{p.UID, p.Name, p.Email, p.Role})
				}
				tw.Render()
				return nil
			})
		},
	})
	return m
}

func inviteCmd() *cobra.Command {
	inv := &cobra.Command{Use: "invite", Short: "Invite members by email"}
	inv.AddCommand(inviteSendCmd())
	inv.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending invites",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s sessionEnv) error {
				items, err := s.App.Engine.ListPendingInvites(ctx, s.Profile)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Role", "Invited By", "Created"})
				for _, i := range items {
					tw.AppendRow(table.Row{i.ID, i.Email, i.Role, i.InvitedBy, i.CreatedAt.Format(time.DateTime)})
				}
				tw.Render()
				return nil
			})
		},
	})
	return inv
}

func inviteSendCmd() *cobra.Command {
	var email, role string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Invite an email address",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s sessionEnv) error {
				i, err := s.App.Engine.SendInvite(ctx, s.Profile, email, r)
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleMember), "Admin or Member")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func dashboardCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show company figures and your assigned tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s sessionEnv) error {
				if !watch {
					d, err := s.App.Engine.Dashboard(ctx, s.Profile)
					if err != nil {
						return err
					}
					return printDashboard(d)
				}
				return watchDashboard(ctx, s)
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep the dashboard live until interrupted or signed out")
	return cmd
}

// watchDashboard re-renders whenever the project or task snapshot changes.
// It ends when the session no longer has a profile.
func watchDashboard(ctx context.Context, s sessionEnv) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := s.App.Run(ctx); err != nil {
			s.App.Logger.Error("live sync stopped", "err", err)
		}
	}()

	projects, err := s.App.Engine.SubscribeProjects(ctx, s.Profile)
	if err != nil {
		return err
	}
	defer projects.Cancel()
	tasks, err := s.App.Engine.SubscribeTasks(ctx, s.Profile, "")
	if err != nil {
		return err
	}
	defer tasks.Cancel()

	type update struct {
		projects []domain.Project
		tasks    []domain.Task
		err      error
	}
	updates := make(chan update)
	forward := func(next func(context.Context) (update, error)) {
		for {
			u, err := next(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				u = update{err: err}
			}
			select {
			case updates <- u:
			case <-ctx.Done():
				return
			}
		}
	}
	go forward(func(ctx context.Context) (update, error) {
		items, err := projects.Next(ctx)
		return update{projects: items}, err
	})
	go forward(func(ctx context.Context) (update, error) {
		items, err := tasks.Next(ctx)
		return update{tasks: items}, err
	})

	states, stop := s.Gate.Observe()
	defer stop()
	var curProjects []domain.Project
	var curTasks []domain.Task
	var gotProjects, gotTasks bool
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-states:
			if !st.Loading && (!st.Ready() || st.Profile.UID != s.Profile.UID) {
				if st.Err != "" {
					return errors.New(st.Err)
				}
				return errNotSignedIn
			}
		case u := <-updates:
			switch {
			case u.err != nil:
				s.App.Logger.Warn("dashboard refresh failed", "err", u.err)
				continue
			case u.projects != nil:
				curProjects, gotProjects = u.projects, true
			case u.tasks != nil:
				curTasks, gotTasks = u.tasks, true
			}
			if !gotProjects || !gotTasks {
				continue
			}
			if !viper.GetBool("json") {
				fmt.Print("\033[H\033[2J")
				fmt.Printf("teamdeck dashboard, updated %s\n", time.Now().Format(time.TimeOnly))
			}
			if err := printDashboard(engine.Summarize(s.Profile.UID, curProjects, curTasks)); err != nil {
				return err
			}
		}
	}
}

func printDashboard(d engine.Dashboard) error {
	if viper.GetBool("json") {
		return printJSON(d)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"Active projects", d.ActiveProjects})
	tw.AppendRow(table.Row{"Pending tasks", d.PendingTasks})
	tw.AppendRow(table.Row{"Completed tasks", d.CompletedTasks})
	tw.AppendRow(table.Row{"My open tasks", d.MyOpenTasks})
	tw.Render()
	if len(d.MyRecentTasks) == 0 {
		fmt.Println("No tasks assigned to you.")
		return nil
	}
	return printTasks(d.MyRecentTasks)
}

func printProjects(items []domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Description", "Created"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Name, p.Description, p.CreatedAt.Format(time.DateTime)})
	}
	tw.Render()
	return nil
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Due"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.AssignedTo, t.DueDate})
	}
	tw.Render()
	return nil
}
