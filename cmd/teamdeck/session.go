package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"teamdeck/internal/app"
	"teamdeck/internal/domain"
	"teamdeck/internal/identity"
	"teamdeck/internal/session"
)

var errNotSignedIn = errors.New("not signed in; run 'teamdeck login'")

// sessionEnv is a running session gate with a resolved profile.
type sessionEnv struct {
	App     *app.App
	Gate    *session.Gate
	Profile domain.Profile
}

// withSession opens the workspace, runs the session gate and waits until the
// stored sign-in has a profile.
func withSession(ctx context.Context, fn func(context.Context, sessionEnv) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		gate := startGate(ctx, a)
		state, err := awaitSettled(ctx, gate)
		if err != nil {
			return err
		}
		if !state.Ready() {
			if state.Err != "" {
				return errors.New(state.Err)
			}
			return errNotSignedIn
		}
		return fn(ctx, sessionEnv{App: a, Gate: gate, Profile: *state.Profile})
	})
}

func startGate(ctx context.Context, a *app.App) *session.Gate {
	gate := session.NewGate(a.Provider, a.Engine, a.Logger)
	go func() {
		if err := gate.Run(ctx); err != nil {
			a.Logger.Debug("session gate stopped", "err", err)
		}
	}()
	return gate
}

// awaitSettled returns the first state that is not loading.
func awaitSettled(ctx context.Context, gate *session.Gate) (session.State, error) {
	states, stop := gate.Observe()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return session.State{}, ctx.Err()
		case s := <-states:
			if !s.Loading {
				return s, nil
			}
		}
	}
}

func loginCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with an ID token",
		Long:  "Sign in with an ID token from the identity provider. Without --token the TEAMDECK_TOKEN variable is used, then an interactive prompt.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				switch {
				case token != "":
					a.Provider.Source = identity.StaticToken(token)
				case os.Getenv("TEAMDECK_TOKEN") != "":
					a.Provider.Source = identity.StaticToken(os.Getenv("TEAMDECK_TOKEN"))
				default:
					a.Provider.Source = identity.PromptToken(os.Stdin, os.Stderr)
				}
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				gate := startGate(ctx, a)
				if _, err := awaitSettled(ctx, gate); err != nil {
					return err
				}
				if err := gate.Login(ctx); err != nil {
					return errors.New(gate.State().Err)
				}
				state, err := awaitSettled(ctx, gate)
				if err != nil {
					return err
				}
				if !state.Ready() {
					return errors.New(state.Err)
				}
				return printProfile(*state.Profile)
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "ID token")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Provider.SignOut(ctx); err != nil {
					return err
				}
				fmt.Println("signed out")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s sessionEnv) error {
				return printProfile(s.Profile)
			})
		},
	}
}

// tokenCmd mints ID tokens with the configured secret for local use.
func tokenCmd() *cobra.Command {
	var uid, name, email string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "DEV ONLY: mint an ID token with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(uid) == "" {
				return fmt.Errorf("--uid required")
			}
			tok, err := app.Verifier(cfg).Sign(identity.Identity{ID: uid, DisplayName: name, Email: email}, ttl)
			if err != nil {
				return errors.New(identity.Message(err))
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "subject (user id)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime (0 for none)")
	return cmd
}

func printProfile(p domain.Profile) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"UID", p.UID})
	tw.AppendRow(table.Row{"Name", p.Name})
	tw.AppendRow(table.Row{"Email", p.Email})
	tw.AppendRow(table.Row{"Company", p.CompanyID})
	tw.AppendRow(table.Row{"Role", p.Role})
	tw.Render()
	return nil
}
