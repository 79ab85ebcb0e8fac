package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"teamdeck/internal/app"
	"teamdeck/internal/config"
	"teamdeck/internal/domain"
	"teamdeck/internal/identity"
	teamdecksdk "teamdeck/sdk/go"
)

const testSecret = "server-test-secret"

type testServer struct {
	URL      string
	client   *http.Client
	verifier identity.Verifier
}

func (s *testServer) Client() *http.Client { return s.client }

// token signs an ID token for uid at the acme.io domain.
func (s *testServer) token(t *testing.T, uid, name, email string) string {
	t.Helper()
	tok, err := s.verifier.Sign(identity.Identity{ID: uid, DisplayName: name, Email: email}, time.Hour)
	require.NoError(t, err)
	return tok
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.AuthorizedDomains = []string{"acme.io"}
	cfg.Sync.PollInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	a, err := app.Open(ctx, t.TempDir(), cfg, nil)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	handler, err := New(Config{
		Engine:   a.Engine,
		BasePath: "/v0",
		Auth:     AuthConfig{Verifier: app.Verifier(cfg)},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		cancel()
		srv.Close()
		<-done
		a.Close()
	})
	return &testServer{
		URL:      "http://" + ln.Addr().String(),
		client:   &http.Client{},
		verifier: app.Verifier(cfg),
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, bearer("not-a-jwt"))
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "invalid_credentials", errorCode(t, data))

	foreign := srv.token(t, "u-x", "Eve", "eve@elsewhere.io")
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, bearer(foreign))
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	require.Equal(t, "domain_unauthorized", errorCode(t, data))
}

func TestOnboardingAndInviteFlow(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	owner := bearer(srv.token(t, "u-ada", "Ada", "ada@acme.io"))

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me MeResponse
	require.NoError(t, json.Unmarshal(data, &me))
	require.Equal(t, domain.RoleOwner, me.Profile.Role)
	require.NotNil(t, me.Company)
	require.Equal(t, "Ada's Team", me.Company.Name)
	require.Equal(t, me.Company.ID, me.Profile.CompanyID)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/invites", map[string]any{
		"email": "Bob@Acme.io",
		"role":  "Member",
	}, owner)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var inv domain.Invite
	require.NoError(t, json.Unmarshal(data, &inv))
	require.Equal(t, "bob@acme.io", inv.Email)
	require.Equal(t, domain.InvitePending, inv.Status)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/invites", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var pending []domain.Invite
	require.NoError(t, json.Unmarshal(data, &pending))
	require.Len(t, pending, 1)

	member := bearer(srv.token(t, "u-bob", "Bob", "bob@acme.io"))
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, member)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var bob MeResponse
	require.NoError(t, json.Unmarshal(data, &bob))
	require.Equal(t, me.Company.ID, bob.Profile.CompanyID)
	require.Equal(t, domain.RoleMember, bob.Profile.Role)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/invites", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal(data, &pending))
	require.Empty(t, pending)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/members", nil, member)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var members []domain.Profile
	require.NoError(t, json.Unmarshal(data, &members))
	require.Len(t, members, 2)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/invites", map[string]any{
		"email": "carol@acme.io",
		"role":  "Admin",
	}, member)
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	require.Equal(t, "forbidden", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/invites", map[string]any{
		"email": "carol@acme.io",
		"role":  "Owner",
	}, owner)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, "bad_request", errorCode(t, data))
}

func TestProjectsAndTaskTransitions(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	owner := bearer(srv.token(t, "u-ada", "Ada", "ada@acme.io"))

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"name":        "Launch",
		"description": "Website relaunch",
	}, owner)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var project domain.Project
	require.NoError(t, json.Unmarshal(data, &project))
	require.NotEmpty(t, project.ID)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/tasks", map[string]any{
		"title":    "Write copy",
		"due_date": "2025-02-30",
	}, owner)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/tasks", map[string]any{
		"title":       "Write copy",
		"assigned_to": "u-ada",
		"priority":    "high",
	}, owner)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var task domain.Task
	require.NoError(t, json.Unmarshal(data, &task))
	require.Equal(t, domain.StatusTodo, task.Status)
	require.Equal(t, domain.PriorityHigh, task.Priority)

	for _, want := range []domain.TaskStatus{domain.StatusInProgress, domain.StatusDone} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/advance", nil, owner)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
		require.NoError(t, json.Unmarshal(data, &task))
		require.Equal(t, want, task.Status)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/advance", nil, owner)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	require.Equal(t, "invalid_transition", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/retreat", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal(data, &task))
	require.Equal(t, domain.StatusInProgress, task.Status)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dashboard", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var dash DashboardResponse
	require.NoError(t, json.Unmarshal(data, &dash))
	require.Equal(t, 1, dash.ActiveProjects)
	require.Equal(t, 1, dash.PendingTasks)
	require.Equal(t, 1, dash.MyOpenTasks)

	// Another company cannot see or delete the project.
	outsider := bearer(srv.token(t, "u-zed", "Zed", "zed@acme.io"))
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/projects/"+project.ID, nil, outsider)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	require.Equal(t, "not_found", errorCode(t, data))
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+project.ID+"/tasks", nil, outsider)
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/projects/"+project.ID, nil, owner)
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.JSONEq(t, `[]`, string(data))
}

func TestProjectStreamDeliversSnapshots(t *testing.T) {
	srv := newTestServer(t)
	token := srv.token(t, "u-ada", "Ada", "ada@acme.io")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v0/stream/projects", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, res.Header.Get("Content-Type"), "text/event-stream")

	scanner := bufio.NewScanner(res.Body)
	next := func() ProjectsSnapshot {
		t.Helper()
		event := ""
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:") && event == "snapshot":
				var snap ProjectsSnapshot
				require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &snap))
				return snap
			}
		}
		t.Fatalf("stream ended: %v", scanner.Err())
		return ProjectsSnapshot{}
	}

	require.Empty(t, next().Items)

	res2, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{"name": "Launch"}, bearer(token))
	require.Equal(t, http.StatusCreated, res2.StatusCode, string(data))

	snap := next()
	require.Len(t, snap.Items, 1)
	require.Equal(t, "Launch", snap.Items[0].Name)
}

func TestSDKClient(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c := teamdecksdk.New(srv.URL, srv.token(t, "u-ada", "Ada", "ada@acme.io"))

	status, err := teamdecksdk.New(srv.URL, "").Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", status)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "Owner", me.Profile.Role)

	p, err := c.CreateProject(ctx, "Docs", "Handbook")
	require.NoError(t, err)
	found, err := c.Projects(ctx, "DOC")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, p.ID, found[0].ID)

	task, err := c.CreateTask(ctx, p.ID, teamdecksdk.TaskInput{Title: "Outline"})
	require.NoError(t, err)
	require.Equal(t, "medium", task.Priority)
	task, err = c.AdvanceTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "in-progress", task.Status)

	_, err = c.RetreatTask(ctx, task.ID)
	require.NoError(t, err)
	_, err = c.RetreatTask(ctx, task.ID)
	var apiErr *teamdecksdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "invalid_transition", apiErr.Code)

	_, err = c.Invite(ctx, "bob@acme.io", "Member")
	require.NoError(t, err)
	pending, err := c.PendingInvites(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	watchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var seen []teamdecksdk.Project
	err = c.WatchProjects(watchCtx, func(items []teamdecksdk.Project) error {
		seen = items
		return teamdecksdk.ErrStopWatch
	}, nil)
	require.NoError(t, err)
	require.Len(t, seen, 1)

	var tasks []teamdecksdk.Task
	err = c.WatchTasks(watchCtx, p.ID, func(items []teamdecksdk.Task) error {
		tasks = items
		return teamdecksdk.ErrStopWatch
	}, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "todo", tasks[0].Status)

	var streamErr string
	err = c.WatchTasks(watchCtx, "missing", func([]teamdecksdk.Task) error {
		return teamdecksdk.ErrStopWatch
	}, func(msg string) { streamErr = msg })
	require.NoError(t, err)
	require.NotEmpty(t, streamErr)

	var team []teamdecksdk.Profile
	err = c.WatchMembers(watchCtx, func(items []teamdecksdk.Profile) error {
		team = items
		return teamdecksdk.ErrStopWatch
	}, nil)
	require.NoError(t, err)
	require.Len(t, team, 1)

	dash, err := c.Dashboard(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, dash.ActiveProjects)
	require.Equal(t, 1, dash.PendingTasks)

	require.NoError(t, c.DeleteProject(ctx, p.ID))
	members, err := c.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
}
