package teamdecksdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal teamdeck HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Profile is a company member.
type Profile struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CompanyID string `json:"companyId"`
	Role      string `json:"role"`
}

type Company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Me is the caller's profile and company.
type Me struct {
	Profile Profile  `json:"profile"`
	Company *Company `json:"company,omitempty"`
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CompanyID   string `json:"companyId"`
}

// Task represents the API task model (partial).
type Task struct {
	ID         string `json:"id"`
	ProjectID  string `json:"projectId"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	AssignedTo string `json:"assignedTo"`
	DueDate    string `json:"dueDate,omitempty"`
}

type Invite struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CompanyID string `json:"companyId"`
	Role      string `json:"role"`
	Status    string `json:"status"`
}

// Dashboard summarizes the caller's company.
type Dashboard struct {
	ActiveProjects int    `json:"active_projects"`
	PendingTasks   int    `json:"pending_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	MyOpenTasks    int    `json:"my_open_tasks"`
	MyRecentTasks  []Task `json:"my_recent_tasks"`
}

// TaskInput are the fields of a new task. Only Title is required.
type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	Priority    string `json:"priority,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health reports the server status; it needs no token.
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "v0/health", nil, &resp)
	return resp.Status, err
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, "v0/dashboard", nil, &resp)
	return resp, err
}

// CreateProject creates a project in the caller's company.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	body := map[string]any{
		"name":        name,
		"description": description,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// Projects lists projects, newest first, optionally filtered by search.
func (c *Client) Projects(ctx context.Context, search string) ([]Project, error) {
	endpoint := "v0/projects"
	if search != "" {
		endpoint += "?search=" + url.QueryEscape(search)
	}
	var resp []Project
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/projects/"+url.PathEscape(id), nil, nil)
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID string, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "tasks"), in, &resp)
	return resp, err
}

func (c *Client) Tasks(ctx context.Context, projectID string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "tasks"), nil, &resp)
	return resp, err
}

// AdvanceTask moves a task one status forward.
func (c *Client) AdvanceTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%s/advance", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// RetreatTask moves a task one status back.
func (c *Client) RetreatTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%s/retreat", url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) Members(ctx context.Context) ([]Profile, error) {
	var resp []Profile
	err := c.do(ctx, http.MethodGet, "v0/members", nil, &resp)
	return resp, err
}

// Invite invites email to the caller's company with role Admin or Member.
func (c *Client) Invite(ctx context.Context, email, role string) (Invite, error) {
	body := map[string]any{
		"email": email,
		"role":  role,
	}
	var resp Invite
	err := c.do(ctx, http.MethodPost, "v0/invites", body, &resp)
	return resp, err
}

func (c *Client) PendingInvites(ctx context.Context) ([]Invite, error) {
	var resp []Invite
	err := c.do(ctx, http.MethodGet, "v0/invites", nil, &resp)
	return resp, err
}

// WatchProjects calls fn with every project snapshot until ctx ends, fn
// returns an error, or the server closes the stream. Snapshot errors sent by
// the server are passed to onError when set.
func (c *Client) WatchProjects(ctx context.Context, fn func([]Project) error, onError func(string)) error {
	return c.watch(ctx, "v0/stream/projects", snapshotHandler(fn, onError))
}

// WatchTasks streams the task snapshots of one project like WatchProjects.
func (c *Client) WatchTasks(ctx context.Context, projectID string, fn func([]Task) error, onError func(string)) error {
	return c.watch(ctx, "v0/stream/tasks?project_id="+url.QueryEscape(projectID), snapshotHandler(fn, onError))
}

// WatchMembers streams the company's member snapshots like WatchProjects.
func (c *Client) WatchMembers(ctx context.Context, fn func([]Profile) error, onError func(string)) error {
	return c.watch(ctx, "v0/stream/members", snapshotHandler(fn, onError))
}

func snapshotHandler[T any](fn func([]T) error, onError func(string)) func(event string, data []byte) error {
	return func(event string, data []byte) error {
		switch event {
		case "snapshot":
			var snap struct {
				Items []T `json:"items"`
			}
			if err := json.Unmarshal(data, &snap); err != nil {
				return err
			}
			return fn(snap.Items)
		case "error":
			if onError != nil {
				var e struct {
					Message string `json:"message"`
				}
				_ = json.Unmarshal(data, &e)
				onError(e.Message)
			}
		}
		return nil
	}
}

// ErrStopWatch can be returned by a watch callback to end the stream
// without an error.
var ErrStopWatch = errors.New("stop watching")

func (c *Client) watch(ctx context.Context, endpoint string, handle func(event string, data []byte) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/"+endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)
	// Streams outlive the request timeout.
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	event := "message"
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				if err := handle(event, data.Bytes()); err != nil {
					if errors.Is(err, ErrStopWatch) {
						return nil
					}
					return err
				}
			}
			event = "message"
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

func (c *Client) projectPath(projectID, p string) string {
	return fmt.Sprintf("v0/projects/%s/%s", url.PathEscape(projectID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
