package domain

import (
	"fmt"
	"strings"
	"time"
)

// Collection names in the document store.
const (
	CollectionUsers     = "users"
	CollectionCompanies = "companies"
	CollectionInvites   = "invites"
	CollectionProjects  = "projects"
	CollectionTasks     = "tasks"
)

type Role string

const (
	RoleOwner  Role = "Owner"
	RoleAdmin  Role = "Admin"
	RoleMember Role = "Member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// CanManage reports whether the role may invite members.
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	for _, r := range []Role{RoleOwner, RoleAdmin, RoleMember} {
		if strings.EqualFold(strings.TrimSpace(s), string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Profile is the application record of an identity. Its document id is the
// identity id and CompanyID never changes after creation.
type Profile struct {
	UID       string    `json:"uid"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	PhotoURL  string    `json:"photoURL"`
	CompanyID string    `json:"companyId"`
	Role      Role      `json:"role" enum:"Owner,Admin,Member"`
	CreatedAt time.Time `json:"createdAt" format:"date-time"`
}

type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt" format:"date-time"`
}

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
)

type Invite struct {
	ID        string       `json:"id"`
	Email     string       `json:"email"`
	CompanyID string       `json:"companyId"`
	Role      Role         `json:"role" enum:"Owner,Admin,Member"`
	InvitedBy string       `json:"invitedBy"`
	Status    InviteStatus `json:"status" enum:"pending,accepted"`
	CreatedAt time.Time    `json:"createdAt" format:"date-time"`
}

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CompanyID   string    `json:"companyId"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt" format:"date-time"`
}

type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in-progress"
	StatusDone       TaskStatus = "done"
)

var statusOrder = []TaskStatus{StatusTodo, StatusInProgress, StatusDone}

func (s TaskStatus) index() int {
	for i, v := range statusOrder {
		if v == s {
			return i
		}
	}
	return -1
}

func (s TaskStatus) Valid() bool {
	return s.index() >= 0
}

// Next returns the following status; ok is false for done or unknown values.
func (s TaskStatus) Next() (TaskStatus, bool) {
	i := s.index()
	if i < 0 || i == len(statusOrder)-1 {
		return s, false
	}
	return statusOrder[i+1], true
}

// Prev returns the preceding status; ok is false for todo or unknown values.
func (s TaskStatus) Prev() (TaskStatus, bool) {
	i := s.index()
	if i <= 0 {
		return s, false
	}
	return statusOrder[i-1], true
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority maps an empty value to medium.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// DateLayout is the calendar date format of Task.DueDate.
const DateLayout = "2006-01-02"

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ProjectID   string     `json:"projectId"`
	CompanyID   string     `json:"companyId"`
	AssignedTo  string     `json:"assignedTo"`
	Status      TaskStatus `json:"status" enum:"todo,in-progress,done"`
	Priority    Priority   `json:"priority" enum:"low,medium,high"`
	DueDate     string     `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" format:"date-time"`
}

// NormalizeEmail is applied to invite emails on write and on lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
