package server

import (
	"teamdeck/internal/domain"
	"teamdeck/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
}

type CreateTaskRequest struct {
	Title       string `json:"title" minLength:"1"`
	Description string `json:"description,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	Priority    string `json:"priority,omitempty" enum:"low,medium,high"`
	DueDate     string `json:"due_date,omitempty" example:"2025-01-31"`
}

type SendInviteRequest struct {
	Email string `json:"email" format:"email"`
	Role  string `json:"role" enum:"Admin,Member"`
}

// Responses

type MeResponse struct {
	Profile domain.Profile  `json:"profile"`
	Company *domain.Company `json:"company,omitempty"`
}

type DashboardResponse = engine.Dashboard

// SSE events. Each snapshot carries the complete result set.

type ProjectsSnapshot struct {
	Items []domain.Project `json:"items"`
}

type TasksSnapshot struct {
	Items []domain.Task `json:"items"`
}

type MembersSnapshot struct {
	Items []domain.Profile `json:"items"`
}

type StreamError struct {
	Message string `json:"message"`
}
