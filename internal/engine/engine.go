package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"teamdeck/internal/repo"
)

var (
	ErrNotFound          = repo.ErrNotFound
	ErrInvalidInput      = repo.ErrInvalidInput
	ErrInvalidTransition = errors.New("invalid status transition")
)

// SyncError reports a persistence failure while resolving a profile.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("profile sync: %s: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

type Engine struct {
	Repo   repo.Repo
	Logger *slog.Logger
	Now    func() time.Time

	flight *singleflight.Group
}

func New(r repo.Repo, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{
		Repo:   r,
		Logger: logger,
		Now:    time.Now,
		flight: &singleflight.Group{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
