package livesync

import (
	"context"
	"log/slog"
	"time"

	"teamdeck/internal/events"
)

const (
	DefaultPollInterval = time.Second
	defaultPollBatch    = 100
)

// ChangeLog is the tail of the store's change log.
type ChangeLog interface {
	ChangesAfter(ctx context.Context, cursor int64, limit int) ([]events.Change, error)
	LatestChangeID(ctx context.Context) (int64, error)
}

// Poller tails the change log so writes made by other processes sharing the
// database wake the hub.
type Poller struct {
	Log      ChangeLog
	Hub      *Hub
	Interval time.Duration
	Logger   *slog.Logger

	cursor  int64
	started bool
}

// Start pins the cursor to the newest change. Call it before any
// subscription is opened so no later write is skipped.
func (p *Poller) Start(ctx context.Context) error {
	cur, err := p.Log.LatestChangeID(ctx)
	if err != nil {
		return err
	}
	p.cursor = cur
	p.started = true
	return nil
}

// Run polls until ctx ends, from the cursor taken by Start or, if Start was
// not called, from the newest change at call time.
func (p *Poller) Run(ctx context.Context) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if !p.started {
		if err := p.Start(ctx); err != nil {
			logger.Warn("poller: init cursor failed", "err", err)
			p.cursor = 0
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := p.poll(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("poller: fetch changes failed", "cursor", p.cursor, "err", err)
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	for {
		changes, err := p.Log.ChangesAfter(ctx, p.cursor, defaultPollBatch)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}
		seen := map[string]struct{}{}
		for _, c := range changes {
			if _, ok := seen[c.Collection]; !ok {
				seen[c.Collection] = struct{}{}
				p.Hub.Notify(c.Collection)
			}
			p.cursor = c.ID
		}
		if len(changes) < defaultPollBatch {
			return nil
		}
	}
}
