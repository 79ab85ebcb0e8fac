// Package session owns the authenticated-identity lifecycle of a client
// process as one observable value.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"teamdeck/internal/domain"
	"teamdeck/internal/identity"
)

// SyncFailedMessage is shown when the identity is valid but its profile
// could not be resolved.
const SyncFailedMessage = "Authenticated, but profile data could not be synced."

var ErrAlreadyRunning = errors.New("session gate already running")

// Resolver maps an identity to its profile, creating it on first sign-in.
type Resolver interface {
	Resolve(ctx context.Context, id identity.Identity) (domain.Profile, error)
}

// State is the gate's current value. Err holds a user-facing message.
type State struct {
	Identity *identity.Identity `json:"identity,omitempty"`
	Profile  *domain.Profile    `json:"profile,omitempty"`
	Loading  bool               `json:"loading"`
	Err      string             `json:"error,omitempty"`
}

func (s State) clone() State {
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	if s.Profile != nil {
		p := *s.Profile
		s.Profile = &p
	}
	return s
}

// Ready reports whether a profile is available.
func (s State) Ready() bool {
	return !s.Loading && s.Profile != nil
}

type Gate struct {
	provider identity.Provider
	resolver Resolver
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	running   bool
	observers map[chan State]struct{}
}

func NewGate(p identity.Provider, r Resolver, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		provider:  p,
		resolver:  r,
		logger:    logger,
		state:     State{Loading: true},
		observers: map[chan State]struct{}{},
	}
}

// State returns a copy of the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.clone()
}

// Observe returns a channel that receives the current state and then every
// change. An observer that falls behind only sees the newest state. The
// returned func stops observation and closes the channel.
func (g *Gate) Observe() (<-chan State, func()) {
	ch := make(chan State, 1)
	g.mu.Lock()
	g.observers[ch] = struct{}{}
	ch <- g.state.clone()
	g.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.observers, ch)
			close(ch)
		})
	}
}

// Run consumes the provider's identity stream until ctx ends. A gate runs
// at most once.
func (g *Gate) Run(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return ErrAlreadyRunning
	}
	g.running = true
	g.mu.Unlock()

	changes, err := g.provider.Changes(ctx)
	if err != nil {
		g.set(State{Err: identity.Message(err)})
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			g.handle(ctx, c)
		}
	}
}

func (g *Gate) handle(ctx context.Context, c identity.Change) {
	switch {
	case c.Err != nil:
		g.logger.Warn("session: identity stream failed", "err", c.Err)
		g.set(State{Err: identity.Message(c.Err)})
	case c.Identity == nil:
		g.set(State{})
	default:
		id := *c.Identity
		g.set(State{Identity: &id, Loading: true})
		profile, err := g.resolver.Resolve(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			g.logger.Error("session: profile sync failed", "uid", id.ID, "err", err)
			g.set(State{Identity: &id, Err: SyncFailedMessage})
			return
		}
		g.set(State{Identity: &id, Profile: &profile})
	}
}

// Login starts interactive sign-in. On failure the classified message is
// stored; on success the identity stream updates the state.
func (g *Gate) Login(ctx context.Context) error {
	g.update(func(s *State) {
		s.Loading = true
		s.Err = ""
	})
	err := g.provider.SignIn(ctx)
	if err != nil {
		g.logger.Info("session: sign-in failed", "cause", identity.Classify(err).String(), "err", err)
		msg := identity.Message(err)
		g.update(func(s *State) {
			s.Loading = false
			s.Err = msg
		})
	}
	return err
}

// Logout asks the provider to sign out; the resulting identity change clears
// the state.
func (g *Gate) Logout(ctx context.Context) error {
	return g.provider.SignOut(ctx)
}

func (g *Gate) set(s State) {
	g.update(func(cur *State) { *cur = s })
}

func (g *Gate) update(fn func(*State)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.state)
	snap := g.state.clone()
	for ch := range g.observers {
		select {
		case <-ch:
		default:
		}
		ch <- snap.clone()
	}
}
