package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"teamdeck/internal/domain"
	"teamdeck/internal/identity"
)

type fakeProvider struct {
	changes   chan identity.Change
	signInErr error
	calls     int
	signOuts  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{changes: make(chan identity.Change, 4)}
}

func (p *fakeProvider) Changes(ctx context.Context) (<-chan identity.Change, error) {
	p.calls++
	return p.changes, nil
}

func (p *fakeProvider) SignIn(ctx context.Context) error {
	return p.signInErr
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.signOuts++
	p.changes <- identity.Change{}
	return nil
}

type fakeResolver struct {
	err     error
	release chan struct{}
}

func (r *fakeResolver) Resolve(ctx context.Context, id identity.Identity) (domain.Profile, error) {
	if r.release != nil {
		<-r.release
	}
	if r.err != nil {
		return domain.Profile{}, r.err
	}
	return domain.Profile{UID: id.ID, Name: id.DisplayName, CompanyID: "c1", Role: domain.RoleOwner}, nil
}

func startGate(t *testing.T, g *Gate) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, g *Gate, cond func(State) bool) State {
	t.Helper()
	var last State
	require.Eventually(t, func() bool {
		last = g.State()
		return cond(last)
	}, 2*time.Second, 5*time.Millisecond, "last state %+v", last)
	return last
}

func TestInitialStateIsLoading(t *testing.T) {
	g := NewGate(newFakeProvider(), &fakeResolver{}, nil)
	s := g.State()
	require.True(t, s.Loading)
	require.Nil(t, s.Identity)
	require.Nil(t, s.Profile)
	require.Empty(t, s.Err)
}

func TestNoIdentityClearsLoading(t *testing.T) {
	p := newFakeProvider()
	g := NewGate(p, &fakeResolver{}, nil)
	startGate(t, g)
	p.changes <- identity.Change{}
	s := waitFor(t, g, func(s State) bool { return !s.Loading })
	require.Equal(t, State{}, s)
}

func TestIdentityResolvesProfile(t *testing.T) {
	p := newFakeProvider()
	r := &fakeResolver{release: make(chan struct{})}
	g := NewGate(p, r, nil)
	startGate(t, g)

	p.changes <- identity.Change{Identity: &identity.Identity{ID: "u1", DisplayName: "Ada"}}
	s := waitFor(t, g, func(s State) bool { return s.Identity != nil })
	require.True(t, s.Loading)
	require.Nil(t, s.Profile)

	close(r.release)
	s = waitFor(t, g, func(s State) bool { return !s.Loading })
	require.True(t, s.Ready())
	require.Equal(t, "u1", s.Profile.UID)
	require.Empty(t, s.Err)
}

func TestResolverFailureSetsSyncMessage(t *testing.T) {
	p := newFakeProvider()
	g := NewGate(p, &fakeResolver{err: errors.New("rules denied")}, nil)
	startGate(t, g)

	p.changes <- identity.Change{Identity: &identity.Identity{ID: "u1"}}
	s := waitFor(t, g, func(s State) bool { return !s.Loading })
	require.NotNil(t, s.Identity)
	require.Nil(t, s.Profile)
	require.Equal(t, SyncFailedMessage, s.Err)
}

func TestStreamFailureClearsIdentity(t *testing.T) {
	p := newFakeProvider()
	g := NewGate(p, &fakeResolver{}, nil)
	startGate(t, g)

	p.changes <- identity.Change{Identity: &identity.Identity{ID: "u1"}}
	waitFor(t, g, func(s State) bool { return s.Ready() })
	p.changes <- identity.Change{Err: errors.New("network down")}
	s := waitFor(t, g, func(s State) bool { return s.Err != "" })
	require.Equal(t, State{Err: "network down"}, s)
}

func TestRunOnlyOnce(t *testing.T) {
	p := newFakeProvider()
	g := NewGate(p, &fakeResolver{}, nil)
	startGate(t, g)
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.running
	}, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, g.Run(context.Background()), ErrAlreadyRunning)
}

func TestLoginFailureIsClassified(t *testing.T) {
	p := newFakeProvider()
	p.signInErr = &identity.Error{Cause: identity.CauseUserCancelled, Err: identity.ErrCancelled}
	g := NewGate(p, &fakeResolver{}, nil)
	startGate(t, g)
	p.changes <- identity.Change{}
	waitFor(t, g, func(s State) bool { return !s.Loading })

	err := g.Login(context.Background())
	require.Error(t, err)
	s := g.State()
	require.False(t, s.Loading)
	require.Equal(t, "Sign-in was cancelled before completion.", s.Err)
}

func TestLoginSuccessLeavesStateToStream(t *testing.T) {
	p := newFakeProvider()
	g := NewGate(p, &fakeResolver{}, nil)
	startGate(t, g)
	p.changes <- identity.Change{}
	waitFor(t, g, func(s State) bool { return !s.Loading })
	g.update(func(s *State) { s.Err = "old" })

	require.NoError(t, g.Login(context.Background()))
	s := g.State()
	require.True(t, s.Loading)
	require.Empty(t, s.Err)

	p.changes <- identity.Change{Identity: &identity.Identity{ID: "u1"}}
	waitFor(t, g, func(s State) bool { return s.Ready() })
}

func TestLogoutGoesThroughProvider(t *testing.T) {
	p := newFakeProvider()
	g := NewGate(p, &fakeResolver{}, nil)
	startGate(t, g)
	p.changes <- identity.Change{Identity: &identity.Identity{ID: "u1"}}
	waitFor(t, g, func(s State) bool { return s.Ready() })

	require.NoError(t, g.Logout(context.Background()))
	require.Equal(t, 1, p.signOuts)
	s := waitFor(t, g, func(s State) bool { return s.Identity == nil })
	require.Equal(t, State{}, s)
}

func TestObserveDeliversCurrentThenLatest(t *testing.T) {
	p := newFakeProvider()
	g := NewGate(p, &fakeResolver{}, nil)
	ch, stop := g.Observe()
	defer stop()
	first := <-ch
	require.True(t, first.Loading)

	startGate(t, g)
	p.changes <- identity.Change{Identity: &identity.Identity{ID: "u1"}}
	waitFor(t, g, func(s State) bool { return s.Ready() })

	// Intermediate states were replaced; the mailbox holds the newest.
	select {
	case s := <-ch:
		require.True(t, s.Ready())
	case <-time.After(time.Second):
		t.Fatal("no state observed")
	}
	stop()
	stop()
	_, ok := <-ch
	require.False(t, ok)
}
