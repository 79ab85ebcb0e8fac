package identity

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// TokenSource produces a raw ID token for interactive sign-in.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a source yielding raw.
func StaticToken(raw string) TokenSource {
	return func(context.Context) (string, error) {
		if strings.TrimSpace(raw) == "" {
			return "", ErrCancelled
		}
		return raw, nil
	}
}

// PromptToken asks for a token on out and reads one line from in. An empty
// line or EOF cancels.
func PromptToken(in io.Reader, out io.Writer) TokenSource {
	return func(ctx context.Context) (string, error) {
		if out != nil {
			fmt.Fprint(out, "Paste ID token: ")
		}
		lines := make(chan string, 1)
		errs := make(chan error, 1)
		// On cancellation the reader stays blocked on in until the process
		// exits; the CLI prompts at most once per run.
		go func() {
			line, err := bufio.NewReader(in).ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && line != "") {
				errs <- err
				return
			}
			lines <- line
		}()
		select {
		case <-ctx.Done():
			return "", ErrCancelled
		case err := <-errs:
			if errors.Is(err, io.EOF) {
				return "", ErrCancelled
			}
			return "", err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				return "", ErrCancelled
			}
			return line, nil
		}
	}
}

// TokenProvider is a Provider backed by provider-issued JWTs. The signed-in
// token is kept in a session file so separate processes share the session.
type TokenProvider struct {
	Verifier    Verifier
	SessionPath string
	Source      TokenSource
	Disabled    bool
	Logger      *slog.Logger

	mu      sync.Mutex
	loaded  bool
	current *Identity
	gen     int
	timer   *time.Timer
	subs    map[chan Change]struct{}
}

var _ Provider = (*TokenProvider)(nil)

func (p *TokenProvider) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Current returns the signed-in identity, restoring it from the session file
// on first use.
func (p *TokenProvider) Current() (Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restoreLocked()
	if p.current == nil {
		return Identity{}, false
	}
	return *p.current, true
}

func (p *TokenProvider) Changes(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 1)
	p.mu.Lock()
	p.restoreLocked()
	if p.subs == nil {
		p.subs = map[chan Change]struct{}{}
	}
	p.subs[ch] = struct{}{}
	ch <- Change{Identity: clone(p.current)}
	p.mu.Unlock()

	context.AfterFunc(ctx, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[ch]; ok {
			delete(p.subs, ch)
			close(ch)
		}
	})
	return ch, nil
}

func (p *TokenProvider) SignIn(ctx context.Context) error {
	if p.Disabled {
		return newError(CauseProviderDisabled, errors.New("identity provider disabled"))
	}
	if strings.TrimSpace(p.Verifier.Secret) == "" {
		return newError(CauseConfigurationMissing, errors.New("jwt secret not configured"))
	}
	if p.Source == nil {
		return newError(CauseConfigurationMissing, errors.New("no token source"))
	}
	raw, err := p.Source(ctx)
	if err != nil {
		if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
			return newError(CauseUserCancelled, err)
		}
		return newError(CauseOther, err)
	}
	id, exp, err := p.Verifier.Verify(raw)
	if err != nil {
		return err
	}
	if p.SessionPath != "" {
		if err := os.WriteFile(p.SessionPath, []byte(strings.TrimSpace(raw)+"\n"), 0o600); err != nil {
			return newError(CauseOther, fmt.Errorf("write session: %w", err))
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = true
	p.setLocked(&id, exp)
	p.logger().Info("identity: signed in", "uid", id.ID)
	return nil
}

func (p *TokenProvider) SignOut(ctx context.Context) error {
	if p.SessionPath != "" {
		if err := os.Remove(p.SessionPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove session: %w", err)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = true
	p.setLocked(nil, time.Time{})
	return nil
}

func (p *TokenProvider) restoreLocked() {
	if p.loaded {
		return
	}
	p.loaded = true
	if p.SessionPath == "" {
		return
	}
	data, err := os.ReadFile(p.SessionPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.logger().Warn("identity: read session failed", "err", err)
		}
		return
	}
	id, exp, err := p.Verifier.Verify(string(data))
	if err != nil {
		p.logger().Info("identity: stored session rejected", "err", err)
		return
	}
	p.setLocked(&id, exp)
}

// setLocked replaces the identity, arms the expiry timer and publishes.
func (p *TokenProvider) setLocked(id *Identity, exp time.Time) {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.current = id
	if id != nil && !exp.IsZero() {
		gen := p.gen
		p.timer = time.AfterFunc(time.Until(exp), func() { p.expire(gen) })
	}
	p.publishLocked(Change{Identity: clone(id)})
}

func (p *TokenProvider) expire(gen int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || p.current == nil {
		return
	}
	p.logger().Info("identity: session expired", "uid", p.current.ID)
	p.setLocked(nil, time.Time{})
}

// publishLocked hands c to every subscriber, replacing any change the
// subscriber has not read yet.
func (p *TokenProvider) publishLocked(c Change) {
	for ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		ch <- c
	}
}

func clone(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}
