package identity

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func recv(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "channel closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no identity change")
		return Change{}
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	v := Verifier{Secret: testSecret, Issuer: "https://idp.test"}
	raw, err := v.Sign(Identity{ID: "u1", DisplayName: "Ada", Email: "ada@x.io", AvatarURL: "https://img/a.png"}, time.Hour)
	require.NoError(t, err)

	id, exp, err := v.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, Identity{ID: "u1", DisplayName: "Ada", Email: "ada@x.io", AvatarURL: "https://img/a.png"}, id)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)
}

func TestVerifyFailures(t *testing.T) {
	good := Verifier{Secret: testSecret, Issuer: "https://idp.test"}
	raw, err := good.Sign(Identity{ID: "u1", Email: "ada@x.io"}, time.Hour)
	require.NoError(t, err)

	_, _, err = Verifier{}.Verify(raw)
	require.Equal(t, CauseConfigurationMissing, Classify(err))

	_, _, err = Verifier{Secret: "other"}.Verify(raw)
	require.Equal(t, CauseOther, Classify(err))

	_, _, err = Verifier{Secret: testSecret, Issuer: "https://elsewhere"}.Verify(raw)
	require.Equal(t, CauseOther, Classify(err))

	_, _, err = Verifier{Secret: testSecret, AuthorizedDomains: []string{"corp.io"}}.Verify(raw)
	require.Equal(t, CauseDomainUnauthorized, Classify(err))

	_, _, err = Verifier{Secret: testSecret, AuthorizedDomains: []string{"X.IO"}}.Verify(raw)
	require.NoError(t, err)

	past := Verifier{Secret: testSecret, Now: func() time.Time { return time.Now().Add(-2 * time.Hour) }}
	expired, err := past.Sign(Identity{ID: "u1"}, time.Minute)
	require.NoError(t, err)
	_, _, err = Verifier{Secret: testSecret}.Verify(expired)
	require.Equal(t, CauseOther, Classify(err))
}

func TestMessages(t *testing.T) {
	require.Equal(t, "Sign-in was cancelled before completion.", Message(newError(CauseUserCancelled, ErrCancelled)))
	require.Contains(t, Message(newError(CauseConfigurationMissing, nil)), "auth.jwt_secret")
	require.Contains(t, Message(newError(CauseProviderDisabled, nil)), "disabled")
	require.Contains(t, Message(newError(CauseDomainUnauthorized, nil)), "auth.authorized_domains")
	require.Equal(t, "boom", Message(errors.New("boom")))
	require.Equal(t, CauseUserCancelled, Classify(context.Canceled))
	require.Empty(t, Message(nil))
}

func newProvider(t *testing.T, source TokenSource) *TokenProvider {
	t.Helper()
	return &TokenProvider{
		Verifier:    Verifier{Secret: testSecret},
		SessionPath: filepath.Join(t.TempDir(), "session"),
		Source:      source,
	}
}

func TestChangesEmitsCurrentThenSignInAndOut(t *testing.T) {
	raw, err := Verifier{Secret: testSecret}.Sign(Identity{ID: "u1", DisplayName: "Ada"}, time.Hour)
	require.NoError(t, err)
	p := newProvider(t, StaticToken(raw))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := p.Changes(ctx)
	require.NoError(t, err)
	require.Nil(t, recv(t, ch).Identity)

	require.NoError(t, p.SignIn(ctx))
	c := recv(t, ch)
	require.NotNil(t, c.Identity)
	require.Equal(t, "u1", c.Identity.ID)

	data, err := os.ReadFile(p.SessionPath)
	require.NoError(t, err)
	require.Equal(t, raw, strings.TrimSpace(string(data)))

	require.NoError(t, p.SignOut(ctx))
	require.Nil(t, recv(t, ch).Identity)
	_, err = os.Stat(p.SessionPath)
	require.True(t, os.IsNotExist(err))

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionRestoredAcrossProviders(t *testing.T) {
	raw, err := Verifier{Secret: testSecret}.Sign(Identity{ID: "u7"}, time.Hour)
	require.NoError(t, err)
	first := newProvider(t, StaticToken(raw))
	require.NoError(t, first.SignIn(context.Background()))

	second := &TokenProvider{Verifier: Verifier{Secret: testSecret}, SessionPath: first.SessionPath}
	id, ok := second.Current()
	require.True(t, ok)
	require.Equal(t, "u7", id.ID)

	ch, err := second.Changes(context.Background())
	require.NoError(t, err)
	c := recv(t, ch)
	require.NotNil(t, c.Identity)
	require.Equal(t, "u7", c.Identity.ID)
}

func TestExpiryPublishesSignedOut(t *testing.T) {
	raw, err := Verifier{Secret: testSecret}.Sign(Identity{ID: "u1"}, 1500*time.Millisecond)
	require.NoError(t, err)
	p := newProvider(t, StaticToken(raw))
	ctx := context.Background()
	ch, err := p.Changes(ctx)
	require.NoError(t, err)
	recv(t, ch)

	require.NoError(t, p.SignIn(ctx))
	require.NotNil(t, recv(t, ch).Identity)

	select {
	case c := <-ch:
		require.Nil(t, c.Identity)
		require.NoError(t, c.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("expiry not published")
	}
}

func TestSignInFailures(t *testing.T) {
	ctx := context.Background()

	p := newProvider(t, StaticToken("x"))
	p.Disabled = true
	require.Equal(t, CauseProviderDisabled, Classify(p.SignIn(ctx)))

	p = newProvider(t, StaticToken("x"))
	p.Verifier.Secret = ""
	require.Equal(t, CauseConfigurationMissing, Classify(p.SignIn(ctx)))

	p = newProvider(t, StaticToken(""))
	require.Equal(t, CauseUserCancelled, Classify(p.SignIn(ctx)))

	p = newProvider(t, PromptToken(strings.NewReader("\n"), nil))
	require.Equal(t, CauseUserCancelled, Classify(p.SignIn(ctx)))

	p = newProvider(t, StaticToken("not-a-jwt"))
	err := p.SignIn(ctx)
	require.Equal(t, CauseOther, Classify(err))
	_, statErr := os.Stat(p.SessionPath)
	require.True(t, os.IsNotExist(statErr))
}

func TestPromptTokenReadsLine(t *testing.T) {
	var out strings.Builder
	raw, err := PromptToken(strings.NewReader("  abc.def.ghi  \n"), &out)(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc.def.ghi", raw)
	require.Contains(t, out.String(), "token")
}
