package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"teamdeck/internal/domain"
	"teamdeck/internal/engine"
	"teamdeck/internal/identity"
	"teamdeck/internal/session"
)

type AuthConfig struct {
	Verifier identity.Verifier
	Logger   *slog.Logger
}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Identity identity.Identity
	Profile  domain.Profile
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// actorFromContext returns the caller's profile.
func actorFromContext(ctx context.Context) (domain.Profile, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.Profile.UID != "" {
		return p.Profile, nil
	}
	return domain.Profile{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware verifies the bearer ID token and resolves the caller's
// profile, onboarding first-time identities on the way.
func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			id, _, err := cfg.Verifier.Verify(token)
			if err != nil {
				respondStatusError(w, verifyError(err))
				return
			}
			profile, err := e.Resolve(req.Context(), id)
			if err != nil {
				cfg.logger().Error("profile sync failed", "uid", id.ID, "err", err)
				respondStatusError(w, newAPIError(http.StatusServiceUnavailable, "sync_failed", session.SyncFailedMessage, nil))
				return
			}
			ctx := withPrincipal(req.Context(), Principal{Identity: id, Profile: profile})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func verifyError(err error) huma.StatusError {
	switch identity.Classify(err) {
	case identity.CauseConfigurationMissing:
		return newAPIError(http.StatusServiceUnavailable, "auth_not_configured", identity.Message(err), nil)
	case identity.CauseDomainUnauthorized:
		return newAPIError(http.StatusForbidden, "domain_unauthorized", identity.Message(err), nil)
	}
	var details map[string]any
	if cause := errors.Unwrap(err); cause != nil {
		details = map[string]any{"reason": cause.Error()}
	}
	return newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", details)
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
