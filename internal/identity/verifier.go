package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type tokenClaims struct {
	jwt.RegisteredClaims
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// Verifier checks HS256 ID tokens issued by the provider.
type Verifier struct {
	Secret            string
	Issuer            string
	AuthorizedDomains []string
	Now               func() time.Time
}

// Verify returns the identity in raw and the token expiry (zero when the
// token has none).
func (v Verifier) Verify(raw string) (Identity, time.Time, error) {
	if strings.TrimSpace(v.Secret) == "" {
		return Identity{}, time.Time{}, newError(CauseConfigurationMissing, errors.New("jwt secret not configured"))
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.Now))
	}
	claims := &tokenClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (any, error) {
		return []byte(v.Secret), nil
	})
	if err != nil {
		return Identity{}, time.Time{}, newError(CauseOther, fmt.Errorf("verify token: %w", err))
	}
	if !parsed.Valid {
		return Identity{}, time.Time{}, newError(CauseOther, errors.New("invalid token"))
	}
	if claims.Subject == "" {
		return Identity{}, time.Time{}, newError(CauseOther, errors.New("subject claim required"))
	}
	id := Identity{
		ID:          claims.Subject,
		DisplayName: claims.Name,
		Email:       strings.TrimSpace(claims.Email),
		AvatarURL:   claims.Picture,
	}
	if !v.domainAllowed(id.Email) {
		return Identity{}, time.Time{}, newError(CauseDomainUnauthorized, fmt.Errorf("email domain of %q not authorized", id.Email))
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return id, exp, nil
}

func (v Verifier) domainAllowed(email string) bool {
	if len(v.AuthorizedDomains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range v.AuthorizedDomains {
		if strings.EqualFold(strings.TrimSpace(d), domain) {
			return true
		}
	}
	return false
}

// Sign issues a token for id. It is used by the CLI's dev token command and
// by tests.
func (v Verifier) Sign(id Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(v.Secret) == "" {
		return "", newError(CauseConfigurationMissing, errors.New("jwt secret not configured"))
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.ID,
			Issuer:   v.Issuer,
			IssuedAt: jwt.NewNumericDate(now()),
		},
		Name:    id.DisplayName,
		Email:   id.Email,
		Picture: id.AvatarURL,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(v.Secret))
}
