// Package auth issues and verifies the HMAC-signed access tokens of the API.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"brokercrm/internal/config"
)

var (
	ErrNoToken      = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid or expired token")
)

type Claims struct {
	UserID int64 `json:"user_id"`
	RoleID int   `json:"role_id"`
	jwt.RegisteredClaims
}

// Source is one place a token may be read from: header, cookie or query.
type Source struct {
	Kind string
	Name string
}

// ParseSources parses "kind:name" entries such as "header:Authorization".
func ParseSources(entries []string) ([]Source, error) {
	out := make([]Source, 0, len(entries))
	for _, entry := range entries {
		kind, name, ok := strings.Cut(strings.TrimSpace(entry), ":")
		kind = strings.ToLower(strings.TrimSpace(kind))
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("token source %q: expected kind:name", entry)
		}
		switch kind {
		case "header", "cookie", "query":
		default:
			return nil, fmt.Errorf("token source %q: unknown kind %q", entry, kind)
		}
		out = append(out, Source{Kind: kind, Name: name})
	}
	return out, nil
}

// TokenVerifier is the single place tokens are signed and checked. Secrets
// are tried in order; the first one signs. Sources are tried in order and the
// first non-empty value wins.
type TokenVerifier struct {
	secrets [][]byte
	sources []Source
	ttl     time.Duration
	leeway  time.Duration
	now     func() time.Time
}

func NewTokenVerifier(cfg config.AuthConfig) (*TokenVerifier, error) {
	if len(cfg.Secrets) == 0 {
		return nil, errors.New("auth: no secrets configured")
	}
	sources, err := ParseSources(cfg.TokenSources)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		sources = []Source{{Kind: "header", Name: "Authorization"}}
	}
	secrets := make([][]byte, 0, len(cfg.Secrets))
	for _, s := range cfg.Secrets {
		secrets = append(secrets, []byte(s))
	}
	ttl := cfg.AccessTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenVerifier{
		secrets: secrets,
		sources: sources,
		ttl:     ttl,
		leeway:  cfg.Leeway,
		now:     time.Now,
	}, nil
}

// Issue signs an access token for the user with the primary secret.
func (v *TokenVerifier) Issue(userID int64, roleID int) (string, time.Time, error) {
	now := v.now()
	exp := now.Add(v.ttl)
	claims := &Claims{
		UserID: userID,
		RoleID: roleID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secrets[0])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks the signature against every configured secret and the expiry
// with the configured leeway.
func (v *TokenVerifier) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNoToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	for _, secret := range v.secrets {
		claims := &Claims{}
		_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err == nil {
			if claims.UserID == 0 {
				return nil, ErrInvalidToken
			}
			return claims, nil
		}
		// другой секрет может подойти только при неверной подписи
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}
	return nil, ErrInvalidToken
}

// Extract returns the raw token from the first source that carries one.
func (v *TokenVerifier) Extract(r *http.Request) (string, bool) {
	for _, src := range v.sources {
		var raw string
		switch src.Kind {
		case "header":
			raw = strings.TrimSpace(r.Header.Get(src.Name))
			if strings.EqualFold(src.Name, "Authorization") {
				scheme, rest, ok := strings.Cut(raw, " ")
				if !ok || !strings.EqualFold(scheme, "Bearer") {
					continue
				}
				raw = strings.TrimSpace(rest)
			}
		case "cookie":
			if c, err := r.Cookie(src.Name); err == nil {
				raw = strings.TrimSpace(c.Value)
			}
		case "query":
			raw = strings.TrimSpace(r.URL.Query().Get(src.Name))
		}
		if raw != "" {
			return raw, true
		}
	}
	return "", false
}

// VerifyRequest extracts and verifies the token of an incoming request.
func (v *TokenVerifier) VerifyRequest(r *http.Request) (*Claims, error) {
	raw, ok := v.Extract(r)
	if !ok {
		return nil, ErrNoToken
	}
	return v.Verify(raw)
}
