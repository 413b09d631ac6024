package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokercrm/internal/config"
)

const (
	primary = "primary-secret-0123456789"
	legacy  = "legacy-secret-0123456789ab"
)

func newVerifier(t *testing.T, secrets []string, sources ...string) *TokenVerifier {
	t.Helper()
	v, err := NewTokenVerifier(config.AuthConfig{
		Secrets:      secrets,
		TokenSources: sources,
		AccessTTL:    15 * time.Minute,
		Leeway:       2 * time.Minute,
	})
	require.NoError(t, err)
	return v
}

func TestIssueAndVerify(t *testing.T) {
	v := newVerifier(t, []string{primary})

	tok, exp, err := v.Issue(7, 50)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 5*time.Second)

	claims, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, 50, claims.RoleID)
}

func TestVerify_AcceptsSecondarySecret(t *testing.T) {
	old := newVerifier(t, []string{legacy})
	tok, _, err := old.Issue(3, 10)
	require.NoError(t, err)

	rotated := newVerifier(t, []string{primary, legacy})
	claims, err := rotated.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(3), claims.UserID)

	strict := newVerifier(t, []string{primary})
	_, err = strict.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_ExpiryWithLeeway(t *testing.T) {
	v := newVerifier(t, []string{primary})
	issuedAt := time.Now().Add(-16 * time.Minute)
	v.now = func() time.Time { return issuedAt }
	tok, _, err := v.Issue(1, 10)
	require.NoError(t, err)

	// истёк минуту назад: leeway 2m ещё пропускает
	v.now = time.Now
	_, err = v.Verify(tok)
	assert.NoError(t, err)

	v.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = v.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	v := newVerifier(t, []string{primary})
	claims := &Claims{UserID: 1, RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RequiresExpiry(t *testing.T) {
	v := newVerifier(t, []string{primary})
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: 1}).SignedString([]byte(primary))
	require.NoError(t, err)

	_, err = v.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtract_SourcesInOrder(t *testing.T) {
	v := newVerifier(t, []string{primary}, "header:Authorization", "cookie:access_token", "query:token")

	r := httptest.NewRequest(http.MethodGet, "/leads/1/history?token=from-query", nil)
	r.AddCookie(&http.Cookie{Name: "access_token", Value: "from-cookie"})
	got, ok := v.Extract(r)
	require.True(t, ok)
	assert.Equal(t, "from-cookie", got)

	r.Header.Set("Authorization", "Bearer from-header")
	got, _ = v.Extract(r)
	assert.Equal(t, "from-header", got)

	r = httptest.NewRequest(http.MethodGet, "/leads/1/history?token=from-query", nil)
	r.Header.Set("Authorization", "Basic abc")
	got, _ = v.Extract(r)
	assert.Equal(t, "from-query", got)

	r = httptest.NewRequest(http.MethodGet, "/leads/1/history", nil)
	_, ok = v.Extract(r)
	assert.False(t, ok)
}

func TestParseSources(t *testing.T) {
	_, err := ParseSources([]string{"body:token"})
	assert.Error(t, err)

	_, err = ParseSources([]string{"header"})
	assert.Error(t, err)

	src, err := ParseSources([]string{" Cookie:jwt "})
	require.NoError(t, err)
	assert.Equal(t, []Source{{Kind: "cookie", Name: "jwt"}}, src)
}
