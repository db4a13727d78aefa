package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"go.uber.org/zap"
)

func newKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func sign(t *testing.T, key *rsa.PrivateKey, claims domain.CustomClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func TestMiddleware_ScopesAndClaims(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	v, err := NewConsoleValidator(pubPEM, "")
	require.NoError(t, err)
	var seenUser string
	h := NewMiddleware(v, zap.NewNop())(RequireScope("permissions")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser = UserIDFromContext(r.Context(), "anonymous")
	})))

	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	// без заголовка
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// без нужного scope
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, key, domain.CustomClaims{
		UserID: "u1", Scopes: map[string]bool{"tasks": true},
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp},
	}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// admin
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, key, domain.CustomClaims{
		UserID: "u2", Scopes: map[string]bool{"admin": true},
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp},
	}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u2", seenUser)
}

func TestVerifyToken_RejectsHMAC(t *testing.T) {
	_, pubPEM := newKeyPair(t)
	v, err := NewConsoleValidator(pubPEM, "")
	require.NoError(t, err)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, domain.CustomClaims{UserID: "x"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.VerifyToken(tok)
	assert.Error(t, err)
}

func TestVerifyToken_Claims(t *testing.T) {
	key, pubPEM := newKeyPair(t)
	v, err := NewConsoleValidator(pubPEM, "assistant")
	require.NoError(t, err)

	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	// без exp
	_, err = v.VerifyToken(sign(t, key, domain.CustomClaims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "assistant"},
	}))
	assert.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)

	// чужой issuer
	_, err = v.VerifyToken(sign(t, key, domain.CustomClaims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "other", ExpiresAt: exp},
	}))
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	// без user_id
	_, err = v.VerifyToken(sign(t, key, domain.CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "assistant", ExpiresAt: exp},
	}))
	assert.ErrorIs(t, err, ErrNoSubject)

	claims, err := v.VerifyToken("Bearer " + sign(t, key, domain.CustomClaims{
		UserID:           "u1",
		Scopes:           map[string]bool{domain.ScopeTasks: true},
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "assistant", ExpiresAt: exp},
	}))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.True(t, claims.HasScope(domain.ScopeTasks))
	assert.False(t, claims.HasScope(domain.ScopeAudit))
}

func TestNewConsoleValidator_BadKey(t *testing.T) {
	_, err := NewConsoleValidator(nil, "")
	assert.Error(t, err)
	_, err = NewConsoleValidator([]byte("not a pem"), "")
	assert.Error(t, err)
}
