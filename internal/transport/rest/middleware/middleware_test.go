package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"healthsurvey/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireUser(t *testing.T) {
	auth := service.NewAuthService("test-secret")
	mw := NewAuthMiddleware(auth)

	var seen string
	h := mw.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.IssueUserToken("user-9", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-9", seen)
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

func resolvedIP(t *testing.T, trusted *TrustedProxies, req *http.Request) string {
	t.Helper()
	var seen string
	h := ClientAddress(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIP(r)
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	return seen
}

func TestClientIPIgnoresHeadersFromUntrustedPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5123"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("X-Real-IP", "10.1.1.1")

	assert.Equal(t, "198.51.100.7", resolvedIP(t, nil, req))

	trusted, err := ParseTrustedProxies("10.0.0.0/8")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", resolvedIP(t, trusted, req))
}

func TestClientIPFromTrustedProxy(t *testing.T) {
	trusted, err := ParseTrustedProxies("10.0.0.0/8, 192.168.1.4")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.4:5123"
	assert.Equal(t, "192.168.1.4", resolvedIP(t, trusted, req))

	req.Header.Set("X-Real-IP", "203.0.113.20")
	assert.Equal(t, "203.0.113.20", resolvedIP(t, trusted, req))

	// a client-supplied first hop is skipped in favour of the last untrusted one
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", resolvedIP(t, trusted, req))

	req.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.1")
	assert.Equal(t, "10.0.0.3", resolvedIP(t, trusted, req))

	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "192.168.1.4", resolvedIP(t, trusted, req))
}

func TestClientIPWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.4:5123"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.168.1.4", ClientIP(req))
}

func TestParseTrustedProxies(t *testing.T) {
	trusted, err := ParseTrustedProxies(" 10.0.0.0/8 ,, 2001:db8::1 ")
	require.NoError(t, err)
	assert.True(t, trusted.Trusts("10.20.30.40"))
	assert.True(t, trusted.Trusts("2001:db8::1"))
	assert.False(t, trusted.Trusts("2001:db8::2"))
	assert.False(t, trusted.Trusts("11.0.0.1"))

	_, err = ParseTrustedProxies("10.0.0.0/33")
	assert.Error(t, err)
	_, err = ParseTrustedProxies("proxy.internal")
	assert.Error(t, err)
}
