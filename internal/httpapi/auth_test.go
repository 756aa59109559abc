package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"healthtrack/backend/internal/domain"
)

func TestSignParseRoundTrip(t *testing.T) {
	mgr := NewAuthManager("unit-test-secret-key-0123456789abcdef", time.Hour)
	user := domain.UserContext{
		UserID:   7,
		Username: "pharma",
		FullName: "Head Pharmacist",
		RoleName: "Pharmacist",
	}

	token, expiresAt, err := mgr.Sign(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	parsed, err := mgr.Parse(token)
	require.NoError(t, err)
	require.Equal(t, user, parsed)
}

func TestParseRejectsTamperedToken(t *testing.T) {
	mgr := NewAuthManager("unit-test-secret-key-0123456789abcdef", time.Hour)
	token, _, err := mgr.Sign(domain.UserContext{UserID: 1, Username: "admin", RoleName: "Admin"})
	require.NoError(t, err)

	// Flip a character in the signature segment.
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	parts[2] = string(sig)

	_, err = mgr.Parse(strings.Join(parts, "."))
	require.Error(t, err)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	mgr := NewAuthManager("unit-test-secret-key-0123456789abcdef", time.Hour)
	other := NewAuthManager("a-completely-different-signing-secret!!", time.Hour)

	token, _, err := other.Sign(domain.UserContext{UserID: 1, Username: "admin", RoleName: "Admin"})
	require.NoError(t, err)

	_, err = mgr.Parse(token)
	require.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	mgr := &AuthManager{secret: []byte("unit-test-secret-key-0123456789abcdef"), tokenTTL: -time.Minute}
	token, _, err := mgr.Sign(domain.UserContext{UserID: 1, Username: "admin", RoleName: "Admin"})
	require.NoError(t, err)

	_, err = mgr.Parse(token)
	require.Error(t, err)
}

func TestNewAuthManagerRejectsEmptySecret(t *testing.T) {
	require.Panics(t, func() {
		NewAuthManager("", time.Hour)
	})
}

func TestParseRejectsGarbage(t *testing.T) {
	mgr := NewAuthManager("unit-test-secret-key-0123456789abcdef", time.Hour)
	_, err := mgr.Parse("not.a.token")
	require.Error(t, err)
}

func TestAttemptLimiterWindow(t *testing.T) {
	limiter := newAttemptLimiter(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		require.True(t, limiter.Allow("10.0.0.1"), "attempt %d", i)
	}
	require.False(t, limiter.Allow("10.0.0.1"))
	require.True(t, limiter.Allow("10.0.0.2"), "keys are independent")

	time.Sleep(60 * time.Millisecond)
	require.True(t, limiter.Allow("10.0.0.1"), "window should have expired")
}

func TestClientKey(t *testing.T) {
	cases := map[string]string{
		"192.0.2.1:1234":  "192.0.2.1",
		"[2001:db8::1]:8": "2001:db8::1",
		"":                "unknown",
	}
	for addr, want := range cases {
		req := httptestRequest(addr)
		require.Equal(t, want, clientKey(req), "addr %q", addr)
	}
}

func httptestRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	return req
}
