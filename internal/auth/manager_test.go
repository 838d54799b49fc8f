package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "lldap",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

// directoryStub fakes the LLDAP login endpoints.
type directoryStub struct {
	loginToken   string
	refreshToken string
	refreshFails bool

	logins    atomic.Int32
	refreshes atomic.Int32
}

func (d *directoryStub) serve(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/simple/login", func(w http.ResponseWriter, r *http.Request) {
		d.logins.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "admin" || body["password"] != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token":        d.loginToken,
			"refreshToken": "refresh-1",
		})
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		d.refreshes.Add(1)
		if d.refreshFails || r.Header.Get("Authorization") != "Bearer refresh-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": d.refreshToken})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthenticateStoresTokenPair(t *testing.T) {
	stub := &directoryStub{loginToken: signedToken(t, time.Now().Add(24*time.Hour))}
	srv := stub.serve(t)

	m := NewManager(srv.URL, "admin", "hunter2")
	defer m.Close()
	require.NoError(t, m.Authenticate(context.Background()))

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, stub.loginToken, tok)
	require.EqualValues(t, 1, stub.logins.Load())
	require.EqualValues(t, 0, stub.refreshes.Load(), "valid token must not trigger a refresh")
}

func TestAuthenticateBadCredentials(t *testing.T) {
	stub := &directoryStub{loginToken: signedToken(t, time.Now().Add(time.Hour))}
	srv := stub.serve(t)

	m := NewManager(srv.URL, "admin", "wrong")
	defer m.Close()
	err := m.Authenticate(context.Background())

	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, http.StatusUnauthorized, authErr.Status)
}

func TestAuthenticateMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"unexpected": true}`))
	}))
	defer srv.Close()

	m := NewManager(srv.URL, "admin", "hunter2")
	defer m.Close()
	err := m.Authenticate(context.Background())

	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
}

func TestTokenRefreshesExpiredToken(t *testing.T) {
	stub := &directoryStub{
		loginToken:   signedToken(t, time.Now().Add(-time.Minute)),
		refreshToken: signedToken(t, time.Now().Add(24*time.Hour)),
	}
	srv := stub.serve(t)

	m := NewManager(srv.URL, "admin", "hunter2")
	defer m.Close()
	require.NoError(t, m.Authenticate(context.Background()))

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, stub.refreshToken, tok, "expired token must be replaced before returning")
	require.EqualValues(t, 1, stub.refreshes.Load())
}

func TestRefreshFallsBackToAuthenticate(t *testing.T) {
	stub := &directoryStub{
		loginToken:   signedToken(t, time.Now().Add(24*time.Hour)),
		refreshFails: true,
	}
	srv := stub.serve(t)

	m := NewManager(srv.URL, "admin", "hunter2")
	defer m.Close()
	require.NoError(t, m.Authenticate(context.Background()))
	require.NoError(t, m.Refresh(context.Background()))

	// rejected refresh self-heals via a second full login
	require.EqualValues(t, 2, stub.logins.Load())
	require.EqualValues(t, 1, stub.refreshes.Load())
}

func TestConcurrentExpiryObserversShareOneRefresh(t *testing.T) {
	stub := &directoryStub{
		loginToken:   signedToken(t, time.Now().Add(-time.Minute)),
		refreshToken: signedToken(t, time.Now().Add(24*time.Hour)),
	}
	srv := stub.serve(t)

	m := NewManager(srv.URL, "admin", "hunter2")
	defer m.Close()
	require.NoError(t, m.Authenticate(context.Background()))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Token(context.Background())
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, stub.refreshes.Load(), "expired-token observers must share one refresh")
}

func TestExpiryOfUnparseableTokenUsesValidityWindow(t *testing.T) {
	before := time.Now().Add(tokenValidity)
	got := expiryOf("not-a-jwt")
	require.False(t, got.Before(before.Add(-time.Minute)))
	require.False(t, got.After(time.Now().Add(tokenValidity).Add(time.Minute)))
}
