package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/slothflix/lldap-bridge/pkg/logger"
	"github.com/slothflix/lldap-bridge/pkg/metrics"
)

// tokenValidity is the fallback lifetime assumed for an access token whose
// exp claim cannot be decoded. LLDAP issues 1-day tokens.
const tokenValidity = 24 * time.Hour

// AuthenticationError reports a failed login or malformed login response.
type AuthenticationError struct {
	Status int
	Body   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: status=%d body=%q", e.Status, e.Body)
}

// Manager owns the single live credential pair for the process and keeps it
// valid. All state is guarded by one mutex, so concurrent callers that
// observe an expired token share a single in-flight refresh instead of racing
// the login endpoint.
type Manager struct {
	loginURL string
	username string
	password string
	httpc    *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewManager builds a manager bound to the directory's login URL. It owns the
// long-lived HTTP client; release it with Close on shutdown.
func NewManager(loginURL, username, password string) *Manager {
	return &Manager{
		loginURL: strings.TrimRight(loginURL, "/"),
		username: username,
		password: password,
		httpc:    &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Authenticate performs the primary login and stores the resulting token pair.
func (m *Manager) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticateLocked(ctx)
}

func (m *Manager) authenticateLocked(ctx context.Context) error {
	payload, _ := json.Marshal(map[string]string{
		"username": m.username,
		"password": m.password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.loginURL+"/auth/simple/login", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpc.Do(req)
	if err != nil {
		metrics.Logins.WithLabelValues("error").Inc()
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.Logins.WithLabelValues("error").Inc()
		return &AuthenticationError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.Token == "" || tr.RefreshToken == "" {
		metrics.Logins.WithLabelValues("error").Inc()
		return &AuthenticationError{Status: resp.StatusCode, Body: string(body)}
	}

	m.accessToken = tr.Token
	m.refreshToken = tr.RefreshToken
	m.expiresAt = expiryOf(tr.Token)
	metrics.Logins.WithLabelValues("success").Inc()
	logger.Infof("authenticated with LLDAP, token valid until %s", m.expiresAt.Format(time.RFC3339))
	return nil
}

// Refresh exchanges the stored refresh token for a new access token. A failed
// refresh is treated as recoverable: the manager falls back to a full
// Authenticate before giving up.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	if m.refreshToken == "" {
		return m.authenticateLocked(ctx)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.loginURL+"/auth/refresh", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.refreshToken)

	resp, err := m.httpc.Do(req)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		logger.Warnf("token refresh failed (%v), re-authenticating", err)
		return m.authenticateLocked(ctx)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var tr tokenResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || json.Unmarshal(body, &tr) != nil || tr.Token == "" {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		logger.Warnf("token refresh rejected (status=%d), re-authenticating", resp.StatusCode)
		return m.authenticateLocked(ctx)
	}

	m.accessToken = tr.Token
	if tr.RefreshToken != "" {
		m.refreshToken = tr.RefreshToken
	}
	m.expiresAt = expiryOf(tr.Token)
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	logger.Debugf("refreshed LLDAP token, valid until %s", m.expiresAt.Format(time.RFC3339))
	return nil
}

// Token returns a currently valid access token, refreshing first when the
// stored one is absent or past its expiry. It never returns a token believed
// expired.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accessToken == "" || !time.Now().Before(m.expiresAt) {
		if err := m.refreshLocked(ctx); err != nil {
			return "", err
		}
	}
	return m.accessToken, nil
}

// Close releases the manager's network resources.
func (m *Manager) Close() {
	m.httpc.CloseIdleConnections()
}

// expiryOf decodes the exp claim of the access token without verifying the
// signature (we only need the lifetime, the directory signed it for itself).
// Tokens without a readable exp claim get the fixed validity window.
func expiryOf(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err == nil {
		if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(tokenValidity)
}
