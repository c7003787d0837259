// Package auditapi talks to the Unqork audit-log API: OAuth2 client
// credentials, listing log file locations and downloading files.
package auditapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"unqork-logs/internal/domain"
)

// TokenPath is the OAuth2 token endpoint relative to the base URL.
const TokenPath = "/api/1.0/oauth2/access_token"

// DefaultRefreshMargin is how long before expiry a token is replaced.
const DefaultRefreshMargin = 5 * time.Minute

// defaultTokenLifetime applies when the response carries no usable expiry.
const defaultTokenLifetime = time.Hour

// Credential is a bearer access token and its expiry. It is only ever held
// in memory.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// validAt reports whether c can still be used at now with margin to spare.
func (c Credential) validAt(now time.Time, margin time.Duration) bool {
	return c.AccessToken != "" && now.Add(margin).Before(c.ExpiresAt)
}

// TokenSource supplies bearer credentials to the API client.
type TokenSource interface {
	Token(ctx context.Context) (Credential, error)
	// Invalidate marks accessToken as rejected by the server.
	Invalidate(accessToken string)
}

var _ TokenSource = (*TokenManager)(nil)

// TokenManager obtains and caches a client-credentials access token. It is
// safe for concurrent use: readers share a read lock and at most one refresh
// is in flight at a time.
type TokenManager struct {
	cfg        clientcredentials.Config
	httpClient *http.Client
	margin     time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.RWMutex
	cred       Credential
	credMargin time.Duration // margin for cred, at most half its lifetime
	flight     singleflight.Group
}

// TokenManagerConfig holds the settings for NewTokenManager.
type TokenManagerConfig struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	HTTPClient    *http.Client
	RefreshMargin time.Duration
	Logger        *slog.Logger
}

// NewTokenManager creates a TokenManager. No request is made until the first
// call to Token.
func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TokenManager{
		cfg: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     strings.TrimRight(cfg.BaseURL, "/") + TokenPath,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: cfg.HTTPClient,
		margin:     cfg.RefreshMargin,
		logger:     cfg.Logger.With("component", "token"),
		now:        time.Now,
	}
}

// Token returns a credential that stays valid for at least the refresh
// margin, refreshing it first if needed. For tokens issued with a lifetime
// shorter than twice the margin, half the lifetime is used instead. On refresh failure the previously
// held credential is kept and a *domain.AuthError is returned.
func (m *TokenManager) Token(ctx context.Context) (Credential, error) {
	if cred, ok := m.current(); ok {
		return cred, nil
	}

	ch := m.flight.DoChan("refresh", func() (interface{}, error) {
		// Another caller may have refreshed while we waited for the flight.
		if cred, ok := m.current(); ok {
			return cred, nil
		}
		return m.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

// Invalidate drops the held credential if it is still accessToken. A 401 for
// a token that has already been replaced is ignored.
func (m *TokenManager) Invalidate(accessToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred.AccessToken == accessToken {
		m.logger.Debug("access token invalidated")
		m.cred = Credential{}
	}
}

func (m *TokenManager) current() (Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred, m.cred.validAt(m.now(), m.credMargin)
}

func (m *TokenManager) refresh(ctx context.Context) (Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	tok, err := m.cfg.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return Credential{}, domain.ErrAuth(err, "authentication failed (HTTP %d)", re.Response.StatusCode)
		}
		return Credential{}, domain.ErrAuth(err, "authentication request failed")
	}

	cred := Credential{AccessToken: tok.AccessToken, ExpiresAt: m.expiry(tok)}
	margin := min(m.margin, cred.ExpiresAt.Sub(m.now())/2)

	m.mu.Lock()
	m.cred = cred
	m.credMargin = margin
	m.mu.Unlock()

	m.logger.Debug("access token refreshed", "expires_at", cred.ExpiresAt.UTC().Format(time.RFC3339))
	return cred, nil
}

// expiry prefers expires_in, then the JWT exp claim, then a fixed lifetime.
func (m *TokenManager) expiry(tok *oauth2.Token) time.Time {
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	if exp, err := jwtExpiry(tok.AccessToken); err == nil {
		return exp
	}
	return m.now().Add(defaultTokenLifetime)
}

// jwtExpiry reads the exp claim without verifying the signature. The token
// is only inspected for scheduling, never trusted.
func jwtExpiry(accessToken string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	return exp.Time, nil
}
