package gmail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mailsense-backend/internal/mail/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// refreshWindow is how long before expiry a token is refreshed proactively.
const refreshWindow = 5 * time.Minute

// AuthError is a credential failure. RequiresReauth means the refresh token
// itself is invalid or revoked: callers must stop retrying and surface a
// reconnect prompt to the user.
type AuthError struct {
	RequiresReauth bool
	Err            error
}

func (e *AuthError) Error() string {
	if e.RequiresReauth {
		return fmt.Sprintf("authorization revoked, user must reconnect: %v", e.Err)
	}
	return fmt.Sprintf("authorization failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsReauthRequired reports whether err means the account needs to be
// reconnected by the user.
func IsReauthRequired(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.RequiresReauth
}

// TokenManager refreshes provider access tokens. Refresh is not locked:
// two concurrent callers may both refresh, the persisted overwrite means
// both end up with a valid token.
type TokenManager struct {
	config *oauth2.Config
}

func NewTokenManager(clientID, clientSecret string) *TokenManager {
	return &TokenManager{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
		},
	}
}

// GetValidAccessToken returns the stored access token untouched while it has
// more than refreshWindow left, otherwise refreshes it.
func (m *TokenManager) GetValidAccessToken(ctx context.Context, account *domain.MailAccount, onUpdate domain.TokenUpdateFunc) (string, error) {
	if account.AccessToken != "" && time.Now().Before(account.TokenExpiresAt.Add(-refreshWindow)) {
		return account.AccessToken, nil
	}
	return m.Refresh(ctx, account, onUpdate)
}

// Refresh exchanges the refresh token for a new access token and persists it
// through onUpdate. The account struct is mutated in place so subsequent
// calls in the same request see the fresh token.
func (m *TokenManager) Refresh(ctx context.Context, account *domain.MailAccount, onUpdate domain.TokenUpdateFunc) (string, error) {
	if account.RefreshToken == "" {
		return "", &AuthError{RequiresReauth: true, Err: errors.New("no refresh token stored")}
	}

	// Presenting an already-expired token forces TokenSource to hit the
	// provider's refresh endpoint.
	src := m.config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: account.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		return "", ClassifyRefreshError(err)
	}

	account.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		account.RefreshToken = tok.RefreshToken
	}
	account.TokenExpiresAt = tok.Expiry

	if onUpdate != nil {
		expiresIn := int64(time.Until(tok.Expiry).Seconds())
		if err := onUpdate(account.AccessToken, account.RefreshToken, expiresIn); err != nil {
			log.Printf("[Token] Failed to persist refreshed token for account %s: %v", account.ID, err)
		}
	}

	return account.AccessToken, nil
}

// ClassifyRefreshError separates revoked-credential failures (terminal,
// needs re-auth) from transient refresh failures (retried by the next
// scheduled pass).
func ClassifyRefreshError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.ErrorCode == "invalid_grant" || bytes.Contains(rerr.Body, []byte("invalid_grant")) {
			return &AuthError{RequiresReauth: true, Err: err}
		}
		if rerr.Response != nil && rerr.Response.StatusCode == 401 {
			return &AuthError{RequiresReauth: true, Err: err}
		}
	}
	return err
}
