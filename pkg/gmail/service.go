package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"mailsense-backend/internal/mail/domain"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// metadataHeaders are requested alongside the payload so subscription
// detection never needs a second round trip.
var metadataHeaders = []string{
	"From", "To", "Cc", "Subject", "Date",
	"Message-ID", "In-Reply-To", "References",
	"List-Unsubscribe",      // RFC 2369
	"List-Unsubscribe-Post", // RFC 8058 one-click
}

// Service wraps the provider's REST endpoints. Every call carries a timeout,
// runs behind a shared circuit breaker, and retries exactly once after a
// forced token refresh when the provider answers 401.
type Service struct {
	tokens *TokenManager
	cb     *gobreaker.CircuitBreaker
}

func NewService(clientID, clientSecret string) *Service {
	cbSettings := gobreaker.Settings{
		Name:     "mail-api",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &Service{
		tokens: NewTokenManager(clientID, clientSecret),
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// Tokens exposes the lifecycle manager for callers that only need a token.
func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

func (s *Service) newClient(ctx context.Context, accessToken string) (*gmail.Service, error) {
	srv, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"},
	)))
	if err != nil {
		return nil, fmt.Errorf("unable to create mail client: %w", err)
	}
	return srv, nil
}

// withAuthRetry runs fn with a valid token, refreshing and retrying once on
// an unauthorized response. A second 401 is terminal for this request.
func (s *Service) withAuthRetry(ctx context.Context, account *domain.MailAccount, onUpdate domain.TokenUpdateFunc, fn func(srv *gmail.Service) error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	token, err := s.tokens.GetValidAccessToken(ctx, account, onUpdate)
	if err != nil {
		return err
	}

	srv, err := s.newClient(ctx, token)
	if err != nil {
		return err
	}

	err = s.execute(func() error { return fn(srv) })
	if !isUnauthorized(err) {
		return err
	}

	// Pre-flight said the token was fine but the provider disagreed (clock
	// skew, external revocation). One forced refresh, one retry.
	token, rerr := s.tokens.Refresh(ctx, account, onUpdate)
	if rerr != nil {
		return rerr
	}
	srv, err = s.newClient(ctx, token)
	if err != nil {
		return err
	}
	return s.execute(func() error { return fn(srv) })
}

// execute wraps an API call with circuit breaker protection. Server-side
// failures (5xx/429) trip the breaker; client errors pass through without
// counting against it.
func (s *Service) execute(fn func() error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				default:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string { return e.err.Error() }

func isUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	apiErr, ok := err.(*googleapi.Error)
	return ok && apiErr.Code == 401
}

// ListMessageIDs returns IDs of messages received after afterUnix, following
// pagination until maxResults is reached or pages run out.
func (s *Service) ListMessageIDs(ctx context.Context, account *domain.MailAccount, onUpdate domain.TokenUpdateFunc, afterUnix int64, maxResults int64) ([]string, error) {
	if maxResults <= 0 {
		maxResults = 100
	}

	var ids []string
	err := s.withAuthRetry(ctx, account, onUpdate, func(srv *gmail.Service) error {
		ids = ids[:0] // retry starts clean
		pageToken := ""
		for {
			call := srv.Users.Messages.List("me").
				Q(fmt.Sprintf("after:%d", afterUnix)).
				LabelIds("INBOX").
				MaxResults(maxResults)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			resp, err := call.Context(ctx).Do()
			if err != nil {
				return err
			}
			for _, m := range resp.Messages {
				ids = append(ids, m.Id)
			}
			if resp.NextPageToken == "" || int64(len(ids)) >= maxResults {
				return nil
			}
			pageToken = resp.NextPageToken
		}
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetMessage fetches one message in full and resolves it into the canonical
// parsed projection.
func (s *Service) GetMessage(ctx context.Context, account *domain.MailAccount, onUpdate domain.TokenUpdateFunc, externalID string) (*domain.ParsedMessage, error) {
	var msg *gmail.Message
	err := s.withAuthRetry(ctx, account, onUpdate, func(srv *gmail.Service) error {
		var apiErr error
		msg, apiErr = srv.Users.Messages.Get("me", externalID).
			Format("full").
			MetadataHeaders(metadataHeaders...).
			Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve message %s: %w", externalID, err)
	}
	return convertMessage(msg), nil
}

// GetAttachment fetches raw attachment bytes for a message.
func (s *Service) GetAttachment(ctx context.Context, account *domain.MailAccount, onUpdate domain.TokenUpdateFunc, messageID, attachmentID string) ([]byte, error) {
	var part *gmail.MessagePartBody
	err := s.withAuthRetry(ctx, account, onUpdate, func(srv *gmail.Service) error {
		var apiErr error
		part, apiErr = srv.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve attachment: %w", err)
	}

	data, err := base64.URLEncoding.DecodeString(part.Data)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(part.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to decode attachment data: %w", err)
	}
	return data, nil
}
