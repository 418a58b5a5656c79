package domain

import "context"

// TokenUpdateFunc persists refreshed provider tokens. The update is a plain
// overwrite; two concurrent refreshes both end with a valid token and the
// last write wins.
type TokenUpdateFunc func(accessToken, refreshToken string, expiresInSeconds int64) error

// MailProvider wraps the remote mail API. Implementations handle the
// one-shot refresh-and-retry on an unauthorized response; a second 401 for
// the same logical request is terminal.
type MailProvider interface {
	// ListMessageIDs returns the IDs of messages received after the given
	// unix timestamp, newest first, following provider pagination.
	ListMessageIDs(ctx context.Context, account *MailAccount, onTokenUpdate TokenUpdateFunc, afterUnix int64, maxResults int64) ([]string, error)
	// GetMessage fetches and resolves one message into the canonical projection.
	GetMessage(ctx context.Context, account *MailAccount, onTokenUpdate TokenUpdateFunc, externalID string) (*ParsedMessage, error)
	// GetAttachment fetches raw attachment bytes.
	GetAttachment(ctx context.Context, account *MailAccount, onTokenUpdate TokenUpdateFunc, messageID, attachmentID string) ([]byte, error)
}
