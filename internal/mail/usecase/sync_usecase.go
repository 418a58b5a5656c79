package usecase

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	maildomain "mailsense-backend/internal/mail/domain"
	"mailsense-backend/internal/mail/repository"
	"mailsense-backend/pkg/crypto"
	"mailsense-backend/pkg/gmail"
	"mailsense-backend/pkg/htmltext"
)

const (
	// Fetch batches stay small and spaced out so a large backlog never
	// burns through the provider quota in one burst.
	syncBatchSize  = 5
	syncBatchDelay = 200 * time.Millisecond

	// First sync for an account looks back one hour.
	defaultSyncWindow = time.Hour

	syncMaxResults = 500

	providerGmail = "gmail"

	previewLength = 200
)

// SyncResult summarizes one sync pass over an account.
type SyncResult struct {
	Listed int `json:"listed"`
	New    int `json:"new"`
	Stored int `json:"stored"`
	Failed int `json:"failed"`
}

// SyncEngine pulls new messages from the provider into local storage.
type SyncEngine struct {
	provider      maildomain.MailProvider
	accountRepo   repository.MailAccountRepository
	messageRepo   repository.MessageRepository
	jobRepo       repository.EnrichmentJobRepository
	contacts      *ContactResolver
	subscriptions *SubscriptionDetector
	cipher        *crypto.Cipher
}

func NewSyncEngine(
	provider maildomain.MailProvider,
	accountRepo repository.MailAccountRepository,
	messageRepo repository.MessageRepository,
	jobRepo repository.EnrichmentJobRepository,
	contacts *ContactResolver,
	subscriptions *SubscriptionDetector,
	cipher *crypto.Cipher,
) *SyncEngine {
	return &SyncEngine{
		provider:      provider,
		accountRepo:   accountRepo,
		messageRepo:   messageRepo,
		jobRepo:       jobRepo,
		contacts:      contacts,
		subscriptions: subscriptions,
		cipher:        cipher,
	}
}

// SyncAccount runs one incremental sync pass for the account. Messages that
// fail to fetch or store are logged and skipped; one bad message never
// aborts the pass. The sync watermark advances to the pass start time even
// when individual messages failed, so a poisoned message cannot wedge the
// account into refetching the same window forever. Failed IDs are carried
// on the account instead and merged into the next pass.
func (e *SyncEngine) SyncAccount(ctx context.Context, accountID string) (*SyncResult, error) {
	account, err := e.accountRepo.GetByID(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s not found", accountID)
	}
	if account.Disabled() {
		return nil, &gmail.AuthError{RequiresReauth: true, Err: fmt.Errorf("account %s is disconnected", accountID)}
	}

	onTokenUpdate := e.makeTokenUpdateCallback(account)

	syncStart := time.Now()
	watermark := syncStart.Add(-defaultSyncWindow)
	if account.LastSyncAt != nil {
		watermark = *account.LastSyncAt
	}

	externalIDs, err := e.provider.ListMessageIDs(ctx, account, onTokenUpdate, watermark.Unix(), syncMaxResults)
	if err != nil {
		if gmail.IsReauthRequired(err) {
			// The grant is gone; disable the account so schedulers stop
			// hammering a dead refresh token.
			if clearErr := e.accountRepo.ClearTokens(account.ID); clearErr != nil {
				log.Printf("[Sync] Failed to disable account %s: %v", account.ID, clearErr)
			}
		}
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	// IDs that failed on an earlier pass are behind the watermark now,
	// so they ride along with the fresh listing.
	listed := make(map[string]bool, len(externalIDs))
	for _, id := range externalIDs {
		listed[id] = true
	}
	for _, id := range account.PendingRetryIDs {
		if !listed[id] {
			externalIDs = append(externalIDs, id)
		}
	}

	newIDs, err := e.messageRepo.FilterNew(providerGmail, externalIDs)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Listed: len(externalIDs), New: len(newIDs)}
	log.Printf("[Sync] Account %s: %d listed, %d new", account.ID, result.Listed, result.New)

	var retryIDs []string
	for start := 0; start < len(newIDs); start += syncBatchSize {
		end := start + syncBatchSize
		if end > len(newIDs) {
			end = len(newIDs)
		}

		parsed := e.fetchBatch(ctx, account, onTokenUpdate, newIDs[start:end])

		// Contact and subscription upserts share unique rows, so the
		// store phase runs sequentially.
		for i, p := range parsed {
			if p == nil {
				result.Failed++
				retryIDs = append(retryIDs, newIDs[start+i])
				continue
			}
			if err := e.storeMessage(account, p); err != nil {
				log.Printf("[Sync] Failed to store message %s: %v", newIDs[start+i], err)
				result.Failed++
				retryIDs = append(retryIDs, newIDs[start+i])
				continue
			}
			result.Stored++
		}

		if end < len(newIDs) {
			time.Sleep(syncBatchDelay)
		}
	}

	if err := e.accountRepo.UpdateSyncState(account.ID, syncStart, retryIDs); err != nil {
		log.Printf("[Sync] Failed to advance watermark for account %s: %v", account.ID, err)
	}

	log.Printf("[Sync] Account %s: stored %d, failed %d", account.ID, result.Stored, result.Failed)
	return result, nil
}

// fetchBatch retrieves a batch of messages concurrently. A failed fetch
// leaves a nil slot so indices still line up with the input IDs.
func (e *SyncEngine) fetchBatch(ctx context.Context, account *maildomain.MailAccount, onTokenUpdate maildomain.TokenUpdateFunc, externalIDs []string) []*maildomain.ParsedMessage {
	parsed := make([]*maildomain.ParsedMessage, len(externalIDs))

	var wg sync.WaitGroup
	for i, externalID := range externalIDs {
		wg.Add(1)
		go func(i int, externalID string) {
			defer wg.Done()
			p, err := e.provider.GetMessage(ctx, account, onTokenUpdate, externalID)
			if err != nil {
				log.Printf("[Sync] Failed to fetch message %s: %v", externalID, err)
				return
			}
			parsed[i] = p
		}(i, externalID)
	}
	wg.Wait()

	return parsed
}

func (e *SyncEngine) storeMessage(account *maildomain.MailAccount, parsed *maildomain.ParsedMessage) error {
	sender, err := e.contacts.Resolve(account.UserID, parsed.FromEmail, parsed.FromName, parsed.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to resolve sender: %w", err)
	}

	var toContactIDs []string
	for _, recipient := range parsed.To {
		contact, err := e.contacts.Resolve(account.UserID, recipient, "", parsed.ReceivedAt)
		if err != nil {
			return fmt.Errorf("failed to resolve recipient: %w", err)
		}
		if contact != nil {
			toContactIDs = append(toContactIDs, contact.ID)
		}
	}

	isSubscription, err := e.subscriptions.Observe(account.UserID, parsed)
	if err != nil {
		// Subscription stats are best-effort; the message itself still lands.
		log.Printf("[Sync] Failed to record subscription for %s: %v", parsed.FromEmail, err)
	}

	message := &maildomain.Message{
		ExternalID:      parsed.ExternalID,
		Provider:        providerGmail,
		ThreadID:        parsed.ThreadID,
		UserID:          account.UserID,
		AccountID:       account.ID,
		FromEmail:       parsed.FromEmail,
		FromDisplayName: parsed.FromName,
		ToContactIDs:    toContactIDs,
		Subject:         parsed.Subject,
		BodyPreview:     htmltext.Preview(parsed.Body(), previewLength),
		ReceivedAt:      parsed.ReceivedAt,
		IsRead:          parsed.IsRead,
		Direction:       parsed.Direction,
		IsSubscription:  isSubscription,
		ListUnsubscribe: parsed.ListUnsubscribe,
	}
	if sender != nil {
		message.FromContactID = sender.ID
	}

	// Full bodies are encrypted at rest with the owner's derived key.
	encryptedText, err := e.cipher.Encrypt(account.UserID, htmltext.ToText(parsed.Body()))
	if err != nil {
		return fmt.Errorf("failed to encrypt body: %w", err)
	}
	encryptedHTML, err := e.cipher.Encrypt(account.UserID, parsed.BodyHTML)
	if err != nil {
		return fmt.Errorf("failed to encrypt body: %w", err)
	}
	body := &maildomain.MessageBody{
		Full:        encryptedText,
		HTML:        encryptedHTML,
		Attachments: parsed.Attachments,
	}

	messageID, inserted, err := e.messageRepo.CreateIfAbsent(message, body)
	if err != nil {
		return err
	}
	if !inserted {
		// Lost a race with another sync pass; nothing more to do.
		return nil
	}

	if parsed.Direction == maildomain.DirectionIncoming {
		if err := e.jobRepo.Enqueue(messageID, account.UserID); err != nil {
			log.Printf("[Sync] Failed to enqueue enrichment for message %s: %v", messageID, err)
		}
	}
	return nil
}

// makeTokenUpdateCallback persists refreshed tokens as they are issued.
func (e *SyncEngine) makeTokenUpdateCallback(account *maildomain.MailAccount) maildomain.TokenUpdateFunc {
	return func(accessToken, refreshToken string, expiresInSeconds int64) error {
		expiresAt := time.Now().Add(time.Duration(expiresInSeconds) * time.Second)
		return e.accountRepo.UpdateTokens(account.ID, accessToken, refreshToken, expiresAt)
	}
}
