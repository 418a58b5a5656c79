package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	maildomain "mailsense-backend/internal/mail/domain"
	"mailsense-backend/pkg/chroma"

	"github.com/google/uuid"
)

// In-memory fakes for the storage and provider interfaces. They mimic the
// real repositories' semantics closely enough for the pipeline tests:
// unique indexes, not-found as nil, and insert-or-skip conflict handling.

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*maildomain.MailAccount
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: map[string]*maildomain.MailAccount{}}
}

func (r *fakeAccountRepo) GetByID(accountID string) (*maildomain.MailAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (r *fakeAccountRepo) GetByUserID(userID string) ([]maildomain.MailAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []maildomain.MailAccount
	for _, a := range r.accounts {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) Create(account *maildomain.MailAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	copied := *account
	r.accounts[account.ID] = &copied
	return nil
}

func (r *fakeAccountRepo) UpdateTokens(accountID, accessToken, refreshToken string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s not found", accountID)
	}
	a.AccessToken = accessToken
	a.RefreshToken = refreshToken
	a.TokenExpiresAt = expiresAt
	return nil
}

func (r *fakeAccountRepo) UpdateSyncState(accountID string, syncedAt time.Time, retryIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s not found", accountID)
	}
	a.LastSyncAt = &syncedAt
	a.PendingRetryIDs = retryIDs
	return nil
}

func (r *fakeAccountRepo) ClearTokens(accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[accountID]; ok {
		a.AccessToken = ""
		a.RefreshToken = ""
	}
	return nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*maildomain.Message
	bodies   map[string]*maildomain.MessageBody
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		messages: map[string]*maildomain.Message{},
		bodies:   map[string]*maildomain.MessageBody{},
	}
}

func (r *fakeMessageRepo) CreateIfAbsent(message *maildomain.Message, body *maildomain.MessageBody) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ExternalID == message.ExternalID && m.Provider == message.Provider {
			message.ID = m.ID
			return m.ID, false, nil
		}
	}
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	copied := *message
	r.messages[message.ID] = &copied
	if body != nil {
		body.MessageID = message.ID
		copiedBody := *body
		r.bodies[message.ID] = &copiedBody
	}
	return message.ID, true, nil
}

func (r *fakeMessageRepo) FilterNew(provider string, externalIDs []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	for _, m := range r.messages {
		if m.Provider == provider {
			seen[m.ExternalID] = true
		}
	}
	var missing []string
	for _, id := range externalIDs {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (r *fakeMessageRepo) GetByID(messageID string) (*maildomain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return nil, nil
	}
	copied := *m
	return &copied, nil
}

func (r *fakeMessageRepo) GetByIDs(messageIDs []string) ([]maildomain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []maildomain.Message
	for _, id := range messageIDs {
		if m, ok := r.messages[id]; ok {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) GetBody(messageID string) (*maildomain.MessageBody, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bodies[messageID]
	if !ok {
		return nil, nil
	}
	copied := *b
	return &copied, nil
}

func (r *fakeMessageRepo) GetUntriagedIncoming(userID string, since time.Time) ([]maildomain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []maildomain.Message
	for _, m := range r.messages {
		if m.UserID == userID && m.Direction == maildomain.DirectionIncoming && !m.IsTriaged && !m.ReceivedAt.Before(since) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out, nil
}

func (r *fakeMessageRepo) GetThreadMessages(userID, threadID string) ([]maildomain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []maildomain.Message
	for _, m := range r.messages {
		if m.UserID == userID && m.ThreadID == threadID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (r *fakeMessageRepo) MarkTriaged(messageID, action string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s not found", messageID)
	}
	m.IsTriaged = true
	m.TriageAction = action
	return nil
}

type fakeContactRepo struct {
	mu       sync.Mutex
	contacts map[string]*maildomain.Contact
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{contacts: map[string]*maildomain.Contact{}}
}

func contactKey(userID, email string) string {
	return userID + "|" + strings.ToLower(email)
}

func (r *fakeContactRepo) GetByEmail(userID, email string) (*maildomain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[contactKey(userID, email)]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (r *fakeContactRepo) GetByUserID(userID string) ([]maildomain.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []maildomain.Contact
	for _, c := range r.contacts {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeContactRepo) Create(contact *maildomain.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := contactKey(contact.UserID, contact.Email)
	if _, exists := r.contacts[key]; exists {
		return fmt.Errorf("duplicate contact %s", contact.Email)
	}
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	copied := *contact
	r.contacts[key] = &copied
	return nil
}

func (r *fakeContactRepo) Save(contact *maildomain.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *contact
	r.contacts[contactKey(contact.UserID, contact.Email)] = &copied
	return nil
}

type fakeSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[string]*maildomain.Subscription
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{subs: map[string]*maildomain.Subscription{}}
}

func (r *fakeSubscriptionRepo) GetBySender(userID, senderEmail string) (*maildomain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[userID+"|"+senderEmail]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (r *fakeSubscriptionRepo) GetByUserID(userID string) ([]maildomain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []maildomain.Subscription
	for _, s := range r.subs {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSubscriptionRepo) Create(subscription *maildomain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subscription.ID == "" {
		subscription.ID = uuid.New().String()
	}
	copied := *subscription
	r.subs[subscription.UserID+"|"+subscription.SenderEmail] = &copied
	return nil
}

func (r *fakeSubscriptionRepo) Save(subscription *maildomain.Subscription) error {
	return r.Create(subscription)
}

func (r *fakeSubscriptionRepo) UpdateStatus(subscriptionID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.ID == subscriptionID {
			s.Status = status
			return nil
		}
	}
	return fmt.Errorf("subscription %s not found", subscriptionID)
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*maildomain.EnrichmentJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]*maildomain.EnrichmentJob{}}
}

func (r *fakeJobRepo) Enqueue(messageID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[messageID]; exists {
		return nil
	}
	r.jobs[messageID] = &maildomain.EnrichmentJob{
		ID:        uuid.New().String(),
		MessageID: messageID,
		UserID:    userID,
		Status:    maildomain.JobStatusPending,
	}
	return nil
}

func (r *fakeJobRepo) ClaimPending(n int) ([]maildomain.EnrichmentJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var claimed []maildomain.EnrichmentJob
	for _, j := range r.jobs {
		if len(claimed) == n {
			break
		}
		if j.Status == maildomain.JobStatusPending {
			j.Status = maildomain.JobStatusProcessing
			j.Attempts++
			claimed = append(claimed, *j)
		}
	}
	return claimed, nil
}

func (r *fakeJobRepo) MarkDone(jobID string) error {
	return r.setStatus(jobID, maildomain.JobStatusDone, "")
}

func (r *fakeJobRepo) MarkFailed(jobID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ID == jobID {
			if j.Attempts >= maildomain.JobMaxAttempts {
				j.Status = maildomain.JobStatusFailed
			} else {
				j.Status = maildomain.JobStatusPending
			}
			j.LastError = errMsg
			return nil
		}
	}
	return fmt.Errorf("job %s not found", jobID)
}

func (r *fakeJobRepo) Requeue(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ID == jobID {
			j.Status = maildomain.JobStatusPending
			j.Attempts = 0
			j.LastError = ""
			return nil
		}
	}
	return fmt.Errorf("job %s not found", jobID)
}

func (r *fakeJobRepo) CountByStatus() (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int64{}
	for _, j := range r.jobs {
		out[j.Status]++
	}
	return out, nil
}

func (r *fakeJobRepo) setStatus(jobID, status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.ID == jobID {
			j.Status = status
			j.LastError = errMsg
			return nil
		}
	}
	return fmt.Errorf("job %s not found", jobID)
}

func (r *fakeJobRepo) byMessageID(messageID string) *maildomain.EnrichmentJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[messageID]
	if !ok {
		return nil
	}
	copied := *j
	return &copied
}

type fakeEnrichmentRepo struct {
	mu          sync.Mutex
	enrichments map[string]*maildomain.Enrichment
}

func newFakeEnrichmentRepo() *fakeEnrichmentRepo {
	return &fakeEnrichmentRepo{enrichments: map[string]*maildomain.Enrichment{}}
}

func (r *fakeEnrichmentRepo) GetByMessageID(messageID string) (*maildomain.Enrichment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrichments[messageID]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (r *fakeEnrichmentRepo) GetByMessageIDs(messageIDs []string) (map[string]maildomain.Enrichment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]maildomain.Enrichment{}
	for _, id := range messageIDs {
		if e, ok := r.enrichments[id]; ok {
			out[id] = *e
		}
	}
	return out, nil
}

func (r *fakeEnrichmentRepo) Save(enrichment *maildomain.Enrichment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *enrichment
	r.enrichments[enrichment.MessageID] = &copied
	return nil
}

func (r *fakeEnrichmentRepo) UpdateEmbedding(messageID string, embedding []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrichments[messageID]
	if !ok {
		return fmt.Errorf("enrichment %s not found", messageID)
	}
	e.Embedding = embedding
	return nil
}

func (r *fakeEnrichmentRepo) GetMissingEmbeddings(limit int) ([]maildomain.Enrichment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []maildomain.Enrichment
	for _, e := range r.enrichments {
		if len(out) == limit {
			break
		}
		if e.Processed && e.Summary != "" && len(e.Embedding) == 0 {
			out = append(out, *e)
		}
	}
	return out, nil
}

// fakeProvider serves canned parsed messages and records listing calls.
type fakeProvider struct {
	mu        sync.Mutex
	ids       []string
	parsed    map[string]*maildomain.ParsedMessage
	fetchErrs map[string]error
	listErr   error
	listCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		parsed:    map[string]*maildomain.ParsedMessage{},
		fetchErrs: map[string]error{},
	}
}

func (p *fakeProvider) add(parsed *maildomain.ParsedMessage) {
	p.ids = append(p.ids, parsed.ExternalID)
	p.parsed[parsed.ExternalID] = parsed
}

func (p *fakeProvider) ListMessageIDs(ctx context.Context, account *maildomain.MailAccount, onTokenUpdate maildomain.TokenUpdateFunc, afterUnix int64, maxResults int64) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]string{}, p.ids...), nil
}

func (p *fakeProvider) GetMessage(ctx context.Context, account *maildomain.MailAccount, onTokenUpdate maildomain.TokenUpdateFunc, externalID string) (*maildomain.ParsedMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.fetchErrs[externalID]; ok {
		return nil, err
	}
	parsed, ok := p.parsed[externalID]
	if !ok {
		return nil, fmt.Errorf("message %s not found", externalID)
	}
	copied := *parsed
	return &copied, nil
}

func (p *fakeProvider) GetAttachment(ctx context.Context, account *maildomain.MailAccount, onTokenUpdate maildomain.TokenUpdateFunc, messageID, attachmentID string) ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}

// fakeCompletion replays canned responses in order.
type fakeCompletion struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (f *fakeCompletion) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", fmt.Errorf("no canned response")
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

// fakeIndex is an in-memory vector index keyed by message ID.
type fakeIndex struct {
	mu      sync.Mutex
	docs    map[string]string // messageID -> owning user
	hits    []chroma.SearchHit
	upserts int
	err     error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: map[string]string{}}
}

func (f *fakeIndex) UpsertMessageEmbedding(ctx context.Context, messageID, userID, subject, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.docs[messageID] = userID
	f.upserts++
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeIndex) SemanticSearch(ctx context.Context, userID, query string, limit int) ([]chroma.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

// fakeNotifier records every notification it is asked to send.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []string
	users []string
}

func (f *fakeNotifier) SendToUser(ctx context.Context, userID, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	f.sent = append(f.sent, title+": "+body)
	return nil
}
