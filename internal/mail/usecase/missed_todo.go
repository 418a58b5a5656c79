package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	maildomain "mailsense-backend/internal/mail/domain"
	"mailsense-backend/internal/mail/repository"
	"mailsense-backend/internal/notification"
	"mailsense-backend/pkg/ai"
)

// missedTodoWindow is how far back the workflow scans for unanswered mail.
const missedTodoWindow = 14 * 24 * time.Hour

// MissedTodoResult summarizes one workflow run.
type MissedTodoResult struct {
	Scanned int `json:"scanned"`
	Found   int `json:"found"`
}

// MissedTodoWorkflow finds incoming messages that look like they expected a
// reply and never got one, flags them, and nudges the user once.
type MissedTodoWorkflow struct {
	aiService   ai.CompletionService
	messageRepo repository.MessageRepository
	accountRepo repository.MailAccountRepository
	notifier    notification.Dispatcher
}

func NewMissedTodoWorkflow(
	aiService ai.CompletionService,
	messageRepo repository.MessageRepository,
	accountRepo repository.MailAccountRepository,
	notifier notification.Dispatcher,
) *MissedTodoWorkflow {
	return &MissedTodoWorkflow{
		aiService:   aiService,
		messageRepo: messageRepo,
		accountRepo: accountRepo,
		notifier:    notifier,
	}
}

// Run scans the user's recent untriaged mail. Already triaged messages never
// reappear, so running the workflow twice flags nothing new the second time.
func (w *MissedTodoWorkflow) Run(ctx context.Context, userID string) (*MissedTodoResult, error) {
	cutoff := time.Now().Add(-missedTodoWindow)
	messages, err := w.messageRepo.GetUntriagedIncoming(userID, cutoff)
	if err != nil {
		return nil, err
	}

	ownAddresses, err := w.ownAddresses(userID)
	if err != nil {
		return nil, err
	}

	// Mail the user sent to themselves is a note, not a pending todo.
	candidates := make([]maildomain.Message, 0, len(messages))
	for _, m := range messages {
		if ownAddresses[strings.ToLower(m.FromEmail)] {
			continue
		}
		candidates = append(candidates, m)
	}

	result := &MissedTodoResult{Scanned: len(candidates)}
	if len(candidates) == 0 {
		return result, nil
	}

	needsReply, err := w.classifyBatch(ctx, candidates)
	if err != nil {
		return nil, err
	}

	for _, m := range candidates {
		if !needsReply[m.ID] {
			continue
		}
		replied, err := w.hasReply(userID, &m, ownAddresses)
		if err != nil {
			log.Printf("[MissedTodo] Failed to check thread %s: %v", m.ThreadID, err)
			continue
		}
		if replied {
			continue
		}

		if err := w.messageRepo.MarkTriaged(m.ID, maildomain.TriageActionReplyNeeded); err != nil {
			log.Printf("[MissedTodo] Failed to flag message %s: %v", m.ID, err)
			continue
		}
		result.Found++
	}

	if result.Found > 0 && w.notifier != nil {
		title := "You have unanswered emails"
		body := fmt.Sprintf("%d emails from the last two weeks look like they are waiting on a reply from you.", result.Found)
		if err := w.notifier.SendToUser(ctx, userID, title, body); err != nil {
			log.Printf("[MissedTodo] Failed to notify user %s: %v", userID, err)
		}
	}

	log.Printf("[MissedTodo] User %s: scanned %d, flagged %d", userID, result.Scanned, result.Found)
	return result, nil
}

func (w *MissedTodoWorkflow) ownAddresses(userID string) (map[string]bool, error) {
	accounts, err := w.accountRepo.GetByUserID(userID)
	if err != nil {
		return nil, err
	}
	own := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		own[strings.ToLower(a.ProviderEmail)] = true
	}
	return own, nil
}

// classifyBatch asks the model which candidates expect a reply, in a single
// call for the whole scan.
func (w *MissedTodoWorkflow) classifyBatch(ctx context.Context, candidates []maildomain.Message) (map[string]bool, error) {
	var sb strings.Builder
	sb.WriteString(`You are an email triage assistant. For each email below, decide whether the sender expects a reply from the recipient. Questions, requests, invitations and approvals expect replies; newsletters, receipts and notifications do not.

Respond with a single JSON array, no markdown, no commentary. One entry per email:
[{"id": "<email id>", "needs_reply": true|false}]

Emails:
`)
	for _, m := range candidates {
		fmt.Fprintf(&sb, "\n---\nid: %s\nfrom: %s <%s>\nsubject: %s\npreview: %s\n",
			m.ID, m.FromDisplayName, m.FromEmail, m.Subject, m.BodyPreview)
	}

	raw, err := w.aiService.Complete(ctx, sb.String())
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}

	entries, err := parseModelJSONArray(raw)
	if err != nil {
		return nil, fmt.Errorf("unusable classification output: %w", err)
	}

	needsReply := make(map[string]bool, len(entries))
	for _, entry := range entries {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := obj["id"].(string)
		flag, _ := obj["needs_reply"].(bool)
		if id != "" {
			needsReply[id] = flag
		}
	}
	return needsReply, nil
}

// hasReply checks the stored thread for evidence the user already answered.
// An outgoing message after the candidate settles it. When the provider did
// not label the reply as sent, two weaker signals count: a later message
// from one of the user's own addresses, or a later message from the
// original sender (the conversation moved on without the user).
func (w *MissedTodoWorkflow) hasReply(userID string, message *maildomain.Message, ownAddresses map[string]bool) (bool, error) {
	if message.ThreadID == "" {
		return false, nil
	}

	thread, err := w.messageRepo.GetThreadMessages(userID, message.ThreadID)
	if err != nil {
		return false, err
	}

	for _, m := range thread {
		if m.ID == message.ID || !m.ReceivedAt.After(message.ReceivedAt) {
			continue
		}
		if m.Direction == maildomain.DirectionOutgoing {
			return true, nil
		}
		if ownAddresses[strings.ToLower(m.FromEmail)] {
			return true, nil
		}
		if strings.EqualFold(m.FromEmail, message.FromEmail) {
			return true, nil
		}
	}
	return false, nil
}

// parseModelJSONArray mirrors parseModelJSON for array-shaped responses.
func parseModelJSONArray(raw string) ([]interface{}, error) {
	var entries []interface{}
	if err := json.Unmarshal([]byte(raw), &entries); err == nil {
		return entries, nil
	}

	candidate := firstJSONArray(raw)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON array in response")
	}
	if err := json.Unmarshal([]byte(candidate), &entries); err != nil {
		return nil, fmt.Errorf("malformed JSON array: %w", err)
	}
	return entries, nil
}

func firstJSONArray(text string) string {
	start := strings.Index(text, "[")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
