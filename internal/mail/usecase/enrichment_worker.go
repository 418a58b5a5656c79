package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	maildomain "mailsense-backend/internal/mail/domain"
	"mailsense-backend/internal/mail/repository"
	"mailsense-backend/pkg/ai"
	"mailsense-backend/pkg/crypto"
	"mailsense-backend/pkg/htmltext"
)

const (
	// Body text sent to the model is capped to stay inside token limits.
	enrichmentBodyLimit = 8000

	maxQuickReplies = 3

	// Extracted events more than an hour in the past are stale.
	calendarPastTolerance = time.Hour
)

// EnrichmentWorker runs the AI analysis pass over stored messages.
type EnrichmentWorker struct {
	aiService      ai.CompletionService
	messageRepo    repository.MessageRepository
	enrichmentRepo repository.EnrichmentRepository
	cipher         *crypto.Cipher
	indexer        *EmbeddingIndexer
}

func NewEnrichmentWorker(
	aiService ai.CompletionService,
	messageRepo repository.MessageRepository,
	enrichmentRepo repository.EnrichmentRepository,
	cipher *crypto.Cipher,
	indexer *EmbeddingIndexer,
) *EnrichmentWorker {
	return &EnrichmentWorker{
		aiService:      aiService,
		messageRepo:    messageRepo,
		enrichmentRepo: enrichmentRepo,
		cipher:         cipher,
		indexer:        indexer,
	}
}

// EnrichMessage analyzes one message and persists the result. Messages that
// already have a processed enrichment are skipped unless force is set, so
// retried jobs never pay for a second model call.
func (w *EnrichmentWorker) EnrichMessage(ctx context.Context, messageID string, force bool) (*maildomain.Enrichment, error) {
	existing, err := w.enrichmentRepo.GetByMessageID(messageID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Processed && !force {
		return existing, nil
	}

	message, err := w.messageRepo.GetByID(messageID)
	if err != nil {
		return nil, err
	}
	if message == nil {
		return nil, fmt.Errorf("message %s not found", messageID)
	}

	bodyText := w.loadBodyText(message)

	prompt := buildEnrichmentPrompt(message, bodyText)
	raw, err := w.aiService.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	fields, err := parseModelJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("unusable model output: %w", err)
	}

	enrichment := sanitizeEnrichment(fields, time.Now())
	enrichment.MessageID = message.ID
	enrichment.UserID = message.UserID
	enrichment.Processed = true
	if existing != nil {
		// Keep the vector from the previous pass until the indexer
		// replaces it.
		enrichment.Embedding = existing.Embedding
	}

	if err := w.enrichmentRepo.Save(enrichment); err != nil {
		return nil, err
	}

	// Indexing is best effort here; the backfill pass picks up anything
	// that failed.
	if w.indexer != nil {
		if err := w.indexer.IndexMessage(ctx, message, enrichment); err != nil {
			log.Printf("[Enrichment] Failed to index message %s: %v", message.ID, err)
		}
	}

	return enrichment, nil
}

// EnrichBatch processes messages in parallel and returns one error slot per
// input, aligned by index.
func (w *EnrichmentWorker) EnrichBatch(ctx context.Context, messageIDs []string) []error {
	results := make([]error, len(messageIDs))

	var wg sync.WaitGroup
	for i, messageID := range messageIDs {
		wg.Add(1)
		go func(i int, messageID string) {
			defer wg.Done()
			_, err := w.EnrichMessage(ctx, messageID, false)
			results[i] = err
		}(i, messageID)
	}
	wg.Wait()

	return results
}

func (w *EnrichmentWorker) loadBodyText(message *maildomain.Message) string {
	body, err := w.messageRepo.GetBody(message.ID)
	if err != nil || body == nil {
		return message.BodyPreview
	}
	if text := w.cipher.Decrypt(message.UserID, body.Full); text != "" {
		return text
	}
	if html := w.cipher.Decrypt(message.UserID, body.HTML); html != "" {
		return htmltext.ToText(html)
	}
	return message.BodyPreview
}

func buildEnrichmentPrompt(message *maildomain.Message, bodyText string) string {
	bodyText = htmltext.Truncate(bodyText, enrichmentBodyLimit)

	return fmt.Sprintf(`You are an email triage assistant. Analyze the email below and respond with a single JSON object, no markdown, no commentary.

The JSON object must have exactly these fields:
- "summary": one or two sentences capturing what the email is about and what the recipient should do
- "urgency_score": integer 0-100, where 0 is ignorable and 100 needs attention right now
- "urgency_reason": one short sentence explaining the score
- "action_required": the concrete action the recipient must take, or "" if none
- "quick_replies": up to 3 short reply suggestions the recipient could send as-is
- "calendar_event": {"title","date","time","location"} if the email proposes a concrete event, otherwise null. Use YYYY-MM-DD for date and HH:MM for time.
- "should_accept_calendar": true only if the event clearly involves the recipient and has a concrete date
- "deadline": any deadline mentioned, as text, or ""

From: %s <%s>
Subject: %s
Date: %s

%s`,
		message.FromDisplayName, message.FromEmail,
		message.Subject,
		message.ReceivedAt.Format(time.RFC1123),
		bodyText)
}

// parseModelJSON decodes a model response that should be a JSON object but
// often arrives wrapped in prose or a markdown fence. A direct parse is
// tried first, then the first balanced object found in the text. Anything
// else is a hard failure; partial output is never stored.
func parseModelJSON(raw string) (map[string]interface{}, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err == nil {
		return fields, nil
	}

	candidate := firstJSONObject(raw)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(candidate), &fields); err != nil {
		return nil, fmt.Errorf("malformed JSON object: %w", err)
	}
	return fields, nil
}

// firstJSONObject extracts the first brace-balanced object from text,
// ignoring braces inside string literals.
func firstJSONObject(text string) string {
	start := strings.Index(text, "{")
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// sanitizeEnrichment converts untrusted model output into a valid
// enrichment. Out-of-range and mistyped fields are coerced or dropped
// rather than rejected.
func sanitizeEnrichment(fields map[string]interface{}, now time.Time) *maildomain.Enrichment {
	e := &maildomain.Enrichment{
		Summary:        stringField(fields, "summary"),
		UrgencyReason:  stringField(fields, "urgency_reason"),
		ActionRequired: stringField(fields, "action_required"),
		Deadline:       stringField(fields, "deadline"),
	}

	// Deadlines age out the same way calendar events do. Free-form text
	// that does not resolve to a date is kept.
	if e.Deadline != "" {
		if when, err := parseDeadlineTime(e.Deadline); err == nil && when.Before(now.Add(-calendarPastTolerance)) {
			e.Deadline = ""
		}
	}

	if score, ok := fields["urgency_score"].(float64); ok {
		e.UrgencyScore = int(score)
	}
	if e.UrgencyScore < 0 {
		e.UrgencyScore = 0
	}
	if e.UrgencyScore > 100 {
		e.UrgencyScore = 100
	}

	if replies, ok := fields["quick_replies"].([]interface{}); ok {
		for _, r := range replies {
			s, ok := r.(string)
			if !ok || strings.TrimSpace(s) == "" {
				continue
			}
			e.QuickReplies = append(e.QuickReplies, s)
			if len(e.QuickReplies) == maxQuickReplies {
				break
			}
		}
	}

	e.CalendarEvent = extractCalendarEvent(fields["calendar_event"], now)
	if e.CalendarEvent != nil {
		accept, _ := fields["should_accept_calendar"].(bool)
		e.ShouldAcceptCalendar = accept
	}

	return e
}

// extractCalendarEvent accepts an object or an array of objects (models
// sometimes emit a list) and drops events that already happened. An event
// whose date does not parse is kept; a wrong guess about staleness is worse
// than showing it.
func extractCalendarEvent(value interface{}, now time.Time) *maildomain.CalendarEvent {
	obj, ok := value.(map[string]interface{})
	if !ok {
		if arr, isArr := value.([]interface{}); isArr && len(arr) > 0 {
			obj, ok = arr[0].(map[string]interface{})
		}
		if !ok {
			return nil
		}
	}

	event := &maildomain.CalendarEvent{
		Title:    stringField(obj, "title"),
		Date:     stringField(obj, "date"),
		Time:     stringField(obj, "time"),
		Location: stringField(obj, "location"),
	}
	if event.Title == "" || event.Date == "" {
		return nil
	}

	if when, err := parseEventTime(event.Date, event.Time); err == nil {
		if when.Before(now.Add(-calendarPastTolerance)) {
			return nil
		}
	}
	return event
}

func parseEventTime(date, clock string) (time.Time, error) {
	if clock != "" {
		if t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, time.Local); err == nil {
			return t, nil
		}
	}
	t, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	// Date-only events count as end of day.
	return t.Add(24*time.Hour - time.Second), nil
}

// parseDeadlineTime resolves deadline text in the formats the prompt asks
// for, with or without a clock component.
func parseDeadlineTime(text string) (time.Time, error) {
	if parts := strings.Fields(text); len(parts) == 2 {
		if t, err := parseEventTime(parts[0], parts[1]); err == nil {
			return t, nil
		}
	}
	return parseEventTime(text, "")
}

func stringField(fields map[string]interface{}, key string) string {
	s, _ := fields[key].(string)
	return strings.TrimSpace(s)
}
