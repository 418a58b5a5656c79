package usecase

import (
	"log"
	"strings"
	"time"

	maildomain "mailsense-backend/internal/mail/domain"
	"mailsense-backend/internal/mail/repository"
)

// methodRank orders unsubscribe methods from worst to best. A stored
// subscription only ever upgrades to a strictly better method.
var methodRank = map[string]int{
	maildomain.UnsubscribeNone:     0,
	maildomain.UnsubscribeHTTPGet:  1,
	maildomain.UnsubscribeMailto:   2,
	maildomain.UnsubscribeHTTPPost: 3,
}

// UnsubscribeInfo is the classification of one message's list headers.
type UnsubscribeInfo struct {
	Method string
	Target string
}

// ClassifyUnsubscribe inspects the List-Unsubscribe header value and the
// RFC 8058 one-click flag and picks the safest available method. A POST
// form beats mailto, which beats a bare GET link; GET links are never
// auto-triggered because link prefetchers fire them.
func ClassifyUnsubscribe(listUnsubscribe string, oneClickPost bool) UnsubscribeInfo {
	if strings.TrimSpace(listUnsubscribe) == "" {
		return UnsubscribeInfo{Method: maildomain.UnsubscribeNone}
	}

	var httpTarget, mailtoTarget string
	for _, entry := range strings.Split(listUnsubscribe, ",") {
		entry = strings.TrimSpace(entry)
		entry = strings.TrimPrefix(entry, "<")
		entry = strings.TrimSuffix(entry, ">")

		lower := strings.ToLower(entry)
		switch {
		case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
			if httpTarget == "" {
				httpTarget = entry
			}
		case strings.HasPrefix(lower, "mailto:"):
			if mailtoTarget == "" {
				mailtoTarget = entry
			}
		}
	}

	switch {
	case httpTarget != "" && oneClickPost:
		return UnsubscribeInfo{Method: maildomain.UnsubscribeHTTPPost, Target: httpTarget}
	case mailtoTarget != "":
		return UnsubscribeInfo{Method: maildomain.UnsubscribeMailto, Target: mailtoTarget}
	case httpTarget != "":
		return UnsubscribeInfo{Method: maildomain.UnsubscribeHTTPGet, Target: httpTarget}
	default:
		return UnsubscribeInfo{Method: maildomain.UnsubscribeNone}
	}
}

// SubscriptionDetector maintains per-sender bulk mail aggregates.
type SubscriptionDetector struct {
	subscriptionRepo repository.SubscriptionRepository
}

func NewSubscriptionDetector(subscriptionRepo repository.SubscriptionRepository) *SubscriptionDetector {
	return &SubscriptionDetector{
		subscriptionRepo: subscriptionRepo,
	}
}

// Observe records one message from a list sender, creating or updating the
// (user, sender) aggregate. Messages without list headers are ignored. A
// header whose URIs are all unusable still marks the sender as a list, with
// method none until a later message supplies a working target.
func (d *SubscriptionDetector) Observe(userID string, parsed *maildomain.ParsedMessage) (bool, error) {
	if strings.TrimSpace(parsed.ListUnsubscribe) == "" {
		return false, nil
	}
	info := ClassifyUnsubscribe(parsed.ListUnsubscribe, parsed.ListUnsubscribePost)

	existing, err := d.subscriptionRepo.GetBySender(userID, parsed.FromEmail)
	if err != nil {
		return false, err
	}

	receivedAt := parsed.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	if existing == nil {
		subscription := &maildomain.Subscription{
			UserID:            userID,
			SenderEmail:       parsed.FromEmail,
			SenderDomain:      emailDomain(parsed.FromEmail),
			UnsubscribeMethod: info.Method,
			UnsubscribeTarget: info.Target,
			EmailCount:        1,
			FirstEmailAt:      receivedAt,
			LastEmailAt:       receivedAt,
			Status:            maildomain.SubStatusSubscribed,
		}
		if err := d.subscriptionRepo.Create(subscription); err != nil {
			return false, err
		}
		log.Printf("[Subscription] New sender %s for user %s (method: %s)", parsed.FromEmail, userID, info.Method)
		return true, nil
	}

	existing.EmailCount++
	if receivedAt.After(existing.LastEmailAt) {
		existing.LastEmailAt = receivedAt
	}
	if receivedAt.Before(existing.FirstEmailAt) {
		existing.FirstEmailAt = receivedAt
	}
	if methodRank[info.Method] > methodRank[existing.UnsubscribeMethod] {
		existing.UnsubscribeMethod = info.Method
		existing.UnsubscribeTarget = info.Target
	}
	if err := d.subscriptionRepo.Save(existing); err != nil {
		return false, err
	}
	return true, nil
}

func emailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return ""
}
