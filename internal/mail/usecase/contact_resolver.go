package usecase

import (
	"strings"
	"time"

	maildomain "mailsense-backend/internal/mail/domain"
	"mailsense-backend/internal/mail/repository"
	"mailsense-backend/pkg/avatar"
)

// ContactResolver maps raw sender identities onto stored contacts.
// Resolution must run sequentially per user; concurrent upserts of the same
// address would race on the (user_id, email) unique index.
type ContactResolver struct {
	contactRepo repository.ContactRepository
}

func NewContactResolver(contactRepo repository.ContactRepository) *ContactResolver {
	return &ContactResolver{
		contactRepo: contactRepo,
	}
}

// Resolve returns the contact for (userID, email), creating it on first
// sight. Existing contacts get their activity stats bumped; a non-empty
// display name that differs from the stored one replaces it, and the
// avatar is assigned once at creation.
func (r *ContactResolver) Resolve(userID, email, displayName string, seenAt time.Time) (*maildomain.Contact, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	if seenAt.IsZero() {
		seenAt = time.Now()
	}

	existing, err := r.contactRepo.GetByEmail(userID, email)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		name := strings.TrimSpace(displayName)
		if name == email {
			name = ""
		}
		contact := &maildomain.Contact{
			UserID:      userID,
			Email:       email,
			DisplayName: name,
			AvatarURL:   avatar.Placeholder(email, name),
			EmailCount:  1,
			LastEmailAt: seenAt,
		}
		if err := r.contactRepo.Create(contact); err != nil {
			return nil, err
		}
		return contact, nil
	}

	existing.EmailCount++
	if seenAt.After(existing.LastEmailAt) {
		existing.LastEmailAt = seenAt
	}
	if name := strings.TrimSpace(displayName); name != "" && name != email && name != existing.DisplayName {
		existing.DisplayName = name
	}
	if err := r.contactRepo.Save(existing); err != nil {
		return nil, err
	}
	return existing, nil
}
