package gmail

import (
	"encoding/base64"
	"regexp"
	"strings"
	"time"

	"mailsense-backend/internal/mail/domain"

	"github.com/emersion/go-message/mail"
	"google.golang.org/api/gmail/v1"
)

// maxPartDepth bounds the multipart tree walk so a hostile or broken
// message can never recurse without limit.
const maxPartDepth = 10

var (
	foldRe     = regexp.MustCompile(`\r?\n[ \t]+`)
	bareAddrRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// convertMessage resolves a raw provider message into the canonical parsed
// projection the rest of the pipeline consumes.
func convertMessage(msg *gmail.Message) *domain.ParsedMessage {
	parsed := &domain.ParsedMessage{
		ExternalID: msg.Id,
		ThreadID:   msg.ThreadId,
		IsRead:     true,
		Direction:  domain.DirectionIncoming,
	}

	for _, label := range msg.LabelIds {
		switch label {
		case "UNREAD":
			parsed.IsRead = false
		case "SENT":
			parsed.Direction = domain.DirectionOutgoing
		}
	}

	if msg.InternalDate > 0 {
		parsed.ReceivedAt = time.Unix(msg.InternalDate/1000, 0)
	}

	if msg.Payload == nil {
		return parsed
	}

	for _, h := range msg.Payload.Headers {
		value := unfold(h.Value)
		switch strings.ToLower(h.Name) {
		case "from":
			parsed.FromName, parsed.FromEmail = parseSender(value)
		case "to":
			parsed.To = splitAddressList(value)
		case "subject":
			parsed.Subject = decodeWord(value)
		case "date":
			if parsed.ReceivedAt.IsZero() {
				var dh mail.Header
				dh.Set("Date", value)
				if t, err := dh.Date(); err == nil {
					parsed.ReceivedAt = t
				}
			}
		case "list-unsubscribe":
			parsed.ListUnsubscribe = value
		case "list-unsubscribe-post":
			parsed.ListUnsubscribePost = strings.Contains(strings.ToLower(value), "one-click")
		}
	}
	if parsed.ReceivedAt.IsZero() {
		parsed.ReceivedAt = time.Now()
	}

	walkParts(msg.Payload, parsed, 0)
	return parsed
}

// walkParts searches the part tree for the first text/html and text/plain
// bodies and collects attachments, stopping at maxPartDepth.
func walkParts(part *gmail.MessagePart, parsed *domain.ParsedMessage, depth int) {
	if part == nil || depth > maxPartDepth {
		return
	}

	mimeType := strings.ToLower(part.MimeType)
	switch {
	case part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "":
		parsed.Attachments = append(parsed.Attachments, domain.Attachment{
			ID:       part.Body.AttachmentId,
			Name:     part.Filename,
			MimeType: part.MimeType,
			Size:     part.Body.Size,
		})
	case mimeType == "text/html" && parsed.BodyHTML == "":
		parsed.BodyHTML = decodeBody(part.Body)
	case mimeType == "text/plain" && parsed.BodyText == "":
		parsed.BodyText = decodeBody(part.Body)
	}

	for _, child := range part.Parts {
		walkParts(child, parsed, depth+1)
	}
}

// decodeBody decodes base64url part data, tolerating both padded and raw
// encodings. Undecodable data yields an empty string rather than an error;
// a single bad part must not sink the whole message.
func decodeBody(body *gmail.MessagePartBody) string {
	if body == nil || body.Data == "" {
		return ""
	}
	data, err := base64.URLEncoding.DecodeString(body.Data)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(body.Data)
	}
	if err != nil {
		return ""
	}
	return string(data)
}

// parseSender extracts a display name and address from a From header. The
// address parser handles RFC 2047 encoded names; when it fails we fall back
// to scanning for a bare address. A missing name defaults to the address.
func parseSender(value string) (name, email string) {
	var h mail.Header
	h.Set("From", value)
	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		name = strings.TrimSpace(addrs[0].Name)
		email = strings.ToLower(strings.TrimSpace(addrs[0].Address))
	}
	if email == "" {
		email = strings.ToLower(bareAddrRe.FindString(value))
	}
	if name == "" {
		name = email
	}
	return name, email
}

// splitAddressList pulls addresses out of a To/Cc header, tolerating
// malformed entries by extracting anything shaped like an address.
func splitAddressList(value string) []string {
	var h mail.Header
	h.Set("To", value)
	if addrs, err := h.AddressList("To"); err == nil && len(addrs) > 0 {
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, strings.ToLower(strings.TrimSpace(a.Address)))
		}
		return out
	}
	matches := bareAddrRe.FindAllString(value, -1)
	for i, m := range matches {
		matches[i] = strings.ToLower(m)
	}
	return matches
}

// decodeWord decodes RFC 2047 encoded-words in a header value, returning the
// raw value when decoding fails.
func decodeWord(value string) string {
	var h mail.Header
	h.Set("Subject", value)
	if decoded, err := h.Text("Subject"); err == nil && decoded != "" {
		return decoded
	}
	return value
}

// unfold collapses folded header continuation lines into single spaces.
func unfold(value string) string {
	return strings.TrimSpace(foldRe.ReplaceAllString(value, " "))
}
