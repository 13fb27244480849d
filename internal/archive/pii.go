package archive

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+?[0-9]{1,3}[-.\s]?)?\(?[0-9]{2,3}\)?[-.\s]?[0-9]{3,5}[-.\s]?[0-9]{4}`)
)

// HashEmail returns the hex-encoded SHA-256 hash of a normalized email.
func HashEmail(email string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("%x", h)
}

// ScrubPII replaces emails with [EMAIL] and phone numbers with [PHONE].
// Names are kept so archived events stay readable.
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}

// ScrubPayload replaces customer_email with customer_email_hash and scrubs
// free-text notes in an appointment event payload.
func ScrubPayload(raw json.RawMessage) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("archive: decode payload: %w", err)
	}
	if email, ok := doc["customer_email"].(string); ok {
		delete(doc, "customer_email")
		if email != "" {
			doc["customer_email_hash"] = HashEmail(email)
		}
	}
	if notes, ok := doc["notes"].(string); ok && notes != "" {
		doc["notes"] = ScrubPII(notes)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("archive: encode payload: %w", err)
	}
	return out, nil
}
