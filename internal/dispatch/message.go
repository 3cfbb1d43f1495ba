package dispatch

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"outreach-engine/internal/rotation"
)

// Message is one outbound email, fully addressed and threaded.
type Message struct {
	From      rotation.Sender
	To        string
	Subject   string
	Body      string
	MessageID string
	InReplyTo string
}

var rePrefix = regexp.MustCompile(`(?i)^(re|fwd?)\s*:\s*`)

// replySubject prefixes Re: exactly once, whatever the inbound subject
// already carried.
func replySubject(subject string) string {
	for rePrefix.MatchString(subject) {
		subject = rePrefix.ReplaceAllString(subject, "")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Re:"
	}
	return "Re: " + subject
}

// newMessageID mints an RFC 5322 Message-ID under the sending domain.
func newMessageID(domain string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "<" + id + "@" + domain + ">"
}
