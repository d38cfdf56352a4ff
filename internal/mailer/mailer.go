// Package mailer sends rendered email through a pluggable delivery provider.
package mailer

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Message is one fully rendered email ready for delivery.
type Message struct {
	FromEmail string
	FromName  string
	ReplyTo   string
	To        string
	ToName    string
	Subject   string
	HTML      string
	Text      string // optional, derived from HTML when empty
	Headers   map[string]string
}

// SendResult reports the outcome of a single delivery attempt. Errors are
// returned per call, never stored on the sender.
type SendResult struct {
	MessageID string
	Provider  string
	Duration  time.Duration
}

// Sender delivers a single message. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*SendResult, error)
	Name() string
}

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	stylePattern  = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(style|script)>`)
	breakPattern  = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockPattern  = regexp.MustCompile(`(?i)</(p|div|tr|li|h[1-6])>`)
	spacesPattern = regexp.MustCompile(`[ \t]{2,}`)
	blankPattern  = regexp.MustCompile(`\n{3,}`)
)

// htmlToText derives a plain-text alternative from an HTML body.
func htmlToText(html string) string {
	text := stylePattern.ReplaceAllString(html, "")
	text = breakPattern.ReplaceAllString(text, "\n")
	text = blockPattern.ReplaceAllString(text, "\n")
	text = tagPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = spacesPattern.ReplaceAllString(text, " ")
	text = blankPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
