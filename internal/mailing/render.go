package mailing

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var hrefPattern = regexp.MustCompile(`href=["'](https?://[^"']+)["']`)

// Renderer personalizes campaign content for one recipient: merge tags,
// unsubscribe link, click tracking, open pixel and the sender footer.
type Renderer struct {
	// BaseURL is the public origin tracking links point at, without a
	// trailing slash.
	BaseURL string
	// DisableTracking suppresses click rewriting and the open pixel.
	// Unsubscribe links are still substituted.
	DisableTracking bool
	// Profile supplies the footer identity block. An empty profile emits
	// no footer.
	Profile SenderProfile
	// ContentFilter, when set, runs over the body after merge tags but
	// before tracking instrumentation.
	ContentFilter func(body string, c *Campaign, sub *Subscriber) string
	// Override, when set, replaces the whole rendered output.
	Override func(rendered string, c *Campaign, sub *Subscriber) string
}

// Render produces the final HTML body for one subscriber.
func (r *Renderer) Render(body string, c *Campaign, sub *Subscriber) string {
	out := r.substituteTags(body, sub, c)

	if r.ContentFilter != nil {
		out = r.ContentFilter(out, c, sub)
	}

	if !r.DisableTracking {
		out = r.rewriteLinks(out, c.ID, sub.ID)
	}

	if !r.Profile.Empty() {
		out = insertBeforeClose(out, r.footerHTML())
	}

	if !r.DisableTracking {
		out = insertBeforeClose(out, r.pixelHTML(c.ID, sub.ID))
	}

	if r.Override != nil {
		out = r.Override(out, c, sub)
	}
	return out
}

// RenderSubject substitutes merge tags in the subject line.
func (r *Renderer) RenderSubject(subject string, sub *Subscriber, c *Campaign) string {
	return r.substituteTags(subject, sub, c)
}

// UnsubscribeURL returns the token-gated unsubscribe link for a subscriber.
func (r *Renderer) UnsubscribeURL(campaignID int64, sub *Subscriber) string {
	return fmt.Sprintf("%s/track?dwmp_track=unsubscribe&c=%d&s=%d&t=%s",
		r.BaseURL, campaignID, sub.ID, url.QueryEscape(sub.UnsubscribeToken))
}

func (r *Renderer) substituteTags(text string, sub *Subscriber, c *Campaign) string {
	pairs := []string{
		"[[name]]", sub.Name,
		"{{name}}", sub.Name,
		"[[email]]", sub.Email,
		"{{email}}", sub.Email,
	}
	// The unsubscribe link needs campaign id, subscriber id and token; with
	// any missing the placeholders stay in the text rather than pointing at
	// a link that can never verify.
	if c.ID > 0 && sub.ID > 0 && sub.UnsubscribeToken != "" {
		unsub := r.UnsubscribeURL(c.ID, sub)
		pairs = append(pairs, "[[unsubscribe_url]]", unsub, "{{unsubscribe_url}}", unsub)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// rewriteLinks points every http(s) href at the click-tracking endpoint,
// carrying the original destination base64-encoded in the u parameter.
// Links already pointing at the tracker are left alone.
func (r *Renderer) rewriteLinks(body string, campaignID, subscriberID int64) string {
	return hrefPattern.ReplaceAllStringFunc(body, func(match string) string {
		sub := hrefPattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		target := sub[1]
		if strings.Contains(target, "dwmp_track=") {
			return match
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(target))
		tracked := fmt.Sprintf("%s/track?dwmp_track=click&c=%d&s=%d&u=%s",
			r.BaseURL, campaignID, subscriberID, url.QueryEscape(encoded))
		return strings.Replace(match, target, tracked, 1)
	})
}

func (r *Renderer) pixelHTML(campaignID, subscriberID int64) string {
	return fmt.Sprintf(`<img src="%s/track?dwmp_track=open&c=%d&s=%d" width="1" height="1" alt="" style="display:none;" />`,
		r.BaseURL, campaignID, subscriberID)
}

func (r *Renderer) footerHTML() string {
	var b strings.Builder
	b.WriteString(`<div style="margin-top:24px;padding-top:12px;border-top:1px solid #ddd;font-size:12px;color:#666;">`)
	if r.Profile.BrandName != "" || r.Profile.CompanyName != "" {
		name := r.Profile.BrandName
		if name == "" {
			name = r.Profile.CompanyName
		}
		b.WriteString("<p><strong>" + name + "</strong></p>")
	}
	if r.Profile.PostalAddress != "" {
		b.WriteString("<p>" + r.Profile.PostalAddress + "</p>")
	}
	if r.Profile.WebsiteURL != "" {
		b.WriteString(fmt.Sprintf(`<p><a href="%s">%s</a></p>`, r.Profile.WebsiteURL, r.Profile.WebsiteURL))
	}
	if r.Profile.SupportEmail != "" {
		b.WriteString(fmt.Sprintf(`<p><a href="mailto:%s">%s</a></p>`, r.Profile.SupportEmail, r.Profile.SupportEmail))
	}
	if r.Profile.FooterText != "" {
		b.WriteString("<p>" + r.Profile.FooterText + "</p>")
	}
	b.WriteString("</div>")
	return b.String()
}

// insertBeforeClose places fragment before </body>, falling back to </html>,
// falling back to appending.
func insertBeforeClose(body, fragment string) string {
	lower := strings.ToLower(body)
	if idx := strings.LastIndex(lower, "</body>"); idx >= 0 {
		return body[:idx] + fragment + body[idx:]
	}
	if idx := strings.LastIndex(lower, "</html>"); idx >= 0 {
		return body[:idx] + fragment + body[idx:]
	}
	return body + fragment
}
