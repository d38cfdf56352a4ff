package mailing

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"
	"testing"
)

func testRenderer() *Renderer {
	return &Renderer{BaseURL: "https://mail.example.com"}
}

func testCampaign() *Campaign {
	return &Campaign{ID: 7, Name: "Launch", Subject: "Hello [[name]]"}
}

func testSubscriber() *Subscriber {
	return &Subscriber{ID: 42, Email: "jo@example.com", Name: "Jo", UnsubscribeToken: "tok-123"}
}

func TestRenderMergeTags(t *testing.T) {
	r := testRenderer()
	r.DisableTracking = true

	body := "<html><body>Hi [[name]] ({{email}}), bye {{name}}</body></html>"
	out := r.Render(body, testCampaign(), testSubscriber())

	if !strings.Contains(out, "Hi Jo (jo@example.com), bye Jo") {
		t.Errorf("merge tags not substituted: %s", out)
	}
}

func TestRenderUnsubscribeURLAlwaysSubstituted(t *testing.T) {
	r := testRenderer()
	r.DisableTracking = true

	out := r.Render(`<a href="[[unsubscribe_url]]">Unsubscribe</a>`, testCampaign(), testSubscriber())

	want := "https://mail.example.com/track?dwmp_track=unsubscribe&c=7&s=42&t=tok-123"
	if !strings.Contains(out, want) {
		t.Errorf("unsubscribe url missing even with tracking disabled:\n got %s\nwant %s", out, want)
	}
}

func TestRenderUnsubscribeURLNeedsIDsAndToken(t *testing.T) {
	r := testRenderer()
	r.DisableTracking = true
	body := `<a href="[[unsubscribe_url]]">Unsubscribe</a> {{unsubscribe_url}}`

	for _, tt := range []struct {
		name string
		c    *Campaign
		sub  *Subscriber
	}{
		{"no token", testCampaign(), &Subscriber{ID: 42, Email: "jo@example.com", Name: "Jo"}},
		{"no campaign id", &Campaign{Subject: "x"}, testSubscriber()},
		{"no subscriber id", testCampaign(), &Subscriber{Email: "jo@example.com", UnsubscribeToken: "tok-123"}},
	} {
		out := r.Render(body, tt.c, tt.sub)
		if !strings.Contains(out, "[[unsubscribe_url]]") || !strings.Contains(out, "{{unsubscribe_url}}") {
			t.Errorf("%s: placeholders should be left untouched: %s", tt.name, out)
		}
	}
}

func TestRenderSubject(t *testing.T) {
	r := testRenderer()
	got := r.RenderSubject("Hello [[name]]", testSubscriber(), testCampaign())
	if got != "Hello Jo" {
		t.Errorf("subject = %q, want %q", got, "Hello Jo")
	}
}

func TestRenderClickRewriteRoundTrip(t *testing.T) {
	r := testRenderer()
	original := "https://shop.example.com/sale?x=1&y=2"
	body := `<html><body><a href="` + original + `">Sale</a></body></html>`

	out := r.Render(body, testCampaign(), testSubscriber())

	m := regexp.MustCompile(`href="([^"]+)"`).FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no href in output: %s", out)
	}
	tracked, err := url.Parse(m[1])
	if err != nil {
		t.Fatalf("parse tracked url: %v", err)
	}
	if tracked.Path != "/track" || tracked.Query().Get("dwmp_track") != "click" {
		t.Errorf("link not rewritten to tracker: %s", m[1])
	}
	if tracked.Query().Get("c") != "7" || tracked.Query().Get("s") != "42" {
		t.Errorf("wrong ids in tracked url: %s", m[1])
	}

	decoded, err := base64.StdEncoding.DecodeString(tracked.Query().Get("u"))
	if err != nil {
		t.Fatalf("decode u: %v", err)
	}
	if string(decoded) != original {
		t.Errorf("u param round trip = %q, want %q", decoded, original)
	}
}

func TestRenderSkipsAlreadyTrackedLinks(t *testing.T) {
	r := testRenderer()
	link := "https://mail.example.com/track?dwmp_track=unsubscribe&c=7&s=42&t=tok-123"
	body := `<html><body><a href="` + link + `">Unsubscribe</a></body></html>`

	out := r.Render(body, testCampaign(), testSubscriber())

	if strings.Contains(out, "dwmp_track=click") {
		t.Errorf("tracker link was double-wrapped: %s", out)
	}
}

func TestRenderTrackingDisabled(t *testing.T) {
	r := testRenderer()
	r.DisableTracking = true
	body := `<html><body><a href="https://shop.example.com/">Sale</a></body></html>`

	out := r.Render(body, testCampaign(), testSubscriber())

	if strings.Contains(out, "dwmp_track=click") {
		t.Error("click rewrite should be suppressed")
	}
	if strings.Contains(out, "dwmp_track=open") {
		t.Error("open pixel should be suppressed")
	}
	if !strings.Contains(out, `href="https://shop.example.com/"`) {
		t.Errorf("original link should be untouched: %s", out)
	}
}

func TestRenderPixelBeforeBodyClose(t *testing.T) {
	r := testRenderer()
	out := r.Render("<html><BODY>Hi</BODY></html>", testCampaign(), testSubscriber())

	pixelIdx := strings.Index(out, "dwmp_track=open")
	closeIdx := strings.Index(strings.ToLower(out), "</body>")
	if pixelIdx < 0 {
		t.Fatalf("no pixel in output: %s", out)
	}
	if closeIdx < 0 || pixelIdx > closeIdx {
		t.Errorf("pixel should precede </body>: %s", out)
	}
}

func TestRenderPixelAppendedWithoutBodyTag(t *testing.T) {
	r := testRenderer()
	out := r.Render("just a fragment", testCampaign(), testSubscriber())

	if !strings.Contains(out, "dwmp_track=open") {
		t.Errorf("pixel should be appended to fragment: %s", out)
	}
	if !strings.HasPrefix(out, "just a fragment") {
		t.Errorf("fragment content should be preserved: %s", out)
	}
}

func TestRenderFooterOnlyWithProfile(t *testing.T) {
	r := testRenderer()
	r.DisableTracking = true
	body := "<html><body>Hi</body></html>"

	out := r.Render(body, testCampaign(), testSubscriber())
	if strings.Contains(out, "border-top") {
		t.Error("empty profile should produce no footer")
	}

	r.Profile = SenderProfile{CompanyName: "Acme Inc", PostalAddress: "1 Main St"}
	out = r.Render(body, testCampaign(), testSubscriber())
	if !strings.Contains(out, "Acme Inc") || !strings.Contains(out, "1 Main St") {
		t.Errorf("footer missing profile fields: %s", out)
	}
	footerIdx := strings.Index(out, "Acme Inc")
	closeIdx := strings.Index(out, "</body>")
	if footerIdx > closeIdx {
		t.Errorf("footer should precede </body>: %s", out)
	}
}

func TestRenderFooterLinksNotTracked(t *testing.T) {
	r := testRenderer()
	r.Profile = SenderProfile{WebsiteURL: "https://acme.example.com"}

	out := r.Render("<html><body>Hi</body></html>", testCampaign(), testSubscriber())

	if !strings.Contains(out, `href="https://acme.example.com"`) {
		t.Errorf("footer link should stay direct: %s", out)
	}
}

func TestRenderContentFilterAndOverride(t *testing.T) {
	r := testRenderer()
	r.DisableTracking = true
	r.ContentFilter = func(body string, c *Campaign, sub *Subscriber) string {
		return body + " filtered"
	}
	out := r.Render("Hi [[name]]", testCampaign(), testSubscriber())
	if !strings.Contains(out, "Hi Jo filtered") {
		t.Errorf("content filter not applied: %s", out)
	}

	r.Override = func(rendered string, c *Campaign, sub *Subscriber) string {
		return "replaced"
	}
	if got := r.Render("Hi", testCampaign(), testSubscriber()); got != "replaced" {
		t.Errorf("override not applied: %s", got)
	}
}
