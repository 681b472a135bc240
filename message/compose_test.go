package message

import (
	"strings"
	"testing"
	"time"
)

func TestComposeText(t *testing.T) {
	raw, err := Compose(Draft{
		From:      `"Alice" <alice@example.org>`,
		To:        "bob@example.org",
		Subject:   "hello",
		MessageID: "<gen@example.org>",
		InReplyTo: "<parent@example.org>",
		Date:      time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		TextBody:  "plain text body",
	})
	if err != nil {
		t.Fatalf("compose: %s", err)
	}

	env, root, hasAttachment, err := Parse(raw)
	if err != nil {
		t.Fatalf("parsing composed message: %s", err)
	}
	if env.Subject != "hello" || env.MessageID != "<gen@example.org>" || env.InReplyTo != "<parent@example.org>" {
		t.Fatalf("envelope %+v", env)
	}
	if !strings.Contains(env.From, "alice@example.org") {
		t.Fatalf("from %q", env.From)
	}
	if hasAttachment {
		t.Fatalf("text draft has attachment")
	}
	if len(root.SubParts) != 1 || root.SubParts[0].Type != "text/plain" || !strings.Contains(string(root.SubParts[0].Body), "plain text body") {
		t.Fatalf("parts %+v", root.SubParts)
	}
}

func TestComposeAlternative(t *testing.T) {
	raw, err := Compose(Draft{
		From:     "alice@example.org",
		To:       "bob@example.org",
		Subject:  "hello",
		TextBody: "text version",
		HTMLBody: "<p>html version</p>",
	})
	if err != nil {
		t.Fatalf("compose: %s", err)
	}

	_, root, _, err := Parse(raw)
	if err != nil {
		t.Fatalf("parsing composed message: %s", err)
	}
	if len(root.SubParts) != 2 {
		t.Fatalf("got %d parts, expected text and html", len(root.SubParts))
	}
	if root.SubParts[0].Type != "text/plain" || root.SubParts[1].Type != "text/html" {
		t.Fatalf("part types %s, %s", root.SubParts[0].Type, root.SubParts[1].Type)
	}
}

func TestComposeBadAddress(t *testing.T) {
	if _, err := Compose(Draft{From: "not an address", TextBody: "x"}); err == nil {
		t.Fatalf("compose with bad address did not fail")
	}
}
