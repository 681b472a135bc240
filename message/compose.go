package message

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Draft is a message to be composed, typically a draft being saved. Address
// fields hold RFC 5322 address lists. MessageID and InReplyTo include the
// angle brackets.
type Draft struct {
	From      string
	To        string
	CC        string
	BCC       string
	ReplyTo   string
	Subject   string
	MessageID string
	InReplyTo string
	Date      time.Time
	TextBody  string
	HTMLBody  string
}

func setAddressList(h *mail.Header, key, value string) error {
	if value == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(value)
	if err != nil {
		return fmt.Errorf("parsing %s addresses: %w", key, err)
	}
	h.SetAddressList(key, addrs)
	return nil
}

func bareMsgID(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(id, "<"), ">")
}

// Compose renders the draft as an RFC 5322 message. With both a text and an
// HTML body a multipart/alternative message is written.
func Compose(d Draft) ([]byte, error) {
	var h mail.Header
	if d.Date.IsZero() {
		d.Date = time.Now()
	}
	h.SetDate(d.Date)
	h.SetSubject(d.Subject)
	for _, f := range []struct{ key, value string }{
		{"From", d.From},
		{"To", d.To},
		{"Cc", d.CC},
		{"Bcc", d.BCC},
		{"Reply-To", d.ReplyTo},
	} {
		if err := setAddressList(&h, f.key, f.value); err != nil {
			return nil, err
		}
	}
	if d.MessageID != "" {
		h.SetMessageID(bareMsgID(d.MessageID))
	}
	if d.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{bareMsgID(d.InReplyTo)})
	}

	var buf bytes.Buffer
	bodies := []struct{ ct, body string }{}
	if d.TextBody != "" || d.HTMLBody == "" {
		bodies = append(bodies, struct{ ct, body string }{"text/plain; charset=utf-8", d.TextBody})
	}
	if d.HTMLBody != "" {
		bodies = append(bodies, struct{ ct, body string }{"text/html; charset=utf-8", d.HTMLBody})
	}

	if len(bodies) == 1 {
		h.Set("Content-Type", bodies[0].ct)
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("writing message: %w", err)
		}
		if _, err := io.WriteString(w, bodies[0].body); err != nil {
			return nil, fmt.Errorf("writing body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("finishing message: %w", err)
		}
		return buf.Bytes(), nil
	}

	w, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("writing message: %w", err)
	}
	iw, err := w.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("writing alternative parts: %w", err)
	}
	for _, b := range bodies {
		var ph mail.InlineHeader
		ph.Set("Content-Type", b.ct)
		pw, err := iw.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("writing part: %w", err)
		}
		if _, err := io.WriteString(pw, b.body); err != nil {
			return nil, fmt.Errorf("writing part body: %w", err)
		}
		if err := pw.Close(); err != nil {
			return nil, fmt.Errorf("finishing part: %w", err)
		}
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("finishing alternative parts: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finishing message: %w", err)
	}
	return buf.Bytes(), nil
}
