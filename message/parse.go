package message

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Envelope holds the header fields of a message that the store indexes.
// Address lists are in RFC 5322 form, comma-separated. Message-IDs include
// the angle brackets.
type Envelope struct {
	From      string
	To        string
	CC        string
	BCC       string
	ReplyTo   string
	Sender    string
	Subject   string
	MessageID string
	InReplyTo string
	SentAt    time.Time
}

func addressList(h mail.Header, key string) string {
	addrs, err := h.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return ""
	}
	l := make([]string, len(addrs))
	for i, a := range addrs {
		l[i] = a.String()
	}
	return strings.Join(l, ", ")
}

func msgID(h mail.Header, key string) string {
	var id string
	if key == "Message-Id" {
		id, _ = h.MessageID()
	} else {
		ids, err := h.MsgIDList(key)
		if err != nil || len(ids) == 0 {
			return ""
		}
		id = ids[0]
	}
	if id == "" {
		return ""
	}
	return "<" + id + ">"
}

// Parse reads a raw message, returning its envelope, the part tree and
// whether any part is an attachment. Bad header fields are tolerated: the
// corresponding envelope fields stay empty.
func Parse(raw []byte) (Envelope, Part, bool, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Envelope{}, Part{}, false, fmt.Errorf("reading message: %w", err)
	}

	h := mr.Header
	env := Envelope{
		From:      addressList(h, "From"),
		To:        addressList(h, "To"),
		CC:        addressList(h, "Cc"),
		BCC:       addressList(h, "Bcc"),
		ReplyTo:   addressList(h, "Reply-To"),
		Sender:    addressList(h, "Sender"),
		MessageID: msgID(h, "Message-Id"),
		InReplyTo: msgID(h, "In-Reply-To"),
	}
	env.Subject, _ = h.Subject()
	env.SentAt, _ = h.Date()

	root := Part{Type: "message/rfc822", Size: int64(len(raw))}
	hasAttachment := false
	for i := 1; ; i++ {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return Envelope{}, Part{}, false, fmt.Errorf("reading part %d: %w", i, err)
		}
		body, err := io.ReadAll(p.Body)
		if err != nil {
			return Envelope{}, Part{}, false, fmt.Errorf("reading part %d body: %w", i, err)
		}
		part := Part{
			ID:   fmt.Sprintf("%d", i),
			Size: int64(len(body)),
			Body: body,
		}
		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			part.Type = strings.ToLower(ct)
			part.Disposition = "inline"
		case *mail.AttachmentHeader:
			ct, _, _ := ph.ContentType()
			part.Type = strings.ToLower(ct)
			part.Disposition = "attachment"
			part.Filename, _ = ph.Filename()
			hasAttachment = true
		}
		if part.Type == "" {
			part.Type = "application/octet-stream"
		}
		root.SubParts = append(root.SubParts, part)
	}
	return env, root, hasAttachment, nil
}

// SortSubject normalizes a subject for sorting and threading: reply/forward
// prefixes and bracketed list tags are stripped and the rest lower-cased.
func SortSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		var stripped bool
		for _, pre := range []string{"re:", "fwd:", "fw:"} {
			if strings.HasPrefix(lower, pre) {
				s = strings.TrimSpace(s[len(pre):])
				stripped = true
				break
			}
		}
		if !stripped && strings.HasPrefix(s, "[") {
			if i := strings.Index(s, "]"); i > 0 {
				s = strings.TrimSpace(s[i+1:])
				stripped = true
			}
		}
		if !stripped {
			break
		}
	}
	return strings.ToLower(s)
}
