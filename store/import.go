package store

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/mjl-/bstore"

	"github.com/mjl-/jstore/message"
)

// ImportMessage parses raw and stores it: the bytes and part tree as
// RawMessage, and an indexed Message with a membership in each mailbox,
// linked into its thread. The message ID is the hex SHA-1 of the raw bytes,
// so importing the same bytes twice returns the existing message unchanged.
// At least one mailbox is required.
func (tx *Tx) ImportMessage(raw []byte, mailboxIDs []string, keywords []string) (Message, error) {
	if err := tx.active(); err != nil {
		return Message{}, err
	}
	if len(mailboxIDs) == 0 {
		return Message{}, fmt.Errorf("message must be delivered to at least one mailbox")
	}

	sum := sha1.Sum(raw)
	id := hex.EncodeToString(sum[:])

	existing := Message{ID: id}
	err := tx.btx.Get(&existing)
	if err == nil {
		return existing, nil
	} else if err != bstore.ErrAbsent {
		return Message{}, fmt.Errorf("get message %s: %w", id, err)
	}

	env, root, hasAttachment, err := message.Parse(raw)
	if err != nil {
		return Message{}, fmt.Errorf("parsing message: %w", err)
	}
	parsed, err := json.Marshal(root)
	if err != nil {
		return Message{}, fmt.Errorf("encoding part tree: %w", err)
	}
	rm := RawMessage{ID: id, Raw: raw, Parsed: parsed, HasAttachment: hasAttachment, Mtime: tx.now}
	if err := Insert(tx, &rm); err != nil {
		return Message{}, fmt.Errorf("storing raw message: %w", err)
	}

	kws := normalizeKeywords(keywords)
	msg := Message{
		ID:          id,
		ThreadID:    tx.threadIDFor(env),
		SentAt:      env.SentAt,
		ReceivedAt:  tx.now,
		MessageHash: sum[:],
		Draft:       slices.Contains(kws, "draft"),
		Unread:      !slices.Contains(kws, "seen"),
		Keywords:    kws,
		From:        env.From,
		To:          env.To,
		CC:          env.CC,
		BCC:         env.BCC,
		ReplyTo:     env.ReplyTo,
		Sender:      env.Sender,
		Subject:     env.Subject,
		InReplyTo:   env.InReplyTo,
		MessageID:   env.MessageID,
		Size:        int64(len(raw)),
		SortSubject: message.SortSubject(env.Subject),
	}
	if msg.ThreadID == "" {
		msg.ThreadID = msg.ID
	}
	if err := tx.AddMessage(msg, mailboxIDs); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// threadIDFor finds the thread a new message belongs to: the thread of the
// live message its In-Reply-To points at, otherwise empty for a new thread.
func (tx *Tx) threadIDFor(env message.Envelope) string {
	if env.InReplyTo == "" {
		return ""
	}
	q := bstore.QueryTx[Message](tx.btx)
	q.FilterNonzero(Message{MessageID: env.InReplyTo})
	q.FilterEqual("Deleted", false)
	q.SortAsc("CreateSeq")
	q.Limit(1)
	l, err := q.List()
	if err != nil || len(l) == 0 {
		return ""
	}
	return l[0].ThreadID
}
