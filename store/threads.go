package store

import (
	"fmt"

	"github.com/mjl-/bstore"
)

// TouchThread recomputes the canonical member list of the thread containing
// the given message and stores it, creating, reviving or tombstoning the
// thread record as needed. The message is looked up regardless of its
// tombstone: a just-deleted message still identifies the thread to fix up.
//
// Member order: non-drafts in creation order, each directly followed by the
// drafts replying to it (draft InReplyTo matching the member's Message-ID),
// then any remaining drafts. A recomputation that produces the same list is
// not written.
func (tx *Tx) TouchThread(messageID string) error {
	if err := tx.active(); err != nil {
		return err
	}
	msg := Message{ID: messageID}
	err := tx.btx.Get(&msg)
	if err == bstore.ErrAbsent {
		return nil
	} else if err != nil {
		return fmt.Errorf("get message %s: %w", messageID, err)
	}
	if msg.ThreadID == "" {
		return nil
	}

	q := bstore.QueryTx[Message](tx.btx)
	q.FilterNonzero(Message{ThreadID: msg.ThreadID})
	q.FilterEqual("Deleted", false)
	q.SortAsc("CreateSeq", "ID")
	members, err := q.List()
	if err != nil {
		return fmt.Errorf("listing messages of thread %s: %w", msg.ThreadID, err)
	}

	t := Thread{ID: msg.ThreadID}
	err = tx.btx.Get(&t)
	if err != nil && err != bstore.ErrAbsent {
		return fmt.Errorf("get thread %s: %w", msg.ThreadID, err)
	}
	absent := err == bstore.ErrAbsent

	if len(members) == 0 {
		// Last message gone. Tombstone the thread but keep the record so clients
		// sync the deletion.
		if absent {
			return nil
		}
		orig := t
		t.Deleted = true
		t.MessageIDs = nil
		_, err := MarkDirtyIfChanged(tx, orig, &t)
		return err
	}

	drafts := map[string][]string{}
	for _, m := range members {
		if m.Draft && m.InReplyTo != "" {
			drafts[m.InReplyTo] = append(drafts[m.InReplyTo], m.ID)
		}
	}

	ids := make([]string, 0, len(members))
	seen := map[string]bool{}
	add := func(id string) {
		if !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	for _, m := range members {
		if m.Draft {
			continue
		}
		add(m.ID)
		if m.MessageID != "" {
			for _, d := range drafts[m.MessageID] {
				add(d)
			}
		}
	}
	// Drafts not hanging off any member, e.g. replying to a deleted message, go
	// at the end.
	for _, m := range members {
		add(m.ID)
	}

	if absent {
		t = Thread{ID: msg.ThreadID, MessageIDs: ids}
		return Create(tx, &t)
	}
	orig := t
	t.MessageIDs = ids
	t.Deleted = false
	_, err = MarkDirtyIfChanged(tx, orig, &t)
	return err
}
