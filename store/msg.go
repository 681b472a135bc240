package store

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/mjl-/bstore"
)

// normalizeKeywords returns a sorted copy of kws without duplicates.
func normalizeKeywords(kws []string) []string {
	l := slices.Clone(kws)
	slices.Sort(l)
	return slices.Compact(l)
}

// AddMessage inserts msg as a new message with a membership in each of the
// given mailboxes and recomputes its thread. A message without mailboxes does
// not exist: with an empty mailboxIDs nothing happens. An empty ThreadID
// defaults to the message's own ID, starting a new thread.
func (tx *Tx) AddMessage(msg Message, mailboxIDs []string) error {
	if len(mailboxIDs) == 0 {
		return nil
	}
	if msg.ThreadID == "" {
		msg.ThreadID = msg.ID
	}
	msg.Keywords = normalizeKeywords(msg.Keywords)
	if err := Create(tx, &msg); err != nil {
		return err
	}
	for _, mbID := range mailboxIDs {
		if err := tx.AddToMailbox(msg.ID, mbID); err != nil {
			return err
		}
	}
	return tx.TouchThread(msg.ID)
}

// AddToMailbox makes the message a member of the mailbox, reviving an earlier
// tombstoned membership if there is one. Membership is part of the message
// object clients see, so the message is dirtied too. Adding an already live
// membership is a no-op.
func (tx *Tx) AddToMailbox(messageID, mailboxID string) error {
	if err := tx.active(); err != nil {
		return err
	}
	q := bstore.QueryTx[MessageMailbox](tx.btx)
	q.FilterNonzero(MessageMailbox{MessageID: messageID, MailboxID: mailboxID})
	mm, err := q.Get()
	if err == bstore.ErrAbsent {
		mm = MessageMailbox{MessageID: messageID, MailboxID: mailboxID}
		if err := Create(tx, &mm); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("get membership: %w", err)
	} else if !mm.Deleted {
		return nil
	} else {
		orig := mm
		mm.Deleted = false
		if _, err := MarkDirtyIfChanged(tx, orig, &mm); err != nil {
			return err
		}
	}
	tx.registerCounts(mailboxID)
	return tx.dirtyMessage(messageID)
}

// RemoveFromMailbox tombstones the message's membership in the mailbox.
// Removing an absent or already tombstoned membership is a no-op.
func (tx *Tx) RemoveFromMailbox(messageID, mailboxID string) error {
	if err := tx.active(); err != nil {
		return err
	}
	q := bstore.QueryTx[MessageMailbox](tx.btx)
	q.FilterNonzero(MessageMailbox{MessageID: messageID, MailboxID: mailboxID})
	mm, err := q.Get()
	if err == bstore.ErrAbsent {
		return nil
	} else if err != nil {
		return fmt.Errorf("get membership: %w", err)
	} else if mm.Deleted {
		return nil
	}
	orig := mm
	mm.Deleted = true
	if _, err := MarkDirtyIfChanged(tx, orig, &mm); err != nil {
		return err
	}
	tx.registerCounts(mailboxID)
	return tx.dirtyMessage(messageID)
}

// dirtyMessage stamps the message with the transaction's modseq after a
// membership change.
func (tx *Tx) dirtyMessage(messageID string) error {
	msg := Message{ID: messageID}
	err := tx.btx.Get(&msg)
	if err == bstore.ErrAbsent {
		return nil
	} else if err != nil {
		return fmt.Errorf("get message %s: %w", messageID, err)
	}
	return MarkDirty(tx, &msg)
}

// liveMailboxIDs returns the IDs of mailboxes the message is currently a
// member of.
func (tx *Tx) liveMailboxIDs(messageID string) ([]string, error) {
	q := bstore.QueryTx[MessageMailbox](tx.btx)
	q.FilterNonzero(MessageMailbox{MessageID: messageID})
	q.FilterEqual("Deleted", false)
	mms, err := q.List()
	if err != nil {
		return nil, fmt.Errorf("listing memberships of %s: %w", messageID, err)
	}
	ids := make([]string, len(mms))
	for i, mm := range mms {
		ids[i] = mm.MailboxID
	}
	return ids, nil
}

// ChangeMessage sets the message's keywords, deriving the draft and unread
// flags, and replaces its mailbox memberships with mailboxIDs, then
// recomputes its thread. Memberships not in mailboxIDs are tombstoned,
// missing ones created. When nothing actually changes, no modseq is consumed.
func (tx *Tx) ChangeMessage(messageID string, keywords []string, mailboxIDs []string) error {
	if err := tx.active(); err != nil {
		return err
	}
	msg := Message{ID: messageID}
	err := tx.btx.Get(&msg)
	if err == bstore.ErrAbsent {
		return ErrUnknownMessage
	} else if err != nil {
		return fmt.Errorf("get message %s: %w", messageID, err)
	}
	orig := msg
	msg.Keywords = normalizeKeywords(keywords)
	msg.Draft = slices.Contains(msg.Keywords, "draft")
	msg.Unread = !slices.Contains(msg.Keywords, "seen")
	bumped, err := MarkDirtyIfChanged(tx, orig, &msg)
	if err != nil {
		return err
	}

	oldIDs, err := tx.liveMailboxIDs(messageID)
	if err != nil {
		return err
	}
	old := map[string]bool{}
	for _, id := range oldIDs {
		old[id] = true
	}
	for _, id := range mailboxIDs {
		if old[id] {
			delete(old, id)
			// Still a member, but a flag change affects this mailbox's counters.
			if bumped {
				tx.registerCounts(id)
			}
			continue
		}
		if err := tx.AddToMailbox(messageID, id); err != nil {
			return err
		}
	}
	for id := range old {
		if err := tx.RemoveFromMailbox(messageID, id); err != nil {
			return err
		}
	}
	return tx.TouchThread(messageID)
}

// DeleteMessage tombstones the message and all its live memberships and
// recomputes its thread. Deleting an absent or already tombstoned message is
// a no-op.
func (tx *Tx) DeleteMessage(messageID string) error {
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
	orig := msg
	msg.Deleted = true
	if _, err := MarkDirtyIfChanged(tx, orig, &msg); err != nil {
		return err
	}
	oldIDs, err := tx.liveMailboxIDs(messageID)
	if err != nil {
		return err
	}
	for _, id := range oldIDs {
		if err := tx.RemoveFromMailbox(messageID, id); err != nil {
			return err
		}
	}
	return tx.TouchThread(messageID)
}

// ReportMessages marks messages as spam or not spam. Reporting currently has
// no effect on stored data: all requested IDs are acknowledged.
func (s *Store) ReportMessages(msgids []string, asSpam bool) (reported, notFound []string) {
	return msgids, nil
}

// UpdateMessages is recognized for API completeness but not implemented.
func (s *Store) UpdateMessages() error {
	return ErrNotSupported
}

// DestroyMessages is recognized for API completeness but not implemented.
func (s *Store) DestroyMessages() error {
	return ErrNotSupported
}
