package store

import (
	"fmt"

	"github.com/mjl-/bstore"
)

// registerCounts schedules the mailbox for counter recomputation at commit.
// Mutation operations call this after an effective change to the mailbox's
// message set, they never write counters themselves.
func (tx *Tx) registerCounts(mailboxID string) {
	tx.countsPending[mailboxID] = struct{}{}
}

// recomputeCounts rewrites the derived counters of each registered mailbox
// from the live memberships and messages. A mailbox whose counters come out
// unchanged is not written and not published.
func (tx *Tx) recomputeCounts() error {
	for mbID := range tx.countsPending {
		mb := Mailbox{ID: mbID}
		err := tx.btx.Get(&mb)
		if err == bstore.ErrAbsent {
			continue
		} else if err != nil {
			return fmt.Errorf("get mailbox %s for counts: %w", mbID, err)
		}
		if mb.Deleted {
			continue
		}
		orig := mb

		q := bstore.QueryTx[MessageMailbox](tx.btx)
		q.FilterNonzero(MessageMailbox{MailboxID: mbID})
		q.FilterEqual("Deleted", false)
		mms, err := q.List()
		if err != nil {
			return fmt.Errorf("listing memberships of mailbox %s: %w", mbID, err)
		}

		var total, unread int64
		unreadThreads := map[string]struct{}{}
		for _, mm := range mms {
			msg := Message{ID: mm.MessageID}
			if err := tx.btx.Get(&msg); err != nil {
				return fmt.Errorf("get message %s for counts: %w", mm.MessageID, err)
			}
			if msg.Deleted {
				continue
			}
			total++
			if msg.Unread {
				unread++
				unreadThreads[msg.ThreadID] = struct{}{}
			}
		}

		// Thread counters only cover threads with an unread message in this
		// mailbox. A fully read thread does not count.
		mb.TotalEmails = total
		mb.UnreadEmails = unread
		mb.TotalThreads = int64(len(unreadThreads))
		mb.UnreadThreads = int64(len(unreadThreads))
		if _, err := MarkDirtyIfChanged(tx, orig, &mb); err != nil {
			return fmt.Errorf("storing counts of mailbox %s: %w", mbID, err)
		}
	}
	tx.countsPending = map[string]struct{}{}
	return nil
}
