package store

import (
	"testing"

	"github.com/mjl-/bstore"
)

func getMailbox(t *testing.T, s *Store, id string) Mailbox {
	t.Helper()
	mb := Mailbox{ID: id}
	err := s.Read(ctxbg, func(tx *bstore.Tx) error { return tx.Get(&mb) })
	tcheck(t, err, "get mailbox")
	return mb
}

func checkCounts(t *testing.T, mb Mailbox, total, unread, threads, unreadThreads int64) {
	t.Helper()
	if mb.TotalEmails != total || mb.UnreadEmails != unread || mb.TotalThreads != threads || mb.UnreadThreads != unreadThreads {
		t.Fatalf("mailbox %s counts total=%d unread=%d threads=%d unreadthreads=%d, expected %d/%d/%d/%d",
			mb.Name, mb.TotalEmails, mb.UnreadEmails, mb.TotalThreads, mb.UnreadThreads, total, unread, threads, unreadThreads)
	}
}

func TestCounts(t *testing.T) {
	s := newTestStore(t, "counts")
	mb := inbox(t, s)

	// Two messages in one thread, one unread, plus an unread single-message
	// thread.
	deliver(t, s, Message{ID: "m1", ThreadID: "t1", Unread: true}, mb.ID)
	deliver(t, s, Message{ID: "m2", ThreadID: "t1"}, mb.ID)
	deliver(t, s, Message{ID: "m3", ThreadID: "t3", Unread: true}, mb.ID)

	checkCounts(t, getMailbox(t, s, mb.ID), 3, 2, 2, 2)

	// Marking m1 seen drops an unread, t1 no longer has an unread member so it
	// drops out of the thread counters too.
	err := s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.ChangeMessage("m1", []string{"seen"}, []string{mb.ID})
	})
	tcheck(t, err, "marking m1 seen")
	checkCounts(t, getMailbox(t, s, mb.ID), 3, 1, 1, 1)

	// Deleting m3 removes the last unread message, leaving only read threads.
	err = s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.DeleteMessage("m3")
	})
	tcheck(t, err, "deleting m3")
	checkCounts(t, getMailbox(t, s, mb.ID), 2, 0, 0, 0)

	// Counter recomputation that comes out unchanged does not bump the mailbox.
	before := getMailbox(t, s, mb.ID)
	var archiveID string
	err = s.WithTx(ctxbg, func(tx *Tx) error {
		tx.registerCounts(mb.ID)
		archiveID = mustMailbox(tx, "archive").ID
		// Dirty something else so the transaction has a modseq to hand out.
		return tx.AddMessage(Message{ID: "m4", ThreadID: "t4"}, []string{archiveID})
	})
	tcheck(t, err, "unrelated transaction")
	after := getMailbox(t, s, mb.ID)
	if after.ModSeq != before.ModSeq {
		t.Fatalf("inbox bumped from %d to %d without count change", before.ModSeq, after.ModSeq)
	}

	// Archive got a single read message, so it has the message but no unread
	// threads.
	checkCounts(t, getMailbox(t, s, archiveID), 1, 0, 0, 0)
}

func mustMailbox(tx *Tx, role string) Mailbox {
	mb, err := tx.MailboxByRole(role)
	if err != nil {
		panic(err)
	}
	return mb
}

func TestDeleteMailbox(t *testing.T) {
	s := newTestStore(t, "rmmailbox")
	mb := inbox(t, s)

	deliver(t, s, Message{ID: "m1", ThreadID: "t1", Unread: true}, mb.ID)

	err := s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.DeleteMailbox(mb.ID)
	})
	tcheck(t, err, "deleting mailbox")

	if !getMailbox(t, s, mb.ID).Deleted {
		t.Fatalf("mailbox not tombstoned")
	}
	if ids := liveMemberships(t, s, "m1"); len(ids) != 0 {
		t.Fatalf("memberships after mailbox delete %v, expected none", ids)
	}
	// The message itself survives, just mailbox-less.
	if msg := getMessage(t, s, "m1"); msg.Deleted {
		t.Fatalf("message tombstoned by mailbox delete")
	}

	mbs, err := s.Mailboxes(ctxbg)
	tcheck(t, err, "listing mailboxes")
	if len(mbs) != len(InitialMailboxes)-1 {
		t.Fatalf("got %d live mailboxes, expected %d", len(mbs), len(InitialMailboxes)-1)
	}
}
