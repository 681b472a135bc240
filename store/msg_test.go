package store

import (
	"errors"
	"testing"

	"golang.org/x/exp/slices"

	"github.com/mjl-/bstore"
)

func liveMemberships(t *testing.T, s *Store, messageID string) []string {
	t.Helper()
	var ids []string
	err := s.WithTx(ctxbg, func(tx *Tx) error {
		var err error
		ids, err = tx.liveMailboxIDs(messageID)
		return err
	})
	tcheck(t, err, "listing memberships")
	return ids
}

func getMessage(t *testing.T, s *Store, id string) Message {
	t.Helper()
	msg := Message{ID: id}
	err := s.Read(ctxbg, func(tx *bstore.Tx) error {
		return tx.Get(&msg)
	})
	tcheck(t, err, "get message")
	return msg
}

func TestChangeMessage(t *testing.T) {
	s := newTestStore(t, "change")
	mb := inbox(t, s)
	var archive Mailbox
	err := s.WithTx(ctxbg, func(tx *Tx) error {
		var err error
		archive, err = tx.MailboxByRole("archive")
		return err
	})
	tcheck(t, err, "resolving archive")

	deliver(t, s, Message{ID: "aaa", Unread: true}, mb.ID)

	// Marking seen clears unread and bumps the message.
	err = s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.ChangeMessage("aaa", []string{"seen"}, []string{mb.ID})
	})
	tcheck(t, err, "marking seen")
	msg := getMessage(t, s, "aaa")
	if msg.Unread || msg.Draft || msg.ModSeq != 4 {
		t.Fatalf("after seen: unread=%v draft=%v modseq=%d, expected false/false/4", msg.Unread, msg.Draft, msg.ModSeq)
	}

	// The same change again is a no-op and consumes no modseq.
	err = s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.ChangeMessage("aaa", []string{"seen"}, []string{mb.ID})
	})
	tcheck(t, err, "repeating change")
	states, err := s.States(ctxbg)
	tcheck(t, err, "states")
	if states[GroupEmail] != 4 {
		t.Fatalf("repeated change advanced email state to %d", states[GroupEmail])
	}

	// Moving to archive replaces the membership.
	err = s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.ChangeMessage("aaa", []string{"seen"}, []string{archive.ID})
	})
	tcheck(t, err, "moving to archive")
	if ids := liveMemberships(t, s, "aaa"); len(ids) != 1 || ids[0] != archive.ID {
		t.Fatalf("memberships after move %v, expected only archive", ids)
	}

	err = s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.ChangeMessage("nosuchmessage", nil, nil)
	})
	if !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("changing unknown message: got %v, expected ErrUnknownMessage", err)
	}
}

func TestAddRemoveMembership(t *testing.T) {
	s := newTestStore(t, "membership")
	mb := inbox(t, s)

	deliver(t, s, Message{ID: "aaa", Unread: true}, mb.ID)

	// Re-adding a live membership is a no-op.
	err := s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.AddToMailbox("aaa", mb.ID)
	})
	tcheck(t, err, "re-adding membership")
	states, err := s.States(ctxbg)
	tcheck(t, err, "states")
	if states[GroupEmail] != 3 || states[GroupMailbox] != 3 {
		t.Fatalf("re-add advanced states to %v", states)
	}

	// Removing tombstones the membership and bumps the message.
	err = s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.RemoveFromMailbox("aaa", mb.ID)
	})
	tcheck(t, err, "removing membership")
	if ids := liveMemberships(t, s, "aaa"); len(ids) != 0 {
		t.Fatalf("memberships after remove %v, expected none", ids)
	}
	if msg := getMessage(t, s, "aaa"); msg.ModSeq != 4 {
		t.Fatalf("message modseq after remove %d, expected 4", msg.ModSeq)
	}

	// Removing again is a no-op.
	err = s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.RemoveFromMailbox("aaa", mb.ID)
	})
	tcheck(t, err, "removing again")
	states, err = s.States(ctxbg)
	tcheck(t, err, "states")
	if states[GroupEmail] != 4 {
		t.Fatalf("repeated remove advanced email state to %d", states[GroupEmail])
	}

	// Re-adding revives the tombstoned membership.
	err = s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.AddToMailbox("aaa", mb.ID)
	})
	tcheck(t, err, "reviving membership")
	if ids := liveMemberships(t, s, "aaa"); len(ids) != 1 || ids[0] != mb.ID {
		t.Fatalf("memberships after revive %v, expected inbox", ids)
	}
}

func TestDeleteMessage(t *testing.T) {
	s := newTestStore(t, "delete")
	mb := inbox(t, s)

	deliver(t, s, Message{ID: "aaa", Unread: true}, mb.ID)

	err := s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.DeleteMessage("aaa")
	})
	tcheck(t, err, "deleting message")

	msg := getMessage(t, s, "aaa")
	if !msg.Deleted {
		t.Fatalf("message not tombstoned")
	}
	if ids := liveMemberships(t, s, "aaa"); len(ids) != 0 {
		t.Fatalf("memberships after delete %v, expected none", ids)
	}
	thr := Thread{ID: "aaa"}
	err = s.Read(ctxbg, func(tx *bstore.Tx) error { return tx.Get(&thr) })
	tcheck(t, err, "get thread")
	if !thr.Deleted || len(thr.MessageIDs) != 0 {
		t.Fatalf("thread after delete %+v, expected empty tombstone", thr)
	}

	// Tombstones sync as changes.
	msgs, err := ChangedSince[Message](ctxbg, s, 3)
	tcheck(t, err, "changed messages")
	if len(msgs) != 1 || !msgs[0].Deleted {
		t.Fatalf("changed messages after delete %v, expected one tombstone", msgs)
	}

	// Deleting again is a no-op.
	states, err := s.States(ctxbg)
	tcheck(t, err, "states")
	err = s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.DeleteMessage("aaa")
	})
	tcheck(t, err, "deleting again")
	states2, err := s.States(ctxbg)
	tcheck(t, err, "states")
	if states2[GroupEmail] != states[GroupEmail] {
		t.Fatalf("repeated delete advanced email state to %d", states2[GroupEmail])
	}
}

func TestAddMessageTwoMailboxes(t *testing.T) {
	s := newTestStore(t, "twomailboxes")
	mb := inbox(t, s)
	var archive Mailbox
	err := s.WithTx(ctxbg, func(tx *Tx) error {
		var err error
		archive, err = tx.MailboxByRole("archive")
		return err
	})
	tcheck(t, err, "resolving archive")

	deliver(t, s, Message{ID: "m1", ThreadID: "t1", Unread: true}, mb.ID, archive.ID)

	// One delivery to two mailboxes counts once in each.
	checkCounts(t, getMailbox(t, s, mb.ID), 1, 1, 1, 1)
	checkCounts(t, getMailbox(t, s, archive.ID), 1, 1, 1, 1)

	ids := liveMemberships(t, s, "m1")
	slices.Sort(ids)
	want := []string{mb.ID, archive.ID}
	slices.Sort(want)
	if !slices.Equal(ids, want) {
		t.Fatalf("memberships %v, expected %v", ids, want)
	}

	thr := getThread(t, s, "t1")
	if thr.Deleted || !slices.Equal(thr.MessageIDs, []string{"m1"}) {
		t.Fatalf("thread %v deleted=%v, expected just m1", thr.MessageIDs, thr.Deleted)
	}
}

func TestAddMessageNoMailboxes(t *testing.T) {
	s := newTestStore(t, "nomailboxes")

	err := s.WithTx(ctxbg, func(tx *Tx) error {
		return tx.AddMessage(Message{ID: "aaa"}, nil)
	})
	tcheck(t, err, "adding message without mailboxes")

	msg := Message{ID: "aaa"}
	err = s.Read(ctxbg, func(tx *bstore.Tx) error { return tx.Get(&msg) })
	if err != bstore.ErrAbsent {
		t.Fatalf("message without mailboxes was stored, err %v", err)
	}
}

func TestSoftDelete(t *testing.T) {
	s := newTestStore(t, "softdelete")
	mb := inbox(t, s)

	deliver(t, s, Message{ID: "m1", ThreadID: "t1", Unread: true}, mb.ID)
	deliver(t, s, Message{ID: "m2", ThreadID: "t1", Unread: true}, mb.ID)
	deliver(t, s, Message{ID: "m3", ThreadID: "t3", Unread: true}, mb.ID)

	// Tombstone all messages of one thread with a single modseq.
	err := s.WithTx(ctxbg, func(tx *Tx) error {
		n, err := SoftDelete[Message](tx, func(q *bstore.Query[Message]) {
			q.FilterNonzero(Message{ThreadID: "t1"})
		})
		if err != nil {
			return err
		}
		if n != 2 {
			t.Fatalf("tombstoned %d messages, expected 2", n)
		}
		live, err := Query[Message](tx).FilterEqual("Deleted", false).Count()
		if err != nil {
			return err
		}
		if live != 1 {
			t.Fatalf("%d live messages left, expected 1", live)
		}
		return nil
	})
	tcheck(t, err, "soft deleting thread")

	m1 := getMessage(t, s, "m1")
	m2 := getMessage(t, s, "m2")
	if !m1.Deleted || !m2.Deleted || m1.ModSeq != m2.ModSeq {
		t.Fatalf("tombstones %+v %+v, expected shared modseq", m1, m2)
	}

	// Nothing left to match: no write, no modseq.
	states, err := s.States(ctxbg)
	tcheck(t, err, "states")
	err = s.WithTx(ctxbg, func(tx *Tx) error {
		n, err := SoftDelete[Message](tx, func(q *bstore.Query[Message]) {
			q.FilterNonzero(Message{ThreadID: "t1"})
		})
		if n != 0 {
			t.Fatalf("second soft delete matched %d", n)
		}
		return err
	})
	tcheck(t, err, "repeating soft delete")
	states2, err := s.States(ctxbg)
	tcheck(t, err, "states")
	if states2[GroupEmail] != states[GroupEmail] {
		t.Fatalf("empty soft delete advanced email state to %d", states2[GroupEmail])
	}
}

func TestNotSupported(t *testing.T) {
	s := newTestStore(t, "notsupported")
	if err := s.UpdateMessages(); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("UpdateMessages: got %v, expected ErrNotSupported", err)
	}
	if err := s.DestroyMessages(); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("DestroyMessages: got %v, expected ErrNotSupported", err)
	}
	reported, notFound := s.ReportMessages([]string{"aaa"}, true)
	if len(reported) != 1 || len(notFound) != 0 {
		t.Fatalf("ReportMessages returned %v/%v", reported, notFound)
	}
}
