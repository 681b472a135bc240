package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/mjl-/bstore"
)

// CreateMailbox adds a mailbox with a fresh ID and default permissions. Names
// are normalized to NFC. Live mailbox names must be unique, as must non-empty
// roles.
func (tx *Tx) CreateMailbox(name, role string, sortOrder int64) (Mailbox, error) {
	if err := tx.active(); err != nil {
		return Mailbox{}, err
	}
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return Mailbox{}, fmt.Errorf("empty mailbox name")
	}

	q := bstore.QueryTx[Mailbox](tx.btx)
	q.FilterNonzero(Mailbox{Name: name})
	q.FilterEqual("Deleted", false)
	if exists, err := q.Exists(); err != nil {
		return Mailbox{}, fmt.Errorf("checking mailbox name: %w", err)
	} else if exists {
		return Mailbox{}, fmt.Errorf("mailbox %q already exists", name)
	}
	if role != "" {
		q := bstore.QueryTx[Mailbox](tx.btx)
		q.FilterNonzero(Mailbox{Role: role})
		q.FilterEqual("Deleted", false)
		if exists, err := q.Exists(); err != nil {
			return Mailbox{}, fmt.Errorf("checking mailbox role: %w", err)
		} else if exists {
			return Mailbox{}, fmt.Errorf("mailbox with role %q already exists", role)
		}
	}

	mb := Mailbox{
		ID:             uuid.New().String(),
		Role:           role,
		Name:           name,
		SortOrder:      sortOrder,
		Subscribed:     true,
		MayReadItems:   true,
		MayAddItems:    true,
		MayRemoveItems: true,
		MaySetSeen:     true,
		MaySetKeywords: true,
		MayCreateChild: true,
		MayRename:      role == "",
		MayDelete:      role == "",
		MaySubmit:      true,
	}
	if err := Create(tx, &mb); err != nil {
		return Mailbox{}, err
	}
	return mb, nil
}

// DeleteMailbox tombstones the mailbox and removes all its live memberships,
// recomputing the affected threads. Messages whose last membership disappears
// simply end up in no mailbox; they are not deleted.
func (tx *Tx) DeleteMailbox(mailboxID string) error {
	if err := tx.active(); err != nil {
		return err
	}
	mb := Mailbox{ID: mailboxID}
	err := tx.btx.Get(&mb)
	if err == bstore.ErrAbsent {
		return ErrUnknownMailbox
	} else if err != nil {
		return fmt.Errorf("get mailbox %s: %w", mailboxID, err)
	}
	if mb.Deleted {
		return nil
	}

	q := bstore.QueryTx[MessageMailbox](tx.btx)
	q.FilterNonzero(MessageMailbox{MailboxID: mailboxID})
	q.FilterEqual("Deleted", false)
	mms, err := q.List()
	if err != nil {
		return fmt.Errorf("listing memberships of mailbox %s: %w", mailboxID, err)
	}
	for _, mm := range mms {
		if err := tx.RemoveFromMailbox(mm.MessageID, mailboxID); err != nil {
			return err
		}
		if err := tx.TouchThread(mm.MessageID); err != nil {
			return err
		}
	}

	orig := mb
	mb.Deleted = true
	_, err = MarkDirtyIfChanged(tx, orig, &mb)
	return err
}

// MailboxByRole returns the live mailbox with the given role, or
// ErrUnknownMailbox.
func (tx *Tx) MailboxByRole(role string) (Mailbox, error) {
	if err := tx.active(); err != nil {
		return Mailbox{}, err
	}
	q := bstore.QueryTx[Mailbox](tx.btx)
	q.FilterNonzero(Mailbox{Role: role})
	q.FilterEqual("Deleted", false)
	mb, err := q.Get()
	if err == bstore.ErrAbsent {
		return Mailbox{}, ErrUnknownMailbox
	}
	return mb, err
}

// MailboxByName returns the live mailbox with the given name, after NFC
// normalization, or ErrUnknownMailbox.
func (tx *Tx) MailboxByName(name string) (Mailbox, error) {
	if err := tx.active(); err != nil {
		return Mailbox{}, err
	}
	q := bstore.QueryTx[Mailbox](tx.btx)
	q.FilterNonzero(Mailbox{Name: norm.NFC.String(strings.TrimSpace(name))})
	q.FilterEqual("Deleted", false)
	mb, err := q.Get()
	if err == bstore.ErrAbsent {
		return Mailbox{}, ErrUnknownMailbox
	}
	return mb, err
}

// MailboxByID returns the live mailbox with the given ID, or
// ErrUnknownMailbox.
func (tx *Tx) MailboxByID(mailboxID string) (Mailbox, error) {
	if err := tx.active(); err != nil {
		return Mailbox{}, err
	}
	mb := Mailbox{ID: mailboxID}
	err := tx.btx.Get(&mb)
	if err == bstore.ErrAbsent || (err == nil && mb.Deleted) {
		return Mailbox{}, ErrUnknownMailbox
	}
	return mb, err
}

// Mailboxes returns all live mailboxes, by sort order then name.
func (s *Store) Mailboxes(ctx context.Context) ([]Mailbox, error) {
	q := bstore.QueryDB[Mailbox](ctx, s.DB)
	q.FilterEqual("Deleted", false)
	q.SortAsc("SortOrder", "Name")
	return q.List()
}
