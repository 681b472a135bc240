package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/mjl-/jstore/config"
	"github.com/mjl-/jstore/message"
)

// DraftArgs describes one draft message to create.
type DraftArgs struct {
	Draft message.Draft // MessageID is generated, any value set is ignored.

	// Target mailboxes, values may be creation references resolved through the
	// idmap. Empty means the drafts-role mailbox.
	MailboxIDs []string

	Keywords []string // "draft" is always added.
}

// Created describes a successfully created draft.
type Created struct {
	ID       string
	ThreadID string
	BlobID   string
	Size     int64
}

// CreateDraftMessages composes and stores draft messages. Each draft gets a
// generated Message-ID and its own transaction: a failing item ends up in
// notCreated with the reason while the others are still created. Keys of
// args are client-chosen creation IDs, echoed in the result maps.
func (s *Store) CreateDraftMessages(ctx context.Context, args map[string]DraftArgs, idmap map[string]string) (created map[string]Created, notCreated map[string]string, rerr error) {
	created = map[string]Created{}
	notCreated = map[string]string{}
	if len(args) == 0 {
		return created, notCreated, nil
	}

	for cid, a := range args {
		err := s.WithTx(ctx, func(tx *Tx) error {
			d := a.Draft
			d.Date = tx.now
			d.MessageID = fmt.Sprintf("<%s.%d@%s>", uuid.New().String(), d.Date.Unix(), config.Conf.Host)
			raw, err := message.Compose(d)
			if err != nil {
				return err
			}

			var mailboxIDs []string
			for _, mbID := range a.MailboxIDs {
				if r, ok := idmap[mbID]; ok {
					mbID = r
				}
				mailboxIDs = append(mailboxIDs, mbID)
			}
			if len(mailboxIDs) == 0 {
				mb, err := tx.MailboxByRole("drafts")
				if err != nil {
					return fmt.Errorf("resolving drafts mailbox: %w", err)
				}
				mailboxIDs = []string{mb.ID}
			}

			kws := a.Keywords
			if !slices.Contains(kws, "draft") {
				kws = append(slices.Clone(kws), "draft")
			}

			msg, err := tx.ImportMessage(raw, mailboxIDs, kws)
			if err != nil {
				return err
			}
			created[cid] = Created{
				ID:       msg.ID,
				ThreadID: msg.ThreadID,
				BlobID:   "m-" + msg.ID,
				Size:     int64(len(raw)),
			}
			return nil
		})
		if err != nil {
			notCreated[cid] = err.Error()
		}
	}
	return created, notCreated, nil
}
