package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mjl-/bstore"

	"github.com/mjl-/jstore/metrics"
)

// Tx is a read-write transaction on a store. All mutations in a transaction
// share one lazily allocated modseq. At commit, mailbox counters are
// recomputed for touched mailboxes, the per-group states on the account are
// advanced and observers are notified. Transactions on a store are serialized.
type Tx struct {
	store    *Store
	btx      *bstore.Tx
	now      time.Time
	backfill bool

	// Modseq for this transaction, 0 until the first effective mutation.
	modseq ModSeq

	// Record types dirtied so far. Determines which group states advance at commit.
	dirtyTypes map[string]struct{}

	// Mailbox IDs whose counters must be recomputed at commit.
	countsPending map[string]struct{}

	committed bool
}

// Begin starts a read-write transaction, blocking until it is the only one on
// the store. The caller must end it with Commit or Rollback.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	return s.begin(ctx, false)
}

// BeginBackfill is Begin for transactions that replay historical data:
// commits still advance modseqs and states but do not notify observers.
func (s *Store) BeginBackfill(ctx context.Context) (*Tx, error) {
	return s.begin(ctx, true)
}

func (s *Store) begin(ctx context.Context, backfill bool) (*Tx, error) {
	s.Lock()
	btx, err := s.DB.Begin(ctx, true)
	if err != nil {
		s.Unlock()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{
		store:         s,
		btx:           btx,
		now:           time.Now(),
		backfill:      backfill,
		dirtyTypes:    map[string]struct{}{},
		countsPending: map[string]struct{}{},
	}, nil
}

// WithTx runs fn in a transaction, committing when fn returns nil and rolling
// back otherwise. A panic in fn rolls back before propagating.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if x := recover(); x != nil {
			metrics.PanicInc("store")
			if tx.btx != nil {
				xerr := tx.Rollback()
				s.log.Check(xerr, "rolling back after panic")
			}
			panic(x)
		}
	}()
	if err := fn(tx); err != nil {
		if xerr := tx.Rollback(); xerr != nil {
			s.log.Check(xerr, "rolling back transaction")
		}
		return err
	}
	return tx.Commit()
}

func (tx *Tx) active() error {
	if tx.btx == nil {
		return ErrTxClosed
	}
	return nil
}

// dirty registers that a record of typeName changed, allocating the
// transaction's modseq on first use by advancing the account's high-water
// mark. Returns the transaction modseq.
func (tx *Tx) dirty(typeName string) (ModSeq, error) {
	if tx.modseq == 0 {
		acc, err := tx.Account()
		if err != nil {
			return 0, err
		}
		acc.HighModSeq++
		if err := tx.updateAccount(&acc); err != nil {
			return 0, fmt.Errorf("advancing modseq: %w", err)
		}
		tx.modseq = acc.HighModSeq
		metrics.ModSeqInc()
	}
	tx.dirtyTypes[typeName] = struct{}{}
	return tx.modseq, nil
}

// ModSeq returns the modseq allocated to this transaction, 0 when no
// effective mutation has happened yet.
func (tx *Tx) ModSeq() ModSeq {
	return tx.modseq
}

// Account returns the singleton account record, creating it with initial
// state values on first access.
func (tx *Tx) Account() (Account, error) {
	if err := tx.active(); err != nil {
		return Account{}, err
	}
	a := Account{ID: 1}
	err := tx.btx.Get(&a)
	if err == bstore.ErrAbsent {
		a = Account{ID: 1, Email: tx.store.Name, DisplayName: tx.store.Name, HighModSeq: 1, Mtime: tx.now}
		for _, g := range groups {
			*a.state(g) = 1
		}
		if err := tx.btx.Insert(&a); err != nil {
			return Account{}, fmt.Errorf("provisioning account record: %w", err)
		}
		return a, nil
	} else if err != nil {
		return Account{}, fmt.Errorf("get account record: %w", err)
	}
	return a, nil
}

func (tx *Tx) updateAccount(a *Account) error {
	a.Mtime = tx.now
	return tx.btx.Update(a)
}

// Commit finishes the transaction: recompute counters for touched mailboxes,
// advance per-group states for the dirtied record types, notify observers
// (unless backfilling) and make everything durable. Without effective
// mutations commit is cheap and publishes nothing.
func (tx *Tx) Commit() error {
	if err := tx.active(); err != nil {
		return err
	}
	err := tx.commit()
	if err != nil {
		if !tx.committed {
			if xerr := tx.btx.Rollback(); xerr != nil {
				tx.store.log.Check(xerr, "rolling back after failed commit")
			}
		}
		tx.finish("error")
		return err
	}
	tx.finish("commit")
	return nil
}

func (tx *Tx) commit() error {
	if err := tx.recomputeCounts(); err != nil {
		return err
	}
	var change StateChange
	if tx.modseq > 0 && len(tx.dirtyTypes) > 0 {
		acc, err := tx.Account()
		if err != nil {
			return err
		}
		change = StateChange{ModSeq: tx.modseq, States: map[Group]ModSeq{}}
		for name := range tx.dirtyTypes {
			for _, g := range typeGroups[name] {
				change.States[g] = tx.modseq
				*acc.state(g) = tx.modseq
			}
		}
		if len(change.States) > 0 {
			if err := tx.updateAccount(&acc); err != nil {
				return fmt.Errorf("publishing states: %w", err)
			}
		}
	}
	// Observers are poked just before the states become durable, so a woken
	// client reads at least this state.
	if !tx.backfill && len(change.States) > 0 {
		tx.store.broadcast(change)
	}
	if err := tx.btx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	tx.committed = true
	return nil
}

// Rollback ends the transaction, discarding all mutations including the
// allocated modseq.
func (tx *Tx) Rollback() error {
	if err := tx.active(); err != nil {
		return err
	}
	err := tx.btx.Rollback()
	tx.finish("rollback")
	return err
}

func (tx *Tx) finish(result string) {
	tx.btx = nil
	metrics.TransactionInc(result)
	tx.store.Unlock()
}
