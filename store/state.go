package store

import (
	"context"
	"sync"

	"github.com/mjl-/bstore"

	"github.com/mjl-/jstore/metrics"
)

// StateChange describes a committed transaction to observers: the modseq it
// allocated and the groups whose published state advanced to it.
type StateChange struct {
	ModSeq ModSeq
	States map[Group]ModSeq
}

// Comm receives state changes for an opened store. Register with
// Store.RegisterComm, consume by reading from Pending and calling Get.
type Comm struct {
	// Receives a token after changes are added. Buffered with size 1: a lagging
	// consumer coalesces notifications, it never blocks commits.
	Pending chan struct{}

	store *Store

	sync.Mutex
	changes []StateChange
}

// RegisterComm adds an observer that is notified of each committed state
// change until Unregister is called.
func (s *Store) RegisterComm() *Comm {
	c := &Comm{
		Pending: make(chan struct{}, 1),
		store:   s,
	}
	s.commLock.Lock()
	defer s.commLock.Unlock()
	s.comms[c] = struct{}{}
	return c
}

// Unregister removes the observer. Pending changes not yet fetched are
// dropped.
func (c *Comm) Unregister() {
	c.store.commLock.Lock()
	defer c.store.commLock.Unlock()
	delete(c.store.comms, c)
}

// Get returns the state changes queued since the previous call.
func (c *Comm) Get() []StateChange {
	c.Lock()
	defer c.Unlock()
	l := c.changes
	c.changes = nil
	return l
}

func (s *Store) broadcast(ch StateChange) {
	s.commLock.Lock()
	defer s.commLock.Unlock()
	for c := range s.comms {
		c.Lock()
		c.changes = append(c.changes, ch)
		c.Unlock()
		select {
		case c.Pending <- struct{}{}:
		default:
		}
	}
	metrics.BroadcastInc()
}

// States returns the published state value per entity group.
func (s *Store) States(ctx context.Context) (map[Group]ModSeq, error) {
	var states map[Group]ModSeq
	err := s.Read(ctx, func(tx *bstore.Tx) error {
		a := Account{ID: 1}
		if err := tx.Get(&a); err != nil && err != bstore.ErrAbsent {
			return err
		} else if err == bstore.ErrAbsent {
			// Not provisioned yet, all states are at their initial value.
			for _, g := range groups {
				*a.state(g) = 1
			}
		}
		states = a.States()
		return nil
	})
	return states, err
}

// ChangedSince returns all records of type T changed after the given modseq,
// tombstones included, in modseq order. This is the workhorse of incremental
// sync: a client at state S for a group calls this per record type of the
// group.
func ChangedSince[T any](ctx context.Context, s *Store, since ModSeq) ([]T, error) {
	q := bstore.QueryDB[T](ctx, s.DB)
	q.FilterGreater("ModSeq", since)
	q.SortAsc("ModSeq")
	return q.List()
}
