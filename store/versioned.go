package store

import (
	"fmt"
	"reflect"

	"github.com/mjl-/bstore"
)

// The functions in this file are the only way mutation code touches versioned
// records. They stamp modseqs and mtimes and they elide writes that would not
// change any visible field, so a transaction full of no-op updates allocates
// no modseq and publishes no new state.

// equalIgnoreStamps reports whether a and b are equal in all fields except
// the CreateSeq/ModSeq/Mtime bookkeeping. The tombstone flag is a visible
// field and is compared.
func equalIgnoreStamps[T any, P recordPtr[T]](a, b T) bool {
	am := P(&a).meta()
	bm := P(&b).meta()
	*bm.CreateSeq = *am.CreateSeq
	*bm.ModSeq = *am.ModSeq
	*bm.Mtime = *am.Mtime
	return reflect.DeepEqual(a, b)
}

// Create inserts v as a new live record, stamping its create and modification
// sequence with the transaction's modseq.
func Create[T any, P recordPtr[T]](tx *Tx, v P) error {
	if err := tx.active(); err != nil {
		return err
	}
	modseq, err := tx.dirty(recordType[T]())
	if err != nil {
		return err
	}
	m := v.meta()
	*m.CreateSeq = modseq
	*m.ModSeq = modseq
	*m.Mtime = tx.now
	*m.Deleted = false
	if err := tx.btx.Insert(v); err != nil {
		return fmt.Errorf("inserting %s: %w", recordType[T](), err)
	}
	return nil
}

// Insert stores a record without sync semantics, e.g. a RawMessage or File.
// No stamps are touched, callers set Mtime themselves.
func Insert(tx *Tx, v any) error {
	if err := tx.active(); err != nil {
		return err
	}
	if err := tx.btx.Insert(v); err != nil {
		return fmt.Errorf("inserting: %w", err)
	}
	return nil
}

// Update writes v without registering a change: the modseq is untouched and
// clients will not see the write through sync. Used for derived fields whose
// visible source of truth changed separately.
func Update[T any, P recordPtr[T]](tx *Tx, v P) error {
	if err := tx.active(); err != nil {
		return err
	}
	*v.meta().Mtime = tx.now
	if err := tx.btx.Update(v); err != nil {
		return fmt.Errorf("updating %s: %w", recordType[T](), err)
	}
	return nil
}

// UpdateIfChanged is Update, elided when v differs from orig only in
// bookkeeping fields. Returns whether a write happened.
func UpdateIfChanged[T any, P recordPtr[T]](tx *Tx, orig T, v P) (bool, error) {
	if err := tx.active(); err != nil {
		return false, err
	}
	if equalIgnoreStamps[T, P](orig, *v) {
		return false, nil
	}
	*v.meta().Mtime = tx.now
	if err := tx.btx.Update(v); err != nil {
		return false, fmt.Errorf("updating %s: %w", recordType[T](), err)
	}
	return true, nil
}

// MarkDirty writes v and stamps it with the transaction's modseq, making the
// change visible to syncing clients.
func MarkDirty[T any, P recordPtr[T]](tx *Tx, v P) error {
	if err := tx.active(); err != nil {
		return err
	}
	modseq, err := tx.dirty(recordType[T]())
	if err != nil {
		return err
	}
	m := v.meta()
	*m.ModSeq = modseq
	*m.Mtime = tx.now
	if err := tx.btx.Update(v); err != nil {
		return fmt.Errorf("updating %s: %w", recordType[T](), err)
	}
	return nil
}

// MarkDirtyIfChanged is MarkDirty, elided when v differs from orig only in
// bookkeeping fields. Any extra pointers receive the allocated modseq as
// well, for callers that mirror the stamp into another record. Returns
// whether a write happened.
func MarkDirtyIfChanged[T any, P recordPtr[T]](tx *Tx, orig T, v P, extra ...*ModSeq) (bool, error) {
	if err := tx.active(); err != nil {
		return false, err
	}
	if equalIgnoreStamps[T, P](orig, *v) {
		return false, nil
	}
	modseq, err := tx.dirty(recordType[T]())
	if err != nil {
		return false, err
	}
	m := v.meta()
	*m.ModSeq = modseq
	*m.Mtime = tx.now
	for _, x := range extra {
		*x = modseq
	}
	if err := tx.btx.Update(v); err != nil {
		return false, fmt.Errorf("updating %s: %w", recordType[T](), err)
	}
	return true, nil
}

// SoftDelete tombstones all live records matched by the filters qfn adds,
// stamping each with the transaction's modseq. Records already tombstoned are
// skipped, and no modseq is allocated when nothing matches. Returns the
// number of records tombstoned.
func SoftDelete[T any, P recordPtr[T]](tx *Tx, qfn func(q *bstore.Query[T])) (int, error) {
	if err := tx.active(); err != nil {
		return 0, err
	}
	q := bstore.QueryTx[T](tx.btx)
	if qfn != nil {
		qfn(q)
	}
	q.FilterEqual("Deleted", false)
	l, err := q.List()
	if err != nil {
		return 0, fmt.Errorf("listing %s for delete: %w", recordType[T](), err)
	}
	if len(l) == 0 {
		return 0, nil
	}
	modseq, err := tx.dirty(recordType[T]())
	if err != nil {
		return 0, err
	}
	for i := range l {
		v := P(&l[i])
		m := v.meta()
		*m.Deleted = true
		*m.ModSeq = modseq
		*m.Mtime = tx.now
		if err := tx.btx.Update(v); err != nil {
			return 0, fmt.Errorf("tombstoning %s: %w", recordType[T](), err)
		}
	}
	return len(l), nil
}

// HardDelete physically removes records matched by the filters qfn adds,
// tombstoned or not, without registering a change. Only for types without
// sync semantics and for storage reclamation.
func HardDelete[T any](tx *Tx, qfn func(q *bstore.Query[T])) (int, error) {
	if err := tx.active(); err != nil {
		return 0, err
	}
	q := bstore.QueryTx[T](tx.btx)
	if qfn != nil {
		qfn(q)
	}
	n, err := q.Delete()
	if err != nil {
		return 0, fmt.Errorf("deleting %s: %w", recordType[T](), err)
	}
	return n, nil
}

// Query returns a bstore query on the transaction for reads. Panics when the
// transaction is no longer usable.
func Query[T any](tx *Tx) *bstore.Query[T] {
	if tx.btx == nil {
		panic("query on closed transaction")
	}
	return bstore.QueryTx[T](tx.btx)
}
