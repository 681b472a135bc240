// Package store implements the versioned message store of an account: a
// transactional record store with per-account modseq change tracking,
// materialized threads, mailbox counters and published sync states per entity
// group. Data is kept in a bstore database per account.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mjl-/bstore"

	"github.com/mjl-/jstore/config"
	"github.com/mjl-/jstore/mlog"
)

var (
	// ErrTxClosed is returned for operations on a committed or rolled back
	// transaction.
	ErrTxClosed = errors.New("transaction no longer usable")

	// ErrNotSupported is returned for message operations that are recognized but
	// not implemented.
	ErrNotSupported = errors.New("operation not supported")

	ErrUnknownCredentials = errors.New("credentials not found")
	ErrUnknownBlob        = errors.New("no such blob")
	ErrUnknownMailbox     = errors.New("no such mailbox")
	ErrUnknownMessage     = errors.New("no such message")
)

var xlog = mlog.New("store")

// InitialMailboxes are created when an account store is first opened.
var InitialMailboxes = []Mailbox{
	{Name: "Inbox", Role: "inbox", SortOrder: 1},
	{Name: "Archive", Role: "archive", SortOrder: 2},
	{Name: "Drafts", Role: "drafts", SortOrder: 3},
	{Name: "Sent", Role: "sent", SortOrder: 4},
	{Name: "Trash", Role: "trash", SortOrder: 5},
	{Name: "Junk", Role: "junk", SortOrder: 6},
}

var openStores = struct {
	names map[string]*Store
	sync.Mutex
}{
	names: map[string]*Store{},
}

// Store is an opened account store. Only one instance is in memory per
// account name, with a reference count maintained by OpenAccount and Close.
type Store struct {
	Name string // Account name, used in file system paths.
	Dir  string // Directory holding the database and message files.
	DB   *bstore.DB

	log *mlog.Log

	sync.Mutex // Serializes transactions on the store.

	nused int // Reference count, protected by openStores.

	commLock sync.Mutex
	comms    map[*Comm]struct{}
}

// OpenAccount opens the store for the named account, returning a cached
// instance if the account is already open. A new account directory and
// database, with account record and initial mailboxes, are created on first
// open.
func OpenAccount(ctx context.Context, name string) (*Store, error) {
	if name == "" || strings.ContainsAny(name, "/\\\x00") {
		return nil, fmt.Errorf("invalid account name %q", name)
	}

	openStores.Lock()
	defer openStores.Unlock()
	if s, ok := openStores.names[name]; ok {
		s.nused++
		return s, nil
	}

	s, err := openAccount(ctx, name)
	if err != nil {
		return nil, err
	}
	s.nused++
	openStores.names[name] = s
	return s, nil
}

func openAccount(ctx context.Context, name string) (*Store, error) {
	dir := config.DataDirPath(filepath.Join("accounts", name))
	dbpath := filepath.Join(dir, "index.db")
	_, err := os.Stat(dbpath)
	isNew := err != nil && os.IsNotExist(err)
	if isNew {
		if err := os.MkdirAll(dir, 0770); err != nil {
			return nil, fmt.Errorf("creating account directory: %w", err)
		}
	}

	db, err := bstore.Open(ctx, dbpath, &bstore.Options{Timeout: 5 * time.Second, Perm: 0660}, DBTypes...)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{
		Name:  name,
		Dir:   dir,
		DB:    db,
		log:   xlog.Fields(mlog.Field("account", name)),
		comms: map[*Comm]struct{}{},
	}
	if isNew {
		if err := s.init(ctx); err != nil {
			xerr := db.Close()
			s.log.Check(xerr, "closing database after failed init")
			return nil, fmt.Errorf("initializing account: %w", err)
		}
	}
	return s, nil
}

// init provisions the account record and the initial mailboxes. Runs as a
// backfill transaction: there are no observers yet and nothing to notify.
func (s *Store) init(ctx context.Context) error {
	tx, err := s.BeginBackfill(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if tx != nil {
			xerr := tx.Rollback()
			s.log.Check(xerr, "rolling back account init")
		}
	}()

	if _, err := tx.Account(); err != nil {
		return err
	}
	for _, mb := range InitialMailboxes {
		if _, err := tx.CreateMailbox(mb.Name, mb.Role, mb.SortOrder); err != nil {
			return fmt.Errorf("creating mailbox %s: %w", mb.Name, err)
		}
	}
	err = tx.Commit()
	tx = nil
	return err
}

// Close decreases the reference count, closing the database when it reaches
// zero.
func (s *Store) Close() error {
	openStores.Lock()
	defer openStores.Unlock()
	s.nused--
	if s.nused > 0 {
		return nil
	}
	delete(openStores.names, s.Name)
	return s.DB.Close()
}

// Read runs fn in a read-only database transaction.
func (s *Store) Read(ctx context.Context, fn func(tx *bstore.Tx) error) error {
	return s.DB.Read(ctx, fn)
}

// SetPassword stores a bcrypt hash of password on the account record.
func (s *Store) SetPassword(ctx context.Context, password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("generating password hash: %w", err)
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		acc, err := tx.Account()
		if err != nil {
			return err
		}
		acc.PasswordHash = string(hash)
		return tx.updateAccount(&acc)
	})
}

// CheckPassword verifies password against the stored hash, returning
// ErrUnknownCredentials on mismatch or when no password is set.
func (s *Store) CheckPassword(ctx context.Context, password string) error {
	var hash string
	err := s.Read(ctx, func(tx *bstore.Tx) error {
		a := Account{ID: 1}
		if err := tx.Get(&a); err != nil {
			return err
		}
		hash = a.PasswordHash
		return nil
	})
	if err == bstore.ErrAbsent {
		return ErrUnknownCredentials
	} else if err != nil {
		return fmt.Errorf("get account record: %w", err)
	}
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrUnknownCredentials
	}
	return nil
}
