package store

import (
	"reflect"
	"time"
)

// ModSeq is the per-account modification sequence. One value is allocated per
// transaction, lazily on the first effective mutation, and shared by every
// record the transaction dirties. Clients use modseqs for incremental sync:
// "give me changes since modseq S".
type ModSeq int64

// Group is an entity group for which the account publishes a state value.
// Clients synchronize per group.
type Group string

const (
	GroupEmail               Group = "Email"
	GroupThread              Group = "Thread"
	GroupMailbox             Group = "Mailbox"
	GroupCalendar            Group = "Calendar"
	GroupCalendarEvent       Group = "CalendarEvent"
	GroupContact             Group = "Contact"
	GroupContactGroup        Group = "ContactGroup"
	GroupClientPreferences   Group = "ClientPreferences"
	GroupCalendarPreferences Group = "CalendarPreferences"
)

var groups = []Group{GroupEmail, GroupThread, GroupMailbox, GroupCalendar, GroupCalendarEvent, GroupContact, GroupContactGroup, GroupClientPreferences, GroupCalendarPreferences}

// typeGroups maps a record type to the entity groups whose published state
// must advance when records of that type are dirtied in a transaction.
// RawMessage and File have no sync semantics and are absent.
var typeGroups = map[string][]Group{
	"Message":        {GroupEmail},
	"Thread":         {GroupThread},
	"Mailbox":        {GroupMailbox},
	"MessageMailbox": {GroupMailbox},
}

// recordType returns the name under which dirtied types are tracked, the Go
// type name, matching bstore's type name.
func recordType[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().Name()
}

// Meta is a view on the sync bookkeeping fields each versioned record
// carries: the modseq at creation, the modseq of the last change, the
// modification timestamp and the tombstone flag.
type Meta struct {
	CreateSeq *ModSeq
	ModSeq    *ModSeq
	Mtime     *time.Time
	Deleted   *bool
}

// record is implemented by all versioned record types.
type record interface {
	meta() Meta
}

// recordPtr is the constraint for the generic versioned operations: a pointer
// to a record struct.
type recordPtr[T any] interface {
	*T
	record
}

// Account is the singleton record of a store, ID 1. It holds the high-water
// modseq and the last-published state value per entity group. It is created
// implicitly on first access and never removed. The account is not itself a
// synced collection and carries no create/modseq stamps.
type Account struct {
	ID           int64 // Always 1.
	Email        string
	DisplayName  string
	PasswordHash string // bcrypt hash. Empty when no password has been set.

	// Highest modseq handed out. The next transaction that dirties a record gets
	// HighModSeq+1.
	HighModSeq ModSeq `bstore:"nonzero"`

	// Last-published state per entity group. A client that has synced up to state S
	// for a group fetches records of that group with ModSeq > S.
	StateEmail               ModSeq
	StateThread              ModSeq
	StateMailbox             ModSeq
	StateCalendar            ModSeq
	StateCalendarEvent       ModSeq
	StateContact             ModSeq
	StateContactGroup        ModSeq
	StateClientPreferences   ModSeq
	StateCalendarPreferences ModSeq

	Mtime time.Time
}

// state returns a pointer to the state slot for group.
func (a *Account) state(g Group) *ModSeq {
	switch g {
	case GroupEmail:
		return &a.StateEmail
	case GroupThread:
		return &a.StateThread
	case GroupMailbox:
		return &a.StateMailbox
	case GroupCalendar:
		return &a.StateCalendar
	case GroupCalendarEvent:
		return &a.StateCalendarEvent
	case GroupContact:
		return &a.StateContact
	case GroupContactGroup:
		return &a.StateContactGroup
	case GroupClientPreferences:
		return &a.StateClientPreferences
	case GroupCalendarPreferences:
		return &a.StateCalendarPreferences
	}
	panic("unknown entity group " + string(g))
}

// States returns the published state value for each entity group.
func (a Account) States() map[Group]ModSeq {
	m := map[Group]ModSeq{}
	for _, g := range groups {
		m[g] = *a.state(g)
	}
	return m
}

// Message is one logical email. A live message belongs to exactly one thread
// and to zero or more mailboxes through MessageMailbox records.
type Message struct {
	ID       string
	ThreadID string `bstore:"index"`

	SentAt      time.Time
	ReceivedAt  time.Time
	MessageHash []byte // SHA-1 of the raw message.

	Draft    bool
	Unread   bool
	Keywords []string // Sorted.

	// Envelope fields, addresses in RFC 5322 form, comma-separated.
	From      string
	To        string
	CC        string
	BCC       string
	ReplyTo   string
	Sender    string
	Subject   string
	InReplyTo string // Message-ID this message replies to, with <>.
	MessageID string `bstore:"index"` // Value of the Message-ID header, with <>.

	Size        int64
	SortSubject string // Subject normalized for sorting, without Re:/Fwd: prefixes.

	CreateSeq ModSeq
	ModSeq    ModSeq `bstore:"index"`
	Mtime     time.Time
	Deleted   bool
}

func (m *Message) meta() Meta {
	return Meta{&m.CreateSeq, &m.ModSeq, &m.Mtime, &m.Deleted}
}

// Thread is a materialized conversation: the ordered list of live member
// message IDs, recomputed on every membership-affecting mutation. A thread
// whose last message is removed is tombstoned with an empty list, never
// physically removed, so clients can sync the deletion.
type Thread struct {
	ID         string
	MessageIDs []string

	CreateSeq ModSeq
	ModSeq    ModSeq `bstore:"index"`
	Mtime     time.Time
	Deleted   bool
}

func (t *Thread) meta() Meta {
	return Meta{&t.CreateSeq, &t.ModSeq, &t.Mtime, &t.Deleted}
}

// Mailbox is a collection of messages, e.g. Inbox or Drafts. The counter
// fields are derived from the live message/membership set and are written
// only by the commit-time recomputation, never by mutation operations.
type Mailbox struct {
	ID        string
	ParentID  string
	Role      string `bstore:"index"` // E.g. "inbox", "drafts", "sent". Empty for regular mailboxes.
	Name      string `bstore:"nonzero"`
	SortOrder int64

	Subscribed bool

	MayReadItems   bool
	MayAddItems    bool
	MayRemoveItems bool
	MaySetSeen     bool
	MaySetKeywords bool
	MayCreateChild bool
	MayRename      bool
	MayDelete      bool
	MaySubmit      bool

	// Derived counters, correct as of the last commit.
	TotalEmails   int64
	UnreadEmails  int64
	TotalThreads  int64
	UnreadThreads int64

	CreateSeq ModSeq
	ModSeq    ModSeq `bstore:"index"`
	Mtime     time.Time
	Deleted   bool
}

func (mb *Mailbox) meta() Meta {
	return Meta{&mb.CreateSeq, &mb.ModSeq, &mb.Mtime, &mb.Deleted}
}

// MessageMailbox records membership of a message in a mailbox. A live
// membership implies the referenced message and mailbox are live.
type MessageMailbox struct {
	ID        int64
	MessageID string `bstore:"nonzero,unique MessageID+MailboxID"`
	MailboxID string `bstore:"nonzero,index"`

	CreateSeq ModSeq
	ModSeq    ModSeq `bstore:"index"`
	Mtime     time.Time
	Deleted   bool
}

func (mm *MessageMailbox) meta() Meta {
	return Meta{&mm.CreateSeq, &mm.ModSeq, &mm.Mtime, &mm.Deleted}
}

// RawMessage holds the raw bytes and parsed representation of a message,
// keyed by message ID but with a lifecycle independent from Message: it may
// be stored before the Message record exists and may outlive it. No sync
// semantics, so no modseq stamps; removal is physical.
type RawMessage struct {
	ID            string
	Raw           []byte
	Parsed        []byte // JSON-encoded message.Part tree.
	HasAttachment bool
	Mtime         time.Time
}

// File is an uploaded blob, referenced as "f-<id>". No sync semantics.
type File struct {
	ID      int64
	Type    string // MIME type.
	Size    int64
	Content []byte
	Expires time.Time
	Mtime   time.Time
	Deleted bool
}

// DBTypes are the types stored in the account database.
var DBTypes = []any{Account{}, Message{}, Thread{}, Mailbox{}, MessageMailbox{}, RawMessage{}, File{}}
