package store

import (
	"strings"
	"testing"
)

var testMsg = strings.ReplaceAll(`From: Alice <alice@example.org>
To: Bob <bob@example.org>
Subject: hello
Message-Id: <one@example.org>
Date: Mon, 1 Jan 2024 10:00:00 +0100
MIME-Version: 1.0
Content-Type: text/plain; charset=utf-8

hi bob
`, "\n", "\r\n")

var testReply = strings.ReplaceAll(`From: Bob <bob@example.org>
To: Alice <alice@example.org>
Subject: Re: hello
Message-Id: <two@example.org>
In-Reply-To: <one@example.org>
Date: Mon, 1 Jan 2024 11:00:00 +0100
MIME-Version: 1.0
Content-Type: text/plain; charset=utf-8

hi alice
`, "\n", "\r\n")

func importMsg(t *testing.T, s *Store, raw string, mailboxIDs ...string) Message {
	t.Helper()
	var msg Message
	err := s.WithTx(ctxbg, func(tx *Tx) error {
		var err error
		msg, err = tx.ImportMessage([]byte(raw), mailboxIDs, nil)
		return err
	})
	tcheck(t, err, "importing message")
	return msg
}

func TestImportMessage(t *testing.T) {
	s := newTestStore(t, "import")
	mb := inbox(t, s)

	msg := importMsg(t, s, testMsg, mb.ID)
	if msg.Subject != "hello" || msg.MessageID != "<one@example.org>" || !strings.Contains(msg.From, "alice@example.org") {
		t.Fatalf("unexpected envelope: %+v", msg)
	}
	if msg.ThreadID != msg.ID {
		t.Fatalf("first message did not start its own thread")
	}
	if !msg.Unread || msg.Draft {
		t.Fatalf("imported message unread=%v draft=%v, expected true/false", msg.Unread, msg.Draft)
	}

	// A reply joins the thread through In-Reply-To.
	reply := importMsg(t, s, testReply, mb.ID)
	if reply.ThreadID != msg.ThreadID {
		t.Fatalf("reply thread %s, expected %s", reply.ThreadID, msg.ThreadID)
	}
	if reply.SortSubject != "hello" {
		t.Fatalf("reply sort subject %q, expected %q", reply.SortSubject, "hello")
	}

	// Importing identical bytes returns the existing message and changes nothing.
	states, err := s.States(ctxbg)
	tcheck(t, err, "states")
	again := importMsg(t, s, testMsg, mb.ID)
	if again.ID != msg.ID {
		t.Fatalf("reimport created new message %s", again.ID)
	}
	states2, err := s.States(ctxbg)
	tcheck(t, err, "states")
	if states2[GroupEmail] != states[GroupEmail] {
		t.Fatalf("reimport advanced email state to %d", states2[GroupEmail])
	}

	// The raw message is available as blob, with and without part.
	blob, err := s.GetBlob(ctxbg, "m-"+msg.ID)
	tcheck(t, err, "get message blob")
	if blob.Type != "message/rfc822" || string(blob.Data) != testMsg {
		t.Fatalf("blob type %s, %d bytes, expected full raw message", blob.Type, len(blob.Data))
	}
	part, err := s.GetBlob(ctxbg, "m-"+msg.ID+"-1")
	tcheck(t, err, "get part blob")
	if part.Type != "text/plain" || !strings.Contains(string(part.Data), "hi bob") {
		t.Fatalf("part blob type %s data %q", part.Type, part.Data)
	}

	err = s.WithTx(ctxbg, func(tx *Tx) error {
		_, err := tx.ImportMessage([]byte(testMsg), nil, nil)
		return err
	})
	if err == nil {
		t.Fatalf("import without mailboxes did not fail")
	}
}
