package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/mjl-/bstore"

	"github.com/mjl-/jstore/config"
	"github.com/mjl-/jstore/message"
)

// Blob IDs: "m-<msgid>" is a raw message, "m-<msgid>-<part>" one of its
// parts by dotted part ID, "f-<id>" an uploaded file. Message IDs are hex
// digests and never contain a dash.
var blobIDRegexp = regexp.MustCompile(`^([mf])-([^-]+)(?:-(.*))?$`)

// Blob is resolved blob content.
type Blob struct {
	Type string
	Data []byte
}

// GetBlob resolves a blob ID to its content, ErrUnknownBlob when it does not
// parse or nothing is stored under it.
func (s *Store) GetBlob(ctx context.Context, blobID string) (Blob, error) {
	m := blobIDRegexp.FindStringSubmatch(blobID)
	if m == nil {
		return Blob{}, ErrUnknownBlob
	}
	switch m[1] {
	case "f":
		id, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil || id <= 0 {
			return Blob{}, ErrUnknownBlob
		}
		return s.GetFile(ctx, id)
	case "m":
		return s.GetMessagePart(ctx, m[2], m[3])
	}
	return Blob{}, ErrUnknownBlob
}

// GetMessagePart returns a part of a stored raw message, or with an empty
// partID the full message.
func (s *Store) GetMessagePart(ctx context.Context, messageID, partID string) (Blob, error) {
	rm := RawMessage{ID: messageID}
	err := s.Read(ctx, func(tx *bstore.Tx) error {
		return tx.Get(&rm)
	})
	if err == bstore.ErrAbsent {
		return Blob{}, ErrUnknownBlob
	} else if err != nil {
		return Blob{}, fmt.Errorf("get raw message %s: %w", messageID, err)
	}
	if partID == "" {
		return Blob{Type: "message/rfc822", Data: rm.Raw}, nil
	}
	var root message.Part
	if err := json.Unmarshal(rm.Parsed, &root); err != nil {
		return Blob{}, fmt.Errorf("decoding part tree of %s: %w", messageID, err)
	}
	p := root.Lookup(partID)
	if p == nil {
		return Blob{}, ErrUnknownBlob
	}
	return Blob{Type: p.Type, Data: p.Body}, nil
}

// FileInfo describes a stored upload, in the form clients need to reference
// and fetch it.
type FileInfo struct {
	AccountID string
	BlobID    string
	Type      string
	Size      int64
	Expires   time.Time
	URL       string
}

// PutFile stores an uploaded blob, returning its blob ID and download URL.
func (s *Store) PutFile(ctx context.Context, contentType string, content []byte, expires time.Time) (FileInfo, error) {
	f := File{Type: contentType, Size: int64(len(content)), Content: content, Expires: expires}
	err := s.WithTx(ctx, func(tx *Tx) error {
		f.Mtime = tx.now
		return Insert(tx, &f)
	})
	if err != nil {
		return FileInfo{}, fmt.Errorf("storing file: %w", err)
	}
	return FileInfo{
		AccountID: s.Name,
		BlobID:    fmt.Sprintf("f-%d", f.ID),
		Type:      contentType,
		Size:      f.Size,
		Expires:   expires,
		URL:       fmt.Sprintf("https://%s/raw/%s/f-%d", config.Conf.Host, s.Name, f.ID),
	}, nil
}

// GetFile returns a stored upload by ID, ErrUnknownBlob when absent.
func (s *Store) GetFile(ctx context.Context, id int64) (Blob, error) {
	f := File{ID: id}
	err := s.Read(ctx, func(tx *bstore.Tx) error {
		return tx.Get(&f)
	})
	if err == bstore.ErrAbsent {
		return Blob{}, ErrUnknownBlob
	} else if err != nil {
		return Blob{}, fmt.Errorf("get file %d: %w", id, err)
	}
	return Blob{Type: f.Type, Data: f.Content}, nil
}

// ExpireFiles physically removes uploads whose expiry has passed. Uploads
// without expiry are kept. Returns the number removed.
func (s *Store) ExpireFiles(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		n, err = HardDelete[File](tx, func(q *bstore.Query[File]) {
			q.FilterFn(func(f File) bool {
				return !f.Expires.IsZero() && f.Expires.Before(now)
			})
		})
		return err
	})
	return n, err
}
