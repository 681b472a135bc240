// Package message parses and composes email messages. Parsing produces an
// envelope and a flat tree of body parts with stable identifiers, stored next
// to the raw message so individual parts can be served as blobs later
// without reparsing.
package message

import (
	"strings"
)

// Part is a body part of a parsed message. The root part has an empty ID and
// holds no body itself, its SubParts are numbered "1", "2", etc in message
// order.
type Part struct {
	ID          string `json:",omitempty"`
	Type        string // Lower-case MIME type, e.g. "text/plain".
	Disposition string `json:",omitempty"` // "inline" or "attachment".
	Filename    string `json:",omitempty"`
	Size        int64
	Body        []byte `json:",omitempty"`
	SubParts    []Part `json:",omitempty"`
}

// Lookup returns the part with the given ID, or nil when absent. The empty ID
// is the part itself.
func (p *Part) Lookup(id string) *Part {
	if id == "" {
		return p
	}
	if p.ID == id {
		return p
	}
	for i := range p.SubParts {
		sp := &p.SubParts[i]
		if sp.ID == id || strings.HasPrefix(id, sp.ID+".") {
			return sp.Lookup(id)
		}
	}
	return nil
}
