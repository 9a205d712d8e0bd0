// Package backend defines the object model of the repository engine and
// the interface object storage backends implement.
package backend

import (
	"encoding/hex"
	"fmt"
)

// Ids are opaque byte strings of backend-defined length, held in string
// form so they are comparable and usable as map keys. Each object kind has
// its own id type; the namespaces are disjoint.

// CommitID identifies a commit.
type CommitID string

// ChangeID is the stable identity of a commit under rewrites.
type ChangeID string

// TreeID identifies a tree.
type TreeID string

// FileID identifies file contents.
type FileID string

// SymlinkID identifies a symlink target.
type SymlinkID string

// ConflictID identifies a stored conflict object.
type ConflictID string

// CopyID identifies the copy-tracking record of a file, when the backend
// records one. Empty when not tracked.
type CopyID string

func (id CommitID) Hex() string   { return hex.EncodeToString([]byte(id)) }
func (id ChangeID) Hex() string   { return hex.EncodeToString([]byte(id)) }
func (id TreeID) Hex() string     { return hex.EncodeToString([]byte(id)) }
func (id FileID) Hex() string     { return hex.EncodeToString([]byte(id)) }
func (id SymlinkID) Hex() string  { return hex.EncodeToString([]byte(id)) }
func (id ConflictID) Hex() string { return hex.EncodeToString([]byte(id)) }

// ParseHexID decodes a hex string into raw id bytes.
func ParseHexID(s string) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return raw, nil
}

// CommitIDFromHex parses a hex-encoded commit id.
func CommitIDFromHex(s string) (CommitID, error) {
	raw, err := ParseHexID(s)
	if err != nil {
		return "", err
	}
	return CommitID(raw), nil
}

// TreeIDFromHex parses a hex-encoded tree id.
func TreeIDFromHex(s string) (TreeID, error) {
	raw, err := ParseHexID(s)
	if err != nil {
		return "", err
	}
	return TreeID(raw), nil
}
