package local

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/merge"
)

// Objects are stored as protobuf-style frames, encoded field by field in a
// fixed order so the same object always produces the same bytes.

func appendTreeValue(b []byte, v backend.TreeValue) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.Kind))
	var id string
	switch v.Kind {
	case backend.TreeValueFile:
		id = string(v.File)
	case backend.TreeValueSymlink:
		id = string(v.Symlink)
	case backend.TreeValueTree:
		id = string(v.Tree)
	case backend.TreeValueConflict:
		id = string(v.Conflict)
	}
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(id))
	if v.Executable {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if v.Copy != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(v.Copy))
	}
	return b
}

func consumeTreeValue(b []byte) (backend.TreeValue, error) {
	var v backend.TreeValue
	var id []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return v, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			kind, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, protowire.ParseError(n)
			}
			v.Kind = backend.TreeValueKind(kind)
			b = b[n:]
		case 2:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, protowire.ParseError(n)
			}
			id = raw
			b = b[n:]
		case 3:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, protowire.ParseError(n)
			}
			v.Executable = x != 0
			b = b[n:]
		case 4:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, protowire.ParseError(n)
			}
			v.Copy = backend.CopyID(raw)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return v, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	switch v.Kind {
	case backend.TreeValueFile:
		v.File = backend.FileID(id)
	case backend.TreeValueSymlink:
		v.Symlink = backend.SymlinkID(id)
	case backend.TreeValueTree:
		v.Tree = backend.TreeID(id)
	case backend.TreeValueConflict:
		v.Conflict = backend.ConflictID(id)
	default:
		return v, fmt.Errorf("unknown tree value kind %d", v.Kind)
	}
	return v, nil
}

func encodeTree(t *backend.Tree) []byte {
	var b []byte
	for _, entry := range t.Entries() {
		var e []byte
		e = protowire.AppendTag(e, 1, protowire.BytesType)
		e = protowire.AppendString(e, entry.Name)
		e = protowire.AppendTag(e, 2, protowire.BytesType)
		e = protowire.AppendBytes(e, appendTreeValue(nil, entry.Value))
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

func decodeTree(b []byte) (*backend.Tree, error) {
	tree := backend.NewTree()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if num != 1 {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		entryBytes, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		var name string
		var value backend.TreeValue
		e := entryBytes
		for len(e) > 0 {
			fnum, ftyp, n := protowire.ConsumeTag(e)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			e = e[n:]
			switch fnum {
			case 1:
				s, n := protowire.ConsumeString(e)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				name = s
				e = e[n:]
			case 2:
				raw, n := protowire.ConsumeBytes(e)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				v, err := consumeTreeValue(raw)
				if err != nil {
					return nil, err
				}
				value = v
				e = e[n:]
			default:
				n := protowire.ConsumeFieldValue(fnum, ftyp, e)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				e = e[n:]
			}
		}
		tree.Set(name, value)
	}
	return tree, nil
}

func encodeConflict(c *backend.Conflict) []byte {
	var b []byte
	for _, v := range c.Removes {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTreeValue(nil, v))
	}
	for _, v := range c.Adds {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTreeValue(nil, v))
	}
	return b
}

func decodeConflict(b []byte) (*backend.Conflict, error) {
	c := &backend.Conflict{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1, 2:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			v, err := consumeTreeValue(raw)
			if err != nil {
				return nil, err
			}
			if num == 1 {
				c.Removes = append(c.Removes, v)
			} else {
				c.Adds = append(c.Adds, v)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return c, nil
}

func appendSignature(b []byte, s backend.Signature) []byte {
	var m []byte
	m = protowire.AppendTag(m, 1, protowire.BytesType)
	m = protowire.AppendString(m, s.Name)
	m = protowire.AppendTag(m, 2, protowire.BytesType)
	m = protowire.AppendString(m, s.Email)
	m = protowire.AppendTag(m, 3, protowire.VarintType)
	m = protowire.AppendVarint(m, protowire.EncodeZigZag(s.Timestamp.MillisSinceEpoch))
	m = protowire.AppendTag(m, 4, protowire.VarintType)
	m = protowire.AppendVarint(m, protowire.EncodeZigZag(int64(s.Timestamp.TZOffsetMinutes)))
	return protowire.AppendBytes(b, m)
}

func consumeSignature(b []byte) (backend.Signature, error) {
	var s backend.Signature
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			s.Name = v
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			s.Email = v
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			s.Timestamp.MillisSinceEpoch = protowire.DecodeZigZag(v)
			b = b[n:]
		case 4:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			s.Timestamp.TZOffsetMinutes = int32(protowire.DecodeZigZag(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return s, nil
}

// encodeCommit produces the canonical commit bytes. When withSig is false
// the signature field is omitted; those bytes are what a signer signs.
func encodeCommit(c *backend.Commit, withSig bool) []byte {
	var b []byte
	for _, p := range c.Parents {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(p))
	}
	for _, p := range c.Predecessors {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(p))
	}
	for _, term := range c.RootTree.Terms() {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(term))
	}
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(c.Change))
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, c.Description)
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = appendSignature(b, c.Author)
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	b = appendSignature(b, c.Committer)
	if withSig && len(c.SecureSig) > 0 {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendBytes(b, c.SecureSig)
	}
	return b
}

func decodeCommit(b []byte) (*backend.Commit, error) {
	c := &backend.Commit{}
	var treeTerms []backend.TreeID
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1, 2, 3, 4, 8:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			switch num {
			case 1:
				c.Parents = append(c.Parents, backend.CommitID(raw))
			case 2:
				c.Predecessors = append(c.Predecessors, backend.CommitID(raw))
			case 3:
				treeTerms = append(treeTerms, backend.TreeID(raw))
			case 4:
				c.Change = backend.ChangeID(raw)
			case 8:
				c.SecureSig = append([]byte(nil), raw...)
			}
			b = b[n:]
		case 5:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			c.Description = s
			b = b[n:]
		case 6, 7:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			sig, err := consumeSignature(raw)
			if err != nil {
				return nil, err
			}
			if num == 6 {
				c.Author = sig
			} else {
				c.Committer = sig
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	rootTree, err := merge.FromTerms(treeTerms)
	if err != nil {
		return nil, fmt.Errorf("commit root tree: %w", err)
	}
	c.RootTree = rootTree
	return c, nil
}
