package opstore

import (
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/view"
)

// Views and operations are encoded as protobuf-style frames. Repeated
// fields are emitted in a fixed order (refs by name, ids ascending) so the
// same value always produces the same bytes, which the content-hash ids
// rely on.

func appendRefTarget(b []byte, t view.RefTarget) []byte {
	var m []byte
	for _, id := range t.Adds() {
		m = protowire.AppendTag(m, 1, protowire.BytesType)
		m = protowire.AppendBytes(m, []byte(id))
	}
	for _, id := range t.Bases() {
		m = protowire.AppendTag(m, 2, protowire.BytesType)
		m = protowire.AppendBytes(m, []byte(id))
	}
	return protowire.AppendBytes(b, m)
}

func consumeRefTarget(b []byte) (view.RefTarget, error) {
	var adds, bases []backend.CommitID
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return view.RefTarget{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1, 2:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return view.RefTarget{}, protowire.ParseError(n)
			}
			if num == 1 {
				adds = append(adds, backend.CommitID(raw))
			} else {
				bases = append(bases, backend.CommitID(raw))
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return view.RefTarget{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return merge.New(adds, bases)
}

func appendNamedRef(b []byte, field protowire.Number, name string, t view.RefTarget) []byte {
	var m []byte
	m = protowire.AppendTag(m, 1, protowire.BytesType)
	m = protowire.AppendString(m, name)
	m = protowire.AppendTag(m, 2, protowire.BytesType)
	m = appendRefTarget(m, t)
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func consumeNamedRef(b []byte) (string, view.RefTarget, error) {
	var name string
	target := view.AbsentRef()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", target, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", target, protowire.ParseError(n)
			}
			name = s
			b = b[n:]
		case 2:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", target, protowire.ParseError(n)
			}
			t, err := consumeRefTarget(raw)
			if err != nil {
				return "", target, err
			}
			target = t
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", target, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return name, target, nil
}

func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func encodeView(v *view.View) []byte {
	var b []byte
	heads := v.Heads()
	for _, id := range heads {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(id))
	}
	for _, name := range sortedNames(v.LocalBookmarks) {
		b = appendNamedRef(b, 2, name, v.LocalBookmarks[name])
	}
	for _, name := range sortedNames(v.Tags) {
		b = appendNamedRef(b, 3, name, v.Tags[name])
	}
	for _, remote := range sortedNames(v.RemoteViews) {
		rv := v.RemoteViews[remote]
		var m []byte
		m = protowire.AppendTag(m, 1, protowire.BytesType)
		m = protowire.AppendString(m, remote)
		for _, name := range sortedNames(rv.Bookmarks) {
			m = appendNamedRef(m, 2, name, rv.Bookmarks[name])
		}
		for _, name := range sortedNames(rv.Tags) {
			m = appendNamedRef(m, 3, name, rv.Tags[name])
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	for _, name := range sortedNames(v.GitRefs) {
		b = appendNamedRef(b, 5, name, v.GitRefs[name])
	}
	if view.RefIsPresent(v.GitHead) {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = appendRefTarget(b, v.GitHead)
	}
	names := v.WorkspaceNames()
	for _, ws := range names {
		id, _ := v.GetWCCommitID(ws)
		var m []byte
		m = protowire.AppendTag(m, 1, protowire.BytesType)
		m = protowire.AppendString(m, string(ws))
		m = protowire.AppendTag(m, 2, protowire.BytesType)
		m = protowire.AppendBytes(m, []byte(id))
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b
}

func decodeView(b []byte) (*view.View, error) {
	v := view.New()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			// All view fields are length-delimited; anything else is a
			// future extension we skip.
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			v.AddHead(backend.CommitID(raw))
		case 2, 3, 5:
			name, target, err := consumeNamedRef(raw)
			if err != nil {
				return nil, err
			}
			switch num {
			case 2:
				v.LocalBookmarks[name] = target
			case 3:
				v.Tags[name] = target
			case 5:
				v.GitRefs[name] = target
			}
		case 4:
			remote, rv, err := decodeRemoteView(raw)
			if err != nil {
				return nil, err
			}
			v.RemoteViews[remote] = rv
		case 6:
			t, err := consumeRefTarget(raw)
			if err != nil {
				return nil, err
			}
			v.GitHead = t
		case 7:
			ws, id, err := decodeWCEntry(raw)
			if err != nil {
				return nil, err
			}
			v.WCCommitIDs[ws] = id
		}
	}
	return v, nil
}

func decodeRemoteView(b []byte) (string, *view.RemoteView, error) {
	var remote string
	rv := view.NewRemoteView()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			remote = s
			b = b[n:]
		case 2, 3:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			name, target, err := consumeNamedRef(raw)
			if err != nil {
				return "", nil, err
			}
			if num == 2 {
				rv.Bookmarks[name] = target
			} else {
				rv.Tags[name] = target
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return remote, rv, nil
}

func decodeWCEntry(b []byte) (view.WorkspaceName, backend.CommitID, error) {
	var ws view.WorkspaceName
	var id backend.CommitID
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", "", protowire.ParseError(n)
			}
			ws = view.WorkspaceName(s)
			b = b[n:]
		case 2:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", "", protowire.ParseError(n)
			}
			id = backend.CommitID(raw)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", "", protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return ws, id, nil
}

func appendTimestamp(b []byte, ts backend.Timestamp) []byte {
	var m []byte
	m = protowire.AppendTag(m, 1, protowire.VarintType)
	m = protowire.AppendVarint(m, protowire.EncodeZigZag(ts.MillisSinceEpoch))
	m = protowire.AppendTag(m, 2, protowire.VarintType)
	m = protowire.AppendVarint(m, protowire.EncodeZigZag(int64(ts.TZOffsetMinutes)))
	return protowire.AppendBytes(b, m)
}

func consumeTimestamp(b []byte) (backend.Timestamp, error) {
	var ts backend.Timestamp
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ts, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1, 2:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ts, protowire.ParseError(n)
			}
			if num == 1 {
				ts.MillisSinceEpoch = protowire.DecodeZigZag(x)
			} else {
				ts.TZOffsetMinutes = int32(protowire.DecodeZigZag(x))
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ts, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return ts, nil
}

func encodeOperation(op *Operation) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(op.ViewID))
	parents := append([]OperationID(nil), op.Parents...)
	SortOperationIDs(parents)
	for _, p := range parents {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(p))
	}

	var m []byte
	m = protowire.AppendTag(m, 1, protowire.BytesType)
	m = appendTimestamp(m, op.Meta.StartTime)
	m = protowire.AppendTag(m, 2, protowire.BytesType)
	m = appendTimestamp(m, op.Meta.EndTime)
	m = protowire.AppendTag(m, 3, protowire.BytesType)
	m = protowire.AppendString(m, op.Meta.Description)
	m = protowire.AppendTag(m, 4, protowire.BytesType)
	m = protowire.AppendString(m, op.Meta.Hostname)
	m = protowire.AppendTag(m, 5, protowire.BytesType)
	m = protowire.AppendString(m, op.Meta.Username)
	for _, k := range sortedNames(op.Meta.Tags) {
		var kv []byte
		kv = protowire.AppendTag(kv, 1, protowire.BytesType)
		kv = protowire.AppendString(kv, k)
		kv = protowire.AppendTag(kv, 2, protowire.BytesType)
		kv = protowire.AppendString(kv, op.Meta.Tags[k])
		m = protowire.AppendTag(m, 6, protowire.BytesType)
		m = protowire.AppendBytes(m, kv)
	}
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, m)

	commits := make([]backend.CommitID, 0, len(op.CommitPredecessors))
	for id := range op.CommitPredecessors {
		commits = append(commits, id)
	}
	sort.Slice(commits, func(i, j int) bool { return commits[i] < commits[j] })
	for _, id := range commits {
		var e []byte
		e = protowire.AppendTag(e, 1, protowire.BytesType)
		e = protowire.AppendBytes(e, []byte(id))
		for _, pred := range op.CommitPredecessors[id] {
			e = protowire.AppendTag(e, 2, protowire.BytesType)
			e = protowire.AppendBytes(e, []byte(pred))
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

func decodeOperation(b []byte) (*Operation, error) {
	op := &Operation{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			op.ViewID = ViewID(raw)
		case 2:
			op.Parents = append(op.Parents, OperationID(raw))
		case 3:
			meta, err := decodeMetadata(raw)
			if err != nil {
				return nil, err
			}
			op.Meta = meta
		case 4:
			id, preds, err := decodePredecessorEntry(raw)
			if err != nil {
				return nil, err
			}
			if op.CommitPredecessors == nil {
				op.CommitPredecessors = map[backend.CommitID][]backend.CommitID{}
			}
			op.CommitPredecessors[id] = preds
		}
	}
	return op, nil
}

func decodeMetadata(b []byte) (Metadata, error) {
	meta := Metadata{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return meta, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return meta, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return meta, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1, 2:
			ts, err := consumeTimestamp(raw)
			if err != nil {
				return meta, err
			}
			if num == 1 {
				meta.StartTime = ts
			} else {
				meta.EndTime = ts
			}
		case 3:
			meta.Description = string(raw)
		case 4:
			meta.Hostname = string(raw)
		case 5:
			meta.Username = string(raw)
		case 6:
			k, v, err := decodeTagEntry(raw)
			if err != nil {
				return meta, err
			}
			if meta.Tags == nil {
				meta.Tags = map[string]string{}
			}
			meta.Tags[k] = v
		}
	}
	return meta, nil
}

func decodeTagEntry(b []byte) (string, string, error) {
	var k, v string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", "", protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		s, n := protowire.ConsumeString(b)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			k = s
		case 2:
			v = s
		}
	}
	return k, v, nil
}

func decodePredecessorEntry(b []byte) (backend.CommitID, []backend.CommitID, error) {
	var id backend.CommitID
	var preds []backend.CommitID
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			id = backend.CommitID(raw)
		case 2:
			preds = append(preds, backend.CommitID(raw))
		}
	}
	return id, preds, nil
}
