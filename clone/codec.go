/*
Package clone copies values and commits through protocol TLV records.

# Values

	N           nil
	B           bool, one byte
	I, J        int, int64 as zigzag varints
	F           float64, 8 bytes little endian
	S, Y        string, []byte
	D           ident.ID
	K           fracindex.Index
	T           time.Time in its binary form
	O           object: D id, then S key and value pairs
	A           array: D id, then K key and value pairs
	E           set: D id, then D id and value pairs
	R           varint ordinal of a container met earlier in the same graph
	X           id of a container the receiver already holds

Containers are numbered in the order their O, A or E record starts, so a
graph with cycles or shared children comes back with the same shape.

# Commits

A commit is an M record holding one V record per event:

	V: C kind, D id, key, value, prev, T time

The R ordinals run across the whole commit.
*/
package clone

import (
	"encoding/binary"
	"math"
	"slices"
	"time"

	"github.com/drpcorg/statetree"
	"github.com/drpcorg/statetree/fracindex"
	"github.com/drpcorg/statetree/ident"
	"github.com/drpcorg/statetree/protocol"
	"github.com/drpcorg/statetree/statetree_errors"
	"github.com/pkg/errors"
)

// Resolver finds the local container an X record points at.
// *statetree.Network is one.
type Resolver interface {
	Lookup(id ident.ID) (statetree.Container, bool)
}

type Options struct {
	// Known containers are sent as their id only.
	Known    statetree.KnownFunc
	Resolver Resolver
}

type encoder struct {
	opts Options
	refs map[statetree.Container]int64
}

func newEncoder(opts Options) *encoder {
	return &encoder{opts: opts, refs: map[statetree.Container]int64{}}
}

func EncodeValue(into []byte, v any, opts Options) ([]byte, error) {
	return newEncoder(opts).value(into, v)
}

func (e *encoder) value(into []byte, v any) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return protocol.Append(into, 'N'), nil
	case bool:
		var b byte
		if v {
			b = 1
		}
		return protocol.Append(into, 'B', []byte{b}), nil
	case int:
		return protocol.Append(into, 'I', protocol.AppendVarint(nil, int64(v))), nil
	case int64:
		return protocol.Append(into, 'J', protocol.AppendVarint(nil, v)), nil
	case float64:
		return protocol.Append(into, 'F', binary.LittleEndian.AppendUint64(nil, math.Float64bits(v))), nil
	case string:
		return protocol.Append(into, 'S', []byte(v)), nil
	case []byte:
		return protocol.Append(into, 'Y', v), nil
	case ident.ID:
		return protocol.Append(into, 'D', v.Bytes()), nil
	case fracindex.Index:
		return protocol.Append(into, 'K', v.Bytes()), nil
	case time.Time:
		b, err := v.MarshalBinary()
		if err != nil {
			return into, errors.Wrapf(statetree_errors.ErrUnsupported, "time %v: %v", v, err)
		}
		return protocol.Append(into, 'T', b), nil
	case statetree.Container:
		return e.container(into, v)
	}
	return into, errors.Wrapf(statetree_errors.ErrUnsupported, "%T", v)
}

func (e *encoder) container(into []byte, c statetree.Container) ([]byte, error) {
	if e.opts.Known != nil && e.opts.Known(c) {
		return protocol.Append(into, 'X', c.ID().Bytes()), nil
	}
	if n, ok := e.refs[c]; ok {
		return protocol.Append(into, 'R', protocol.AppendVarint(nil, n)), nil
	}
	var lit byte
	switch c.(type) {
	case *statetree.Object:
		lit = 'O'
	case *statetree.Array:
		lit = 'A'
	case *statetree.Set:
		lit = 'E'
	default:
		return into, errors.Wrapf(statetree_errors.ErrUnsupported, "container %T", c)
	}
	e.refs[c] = int64(len(e.refs))

	var (
		bookmark int
		err      error
	)
	bookmark, into = protocol.OpenHeader(into, lit)
	into = protocol.Append(into, 'D', c.ID().Bytes())
	switch c := c.(type) {
	case *statetree.Object:
		for k, v := range c.All() {
			into = protocol.Append(into, 'S', []byte(k))
			if into, err = e.value(into, v); err != nil {
				return into, err
			}
		}
	case *statetree.Array:
		keys, values := c.Keys(), c.Values()
		for i, k := range keys {
			into = protocol.Append(into, 'K', k.Bytes())
			if into, err = e.value(into, values[i]); err != nil {
				return into, err
			}
		}
	case *statetree.Set:
		for id, v := range c.Elements() {
			into = protocol.Append(into, 'D', id.Bytes())
			if into, err = e.value(into, v); err != nil {
				return into, err
			}
		}
	}
	protocol.CloseHeader(into, bookmark)
	return into, nil
}

func (e *encoder) event(into []byte, ev *statetree.Event) ([]byte, error) {
	var (
		bookmark int
		err      error
	)
	bookmark, into = protocol.OpenHeader(into, 'V')
	into = protocol.Append(into, 'C', []byte{byte(ev.Kind)})
	into = protocol.Append(into, 'D', ev.ID.Bytes())
	for _, v := range []any{ev.Key, ev.Value, ev.Prev} {
		if into, err = e.value(into, v); err != nil {
			return into, err
		}
	}
	t, err := ev.Time.MarshalBinary()
	if err != nil {
		return into, errors.Wrapf(statetree_errors.ErrUnsupported, "event time: %v", err)
	}
	into = protocol.Append(into, 'T', t)
	protocol.CloseHeader(into, bookmark)
	return into, nil
}

// EncodeCommit appends c as one M record.
func EncodeCommit(into []byte, c statetree.Commit, opts Options) ([]byte, error) {
	e := newEncoder(opts)
	var (
		bookmark int
		err      error
	)
	bookmark, into = protocol.OpenHeader(into, 'M')
	for i, ev := range c {
		if into, err = e.event(into, ev); err != nil {
			return into, errors.WithMessagef(err, "event %d", i)
		}
	}
	protocol.CloseHeader(into, bookmark)
	return into, nil
}

type decoder struct {
	opts Options
	refs []statetree.Container
}

func badRecord(format string, args ...any) error {
	return errors.Wrapf(statetree_errors.ErrBadRecord, format, args...)
}

func take(lit byte, data []byte) (body, rest []byte, err error) {
	body, rest, err = protocol.TakeWary(lit, data)
	if err != nil {
		return nil, nil, badRecord("want %c: %v", lit, err)
	}
	return body, rest, nil
}

// DecodeValue reads one value record off the front of data.
func DecodeValue(data []byte, opts Options) (v any, rest []byte, err error) {
	d := &decoder{opts: opts}
	return d.value(data)
}

func (d *decoder) value(data []byte) (any, []byte, error) {
	lit, body, rest, err := protocol.TakeAnyWary(data)
	if err != nil {
		return nil, nil, badRecord("%v", err)
	}
	switch lit {
	case 'N':
		if len(body) != 0 {
			return nil, nil, badRecord("nil with a body")
		}
		return nil, rest, nil
	case 'B':
		if len(body) != 1 || body[0] > 1 {
			return nil, nil, badRecord("bool %x", body)
		}
		return body[0] == 1, rest, nil
	case 'I', 'J':
		i, tail, ok := protocol.Varint(body)
		if !ok || len(tail) != 0 {
			return nil, nil, badRecord("integer %x", body)
		}
		if lit == 'I' {
			return int(i), rest, nil
		}
		return i, rest, nil
	case 'F':
		if len(body) != 8 {
			return nil, nil, badRecord("float of %d bytes", len(body))
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(body)), rest, nil
	case 'S':
		return string(body), rest, nil
	case 'Y':
		return slices.Clone(body), rest, nil
	case 'D':
		id, err := ident.FromBytes(body)
		if err != nil {
			return nil, nil, badRecord("id %x: %v", body, err)
		}
		return id, rest, nil
	case 'K':
		k, err := fracindex.FromBytes(body)
		if err != nil {
			return nil, nil, badRecord("array key %x: %v", body, err)
		}
		return k, rest, nil
	case 'T':
		var t time.Time
		if err := t.UnmarshalBinary(body); err != nil {
			return nil, nil, badRecord("time: %v", err)
		}
		return t, rest, nil
	case 'R':
		n, tail, ok := protocol.Varint(body)
		if !ok || len(tail) != 0 || n < 0 || n >= int64(len(d.refs)) {
			return nil, nil, badRecord("ref %x of %d", body, len(d.refs))
		}
		return d.refs[n], rest, nil
	case 'X':
		id, err := ident.FromBytes(body)
		if err != nil {
			return nil, nil, badRecord("id %x: %v", body, err)
		}
		if d.opts.Resolver == nil {
			return nil, nil, errors.Wrapf(statetree_errors.ErrUnknownRef, "%s: no resolver", id)
		}
		c, ok := d.opts.Resolver.Lookup(id)
		if !ok {
			return nil, nil, errors.Wrapf(statetree_errors.ErrUnknownRef, "%s", id)
		}
		return c, rest, nil
	case 'O', 'A', 'E':
		c, err := d.container(lit, body)
		return c, rest, err
	}
	return nil, nil, badRecord("unexpected %c record", lit)
}

// container registers the new container before reading its contents so
// that R records inside it can point back at it.
func (d *decoder) container(lit byte, body []byte) (statetree.Container, error) {
	idb, body, err := take('D', body)
	if err != nil {
		return nil, err
	}
	id, err := ident.FromBytes(idb)
	if err != nil {
		return nil, badRecord("container id %x: %v", idb, err)
	}
	switch lit {
	case 'O':
		obj := statetree.NewObject(nil, statetree.WithID(id))
		d.refs = append(d.refs, obj)
		for len(body) > 0 {
			var kb []byte
			var v any
			if kb, body, err = take('S', body); err != nil {
				return nil, err
			}
			if v, body, err = d.value(body); err != nil {
				return nil, err
			}
			key := string(kb)
			if obj.Has(key) {
				return nil, badRecord("object %s repeats key %q", id, key)
			}
			if err = obj.Set(key, v); err != nil {
				return nil, err
			}
		}
		return obj, nil
	case 'A':
		arr := statetree.NewArray(nil, statetree.WithID(id))
		d.refs = append(d.refs, arr)
		for len(body) > 0 {
			var kb []byte
			var v any
			if kb, body, err = take('K', body); err != nil {
				return nil, err
			}
			k, err := fracindex.FromBytes(kb)
			if err != nil {
				return nil, badRecord("array key %x: %v", kb, err)
			}
			if v, body, err = d.value(body); err != nil {
				return nil, err
			}
			if err = arr.Put(k, v); err != nil {
				return nil, badRecord("array %s: %v", id, err)
			}
		}
		return arr, nil
	default:
		set := statetree.NewSet(nil, statetree.WithID(id))
		d.refs = append(d.refs, set)
		for len(body) > 0 {
			var eb []byte
			var v any
			if eb, body, err = take('D', body); err != nil {
				return nil, err
			}
			elem, err := ident.FromBytes(eb)
			if err != nil {
				return nil, badRecord("set element %x: %v", eb, err)
			}
			if v, body, err = d.value(body); err != nil {
				return nil, err
			}
			if set.Has(elem) {
				return nil, badRecord("set %s repeats %s", id, elem)
			}
			if err = set.Set(elem, v); err != nil {
				return nil, err
			}
		}
		return set, nil
	}
}

func (d *decoder) event(body []byte) (*statetree.Event, error) {
	kb, body, err := take('C', body)
	if err != nil {
		return nil, err
	}
	if len(kb) != 1 || kb[0] < byte(statetree.Insert) || kb[0] > byte(statetree.Synthetic) {
		return nil, badRecord("event kind %x", kb)
	}
	idb, body, err := take('D', body)
	if err != nil {
		return nil, err
	}
	ev := &statetree.Event{Kind: statetree.Kind(kb[0])}
	if len(idb) > 0 {
		if ev.ID, err = ident.FromBytes(idb); err != nil {
			return nil, badRecord("event id %x: %v", idb, err)
		}
	}
	for _, field := range []*any{&ev.Key, &ev.Value, &ev.Prev} {
		if *field, body, err = d.value(body); err != nil {
			return nil, err
		}
	}
	tb, body, err := take('T', body)
	if err != nil {
		return nil, err
	}
	if err := ev.Time.UnmarshalBinary(tb); err != nil {
		return nil, badRecord("event time: %v", err)
	}
	if len(body) != 0 {
		return nil, badRecord("%d trailing bytes in event", len(body))
	}
	return ev, nil
}

// DecodeCommit reads one M record. The events come back orphaned.
func DecodeCommit(data []byte, opts Options) (statetree.Commit, []byte, error) {
	body, rest, err := take('M', data)
	if err != nil {
		return nil, nil, err
	}
	d := &decoder{opts: opts}
	var c statetree.Commit
	for len(body) > 0 {
		var vb []byte
		if vb, body, err = take('V', body); err != nil {
			return nil, nil, err
		}
		ev, err := d.event(vb)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "event %d", len(c))
		}
		c = append(c, ev)
	}
	return c, rest, nil
}

// Clone deep-copies v. Containers keep their ids. Those opts.Known
// accepts are shared with the original instead of copied, unless
// opts.Resolver maps them somewhere else.
func Clone(v any, opts Options) (any, error) {
	if opts.Known != nil && opts.Resolver == nil {
		kept := originals{}
		known := opts.Known
		opts.Known = func(c statetree.Container) bool {
			if known(c) {
				kept[c.ID()] = c
				return true
			}
			return false
		}
		opts.Resolver = kept
	}
	b, err := EncodeValue(nil, v, opts)
	if err != nil {
		return nil, err
	}
	out, rest, err := DecodeValue(b, opts)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, badRecord("%d trailing bytes", len(rest))
	}
	return out, nil
}

// originals resolves X records to the very containers they were made from.
type originals map[ident.ID]statetree.Container

func (o originals) Lookup(id ident.ID) (statetree.Container, bool) {
	c, ok := o[id]
	return c, ok
}
