package statetree

import (
	"iter"
	"sort"

	"github.com/drpcorg/statetree/ident"
	"github.com/drpcorg/statetree/statetree_errors"
	"github.com/pkg/errors"
)

// Object is a container keyed by strings. Keys keep insertion order.
type Object struct {
	node
	id    ident.ID
	props map[string]any
	byKey map[string]*Link
}

// NewObject creates an object holding init. Initial keys are ordered
// lexicographically.
func NewObject(init map[string]any, opts ...Option) *Object {
	o := buildOptions(opts)
	obj := &Object{
		id:    o.ID,
		props: make(map[string]any, len(init)),
		byKey: make(map[string]*Link, len(init)),
	}
	obj.node.init(obj)

	keys := make([]string, 0, len(init))
	for k := range init {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		l := &Link{node: &obj.node, key: k}
		link(l, childNode(init[k]), nil)
		obj.props[k] = init[k]
		obj.byKey[k] = l
	}
	return obj
}

func (o *Object) ID() ident.ID { return o.id }

func (o *Object) graph() *node { return &o.node }

func (o *Object) Observer() Observer {
	return Observer{s: containerSource{o}}
}

func (o *Object) Len() int { return len(o.props) }

func (o *Object) Get(key string) (any, bool) {
	v, ok := o.props[key]
	return v, ok
}

func (o *Object) Has(key string) bool {
	_, ok := o.props[key]
	return ok
}

func (o *Object) Keys() []string {
	keys := make([]string, 0, len(o.props))
	for l := o.node.links.next; l != &o.node.links; l = l.next {
		keys = append(keys, l.key.(string))
	}
	return keys
}

// All yields key/value pairs in key order.
func (o *Object) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for l := o.node.links.next; l != &o.node.links; l = l.next {
			k := l.key.(string)
			if !yield(k, o.props[k]) {
				return
			}
		}
	}
}

// Set stores v under key. Storing an equal value is a no-op.
func (o *Object) Set(key string, v any) error {
	if prev, ok := o.props[key]; ok && isEqual(prev, v) {
		return nil
	}
	b, outer := begin(nil)
	defer b.abort(outer)
	if l, ok := o.byKey[key]; ok {
		o.modify(l, v)
	} else {
		o.insert(key, v)
	}
	return b.done(outer)
}

func (o *Object) Delete(key string) error {
	l, ok := o.byKey[key]
	if !ok {
		return nil
	}
	b, outer := begin(nil)
	defer b.abort(outer)
	o.remove(l)
	return b.done(outer)
}

func (o *Object) insert(key string, v any) {
	l := &Link{node: &o.node, key: key}
	o.props[key] = v
	o.byKey[key] = l
	link(l, childNode(v), nil)
	linkApply(l, &Event{Kind: Insert, Key: key, Value: v, ID: o.id})
}

func (o *Object) modify(l *Link, v any) {
	key := l.key.(string)
	prev := o.props[key]
	o.props[key] = v
	linkApply(l, &Event{Kind: Modify, Key: key, Value: v, Prev: prev, ID: o.id})
	relink(l, childNode(v))
}

func (o *Object) remove(l *Link) {
	key := l.key.(string)
	prev := o.props[key]
	delete(o.props, key)
	delete(o.byKey, key)
	linkApply(l, &Event{Kind: Delete, Key: key, Prev: prev, ID: o.id})
	unlink(l)
}

func (o *Object) lookup(key any) (any, bool) {
	k, ok := key.(string)
	if !ok {
		return nil, false
	}
	return o.Get(k)
}

func (o *Object) assign(key any, v any) error {
	k, ok := key.(string)
	if !ok {
		return errors.Wrapf(statetree_errors.ErrBadKey, "object key %v", key)
	}
	return o.Set(k, v)
}

func (o *Object) verify(ev *Event) (*Link, error) {
	key, ok := ev.Key.(string)
	if !ok {
		return nil, errors.Wrapf(statetree_errors.ErrBadKey, "object key %T", ev.Key)
	}
	l := o.byKey[key]
	switch ev.Kind {
	case Insert:
		if l != nil {
			return nil, errors.Wrapf(statetree_errors.ErrAlreadyExists, "key %q", key)
		}
	case Modify, Delete:
		if l == nil {
			return nil, errors.Wrapf(statetree_errors.ErrNotFound, "key %q", key)
		}
	default:
		return nil, errors.Wrapf(statetree_errors.ErrBadEvent, "%s on an object", ev.Kind)
	}
	return l, nil
}

func (o *Object) apply(ev *Event, l *Link) {
	switch ev.Kind {
	case Insert:
		o.insert(ev.Key.(string), ev.Value)
	case Modify:
		o.modify(l, ev.Value)
	case Delete:
		o.remove(l)
	}
}
