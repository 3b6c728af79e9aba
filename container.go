package statetree

import (
	"math"
	"reflect"

	"github.com/drpcorg/statetree/fracindex"
	"github.com/drpcorg/statetree/ident"
)

// Container is a mutable object, array or set with a stable id.
type Container interface {
	ID() ident.ID
	Observer() Observer

	graph() *node
	// lookup reads one key without any side effect.
	lookup(key any) (any, bool)
	// assign writes one key through the regular mutators.
	assign(key any, v any) error
	// verify checks that ev can be applied and returns the link it
	// touches, nil for an insert.
	verify(ev *Event) (*Link, error)
	apply(ev *Event, l *Link)
}

// Identified values can be stored in a Set by their own id.
type Identified interface {
	ID() ident.ID
}

type Options struct {
	ID        ident.ID
	Generator ident.Generator
	Rand      fracindex.Rand
}

type Option func(*Options)

func (o *Options) SetDefaults() {
	if o.Generator == nil {
		o.Generator = ident.Default()
	}
	if o.ID.IsNil() {
		o.ID = o.Generator.Next()
	}
	if o.Rand == nil {
		o.Rand = fracindex.DefaultRand
	}
}

func WithID(id ident.ID) Option {
	return func(o *Options) { o.ID = id }
}

func WithGenerator(g ident.Generator) Option {
	return func(o *Options) { o.Generator = g }
}

// WithRand sets the entropy source for array keys.
func WithRand(r fracindex.Rand) Option {
	return func(o *Options) { o.Rand = r }
}

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	o.SetDefaults()
	return o
}

// isEqual decides whether a write changes anything. Slices, maps and funcs
// are equal only to themselves. NaN equals NaN.
func isEqual(a, b any) (eq bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	switch ta.Kind() {
	case reflect.Float32, reflect.Float64:
		fa, fb := reflect.ValueOf(a).Float(), reflect.ValueOf(b).Float()
		return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
	case reflect.Slice:
		va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	case reflect.Map, reflect.Func:
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	if !ta.Comparable() {
		return false
	}
	// interfaces inside comparable structs can still hold slices
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// Export copies a value into plain maps and slices. A container met a
// second time on the same branch is replaced by its id.
func Export(v any) any {
	return export(v, map[*node]bool{})
}

func export(v any, seen map[*node]bool) any {
	c, ok := v.(Container)
	if !ok || c == nil {
		return v
	}
	n := c.graph()
	if seen[n] {
		return c.ID()
	}
	seen[n] = true
	defer delete(seen, n)

	switch c := c.(type) {
	case *Object:
		out := make(map[string]any, c.Len())
		for k, v := range c.All() {
			out[k] = export(v, seen)
		}
		return out
	case *Array:
		out := make([]any, 0, c.Len())
		for _, v := range c.values {
			out = append(out, export(v, seen))
		}
		return out
	case *Set:
		out := make(map[ident.ID]any, c.Len())
		for id, v := range c.Elements() {
			out[id] = export(v, seen)
		}
		return out
	}
	return v
}
