package statetree

import (
	"fmt"
	"strings"

	"github.com/drpcorg/statetree/ident"
)

// recorder collects what a registration hears.
type recorder struct {
	commits []Commit
	events  []*Event
}

func (r *recorder) listen(c Commit, _ any) error {
	r.commits = append(r.commits, c)
	r.events = append(r.events, c...)
	return nil
}

func (r *recorder) watch(o Observer) func() {
	return o.WatchCommit(r.listen)
}

func (r *recorder) values() []any {
	out := make([]any, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Value
	}
	return out
}

func (r *recorder) paths() []string {
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		p, err := ev.Path()
		if err != nil {
			out[i] = "orphan"
			continue
		}
		keys := make([]string, len(p))
		for j, k := range p {
			keys[j] = fmt.Sprint(k)
		}
		out[i] = strings.Join(keys, " ")
	}
	return out
}

func (r *recorder) reset() {
	r.commits, r.events = nil, nil
}

// counterIDs gives every test its own predictable id sequence.
func counterIDs(src uint64) Option {
	return WithGenerator(ident.NewCounter(src))
}
