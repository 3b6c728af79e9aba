package statetree

import (
	"fmt"
	"slices"
	"time"

	"github.com/drpcorg/statetree/ident"
	"github.com/drpcorg/statetree/statetree_errors"
)

type Kind uint8

const (
	Insert Kind = iota + 1
	Modify
	Delete
	// Synthetic events come from plain observers, not from containers.
	Synthetic
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	case Synthetic:
		return "synthetic"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event is one change to one key of one container. Events are not mutated
// after delivery.
type Event struct {
	Kind  Kind
	Key   any
	Value any
	Prev  any
	// ID of the container that changed.
	ID   ident.ID
	Time time.Time
	Args any

	entry *Entry
}

// Orphaned events were rebuilt from the wire and know no path.
func (e *Event) Orphaned() bool {
	return e.entry == nil
}

// Path lists the keys from the watched root down to the changed key.
func (e *Event) Path() ([]any, error) {
	if e.entry == nil {
		return nil, statetree_errors.ErrOrphanedEvent
	}
	var path []any
	for cur := e.entry; cur.link != nil; cur = cur.parent {
		path = append(path, cur.link.key)
	}
	slices.Reverse(path)
	return path, nil
}

// Parent is the container that changed.
func (e *Event) Parent() (Container, error) {
	if e.entry == nil || e.entry.link == nil {
		return nil, statetree_errors.ErrOrphanedEvent
	}
	return e.entry.link.node.owner, nil
}

// Inverse undoes e when applied.
func (e *Event) Inverse() *Event {
	inv := *e
	switch e.Kind {
	case Insert:
		inv.Kind = Delete
	case Delete:
		inv.Kind = Insert
	}
	inv.Value, inv.Prev = e.Prev, e.Value
	return &inv
}

func (e *Event) String() string {
	return fmt.Sprintf("%s %s[%v] %v -> %v", e.Kind, e.ID, e.Key, e.Prev, e.Value)
}

// Commit is the unit of delivery and of replication.
type Commit []*Event

// Inverse undoes the whole commit, last event first.
func (c Commit) Inverse() Commit {
	inv := make(Commit, len(c))
	for i, e := range c {
		inv[len(c)-1-i] = e.Inverse()
	}
	return inv
}
