package ident

import (
	"bytes"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cespare/xxhash"
	"github.com/drpcorg/statetree/statetree_errors"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

/*
	ID is an opaque container identifier. The default flavour is 16 bytes
	laid out as a ULID: a millisecond timestamp followed by random fill.
	Longer identifiers are accepted as long as the length stays a multiple
	of one 32-bit word.

0...............16..............32..............48..............64..........128
+-------+-------+-------+-------+-------+-------+-------+-------+----  ...  ---+
|..................time.(48.bits)..................|.........entropy.(80.bits)..|
*/
type ID string

const (
	Size     = 16
	wordSize = 4
)

// Nil is the absent identifier.
var Nil ID

func FromBytes(b []byte) (ID, error) {
	if len(b) == 0 || len(b)%wordSize != 0 {
		return Nil, statetree_errors.ErrBadID
	}
	return ID(b), nil
}

func MustFromBytes(b []byte) ID {
	id, err := FromBytes(b)
	if err != nil {
		panic(err)
	}
	return id
}

// Parse accepts both the #HEX form and the canonical UUID form.
func Parse(s string) (ID, error) {
	if strings.HasPrefix(s, "#") {
		b, err := hex.DecodeString(s[1:])
		if err != nil {
			return Nil, statetree_errors.ErrBadID
		}
		return FromBytes(b)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, statetree_errors.ErrBadID
	}
	return ID(u[:]), nil
}

func (id ID) IsNil() bool {
	return len(id) == 0
}

func (id ID) Bytes() []byte {
	return []byte(id)
}

func (id ID) String() string {
	if id.IsNil() {
		return "#0"
	}
	return "#" + strings.ToUpper(hex.EncodeToString([]byte(id)))
}

// UUID renders a default-sized id as a canonical UUID.
func (id ID) UUID() (u uuid.UUID, ok bool) {
	if len(id) != Size {
		return u, false
	}
	copy(u[:], id)
	return u, true
}

// Time is the generation time of a ULID-shaped id.
func (id ID) Time() time.Time {
	if len(id) != Size {
		return time.Time{}
	}
	var u ulid.ULID
	copy(u[:], id)
	return ulid.Time(u.Time())
}

func (id ID) Hash() uint64 {
	return xxhash.Sum64String(string(id))
}

// Compare is a byte-wise total order; shorter ids sort before their extensions.
func Compare(a, b ID) int {
	return bytes.Compare([]byte(a), []byte(b))
}
