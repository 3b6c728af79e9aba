// Package fracindex implements dense, totally ordered list keys.
//
// An Index is an arbitrary precision signed number stored as little-endian
// two's complement bytes with dec of them sitting below the integer point.
// Indexes are kept canonical (no redundant sign bytes on top, no zero bytes
// at the bottom of the fraction), so equal values compare equal with ==.
package fracindex

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"

	"github.com/drpcorg/statetree/statetree_errors"
	"golang.org/x/exp/constraints"
)

const signBit = 0x80

type Index struct {
	dec    int
	digits string
}

// Zero is also the zero value of Index.
var Zero = Index{}

func FromInt[T constraints.Signed](v T) Index {
	return Scale(int64(v), 0)
}

// byteAt reads the byte at position pos, where 0 is the lowest integer byte
// and negative positions are fractional; reads past the top sign-extend.
func (a Index) byteAt(pos int) byte {
	i := pos + a.dec
	if i < 0 {
		return 0
	}
	if i >= len(a.digits) {
		if len(a.digits) != 0 && a.digits[len(a.digits)-1]&signBit != 0 {
			return 0xff
		}
		return 0
	}
	return a.digits[i]
}

// top is the position one past the highest stored byte.
func (a Index) top() int {
	return len(a.digits) - a.dec
}

func normalize(dec int, d []byte) Index {
	for dec > 0 && len(d) > 0 && d[0] == 0 {
		d = d[1:]
		dec--
	}
	for n := len(d); n > dec+1; n = len(d) {
		t, below := d[n-1], d[n-2]&signBit
		if (t == 0 && below == 0) || (t == 0xff && below != 0) {
			d = d[:n-1]
		} else {
			break
		}
	}
	if dec == 0 && len(d) == 1 && d[0] == 0 {
		d = d[:0]
	}
	return Index{dec: dec, digits: string(d)}
}

func (a Index) IsZero() bool {
	return a == Zero
}

func (a Index) Negative() bool {
	return len(a.digits) != 0 && a.digits[len(a.digits)-1]&signBit != 0
}

// Compare orders a and b; the top byte is compared signed, the rest unsigned.
func Compare(a, b Index) int {
	lo := -max(a.dec, b.dec)
	signed := true
	for p := max(a.top(), b.top()) - 1; p >= lo; p-- {
		av, bv := a.byteAt(p), b.byteAt(p)
		if av != bv {
			if signed {
				if int8(av) < int8(bv) {
					return -1
				}
				return 1
			}
			if av < bv {
				return -1
			}
			return 1
		}
		signed = false
	}
	return 0
}

func Sum(a, b Index) Index {
	lo := -max(a.dec, b.dec)
	hi := max(a.top(), b.top())
	out := make([]byte, 0, hi-lo+1)
	carry := 0
	for p := lo; p <= hi; p++ {
		s := int(a.byteAt(p)) + int(b.byteAt(p)) + carry
		out = append(out, byte(s))
		carry = s >> 8
	}
	return normalize(-lo, out)
}

func Neg(a Index) Index {
	lo := -a.dec
	hi := a.top()
	out := make([]byte, 0, hi-lo+1)
	carry := 1
	for p := lo; p <= hi; p++ {
		s := int(^a.byteAt(p)) + carry
		out = append(out, byte(s))
		carry = s >> 8
	}
	return normalize(-lo, out)
}

func Sub(a, b Index) Index {
	return Sum(a, Neg(b))
}

// Scale returns c·2^-dec; a negative dec scales up.
func Scale(c int64, dec int) Index {
	frac := 0
	if dec > 0 {
		frac = (dec + 7) / 8
	}
	shift := 8*frac - dec
	skip := shift / 8
	buf := make([]byte, skip, skip+9)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(c))
	if c < 0 {
		buf = append(buf, 0xff)
	} else {
		buf = append(buf, 0)
	}
	if s := shift % 8; s != 0 {
		carry := 0
		for i := skip; i < len(buf); i++ {
			v := int(buf[i])<<s | carry
			buf[i] = byte(v)
			carry = v >> 8
		}
	}
	return normalize(frac, buf)
}

// Add returns a + c·2^-dec.
func Add(a Index, c int64, dec int) Index {
	return Sum(a, Scale(c, dec))
}

// Leading is the position of the highest set bit of a-b, in bits relative to
// the integer point (0 is the unit bit, -1 is one half). Requires a > b.
func Leading(a, b Index) int {
	d := Sub(a, b)
	if d.IsZero() || d.Negative() {
		panic(fmt.Sprintf("fracindex: Leading(%s, %s) needs a > b", a, b))
	}
	for i := len(d.digits) - 1; i >= 0; i-- {
		if c := d.digits[i]; c != 0 {
			return (i-d.dec)*8 + bits.Len8(c) - 1
		}
	}
	panic("unreachable")
}

// Bytes is the wire form: uvarint dec followed by the digits.
func (a Index) Bytes() []byte {
	b := binary.AppendUvarint(make([]byte, 0, len(a.digits)+2), uint64(a.dec))
	return append(b, a.digits...)
}

func FromBytes(b []byte) (Index, error) {
	dec, n := binary.Uvarint(b)
	if n <= 0 || dec > uint64(len(b)) {
		return Zero, statetree_errors.ErrBadIndex
	}
	x := Index{dec: int(dec), digits: string(b[n:])}
	if len(x.digits) < x.dec || (len(x.digits) == x.dec && x.dec != 0) {
		return Zero, statetree_errors.ErrBadIndex
	}
	if normalize(x.dec, []byte(x.digits)) != x {
		return Zero, statetree_errors.ErrBadIndex
	}
	return x, nil
}

// String renders the value in hex, e.g. "1.8" for one and a half.
func (a Index) String() string {
	if a.Negative() {
		return "-" + Neg(a).String()
	}
	var sb strings.Builder
	started := false
	for p := a.top() - 1; p >= 0; p-- {
		b := a.byteAt(p)
		if !started {
			if b == 0 && p > 0 {
				continue
			}
			fmt.Fprintf(&sb, "%X", b)
			started = true
			continue
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	if !started {
		sb.WriteByte('0')
	}
	if a.dec > 0 {
		sb.WriteByte('.')
		frac := ""
		for p := -1; p >= -a.dec; p-- {
			frac += fmt.Sprintf("%02X", a.byteAt(p))
		}
		sb.WriteString(strings.TrimRight(frac, "0"))
	}
	return sb.String()
}
