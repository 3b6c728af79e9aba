// Record framing is based on ToyTLV (MIT licence) written by Victor Grishchenko in 2024
// Original project: https://github.com/learn-decentralized-systems/toytlv

/*
Package protocol frames values as TLV (Type-Length-Value) records.

# Record Format

A record type is a letter A-Z. Two header forms exist:

 1. Short (2 bytes), body up to 255 bytes:
    [lowercase_type, body_length]

 2. Long (5 bytes), body up to 2GB:
    [uppercase_type, length_as_4byte_little_endian]

Legacy tiny headers ('0'..'9', body up to 9 bytes, type dropped) are still
understood on read but never written.

# Nesting

Records nest freely: a body is itself a sequence of records. For bodies of
unknown size use the streaming pair:

	bookmark, buf := OpenHeader(buf, 'O')
	buf = Append(buf, 'S', []byte("key"))
	CloseHeader(buf, bookmark)

# Parsing

TakeWary and TakeAnyWary return ErrIncomplete for a record cut short and
ErrBadRecord for anything that is not a record of the wanted type.
*/
package protocol

import (
	"encoding/binary"
	"errors"
)

const caseBit uint8 = 'a' - 'A'

var (
	ErrIncomplete = errors.New("incomplete data")
	ErrBadRecord  = errors.New("bad TLV record format")
)

// readHeader reads a record header.
// lit is 'A'-'Z', '0' for tiny, '-' for garbage and 0 when the header is cut short.
func readHeader(data []byte) (lit byte, hdrlen, bodylen int) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	dlit := data[0]
	switch {
	case dlit >= '0' && dlit <= '9':
		return '0', 1, int(dlit - '0')
	case dlit >= 'a' && dlit <= 'z':
		if len(data) < 2 {
			return 0, 0, 0
		}
		return dlit - caseBit, 2, int(data[1])
	case dlit >= 'A' && dlit <= 'Z':
		if len(data) < 5 {
			return 0, 0, 0
		}
		bl := binary.LittleEndian.Uint32(data[1:5])
		if bl > 0x7fffffff {
			return '-', 0, 0
		}
		return dlit, 5, int(bl)
	default:
		return '-', 0, 0
	}
}

// appendHeader appends a short or long header, whichever fits.
func appendHeader(into []byte, lit byte, bodylen int) []byte {
	biglit := lit &^ caseBit
	if biglit < 'A' || biglit > 'Z' {
		panic("TLV record type is A..Z")
	}
	if bodylen > 0xff {
		if bodylen > 0x7fffffff {
			panic("oversized TLV record")
		}
		into = append(into, biglit)
		return binary.LittleEndian.AppendUint32(into, uint32(bodylen))
	}
	return append(into, biglit|caseBit, byte(bodylen))
}

func TakeWary(lit byte, data []byte) (body, rest []byte, err error) {
	flit, hdrlen, bodylen := readHeader(data)
	if flit == 0 || hdrlen+bodylen > len(data) {
		return nil, data, ErrIncomplete
	}
	if flit == '-' || (flit != lit && flit != '0') {
		return nil, nil, ErrBadRecord
	}
	return data[hdrlen : hdrlen+bodylen], data[hdrlen+bodylen:], nil
}

func TakeAnyWary(data []byte) (lit byte, body, rest []byte, err error) {
	lit, hdrlen, bodylen := readHeader(data)
	switch {
	case lit == 0 || hdrlen+bodylen > len(data):
		return 0, nil, data, ErrIncomplete
	case lit == '-':
		return 0, nil, nil, ErrBadRecord
	}
	return lit, data[hdrlen : hdrlen+bodylen], data[hdrlen+bodylen:], nil
}

// Lit returns the record type of rec: 'A'-'Z', '0' for tiny, '-' for
// garbage and 0 for nothing at all.
func Lit(rec []byte) byte {
	if len(rec) == 0 {
		return 0
	}
	b := rec[0]
	switch {
	case b >= 'a' && b <= 'z':
		return b - caseBit
	case b >= 'A' && b <= 'Z':
		return b
	case b >= '0' && b <= '9':
		return '0'
	default:
		return '-'
	}
}

func totalLen(inputs [][]byte) (sum int) {
	for _, input := range inputs {
		sum += len(input)
	}
	return
}

// Append appends a complete record built from the body parts.
func Append(into []byte, lit byte, body ...[]byte) []byte {
	into = appendHeader(into, lit, totalLen(body))
	for _, b := range body {
		into = append(into, b...)
	}
	return into
}

func Record(lit byte, body ...[]byte) []byte {
	return Append(make([]byte, 0, totalLen(body)+5), lit, body...)
}

// OpenHeader starts a long-form record whose length is filled in by CloseHeader.
func OpenHeader(buf []byte, lit byte) (bookmark int, res []byte) {
	lit &= ^caseBit
	if lit < 'A' || lit > 'Z' {
		panic("TLV liters are uppercase A-Z")
	}
	res = append(buf, lit, 0, 0, 0, 0)
	return len(res), res
}

func CloseHeader(buf []byte, bookmark int) {
	if bookmark < 5 || len(buf) < bookmark {
		panic("check the API docs")
	}
	binary.LittleEndian.PutUint32(buf[bookmark-4:bookmark], uint32(len(buf)-bookmark))
}
