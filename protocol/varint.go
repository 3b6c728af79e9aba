package protocol

import "encoding/binary"

// ZigZag maps signed integers onto unsigned ones so that small magnitudes
// stay short as varints.
func ZigZag(i int64) uint64 {
	return uint64(i<<1) ^ uint64(i>>63)
}

func UnZigZag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

func AppendVarint(into []byte, i int64) []byte {
	return binary.AppendUvarint(into, ZigZag(i))
}

// Varint reads a zigzag varint; ok is false on truncated or overlong input.
func Varint(data []byte) (i int64, rest []byte, ok bool) {
	u, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, data, false
	}
	return UnZigZag(u), data[n:], true
}

func Uvarint(data []byte) (u uint64, rest []byte, ok bool) {
	u, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, data, false
	}
	return u, data[n:], true
}
