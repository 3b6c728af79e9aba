package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTLVAppend(t *testing.T) {
	buf := []byte{}
	buf = Append(buf, 'A', []byte{'A'})
	buf = Append(buf, 'b', []byte{'B', 'B'})
	correct2 := []byte{'a', 1, 'A', 'b', 2, 'B', 'B'}
	assert.Equal(t, correct2, buf, "basic TLV fail")

	var c256 [256]byte
	for n := range c256 {
		c256[n] = 'c'
	}
	buf = Append(buf, 'C', c256[:])
	assert.Equal(t, len(correct2)+1+4+len(c256), len(buf))
	assert.Equal(t, uint8('C'), buf[len(correct2)])
	assert.Equal(t, uint8(1), buf[len(correct2)+2])

	lit, body, buf, err := TakeAnyWary(buf)
	assert.Nil(t, err)
	assert.Equal(t, uint8('A'), lit)
	assert.Equal(t, []byte{'A'}, body)

	body2, buf, err2 := TakeWary('B', buf)
	assert.Nil(t, err2)
	assert.Equal(t, []byte{'B', 'B'}, body2)

	lit, body, buf, err = TakeAnyWary(buf)
	assert.Nil(t, err)
	assert.Equal(t, uint8('C'), lit)
	assert.Len(t, body, 256)
	assert.Empty(t, buf)
}

func TestTakeErrors(t *testing.T) {
	_, _, _, err := TakeAnyWary(nil)
	assert.ErrorIs(t, err, ErrIncomplete)
	_, _, _, err = TakeAnyWary([]byte{'a', 5, 1})
	assert.ErrorIs(t, err, ErrIncomplete)
	_, _, _, err = TakeAnyWary([]byte{'!', 0})
	assert.ErrorIs(t, err, ErrBadRecord)
	_, _, err = TakeWary('B', Record('A'))
	assert.ErrorIs(t, err, ErrBadRecord)

	lit, body, rest, err := TakeAnyWary([]byte("2xyz"))
	assert.Nil(t, err)
	assert.Equal(t, uint8('0'), lit)
	assert.Equal(t, "xy", string(body))
	assert.Equal(t, "z", string(rest))
}

func TestFeedHeader(t *testing.T) {
	buf := []byte{}
	l, buf := OpenHeader(buf, 'A')
	text := "some text"
	buf = append(buf, text...)
	CloseHeader(buf, l)
	lit, body, rest, err := TakeAnyWary(buf)
	assert.Nil(t, err)
	assert.Equal(t, uint8('A'), lit)
	assert.Equal(t, text, string(body))
	assert.Equal(t, 0, len(rest))
}

func TestLit(t *testing.T) {
	assert.Equal(t, uint8('M'), Lit(Record('M', []byte("x"))))
	assert.Equal(t, uint8('L'), Lit(Record('L', make([]byte, 300))))
	assert.Equal(t, uint8('0'), Lit([]byte("3abc")))
	assert.Equal(t, uint8('-'), Lit([]byte{'!'}))
	assert.Equal(t, uint8(0), Lit(nil))
}

func TestVarint(t *testing.T) {
	for _, i := range []int64{0, 1, -1, 63, -64, 1 << 40, -(1 << 62)} {
		buf := AppendVarint(nil, i)
		j, rest, ok := Varint(buf)
		assert.True(t, ok)
		assert.Empty(t, rest)
		assert.Equal(t, i, j)
	}
	assert.Equal(t, uint64(1), ZigZag(-1))
	_, _, ok := Varint([]byte{0x80})
	assert.False(t, ok)
}

func TestPipeRelay(t *testing.T) {
	ctx := context.Background()
	var src, dst Pipe
	assert.Nil(t, src.Drain(ctx, Records{Record('A', []byte("x"))}))
	assert.Nil(t, src.Drain(ctx, Records{Record('B')}))
	assert.Equal(t, 2, src.Len())
	assert.Nil(t, Relay(ctx, &src, &dst))
	assert.Equal(t, 0, src.Len())
	recs, err := dst.Feed(ctx)
	assert.Nil(t, err)
	assert.Equal(t, Records{Record('A', []byte("x")), Record('B')}, recs)
	assert.Equal(t, int64(5), recs.TotalLen())
}
