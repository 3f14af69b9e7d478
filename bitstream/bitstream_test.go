package bitstream_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Urethramancer/evm2/bitstream"
)

func TestReadBitsMSBFirst(t *testing.T) {
	r := bitstream.NewReader([]byte{0x11, 0x02, 0xff})
	steps := []struct {
		n    int
		want uint64
	}{
		{1, 0},
		{3, 0b001},
		{3, 0b000},
		{3, 0b100},
		{8, 0b00001011},
		{6, 0b111111},
	}
	for i, s := range steps {
		got, err := r.ReadBits(s.n)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, s.want, got, "step %d", i)
	}
	assert.Zero(t, r.Remaining())

	_, err := r.ReadBits(1)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadLittleEndianFields(t *testing.T) {
	r := bitstream.NewReader([]byte{0x01, 0xff, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01})
	v, err := r.ReadBitsLSB(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x80), v)
	v, err = r.ReadBitsLSB(16)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x00ff), v)
	v, err = r.ReadBitsLSB(32)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x80), v)
	_, err = r.ReadBitsLSB(16)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, uint64(56), r.Pos(), "failed read must not consume")
}

func TestReadUnalignedFields(t *testing.T) {
	r := bitstream.NewReader([]byte{0b10100000, 0b00000011, 0b00000011, 0b00000011})
	v, err := r.ReadBits(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b10), v)
	v, err = r.ReadBitsLSB(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
	v, err = r.ReadBitsLSB(16)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x3030), v)
	v, err = r.ReadBits(6)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b000011), v)
	_, err = r.ReadBitsLSB(64)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWriterMirrorsReader(t *testing.T) {
	w := bitstream.NewWriter()
	w.WriteBits(0b01101, 5)
	w.WriteBitsLSB(0xdeadbeef, 32)
	w.WriteBit(1)
	w.WriteUint(0x1234, 2)
	assert.Equal(t, uint64(54), w.Len())
	assert.Len(t, w.Bytes(), 7)

	r := bitstream.NewReader(w.Bytes())
	v, err := r.ReadBits(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b01101), v)
	v, err = r.ReadBitsLSB(32)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), v)
	b, err := r.ReadBit()
	require.NoError(t, err)
	assert.Equal(t, uint(1), b)
	v, err = r.ReadUint(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), v)
	assert.True(t, r.ZeroTail())
}

func TestAlignedWritesAreLittleEndianBytes(t *testing.T) {
	w := bitstream.NewWriter()
	w.WriteUint(0x11223344, 4)
	_, _ = w.Write([]byte{0xaa})
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11, 0xaa}, w.Bytes())
}

func TestZeroTail(t *testing.T) {
	r := bitstream.NewReader([]byte{0xf0, 0x01})
	r.Seek(4)
	assert.False(t, r.ZeroTail())
	r.Seek(16)
	assert.True(t, r.ZeroTail())
}
