package rtcm2

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelgps/gnssmux/session"
)

func TestParseStationCoordsType3(t *testing.T) {
	// header word1: type=3 (bits 0-5), station=7 (bits 6-15)
	// header word2: zcount=0 (bits 0-12), seqno=0 (bits 13-15), wordcount=4 (bits 16-20)
	header1 := orBits(make([]byte, wordBytes), 3, 0, 6)
	header1 = orBits(header1, 7, 6, 10)
	header2 := orBits(make([]byte, wordBytes), 4, 16, 5)

	body := make([]byte, 12) // 4 words x 3 bytes, covers 96 bits (X/Y/Z 32-bit each)
	putSigned32(body, 0, 123456)   // X = 1234.56 m
	putSigned32(body, 32, -789000) // Y = -7890.00 m
	putSigned32(body, 64, 50000)   // Z = 500.00 m

	frame := append([]byte{0x66}, header1...)
	frame = append(frame, header2...)
	frame = append(frame, body...)

	s := session.New("/dev/test", nil)
	d := New()
	mask := d.Parse(s, frame)

	require.True(t, mask.Has(session.UpdateECEF))
	require.InDelta(t, 1234.56, s.Fix.ECEFx, 1e-6)
	require.InDelta(t, -7890.0, s.Fix.ECEFy, 1e-6)
	require.InDelta(t, 500.0, s.Fix.ECEFz, 1e-6)
	require.Equal(t, 7, d.StationID())
}

func TestParseTruncatedFrameRecordsCounter(t *testing.T) {
	s := session.New("/dev/test", nil)
	d := New()
	mask := d.Parse(s, []byte{0x66, 0x01, 0x02})
	require.Zero(t, mask)
	require.EqualValues(t, 1, s.Stats().TruncatedPackets)
}

func TestParseSpecialMessageType16(t *testing.T) {
	header1 := orBits(make([]byte, wordBytes), 16, 0, 6)
	header1 = orBits(header1, 1, 6, 10)
	header2 := orBits(make([]byte, wordBytes), 1, 16, 5) // 1 body word

	body := []byte("OK\x00")

	frame := append([]byte{0x66}, header1...)
	frame = append(frame, header2...)
	frame = append(frame, body...)

	s := session.New("/dev/test", nil)
	d := New()
	d.Parse(s, frame)
	require.Equal(t, "OK", d.LastSpecialMessage())
}

// orBits sets a field of width bits starting at startBit (MSB-numbered)
// in word to value, matching internal/bits.Ubits's addressing so
// round-tripping through Parse recovers the same value.
func orBits(word []byte, value uint64, startBit, width int) []byte {
	for i := 0; i < width; i++ {
		bit := (value >> uint(width-1-i)) & 1
		pos := startBit + i
		byteIdx := pos / 8
		bitIdx := 7 - uint(pos%8)
		word[byteIdx] |= byte(bit << bitIdx)
	}
	return word
}

func putSigned32(buf []byte, startBit int, v int32) {
	u := uint64(uint32(v))
	for i := 0; i < 32; i++ {
		bit := (u >> uint(31-i)) & 1
		pos := startBit + i
		byteIdx := pos / 8
		bitIdx := 7 - uint(pos%8)
		buf[byteIdx] |= byte(bit << bitIdx)
	}
}
