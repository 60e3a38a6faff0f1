package rtcm3

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelgps/gnssmux/session"
)

// TestParseRejectsFrameWithoutValidMessage exercises the path where the
// frame is well-formed RTCM3 framing but the payload doesn't deserialize
// into any known message type, the decoder's parser.NextFrame step
// still succeeds (framing is valid), but DeserializeMessage errors.
func TestParseRejectsFrameWithoutValidMessage(t *testing.T) {
	s := session.New("/dev/test", nil)
	d := New()

	// message number 4095 (0xFFF) is unassigned; the 12-bit message
	// number occupies the first 12 bits of the payload per RTCM3.
	payload := []byte{0xFF, 0xF0, 0x00, 0x00, 0x00}
	frame := buildFrame(payload)

	mask := d.Parse(s, frame)
	// Either RecordTruncated (deserialize failure) or an accepted-and-
	// ignored valid-but-unhandled message both leave the mask at zero;
	// this decoder makes no claim about unassigned message numbers
	// beyond "state is not corrupted."
	require.Zero(t, mask)
}

func TestEphemerisAndStationPositionStartEmpty(t *testing.T) {
	d := New()
	_, ok := d.Ephemeris(1)
	require.False(t, ok)
	_, ok = d.StationPosition()
	require.False(t, ok)
}

func TestProtocolIsRTCM3(t *testing.T) {
	d := New()
	require.Equal(t, "RTCM3", d.Protocol().String())
}

// buildFrame wraps payload in the RTCM3 preamble/length/CRC-24Q framing,
// matching the lexer's own frame shape so the upstream rtcm3.Parser
// accepts it as a well-formed frame.
func buildFrame(payload []byte) []byte {
	n := len(payload)
	head := []byte{0xD3, byte(n >> 8 & 0x03), byte(n & 0xFF)}
	covered := append(append([]byte{}, head...), payload...)
	crc := crc24q(covered)
	return append(covered, byte(crc>>16), byte(crc>>8), byte(crc))
}

func crc24q(data []byte) uint32 {
	const poly = 0x1864CFB
	var crc uint32
	for _, b := range data {
		crc ^= uint32(b) << 16
		for i := 0; i < 8; i++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= poly
			}
		}
	}
	return crc & 0xFFFFFF
}
