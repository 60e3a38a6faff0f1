package ubx

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelgps/gnssmux/lexer"
	"github.com/kestrelgps/gnssmux/session"
)

// Scenario 3 (spec §8): a u-blox NAV-POSLLH frame decodes to the
// documented lat/lon/altitude values.
func TestParseNavPosLLHScenario3(t *testing.T) {
	payload := make([]byte, 28)
	binary.LittleEndian.PutUint32(payload[0:4], 100)
	binary.LittleEndian.PutUint32(payload[4:8], uint32(int32(115000000)))
	binary.LittleEndian.PutUint32(payload[8:12], uint32(int32(481173000)))
	binary.LittleEndian.PutUint32(payload[12:16], uint32(int32(545400)))
	binary.LittleEndian.PutUint32(payload[16:20], uint32(int32(498500)))
	binary.LittleEndian.PutUint32(payload[20:24], 2500)
	binary.LittleEndian.PutUint32(payload[24:28], 3500)

	frame := buildFrame(0x01, 0x02, payload)
	s := session.New("/dev/test", nil)
	d := New(lexer.PacketUBX)

	mask := d.Parse(s, frame)
	require.True(t, mask.Has(session.UpdateLatLon))
	require.True(t, mask.Has(session.UpdateAltitude))
	require.InDelta(t, 11.5, s.Fix.Lon, 1e-3)
	require.InDelta(t, 48.1173, s.Fix.Lat, 1e-3)
	require.InDelta(t, 545.4, s.Fix.AltHAE, 1e-6)
	require.InDelta(t, 498.5, s.Fix.AltMSL, 1e-6)
	require.Equal(t, uint32(100), d.itow)
}

func TestParseNavPosECEF(t *testing.T) {
	payload := make([]byte, 20)
	binary.LittleEndian.PutUint32(payload[0:4], 200)
	binary.LittleEndian.PutUint32(payload[4:8], uint32(int32(123400)))
	binary.LittleEndian.PutUint32(payload[8:12], uint32(int32(-456700)))
	binary.LittleEndian.PutUint32(payload[12:16], uint32(int32(789000)))
	binary.LittleEndian.PutUint32(payload[16:20], 150)

	frame := buildFrame(0x01, 0x01, payload)
	s := session.New("/dev/test", nil)
	d := New(lexer.PacketUBX)

	mask := d.Parse(s, frame)
	require.True(t, mask.Has(session.UpdateECEF))
	require.InDelta(t, 1234.0, s.Fix.ECEFx, 1e-6)
	require.InDelta(t, -4567.0, s.Fix.ECEFy, 1e-6)
	require.InDelta(t, 7890.0, s.Fix.ECEFz, 1e-6)
	require.InDelta(t, 1.5, s.Fix.PAcc, 1e-6)
}

func TestParseTruncatedPayloadRecordsCounterAndSkipsField(t *testing.T) {
	s := session.New("/dev/test", nil)
	d := New(lexer.PacketUBX)

	frame := buildFrame(0x01, 0x02, []byte{1, 2, 3}) // well under NAV-POSLLH's minimum
	mask := d.Parse(s, frame)

	require.Zero(t, mask)
	require.EqualValues(t, 1, s.Stats().TruncatedPackets)
	require.True(t, math.IsNaN(s.Fix.Lat), "truncated frame must not mutate the fix")
}

func TestAllystarSentinelSharesDecodeLogic(t *testing.T) {
	payload := make([]byte, 28)
	binary.LittleEndian.PutUint32(payload[8:12], uint32(int32(100000000)))

	frame := buildFrame(0x01, 0x02, payload)
	frame[0], frame[1] = 0xF1, 0xD9 // ALLYSTAR sync bytes; the checksum does not cover them
	s := session.New("/dev/test", nil)
	d := New(lexer.PacketAllystar)

	mask := d.Parse(s, frame)
	require.True(t, mask.Has(session.UpdateLatLon))
	require.Equal(t, lexer.PacketAllystar, d.Protocol())
}

func TestNavDOPScaling(t *testing.T) {
	payload := make([]byte, 18)
	binary.LittleEndian.PutUint32(payload[0:4], 50)
	binary.LittleEndian.PutUint16(payload[4:6], 250)  // gDOP 2.5
	binary.LittleEndian.PutUint16(payload[6:8], 150)  // pDOP 1.5
	binary.LittleEndian.PutUint16(payload[8:10], 100) // tDOP 1.0

	frame := buildFrame(0x01, 0x04, payload)
	s := session.New("/dev/test", nil)
	d := New(lexer.PacketUBX)

	mask := d.Parse(s, frame)
	require.True(t, mask.Has(session.UpdateDOP))
	require.InDelta(t, 2.5, s.DOP.Geometric, 1e-9)
	require.InDelta(t, 1.5, s.DOP.Position, 1e-9)
	require.InDelta(t, 1.0, s.DOP.Time, 1e-9)
}

// buildFrame assembles a well-formed u-blox binary frame with a correct
// Fletcher checksum, matching the lexer's own test fixture builder.
func buildFrame(cls, id byte, payload []byte) []byte {
	header := []byte{cls, id, byte(len(payload)), byte(len(payload) >> 8)}
	var ckA, ckB byte
	for _, b := range header {
		ckA += b
		ckB += ckA
	}
	for _, b := range payload {
		ckA += b
		ckB += ckA
	}
	frame := []byte{0xB5, 0x62}
	frame = append(frame, header...)
	frame = append(frame, payload...)
	frame = append(frame, ckA, ckB)
	return frame
}
