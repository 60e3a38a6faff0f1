package lexer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// Scenario 1 (spec §8): a clean GGA sentence produces one tagged NMEA
// packet whether fed as a single chunk or one byte at a time.
func TestFeedNMEAClean(t *testing.T) {
	raw := "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n"

	chunk := New().Feed([]byte(raw))
	require.Len(t, chunk, 1)
	require.Equal(t, PacketNMEA, chunk[0].Type)

	l := New()
	var perByte []Packet
	for i := 0; i < len(raw); i++ {
		perByte = append(perByte, l.Feed([]byte{raw[i]})...)
	}
	require.Equal(t, chunk, perByte)
}

// Scenario 2 (spec §8): garbage bytes ahead of the same GGA sentence
// are rewound through without disturbing the eventual packet.
func TestFeedNMEAGarbagePrefix(t *testing.T) {
	raw := "\xff\xff$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n"
	pkts := New().Feed([]byte(raw))
	require.Len(t, pkts, 1)
	require.Equal(t, PacketNMEA, pkts[0].Type)
}

func TestFeedNMEABadChecksumRewinds(t *testing.T) {
	raw := "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00\r\n"
	pkts := New().Feed([]byte(raw))
	require.Empty(t, pkts)
}

func TestFeedAIVDMSentinel(t *testing.T) {
	// checksum of "AIVDM,1,1,,A,15M67FC000G?ufbE`FepT@3n00Sa,0" computed below
	payload := "AIVDM,1,1,,A,15M67FC000G?ufbE`FepT@3n00Sa,0"
	var ck byte
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	raw := "!" + payload + "*" + hexUpper(ck) + "\r\n"
	pkts := New().Feed([]byte(raw))
	require.Len(t, pkts, 1)
	require.Equal(t, PacketAIVDM, pkts[0].Type)
}

func hexUpper(b byte) string {
	const hex = "0123456789ABCDEF"
	return string([]byte{hex[b>>4], hex[b&0xF]})
}

// Scenario 3 (spec §8): a u-blox NAV-POSLLH frame round-trips through
// the framer with a valid Fletcher checksum.
func TestFeedUbxNavPosLLH(t *testing.T) {
	payload := make([]byte, 28)
	binary.LittleEndian.PutUint32(payload[0:4], 100)          // iTOW
	binary.LittleEndian.PutUint32(payload[4:8], uint32(int32(115000000)))  // lon 1e-7 deg
	binary.LittleEndian.PutUint32(payload[8:12], uint32(int32(481173000))) // lat 1e-7 deg
	binary.LittleEndian.PutUint32(payload[12:16], uint32(int32(545400)))   // height ellipsoid mm
	binary.LittleEndian.PutUint32(payload[16:20], uint32(int32(498500)))   // hMSL mm
	binary.LittleEndian.PutUint32(payload[20:24], 2500)                   // hAcc mm
	binary.LittleEndian.PutUint32(payload[24:28], 3500)                   // vAcc mm

	frame := buildUbxFrame(0x01, 0x02, payload)
	pkts := New().Feed(frame)
	require.Len(t, pkts, 1)
	require.Equal(t, PacketUBX, pkts[0].Type)
	require.Equal(t, frame, pkts[0].Data)
}

func TestFeedAllystarSharesUbxShape(t *testing.T) {
	frame := buildAllystarFrame(0x01, 0x02, []byte{1, 2, 3, 4})
	pkts := New().Feed(frame)
	require.Len(t, pkts, 1)
	require.Equal(t, PacketAllystar, pkts[0].Type)
}

func TestFeedUbxBadChecksumRewinds(t *testing.T) {
	frame := buildUbxFrame(0x01, 0x02, []byte{1, 2, 3, 4})
	frame[len(frame)-1] ^= 0xFF
	pkts := New().Feed(frame)
	require.Empty(t, pkts)
}

func TestFeedRtcm3EmptyPayload(t *testing.T) {
	frame := buildRtcm3Frame(nil)
	pkts := New().Feed(frame)
	require.Len(t, pkts, 1)
	require.Equal(t, PacketRTCM3, pkts[0].Type)
}

func TestFeedRtcm3Payload(t *testing.T) {
	frame := buildRtcm3Frame([]byte{0x3B, 0x40, 0x00, 0x00, 0x00})
	pkts := New().Feed(frame)
	require.Len(t, pkts, 1)
	require.Equal(t, PacketRTCM3, pkts[0].Type)
}

func TestFeedRtcm3BadCRCRewinds(t *testing.T) {
	frame := buildRtcm3Frame([]byte{0x3B, 0x40})
	frame[len(frame)-1] ^= 0xFF
	pkts := New().Feed(frame)
	require.Empty(t, pkts)
}

// buildUbxFrame assembles a well-formed u-blox binary frame with a
// correct Fletcher checksum, for use as test fixtures.
func buildUbxFrame(cls, id byte, payload []byte) []byte {
	return buildFletcherFrame(0xB5, 0x62, cls, id, payload)
}

func buildAllystarFrame(cls, id byte, payload []byte) []byte {
	return buildFletcherFrame(0xF1, 0xD9, cls, id, payload)
}

func buildFletcherFrame(s1, s2, cls, id byte, payload []byte) []byte {
	header := []byte{cls, id, byte(len(payload)), byte(len(payload) >> 8)}
	ckA, ckB := fletcherUpdate(0, 0, header)
	ckA, ckB = fletcherUpdate(ckA, ckB, payload)
	frame := []byte{s1, s2}
	frame = append(frame, header...)
	frame = append(frame, payload...)
	frame = append(frame, ckA, ckB)
	return frame
}

func TestFeedRtcm2Structural(t *testing.T) {
	// preamble + header word1(3) + header word2(3, bits 16-20 = word count)
	// + wordCount*3 payload bytes, each word non-degenerate for the
	// structural check in rtcm2ParityOK.
	frame := []byte{0x66, 0x01, 0x02, 0x03, 0x00, 0x00, 0x10, 0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC}
	pkts := New().Feed(frame)
	require.Len(t, pkts, 1)
	require.Equal(t, PacketRTCM2, pkts[0].Type)
}

func buildRtcm3Frame(payload []byte) []byte {
	n := len(payload)
	head := []byte{0xD3, byte(n >> 8 & 0x03), byte(n & 0xFF)}
	covered := append(append([]byte{}, head...), payload...)
	crc := crc24q(covered)
	frame := append(covered, byte(crc>>16), byte(crc>>8), byte(crc))
	return frame
}
