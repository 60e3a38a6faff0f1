// Package aivdm decodes AIVDM/AIVDO AIS sentences (spec §4.4): extracts
// the NMEA envelope, reassembles multi-sentence payloads keyed by
// (fragment-count, sequential-id, radio-channel), with the fragment
// number selecting the slot, decodes the 6-bit ASCII-armored payload, and
// publishes AIS message records keyed by MMSI.
//
// Grounded on other_examples' AIS decoder (get_bit/get_field bit-vector
// helpers and message type catalogue) for the field layout of message
// types 1/2/3 (class A position report), 5 (static voyage data), and 18
// (class B position report). Per spec's open question (§9), the
// 6-bit-ASCII de-armoring here follows the canonical ITU-R M.1371
// table (subtract 48, then subtract a further 8 above 40) rather than
// porting the reference decoder's double-0x28 branch verbatim.
package aivdm

import (
	"strings"

	"github.com/kestrelgps/gnssmux/internal/bits"
	"github.com/kestrelgps/gnssmux/lexer"
	"github.com/kestrelgps/gnssmux/session"
)

// fragmentKey identifies one in-progress multi-part AIS message.
type fragmentKey struct {
	total   int
	seqID   int
	channel string
}

// Message is a decoded AIS report keyed by MMSI.
type Message struct {
	Type      int
	MMSI      int
	Lat, Lon  float64
	SOG       float64 // knots
	COG       float64 // degrees
	TrueHdg   int
	ShipName  string
	NavStatus int
}

// Driver is the AIVDM/AIVDO session.Driver.
type Driver struct {
	session.BaseDriver

	pending map[fragmentKey][]string
	last    map[int]Message // by MMSI
}

// New constructs an AIS decoder.
func New() *Driver {
	return &Driver{
		pending: make(map[fragmentKey][]string),
		last:    make(map[int]Message),
	}
}

func (d *Driver) Protocol() lexer.PacketType { return lexer.PacketAIVDM }

// Parse implements session.Driver. frame is one complete, checksum
// verified AIVDM/AIVDO sentence, "!"-prefixed and ending at the "*HH"
// checksum (the lexer does not include a trailing \r\n).
func (d *Driver) Parse(s *session.Session, frame []byte) session.UpdateMask {
	body := strings.TrimRight(string(frame), "\r\n")
	star := strings.LastIndexByte(body, '*')
	if star < 0 {
		s.RecordTruncated()
		return 0
	}
	body = body[1:star] // drop leading '!' and trailing checksum

	fields := strings.Split(body, ",")
	if len(fields) < 6 {
		s.RecordTruncated()
		return 0
	}

	total := atoiOr(fields[1], 1)
	fragNum := atoiOr(fields[2], 1)
	seqID := atoiOr(fields[3], 0)
	channel := fields[4]
	payload := fields[5]

	key := fragmentKey{total: total, seqID: seqID, channel: channel}
	d.pending[key] = appendFragment(d.pending[key], fragNum, payload)

	if len(d.pending[key]) != total || !allPresent(d.pending[key]) {
		return 0
	}
	full := strings.Join(d.pending[key], "")
	delete(d.pending, key)

	return d.decodePayload(s, full)
}

func appendFragment(frags []string, fragNum int, payload string) []string {
	for len(frags) < fragNum {
		frags = append(frags, "")
	}
	frags[fragNum-1] = payload
	return frags
}

func allPresent(frags []string) bool {
	for _, f := range frags {
		if f == "" {
			return false
		}
	}
	return true
}

func atoiOr(s string, fallback int) int {
	n := 0
	if s == "" {
		return fallback
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// decodePayload de-armors the 6-bit ASCII payload into a bit vector and
// dispatches to the per-message-type field extraction.
func (d *Driver) decodePayload(s *session.Session, armored string) session.UpdateMask {
	bitstream := deArmor(armored)
	if len(bitstream)*8 < 38 {
		s.RecordTruncated()
		return 0
	}

	msgType := int(bits.Ubits(bitstream, 0, 6, false))
	mmsi := int(bits.Ubits(bitstream, 8, 30, false))

	switch msgType {
	case 1, 2, 3:
		return d.applyClassAPosition(s, bitstream, msgType, mmsi)
	case 5:
		return d.applyStaticData(s, bitstream, mmsi)
	case 18:
		return d.applyClassBPosition(s, bitstream, mmsi)
	default:
		d.last[mmsi] = Message{Type: msgType, MMSI: mmsi}
		return 0
	}
}

// applyClassAPosition decodes message types 1/2/3 (168 bits): nav
// status, lon/lat (1/10000 minute units), SOG (0.1 knot), COG
// (0.1 degree), true heading.
func (d *Driver) applyClassAPosition(s *session.Session, bitstream []byte, msgType, mmsi int) session.UpdateMask {
	if len(bitstream)*8 < 168 {
		s.RecordTruncated()
		return 0
	}
	navStatus := int(bits.Ubits(bitstream, 38, 4, false))
	sog := float64(bits.Ubits(bitstream, 50, 10, false)) / 10.0
	lon := float64(bits.Sbits(bitstream, 61, 28, false)) / 600000.0
	lat := float64(bits.Sbits(bitstream, 89, 27, false)) / 600000.0
	cog := float64(bits.Ubits(bitstream, 116, 12, false)) / 10.0
	trueHdg := int(bits.Ubits(bitstream, 128, 9, false))

	d.last[mmsi] = Message{
		Type: msgType, MMSI: mmsi, NavStatus: navStatus,
		Lat: lat, Lon: lon, SOG: sog, COG: cog, TrueHdg: trueHdg,
	}
	return session.UpdateLatLon | session.UpdateSpeed | session.UpdateTrack
}

// applyClassBPosition decodes message type 18 (168 bits), the
// simplified class B equivalent of 1/2/3.
func (d *Driver) applyClassBPosition(s *session.Session, bitstream []byte, mmsi int) session.UpdateMask {
	if len(bitstream)*8 < 168 {
		s.RecordTruncated()
		return 0
	}
	sog := float64(bits.Ubits(bitstream, 46, 10, false)) / 10.0
	lon := float64(bits.Sbits(bitstream, 57, 28, false)) / 600000.0
	lat := float64(bits.Sbits(bitstream, 85, 27, false)) / 600000.0
	cog := float64(bits.Ubits(bitstream, 112, 12, false)) / 10.0
	trueHdg := int(bits.Ubits(bitstream, 124, 9, false))

	d.last[mmsi] = Message{
		Type: 18, MMSI: mmsi,
		Lat: lat, Lon: lon, SOG: sog, COG: cog, TrueHdg: trueHdg,
	}
	return session.UpdateLatLon | session.UpdateSpeed | session.UpdateTrack
}

// applyStaticData decodes message type 5's ship name field (20 sixbit
// characters starting at bit 112), the only field this decoder surfaces.
func (d *Driver) applyStaticData(s *session.Session, bitstream []byte, mmsi int) session.UpdateMask {
	if len(bitstream)*8 < 112+120 {
		s.RecordTruncated()
		return 0
	}
	name := decodeSixbitString(bitstream, 112, 20)
	msg := d.last[mmsi]
	msg.Type = 5
	msg.MMSI = mmsi
	msg.ShipName = name
	d.last[mmsi] = msg
	return 0
}

// decodeSixbitString reads count 6-bit characters starting at startBit
// and maps them through the AIS sixbit-ASCII alphabet, trimming
// trailing '@' padding.
func decodeSixbitString(bitstream []byte, startBit, count int) string {
	var sb strings.Builder
	for i := 0; i < count; i++ {
		v := bits.Ubits(bitstream, startBit+i*6, 6, false)
		sb.WriteByte(sixbitChar(byte(v)))
	}
	return strings.TrimRight(sb.String(), "@ ")
}

func sixbitChar(v byte) byte {
	if v < 32 {
		return v + '@'
	}
	return v
}

// Last returns the most recently decoded message for an MMSI.
func (d *Driver) Last(mmsi int) (Message, bool) {
	m, ok := d.last[mmsi]
	return m, ok
}

// deArmor converts the AIVDM 6-bit ASCII payload into a packed bit
// vector, per the canonical ITU-R M.1371 table: subtract 48; if the
// result exceeds 40, subtract a further 8.
func deArmor(armored string) []byte {
	out := make([]byte, (len(armored)*6+7)/8)
	bitPos := 0
	for i := 0; i < len(armored); i++ {
		c := armored[i] - 48
		if c > 40 {
			c -= 8
		}
		for b := 5; b >= 0; b-- {
			if c&(1<<uint(b)) != 0 {
				byteIdx := bitPos / 8
				bitIdx := 7 - uint(bitPos%8)
				out[byteIdx] |= 1 << bitIdx
			}
			bitPos++
		}
	}
	return out
}
