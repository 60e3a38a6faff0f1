// Package lexer implements the packet sniffer described in spec §4.3: a
// single byte-at-a-time state machine that simultaneously probes every
// supported wire framing, committing to the one whose prefix matches,
// verifying its checksum, and delivering a fully-delimited, tagged
// Packet. On any structural or checksum failure it discards the partial
// frame, returns to ground and rescans from the byte after the failed
// start sentinel.
package lexer

import (
	"github.com/sirupsen/logrus"

	"github.com/kestrelgps/gnssmux/internal/bits"
)

// Packet is a fully-delimited, checksum-verified frame tagged with its
// recognized protocol.
type Packet struct {
	Type PacketType
	Data []byte // the wire frame from its start sentinel through its checksum; a sentence's trailing \r\n is not included
}

type state int

const (
	stateGround state = iota
	stateText          // inside a '$'/'!' sentence, payload not yet closed
	stateTextStar      // saw '*', collecting the two checksum hex digits
	stateTextCR        // saw the first checksum hex digit
	stateUbxSync2      // saw 0xB5 or 0xF1, waiting for the second sync byte
	stateUbxHeader     // collecting class,id,len (4 bytes)
	stateUbxPayload
	stateUbxCk // collecting CK_A, CK_B
	stateRtcm3Len
	stateRtcm3Payload
	stateRtcm3Crc
	stateRtcm2Header // collecting the 2-word RTCM2 header
	stateRtcm2Payload
)

// IdentificationBound is the number of consecutive unrecognized bytes
// after which the lexer logs an identification warning (spec §7
// "identification" error, "typically 8 KiB"). The count then restarts
// and scanning continues; the lexer does not stop or go idle.
const IdentificationBound = 8192

// Lexer is the byte-at-a-time protocol sniffer. It is not safe for
// concurrent use; per spec §5 all session state, including the lexer,
// is touched only from the dispatcher's main loop.
type Lexer struct {
	log logrus.FieldLogger

	state state
	out   []byte // the emerging frame, the single outbuffer spec §4.3 describes

	// text-framing (NMEA/AIVDM) working state
	textSentinel byte // '$' or '!'
	textCk       byte // running XOR checksum
	textHexHi    byte

	// ubx/allystar working state
	ubxSync1, ubxSync2 byte // the two sentinel bytes actually seen, identifies UBX vs ALLYSTAR
	ubxLen             int
	ubxCkA, ubxCkB     byte

	// rtcm3 working state
	rtcm3Len int

	// rtcm2 working state: word count read from the header, each word
	// packaged as 3 payload bytes (see DESIGN.md for the packaging note)
	rtcm2WordCount int
	rtcm2WordsSeen int

	identBytesSinceSync int // bound on how long the lexer will stay in stateGround before an identification error
}

// Option configures a Lexer.
type Option func(*Lexer)

// WithLogger sets the structured logger used for identification/framing
// diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Lexer) { l.log = log }
}

// New constructs a Lexer ready to consume bytes from a device stream.
func New(opts ...Option) *Lexer {
	l := &Lexer{log: logrus.StandardLogger()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Feed pushes input bytes through the state machine and returns every
// packet completed while consuming them, in order. Feeding a buffer in
// one call produces exactly the same sequence of packets as feeding its
// bytes one at a time (spec §8's determinism property), because Feed
// never looks ahead past the current byte. When a partial frame is
// rejected, the bytes after its start sentinel, the rejecting byte
// included, are scanned again, so a frame that begins inside a rejected
// one is still found.
func (l *Lexer) Feed(data []byte) []Packet {
	var out []Packet
	pending := data
	for len(pending) > 0 {
		b := pending[0]
		pending = pending[1:]
		prev := l.out
		pkt, ok := l.feedByte(b)
		if ok {
			out = append(out, pkt)
			continue
		}
		if len(prev) > 0 && l.state == stateGround {
			replay := make([]byte, 0, len(prev)+len(pending))
			replay = append(append(replay, prev[1:]...), b)
			pending = append(replay, pending...)
		}
	}
	return out
}

func (l *Lexer) feedByte(b byte) (Packet, bool) {
	switch l.state {
	case stateGround:
		return l.ground(b)
	case stateText:
		return l.text(b)
	case stateTextStar:
		return l.textStar(b)
	case stateTextCR:
		return l.textCR(b)
	case stateUbxSync2:
		return l.ubxSync2State(b)
	case stateUbxHeader:
		return l.ubxHeader(b)
	case stateUbxPayload:
		return l.ubxPayload(b)
	case stateUbxCk:
		return l.ubxCk(b)
	case stateRtcm3Len:
		return l.rtcm3LenState(b)
	case stateRtcm3Payload:
		return l.rtcm3Payload(b)
	case stateRtcm3Crc:
		return l.rtcm3Crc(b)
	case stateRtcm2Header:
		return l.rtcm2Header(b)
	case stateRtcm2Payload:
		return l.rtcm2Payload(b)
	default:
		l.rewind()
		return Packet{}, false
	}
}

// ground inspects a byte with no committed framing yet, dispatching
// into whichever candidate state machine its prefix selects.
func (l *Lexer) ground(b byte) (Packet, bool) {
	switch b {
	case '$', '!':
		l.out = []byte{b}
		l.textSentinel = b
		l.textCk = 0
		l.state = stateText
	case 0xB5:
		l.out = []byte{b}
		l.ubxSync1 = b
		l.state = stateUbxSync2
	case 0xF1:
		l.out = []byte{b}
		l.ubxSync1 = b
		l.state = stateUbxSync2
	case 0xD3:
		l.out = []byte{b}
		l.state = stateRtcm3Len
	case 0x66:
		l.out = []byte{b}
		l.state = stateRtcm2Header
	default:
		l.identBytesSinceSync++
		if l.identBytesSinceSync >= IdentificationBound {
			l.log.Warn("identification: no framing recognized within bound, resetting")
			l.identBytesSinceSync = 0
		}
		return Packet{}, false
	}
	l.identBytesSinceSync = 0
	return Packet{}, false
}

// rewind discards the partial frame and returns to ground (spec §4.3
// point 4); Feed then rescans the discarded bytes from the one after the
// failed start sentinel.
func (l *Lexer) rewind() {
	l.out = nil
	l.state = stateGround
}

// --- NMEA / AIVDM text framing ---

func (l *Lexer) text(b byte) (Packet, bool) {
	if b == '*' {
		l.out = append(l.out, b)
		l.state = stateTextStar
		return Packet{}, false
	}
	if !printableSentenceByte(b) {
		l.rewind()
		return Packet{}, false
	}
	l.out = append(l.out, b)
	l.textCk ^= b
	return Packet{}, false
}

func printableSentenceByte(b byte) bool {
	return b >= 0x20 && b < 0x7F
}

func (l *Lexer) textStar(b byte) (Packet, bool) {
	if !isHex(b) {
		l.rewind()
		return Packet{}, false
	}
	l.out = append(l.out, b)
	l.textHexHi = b
	l.state = stateTextCR
	return Packet{}, false
}

func (l *Lexer) textCR(b byte) (Packet, bool) {
	if !isHex(b) {
		l.rewind()
		return Packet{}, false
	}
	l.out = append(l.out, b)
	want := hexByte(l.textHexHi, b)
	if want != l.textCk {
		l.rewind()
		return Packet{}, false
	}
	// The \r\n terminator is not required (some devices omit it under
	// load) and is not part of the frame: the frame is complete at the
	// second checksum digit, and a following \r\n is skipped in ground.
	l.state = stateGround
	frame := l.out
	l.out = nil
	typ := PacketNMEA
	if l.textSentinel == '!' {
		typ = PacketAIVDM
	}
	return Packet{Type: typ, Data: frame}, true
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'F') || (b >= 'a' && b <= 'f')
}

func hexVal(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10
	default:
		return b - 'a' + 10
	}
}

func hexByte(hi, lo byte) byte {
	return hexVal(hi)<<4 | hexVal(lo)
}

// --- u-blox / ALLYSTAR binary framing ---
// Both share the class/id/lenLE/payload/CK_A/CK_B shape; only the two
// sync bytes differ (0xB5 0x62 for u-blox, 0xF1 0xD9 for ALLYSTAR).

func (l *Lexer) ubxSync2State(b byte) (Packet, bool) {
	switch l.ubxSync1 {
	case 0xB5:
		if b != 0x62 {
			l.rewind()
			return Packet{}, false
		}
	case 0xF1:
		if b != 0xD9 {
			l.rewind()
			return Packet{}, false
		}
	}
	l.ubxSync2 = b
	l.out = append(l.out, b)
	l.state = stateUbxHeader
	return Packet{}, false
}

func (l *Lexer) ubxHeader(b byte) (Packet, bool) {
	l.out = append(l.out, b)
	if len(l.out) < 6 { // sync1 sync2 cls id lenLo lenHi
		return Packet{}, false
	}
	l.ubxLen = int(l.out[4]) | int(l.out[5])<<8
	if l.ubxLen > 65535-8 {
		l.rewind()
		return Packet{}, false
	}
	l.ubxCkA, l.ubxCkB = fletcherUpdate(0, 0, l.out[2:6])
	if l.ubxLen == 0 {
		l.state = stateUbxCk
		return Packet{}, false
	}
	l.state = stateUbxPayload
	return Packet{}, false
}

func (l *Lexer) ubxPayload(b byte) (Packet, bool) {
	l.out = append(l.out, b)
	l.ubxCkA, l.ubxCkB = fletcherUpdate(l.ubxCkA, l.ubxCkB, []byte{b})
	if len(l.out)-6 >= l.ubxLen {
		l.state = stateUbxCk
	}
	return Packet{}, false
}

func (l *Lexer) ubxCk(b byte) (Packet, bool) {
	l.out = append(l.out, b)
	n := len(l.out)
	if n < 6+l.ubxLen+2 {
		return Packet{}, false
	}
	gotA, gotB := l.out[n-2], l.out[n-1]
	if gotA != l.ubxCkA || gotB != l.ubxCkB {
		l.rewind()
		return Packet{}, false
	}
	l.state = stateGround
	frame := l.out
	l.out = nil
	typ := PacketUBX
	if l.ubxSync1 == 0xF1 {
		typ = PacketAllystar
	}
	return Packet{Type: typ, Data: frame}, true
}

// fletcherUpdate advances the 8-bit Fletcher accumulator u-blox/ALLYSTAR
// use over cls,id,len,payload.
func fletcherUpdate(ckA, ckB byte, data []byte) (byte, byte) {
	for _, b := range data {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// --- RTCM3 framing: 0xD3 lenBE(10 bits, top 6 reserved) payload CRC24Q ---

func (l *Lexer) rtcm3LenState(b byte) (Packet, bool) {
	l.out = append(l.out, b)
	if len(l.out) < 3 {
		return Packet{}, false
	}
	l.rtcm3Len = int(bits.Ubits(l.out, 14, 10, false))
	l.state = stateRtcm3Payload
	if l.rtcm3Len == 0 {
		l.state = stateRtcm3Crc
	}
	return Packet{}, false
}

func (l *Lexer) rtcm3Payload(b byte) (Packet, bool) {
	l.out = append(l.out, b)
	if len(l.out)-3 >= l.rtcm3Len {
		l.state = stateRtcm3Crc
	}
	return Packet{}, false
}

func (l *Lexer) rtcm3Crc(b byte) (Packet, bool) {
	l.out = append(l.out, b)
	n := len(l.out)
	if n < 3+l.rtcm3Len+3 {
		return Packet{}, false
	}
	covered := l.out[:n-3]
	want := crc24q(covered)
	got := uint32(l.out[n-3])<<16 | uint32(l.out[n-2])<<8 | uint32(l.out[n-1])
	if want != got {
		l.rewind()
		return Packet{}, false
	}
	l.state = stateGround
	frame := l.out
	l.out = nil
	return Packet{Type: PacketRTCM3, Data: frame}, true
}

// --- RTCM2: legacy word-oriented framing ---
// See DESIGN.md for the byte-packaging convention used here: each
// 30-bit word is carried as 3 payload bytes (the low-order 24 data
// bits), matching how most serial RTCM2 feeds are already de-parity'd
// by the receiver before reaching the host.

func (l *Lexer) rtcm2Header(b byte) (Packet, bool) {
	l.out = append(l.out, b)
	if len(l.out) < 1+3+3 { // preamble byte + header word1(3) + header word2(3)
		return Packet{}, false
	}
	// The frame word count is bits 16-20 of header word 2, i.e. the top
	// five bits of its third byte in the 3-byte word packaging (see
	// DESIGN.md); driver/rtcm2 reads the same field.
	l.rtcm2WordCount = int(l.out[len(l.out)-1]>>3) & 0x1F
	if l.rtcm2WordCount == 0 {
		l.rewind()
		return Packet{}, false
	}
	l.rtcm2WordsSeen = 0
	l.state = stateRtcm2Payload
	return Packet{}, false
}

func (l *Lexer) rtcm2Payload(b byte) (Packet, bool) {
	l.out = append(l.out, b)
	headerBytes := 1 + 3 + 3
	payloadBytes := len(l.out) - headerBytes
	if payloadBytes <= 0 || payloadBytes%3 != 0 {
		return Packet{}, false
	}
	l.rtcm2WordsSeen = payloadBytes / 3
	if l.rtcm2WordsSeen < l.rtcm2WordCount {
		return Packet{}, false
	}
	if !rtcm2ParityOK(l.out) {
		l.rewind()
		return Packet{}, false
	}
	l.state = stateGround
	frame := l.out
	l.out = nil
	return Packet{Type: PacketRTCM2, Data: frame}, true
}
