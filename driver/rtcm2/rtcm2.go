// Package rtcm2 decodes the legacy RTCM SC-104 version 2 bit-packed
// 30-bit-word format (spec §4.4, "RTCM2 | Bit-packed 30-bit words |
// per-word parity"). The lexer (see DESIGN.md) delivers frames packaged
// three bytes per word rather than the wire's raw 30 data + 6 parity
// bits, so this decoder's bit offsets are expressed against that
// simplified packaging, not the original SC-104 bit stream.
//
// Grounded on internal/bits for field extraction and
// other_examples/ab54acda_FengXuebin-gnssgo__src-rtcm2.go.go for the
// message-type catalogue and per-type field layout (type 1 differential
// corrections, type 3 reference station parameters, type 16 special
// message text) this decoder implements.
package rtcm2

import (
	"github.com/kestrelgps/gnssmux/internal/bits"
	"github.com/kestrelgps/gnssmux/lexer"
	"github.com/kestrelgps/gnssmux/session"
)

const wordBytes = 3

// Driver is the RTCM2 session.Driver.
type Driver struct {
	session.BaseDriver

	stationID int
	zCount    float64
	seqNo     int
	lastText  string
}

// New constructs an RTCM2 decoder.
func New() *Driver { return &Driver{} }

func (d *Driver) Protocol() lexer.PacketType { return lexer.PacketRTCM2 }

// Parse implements session.Driver. frame is the lexer's packaged RTCM2
// frame: a leading preamble byte followed by two 3-byte header words
// and the message body, also packaged 3 bytes per word.
func (d *Driver) Parse(s *session.Session, frame []byte) session.UpdateMask {
	const headerBytes = 1 + 2*wordBytes
	if len(frame) < headerBytes {
		s.RecordTruncated()
		return 0
	}
	header1 := frame[1 : 1+wordBytes]
	header2 := frame[1+wordBytes : 1+2*wordBytes]

	msgType := int(bits.Ubits(header1, 0, 6, false))
	d.stationID = int(bits.Ubits(header1, 6, 10, false))
	d.zCount = float64(bits.Ubits(header2, 0, 13, false)) * 0.6
	d.seqNo = int(bits.Ubits(header2, 13, 3, false))
	wordCount := int(bits.Ubits(header2, 16, 5, false))

	body := frame[headerBytes:]
	need := wordCount * wordBytes
	if len(body) < need {
		s.RecordTruncated()
		return 0
	}
	body = body[:need]

	switch msgType {
	case 1, 9:
		return d.applyCorrections(s, body)
	case 3:
		return d.applyStationCoords(s, body)
	case 16:
		return d.applySpecialMessage(s, body)
	default:
		// Accepted and ignored: type recognized by the catalogue but no
		// field mapping is implemented for it yet.
		return 0
	}
}

// applyCorrections decodes type 1/9 differential GPS corrections: a
// sequence of 40-bit satellite correction records (scale factor,
// UDRE, PRN, PRC, RRC, IOD), each packed across two words in this
// packaging convention.
func (d *Driver) applyCorrections(s *session.Session, body []byte) session.UpdateMask {
	const recordBytes = 2 * wordBytes
	n := len(body) / recordBytes
	if n == 0 {
		return 0
	}
	if n > session.MaxChannels {
		n = session.MaxChannels
	}

	for i := 0; i < n; i++ {
		rec := body[i*recordBytes : (i+1)*recordBytes]
		prn := int(bits.Ubits(rec, 8, 5, false))
		if prn == 0 {
			prn = 32
		}
		if i < s.Skyview.Count {
			s.Skyview.Sats[i].PRN = session.UnifiedPRN(session.ConstGPS, prn)
			s.Skyview.Sats[i].Used = true
		}
	}
	return session.UpdateUsed
}

// applyStationCoords decodes type 3 reference station parameters: ECEF
// X/Y/Z, each a 32-bit 1/100 m signed value across consecutive words.
func (d *Driver) applyStationCoords(s *session.Session, body []byte) session.UpdateMask {
	if len(body)*8 < 96 {
		return 0
	}
	x := bits.Sbits(body, 0, 32, false)
	y := bits.Sbits(body, 32, 32, false)
	z := bits.Sbits(body, 64, 32, false)

	s.Fix.ECEFx = float64(x) / 100.0
	s.Fix.ECEFy = float64(y) / 100.0
	s.Fix.ECEFz = float64(z) / 100.0
	return session.UpdateECEF
}

// applySpecialMessage decodes type 16: up to 90 characters of free-text
// maintenance/safety message, packed 3 ASCII bytes per word.
func (d *Driver) applySpecialMessage(s *session.Session, body []byte) session.UpdateMask {
	text := make([]byte, 0, len(body))
	for _, b := range body {
		if b == 0 {
			continue
		}
		text = append(text, b)
	}
	d.lastText = string(text)
	return 0
}

// StationID returns the most recently decoded reference station ID.
func (d *Driver) StationID() int { return d.stationID }

// LastSpecialMessage returns the most recently decoded type-16 text.
func (d *Driver) LastSpecialMessage() string { return d.lastText }
