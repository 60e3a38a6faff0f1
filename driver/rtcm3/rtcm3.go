// Package rtcm3 decodes RTCM 10403.x messages (spec §4.4) by delegating
// framing and message parsing to github.com/go-gnss/rtcm/rtcm3, which
// already implements the preamble/length/CRC-24Q frame and the typed
// message set this decoder consumes.
//
// Grounded on bramburn-go_ntrip's internal/rtk/processor.go
// (parseRTCMData/processRTCMMessages): rtcm3.NewParser, parser.Write,
// parser.NextFrame, rtcm3.DeserializeMessage, and the typed
// Message1004/Message1005/Message1019 accesses.
package rtcm3

import (
	"github.com/go-gnss/rtcm/rtcm3"

	"github.com/kestrelgps/gnssmux/lexer"
	"github.com/kestrelgps/gnssmux/session"
)

// Driver is the RTCM3 session.Driver. Unlike the other protocol
// decoders, frame reassembly within a single message is delegated
// entirely to rtcm3.Parser, the lexer's job is only to find frame
// boundaries and verify the CRC, which the upstream parser redoes
// redundantly but cheaply, giving a second independent confirmation of
// the property spec §8 calls out: "recomputed checksum over the
// received payload equals the trailing checksum."
type Driver struct {
	session.BaseDriver

	// ephemeris tracks the latest GPS ephemeris per satellite, the
	// shape processor.go's ephemeris map uses.
	ephemeris map[int]rtcm3.Message1019

	// stationECEF is the most recently observed 1005/1006 station
	// coordinate message, if any.
	stationECEF *rtcm3.Message1005

	// lastObservation is the most recent 1004 message, kept for
	// callers that want the raw decoded ranging data.
	lastObservation *rtcm3.Message1004
}

// New constructs an RTCM3 decoder.
func New() *Driver {
	return &Driver{ephemeris: make(map[int]rtcm3.Message1019)}
}

func (d *Driver) Protocol() lexer.PacketType { return lexer.PacketRTCM3 }

// Parse implements session.Driver. frame is one complete RTCM3 frame
// (preamble, 10-bit length, payload, CRC-24Q) the lexer already framed
// and checksum-verified; Parse re-derives the message via the upstream
// parser to extract typed fields.
func (d *Driver) Parse(s *session.Session, frame []byte) session.UpdateMask {
	parser := rtcm3.NewParser()
	parser.Write(frame)

	rtcmFrame, err := parser.NextFrame()
	if err != nil {
		s.RecordTruncated()
		return 0
	}

	msg, err := rtcm3.DeserializeMessage(rtcmFrame.Data)
	if err != nil {
		s.RecordTruncated()
		return 0
	}

	return d.apply(s, msg)
}

func (d *Driver) apply(s *session.Session, msg rtcm3.Message) session.UpdateMask {
	switch msg.Number() {
	case 1004:
		obs, ok := msg.(rtcm3.Message1004)
		if !ok {
			return 0
		}
		return d.applyObservation(s, obs)

	case 1019:
		eph, ok := msg.(rtcm3.Message1019)
		if !ok {
			return 0
		}
		d.ephemeris[int(eph.SatelliteID)] = eph
		return 0

	case 1005, 1006:
		station, ok := msg.(rtcm3.Message1005)
		if !ok {
			return 0
		}
		d.stationECEF = &station
		s.Fix.ECEFx = float64(station.X) / 10000.0
		s.Fix.ECEFy = float64(station.Y) / 10000.0
		s.Fix.ECEFz = float64(station.Z) / 10000.0
		return session.UpdateECEF

	default:
		// Accepted and ignored, same policy as driver/nmea's default
		// branch: a valid, fully-framed message this decoder has no
		// typed handling for yet.
		return 0
	}
}

// applyObservation records that a fresh ranging observation message
// arrived. RTCM3 observations carry per-satellite pseudorange data, not
// a skyview proper, this decoder only surfaces the mask bit consumers
// use to know a new observation epoch closed, matching the
// store-by-type-and-move-on shape of processor.go's
// processRTCMMessages.
func (d *Driver) applyObservation(s *session.Session, obs rtcm3.Message1004) session.UpdateMask {
	d.lastObservation = &obs
	return session.UpdateUsed
}

// Ephemeris returns the most recently decoded GPS ephemeris for a
// satellite ID, and whether one has been seen.
func (d *Driver) Ephemeris(satelliteID int) (rtcm3.Message1019, bool) {
	eph, ok := d.ephemeris[satelliteID]
	return eph, ok
}

// StationPosition returns the most recently decoded 1005/1006 base
// station ECEF coordinate, if any.
func (d *Driver) StationPosition() (rtcm3.Message1005, bool) {
	if d.stationECEF == nil {
		return rtcm3.Message1005{}, false
	}
	return *d.stationECEF, true
}
