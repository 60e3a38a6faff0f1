// Package ubx decodes the u-blox-family binary protocol (spec §4.4):
// class/id/lenLE/payload/CK_A/CK_B frames with fixed per-message
// offsets. The same implementation serves ALLYSTAR, whose frames are
// structurally identical but sentinel-tagged 0xF1 0xD9 instead of
// 0xB5 0x62 (spec: "the ALLYSTAR decoder is structurally identical");
// New(lexer.PacketAllystar) produces that variant.
//
// Grounded on hardware/topgnss/top708/parser.go's UBXParser (class/id/
// len/payload/checksum layout) and top708.go's NAV-POSLLH field
// handling (spec scenario 3).
package ubx

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/kestrelgps/gnssmux/internal/bits"
	"github.com/kestrelgps/gnssmux/lexer"
	"github.com/kestrelgps/gnssmux/session"
)

// Message classes (u-blox convention).
const (
	classNAV = 0x01
	classRXM = 0x02
	classACK = 0x05
	classCFG = 0x06
	classMON = 0x0A
	classAID = 0x0B
)

// NAV message ids this decoder extracts fields from.
const (
	idNavPosECEF = 0x01
	idNavPosLLH  = 0x02
	idNavDOP     = 0x04
	idNavSol     = 0x06
	idNavTimeGPS = 0x20
	idNavSVInfo  = 0x30
)

// minPayloadLen bounds per class/id, validated before any field access
// (spec §4.4: "validates payload_len against a class/id-specific
// minimum before touching any field").
var minPayloadLen = map[[2]byte]int{
	{classNAV, idNavPosECEF}: 20,
	{classNAV, idNavPosLLH}:  28,
	{classNAV, idNavDOP}:     18,
	{classNAV, idNavTimeGPS}: 16,
	{classNAV, idNavSVInfo}:  8,
}

// Driver is the u-blox/ALLYSTAR session.Driver. The iTOW cache is kept
// separate per DESIGN NOTES §9's open question: "the U-blox iTOW cache
// is sometimes reused by the ALLYSTAR decoder with different semantics;
// treat them as separate caches", each Driver instance owns its own.
type Driver struct {
	session.BaseDriver

	protocol lexer.PacketType
	itow     uint32
	haveITOW bool
}

// New constructs a u-blox-family decoder. Pass lexer.PacketUBX or
// lexer.PacketAllystar depending on which sentinel bytes the session's
// registered lexer framing produced.
func New(protocol lexer.PacketType) *Driver {
	return &Driver{protocol: protocol}
}

func (d *Driver) Protocol() lexer.PacketType { return d.protocol }

// Parse implements session.Driver. frame includes the two sync bytes,
// class, id, length, payload, and the two checksum bytes. The lexer
// already verified the Fletcher checksum before delivery.
func (d *Driver) Parse(s *session.Session, frame []byte) session.UpdateMask {
	if len(frame) < 8 {
		s.RecordTruncated()
		return 0
	}
	cls, id := frame[2], frame[3]
	length := int(binary.LittleEndian.Uint16(frame[4:6]))
	payload := frame[6:]
	if len(payload) < length {
		s.RecordTruncated()
		return 0
	}
	payload = payload[:length]

	if min, ok := minPayloadLen[[2]byte{cls, id}]; ok && length < min {
		s.RecordTruncated()
		return 0
	}

	switch cls {
	case classNAV:
		return d.parseNav(s, id, payload)
	default:
		return 0
	}
}

func (d *Driver) parseNav(s *session.Session, id byte, p []byte) session.UpdateMask {
	switch id {
	case idNavPosLLH:
		return d.navPosLLH(s, p)
	case idNavPosECEF:
		return d.navPosECEF(s, p)
	case idNavDOP:
		return d.navDOP(s, p)
	case idNavTimeGPS:
		return d.navTimeGPS(s, p)
	case idNavSVInfo:
		return d.navSVInfo(s, p)
	default:
		return 0
	}
}

// navPosLLH decodes NAV-POSLLH: iTOW U4, lon I4(1e-7 deg), lat
// I4(1e-7 deg), height I4(mm, ellipsoid), hMSL I4(mm), hAcc U4(mm),
// vAcc U4(mm), matches spec scenario 3.
func (d *Driver) navPosLLH(s *session.Session, p []byte) session.UpdateMask {
	d.cacheITOW(bits.U32LE(p, 0))

	lon := float64(bits.I32LE(p, 4)) * 1e-7
	lat := float64(bits.I32LE(p, 8)) * 1e-7
	heightHAE := float64(bits.I32LE(p, 12)) / 1000.0
	heightMSL := float64(bits.I32LE(p, 16)) / 1000.0
	hAcc := float64(bits.U32LE(p, 20)) / 1000.0
	vAcc := float64(bits.U32LE(p, 24)) / 1000.0

	s.Fix.Lon = lon
	s.Fix.Lat = lat
	s.Fix.AltHAE = heightHAE
	s.Fix.AltMSL = heightMSL
	s.Fix.Eph = hAcc
	s.Fix.Epv = vAcc

	return session.UpdateLatLon | session.UpdateAltitude
}

// navPosECEF decodes NAV-POSECEF: iTOW U4, ecefX/Y/Z I4(cm), pAcc U4(cm).
func (d *Driver) navPosECEF(s *session.Session, p []byte) session.UpdateMask {
	d.cacheITOW(bits.U32LE(p, 0))

	s.Fix.ECEFx = float64(bits.I32LE(p, 4)) / 100.0
	s.Fix.ECEFy = float64(bits.I32LE(p, 8)) / 100.0
	s.Fix.ECEFz = float64(bits.I32LE(p, 12)) / 100.0
	s.Fix.PAcc = float64(bits.U32LE(p, 16)) / 100.0

	return session.UpdateECEF
}

// navDOP decodes NAV-DOP: iTOW U4 then seven U2 DOP values scaled by 0.01,
// in the order gDOP,pDOP,tDOP,vDOP,hDOP,nDOP,eDOP.
func (d *Driver) navDOP(s *session.Session, p []byte) session.UpdateMask {
	d.cacheITOW(bits.U32LE(p, 0))

	scale := func(off int) float64 { return float64(bits.U16LE(p, off)) * 0.01 }
	s.DOP.Geometric = scale(4)
	s.DOP.Position = scale(6)
	s.DOP.Time = scale(8)
	s.DOP.Vertical = scale(10)
	s.DOP.Horizontal = scale(12)
	s.DOP.North = scale(14)
	s.DOP.East = scale(16)

	return session.UpdateDOP
}

// gpsEpoch is 1980-01-06T00:00:00 UTC, week/time-of-week zero point.
var gpsEpoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// navTimeGPS resolves NAV-TIMEGPS's week-of-epoch + time-of-week pair
// into a wall-clock timestamp (spec §3's Fix contract requires
// TimeSec/TimeNsec to be wall-clock, not time-of-week). leapS is
// subtracted so the reported time is UTC, not raw GPS time.
func (d *Driver) navTimeGPS(s *session.Session, p []byte) session.UpdateMask {
	itow := bits.U32LE(p, 0)
	d.cacheITOW(itow)
	ftow := bits.I32LE(p, 4)
	week := bits.I16LE(p, 8)
	leapS := bits.I8(p, 10)

	gpsSec := float64(itow)/1000.0 + float64(ftow)*1e-9

	absSec := float64(int(week)*secondsPerWeek) + gpsSec - float64(leapS)
	whole := math.Floor(absSec)
	ts := gpsEpoch.Add(time.Duration(whole) * time.Second)

	s.Clock.LeapSeconds = int(leapS)
	s.Fix.TimeSec = ts.Unix()
	s.Fix.TimeNsec = int64((absSec - whole) * 1e9)

	return session.UpdateTime | session.UpdateLeapSecond
}

const secondsPerWeek = 7 * 24 * 3600

// navSVInfo decodes NAV-SVINFO's repeating 12-byte satellite blocks
// (after an 8-byte header) into the session skyview.
func (d *Driver) navSVInfo(s *session.Session, p []byte) session.UpdateMask {
	if len(p) < 8 {
		s.RecordTruncated()
		return 0
	}
	numCh := int(p[4])
	s.Skyview = session.Skyview{}

	count := 0
	for i := 0; i < numCh && count < session.MaxChannels; i++ {
		off := 8 + i*12
		if off+12 > len(p) {
			break
		}
		svid := int(p[off+1])
		flags := p[off+2]
		cno := float64(p[off+4])
		elev := float64(bits.I8(p, off+5))
		azim := float64(bits.I16LE(p, off+6))

		s.Skyview.Sats[count] = session.SatRecord{
			Constellation: session.ConstGPS,
			SVID:          svid,
			PRN:           session.UnifiedPRN(session.ConstGPS, svid),
			Azimuth:       normalizeAzimuth(azim),
			Elevation:     elev,
			CN0:           cno,
			Used:          flags&0x01 != 0,
			Healthy:       true,
		}
		count++
	}
	s.Skyview.Count = count

	return session.UpdateSatellite
}

func normalizeAzimuth(deg float64) float64 {
	for deg < 0 {
		deg += 360
	}
	for deg >= 360 {
		deg -= 360
	}
	return deg
}

func (d *Driver) cacheITOW(itow uint32) {
	d.itow = itow
	d.haveITOW = true
}
