// Package nmea is the NMEA-0183 decoder (spec §4.4). It delegates
// sentence parsing to github.com/adrianmo/go-nmea, which already
// covers the full GGA/RMC/GSA/GSV/GST/VTG/ZDA/GBS sentence set spec
// §4.4 requires, and maps the typed result onto session state,
// producing the per-frame update mask the dispatcher uses to decide
// what to publish.
//
// Multi-sentence GSV satellite lists are accumulated across calls and
// only committed to the session's Skyview on the last-of-N sentence,
// per spec §4.4. Time resolution extends HMS-only fields using the
// most recent RMC/ZDA date context, also per spec §4.4.
package nmea

import (
	"time"

	"github.com/adrianmo/go-nmea"

	"github.com/kestrelgps/gnssmux/lexer"
	"github.com/kestrelgps/gnssmux/session"
)

// Driver is the NMEA-0183 session.Driver.
type Driver struct {
	session.BaseDriver

	// gsvAccum buffers in-progress GSV satellite records, in one buffer
	// shared by all talkers, until the last-of-N sentence closes the sweep.
	gsvAccum   []session.SatRecord
	gsvExpect  int
	gsvSeen    int
	lastDate   dateContext
}

type dateContext struct {
	year, month, day int
	valid            bool
}

// New constructs an NMEA decoder.
func New() *Driver { return &Driver{} }

// Protocol identifies this driver to the session's registry.
func (d *Driver) Protocol() lexer.PacketType { return lexer.PacketNMEA }

// Parse implements session.Driver. frame is the complete, checksum
// verified sentence the lexer delivered, from the leading '$' through
// the "*HH" checksum (the lexer does not include a trailing \r\n).
func (d *Driver) Parse(s *session.Session, frame []byte) session.UpdateMask {
	sentence, err := nmea.Parse(stripTerminator(string(frame)))
	if err != nil {
		// The lexer already verified framing+checksum; a parse failure
		// here means a sentence type/field shape go-nmea doesn't
		// recognize. Truncation policy (spec §7): no state mutated.
		s.RecordTruncated()
		return 0
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		return d.applyGGA(s, sentence.(nmea.GGA))
	case nmea.TypeRMC:
		return d.applyRMC(s, sentence.(nmea.RMC))
	case nmea.TypeGSA:
		return d.applyGSA(s, sentence.(nmea.GSA))
	case nmea.TypeGSV:
		return d.applyGSV(s, sentence.(nmea.GSV))
	case nmea.TypeGST:
		return d.applyGST(s, sentence.(nmea.GST))
	case nmea.TypeVTG:
		return d.applyVTG(s, sentence.(nmea.VTG))
	case nmea.TypeZDA:
		return d.applyZDA(s, sentence.(nmea.ZDA))
	case nmea.TypeGBS:
		return d.applyGBS(s, sentence.(nmea.GBS))
	default:
		// Accepted and ignored, per spec §4.4: "the rest are accepted
		// and ignored."
		return 0
	}
}

func stripTerminator(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\r' || s[len(s)-1] == '\n') {
		s = s[:len(s)-1]
	}
	return s
}

func (d *Driver) applyGGA(s *session.Session, gga nmea.GGA) session.UpdateMask {
	var mask session.UpdateMask

	s.Fix.Lat = gga.Latitude
	s.Fix.Lon = gga.Longitude
	mask |= session.UpdateLatLon

	s.Fix.AltMSL = gga.Altitude
	mask |= session.UpdateAltitude

	if gga.FixQuality == nmea.Invalid {
		s.Fix.Mode = session.ModeNoFix
	} else {
		s.Fix.Mode = session.Mode3D
	}
	mask |= session.UpdateFixMode

	if sec, nsec, ok := combineTime(d.lastDate, gga.Time); ok {
		s.Fix.TimeSec = sec
		s.Fix.TimeNsec = nsec
		mask |= session.UpdateTime
	}

	return mask
}

func (d *Driver) applyRMC(s *session.Session, rmc nmea.RMC) session.UpdateMask {
	var mask session.UpdateMask

	// RMC is the cycle-boundary sentence spec §4.5 names: a fresh fix
	// cycle starts here.
	s.ClearFix()

	if !rmc.Validity {
		return 0
	}

	s.Fix.Lat = rmc.Latitude
	s.Fix.Lon = rmc.Longitude
	mask |= session.UpdateLatLon

	s.Fix.Speed = rmc.Speed * 0.514444 // knots -> m/s
	mask |= session.UpdateSpeed

	s.Fix.Track = rmc.Course
	mask |= session.UpdateTrack

	s.Fix.Mode = session.Mode2D
	mask |= session.UpdateFixMode

	d.lastDate = dateContext{year: rmc.Date.YY + 2000, month: rmc.Date.MM, day: rmc.Date.DD, valid: true}
	if sec, nsec, ok := combineTime(d.lastDate, rmc.Time); ok {
		s.Fix.TimeSec = sec
		s.Fix.TimeNsec = nsec
		mask |= session.UpdateTime
	}

	return mask
}

func (d *Driver) applyGSA(s *session.Session, gsa nmea.GSA) session.UpdateMask {
	s.DOP.Position = gsa.PDOP
	s.DOP.Horizontal = gsa.HDOP
	s.DOP.Vertical = gsa.VDOP

	switch gsa.FixType {
	case "2":
		if s.Fix.Mode < session.Mode2D {
			s.Fix.Mode = session.Mode2D
		}
	case "3":
		s.Fix.Mode = session.Mode3D
	}
	return session.UpdateDOP | session.UpdateFixMode
}

func (d *Driver) applyGSV(s *session.Session, gsv nmea.GSV) session.UpdateMask {
	if d.gsvExpect != gsv.TotalMessages {
		// A new sweep starting (or a dropped sentence mid-sweep):
		// restart accumulation rather than mixing generations.
		d.gsvAccum = d.gsvAccum[:0]
		d.gsvExpect = gsv.TotalMessages
		d.gsvSeen = 0
	}
	d.gsvSeen++

	for _, info := range gsv.Info {
		if info.SVPRNNumber == 0 {
			continue
		}
		d.gsvAccum = append(d.gsvAccum, session.SatRecord{
			Constellation: constellationForTalker(gsv.Talker),
			SVID:          info.SVPRNNumber,
			PRN:           session.UnifiedPRN(constellationForTalker(gsv.Talker), info.SVPRNNumber),
			Azimuth:       float64(info.Azimuth),
			Elevation:     float64(info.Elevation),
			CN0:           float64(info.SNR),
			Healthy:       true,
		})
	}

	if gsv.MessageNumber != gsv.TotalMessages {
		// Not the last-of-N sentence yet: commit nothing.
		return 0
	}

	s.Skyview = session.Skyview{}
	n := len(d.gsvAccum)
	if n > session.MaxChannels {
		n = session.MaxChannels
	}
	copy(s.Skyview.Sats[:], d.gsvAccum[:n])
	s.Skyview.Count = n
	d.gsvAccum = d.gsvAccum[:0]

	return session.UpdateSatellite
}

func (d *Driver) applyGST(s *session.Session, gst nmea.GST) session.UpdateMask {
	s.Fix.Eph = gst.SigmaLatitudeError
	s.Fix.Epv = gst.SigmaHeightError
	return session.UpdateFixMode
}

func (d *Driver) applyVTG(s *session.Session, vtg nmea.VTG) session.UpdateMask {
	s.Fix.Track = vtg.TrueTrack
	s.Fix.Speed = vtg.GroundSpeedKPH / 3.6
	return session.UpdateTrack | session.UpdateSpeed
}

func (d *Driver) applyZDA(s *session.Session, zda nmea.ZDA) session.UpdateMask {
	d.lastDate = dateContext{year: zda.Year, month: zda.Month, day: zda.Day, valid: true}
	if sec, nsec, ok := combineTime(d.lastDate, zda.Time); ok {
		s.Fix.TimeSec = sec
		s.Fix.TimeNsec = nsec
		return session.UpdateTime
	}
	return 0
}

func (d *Driver) applyGBS(s *session.Session, gbs nmea.GBS) session.UpdateMask {
	s.Fix.Eps = gbs.ErrEllipseOrientation
	return session.UpdateFixMode
}

// combineTime extends an HMS-only nmea.Time into a wall-clock timestamp
// using ctx as the date, per spec §4.4. If no RMC/ZDA has yet
// supplied a date, it falls back to the current UTC calendar date so a
// standalone GGA sentence still resolves (matches go-nmea's own
// "no date provided, use current date" convention).
func combineTime(ctx dateContext, t nmea.Time) (sec int64, nsec int64, ok bool) {
	if !t.Valid {
		return 0, 0, false
	}

	year, month, day := ctx.year, ctx.month, ctx.day
	if !ctx.valid {
		now := time.Now().UTC()
		year, month, day = now.Year(), int(now.Month()), now.Day()
	}

	ts := time.Date(year, time.Month(month), day, t.Hour, t.Minute, t.Second, t.Millisecond*1e6, time.UTC)
	return ts.Unix(), int64(ts.Nanosecond()), true
}

func constellationForTalker(talkerID string) session.Constellation {
	switch talkerID {
	case "GP":
		return session.ConstGPS
	case "GL":
		return session.ConstGLONASS
	case "GA":
		return session.ConstGalileo
	case "GB", "BD":
		return session.ConstBeiDou
	case "GQ", "QZ":
		return session.ConstQZSS
	case "GN":
		return session.ConstGPS
	default:
		return session.ConstGPS
	}
}
