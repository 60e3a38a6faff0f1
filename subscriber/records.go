// Package subscriber implements the TCP subscriber interface spec §6
// describes: a line-oriented protocol where a client sends `?WATCH=
// {json}` to configure which JSON record classes it receives, and the
// server publishes class-discriminated records (VERSION, WATCH, TPV,
// SKY, DOP, TOFF and DEVICE) as the dispatcher's sessions update.
// Records of the GST, PPS, ATT, DEVICES and AIS classes are not
// published.
//
// Grounded on pkg/caster/caster.go's request-ID/structured-logging
// idiom (github.com/google/uuid + logrus.FieldLogger per connection)
// and session.Fix/Skyview/DOP/Clock for the field data each record
// class surfaces.
package subscriber

import (
	"github.com/kestrelgps/gnssmux/session"
)

// Version is the VERSION class, sent once per connection.
type Version struct {
	Class     string `json:"class"`
	Release   string `json:"release"`
	Rev       string `json:"rev"`
	ProtoMaj  int    `json:"proto_major"`
	ProtoMin  int    `json:"proto_minor"`
}

// NewVersion builds the VERSION record this server identifies itself
// with.
func NewVersion() Version {
	return Version{Class: "VERSION", Release: "1.0", Rev: "gnssmux", ProtoMaj: 3, ProtoMin: 14}
}

// Devices is the DEVICES class: every currently registered device path.
type Devices struct {
	Class   string       `json:"class"`
	Devices []DeviceInfo `json:"devices"`
}

// DeviceInfo is one DEVICES list entry.
type DeviceInfo struct {
	Path   string `json:"path"`
	Driver string `json:"driver,omitempty"`
}

// Device is the DEVICE class: a single device's state, published on
// add and remove (spec §7's error-taxonomy
// policy: "session-level errors trigger deactivation and a DEVICE event
// to subscribers").
type Device struct {
	Class        string `json:"class"`
	Path         string `json:"path"`
	Activated    bool   `json:"activated"`
	Driver       string `json:"driver,omitempty"`
	Reason       string `json:"reason,omitempty"`
	ChecksumErrs uint64 `json:"checksum_errs,omitempty"`
	TruncErrs    uint64 `json:"trunc_errs,omitempty"`
}

// Watch is the WATCH class: an echo of the client's applied watch
// policy, sent in response to a ?WATCH command.
type Watch struct {
	Class  string `json:"class"`
	Enable bool   `json:"enable"`
	JSON   bool   `json:"json"`
	NMEA   bool   `json:"nmea"`
	Raw    int    `json:"raw"`
	Scaled bool   `json:"scaled"`
	Split24 bool  `json:"split24"`
	Timing bool   `json:"timing"`
	PPS    bool   `json:"pps"`
	Device string `json:"device,omitempty"`
	Remote string `json:"remote,omitempty"`
}

// TPV is the time-position-velocity class (spec §3/§6).
type TPV struct {
	Class  string  `json:"class"`
	Device string  `json:"device"`
	Mode   int     `json:"mode"`
	Time   string  `json:"time,omitempty"`
	Lat    float64 `json:"lat,omitempty"`
	Lon    float64 `json:"lon,omitempty"`
	AltHAE float64 `json:"altHAE,omitempty"`
	AltMSL float64 `json:"altMSL,omitempty"`
	Speed  float64 `json:"speed,omitempty"`
	Climb  float64 `json:"climb,omitempty"`
	Track  float64 `json:"track,omitempty"`
	ECEFx  float64 `json:"ecefx,omitempty"`
	ECEFy  float64 `json:"ecefy,omitempty"`
	ECEFz  float64 `json:"ecefz,omitempty"`
}

// SKY is the skyview class.
type SKY struct {
	Class     string       `json:"class"`
	Device    string       `json:"device"`
	Satellites []SatEntry  `json:"satellites"`
}

// SatEntry is one SKY satellite entry.
type SatEntry struct {
	PRN       int     `json:"PRN"`
	Azimuth   float64 `json:"az"`
	Elevation float64 `json:"el"`
	CN0       float64 `json:"ss,omitempty"`
	Used      bool    `json:"used"`
}

// GST is the error-statistics class.
type GST struct {
	Class  string  `json:"class"`
	Device string  `json:"device"`
	RMS    float64 `json:"rms,omitempty"`
	Major  float64 `json:"major,omitempty"`
	Minor  float64 `json:"minor,omitempty"`
	Lat    float64 `json:"lat,omitempty"`
	Lon    float64 `json:"lon,omitempty"`
	Alt    float64 `json:"alt,omitempty"`
}

// DOPRecord is the DOP (dilution-of-precision) class, folded into SKY field-wise in
// gpsd proper but exposed here as its own record since spec §3 models
// it as an independent snapshot.
type DOPRecord struct {
	Class  string  `json:"class"`
	Device string  `json:"device"`
	GDOP   float64 `json:"gdop,omitempty"`
	PDOP   float64 `json:"pdop,omitempty"`
	HDOP   float64 `json:"hdop,omitempty"`
	VDOP   float64 `json:"vdop,omitempty"`
	TDOP   float64 `json:"tdop,omitempty"`
}

// PPS is the pulse-per-second timing class.
type PPS struct {
	Class      string `json:"class"`
	Device     string `json:"device"`
	RealSec    int64  `json:"real_sec"`
	RealNsec   int64  `json:"real_nsec"`
	ClockSec   int64  `json:"clock_sec"`
	ClockNsec  int64  `json:"clock_nsec"`
}

// TOFF is the time-offset class.
type TOFF struct {
	Class     string `json:"class"`
	Device    string `json:"device"`
	RealSec   int64  `json:"real_sec"`
	RealNsec  int64  `json:"real_nsec"`
	ClockSec  int64  `json:"clock_sec"`
	ClockNsec int64  `json:"clock_nsec"`
}

// ATT is the attitude class, included for devices that report heading
// independent of course-over-ground.
type ATT struct {
	Class   string  `json:"class"`
	Device  string  `json:"device"`
	Heading float64 `json:"heading,omitempty"`
	Pitch   float64 `json:"pitch,omitempty"`
	Roll    float64 `json:"roll,omitempty"`
}

// AIS is the per-AIS-report class, one per decoded AIVDM message.
type AIS struct {
	Class     string  `json:"class"`
	Device    string  `json:"device"`
	Type      int     `json:"type"`
	MMSI      int     `json:"mmsi"`
	Lat       float64 `json:"lat,omitempty"`
	Lon       float64 `json:"lon,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Course    float64 `json:"course,omitempty"`
	Heading   int     `json:"heading,omitempty"`
	ShipName  string  `json:"shipname,omitempty"`
	NavStatus int     `json:"status,omitempty"`
}

// TPVFromSession builds a TPV record from a session's current fix.
func TPVFromSession(device string, s *session.Session) TPV {
	return TPV{
		Class: "TPV", Device: device,
		Mode: int(s.Fix.Mode),
		Lat: s.Fix.Lat, Lon: s.Fix.Lon,
		AltHAE: s.Fix.AltHAE, AltMSL: s.Fix.AltMSL,
		Speed: s.Fix.Speed, Climb: s.Fix.Climb, Track: s.Fix.Track,
		ECEFx: s.Fix.ECEFx, ECEFy: s.Fix.ECEFy, ECEFz: s.Fix.ECEFz,
	}
}

// SKYFromSession builds a SKY record from a session's current skyview.
func SKYFromSession(device string, s *session.Session) SKY {
	sky := SKY{Class: "SKY", Device: device}
	for i := 0; i < s.Skyview.Count; i++ {
		sat := s.Skyview.Sats[i]
		sky.Satellites = append(sky.Satellites, SatEntry{
			PRN: sat.PRN, Azimuth: sat.Azimuth, Elevation: sat.Elevation,
			CN0: sat.CN0, Used: sat.Used,
		})
	}
	return sky
}

// DOPFromSession builds a DOPRecord from a session's current DOP snapshot.
func DOPFromSession(device string, s *session.Session) DOPRecord {
	return DOPRecord{
		Class: "DOP", Device: device,
		GDOP: s.DOP.Geometric, PDOP: s.DOP.Position,
		HDOP: s.DOP.Horizontal, VDOP: s.DOP.Vertical, TDOP: s.DOP.Time,
	}
}

// TOFFFromSession builds a TOFF record from a session's receiver clock
// bias, the time-offset class's data source (spec §6: "TOFF" reports
// receiver-to-system clock skew).
func TOFFFromSession(device string, s *session.Session) TOFF {
	biasSec := int64(s.Clock.BiasSec)
	biasNsec := int64((s.Clock.BiasSec - float64(biasSec)) * 1e9)
	return TOFF{
		Class: "TOFF", Device: device,
		RealSec: s.Fix.TimeSec, RealNsec: s.Fix.TimeNsec,
		ClockSec: biasSec, ClockNsec: biasNsec,
	}
}
