// Package session implements the per-device session model of spec
// §4.5 and §3: the mutable fix/skyview/DOP/clock snapshot, the active
// driver, and the Feed/WriteControl/SwitchDriver/ClearFix operations
// that stitch the lexer and decoders together.
package session

import "math"

// Mode is the fix quality/dimensionality.
type Mode int

const (
	ModeNoFix Mode = iota
	Mode2D
	Mode3D
)

// Fix is a point-in-time solution (spec §3). Unknown numeric fields are
// NaN, never a sentinel integer.
type Fix struct {
	TimeSec  int64 // wall-clock seconds
	TimeNsec int64

	Mode Mode

	Lat, Lon float64 // degrees
	AltHAE   float64 // metres, above ellipsoid
	AltMSL   float64 // metres, above mean sea level

	ECEFx, ECEFy, ECEFz, PAcc float64 // metres

	Speed, Climb, Track float64 // m/s, m/s, degrees

	Eph, Epv, Eps, Ept float64 // per-field uncertainty estimates
}

// NewFix returns a Fix with every numeric field NaN and mode no-fix,
// the all-unknown state spec §4.5's ClearFix resets to.
func NewFix() Fix {
	nan := math.NaN()
	return Fix{
		Mode: ModeNoFix,
		Lat: nan, Lon: nan, AltHAE: nan, AltMSL: nan,
		ECEFx: nan, ECEFy: nan, ECEFz: nan, PAcc: nan,
		Speed: nan, Climb: nan, Track: nan,
		Eph: nan, Epv: nan, Eps: nan, Ept: nan,
	}
}

// Constellation identifies a GNSS system a skyview record belongs to.
type Constellation int

const (
	ConstGPS Constellation = iota
	ConstSBAS
	ConstGalileo
	ConstBeiDou
	ConstQZSS
	ConstGLONASS
	ConstIMES
	ConstIRNSS
)

// SatRecord is one satellite's entry in a Skyview (spec §3). Up to
// MaxChannels records are tracked per session.
type SatRecord struct {
	Constellation Constellation
	SVID          int // constellation-local satellite id
	PRN           int // unified, consumer-facing number (see UnifiedPRN)
	Azimuth       float64 // degrees [0,360)
	Elevation     float64 // degrees [-90,90]
	CN0           float64 // carrier-to-noise, dB-Hz
	Pseudorange   float64
	PseudorangeRate float64
	Healthy       bool
	Used          bool
	SigID         int
}

// MaxChannels is the skyview capacity; spec requires >= 64.
const MaxChannels = 92

// Skyview is the set of currently visible satellites. Sats[:Count] are
// the populated records; positions beyond Count are zero-initialized.
type Skyview struct {
	Sats  [MaxChannels]SatRecord
	Count int
}

// DOP holds dilution-of-precision values, NaN when the driver doesn't
// emit a given one.
type DOP struct {
	Geometric, Position, Horizontal, Vertical, Time, East, North float64
}

// NewDOP returns a DOP with every field NaN.
func NewDOP() DOP {
	nan := math.NaN()
	return DOP{Geometric: nan, Position: nan, Horizontal: nan, Vertical: nan, Time: nan, East: nan, North: nan}
}

// Clock carries receiver clock bias/drift and leap-second/NTP-time
// fields the decoders populate independently of Fix.
type Clock struct {
	BiasSec, DriftSecPerSec float64
	LeapSeconds             int
	NTPTimeSec              float64
}

// NewClock returns a Clock with NaN numeric fields.
func NewClock() Clock {
	nan := math.NaN()
	return Clock{BiasSec: nan, DriftSecPerSec: nan, NTPTimeSec: nan}
}
