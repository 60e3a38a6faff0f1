package session

// UpdateMask communicates which fields a single decoded frame wrote,
// so the dispatcher knows what to publish (spec §4.4).
type UpdateMask uint32

const (
	UpdateTime UpdateMask = 1 << iota
	UpdateLatLon
	UpdateAltitude
	UpdateSpeed
	UpdateTrack
	UpdateClimb
	UpdateFixMode
	UpdateECEF
	UpdateDOP
	UpdateSatellite
	UpdateUsed
	UpdateClockBias
	UpdateClockDrift
	UpdateLeapSecond
	UpdateNTPTime
)

// Has reports whether every bit in want is set in m.
func (m UpdateMask) Has(want UpdateMask) bool { return m&want == want }

// Any reports whether m has any bit set at all.
func (m UpdateMask) Any() bool { return m != 0 }
