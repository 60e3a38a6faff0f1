package session

// UnifiedPRN maps a (constellation, constellation-local svid) pair to
// the consumer-facing unified PRN number spec §3 describes. Ranges
// follow the convention most NMEA-0183/u-blox consumers already expect
// (GPS 1-32 passthrough, GLONASS offset 65, Galileo offset 301, BeiDou
// offset 401, QZSS offset 193, SBAS passthrough 120-158, IRNSS offset
// 401+100, IMES offset 173).
func UnifiedPRN(c Constellation, svid int) int {
	switch c {
	case ConstGPS:
		return svid
	case ConstSBAS:
		return svid // SBAS svids already live in the 120-158 PRN band
	case ConstGLONASS:
		return 64 + svid
	case ConstGalileo:
		return 300 + svid
	case ConstBeiDou:
		return 400 + svid
	case ConstQZSS:
		return 192 + svid
	case ConstIMES:
		return 172 + svid
	case ConstIRNSS:
		return 500 + svid
	default:
		return svid
	}
}
