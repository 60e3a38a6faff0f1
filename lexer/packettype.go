package lexer

// PacketType is the stable wire identifier the lexer tags each
// delivered packet with (spec §6 "packet types enum"). Monitoring
// tools filter by these values, so the numeric assignment is fixed
// once shipped.
type PacketType int

const (
	PacketUnknown PacketType = iota
	PacketNMEA
	PacketAIVDM
	PacketUBX
	PacketAllystar
	PacketRTCM2
	PacketRTCM3
	PacketSiRF
	PacketTSIP
)

func (t PacketType) String() string {
	switch t {
	case PacketNMEA:
		return "NMEA"
	case PacketAIVDM:
		return "AIVDM"
	case PacketUBX:
		return "UBX"
	case PacketAllystar:
		return "ALLYSTAR"
	case PacketRTCM2:
		return "RTCM2"
	case PacketRTCM3:
		return "RTCM3"
	case PacketSiRF:
		return "SiRF"
	case PacketTSIP:
		return "TSIP"
	default:
		return "unknown"
	}
}
