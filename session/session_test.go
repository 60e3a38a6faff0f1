package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelgps/gnssmux/lexer"
)

type fakeDriver struct {
	BaseDriver
	proto      lexer.PacketType
	lastFrame  []byte
	mask       UpdateMask
	identified int
}

func (f *fakeDriver) Protocol() lexer.PacketType { return f.proto }

func (f *fakeDriver) Parse(s *Session, frame []byte) UpdateMask {
	f.lastFrame = frame
	s.Fix.Lat = 1.0
	return f.mask
}

func (f *fakeDriver) Event(s *Session, ev EventKind) {
	if ev == EventIdentified {
		f.identified++
	}
}

func TestNewFixIsAllNaN(t *testing.T) {
	f := NewFix()
	require.Equal(t, ModeNoFix, f.Mode)
	require.True(t, isNaN(f.Lat))
	require.True(t, isNaN(f.AltHAE))
}

func isNaN(f float64) bool { return f != f }

func TestFeedLocksDriverOnFirstPacket(t *testing.T) {
	d := &fakeDriver{proto: lexer.PacketNMEA, mask: UpdateLatLon}
	s := New("/dev/test", []Driver{d})

	require.Equal(t, ProtocolUnknown, s.State())

	mask := s.Feed([]byte("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n"))
	require.True(t, mask.Has(UpdateLatLon))
	require.Equal(t, ProtocolLocked, s.State())
	require.Equal(t, 1, d.identified)
	require.Equal(t, 1.0, s.Fix.Lat)
}

func TestFeedUnknownProtocolDropsFrame(t *testing.T) {
	s := New("/dev/test", nil)
	mask := s.Feed([]byte("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n"))
	require.False(t, mask.Any())
	require.True(t, s.Stats().UnidentifiedBytes > 0)
}

func TestSwitchDriverFiresLifecycleEvents(t *testing.T) {
	a := &fakeDriver{proto: lexer.PacketNMEA}
	b := &fakeDriver{proto: lexer.PacketUBX}
	s := New("/dev/test", []Driver{a, b})

	require.True(t, s.SwitchDriver(lexer.PacketUBX))
	require.Equal(t, 1, b.identified)
	require.Equal(t, ProtocolLocked, s.State())

	require.False(t, s.SwitchDriver(lexer.PacketRTCM3))
}

func TestClearFixResetsToNaN(t *testing.T) {
	s := New("/dev/test", nil)
	s.Fix.Lat = 48.0
	s.Fix.Mode = Mode3D
	s.ClearFix()
	require.Equal(t, ModeNoFix, s.Fix.Mode)
	require.True(t, isNaN(s.Fix.Lat))
}

func TestUnifiedPRNRanges(t *testing.T) {
	require.Equal(t, 5, UnifiedPRN(ConstGPS, 5))
	require.Equal(t, 65, UnifiedPRN(ConstGLONASS, 1))
	require.Equal(t, 301, UnifiedPRN(ConstGalileo, 1))
	require.Equal(t, 401, UnifiedPRN(ConstBeiDou, 1))
}
