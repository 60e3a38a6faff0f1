package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/kestrelgps/gnssmux/driver/aivdm"
	"github.com/kestrelgps/gnssmux/driver/nmea"
	"github.com/kestrelgps/gnssmux/driver/rtcm2"
	"github.com/kestrelgps/gnssmux/driver/rtcm3"
	"github.com/kestrelgps/gnssmux/driver/ubx"
	"github.com/kestrelgps/gnssmux/internal/link"
	"github.com/kestrelgps/gnssmux/lexer"
	"github.com/kestrelgps/gnssmux/ntrip"
	"github.com/kestrelgps/gnssmux/session"
)

// defaultDrivers returns one decoder instance per protocol the lexer
// can identify, the full set every session sniffs against (spec §4.4).
func defaultDrivers() []session.Driver {
	return []session.Driver{
		nmea.New(),
		aivdm.New(),
		ubx.New(lexer.PacketUBX),
		ubx.New(lexer.PacketAllystar),
		rtcm2.New(),
		rtcm3.New(),
	}
}

// OpenDevice implements admin.DeviceManager: it classifies path
// (ntrip:// URL, serial port[:baud[:bits[:parity[:stop]]]], or
// host:port TCP) and opens the matching transport, wiring a fresh
// session with the default driver set.
//
// Grounded on pkg/gnssgo/stream/serial.go's "port[:brate[:bsize[:parity
// [:stopb]]]]" path grammar for serial devices, and
// pkg/gnssgo/stream/tcp.go's DecodeTcpPath for the plain host:port case.
func (dm *Daemon) OpenDevice(path string) error {
	switch {
	case strings.HasPrefix(path, "ntrip://"):
		return dm.openNTRIP(path)
	case strings.Contains(path, ":") && looksLikeSerialPath(path):
		return dm.openSerial(path)
	default:
		return dm.openTCP(path)
	}
}

// looksLikeSerialPath distinguishes "/dev/ttyUSB0:115200" (serial) from
// "host:2101" (TCP) by requiring the part before the first colon to
// look like a device node path rather than a hostname.
func looksLikeSerialPath(path string) bool {
	port := path
	if i := strings.IndexByte(path, ':'); i >= 0 {
		port = path[:i]
	}
	return strings.HasPrefix(port, "/dev/") || strings.HasPrefix(port, "COM")
}

func (dm *Daemon) openSerial(path string) error {
	portName := path
	mode := &serial.Mode{BaudRate: 9600}
	if i := strings.IndexByte(path, ':'); i >= 0 {
		portName = path[:i]
		parts := strings.Split(path[i+1:], ":")
		if len(parts) > 0 && parts[0] != "" {
			if b, err := strconv.Atoi(parts[0]); err == nil {
				mode.BaudRate = b
			}
		}
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return fmt.Errorf("dispatcher: open serial %s: %w", path, err)
	}
	// Bounds the blocking Read per tick so the main loop's "no implicit
	// parallelism" contract (spec §5) holds even for a transport with no
	// SetReadDeadline; matches pkg/gnssgo/stream/serial.go's own
	// defaultTimeout (100ms).
	port.SetReadTimeout(100 * time.Millisecond)

	s := session.New(path, defaultDrivers(), session.WithWriter(port.Write))
	dm.AddDevice(&Device{Path: path, Session: s, Reader: port, Closer: port, DriverName: "serial"})
	return nil
}

func (dm *Daemon) openTCP(path string) error {
	host, service, err := splitHostService(path)
	if err != nil {
		return err
	}
	conn, err := link.Dial(context.Background(), "tcp", host, service, link.Options{Log: dm.log})
	if err != nil {
		return fmt.Errorf("dispatcher: dial %s: %w", path, err)
	}
	s := session.New(path, defaultDrivers(), session.WithWriter(conn.Write))
	dm.AddDevice(&Device{Path: path, Session: s, Reader: conn, Closer: conn, DriverName: "tcp"})
	return nil
}

// openNTRIP connects to an NTRIP caster and registers it as a device
// whose driver set is RTCM2/RTCM3 only, since a caster mountpoint never
// carries NMEA/AIS/UBX framing.
func (dm *Daemon) openNTRIP(path string) error {
	url, err := ntrip.ParseURL(path)
	if err != nil {
		return fmt.Errorf("dispatcher: parse ntrip url: %w", err)
	}
	stream := ntrip.New(url, ntrip.WithLogger(dm.log))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := stream.Connect(ctx); err != nil {
		return fmt.Errorf("dispatcher: ntrip connect: %w", err)
	}

	s := session.New(path, []session.Driver{rtcm2.New(), rtcm3.New()})
	dev := &Device{Path: path, Session: s, Reader: stream, NTRIP: stream, DriverName: "ntrip"}
	dm.AddDevice(dev)
	return nil
}

func splitHostService(path string) (host, service string, err error) {
	i := strings.LastIndexByte(path, ':')
	if i < 0 {
		return "", "", fmt.Errorf("dispatcher: %q has no port", path)
	}
	return path[:i], path[i+1:], nil
}
