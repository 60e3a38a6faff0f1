// Package dispatcher implements the contract-only main loop spec §4.7
// describes: for each ready device, feed its bytes through the
// session, inspect the returned update mask, and publish the
// corresponding JSON record to subscribers. It also owns the
// every-N-second periodic timer that drives ntrip_report. It does not
// call SwitchDriver: each session locks to the first protocol its lexer
// identifies and drops frames of any other protocol (see
// session.Session.Feed).
//
// Grounded on pkg/server/server.go's run loop (ctx.Done()/time.After
// select idiom, single goroutine per long-running resource) generalized
// from "one NTRIP server connection" to "every registered device plus
// every registered subscriber," and on DESIGN NOTES §9's instruction to
// thread an explicit Daemon value rather than use package-level state
// (the anti-pattern pkg/gnssgo/stream's toinact/ticonnect/tirate globals
// represent).
package dispatcher

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kestrelgps/gnssmux/ntrip"
	"github.com/kestrelgps/gnssmux/session"
)

// Publisher receives a published record for a device. The dispatcher
// doesn't know about JSON or subscriber sockets directly; subscriber
// wires its own fan-out in as a Publisher.
type Publisher interface {
	Publish(devicePath string, mask session.UpdateMask, s *session.Session)
	DeviceRemoved(devicePath string, reason string)
	DeviceAdded(devicePath string, driver string)
}

// Device is a dispatcher-managed data source: a session plus its raw
// byte source. NTRIP streams and serial/TCP GNSS receivers both
// implement this the same way.
type Device struct {
	Path    string
	Session *session.Session
	Reader  io.Reader
	Closer  io.Closer

	NTRIP *ntrip.Stream // non-nil only for devicetype "ntrip-caster"

	DriverName string // transport kind reported in the DEVICE record (serial, tcp, ntrip)

	lastGGA func() []byte // supplies the current position as a GGA sentence, for ntrip_report
}

// SetGGASource attaches the callback ntrip_report uses to build the
// current-position GGA sentence it forwards upstream.
func (d *Device) SetGGASource(f func() []byte) { d.lastGGA = f }

// Daemon is the explicit, threaded dispatcher state (spec §9's
// "Daemon value" redesign): the device map, the periodic-timer period,
// and the subscriber fan-out. No package-level globals.
type Daemon struct {
	mu      sync.Mutex
	devices map[string]*Device

	publisher Publisher
	period    time.Duration
	log       logrus.FieldLogger
}

// Option configures a Daemon.
type Option func(*Daemon)

func WithPeriod(d time.Duration) Option { return func(dm *Daemon) { dm.period = d } }
func WithLogger(log logrus.FieldLogger) Option {
	return func(dm *Daemon) { dm.log = log }
}

// New constructs a Daemon publishing through pub.
func New(pub Publisher, opts ...Option) *Daemon {
	dm := &Daemon{
		devices:   make(map[string]*Device),
		publisher: pub,
		period:    1 * time.Second,
		log:       logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(dm)
	}
	return dm
}

// AddDevice registers a device under path, the admin `+path` operation
// calls through to this.
func (dm *Daemon) AddDevice(dev *Device) {
	dm.mu.Lock()
	dm.devices[dev.Path] = dev
	dm.mu.Unlock()
	dm.publisher.DeviceAdded(dev.Path, dev.DriverName)
}

// RemoveDevice deactivates and unregisters path, the admin `-path`
// operation. Any outstanding reconnect timer is implicitly cancelled
// since the device is no longer polled (spec §5 cancellation contract).
func (dm *Daemon) RemoveDevice(path string, reason string) {
	dm.mu.Lock()
	dev, ok := dm.devices[path]
	delete(dm.devices, path)
	dm.mu.Unlock()
	if !ok {
		return
	}
	dev.Session.Deactivate()
	if dev.Closer != nil {
		dev.Closer.Close()
	}
	dm.publisher.DeviceRemoved(path, reason)
}

// Devices returns a snapshot of the registered device paths.
func (dm *Daemon) Devices() []string {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	paths := make([]string, 0, len(dm.devices))
	for p := range dm.devices {
		paths = append(paths, p)
	}
	return paths
}

// Run is the single cooperative event loop (spec §5 "no implicit
// parallelism"): it polls every registered device for available bytes
// and fires the periodic ntrip_report/GGA timer, until ctx is
// cancelled. Devices are read with a short deadline rather than true
// readiness multiplexing, since io.Reader gives no portable select
// primitive across this package's heterogeneous transports (TCP,
// serial, in-memory pipe).
func (dm *Daemon) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dm.tick()
		}
	}
}

func (dm *Daemon) tick() {
	dm.mu.Lock()
	devices := make([]*Device, 0, len(dm.devices))
	for _, d := range dm.devices {
		devices = append(devices, d)
	}
	dm.mu.Unlock()

	for _, dev := range devices {
		if dev.NTRIP == nil {
			dm.pollDevice(dev)
			continue
		}

		switch dev.NTRIP.State() {
		case ntrip.StateClosed:
			dm.reconnectNTRIP(dev)
		case ntrip.StateInProgress:
			dev.NTRIP.PollReconnect()
		default:
			dm.pollDevice(dev)
			dm.reportGGA(dev)
		}
	}
}

// pollDevice drains whatever bytes are currently available without
// blocking the loop indefinitely. Readers that support a deadline
// (net.Conn, ntrip.Stream) get one; serial ports are bounded by the read
// timeout set when they are opened; others are read in a single
// best-effort Read call per tick.
func (dm *Daemon) pollDevice(dev *Device) {
	buf := make([]byte, 4096)

	type deadliner interface {
		SetReadDeadline(time.Time) error
	}
	if dl, ok := dev.Reader.(deadliner); ok {
		dl.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	}

	n, err := dev.Reader.Read(buf)
	if n > 0 {
		mask := dev.Session.Feed(buf[:n])
		if mask.Any() {
			dm.publisher.Publish(dev.Path, mask, dev.Session)
		}
		if mask.Has(session.UpdateLatLon) && dev.NTRIP != nil {
			dev.NTRIP.RecordFix()
		}
	}
	if err != nil && !isTimeout(err) {
		if dev.NTRIP != nil {
			// CLOSED is a recoverable transport error for NTRIP streams
			// (spec §4.6: "CLOSED --(>=6s)--> IN_PROGRESS"); leave the
			// device registered so reconnectNTRIP can retry it.
			return
		}
		dm.RemoveDevice(dev.Path, "transport: "+err.Error())
	}
}

// reconnectNTRIP implements the CLOSED --(>=6s)--> IN_PROGRESS leg of
// spec §4.6's state machine: once the reconnect delay has elapsed, it
// kicks off the probe/GET handshake on its own goroutine and returns
// immediately. The tick loop never blocks on a slow or unreachable
// caster here; IN_PROGRESS --> ESTABLISHED/ERR is collected later by
// PollReconnect, once per tick, from the StateInProgress case in tick.
func (dm *Daemon) reconnectNTRIP(dev *Device) {
	if !dev.NTRIP.ShouldReconnect() {
		return
	}
	// 30s bounds the handshake goroutine itself; BeginReconnect returns
	// immediately either way, so the tick loop never waits on it.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if !dev.NTRIP.BeginReconnect(ctx) {
		cancel()
	}
}

// reportGGA implements ntrip_report's schedule (spec §4.6): after ten
// accumulated fixes, every fifth tick sends the current position
// upstream as a GGA sentence, when the stream's nmea flag requires it.
func (dm *Daemon) reportGGA(dev *Device) {
	if !dev.NTRIP.ShouldReportGGA() {
		return
	}
	if dev.lastGGA == nil {
		return
	}
	gga := dev.lastGGA()
	if len(gga) == 0 {
		return
	}
	if err := dev.NTRIP.WriteGGA(gga); err != nil {
		dm.log.WithError(err).WithField("device", dev.Path).Warn("ntrip_report: GGA upload failed")
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}
