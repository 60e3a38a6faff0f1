package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kestrelgps/gnssmux/lexer"
)

// ProtocolState is the three-way state every session is in exactly one
// of (spec §3 Invariants).
type ProtocolState int

const (
	ProtocolUnknown ProtocolState = iota // sniffing
	ProtocolLocked
	ProtocolError
)

// EventKind is a decoder lifecycle hook (spec §4.4).
type EventKind int

const (
	EventWakeup EventKind = iota
	EventIdentified
	EventConfigure
	EventSwitchDriver
	EventDeactivate
	EventReactivate
)

// Driver is the per-protocol decoder capability set (spec §4.4, DESIGN
// NOTES §9's "Driver vtable"). Parse is required; the rest are
// optional and a Driver implementation that doesn't need them can
// embed BaseDriver to get no-op defaults.
type Driver interface {
	Protocol() lexer.PacketType
	Parse(s *Session, frame []byte) UpdateMask
	Event(s *Session, ev EventKind)
	ControlSend(s *Session, payload []byte) (int, error)
}

// BaseDriver gives decoders no-op Event/ControlSend implementations so
// they only need to implement Parse and Protocol.
type BaseDriver struct{}

func (BaseDriver) Event(*Session, EventKind)                {}
func (BaseDriver) ControlSend(*Session, []byte) (int, error) { return -1, ErrNoControlSend }

// ErrNoControlSend is returned by drivers that don't support
// administrative control writes.
var ErrNoControlSend = sessionError("driver does not support control_send")

type sessionError string

func (e sessionError) Error() string { return string(e) }

// Stats exposes the per-session diagnostic counters spec §7 requires
// ("one counter per session incremented" for checksum failures, plus
// the truncation/identification counts the dispatcher surfaces in
// DEVICE events).
type Stats struct {
	FramingErrors       uint64
	ChecksumErrors      uint64
	TruncatedPackets    uint64
	UnidentifiedBytes   uint64
	PacketsReceived     uint64
}

// Session is the per-device state spec §3/§4.5 describes: the current
// driver, lexer, cached fix/skyview/DOP/clock, subtype string, and a
// writable output buffer for staged control frames.
type Session struct {
	mu sync.Mutex

	ID   uuid.UUID
	Path string // device path/URL

	log logrus.FieldLogger

	state      ProtocolState
	lex        *lexer.Lexer
	drivers    map[lexer.PacketType]Driver
	active     Driver
	subtype    string
	cycleTime  time.Duration
	sequence   uint64
	lastRecv   time.Time

	Fix     Fix
	Skyview Skyview
	DOP     DOP
	Clock   Clock

	outbuf []byte // staged control-frame bytes awaiting write

	writer func([]byte) (int, error) // device write path, injected by the dispatcher

	stats Stats
}

// Option configures a Session at construction.
type Option func(*Session)

// WithLogger attaches a structured logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Session) { s.log = log }
}

// WithWriter injects the device's write path, used by WriteControl and
// by drivers' ControlSend implementations.
func WithWriter(w func([]byte) (int, error)) Option {
	return func(s *Session) { s.writer = w }
}

// New creates a session bound to path, with the given drivers
// registered by protocol. The session starts in ProtocolUnknown,
// sniffing for the first successful packet (spec §4.3 "Identification").
func New(path string, drivers []Driver, opts ...Option) *Session {
	s := &Session{
		ID:      uuid.New(),
		Path:    path,
		log:     logrus.StandardLogger(),
		state:   ProtocolUnknown,
		lex:     lexer.New(),
		drivers: make(map[lexer.PacketType]Driver, len(drivers)),
		Fix:     NewFix(),
		DOP:     NewDOP(),
		Clock:   NewClock(),
	}
	for _, d := range drivers {
		s.drivers[d.Protocol()] = d
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the session's current protocol state.
func (s *Session) State() ProtocolState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a copy of the session's diagnostic counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Subtype returns the driver-reported firmware identity string, if any.
func (s *Session) Subtype() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subtype
}

// SetSubtype records the firmware identity string a decoder discovered.
func (s *Session) SetSubtype(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subtype = v
}

// Feed pushes input bytes through the lexer, dispatches any completed
// frames to the active (or identifying) driver, and returns the union
// of update masks produced. Per spec §5, Feed must only be called from
// the dispatcher's single main loop.
func (s *Session) Feed(data []byte) UpdateMask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var union UpdateMask
	for _, pkt := range s.lex.Feed(data) {
		s.stats.PacketsReceived++
		s.sequence++
		s.lastRecv = time.Now()

		d, ok := s.drivers[pkt.Type]
		if !ok {
			s.stats.UnidentifiedBytes += uint64(len(pkt.Data))
			s.log.WithField("protocol", pkt.Type).Warn("identification: no driver registered for protocol")
			continue
		}

		if s.state == ProtocolUnknown {
			s.lockDriverLocked(d)
		} else if s.active != nil && s.active.Protocol() != pkt.Type {
			// The lexer identified a different framing than the one
			// we're locked to; a driver switch is an explicit operation
			// (spec §4.5), so an opportunistic mismatch is logged and
			// the frame dropped rather than silently re-locking.
			s.log.WithFields(logrus.Fields{
				"locked": s.active.Protocol(), "observed": pkt.Type,
			}).Warn("framing mismatch against locked driver, dropping frame")
			continue
		}

		// Parse runs with s.mu released: decoders call locking Session
		// methods such as RecordTruncated and ClearFix.
		s.mu.Unlock()
		mask := d.Parse(s, pkt.Data)
		s.mu.Lock()
		union |= mask
	}
	return union
}

func (s *Session) lockDriverLocked(d Driver) {
	s.active = d
	s.state = ProtocolLocked
	d.Event(s, EventIdentified)
	d.Event(s, EventConfigure)
}

// WriteControl invokes the active driver's ControlSend to stage and
// transmit a raw administrative payload.
func (s *Session) WriteControl(payload []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return -1, ErrNoControlSend
	}
	return s.active.ControlSend(s, payload)
}

// Write is the device write path drivers' ControlSend implementations
// call through; it's injected via WithWriter so Session itself stays
// transport-agnostic.
func (s *Session) Write(b []byte) (int, error) {
	if s.writer == nil {
		return -1, ErrNoControlSend
	}
	return s.writer(b)
}

// SwitchDriver explicitly switches the active protocol (spec §4.5),
// firing the outgoing driver's deactivate event and the incoming
// driver's identified then configure events.
func (s *Session) SwitchDriver(protocol lexer.PacketType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := s.drivers[protocol]
	if !ok {
		return false
	}
	if s.active != nil {
		s.active.Event(s, EventDeactivate)
	}
	s.lockDriverLocked(next)
	return true
}

// ClearFix resets the fix record to all-NaN/no-fix, invoked at cycle
// boundaries (spec §4.5): receipt of the driver's designated sentinel
// sentence, e.g. RMC for NMEA.
func (s *Session) ClearFix() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fix = NewFix()
}

// RecordChecksumError increments the session's checksum-error counter
// (spec §7: "one counter per session incremented").
func (s *Session) RecordChecksumError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.ChecksumErrors++
}

// RecordTruncated increments the truncated-packet counter when a
// decoder finds payload_len disagreeing with the delivered bytes.
func (s *Session) RecordTruncated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TruncatedPackets++
}

// Deactivate drains the lexer and fires the active driver's deactivate
// event, matching spec §5's cancellation contract.
func (s *Session) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active.Event(s, EventDeactivate)
	}
	s.active = nil
	s.state = ProtocolUnknown
	s.lex = lexer.New()
}
