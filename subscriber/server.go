package subscriber

import (
	"bufio"
	"encoding/json"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kestrelgps/gnssmux/session"
)

// Server is the subscriber TCP line protocol listener (spec §6: default
// port 2947). Each connection is a client with its own WatchOptions;
// Publish fans out to every connection whose options select the
// record classes a given update mask implies.
type Server struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*client
	log     logrus.FieldLogger
}

type client struct {
	id   uuid.UUID
	conn net.Conn
	enc  *json.Encoder
	opts WatchOptions
	mu   sync.Mutex
}

// New constructs a subscriber server with no connections yet.
func New(log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{clients: make(map[uuid.UUID]*client), log: log}
}

// Serve accepts connections on ln until it's closed.
func (srv *Server) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go srv.handle(conn)
	}
}

func (srv *Server) handle(conn net.Conn) {
	id := uuid.New()
	c := &client{id: id, conn: conn, enc: json.NewEncoder(conn), opts: WatchOptions{}}
	log := srv.log.WithField("request_id", id.String())

	srv.mu.Lock()
	srv.clients[id] = c
	srv.mu.Unlock()

	defer func() {
		srv.mu.Lock()
		delete(srv.clients, id)
		srv.mu.Unlock()
		conn.Close()
	}()

	c.send(NewVersion())

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			srv.dispatch(c, line, log)
		}
		if err != nil {
			return
		}
	}
}

// dispatch parses one subscriber command line. Only `?WATCH={...}` is
// implemented per spec §6; other lines, including other `?`-prefixed
// query forms, are ignored and get no reply.
func (srv *Server) dispatch(c *client, line string, log logrus.FieldLogger) {
	if !strings.HasPrefix(line, "?WATCH") {
		return
	}
	body := strings.TrimPrefix(line, "?WATCH")
	body = strings.TrimPrefix(body, "=")
	body = strings.TrimSuffix(body, ";")

	opts, err := ParseWatch(body)
	if err != nil {
		log.WithError(err).Warn("subscriber: malformed ?WATCH body")
		return
	}

	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()

	c.send(opts.ToWatchRecord())
}

func (c *client) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(v)
}

// wants reports whether c's watch options currently accept publication
// at all.
func (c *client) wants() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Enable && c.opts.JSON
}

func (c *client) wantsDevice(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Device == "" || c.opts.Device == path
}

// wantsTiming reports whether c opted into the TOFF/PPS timing classes
// via ?WATCH's "timing" field, distinct from the always-on TPV/SKY/DOP
// classes.
func (c *client) wantsTiming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Timing
}

// Publish implements dispatcher.Publisher: for each connected client
// that has enabled JSON publication (and hasn't restricted itself to a
// different device), translate mask into the TPV/SKY/DOP record
// classes spec §6 names and send them.
func (srv *Server) Publish(devicePath string, mask session.UpdateMask, s *session.Session) {
	srv.mu.Lock()
	clients := make([]*client, 0, len(srv.clients))
	for _, c := range srv.clients {
		clients = append(clients, c)
	}
	srv.mu.Unlock()

	if len(clients) == 0 {
		return
	}

	var tpv *TPV
	var sky *SKY
	var dop *DOPRecord
	var toff *TOFF
	if mask.Has(session.UpdateLatLon) || mask.Has(session.UpdateAltitude) ||
		mask.Has(session.UpdateSpeed) || mask.Has(session.UpdateTrack) ||
		mask.Has(session.UpdateECEF) || mask.Has(session.UpdateTime) {
		v := TPVFromSession(devicePath, s)
		tpv = &v
	}
	if mask.Has(session.UpdateSatellite) || mask.Has(session.UpdateUsed) {
		v := SKYFromSession(devicePath, s)
		sky = &v
	}
	if mask.Has(session.UpdateDOP) {
		v := DOPFromSession(devicePath, s)
		dop = &v
	}
	if mask.Has(session.UpdateClockBias) || mask.Has(session.UpdateClockDrift) ||
		mask.Has(session.UpdateNTPTime) {
		v := TOFFFromSession(devicePath, s)
		toff = &v
	}

	for _, c := range clients {
		if !c.wants() || !c.wantsDevice(devicePath) {
			continue
		}
		if tpv != nil {
			c.send(*tpv)
		}
		if sky != nil {
			c.send(*sky)
		}
		if dop != nil {
			c.send(*dop)
		}
		if toff != nil && c.wantsTiming() {
			c.send(*toff)
		}
	}
}

// DeviceRemoved implements dispatcher.Publisher: publishes a DEVICE
// class record with Activated=false to every connected client (spec
// §7: "session-level errors trigger deactivation and a DEVICE event to
// subscribers").
func (srv *Server) DeviceRemoved(devicePath string, reason string) {
	rec := Device{Class: "DEVICE", Path: devicePath, Activated: false, Reason: reason}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, c := range srv.clients {
		if c.wantsDevice(devicePath) {
			c.send(rec)
		}
	}
}

// DeviceAdded publishes a DEVICE class record with Activated=true, the
// admin `+path` command's observable effect.
func (srv *Server) DeviceAdded(devicePath, driver string) {
	rec := Device{Class: "DEVICE", Path: devicePath, Activated: true, Driver: driver}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, c := range srv.clients {
		if c.wantsDevice(devicePath) {
			c.send(rec)
		}
	}
}
