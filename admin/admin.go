// Package admin implements the control (admin) interface spec §6
// describes: a Unix-domain stream socket accepting one line per
// command, `+<path>` to add a device and `-<path>` to remove one.
//
// Grounded on internal/link's LocalListen/LocalConnect (the Unix-socket
// framing this package dials into) and pkg/caster/caster.go's
// http.Server-wrapping idiom, generalized to a bare net.Listener accept
// loop since the admin protocol is plain line text, not HTTP.
package admin

import (
	"bufio"
	"context"
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kestrelgps/gnssmux/internal/link"
)

// DeviceManager is the subset of dispatcher.Daemon the admin socket
// drives: add/remove a device by path.
type DeviceManager interface {
	OpenDevice(path string) error
	RemoveDevice(path string, reason string)
}

// Server accepts admin connections on a Unix-domain socket.
type Server struct {
	ln  net.Listener
	mgr DeviceManager
	log logrus.FieldLogger
}

// Listen opens the admin socket at path (spec §6: overridden by
// GNSSMUX_SOCKET, defaulting to a /tmp-scoped path for non-root
// invocations).
func Listen(path string, mgr DeviceManager, log logrus.FieldLogger) (*Server, error) {
	ln, err := link.LocalListen(path)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{ln: ln, mgr: mgr, log: log}, nil
}

// Addr returns the socket path being served.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close stops accepting new admin connections.
func (s *Server) Close() error { return s.ln.Close() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed.
func (s *Server) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			ack := s.dispatch(line)
			conn.Write(ack)
		}
		if err != nil {
			return
		}
	}
}

// dispatch executes one admin command line and returns the short ACK
// spec §6 allows to be implementation-defined (up to 12 bytes).
func (s *Server) dispatch(line string) []byte {
	if len(line) < 2 {
		return []byte("ERROR\r\n")
	}
	op, path := line[0], line[1:]
	switch op {
	case '+':
		if err := s.mgr.OpenDevice(path); err != nil {
			s.log.WithError(err).WithField("path", path).Warn("admin: add device failed")
			return []byte("ERROR\r\n")
		}
		return []byte("OK\r\n")
	case '-':
		s.mgr.RemoveDevice(path, "admin: removed")
		return []byte("OK\r\n")
	default:
		return []byte("ERROR\r\n")
	}
}
