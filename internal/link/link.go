// Package link provides framed transport I/O: TCP/UDP/Unix connect and
// listen with address-family fallback, dialing that returns once the
// connection is established or has failed, and the socket tuning gnssmux sessions need (keepalive, TCP_NODELAY,
// best-effort low-delay IP_TOS).
package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// Error is the connect/listen error taxonomy. Members match spec §4.2.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrNoService Error = "no-service"
	ErrNoHost    Error = "no-host"
	ErrNoProto   Error = "no-protocol"
	ErrNoSocket  Error = "no-socket"
	ErrNoSockopt Error = "no-sockopt"
	ErrNoConnect Error = "no-connect"
)

// Family selects the address family fallback order. AnyFamily tries all
// addresses name resolution returns, IPv6 first per RFC 3484.
type Family int

const (
	AnyFamily Family = iota
	IPv4Only
	IPv6Only
)

// Options controls how Dial behaves.
type Options struct {
	Family     Family
	Blocking   bool          // not read by Dial: Dial always waits until the connection is established or has failed
	DialTO     time.Duration // zero means no explicit timeout (caller's context governs)
	Keepalive  bool
	NoDelay    bool
	LowDelay   bool // best-effort IP_TOS low-delay
	Log        logrus.FieldLogger
}

func (o Options) logger() logrus.FieldLogger {
	if o.Log != nil {
		return o.Log
	}
	return logrus.StandardLogger()
}

// Dial connects to host:service over the given network ("tcp" or
// "udp"), trying every address name resolution returns in order until
// one connects. A partial failure (a socket obtained but not connected)
// closes that socket before trying the next address.
func Dial(ctx context.Context, network, host, service string, opts Options) (net.Conn, error) {
	log := opts.logger().WithFields(logrus.Fields{"network": network, "host": host, "service": service})

	if host == "" {
		return nil, ErrNoHost
	}
	if service == "" {
		return nil, ErrNoService
	}
	switch network {
	case "tcp", "tcp4", "tcp6", "udp", "udp4", "udp6":
	default:
		return nil, ErrNoProto
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		log.WithError(err).Warn("host resolution failed")
		return nil, ErrNoHost
	}
	ordered := orderByFamily(addrs, opts.Family)

	dialer := net.Dialer{}
	if opts.DialTO > 0 {
		dialer.Timeout = opts.DialTO
	}

	var lastErr error
	for _, addr := range ordered {
		target := net.JoinHostPort(addr, service)
		conn, derr := dialer.DialContext(ctx, network, target)
		if derr != nil {
			lastErr = derr
			log.WithError(derr).WithField("addr", target).Debug("connect attempt failed")
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			if serr := tuneTCP(tcpConn, opts); serr != nil {
				log.WithError(serr).Warn("socket tuning failed, closing and trying next address")
				conn.Close()
				lastErr = ErrNoSockopt
				continue
			}
		}

		return conn, nil
	}

	if lastErr != nil {
		log.WithError(lastErr).Error("all addresses failed to connect")
	}
	return nil, ErrNoConnect
}

// Listen opens a stream listener (network "tcp", "tcp4" or "tcp6") on
// the given service (port or service name), for the admin/subscriber
// sockets. UDP is not supported: net.Listen rejects a "udp" network and
// Listen returns ErrNoSocket.
func Listen(network, service string, opts Options) (net.Listener, error) {
	if service == "" {
		return nil, ErrNoService
	}
	ln, err := net.Listen(network, ":"+service)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSocket, err)
	}
	return ln, nil
}

// LocalConnect opens a Unix-domain stream socket, used for the hotplug
// admin interface (spec §6).
func LocalConnect(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoConnect, err)
	}
	return conn, nil
}

// LocalListen opens the Unix-domain listening socket for the admin
// interface.
func LocalListen(path string) (net.Listener, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSocket, err)
	}
	return ln, nil
}

func orderByFamily(addrs []string, family Family) []string {
	if family == AnyFamily {
		ordered := make([]string, 0, len(addrs))
		var v6, v4 []string
		for _, a := range addrs {
			if isIPv6(a) {
				v6 = append(v6, a)
			} else {
				v4 = append(v4, a)
			}
		}
		ordered = append(ordered, v6...)
		ordered = append(ordered, v4...)
		return ordered
	}
	var out []string
	for _, a := range addrs {
		if (family == IPv6Only) == isIPv6(a) {
			out = append(out, a)
		}
	}
	return out
}

func isIPv6(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && ip.To4() == nil
}

// ErrIs reports whether err (possibly wrapped) is one of the taxonomy
// members declared in this package.
func ErrIs(err error, target Error) bool {
	return errors.Is(err, target)
}
