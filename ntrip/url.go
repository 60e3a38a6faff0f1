// Package ntrip implements the NTRIP/DGPSIP correction client (spec
// §4.6): a staged state machine that opens a TCP connection to a
// caster, parses its sourcetable, selects a mountpoint, authenticates
// with HTTP Basic, and streams correction bytes through Stream.Read.
// The dispatcher decodes those bytes in the NTRIP device's own session
// (RTCM2/RTCM3 drivers); it does not write them to any other device.
//
// Grounded on pkg/gnssgo/stream/ntrip.go (state-int convention, GGA
// detection on write, user:pass@host:port/mountpoint splitting) and
// pkg/caster/sourcetable.go (the STR/NET/CAS record shapes this
// package's sourcetable parser consumes the inverse of).
package ntrip

import (
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Error is the sentinel error type for this package, matching
// pkg/caster's own `type Error string` convention.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrMissingMountpoint = Error("ntrip url: missing mountpoint")
	ErrMissingHost       = Error("ntrip url: missing host")
	ErrMalformedURL      = Error("ntrip url: malformed")
)

const defaultPort = "2101" // used when the rtcm-sc104 service name does not resolve, spec §4.6

// URL is a parsed NTRIP connection target (spec §4.6's URL grammar:
// ntrip://[user:pass@]host-or-ipv6-literal[:port]/mountpoint).
type URL struct {
	User, Pass string
	Host       string // bare, brackets stripped for IPv6 literals
	IsIPv6     bool
	Port       string
	Mountpoint string
}

// ParseURL parses raw against the priority-ordered grammar spec §4.6
// lists: user:pass@[ipv6]:port/mount, user:pass@host:port/mount,
// host:port/mount, [ipv6]/mount, host/mount. A scheme prefix
// ("ntrip://") is optional and stripped if present.
func ParseURL(raw string) (*URL, error) {
	rest := strings.TrimPrefix(raw, "ntrip://")

	var user, pass string
	if at := strings.LastIndexByte(rest, '@'); at >= 0 {
		cred := rest[:at]
		rest = rest[at+1:]
		if colon := strings.IndexByte(cred, ':'); colon >= 0 {
			user, pass = cred[:colon], cred[colon+1:]
		} else {
			user = cred
		}
	}

	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return nil, ErrMissingMountpoint
	}
	hostport := rest[:slash]
	mount := rest[slash+1:]
	if mount == "" {
		return nil, ErrMissingMountpoint
	}

	host, port, isIPv6, err := splitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	if host == "" {
		return nil, ErrMissingHost
	}
	if port == "" {
		port = defaultPort
		if p, err := net.LookupPort("tcp", "rtcm-sc104"); err == nil {
			port = strconv.Itoa(p)
		}
	}

	return &URL{
		User: user, Pass: pass,
		Host: host, IsIPv6: isIPv6, Port: port,
		Mountpoint: mount,
	}, nil
}

// splitHostPort handles both bracketed IPv6 literals ("[::1]:2101") and
// plain host:port, returning isIPv6 so callers can re-bracket when
// dialing.
func splitHostPort(hostport string) (host, port string, isIPv6 bool, err error) {
	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return "", "", false, ErrMalformedURL
		}
		host = hostport[1:end]
		isIPv6 = true
		remainder := hostport[end+1:]
		if strings.HasPrefix(remainder, ":") {
			port = remainder[1:]
		}
		return host, port, isIPv6, nil
	}

	if net.ParseIP(hostport) != nil && strings.Contains(hostport, ":") {
		// Bare IPv6 literal with no brackets and no port.
		return hostport, "", true, nil
	}

	if idx := strings.LastIndexByte(hostport, ':'); idx >= 0 {
		host = hostport[:idx]
		port = hostport[idx+1:]
		if _, err := strconv.Atoi(port); err != nil {
			return "", "", false, ErrMalformedURL
		}
		return host, port, false, nil
	}
	return hostport, "", false, nil
}

// DialAddress returns the host:port (or [host]:port for IPv6) string
// suitable for net.Dial / internal/link.Dial.
func (u *URL) DialAddress() string {
	if u.IsIPv6 {
		return fmt.Sprintf("[%s]:%s", u.Host, u.Port)
	}
	return fmt.Sprintf("%s:%s", u.Host, u.Port)
}

// BasicAuthHeader returns the base64-encoded "Authorization: Basic"
// header value spec §4.6 requires, or "" when no credentials are set.
func (u *URL) BasicAuthHeader() string {
	if u.User == "" {
		return ""
	}
	raw := u.User + ":" + u.Pass
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// String renders the canonical form: round-tripping parse then
// serialize yields this form, differing from the input only by
// omission of default port and scheme (spec §8 testable property).
func (u *URL) String() string {
	var cred string
	if u.User != "" {
		cred = u.User
		if u.Pass != "" {
			cred += ":" + u.Pass
		}
		cred += "@"
	}
	host := u.Host
	if u.IsIPv6 {
		host = "[" + host + "]"
	}
	port := ""
	if u.Port != defaultPort {
		port = ":" + u.Port
	}
	return fmt.Sprintf("%s%s%s/%s", cred, host, port, u.Mountpoint)
}
