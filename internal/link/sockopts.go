package link

import (
	"net"

	"golang.org/x/sys/unix"
)

// tuneTCP applies spec §4.2's socket tuning: SO_REUSEADDR, TCP_NODELAY,
// SO_KEEPALIVE, and (best-effort) IP_TOS low-delay. Reached via
// SyscallConn because the stdlib net package exposes TCP_NODELAY and
// keepalive through higher-level setters but not IP_TOS, and because
// SO_REUSEADDR on an already-connected socket is only meaningful on the
// raw fd. TCP_NODELAY and SO_KEEPALIVE follow opts.NoDelay and
// opts.Keepalive; SO_REUSEADDR and IP_TOS are both set only when
// opts.LowDelay is true.
func tuneTCP(conn *net.TCPConn, opts Options) error {
	if opts.NoDelay {
		if err := conn.SetNoDelay(true); err != nil {
			return err
		}
	}
	if opts.Keepalive {
		if err := conn.SetKeepAlive(true); err != nil {
			return err
		}
	}
	if !opts.LowDelay {
		return nil
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var reuseErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		reuseErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if reuseErr != nil {
			return
		}
		// Best-effort: low-delay ToS isn't honored by most modern
		// routers, but the spec asks for it and it costs nothing to set.
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, unix.IPTOS_LOWDELAY)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	// IP_TOS failures are intentionally swallowed: it's best-effort.
	return reuseErr
}
