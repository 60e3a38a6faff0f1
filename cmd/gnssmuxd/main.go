// Command gnssmuxd is the daemon entrypoint spec §6/§9 describes:
// wires dispatcher+admin+subscriber together, reads GNSSMUX_SOCKET/
// GNSSMUX_OPTIONS (renamed from GPSD_SOCKET/GPSD_OPTIONS per spec §6,
// same contract), and serves the admin and subscriber sockets until
// signalled to stop.
//
// Grounded on cmd/ntrip-server/main.go's flag+logrus.TextFormatter
// wiring and cmd/rtk2go-test/main.go's signal.Notify shutdown idiom.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/kestrelgps/gnssmux/admin"
	"github.com/kestrelgps/gnssmux/dispatcher"
	"github.com/kestrelgps/gnssmux/internal/link"
	"github.com/kestrelgps/gnssmux/subscriber"
)

func main() {
	subscriberPort := flag.String("port", "2947", "subscriber TCP port")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatalf("invalid log level: %v", err)
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	sockPath := adminSocketPath()

	subSrv := subscriber.New(logger)
	dm := dispatcher.New(subSrv, dispatcher.WithLogger(logger))

	adminSrv, err := admin.Listen(sockPath, dm, logger)
	if err != nil {
		logger.Fatalf("admin socket %s: %v", sockPath, err)
	}
	defer adminSrv.Close()

	subLn, err := link.Listen("tcp", *subscriberPort, link.Options{Log: logger})
	if err != nil {
		logger.Fatalf("subscriber port %s: %v", *subscriberPort, err)
	}
	go subSrv.Serve(subLn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go adminSrv.Serve(ctx)

	for _, path := range hotplugDevices() {
		if err := dm.OpenDevice(path); err != nil {
			logger.WithError(err).WithField("path", path).Warn("failed to open hotplug device")
		}
	}

	logger.WithFields(logrus.Fields{
		"admin_socket": sockPath, "subscriber_port": *subscriberPort,
	}).Info("gnssmuxd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	dm.Run(ctx)
}

// adminSocketPath honors GNSSMUX_SOCKET (spec §6, renamed from
// GPSD_SOCKET), defaulting to a /tmp-scoped path for non-root
// invocations.
func adminSocketPath() string {
	if p := os.Getenv("GNSSMUX_SOCKET"); p != "" {
		return p
	}
	if os.Geteuid() == 0 {
		return "/var/run/gnssmuxd.sock"
	}
	return fmt.Sprintf("/tmp/gnssmuxd-%d.sock", os.Getuid())
}

// hotplugDevices parses GNSSMUX_OPTIONS (spec §6, renamed from
// GPSD_OPTIONS) as a comma-separated list of device paths to open at
// startup, the hotplug-launched-daemon argument contract.
func hotplugDevices() []string {
	raw := os.Getenv("GNSSMUX_OPTIONS")
	if raw == "" {
		return nil
	}
	var paths []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
