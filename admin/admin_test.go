package admin

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingManager struct {
	opened  []string
	removed []string
	failOn  string
}

func (m *recordingManager) OpenDevice(path string) error {
	if path == m.failOn {
		return errTest
	}
	m.opened = append(m.opened, path)
	return nil
}

func (m *recordingManager) RemoveDevice(path string, reason string) {
	m.removed = append(m.removed, path)
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errTest = testErr("boom")

func TestAddAndRemoveDevice(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "admin.sock")
	mgr := &recordingManager{}
	srv, err := Listen(sockPath, mgr, nil)
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("+/dev/ttyUSB0\r\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "OK")
	require.Equal(t, []string{"/dev/ttyUSB0"}, mgr.opened)

	_, err = conn.Write([]byte("-/dev/ttyUSB0\r\n"))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err = conn.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "OK")
	require.Equal(t, []string{"/dev/ttyUSB0"}, mgr.removed)
}

func TestOpenDeviceFailureReturnsError(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "admin.sock")
	mgr := &recordingManager{failOn: "/dev/bad"}
	srv, err := Listen(sockPath, mgr, nil)
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("+/dev/bad\r\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "ERROR")
}
