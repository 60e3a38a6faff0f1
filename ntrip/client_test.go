package ntrip

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	castertest "github.com/kestrelgps/gnssmux/testsupport/caster"
)

func TestConnectMatchesMountpointAndStreams(t *testing.T) {
	srv, err := castertest.New()
	require.NoError(t, err)
	defer srv.Close()

	srv.AddMount("MOUNT1",
		"MOUNT1;Test Station;RTCM 3.2;1005(1),1077(1);2;GPS+GLO;NONE;DEU;48.10;11.50;1;0;gnssmux-test;none;none;N;9600;none",
		"")

	raw := "ntrip://" + srv.Addr() + "/MOUNT1"
	url, err := ParseURL(raw)
	require.NoError(t, err)

	stream := New(url)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, stream.Connect(ctx))
	require.Equal(t, StateEstablished, stream.State())
	require.Equal(t, FormatRTCM3, stream.Format())
	require.True(t, stream.NMEARequired())

	time.Sleep(50 * time.Millisecond) // let the server register the subscriber channel
	srv.Publish("MOUNT1", []byte{0xD3, 0x00, 0x00, 0x00, 0x00, 0x00})

	buf := make([]byte, 6)
	n, err := io.ReadFull(stream, buf)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, byte(0xD3), buf[0])
}

func TestConnectFailsOnUnknownMountpoint(t *testing.T) {
	srv, err := castertest.New()
	require.NoError(t, err)
	defer srv.Close()

	srv.AddMount("MOUNT1",
		"MOUNT1;Test Station;RTCM 3.2;1005(1);2;GPS;NONE;DEU;48.10;11.50;0;0;gnssmux-test;none;none;N;9600;none",
		"")

	url, err := ParseURL("ntrip://" + srv.Addr() + "/NOSUCHMOUNT")
	require.NoError(t, err)

	stream := New(url)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = stream.Connect(ctx)
	require.Error(t, err)
	require.Equal(t, StateError, stream.State())
}

func TestConnectFailsOn401(t *testing.T) {
	srv, err := castertest.New()
	require.NoError(t, err)
	defer srv.Close()

	srv.AddMount("MOUNT1",
		"MOUNT1;Test Station;RTCM 3.2;1005(1);2;GPS;NONE;DEU;48.10;11.50;0;0;gnssmux-test;none;basic;N;9600;none",
		"validuser:validpass")

	url, err := ParseURL("ntrip://baduser:badpass@" + srv.Addr() + "/MOUNT1")
	require.NoError(t, err)

	stream := New(url)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = stream.Connect(ctx)
	require.Error(t, err)
	require.Equal(t, StateError, stream.State())
}

func TestShouldReportGGAScheduleWithNMEARequired(t *testing.T) {
	srv, err := castertest.New()
	require.NoError(t, err)
	defer srv.Close()

	srv.AddMount("MOUNT1",
		"MOUNT1;Test Station;RTCM 3.2;1005(1);2;GPS;NONE;DEU;48.10;11.50;1;0;gnssmux-test;none;none;N;9600;none",
		"")

	url, err := ParseURL("ntrip://" + srv.Addr() + "/MOUNT1")
	require.NoError(t, err)
	stream := New(url)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, stream.Connect(ctx))

	for i := 0; i < 9; i++ {
		stream.RecordFix()
		require.False(t, stream.ShouldReportGGA())
	}
	stream.RecordFix() // 10th fix crosses the threshold

	var reported int
	for i := 0; i < 5; i++ {
		if stream.ShouldReportGGA() {
			reported++
		}
	}
	require.Equal(t, 1, reported, "only the fifth invocation after threshold should report")
}
