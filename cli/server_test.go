package cli_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"arrayrt/RouteTable"
	"arrayrt/cli"
)

func TestHandle(t *testing.T) {
	tbl := RouteTable.Create(nil, nil)

	steps := []struct {
		line string
		want string
	}{
		{line: "routes show", want: "No routes\n"},
		{line: "route get 10.1.2.3", want: "no route\n"},
		{line: "route add 10.0.0.0/8 via 192.168.0.1 dev 1", want: "OK\n"},
		{line: "route add 10.1.0.0/16 via 192.168.0.2 dev 2", want: "OK\n"},
		{line: "route get 10.1.2.3", want: "10.1.0.0/16 via 192.168.0.2 dev 2 kind allowed-ranges\n"},
		{line: "route get 10.2.2.3 from 10.9.9.9", want: "10.0.0.0/8 via 192.168.0.1 dev 1 kind allowed-ranges\n"},
		{line: "routes show", want: "generation 2\n" +
			"10.1.0.0/16 via 192.168.0.2 dev 2 kind allowed-ranges [10.1.0.0-10.1.255.255]\n" +
			"10.0.0.0/8 via 192.168.0.1 dev 1 kind allowed-ranges [10.0.0.0-10.255.255.255]\n"},
		{line: "route del 10.1.0.0/16", want: "removed 10.1.0.0/16 via 192.168.0.2 dev 2 kind allowed-ranges\n"},
		{line: "route del 10.1.0.0/16", want: "not found\n"},
		{line: "route get 10.1.2.3", want: "10.0.0.0/8 via 192.168.0.1 dev 1 kind allowed-ranges\n"},
		{line: "route add 10.0.0.0/8 via 192.168.0.1", want: "incomplete command\n"},
		{line: "route add 10.0.0.0/8 via 192.168.0.1 dev x", want: "dev is not an int value\n"},
		{line: "route get fd00::1", want: "fd00::1 is not an IPv4 address\n"},
		{line: "route frob 1", want: "unknown route command \"frob\"\n"},
		{line: "interfaces", want: "no interface information\n"},
		{line: "bogus", want: "unknown command\n"},
		{line: "   ", want: ""},
	}
	for _, s := range steps {
		assert.Equal(t, s.want, cli.Handle(tbl, s.line), s.line)
	}
}

func TestHandleInterfaces(t *testing.T) {
	tbl := RouteTable.Create("ctx", func(ctx RouteTable.Context) ([]byte, error) {
		return []byte(`[{"index":1,"ctx":"` + ctx.(string) + `"}]`), nil
	})
	assert.Equal(t, "[{\"index\":1,\"ctx\":\"ctx\"}]\n", cli.Handle(tbl, "interfaces"))
}

func TestStartupClosesSessionsOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	tbl := RouteTable.Create(nil, nil)
	socket := filepath.Join(t.TempDir(), "cli.sock")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cli.Startup(ctx, zaptest.NewLogger(t), socket, tbl) }()

	var conn net.Conn
	require.Eventually(t, func() bool {
		var err error
		conn, err = net.Dial("unix", socket)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	_, err := conn.Write([]byte("routes show\n"))
	require.NoError(t, err)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "No routes\n" {
			break
		}
	}

	cancel()
	require.NoError(t, <-done)
	_, err = io.ReadAll(reader)
	assert.NoError(t, err)
	tbl.Drop()
}
