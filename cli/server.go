package cli

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go4.org/netipx"

	"arrayrt/RouteTable"
)

const usage = `arrayrt cli
Commands:
 routes show
 route get <dst> [from <src>]
 route add <cidr> via <gateway> dev <index>
 route del <cidr>
 interfaces
`

// Handle runs one command line against the table and returns the reply.
func Handle(table *RouteTable.RoutingTable, line string) string {
	cmd := strings.Fields(line)
	if len(cmd) == 0 {
		return ""
	}
	switch {
	case cmd[0] == "help":
		return usage
	case cmd[0] == "interfaces":
		fn := table.InterfaceInfo()
		if fn == nil {
			return "no interface information\n"
		}
		info, err := fn(table.Context())
		if err != nil {
			return err.Error() + "\n"
		}
		return string(info) + "\n"
	case len(cmd) == 2 && cmd[0] == "routes" && cmd[1] == "show":
		return showRoutes(table.Snapshot())
	case len(cmd) >= 3 && cmd[0] == "route":
		reply, err := handleRoute(table, cmd[1], cmd[2:])
		if err != nil {
			return err.Error() + "\n"
		}
		return reply
	}
	return "unknown command\n"
}

func showRoutes(snap RouteTable.Snapshot) string {
	items := snap.Items()
	if len(items) == 0 {
		return "No routes\n"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "generation %d\n", snap.Generation())
	for _, it := range items {
		r := netipx.RangeOfPrefix(it.Cidr.Prefix().Masked())
		fmt.Fprintf(&sb, "%s [%s]\n", it, r)
	}
	return sb.String()
}

func handleRoute(table *RouteTable.RoutingTable, verb string, args []string) (string, error) {
	switch verb {
	case "get":
		dst, err := parseAddr(args[0])
		if err != nil {
			return "", err
		}
		var src uint32
		if len(args) == 3 && args[1] == "from" {
			if src, err = parseAddr(args[2]); err != nil {
				return "", err
			}
		} else if len(args) != 1 {
			return "", errors.New("incomplete command")
		}
		if it, ok := table.FindRoute(src, dst).Get(); ok {
			return it.String() + "\n", nil
		}
		return "no route\n", nil
	case "add":
		if len(args) != 5 || args[1] != "via" || args[3] != "dev" {
			return "", errors.New("incomplete command")
		}
		cidr, err := RouteTable.ParseCidr(args[0])
		if err != nil {
			return "", err
		}
		gw, err := parseAddr(args[2])
		if err != nil {
			return "", err
		}
		index, err := strconv.ParseUint(args[4], 10, 32)
		if err != nil {
			return "", errors.New("dev is not an int value")
		}
		table.AddRoute(RouteTable.NewItem(cidr, gw, uint(index), RouteTable.RoutesFromAllowedRanges))
		return "OK\n", nil
	case "del":
		cidr, err := RouteTable.ParseCidr(args[0])
		if err != nil {
			return "", err
		}
		if it, ok := table.RemoveRoute(&cidr).Get(); ok {
			return "removed " + it.String() + "\n", nil
		}
		return "not found\n", nil
	}
	return "", errors.Errorf("unknown route command %q", verb)
}

func parseAddr(s string) (uint32, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return 0, err
	}
	if !a.Is4() {
		return 0, errors.Errorf("%s is not an IPv4 address", s)
	}
	return RouteTable.AddrToUint32(a), nil
}

func serveConn(c net.Conn, table *RouteTable.RoutingTable) {
	defer c.Close()
	_, _ = c.Write([]byte(usage))
	scanner := bufio.NewScanner(c)
	for scanner.Scan() {
		if _, err := c.Write([]byte(Handle(table, scanner.Text()))); err != nil {
			return
		}
	}
}

// Startup listens on the unix socket until ctx is done. It returns after
// every open session has been closed.
func Startup(ctx context.Context, logger *zap.Logger, socket string, table *RouteTable.RoutingTable) error {
	logger = logger.Named("cli")
	_ = os.Remove(socket)
	l, err := net.Listen("unix", socket)
	if err != nil {
		return errors.Wrap(err, "cli listen")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sessions = make(map[net.Conn]struct{})
	)
	defer wg.Wait()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		_ = l.Close()
		mu.Lock()
		for c := range sessions {
			_ = c.Close()
		}
		mu.Unlock()
	}()

	for {
		fd, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("Accept error", zap.Error(err))
			continue
		}
		mu.Lock()
		if ctx.Err() != nil {
			mu.Unlock()
			_ = fd.Close()
			return nil
		}
		sessions[fd] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConn(fd, table)
			mu.Lock()
			delete(sessions, fd)
			mu.Unlock()
		}()
	}
}
