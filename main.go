package main

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arrayrt/Interfaces"
	"arrayrt/PeerManager"
	"arrayrt/cli"
	"arrayrt/config"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "arrayrt",
		Short:        "IPv4 overlay router with a lock-free route table",
		SilenceUsage: true,
	}

	var configPath string
	run := &cobra.Command{
		Use:   "run",
		Short: "Run the router daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, c)
		},
	}
	run.Flags().StringVarP(&configPath, "config", "c", "config.toml", "path to the TOML config file")

	var socket string
	client := &cobra.Command{
		Use:   "cli",
		Short: "Connect to the control socket of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.StartClient(socket)
		},
	}
	client.Flags().StringVarP(&socket, "socket", "s", "cli.sock", "control socket path")

	root.AddCommand(run, client)
	return root
}

func newLogger(c *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(c.Level())
	return zc.Build()
}

func runDaemon(ctx context.Context, c *config.Config) error {
	logger, err := newLogger(c)
	if err != nil {
		return errors.Wrap(err, "building logger")
	}
	defer func() { _ = logger.Sync() }()

	accept, err := c.AcceptSet()
	if err != nil {
		return errors.Wrap(err, "peer accept ranges")
	}
	ttl, err := c.TTL()
	if err != nil {
		return errors.Wrap(err, "peer route ttl")
	}
	routes, err := c.StaticRoutes()
	if err != nil {
		return errors.Wrap(err, "static routes")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	host := Interfaces.NewHost(logger)
	for _, i := range c.Interfaces {
		host.Register(i.Index, i.Name, netip.MustParseAddr(i.Gateway))
	}
	table := host.Table()
	// the table is dropped last, once nothing can reach it anymore
	defer table.Drop()

	for _, r := range routes {
		table.AddRoute(r)
		logger.Info("Static route", zap.Stringer("route", r))
	}

	ln, err := net.Listen("tcp", c.PeerListen)
	if err != nil {
		return errors.Wrap(err, "peer listen")
	}
	if err := host.Startup(ctx, c.DataListen); err != nil {
		_ = ln.Close()
		return err
	}
	defer host.Close()

	if c.MetricsListen != "" {
		srv := &http.Server{Addr: c.MetricsListen, Handler: promhttp.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	cliDone := make(chan struct{})
	go func() {
		defer close(cliDone)
		if err := cli.Startup(ctx, logger, c.CliSocket, table); err != nil {
			logger.Error("Cli server", zap.Error(err))
		}
	}()

	peers := PeerManager.NewServer(logger, table, accept, ttl)
	logger.Info("Started", zap.String("peers", ln.Addr().String()), zap.Int("routes", table.Snapshot().Len()))
	err = peers.Serve(ctx, ln)
	cancel()
	<-cliDone
	return err
}
