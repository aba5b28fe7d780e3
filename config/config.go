package config

import (
	"net/netip"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"go4.org/netipx"

	"arrayrt/RouteTable"
)

var ErrNoInterfaces = errors.New("no interfaces configured")

const minPeerRouteTTL = time.Second

type Interface struct {
	Index   uint
	Name    string
	Gateway string
}

type Route struct {
	Cidr      string
	Gateway   string
	Interface uint
}

type Config struct {
	LogLevel       string
	CliSocket      string
	DataListen     string
	PeerListen     string
	MetricsListen  string
	VirtualNetwork string
	AcceptRanges   []string
	PeerRouteTTL   string
	Interfaces     []Interface
	Routes         []Route
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return Parse(string(data))
}

func Parse(data string) (*Config, error) {
	var c Config
	if _, err := toml.Decode(data, &c); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CliSocket == "" {
		c.CliSocket = "cli.sock"
	}
	if c.DataListen == "" {
		c.DataListen = ":3643"
	}
	if c.PeerListen == "" {
		c.PeerListen = ":3644"
	}
	if c.PeerRouteTTL == "" {
		c.PeerRouteTTL = "5m"
	}
}

func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "LogLevel")
	}
	if len(c.Interfaces) == 0 {
		return ErrNoInterfaces
	}
	seen := make(map[uint]bool)
	for _, i := range c.Interfaces {
		if seen[i.Index] {
			return errors.Errorf("duplicate interface index %d", i.Index)
		}
		seen[i.Index] = true
		if _, err := parseAddr4(i.Gateway); err != nil {
			return errors.Wrapf(err, "interface %d", i.Index)
		}
	}
	if c.VirtualNetwork != "" {
		if _, err := RouteTable.ParseCidr(c.VirtualNetwork); err != nil {
			return errors.Wrap(err, "VirtualNetwork")
		}
	}
	if _, err := c.AcceptSet(); err != nil {
		return err
	}
	if _, err := c.TTL(); err != nil {
		return err
	}
	_, err := c.StaticRoutes()
	return err
}

func (c *Config) Level() zapcore.Level {
	l, _ := zapcore.ParseLevel(c.LogLevel)
	return l
}

func (c *Config) TTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.PeerRouteTTL)
	if err != nil {
		return 0, errors.Wrap(err, "PeerRouteTTL")
	}
	if d < minPeerRouteTTL {
		return 0, errors.Errorf("PeerRouteTTL must be at least %s, got %s", minPeerRouteTTL, d)
	}
	return d, nil
}

// AcceptSet returns the ranges peers may announce routes for. An empty
// list accepts everything.
func (c *Config) AcceptSet() (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	if len(c.AcceptRanges) == 0 {
		b.AddPrefix(netip.MustParsePrefix("0.0.0.0/0"))
	}
	for _, s := range c.AcceptRanges {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, errors.Wrap(err, "AcceptRanges")
		}
		b.AddPrefix(p)
	}
	set, err := b.IPSet()
	if err != nil {
		return nil, errors.Wrap(err, "AcceptRanges")
	}
	return set, nil
}

// StaticRoutes returns the configured routes plus the virtual network route
// on the first interface.
func (c *Config) StaticRoutes() ([]RouteTable.Item, error) {
	var items []RouteTable.Item
	if c.VirtualNetwork != "" {
		cidr, err := RouteTable.ParseCidr(c.VirtualNetwork)
		if err != nil {
			return nil, errors.Wrap(err, "VirtualNetwork")
		}
		gw, err := parseAddr4(c.Interfaces[0].Gateway)
		if err != nil {
			return nil, err
		}
		items = append(items, RouteTable.NewItem(cidr, RouteTable.AddrToUint32(gw), c.Interfaces[0].Index, RouteTable.VirtualRange))
	}
	for _, r := range c.Routes {
		cidr, err := RouteTable.ParseCidr(r.Cidr)
		if err != nil {
			return nil, errors.Wrapf(err, "route %s", r.Cidr)
		}
		gw, err := parseAddr4(r.Gateway)
		if err != nil {
			return nil, errors.Wrapf(err, "route %s", r.Cidr)
		}
		if !c.hasInterface(r.Interface) {
			return nil, errors.Errorf("route %s: unknown interface %d", r.Cidr, r.Interface)
		}
		items = append(items, RouteTable.NewItem(cidr, RouteTable.AddrToUint32(gw), r.Interface, RouteTable.RoutesFromAllowedRanges))
	}
	return items, nil
}

func (c *Config) hasInterface(index uint) bool {
	for _, i := range c.Interfaces {
		if i.Index == index {
			return true
		}
	}
	return false
}

func parseAddr4(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, errors.Wrap(err, "gateway")
	}
	if !a.Is4() {
		return netip.Addr{}, errors.Errorf("gateway %s is not IPv4", s)
	}
	return a, nil
}
