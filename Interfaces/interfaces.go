package Interfaces

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/songgao/water"
	"go.uber.org/zap"

	"arrayrt/RouteTable"
)

const frameHeaderLen = 4

type Interface struct {
	Index   uint       `json:"index"`
	Name    string     `json:"name"`
	Gateway netip.Addr `json:"gateway"`

	dev io.ReadWriteCloser
}

// Host owns the routing table and the interfaces routes point to.
type Host struct {
	logger     *zap.Logger
	table      *RouteTable.RoutingTable
	dataPort   uint16
	mu         sync.RWMutex
	interfaces map[uint]*Interface
	conn       *net.UDPConn

	readers   sync.WaitGroup
	workers   sync.WaitGroup
	closeOnce sync.Once
}

func NewHost(logger *zap.Logger) *Host {
	h := &Host{
		logger:     logger.Named("interfaces"),
		interfaces: make(map[uint]*Interface),
	}
	h.table = RouteTable.Create(h, InterfaceInfo)
	return h
}

func (h *Host) Table() *RouteTable.RoutingTable {
	return h.table
}

func (h *Host) Register(index uint, name string, gateway netip.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interfaces[index] = &Interface{Index: index, Name: name, Gateway: gateway}
}

func (h *Host) Interfaces() []Interface {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make([]Interface, 0, len(h.interfaces))
	for _, i := range h.interfaces {
		result = append(result, Interface{Index: i.Index, Name: i.Name, Gateway: i.Gateway})
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].Index < result[b].Index
	})
	return result
}

// Close closes all devices and waits for the forwarding workers to drain.
// The routing table stays usable, dropping it is left to the caller once
// every other user of the table has stopped.
func (h *Host) Close() {
	h.closeOnce.Do(h.closeDevices)
	h.workers.Wait()
}

func (h *Host) closeDevices() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, i := range h.interfaces {
		if i.dev != nil {
			_ = i.dev.Close()
		}
	}
	if h.conn != nil {
		_ = h.conn.Close()
	}
}

type txInfo struct {
	packet  []byte
	ifIndex uint
}

// Startup creates a TUN device per registered interface and starts the
// forwarding workers. It returns once everything is listening.
func (h *Host) Startup(ctx context.Context, dataListen string) error {
	addr, err := net.ResolveUDPAddr("udp4", dataListen)
	if err != nil {
		return errors.Wrap(err, "resolving data listen address")
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return errors.Wrap(err, "listening for data")
	}
	h.conn = conn
	h.dataPort = uint16(conn.LocalAddr().(*net.UDPAddr).Port)

	outPacketChan := make(chan *txInfo, 10)
	inPacketChan := make(chan *txInfo, 10)

	h.mu.Lock()
	devices := make([]*Interface, 0, len(h.interfaces))
	for _, i := range h.interfaces {
		config := water.Config{DeviceType: water.TUN}
		config.Name = i.Name
		if config.Name == "" {
			config.Name = "arrayrt" + strconv.Itoa(int(i.Index))
		}
		dev, err := water.New(config)
		if err != nil {
			h.mu.Unlock()
			h.closeOnce.Do(h.closeDevices)
			return errors.Wrapf(err, "creating TUN interface %s, is the tun device available?", config.Name)
		}
		i.dev = dev
		i.Name = dev.Name()
		devices = append(devices, i)
	}
	h.mu.Unlock()

	for _, i := range devices {
		h.readers.Add(1)
		go func(i *Interface) {
			defer h.readers.Done()
			h.readInterface(i, outPacketChan)
		}(i)
	}
	h.readers.Add(1)
	go func() {
		defer h.readers.Done()
		h.rxListener(inPacketChan)
	}()
	// workers stop once every reader is gone and the channels are drained
	go func() {
		h.readers.Wait()
		close(outPacketChan)
		close(inPacketChan)
	}()

	workers := len(devices)*4 + 1
	for n := 0; n < workers; n++ {
		h.workers.Add(2)
		go func() {
			defer h.workers.Done()
			h.txProcessor(outPacketChan)
		}()
		go func() {
			defer h.workers.Done()
			h.rxProcessor(inPacketChan)
		}()
	}
	go func() {
		<-ctx.Done()
		h.Close()
	}()
	h.logger.Info("Interfaces started", zap.Int("count", len(devices)), zap.String("data", conn.LocalAddr().String()))
	return nil
}

func (h *Host) readInterface(i *Interface, packetChan chan<- *txInfo) {
	for {
		packet := make([]byte, 2000)
		n, err := i.dev.Read(packet)
		if err != nil {
			h.logger.Info("Stopped reading from interface", zap.String("name", i.Name), zap.Error(err))
			return
		}
		packetChan <- &txInfo{packet: packet[:n], ifIndex: i.Index}
	}
}

// Route picks the route for an outbound packet and frames it for the gateway.
func (h *Host) Route(packet []byte) ([]byte, netip.AddrPort, error) {
	src, dst, err := ParseIPv4(packet)
	if err != nil {
		packetsDropped.WithLabelValues("malformed").Inc()
		return nil, netip.AddrPort{}, err
	}
	route, ok := h.table.FindRoute(src, dst).Get()
	if !ok {
		packetsDropped.WithLabelValues("no_route").Inc()
		return nil, netip.AddrPort{}, errors.Errorf("no route to %s", RouteTable.Uint32ToAddr(dst))
	}
	frame := make([]byte, frameHeaderLen, frameHeaderLen+len(packet))
	binary.BigEndian.PutUint32(frame, uint32(route.InterfaceIndex))
	frame = append(frame, packet...)
	return frame, netip.AddrPortFrom(RouteTable.Uint32ToAddr(route.Gateway), h.dataPort), nil
}

func (h *Host) txProcessor(packetChan <-chan *txInfo) {
	for pkt := range packetChan {
		frame, dst, err := h.Route(pkt.packet)
		if err != nil {
			h.logger.Debug("Dropping packet", zap.Uint("interface", pkt.ifIndex), zap.Error(err))
			continue
		}
		if _, err := h.conn.WriteToUDPAddrPort(frame, dst); err != nil {
			packetsDropped.WithLabelValues("send").Inc()
			continue
		}
		packetsForwarded.Inc()
	}
}

func (h *Host) rxListener(packetChan chan<- *txInfo) {
	for {
		packetBuf := make([]byte, 2000)
		readLen, _, err := h.conn.ReadFromUDP(packetBuf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		if readLen <= frameHeaderLen {
			continue
		}
		packetChan <- &txInfo{
			packet:  packetBuf[frameHeaderLen:readLen],
			ifIndex: uint(binary.BigEndian.Uint32(packetBuf)),
		}
	}
}

func (h *Host) rxProcessor(packetChan <-chan *txInfo) {
	for pkt := range packetChan {
		h.mu.RLock()
		i := h.interfaces[pkt.ifIndex]
		h.mu.RUnlock()
		if i == nil || i.dev == nil {
			packetsDropped.WithLabelValues("unknown_interface").Inc()
			continue
		}
		_, _ = i.dev.Write(pkt.packet)
	}
}
