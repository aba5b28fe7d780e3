package PeerManager

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"go4.org/netipx"

	"arrayrt/RouteTable"
)

const (
	connTimeout       = 5 * time.Second
	minExpireInterval = time.Second
)

type peerRoute struct {
	nodeID NodeID
	cidr   RouteTable.Cidr
}

type peerState struct {
	item RouteTable.Item
	seen time.Time
}

// Server applies route announcements from peers to a routing table and
// expires routes that are not refreshed within the TTL.
type Server struct {
	logger *zap.Logger
	table  *RouteTable.RoutingTable
	accept *netipx.IPSet
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	routes map[peerRoute]*peerState
}

func NewServer(logger *zap.Logger, table *RouteTable.RoutingTable, accept *netipx.IPSet, ttl time.Duration) *Server {
	return &Server{
		logger: logger.Named("peers"),
		table:  table,
		accept: accept,
		ttl:    ttl,
		now:    time.Now,
		routes: make(map[peerRoute]*peerState),
	}
}

// Apply processes withdrawals first, then announcements. It returns the
// number of rejected announcements.
func (s *Server) Apply(u *RouteUpdate) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	for _, cidr := range u.Withdraw {
		key := peerRoute{nodeID: u.NodeID, cidr: cidr}
		st, ok := s.routes[key]
		if !ok {
			continue
		}
		delete(s.routes, key)
		s.removeOwned(st.item)
		routesWithdrawn.WithLabelValues("withdraw").Inc()
		s.logger.Info("Withdraw", zap.Stringer("node", u.NodeID), zap.Stringer("cidr", cidr))
	}

	var rejected uint32
	for _, r := range u.Announce {
		if !r.Cidr.Valid() || !s.accept.ContainsPrefix(r.Cidr.Prefix().Masked()) {
			rejected++
			routesRejected.Inc()
			s.logger.Info("Rejected announcement", zap.Stringer("node", u.NodeID), zap.Stringer("cidr", r.Cidr))
			continue
		}
		item := RouteTable.NewItem(r.Cidr, r.Gateway, r.InterfaceIndex, RouteTable.RoutesFromPeerMetadata)
		key := peerRoute{nodeID: u.NodeID, cidr: r.Cidr}
		st, ok := s.routes[key]
		if ok && st.item == item {
			st.seen = now
			continue
		}
		if s.claimed(r.Cidr, st) {
			rejected++
			routesRejected.Inc()
			s.logger.Info("Rejected announcement, network in use", zap.Stringer("node", u.NodeID), zap.Stringer("cidr", r.Cidr))
			continue
		}
		if ok {
			st.seen = now
			s.removeOwned(st.item)
			st.item = item
		} else {
			s.routes[key] = &peerState{item: item, seen: now}
		}
		s.table.AddRoute(item)
		routesAnnounced.Inc()
		s.logger.Info("Announce", zap.Stringer("node", u.NodeID), zap.Stringer("route", item))
	}
	return rejected
}

// claimed reports whether the table holds a route for cidr other than own.
func (s *Server) claimed(cidr RouteTable.Cidr, own *peerState) bool {
	for _, it := range s.table.Snapshot().Items() {
		if it.Cidr != cidr {
			continue
		}
		if own == nil || it != own.item {
			return true
		}
	}
	return false
}

// removeOwned removes item from the table. Routes for the same network that
// are removed before it are put back.
func (s *Server) removeOwned(item RouteTable.Item) bool {
	cidr := item.Cidr
	var evicted []RouteTable.Item
	defer func() {
		for _, e := range evicted {
			s.table.AddRoute(e)
		}
	}()
	for {
		got, ok := s.table.RemoveRoute(&cidr).Get()
		if !ok {
			return false
		}
		if got == item {
			return true
		}
		evicted = append(evicted, got)
	}
}

// Expire removes peer routes last seen before now-ttl.
func (s *Server) Expire(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, st := range s.routes {
		if now.Sub(st.seen) < s.ttl {
			continue
		}
		delete(s.routes, key)
		s.removeOwned(st.item)
		routesWithdrawn.WithLabelValues("expired").Inc()
		removed++
	}
	if removed > 0 {
		s.logger.Info("Expired peer routes", zap.Int("count", removed))
	}
	return removed
}

// Serve accepts announcements on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		_ = ln.Close()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.expireInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Expire(s.now())
			}
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("Error accepting", zap.Error(err))
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) expireInterval() time.Duration {
	if d := s.ttl / 5; d > minExpireInterval {
		return d
	}
	return minExpireInterval
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(connTimeout)); err != nil {
		return
	}
	data, err := readFrame(conn)
	if err != nil {
		s.logger.Debug("Reading update", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		return
	}
	var u RouteUpdate
	if err := u.Unmarshal(data); err != nil {
		s.logger.Info("Malformed update", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		return
	}
	reply := RouteReply{Rejected: s.Apply(&u)}
	reply.Generation = s.table.Snapshot().Generation()
	_ = writeFrame(conn, reply.Marshal())
}
