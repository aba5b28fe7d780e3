package RouteTable

import "sync/atomic"

// Context is opaque data owned by the host. The table stores it and hands it
// back through InterfaceInfo, it never looks inside.
type Context any

// InterfaceInfoFn lets the host report interface metadata as JSON.
type InterfaceInfoFn func(ctx Context) ([]byte, error)

// RoutingTable publishes immutable route arrays through an atomic pointer.
// Readers load the current array without locking; writers copy it, apply
// their change and publish with compare-and-swap, retrying on contention.
type RoutingTable struct {
	imp             atomic.Pointer[arrayTable]
	ctx             Context
	interfaceInfoFn InterfaceInfoFn
}

func Create(ctx Context, interfaceInfoFn InterfaceInfoFn) *RoutingTable {
	t := &RoutingTable{
		ctx:             ctx,
		interfaceInfoFn: interfaceInfoFn,
	}
	t.imp.Store(&arrayTable{})
	return t
}

func (t *RoutingTable) rcu(update func(*arrayTable)) {
	for {
		cur := t.imp.Load()
		next := cur.clone()
		update(next)
		if t.imp.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (t *RoutingTable) AddRoute(item Item) {
	t.rcu(func(next *arrayTable) {
		next.add(item)
	})
}

// RemoveRoute removes the first route whose network equals cidr exactly.
// The returned item belongs to the attempt that got published.
func (t *RoutingTable) RemoveRoute(cidr *Cidr) Option[Item] {
	var ret Option[Item]
	t.rcu(func(next *arrayTable) {
		ret = OptionFrom[Item](next.remove(*cidr))
	})
	return ret
}

// FindRoute returns the longest prefix route containing to. The source
// address is accepted for future policy routing and does not affect the result.
func (t *RoutingTable) FindRoute(src, to uint32) Option[Item] {
	return OptionFrom[Item](t.imp.Load().find(src, to))
}

func (t *RoutingTable) Snapshot() Snapshot {
	return Snapshot{t: t.imp.Load()}
}

func (t *RoutingTable) Context() Context {
	return t.ctx
}

func (t *RoutingTable) InterfaceInfo() InterfaceInfoFn {
	return t.interfaceInfoFn
}

// Drop releases the table. Any use afterwards is a caller bug.
func (t *RoutingTable) Drop() {
	t.imp.Store(nil)
	t.ctx = nil
	t.interfaceInfoFn = nil
}

// Snapshot is a stable view of the table at the time it was taken.
type Snapshot struct {
	t *arrayTable
}

func (s Snapshot) Find(src, to uint32) Option[Item] {
	return OptionFrom[Item](s.t.find(src, to))
}

func (s Snapshot) Items() []Item {
	items := make([]Item, len(s.t.inner))
	copy(items, s.t.inner)
	return items
}

func (s Snapshot) Len() int {
	return len(s.t.inner)
}

// Generation counts the publications that led to this snapshot.
func (s Snapshot) Generation() uint64 {
	return s.t.generation
}
