package RouteTable_test

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arrayrt/RouteTable"
)

func addr(s string) uint32 {
	return RouteTable.AddrToUint32(netip.MustParseAddr(s))
}

func item(cidr, gw string) RouteTable.Item {
	return RouteTable.NewItem(RouteTable.MustParseCidr(cidr), addr(gw), 1, RouteTable.RoutesFromAllowedRanges)
}

func TestFindRouteLongestPrefix(t *testing.T) {
	tbl := RouteTable.Create(nil, nil)
	tbl.AddRoute(item("10.0.0.0/8", "192.168.0.1"))
	tbl.AddRoute(item("10.1.0.0/16", "192.168.0.2"))

	got := tbl.FindRoute(0, addr("10.1.2.3"))
	require.True(t, got.IsSome)
	assert.Equal(t, addr("192.168.0.2"), got.Unwrap().Gateway)

	got = tbl.FindRoute(0, addr("10.2.2.3"))
	require.True(t, got.IsSome)
	assert.Equal(t, addr("192.168.0.1"), got.Unwrap().Gateway)

	cidr := RouteTable.MustParseCidr("10.1.0.0/16")
	removed := tbl.RemoveRoute(&cidr)
	require.True(t, removed.IsSome)
	assert.Equal(t, item("10.1.0.0/16", "192.168.0.2"), removed.Unwrap())

	got = tbl.FindRoute(0, addr("10.1.2.3"))
	require.True(t, got.IsSome)
	assert.Equal(t, addr("192.168.0.1"), got.Unwrap().Gateway)
}

func TestEmptyTable(t *testing.T) {
	tbl := RouteTable.Create(nil, nil)
	assert.False(t, tbl.FindRoute(0, addr("1.2.3.4")).IsSome)
	assert.False(t, tbl.FindRoute(0, 0).IsSome)

	cidr := RouteTable.MustParseCidr("0.0.0.0/0")
	assert.False(t, tbl.RemoveRoute(&cidr).IsSome)
}

func TestRemoveLastCoveringRoute(t *testing.T) {
	tbl := RouteTable.Create(nil, nil)
	tbl.AddRoute(item("172.16.0.0/12", "10.0.0.1"))
	tbl.AddRoute(item("10.0.0.0/8", "10.0.0.2"))

	cidr := RouteTable.MustParseCidr("172.16.0.0/12")
	require.True(t, tbl.RemoveRoute(&cidr).IsSome)
	assert.False(t, tbl.FindRoute(0, addr("172.16.5.5")).IsSome)
	assert.False(t, tbl.RemoveRoute(&cidr).IsSome)
}

func TestSourceAddressIgnored(t *testing.T) {
	tbl := RouteTable.Create(nil, nil)
	tbl.AddRoute(item("10.0.0.0/8", "192.168.0.1"))

	a := tbl.FindRoute(addr("1.1.1.1"), addr("10.9.9.9"))
	b := tbl.FindRoute(addr("10.9.9.1"), addr("10.9.9.9"))
	assert.Equal(t, a, b)
}

func TestZeroGatewayIsPresent(t *testing.T) {
	tbl := RouteTable.Create(nil, nil)
	tbl.AddRoute(item("0.0.0.0/0", "0.0.0.0"))

	got := tbl.FindRoute(0, 0)
	require.True(t, got.IsSome)
	assert.Equal(t, uint32(0), got.Unwrap().Gateway)
}

func TestSnapshotIsolation(t *testing.T) {
	tbl := RouteTable.Create(nil, nil)
	tbl.AddRoute(item("10.0.0.0/8", "192.168.0.1"))

	snap := tbl.Snapshot()
	tbl.AddRoute(item("10.1.0.0/16", "192.168.0.2"))
	cidr := RouteTable.MustParseCidr("10.0.0.0/8")
	tbl.RemoveRoute(&cidr)

	assert.Equal(t, 1, snap.Len())
	got := snap.Find(0, addr("10.1.2.3"))
	require.True(t, got.IsSome)
	assert.Equal(t, addr("192.168.0.1"), got.Unwrap().Gateway)

	now := tbl.Snapshot()
	assert.Equal(t, 1, now.Len())
	assert.Equal(t, snap.Generation()+2, now.Generation())
}

func TestContextAndInterfaceInfo(t *testing.T) {
	type host struct{ name string }
	h := &host{name: "rt0"}
	called := false
	tbl := RouteTable.Create(h, func(ctx RouteTable.Context) ([]byte, error) {
		called = true
		return []byte(ctx.(*host).name), nil
	})

	tbl.AddRoute(item("10.0.0.0/8", "192.168.0.1"))
	tbl.FindRoute(0, addr("10.0.0.1"))
	assert.False(t, called)

	info, err := tbl.InterfaceInfo()(tbl.Context())
	require.NoError(t, err)
	assert.Equal(t, "rt0", string(info))
	tbl.Drop()
}

func TestConcurrentWriters(t *testing.T) {
	tbl := RouteTable.Create(nil, nil)

	const writers, perWriter = 8, 64
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				tbl.AddRoute(RouteTable.Item{
					Cidr:    RouteTable.Cidr{Addr: uint32(w)<<24 | uint32(i)<<16, PrefixLen: uint8(8 + i%17)},
					Gateway: uint32(w),
				})
			}
		}(w)
	}

	done := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				items := tbl.Snapshot().Items()
				for i := 1; i < len(items); i++ {
					if items[i-1].Cidr.PrefixLen < items[i].Cidr.PrefixLen {
						t.Errorf("snapshot out of order at %d", i)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	close(done)
	readers.Wait()

	snap := tbl.Snapshot()
	assert.Equal(t, writers*perWriter, snap.Len())
	assert.Equal(t, uint64(writers*perWriter), snap.Generation())
}

func TestConcurrentRemoveReturnsEachRouteOnce(t *testing.T) {
	tbl := RouteTable.Create(nil, nil)
	for i := 0; i < 32; i++ {
		tbl.AddRoute(RouteTable.Item{Cidr: RouteTable.Cidr{Addr: uint32(i) << 24, PrefixLen: 8}})
	}

	var mu sync.Mutex
	removed := make(map[RouteTable.Cidr]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 32; i++ {
				cidr := RouteTable.Cidr{Addr: uint32(i) << 24, PrefixLen: 8}
				if it, ok := tbl.RemoveRoute(&cidr).Get(); ok {
					mu.Lock()
					removed[it.Cidr]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, removed, 32)
	for cidr, n := range removed {
		assert.Equal(t, 1, n, cidr.String())
	}
	assert.Equal(t, 0, tbl.Snapshot().Len())
}
