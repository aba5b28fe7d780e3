package RouteTable

// arrayTable keeps routes ordered by prefix length, longest first. Among equal
// lengths the insertion order is kept. Once published it is never modified.
type arrayTable struct {
	inner      []Item
	generation uint64
}

func (t *arrayTable) clone() *arrayTable {
	inner := make([]Item, len(t.inner), len(t.inner)+1)
	copy(inner, t.inner)
	return &arrayTable{inner: inner, generation: t.generation + 1}
}

func (t *arrayTable) add(item Item) {
	for i, v := range t.inner {
		if v.Cidr.PrefixLen < item.Cidr.PrefixLen {
			t.inner = append(t.inner, Item{})
			copy(t.inner[i+1:], t.inner[i:])
			t.inner[i] = item
			return
		}
	}
	t.inner = append(t.inner, item)
}

func (t *arrayTable) remove(cidr Cidr) (Item, bool) {
	for i, v := range t.inner {
		if v.Cidr == cidr {
			t.inner = append(t.inner[:i], t.inner[i+1:]...)
			return v, true
		}
	}
	return Item{}, false
}

// find ignores src; it is reserved for policy based routing.
func (t *arrayTable) find(_ uint32, to uint32) (Item, bool) {
	for _, v := range t.inner {
		if v.Cidr.Contains(to) {
			return v, true
		}
	}
	return Item{}, false
}
