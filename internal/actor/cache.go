package actor

import (
	"container/list"

	"github.com/astarte-platform/astra-data-updater/internal/schema"
)

// expiryEntry is one entry of interfaces_by_expiry: a monotonic-insertion
// sequence whose head is the next interface to expire (spec.md §3).
type expiryEntry struct {
	expiryDecimicro int64
	interfaceName   string
}

// interfaceCache holds every interface descriptor currently loaded by the
// actor, plus the ordered expiry sequence used to evict stale entries in
// O(amortized) time per spec.md §9 ("min-heap keyed by expiry plus a map").
// A sorted slice is used in place of a heap: insertions are monotonic
// because expiry is always last_seen_message + INTERFACE_LIFESPAN and
// last_seen_message is non-decreasing, so the slice never needs re-sorting.
type interfaceCache struct {
	byName  map[string]*schema.InterfaceDescriptor
	byID    map[string]string // interface_id.String() -> name
	expiry  []expiryEntry
}

func newInterfaceCache() *interfaceCache {
	return &interfaceCache{
		byName: make(map[string]*schema.InterfaceDescriptor),
		byID:   make(map[string]string),
	}
}

func (c *interfaceCache) get(name string) (*schema.InterfaceDescriptor, bool) {
	d, ok := c.byName[name]
	return d, ok
}

func (c *interfaceCache) put(desc *schema.InterfaceDescriptor, expiryDecimicro int64) {
	c.byName[desc.Name] = desc
	c.byID[desc.InterfaceID.String()] = desc.Name
	c.expiry = append(c.expiry, expiryEntry{expiryDecimicro: expiryDecimicro, interfaceName: desc.Name})
}

// forget removes a single interface by name: descriptor, id-index entry, and
// (lazily) its expiry-sequence entries, which are skipped on the next
// expireBefore walk rather than spliced out eagerly.
func (c *interfaceCache) forget(name string) {
	if d, ok := c.byName[name]; ok {
		delete(c.byID, d.InterfaceID.String())
	}
	delete(c.byName, name)
}

// expireBefore walks the sorted expiry prefix and evicts every interface
// whose expiry has passed, returning the evicted names.
func (c *interfaceCache) expireBefore(nowDecimicro int64) []string {
	var evicted []string
	i := 0
	for ; i < len(c.expiry); i++ {
		e := c.expiry[i]
		if e.expiryDecimicro > nowDecimicro {
			break
		}
		if _, stillLoaded := c.byName[e.interfaceName]; stillLoaded {
			c.forget(e.interfaceName)
			evicted = append(evicted, e.interfaceName)
		}
	}
	c.expiry = c.expiry[i:]
	return evicted
}

// pathKey identifies one entry of the paths_cache LRU.
type pathKey struct {
	Interface string
	Path      string
}

// pathsCache is a size-bounded (cap 32) LRU of {interface,path} -> presence,
// per spec.md §3/§9. An optional per-entry TTL (decimicroseconds) models the
// "Cache.put TTL" open question (§9b): zero means no expiry.
type pathsCache struct {
	capacity int
	ll       *list.List
	items    map[pathKey]*list.Element
}

type pathsCacheEntry struct {
	key           pathKey
	expiryDecimicro int64 // 0 = no expiry
}

func newPathsCache(capacity int) *pathsCache {
	return &pathsCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[pathKey]*list.Element),
	}
}

func (c *pathsCache) contains(iface, path string, nowDecimicro int64) bool {
	k := pathKey{Interface: iface, Path: path}
	el, ok := c.items[k]
	if !ok {
		return false
	}
	entry := el.Value.(*pathsCacheEntry)
	if entry.expiryDecimicro != 0 && entry.expiryDecimicro <= nowDecimicro {
		c.ll.Remove(el)
		delete(c.items, k)
		return false
	}
	c.ll.MoveToFront(el)
	return true
}

func (c *pathsCache) put(iface, path string, expiryDecimicro int64) {
	k := pathKey{Interface: iface, Path: path}
	if el, ok := c.items[k]; ok {
		el.Value.(*pathsCacheEntry).expiryDecimicro = expiryDecimicro
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&pathsCacheEntry{key: k, expiryDecimicro: expiryDecimicro})
	c.items[k] = el
	for c.ll.Len() > c.capacity {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.ll.Remove(back)
		delete(c.items, back.Value.(*pathsCacheEntry).key)
	}
}

func (c *pathsCache) reset() {
	c.ll.Init()
	c.items = make(map[pathKey]*list.Element)
}
