package seedmap

import (
	"container/list"
	"fmt"
)

// DefaultSlotCapacity is the number of seeds a manager keeps resident.
const DefaultSlotCapacity = 32

// Slot is a seed's reservation in the world-data array texture.
type Slot struct {
	Index    int
	LastUsed uint64
}

type slotEntry struct {
	seed    string
	slot    Slot
	element *list.Element
}

// SlotTable maps seeds to a fixed number of texture-array slots and evicts
// the least recently used seed when a new one needs room. Indices stay
// fixed for the life of an entry. SlotTable is not safe for concurrent use.
type SlotTable struct {
	capacity int
	entries  map[string]*slotEntry

	// front = most recently used
	lru *list.List

	// free holds unoccupied indices, lowest last.
	free []int

	clock     uint64
	evictions uint64
}

// NewSlotTable creates an empty table with the given capacity.
func NewSlotTable(capacity int) *SlotTable {
	if capacity <= 0 {
		capacity = DefaultSlotCapacity
	}
	free := make([]int, capacity)
	for i := range free {
		free[i] = capacity - 1 - i
	}
	return &SlotTable{
		capacity: capacity,
		entries:  make(map[string]*slotEntry, capacity),
		lru:      list.New(),
		free:     free,
	}
}

// Acquire returns the slot for seed, refreshing its timestamp. A new seed
// takes the lowest free index; when the table is full the least recently
// used seed is evicted and its index reused. evicted names that seed.
func (t *SlotTable) Acquire(seed string) (slot Slot, evicted string) {
	t.clock++

	if e, ok := t.entries[seed]; ok {
		e.slot.LastUsed = t.clock
		t.lru.MoveToFront(e.element)
		return e.slot, ""
	}

	var index int
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		oldest := t.lru.Back()
		victim := oldest.Value.(*slotEntry)
		t.lru.Remove(oldest)
		delete(t.entries, victim.seed)
		t.evictions++
		index = victim.slot.Index
		evicted = victim.seed
	}

	e := &slotEntry{
		seed: seed,
		slot: Slot{Index: index, LastUsed: t.clock},
	}
	e.element = t.lru.PushFront(e)
	t.entries[seed] = e
	return e.slot, evicted
}

// Lookup returns the slot of seed without refreshing its timestamp.
func (t *SlotTable) Lookup(seed string) (Slot, bool) {
	e, ok := t.entries[seed]
	if !ok {
		return Slot{}, false
	}
	return e.slot, true
}

// Release frees the slot held by seed.
func (t *SlotTable) Release(seed string) bool {
	e, ok := t.entries[seed]
	if !ok {
		return false
	}
	t.lru.Remove(e.element)
	delete(t.entries, seed)
	t.free = insertFree(t.free, e.slot.Index)
	return true
}

// Seeds returns the resident seeds, most recently used first.
func (t *SlotTable) Seeds() []string {
	seeds := make([]string, 0, t.lru.Len())
	for el := t.lru.Front(); el != nil; el = el.Next() {
		seeds = append(seeds, el.Value.(*slotEntry).seed)
	}
	return seeds
}

func (t *SlotTable) Len() int          { return len(t.entries) }
func (t *SlotTable) Capacity() int     { return t.capacity }
func (t *SlotTable) Evictions() uint64 { return t.evictions }

func (t *SlotTable) String() string {
	return fmt.Sprintf("SlotTable[%d/%d used, %d evictions]", t.Len(), t.capacity, t.evictions)
}

// insertFree keeps free sorted descending so the lowest index pops first.
func insertFree(free []int, index int) []int {
	i := len(free)
	for i > 0 && free[i-1] < index {
		i--
	}
	free = append(free, 0)
	copy(free[i+1:], free[i:])
	free[i] = index
	return free
}
