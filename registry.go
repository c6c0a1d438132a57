package livedb

import "fmt"

// Handle identifies one listener registration. The zero Handle is invalid.
type Handle struct {
	results *Results
	id      uint64
}

func (h Handle) IsZero() bool {
	return h.id == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("listener#%d", h.id)
}

type Listener func(snap Snapshot, cs ChangeSet)

type registration struct {
	id        uint64
	fn        Listener
	removed   bool
	delivered bool
}

// registry is the ordered set of listeners of one result set. It is only
// touched from the owning loop.
type registry struct {
	lastID  uint64
	entries []*registration
}

func (reg *registry) add(fn Listener) uint64 {
	if fn == nil {
		panic("livedb: nil listener")
	}
	reg.lastID++
	reg.entries = append(reg.entries, &registration{id: reg.lastID, fn: fn})
	return reg.lastID
}

func (reg *registry) remove(id uint64) {
	for i, e := range reg.entries {
		if e.id == id {
			e.removed = true
			// copy-on-write: a delivery in progress keeps its own slice
			entries := make([]*registration, 0, len(reg.entries)-1)
			entries = append(entries, reg.entries[:i]...)
			reg.entries = append(entries, reg.entries[i+1:]...)
			return
		}
	}
	panic(fmt.Errorf("%w: listener#%d", ErrUnknownHandle, id))
}

func (reg *registry) removeAll() {
	for _, e := range reg.entries {
		e.removed = true
	}
	reg.entries = nil
}

func (reg *registry) len() int {
	return len(reg.entries)
}

// deliver invokes every listener registered when delivery starts and still
// registered when its turn comes, in registration order. Returns the number
// of listeners invoked.
func (reg *registry) deliver(snap Snapshot, cs ChangeSet) int {
	entries := reg.entries
	var n int
	for _, e := range entries {
		if e.removed {
			continue
		}
		first := !e.delivered
		e.delivered = true
		e.fn(snap, cs.withFirstAsync(first))
		n++
	}
	return n
}
