// Package slots provides a dense, reusable index allocator. Released slots
// leave holes that are filled, lowest index first, by later allocations, so an
// index handed out for a live item never changes while the item is held.
package slots

// Table is an ordered sequence of optionally occupied slots. The zero value is
// an empty table ready for use. Table is not safe for concurrent use.
type Table[T any] struct {
	items []slot[T]
	used  int
}

type slot[T any] struct {
	item T
	ok   bool
}

// Allocate stores item in the lowest free slot, growing the table only when
// every slot is occupied, and returns the slot index.
func (t *Table[T]) Allocate(item T) int {
	for i := range t.items {
		if !t.items[i].ok {
			t.items[i] = slot[T]{item: item, ok: true}
			t.used++
			return i
		}
	}
	t.items = append(t.items, slot[T]{item: item, ok: true})
	t.used++
	return len(t.items) - 1
}

// NextIndex reports the index the next Allocate will return.
func (t *Table[T]) NextIndex() int {
	for i := range t.items {
		if !t.items[i].ok {
			return i
		}
	}
	return len(t.items)
}

// Get returns the item held at index. Out of range or empty slots report false.
func (t *Table[T]) Get(index int) (T, bool) {
	if index < 0 || index >= len(t.items) || !t.items[index].ok {
		var zero T
		return zero, false
	}
	return t.items[index].item, true
}

// Release clears the slot at index and returns what it held. Releasing an
// empty or out of range slot is a no-op that reports false.
func (t *Table[T]) Release(index int) (T, bool) {
	var zero T
	if index < 0 || index >= len(t.items) || !t.items[index].ok {
		return zero, false
	}
	item := t.items[index].item
	t.items[index] = slot[T]{}
	t.used--
	t.trim()
	return item, true
}

// trim drops free slots beyond the last occupied one.
func (t *Table[T]) trim() {
	n := len(t.items)
	for n > 0 && !t.items[n-1].ok {
		n--
	}
	clear(t.items[n:])
	t.items = t.items[:n]
}

// Len reports the number of occupied slots.
func (t *Table[T]) Len() int { return t.used }

// Cap reports the number of slots, occupied or not, currently tracked.
func (t *Table[T]) Cap() int { return len(t.items) }

// Each calls fn for every occupied slot in index order until fn returns false.
func (t *Table[T]) Each(fn func(index int, item T) bool) {
	for i := range t.items {
		if t.items[i].ok && !fn(i, t.items[i].item) {
			return
		}
	}
}
