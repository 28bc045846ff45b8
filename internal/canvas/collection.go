package canvas

// collection is the typed container behind every store list. A nil
// collection or a nil items slice is treated as corrupted and is replaced
// with an empty one by the store's accessors.
type collection[T any] struct {
	items []*T
}

func newCollection[T any]() *collection[T] {
	return &collection[T]{items: []*T{}}
}

func (c *collection[T]) healthy() bool {
	return c != nil && c.items != nil
}

func (c *collection[T]) len() int {
	return len(c.items)
}

func (c *collection[T]) append(item *T) {
	c.items = append(c.items, item)
}

func (c *collection[T]) find(match func(*T) bool) *T {
	for _, item := range c.items {
		if match(item) {
			return item
		}
	}
	return nil
}

// removeWhere deletes every item matching the predicate and returns them in order.
func (c *collection[T]) removeWhere(match func(*T) bool) []*T {
	var removed []*T
	kept := c.items[:0]
	for _, item := range c.items {
		if match(item) {
			removed = append(removed, item)
			continue
		}
		kept = append(kept, item)
	}
	clear(c.items[len(kept):])
	c.items = kept
	return removed
}
