// Package dataset defines the item types consumed by the evaluation engine.
// Concrete loaders (CSV files, tracing platforms) live outside the engine and
// only need to produce a Dataset.
package dataset

import (
	"fmt"
	"iter"
)

// Item is one input row of a dataset, identified by a stable ID.
type Item struct {
	ID       string         `json:"id"`
	Input    any            `json:"input"`
	Expected any            `json:"expected,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Dataset yields items in a stable order. Len returns the known item count,
// or -1 when the dataset cannot report one (progress bounds degrade
// gracefully in that case).
type Dataset interface {
	Items() iter.Seq2[int, Item]
	Len() int
}

// Slice is an in-memory Dataset over a fixed item list.
type Slice []Item

// Items yields the items with their zero-based index.
func (s Slice) Items() iter.Seq2[int, Item] {
	return func(yield func(int, Item) bool) {
		for i, it := range s {
			if !yield(i, it) {
				return
			}
		}
	}
}

// Len returns the number of items.
func (s Slice) Len() int { return len(s) }

// FromValues builds a Slice from bare input values, assigning sequential ids.
func FromValues(inputs ...any) Slice {
	items := make(Slice, len(inputs))
	for i, in := range inputs {
		items[i] = Item{ID: fmt.Sprintf("item-%d", i), Input: in}
	}
	return items
}
