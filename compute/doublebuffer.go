package compute

import (
	"fmt"
	"sync/atomic"
)

// DoubleBuffer is a ping-pong pair of same-shaped buffers. Current is read by
// the next pass and Other is written; Swap flips the roles.
type DoubleBuffer struct {
	bufs  [2]*Buffer
	index atomic.Uint32
}

// NewDoubleBuffer pairs two distinct buffers of equal length and format.
func NewDoubleBuffer(primary, secondary *Buffer) (*DoubleBuffer, error) {
	if primary == nil || secondary == nil {
		return nil, fmt.Errorf("double buffer: nil buffer")
	}
	if primary == secondary {
		return nil, fmt.Errorf("double buffer: %q paired with itself", primary.label)
	}
	if primary.n != secondary.n || primary.format != secondary.format {
		return nil, fmt.Errorf("double buffer: %q (%d %s) and %q (%d %s) differ",
			primary.label, primary.n, primary.format, secondary.label, secondary.n, secondary.format)
	}
	return &DoubleBuffer{bufs: [2]*Buffer{primary, secondary}}, nil
}

// Current returns the buffer holding the latest data.
func (db *DoubleBuffer) Current() *Buffer { return db.bufs[db.index.Load()] }

// Other returns the buffer the next pass writes.
func (db *DoubleBuffer) Other() *Buffer { return db.bufs[db.index.Load()^1] }

// Primary returns the first buffer regardless of index.
func (db *DoubleBuffer) Primary() *Buffer { return db.bufs[0] }

// Secondary returns the second buffer regardless of index.
func (db *DoubleBuffer) Secondary() *Buffer { return db.bufs[1] }

// Index is 0 when Current is the primary buffer.
func (db *DoubleBuffer) Index() int { return int(db.index.Load()) }

// Swap flips Current and Other.
func (db *DoubleBuffer) Swap() {
	for {
		old := db.index.Load()
		if db.index.CompareAndSwap(old, old^1) {
			return
		}
	}
}

// Reset makes the primary buffer current.
func (db *DoubleBuffer) Reset() { db.index.Store(0) }
