// Package logbuf keeps the most recent lines of a text stream in arrival
// order. Once the buffer is full every push evicts the oldest line.
package logbuf

// DefaultCapacity is the number of rows that fit on the panel.
const DefaultCapacity = 10

// Buffer is a bounded FIFO of lines. The zero value is not usable; call New.
// It is not safe for concurrent use.
type Buffer struct {
	lines    []string
	capacity int
}

// New returns an empty buffer holding at most capacity lines. A capacity
// below one is treated as one.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		lines:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Push appends line, evicting from the front until the buffer fits.
func (b *Buffer) Push(line string) {
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.capacity; over > 0 {
		copy(b.lines, b.lines[over:])
		b.lines = b.lines[:b.capacity]
	}
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *Buffer) Lines() []string {
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

func (b *Buffer) Len() int { return len(b.lines) }

func (b *Buffer) Cap() int { return b.capacity }
