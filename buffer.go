package znet

// Buffer is a sliding-window byte queue tuned for connection I/O: appends
// are O(1) amortized, ConsumeFront is O(1), and the backing array is only
// compacted when the wasted prefix grows large or a caller needs a
// contiguous view.
//
// size() == len(backing) - start always holds.
type Buffer struct {
	data  []byte
	start int
}

// NewBuffer returns an empty buffer with the given initial capacity hint.
func NewBuffer(capacityHint int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacityHint)}
}

// Append copies p onto the back of the buffer.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.data = append(b.data, p...)
}

// AppendString is the string-argument form of Append, avoiding a caller-side
// conversion allocation in the common "append a literal" path.
func (b *Buffer) AppendString(s string) {
	if len(s) == 0 {
		return
	}
	b.data = append(b.data, s...)
}

// Size returns the number of unconsumed bytes.
func (b *Buffer) Size() int {
	return len(b.data) - b.start
}

// Empty reports whether there are no unconsumed bytes.
func (b *Buffer) Empty() bool {
	return b.start >= len(b.data)
}

// View returns a contiguous slice over the unconsumed bytes. It compacts the
// backing array first if necessary, so the returned slice aliases the
// buffer's storage and is only valid until the next mutating call.
func (b *Buffer) View() []byte {
	b.compact()
	return b.data[b.start:]
}

// ConsumeFront discards the first n unconsumed bytes. It panics if n
// exceeds Size rather than silently truncating — overconsuming is always a
// caller bug.
func (b *Buffer) ConsumeFront(n int) {
	if n <= 0 {
		return
	}
	if n > b.Size() {
		panic("znet: ConsumeFront n exceeds buffer size")
	}
	b.start += n
	// Compact once the wasted prefix reaches a third of the backing array.
	if b.start*3 >= cap(b.data) {
		b.compact()
	}
}

// Clear discards all buffered data without releasing the backing array.
func (b *Buffer) Clear() {
	b.data = b.data[:0]
	b.start = 0
}

// Swap exchanges the contents of b and other in O(1).
func (b *Buffer) Swap(other *Buffer) {
	b.data, other.data = other.data, b.data
	b.start, other.start = other.start, b.start
}

// String returns the unconsumed bytes as a string copy.
func (b *Buffer) String() string {
	return string(b.data[b.start:])
}

func (b *Buffer) compact() {
	if b.start == 0 {
		return
	}
	n := copy(b.data, b.data[b.start:])
	b.data = b.data[:n]
	b.start = 0
}
