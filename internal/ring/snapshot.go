package ring

// Snapshot is an immutable point-in-time copy of a Buffer.
type Snapshot struct {
	data   []byte
	cursor int
	filled bool
}

// Cursor returns the write position captured with the snapshot.
func (s Snapshot) Cursor() int {
	return s.cursor
}

// Filled reports whether the buffer had wrapped when the snapshot was taken.
func (s Snapshot) Filled() bool {
	return s.filled
}

// Len returns the number of valid bytes in the snapshot.
func (s Snapshot) Len() int {
	return len(s.data)
}

// Ordered returns the snapshot contents oldest-first in a newly allocated slice.
func (s Snapshot) Ordered() []byte {
	out := make([]byte, len(s.data))
	if !s.filled {
		copy(out, s.data)
		return out
	}
	n := copy(out, s.data[s.cursor:])
	copy(out[n:], s.data[:s.cursor])
	return out
}

// Freeze returns the current contents of b in chronological order without
// disturbing concurrent writers. An untouched buffer yields an empty slice.
func Freeze(b *Buffer) []byte {
	return b.Snapshot().Ordered()
}
