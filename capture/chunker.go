package capture

// Chunker re-frames byte buffers of arbitrary length into fixed-size chunks.
// It is not safe for concurrent use.
type Chunker struct {
	size int
	buf  []byte
}

func NewChunker(size int) *Chunker {
	if size <= 0 {
		size = ChunkFramesFor(DefaultSampleRate) * 2
	}
	return &Chunker{size: size, buf: make([]byte, 0, size)}
}

// Write appends p and returns every chunk that became complete. Returned
// chunks are owned by the caller.
func (c *Chunker) Write(p []byte) [][]byte {
	var chunks [][]byte
	for len(p) > 0 {
		n := c.size - len(c.buf)
		if n > len(p) {
			n = len(p)
		}
		c.buf = append(c.buf, p[:n]...)
		p = p[n:]
		if len(c.buf) == c.size {
			chunks = append(chunks, c.buf)
			c.buf = make([]byte, 0, c.size)
		}
	}
	return chunks
}

// Flush returns the buffered partial chunk, or nil.
func (c *Chunker) Flush() []byte {
	if len(c.buf) == 0 {
		return nil
	}
	tail := c.buf
	c.buf = make([]byte, 0, c.size)
	return tail
}

// Buffered returns the number of bytes waiting for a full chunk.
func (c *Chunker) Buffered() int {
	return len(c.buf)
}
