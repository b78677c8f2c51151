package audio

import (
	"bytes"
)

// Chunker splits a PCM16 byte stream into fixed-duration chunks
type Chunker struct {
	chunkBytes int
	buffer     *bytes.Buffer
}

// NewChunker creates a chunker producing chunkMs-long chunks for the format
func NewChunker(format Format, chunkMs int) *Chunker {
	chunkBytes := format.BytesPerMs() * chunkMs
	// Keep chunks aligned to whole frames
	if frame := format.FrameSize(); frame > 0 {
		chunkBytes -= chunkBytes % frame
	}
	if chunkBytes <= 0 {
		chunkBytes = format.FrameSize()
	}

	return &Chunker{
		chunkBytes: chunkBytes,
		buffer:     bytes.NewBuffer(nil),
	}
}

// ChunkSize returns the size of full chunks in bytes
func (c *Chunker) ChunkSize() int {
	return c.chunkBytes
}

// Write buffers data and returns every complete chunk now available. The
// returned slices are freshly allocated and owned by the caller.
func (c *Chunker) Write(data []byte) [][]byte {
	c.buffer.Write(data)

	var chunks [][]byte
	for c.buffer.Len() >= c.chunkBytes {
		chunk := make([]byte, c.chunkBytes)
		copy(chunk, c.buffer.Next(c.chunkBytes))
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Flush returns the buffered remainder, or nil when empty
func (c *Chunker) Flush() []byte {
	if c.buffer.Len() == 0 {
		return nil
	}
	rest := make([]byte, c.buffer.Len())
	copy(rest, c.buffer.Bytes())
	c.buffer.Reset()
	return rest
}

// Reset drops buffered data
func (c *Chunker) Reset() {
	c.buffer.Reset()
}
