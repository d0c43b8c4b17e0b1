package wire

import (
	"io"
)

// CountingReader wraps an io.Reader and tracks the number of bytes read,
// mirroring the teacher's rsyncwire.CountingReader used to report transfer
// statistics at the end of a session.
type CountingReader struct {
	io.Reader
	Count int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.Reader.Read(p)
	c.Count += int64(n)
	return n, err
}

// CountingWriter wraps an io.Writer and tracks the number of bytes
// written.
type CountingWriter struct {
	io.Writer
	Count int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.Writer.Write(p)
	c.Count += int64(n)
	return n, err
}

// CounterPair wraps r and w in a CountingReader/CountingWriter pair.
func CounterPair(r io.Reader, w io.Writer) (*CountingReader, *CountingWriter) {
	return &CountingReader{Reader: r}, &CountingWriter{Writer: w}
}
