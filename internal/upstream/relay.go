package upstream

import (
	"bufio"
	"io"
)

// WriteAll writes b to w in full: a short write without an error never
// happens with io.Writer, but partial writes from a blocking socket write
// are still handled by retrying until err != nil or the buffer is
// exhausted.
func WriteAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// CopyBody drains r into dst until EOF, returning the number of bytes
// copied. Callers that need to cap how much of the body they retain (the
// object cache's per-item size bound, for instance) should wrap dst in a
// writer that enforces the limit itself.
func CopyBody(dst io.Writer, src *bufio.Reader) (int64, error) {
	return io.Copy(dst, src)
}
