// Package pipe collects the output of a child process written into an os
// pipe, keeping a bounded number of bytes
package pipe

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Buffer keeps the first Max bytes written to W. The rest is read and
// discarded so the writer never blocks on a full pipe.
type Buffer struct {
	// W is passed to the child, the parent copy must be closed once the
	// child is started
	W   *os.File
	Max int64

	buf  bytes.Buffer
	n    int64
	done chan struct{}
}

// NewBuffer creates the pipe and starts collecting
func NewBuffer(max int64) (*Buffer, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	b := &Buffer{W: w, Max: max, done: make(chan struct{})}
	go b.collect(r)
	return b, nil
}

func (b *Buffer) collect(r *os.File) {
	defer close(b.done)
	defer r.Close()
	n, _ := io.CopyN(&b.buf, r, b.Max)
	rest, _ := io.Copy(io.Discard, r)
	b.n = n + rest
}

// Done is closed when every copy of W is closed
func (b *Buffer) Done() <-chan struct{} {
	return b.done
}

// Wait closes W and waits for writers of other copies to finish
func (b *Buffer) Wait() {
	b.W.Close()
	<-b.done
}

// Bytes returns the collected output, valid after Done
func (b *Buffer) Bytes() []byte {
	return b.buf.Bytes()
}

// Truncated reports whether more than Max bytes were written, valid
// after Done
func (b *Buffer) Truncated() bool {
	return b.n > b.Max
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer[%d/%d]", b.buf.Len(), b.Max)
}
