// Package meshrpc implements the newline-delimited JSON framing and request/
// response envelopes shared by the session endpoint, the daemon control
// plane, and the peer federation wire protocol.
package meshrpc

import (
	"bufio"
	"fmt"
	"io"
)

// MaxFrameBytes is the hard cap on a single frame's payload, not counting
// the trailing newline delimiter. A frame of exactly MaxFrameBytes is
// accepted; MaxFrameBytes+1 is a size_exceeded error, never a slow drip of
// partial reads.
const MaxFrameBytes = 8192

// FrameReader reads newline-delimited frames off a byte stream, enforcing
// MaxFrameBytes per line. It preserves the exact accumulate-until-newline
// framing described for peer compatibility: no length prefix, no trailing
// partial line ever handed to the caller.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r for line-at-a-time frame reads. The underlying
// buffer is sized one byte larger than MaxFrameBytes so a maximum-size
// payload plus its delimiter both fit before ReadSlice needs to decide
// whether the line overflowed.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, MaxFrameBytes+1)}
}

// ErrFrameTooLarge is returned when a line exceeds MaxFrameBytes before a
// newline is seen.
var ErrFrameTooLarge = fmt.Errorf("Message size exceeds %d bytes", MaxFrameBytes)

// ReadFrame returns the next line, without its trailing newline. It returns
// ErrFrameTooLarge if the payload exceeds MaxFrameBytes without finding one;
// callers must close the connection after writing one error response.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	line, err := fr.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// Drain the rest of the oversized line so a later close doesn't leave
		// the peer's write blocked, then report the overflow.
		for err == bufio.ErrBufferFull {
			_, err = fr.r.ReadSlice('\n')
		}
		return nil, ErrFrameTooLarge
	}
	if err != nil {
		return nil, err
	}
	if len(line)-1 > MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, len(line)-1)
	copy(out, line[:len(line)-1])
	return out, nil
}

// FrameWriter writes newline-delimited frames, flushing after each one so
// every write reaches the peer before the next suspension point.
type FrameWriter struct {
	w *bufio.Writer
}

// NewFrameWriter wraps w for line-at-a-time frame writes.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: bufio.NewWriter(w)}
}

// WriteFrame writes data followed by a single newline and flushes.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) > MaxFrameBytes {
		return ErrFrameTooLarge
	}
	if _, err := fw.w.Write(data); err != nil {
		return err
	}
	if err := fw.w.WriteByte('\n'); err != nil {
		return err
	}
	return fw.w.Flush()
}
