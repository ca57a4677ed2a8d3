// Package framer reassembles a fragmented notification byte stream into
// newline-delimited text lines.
package framer

import "bytes"

// Framer carries the trailing partial line between deliveries. It is not
// safe for concurrent use; the owning session serialises Feed calls.
type Framer struct {
	codec Codec
	carry []byte
}

// New returns a framer decoding chunks with codec (Raw when nil).
func New(codec Codec) *Framer {
	if codec == nil {
		codec = Raw
	}
	return &Framer{codec: codec}
}

// Feed decodes chunk and returns every line it completes, in order, without
// the terminating newline. A chunk that fails to decode contributes nothing.
func (f *Framer) Feed(chunk []byte) []string {
	data, err := f.codec.Decode(chunk)
	if err != nil || len(data) == 0 {
		return nil
	}
	f.carry = append(f.carry, data...)

	var lines []string
	rest := f.carry
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(rest[:i]))
		rest = rest[i+1:]
	}

	if len(rest) == 0 {
		f.carry = f.carry[:0]
	} else if len(lines) > 0 {
		f.carry = append(f.carry[:0:0], rest...)
	}
	return lines
}

// Pending returns the number of buffered bytes not yet terminated.
func (f *Framer) Pending() int {
	return len(f.carry)
}

// Reset drops any partial line.
func (f *Framer) Reset() {
	f.carry = nil
}
