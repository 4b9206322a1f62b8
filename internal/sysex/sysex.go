// Package sysex splits system exclusive messages into fragments that can be
// sent to a device piecemeal, and cuts bulk dumps back into messages.
package sysex

import (
	"errors"
	"fmt"
)

const (
	Start = 0xF0
	End   = 0xF7

	// Continuation prefixes every fragment after the first when the
	// transport understands multi-part sysex streaming.
	Continuation = 0xF7
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrInvalidPayload       = errors.New("invalid sysex payload")
)

// Fragment breaks payload into pieces of at most chunkSize bytes and wraps
// them for transmission.
//
// Some targets cannot receive a fragment consisting of a bare closing 0xF7,
// so the chunk size is reduced by one when the payload would otherwise end
// in a one-byte fragment. With hack set every fragment goes out as an
// independent message; without it fragments after the first carry a 0xF7
// continuation prefix.
func Fragment(payload []byte, chunkSize int, hack bool) ([][]byte, error) {
	if chunkSize <= 2 {
		return nil, fmt.Errorf("%w: chunk size must be > 2, got %d", ErrInvalidConfiguration, chunkSize)
	}
	n := len(payload)
	if n < 2 {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a sysex frame", ErrInvalidPayload, n)
	}

	if n%chunkSize == 1 {
		chunkSize--
	}

	return Wrap(split(payload, chunkSize), hack), nil
}

// split partitions payload into chunkSize pieces. The final piece is never
// shorter than 2 bytes.
func split(payload []byte, chunkSize int) [][]byte {
	n := len(payload)
	if n <= chunkSize {
		return [][]byte{clone(payload)}
	}

	count := (n + chunkSize - 1) / chunkSize
	sizes := make([]int, count)
	for i := range sizes {
		sizes[i] = chunkSize
	}
	sizes[count-1] = n - chunkSize*(count-1)

	// a one-byte tail survives the reduction when n%(chunkSize) is still 1;
	// share the last two pieces so the tail gets the larger half
	if sizes[count-1] < 2 {
		tail := sizes[count-2] + sizes[count-1]
		sizes[count-2] = tail / 2
		sizes[count-1] = tail - tail/2
	}

	out := make([][]byte, 0, count)
	pos := 0
	for _, size := range sizes {
		out = append(out, clone(payload[pos:pos+size]))
		pos += size
	}
	return out
}

// Wrap prepares caller-delimited fragments for transmission, skipping the
// partitioning done by Fragment.
func Wrap(fragments [][]byte, hack bool) [][]byte {
	out := make([][]byte, len(fragments))
	for i, f := range fragments {
		if hack || i == 0 {
			out[i] = clone(f)
			continue
		}
		w := make([]byte, len(f)+1)
		w[0] = Continuation
		copy(w[1:], f)
		out[i] = w
	}
	return out
}

// Unwrap reassembles the payload carried by wire fragments produced with the
// same hack setting.
func Unwrap(wire [][]byte, hack bool) []byte {
	var out []byte
	for i, w := range wire {
		if !hack && i > 0 && len(w) > 0 && w[0] == Continuation {
			w = w[1:]
		}
		out = append(out, w...)
	}
	return out
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
