package sysex

import "fmt"

// IsSysex reports whether msg is a single complete F0 ... F7 frame.
func IsSysex(msg []byte) bool {
	return len(msg) >= 2 && msg[0] == Start && msg[len(msg)-1] == End
}

// Split cuts a bulk dump (e.g. the contents of a .syx file) into its
// individual sysex messages. Bytes between frames are ignored, but a frame
// that is opened and never closed is an error.
func Split(blob []byte) ([][]byte, error) {
	var msgs [][]byte
	start := -1
	for i, b := range blob {
		switch {
		case b == Start:
			if start >= 0 {
				return nil, fmt.Errorf("%w: message at offset %d not terminated before offset %d", ErrInvalidPayload, start, i)
			}
			start = i
		case b == End && start >= 0:
			msgs = append(msgs, clone(blob[start:i+1]))
			start = -1
		}
	}
	if start >= 0 {
		return nil, fmt.Errorf("%w: message at offset %d not terminated", ErrInvalidPayload, start)
	}
	return msgs, nil
}

// Join concatenates msgs into the canonical on-disk byte sequence.
func Join(msgs [][]byte) []byte {
	size := 0
	for _, m := range msgs {
		size += len(m)
	}
	out := make([]byte, 0, size)
	for _, m := range msgs {
		out = append(out, m...)
	}
	return out
}
