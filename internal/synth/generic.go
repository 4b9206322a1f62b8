package synth

import (
	"errors"
	"fmt"

	"patchlib/internal/patch"
	"patchlib/internal/sysex"
)

// Generic treats every sysex message as an opaque single patch. It cannot
// request patches from the device and writes them back unchanged.
type Generic struct {
	banks    []string
	writable []bool
	size     int
}

func NewGeneric(banks []string, writable []bool, bankSize int) (*Generic, error) {
	if len(banks) == 0 {
		banks = []string{"Bank"}
	}
	if bankSize <= 0 {
		return nil, fmt.Errorf("bank size must be positive, got %d", bankSize)
	}
	w := make([]bool, len(banks))
	switch {
	case writable == nil:
		for i := range w {
			w[i] = true
		}
	case len(writable) != len(banks):
		return nil, errors.New("writable flags must match the number of banks")
	default:
		copy(w, writable)
	}
	return &Generic{
		banks:    append([]string(nil), banks...),
		writable: w,
		size:     bankSize,
	}, nil
}

func (g *Generic) Kind() patch.Kind { return KindGeneric }
func (g *Generic) Name() string     { return "Generic" }

func (g *Generic) BankNames() []string   { return append([]string(nil), g.banks...) }
func (g *Generic) WritableBanks() []bool { return append([]bool(nil), g.writable...) }
func (g *Generic) NumberNames() []string { return numberNames(g.size) }

func (g *Generic) SupportsDownloads() bool   { return false }
func (g *Generic) SupportsPatchWrites() bool { return true }

func (g *Generic) Recognize(msg []byte) bool { return sysex.IsSysex(msg) }

func (g *Generic) Decode(msgs [][]byte) (*patch.Patch, error) {
	if len(msgs) == 0 {
		return nil, ErrIncomplete
	}
	for _, m := range msgs {
		if !sysex.IsSysex(m) {
			return nil, ErrNotRecognized
		}
	}
	p := patch.New(KindGeneric, msgs, false)
	p.Bank = patch.NoBank
	return p, nil
}

func (g *Generic) Request(patch.Location) ([][]byte, error) {
	return nil, fmt.Errorf("%w: patch requests", ErrUnsupported)
}

func (g *Generic) Relocate(p *patch.Patch, _ patch.Location) ([][]byte, error) {
	if p.Kind != KindGeneric {
		return nil, fmt.Errorf("%w: patch kind %d", ErrUnsupported, p.Kind)
	}
	out := make([][]byte, len(p.Sysex))
	for i, m := range p.Sysex {
		out[i] = append([]byte(nil), m...)
	}
	return out, nil
}
