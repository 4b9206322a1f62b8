// Package patch holds the sysex data of a single synthesizer patch.
package patch

import (
	"fmt"
	"strings"
)

// Kind identifies the synth family a patch belongs to. Patches of
// different kinds are never interchangeable.
type Kind int

const (
	NoBank       = -1
	NoNumber     = -1
	NumberNotSet = NoNumber
)

// Location describes where a patch lives on a device. Either field may be
// NoBank / NoNumber when unknown.
type Location struct {
	Bank   int `json:"bank"`
	Number int `json:"number"`
}

func (l Location) HasBank() bool   { return l.Bank != NoBank }
func (l Location) HasNumber() bool { return l.Number != NoNumber }

// Unspecified reports whether neither bank nor number is known.
func (l Location) Unspecified() bool { return !l.HasBank() && !l.HasNumber() }

func (l Location) String() string {
	return fmt.Sprintf("Location[%d, %d]", l.Bank, l.Number)
}

// Patch is one addressable unit of synth data: an ordered series of complete
// sysex messages plus some descriptive metadata.
//
// Sysex is treated as immutable once a patch is stored; use Clone before
// editing the bytes.
type Patch struct {
	Kind   Kind     `json:"kind"`
	Sysex  [][]byte `json:"sysex"`
	IsBank bool     `json:"is_bank"`
	Name   string   `json:"name,omitempty"`
	Bank   int      `json:"bank"`
	Number int      `json:"number"`
	Empty  bool     `json:"empty,omitempty"`
}

// New returns a patch holding a private copy of sysex.
func New(kind Kind, sysex [][]byte, isBank bool) *Patch {
	return &Patch{
		Kind:   kind,
		Sysex:  cloneSysex(sysex),
		IsBank: isBank,
		Number: NumberNotSet,
	}
}

// Clone returns a deep copy; the two patches share no byte slices.
func (p *Patch) Clone() *Patch {
	if p == nil {
		return nil
	}
	c := *p
	c.Sysex = cloneSysex(p.Sysex)
	return &c
}

// Relocated returns a shallow copy placed at loc. The sysex slices are
// shared with p, so it is only suitable for a patch that leaves its old cell.
func (p *Patch) Relocated(loc Location) *Patch {
	c := *p
	c.Bank = loc.Bank
	c.Number = loc.Number
	return &c
}

func (p *Patch) Location() Location {
	return Location{Bank: p.Bank, Number: p.Number}
}

// Bytes is the concatenation of all messages, the canonical on-disk and
// on-wire form of the patch.
func (p *Patch) Bytes() []byte {
	size := 0
	for _, m := range p.Sysex {
		size += len(m)
	}
	out := make([]byte, 0, size)
	for _, m := range p.Sysex {
		out = append(out, m...)
	}
	return out
}

// Transmittable reports whether the patch has anything to send.
func (p *Patch) Transmittable() bool {
	return p != nil && !p.Empty && len(p.Sysex) > 0
}

func (p *Patch) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Patch[%q, kind=%d, bank=%v, %d/%d, %d msgs", p.Name, p.Kind, p.IsBank, p.Bank, p.Number, len(p.Sysex))
	for i, m := range p.Sysex {
		fmt.Fprintf(&sb, "\n%d (%d) -> % X", i, len(m), m)
	}
	sb.WriteString("]")
	return sb.String()
}

func cloneSysex(sysex [][]byte) [][]byte {
	if sysex == nil {
		return nil
	}
	out := make([][]byte, len(sysex))
	for i, m := range sysex {
		out[i] = append([]byte(nil), m...)
	}
	return out
}
