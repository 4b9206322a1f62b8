// Package synth describes what the librarian needs to know about a family of
// synthesizers: its banks, how to recognize and locate a dump, and how to
// address one to a new location.
package synth

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"patchlib/internal/patch"
)

const (
	KindGeneric patch.Kind = iota
	KindBlofeld
)

var (
	ErrIncomplete    = errors.New("patch incomplete")
	ErrUnsupported   = errors.New("not supported by synth")
	ErrUnknownSynth  = errors.New("unknown synth")
	ErrNotRecognized = errors.New("message not recognized")
)

// Synth is the capability set of one synth family.
type Synth interface {
	Kind() patch.Kind
	Name() string

	// BankNames and WritableBanks have one entry per real bank.
	BankNames() []string
	WritableBanks() []bool
	// NumberNames has one entry per slot in a bank.
	NumberNames() []string

	SupportsDownloads() bool
	SupportsPatchWrites() bool

	// Recognize reports whether msg is a dump this synth understands.
	Recognize(msg []byte) bool
	// Decode builds a patch from the messages received so far. It returns
	// ErrIncomplete when more messages are needed.
	Decode(msgs [][]byte) (*patch.Patch, error)
	// Request returns the messages that ask the device for the patch at loc.
	Request(loc patch.Location) ([][]byte, error)
	// Relocate returns p's messages addressed to loc on the device.
	Relocate(p *patch.Patch, loc patch.Location) ([][]byte, error)
}

// Options tune the synth families that are not fully fixed by hardware.
type Options struct {
	DeviceID byte
	Banks    []string
	Writable []bool
	BankSize int
}

type factory func(Options) (Synth, error)

var registry = map[string]factory{
	"blofeld": func(o Options) (Synth, error) { return NewBlofeld(o.DeviceID), nil },
	"generic": func(o Options) (Synth, error) { return NewGeneric(o.Banks, o.Writable, o.BankSize) },
}

// Lookup returns the synth registered under name.
func Lookup(name string, opts Options) (Synth, error) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownSynth, name, strings.Join(Names(), ", "))
	}
	return f(opts)
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// numberNames returns "001", "002", ... as printed on most front panels.
func numberNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%03d", i+1)
	}
	return out
}
