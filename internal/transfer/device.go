package transfer

import (
	"fmt"

	"github.com/golang/glog"

	"patchlib/internal/library"
	"patchlib/internal/patch"
	"patchlib/internal/sysex"
)

// Transmission is one patch ready for the wire.
type Transmission struct {
	Location patch.Location
	Name     string
	// Fragments are sent in order, one device message each.
	Fragments [][]byte
}

func checkDeviceRange(r Range, verb string) error {
	if err := checkRange(r); err != nil {
		return err
	}
	if r.Column == library.Scratch {
		return fmt.Errorf("%w: cannot %s the scratch bank", ErrUnsupported, verb)
	}
	return nil
}

func bankRange(lib *library.Library, col int) Range {
	return Range{Library: lib, Column: col, Row: 0, Length: lib.BankSize()}
}

// DownloadRange lists the device locations to request for r.
func (e *Engine) DownloadRange(r Range) ([]patch.Location, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return downloadLocations(r)
}

func downloadLocations(r Range) ([]patch.Location, error) {
	if err := checkDeviceRange(r, "download into"); err != nil {
		return nil, err
	}
	if !r.Library.Synth().SupportsDownloads() {
		return nil, fmt.Errorf("%w: %s does not support downloads", ErrUnsupported, r.Library.Synth().Name())
	}
	locs := make([]patch.Location, 0, r.Length)
	for i := 0; i < r.Length; i++ {
		locs = append(locs, r.Library.BankLocation(r.Column, r.Row+i))
	}
	return locs, nil
}

func (e *Engine) DownloadBank(lib *library.Library, col int) ([]patch.Location, error) {
	return e.DownloadRange(bankRange(lib, col))
}

// DownloadAll lists every location of every real bank. Read-only banks are
// included; downloading only replaces the local copy.
func (e *Engine) DownloadAll(lib *library.Library) ([]patch.Location, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var locs []patch.Location
	for col := 1; col < lib.NumColumns(); col++ {
		l, err := downloadLocations(bankRange(lib, col))
		if err != nil {
			return nil, err
		}
		locs = append(locs, l...)
	}
	return locs, nil
}

// Requests turns locations into the request messages of the library's synth.
func (e *Engine) Requests(lib *library.Library, locs []patch.Location) ([][]byte, error) {
	var out [][]byte
	for _, loc := range locs {
		msgs, err := lib.Synth().Request(loc)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", loc, err)
		}
		out = append(out, msgs...)
	}
	return out, nil
}

// WriteRange prepares every transmittable patch of r for sending to its own
// location. Empty cells are skipped.
func (e *Engine) WriteRange(r Range) ([]Transmission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transmissions(r)
}

func (e *Engine) transmissions(r Range) ([]Transmission, error) {
	if err := checkDeviceRange(r, "write"); err != nil {
		return nil, err
	}
	s := r.Library.Synth()
	if !s.SupportsPatchWrites() {
		return nil, fmt.Errorf("%w: %s does not support patch writes", ErrUnsupported, s.Name())
	}
	if err := checkWritable(r); err != nil {
		return nil, err
	}

	var out []Transmission
	for i := 0; i < r.Length; i++ {
		p := r.Library.Get(r.Column, r.Row+i)
		if !p.Transmittable() {
			continue
		}
		loc := r.Library.BankLocation(r.Column, r.Row+i)
		msgs, err := s.Relocate(p, loc)
		if err != nil {
			return nil, fmt.Errorf("patch %q at %s: %w", p.Name, loc, err)
		}
		frags, err := e.Fragments(msgs)
		if err != nil {
			return nil, fmt.Errorf("patch %q at %s: %w", p.Name, loc, err)
		}
		out = append(out, Transmission{Location: loc, Name: p.Name, Fragments: frags})
	}
	glog.V(1).Infof("[transfer]write %s: %d patches\n", r, len(out))
	return out, nil
}

func (e *Engine) WriteBank(lib *library.Library, col int) ([]Transmission, error) {
	return e.WriteRange(bankRange(lib, col))
}

// WriteAll prepares every writable real bank. Read-only banks are skipped.
func (e *Engine) WriteAll(lib *library.Library) ([]Transmission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Transmission
	for col := 1; col < lib.NumColumns(); col++ {
		if !lib.IsWritableBank(col) {
			continue
		}
		t, err := e.transmissions(bankRange(lib, col))
		if err != nil {
			return nil, err
		}
		out = append(out, t...)
	}
	return out, nil
}

// Fragments cuts every message for the wire, keeping message order.
func (e *Engine) Fragments(msgs [][]byte) ([][]byte, error) {
	var out [][]byte
	for _, m := range msgs {
		if e.opts.ChunkSize == 0 {
			out = append(out, sysex.Wrap([][]byte{m}, e.opts.PlatformHack)...)
			continue
		}
		f, err := sysex.Fragment(m, e.opts.ChunkSize, e.opts.PlatformHack)
		if err != nil {
			return nil, err
		}
		out = append(out, f...)
	}
	return out, nil
}

// SaveRange returns the patches of r as a .syx blob, each relocated to its
// cell.
func (e *Engine) SaveRange(r Range) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return saveBlob(r)
}

func saveBlob(r Range) ([]byte, error) {
	if err := checkDeviceRange(r, "save"); err != nil {
		return nil, err
	}
	var msgs [][]byte
	for i := 0; i < r.Length; i++ {
		p := r.Library.Get(r.Column, r.Row+i)
		if !p.Transmittable() {
			continue
		}
		m, err := r.Library.Synth().Relocate(p, r.Library.BankLocation(r.Column, r.Row+i))
		if err != nil {
			return nil, fmt.Errorf("patch %q: %w", p.Name, err)
		}
		msgs = append(msgs, m...)
	}
	return sysex.Join(msgs), nil
}

func (e *Engine) SaveBank(lib *library.Library, col int) ([]byte, error) {
	return e.SaveRange(bankRange(lib, col))
}

// SaveAll returns every real bank as one blob, read-only banks included.
func (e *Engine) SaveAll(lib *library.Library) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []byte
	for col := 1; col < lib.NumColumns(); col++ {
		b, err := saveBlob(bankRange(lib, col))
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}
