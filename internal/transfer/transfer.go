// Package transfer implements the librarian operations (copy, move, swap,
// fill) over ranges of library cells, and the range computations behind
// device downloads, writes and file saves.
//
// Every operation validates its ranges before touching a cell. An edit
// pushes one undo point per affected library and then mutates; a rejected
// edit changes nothing.
package transfer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"patchlib/internal/library"
	"patchlib/internal/patch"
	"patchlib/internal/sysex"
)

var (
	ErrInvalidRange = errors.New("invalid range")
	ErrUnsupported  = errors.New("unsupported operation")
)

// Range is a run of Length cells in one column of a library.
type Range struct {
	Library *library.Library
	Column  int
	Row     int
	Length  int
}

func (r Range) String() string {
	return fmt.Sprintf("col %d rows %d..%d", r.Column, r.Row, r.Row+r.Length-1)
}

func (r Range) overlaps(o Range) bool {
	return r.Library == o.Library && r.Column == o.Column &&
		!(r.Row+r.Length <= o.Row || o.Row+o.Length <= r.Row)
}

// Target is the first cell of a destination range.
type Target struct {
	Library *library.Library
	Column  int
	Row     int
}

func (t Target) span(length int) Range {
	return Range{Library: t.Library, Column: t.Column, Row: t.Row, Length: length}
}

type Options struct {
	// ChunkSize splits outgoing messages into fragments of at most this
	// many bytes. Zero sends every message whole.
	ChunkSize int
	// PlatformHack sends every fragment as an independent message instead
	// of prefixing continuations with 0xF7.
	PlatformHack bool
}

// Engine serializes all mutations of the libraries it is handed, so a
// device transport may feed it from another goroutine.
type Engine struct {
	mu   sync.Mutex
	opts Options
}

func New(opts Options) (*Engine, error) {
	if opts.ChunkSize != 0 && opts.ChunkSize <= 2 {
		return nil, fmt.Errorf("%w: chunk size must be > 2, got %d", sysex.ErrInvalidConfiguration, opts.ChunkSize)
	}
	return &Engine{opts: opts}, nil
}

func checkRange(r Range) error {
	if r.Library == nil {
		return fmt.Errorf("%w: no library", ErrInvalidRange)
	}
	if !r.Library.ValidColumn(r.Column) {
		return fmt.Errorf("%w: column %d does not exist", ErrInvalidRange, r.Column)
	}
	if r.Row < 0 || r.Length < 1 || r.Row+r.Length > r.Library.BankSize() {
		return fmt.Errorf("%w: rows %d+%d do not fit in a bank of %d", ErrInvalidRange, r.Row, r.Length, r.Library.BankSize())
	}
	return nil
}

func checkWritable(r Range) error {
	if !r.Library.IsWritableBank(r.Column) {
		return fmt.Errorf("%w: bank %s is read-only", ErrInvalidRange, r.Library.BankName(r.Column))
	}
	return nil
}

func checkPair(from, to Range) error {
	if err := checkRange(from); err != nil {
		return err
	}
	if err := checkRange(to); err != nil {
		return err
	}
	if from.Library.Synth().Kind() != to.Library.Synth().Kind() {
		return fmt.Errorf("%w: patches of %s cannot go to %s", ErrUnsupported, from.Library.Synth().Name(), to.Library.Synth().Name())
	}
	if from.overlaps(to) {
		return fmt.Errorf("%w: %s overlaps %s", ErrInvalidRange, from, to)
	}
	return nil
}

// Copy copies the cells of from to the same number of cells starting at to.
// With duplicate set every destination gets its own deep copy. Without it
// the destination takes over the source patch data, which is only safe when
// the source cells are cleared afterwards, as Move does.
func (e *Engine) Copy(from Range, to Target, duplicate bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dst := to.span(from.Length)
	if err := checkPair(from, dst); err != nil {
		return err
	}
	if err := checkWritable(dst); err != nil {
		return err
	}

	dst.Library.PushUndo()
	copyCells(from, dst, duplicate)
	glog.V(1).Infof("[transfer]copy %s -> %s duplicate=%v\n", from, dst, duplicate)
	return nil
}

// Move copies from to to and empties the source cells. When the two ranges
// are in different libraries each library gets its own undo point.
func (e *Engine) Move(from Range, to Target) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dst := to.span(from.Length)
	if err := checkPair(from, dst); err != nil {
		return err
	}
	if err := checkWritable(dst); err != nil {
		return err
	}
	if err := checkWritable(from); err != nil {
		return err
	}

	if from.Library != dst.Library {
		from.Library.PushUndo()
	}
	dst.Library.PushUndo()
	copyCells(from, dst, false)
	fillCells(from, nil)
	glog.V(1).Infof("[transfer]move %s -> %s\n", from, dst)
	return nil
}

// Swap exchanges the cells of the two ranges pairwise.
func (e *Engine) Swap(from Range, to Target) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	dst := to.span(from.Length)
	if err := checkPair(from, dst); err != nil {
		return err
	}
	if err := checkWritable(dst); err != nil {
		return err
	}
	if err := checkWritable(from); err != nil {
		return err
	}

	dst.Library.PushUndo()
	if from.Library != dst.Library {
		from.Library.PushUndo()
	}
	for i := 0; i < from.Length; i++ {
		a := from.Library.Get(from.Column, from.Row+i)
		b := dst.Library.Get(dst.Column, dst.Row+i)
		dst.Library.Set(dst.Column, dst.Row+i, a)
		from.Library.Set(from.Column, from.Row+i, b)
	}
	glog.V(1).Infof("[transfer]swap %s <-> %s\n", from, dst)
	return nil
}

// Fill sets every cell of r to its own copy of value, or empties the cells
// when value is nil.
func (e *Engine) Fill(r Range, value *patch.Patch) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := checkRange(r); err != nil {
		return err
	}
	if err := checkWritable(r); err != nil {
		return err
	}
	if value != nil && value.Kind != r.Library.Synth().Kind() {
		return fmt.Errorf("%w: patch kind %d in a %s library", ErrUnsupported, value.Kind, r.Library.Synth().Name())
	}

	r.Library.PushUndo()
	fillCells(r, value)
	glog.V(1).Infof("[transfer]fill %s empty=%v\n", r, value == nil)
	return nil
}

func (e *Engine) Clear(r Range) error { return e.Fill(r, nil) }

// ClearBank empties a whole column.
func (e *Engine) ClearBank(lib *library.Library, col int) error {
	return e.Fill(Range{Library: lib, Column: col, Row: 0, Length: lib.BankSize()}, nil)
}

// ClearAll empties every writable column, scratch included, as a single
// undo point. Read-only banks are left alone.
func (e *Engine) ClearAll(lib *library.Library) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lib.PushUndo()
	for col := 0; col < lib.NumColumns(); col++ {
		if !lib.IsWritableBank(col) {
			continue
		}
		fillCells(Range{Library: lib, Column: col, Row: 0, Length: lib.BankSize()}, nil)
	}
	glog.V(1).Infof("[transfer]clear all\n")
	return nil
}

func (e *Engine) Undo(lib *library.Library) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lib.Undo()
}

func (e *Engine) Redo(lib *library.Library) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lib.Redo()
}

// Column is one bank of a View.
type Column struct {
	Name     string
	Writable bool
	Patches  []*patch.Patch
}

// View is a picture of a library taken under the engine lock.
type View struct {
	Columns []Column
	// Undo and Redo are the depths of the library's history.
	Undo int
	Redo int
}

func (e *Engine) View(lib *library.Library) View {
	e.mu.Lock()
	defer e.mu.Unlock()

	cells := lib.Snapshot()
	v := View{Columns: make([]Column, len(cells))}
	for col, patches := range cells {
		v.Columns[col] = Column{
			Name:     lib.ColumnName(col),
			Writable: lib.IsWritableBank(col),
			Patches:  patches,
		}
	}
	v.Undo, v.Redo = lib.HistoryDepth()
	return v
}

// NameBank sets the label of a column and returns its new display name.
// Labels are not part of the undo history.
func (e *Engine) NameBank(lib *library.Library, col int, name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !lib.ValidColumn(col) {
		return "", fmt.Errorf("%w: column %d does not exist", ErrInvalidRange, col)
	}
	lib.SetUserName(col, name)
	return lib.ColumnName(col), nil
}

// copyCells assumes from and dst do not overlap.
func copyCells(from, dst Range, duplicate bool) {
	for i := 0; i < from.Length; i++ {
		p := from.Library.Get(from.Column, from.Row+i)
		if p != nil && dst.Column != library.Scratch {
			loc := dst.Library.BankLocation(dst.Column, dst.Row+i)
			if duplicate {
				p = p.Clone()
				p.Bank, p.Number = loc.Bank, loc.Number
			} else {
				p = p.Relocated(loc)
			}
		} else if duplicate {
			p = p.Clone()
		}
		dst.Library.Set(dst.Column, dst.Row+i, p)
	}
}

func fillCells(r Range, value *patch.Patch) {
	for i := 0; i < r.Length; i++ {
		var p *patch.Patch
		if value != nil {
			p = value.Clone()
			if r.Column != library.Scratch {
				loc := r.Library.BankLocation(r.Column, r.Row+i)
				p.Bank, p.Number = loc.Bank, loc.Number
			}
		}
		r.Library.Set(r.Column, r.Row+i, p)
	}
}
