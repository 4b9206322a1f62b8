// Package library stores patches in a bank x slot grid with its own
// undo history.
//
// Column Scratch is a pseudo-bank for parking patches while rearranging.
// It is never sent to a device and is always writable. Columns 1..NumBanks
// are the synth's real banks.
package library

import (
	"fmt"

	"patchlib/internal/patch"
	"patchlib/internal/synth"
	"patchlib/internal/undo"
)

// Scratch is the column index of the scratch bank.
const Scratch = 0

const ScratchName = "Scratch"

// grid is indexed [column][row].
type grid [][]*patch.Patch

func (g grid) copy() grid {
	c := make(grid, len(g))
	for i := range g {
		c[i] = append([]*patch.Patch(nil), g[i]...)
	}
	return c
}

type Library struct {
	synth       synth.Synth
	bankNames   []string
	numberNames []string
	writable    []bool
	userNames   []string
	cells       grid
	history     *undo.Stack[grid]
}

// New builds an empty library laid out after s, with the scratch bank in
// front of the synth's banks.
func New(s synth.Synth) (*Library, error) {
	banks := s.BankNames()
	if len(banks) == 0 {
		banks = []string{"Bank"}
	}
	numbers := s.NumberNames()
	if len(numbers) == 0 {
		return nil, fmt.Errorf("synth %s has no patch numbers", s.Name())
	}
	w := s.WritableBanks()
	if len(w) != len(banks) {
		return nil, fmt.Errorf("synth %s reports %d writable flags for %d banks", s.Name(), len(w), len(banks))
	}

	l := &Library{
		synth:       s,
		bankNames:   append([]string{ScratchName}, banks...),
		numberNames: numbers,
		writable:    append([]bool{true}, w...),
		userNames:   make([]string, len(banks)+1),
		cells:       make(grid, len(banks)+1),
		history:     undo.New(func(g grid) grid { return g.copy() }),
	}
	for i := range l.cells {
		l.cells[i] = make([]*patch.Patch, len(numbers))
	}
	return l, nil
}

func (l *Library) Synth() synth.Synth { return l.synth }

// NumBanks does not count the scratch bank.
func (l *Library) NumBanks() int   { return len(l.bankNames) - 1 }
func (l *Library) NumColumns() int { return len(l.bankNames) }
func (l *Library) BankSize() int   { return len(l.numberNames) }

func (l *Library) NumberNames() []string { return append([]string(nil), l.numberNames...) }

// BankName is the plain name of a column.
func (l *Library) BankName(col int) string { return l.bankNames[col] }

// ColumnName is the bank name followed by the user's label, if any.
func (l *Library) ColumnName(col int) string {
	if l.userNames[col] != "" {
		return l.bankNames[col] + ": " + l.userNames[col]
	}
	return l.bankNames[col]
}

func (l *Library) SetUserName(col int, name string) { l.userNames[col] = name }

// IsWritableBank reports whether col may be modified. The scratch bank is
// always writable.
func (l *Library) IsWritableBank(col int) bool {
	if col == Scratch {
		return true
	}
	return l.writable[col]
}

// ValidColumn reports whether col addresses a column of this library.
func (l *Library) ValidColumn(col int) bool { return col >= 0 && col < len(l.cells) }

// Get returns the patch at (col, row) or nil for an empty cell.
func (l *Library) Get(col, row int) *patch.Patch { return l.cells[col][row] }

// Set replaces one cell. It is the raw primitive used by the transfer
// engine; it performs no validation and pushes no undo.
func (l *Library) Set(col, row int, p *patch.Patch) { l.cells[col][row] = p }

// BankLocation converts a column and row to the device location. The
// scratch bank has no device location.
func (l *Library) BankLocation(col, row int) patch.Location {
	if col == Scratch {
		return patch.Location{Bank: patch.NoBank, Number: row}
	}
	return patch.Location{Bank: col - 1, Number: row}
}

// Column converts a device bank number to a column.
func (l *Library) Column(bank int) int { return bank + 1 }

// Snapshot returns a copy of the cell grid, indexed [column][row].
func (l *Library) Snapshot() [][]*patch.Patch { return l.cells.copy() }

// PushUndo records the current contents as an undo point.
func (l *Library) PushUndo() { l.history.Push(l.cells) }

func (l *Library) Undo() { l.cells = l.history.Undo(l.cells) }
func (l *Library) Redo() { l.cells = l.history.Redo(l.cells) }

func (l *Library) HasUndo() bool { return l.history.CanUndo() }
func (l *Library) HasRedo() bool { return l.history.CanRedo() }

// HistoryDepth returns the number of undo and redo steps.
func (l *Library) HistoryDepth() (undo, redo int) { return l.history.Depth() }

// Batch runs fn with undo pushes suppressed.
func (l *Library) Batch(fn func()) { l.history.Batch(fn) }

// ResetUndo forgets all history.
func (l *Library) ResetUndo() { l.history.Clear() }
