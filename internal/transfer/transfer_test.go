package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchlib/internal/library"
	"patchlib/internal/patch"
	"patchlib/internal/synth"
	"patchlib/internal/sysex"
)

// newGenericLibrary has a writable "User" bank (column 1) and a read-only
// "ROM" bank (column 2), four rows each.
func newGenericLibrary(t *testing.T) *library.Library {
	t.Helper()
	g, err := synth.NewGeneric([]string{"User", "ROM"}, []bool{true, false}, 4)
	require.NoError(t, err)
	l, err := library.New(g)
	require.NoError(t, err)
	return l
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

func genericPatch(b byte) *patch.Patch {
	return patch.New(synth.KindGeneric, [][]byte{{0xF0, 0x7D, b, 0xF7}}, false)
}

// put stores p at (col, row) through the engine and returns the stored copy.
func put(t *testing.T, e *Engine, l *library.Library, col, row int, p *patch.Patch) *patch.Patch {
	t.Helper()
	require.NoError(t, e.Fill(Range{l, col, row, 1}, p))
	return l.Get(col, row)
}

// genericBlob is a .syx file of n generic patches.
func genericBlob(n int) []byte {
	var out []byte
	for i := 0; i < n; i++ {
		out = append(out, genericPatch(byte(i)).Sysex[0]...)
	}
	return out
}

func rows(l *library.Library, col int) []*patch.Patch {
	out := make([]*patch.Patch, l.BankSize())
	for i := range out {
		out[i] = l.Get(col, i)
	}
	return out
}

func TestNewRejectsSmallChunk(t *testing.T) {
	for _, c := range []int{-1, 1, 2} {
		_, err := New(Options{ChunkSize: c})
		assert.ErrorIs(t, err, sysex.ErrInvalidConfiguration, "chunk %d", c)
	}
	_, err := New(Options{ChunkSize: 0})
	assert.NoError(t, err)
}

func TestCopyDuplicateDoesNotAlias(t *testing.T) {
	e := newEngine(t, Options{})
	l := newGenericLibrary(t)
	src := put(t, e, l, 1, 0, genericPatch(0x11))

	require.NoError(t, e.Copy(Range{l, 1, 0, 1}, Target{l, 1, 1}, true))
	require.NoError(t, e.Copy(Range{l, 1, 0, 1}, Target{l, library.Scratch, 3}, true))

	d1, d2 := l.Get(1, 1), l.Get(library.Scratch, 3)
	require.NotNil(t, d1)
	require.NotNil(t, d2)
	d1.Sysex[0][2] = 0x22

	assert.Equal(t, byte(0x11), src.Sysex[0][2])
	assert.Equal(t, byte(0x11), d2.Sysex[0][2])
	assert.Equal(t, patch.Location{Bank: 0, Number: 1}, d1.Location())
}

func TestCopyLeavesSourceAndPushesOneUndo(t *testing.T) {
	e := newEngine(t, Options{})
	l := newGenericLibrary(t)
	a := put(t, e, l, library.Scratch, 0, genericPatch(1))
	b := put(t, e, l, library.Scratch, 1, genericPatch(2))
	l.ResetUndo()

	require.NoError(t, e.Copy(Range{l, library.Scratch, 0, 2}, Target{l, 1, 2}, true))
	assert.Same(t, a, l.Get(library.Scratch, 0))
	assert.Equal(t, a.Sysex, l.Get(1, 2).Sysex)
	assert.Equal(t, b.Sysex, l.Get(1, 3).Sysex)

	e.Undo(l)
	assert.Nil(t, l.Get(1, 2))
	assert.Nil(t, l.Get(1, 3))
	assert.False(t, l.HasUndo())
}

func TestMoveUndoPerLibrary(t *testing.T) {
	e := newEngine(t, Options{})
	src, dst := newGenericLibrary(t), newGenericLibrary(t)
	a := put(t, e, src, 1, 0, genericPatch(1))
	old := put(t, e, dst, 1, 2, genericPatch(9))
	src.ResetUndo()
	dst.ResetUndo()

	require.NoError(t, e.Move(Range{src, 1, 0, 1}, Target{dst, 1, 2}))
	assert.Nil(t, src.Get(1, 0))
	assert.Equal(t, a.Sysex, dst.Get(1, 2).Sysex)

	e.Undo(src)
	assert.Same(t, a, src.Get(1, 0))
	assert.Equal(t, a.Sysex, dst.Get(1, 2).Sysex, "destination has its own history")

	e.Undo(dst)
	assert.Same(t, old, dst.Get(1, 2))
}

func TestMoveSameLibrarySingleUndo(t *testing.T) {
	e := newEngine(t, Options{})
	l := newGenericLibrary(t)
	a := put(t, e, l, 1, 0, genericPatch(1))
	l.ResetUndo()

	require.NoError(t, e.Move(Range{l, 1, 0, 1}, Target{l, library.Scratch, 0}))
	assert.Nil(t, l.Get(1, 0))
	assert.Same(t, a, l.Get(library.Scratch, 0))

	e.Undo(l)
	assert.Same(t, a, l.Get(1, 0))
	assert.Nil(t, l.Get(library.Scratch, 0))
	assert.False(t, l.HasUndo())
}

func TestSwapTwiceRestores(t *testing.T) {
	e := newEngine(t, Options{})
	l := newGenericLibrary(t)
	for i := 0; i < 4; i++ {
		put(t, e, l, 1, i, genericPatch(byte(i)))
	}
	put(t, e, l, library.Scratch, 1, genericPatch(0x40))
	before1, before0 := rows(l, 1), rows(l, library.Scratch)

	require.NoError(t, e.Swap(Range{l, 1, 0, 3}, Target{l, library.Scratch, 1}))
	assert.Same(t, before1[0], l.Get(library.Scratch, 1))
	assert.Same(t, before0[1], l.Get(1, 0))

	require.NoError(t, e.Swap(Range{l, 1, 0, 3}, Target{l, library.Scratch, 1}))
	assert.Equal(t, before1, rows(l, 1))
	assert.Equal(t, before0, rows(l, library.Scratch))
}

func TestFillClonesValue(t *testing.T) {
	e := newEngine(t, Options{})
	l := newGenericLibrary(t)
	v := genericPatch(5)

	require.NoError(t, e.Fill(Range{l, 1, 1, 3}, v))
	for row := 1; row < 4; row++ {
		p := l.Get(1, row)
		require.NotNil(t, p)
		assert.NotSame(t, v, p)
		assert.Equal(t, row, p.Number)
	}
	l.Get(1, 1).Sysex[0][2] = 0x66
	assert.Equal(t, byte(5), l.Get(1, 2).Sysex[0][2])

	require.NoError(t, e.Clear(Range{l, 1, 1, 3}))
	assert.Equal(t, make([]*patch.Patch, 4), rows(l, 1))

	blofeld := patch.New(synth.KindBlofeld, nil, false)
	assert.ErrorIs(t, e.Fill(Range{l, 1, 0, 1}, blofeld), ErrUnsupported)
}

func TestClearBankAndAll(t *testing.T) {
	e := newEngine(t, Options{})
	l := newGenericLibrary(t)
	// Five patches fill the four User rows and spill into ROM.
	_, err := e.Import(l, genericBlob(5))
	require.NoError(t, err)
	put(t, e, l, library.Scratch, 0, genericPatch(9))
	rom := l.Get(2, 0)
	require.NotNil(t, rom)
	l.ResetUndo()

	assert.ErrorIs(t, e.ClearBank(l, 2), ErrInvalidRange)

	require.NoError(t, e.ClearAll(l))
	assert.Nil(t, l.Get(library.Scratch, 0))
	assert.Nil(t, l.Get(1, 3))
	assert.Same(t, rom, l.Get(2, 0))

	e.Undo(l)
	assert.NotNil(t, l.Get(library.Scratch, 0))
	assert.NotNil(t, l.Get(1, 3))
	assert.False(t, l.HasUndo())
}

func TestRejectsWithoutMutation(t *testing.T) {
	e := newEngine(t, Options{})
	l := newGenericLibrary(t)
	for i := 0; i < 4; i++ {
		put(t, e, l, 1, i, genericPatch(byte(i)))
	}
	l.ResetUndo()
	before := l.Snapshot()

	cases := []struct {
		name string
		run  func() error
	}{
		{"destination past bank end", func() error { return e.Copy(Range{l, 1, 0, 2}, Target{l, library.Scratch, 3}, true) }},
		{"self overlap", func() error { return e.Copy(Range{l, 1, 0, 2}, Target{l, 1, 1}, true) }},
		{"read-only destination", func() error { return e.Copy(Range{l, 1, 0, 1}, Target{l, 2, 0}, true) }},
		{"read-only move source", func() error { return e.Move(Range{l, 2, 0, 1}, Target{l, 1, 0}) }},
		{"read-only swap", func() error { return e.Swap(Range{l, 1, 0, 1}, Target{l, 2, 0}) }},
		{"negative row", func() error { return e.Fill(Range{l, 1, -1, 1}, nil) }},
		{"zero length", func() error { return e.Clear(Range{l, 1, 0, 0}) }},
		{"bad column", func() error { return e.Clear(Range{l, 3, 0, 1}) }},
		{"overlapping swap", func() error { return e.Swap(Range{l, 1, 0, 3}, Target{l, 1, 2}) }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.ErrorIs(t, c.run(), ErrInvalidRange)
			assert.Equal(t, before, l.Snapshot())
			assert.False(t, l.HasUndo())
		})
	}
}

func TestRejectsIncompatibleSynths(t *testing.T) {
	e := newEngine(t, Options{})
	g := newGenericLibrary(t)
	b, err := library.New(synth.NewBlofeld(0))
	require.NoError(t, err)
	put(t, e, g, 1, 0, genericPatch(1))

	assert.ErrorIs(t, e.Copy(Range{g, 1, 0, 1}, Target{b, 1, 0}, true), ErrUnsupported)
	assert.Nil(t, b.Get(1, 0))
}

func TestUndoEditRedoIsNoop(t *testing.T) {
	e := newEngine(t, Options{})
	l := newGenericLibrary(t)
	a := genericPatch(1)

	require.NoError(t, e.Fill(Range{l, 1, 0, 1}, a))
	e.Undo(l)
	require.NoError(t, e.Fill(Range{l, 1, 1, 1}, a))
	after := l.Snapshot()

	e.Redo(l)
	assert.Equal(t, after, l.Snapshot())
	assert.False(t, l.HasRedo())
}

func TestViewAndNameBank(t *testing.T) {
	e := newEngine(t, Options{})
	l := newGenericLibrary(t)
	put(t, e, l, 1, 2, genericPatch(1))

	name, err := e.NameBank(l, 1, "Live")
	require.NoError(t, err)
	assert.Equal(t, "User: Live", name)
	_, err = e.NameBank(l, 5, "Nope")
	assert.ErrorIs(t, err, ErrInvalidRange)

	e.Undo(l)
	v := e.View(l)
	require.Len(t, v.Columns, 3)
	assert.Equal(t, "User: Live", v.Columns[1].Name, "labels survive undo")
	assert.True(t, v.Columns[0].Writable)
	assert.False(t, v.Columns[2].Writable)
	assert.Nil(t, v.Columns[1].Patches[2])
	assert.Equal(t, 0, v.Undo)
	assert.Equal(t, 1, v.Redo)

	v.Columns[1].Patches[2] = genericPatch(2)
	assert.Nil(t, l.Get(1, 2), "views are copies")
}
