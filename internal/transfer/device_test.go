package transfer

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchlib/internal/library"
	"patchlib/internal/patch"
	"patchlib/internal/synth"
	"patchlib/internal/sysex"
)

func newBlofeldLibrary(t *testing.T) *library.Library {
	t.Helper()
	l, err := library.New(synth.NewBlofeld(0))
	require.NoError(t, err)
	return l
}

func blofeldDump(t *testing.T, loc patch.Location, name string) []byte {
	t.Helper()
	sdata := make([]byte, synth.PatchSize)
	for i := range sdata {
		sdata[i] = byte(i % 64)
	}
	dump, err := synth.NewBlofeldDump(0, loc, name, sdata)
	require.NoError(t, err)
	return dump
}

func blofeldPatch(t *testing.T, loc patch.Location, name string) *patch.Patch {
	t.Helper()
	p, err := synth.NewBlofeld(0).Decode([][]byte{blofeldDump(t, loc, name)})
	require.NoError(t, err)
	return p
}

func TestDownloadRange(t *testing.T) {
	e := newEngine(t, Options{})
	l := newBlofeldLibrary(t)

	locs, err := e.DownloadRange(Range{l, 2, 10, 3})
	require.NoError(t, err)
	assert.Equal(t, []patch.Location{{Bank: 1, Number: 10}, {Bank: 1, Number: 11}, {Bank: 1, Number: 12}}, locs)

	_, err = e.DownloadRange(Range{l, library.Scratch, 0, 1})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = e.DownloadBank(newGenericLibrary(t), 1)
	assert.ErrorIs(t, err, ErrUnsupported)

	all, err := e.DownloadAll(l)
	require.NoError(t, err)
	assert.Len(t, all, 8*128)
	for _, loc := range all {
		assert.True(t, loc.HasBank())
	}

	reqs, err := e.Requests(l, locs[:1])
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0xF0, 0x3E, 0x13, 0x00, 0x00, 0x01, 0x0A, 0xF7}}, reqs)
}

func TestWriteRangeFragments(t *testing.T) {
	e := newEngine(t, Options{})
	l := newGenericLibrary(t)
	msg := []byte{0xF0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 0xF7}
	put(t, e, l, 1, 1, patch.New(synth.KindGeneric, [][]byte{msg}, false))

	for _, hack := range []bool{false, true} {
		chunked := newEngine(t, Options{ChunkSize: 5, PlatformHack: hack})
		out, err := chunked.WriteRange(Range{l, 1, 0, 4})
		require.NoError(t, err)
		require.Len(t, out, 1, "empty cells are skipped")

		tx := out[0]
		assert.Equal(t, patch.Location{Bank: 0, Number: 1}, tx.Location)
		assert.Len(t, tx.Fragments, 4)
		assert.Equal(t, msg, sysex.Unwrap(tx.Fragments, hack))
	}

	out, err := e.WriteBank(l, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{msg}, out[0].Fragments)
}

func TestWriteRejections(t *testing.T) {
	e := newEngine(t, Options{ChunkSize: 8})
	l := newGenericLibrary(t)
	_, err := e.Import(l, genericBlob(5))
	require.NoError(t, err)
	require.NotNil(t, l.Get(2, 0))
	put(t, e, l, library.Scratch, 0, genericPatch(9))

	_, err = e.WriteRange(Range{l, library.Scratch, 0, 1})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = e.WriteBank(l, 2)
	assert.ErrorIs(t, err, ErrInvalidRange)

	all, err := e.WriteAll(l)
	require.NoError(t, err)
	require.Len(t, all, 4, "read-only ROM and scratch are not written")
	for i, tx := range all {
		assert.Equal(t, patch.Location{Bank: 0, Number: i}, tx.Location)
	}
}

func TestWriteRelocatesBlofeld(t *testing.T) {
	e := newEngine(t, Options{ChunkSize: 64})
	l := newBlofeldLibrary(t)
	put(t, e, l, library.Scratch, 0, blofeldPatch(t, patch.Location{Bank: 0, Number: 0}, "Lead"))

	require.NoError(t, e.Copy(Range{l, library.Scratch, 0, 1}, Target{l, 4, 99}, true))
	out, err := e.WriteRange(Range{l, 4, 99, 1})
	require.NoError(t, err)
	require.Len(t, out, 1)

	wire := sysex.Unwrap(out[0].Fragments, false)
	p, err := synth.NewBlofeld(0).Decode([][]byte{wire})
	require.NoError(t, err)
	assert.Equal(t, patch.Location{Bank: 3, Number: 99}, p.Location())
	assert.Equal(t, "Lead", p.Name)
}

func TestSaveImportRoundTrip(t *testing.T) {
	e := newEngine(t, Options{})
	src := newBlofeldLibrary(t)
	put(t, e, src, 1, 0, blofeldPatch(t, patch.Location{Bank: 0, Number: 0}, "One"))
	put(t, e, src, 1, 5, blofeldPatch(t, patch.Location{Bank: 0, Number: 5}, "Two"))
	put(t, e, src, 3, 7, blofeldPatch(t, patch.Location{Bank: 2, Number: 7}, "Three"))

	bank, err := e.SaveBank(src, 1)
	require.NoError(t, err)
	assert.Len(t, bank, 2*synth.SNDDSize)

	_, err = e.SaveRange(Range{src, library.Scratch, 0, 1})
	assert.ErrorIs(t, err, ErrUnsupported)

	blob, err := e.SaveAll(src)
	require.NoError(t, err)

	dst := newBlofeldLibrary(t)
	res, err := e.Import(dst, blob)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Placed: 3}, res)
	assert.Equal(t, "One", dst.Get(1, 0).Name)
	assert.Equal(t, "Two", dst.Get(1, 5).Name)
	assert.Equal(t, "Three", dst.Get(3, 7).Name)

	e.Undo(dst)
	assert.Nil(t, dst.Get(1, 0))
}

func TestImportUnplacedGoToFirstFreeCell(t *testing.T) {
	e := newEngine(t, Options{})
	l := newBlofeldLibrary(t)
	put(t, e, l, 1, 0, blofeldPatch(t, patch.Location{Bank: 0, Number: 0}, "Keep"))
	l.ResetUndo()

	edit := blofeldDump(t, patch.Location{Bank: patch.NoBank, Number: patch.NoNumber}, "Edit")
	first := blofeldDump(t, patch.Location{Bank: 0, Number: 1}, "First")
	dup := blofeldDump(t, patch.Location{Bank: 0, Number: 1}, "Dup")
	junk := []byte{0xF0, 0x43, 0x00, 0xF7}

	res, err := e.Import(l, bytes.Join([][]byte{edit, first, junk, dup}, nil))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Placed)

	assert.Equal(t, "Keep", l.Get(1, 0).Name)
	assert.Equal(t, "First", l.Get(1, 1).Name)
	assert.Equal(t, "Edit", l.Get(1, 2).Name)
	assert.Equal(t, "Dup", l.Get(1, 3).Name)
	assert.Equal(t, patch.Location{Bank: 0, Number: 3}, l.Get(1, 3).Location())

	e.Undo(l)
	assert.Equal(t, "Keep", l.Get(1, 0).Name)
	assert.Nil(t, l.Get(1, 1))
	assert.Nil(t, l.Get(1, 3))
	assert.False(t, l.HasUndo(), "one import is one undo point")

	_, err = e.Import(l, []byte{0xF0, 0x01})
	assert.ErrorIs(t, err, sysex.ErrInvalidPayload)
}

func TestBatchDownload(t *testing.T) {
	e := newEngine(t, Options{})
	l := newBlofeldLibrary(t)

	in := make(chan []byte, 4)
	in <- blofeldDump(t, patch.Location{Bank: 1, Number: 2}, "Got")
	in <- blofeldDump(t, patch.Location{Bank: patch.NoBank, Number: patch.NoNumber}, "Edit")
	in <- []byte{0xF0, 0x3E, 0x13, 0x00, 0x10, 0xF7}
	close(in)

	b, err := e.BatchDownload(context.Background(), l, in)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Committed)
	assert.Equal(t, "Got", l.Get(2, 2).Name)
	assert.Equal(t, "Edit", l.Get(1, 0).Name, "edit buffer dumps go to the first free real cell")
	assert.Equal(t, patch.Location{Bank: 0, Number: 0}, l.Get(1, 0).Location())
	assert.Equal(t, make([]*patch.Patch, l.BankSize()), rows(l, library.Scratch))

	e.Undo(l)
	assert.Nil(t, l.Get(2, 2))
	assert.Nil(t, l.Get(1, 0))
	assert.False(t, l.HasUndo())
}

func TestBatchDownloadWithoutPatchesLeavesNoUndo(t *testing.T) {
	e := newEngine(t, Options{})
	l := newBlofeldLibrary(t)

	in := make(chan []byte, 1)
	in <- []byte{0xF0, 0x3E, 0x13, 0x00, 0x10, 0xF7}
	close(in)
	b, err := e.BatchDownload(context.Background(), l, in)
	require.NoError(t, err)
	assert.Zero(t, b.Committed)
	assert.False(t, l.HasUndo())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.BatchDownload(ctx, l, make(chan []byte))
	require.NoError(t, err)
	assert.False(t, l.HasUndo())
}

func TestBatchDownloadInterrupted(t *testing.T) {
	e := newEngine(t, Options{})
	l := newBlofeldLibrary(t)
	ctx, cancel := context.WithCancel(context.Background())

	in := make(chan []byte)
	done := make(chan Batch)
	go func() {
		b, err := e.BatchDownload(ctx, l, in)
		assert.NoError(t, err)
		done <- b
	}()

	in <- blofeldDump(t, patch.Location{Bank: 0, Number: 0}, "Kept")
	cancel()
	b := <-done

	assert.Equal(t, 1, b.Committed)
	assert.Equal(t, "Kept", e.View(l).Columns[1].Patches[0].Name)
}

func TestBatchDownloadUnsupported(t *testing.T) {
	e := newEngine(t, Options{})
	_, err := e.BatchDownload(context.Background(), newGenericLibrary(t), make(chan []byte))
	assert.ErrorIs(t, err, ErrUnsupported)
}
