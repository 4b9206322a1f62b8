package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"patchlib/internal/library"
	"patchlib/internal/patch"
	"patchlib/internal/synth"
	"patchlib/internal/sysex"
)

// decoder collects messages until the synth can build a patch from them.
type decoder struct {
	synth   synth.Synth
	pending [][]byte
}

// feed returns a patch once one is complete, or nil while more messages
// are needed. Messages the synth does not recognize are dropped.
func (d *decoder) feed(msg []byte) (*patch.Patch, error) {
	if !d.synth.Recognize(msg) {
		glog.V(2).Infof("[transfer]ignoring %d byte message\n", len(msg))
		return nil, nil
	}
	d.pending = append(d.pending, msg)
	p, err := d.synth.Decode(d.pending)
	if errors.Is(err, synth.ErrIncomplete) {
		return nil, nil
	}
	d.pending = nil
	return p, err
}

type cell struct{ col, row int }

// ImportResult counts what happened to the patches of an imported file.
type ImportResult struct {
	Placed  int
	Dropped int
	Invalid int
}

// Import reads a .syx blob into lib as one undo point. A patch that names
// its own bank and number goes there; every other patch goes to the first
// empty cell of the real banks. Patches that find no cell are dropped.
// Like a download, an import may fill read-only banks, which only replaces
// the local copy.
func (e *Engine) Import(lib *library.Library, blob []byte) (ImportResult, error) {
	var res ImportResult

	msgs, err := sysex.Split(blob)
	if err != nil {
		return res, err
	}
	d := decoder{synth: lib.Synth()}
	var patches []*patch.Patch
	for _, m := range msgs {
		p, err := d.feed(m)
		if err != nil {
			glog.Warningf("[transfer]import: %v\n", err)
			res.Invalid++
			continue
		}
		if p != nil {
			patches = append(patches, p)
		}
	}
	if len(patches) == 0 {
		return res, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	lib.PushUndo()
	lib.Batch(func() {
		claimed := map[cell]bool{}
		var unplaced []*patch.Patch
		for _, p := range patches {
			c, ok := ownCell(lib, p)
			if !ok || claimed[c] {
				unplaced = append(unplaced, p)
				continue
			}
			claimed[c] = true
			store(lib, c, p)
			res.Placed++
		}

		next := cell{col: 1}
		for _, p := range unplaced {
			c, ok := nextFree(lib, claimed, &next)
			if !ok {
				res.Dropped++
				continue
			}
			claimed[c] = true
			store(lib, c, p)
			res.Placed++
		}
	})
	glog.Infof("[transfer]import: %d placed, %d dropped, %d invalid\n", res.Placed, res.Dropped, res.Invalid)
	return res, nil
}

// ownCell is the real-bank cell a patch names, if any.
func ownCell(lib *library.Library, p *patch.Patch) (cell, bool) {
	loc := p.Location()
	if !loc.HasBank() || !loc.HasNumber() {
		return cell{}, false
	}
	c := cell{col: lib.Column(loc.Bank), row: loc.Number}
	if c.col == library.Scratch || !lib.ValidColumn(c.col) || c.row < 0 || c.row >= lib.BankSize() {
		return cell{}, false
	}
	return c, true
}

func nextFree(lib *library.Library, claimed map[cell]bool, from *cell) (cell, bool) {
	for ; from.col < lib.NumColumns(); from.col, from.row = from.col+1, 0 {
		for ; from.row < lib.BankSize(); from.row++ {
			c := *from
			if lib.Get(c.col, c.row) == nil && !claimed[c] {
				return c, true
			}
		}
	}
	return cell{}, false
}

// store puts a freshly decoded patch at c as its own undo point, recording
// the cell as its location.
func store(lib *library.Library, c cell, p *patch.Patch) {
	lib.PushUndo()
	loc := lib.BankLocation(c.col, c.row)
	p.Bank, p.Number = loc.Bank, loc.Number
	lib.Set(c.col, c.row, p)
}

// Batch reports the outcome of a BatchDownload.
type Batch struct {
	ID        ulid.ULID
	Committed int
	Skipped   int
}

func (b Batch) String() string {
	return fmt.Sprintf("download %s: %d committed, %d skipped", b.ID, b.Committed, b.Skipped)
}

// BatchDownload commits the patches decoded from incoming until the channel
// closes or ctx is done. The whole batch is one undo point, recorded when the
// first patch is committed, and each patch is stored under the engine lock,
// so an interrupted download leaves every committed patch in place.
// Interruption is not an error.
//
// Patches that carry a device location land in that cell. Patches from the
// edit buffer go to the first empty cell of the real banks, as Import does;
// the scratch bank is never written by a download.
func (e *Engine) BatchDownload(ctx context.Context, lib *library.Library, incoming <-chan []byte) (Batch, error) {
	b := Batch{ID: ulid.Make()}
	if !lib.Synth().SupportsDownloads() {
		return b, fmt.Errorf("%w: %s does not support downloads", ErrUnsupported, lib.Synth().Name())
	}

	glog.Infof("[transfer]download %s started\n", b.ID)
	d := decoder{synth: lib.Synth()}
	for {
		select {
		case <-ctx.Done():
			glog.Infof("[transfer]%s (interrupted)\n", b)
			return b, nil
		case msg, ok := <-incoming:
			if !ok {
				glog.Infof("[transfer]%s\n", b)
				return b, nil
			}
			p, err := d.feed(msg)
			if err != nil {
				glog.Warningf("[transfer]download %s: %v\n", b.ID, err)
				b.Skipped++
				continue
			}
			if p == nil {
				continue
			}
			if e.commit(lib, p, b.Committed == 0) {
				b.Committed++
			} else {
				b.Skipped++
			}
		}
	}
}

// commit stores one downloaded patch. Only the first patch of a batch records
// an undo point; later ones are folded into it.
func (e *Engine) commit(lib *library.Library, p *patch.Patch, first bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := ownCell(lib, p)
	if !ok {
		if p.Location().HasBank() {
			glog.Warningf("[transfer]no cell for %s\n", p.Location())
			return false
		}
		c, ok = nextFree(lib, map[cell]bool{}, &cell{col: 1})
		if !ok {
			glog.Warningf("[transfer]library full, dropping %q\n", p.Name)
			return false
		}
	}
	glog.V(1).Infof("[transfer]received %q into %s row %d\n", p.Name, lib.BankName(c.col), c.row)
	if first {
		store(lib, c, p)
	} else {
		lib.Batch(func() { store(lib, c, p) })
	}
	return true
}
