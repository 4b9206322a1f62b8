package synth

import (
	"bytes"
	"errors"
	"fmt"

	"patchlib/internal/patch"
)

const (
	// PatchSize is the SDATA payload size of a Blofeld single sound.
	PatchSize = 383
	// SNDDSize is a complete sound dump: 7 header bytes, SDATA, checksum, F7.
	SNDDSize = PatchSize + 9

	blofeldBanks    = 8
	blofeldBankSize = 128

	waldorfID = 0x3E
	blofeldID = 0x13

	msgSNDR = 0x00 // sound request
	msgSNDD = 0x10 // sound dump

	editBufferBank = 0x7F

	nameOffset = 363
	nameLength = 16
)

// Blofeld handles Waldorf Blofeld single sound dumps.
type Blofeld struct {
	devID byte
}

func NewBlofeld(devID byte) *Blofeld {
	return &Blofeld{devID: devID}
}

func (b *Blofeld) Kind() patch.Kind { return KindBlofeld }
func (b *Blofeld) Name() string     { return "Waldorf Blofeld" }

func (b *Blofeld) BankNames() []string {
	names := make([]string, blofeldBanks)
	for i := range names {
		names[i] = string(rune('A' + i))
	}
	return names
}

func (b *Blofeld) WritableBanks() []bool {
	w := make([]bool, blofeldBanks)
	for i := range w {
		w[i] = true
	}
	return w
}

func (b *Blofeld) NumberNames() []string     { return numberNames(blofeldBankSize) }
func (b *Blofeld) SupportsDownloads() bool   { return true }
func (b *Blofeld) SupportsPatchWrites() bool { return true }

func (b *Blofeld) Recognize(msg []byte) bool {
	return len(msg) == SNDDSize &&
		msg[0] == 0xF0 && msg[1] == waldorfID && msg[2] == blofeldID &&
		msg[4] == msgSNDD && msg[len(msg)-1] == 0xF7
}

func (b *Blofeld) Decode(msgs [][]byte) (*patch.Patch, error) {
	if len(msgs) == 0 {
		return nil, ErrIncomplete
	}
	if len(msgs) > 1 {
		return nil, fmt.Errorf("blofeld sound dump is a single message, got %d", len(msgs))
	}
	msg := msgs[0]
	if err := checkSNDD(msg); err != nil {
		return nil, err
	}

	p := patch.New(KindBlofeld, msgs, false)
	sdata := msg[7 : 7+PatchSize]
	p.Name = string(bytes.TrimRight(sdata[nameOffset:nameOffset+nameLength], "\x00 "))

	bank, program := int(msg[5]), int(msg[6])
	if bank == editBufferBank {
		p.Bank = patch.NoBank
		p.Number = patch.NumberNotSet
	} else {
		p.Bank = bank
		p.Number = program
	}
	return p, nil
}

func checkSNDD(msg []byte) error {
	if len(msg) != SNDDSize {
		return fmt.Errorf("%w: unexpected dump size %d (want %d)", ErrNotRecognized, len(msg), SNDDSize)
	}
	if msg[0] != 0xF0 || msg[len(msg)-1] != 0xF7 {
		return fmt.Errorf("%w: message is not a SysEx frame", ErrNotRecognized)
	}
	if msg[1] != waldorfID || msg[2] != blofeldID {
		return fmt.Errorf("%w: not a Waldorf Blofeld SysEx", ErrNotRecognized)
	}
	if msg[4] != msgSNDD {
		return fmt.Errorf("%w: unexpected message type 0x%02X (expected SNDD 0x10)", ErrNotRecognized, msg[4])
	}

	// 0x7F is accepted in place of a real checksum
	checksum := msg[7+PatchSize]
	if chk := blofeldChecksum(msg[7 : 7+PatchSize]); checksum != 0x7F && chk != checksum {
		return fmt.Errorf("checksum mismatch: expected 0x%02X got 0x%02X", chk, checksum)
	}
	return nil
}

func blofeldChecksum(sdata []byte) byte {
	var chk byte
	for _, b := range sdata {
		chk = (chk + b) & 0x7F
	}
	return chk
}

func (b *Blofeld) location(loc patch.Location) (byte, byte, error) {
	if !loc.HasBank() || !loc.HasNumber() {
		return editBufferBank, 0x00, nil
	}
	if loc.Bank < 0 || loc.Bank >= blofeldBanks {
		return 0, 0, fmt.Errorf("bank must be A–H, got %d", loc.Bank)
	}
	if loc.Number < 0 || loc.Number >= blofeldBankSize {
		return 0, 0, fmt.Errorf("program must be in range 0–127, got %d", loc.Number)
	}
	return byte(loc.Bank), byte(loc.Number), nil
}

// Request asks for one sound. An unspecified location requests the edit
// buffer.
func (b *Blofeld) Request(loc patch.Location) ([][]byte, error) {
	bank, prog, err := b.location(loc)
	if err != nil {
		return nil, err
	}
	return [][]byte{{0xF0, waldorfID, blofeldID, b.devID, msgSNDR, bank, prog, 0xF7}}, nil
}

// Relocate rewrites the bank and program of the dump and recomputes its
// checksum.
func (b *Blofeld) Relocate(p *patch.Patch, loc patch.Location) ([][]byte, error) {
	if p.Kind != KindBlofeld {
		return nil, fmt.Errorf("%w: patch kind %d", ErrUnsupported, p.Kind)
	}
	if len(p.Sysex) != 1 {
		return nil, errors.New("blofeld patch must hold exactly one sound dump")
	}
	if err := checkSNDD(p.Sysex[0]); err != nil {
		return nil, err
	}
	bank, prog, err := b.location(loc)
	if err != nil {
		return nil, err
	}

	out := append([]byte(nil), p.Sysex[0]...)
	out[3] = b.devID
	out[5] = bank
	out[6] = prog
	out[7+PatchSize] = blofeldChecksum(out[7 : 7+PatchSize])
	return [][]byte{out}, nil
}

// NewBlofeldDump builds a sound dump around sdata, for tests and for
// initializing empty sounds.
func NewBlofeldDump(devID byte, loc patch.Location, name string, sdata []byte) ([]byte, error) {
	if len(sdata) != PatchSize {
		return nil, errors.New("invalid SDATA length")
	}
	data := append([]byte(nil), sdata...)
	if name != "" {
		n := []byte(name)
		if len(n) > nameLength {
			n = n[:nameLength]
		}
		for len(n) < nameLength {
			n = append(n, ' ')
		}
		copy(data[nameOffset:nameOffset+nameLength], n)
	}

	b := NewBlofeld(devID)
	bank, prog, err := b.location(loc)
	if err != nil {
		return nil, err
	}
	out := []byte{0xF0, waldorfID, blofeldID, devID, msgSNDD, bank, prog}
	out = append(out, data...)
	out = append(out, blofeldChecksum(data), 0xF7)
	return out, nil
}
