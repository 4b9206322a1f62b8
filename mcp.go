package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"patchlib/internal/config"
	"patchlib/internal/library"
	"patchlib/internal/patch"
	"patchlib/internal/sysex"
	"patchlib/internal/transfer"
)

// transport is the part of a Device the tools need.
type transport interface {
	Transmit(txs []transfer.Transmission) error
	Fetch(ctx context.Context, requests [][]byte, timeout time.Duration) (<-chan []byte, error)
}

type download struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// librarian is the state behind the MCP tools: one library, the engine
// editing it, and the device it is synced with.
type librarian struct {
	cfg    *config.Config
	engine *transfer.Engine
	lib    *library.Library
	dev    transport

	// mu guards the download state; library state is guarded by the engine.
	mu      sync.Mutex
	running *download
	last    *transfer.Batch
	lastErr error
}

// newLibrarian builds an empty library for the configured synth. dev may be
// nil, in which case the device tools fail.
func newLibrarian(cfg *config.Config, dev transport) (*librarian, error) {
	s, err := cfg.NewSynth()
	if err != nil {
		return nil, err
	}
	engine, err := transfer.New(cfg.TransferOptions())
	if err != nil {
		return nil, err
	}
	lib, err := library.New(s)
	if err != nil {
		return nil, err
	}
	return &librarian{cfg: cfg, engine: engine, lib: lib, dev: dev}, nil
}

func runMCP(l *librarian) error {
	glog.Infof("[mcp]starting patchlib MCP server for %s\n", l.lib.Synth().Name())
	return server.ServeStdio(l.server())
}

func (l *librarian) server() *server.MCPServer {
	s := server.NewMCPServer(
		"patchlib",
		Version,
		server.WithToolCapabilities(false),
	)

	bankArg := func(name, desc string) mcp.ToolOption {
		return mcp.WithString(name, mcp.Required(), mcp.Description(desc))
	}
	programArg := func(name string) mcp.ToolOption {
		return mcp.WithNumber(name, mcp.Required(), mcp.Description("Program number, starting at 1."))
	}
	lengthArg := mcp.WithNumber("length", mcp.Description("Number of consecutive programs (default 1)."))
	optionalProgram := mcp.WithNumber("program", mcp.Description("First program, starting at 1. Omit for the whole bank."))

	s.AddTool(mcp.NewTool("patchlib_describe",
		mcp.WithDescription("Lists the banks of the library and the patches they hold."),
	), l.handleDescribe)

	for _, op := range []struct{ name, desc string }{
		{"copy", "Copies programs to another place, leaving the source untouched."},
		{"move", "Moves programs to another place and empties the source."},
		{"swap", "Exchanges two runs of programs."},
	} {
		s.AddTool(mcp.NewTool("patchlib_"+op.name,
			mcp.WithDescription(op.desc),
			bankArg("bank", "Source bank name, or Scratch."),
			programArg("program"),
			lengthArg,
			bankArg("to_bank", "Destination bank name, or Scratch."),
			programArg("to_program"),
		), l.handleTransfer(op.name))
	}

	s.AddTool(mcp.NewTool("patchlib_clear",
		mcp.WithDescription("Empties programs."),
		bankArg("bank", "Bank name, or Scratch."),
		programArg("program"),
		lengthArg,
	), l.handleClear)

	s.AddTool(mcp.NewTool("patchlib_clear-bank",
		mcp.WithDescription("Empties a whole bank."),
		bankArg("bank", "Bank name, or Scratch."),
	), l.handleClearBank)

	s.AddTool(mcp.NewTool("patchlib_clear-all",
		mcp.WithDescription("Empties every writable bank, scratch included."),
	), l.handleClearAll)

	s.AddTool(mcp.NewTool("patchlib_name-bank",
		mcp.WithDescription("Sets the label shown next to a bank name."),
		bankArg("bank", "Bank name, or Scratch."),
		mcp.WithString("name", mcp.Description("Label; empty removes it.")),
	), l.handleNameBank)

	s.AddTool(mcp.NewTool("patchlib_undo",
		mcp.WithDescription("Reverts the last edit of the library."),
	), l.handleUndo)

	s.AddTool(mcp.NewTool("patchlib_redo",
		mcp.WithDescription("Reapplies the last undone edit."),
	), l.handleRedo)

	s.AddTool(mcp.NewTool("patchlib_write",
		mcp.WithDescription("Sends patches to their programs on the synth."),
		bankArg("bank", "Bank name, or all."),
		optionalProgram,
		lengthArg,
	), l.handleWrite)

	s.AddTool(mcp.NewTool("patchlib_download",
		mcp.WithDescription("Starts fetching patches from the synth into the library."),
		bankArg("bank", "Bank name, or all."),
		optionalProgram,
		lengthArg,
	), l.handleDownload)

	s.AddTool(mcp.NewTool("patchlib_download-status",
		mcp.WithDescription("Reports the running or last download."),
	), l.handleDownloadStatus)

	s.AddTool(mcp.NewTool("patchlib_stop-download",
		mcp.WithDescription("Stops the running download, keeping every patch received so far."),
	), l.handleStopDownload)

	s.AddTool(mcp.NewTool("patchlib_save",
		mcp.WithDescription("Writes patches to a .syx file."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File to write.")),
		bankArg("bank", "Bank name, or all."),
		optionalProgram,
		lengthArg,
	), l.handleSave)

	s.AddTool(mcp.NewTool("patchlib_load",
		mcp.WithDescription("Reads a .syx file into the library."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File to read.")),
	), l.handleLoad)

	s.AddTool(mcp.NewTool("patchlib_fragment",
		mcp.WithDescription("Shows how a sysex message is cut into device messages."),
		mcp.WithString("payload", mcp.Required(), mcp.Description("Hex bytes, e.g. \"F0 3E 13 00 F7\".")),
		mcp.WithNumber("chunk_size", mcp.Required(), mcp.Description("Maximum fragment size, greater than 2.")),
		mcp.WithBoolean("hack", mcp.Description("Send fragments as independent messages.")),
	), l.handleFragment)

	return s
}

func toolError(err error) (*mcp.CallToolResult, error) {
	glog.Warningf("[mcp]%v\n", err)
	return mcp.NewToolResultError(err.Error()), nil
}

// column resolves a bank argument: Scratch, a bank name or a 1-based bank
// number.
func (l *librarian) column(bank string) (int, error) {
	bank = strings.TrimSpace(bank)
	for col := 0; col < l.lib.NumColumns(); col++ {
		if strings.EqualFold(l.lib.BankName(col), bank) {
			return col, nil
		}
	}
	if n, err := strconv.Atoi(bank); err == nil && n >= 1 && n <= l.lib.NumBanks() {
		return n, nil
	}
	return -1, fmt.Errorf("unknown bank %q", bank)
}

func (l *librarian) rangeArg(request mcp.CallToolRequest, bankKey, programKey string) (transfer.Range, error) {
	bank, err := request.RequireString(bankKey)
	if err != nil {
		return transfer.Range{}, err
	}
	program, err := request.RequireInt(programKey)
	if err != nil {
		return transfer.Range{}, err
	}
	col, err := l.column(bank)
	if err != nil {
		return transfer.Range{}, err
	}
	return transfer.Range{
		Library: l.lib,
		Column:  col,
		Row:     program - 1,
		Length:  request.GetInt("length", 1),
	}, nil
}

// deviceArg reads the bank/program/length of the device tools. all is set
// when the bank is "all"; a missing program selects the whole bank.
func (l *librarian) deviceArg(request mcp.CallToolRequest) (r transfer.Range, all bool, err error) {
	bank, err := request.RequireString("bank")
	if err != nil {
		return r, false, err
	}
	if strings.EqualFold(strings.TrimSpace(bank), "all") {
		return r, true, nil
	}
	col, err := l.column(bank)
	if err != nil {
		return r, false, err
	}
	r = transfer.Range{Library: l.lib, Column: col, Row: 0, Length: l.lib.BankSize()}
	if program := request.GetInt("program", 0); program > 0 {
		r.Row = program - 1
		r.Length = request.GetInt("length", 1)
	}
	return r, false, nil
}

func (l *librarian) handleDescribe(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view := l.engine.View(l.lib)
	numbers := l.lib.NumberNames()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d banks of %d programs\n", l.lib.Synth().Name(), l.lib.NumBanks(), l.lib.BankSize())
	for _, column := range view.Columns {
		sb.WriteString(column.Name)
		if !column.Writable {
			sb.WriteString(" (read-only)")
		}
		sb.WriteString("\n")
		n := 0
		for row, p := range column.Patches {
			if p == nil {
				continue
			}
			name := p.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Fprintf(&sb, "  %s %s\n", numbers[row], name)
			n++
		}
		if n == 0 {
			sb.WriteString("  (empty)\n")
		}
	}
	fmt.Fprintf(&sb, "undo steps: %d, redo steps: %d\n", view.Undo, view.Redo)
	return mcp.NewToolResultText(sb.String()), nil
}

func (l *librarian) handleTransfer(op string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		from, err := l.rangeArg(request, "bank", "program")
		if err != nil {
			return toolError(err)
		}
		to, err := l.rangeArg(request, "to_bank", "to_program")
		if err != nil {
			return toolError(err)
		}
		target := transfer.Target{Library: to.Library, Column: to.Column, Row: to.Row}

		glog.Infof("[mcp]%s %s -> %s\n", op, from, to)
		switch op {
		case "copy":
			err = l.engine.Copy(from, target, true)
		case "move":
			err = l.engine.Move(from, target)
		case "swap":
			err = l.engine.Swap(from, target)
		}
		if err != nil {
			return toolError(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s of %d programs done.", op, from.Length)), nil
	}
}

func (l *librarian) handleClear(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := l.rangeArg(request, "bank", "program")
	if err != nil {
		return toolError(err)
	}
	if err := l.engine.Clear(r); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Cleared %d programs.", r.Length)), nil
}

func (l *librarian) handleClearBank(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bank, err := request.RequireString("bank")
	if err != nil {
		return toolError(err)
	}
	col, err := l.column(bank)
	if err != nil {
		return toolError(err)
	}
	if err := l.engine.ClearBank(l.lib, col); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText("Cleared bank " + l.lib.BankName(col) + "."), nil
}

func (l *librarian) handleClearAll(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := l.engine.ClearAll(l.lib); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText("Cleared all writable banks."), nil
}

func (l *librarian) handleNameBank(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bank, err := request.RequireString("bank")
	if err != nil {
		return toolError(err)
	}
	col, err := l.column(bank)
	if err != nil {
		return toolError(err)
	}
	name, err := l.engine.NameBank(l.lib, col, request.GetString("name", ""))
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText("Bank is now " + name + "."), nil
}

func (l *librarian) handleUndo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l.engine.Undo(l.lib)
	return mcp.NewToolResultText("Undone."), nil
}

func (l *librarian) handleRedo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l.engine.Redo(l.lib)
	return mcp.NewToolResultText("Redone."), nil
}

func (l *librarian) handleWrite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if l.dev == nil {
		return toolError(errors.New("no MIDI device is open"))
	}
	r, all, err := l.deviceArg(request)
	if err != nil {
		return toolError(err)
	}

	var txs []transfer.Transmission
	if all {
		txs, err = l.engine.WriteAll(l.lib)
	} else {
		txs, err = l.engine.WriteRange(r)
	}
	if err != nil {
		return toolError(err)
	}
	if err := l.dev.Transmit(txs); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Wrote %d patches.", len(txs))), nil
}

func (l *librarian) handleDownload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if l.dev == nil {
		return toolError(errors.New("no MIDI device is open"))
	}
	r, all, err := l.deviceArg(request)
	if err != nil {
		return toolError(err)
	}

	var locs []patch.Location
	if all {
		locs, err = l.engine.DownloadAll(l.lib)
	} else {
		locs, err = l.engine.DownloadRange(r)
	}
	if err != nil {
		return toolError(err)
	}
	if err := l.startDownload(locs); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Download of %d patches started.", len(locs))), nil
}

func (l *librarian) startDownload(locs []patch.Location) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running != nil {
		return errors.New("a download is already running")
	}
	reqs, err := l.engine.Requests(l.lib, locs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	in, err := l.dev.Fetch(ctx, reqs, l.cfg.Device.Timeout)
	if err != nil {
		cancel()
		return err
	}

	d := &download{cancel: cancel, done: make(chan struct{})}
	l.running = d
	go func() {
		defer close(d.done)
		b, err := l.engine.BatchDownload(ctx, l.lib, in)
		cancel()

		l.mu.Lock()
		l.last, l.lastErr, l.running = &b, err, nil
		l.mu.Unlock()
	}()
	return nil
}

func (l *librarian) downloadStatus() string {
	switch {
	case l.running != nil:
		return "Download running."
	case l.lastErr != nil:
		return fmt.Sprintf("%s failed: %v", l.last, l.lastErr)
	case l.last != nil:
		return l.last.String()
	}
	return "No download has run."
}

func (l *librarian) handleDownloadStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return mcp.NewToolResultText(l.downloadStatus()), nil
}

func (l *librarian) handleStopDownload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l.mu.Lock()
	d := l.running
	l.mu.Unlock()

	if d != nil {
		d.cancel()
		<-d.done
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return mcp.NewToolResultText(l.downloadStatus()), nil
}

func (l *librarian) handleSave(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return toolError(err)
	}
	r, all, err := l.deviceArg(request)
	if err != nil {
		return toolError(err)
	}

	var blob []byte
	if all {
		blob, err = l.engine.SaveAll(l.lib)
	} else {
		blob, err = l.engine.SaveRange(r)
	}
	if err != nil {
		return toolError(err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Saved %d bytes to %s.", len(blob), path)), nil
}

func (l *librarian) handleLoad(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return toolError(err)
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return toolError(err)
	}
	res, err := l.engine.Import(l.lib, blob)
	if err != nil {
		return toolError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Loaded %d patches (%d did not fit, %d invalid).", res.Placed, res.Dropped, res.Invalid)), nil
}

func (l *librarian) handleFragment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, err := request.RequireString("payload")
	if err != nil {
		return toolError(err)
	}
	chunk, err := request.RequireInt("chunk_size")
	if err != nil {
		return toolError(err)
	}
	data, err := hex.DecodeString(strings.Join(strings.Fields(payload), ""))
	if err != nil {
		return toolError(fmt.Errorf("payload is not hex: %w", err))
	}

	frags, err := sysex.Fragment(data, chunk, request.GetBool("hack", false))
	if err != nil {
		return toolError(err)
	}
	var sb strings.Builder
	for i, f := range frags {
		fmt.Fprintf(&sb, "%d (%d): % X\n", i+1, len(f), f)
	}
	return mcp.NewToolResultText(sb.String()), nil
}
