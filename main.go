package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"gitlab.com/gomidi/midi/v2"

	"patchlib/internal/config"
	"patchlib/internal/sysex"
	"patchlib/internal/transfer"
)

const Version = "0.1.0"

func main() {
	usage := `patchlib - sysex patch librarian.

Settings are read from --config, or from patchlib/config.yaml in the user
config directory.

Usage:
    patchlib mcp [--config=<path>] [--verbose=<level>]
    patchlib init [--config=<path>]
    patchlib fragment <file> [--chunk=<size>] [--hack] [--verbose=<level>]
    patchlib send <file> [--config=<path>] [--verbose=<level>]
    patchlib ports
    patchlib version

Options:
    -h --help            Show this screen.
    --version            Show version.
    --config=<path>      Settings file.
    --chunk=<size>       Largest fragment in bytes [default: 256].
    --hack               Send fragments as independent messages.
    --verbose=<level>    Log verbosity [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}
	setupLogging(opts)

	if mcp_, _ := opts.Bool("mcp"); mcp_ {
		err = serveMCP(opts)
	} else if init_, _ := opts.Bool("init"); init_ {
		err = initConfig(opts)
	} else if fragment_, _ := opts.Bool("fragment"); fragment_ {
		err = fragmentFile(opts)
	} else if send_, _ := opts.Bool("send"); send_ {
		err = sendFile(opts)
	} else if ports_, _ := opts.Bool("ports"); ports_ {
		listPorts()
	} else if version_, _ := opts.Bool("version"); version_ {
		fmt.Println(Version)
	}

	if err != nil {
		glog.Errorf("%v\n", err)
		glog.Flush()
		os.Exit(1)
	}
	glog.Flush()
}

// setupLogging points glog at stderr, which keeps stdout free for the MCP
// stdio transport.
func setupLogging(opts docopt.Opts) {
	_ = flag.Set("logtostderr", "true")
	if v, err := opts.String("--verbose"); err == nil {
		_ = flag.Set("v", v)
	}
	_ = flag.CommandLine.Parse(nil)
}

func configPath(opts docopt.Opts) (string, error) {
	path, err := opts.String("--config")
	if err != nil || path == "" {
		return config.DefaultPath()
	}
	return path, nil
}

func loadConfig(opts docopt.Opts) (*config.Config, error) {
	path, err := configPath(opts)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("[config]loading %s\n", path)
	return config.Load(path)
}

// initConfig writes the default settings, leaving an existing file alone.
func initConfig(opts docopt.Opts) error {
	path, err := configPath(opts)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func serveMCP(opts docopt.Opts) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	var dev transport
	d, err := OpenDevice(cfg.Device.Out, cfg.Device.In, cfg.Transfer.Pause)
	if err != nil {
		glog.Warningf("[mcp]running without a device: %v\n", err)
	} else {
		defer d.Close()
		dev = d
	}

	l, err := newLibrarian(cfg, dev)
	if err != nil {
		return err
	}
	return runMCP(l)
}

func readMessages(opts docopt.Opts) ([][]byte, error) {
	file, _ := opts.String("<file>")
	blob, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	msgs, err := sysex.Split(blob)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return msgs, nil
}

// fragmentFile prints the device messages each sysex message of a file
// would be sent as.
func fragmentFile(opts docopt.Opts) error {
	chunk, err := opts.Int("--chunk")
	if err != nil {
		return err
	}
	hack, _ := opts.Bool("--hack")

	msgs, err := readMessages(opts)
	if err != nil {
		return err
	}
	for i, m := range msgs {
		frags, err := sysex.Fragment(m, chunk, hack)
		if err != nil {
			return fmt.Errorf("message %d: %w", i+1, err)
		}
		fmt.Printf("message %d: %d bytes, %d fragments\n", i+1, len(m), len(frags))
		for j, f := range frags {
			fmt.Printf("  %3d (%d): % X\n", j+1, len(f), f)
		}
	}
	return nil
}

// sendFile sends a .syx file to the configured output as is, cut into
// fragments per the settings.
func sendFile(opts docopt.Opts) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	engine, err := transfer.New(cfg.TransferOptions())
	if err != nil {
		return err
	}
	msgs, err := readMessages(opts)
	if err != nil {
		return err
	}
	frags, err := engine.Fragments(msgs)
	if err != nil {
		return err
	}

	d, err := OpenDevice(cfg.Device.Out, "", cfg.Transfer.Pause)
	if err != nil {
		return err
	}
	defer d.Close()

	glog.Infof("[device]sending %d messages as %d fragments\n", len(msgs), len(frags))
	return d.Send(frags)
}

func listPorts() {
	fmt.Printf("MIDI driver: %s\n", midiDriver)
	fmt.Println("Inputs:")
	fmt.Print(midi.GetInPorts().String())
	fmt.Println("Outputs:")
	fmt.Print(midi.GetOutPorts().String())
}
