// Package config loads the patchlib settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"patchlib/internal/synth"
	"patchlib/internal/sysex"
	"patchlib/internal/transfer"
)

type Config struct {
	// Synth selects the synth family, see synth.Names.
	Synth    string   `yaml:"synth"`
	Device   Device   `yaml:"device"`
	Transfer Transfer `yaml:"transfer"`

	// Generic describes the bank layout when Synth is "generic".
	Generic Generic `yaml:"generic"`
}

// Device names the MIDI ports. Port names match by substring.
type Device struct {
	Out string `yaml:"out"`
	In  string `yaml:"in"`
	ID  int    `yaml:"id"`

	// Timeout bounds the wait for each requested patch.
	Timeout time.Duration `yaml:"timeout"`
}

type Transfer struct {
	// ChunkSize splits outgoing sysex into fragments; 0 disables splitting.
	ChunkSize    int  `yaml:"chunk_size"`
	PlatformHack bool `yaml:"platform_hack"`

	// Pause is slept between fragments and between patches.
	Pause time.Duration `yaml:"pause"`
}

type Generic struct {
	Banks    []string `yaml:"banks"`
	Writable []bool   `yaml:"writable,omitempty"`
	BankSize int      `yaml:"bank_size"`
}

func Default() *Config {
	return &Config{
		Synth: "blofeld",
		Device: Device{
			Out:     "Blofeld",
			In:      "Blofeld",
			ID:      0,
			Timeout: 5 * time.Second,
		},
		Transfer: Transfer{
			ChunkSize:    0,
			PlatformHack: false,
			Pause:        50 * time.Millisecond,
		},
		Generic: Generic{
			Banks:    []string{"Bank"},
			BankSize: 128,
		},
	}
}

// DefaultPath is the settings file under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "patchlib", "config.yaml"), nil
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	bt, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(bt, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func Save(path string, c *Config) error {
	bt, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, bt, 0o644)
}

func (c *Config) Validate() error {
	if c.Transfer.ChunkSize != 0 && c.Transfer.ChunkSize <= 2 {
		return fmt.Errorf("%w: chunk_size must be 0 or greater than 2, got %d", sysex.ErrInvalidConfiguration, c.Transfer.ChunkSize)
	}
	if c.Transfer.Pause < 0 {
		return fmt.Errorf("%w: negative pause %s", sysex.ErrInvalidConfiguration, c.Transfer.Pause)
	}
	if c.Device.Timeout <= 0 {
		return fmt.Errorf("%w: device timeout must be positive, got %s", sysex.ErrInvalidConfiguration, c.Device.Timeout)
	}
	if c.Device.ID < 0 || c.Device.ID > 0x7F {
		return fmt.Errorf("%w: device id must be 0-127, got %d", sysex.ErrInvalidConfiguration, c.Device.ID)
	}
	if _, err := c.NewSynth(); err != nil {
		return err
	}
	return nil
}

func (c *Config) SynthOptions() synth.Options {
	return synth.Options{
		DeviceID: byte(c.Device.ID),
		Banks:    c.Generic.Banks,
		Writable: c.Generic.Writable,
		BankSize: c.Generic.BankSize,
	}
}

func (c *Config) NewSynth() (synth.Synth, error) {
	return synth.Lookup(c.Synth, c.SynthOptions())
}

func (c *Config) TransferOptions() transfer.Options {
	return transfer.Options{
		ChunkSize:    c.Transfer.ChunkSize,
		PlatformHack: c.Transfer.PlatformHack,
	}
}
