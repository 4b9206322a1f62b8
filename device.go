package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"patchlib/internal/transfer"
)

// Device is an open MIDI output, and optionally input, of one synth.
type Device struct {
	mu    sync.Mutex
	out   drivers.Out
	in    drivers.In
	pause time.Duration
}

// OpenDevice opens the first output whose name contains outHint. An empty
// inHint leaves the device send-only.
func OpenDevice(outHint, inHint string, pause time.Duration) (*Device, error) {
	out, err := findPort[drivers.Out]("output", midi.GetOutPorts(), outHint)
	if err != nil {
		return nil, err
	}
	if err := out.Open(); err != nil {
		return nil, fmt.Errorf("open %s: %w", out.String(), err)
	}

	d := &Device{out: out, pause: pause}
	if inHint != "" {
		in, err := findPort[drivers.In]("input", midi.GetInPorts(), inHint)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		d.in = in
	}
	glog.Infof("[device]opened output %q\n", out.String())
	return d, nil
}

func (d *Device) Close() {
	_ = d.out.Close()
	drivers.Close()
}

// findPort picks the first port whose name contains hint, ignoring case.
func findPort[P interface{ String() string }](kind string, ports []P, hint string) (P, error) {
	var none P
	if len(ports) == 0 {
		return none, fmt.Errorf("no MIDI %ss available", kind)
	}
	want := strings.ToLower(hint)
	for _, p := range ports {
		if strings.Contains(strings.ToLower(p.String()), want) {
			return p, nil
		}
	}
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.String()
	}
	return none, fmt.Errorf("no MIDI %s matches %q (have %s)", kind, hint, strings.Join(names, ", "))
}

// Send transmits fragments in order, pausing between them.
func (d *Device) Send(fragments [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send(fragments)
}

func (d *Device) send(fragments [][]byte) error {
	if !d.out.IsOpen() {
		if err := d.out.Open(); err != nil {
			return err
		}
	}
	for i, f := range fragments {
		if i > 0 && d.pause > 0 {
			time.Sleep(d.pause)
		}
		if err := d.out.Send(f); err != nil {
			return fmt.Errorf("fragment %d of %d: %w", i+1, len(fragments), err)
		}
	}
	return nil
}

// Transmit sends every patch, pausing between patches so the synth can
// store each one.
func (d *Device) Transmit(txs []transfer.Transmission) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, tx := range txs {
		if i > 0 && d.pause > 0 {
			time.Sleep(d.pause)
		}
		glog.V(1).Infof("[device]writing %q to %s (%d fragments)\n", tx.Name, tx.Location, len(tx.Fragments))
		if err := d.send(tx.Fragments); err != nil {
			return fmt.Errorf("write %q to %s: %w", tx.Name, tx.Location, err)
		}
	}
	return nil
}

// Fetch sends each request in turn and forwards the sysex reply, giving
// every request timeout to be answered. The returned channel is closed once
// every request was tried or ctx is done.
func (d *Device) Fetch(ctx context.Context, requests [][]byte, timeout time.Duration) (<-chan []byte, error) {
	if d.in == nil {
		return nil, errors.New("device has no MIDI input")
	}

	replies := make(chan []byte, 8)
	stop, err := midi.ListenTo(d.in, func(msg midi.Message, _ int32) {
		if len(msg) > 0 && msg[0] == 0xF0 {
			select {
			case replies <- append([]byte(nil), msg...):
			default:
				glog.Warningf("[device]reply buffer full, dropping %d bytes\n", len(msg))
			}
		}
	}, midi.UseSysEx(), midi.SysExBufferSize(4096))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for patch dumps: %w", err)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer stop()

		for i, req := range requests {
			if err := d.Send([][]byte{req}); err != nil {
				glog.Errorf("[device]request %d: %v\n", i, err)
				return
			}
			select {
			case msg := <-replies:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-time.After(timeout):
				glog.Warningf("[device]timed out waiting for reply to request %d\n", i)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
