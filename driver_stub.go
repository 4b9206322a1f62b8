//go:build nomidi

package main

// Built without a native MIDI driver: port lists are empty and opening a
// device fails.
const midiDriver = "none"
