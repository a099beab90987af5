// Package epd drives the Waveshare 7.5" (B) black/red e-paper panel over
// SPI using periph.io pins.
//
// The controller tells command bytes from data bytes only by the level of the
// DC line at the moment of transfer: low for commands, high for data. Every
// higher level operation in this package is built on SendCommand and
// SendData, which always drive DC before clocking the byte out.
//
// The panel state (reset, active, deep sleep) is not tracked. Callers are
// expected to call Init before DisplayFrame, Sleep only after Init, and Init
// (or Reset) again to wake the panel from deep sleep.
//
// A Dev has no internal locking. Calls on the same Dev must be serialized by
// the caller.
package epd
