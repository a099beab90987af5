package epd

import (
	"bytes"
	"fmt"
	"image"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	appLog "epaper/internal/log"
)

// Opts describes the panel geometry and timing.
type Opts struct {
	// Width is the number of source lines; it must be a multiple of 8.
	Width int
	// Height is the number of gate lines.
	Height int
	// SPIFrequency defaults to 2MHz.
	SPIFrequency physic.Frequency
	// BusyPoll is the interval between BUSY reads. Defaults to 100ms.
	BusyPoll time.Duration
	// BusyTimeout bounds every internal busy wait when non-zero. Zero waits
	// forever, which matches what the hardware needs in practice.
	BusyTimeout time.Duration
}

// EPD7in5b is the Waveshare 7.5" (B) 640x384 black/red panel.
var EPD7in5b = Opts{
	Width:        640,
	Height:       384,
	SPIFrequency: 2 * physic.MegaHertz,
	BusyPoll:     100 * time.Millisecond,
}

// Validate reports whether the options can drive a panel.
func (o *Opts) Validate() error {
	switch {
	case o.Width <= 0 || o.Height <= 0:
		return fmt.Errorf("%w: size %dx%d", ErrInvalidOpts, o.Width, o.Height)
	case o.Width%8 != 0:
		return fmt.Errorf("%w: width %d is not a multiple of 8", ErrInvalidOpts, o.Width)
	case o.Width > 0xFFFF || o.Height > 0xFFFF:
		return fmt.Errorf("%w: size %dx%d does not fit the resolution registers", ErrInvalidOpts, o.Width, o.Height)
	case o.BusyPoll < 0 || o.BusyTimeout < 0:
		return fmt.Errorf("%w: negative busy timing", ErrInvalidOpts)
	}
	return nil
}

// PlaneSize is the exact byte length of one plane.
func (o Opts) PlaneSize() int {
	return o.stride() * o.Height
}

func (o *Opts) stride() int {
	return o.Width / 8
}

func (o Opts) withDefaults() Opts {
	if o.SPIFrequency == 0 {
		o.SPIFrequency = EPD7in5b.SPIFrequency
	}
	if o.BusyPoll == 0 {
		o.BusyPoll = EPD7in5b.BusyPoll
	}
	return o
}

// Dev is a handle to one panel. It owns the bus and the control pins for the
// duration of every call.
type Dev struct {
	port spi.Port
	c    spi.Conn

	dc   gpio.PinOut
	cs   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn

	opts  Opts
	sleep func(time.Duration)
}

// New creates a handle for a panel wired to p. cs may be nil when the SPI
// port drives chip select itself. No bus traffic happens until Init.
func New(p spi.Port, dc, cs, rst gpio.PinOut, busy gpio.PinIn, opts *Opts) (*Dev, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil spi port", ErrInvalidOpts)
	}
	if dc == nil || rst == nil || busy == nil {
		return nil, fmt.Errorf("%w: dc, rst and busy pins are required", ErrInvalidOpts)
	}
	if opts == nil {
		opts = &EPD7in5b
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Dev{
		port:  p,
		dc:    dc,
		cs:    cs,
		rst:   rst,
		busy:  busy,
		opts:  opts.withDefaults(),
		sleep: time.Sleep,
	}, nil
}

// Opts returns the effective options.
func (d *Dev) Opts() Opts {
	return d.opts
}

// Bounds returns the panel size in pixels.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.opts.Width, d.opts.Height)
}

func (d *Dev) String() string {
	var bus fmt.Stringer = d.port
	if d.c != nil {
		bus = d.c
	}
	return fmt.Sprintf("epd.Dev{%s, %s, Width: %d, Height: %d}", bus, d.dc, d.opts.Width, d.opts.Height)
}

// Init brings up the bus and pins, resets the panel and sends the fixed
// configuration sequence. A bus or pin bring-up failure is returned as an
// *IOError before any command is sent.
func (d *Dev) Init() error {
	if err := d.bringUp(); err != nil {
		return err
	}
	if err := d.Reset(); err != nil {
		return err
	}

	eh := errorHandler{d: d}
	initPanel(&eh, &d.opts)
	if eh.err != nil {
		return eh.err
	}
	appLog.Debug("epd initialized", "dev", d.String())
	return nil
}

func (d *Dev) bringUp() error {
	if d.c == nil {
		c, err := d.port.Connect(d.opts.SPIFrequency, spi.Mode0, 8)
		if err != nil {
			return ioErr("spi connect", err)
		}
		d.c = c
	}
	if err := d.dc.Out(gpio.Low); err != nil {
		return ioErr("dc init", err)
	}
	if d.cs != nil {
		if err := d.cs.Out(gpio.High); err != nil {
			return ioErr("cs init", err)
		}
	}
	if err := d.rst.Out(gpio.High); err != nil {
		return ioErr("rst init", err)
	}
	if err := d.busy.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return ioErr("busy init", err)
	}
	return nil
}

// Reset pulses RST low for 200ms. It is also the only way out of deep sleep.
func (d *Dev) Reset() error {
	if err := d.rst.Out(gpio.Low); err != nil {
		return ioErr("rst", err)
	}
	d.sleep(200 * time.Millisecond)
	if err := d.rst.Out(gpio.High); err != nil {
		return ioErr("rst", err)
	}
	d.sleep(200 * time.Millisecond)
	return nil
}

// SendCommand drives DC low and transfers one command byte.
func (d *Dev) SendCommand(cmd byte) error {
	return d.transfer(gpio.Low, []byte{cmd})
}

// SendData drives DC high and transfers the bytes in order.
func (d *Dev) SendData(data ...byte) error {
	if len(data) == 0 {
		return nil
	}
	return d.transfer(gpio.High, data)
}

func (d *Dev) transfer(dc gpio.Level, w []byte) error {
	if d.c == nil {
		return ioErr("transfer", ErrNotConnected)
	}
	if err := d.dc.Out(dc); err != nil {
		return ioErr("dc", err)
	}
	if d.cs != nil {
		if err := d.cs.Out(gpio.Low); err != nil {
			return ioErr("cs", err)
		}
	}

	chunk := len(w)
	if l, ok := d.c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		chunk = l.MaxTxSize()
	}
	var txErr error
	for off := 0; off < len(w) && txErr == nil; off += chunk {
		end := off + chunk
		if end > len(w) {
			end = len(w)
		}
		txErr = d.c.Tx(w[off:end], nil)
	}

	// Release chip select even when the transfer failed.
	if d.cs != nil {
		if err := d.cs.Out(gpio.High); err != nil && txErr == nil {
			return ioErr("cs", err)
		}
	}
	return ioErr("spi tx", txErr)
}

// WaitUntilIdle blocks until BUSY reads high, sleeping BusyPoll between
// reads. It never gives up.
func (d *Dev) WaitUntilIdle() {
	for d.busy.Read() == gpio.Low {
		d.sleep(d.opts.BusyPoll)
	}
}

// WaitUntilIdleTimeout is WaitUntilIdle with an upper bound on the number of
// polls, ceil(timeout/BusyPoll). It returns ErrTimeout if BUSY never reads
// high.
func (d *Dev) WaitUntilIdleTimeout(timeout time.Duration) error {
	poll := d.opts.BusyPoll
	polls := int((timeout + poll - 1) / poll)
	for i := 0; ; i++ {
		if d.busy.Read() == gpio.High {
			return nil
		}
		if i >= polls {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		d.sleep(poll)
	}
}

// DisplayFrame transmits the black and red planes and refreshes the panel.
// Either plane may be nil to leave that layer untouched. Non-nil planes must
// be exactly PlaneSize bytes; nothing is sent otherwise.
func (d *Dev) DisplayFrame(black, red []byte) error {
	size := d.opts.PlaneSize()
	if black != nil && len(black) != size {
		return fmt.Errorf("%w: black plane is %d bytes, want %d", ErrFrameSize, len(black), size)
	}
	if red != nil && len(red) != size {
		return fmt.Errorf("%w: red plane is %d bytes, want %d", ErrFrameSize, len(red), size)
	}

	start := time.Now()
	eh := errorHandler{d: d}
	displayFrame(&eh, &d.opts, black, red)
	if eh.err != nil {
		return eh.err
	}
	appLog.Debug("epd frame displayed", "black", black != nil, "red", red != nil, "took", time.Since(start))
	return nil
}

// Clear paints the whole panel white.
func (d *Dev) Clear() error {
	size := d.opts.PlaneSize()
	return d.DisplayFrame(bytes.Repeat([]byte{0xFF}, size), make([]byte, size))
}

// Sleep powers the panel off and puts the controller in deep sleep. Only
// Reset (or Init) wakes it up again.
func (d *Dev) Sleep() error {
	eh := errorHandler{d: d}
	enterDeepSleep(&eh)
	return eh.err
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return d.Sleep()
}

var _ conn.Resource = &Dev{}
