// Package hw resolves configured pin and port names into periph.io objects
// and builds the panel handle from them.
package hw

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"epaper/internal/config"
	"epaper/internal/epd"
	appLog "epaper/internal/log"
)

// Init loads the periph host drivers. Failure means no pin or bus on this
// machine can be used.
func Init() error {
	state, err := host.Init()
	if err != nil {
		return &epd.IOError{Op: "host init", Err: err}
	}
	for _, f := range state.Failed {
		appLog.Debug("periph driver failed", "driver", f.D, "err", f.Err)
	}
	appLog.Debug("periph host initialized", "loaded", len(state.Loaded))
	return nil
}

// Pin looks up a pin by its gpioreg name (e.g. "GPIO25").
func Pin(name string) (gpio.PinIO, error) {
	if name == "" {
		return nil, fmt.Errorf("hw: empty pin name")
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("hw: gpio %s not found", name)
	}
	return p, nil
}

// Panel is an opened panel and the port backing it.
type Panel struct {
	*epd.Dev
	port spi.PortCloser
}

// Close releases the SPI port.
func (p *Panel) Close() error {
	if p.port == nil {
		return nil
	}
	return p.port.Close()
}

// OpenPanel opens the configured SPI port and pins. Init must have been
// called first.
func OpenPanel(cfg config.PanelConfig, busyTimeout time.Duration) (*Panel, error) {
	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, &epd.IOError{Op: "spi open", Err: err}
	}
	dev, err := NewDev(port, cfg, busyTimeout)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return &Panel{Dev: dev, port: port}, nil
}

// NewDev builds a panel handle on port using the pins named in cfg.
func NewDev(port spi.Port, cfg config.PanelConfig, busyTimeout time.Duration) (*epd.Dev, error) {
	dc, err := Pin(cfg.DCPin)
	if err != nil {
		return nil, fmt.Errorf("hw: dc pin: %w", err)
	}
	rst, err := Pin(cfg.RSTPin)
	if err != nil {
		return nil, fmt.Errorf("hw: rst pin: %w", err)
	}
	busy, err := Pin(cfg.BusyPin)
	if err != nil {
		return nil, fmt.Errorf("hw: busy pin: %w", err)
	}
	var cs gpio.PinOut
	if cfg.CSPin != "" {
		p, err := Pin(cfg.CSPin)
		if err != nil {
			return nil, fmt.Errorf("hw: cs pin: %w", err)
		}
		cs = p
	}

	opts := epd.EPD7in5b
	opts.Width = cfg.Width
	opts.Height = cfg.Height
	opts.BusyTimeout = busyTimeout
	if cfg.SPIHz > 0 {
		opts.SPIFrequency = physic.Frequency(cfg.SPIHz) * physic.Hertz
	}
	return epd.New(port, dc, cs, rst, busy, &opts)
}
