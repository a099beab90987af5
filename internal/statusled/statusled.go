// Package statusled blinks a heartbeat LED.
package statusled

import (
	"context"
	"time"

	"periph.io/x/conn/v3/gpio"

	appLog "epaper/internal/log"
)

// DefaultPeriod is the time between toggles.
const DefaultPeriod = 300 * time.Millisecond

// Blink toggles pin every period, starting low, until ctx is done. The pin
// is left low on return.
func Blink(ctx context.Context, pin gpio.PinOut, period time.Duration) error {
	if period <= 0 {
		period = DefaultPeriod
	}
	appLog.Debug("status led blinking", "pin", pin, "period", period)

	t := time.NewTicker(period)
	defer t.Stop()

	level := gpio.Low
	for {
		if err := pin.Out(level); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return pin.Out(gpio.Low)
		case <-t.C:
			level = !level
		}
	}
}
