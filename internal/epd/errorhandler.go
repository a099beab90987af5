package epd

import "time"

// errorHandler implements controller on top of a Dev and keeps the first
// error; every later step is skipped once it is set.
type errorHandler struct {
	d   *Dev
	err error
}

func (eh *errorHandler) sendCommand(cmd byte) {
	if eh.err != nil {
		return
	}
	eh.err = eh.d.SendCommand(cmd)
}

func (eh *errorHandler) sendData(data []byte) {
	if eh.err != nil {
		return
	}
	eh.err = eh.d.SendData(data...)
}

func (eh *errorHandler) waitUntilIdle() {
	if eh.err != nil {
		return
	}
	if t := eh.d.opts.BusyTimeout; t > 0 {
		eh.err = eh.d.WaitUntilIdleTimeout(t)
		return
	}
	eh.d.WaitUntilIdle()
}

func (eh *errorHandler) delay(d time.Duration) {
	if eh.err != nil {
		return
	}
	eh.d.sleep(d)
}
