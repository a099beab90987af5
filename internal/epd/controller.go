package epd

import "time"

// Commands
const (
	panelSetting               byte = 0x00
	powerSetting               byte = 0x01
	powerOff                   byte = 0x02
	powerOn                    byte = 0x04
	boosterSoftStart           byte = 0x06
	deepSleep                  byte = 0x07
	dataStartTransmission1     byte = 0x10
	displayRefresh             byte = 0x12
	imageProcess               byte = 0x13
	pllControl                 byte = 0x30
	temperatureCalibration     byte = 0x41
	vcomAndDataIntervalSetting byte = 0x50
	tconSetting                byte = 0x60
	tconResolution             byte = 0x61
	vcmDCSetting               byte = 0x82
	flashMode                  byte = 0xE5
)

// deepSleepCheck must follow deepSleep or the controller ignores it.
const deepSleepCheck byte = 0xA5

const planeSettle = 2 * time.Millisecond

type controller interface {
	sendCommand(byte)
	sendData([]byte)
	waitUntilIdle()
	delay(time.Duration)
}

func initPanel(ctrl controller, opts *Opts) {
	ctrl.sendCommand(powerSetting)
	ctrl.sendData([]byte{0x37, 0x00})

	ctrl.sendCommand(panelSetting)
	ctrl.sendData([]byte{0xCF, 0x08})

	ctrl.sendCommand(boosterSoftStart)
	ctrl.sendData([]byte{0xC7, 0xCC, 0x28})

	ctrl.sendCommand(powerOn)
	ctrl.waitUntilIdle()

	ctrl.sendCommand(pllControl)
	ctrl.sendData([]byte{0x3C})

	ctrl.sendCommand(temperatureCalibration)
	ctrl.sendData([]byte{0x00})

	ctrl.sendCommand(vcomAndDataIntervalSetting)
	ctrl.sendData([]byte{0x77})

	ctrl.sendCommand(tconSetting)
	ctrl.sendData([]byte{0x22})

	// Source lines then gate lines, high byte first.
	ctrl.sendCommand(tconResolution)
	ctrl.sendData([]byte{
		byte(opts.Width >> 8), byte(opts.Width),
		byte(opts.Height >> 8), byte(opts.Height),
	})

	ctrl.sendCommand(vcmDCSetting)
	ctrl.sendData([]byte{0x1E})

	// Vendor flash mode.
	ctrl.sendCommand(flashMode)
	ctrl.sendData([]byte{0x03})
}

func displayFrame(ctrl controller, opts *Opts, black, red []byte) {
	stride := opts.stride()
	if black != nil {
		ctrl.sendCommand(dataStartTransmission1)
		ctrl.delay(planeSettle)
		streamPlane(ctrl, black, stride)
		ctrl.delay(planeSettle)
	}
	if red != nil {
		ctrl.sendCommand(imageProcess)
		ctrl.delay(planeSettle)
		streamPlane(ctrl, red, stride)
		ctrl.delay(planeSettle)
	}
	ctrl.sendCommand(displayRefresh)
	ctrl.waitUntilIdle()
}

// streamPlane sends the plane one row at a time, in index order.
func streamPlane(ctrl controller, plane []byte, stride int) {
	for off := 0; off < len(plane); off += stride {
		end := off + stride
		if end > len(plane) {
			end = len(plane)
		}
		ctrl.sendData(plane[off:end])
	}
}

func enterDeepSleep(ctrl controller) {
	ctrl.sendCommand(powerOff)
	ctrl.waitUntilIdle()
	ctrl.sendCommand(deepSleep)
	// The check code is a parameter of deepSleep, so it goes out with DC high.
	ctrl.sendData([]byte{deepSleepCheck})
}
