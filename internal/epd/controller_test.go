package epd

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type record struct {
	cmd   byte
	data  []byte
	wait  bool
	delay time.Duration
}

// fakeController merges consecutive sendData calls into the preceding
// command record so sequences read like the datasheet.
type fakeController []record

func (r *fakeController) sendCommand(cmd byte) {
	*r = append(*r, record{cmd: cmd})
}

func (r *fakeController) sendData(data []byte) {
	last := &(*r)[len(*r)-1]
	if last.wait || last.delay != 0 {
		// Data after a delay belongs to the last command before it.
		for i := len(*r) - 1; i >= 0; i-- {
			if !(*r)[i].wait && (*r)[i].delay == 0 {
				last = &(*r)[i]
				break
			}
		}
	}
	last.data = append(last.data, data...)
}

func (r *fakeController) waitUntilIdle() {
	*r = append(*r, record{wait: true})
}

func (r *fakeController) delay(d time.Duration) {
	*r = append(*r, record{delay: d})
}

func diffRecords(got fakeController, want []record) string {
	return cmp.Diff([]record(got), want, cmpopts.EquateEmpty(), cmp.AllowUnexported(record{}))
}

func TestInitPanel(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts Opts
		res  []byte
	}{
		{name: "epd7in5b", opts: EPD7in5b, res: []byte{0x02, 0x80, 0x01, 0x80}},
		{name: "small", opts: Opts{Width: 16, Height: 4}, res: []byte{0x00, 0x10, 0x00, 0x04}},
		{name: "wide", opts: Opts{Width: 800, Height: 480}, res: []byte{0x03, 0x20, 0x01, 0xE0}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got fakeController

			initPanel(&got, &tc.opts)

			want := []record{
				{cmd: powerSetting, data: []byte{0x37, 0x00}},
				{cmd: panelSetting, data: []byte{0xCF, 0x08}},
				{cmd: boosterSoftStart, data: []byte{0xC7, 0xCC, 0x28}},
				{cmd: powerOn},
				{wait: true},
				{cmd: pllControl, data: []byte{0x3C}},
				{cmd: temperatureCalibration, data: []byte{0x00}},
				{cmd: vcomAndDataIntervalSetting, data: []byte{0x77}},
				{cmd: tconSetting, data: []byte{0x22}},
				{cmd: tconResolution, data: tc.res},
				{cmd: vcmDCSetting, data: []byte{0x1E}},
				{cmd: flashMode, data: []byte{0x03}},
			}
			if diff := diffRecords(got, want); diff != "" {
				t.Errorf("initPanel() difference (-got +want):\n%s", diff)
			}
		})
	}
}

func TestDisplayFrame(t *testing.T) {
	opts := Opts{Width: 16, Height: 3}
	black := []byte{1, 2, 3, 4, 5, 6}
	red := []byte{0xA, 0xB, 0xC, 0xD, 0xE, 0xF}

	for _, tc := range []struct {
		name       string
		black, red []byte
		want       []record
	}{
		{
			name:  "both",
			black: black,
			red:   red,
			want: []record{
				{cmd: dataStartTransmission1, data: black},
				{delay: planeSettle},
				{delay: planeSettle},
				{cmd: imageProcess, data: red},
				{delay: planeSettle},
				{delay: planeSettle},
				{cmd: displayRefresh},
				{wait: true},
			},
		},
		{
			name:  "black only",
			black: black,
			want: []record{
				{cmd: dataStartTransmission1, data: black},
				{delay: planeSettle},
				{delay: planeSettle},
				{cmd: displayRefresh},
				{wait: true},
			},
		},
		{
			name: "red only",
			red:  red,
			want: []record{
				{cmd: imageProcess, data: red},
				{delay: planeSettle},
				{delay: planeSettle},
				{cmd: displayRefresh},
				{wait: true},
			},
		},
		{
			name: "none",
			want: []record{
				{cmd: displayRefresh},
				{wait: true},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got fakeController

			displayFrame(&got, &opts, tc.black, tc.red)

			if diff := diffRecords(got, tc.want); diff != "" {
				t.Errorf("displayFrame() difference (-got +want):\n%s", diff)
			}
		})
	}
}

type rowRecorder [][]byte

func (r *rowRecorder) sendCommand(byte) {}
func (r *rowRecorder) sendData(data []byte) {
	*r = append(*r, append([]byte(nil), data...))
}
func (*rowRecorder) waitUntilIdle()      {}
func (*rowRecorder) delay(time.Duration) {}

func TestStreamPlaneOrder(t *testing.T) {
	plane := make([]byte, 10*7)
	for i := range plane {
		plane[i] = byte(i)
	}

	var rows rowRecorder
	streamPlane(&rows, plane, 10)

	if len(rows) != 7 {
		t.Fatalf("got %d rows, want 7", len(rows))
	}
	if got := bytes.Join(rows, nil); !bytes.Equal(got, plane) {
		t.Errorf("streamed bytes out of order:\n got %v\nwant %v", got, plane)
	}
}

func TestEnterDeepSleep(t *testing.T) {
	var got fakeController

	enterDeepSleep(&got)

	want := []record{
		{cmd: powerOff},
		{wait: true},
		{cmd: deepSleep, data: []byte{deepSleepCheck}},
	}
	if diff := diffRecords(got, want); diff != "" {
		t.Errorf("enterDeepSleep() difference (-got +want):\n%s", diff)
	}
}
