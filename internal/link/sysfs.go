package link

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	appLog "epaper/internal/log"
)

// Watcher samples /sys/class/net/<iface>/operstate and turns transitions
// into events.
type Watcher struct {
	Interface string
	Poll      time.Duration
	// Root is the sysfs net class directory; empty means /sys/class/net.
	Root string
}

func (w *Watcher) statePath() string {
	root := w.Root
	if root == "" {
		root = "/sys/class/net"
	}
	return filepath.Join(root, w.Interface, "operstate")
}

// Up reports whether the interface operstate is "up". A missing interface
// is down.
func (w *Watcher) Up() (bool, error) {
	b, err := os.ReadFile(w.statePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(string(b)) == "up", nil
}

// Watch emits EventStart, then the current state, then every change until
// ctx is done. The channel is closed on return.
func (w *Watcher) Watch(ctx context.Context) <-chan Event {
	poll := w.Poll
	if poll <= 0 {
		poll = 5 * time.Second
	}
	out := make(chan Event, 1)
	go func() {
		defer close(out)
		send := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !send(EventStart) {
			return
		}

		var known, last bool
		t := time.NewTicker(poll)
		defer t.Stop()
		for {
			up, err := w.Up()
			if err != nil {
				appLog.Warn("link state read failed", "iface", w.Interface, "err", err)
			} else if !known || up != last {
				known, last = true, up
				ev := EventDisconnected
				if up {
					ev = EventConnected
				}
				if !send(ev) {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return out
}

// CommandStation reconnects by running an external command such as
// "wpa_cli -i {iface} reconnect".
type CommandStation struct {
	Interface string
	Command   []string
	Timeout   time.Duration
}

func (c *CommandStation) argv() []string {
	argv := make([]string, len(c.Command))
	for i, a := range c.Command {
		argv[i] = strings.ReplaceAll(a, "{iface}", c.Interface)
	}
	return argv
}

// Connect runs the command. An empty command does nothing.
func (c *CommandStation) Connect(ctx context.Context) error {
	argv := c.argv()
	if len(argv) == 0 {
		return nil
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("link: %s: %w (%s)", argv[0], err, strings.TrimSpace(string(out)))
	}
	appLog.Debug("link reconnect requested", "cmd", strings.Join(argv, " "))
	return nil
}
