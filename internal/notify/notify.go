// package notify delivers fire-and-forget user notifications
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tsundoku/internal/shared"
)

// Notifier shows a notification. Delivery is not acknowledged.
type Notifier interface {
	Notify(title, body, icon string)
}

// Func adapts a function to [Notifier].
type Func func(title, body, icon string)

func (f Func) Notify(title, body, icon string) { f(title, body, icon) }

// Nop discards every notification.
var Nop Notifier = Func(func(string, string, string) {})

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a notifier logging at info level.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: shared.WithLogger(logger, "component", "notify")}
}

func (n *LogNotifier) Notify(title, body, icon string) {
	n.logger.Info(title, "body", body)
}

var getRuntime = func() string { return runtime.GOOS }

// DesktopNotifier shells out to the platform notification tool and falls back to a log line on failure.
type DesktopNotifier struct {
	fallback Notifier
	run      func(name string, args ...string) error
}

// NewDesktopNotifier creates a desktop notifier. Failed deliveries go to fallback.
func NewDesktopNotifier(fallback Notifier) *DesktopNotifier {
	if fallback == nil {
		fallback = Nop
	}
	return &DesktopNotifier{
		fallback: fallback,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Start()
		},
	}
}

func (n *DesktopNotifier) Notify(title, body, icon string) {
	name, args, err := desktopCommand(title, body, icon)
	if err == nil {
		err = n.run(name, args...)
	}
	if err != nil {
		n.fallback.Notify(title, body, icon)
	}
}

func desktopCommand(title, body, icon string) (string, []string, error) {
	switch rt := getRuntime(); rt {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", strconv.Quote(body), strconv.Quote(title))
		return "osascript", []string{"-e", script}, nil
	case "linux", "freebsd", "openbsd":
		args := []string{"--app-name=tsundoku"}
		if icon != "" {
			args = append(args, "--icon="+icon)
		}
		return "notify-send", append(args, title, body), nil
	default:
		return "", nil, fmt.Errorf("%w: desktop notifications on %s", shared.ErrUnsupported, rt)
	}
}

// Delayed forwards notifications to Notifier after Delay.
//
// AfterFunc defaults to [time.AfterFunc]; tests replace it to fire immediately or capture the delay.
type Delayed struct {
	Notifier  Notifier
	Delay     time.Duration
	AfterFunc func(d time.Duration, f func()) Stopper

	mu      sync.Mutex
	pending map[int]Stopper
	nextID  int
}

// Stopper cancels a scheduled notification.
type Stopper interface {
	Stop() bool
}

// NewDelayed creates a delayed notifier.
func NewDelayed(n Notifier, delay time.Duration) *Delayed {
	return &Delayed{Notifier: n, Delay: delay}
}

// Notify schedules delivery and returns immediately.
func (d *Delayed) Notify(title, body, icon string) {
	if d.Notifier == nil {
		return
	}

	after := d.AfterFunc
	if after == nil {
		after = func(delay time.Duration, f func()) Stopper { return time.AfterFunc(delay, f) }
	}

	d.mu.Lock()
	if d.pending == nil {
		d.pending = make(map[int]Stopper)
	}
	id := d.nextID
	d.nextID++
	d.mu.Unlock()

	fired := false
	timer := after(d.Delay, func() {
		d.mu.Lock()
		fired = true
		delete(d.pending, id)
		d.mu.Unlock()
		d.Notifier.Notify(title, body, icon)
	})

	d.mu.Lock()
	if timer != nil && !fired {
		d.pending[id] = timer
	}
	d.mu.Unlock()
}

// Pending returns the number of scheduled notifications that have not fired.
func (d *Delayed) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every scheduled notification and returns how many were dropped.
func (d *Delayed) Stop() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for id, t := range d.pending {
		if t.Stop() {
			n++
		}
		delete(d.pending, id)
	}
	return n
}
