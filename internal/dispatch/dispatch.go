// Package dispatch is a named-signal bus. A component sends a signal
// name (for example "nokia_wifi-device-new"); every handler connected to
// that name runs synchronously, in connection order, on the sender's
// goroutine. Signals carry no payload: handlers read whatever state
// they need from the sender.
//
// The dispatcher is nil-safe: Send on a nil *Dispatcher is a no-op, so
// components do not need guard checks.
package dispatch

import (
	"log/slog"
	"sync"
)

// Handler is invoked when its signal is sent.
type Handler func()

type subscription struct {
	id uint64
	fn Handler
}

// Dispatcher routes signals to connected handlers.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
	logger *slog.Logger
}

// New creates an empty dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Connect registers fn for signal and returns a function that removes
// it again. The returned function is safe to call more than once.
func (d *Dispatcher) Connect(signal string, fn Handler) (disconnect func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[signal] = append(d.subs[signal], subscription{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(signal, id) })
	}
}

func (d *Dispatcher) remove(signal string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subs[signal]
	for i, s := range subs {
		if s.id == id {
			d.subs[signal] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(d.subs[signal]) == 0 {
		delete(d.subs, signal)
	}
}

// Send runs every handler connected to signal. The handler list is
// copied first, so handlers may connect or disconnect while running.
// A panicking handler is logged and does not stop the others.
func (d *Dispatcher) Send(signal string) {
	if d == nil {
		return
	}

	d.mu.RLock()
	subs := make([]subscription, len(d.subs[signal]))
	copy(subs, d.subs[signal])
	d.mu.RUnlock()

	for _, s := range subs {
		d.call(signal, s.fn)
	}
}

func (d *Dispatcher) call(signal string, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("signal handler panicked", "signal", signal, "panic", r)
		}
	}()
	fn()
}

// HandlerCount returns the number of handlers connected to signal.
func (d *Dispatcher) HandlerCount(signal string) int {
	if d == nil {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[signal])
}
