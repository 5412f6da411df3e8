// Package button turns falling edges on an active-low GPIO line into
// debounced press events.
package button

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// edgePoll bounds each WaitForEdge so Run notices cancellation.
const edgePoll = 100 * time.Millisecond

// Press is one accepted button actuation.
type Press struct {
	At     time.Time
	Origin string
}

// Pin is the slice of gpio.PinIn that the source needs.
type Pin interface {
	WaitForEdge(timeout time.Duration) bool
	Read() gpio.Level
}

// Debouncer accepts an event only if at least Interval has passed since the
// previously accepted one.
type Debouncer struct {
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func (d *Debouncer) Accept(t time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.last.IsZero() && t.Sub(d.last) < d.Interval {
		return false
	}
	d.last = t
	return true
}

// Source emits presses from one pin. A Source without a pin is valid and
// never emits.
type Source struct {
	pin  Pin
	name string
	deb  *Debouncer
	now  func() time.Time
}

func NewSource(pin Pin, name string, debounce time.Duration) *Source {
	return &Source{
		pin:  pin,
		name: name,
		deb:  &Debouncer{Interval: debounce},
		now:  time.Now,
	}
}

// Open initializes the host drivers and configures name as a pulled-up
// falling-edge input. Any failure leaves a Source that never emits.
func Open(name string, debounce time.Duration) *Source {
	if _, err := host.Init(); err != nil {
		log.Warn("GPIO unavailable, button disabled", "pin", name, "err", err)
		return NewSource(nil, name, debounce)
	}

	p := gpioreg.ByName(name)
	if p == nil {
		log.Warn("Unknown GPIO pin, button disabled", "pin", name)
		return NewSource(nil, name, debounce)
	}

	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		log.Warn("Failed to configure button pin, button disabled", "pin", name, "err", err)
		return NewSource(nil, name, debounce)
	}

	log.Info("Button initialized", "pin", p.Name(), "debounce", debounce)
	return NewSource(p, name, debounce)
}

// Enabled reports whether the source is backed by hardware.
func (s *Source) Enabled() bool { return s.pin != nil }

// Run forwards accepted presses to out until ctx is done. A press is dropped
// when out is not ready to receive it.
func (s *Source) Run(ctx context.Context, out chan<- Press) {
	if s.pin == nil {
		<-ctx.Done()
		return
	}

	for ctx.Err() == nil {
		if !s.pin.WaitForEdge(edgePoll) {
			continue
		}
		// Active low: a release edge or noise reads high.
		if s.pin.Read() != gpio.Low {
			continue
		}

		t := s.now()
		if !s.deb.Accept(t) {
			log.Debug("Button bounce ignored", "pin", s.name)
			continue
		}

		select {
		case out <- Press{At: t, Origin: "button"}:
		default:
			log.Debug("Button press dropped, consumer busy", "pin", s.name)
		}
	}
}
